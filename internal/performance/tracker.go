package performance

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"sniperswing/internal/domain"
	"sniperswing/internal/ports"
)

// Band maps a minimum win rate (fraction) to a base sizing factor. Bands are
// evaluated highest threshold first.
type Band struct {
	MinWinRate float64
	Factor     float64
}

// Config tunes how closed-trade history converts into a sizing multiplier.
type Config struct {
	// MinTrades is the warmup floor. Below it the scaling factor stays 1.0
	// so a short lucky or unlucky streak cannot swing size.
	MinTrades int

	// Bands give the base factor per win-rate range.
	Bands []Band

	// Profit factor multipliers reward asymmetric results.
	HighPFThreshold  float64
	HighPFMultiplier float64
	GoodPFThreshold  float64
	GoodPFMultiplier float64

	// Streak multipliers, long and short streaks on both sides.
	LongWinStreak       int
	LongWinMultiplier   float64
	ShortWinStreak      int
	ShortWinMultiplier  float64
	LongLossStreak      int
	LongLossMultiplier  float64
	ShortLossStreak     int
	ShortLossMultiplier float64

	// Final clamp on the combined factor.
	MinFactor float64
	MaxFactor float64
}

// DefaultConfig returns the deployment sizing curve.
func DefaultConfig() Config {
	return Config{
		MinTrades: 10,
		Bands: []Band{
			{MinWinRate: 0.0, Factor: 0.5},
			{MinWinRate: 0.40, Factor: 1.0},
			{MinWinRate: 0.60, Factor: 2.0},
			{MinWinRate: 0.80, Factor: 3.0},
		},
		HighPFThreshold:  2.0,
		HighPFMultiplier: 1.5,
		GoodPFThreshold:  1.5,
		GoodPFMultiplier: 1.2,

		LongWinStreak:       5,
		LongWinMultiplier:   1.3,
		ShortWinStreak:      3,
		ShortWinMultiplier:  1.1,
		LongLossStreak:      5,
		LongLossMultiplier:  0.5,
		ShortLossStreak:     3,
		ShortLossMultiplier: 0.8,

		MinFactor: 0.25,
		MaxFactor: 5.0,
	}
}

// Validate checks the sizing curve for internal consistency.
func (c Config) Validate() error {
	if c.MinTrades < 0 {
		return fmt.Errorf("min trades must not be negative")
	}
	if len(c.Bands) == 0 {
		return fmt.Errorf("at least one win-rate band is required")
	}
	for i, b := range c.Bands {
		if b.MinWinRate < 0 || b.MinWinRate > 1 {
			return fmt.Errorf("band %d: win rate must be a fraction in [0, 1]", i)
		}
		if b.Factor <= 0 {
			return fmt.Errorf("band %d: factor must be positive", i)
		}
		if i > 0 && b.MinWinRate <= c.Bands[i-1].MinWinRate {
			return fmt.Errorf("band %d: thresholds must be strictly increasing", i)
		}
	}
	if c.Bands[0].MinWinRate != 0 {
		return fmt.Errorf("first band must start at win rate 0")
	}
	if c.MinFactor <= 0 || c.MaxFactor <= c.MinFactor {
		return fmt.Errorf("factor clamp must satisfy 0 < min < max")
	}
	return nil
}

// Tracker accumulates closed-trade outcomes and derives the sizing factor.
// Partial exits do not count: a position contributes exactly one outcome,
// its total realized result, when it fully closes.
type Tracker struct {
	mu    sync.Mutex
	cfg   Config
	stats domain.PerformanceStats
	repo  ports.StatsRepository
	log   ports.Logger
}

// NewTracker creates a tracker. repo may be nil for in-memory use in tests.
func NewTracker(cfg Config, repo ports.StatsRepository, log ports.Logger) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("performance config: %w", err)
	}
	t := &Tracker{cfg: cfg, repo: repo, log: log}
	t.stats.ScalingFactor = 1.0
	return t, nil
}

// Load restores persisted stats. Missing stats are not an error: the tracker
// starts from zero with a neutral factor.
func (t *Tracker) Load(ctx context.Context) error {
	if t.repo == nil {
		return nil
	}
	stats, err := t.repo.LoadStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to load performance stats: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if stats != nil {
		t.stats = *stats
	}
	t.recomputeLocked()
	return nil
}

// Record folds one fully-closed position's realized result into the stats
// and persists them. Breakeven results count against the win rate.
func (t *Tracker) Record(ctx context.Context, pnl float64) error {
	t.mu.Lock()
	t.stats.TotalTrades++
	if pnl > 0 {
		t.stats.Wins++
		t.stats.ConsecutiveWins++
		t.stats.ConsecutiveLosses = 0
		t.stats.GrossProfit += pnl
	} else {
		t.stats.Losses++
		t.stats.ConsecutiveLosses++
		t.stats.ConsecutiveWins = 0
		t.stats.GrossLoss += -pnl
	}
	t.recomputeLocked()
	snapshot := t.stats
	t.mu.Unlock()

	if t.log != nil {
		t.log.Info(ctx, "Performance stats updated", map[string]interface{}{
			"total_trades":   snapshot.TotalTrades,
			"win_rate":       snapshot.WinRate(),
			"profit_factor":  snapshot.ProfitFactor(),
			"scaling_factor": snapshot.ScalingFactor,
		})
	}
	if t.repo == nil {
		return nil
	}
	if err := t.repo.SaveStats(ctx, &snapshot); err != nil {
		return fmt.Errorf("failed to save performance stats: %w", err)
	}
	return nil
}

// Stats returns a copy of the current counters.
func (t *Tracker) Stats() domain.PerformanceStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// ScalingFactor returns the current clamped sizing multiplier.
func (t *Tracker) ScalingFactor() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats.ScalingFactor
}

// recomputeLocked rebuilds the scaling factor from the counters. Callers
// hold t.mu.
func (t *Tracker) recomputeLocked() {
	if t.stats.TotalTrades < t.cfg.MinTrades {
		t.stats.ScalingFactor = 1.0
		return
	}

	winRate := t.stats.WinRate()
	idx := sort.Search(len(t.cfg.Bands), func(i int) bool {
		return t.cfg.Bands[i].MinWinRate > winRate
	})
	factor := t.cfg.Bands[idx-1].Factor

	pf := t.stats.ProfitFactor()
	switch {
	case pf > t.cfg.HighPFThreshold:
		factor *= t.cfg.HighPFMultiplier
	case pf > t.cfg.GoodPFThreshold:
		factor *= t.cfg.GoodPFMultiplier
	}

	switch {
	case t.stats.ConsecutiveWins >= t.cfg.LongWinStreak:
		factor *= t.cfg.LongWinMultiplier
	case t.stats.ConsecutiveWins >= t.cfg.ShortWinStreak:
		factor *= t.cfg.ShortWinMultiplier
	case t.stats.ConsecutiveLosses >= t.cfg.LongLossStreak:
		factor *= t.cfg.LongLossMultiplier
	case t.stats.ConsecutiveLosses >= t.cfg.ShortLossStreak:
		factor *= t.cfg.ShortLossMultiplier
	}

	if factor < t.cfg.MinFactor {
		factor = t.cfg.MinFactor
	}
	if factor > t.cfg.MaxFactor {
		factor = t.cfg.MaxFactor
	}
	t.stats.ScalingFactor = factor
}
