package risk

import (
	"fmt"
	"math"

	"sniperswing/internal/domain"
	"sniperswing/internal/ports"
)

// Config holds the sizing limits. Every threshold is explicit; there are no
// implicit defaults at runtime.
type Config struct {
	// MaxRiskPerTrade is the monetary amount a single stop-out may cost.
	MaxRiskPerTrade float64
	// StopLossFraction is the adverse move, as a fraction of entry price,
	// at which the stop triggers.
	StopLossFraction float64
	// MinLots and MaxLots bound the order size in whole lots.
	MinLots int
	MaxLots int
	// WeakTierModifier shrinks externally-rescued entries. Applied only to
	// weak-tier signals.
	WeakTierModifier float64
	// MinFactor and MaxFactor re-clamp the performance scaling factor. The
	// tracker already clamps; the sizer never trusts its input stats.
	MinFactor float64
	MaxFactor float64
	// MaxOpenPositions bounds concurrent exposure across symbols.
	MaxOpenPositions int
	// MaxTradesPerDay bounds entries per session, 0 means unlimited.
	MaxTradesPerDay int
}

// DefaultConfig returns the deployment sizing limits.
func DefaultConfig() Config {
	return Config{
		MaxRiskPerTrade:  10000,
		StopLossFraction: 0.01,
		MinLots:          1,
		MaxLots:          10,
		WeakTierModifier: 0.75,
		MinFactor:        0.25,
		MaxFactor:        5.0,
		MaxOpenPositions: 3,
		MaxTradesPerDay:  5,
	}
}

// Validate checks the limits for internal consistency.
func (c Config) Validate() error {
	if c.MaxRiskPerTrade <= 0 {
		return fmt.Errorf("max risk per trade must be positive")
	}
	if c.StopLossFraction <= 0 || c.StopLossFraction >= 1 {
		return fmt.Errorf("stop loss fraction must be in (0, 1)")
	}
	if c.MinLots < 1 || c.MaxLots < c.MinLots {
		return fmt.Errorf("lot bounds must satisfy 1 <= min <= max")
	}
	if c.WeakTierModifier <= 0 || c.WeakTierModifier > 1 {
		return fmt.Errorf("weak tier modifier must be in (0, 1]")
	}
	if c.MinFactor <= 0 || c.MaxFactor <= c.MinFactor {
		return fmt.Errorf("factor clamp must satisfy 0 < min < max")
	}
	if c.MaxOpenPositions < 1 {
		return fmt.Errorf("max open positions must be at least 1")
	}
	if c.MaxTradesPerDay < 0 {
		return fmt.Errorf("max trades per day must not be negative")
	}
	return nil
}

// Sizer converts risk budget and trailing performance into a whole-lot order
// quantity. It is stateless; all inputs arrive per call.
type Sizer struct {
	cfg Config
}

// NewSizer creates a sizer with validated limits.
func NewSizer(cfg Config) (*Sizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("risk config: %w", err)
	}
	return &Sizer{cfg: cfg}, nil
}

// StopLossFraction exposes the configured stop distance for level placement.
func (s *Sizer) StopLossFraction() float64 {
	return s.cfg.StopLossFraction
}

// Size returns the order quantity in units for an entry at price. lotSize is
// the instrument's contract multiple; the result is always a whole number of
// lots. A zero quantity with a nil error means the risk budget cannot afford
// the minimum lot at this price; the caller skips the entry.
func (s *Sizer) Size(price float64, tier domain.SignalTier, stats *domain.PerformanceStats, lotSize int) (int, error) {
	if price <= 0 {
		return 0, fmt.Errorf("%w: price must be positive, got %.2f", ports.ErrInvalidRequest, price)
	}
	if lotSize < 1 {
		return 0, fmt.Errorf("%w: lot size must be at least 1, got %d", ports.ErrInvalidRequest, lotSize)
	}
	if !tier.Tradeable() {
		return 0, fmt.Errorf("%w: tier %s is not tradeable", ports.ErrInvalidRequest, tier)
	}

	riskPerUnit := price * s.cfg.StopLossFraction
	base := math.Floor(s.cfg.MaxRiskPerTrade / riskPerUnit)

	factor := 1.0
	if stats != nil && stats.ScalingFactor > 0 {
		factor = stats.ScalingFactor
	}
	// Hard safety bound, independent of what the tracker produced.
	factor = math.Max(s.cfg.MinFactor, math.Min(s.cfg.MaxFactor, factor))

	quantity := base * factor
	if tier == domain.TierWeak {
		quantity *= s.cfg.WeakTierModifier
	}

	lots := int(math.Floor(quantity / float64(lotSize)))
	if lots < s.cfg.MinLots {
		return 0, nil
	}
	if lots > s.cfg.MaxLots {
		lots = s.cfg.MaxLots
	}
	return lots * lotSize, nil
}

// StopLevel returns the stop price for an entry at price in the given
// direction.
func (s *Sizer) StopLevel(price float64, dir domain.Direction) float64 {
	if dir == domain.Long {
		return price * (1 - s.cfg.StopLossFraction)
	}
	return price * (1 + s.cfg.StopLossFraction)
}

// ValidateEntry enforces the exposure limits that are independent of price.
// Refusals are expected outcomes and come back as errors wrapping
// ErrInvalidRequest so callers can distinguish them from infrastructure
// failures.
func (s *Sizer) ValidateEntry(tier domain.SignalTier, openPositions, tradesToday int) error {
	if !tier.Tradeable() {
		return fmt.Errorf("%w: tier %s does not permit entry", ports.ErrInvalidRequest, tier)
	}
	if openPositions >= s.cfg.MaxOpenPositions {
		return fmt.Errorf("%w: open position limit %d reached", ports.ErrInvalidRequest, s.cfg.MaxOpenPositions)
	}
	if s.cfg.MaxTradesPerDay > 0 && tradesToday >= s.cfg.MaxTradesPerDay {
		return fmt.Errorf("%w: daily trade limit %d reached", ports.ErrInvalidRequest, s.cfg.MaxTradesPerDay)
	}
	return nil
}
