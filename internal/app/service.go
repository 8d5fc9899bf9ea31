// Package app wires the evaluation cycle: bar caches fed by the live stream,
// a fixed-interval ticker, and the signal-to-position pipeline.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	osignal "os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"sniperswing/config"
	"sniperswing/internal/domain"
	"sniperswing/internal/indicator"
	"sniperswing/internal/lifecycle"
	"sniperswing/internal/metrics"
	"sniperswing/internal/performance"
	"sniperswing/internal/ports"
	"sniperswing/internal/signal"
	"sniperswing/internal/timing"
)

// cacheHeadroom keeps extra bars beyond the indicator requirement so the
// prior-snapshot computation and late-arriving corrections have room.
const cacheHeadroom = 50

// Service runs the decision engine across the configured instruments.
type Service struct {
	cfg        *config.Config
	logger     ports.Logger
	market     ports.MarketDataProvider
	engine     *indicator.Engine
	classifier *signal.Classifier
	scorer     ports.Scorer
	manager    *lifecycle.Manager
	tracker    *performance.Tracker
	calendar   *timing.Calendar
	notifier   ports.Notifier
	metrics    *metrics.Metrics

	cacheSize    int
	cycleRunning int32

	mu       sync.Mutex
	bars     map[string][]*domain.Bar
	pivots   map[string]indicator.PivotRange
	pivotDay map[string]time.Time
}

// NewService creates the engine service. The scorer and metrics may be nil;
// everything else is required.
func NewService(
	cfg *config.Config,
	logger ports.Logger,
	market ports.MarketDataProvider,
	engine *indicator.Engine,
	classifier *signal.Classifier,
	scorer ports.Scorer,
	manager *lifecycle.Manager,
	tracker *performance.Tracker,
	calendar *timing.Calendar,
	notifier ports.Notifier,
	m *metrics.Metrics,
) (*Service, error) {
	if cfg == nil || logger == nil || market == nil || engine == nil || classifier == nil ||
		manager == nil || tracker == nil || calendar == nil || notifier == nil {
		return nil, fmt.Errorf("missing required dependencies for engine service")
	}
	if len(cfg.Instruments) == 0 {
		return nil, fmt.Errorf("no instruments configured")
	}

	cacheSize := engine.RequiredBars() + cacheHeadroom
	return &Service{
		cfg:        cfg,
		logger:     logger,
		market:     market,
		engine:     engine,
		classifier: classifier,
		scorer:     scorer,
		manager:    manager,
		tracker:    tracker,
		calendar:   calendar,
		notifier:   notifier,
		metrics:    m,
		cacheSize:  cacheSize,
		bars:       make(map[string][]*domain.Bar),
		pivots:     make(map[string]indicator.PivotRange),
		pivotDay:   make(map[string]time.Time),
	}, nil
}

// streamSymbols returns every symbol whose bars the engine needs: each
// current series plus, where rollover is enabled, the next one.
func (s *Service) streamSymbols() []string {
	seen := make(map[string]bool)
	var out []string
	for _, inst := range s.cfg.Instruments {
		if !seen[inst.Symbol] {
			seen[inst.Symbol] = true
			out = append(out, inst.Symbol)
		}
		if inst.NextSymbol != "" && !seen[inst.NextSymbol] {
			seen[inst.NextSymbol] = true
			out = append(out, inst.NextSymbol)
		}
	}
	return out
}

// Start restores state, warms the bar caches, opens the live stream and runs
// the evaluation ticker until the context ends or the stream gives up.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info(ctx, "Starting engine service...")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	osignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		s.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
		cancel()
	}()

	// Restore persistent state.
	if err := s.tracker.Load(ctx); err != nil {
		return fmt.Errorf("failed to load performance stats: %w", err)
	}
	if err := s.manager.Load(ctx, time.Now()); err != nil {
		return fmt.Errorf("failed to restore position state: %w", err)
	}

	symbols := s.streamSymbols()
	if err := s.warmup(ctx, symbols); err != nil {
		return fmt.Errorf("warmup failed: %w", err)
	}

	interval := s.cfg.Instruments[0].BarInterval
	wsDoneCh, wsStopCh, err := s.market.StreamBars(ctx, symbols, interval, s.handleBar, s.handleStreamError)
	if err != nil {
		return fmt.Errorf("failed to start bar stream: %w", err)
	}
	s.logger.Info(ctx, "Bar stream started", map[string]interface{}{"symbols": symbols, "interval": interval})

	metricsSrv := s.startMetricsServer(ctx)

	s.notifier.Emit(ctx, domain.EventServiceStarted, map[string]interface{}{
		"symbols":       symbols,
		"cycleInterval": s.cfg.CycleInterval.String(),
	})

	ticker := time.NewTicker(s.cfg.CycleInterval)
	defer ticker.Stop()

	var exitErr error
loop:
	for {
		select {
		case <-ticker.C:
			if !atomic.CompareAndSwapInt32(&s.cycleRunning, 0, 1) {
				s.logger.Warn(ctx, "Previous cycle still running, skipping")
				s.metrics.CycleSkipped()
				continue
			}
			go func() {
				defer atomic.StoreInt32(&s.cycleRunning, 0)
				s.runCycle(ctx, time.Now())
			}()
		case <-ctx.Done():
			s.logger.Info(ctx, "Context cancelled, initiating shutdown...")
			select {
			case wsStopCh <- struct{}{}:
			default:
			}
			select {
			case <-wsDoneCh:
				s.logger.Info(ctx, "Bar stream shut down gracefully")
			case <-time.After(5 * time.Second):
				s.logger.Warn(ctx, "Timeout waiting for bar stream to shut down")
			}
			break loop
		case <-wsDoneCh:
			exitErr = fmt.Errorf("bar stream stopped unexpectedly")
			s.logger.Error(ctx, exitErr, "Bar stream terminated")
			break loop
		}
	}

	s.notifier.Emit(context.Background(), domain.EventServiceStopping, map[string]interface{}{})
	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer shutdownCancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	s.logger.Info(ctx, "Engine service stopped.")
	return exitErr
}

// warmup fills every bar cache through the REST history endpoint with a
// bounded worker pool.
func (s *Service) warmup(ctx context.Context, symbols []string) error {
	interval := s.cfg.Instruments[0].BarInterval
	required := s.engine.RequiredBars()
	s.logger.Info(ctx, "Warming bar caches", map[string]interface{}{
		"symbols":      symbols,
		"requiredBars": required,
	})

	sem := make(chan struct{}, s.cfg.WarmupPoolSize)
	errCh := make(chan error, len(symbols))
	var wg sync.WaitGroup
	for _, symbol := range symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			bars, err := s.market.GetBars(ctx, symbol, interval, s.cacheSize)
			if err != nil {
				errCh <- fmt.Errorf("failed to load bars for %s: %w", symbol, err)
				return
			}
			if len(bars) < required {
				// The next series often has a thin history; the engine
				// reports not-ready until the stream fills the gap.
				s.logger.Warn(ctx, "Loaded fewer bars than the engine requires", map[string]interface{}{
					"symbol": symbol,
					"loaded": len(bars),
					"needed": required,
				})
			}
			s.mu.Lock()
			s.bars[symbol] = bars
			s.mu.Unlock()
		}(symbol)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		return err
	}
	return nil
}

// handleBar appends one completed bar to its symbol cache. Runs on the
// stream's read goroutine.
func (s *Service) handleBar(bar *domain.Bar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cache := append(s.bars[bar.Symbol], bar)
	if len(cache) > s.cacheSize {
		cache = cache[len(cache)-s.cacheSize:]
	}
	s.bars[bar.Symbol] = cache
}

func (s *Service) handleStreamError(err error) {
	s.logger.Error(context.Background(), err, "Bar stream error reported")
}

// runCycle evaluates every instrument once. Overlapping runs are prevented
// by the caller.
func (s *Service) runCycle(ctx context.Context, now time.Time) {
	start := time.Now()
	defer func() {
		s.metrics.CycleCompleted(time.Since(start))
	}()

	if !s.calendar.IsTradingDay(now) || !s.calendar.InSession(now) {
		s.logger.Debug(ctx, "Outside trading session, cycle idle")
		return
	}

	for i := range s.cfg.Instruments {
		inst := &s.cfg.Instruments[i]
		s.evaluateSymbol(ctx, inst, now)

		// A rolled position lives on the next series until its own expiry.
		if inst.NextSymbol != "" && s.manager.OpenPosition(inst.NextSymbol) != nil {
			s.evaluateSymbol(ctx, nextSeriesView(inst), now)
		}
	}

	s.metrics.SetOpenPositions(s.manager.OpenCount())
	s.metrics.SetScalingFactor(s.tracker.ScalingFactor())
}

// nextSeriesView presents the instrument's next series as a standalone
// instrument so exits on a rolled position evaluate against the right
// symbol and expiry.
func nextSeriesView(inst *domain.Instrument) *domain.Instrument {
	return &domain.Instrument{
		Name:        inst.Name,
		Symbol:      inst.NextSymbol,
		Exchange:    inst.Exchange,
		LotSize:     inst.LotSize,
		Expiry:      inst.NextExpiry,
		BarInterval: inst.BarInterval,
	}
}

// evaluateSymbol runs the pipeline for one symbol: snapshot, exits first,
// then entry classification.
func (s *Service) evaluateSymbol(ctx context.Context, inst *domain.Instrument, now time.Time) {
	s.mu.Lock()
	cached := s.bars[inst.Symbol]
	bars := make([]*domain.Bar, len(cached))
	copy(bars, cached)
	s.mu.Unlock()

	pivot := s.pivotFor(ctx, inst.Symbol, now)

	snap, err := s.engine.Compute(bars, pivot)
	if err != nil {
		if errors.Is(err, indicator.ErrNotReady) {
			s.logger.Debug(ctx, "Not enough bars yet", map[string]interface{}{
				"symbol": inst.Symbol,
				"bars":   len(bars),
			})
		} else {
			s.logger.Error(ctx, err, "Snapshot computation failed", map[string]interface{}{"symbol": inst.Symbol})
		}
		return
	}

	// The prior snapshot anchors the rising-slope, rising-PVI and
	// pivot-crossing checks.
	var prior *indicator.Snapshot
	if p, perr := s.engine.Compute(bars[:len(bars)-1], pivot); perr == nil {
		prior = p
	}

	reason, err := s.manager.EvaluateExit(ctx, inst, snap, now)
	if err != nil {
		s.logger.Error(ctx, err, "Exit evaluation failed", map[string]interface{}{"symbol": inst.Symbol})
		s.metrics.OrderFailed()
	}
	if reason != "" {
		s.metrics.ExitExecuted(string(reason))
		return
	}

	if s.manager.OpenPosition(inst.Symbol) != nil {
		return
	}
	if !s.calendar.CanEnter(now) {
		s.logger.Debug(ctx, "Entry window closed", map[string]interface{}{"symbol": inst.Symbol})
		return
	}

	score := s.scoreSnapshot(ctx, inst.Symbol, snap)
	sig := s.classifier.Classify(snap, prior, score)
	s.metrics.SignalClassified(string(sig.Tier))
	if !sig.Tier.Tradeable() {
		return
	}

	pos, err := s.manager.TryOpen(ctx, inst, sig, snap.Close, now)
	if err != nil {
		s.logger.Error(ctx, err, "Entry attempt failed", map[string]interface{}{"symbol": inst.Symbol})
		s.metrics.OrderFailed()
		return
	}
	if pos != nil {
		s.metrics.PositionOpened()
	}
}

// pivotFor returns the symbol's pivot range, refreshing it once per session
// from the prior day's high, low and close. A failed refresh keeps the stale
// range and retries next cycle.
func (s *Service) pivotFor(ctx context.Context, symbol string, now time.Time) indicator.PivotRange {
	day := s.calendar.SessionDate(now)

	s.mu.Lock()
	current := s.pivots[symbol]
	fresh := s.pivotDay[symbol].Equal(day)
	s.mu.Unlock()
	if fresh {
		return current
	}

	high, low, close, err := s.market.SessionHighLowClose(ctx, symbol)
	if err != nil {
		s.logger.Warn(ctx, "Could not refresh pivot range", map[string]interface{}{
			"symbol": symbol,
			"error":  err.Error(),
		})
		return current
	}
	pr, err := indicator.ComputePivotRange(high, low, close)
	if err != nil {
		s.logger.Warn(ctx, "Invalid session levels for pivot range", map[string]interface{}{
			"symbol": symbol,
			"error":  err.Error(),
		})
		return current
	}

	s.mu.Lock()
	s.pivots[symbol] = pr
	s.pivotDay[symbol] = day
	s.mu.Unlock()
	s.logger.Info(ctx, "Pivot range refreshed", map[string]interface{}{
		"symbol": symbol,
		"bottom": pr.Bottom,
		"pivot":  pr.Pivot,
		"top":    pr.Top,
	})
	return pr
}

// scoreSnapshot asks the external scorer for a recommendation, degrading to
// nil on any failure so classification proceeds conditions-only.
func (s *Service) scoreSnapshot(ctx context.Context, symbol string, snap *indicator.Snapshot) *ports.ScoreResult {
	if s.scorer == nil {
		return nil
	}
	score, err := s.scorer.Score(ctx, symbol, buildFeatures(snap))
	if err != nil {
		if errors.Is(err, ports.ErrScorerUnavailable) {
			s.logger.Debug(ctx, "Scorer unavailable", map[string]interface{}{"symbol": symbol})
		} else {
			s.logger.Warn(ctx, "Scorer call failed", map[string]interface{}{
				"symbol": symbol,
				"error":  err.Error(),
			})
			s.metrics.ScorerFailed()
		}
		return nil
	}
	return score
}

// buildFeatures flattens a snapshot into the model's input vector. Prices
// normalize against the close so the model sees shape, not level.
func buildFeatures(snap *indicator.Snapshot) []float64 {
	features := make([]float64, 0, 12)
	for _, ma := range snap.MovingAverages {
		features = append(features, ratio(ma, snap.Close))
	}
	features = append(features, snap.RSI/100)
	for _, smoothed := range snap.RSISmoothed {
		features = append(features, smoothed/100)
	}
	features = append(features,
		snap.Slope,
		snap.PVI/1000,
		snap.VolumeRatio,
		ratio(snap.Pivot.Pivot, snap.Close),
	)
	return features
}

func ratio(v, base float64) float64 {
	if base == 0 {
		return 0
	}
	return v / base
}

// startMetricsServer exposes the Prometheus scrape endpoint, or nil when no
// address is configured.
func (s *Service) startMetricsServer(ctx context.Context) *http.Server {
	if s.cfg.MetricsAddr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: s.cfg.MetricsAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(ctx, err, "Metrics server stopped", map[string]interface{}{"addr": s.cfg.MetricsAddr})
		}
	}()
	s.logger.Info(ctx, "Metrics server listening", map[string]interface{}{"addr": s.cfg.MetricsAddr})
	return srv
}
