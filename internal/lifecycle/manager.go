package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"sniperswing/internal/domain"
	"sniperswing/internal/indicator"
	"sniperswing/internal/performance"
	"sniperswing/internal/ports"
	"sniperswing/internal/risk"
	"sniperswing/internal/timing"
)

// Config holds the exit thresholds and lifecycle limits.
type Config struct {
	// PartialTargetFraction is the gain at which half the position is booked.
	PartialTargetFraction float64
	// FullTargetFraction is the gain at which the whole position closes.
	FullTargetFraction float64
	// PostPartialTargetFraction replaces the full target for the remainder
	// once the partial has booked. It must sit between the two above.
	PostPartialTargetFraction float64
	// VolumeCollapseRatio closes a position when the latest volume falls
	// below this fraction of the trailing average.
	VolumeCollapseRatio float64
	// RolloverDays triggers the series roll when days to expiry drop to or
	// below it.
	RolloverDays int
	// MaxExitAttempts bounds consecutive failed exit orders before the
	// manager raises an execution alert.
	MaxExitAttempts int
}

// DefaultConfig returns the deployment lifecycle thresholds.
func DefaultConfig() Config {
	return Config{
		PartialTargetFraction:     0.005,
		FullTargetFraction:        0.015,
		PostPartialTargetFraction: 0.010,
		VolumeCollapseRatio:       0.4,
		RolloverDays:              7,
		MaxExitAttempts:           3,
	}
}

// Validate checks the thresholds for internal consistency.
func (c Config) Validate() error {
	if c.PartialTargetFraction <= 0 || c.FullTargetFraction <= c.PartialTargetFraction {
		return fmt.Errorf("targets must satisfy 0 < partial < full")
	}
	if c.PostPartialTargetFraction <= c.PartialTargetFraction || c.PostPartialTargetFraction >= c.FullTargetFraction {
		return fmt.Errorf("post-partial target must sit between partial and full")
	}
	if c.VolumeCollapseRatio <= 0 || c.VolumeCollapseRatio >= 1 {
		return fmt.Errorf("volume collapse ratio must be in (0, 1)")
	}
	if c.RolloverDays < 1 {
		return fmt.Errorf("rollover days must be at least 1")
	}
	if c.MaxExitAttempts < 1 {
		return fmt.Errorf("max exit attempts must be at least 1")
	}
	return nil
}

// Manager owns every open position. All mutations go through its lock; no
// other component touches position state directly. Order placement happens
// inside the lock so a cycle never observes a half-applied transition.
type Manager struct {
	cfg       Config
	log       ports.Logger
	exec      ports.ExecutionClient
	posRepo   ports.PositionRepository
	tradeRepo ports.TradeRepository
	notifier  ports.Notifier
	sizer     *risk.Sizer
	tracker   *performance.Tracker
	calendar  *timing.Calendar

	mu          sync.Mutex
	positions   map[string]*domain.Position
	tradesToday int
	tradingDay  time.Time
	warnedDay   time.Time
}

// NewManager creates the lifecycle manager. All dependencies are required.
func NewManager(
	cfg Config,
	log ports.Logger,
	exec ports.ExecutionClient,
	posRepo ports.PositionRepository,
	tradeRepo ports.TradeRepository,
	notifier ports.Notifier,
	sizer *risk.Sizer,
	tracker *performance.Tracker,
	calendar *timing.Calendar,
) (*Manager, error) {
	if log == nil || exec == nil || posRepo == nil || tradeRepo == nil || notifier == nil || sizer == nil || tracker == nil || calendar == nil {
		return nil, fmt.Errorf("missing required dependencies for lifecycle manager")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("lifecycle config: %w", err)
	}
	return &Manager{
		cfg:       cfg,
		log:       log,
		exec:      exec,
		posRepo:   posRepo,
		tradeRepo: tradeRepo,
		notifier:  notifier,
		sizer:     sizer,
		tracker:   tracker,
		calendar:  calendar,
		positions: make(map[string]*domain.Position),
	}, nil
}

// Load restores open positions and the day's entry count after a restart.
func (m *Manager) Load(ctx context.Context, now time.Time) error {
	open, err := m.posRepo.FindAllOpen(ctx)
	if err != nil {
		return fmt.Errorf("failed to load open positions: %w", err)
	}
	count, err := m.tradeRepo.CountEntriesSince(ctx, m.calendar.SessionDate(now))
	if err != nil {
		return fmt.Errorf("failed to count today's trades: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pos := range open {
		m.positions[pos.Symbol] = pos
		m.log.Info(ctx, "Restored open position", map[string]interface{}{
			"positionID": pos.ID,
			"symbol":     pos.Symbol,
			"direction":  pos.Direction,
			"remaining":  pos.RemainingQuantity,
		})
	}
	m.tradesToday = count
	m.tradingDay = m.calendar.SessionDate(now)
	return nil
}

// OpenPosition returns the open position for symbol, nil when flat.
func (m *Manager) OpenPosition(symbol string) *domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pos, ok := m.positions[symbol]; ok {
		copied := *pos
		return &copied
	}
	return nil
}

// OpenCount returns the number of positions still carrying exposure.
func (m *Manager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.positions)
}

// rollDayLocked resets the per-day entry counter on the first call of a new
// trading day. Callers hold m.mu.
func (m *Manager) rollDayLocked(now time.Time) {
	day := m.calendar.SessionDate(now)
	if !day.Equal(m.tradingDay) {
		m.tradingDay = day
		m.tradesToday = 0
	}
}

// TryOpen evaluates a graded signal for entry. Refusal (limits, session
// timing, unaffordable size, existing position) returns nil, nil: it is an
// expected outcome, not a failure. Only order placement or persistence
// problems surface as errors.
func (m *Manager) TryOpen(ctx context.Context, inst *domain.Instrument, sig *domain.Signal, price float64, now time.Time) (*domain.Position, error) {
	op := "TryOpen"
	if sig == nil || !sig.Tier.Tradeable() {
		return nil, nil
	}
	if !m.calendar.CanEnter(now) {
		m.log.Debug(ctx, op+": entry window closed", map[string]interface{}{"symbol": inst.Symbol})
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDayLocked(now)

	if _, exists := m.positions[inst.Symbol]; exists {
		return nil, nil
	}
	if err := m.sizer.ValidateEntry(sig.Tier, len(m.positions), m.tradesToday); err != nil {
		if errors.Is(err, ports.ErrInvalidRequest) {
			m.log.Debug(ctx, op+": entry refused", map[string]interface{}{"symbol": inst.Symbol, "reason": err.Error()})
			return nil, nil
		}
		return nil, err
	}

	stats := m.tracker.Stats()
	quantity, err := m.sizer.Size(price, sig.Tier, &stats, inst.LotSize)
	if err != nil {
		return nil, fmt.Errorf("sizing failed for %s: %w", inst.Symbol, err)
	}
	if quantity == 0 {
		m.log.Info(ctx, op+": risk budget below one lot, skipping entry", map[string]interface{}{
			"symbol": inst.Symbol,
			"price":  price,
		})
		return nil, nil
	}

	side := domain.Buy
	if sig.Direction == domain.Short {
		side = domain.Sell
	}
	resp, err := m.exec.PlaceOrder(ctx, ports.OrderRequest{
		ClientOrderID: uuid.NewString(),
		Symbol:        inst.Symbol,
		Side:          side,
		Quantity:      float64(quantity),
		Kind:          domain.OrderKindMarket,
	})
	if err != nil {
		m.log.Error(ctx, err, op+": entry order failed", map[string]interface{}{"symbol": inst.Symbol})
		return nil, fmt.Errorf("entry order failed for %s: %w", inst.Symbol, err)
	}
	fillPrice := resp.AvgPrice
	if fillPrice == 0 {
		m.log.Warn(ctx, op+": gateway reported no fill price, using bar close", map[string]interface{}{
			"symbol":  inst.Symbol,
			"orderID": resp.OrderID,
		})
		fillPrice = price
	}

	target := fillPrice * (1 + m.cfg.FullTargetFraction)
	if sig.Direction == domain.Short {
		target = fillPrice * (1 - m.cfg.FullTargetFraction)
	}
	pos := &domain.Position{
		Symbol:            inst.Symbol,
		Direction:         sig.Direction,
		EntryPrice:        fillPrice,
		Quantity:          float64(quantity),
		RemainingQuantity: float64(quantity),
		StopLevel:         m.sizer.StopLevel(fillPrice, sig.Direction),
		TargetLevel:       target,
		EntryTime:         now.UTC(),
		ExpiryDate:        inst.Expiry,
		Status:            domain.StatusOpen,
	}

	id, err := m.posRepo.Create(ctx, pos)
	if err != nil {
		m.log.Error(ctx, err, op+": failed to persist new position, flattening", map[string]interface{}{"symbol": inst.Symbol})
		if closeErr := m.flatten(ctx, inst.Symbol, sig.Direction, float64(quantity)); closeErr != nil {
			m.log.Error(ctx, closeErr, op+": FLATTEN FAILED, manual intervention required", map[string]interface{}{"symbol": inst.Symbol})
			m.notifier.Emit(ctx, domain.EventExecutionAlert, map[string]interface{}{
				"symbol": inst.Symbol,
				"error":  closeErr.Error(),
			})
		}
		return nil, fmt.Errorf("failed to persist position after entry: %w", err)
	}
	pos.ID = id

	m.positions[inst.Symbol] = pos
	m.tradesToday++

	m.log.Info(ctx, op+": position opened", map[string]interface{}{
		"positionID": pos.ID,
		"symbol":     pos.Symbol,
		"direction":  pos.Direction,
		"quantity":   pos.Quantity,
		"entryPrice": pos.EntryPrice,
		"stopLevel":  pos.StopLevel,
		"target":     pos.TargetLevel,
		"tier":       sig.Tier,
	})
	m.notifier.Emit(ctx, domain.EventEntry, map[string]interface{}{
		"symbol":        pos.Symbol,
		"direction":     string(pos.Direction),
		"quantity":      pos.Quantity,
		"entry_price":   pos.EntryPrice,
		"stop_level":    pos.StopLevel,
		"target_level":  pos.TargetLevel,
		"tier":          string(sig.Tier),
		"justification": sig.Justification,
	})

	returned := *pos
	return &returned, nil
}

// flatten places a bare market order opposite the given direction. Used only
// to undo exposure when persistence fails right after an entry fill.
func (m *Manager) flatten(ctx context.Context, symbol string, dir domain.Direction, quantity float64) error {
	side := domain.Sell
	if dir == domain.Short {
		side = domain.Buy
	}
	_, err := m.exec.PlaceOrder(ctx, ports.OrderRequest{
		ClientOrderID: uuid.NewString(),
		Symbol:        symbol,
		Side:          side,
		Quantity:      quantity,
		Kind:          domain.OrderKindMarket,
	})
	if err != nil {
		return fmt.Errorf("flatten order failed: %w", err)
	}
	return nil
}

// exitDecision is the outcome of the priority evaluation for one position.
type exitDecision struct {
	reason   domain.CloseReason
	partial  bool
	rollover bool
}

// decide walks the exit rules in strict priority order and returns the first
// that fires, or nil. Callers hold m.mu.
func (m *Manager) decide(pos *domain.Position, snap *indicator.Snapshot, now time.Time) *exitDecision {
	price := snap.Close

	// 1. Stop-loss.
	if (pos.Direction == domain.Long && price <= pos.StopLevel) ||
		(pos.Direction == domain.Short && price >= pos.StopLevel) {
		return &exitDecision{reason: domain.CloseReasonStopLoss}
	}

	// 2. Forced time exit, regardless of P&L.
	if m.calendar.ForcedExitDue(now) {
		return &exitDecision{reason: domain.CloseReasonForcedTimeExit}
	}

	// 3. Full profit target on the remaining quantity.
	if (pos.Direction == domain.Long && price >= pos.TargetLevel) ||
		(pos.Direction == domain.Short && price <= pos.TargetLevel) {
		return &exitDecision{reason: domain.CloseReasonTarget}
	}

	// 4. Partial booking, once per position.
	if pos.Status == domain.StatusOpen && pos.UnrealizedGain(price) >= m.cfg.PartialTargetFraction {
		return &exitDecision{reason: domain.CloseReasonPartialTarget, partial: true}
	}

	// 5. Technical reversals.
	if pos.Direction == domain.Long && price < snap.ExitMA {
		return &exitDecision{reason: domain.CloseReasonMACross}
	}
	if pos.Direction == domain.Short && price > snap.ExitMA {
		return &exitDecision{reason: domain.CloseReasonMACross}
	}
	if snap.VolumeRatio < m.cfg.VolumeCollapseRatio {
		return &exitDecision{reason: domain.CloseReasonVolumeCollapse}
	}
	if (pos.Direction == domain.Long && snap.Slope < 0) ||
		(pos.Direction == domain.Short && snap.Slope > 0) {
		return &exitDecision{reason: domain.CloseReasonSlopeReversal}
	}
	if (pos.Direction == domain.Long && snap.RSIHierarchyBearish()) ||
		(pos.Direction == domain.Short && snap.RSIHierarchyBullish()) {
		return &exitDecision{reason: domain.CloseReasonMomentumBreak}
	}

	// 6. Rollover near expiry.
	if !pos.ExpiryDate.IsZero() {
		days := int(pos.ExpiryDate.Sub(now).Hours() / 24)
		if days <= m.cfg.RolloverDays {
			return &exitDecision{reason: domain.CloseReasonRollover, rollover: true}
		}
	}

	return nil
}

// EvaluateExit runs the exit rules for the instrument's open position.
// It returns the reason of the exit action attempted this cycle, which
// suppresses entry evaluation for the symbol; an empty reason means nothing
// fired. A position with no open exposure returns immediately.
func (m *Manager) EvaluateExit(ctx context.Context, inst *domain.Instrument, snap *indicator.Snapshot, now time.Time) (domain.CloseReason, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.warnForcedExitLocked(ctx, now)

	pos, ok := m.positions[inst.Symbol]
	if !ok {
		return "", nil
	}

	decision := m.decide(pos, snap, now)
	if decision == nil {
		return "", nil
	}

	if decision.rollover {
		if err := m.rolloverLocked(ctx, inst, pos, snap.Close, now); err != nil {
			return decision.reason, err
		}
		return decision.reason, nil
	}

	quantity := pos.RemainingQuantity
	if decision.partial {
		quantity = partialQuantity(pos.RemainingQuantity, inst.LotSize)
		if quantity == 0 {
			// A single lot cannot be halved; hold for the full target.
			return "", nil
		}
	}

	if err := m.closeQuantityLocked(ctx, pos, quantity, snap.Close, decision.reason, now); err != nil {
		return decision.reason, err
	}
	return decision.reason, nil
}

// partialQuantity halves the remaining size rounded down to whole lots.
func partialQuantity(remaining float64, lotSize int) float64 {
	lots := int(remaining/2) / lotSize
	return float64(lots * lotSize)
}

// warnForcedExitLocked emits the pre-cutoff warning once per cutoff day
// while positions remain open. Callers hold m.mu.
func (m *Manager) warnForcedExitLocked(ctx context.Context, now time.Time) {
	if len(m.positions) == 0 || !m.calendar.ForcedExitWarningDue(now) {
		return
	}
	day := m.calendar.SessionDate(now)
	if day.Equal(m.warnedDay) {
		return
	}
	m.warnedDay = day
	symbols := make([]string, 0, len(m.positions))
	for sym := range m.positions {
		symbols = append(symbols, sym)
	}
	m.log.Warn(ctx, "Forced exit cutoff approaching", map[string]interface{}{"symbols": symbols})
	m.notifier.Emit(ctx, domain.EventForcedExitWarn, map[string]interface{}{"symbols": symbols})
}

// closeQuantityLocked executes one exit leg and applies the resulting state
// transition. A failed order leaves the position untouched apart from the
// attempt counter; the next cycle retries. Callers hold m.mu.
func (m *Manager) closeQuantityLocked(ctx context.Context, pos *domain.Position, quantity, price float64, reason domain.CloseReason, now time.Time) error {
	op := "closeQuantity"
	side := domain.Sell
	if pos.Direction == domain.Short {
		side = domain.Buy
	}

	resp, err := m.exec.PlaceOrder(ctx, ports.OrderRequest{
		ClientOrderID: uuid.NewString(),
		Symbol:        pos.Symbol,
		Side:          side,
		Quantity:      quantity,
		Kind:          domain.OrderKindMarket,
	})
	if err != nil {
		pos.ExitAttempts++
		m.log.Error(ctx, err, op+": exit order failed", map[string]interface{}{
			"positionID": pos.ID,
			"symbol":     pos.Symbol,
			"reason":     reason,
			"attempt":    pos.ExitAttempts,
		})
		if pos.ExitAttempts >= m.cfg.MaxExitAttempts {
			m.notifier.Emit(ctx, domain.EventExecutionAlert, map[string]interface{}{
				"symbol":   pos.Symbol,
				"reason":   string(reason),
				"attempts": pos.ExitAttempts,
				"error":    err.Error(),
			})
		}
		return fmt.Errorf("exit order failed for position %d: %w", pos.ID, err)
	}
	pos.ExitAttempts = 0

	fillPrice := resp.AvgPrice
	if fillPrice == 0 {
		m.log.Warn(ctx, op+": gateway reported no fill price, using bar close", map[string]interface{}{
			"positionID": pos.ID,
			"orderID":    resp.OrderID,
		})
		fillPrice = price
	}

	pnl := (fillPrice - pos.EntryPrice) * quantity
	if pos.Direction == domain.Short {
		pnl = -pnl
	}

	pos.RemainingQuantity -= quantity
	pos.RealizedPNL += pnl
	fullClose := pos.RemainingQuantity <= 1e-9

	if fullClose {
		pos.RemainingQuantity = 0
		pos.Status = domain.StatusClosed
		pos.ExitPrice = fillPrice
		pos.ExitTime = now.UTC()
		pos.CloseReason = reason
	} else {
		pos.Status = domain.StatusPartiallyBooked
		target := pos.EntryPrice * (1 + m.cfg.PostPartialTargetFraction)
		if pos.Direction == domain.Short {
			target = pos.EntryPrice * (1 - m.cfg.PostPartialTargetFraction)
		}
		pos.TargetLevel = target
	}

	if err := m.posRepo.Update(ctx, pos); err != nil {
		m.log.Error(ctx, err, op+": failed to persist position after exit", map[string]interface{}{"positionID": pos.ID})
		return fmt.Errorf("failed to persist position %d after exit: %w", pos.ID, err)
	}

	trade := &domain.Trade{
		PositionID:  pos.ID,
		Symbol:      pos.Symbol,
		Direction:   pos.Direction,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   fillPrice,
		Quantity:    quantity,
		PNL:         pnl,
		EntryTime:   pos.EntryTime,
		ExitTime:    now.UTC(),
		CloseReason: reason,
		Partial:     !fullClose,
	}
	if _, err := m.tradeRepo.CreateTrade(ctx, trade); err != nil {
		// The position state is already correct; a missing journal row is
		// recoverable and must not block the exit.
		m.log.Error(ctx, err, op+": failed to journal trade", map[string]interface{}{"positionID": pos.ID})
	}

	m.log.Info(ctx, op+": exit executed", map[string]interface{}{
		"positionID": pos.ID,
		"symbol":     pos.Symbol,
		"reason":     reason,
		"quantity":   quantity,
		"fillPrice":  fillPrice,
		"pnl":        pnl,
		"remaining":  pos.RemainingQuantity,
	})

	eventKind := domain.EventExit
	if !fullClose {
		eventKind = domain.EventPartialExit
	}
	m.notifier.Emit(ctx, eventKind, map[string]interface{}{
		"symbol":     pos.Symbol,
		"direction":  string(pos.Direction),
		"reason":     string(reason),
		"quantity":   quantity,
		"exit_price": fillPrice,
		"pnl":        pnl,
		"remaining":  pos.RemainingQuantity,
	})

	if fullClose {
		delete(m.positions, pos.Symbol)
		if err := m.tracker.Record(ctx, pos.RealizedPNL); err != nil {
			m.log.Error(ctx, err, op+": failed to record closed trade outcome", map[string]interface{}{"positionID": pos.ID})
		}
	}
	return nil
}

// rolloverLocked closes the expiring leg and opens an equivalent one in the
// next series, sized through the risk limits again. It produces exactly one
// close and one open event. Callers hold m.mu.
func (m *Manager) rolloverLocked(ctx context.Context, inst *domain.Instrument, pos *domain.Position, price float64, now time.Time) error {
	op := "rollover"
	if inst.NextSymbol == "" {
		m.log.Warn(ctx, op+": no next series configured, closing without reopening", map[string]interface{}{"symbol": pos.Symbol})
		return m.closeQuantityLocked(ctx, pos, pos.RemainingQuantity, price, domain.CloseReasonRollover, now)
	}

	direction := pos.Direction
	rollCount := pos.RolloverCount
	if err := m.closeQuantityLocked(ctx, pos, pos.RemainingQuantity, price, domain.CloseReasonRollover, now); err != nil {
		return err
	}

	stats := m.tracker.Stats()
	quantity, err := m.sizer.Size(price, domain.TierValid, &stats, inst.LotSize)
	if err != nil {
		return fmt.Errorf("rollover sizing failed for %s: %w", inst.NextSymbol, err)
	}
	if quantity == 0 {
		m.log.Warn(ctx, op+": risk budget below one lot, exposure not re-established", map[string]interface{}{
			"symbol": inst.NextSymbol,
		})
		return nil
	}

	side := domain.Buy
	if direction == domain.Short {
		side = domain.Sell
	}
	resp, err := m.exec.PlaceOrder(ctx, ports.OrderRequest{
		ClientOrderID: uuid.NewString(),
		Symbol:        inst.NextSymbol,
		Side:          side,
		Quantity:      float64(quantity),
		Kind:          domain.OrderKindMarket,
	})
	if err != nil {
		m.log.Error(ctx, err, op+": failed to open next-series leg", map[string]interface{}{"symbol": inst.NextSymbol})
		m.notifier.Emit(ctx, domain.EventExecutionAlert, map[string]interface{}{
			"symbol": inst.NextSymbol,
			"error":  err.Error(),
		})
		return fmt.Errorf("rollover entry failed for %s: %w", inst.NextSymbol, err)
	}
	fillPrice := resp.AvgPrice
	if fillPrice == 0 {
		fillPrice = price
	}

	target := fillPrice * (1 + m.cfg.FullTargetFraction)
	if direction == domain.Short {
		target = fillPrice * (1 - m.cfg.FullTargetFraction)
	}
	next := &domain.Position{
		Symbol:            inst.NextSymbol,
		Direction:         direction,
		EntryPrice:        fillPrice,
		Quantity:          float64(quantity),
		RemainingQuantity: float64(quantity),
		StopLevel:         m.sizer.StopLevel(fillPrice, direction),
		TargetLevel:       target,
		EntryTime:         now.UTC(),
		ExpiryDate:        inst.NextExpiry,
		Status:            domain.StatusOpen,
		RolloverCount:     rollCount + 1,
	}
	id, err := m.posRepo.Create(ctx, next)
	if err != nil {
		m.log.Error(ctx, err, op+": failed to persist next-series leg, flattening", map[string]interface{}{"symbol": next.Symbol})
		if closeErr := m.flatten(ctx, next.Symbol, direction, next.Quantity); closeErr != nil {
			m.log.Error(ctx, closeErr, op+": FLATTEN FAILED, manual intervention required", map[string]interface{}{"symbol": next.Symbol})
		}
		return fmt.Errorf("failed to persist rollover position: %w", err)
	}
	next.ID = id
	m.positions[next.Symbol] = next

	m.log.Info(ctx, op+": exposure rolled to next series", map[string]interface{}{
		"positionID": next.ID,
		"symbol":     next.Symbol,
		"direction":  next.Direction,
		"quantity":   next.Quantity,
		"rollovers":  next.RolloverCount,
	})
	m.notifier.Emit(ctx, domain.EventRollover, map[string]interface{}{
		"from_symbol": inst.Symbol,
		"to_symbol":   next.Symbol,
		"direction":   string(direction),
		"quantity":    next.Quantity,
		"entry_price": next.EntryPrice,
		"rollovers":   next.RolloverCount,
	})
	return nil
}
