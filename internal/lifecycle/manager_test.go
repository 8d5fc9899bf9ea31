package lifecycle

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sniperswing/internal/domain"
	"sniperswing/internal/indicator"
	"sniperswing/internal/performance"
	"sniperswing/internal/ports"
	"sniperswing/internal/risk"
	"sniperswing/internal/timing"
)

// --- Mocks ---

type noopLogger struct{}

func (noopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (noopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (noopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (noopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type mockExec struct {
	placeFunc func(ctx context.Context, req ports.OrderRequest) (*ports.OrderResponse, error)
	requests  []ports.OrderRequest
}

func (m *mockExec) PlaceOrder(ctx context.Context, req ports.OrderRequest) (*ports.OrderResponse, error) {
	m.requests = append(m.requests, req)
	if m.placeFunc != nil {
		return m.placeFunc(ctx, req)
	}
	return &ports.OrderResponse{
		OrderID:       "1",
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		ExecutedQty:   req.Quantity,
		Status:        "COMPLETE",
	}, nil
}

type mockPosRepo struct {
	createFunc func(ctx context.Context, pos *domain.Position) (int64, error)
	updateFunc func(ctx context.Context, pos *domain.Position) error
	created    []*domain.Position
	updated    []*domain.Position
	nextID     int64
}

func (m *mockPosRepo) Create(ctx context.Context, pos *domain.Position) (int64, error) {
	if m.createFunc != nil {
		return m.createFunc(ctx, pos)
	}
	m.nextID++
	m.created = append(m.created, pos)
	return m.nextID, nil
}

func (m *mockPosRepo) Update(ctx context.Context, pos *domain.Position) error {
	copied := *pos
	m.updated = append(m.updated, &copied)
	if m.updateFunc != nil {
		return m.updateFunc(ctx, pos)
	}
	return nil
}

func (m *mockPosRepo) FindOpenBySymbol(ctx context.Context, symbol string) (*domain.Position, error) {
	return nil, nil
}

func (m *mockPosRepo) FindAllOpen(ctx context.Context) ([]*domain.Position, error) {
	return nil, nil
}

func (m *mockPosRepo) FindByID(ctx context.Context, id int64) (*domain.Position, error) {
	return nil, nil
}

type mockTradeRepo struct {
	trades       []*domain.Trade
	today        int
	countedSince time.Time
}

func (m *mockTradeRepo) CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	copied := *trade
	m.trades = append(m.trades, &copied)
	return int64(len(m.trades)), nil
}

func (m *mockTradeRepo) FindBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error) {
	return nil, nil
}

func (m *mockTradeRepo) CountEntriesSince(ctx context.Context, since time.Time) (int, error) {
	m.countedSince = since
	return m.today, nil
}

type emittedEvent struct {
	kind    domain.EventKind
	payload map[string]interface{}
}

type mockNotifier struct {
	events []emittedEvent
}

func (m *mockNotifier) Emit(ctx context.Context, kind domain.EventKind, payload map[string]interface{}) {
	m.events = append(m.events, emittedEvent{kind: kind, payload: payload})
}

func (m *mockNotifier) kinds() []domain.EventKind {
	out := make([]domain.EventKind, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.kind)
	}
	return out
}

// --- Fixture ---

type fixture struct {
	manager   *Manager
	exec      *mockExec
	posRepo   *mockPosRepo
	tradeRepo *mockTradeRepo
	notifier  *mockNotifier
	tracker   *performance.Tracker
}

func newFixture(t *testing.T, mutate func(*Config, *risk.Config)) *fixture {
	t.Helper()
	lcCfg := DefaultConfig()
	riskCfg := risk.DefaultConfig()
	riskCfg.MaxRiskPerTrade = 10000
	riskCfg.StopLossFraction = 0.01
	riskCfg.MaxLots = 200
	if mutate != nil {
		mutate(&lcCfg, &riskCfg)
	}

	sizer, err := risk.NewSizer(riskCfg)
	require.NoError(t, err)
	tracker, err := performance.NewTracker(performance.DefaultConfig(), nil, nil)
	require.NoError(t, err)
	calendar, err := timing.NewCalendar(timing.DefaultConfig())
	require.NoError(t, err)

	f := &fixture{
		exec:      &mockExec{},
		posRepo:   &mockPosRepo{},
		tradeRepo: &mockTradeRepo{},
		notifier:  &mockNotifier{},
		tracker:   tracker,
	}
	f.manager, err = NewManager(lcCfg, noopLogger{}, f.exec, f.posRepo, f.tradeRepo, f.notifier, sizer, tracker, calendar)
	require.NoError(t, err)
	return f
}

func istTime(t *testing.T, day, hour, min int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	return time.Date(2025, 6, day, hour, min, 0, 0, loc)
}

func testInstrument() *domain.Instrument {
	return &domain.Instrument{
		Name:        "NIFTY",
		Symbol:      "NIFTY25JUNFUT",
		Exchange:    "NFO",
		LotSize:     75,
		Expiry:      time.Date(2025, 6, 26, 0, 0, 0, 0, time.UTC),
		NextSymbol:  "NIFTY25JULFUT",
		NextExpiry:  time.Date(2025, 7, 31, 0, 0, 0, 0, time.UTC),
		BarInterval: "5minute",
	}
}

// calmSnapshot returns a snapshot at price that triggers no exit rule for a
// long position.
func calmSnapshot(price float64) *indicator.Snapshot {
	return &indicator.Snapshot{
		Symbol:      "NIFTY25JUNFUT",
		Close:       price,
		RSI:         60,
		RSISmoothed: []float64{55, 50},
		Slope:       0.5,
		ExitMA:      price - 1,
		VolumeRatio: 1.0,
	}
}

func longPosition(entry float64) *domain.Position {
	return &domain.Position{
		ID:                1,
		Symbol:            "NIFTY25JUNFUT",
		Direction:         domain.Long,
		EntryPrice:        entry,
		Quantity:          150,
		RemainingQuantity: 150,
		StopLevel:         entry * 0.99,
		TargetLevel:       entry * 1.015,
		EntryTime:         time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC),
		ExpiryDate:        time.Date(2025, 6, 26, 0, 0, 0, 0, time.UTC),
		Status:            domain.StatusOpen,
	}
}

func validSignal(dir domain.Direction) *domain.Signal {
	return &domain.Signal{
		Symbol:        "NIFTY25JUNFUT",
		Direction:     dir,
		ConditionsMet: 4,
		Tier:          domain.TierValid,
	}
}

// --- Startup tests ---

func TestLoadCountsEntriesFromSessionDayStart(t *testing.T) {
	f := newFixture(t, nil)
	f.tradeRepo.today = 2

	now := istTime(t, 4, 11, 0)
	require.NoError(t, f.manager.Load(context.Background(), now))

	// The restore query and the live counter share the exchange-timezone
	// day boundary, not UTC midnight.
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	wantSince := time.Date(2025, 6, 4, 0, 0, 0, 0, loc)
	assert.True(t, f.tradeRepo.countedSince.Equal(wantSince),
		"counted since %v, want %v", f.tradeRepo.countedSince, wantSince)
	assert.Equal(t, 2, f.manager.tradesToday)
}

// --- Entry tests ---

func TestTryOpenCreatesPosition(t *testing.T) {
	f := newFixture(t, nil)
	now := istTime(t, 4, 11, 0) // Wednesday mid-session

	pos, err := f.manager.TryOpen(context.Background(), testInstrument(), validSignal(domain.Long), 100, now)
	require.NoError(t, err)
	require.NotNil(t, pos)

	assert.Equal(t, domain.Long, pos.Direction)
	assert.Equal(t, domain.StatusOpen, pos.Status)
	assert.Equal(t, pos.Quantity, pos.RemainingQuantity)
	// 10000 / (100 * 0.01) = 10000 units, 133 lots of 75.
	assert.Equal(t, 9975.0, pos.Quantity)
	assert.InDelta(t, 99.0, pos.StopLevel, 0.0001)
	assert.InDelta(t, 101.5, pos.TargetLevel, 0.0001)
	assert.Zero(t, math.Mod(pos.Quantity, 75))

	require.Len(t, f.exec.requests, 1)
	assert.Equal(t, domain.Buy, f.exec.requests[0].Side)
	assert.NotEmpty(t, f.exec.requests[0].ClientOrderID)
	assert.Equal(t, 1, f.manager.OpenCount())
	assert.Equal(t, []domain.EventKind{domain.EventEntry}, f.notifier.kinds())
}

func TestTryOpenShortUsesSellSide(t *testing.T) {
	f := newFixture(t, nil)
	now := istTime(t, 4, 11, 0)

	pos, err := f.manager.TryOpen(context.Background(), testInstrument(), validSignal(domain.Short), 100, now)
	require.NoError(t, err)
	require.NotNil(t, pos)

	assert.Equal(t, domain.Sell, f.exec.requests[0].Side)
	assert.InDelta(t, 101.0, pos.StopLevel, 0.0001)
	assert.InDelta(t, 98.5, pos.TargetLevel, 0.0001)
}

func TestTryOpenRefusals(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, f *fixture)
		sig   *domain.Signal
		now   func(t *testing.T) time.Time
	}{
		{
			name: "nil signal",
			sig:  nil,
			now:  func(t *testing.T) time.Time { return istTime(t, 4, 11, 0) },
		},
		{
			name: "tier not tradeable",
			sig:  &domain.Signal{Tier: domain.TierNone},
			now:  func(t *testing.T) time.Time { return istTime(t, 4, 11, 0) },
		},
		{
			name: "outside the session",
			sig:  validSignal(domain.Long),
			now:  func(t *testing.T) time.Time { return istTime(t, 4, 17, 0) },
		},
		{
			name: "friday after the cutoff",
			sig:  validSignal(domain.Long),
			now:  func(t *testing.T) time.Time { return istTime(t, 6, 15, 25) },
		},
		{
			name: "existing position for the symbol",
			setup: func(t *testing.T, f *fixture) {
				f.manager.positions["NIFTY25JUNFUT"] = longPosition(100)
			},
			sig: validSignal(domain.Long),
			now: func(t *testing.T) time.Time { return istTime(t, 4, 11, 0) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			if tt.setup != nil {
				tt.setup(t, f)
			}
			before := f.manager.OpenCount()

			pos, err := f.manager.TryOpen(context.Background(), testInstrument(), tt.sig, 100, tt.now(t))

			assert.NoError(t, err)
			assert.Nil(t, pos)
			assert.Equal(t, before, f.manager.OpenCount())
			assert.Empty(t, f.posRepo.created)
		})
	}
}

func TestTryOpenDailyCap(t *testing.T) {
	f := newFixture(t, func(lc *Config, rc *risk.Config) {
		rc.MaxTradesPerDay = 1
	})
	now := istTime(t, 4, 11, 0)
	ctx := context.Background()

	pos, err := f.manager.TryOpen(ctx, testInstrument(), validSignal(domain.Long), 100, now)
	require.NoError(t, err)
	require.NotNil(t, pos)

	// The first entry consumed the cap; a second symbol is refused.
	other := testInstrument()
	other.Symbol = "BANKNIFTY25JUNFUT"
	pos, err = f.manager.TryOpen(ctx, other, validSignal(domain.Long), 100, now)
	assert.NoError(t, err)
	assert.Nil(t, pos)
}

func TestTryOpenBudgetBelowOneLot(t *testing.T) {
	f := newFixture(t, func(lc *Config, rc *risk.Config) {
		rc.MaxRiskPerTrade = 50
	})
	now := istTime(t, 4, 11, 0)

	pos, err := f.manager.TryOpen(context.Background(), testInstrument(), validSignal(domain.Long), 100, now)

	assert.NoError(t, err)
	assert.Nil(t, pos)
	assert.Empty(t, f.exec.requests)
}

func TestTryOpenOrderFailureLeavesStateUntouched(t *testing.T) {
	f := newFixture(t, nil)
	f.exec.placeFunc = func(ctx context.Context, req ports.OrderRequest) (*ports.OrderResponse, error) {
		return nil, ports.ErrOrderPlacementFailed
	}
	now := istTime(t, 4, 11, 0)

	pos, err := f.manager.TryOpen(context.Background(), testInstrument(), validSignal(domain.Long), 100, now)

	assert.Error(t, err)
	assert.Nil(t, pos)
	assert.Zero(t, f.manager.OpenCount())
	assert.Empty(t, f.posRepo.created)
}

func TestTryOpenPersistFailureFlattens(t *testing.T) {
	f := newFixture(t, nil)
	f.posRepo.createFunc = func(ctx context.Context, pos *domain.Position) (int64, error) {
		return 0, ports.ErrDBConnection
	}
	now := istTime(t, 4, 11, 0)

	pos, err := f.manager.TryOpen(context.Background(), testInstrument(), validSignal(domain.Long), 100, now)

	assert.Error(t, err)
	assert.Nil(t, pos)
	assert.Zero(t, f.manager.OpenCount())
	// Entry order plus the flattening order.
	require.Len(t, f.exec.requests, 2)
	assert.Equal(t, domain.Buy, f.exec.requests[0].Side)
	assert.Equal(t, domain.Sell, f.exec.requests[1].Side)
}

// --- Exit tests ---

func TestEvaluateExitStopLossWinsOverReversal(t *testing.T) {
	f := newFixture(t, nil)
	pos := longPosition(100)
	f.manager.positions[pos.Symbol] = pos
	now := istTime(t, 4, 11, 0)

	// Price below the stop and below the exit average: both rules match,
	// the recorded reason must be the stop.
	snap := calmSnapshot(98.5)
	snap.ExitMA = 99.5
	snap.Slope = -1

	reason, err := f.manager.EvaluateExit(context.Background(), testInstrument(), snap, now)
	require.NoError(t, err)
	assert.Equal(t, domain.CloseReasonStopLoss, reason)

	require.Len(t, f.tradeRepo.trades, 1)
	assert.Equal(t, domain.CloseReasonStopLoss, f.tradeRepo.trades[0].CloseReason)
	assert.Zero(t, f.manager.OpenCount())
}

func TestEvaluateExitForcedTimeExitClosesAtALoss(t *testing.T) {
	f := newFixture(t, nil)
	pos := longPosition(100)
	f.manager.positions[pos.Symbol] = pos
	now := istTime(t, 6, 15, 20) // Friday, exactly at the cutoff

	snap := calmSnapshot(99.5) // small loss, above the stop

	reason, err := f.manager.EvaluateExit(context.Background(), testInstrument(), snap, now)
	require.NoError(t, err)
	assert.Equal(t, domain.CloseReasonForcedTimeExit, reason)

	require.Len(t, f.tradeRepo.trades, 1)
	trade := f.tradeRepo.trades[0]
	assert.Equal(t, domain.CloseReasonForcedTimeExit, trade.CloseReason)
	assert.Equal(t, 150.0, trade.Quantity)
	assert.Negative(t, trade.PNL)
	assert.Zero(t, f.manager.OpenCount())
}

func TestEvaluateExitForcedExitWarning(t *testing.T) {
	f := newFixture(t, nil)
	f.manager.positions["NIFTY25JUNFUT"] = longPosition(100)
	now := istTime(t, 6, 15, 12) // inside the warning window
	snap := calmSnapshot(100.2)

	reason, err := f.manager.EvaluateExit(context.Background(), testInstrument(), snap, now)
	require.NoError(t, err)
	assert.Empty(t, reason)
	assert.Equal(t, []domain.EventKind{domain.EventForcedExitWarn}, f.notifier.kinds())

	// A second cycle in the same window does not warn again.
	_, err = f.manager.EvaluateExit(context.Background(), testInstrument(), snap, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Len(t, f.notifier.events, 1)
}

func TestEvaluateExitFullTarget(t *testing.T) {
	f := newFixture(t, nil)
	pos := longPosition(100)
	f.manager.positions[pos.Symbol] = pos
	now := istTime(t, 4, 11, 0)

	reason, err := f.manager.EvaluateExit(context.Background(), testInstrument(), calmSnapshot(101.6), now)
	require.NoError(t, err)
	assert.Equal(t, domain.CloseReasonTarget, reason)

	require.Len(t, f.tradeRepo.trades, 1)
	assert.Equal(t, domain.CloseReasonTarget, f.tradeRepo.trades[0].CloseReason)
	assert.False(t, f.tradeRepo.trades[0].Partial)
}

func TestEvaluateExitPartialBooksHalfOnce(t *testing.T) {
	f := newFixture(t, nil)
	pos := longPosition(100)
	f.manager.positions[pos.Symbol] = pos
	now := istTime(t, 4, 11, 0)
	ctx := context.Background()

	// Gain above the partial threshold but below the full target.
	reason, err := f.manager.EvaluateExit(ctx, testInstrument(), calmSnapshot(100.6), now)
	require.NoError(t, err)
	assert.Equal(t, domain.CloseReasonPartialTarget, reason)

	require.Len(t, f.tradeRepo.trades, 1)
	trade := f.tradeRepo.trades[0]
	assert.Equal(t, domain.CloseReasonPartialTarget, trade.CloseReason)
	assert.True(t, trade.Partial)
	assert.Equal(t, 75.0, trade.Quantity)

	assert.Equal(t, domain.StatusPartiallyBooked, pos.Status)
	assert.Equal(t, 75.0, pos.RemainingQuantity)
	// The remainder's target tightened from 1.5% to 1.0%.
	assert.InDelta(t, 101.0, pos.TargetLevel, 0.0001)
	assert.Equal(t, 1, f.manager.OpenCount())

	// Same conditions on the next cycle: the partial branch must not
	// re-enter, and nothing else fires below the tightened target.
	reason, err = f.manager.EvaluateExit(ctx, testInstrument(), calmSnapshot(100.6), now.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, reason)
	assert.Len(t, f.tradeRepo.trades, 1)

	// The tightened target then closes the remainder.
	reason, err = f.manager.EvaluateExit(ctx, testInstrument(), calmSnapshot(101.1), now.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, domain.CloseReasonTarget, reason)
	require.Len(t, f.tradeRepo.trades, 2)
	assert.Equal(t, domain.CloseReasonTarget, f.tradeRepo.trades[1].CloseReason)
	assert.False(t, f.tradeRepo.trades[1].Partial)
	assert.Zero(t, f.manager.OpenCount())
}

func TestEvaluateExitPartialSkipsSingleLot(t *testing.T) {
	f := newFixture(t, nil)
	pos := longPosition(100)
	pos.Quantity = 75
	pos.RemainingQuantity = 75
	f.manager.positions[pos.Symbol] = pos
	now := istTime(t, 4, 11, 0)

	reason, err := f.manager.EvaluateExit(context.Background(), testInstrument(), calmSnapshot(100.6), now)
	require.NoError(t, err)
	assert.Empty(t, reason)
	assert.Empty(t, f.tradeRepo.trades)
	assert.Equal(t, domain.StatusOpen, pos.Status)
}

func TestEvaluateExitTechnicalReversals(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(snap *indicator.Snapshot)
		expected domain.CloseReason
	}{
		{
			name:     "exit average cross",
			mutate:   func(s *indicator.Snapshot) { s.ExitMA = s.Close + 0.5 },
			expected: domain.CloseReasonMACross,
		},
		{
			name:     "volume collapse",
			mutate:   func(s *indicator.Snapshot) { s.VolumeRatio = 0.3 },
			expected: domain.CloseReasonVolumeCollapse,
		},
		{
			name:     "slope reversal",
			mutate:   func(s *indicator.Snapshot) { s.Slope = -0.2 },
			expected: domain.CloseReasonSlopeReversal,
		},
		{
			name: "momentum hierarchy breakdown",
			mutate: func(s *indicator.Snapshot) {
				s.RSI = 40
				s.RSISmoothed = []float64{45, 50}
			},
			expected: domain.CloseReasonMomentumBreak,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			pos := longPosition(100)
			f.manager.positions[pos.Symbol] = pos
			now := istTime(t, 4, 11, 0)

			snap := calmSnapshot(100.2) // gain below the partial threshold
			tt.mutate(snap)

			reason, err := f.manager.EvaluateExit(context.Background(), testInstrument(), snap, now)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, reason)
			require.Len(t, f.tradeRepo.trades, 1)
			assert.Equal(t, tt.expected, f.tradeRepo.trades[0].CloseReason)
		})
	}
}

func TestEvaluateExitRollover(t *testing.T) {
	f := newFixture(t, nil)
	pos := longPosition(100)
	now := istTime(t, 4, 11, 0)
	pos.ExpiryDate = now.Add(5 * 24 * time.Hour)
	f.manager.positions[pos.Symbol] = pos

	reason, err := f.manager.EvaluateExit(context.Background(), testInstrument(), calmSnapshot(100.2), now)
	require.NoError(t, err)
	assert.Equal(t, domain.CloseReasonRollover, reason)

	// Exactly one close and one open order.
	require.Len(t, f.exec.requests, 2)
	assert.Equal(t, "NIFTY25JUNFUT", f.exec.requests[0].Symbol)
	assert.Equal(t, domain.Sell, f.exec.requests[0].Side)
	assert.Equal(t, "NIFTY25JULFUT", f.exec.requests[1].Symbol)
	assert.Equal(t, domain.Buy, f.exec.requests[1].Side)

	require.Len(t, f.tradeRepo.trades, 1)
	assert.Equal(t, domain.CloseReasonRollover, f.tradeRepo.trades[0].CloseReason)

	next := f.manager.OpenPosition("NIFTY25JULFUT")
	require.NotNil(t, next)
	assert.Equal(t, domain.Long, next.Direction)
	assert.Equal(t, 1, next.RolloverCount)
	assert.Equal(t, domain.StatusOpen, next.Status)
	assert.Nil(t, f.manager.OpenPosition("NIFTY25JUNFUT"))

	kinds := f.notifier.kinds()
	assert.Contains(t, kinds, domain.EventExit)
	assert.Contains(t, kinds, domain.EventRollover)
}

func TestEvaluateExitRolloverWithoutNextSeriesJustCloses(t *testing.T) {
	f := newFixture(t, nil)
	pos := longPosition(100)
	now := istTime(t, 4, 11, 0)
	pos.ExpiryDate = now.Add(3 * 24 * time.Hour)
	f.manager.positions[pos.Symbol] = pos

	inst := testInstrument()
	inst.NextSymbol = ""

	reason, err := f.manager.EvaluateExit(context.Background(), inst, calmSnapshot(100.2), now)
	require.NoError(t, err)
	assert.Equal(t, domain.CloseReasonRollover, reason)
	assert.Len(t, f.exec.requests, 1)
	assert.Zero(t, f.manager.OpenCount())
}

func TestEvaluateExitOrderFailureKeepsPositionAndBoundsRetries(t *testing.T) {
	f := newFixture(t, nil)
	f.exec.placeFunc = func(ctx context.Context, req ports.OrderRequest) (*ports.OrderResponse, error) {
		return nil, ports.ErrOrderPlacementFailed
	}
	pos := longPosition(100)
	f.manager.positions[pos.Symbol] = pos
	now := istTime(t, 4, 11, 0)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		reason, err := f.manager.EvaluateExit(ctx, testInstrument(), calmSnapshot(98.5), now)
		assert.Equal(t, domain.CloseReasonStopLoss, reason)
		assert.Error(t, err)
		assert.Equal(t, i, pos.ExitAttempts)
	}

	// Still open, untouched apart from the attempt counter.
	assert.Equal(t, 1, f.manager.OpenCount())
	assert.Equal(t, domain.StatusOpen, pos.Status)
	assert.Equal(t, 150.0, pos.RemainingQuantity)
	assert.Empty(t, f.tradeRepo.trades)

	// The third consecutive failure raised the execution alert.
	assert.Equal(t, []domain.EventKind{domain.EventExecutionAlert}, f.notifier.kinds())
}

func TestEvaluateExitRecordsOutcomeOnFullCloseOnly(t *testing.T) {
	f := newFixture(t, nil)
	pos := longPosition(100)
	f.manager.positions[pos.Symbol] = pos
	now := istTime(t, 4, 11, 0)
	ctx := context.Background()

	_, err := f.manager.EvaluateExit(ctx, testInstrument(), calmSnapshot(100.6), now)
	require.NoError(t, err)
	assert.Zero(t, f.tracker.Stats().TotalTrades, "partial exits must not count as closed trades")

	_, err = f.manager.EvaluateExit(ctx, testInstrument(), calmSnapshot(101.1), now.Add(5*time.Minute))
	require.NoError(t, err)
	stats := f.tracker.Stats()
	assert.Equal(t, 1, stats.TotalTrades)
	assert.Equal(t, 1, stats.Wins)
	// 75 * 0.6 + 75 * 1.1, both legs realized in profit.
	assert.InDelta(t, 127.5, stats.GrossProfit, 0.0001)
}

func TestEvaluateExitNoPosition(t *testing.T) {
	f := newFixture(t, nil)
	now := istTime(t, 4, 11, 0)

	reason, err := f.manager.EvaluateExit(context.Background(), testInstrument(), calmSnapshot(100), now)
	require.NoError(t, err)
	assert.Empty(t, reason)
	assert.Empty(t, f.exec.requests)
}
