package domain

// Direction is the side of a position (long or short the underlying trend).
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Opposite returns the reverse direction.
func (d Direction) Opposite() Direction {
	if d == Long {
		return Short
	}
	return Long
}

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// OrderKind represents the execution style requested from the gateway.
type OrderKind string

const (
	OrderKindMarket OrderKind = "MARKET"
	OrderKindLimit  OrderKind = "LIMIT"
)

// PositionStatus represents the lifecycle state of a trading position.
type PositionStatus string

const (
	StatusOpen            PositionStatus = "open"
	StatusPartiallyBooked PositionStatus = "partially_booked"
	StatusClosed          PositionStatus = "closed"
)

// CloseReason indicates why a position (or part of one) was closed.
type CloseReason string

const (
	CloseReasonStopLoss       CloseReason = "stop-loss"
	CloseReasonForcedTimeExit CloseReason = "forced time exit"
	CloseReasonTarget         CloseReason = "target"
	CloseReasonPartialTarget  CloseReason = "partial target"
	CloseReasonMACross        CloseReason = "ma cross reversal"
	CloseReasonVolumeCollapse CloseReason = "volume collapse"
	CloseReasonSlopeReversal  CloseReason = "slope reversal"
	CloseReasonMomentumBreak  CloseReason = "momentum breakdown"
	CloseReasonRollover       CloseReason = "rollover"
	CloseReasonManual         CloseReason = "manual"
	CloseReasonUnknown        CloseReason = "unknown"
)

// EventKind identifies a structured notification event.
type EventKind string

const (
	EventEntry           EventKind = "entry"
	EventPartialExit     EventKind = "partial_exit"
	EventExit            EventKind = "exit"
	EventRollover        EventKind = "rollover"
	EventForcedExitWarn  EventKind = "forced_exit_warning"
	EventExecutionAlert  EventKind = "execution_alert"
	EventInvariantAlert  EventKind = "invariant_alert"
	EventServiceStarted  EventKind = "service_started"
	EventServiceStopping EventKind = "service_stopping"
)
