package domain

import "time"

// Trade represents one realized exit (partial or full) of a position.
type Trade struct {
	ID          int64       // Unique identifier (assigned by the repository)
	PositionID  int64       // Position this trade closed (or partially closed)
	Symbol      string      // Instrument symbol
	Direction   Direction   // Side of the position that was closed
	EntryPrice  float64     // Price at which the position was entered
	ExitPrice   float64     // Price at which this quantity was exited
	Quantity    float64     // Quantity closed by this trade
	PNL         float64     // Realized profit and loss for this quantity
	EntryTime   time.Time   // When the position was entered
	ExitTime    time.Time   // When this exit happened
	CloseReason CloseReason // Why this quantity was closed
	Partial     bool        // True if the position stayed open after this trade
}
