package domain

import "time"

// Position represents a derivative position owned by the lifecycle manager.
// It is created on a successful entry decision and mutated only by lifecycle
// evaluation (partial/full exit, rollover replacement) or the forced
// end-of-period exit rule.
type Position struct {
	ID                int64          // Unique identifier (assigned by the repository)
	Symbol            string         // Instrument symbol (e.g., "NIFTY")
	Direction         Direction      // LONG or SHORT
	EntryPrice        float64        // Price at which the position was entered
	ExitPrice         float64        // Price of the final exit (0 while open)
	Quantity          float64        // Original size at entry
	RemainingQuantity float64        // Size still on; <= Quantity, strictly decreasing
	StopLevel         float64        // Price level that triggers the stop-loss rule
	TargetLevel       float64        // Price level for the full profit target
	EntryTime         time.Time      // When the position was entered
	ExitTime          time.Time      // When the final exit happened (zero while open)
	ExpiryDate        time.Time      // Instrument series expiry, drives rollover
	Status            PositionStatus // open, partially_booked, closed
	CloseReason       CloseReason    // Reason for the final close
	RealizedPNL       float64        // Accumulated realized P&L across partial and full exits
	RolloverCount     int            // Number of times this exposure was rolled to a new series
	ExitAttempts      int            // Consecutive failed exit order placements (retry bound)
}

// IsOpen reports whether the position still carries exposure.
func (p *Position) IsOpen() bool {
	return p.Status == StatusOpen || p.Status == StatusPartiallyBooked
}

// UnrealizedGain returns the signed fractional move from entry in the
// position's favor. Positive means profit for either direction.
func (p *Position) UnrealizedGain(price float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	gain := (price - p.EntryPrice) / p.EntryPrice
	if p.Direction == Short {
		gain = -gain
	}
	return gain
}
