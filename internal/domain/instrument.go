package domain

import "time"

// Instrument describes one tradeable derivative series and its successor.
// The successor fields drive rollover: when the current series approaches
// expiry the exposure moves to NextSymbol.
type Instrument struct {
	Name        string    // Underlying name (e.g., "NIFTY")
	Symbol      string    // Current series symbol (e.g., "NIFTY25JUNFUT")
	Exchange    string    // Exchange segment (e.g., "NFO")
	LotSize     int       // Contract multiple; order quantities are whole lots
	Expiry      time.Time // Current series expiry date
	NextSymbol  string    // Next series symbol, empty disables rollover
	NextExpiry  time.Time // Next series expiry date
	BarInterval string    // Bar interval used for evaluation (e.g., "5minute")
}

// DaysToExpiry returns whole days between now and the series expiry,
// negative once expiry has passed.
func (i *Instrument) DaysToExpiry(now time.Time) int {
	return int(i.Expiry.Sub(now).Hours() / 24)
}
