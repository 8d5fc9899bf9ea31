package domain

import "time"

// Bar represents a single OHLCV sample for a fixed time interval.
type Bar struct {
	Timestamp time.Time // Start time of the interval
	Symbol    string    // Instrument symbol
	Interval  string    // Bar interval (e.g., "15minute", "30minute")
	Open      float64   // Opening price
	High      float64   // Highest price
	Low       float64   // Lowest price
	Close     float64   // Closing price
	Volume    float64   // Traded volume
}

// OHLC4 returns the average-price source used by the oscillator family.
func (b *Bar) OHLC4() float64 {
	return (b.Open + b.High + b.Low + b.Close) / 4
}
