package domain

// PerformanceStats holds the rolling trade counters that drive position
// sizing. One instance exists per process; it is updated after every full
// position closure and persisted alongside it.
type PerformanceStats struct {
	TotalTrades       int
	Wins              int
	Losses            int
	ConsecutiveWins   int
	ConsecutiveLosses int
	GrossProfit       float64 // sum of winning PNL, >= 0
	GrossLoss         float64 // sum of losing PNL magnitudes, >= 0
	ScalingFactor     float64 // derived multiplier, clamped by the sizer config
}

// WinRate returns the fraction of winning trades, 0 when no trades closed.
func (s *PerformanceStats) WinRate() float64 {
	if s.TotalTrades == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.TotalTrades)
}

// ProfitFactor returns gross profit over gross loss. With no losses it
// returns gross profit itself, which is effectively "unbounded but finite".
func (s *PerformanceStats) ProfitFactor() float64 {
	if s.GrossLoss == 0 {
		return s.GrossProfit
	}
	return s.GrossProfit / s.GrossLoss
}
