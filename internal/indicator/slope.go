package indicator

import "fmt"

// RegressionSlope fits an ordinary least-squares line through the final
// period values, with x as the bar index, and returns its slope. Highs are
// used upstream so the trend measure tracks where buyers push hardest.
func RegressionSlope(values []float64, period int) (float64, error) {
	if period <= 1 {
		return 0, fmt.Errorf("slope period must be greater than 1, got %d", period)
	}
	if len(values) < period {
		return 0, fmt.Errorf("%w: have %d values, need %d", ErrNotReady, len(values), period)
	}

	window := values[len(values)-period:]
	n := float64(period)
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range window {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, nil
	}
	return (n*sumXY - sumX*sumY) / denom, nil
}
