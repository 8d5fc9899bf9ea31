package indicator

import (
	"fmt"

	"sniperswing/internal/domain"
)

// RSISeries returns the Wilder RSI computed over the OHLC4 price of each bar.
// The result has len(bars)-period values, one per bar from index period
// onward, oldest first. Using the bar average rather than the close keeps a
// single long wick from flipping the oscillator hierarchy.
func RSISeries(bars []*domain.Bar, period int) ([]float64, error) {
	if period <= 1 {
		return nil, fmt.Errorf("RSI period must be greater than 1, got %d", period)
	}
	if len(bars) <= period {
		return nil, fmt.Errorf("%w: have %d bars, need %d", ErrNotReady, len(bars), period+1)
	}

	prices := make([]float64, len(bars))
	for i, b := range bars {
		prices[i] = b.OHLC4()
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	series := make([]float64, 0, len(prices)-period)
	series = append(series, rsiValue(avgGain, avgLoss))

	for i := period + 1; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		series = append(series, rsiValue(avgGain, avgLoss))
	}
	return series, nil
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}
