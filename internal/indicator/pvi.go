package indicator

import "sniperswing/internal/domain"

// pviSeed is the conventional starting value of the positive volume index.
const pviSeed = 1000.0

// PVISeries returns the positive volume index per bar, oldest first. The
// index starts at the seed and scales by the bar's return only when volume
// exceeded the previous bar's volume; on flat or falling volume the value
// carries forward unchanged. A rising index means price gains are happening
// on expanding participation.
func PVISeries(bars []*domain.Bar) []float64 {
	series := make([]float64, len(bars))
	if len(bars) == 0 {
		return series
	}
	series[0] = pviSeed
	for i := 1; i < len(bars); i++ {
		prev := series[i-1]
		if bars[i].Volume > bars[i-1].Volume && bars[i-1].Close != 0 {
			series[i] = prev * (1 + (bars[i].Close-bars[i-1].Close)/bars[i-1].Close)
		} else {
			series[i] = prev
		}
	}
	return series
}
