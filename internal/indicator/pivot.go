package indicator

import "fmt"

// PivotRange holds the central pivot range derived from the prior session.
// The three levels are recomputed once per session and stay fixed intraday.
type PivotRange struct {
	Bottom float64
	Pivot  float64
	Top    float64
}

// Width returns the distance between the top and bottom levels.
func (p PivotRange) Width() float64 {
	return p.Top - p.Bottom
}

// ComputePivotRange derives the range from the prior session's high, low and
// close. Top and bottom are swapped when the formula inverts them so Bottom
// is always the lower level.
func ComputePivotRange(high, low, close float64) (PivotRange, error) {
	if high < low {
		return PivotRange{}, fmt.Errorf("pivot range: high %.2f below low %.2f", high, low)
	}
	pivot := (high + low + close) / 3
	bottom := (high + low) / 2
	top := 2*pivot - bottom
	if bottom > top {
		bottom, top = top, bottom
	}
	return PivotRange{Bottom: bottom, Pivot: pivot, Top: top}, nil
}
