package indicator

import (
	"errors"
	"fmt"
	"time"

	"sniperswing/internal/domain"
)

// ErrNotReady is returned when the bar window is shorter than the largest
// configured indicator window. Callers must skip evaluation for the symbol
// this cycle rather than treat missing indicators as zero.
var ErrNotReady = errors.New("indicator engine: not enough bars")

// Config fixes the window length of every indicator. Windows are configured
// once per deployment and never change between cycles.
type Config struct {
	FastMAPeriod    int   // EMA on close, e.g. 9
	MidMAPeriod     int   // SMA on close, e.g. 20
	SlowMAPeriod    int   // SMA on close, e.g. 50
	AnchorMAPeriod  int   // SMA on high, e.g. 200
	RSIPeriod       int   // oscillator on OHLC4, e.g. 21
	RSISmoothing    []int // SMA windows over the RSI series, fast to slow, e.g. 9,14,26
	SlopePeriod     int   // regression window over highs, e.g. 21
	ExitMAPeriod    int   // EMA used by the reversal-exit cross, e.g. 20
	VolumeAvgPeriod int   // trailing window for the volume ratio, e.g. 20
}

// DefaultConfig returns the deployment defaults.
func DefaultConfig() Config {
	return Config{
		FastMAPeriod:    9,
		MidMAPeriod:     20,
		SlowMAPeriod:    50,
		AnchorMAPeriod:  200,
		RSIPeriod:       21,
		RSISmoothing:    []int{9, 14, 26},
		SlopePeriod:     21,
		ExitMAPeriod:    20,
		VolumeAvgPeriod: 20,
	}
}

// Validate checks that every window is usable.
func (c Config) Validate() error {
	if c.FastMAPeriod <= 0 || c.MidMAPeriod <= 0 || c.SlowMAPeriod <= 0 || c.AnchorMAPeriod <= 0 {
		return fmt.Errorf("moving average periods must be positive")
	}
	if !(c.FastMAPeriod < c.MidMAPeriod && c.MidMAPeriod < c.SlowMAPeriod && c.SlowMAPeriod < c.AnchorMAPeriod) {
		return fmt.Errorf("moving average periods must be strictly increasing")
	}
	if c.RSIPeriod <= 1 {
		return fmt.Errorf("RSI period must be greater than 1")
	}
	if len(c.RSISmoothing) < 2 {
		return fmt.Errorf("at least two RSI smoothing windows are required")
	}
	for i, p := range c.RSISmoothing {
		if p <= 0 {
			return fmt.Errorf("RSI smoothing window must be positive")
		}
		if i > 0 && p <= c.RSISmoothing[i-1] {
			return fmt.Errorf("RSI smoothing windows must be strictly increasing")
		}
	}
	if c.SlopePeriod <= 1 {
		return fmt.Errorf("slope period must be greater than 1")
	}
	if c.ExitMAPeriod <= 0 || c.VolumeAvgPeriod <= 0 {
		return fmt.Errorf("exit MA and volume average periods must be positive")
	}
	return nil
}

// Snapshot is the per-symbol, per-timestamp indicator record. It is derived
// and immutable once computed for a given timestamp.
type Snapshot struct {
	Symbol    string
	Timestamp time.Time

	Close  float64
	High   float64
	Volume float64

	// Moving averages, short to long: FastMA (EMA), MidMA, SlowMA, AnchorMA.
	MovingAverages []float64

	RSI         float64   // oscillator on the OHLC4 source
	RSISmoothed []float64 // SMA of the RSI series, fast to slow

	Slope float64 // regression slope over trailing highs

	PVI float64 // volume-weighted momentum accumulator

	Pivot      PivotRange
	PivotValid bool

	ExitMA      float64 // EMA used by the reversal-exit cross
	VolumeRatio float64 // latest volume over the trailing average
}

// MAHierarchyBullish reports price > fast > ... > anchor, strictly.
// Equal adjacent values break the hierarchy.
func (s *Snapshot) MAHierarchyBullish() bool {
	return strictlyDescending(append([]float64{s.Close}, s.MovingAverages...))
}

// MAHierarchyBearish reports the strict reverse ordering.
func (s *Snapshot) MAHierarchyBearish() bool {
	return strictlyAscending(append([]float64{s.Close}, s.MovingAverages...))
}

// RSIHierarchyBullish reports RSI > fastest smoothing > ... > slowest, strictly.
func (s *Snapshot) RSIHierarchyBullish() bool {
	return strictlyDescending(append([]float64{s.RSI}, s.RSISmoothed...))
}

// RSIHierarchyBearish reports the strict reverse ordering.
func (s *Snapshot) RSIHierarchyBearish() bool {
	return strictlyAscending(append([]float64{s.RSI}, s.RSISmoothed...))
}

func strictlyDescending(vals []float64) bool {
	for i := 1; i < len(vals); i++ {
		if vals[i-1] <= vals[i] {
			return false
		}
	}
	return true
}

func strictlyAscending(vals []float64) bool {
	for i := 1; i < len(vals); i++ {
		if vals[i-1] >= vals[i] {
			return false
		}
	}
	return true
}

// Engine turns an ordered bar window into an indicator snapshot. It is pure:
// no side effects, deterministic given identical inputs.
type Engine struct {
	cfg Config
}

// NewEngine creates an engine with validated configuration.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("indicator config: %w", err)
	}
	return &Engine{cfg: cfg}, nil
}

// RequiredBars returns the minimum window length for a single snapshot.
func (e *Engine) RequiredBars() int {
	required := e.cfg.AnchorMAPeriod
	// The RSI smoothing chain consumes RSIPeriod bars before the first RSI
	// value plus the slowest smoothing window of RSI values.
	slowest := e.cfg.RSISmoothing[len(e.cfg.RSISmoothing)-1]
	if n := e.cfg.RSIPeriod + slowest + 1; n > required {
		required = n
	}
	if e.cfg.SlopePeriod+1 > required {
		required = e.cfg.SlopePeriod + 1
	}
	if e.cfg.VolumeAvgPeriod+1 > required {
		required = e.cfg.VolumeAvgPeriod + 1
	}
	return required
}

// Compute builds the snapshot for the latest bar of the window. pivot may be
// the zero PivotRange when the prior session's levels are unknown; the pivot
// condition is then reported unavailable rather than false or zero.
func (e *Engine) Compute(bars []*domain.Bar, pivot PivotRange) (*Snapshot, error) {
	if len(bars) < e.RequiredBars() {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrNotReady, len(bars), e.RequiredBars())
	}

	last := bars[len(bars)-1]

	closes := make([]float64, len(bars))
	highs := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
		highs[i] = b.High
	}

	fast, err := EMA(closes, e.cfg.FastMAPeriod)
	if err != nil {
		return nil, err
	}
	mid, err := SMA(closes, e.cfg.MidMAPeriod)
	if err != nil {
		return nil, err
	}
	slow, err := SMA(closes, e.cfg.SlowMAPeriod)
	if err != nil {
		return nil, err
	}
	anchor, err := SMA(highs, e.cfg.AnchorMAPeriod)
	if err != nil {
		return nil, err
	}

	rsiSeries, err := RSISeries(bars, e.cfg.RSIPeriod)
	if err != nil {
		return nil, err
	}
	rsi := rsiSeries[len(rsiSeries)-1]
	smoothed := make([]float64, 0, len(e.cfg.RSISmoothing))
	for _, p := range e.cfg.RSISmoothing {
		v, err := SMA(rsiSeries, p)
		if err != nil {
			return nil, err
		}
		smoothed = append(smoothed, v)
	}

	slope, err := RegressionSlope(highs, e.cfg.SlopePeriod)
	if err != nil {
		return nil, err
	}

	pvi := PVISeries(bars)

	exitMA, err := EMA(closes, e.cfg.ExitMAPeriod)
	if err != nil {
		return nil, err
	}

	volRatio := volumeRatio(bars, e.cfg.VolumeAvgPeriod)

	return &Snapshot{
		Symbol:         last.Symbol,
		Timestamp:      last.Timestamp,
		Close:          last.Close,
		High:           last.High,
		Volume:         last.Volume,
		MovingAverages: []float64{fast, mid, slow, anchor},
		RSI:            rsi,
		RSISmoothed:    smoothed,
		Slope:          slope,
		PVI:            pvi[len(pvi)-1],
		Pivot:          pivot,
		PivotValid:     pivot.Pivot != 0,
		ExitMA:         exitMA,
		VolumeRatio:    volRatio,
	}, nil
}

// volumeRatio returns the latest bar's volume relative to the trailing
// average of the previous period bars. Zero average yields ratio 1 so a dead
// feed never looks like a collapse.
func volumeRatio(bars []*domain.Bar, period int) float64 {
	n := len(bars)
	sum := 0.0
	for i := n - 1 - period; i < n-1; i++ {
		sum += bars[i].Volume
	}
	avg := sum / float64(period)
	if avg <= 0 {
		return 1
	}
	return bars[n-1].Volume / avg
}
