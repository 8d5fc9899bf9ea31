package domain

import "time"

// SignalTier is the graded classification of a signal used to gate entry.
type SignalTier string

const (
	TierNone   SignalTier = "NONE"
	TierWeak   SignalTier = "WEAK"
	TierValid  SignalTier = "VALID"
	TierStrong SignalTier = "STRONG"
)

// Tradeable reports whether a tier permits opening a position.
func (t SignalTier) Tradeable() bool {
	return t == TierWeak || t == TierValid || t == TierStrong
}

// Condition indexes into Signal.ConditionFlags. The order is fixed: each
// condition family contributes at most one unit to ConditionsMet.
type Condition int

const (
	CondMAHierarchy Condition = iota
	CondRSIHierarchy
	CondTrendSlope
	CondVolumeMomentum
	CondPivotRange
	NumConditions
)

// String returns a short name for the condition family.
func (c Condition) String() string {
	switch c {
	case CondMAHierarchy:
		return "ma_hierarchy"
	case CondRSIHierarchy:
		return "rsi_hierarchy"
	case CondTrendSlope:
		return "trend_slope"
	case CondVolumeMomentum:
		return "volume_momentum"
	case CondPivotRange:
		return "pivot_range"
	default:
		return "unknown"
	}
}

// Signal is the immutable outcome of classifying one indicator snapshot.
type Signal struct {
	Symbol         string
	Timestamp      time.Time
	Direction      Direction
	ConditionFlags [NumConditions]bool
	ConditionsMet  int     // count of set flags, always in [0, NumConditions]
	ExternalBoost  float64 // 0, 0.5 or 1.0 contributed by the external scorer
	EffectiveScore float64 // ConditionsMet + ExternalBoost
	Tier           SignalTier
	Justification  string
}
