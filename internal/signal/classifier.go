package signal

import (
	"fmt"
	"strings"

	"sniperswing/internal/domain"
	"sniperswing/internal/indicator"
	"sniperswing/internal/ports"
)

// Classifier grades an indicator snapshot into a tiered entry signal. It is
// pure and deterministic: identical snapshots, prior snapshots and scorer
// results always produce the same signal.
type Classifier struct {
	cfg Config
}

// Config holds the grading thresholds.
type Config struct {
	// StrongScore admits a five-condition setup or a four-condition setup
	// carrying a full external boost.
	StrongScore float64
	// ValidScore admits a four-condition setup or a boosted three-condition one.
	ValidScore float64
	// WeakScore is the floor for externally confirmed three-condition setups.
	WeakScore float64
	// WeakConfidence is the minimum scorer confidence that can rescue a
	// three-condition setup into a tradeable weak signal.
	WeakConfidence float64
	// FullBoostConfidence and HalfBoostConfidence bound the score bonus a
	// direction-matching scorer result adds to the raw condition count.
	FullBoostConfidence float64
	HalfBoostConfidence float64
}

// DefaultConfig returns the deployment grading thresholds.
func DefaultConfig() Config {
	return Config{
		StrongScore:         5.5,
		ValidScore:          4.5,
		WeakScore:           3.0,
		WeakConfidence:      0.75,
		FullBoostConfidence: 0.70,
		HalfBoostConfidence: 0.50,
	}
}

// NewClassifier creates a classifier with validated thresholds.
func NewClassifier(cfg Config) (*Classifier, error) {
	if cfg.WeakScore <= 0 || cfg.ValidScore <= cfg.WeakScore || cfg.StrongScore <= cfg.ValidScore {
		return nil, fmt.Errorf("classifier config: scores must be positive and strictly increasing")
	}
	if cfg.WeakConfidence <= 0 || cfg.WeakConfidence > 1 {
		return nil, fmt.Errorf("classifier config: weak confidence must be in (0, 1]")
	}
	if cfg.HalfBoostConfidence <= 0 || cfg.FullBoostConfidence <= cfg.HalfBoostConfidence || cfg.FullBoostConfidence > 1 {
		return nil, fmt.Errorf("classifier config: boost confidences must satisfy 0 < half < full <= 1")
	}
	return &Classifier{cfg: cfg}, nil
}

// Classify grades the latest snapshot against the prior cycle's snapshot.
// prior supplies the reference values for the rising-slope, rising-momentum
// and pivot-crossing conditions; when it is nil those three conditions fail
// for both directions. score may be nil when the external scorer is
// unavailable, in which case no boost applies and the weak tier is
// unreachable. A nil snapshot classifies as NONE rather than panicking, so
// an upstream data gap can never take down the evaluation loop.
func (c *Classifier) Classify(snap, prior *indicator.Snapshot, score *ports.ScoreResult) *domain.Signal {
	if snap == nil {
		return &domain.Signal{
			Tier:          domain.TierNone,
			Justification: "insufficient data",
		}
	}
	long := c.evaluate(snap, prior, domain.Long)
	short := c.evaluate(snap, prior, domain.Short)

	best := long
	if short.ConditionsMet > long.ConditionsMet {
		best = short
	} else if short.ConditionsMet == long.ConditionsMet && short.ConditionsMet > 0 {
		// A symmetric read is noise, not a setup.
		return noSignal(snap)
	}
	if best.ConditionsMet == 0 {
		return noSignal(snap)
	}

	boost := c.boost(best.Direction, score)
	best.ExternalBoost = boost
	best.EffectiveScore = float64(best.ConditionsMet) + boost

	switch {
	case best.ConditionsMet == 5 || best.EffectiveScore >= c.cfg.StrongScore:
		best.Tier = domain.TierStrong
	case best.ConditionsMet >= 4 || best.EffectiveScore >= c.cfg.ValidScore:
		best.Tier = domain.TierValid
	case best.EffectiveScore >= c.cfg.WeakScore &&
		score != nil && score.Label == best.Direction && score.Confidence >= c.cfg.WeakConfidence:
		best.Tier = domain.TierWeak
	default:
		best.Tier = domain.TierNone
	}

	best.Justification = justify(best, score)
	return best
}

func (c *Classifier) evaluate(snap, prior *indicator.Snapshot, dir domain.Direction) *domain.Signal {
	sig := &domain.Signal{
		Symbol:    snap.Symbol,
		Timestamp: snap.Timestamp,
		Direction: dir,
	}

	if dir == domain.Long {
		sig.ConditionFlags[domain.CondMAHierarchy] = snap.MAHierarchyBullish()
		sig.ConditionFlags[domain.CondRSIHierarchy] = snap.RSIHierarchyBullish()
		if prior != nil {
			sig.ConditionFlags[domain.CondTrendSlope] = snap.Slope > 0 && snap.Slope > prior.Slope
			sig.ConditionFlags[domain.CondVolumeMomentum] = snap.PVI > prior.PVI
			if snap.PivotValid {
				// Two crossing events qualify: a bounce off the bottom
				// level or a breakout through the top. Price already
				// sitting above a level is not a cross.
				bounce := prior.Close <= snap.Pivot.Bottom && snap.Close > snap.Pivot.Bottom
				breakout := prior.Close <= snap.Pivot.Top && snap.Close > snap.Pivot.Top
				sig.ConditionFlags[domain.CondPivotRange] = bounce || breakout
			}
		}
	} else {
		sig.ConditionFlags[domain.CondMAHierarchy] = snap.MAHierarchyBearish()
		sig.ConditionFlags[domain.CondRSIHierarchy] = snap.RSIHierarchyBearish()
		if prior != nil {
			sig.ConditionFlags[domain.CondTrendSlope] = snap.Slope < 0 && snap.Slope < prior.Slope
			sig.ConditionFlags[domain.CondVolumeMomentum] = snap.PVI < prior.PVI
			if snap.PivotValid {
				rejection := prior.Close >= snap.Pivot.Top && snap.Close < snap.Pivot.Top
				breakdown := prior.Close >= snap.Pivot.Bottom && snap.Close < snap.Pivot.Bottom
				sig.ConditionFlags[domain.CondPivotRange] = rejection || breakdown
			}
		}
	}

	for _, met := range sig.ConditionFlags {
		if met {
			sig.ConditionsMet++
		}
	}
	return sig
}

// boost converts a direction-matching scorer result into a score bonus.
// Opposing or low-confidence results contribute nothing.
func (c *Classifier) boost(dir domain.Direction, score *ports.ScoreResult) float64 {
	if score == nil || score.Label != dir {
		return 0
	}
	switch {
	case score.Confidence >= c.cfg.FullBoostConfidence:
		return 1.0
	case score.Confidence >= c.cfg.HalfBoostConfidence:
		return 0.5
	default:
		return 0
	}
}

func noSignal(snap *indicator.Snapshot) *domain.Signal {
	return &domain.Signal{
		Symbol:        snap.Symbol,
		Timestamp:     snap.Timestamp,
		Tier:          domain.TierNone,
		Justification: "no directional alignment",
	}
}

func justify(sig *domain.Signal, score *ports.ScoreResult) string {
	var met, unmet []string
	for c := domain.Condition(0); c < domain.NumConditions; c++ {
		if sig.ConditionFlags[c] {
			met = append(met, c.String())
		} else {
			unmet = append(unmet, c.String())
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %d/5 [%s]", sig.Direction, sig.ConditionsMet, strings.Join(met, ", "))
	if len(unmet) > 0 {
		fmt.Fprintf(&b, " missing [%s]", strings.Join(unmet, ", "))
	}
	if score != nil {
		fmt.Fprintf(&b, " scorer %s %.2f boost %.1f", score.Label, score.Confidence, sig.ExternalBoost)
	}
	fmt.Fprintf(&b, " score %.1f tier %s", sig.EffectiveScore, sig.Tier)
	return b.String()
}
