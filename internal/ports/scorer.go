package ports

import (
	"context"

	"sniperswing/internal/domain"
)

// ScoreResult is the recommendation returned by an external predictive scorer.
type ScoreResult struct {
	Label      domain.Direction // recommended direction
	Confidence float64          // in [0, 1]
}

// Scorer is the optional external predictive model. Absence (a nil Scorer or
// ErrScorerUnavailable) degrades classification to conditions-only.
type Scorer interface {
	// Score evaluates the feature vector for a symbol and returns a
	// recommendation. Returns ErrScorerUnavailable when no model is loaded.
	Score(ctx context.Context, symbol string, features []float64) (*ScoreResult, error)
}
