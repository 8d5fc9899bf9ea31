package ports

import (
	"context"
	"time"

	"sniperswing/internal/domain"
)

// PositionRepository defines the interface for storing and retrieving positions.
type PositionRepository interface {
	// Create saves a new position and returns its assigned ID.
	Create(ctx context.Context, pos *domain.Position) (int64, error)
	// Update modifies an existing position.
	Update(ctx context.Context, pos *domain.Position) error
	// FindOpenBySymbol retrieves the currently open position for a given symbol, if any.
	// Returns nil, nil if no open position is found.
	FindOpenBySymbol(ctx context.Context, symbol string) (*domain.Position, error)
	// FindAllOpen retrieves every position that still carries exposure.
	FindAllOpen(ctx context.Context) ([]*domain.Position, error)
	// FindByID retrieves a position by its unique ID. Returns nil, nil if not found.
	FindByID(ctx context.Context, id int64) (*domain.Position, error)
}

// TradeRepository defines the interface for storing and retrieving realized trades.
type TradeRepository interface {
	// CreateTrade saves a new trade record and returns its assigned ID.
	CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error)
	// FindBySymbol retrieves the most recent trades for a given symbol, up to a limit.
	FindBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error)
	// CountEntriesSince counts entries recorded at or after since across all
	// symbols. Callers pass the session-day boundary so the restored count
	// uses the same day definition as the live counter.
	CountEntriesSince(ctx context.Context, since time.Time) (int, error)
}

// StatsRepository persists the process-wide performance statistics so a
// restart resumes with the exact counters of the last successful persist.
type StatsRepository interface {
	// LoadStats returns the persisted stats, or nil, nil when none exist yet.
	LoadStats(ctx context.Context) (*domain.PerformanceStats, error)
	// SaveStats overwrites the persisted stats.
	SaveStats(ctx context.Context, stats *domain.PerformanceStats) error
}
