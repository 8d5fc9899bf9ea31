// Package sqlite persists positions, the trade journal and performance
// statistics in a single SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"sniperswing/internal/domain"
	"sniperswing/internal/ports"
)

// Repository implements ports.PositionRepository, ports.TradeRepository and
// ports.StatsRepository on one database handle.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// NewRepository opens (or creates) the database at dbPath and ensures the
// schema exists.
func NewRepository(ctx context.Context, dbPath string, logger ports.Logger) (*Repository, error) {
	if logger == nil {
		return nil, errors.New("logger is required for sqlite repository")
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database at %s: %v", ports.ErrDBConnection, dbPath, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to ping database at %s: %v", ports.ErrDBConnection, dbPath, err)
	}
	// WAL keeps readers unblocked while the evaluation cycle writes.
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		logger.Warn(ctx, "Failed to enable WAL mode", map[string]interface{}{"error": err.Error()})
	}

	repo := &Repository{db: db, logger: logger}
	if err := repo.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info(ctx, "SQLite repository initialized", map[string]interface{}{"path": dbPath})
	return repo, nil
}

// Close releases the database handle.
func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS positions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		direction TEXT NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL DEFAULT 0,
		quantity REAL NOT NULL,
		remaining_quantity REAL NOT NULL,
		stop_level REAL NOT NULL,
		target_level REAL NOT NULL,
		entry_time TIMESTAMP NOT NULL,
		exit_time TIMESTAMP,
		expiry_date TIMESTAMP,
		status TEXT NOT NULL,
		close_reason TEXT,
		realized_pnl REAL NOT NULL DEFAULT 0,
		rollover_count INTEGER NOT NULL DEFAULT 0,
		exit_attempts INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_positions_symbol_status ON positions(symbol, status);

	CREATE TABLE IF NOT EXISTS trade_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		position_id INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		direction TEXT NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		quantity REAL NOT NULL,
		pnl REAL NOT NULL,
		entry_time TIMESTAMP NOT NULL,
		exit_time TIMESTAMP NOT NULL,
		close_reason TEXT NOT NULL,
		partial INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY(position_id) REFERENCES positions(id)
	);
	CREATE INDEX IF NOT EXISTS idx_trade_history_symbol ON trade_history(symbol);

	CREATE TABLE IF NOT EXISTS performance_stats (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		total_trades INTEGER NOT NULL,
		wins INTEGER NOT NULL,
		losses INTEGER NOT NULL,
		consecutive_wins INTEGER NOT NULL,
		consecutive_losses INTEGER NOT NULL,
		gross_profit REAL NOT NULL,
		gross_loss REAL NOT NULL,
		scaling_factor REAL NOT NULL
	);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%w: failed to initialize schema: %v", ports.ErrQueryFailed, err)
	}
	return nil
}

// --- PositionRepository ---

// Create saves a new position and returns its assigned ID.
func (r *Repository) Create(ctx context.Context, pos *domain.Position) (int64, error) {
	query := `INSERT INTO positions (
		symbol, direction, entry_price, exit_price, quantity, remaining_quantity,
		stop_level, target_level, entry_time, exit_time, expiry_date, status,
		close_reason, realized_pnl, rollover_count, exit_attempts
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := r.db.ExecContext(ctx, query,
		pos.Symbol, string(pos.Direction), pos.EntryPrice, pos.ExitPrice,
		pos.Quantity, pos.RemainingQuantity, pos.StopLevel, pos.TargetLevel,
		pos.EntryTime, nullableTime(pos.ExitTime), nullableTime(pos.ExpiryDate),
		string(pos.Status), string(pos.CloseReason), pos.RealizedPNL,
		pos.RolloverCount, pos.ExitAttempts,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to insert position: %v", ports.ErrQueryFailed, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: failed to get inserted position id: %v", ports.ErrQueryFailed, err)
	}
	return id, nil
}

// Update overwrites the mutable fields of an existing position.
func (r *Repository) Update(ctx context.Context, pos *domain.Position) error {
	query := `UPDATE positions SET
		exit_price = ?, remaining_quantity = ?, stop_level = ?, target_level = ?,
		exit_time = ?, status = ?, close_reason = ?, realized_pnl = ?,
		rollover_count = ?, exit_attempts = ?
	WHERE id = ?`

	res, err := r.db.ExecContext(ctx, query,
		pos.ExitPrice, pos.RemainingQuantity, pos.StopLevel, pos.TargetLevel,
		nullableTime(pos.ExitTime), string(pos.Status), string(pos.CloseReason),
		pos.RealizedPNL, pos.RolloverCount, pos.ExitAttempts, pos.ID,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to update position %d: %v", ports.ErrUpdateFailed, pos.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: failed to check update of position %d: %v", ports.ErrUpdateFailed, pos.ID, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: position %d", ports.ErrNotFound, pos.ID)
	}
	return nil
}

const positionColumns = `id, symbol, direction, entry_price, exit_price, quantity,
	remaining_quantity, stop_level, target_level, entry_time, exit_time,
	expiry_date, status, COALESCE(close_reason, ''), realized_pnl,
	rollover_count, exit_attempts`

// FindOpenBySymbol returns the position still carrying exposure for symbol,
// or nil, nil when flat.
func (r *Repository) FindOpenBySymbol(ctx context.Context, symbol string) (*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions
		WHERE symbol = ? AND status IN (?, ?)
		ORDER BY entry_time DESC LIMIT 1`
	pos, err := scanPosition(r.db.QueryRowContext(ctx, query, symbol,
		string(domain.StatusOpen), string(domain.StatusPartiallyBooked)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query open position for %s: %v", ports.ErrQueryFailed, symbol, err)
	}
	return pos, nil
}

// FindAllOpen returns every position still carrying exposure.
func (r *Repository) FindAllOpen(ctx context.Context) ([]*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions
		WHERE status IN (?, ?) ORDER BY entry_time ASC`
	rows, err := r.db.QueryContext(ctx, query,
		string(domain.StatusOpen), string(domain.StatusPartiallyBooked))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query open positions: %v", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	var out []*domain.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to scan position row: %v", ports.ErrQueryFailed, err)
		}
		out = append(out, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed iterating open positions: %v", ports.ErrQueryFailed, err)
	}
	return out, nil
}

// FindByID returns the position with the given id, or nil, nil when absent.
func (r *Repository) FindByID(ctx context.Context, id int64) (*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE id = ?`
	pos, err := scanPosition(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query position %d: %v", ports.ErrQueryFailed, id, err)
	}
	return pos, nil
}

// --- TradeRepository ---

// CreateTrade journals one realized exit and returns its assigned ID.
func (r *Repository) CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	query := `INSERT INTO trade_history (
		position_id, symbol, direction, entry_price, exit_price, quantity, pnl,
		entry_time, exit_time, close_reason, partial
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := r.db.ExecContext(ctx, query,
		trade.PositionID, trade.Symbol, string(trade.Direction),
		trade.EntryPrice, trade.ExitPrice, trade.Quantity, trade.PNL,
		trade.EntryTime, trade.ExitTime, string(trade.CloseReason),
		boolToInt(trade.Partial),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to insert trade: %v", ports.ErrQueryFailed, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: failed to get inserted trade id: %v", ports.ErrQueryFailed, err)
	}
	return id, nil
}

// FindBySymbol returns the most recent trades for symbol, newest first.
func (r *Repository) FindBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error) {
	query := `SELECT id, position_id, symbol, direction, entry_price, exit_price,
		quantity, pnl, entry_time, exit_time, close_reason, partial
	FROM trade_history WHERE symbol = ? ORDER BY exit_time DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query trades for %s: %v", ports.ErrQueryFailed, symbol, err)
	}
	defer rows.Close()

	var out []*domain.Trade
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to scan trade row: %v", ports.ErrQueryFailed, err)
		}
		out = append(out, trade)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed iterating trades: %v", ports.ErrQueryFailed, err)
	}
	return out, nil
}

// CountEntriesSince counts positions entered at or after since, across
// symbols. The boundary is normalized to UTC so it compares cleanly against
// the stored entry times.
func (r *Repository) CountEntriesSince(ctx context.Context, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM positions WHERE entry_time >= ?`
	var count int
	if err := r.db.QueryRowContext(ctx, query, since.UTC()).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: failed to count entries since %s: %v", ports.ErrQueryFailed, since.Format(time.RFC3339), err)
	}
	return count, nil
}

// --- StatsRepository ---

// LoadStats returns the persisted stats, or nil, nil when none exist yet.
func (r *Repository) LoadStats(ctx context.Context) (*domain.PerformanceStats, error) {
	query := `SELECT total_trades, wins, losses, consecutive_wins,
		consecutive_losses, gross_profit, gross_loss, scaling_factor
	FROM performance_stats WHERE id = 1`

	var s domain.PerformanceStats
	err := r.db.QueryRowContext(ctx, query).Scan(
		&s.TotalTrades, &s.Wins, &s.Losses, &s.ConsecutiveWins,
		&s.ConsecutiveLosses, &s.GrossProfit, &s.GrossLoss, &s.ScalingFactor,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load performance stats: %v", ports.ErrQueryFailed, err)
	}
	return &s, nil
}

// SaveStats overwrites the single stats row.
func (r *Repository) SaveStats(ctx context.Context, stats *domain.PerformanceStats) error {
	query := `INSERT INTO performance_stats (
		id, total_trades, wins, losses, consecutive_wins, consecutive_losses,
		gross_profit, gross_loss, scaling_factor
	) VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		total_trades = excluded.total_trades,
		wins = excluded.wins,
		losses = excluded.losses,
		consecutive_wins = excluded.consecutive_wins,
		consecutive_losses = excluded.consecutive_losses,
		gross_profit = excluded.gross_profit,
		gross_loss = excluded.gross_loss,
		scaling_factor = excluded.scaling_factor`

	_, err := r.db.ExecContext(ctx, query,
		stats.TotalTrades, stats.Wins, stats.Losses, stats.ConsecutiveWins,
		stats.ConsecutiveLosses, stats.GrossProfit, stats.GrossLoss,
		stats.ScalingFactor,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to save performance stats: %v", ports.ErrUpdateFailed, err)
	}
	return nil
}

// --- scanning helpers ---

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(s scanner) (*domain.Position, error) {
	var (
		pos         domain.Position
		direction   string
		status      string
		closeReason string
		exitTime    sql.NullTime
		expiryDate  sql.NullTime
	)
	err := s.Scan(
		&pos.ID, &pos.Symbol, &direction, &pos.EntryPrice, &pos.ExitPrice,
		&pos.Quantity, &pos.RemainingQuantity, &pos.StopLevel, &pos.TargetLevel,
		&pos.EntryTime, &exitTime, &expiryDate, &status, &closeReason,
		&pos.RealizedPNL, &pos.RolloverCount, &pos.ExitAttempts,
	)
	if err != nil {
		return nil, err
	}
	pos.Direction = domain.Direction(direction)
	pos.Status = domain.PositionStatus(status)
	pos.CloseReason = domain.CloseReason(closeReason)
	if exitTime.Valid {
		pos.ExitTime = exitTime.Time
	}
	if expiryDate.Valid {
		pos.ExpiryDate = expiryDate.Time
	}
	return &pos, nil
}

func scanTrade(s scanner) (*domain.Trade, error) {
	var (
		trade       domain.Trade
		direction   string
		closeReason string
		partial     int
	)
	err := s.Scan(
		&trade.ID, &trade.PositionID, &trade.Symbol, &direction,
		&trade.EntryPrice, &trade.ExitPrice, &trade.Quantity, &trade.PNL,
		&trade.EntryTime, &trade.ExitTime, &closeReason, &partial,
	)
	if err != nil {
		return nil, err
	}
	trade.Direction = domain.Direction(direction)
	trade.CloseReason = domain.CloseReason(closeReason)
	trade.Partial = partial != 0
	return &trade, nil
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
