package ports

import (
	"context"
	"time"

	"sniperswing/internal/domain"
)

// MarketDataProvider defines the interface for fetching historical bars.
// Errors and gaps are treated by the core as "not ready", never as
// zero-valued data.
type MarketDataProvider interface {
	// GetBars retrieves up to count bars for the symbol at the given
	// interval, ordered by ascending timestamp.
	GetBars(ctx context.Context, symbol, interval string, count int) ([]*domain.Bar, error)

	// GetBarsRange retrieves bars between start and end, ordered ascending.
	GetBarsRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]*domain.Bar, error)

	// SessionHighLowClose returns the prior trading session's high, low and
	// close for the symbol, used to derive the pivot range.
	SessionHighLowClose(ctx context.Context, symbol string) (high, low, close float64, err error)

	// StreamBars subscribes to completed bars for the symbols and invokes
	// handler for each one. doneCh closes when the stream terminates;
	// sending on stopCh shuts it down.
	StreamBars(ctx context.Context, symbols []string, interval string, handler func(*domain.Bar), errHandler func(error)) (doneCh chan struct{}, stopCh chan struct{}, err error)
}
