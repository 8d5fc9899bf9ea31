package ports

import "errors"

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Market Data Errors
	ErrInsufficientData  = errors.New("not enough bars for evaluation")
	ErrDataUnavailable   = errors.New("market data source is unavailable")
	ErrConnectionFailed  = errors.New("failed to connect to the data source")
	ErrRateLimited       = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("broker authentication failed (check API keys)")

	// Execution Errors
	ErrOrderPlacementFailed = errors.New("failed to place order")
	ErrOrderRejected        = errors.New("order rejected by the gateway")
	ErrInsufficientFunds    = errors.New("insufficient funds for operation")

	// Scorer Errors
	ErrScorerUnavailable = errors.New("external scorer is unavailable")

	// Database Errors
	ErrDuplicateEntry = errors.New("database record already exists")
	ErrDBConnection   = errors.New("database connection error")
	ErrQueryFailed    = errors.New("database query failed")
	ErrUpdateFailed   = errors.New("database update failed")
)
