package ports

import (
	"context"
	"time"

	"sniperswing/internal/domain"
)

// OrderRequest describes an order submitted to the execution gateway.
type OrderRequest struct {
	ClientOrderID string // caller-assigned idempotency tag
	Symbol        string
	Side          domain.OrderSide
	Quantity      float64
	Kind          domain.OrderKind
}

// OrderResponse represents the essential details returned after placing an order.
// A non-zero AvgPrice means the gateway reported a fill price; callers must
// not assume a synchronous fill otherwise.
type OrderResponse struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Side          domain.OrderSide
	AvgPrice      float64
	ExecutedQty   float64
	Status        string
	Timestamp     time.Time
}

// ExecutionClient defines the interface for the order-execution gateway.
// A failure aborts the state transition that requested it; the caller
// retries on the next cycle.
type ExecutionClient interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error)
}
