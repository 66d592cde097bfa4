package port

import (
	"context"
	"errors"

	"github.com/rl1809/cafe-order/internal/core/domain"
)

// Errors returned by OrderClient implementations. Callers classify them
// with errors.Is.
var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrProductNotFound   = errors.New("product not found")
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrRejected          = errors.New("request rejected by order service")
	ErrUnavailable       = errors.New("order service unavailable")
	ErrMalformedResponse = errors.New("malformed order service response")
)

// OrderClient talks to the remote order service.
type OrderClient interface {
	// CreateOrder submits an order. idempotencyKey lets the service recognise
	// a retried submission.
	CreateOrder(ctx context.Context, token, idempotencyKey string, req domain.CreateOrderRequest) (*domain.OrderRecord, error)

	GetOrder(ctx context.Context, token, orderID string) (*domain.OrderRecord, error)

	ListOrders(ctx context.Context, token string) ([]domain.OrderRecord, error)

	GetProduct(ctx context.Context, productID string) (*domain.Product, error)

	ListProducts(ctx context.Context) ([]domain.Product, error)
}
