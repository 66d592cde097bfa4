package port

import (
	"context"
	"errors"

	"github.com/rl1809/cafe-order/internal/core/domain"
)

// Storage errors shared by every adapter.
var (
	ErrNotFound       = errors.New("not found")
	ErrOptimisticLock = errors.New("optimistic lock conflict")
)

type DatabaseRepository interface {
	// CreateOrder persists a new order
	CreateOrder(ctx context.Context, order domain.OrderRecord) error

	// GetOrder returns ErrNotFound when absent
	GetOrder(ctx context.Context, orderID string) (*domain.OrderRecord, error)

	ListOrdersByUser(ctx context.Context, userID string) ([]domain.OrderRecord, error)

	// ListOrdersByStatus returns orders in any of the given statuses, oldest first
	ListOrdersByStatus(ctx context.Context, statuses ...domain.OrderStatus) ([]domain.OrderRecord, error)

	// UpdateStatus moves an order from one status to another, failing with an
	// optimistic lock error if the stored status is no longer from
	UpdateStatus(ctx context.Context, orderID string, from, to domain.OrderStatus) error

	GetProducts(ctx context.Context, productIDs []int64) (map[int64]domain.Product, error)

	ListProducts(ctx context.Context) ([]domain.Product, error)
}
