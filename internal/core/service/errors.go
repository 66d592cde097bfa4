package service

import (
	"errors"

	"github.com/rl1809/cafe-order/internal/port"
)

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrEmptyCart        = errors.New("cart is empty")
	ErrTableRequired    = errors.New("dine-in orders need a table")
	ErrInvalidProduct   = errors.New("invalid product id")
	ErrTrackerStarted   = errors.New("tracker already started")
	ErrTrackingExpired  = errors.New("order tracking expired")
	ErrSessionNotFound  = errors.New("session not found")
	ErrInvalidQuantity  = errors.New("quantity must be positive")

	ErrOrderNotFound     = errors.New("order not found")
	ErrDuplicateRequest  = errors.New("duplicate request")
	ErrInsufficientBeans = errors.New("insufficient beans")
	ErrStatusConflict    = errors.New("order status changed concurrently")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrForbidden         = errors.New("forbidden")
)

// IsDefinitive reports whether err from an order-service call will not go
// away by retrying.
func IsDefinitive(err error) bool {
	return errors.Is(err, port.ErrOrderNotFound) ||
		errors.Is(err, port.ErrUnauthenticated) ||
		errors.Is(err, port.ErrRejected)
}
