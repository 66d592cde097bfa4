package port

import (
	"context"
	"time"

	"github.com/rl1809/cafe-order/internal/core/domain"
)

type CacheRepository interface {
	// ClaimIdempotency binds key to orderID unless the key is already bound.
	// It returns the bound order id and whether this call claimed it.
	ClaimIdempotency(ctx context.Context, key, orderID string) (string, bool, error)

	// ReleaseIdempotency frees a key after a failed placement
	ReleaseIdempotency(ctx context.Context, key string) error

	// RedeemBeans atomically decreases a bean balance, returns false if insufficient
	RedeemBeans(ctx context.Context, userID string, beans int) (bool, error)

	// CreditBeans adds beans (earned on completion, or refunded on failure)
	CreditBeans(ctx context.Context, userID string, beans int) error

	BeanBalance(ctx context.Context, userID string) (int, error)

	// SetBeans overwrites a balance
	SetBeans(ctx context.Context, userID string, beans int) error
}

// SessionStore keeps cart snapshots so a session survives a shell restart.
// LoadCart returns ErrNotFound when no snapshot exists.
type SessionStore interface {
	SaveCart(ctx context.Context, sessionID string, items []domain.LineItem, ttl time.Duration) error
	LoadCart(ctx context.Context, sessionID string) ([]domain.LineItem, error)
	DeleteCart(ctx context.Context, sessionID string) error
}
