package service

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/rl1809/cafe-order/internal/core/domain"
	"github.com/rl1809/cafe-order/internal/metrics"
	"github.com/rl1809/cafe-order/internal/port"
)

type CheckoutOptions struct {
	// OrderType and TableID fall back to the session's dining choice when unset.
	OrderType     domain.OrderType
	TableID       *int64
	BeansToRedeem int
}

type CheckoutService struct {
	client  port.OrderClient
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewCheckoutService(client port.OrderClient, logger *zap.Logger, m *metrics.Metrics) *CheckoutService {
	return &CheckoutService{client: client, logger: logger, metrics: m}
}

// Submit turns the session's cart into an order. The submitted lines leave
// the cart only once the order service has accepted the order; lines added
// while the request was in flight stay for the next order. On any failure
// the cart is left as it was so the shopper can retry.
func (s *CheckoutService) Submit(ctx context.Context, sess *Session, opts CheckoutOptions) (*domain.OrderRecord, error) {
	token := sess.Token()
	if token == "" {
		return nil, ErrNotAuthenticated
	}

	items := sess.Ledger.Items()
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}

	if opts.OrderType == "" {
		opts.OrderType, opts.TableID = sess.Dining()
	}
	req, err := BuildOrderRequest(items, opts)
	if err != nil {
		return nil, err
	}

	key := sess.CheckoutKey()
	rec, err := s.client.CreateOrder(ctx, token, key, req)
	if err != nil {
		s.metrics.ObserveOrder("failed")
		s.logger.Warn("order submission failed",
			zap.String("session_id", sess.ID), zap.String("idempotency_key", key), zap.Error(err))
		return nil, fmt.Errorf("submit order: %w", err)
	}

	sess.Ledger.Subtract(items)
	sess.rotateCheckoutKey()
	s.metrics.ObserveOrder("placed")
	s.logger.Info("order placed",
		zap.String("session_id", sess.ID), zap.String("order_id", string(rec.ID)),
		zap.String("total", rec.TotalAmount.String()))
	return rec, nil
}

// BuildOrderRequest converts ledger lines into the order service's creation
// payload.
func BuildOrderRequest(items []domain.LineItem, opts CheckoutOptions) (domain.CreateOrderRequest, error) {
	if !opts.OrderType.Valid() {
		return domain.CreateOrderRequest{}, fmt.Errorf("%w: choose pickup or dine_in", domain.ErrInvalidOrder)
	}
	if opts.OrderType == domain.OrderTypeDineIn && opts.TableID == nil {
		return domain.CreateOrderRequest{}, ErrTableRequired
	}

	req := domain.CreateOrderRequest{
		OrderType:     opts.OrderType,
		BeansToRedeem: opts.BeansToRedeem,
		Items:         make([]domain.OrderItemRequest, 0, len(items)),
	}
	if opts.OrderType == domain.OrderTypeDineIn {
		req.TableID = opts.TableID
	}

	for _, item := range items {
		productID, err := strconv.ParseInt(item.ProductID, 10, 64)
		if err != nil || productID <= 0 {
			return domain.CreateOrderRequest{}, fmt.Errorf("%w: %q", ErrInvalidProduct, item.ProductID)
		}
		optionIDs := slices.Clone(item.Customization.SelectedOptionIDs)
		slices.Sort(optionIDs)
		optionIDs = slices.Compact(optionIDs)
		if optionIDs == nil {
			optionIDs = []int64{}
		}

		req.Items = append(req.Items, domain.OrderItemRequest{
			ProductID:         productID,
			Quantity:          item.Quantity,
			Notes:             strings.TrimSpace(item.Customization.Notes),
			SelectedOptionIDs: optionIDs,
		})
	}
	return req, nil
}
