package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/cafe-order/internal/core/domain"
	"github.com/rl1809/cafe-order/internal/metrics"
	"github.com/rl1809/cafe-order/internal/port"
)

type OrderServiceConfig struct {
	QueueSize int
	TaxRate   decimal.Decimal
	BeanValue domain.Money
}

// OrderService is the order service's side of the ordering contract: it
// prices, persists and advances orders and feeds new orders to the kitchen.
type OrderService struct {
	db           port.DatabaseRepository
	cache        port.CacheRepository
	kitchenQueue chan domain.OrderRecord
	queueMu      sync.RWMutex
	queueClosed  bool
	taxRate      decimal.Decimal
	beanValue    domain.Money
	logger       *zap.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
}

func NewOrderService(db port.DatabaseRepository, cache port.CacheRepository, cfg OrderServiceConfig, logger *zap.Logger, m *metrics.Metrics) *OrderService {
	s := &OrderService{
		db:        db,
		cache:     cache,
		taxRate:   cfg.TaxRate,
		beanValue: cfg.BeanValue,
		logger:    logger,
		metrics:   m,
		now:       time.Now,
	}
	if cfg.QueueSize > 0 {
		s.kitchenQueue = make(chan domain.OrderRecord, cfg.QueueSize)
	}
	return s
}

// PlaceOrder prices and stores a new order. A repeated idempotency key
// returns the order stored under it with created=false.
func (s *OrderService) PlaceOrder(ctx context.Context, p domain.Principal, idempotencyKey string, req domain.CreateOrderRequest) (rec *domain.OrderRecord, created bool, err error) {
	if err := req.Validate(); err != nil {
		return nil, false, err
	}

	orderID := uuid.NewString()
	var key string
	if idempotencyKey != "" {
		key = fmt.Sprintf("order:%s:%s", p.UserID, idempotencyKey)
		bound, claimed, err := s.cache.ClaimIdempotency(ctx, key, orderID)
		if err != nil {
			return nil, false, fmt.Errorf("idempotency check failed: %w", err)
		}
		if !claimed {
			existing, err := s.db.GetOrder(ctx, bound)
			if errors.Is(err, port.ErrNotFound) {
				return nil, false, ErrDuplicateRequest
			}
			if err != nil {
				return nil, false, fmt.Errorf("load replayed order: %w", err)
			}
			return existing, false, nil
		}
	}

	defer func() {
		if err != nil && key != "" {
			if releaseErr := s.cache.ReleaseIdempotency(context.WithoutCancel(ctx), key); releaseErr != nil {
				s.logger.Warn("idempotency release failed", zap.String("key", key), zap.Error(releaseErr))
			}
		}
		if err != nil {
			s.metrics.ObserveOrder("rejected")
		}
	}()

	rec, err = s.price(ctx, p, orderID, req)
	if err != nil {
		return nil, false, err
	}

	if rec.BeanRedeemAmount > 0 {
		ok, err := s.cache.RedeemBeans(ctx, p.UserID, rec.BeanRedeemAmount)
		if err != nil {
			return nil, false, fmt.Errorf("bean redemption failed: %w", err)
		}
		if !ok {
			return nil, false, ErrInsufficientBeans
		}
	}

	if err := s.db.CreateOrder(ctx, *rec); err != nil {
		if rec.BeanRedeemAmount > 0 {
			if refundErr := s.cache.CreditBeans(context.WithoutCancel(ctx), p.UserID, rec.BeanRedeemAmount); refundErr != nil {
				s.logger.Error("CRITICAL bean refund failed",
					zap.String("order_id", orderID), zap.String("user_id", p.UserID), zap.Error(refundErr))
			}
		}
		return nil, false, fmt.Errorf("save order: %w", err)
	}

	s.metrics.ObserveOrder("placed")
	s.logger.Info("order placed",
		zap.String("order_id", orderID), zap.String("user_id", p.UserID),
		zap.String("total", rec.TotalAmount.String()))
	s.enqueue(*rec)
	return rec, true, nil
}

func (s *OrderService) price(ctx context.Context, p domain.Principal, orderID string, req domain.CreateOrderRequest) (*domain.OrderRecord, error) {
	ids := make([]int64, 0, len(req.Items))
	for _, item := range req.Items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.db.GetProducts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}

	now := s.now()
	rec := &domain.OrderRecord{
		ID:        domain.OrderID(orderID),
		UserID:    p.UserID,
		OrderType: req.OrderType,
		TableID:   req.TableID,
		Status:    domain.OrderStatusReceived,
		Items:     make([]domain.OrderItem, 0, len(req.Items)),
		CreatedAt: now,
		UpdatedAt: now,
	}

	units := 0
	for _, item := range req.Items {
		product, ok := products[item.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: unknown product %d", domain.ErrInvalidOrder, item.ProductID)
		}
		unitPrice, err := product.PriceFor(item.SelectedOptionIDs)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrInvalidOrder, err)
		}
		rec.Items = append(rec.Items, domain.OrderItem{
			ProductID:         product.ID,
			ProductName:       product.Name,
			Quantity:          item.Quantity,
			UnitPrice:         unitPrice,
			Notes:             item.Notes,
			SelectedOptionIDs: item.SelectedOptionIDs,
		})
		rec.SubtotalAmount += unitPrice.Mul(item.Quantity)
		units += item.Quantity
	}

	if req.BeansToRedeem > 0 {
		if s.beanValue <= 0 || s.beanValue.Mul(req.BeansToRedeem) > rec.SubtotalAmount {
			return nil, fmt.Errorf("%w: redeeming more beans than the order is worth", domain.ErrInvalidOrder)
		}
		rec.BeanRedeemAmount = req.BeansToRedeem
		rec.DiscountAmount = s.beanValue.Mul(req.BeansToRedeem)
	}

	taxable := rec.SubtotalAmount - rec.DiscountAmount
	rec.TaxAmount = taxable.ApplyRate(s.taxRate)
	rec.TotalAmount = taxable + rec.TaxAmount
	rec.BeanEarnAmount = int(rec.TotalAmount / 100)

	eta := now.Add(5*time.Minute + time.Duration(units)*2*time.Minute)
	rec.EstimatedCompletionTime = &eta
	if req.OrderType == domain.OrderTypePickup {
		rec.PickupCode = strings.ToUpper(orderID[:6])
	}
	return rec, nil
}

func (s *OrderService) enqueue(rec domain.OrderRecord) {
	if s.kitchenQueue == nil {
		return
	}

	s.queueMu.RLock()
	defer s.queueMu.RUnlock()
	if s.queueClosed {
		s.logger.Warn("kitchen closed, order left for manual handling", zap.String("order_id", string(rec.ID)))
		return
	}
	select {
	case s.kitchenQueue <- rec:
	default:
		s.logger.Warn("kitchen queue full, order left for manual handling", zap.String("order_id", string(rec.ID)))
	}
}

// GetOrder returns the order if p owns it or is an admin.
func (s *OrderService) GetOrder(ctx context.Context, p domain.Principal, orderID string) (*domain.OrderRecord, error) {
	rec, err := s.db.GetOrder(ctx, orderID)
	if errors.Is(err, port.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	if rec.UserID != p.UserID && !p.Admin {
		return nil, ErrOrderNotFound
	}
	return rec, nil
}

func (s *OrderService) ListOrders(ctx context.Context, p domain.Principal) ([]domain.OrderRecord, error) {
	orders, err := s.db.ListOrdersByUser(ctx, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

// ListActive returns every order that has not reached a terminal status.
func (s *OrderService) ListActive(ctx context.Context, p domain.Principal) ([]domain.OrderRecord, error) {
	if !p.Admin {
		return nil, ErrForbidden
	}
	orders, err := s.db.ListOrdersByStatus(ctx,
		domain.OrderStatusReceived, domain.OrderStatusPreparing, domain.OrderStatusReady)
	if err != nil {
		return nil, fmt.Errorf("list active orders: %w", err)
	}
	return orders, nil
}

func (s *OrderService) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.db.ListProducts(ctx)
}

func (s *OrderService) GetProduct(ctx context.Context, productID int64) (*domain.Product, error) {
	products, err := s.db.GetProducts(ctx, []int64{productID})
	if err != nil {
		return nil, fmt.Errorf("load product: %w", err)
	}
	product, ok := products[productID]
	if !ok {
		return nil, port.ErrProductNotFound
	}
	return &product, nil
}

// AdvanceStatus moves an order to next. Completing an order credits the
// beans it earns; cancelling refunds the beans it redeemed.
func (s *OrderService) AdvanceStatus(ctx context.Context, orderID string, next domain.OrderStatus) (*domain.OrderRecord, error) {
	rec, err := s.db.GetOrder(ctx, orderID)
	if errors.Is(err, port.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	if !rec.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, next)
	}

	err = s.db.UpdateStatus(ctx, orderID, rec.Status, next)
	if errors.Is(err, port.ErrOptimisticLock) {
		return nil, ErrStatusConflict
	}
	if err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}

	switch {
	case next == domain.OrderStatusCancelled && rec.BeanRedeemAmount > 0:
		s.creditBeans(ctx, rec, rec.BeanRedeemAmount, "refund")
	case next.IsTerminal() && next != domain.OrderStatusCancelled && rec.BeanEarnAmount > 0:
		s.creditBeans(ctx, rec, rec.BeanEarnAmount, "earn")
	}

	s.logger.Info("order status advanced",
		zap.String("order_id", orderID), zap.String("from", string(rec.Status)), zap.String("to", string(next)))
	rec.Status = next
	rec.UpdatedAt = s.now()
	return rec, nil
}

func (s *OrderService) creditBeans(ctx context.Context, rec *domain.OrderRecord, beans int, reason string) {
	if err := s.cache.CreditBeans(ctx, rec.UserID, beans); err != nil {
		s.logger.Error("bean credit failed",
			zap.String("order_id", string(rec.ID)), zap.String("reason", reason), zap.Error(err))
	}
}

func (s *OrderService) BeanBalance(ctx context.Context, p domain.Principal) (int, error) {
	return s.cache.BeanBalance(ctx, p.UserID)
}

// SetBeans overwrites userID's bean balance. Admin only.
func (s *OrderService) SetBeans(ctx context.Context, p domain.Principal, userID string, beans int) error {
	if !p.Admin {
		return ErrForbidden
	}
	if userID == "" || beans < 0 {
		return fmt.Errorf("%w: bean balance must name a user and be non-negative", domain.ErrInvalidOrder)
	}
	if err := s.cache.SetBeans(ctx, userID, beans); err != nil {
		return fmt.Errorf("set beans: %w", err)
	}
	s.logger.Info("bean balance set",
		zap.String("user_id", userID), zap.Int("beans", beans), zap.String("by", p.UserID))
	return nil
}

func (s *OrderService) GetKitchenQueue() <-chan domain.OrderRecord {
	return s.kitchenQueue
}

// Close closes the kitchen queue. Orders placed afterwards are stored but
// not queued. Close may be called more than once.
func (s *OrderService) Close() {
	if s.kitchenQueue == nil {
		return
	}

	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	if !s.queueClosed {
		s.queueClosed = true
		close(s.kitchenQueue)
	}
}
