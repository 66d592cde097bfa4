package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/cafe-order/internal/core/domain"
	"github.com/rl1809/cafe-order/internal/port"
)

// Mock CacheRepository
type mockCacheRepo struct {
	beans          map[string]int
	idempotencySet map[string]string
	mu             sync.Mutex
}

func newMockCacheRepo() *mockCacheRepo {
	return &mockCacheRepo{
		beans:          make(map[string]int),
		idempotencySet: make(map[string]string),
	}
}

func (m *mockCacheRepo) ClaimIdempotency(ctx context.Context, key, orderID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if bound, ok := m.idempotencySet[key]; ok {
		return bound, false, nil
	}
	m.idempotencySet[key] = orderID
	return orderID, true, nil
}

func (m *mockCacheRepo) ReleaseIdempotency(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.idempotencySet, key)
	return nil
}

func (m *mockCacheRepo) RedeemBeans(ctx context.Context, userID string, beans int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.beans[userID] >= beans {
		m.beans[userID] -= beans
		return true, nil
	}
	return false, nil
}

func (m *mockCacheRepo) CreditBeans(ctx context.Context, userID string, beans int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beans[userID] += beans
	return nil
}

func (m *mockCacheRepo) BeanBalance(ctx context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.beans[userID], nil
}

func (m *mockCacheRepo) SetBeans(ctx context.Context, userID string, beans int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beans[userID] = beans
	return nil
}

func (m *mockCacheRepo) balance(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.beans[userID]
}

// Mock DatabaseRepository
type mockDBRepo struct {
	products   map[int64]domain.Product
	orders     map[string]domain.OrderRecord
	failCreate bool
	mu         sync.Mutex
}

func newMockDBRepo() *mockDBRepo {
	return &mockDBRepo{
		products: map[int64]domain.Product{
			1: {
				ID: 1, Name: "Latte", BasePrice: 450,
				Customizations: []domain.ProductCustomization{{
					ID: 10, Name: "Size", Type: domain.CustomizationRadio,
					Options: []domain.CustomizationOption{
						{ID: 1, Name: "Regular"},
						{ID: 2, Name: "Large", PriceImpact: 75},
					},
				}},
			},
			2: {ID: 2, Name: "Croissant", BasePrice: 325},
		},
		orders: make(map[string]domain.OrderRecord),
	}
}

func (m *mockDBRepo) CreateOrder(ctx context.Context, order domain.OrderRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreate {
		return errors.New("connection refused")
	}
	m.orders[string(order.ID)] = order
	return nil
}

func (m *mockDBRepo) GetOrder(ctx context.Context, orderID string) (*domain.OrderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return nil, port.ErrNotFound
	}
	return &order, nil
}

func (m *mockDBRepo) ListOrdersByUser(ctx context.Context, userID string) ([]domain.OrderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.OrderRecord
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *mockDBRepo) ListOrdersByStatus(ctx context.Context, statuses ...domain.OrderStatus) ([]domain.OrderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.OrderRecord
	for _, o := range m.orders {
		for _, s := range statuses {
			if o.Status == s {
				out = append(out, o)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *mockDBRepo) UpdateStatus(ctx context.Context, orderID string, from, to domain.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok || order.Status != from {
		return port.ErrOptimisticLock
	}
	order.Status = to
	m.orders[orderID] = order
	return nil
}

func (m *mockDBRepo) GetProducts(ctx context.Context, productIDs []int64) (map[int64]domain.Product, error) {
	out := make(map[int64]domain.Product)
	for _, id := range productIDs {
		if p, ok := m.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (m *mockDBRepo) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return []domain.Product{m.products[1], m.products[2]}, nil
}

func (m *mockDBRepo) status(orderID string) domain.OrderStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders[orderID].Status
}

var alice = domain.Principal{UserID: "alice"}

func newTestOrderService(db *mockDBRepo, cache *mockCacheRepo, queueSize int) *OrderService {
	return NewOrderService(db, cache, OrderServiceConfig{
		QueueSize: queueSize,
		TaxRate:   decimal.RequireFromString("0.08"),
		BeanValue: 10,
	}, zap.NewNop(), nil)
}

func pickupRequest() domain.CreateOrderRequest {
	return domain.CreateOrderRequest{
		OrderType: domain.OrderTypePickup,
		Items: []domain.OrderItemRequest{
			{ProductID: 1, Quantity: 2, SelectedOptionIDs: []int64{2}},
			{ProductID: 2, Quantity: 1},
		},
	}
}

func TestPlaceOrder_Success(t *testing.T) {
	db, cache := newMockDBRepo(), newMockCacheRepo()
	svc := newTestOrderService(db, cache, 0)

	rec, created, err := svc.PlaceOrder(context.Background(), alice, "key-1", pickupRequest())
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if !created {
		t.Error("expected created=true")
	}
	// 2 x 5.25 + 3.25
	if rec.SubtotalAmount != 1375 {
		t.Errorf("expected subtotal 1375, got %d", rec.SubtotalAmount)
	}
	if rec.TaxAmount != 110 {
		t.Errorf("expected tax 110, got %d", rec.TaxAmount)
	}
	if rec.TotalAmount != 1485 {
		t.Errorf("expected total 1485, got %d", rec.TotalAmount)
	}
	if rec.BeanEarnAmount != 14 {
		t.Errorf("expected 14 beans earned, got %d", rec.BeanEarnAmount)
	}
	if rec.Status != domain.OrderStatusReceived {
		t.Errorf("expected received status, got %s", rec.Status)
	}
	if len(rec.PickupCode) != 6 {
		t.Errorf("expected 6 character pickup code, got %q", rec.PickupCode)
	}
	if rec.EstimatedCompletionTime == nil {
		t.Error("expected an estimated completion time")
	}
	if _, ok := db.orders[string(rec.ID)]; !ok {
		t.Error("expected order to be persisted")
	}
}

func TestPlaceOrder_DuplicateKeyReplaysOrder(t *testing.T) {
	db, cache := newMockDBRepo(), newMockCacheRepo()
	svc := newTestOrderService(db, cache, 0)

	first, _, err := svc.PlaceOrder(context.Background(), alice, "key-1", pickupRequest())
	if err != nil {
		t.Fatalf("first order failed: %v", err)
	}

	second, created, err := svc.PlaceOrder(context.Background(), alice, "key-1", pickupRequest())
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if created {
		t.Error("expected created=false on replay")
	}
	if second.ID != first.ID {
		t.Errorf("expected order %s, got %s", first.ID, second.ID)
	}
	if len(db.orders) != 1 {
		t.Errorf("expected 1 stored order, got %d", len(db.orders))
	}
}

func TestPlaceOrder_SameKeyDifferentUsers(t *testing.T) {
	db, cache := newMockDBRepo(), newMockCacheRepo()
	svc := newTestOrderService(db, cache, 0)

	if _, _, err := svc.PlaceOrder(context.Background(), alice, "key-1", pickupRequest()); err != nil {
		t.Fatalf("alice failed: %v", err)
	}
	_, created, err := svc.PlaceOrder(context.Background(), domain.Principal{UserID: "bob"}, "key-1", pickupRequest())
	if err != nil || !created {
		t.Errorf("expected bob's order to be created, got created=%v err=%v", created, err)
	}
}

func TestPlaceOrder_UnknownProduct(t *testing.T) {
	db, cache := newMockDBRepo(), newMockCacheRepo()
	svc := newTestOrderService(db, cache, 0)

	req := pickupRequest()
	req.Items[0].ProductID = 99
	_, _, err := svc.PlaceOrder(context.Background(), alice, "key-1", req)
	if !errors.Is(err, domain.ErrInvalidOrder) {
		t.Errorf("expected ErrInvalidOrder, got: %v", err)
	}
	if len(cache.idempotencySet) != 0 {
		t.Error("expected idempotency key to be released")
	}
}

func TestPlaceOrder_RedeemBeans(t *testing.T) {
	db, cache := newMockDBRepo(), newMockCacheRepo()
	cache.beans["alice"] = 50
	svc := newTestOrderService(db, cache, 0)

	req := pickupRequest()
	req.BeansToRedeem = 30
	rec, _, err := svc.PlaceOrder(context.Background(), alice, "key-1", req)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if rec.DiscountAmount != 300 {
		t.Errorf("expected discount 300, got %d", rec.DiscountAmount)
	}
	// tax on 10.75
	if rec.TaxAmount != 86 {
		t.Errorf("expected tax 86, got %d", rec.TaxAmount)
	}
	if cache.balance("alice") != 20 {
		t.Errorf("expected 20 beans left, got %d", cache.balance("alice"))
	}
}

func TestPlaceOrder_InsufficientBeans(t *testing.T) {
	db, cache := newMockDBRepo(), newMockCacheRepo()
	cache.beans["alice"] = 5
	svc := newTestOrderService(db, cache, 0)

	req := pickupRequest()
	req.BeansToRedeem = 30
	_, _, err := svc.PlaceOrder(context.Background(), alice, "key-1", req)
	if !errors.Is(err, ErrInsufficientBeans) {
		t.Errorf("expected ErrInsufficientBeans, got: %v", err)
	}
	if cache.balance("alice") != 5 {
		t.Errorf("expected balance untouched, got %d", cache.balance("alice"))
	}
}

func TestPlaceOrder_SaveFailureRefundsBeans(t *testing.T) {
	db, cache := newMockDBRepo(), newMockCacheRepo()
	db.failCreate = true
	cache.beans["alice"] = 50
	svc := newTestOrderService(db, cache, 0)

	req := pickupRequest()
	req.BeansToRedeem = 30
	if _, _, err := svc.PlaceOrder(context.Background(), alice, "key-1", req); err == nil {
		t.Fatal("expected error")
	}
	if cache.balance("alice") != 50 {
		t.Errorf("expected beans refunded to 50, got %d", cache.balance("alice"))
	}
	if len(cache.idempotencySet) != 0 {
		t.Error("expected idempotency key to be released")
	}
}

func TestPlaceOrder_Concurrent(t *testing.T) {
	db, cache := newMockDBRepo(), newMockCacheRepo()
	cache.beans["alice"] = 100
	svc := newTestOrderService(db, cache, 0)

	var successCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			req := pickupRequest()
			req.BeansToRedeem = 10
			key := "key-" + string(rune('a'+id))
			if _, _, err := svc.PlaceOrder(context.Background(), alice, key, req); err == nil {
				successCount.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if successCount.Load() != 10 {
		t.Errorf("expected 10 successes, got %d", successCount.Load())
	}
	if cache.balance("alice") != 0 {
		t.Errorf("expected 0 beans left, got %d", cache.balance("alice"))
	}
}

func TestPlaceOrder_OrderQueued(t *testing.T) {
	db, cache := newMockDBRepo(), newMockCacheRepo()
	svc := newTestOrderService(db, cache, 10)

	rec, _, err := svc.PlaceOrder(context.Background(), alice, "key-1", pickupRequest())
	if err != nil {
		t.Fatalf("order failed: %v", err)
	}

	queued := <-svc.GetKitchenQueue()
	if queued.ID != rec.ID {
		t.Errorf("expected %s, got %s", rec.ID, queued.ID)
	}

	svc.Close()
}

func TestPlaceOrder_AfterCloseIsStoredNotQueued(t *testing.T) {
	db, cache := newMockDBRepo(), newMockCacheRepo()
	svc := newTestOrderService(db, cache, 10)
	svc.Close()
	svc.Close()

	rec, _, err := svc.PlaceOrder(context.Background(), alice, "key-1", pickupRequest())
	if err != nil {
		t.Fatalf("expected success after close, got error: %v", err)
	}
	if got := db.status(string(rec.ID)); got != domain.OrderStatusReceived {
		t.Errorf("expected stored received order, got %q", got)
	}
	if _, ok := <-svc.GetKitchenQueue(); ok {
		t.Error("expected closed kitchen queue to stay empty")
	}
}

func TestSetBeans(t *testing.T) {
	db, cache := newMockDBRepo(), newMockCacheRepo()
	svc := newTestOrderService(db, cache, 0)
	staff := domain.Principal{UserID: "staff", Admin: true}
	ctx := context.Background()

	if err := svc.SetBeans(ctx, alice, "alice", 500); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got: %v", err)
	}
	if err := svc.SetBeans(ctx, staff, "alice", -1); !errors.Is(err, domain.ErrInvalidOrder) {
		t.Errorf("expected ErrInvalidOrder, got: %v", err)
	}
	if err := svc.SetBeans(ctx, staff, "alice", 30); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}

	req := pickupRequest()
	req.BeansToRedeem = 30
	rec, _, err := svc.PlaceOrder(ctx, alice, "key-1", req)
	if err != nil {
		t.Fatalf("expected seeded beans to be redeemable, got error: %v", err)
	}
	if rec.DiscountAmount != 300 {
		t.Errorf("expected discount 300, got %d", rec.DiscountAmount)
	}
	if cache.balance("alice") != 0 {
		t.Errorf("expected balance 0, got %d", cache.balance("alice"))
	}
}

func TestGetOrder_Ownership(t *testing.T) {
	db, cache := newMockDBRepo(), newMockCacheRepo()
	svc := newTestOrderService(db, cache, 0)

	rec, _, err := svc.PlaceOrder(context.Background(), alice, "", pickupRequest())
	if err != nil {
		t.Fatalf("order failed: %v", err)
	}

	if _, err := svc.GetOrder(context.Background(), alice, string(rec.ID)); err != nil {
		t.Errorf("expected owner to see order, got: %v", err)
	}
	if _, err := svc.GetOrder(context.Background(), domain.Principal{UserID: "bob"}, string(rec.ID)); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound for another user, got: %v", err)
	}
	admin := domain.Principal{UserID: "staff", Admin: true}
	if _, err := svc.GetOrder(context.Background(), admin, string(rec.ID)); err != nil {
		t.Errorf("expected admin to see order, got: %v", err)
	}
	if _, err := svc.GetOrder(context.Background(), alice, "missing"); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got: %v", err)
	}
}

func TestAdvanceStatus_CreditsEarnedBeans(t *testing.T) {
	db, cache := newMockDBRepo(), newMockCacheRepo()
	svc := newTestOrderService(db, cache, 0)

	rec, _, err := svc.PlaceOrder(context.Background(), alice, "", pickupRequest())
	if err != nil {
		t.Fatalf("order failed: %v", err)
	}
	id := string(rec.ID)

	for _, next := range []domain.OrderStatus{domain.OrderStatusPreparing, domain.OrderStatusReady, domain.OrderStatusCompleted} {
		if _, err := svc.AdvanceStatus(context.Background(), id, next); err != nil {
			t.Fatalf("advance to %s failed: %v", next, err)
		}
	}
	if cache.balance("alice") != rec.BeanEarnAmount {
		t.Errorf("expected %d beans, got %d", rec.BeanEarnAmount, cache.balance("alice"))
	}

	_, err = svc.AdvanceStatus(context.Background(), id, domain.OrderStatusCancelled)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got: %v", err)
	}
}

func TestAdvanceStatus_CancelRefundsBeans(t *testing.T) {
	db, cache := newMockDBRepo(), newMockCacheRepo()
	cache.beans["alice"] = 30
	svc := newTestOrderService(db, cache, 0)

	req := pickupRequest()
	req.BeansToRedeem = 30
	rec, _, err := svc.PlaceOrder(context.Background(), alice, "", req)
	if err != nil {
		t.Fatalf("order failed: %v", err)
	}

	got, err := svc.AdvanceStatus(context.Background(), string(rec.ID), domain.OrderStatusCancelled)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if got.Status != domain.OrderStatusCancelled {
		t.Errorf("expected cancelled, got %s", got.Status)
	}
	if cache.balance("alice") != 30 {
		t.Errorf("expected 30 beans refunded, got %d", cache.balance("alice"))
	}
}

func TestAdvanceStatus_SkipIsRejected(t *testing.T) {
	db, cache := newMockDBRepo(), newMockCacheRepo()
	svc := newTestOrderService(db, cache, 0)

	rec, _, _ := svc.PlaceOrder(context.Background(), alice, "", pickupRequest())
	_, err := svc.AdvanceStatus(context.Background(), string(rec.ID), domain.OrderStatusReady)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got: %v", err)
	}
}

func TestListActive_AdminOnly(t *testing.T) {
	db, cache := newMockDBRepo(), newMockCacheRepo()
	svc := newTestOrderService(db, cache, 0)
	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	calls := 0
	svc.now = func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Minute)
	}

	first, _, _ := svc.PlaceOrder(context.Background(), alice, "", pickupRequest())
	second, _, _ := svc.PlaceOrder(context.Background(), alice, "", pickupRequest())
	if _, err := svc.AdvanceStatus(context.Background(), string(second.ID), domain.OrderStatusCancelled); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	if _, err := svc.ListActive(context.Background(), alice); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got: %v", err)
	}
	active, err := svc.ListActive(context.Background(), domain.Principal{UserID: "staff", Admin: true})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(active) != 1 || active[0].ID != first.ID {
		t.Errorf("expected only %s active, got %+v", first.ID, active)
	}
}
