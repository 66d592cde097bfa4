package service

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/cafe-order/internal/core/domain"
)

func TestKitchen_PreparesPickupAndDineIn(t *testing.T) {
	db, cache := newMockDBRepo(), newMockCacheRepo()
	svc := newTestOrderService(db, cache, 10)

	pickup, _, err := svc.PlaceOrder(context.Background(), alice, "", pickupRequest())
	if err != nil {
		t.Fatalf("pickup order failed: %v", err)
	}
	table := int64(4)
	dineReq := pickupRequest()
	dineReq.OrderType = domain.OrderTypeDineIn
	dineReq.TableID = &table
	dineIn, _, err := svc.PlaceOrder(context.Background(), alice, "", dineReq)
	if err != nil {
		t.Fatalf("dine-in order failed: %v", err)
	}

	kitchen := NewKitchen(svc.GetKitchenQueue(), svc, 2, time.Millisecond, zap.NewNop())
	done := make(chan struct{})
	go func() {
		kitchen.Run(context.Background())
		close(done)
	}()
	svc.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("kitchen did not finish")
	}

	if got := db.status(string(pickup.ID)); got != domain.OrderStatusCompleted {
		t.Errorf("expected pickup completed, got %s", got)
	}
	if got := db.status(string(dineIn.ID)); got != domain.OrderStatusServed {
		t.Errorf("expected dine-in served, got %s", got)
	}
}

func TestKitchen_DropsCancelledOrder(t *testing.T) {
	db, cache := newMockDBRepo(), newMockCacheRepo()
	svc := newTestOrderService(db, cache, 10)

	rec, _, err := svc.PlaceOrder(context.Background(), alice, "", pickupRequest())
	if err != nil {
		t.Fatalf("order failed: %v", err)
	}
	if _, err := svc.AdvanceStatus(context.Background(), string(rec.ID), domain.OrderStatusCancelled); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	kitchen := NewKitchen(svc.GetKitchenQueue(), svc, 1, time.Millisecond, zap.NewNop())
	svc.Close()
	kitchen.Run(context.Background())

	if got := db.status(string(rec.ID)); got != domain.OrderStatusCancelled {
		t.Errorf("expected order to stay cancelled, got %s", got)
	}
}

func TestKitchen_StopsOnContextCancel(t *testing.T) {
	queue := make(chan domain.OrderRecord, 1)
	queue <- domain.OrderRecord{ID: "o-1", OrderType: domain.OrderTypePickup}

	db, cache := newMockDBRepo(), newMockCacheRepo()
	kitchen := NewKitchen(queue, newTestOrderService(db, cache, 0), 1, time.Hour, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		kitchen.Run(ctx)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("kitchen ignored cancellation")
	}
}
