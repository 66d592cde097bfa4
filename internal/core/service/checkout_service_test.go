package service

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/rl1809/cafe-order/internal/core/domain"
	"github.com/rl1809/cafe-order/internal/port"
)

func sessionWithCart(t *testing.T) *Session {
	t.Helper()
	sess := NewSession("s-1")
	t.Cleanup(sess.Close)
	sess.SetToken("tok")
	sess.Ledger.Add(domain.NewLineItem("1", "Latte", 475, 2, domain.Customization{SelectedOptionIDs: []int64{4, 1, 4}, Notes: " oat milk "}))
	sess.Ledger.Add(domain.NewLineItem("2", "Croissant", 325, 1, domain.Customization{}))
	return sess
}

func TestSubmit_Success(t *testing.T) {
	client := &mockOrderClient{}
	svc := NewCheckoutService(client, zap.NewNop(), nil)
	sess := sessionWithCart(t)
	key := sess.CheckoutKey()

	rec, err := svc.Submit(context.Background(), sess, CheckoutOptions{OrderType: domain.OrderTypePickup})
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if rec.ID != "o-1" {
		t.Errorf("expected o-1, got %s", rec.ID)
	}
	if sess.Ledger.Len() != 0 {
		t.Errorf("expected cart cleared, got %d lines", sess.Ledger.Len())
	}
	if client.keys[0] != key {
		t.Errorf("expected idempotency key %s, got %s", key, client.keys[0])
	}
	if sess.CheckoutKey() == key {
		t.Error("expected a fresh checkout key after success")
	}

	req := client.created[0]
	if len(req.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(req.Items))
	}
	for _, item := range req.Items {
		if item.ProductID == 1 {
			if len(item.SelectedOptionIDs) != 2 || item.SelectedOptionIDs[0] != 1 || item.SelectedOptionIDs[1] != 4 {
				t.Errorf("expected options [1 4], got %v", item.SelectedOptionIDs)
			}
			if item.Notes != "oat milk" {
				t.Errorf("expected trimmed notes, got %q", item.Notes)
			}
			if item.Quantity != 2 {
				t.Errorf("expected quantity 2, got %d", item.Quantity)
			}
		}
	}
}

func TestSubmit_KeepsLinesAddedInFlight(t *testing.T) {
	inFlight := make(chan struct{})
	release := make(chan struct{})
	client := &mockOrderClient{createFn: func(domain.CreateOrderRequest) (*domain.OrderRecord, error) {
		close(inFlight)
		<-release
		return &domain.OrderRecord{ID: "o-2", Status: domain.OrderStatusReceived}, nil
	}}
	svc := NewCheckoutService(client, zap.NewNop(), nil)
	sess := sessionWithCart(t)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Submit(context.Background(), sess, CheckoutOptions{OrderType: domain.OrderTypePickup})
		done <- err
	}()

	<-inFlight
	sess.Ledger.Add(domain.NewLineItem("3", "Muffin", 295, 1, domain.Customization{}))
	sess.Ledger.Add(domain.NewLineItem("1", "Latte", 475, 1, domain.Customization{SelectedOptionIDs: []int64{1, 4}, Notes: "oat milk"}))
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if len(client.created[0].Items) != 2 {
		t.Errorf("expected 2 submitted items, got %d", len(client.created[0].Items))
	}

	items := sess.Ledger.Items()
	if len(items) != 2 {
		t.Fatalf("expected 2 lines left in the cart, got %d", len(items))
	}
	if items[0].ProductID != "1" || items[0].Quantity != 1 {
		t.Errorf("expected one latte left over, got %s x%d", items[0].ProductID, items[0].Quantity)
	}
	if items[1].ProductID != "3" || items[1].Quantity != 1 {
		t.Errorf("expected the muffin kept, got %s x%d", items[1].ProductID, items[1].Quantity)
	}
}

func TestSubmit_FailureKeepsCart(t *testing.T) {
	client := &mockOrderClient{createFn: func(domain.CreateOrderRequest) (*domain.OrderRecord, error) {
		return nil, port.ErrUnavailable
	}}
	svc := NewCheckoutService(client, zap.NewNop(), nil)
	sess := sessionWithCart(t)
	key := sess.CheckoutKey()

	_, err := svc.Submit(context.Background(), sess, CheckoutOptions{OrderType: domain.OrderTypePickup})
	if !errors.Is(err, port.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got: %v", err)
	}
	if sess.Ledger.Len() != 2 {
		t.Errorf("expected cart untouched, got %d lines", sess.Ledger.Len())
	}
	if sess.CheckoutKey() != key {
		t.Error("expected the checkout key to survive for the retry")
	}
}

func TestSubmit_Preconditions(t *testing.T) {
	svc := NewCheckoutService(&mockOrderClient{}, zap.NewNop(), nil)

	anon := NewSession("anon")
	defer anon.Close()
	anon.Ledger.Add(domain.NewLineItem("1", "Latte", 475, 1, domain.Customization{}))
	if _, err := svc.Submit(context.Background(), anon, CheckoutOptions{OrderType: domain.OrderTypePickup}); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("expected ErrNotAuthenticated, got: %v", err)
	}

	empty := NewSession("empty")
	defer empty.Close()
	empty.SetToken("tok")
	if _, err := svc.Submit(context.Background(), empty, CheckoutOptions{OrderType: domain.OrderTypePickup}); !errors.Is(err, ErrEmptyCart) {
		t.Errorf("expected ErrEmptyCart, got: %v", err)
	}
}

func TestSubmit_UsesSessionDining(t *testing.T) {
	client := &mockOrderClient{}
	svc := NewCheckoutService(client, zap.NewNop(), nil)
	sess := sessionWithCart(t)
	table := int64(7)
	sess.SetDining(domain.OrderTypeDineIn, &table)

	if _, err := svc.Submit(context.Background(), sess, CheckoutOptions{}); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	req := client.created[0]
	if req.OrderType != domain.OrderTypeDineIn || req.TableID == nil || *req.TableID != 7 {
		t.Errorf("expected dine_in at table 7, got %+v", req)
	}
}

func TestBuildOrderRequest_Validation(t *testing.T) {
	items := []domain.LineItem{domain.NewLineItem("1", "Latte", 475, 1, domain.Customization{})}
	table := int64(3)

	tests := []struct {
		name  string
		items []domain.LineItem
		opts  CheckoutOptions
		want  error
	}{
		{"no order type", items, CheckoutOptions{}, domain.ErrInvalidOrder},
		{"dine in without table", items, CheckoutOptions{OrderType: domain.OrderTypeDineIn}, ErrTableRequired},
		{"non numeric product", []domain.LineItem{domain.NewLineItem("latte", "Latte", 475, 1, domain.Customization{})}, CheckoutOptions{OrderType: domain.OrderTypePickup}, ErrInvalidProduct},
		{"dine in with table", items, CheckoutOptions{OrderType: domain.OrderTypeDineIn, TableID: &table}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildOrderRequest(tt.items, tt.opts)
			if tt.want == nil && err != nil {
				t.Errorf("expected success, got %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestBuildOrderRequest_PickupDropsTable(t *testing.T) {
	table := int64(3)
	items := []domain.LineItem{domain.NewLineItem("1", "Latte", 475, 1, domain.Customization{})}

	req, err := BuildOrderRequest(items, CheckoutOptions{OrderType: domain.OrderTypePickup, TableID: &table})
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if req.TableID != nil {
		t.Errorf("expected no table for pickup, got %d", *req.TableID)
	}
	if req.Items[0].SelectedOptionIDs == nil {
		t.Error("expected an empty, non-nil option list")
	}
}
