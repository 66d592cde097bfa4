package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

var ErrInvalidOrder = errors.New("invalid order")

type OrderStatus string

const (
	OrderStatusReceived  OrderStatus = "received"
	OrderStatusPreparing OrderStatus = "preparing"
	OrderStatusReady     OrderStatus = "ready"
	OrderStatusServed    OrderStatus = "served"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusReceived, OrderStatusPreparing, OrderStatusReady,
		OrderStatusServed, OrderStatusCompleted, OrderStatusCancelled:
		return true
	}
	return false
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusServed || s == OrderStatusCompleted || s == OrderStatusCancelled
}

// CanTransitionTo reports whether next directly follows s in the order
// lifecycle. Cancellation is allowed from every non-terminal state.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s.IsTerminal() || !next.Valid() {
		return false
	}
	if next == OrderStatusCancelled {
		return true
	}
	switch s {
	case OrderStatusReceived:
		return next == OrderStatusPreparing
	case OrderStatusPreparing:
		return next == OrderStatusReady
	case OrderStatusReady:
		return next == OrderStatusServed || next == OrderStatusCompleted
	}
	return false
}

// Progress maps a status onto a 0-100 value for progress indicators.
func Progress(s OrderStatus) int {
	switch s {
	case OrderStatusReceived:
		return 10
	case OrderStatusPreparing:
		return 50
	case OrderStatusReady:
		return 90
	case OrderStatusServed, OrderStatusCompleted, OrderStatusCancelled:
		return 100
	}
	return 0
}

type OrderType string

const (
	OrderTypePickup OrderType = "pickup"
	OrderTypeDineIn OrderType = "dine_in"
)

func (t OrderType) Valid() bool {
	return t == OrderTypePickup || t == OrderTypeDineIn
}

// OrderID is opaque. Some order services emit numeric ids, so decoding
// accepts JSON numbers as well as strings.
type OrderID string

func (id *OrderID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = OrderID(s)
		return nil
	}
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if _, err := strconv.ParseInt(string(data), 10, 64); err != nil {
		return fmt.Errorf("decode order id: %w", err)
	}
	*id = OrderID(data)
	return nil
}

type OrderItemRequest struct {
	ProductID         int64   `json:"productId"`
	Quantity          int     `json:"quantity"`
	Notes             string  `json:"notes,omitempty"`
	SelectedOptionIDs []int64 `json:"selectedOptionIds"`
}

type CreateOrderRequest struct {
	OrderType     OrderType          `json:"orderType"`
	TableID       *int64             `json:"tableId,omitempty"`
	Items         []OrderItemRequest `json:"items"`
	BeansToRedeem int                `json:"beansToRedeem,omitempty"`
}

func (r CreateOrderRequest) Validate() error {
	if !r.OrderType.Valid() {
		return fmt.Errorf("%w: unknown order type %q", ErrInvalidOrder, r.OrderType)
	}
	if r.OrderType == OrderTypeDineIn && r.TableID == nil {
		return fmt.Errorf("%w: dine-in orders need a table", ErrInvalidOrder)
	}
	if len(r.Items) == 0 {
		return fmt.Errorf("%w: no items", ErrInvalidOrder)
	}
	if r.BeansToRedeem < 0 {
		return fmt.Errorf("%w: negative beans", ErrInvalidOrder)
	}
	for _, item := range r.Items {
		if item.ProductID <= 0 || item.Quantity <= 0 {
			return fmt.Errorf("%w: bad item for product %d", ErrInvalidOrder, item.ProductID)
		}
	}
	return nil
}

type OrderItem struct {
	ProductID         int64   `json:"productId"`
	ProductName       string  `json:"productName"`
	Quantity          int     `json:"quantity"`
	UnitPrice         Money   `json:"unitPrice"`
	Notes             string  `json:"notes,omitempty"`
	SelectedOptionIDs []int64 `json:"selectedOptionIds"`
}

// OrderRecord mirrors the order service's view of an order. Amounts are
// whatever the service charged and are never recomputed locally.
type OrderRecord struct {
	ID                      OrderID     `json:"id"`
	UserID                  string      `json:"userId"`
	OrderType               OrderType   `json:"orderType"`
	TableID                 *int64      `json:"tableId,omitempty"`
	Status                  OrderStatus `json:"status"`
	Items                   []OrderItem `json:"orderItems"`
	SubtotalAmount          Money       `json:"subtotalAmount"`
	TaxAmount               Money       `json:"taxAmount"`
	DiscountAmount          Money       `json:"discountAmount"`
	TotalAmount             Money       `json:"totalAmount"`
	BeanEarnAmount          int         `json:"beanEarnAmount"`
	BeanRedeemAmount        int         `json:"beanRedeemAmount"`
	PickupCode              string      `json:"pickupCode,omitempty"`
	EstimatedCompletionTime *time.Time  `json:"estimatedCompletionTime,omitempty"`
	CreatedAt               time.Time   `json:"createdAt"`
	UpdatedAt               time.Time   `json:"updatedAt"`
}

// Check reports whether the fields a tracker relies on are present.
func (o *OrderRecord) Check() error {
	if o.ID == "" {
		return errors.New("missing id")
	}
	if !o.Status.Valid() {
		return fmt.Errorf("unknown status %q", o.Status)
	}
	return nil
}
