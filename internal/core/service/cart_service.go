package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/cafe-order/internal/core/domain"
	"github.com/rl1809/cafe-order/internal/port"
)

type CartLine struct {
	LineID string `json:"lineId"`
	domain.LineItem
	LineTotal domain.Money `json:"lineTotal"`
}

// CartSummary is a priced view of a session's ledger.
type CartSummary struct {
	Lines    []CartLine   `json:"lines"`
	Quantity int          `json:"quantity"`
	Subtotal domain.Money `json:"subtotal"`
	Tax      domain.Money `json:"tax"`
	Total    domain.Money `json:"total"`
}

// CartService edits session carts, pricing new lines from the catalog.
type CartService struct {
	client   port.OrderClient
	sessions *SessionManager
	taxRate  decimal.Decimal
	logger   *zap.Logger
}

func NewCartService(client port.OrderClient, sessions *SessionManager, taxRate decimal.Decimal, logger *zap.Logger) *CartService {
	return &CartService{client: client, sessions: sessions, taxRate: taxRate, logger: logger}
}

func (s *CartService) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.client.ListProducts(ctx)
}

// AddItem prices the product with the chosen options and adds it to the
// cart. The unit price is fixed from then on.
func (s *CartService) AddItem(ctx context.Context, sess *Session, productID string, quantity int, c domain.Customization) (domain.LineItem, error) {
	if quantity <= 0 {
		return domain.LineItem{}, ErrInvalidQuantity
	}

	product, err := s.client.GetProduct(ctx, productID)
	if err != nil {
		return domain.LineItem{}, fmt.Errorf("load product %s: %w", productID, err)
	}
	price, err := product.PriceFor(c.SelectedOptionIDs)
	if err != nil {
		return domain.LineItem{}, err
	}

	item := domain.NewLineItem(product.Key(), product.Name, price, quantity, c)
	item.ImageRef = product.ImageURL
	sess.Ledger.Add(item)
	s.sessions.Persist(ctx, sess)

	s.logger.Debug("cart line added",
		zap.String("session_id", sess.ID), zap.String("product_id", item.ProductID), zap.Int("quantity", quantity))
	return item, nil
}

// SetQuantity reports whether lineID matched a line in the cart.
func (s *CartService) SetQuantity(ctx context.Context, sess *Session, lineID string, quantity int) (bool, error) {
	key, err := domain.ParseItemKey(lineID)
	if err != nil {
		return false, err
	}
	matched := sess.Ledger.SetQuantity(key, quantity)
	if matched {
		s.sessions.Persist(ctx, sess)
	}
	return matched, nil
}

func (s *CartService) Remove(ctx context.Context, sess *Session, lineID string) (bool, error) {
	key, err := domain.ParseItemKey(lineID)
	if err != nil {
		return false, err
	}
	matched := sess.Ledger.Remove(key)
	if matched {
		s.sessions.Persist(ctx, sess)
	}
	return matched, nil
}

func (s *CartService) Clear(ctx context.Context, sess *Session) {
	sess.Ledger.Clear()
	s.sessions.Persist(ctx, sess)
}

func (s *CartService) Summary(sess *Session) CartSummary {
	items := sess.Ledger.Items()
	summary := CartSummary{Lines: make([]CartLine, 0, len(items))}
	for _, item := range items {
		summary.Lines = append(summary.Lines, CartLine{
			LineID:    item.Key().String(),
			LineItem:  item,
			LineTotal: item.LineTotal(),
		})
		summary.Quantity += item.Quantity
		summary.Subtotal += item.LineTotal()
	}
	summary.Tax = summary.Subtotal.ApplyRate(s.taxRate)
	summary.Total = summary.Subtotal + summary.Tax
	return summary
}
