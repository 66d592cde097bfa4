package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rl1809/cafe-order/internal/core/domain"
	"github.com/rl1809/cafe-order/internal/port"
)

const orderColumns = `id, user_id, order_type, table_id, status, items,
	subtotal_amount, tax_amount, discount_amount, total_amount,
	bean_earn_amount, bean_redeem_amount, pickup_code, estimated_completion_at,
	created_at, updated_at`

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

func (m *MySQLAdapter) CreateOrder(ctx context.Context, order domain.OrderRecord) error {
	items, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("encode items: %w", err)
	}

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(order.ID), order.UserID, order.OrderType, order.TableID, order.Status, items,
		int64(order.SubtotalAmount), int64(order.TaxAmount), int64(order.DiscountAmount), int64(order.TotalAmount),
		order.BeanEarnAmount, order.BeanRedeemAmount, order.PickupCode, order.EstimatedCompletionTime,
		order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	return nil
}

func (m *MySQLAdapter) GetOrder(ctx context.Context, orderID string) (*domain.OrderRecord, error) {
	row := m.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, orderID)

	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	return order, nil
}

func (m *MySQLAdapter) ListOrdersByUser(ctx context.Context, userID string) ([]domain.OrderRecord, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	return collectOrders(rows)
}

func (m *MySQLAdapter) ListOrdersByStatus(ctx context.Context, statuses ...domain.OrderStatus) ([]domain.OrderRecord, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = s
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status IN (`+placeholders(len(args))+`) ORDER BY created_at ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	return collectOrders(rows)
}

func (m *MySQLAdapter) UpdateStatus(ctx context.Context, orderID string, from, to domain.OrderStatus) error {
	result, err := m.db.ExecContext(ctx, `
		UPDATE orders
		SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		to, time.Now(), orderID, from,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return port.ErrOptimisticLock
	}

	return nil
}

func (m *MySQLAdapter) GetProducts(ctx context.Context, productIDs []int64) (map[int64]domain.Product, error) {
	out := make(map[int64]domain.Product, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}
	args := make([]any, len(productIDs))
	for i, id := range productIDs {
		args[i] = id
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT id, name, description, category, base_price, image_url, customizations
		FROM products WHERE id IN (`+placeholders(len(args))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	products, err := collectProducts(rows)
	if err != nil {
		return nil, err
	}
	for _, p := range products {
		out[p.ID] = p
	}
	return out, nil
}

func (m *MySQLAdapter) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, name, description, category, base_price, image_url, customizations
		FROM products ORDER BY category, id`)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	return collectProducts(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (*domain.OrderRecord, error) {
	var (
		order   domain.OrderRecord
		id      string
		tableID sql.NullInt64
		items   []byte
		eta     sql.NullTime

		subtotal, tax, discount, total int64
	)
	err := s.Scan(&id, &order.UserID, &order.OrderType, &tableID, &order.Status, &items,
		&subtotal, &tax, &discount, &total,
		&order.BeanEarnAmount, &order.BeanRedeemAmount, &order.PickupCode, &eta,
		&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(items, &order.Items); err != nil {
		return nil, fmt.Errorf("decode items of order %s: %w", id, err)
	}
	order.ID = domain.OrderID(id)
	order.SubtotalAmount = domain.Money(subtotal)
	order.TaxAmount = domain.Money(tax)
	order.DiscountAmount = domain.Money(discount)
	order.TotalAmount = domain.Money(total)
	if tableID.Valid {
		order.TableID = &tableID.Int64
	}
	if eta.Valid {
		order.EstimatedCompletionTime = &eta.Time
	}
	return &order, nil
}

func collectOrders(rows *sql.Rows) ([]domain.OrderRecord, error) {
	defer rows.Close()

	var orders []domain.OrderRecord
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}

func collectProducts(rows *sql.Rows) ([]domain.Product, error) {
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		var (
			p              domain.Product
			basePrice      int64
			customizations []byte
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Category, &basePrice, &p.ImageURL, &customizations); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		if err := json.Unmarshal(customizations, &p.Customizations); err != nil {
			return nil, fmt.Errorf("decode customizations of product %d: %w", p.ID, err)
		}
		p.BasePrice = domain.Money(basePrice)
		products = append(products, p)
	}
	return products, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
