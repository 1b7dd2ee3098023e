package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"payment-service/internal/models"

	"github.com/jmoiron/sqlx"
)

const orderColumns = `id, preference_id, status, previous_status, total_amount, currency,
	customer_email, customer_name, customer_phone, notes, metadata,
	paid_at, cancelled_at, refunded_at, failure_reason, created_at, updated_at`

// GetOrder retrieves an order by ID with its items and payments
func (s *Store) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	return getOrder(ctx, s.db, id, false)
}

func getOrder(ctx context.Context, q sqlx.ExtContext, id string, forUpdate bool) (*models.Order, error) {
	query := "SELECT " + orderColumns + " FROM orders WHERE id = $1"
	if forUpdate {
		query += " FOR UPDATE"
	}

	var order models.Order
	err := sqlx.GetContext(ctx, q, &order, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	order.Items = []models.OrderItem{}
	err = sqlx.SelectContext(ctx, q, &order.Items,
		"SELECT "+itemColumns+" FROM order_items WHERE order_id = $1 ORDER BY created_at, id", id)
	if err != nil {
		return nil, fmt.Errorf("failed to get order items: %w", err)
	}

	order.Payments, err = getPaymentsByOrderID(ctx, q, id)
	if err != nil {
		return nil, err
	}

	return &order, nil
}

func insertOrder(ctx context.Context, q sqlx.ExtContext, order *models.Order) error {
	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = order.CreatedAt

	_, err := sqlx.NamedExecContext(ctx, q, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES (:id, :preference_id, :status, :previous_status, :total_amount, :currency,
			:customer_email, :customer_name, :customer_phone, :notes, :metadata,
			:paid_at, :cancelled_at, :refunded_at, :failure_reason, :created_at, :updated_at)`,
		order)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

func updateOrder(ctx context.Context, q sqlx.ExtContext, order *models.Order) error {
	order.UpdatedAt = time.Now().UTC()

	res, err := sqlx.NamedExecContext(ctx, q, `
		UPDATE orders SET
			preference_id = :preference_id,
			status = :status,
			previous_status = :previous_status,
			customer_email = :customer_email,
			customer_name = :customer_name,
			customer_phone = :customer_phone,
			notes = :notes,
			metadata = :metadata,
			paid_at = :paid_at,
			cancelled_at = :cancelled_at,
			refunded_at = :refunded_at,
			failure_reason = :failure_reason,
			updated_at = :updated_at
		WHERE id = :id`,
		order)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	return requireRow(res, "order", order.ID)
}

const itemColumns = `id, order_id, product_id, title, description, category_id, picture_url,
	quantity, unit_price, total_price, metadata, created_at`

func insertOrderItem(ctx context.Context, q sqlx.ExtContext, item *models.OrderItem) error {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	_, err := sqlx.NamedExecContext(ctx, q, `
		INSERT INTO order_items (`+itemColumns+`)
		VALUES (:id, :order_id, :product_id, :title, :description, :category_id, :picture_url,
			:quantity, :unit_price, :total_price, :metadata, :created_at)`,
		item)
	if err != nil {
		return fmt.Errorf("failed to insert order item: %w", err)
	}
	return nil
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}
