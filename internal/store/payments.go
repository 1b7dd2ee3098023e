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

const paymentColumns = `id, external_payment_id, order_id, status, previous_status, amount, refunded_amount,
	currency, payment_method_id, payment_type_id, transaction_id, description, status_detail,
	payer_email, payer_id, gateway_payload, webhook_attempts, last_webhook_at,
	date_approved, date_created, date_last_updated, created_at, updated_at`

// GetPaymentsByOrderID retrieves the payments of an order, newest first
func (s *Store) GetPaymentsByOrderID(ctx context.Context, orderID string) ([]models.Payment, error) {
	return getPaymentsByOrderID(ctx, s.db, orderID)
}

// GetPaymentByExternalID retrieves a payment by its gateway id
func (s *Store) GetPaymentByExternalID(ctx context.Context, externalID string) (*models.Payment, error) {
	return getPaymentByExternalID(ctx, s.db, externalID, false)
}

func getPaymentsByOrderID(ctx context.Context, q sqlx.ExtContext, orderID string) ([]models.Payment, error) {
	payments := []models.Payment{}
	err := sqlx.SelectContext(ctx, q, &payments,
		"SELECT "+paymentColumns+" FROM payments WHERE order_id = $1 ORDER BY created_at DESC, id", orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get payments: %w", err)
	}
	return payments, nil
}

func getPaymentByExternalID(ctx context.Context, q sqlx.ExtContext, externalID string, forUpdate bool) (*models.Payment, error) {
	query := "SELECT " + paymentColumns + " FROM payments WHERE external_payment_id = $1"
	if forUpdate {
		query += " FOR UPDATE"
	}

	var payment models.Payment
	err := sqlx.GetContext(ctx, q, &payment, query, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payment %s: %w", externalID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &payment, nil
}

func insertPayment(ctx context.Context, q sqlx.ExtContext, payment *models.Payment) error {
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}
	payment.UpdatedAt = payment.CreatedAt

	_, err := sqlx.NamedExecContext(ctx, q, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES (:id, :external_payment_id, :order_id, :status, :previous_status, :amount, :refunded_amount,
			:currency, :payment_method_id, :payment_type_id, :transaction_id, :description, :status_detail,
			:payer_email, :payer_id, :gateway_payload, :webhook_attempts, :last_webhook_at,
			:date_approved, :date_created, :date_last_updated, :created_at, :updated_at)`,
		payment)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

func updatePayment(ctx context.Context, q sqlx.ExtContext, payment *models.Payment) error {
	payment.UpdatedAt = time.Now().UTC()

	res, err := sqlx.NamedExecContext(ctx, q, `
		UPDATE payments SET
			status = :status,
			previous_status = :previous_status,
			amount = :amount,
			refunded_amount = :refunded_amount,
			currency = :currency,
			payment_method_id = :payment_method_id,
			payment_type_id = :payment_type_id,
			transaction_id = :transaction_id,
			description = :description,
			status_detail = :status_detail,
			payer_email = :payer_email,
			payer_id = :payer_id,
			gateway_payload = :gateway_payload,
			webhook_attempts = :webhook_attempts,
			last_webhook_at = :last_webhook_at,
			date_approved = :date_approved,
			date_created = :date_created,
			date_last_updated = :date_last_updated,
			updated_at = :updated_at
		WHERE id = :id`,
		payment)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	return requireRow(res, "payment", payment.ID)
}
