package store

import (
	"context"
	"os"
	"testing"

	"payment-service/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("Integration test - requires database (set TEST_DATABASE_URL)")
	}

	s, err := NewStore(url)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOrderRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	orderID := uuid.New().String()
	err := s.WithTx(ctx, func(tx Tx) error {
		if err := tx.InsertOrder(ctx, &models.Order{
			ID:            orderID,
			Status:        models.OrderStatusPending,
			TotalAmount:   decimal.RequireFromString("25.00"),
			Currency:      "ARS",
			CustomerEmail: "buyer@example.com",
			Metadata:      models.JSONMap{"channel": "web"},
		}); err != nil {
			return err
		}
		return tx.InsertOrderItem(ctx, &models.OrderItem{
			ID: uuid.New().String(), OrderID: orderID, Title: "Widget", Quantity: 2,
			UnitPrice: decimal.RequireFromString("12.50"), TotalPrice: decimal.RequireFromString("25.00"),
		})
	})
	require.NoError(t, err)

	order, err := s.GetOrder(ctx, orderID)
	require.NoError(t, err)
	assert.True(t, order.TotalAmount.Equal(decimal.NewFromInt(25)))
	assert.Equal(t, "web", order.Metadata["channel"])
	assert.Len(t, order.Items, 1)
}

func TestPaymentUniqueExternalID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	orderID := uuid.New().String()
	externalID := uuid.New().String()

	insert := func() error {
		return s.WithTx(ctx, func(tx Tx) error {
			return tx.InsertPayment(ctx, &models.Payment{
				ID: uuid.New().String(), ExternalPaymentID: externalID, OrderID: orderID,
				Status: models.PaymentStatusPending, Amount: decimal.NewFromInt(10),
			})
		})
	}

	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		return tx.InsertOrder(ctx, &models.Order{
			ID: orderID, Status: models.OrderStatusPending, TotalAmount: decimal.NewFromInt(10),
			Currency: "ARS", CustomerEmail: "buyer@example.com",
		})
	}))

	require.NoError(t, insert())
	assert.Error(t, insert()) // unique constraint on external_payment_id

	p, err := s.GetPaymentByExternalID(ctx, externalID)
	require.NoError(t, err)
	assert.Equal(t, orderID, p.OrderID)
}
