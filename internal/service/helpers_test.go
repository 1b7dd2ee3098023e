package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"payment-service/internal/gateway"
	"payment-service/internal/gateway/gatewaytest"
	"payment-service/internal/models"
	"payment-service/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingHook struct {
	mu          sync.Mutex
	transitions []Transition
	err         error
}

func (h *recordingHook) OrderTransitioned(ctx context.Context, t Transition) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.transitions = append(h.transitions, t)
	return h.err
}

func (h *recordingHook) all() []Transition {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Transition(nil), h.transitions...)
}

type testEnv struct {
	repo   *store.MemoryStore
	gw     *gatewaytest.Fake
	hook   *recordingHook
	logger *zap.Logger
}

func newTestEnv() *testEnv {
	return &testEnv{
		repo:   store.NewMemoryStore(),
		gw:     gatewaytest.New(),
		hook:   &recordingHook{},
		logger: zap.NewNop(),
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// seedOrder stores a pending order with a single item worth total.
func (e *testEnv) seedOrder(t *testing.T, id, total string) *models.Order {
	t.Helper()

	order := &models.Order{
		ID:            id,
		Status:        models.OrderStatusPending,
		TotalAmount:   dec(total),
		Currency:      "ARS",
		CustomerEmail: "buyer@example.com",
	}
	err := e.repo.WithTx(context.Background(), func(tx store.Tx) error {
		if err := tx.InsertOrder(context.Background(), order); err != nil {
			return err
		}
		return tx.InsertOrderItem(context.Background(), &models.OrderItem{
			ID:         id + "-item",
			OrderID:    id,
			Title:      "Widget",
			Quantity:   1,
			UnitPrice:  dec(total),
			TotalPrice: dec(total),
		})
	})
	require.NoError(t, err)
	return order
}

func paymentRecord(id, orderID, status, amount string) gateway.PaymentRecord {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return gateway.PaymentRecord{
		ID:                gateway.FlexibleID(id),
		Status:            status,
		ExternalReference: orderID,
		TransactionAmount: dec(amount),
		CurrencyID:        "ARS",
		PaymentMethodID:   "visa",
		PaymentTypeID:     "credit_card",
		DateCreated:       &now,
	}
}

var errBoom = errors.New("boom")
