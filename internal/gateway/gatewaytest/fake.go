// Package gatewaytest provides an in-memory payment gateway for tests.
package gatewaytest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"payment-service/internal/apperr"
	"payment-service/internal/gateway"

	"github.com/shopspring/decimal"
)

// Fake records calls and serves payments registered with AddPayment.
type Fake struct {
	mu sync.Mutex

	payments    map[string]*gateway.PaymentRecord
	refunds     map[string][]gateway.Refund
	preferences []gateway.PreferenceRequest
	nextID      int

	// PreferenceErr, PaymentErr and RefundErr make the matching calls fail.
	PreferenceErr error
	PaymentErr    error
	RefundErr     error
	// OmitRefundAmount makes CreateRefund answer without an amount.
	OmitRefundAmount bool

	RefundCalls int
}

func New() *Fake {
	return &Fake{
		payments: map[string]*gateway.PaymentRecord{},
		refunds:  map[string][]gateway.Refund{},
		nextID:   1000,
	}
}

// AddPayment registers or replaces the record returned for its id.
func (f *Fake) AddPayment(rec gateway.PaymentRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec.Raw == nil {
		rec.Raw = []byte(fmt.Sprintf(`{"id":"%s","status":"%s"}`, rec.ID, rec.Status))
	}
	f.payments[string(rec.ID)] = &rec
}

// Preferences returns the preference requests received so far.
func (f *Fake) Preferences() []gateway.PreferenceRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gateway.PreferenceRequest(nil), f.preferences...)
}

func (f *Fake) CreatePreference(ctx context.Context, req *gateway.PreferenceRequest, idempotencyKey string) (*gateway.Preference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.PreferenceErr != nil {
		return nil, f.PreferenceErr
	}
	f.preferences = append(f.preferences, *req)
	f.nextID++
	id := fmt.Sprintf("pref-%d", f.nextID)
	return &gateway.Preference{
		ID:               id,
		InitPoint:        "https://www.mercadopago.com/checkout?pref_id=" + id,
		SandboxInitPoint: "https://sandbox.mercadopago.com/checkout?pref_id=" + id,
	}, nil
}

func (f *Fake) GetPayment(ctx context.Context, paymentID string) (*gateway.PaymentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.PaymentErr != nil {
		return nil, f.PaymentErr
	}
	rec, ok := f.payments[paymentID]
	if !ok {
		return nil, apperr.ExternalService("get_payment failed", &gateway.StatusError{StatusCode: 404, Body: "not found"})
	}
	c := *rec
	return &c, nil
}

func (f *Fake) CreateRefund(ctx context.Context, paymentID string, amount *decimal.Decimal, idempotencyKey string) (*gateway.Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.RefundCalls++
	if f.RefundErr != nil {
		return nil, f.RefundErr
	}

	var value decimal.Decimal
	switch {
	case f.OmitRefundAmount:
	case amount != nil:
		value = *amount
	default:
		if rec, ok := f.payments[paymentID]; ok {
			value = rec.TransactionAmount.Sub(rec.TransactionAmountRefunded)
		}
	}

	if rec, ok := f.payments[paymentID]; ok {
		rec.TransactionAmountRefunded = rec.TransactionAmountRefunded.Add(value)
	}

	f.nextID++
	now := time.Now()
	refund := gateway.Refund{
		ID:          gateway.FlexibleID(fmt.Sprint(f.nextID)),
		PaymentID:   gateway.FlexibleID(paymentID),
		Amount:      value,
		Status:      "approved",
		DateCreated: &now,
	}
	f.refunds[paymentID] = append(f.refunds[paymentID], refund)
	return &refund, nil
}

func (f *Fake) ListRefunds(ctx context.Context, paymentID string) ([]gateway.Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gateway.Refund{}, f.refunds[paymentID]...), nil
}

func (f *Fake) GetRefund(ctx context.Context, paymentID, refundID string) (*gateway.Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, r := range f.refunds[paymentID] {
		if string(r.ID) == refundID {
			c := r
			return &c, nil
		}
	}
	return nil, apperr.ExternalService("get_refund failed", &gateway.StatusError{StatusCode: 404, Body: "not found"})
}
