package service

import (
	"context"
	"time"

	"payment-service/internal/gateway"
	"payment-service/internal/models"

	"github.com/shopspring/decimal"
)

// PaymentGateway is the remote payment provider. *gateway.Client implements it.
type PaymentGateway interface {
	CreatePreference(ctx context.Context, req *gateway.PreferenceRequest, idempotencyKey string) (*gateway.Preference, error)
	GetPayment(ctx context.Context, paymentID string) (*gateway.PaymentRecord, error)
	CreateRefund(ctx context.Context, paymentID string, amount *decimal.Decimal, idempotencyKey string) (*gateway.Refund, error)
	ListRefunds(ctx context.Context, paymentID string) ([]gateway.Refund, error)
	GetRefund(ctx context.Context, paymentID, refundID string) (*gateway.Refund, error)
}

var _ PaymentGateway = (*gateway.Client)(nil)

// Locker is a lock shared by every instance of the service.
type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (token string, ok bool, err error)
	ReleaseLock(ctx context.Context, lockKey, token string) error
}

// Deduper remembers keys for a while.
type Deduper interface {
	CheckIdempotencyKey(ctx context.Context, key string) (bool, error)
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// StatusEventPublisher receives committed order transitions.
type StatusEventPublisher interface {
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
}

// NotificationQueue hands verified notifications to the background worker.
type NotificationQueue interface {
	PublishPaymentNotification(ctx context.Context, event *models.PaymentNotificationEvent) error
}
