package service

import (
	"context"
	"time"

	"payment-service/internal/models"
	"payment-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Transition is a committed change of an order's status.
type Transition struct {
	Order   models.Order
	From    models.OrderStatus
	To      models.OrderStatus
	Payment *models.Payment // nil for cancellations
}

// TransitionHook runs after the transaction that changed the order has committed.
// Errors are logged and never undo the transition.
type TransitionHook interface {
	OrderTransitioned(ctx context.Context, t Transition) error
}

type NoopHook struct{}

func (NoopHook) OrderTransitioned(context.Context, Transition) error { return nil }

// EventHook publishes ORDER_STATUS_CHANGED for every transition.
type EventHook struct {
	publisher StatusEventPublisher
}

func NewEventHook(publisher StatusEventPublisher) *EventHook {
	return &EventHook{publisher: publisher}
}

func (h *EventHook) OrderTransitioned(ctx context.Context, t Transition) error {
	event := &models.OrderStatusChangedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderStatusChanged,
			Timestamp: time.Now(),
		},
		OrderID:        t.Order.ID,
		PreviousStatus: t.From,
		Status:         t.To,
		FailureReason:  t.Order.FailureReason,
		TotalAmount:    t.Order.TotalAmount.StringFixed(2),
		Currency:       t.Order.Currency,
	}
	if t.Payment != nil {
		event.ExternalPaymentID = t.Payment.ExternalPaymentID
		event.PaymentStatus = t.Payment.Status
	}
	return h.publisher.PublishOrderStatusChanged(ctx, event)
}

// runHook records the transition metric and calls the hook, logging its error.
func runHook(ctx context.Context, hook TransitionHook, logger *zap.Logger, t Transition) {
	util.OrderTransitionsTotal.WithLabelValues(string(t.From), string(t.To)).Inc()
	logger.Info("Order status changed",
		zap.String("order_id", t.Order.ID),
		zap.String("from", string(t.From)),
		zap.String("to", string(t.To)))

	if err := hook.OrderTransitioned(ctx, t); err != nil {
		logger.Error("Post-transition hook failed",
			zap.String("order_id", t.Order.ID),
			zap.String("from", string(t.From)),
			zap.String("to", string(t.To)),
			zap.Error(err))
	}
}
