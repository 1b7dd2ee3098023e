package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"payment-service/internal/models"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	orders        *Producer
	notifications *Producer
}

// NewEventPublisher creates a publisher for the order-events and payment-notifications topics
func NewEventPublisher(orders, notifications *Producer) *EventPublisher {
	return &EventPublisher{orders: orders, notifications: notifications}
}

// PublishOrderStatusChanged publishes ORDER_STATUS_CHANGED keyed by order
func (ep *EventPublisher) PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	return ep.orders.PublishEvent(ctx, "order-"+event.OrderID, event)
}

// PublishPaymentNotification queues a verified gateway notification keyed by the notified resource
func (ep *EventPublisher) PublishPaymentNotification(ctx context.Context, event *models.PaymentNotificationEvent) error {
	if ep.notifications == nil {
		return fmt.Errorf("notification topic not configured")
	}
	return ep.notifications.PublishEvent(ctx, "payment-"+event.DataID, event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onPaymentNotification func(context.Context, *models.PaymentNotificationEvent) error
	logger                *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler(logger *zap.Logger) *EventHandler {
	return &EventHandler{logger: logger}
}

// OnPaymentNotification registers a handler for PAYMENT_NOTIFICATION_RECEIVED events
func (eh *EventHandler) OnPaymentNotification(handler func(context.Context, *models.PaymentNotificationEvent) error) {
	eh.onPaymentNotification = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("event_type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypePaymentNotificationReceived:
		if eh.onPaymentNotification != nil {
			var event models.PaymentNotificationEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PaymentNotification event: %w", err)
			}
			return eh.onPaymentNotification(ctx, &event)
		}

	default:
		eh.logger.Warn("Unhandled event type", zap.String("event_type", baseEvent.EventType))
	}

	return nil
}
