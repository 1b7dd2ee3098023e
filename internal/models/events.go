package models

import "time"

// Event types
const (
	EventTypeOrderStatusChanged          = "ORDER_STATUS_CHANGED"
	EventTypePaymentNotificationReceived = "PAYMENT_NOTIFICATION_RECEIVED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderStatusChangedEvent is published after a committed order transition.
// Inventory, notification and accounting consumers hang off this event.
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID           string        `json:"order_id"`
	PreviousStatus    OrderStatus   `json:"previous_status"`
	Status            OrderStatus   `json:"status"`
	ExternalPaymentID string        `json:"external_payment_id,omitempty"`
	PaymentStatus     PaymentStatus `json:"payment_status,omitempty"`
	FailureReason     string        `json:"failure_reason,omitempty"`
	TotalAmount       string        `json:"total_amount"`
	Currency          string        `json:"currency"`
}

// PaymentNotificationEvent carries a verified gateway notification to the async worker.
type PaymentNotificationEvent struct {
	BaseEvent
	RequestID string `json:"request_id"`
	Type      string `json:"type"`
	Action    string `json:"action"`
	DataID    string `json:"data_id"`
}
