package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Order is a purchase order paid through a gateway preference.
type Order struct {
	ID             string          `db:"id" json:"id"`
	PreferenceID   string          `db:"preference_id" json:"preference_id,omitempty"`
	Status         OrderStatus     `db:"status" json:"status"`
	PreviousStatus OrderStatus     `db:"previous_status" json:"previous_status,omitempty"`
	TotalAmount    decimal.Decimal `db:"total_amount" json:"total_amount"`
	Currency       string          `db:"currency" json:"currency"`
	CustomerEmail  string          `db:"customer_email" json:"customer_email"`
	CustomerName   string          `db:"customer_name" json:"customer_name,omitempty"`
	CustomerPhone  string          `db:"customer_phone" json:"customer_phone,omitempty"`
	Notes          string          `db:"notes" json:"notes,omitempty"`
	Metadata       JSONMap         `db:"metadata" json:"metadata,omitempty"`
	PaidAt         *time.Time      `db:"paid_at" json:"paid_at,omitempty"`
	CancelledAt    *time.Time      `db:"cancelled_at" json:"cancelled_at,omitempty"`
	RefundedAt     *time.Time      `db:"refunded_at" json:"refunded_at,omitempty"`
	FailureReason  string          `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`

	Items    []OrderItem `db:"-" json:"items"`
	Payments []Payment   `db:"-" json:"payments"`
}

// OrderItem is a line of an order. TotalPrice is fixed at creation.
type OrderItem struct {
	ID          string          `db:"id" json:"id"`
	OrderID     string          `db:"order_id" json:"order_id"`
	ProductID   string          `db:"product_id" json:"product_id,omitempty"`
	Title       string          `db:"title" json:"title"`
	Description string          `db:"description" json:"description,omitempty"`
	CategoryID  string          `db:"category_id" json:"category_id,omitempty"`
	PictureURL  string          `db:"picture_url" json:"picture_url,omitempty"`
	Quantity    int             `db:"quantity" json:"quantity"`
	UnitPrice   decimal.Decimal `db:"unit_price" json:"unit_price"`
	TotalPrice  decimal.Decimal `db:"total_price" json:"total_price"`
	Metadata    JSONMap         `db:"metadata" json:"metadata,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// Payment mirrors one gateway payment. ExternalPaymentID is unique and is the idempotency key
// for reconciliation.
type Payment struct {
	ID                string          `db:"id" json:"id"`
	ExternalPaymentID string          `db:"external_payment_id" json:"external_payment_id"`
	OrderID           string          `db:"order_id" json:"order_id"`
	Status            PaymentStatus   `db:"status" json:"status"`
	PreviousStatus    PaymentStatus   `db:"previous_status" json:"previous_status,omitempty"`
	Amount            decimal.Decimal `db:"amount" json:"amount"`
	RefundedAmount    decimal.Decimal `db:"refunded_amount" json:"refunded_amount"`
	Currency          string          `db:"currency" json:"currency"`
	PaymentMethodID   string          `db:"payment_method_id" json:"payment_method_id,omitempty"`
	PaymentTypeID     string          `db:"payment_type_id" json:"payment_type_id,omitempty"`
	TransactionID     string          `db:"transaction_id" json:"transaction_id,omitempty"`
	Description       string          `db:"description" json:"description,omitempty"`
	StatusDetail      string          `db:"status_detail" json:"status_detail,omitempty"`
	PayerEmail        string          `db:"payer_email" json:"payer_email,omitempty"`
	PayerID           string          `db:"payer_id" json:"payer_id,omitempty"`
	GatewayPayload    RawPayload      `db:"gateway_payload" json:"gateway_payload,omitempty"`
	WebhookAttempts   int             `db:"webhook_attempts" json:"webhook_attempts"`
	LastWebhookAt     *time.Time      `db:"last_webhook_at" json:"last_webhook_at,omitempty"`
	DateApproved      *time.Time      `db:"date_approved" json:"date_approved,omitempty"`
	DateCreated       *time.Time      `db:"date_created" json:"date_created,omitempty"`
	DateLastUpdated   *time.Time      `db:"date_last_updated" json:"date_last_updated,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// RefundableAmount is what is left to refund on the payment.
func (p *Payment) RefundableAmount() decimal.Decimal {
	return p.Amount.Sub(p.RefundedAmount)
}

// WebhookNotification is the audit row of one gateway delivery.
type WebhookNotification struct {
	ID             string     `db:"id" json:"id"`
	NotificationID string     `db:"notification_id" json:"notification_id"`
	Type           string     `db:"type" json:"type"`
	Action         string     `db:"action" json:"action"`
	DataID         string     `db:"data_id" json:"data_id"`
	SignatureValid bool       `db:"signature_valid" json:"signature_valid"`
	Processed      bool       `db:"processed" json:"processed"`
	Error          string     `db:"error" json:"error,omitempty"`
	ReceivedAt     time.Time  `db:"received_at" json:"received_at"`
	ProcessedAt    *time.Time `db:"processed_at" json:"processed_at,omitempty"`
}

// JSONMap is a free-form JSON object stored in a JSONB column.
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *JSONMap) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return errors.New("models: unsupported JSONMap source")
	}
}

// RawPayload is a gateway response kept byte-for-byte for audit.
type RawPayload []byte

func (p RawPayload) Value() (driver.Value, error) {
	if len(p) == 0 {
		return nil, nil
	}
	return string(p), nil
}

func (p *RawPayload) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*p = nil
	case []byte:
		*p = append((*p)[:0], v...)
	case string:
		*p = RawPayload(v)
	default:
		return errors.New("models: unsupported RawPayload source")
	}
	return nil
}

func (p RawPayload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	return p, nil
}

func (p *RawPayload) UnmarshalJSON(data []byte) error {
	*p = append((*p)[:0], data...)
	return nil
}
