package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// FlexibleID accepts ids sent either as JSON numbers or strings.
type FlexibleID string

func (id *FlexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = FlexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("gateway: id is neither string nor number: %s", data)
	}
	*id = FlexibleID(n.String())
	return nil
}

func (id FlexibleID) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id FlexibleID) String() string { return string(id) }

// PaymentRecord is the subset of GET /v1/payments/{id} the service reconciles on.
// Raw holds the full response body.
type PaymentRecord struct {
	ID                        FlexibleID         `json:"id"`
	Status                    string             `json:"status"`
	StatusDetail              string             `json:"status_detail"`
	ExternalReference         string             `json:"external_reference"`
	TransactionAmount         decimal.Decimal    `json:"transaction_amount"`
	TransactionAmountRefunded decimal.Decimal    `json:"transaction_amount_refunded"`
	CurrencyID                string             `json:"currency_id"`
	PaymentMethodID           string             `json:"payment_method_id"`
	PaymentTypeID             string             `json:"payment_type_id"`
	Description               string             `json:"description"`
	TransactionDetails        TransactionDetails `json:"transaction_details"`
	Payer                     Payer              `json:"payer"`
	DateApproved              *time.Time         `json:"date_approved"`
	DateCreated               *time.Time         `json:"date_created"`
	DateLastUpdated           *time.Time         `json:"date_last_updated"`

	Raw json.RawMessage `json:"-"`
}

type TransactionDetails struct {
	TransactionID string `json:"transaction_id"`
}

type Payer struct {
	ID    FlexibleID `json:"id"`
	Email string     `json:"email"`
}

// Refund is a gateway refund of a payment.
type Refund struct {
	ID          FlexibleID      `json:"id"`
	PaymentID   FlexibleID      `json:"payment_id"`
	Amount      decimal.Decimal `json:"amount"`
	Status      string          `json:"status"`
	DateCreated *time.Time      `json:"date_created"`

	Raw json.RawMessage `json:"-"`
}

// Preference is the checkout preference returned by POST /checkout/preferences.
type Preference struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`
}

// PreferenceRequest is the body of POST /checkout/preferences. Amounts are plain JSON numbers.
type PreferenceRequest struct {
	Items               []PreferenceItem   `json:"items"`
	Payer               PreferencePayer    `json:"payer"`
	BackURLs            BackURLs           `json:"back_urls"`
	AutoReturn          string             `json:"auto_return,omitempty"`
	ExternalReference   string             `json:"external_reference"`
	NotificationURL     string             `json:"notification_url,omitempty"`
	StatementDescriptor string             `json:"statement_descriptor,omitempty"`
	BinaryMode          bool               `json:"binary_mode"`
	Expires             bool               `json:"expires"`
	ExpirationDateFrom  *time.Time         `json:"expiration_date_from,omitempty"`
	ExpirationDateTo    *time.Time         `json:"expiration_date_to,omitempty"`
	Metadata            map[string]any     `json:"metadata,omitempty"`
	PaymentMethods      PaymentMethodRules `json:"payment_methods"`
	Shipments           *Shipments         `json:"shipments,omitempty"`
}

type PreferenceItem struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	CurrencyID  string  `json:"currency_id"`
	PictureURL  string  `json:"picture_url,omitempty"`
	CategoryID  string  `json:"category_id,omitempty"`
}

type PreferencePayer struct {
	Name           string          `json:"name"`
	Surname        string          `json:"surname"`
	Email          string          `json:"email"`
	Phone          *Phone          `json:"phone,omitempty"`
	Identification *Identification `json:"identification,omitempty"`
	Address        *Address        `json:"address,omitempty"`
}

type Phone struct {
	AreaCode string `json:"area_code"`
	Number   string `json:"number"`
}

type Identification struct {
	Type   string `json:"type"`
	Number string `json:"number"`
}

type Address struct {
	StreetName   string `json:"street_name,omitempty"`
	StreetNumber string `json:"street_number,omitempty"`
	ZipCode      string `json:"zip_code,omitempty"`
}

type BackURLs struct {
	Success string `json:"success"`
	Failure string `json:"failure"`
	Pending string `json:"pending"`
}

type PaymentMethodRules struct {
	ExcludedPaymentMethods []IDRef `json:"excluded_payment_methods"`
	ExcludedPaymentTypes   []IDRef `json:"excluded_payment_types"`
	Installments           int     `json:"installments,omitempty"`
}

type IDRef struct {
	ID string `json:"id"`
}

type Shipments struct {
	Cost float64 `json:"cost"`
	Mode string  `json:"mode"`
}

type refundRequest struct {
	Amount *float64 `json:"amount,omitempty"`
}
