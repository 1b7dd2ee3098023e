package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePaymentStatus(t *testing.T) {
	for _, s := range []string{
		"pending", "approved", "authorized", "in_process", "in_mediation",
		"rejected", "cancelled", "refunded", "charged_back",
	} {
		assert.Equal(t, PaymentStatus(s), ParsePaymentStatus(s))
	}

	assert.Equal(t, PaymentStatusPending, ParsePaymentStatus(""))
	assert.Equal(t, PaymentStatusPending, ParsePaymentStatus("APPROVED"))
	assert.Equal(t, PaymentStatusPending, ParsePaymentStatus("something_new"))
}

func TestPaymentStatusOrderStatus(t *testing.T) {
	tests := map[PaymentStatus]OrderStatus{
		PaymentStatusApproved:    OrderStatusPaid,
		PaymentStatusAuthorized:  OrderStatusPaid,
		PaymentStatusRejected:    OrderStatusFailed,
		PaymentStatusCancelled:   OrderStatusCancelled,
		PaymentStatusRefunded:    OrderStatusRefunded,
		PaymentStatusChargedBack: OrderStatusRefunded,
		PaymentStatusInProcess:   OrderStatusProcessing,
		PaymentStatusInMediation: OrderStatusProcessing,
		PaymentStatusPending:     OrderStatusPending,
		PaymentStatus("bogus"):   OrderStatusPending,
	}

	for payment, order := range tests {
		assert.Equal(t, order, payment.OrderStatus(), "payment status %s", payment)
	}
}

func TestOrderStatusGuards(t *testing.T) {
	assert.False(t, OrderStatusPaid.CanCancel())
	assert.False(t, OrderStatusCancelled.CanCancel())
	assert.True(t, OrderStatusPending.CanCancel())
	assert.True(t, OrderStatusFailed.CanCancel())

	assert.True(t, OrderStatusFailed.CanRetry())
	assert.False(t, OrderStatusPaid.CanRetry())
	assert.Equal(t, "Payment rejected: cc_rejected_other_reason", OrderStatusFailed.Message("cc_rejected_other_reason"))
}

func TestJSONMapScan(t *testing.T) {
	var m JSONMap
	require.NoError(t, m.Scan([]byte(`{"channel":"web"}`)))
	assert.Equal(t, "web", m["channel"])

	require.NoError(t, m.Scan(nil))
	assert.Nil(t, m)

	v, err := JSONMap(nil).Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestRawPayloadRoundTrip(t *testing.T) {
	var p RawPayload
	require.NoError(t, p.Scan([]byte(`{"id":1}`)))

	out, err := p.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1}`, string(out))
}

func TestRefundableAmount(t *testing.T) {
	p := Payment{Amount: decimal.NewFromInt(100), RefundedAmount: decimal.NewFromInt(40)}
	assert.True(t, p.RefundableAmount().Equal(decimal.NewFromInt(60)))
}
