package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"payment-service/internal/apperr"
	"payment-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrderService(env *testEnv) *OrderService {
	return NewOrderService(env.repo, env.gw, env.hook, CheckoutSettings{
		BackendURL:             "https://api.shop.test",
		FrontendURL:            "https://shop.test/",
		Currency:               "ARS",
		StatementDescriptor:    "SHOP TEST",
		PreferenceExpiration:   48 * time.Hour,
		ExcludedPaymentMethods: []string{"amex"},
		ExcludedPaymentTypes:   []string{"ticket"},
	}, env.logger)
}

func sampleRequest() *CreateOrderRequest {
	return &CreateOrderRequest{
		Items: []OrderItemRequest{
			{Title: "Mate", ProductID: "sku-1", Quantity: 2, UnitPrice: dec("10.00")},
			{Title: "Bombilla", Quantity: 1, UnitPrice: dec("5.00")},
		},
		CustomerEmail: "ana@example.com",
		CustomerName:  "Ana Maria Lopez",
		CustomerPhone: "+54 351 456-7890",
	}
}

func TestCreateOrderTotals(t *testing.T) {
	env := newTestEnv()
	svc := newOrderService(env)

	resp, err := svc.CreateOrder(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, resp.OrderID)
	assert.NotEmpty(t, resp.PreferenceID)
	assert.Equal(t, resp.InitPoint, resp.RedirectURL)

	order, err := env.repo.GetOrder(context.Background(), resp.OrderID)
	require.NoError(t, err)
	assert.True(t, order.TotalAmount.Equal(dec("25.00")))
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, resp.PreferenceID, order.PreferenceID)
	require.Len(t, order.Items, 2)

	sum := decimal.Zero
	for _, it := range order.Items {
		sum = sum.Add(it.TotalPrice)
	}
	assert.True(t, sum.Equal(order.TotalAmount))
}

func TestCreateOrderRejectsZeroTotal(t *testing.T) {
	env := newTestEnv()
	svc := newOrderService(env)

	req := sampleRequest()
	for i := range req.Items {
		req.Items[i].UnitPrice = decimal.Zero
	}
	_, err := svc.CreateOrder(context.Background(), req)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Empty(t, env.gw.Preferences())

	_, err = svc.CreateOrder(context.Background(), &CreateOrderRequest{CustomerEmail: "a@b.c"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestCreateOrderRejectsSubCentPrices(t *testing.T) {
	env := newTestEnv()
	svc := newOrderService(env)

	req := &CreateOrderRequest{
		Items: []OrderItemRequest{
			{Title: "A", Quantity: 1, UnitPrice: dec("0.005")},
			{Title: "B", Quantity: 1, UnitPrice: dec("0.005")},
			{Title: "C", Quantity: 1, UnitPrice: dec("0.005")},
		},
		CustomerEmail: "ana@example.com",
	}
	_, err := svc.CreateOrder(context.Background(), req)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Empty(t, env.gw.Preferences())
	assert.Zero(t, env.repo.OrderCount())

	shipping := dec("1.001")
	req = sampleRequest()
	req.ShipmentAmount = &shipping
	_, err = svc.CreateOrder(context.Background(), req)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Zero(t, env.repo.OrderCount())
}

func TestCreateOrderTotalMatchesItemsAndPreference(t *testing.T) {
	env := newTestEnv()
	svc := newOrderService(env)

	req := &CreateOrderRequest{
		Items: []OrderItemRequest{
			{Title: "A", Quantity: 3, UnitPrice: dec("0.33")},
			{Title: "B", Quantity: 7, UnitPrice: dec("1.19")},
		},
		CustomerEmail: "ana@example.com",
	}
	resp, err := svc.CreateOrder(context.Background(), req)
	require.NoError(t, err)

	order, err := env.repo.GetOrder(context.Background(), resp.OrderID)
	require.NoError(t, err)
	assert.True(t, order.TotalAmount.Equal(dec("9.32")))

	sum := decimal.Zero
	for _, it := range order.Items {
		sum = sum.Add(it.TotalPrice)
	}
	assert.True(t, sum.Equal(order.TotalAmount))

	prefs := env.gw.Preferences()
	require.Len(t, prefs, 1)
	charge := decimal.Zero
	for _, it := range prefs[0].Items {
		charge = charge.Add(decimal.NewFromFloat(it.UnitPrice).Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	assert.True(t, charge.Equal(order.TotalAmount), "charge %s total %s", charge, order.TotalAmount)
}

func TestCreateOrderRollsBackOnGatewayFailure(t *testing.T) {
	env := newTestEnv()
	env.gw.PreferenceErr = apperr.ExternalService("create_preference failed", errBoom)
	svc := newOrderService(env)

	_, err := svc.CreateOrder(context.Background(), sampleRequest())
	assert.ErrorIs(t, err, apperr.ErrExternalService)

	assert.Zero(t, env.repo.OrderCount())
}

func TestCreateOrderBuildsPreference(t *testing.T) {
	env := newTestEnv()
	svc := newOrderService(env)
	fixed := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	req := sampleRequest()
	req.Items[1].Title = strings.Repeat("ñ", 300)
	ship := dec("7.5")
	req.ShipmentAmount = &ship
	req.CustomerIdentificationNumber = "30123456"

	resp, err := svc.CreateOrder(context.Background(), req)
	require.NoError(t, err)

	prefs := env.gw.Preferences()
	require.Len(t, prefs, 1)
	p := prefs[0]

	require.Len(t, p.Items, 2)
	assert.Equal(t, "sku-1", p.Items[0].ID)
	assert.Equal(t, "item-1-"+resp.OrderID, p.Items[1].ID)
	assert.Equal(t, 256, len([]rune(p.Items[1].Title)))
	assert.Equal(t, "others", p.Items[0].CategoryID)
	assert.Equal(t, 10.0, p.Items[0].UnitPrice)
	assert.Equal(t, "ARS", p.Items[0].CurrencyID)

	assert.Equal(t, "Ana", p.Payer.Name)
	assert.Equal(t, "Maria Lopez", p.Payer.Surname)
	require.NotNil(t, p.Payer.Phone)
	assert.Equal(t, "351", p.Payer.Phone.AreaCode)
	assert.Equal(t, "4567890", p.Payer.Phone.Number)
	require.NotNil(t, p.Payer.Identification)
	assert.Equal(t, "DNI", p.Payer.Identification.Type)

	assert.Equal(t, resp.OrderID, p.ExternalReference)
	assert.Equal(t, "approved", p.AutoReturn)
	assert.Equal(t, "https://api.shop.test/payments/webhook", p.NotificationURL)
	assert.Equal(t, "https://shop.test/payment/success?order_id="+resp.OrderID, p.BackURLs.Success)
	assert.Equal(t, "https://shop.test/payment/failure?order_id="+resp.OrderID, p.BackURLs.Failure)
	assert.True(t, p.Expires)
	require.NotNil(t, p.ExpirationDateTo)
	assert.Equal(t, fixed.Add(48*time.Hour), *p.ExpirationDateTo)
	assert.Equal(t, resp.OrderID, p.Metadata["order_id"])

	assert.Equal(t, 12, p.PaymentMethods.Installments)
	require.Len(t, p.PaymentMethods.ExcludedPaymentMethods, 1)
	assert.Equal(t, "amex", p.PaymentMethods.ExcludedPaymentMethods[0].ID)
	require.NotNil(t, p.Shipments)
	assert.Equal(t, 7.5, p.Shipments.Cost)
	assert.Equal(t, "not_specified", p.Shipments.Mode)
}

func TestCreateOrderSandboxRedirect(t *testing.T) {
	env := newTestEnv()
	svc := newOrderService(env)
	svc.settings.UseSandbox = true

	resp, err := svc.CreateOrder(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, resp.SandboxInitPoint, resp.RedirectURL)
}

func TestPayerNameFallbacks(t *testing.T) {
	name, surname := payerName(&CreateOrderRequest{})
	assert.Equal(t, "Cliente", name)
	assert.Empty(t, surname)

	name, surname = payerName(&CreateOrderRequest{CustomerName: "Juan", CustomerLastName: "Perez"})
	assert.Equal(t, "Juan", name)
	assert.Equal(t, "Perez", surname)
}

func TestGetOrderStatus(t *testing.T) {
	env := newTestEnv()
	env.seedOrder(t, "order-1", "10.00")
	svc := newOrderService(env)

	view, err := svc.GetOrderStatus(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, view.Status)
	assert.False(t, view.IsPaid)
	assert.True(t, view.CanRetry)
	assert.Equal(t, "Payment pending approval", view.Message)

	_, err = svc.GetOrderStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCancelOrder(t *testing.T) {
	env := newTestEnv()
	env.seedOrder(t, "order-1", "10.00")
	svc := newOrderService(env)
	ctx := context.Background()

	order, err := svc.CancelOrder(ctx, "order-1", "")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, order.Status)
	assert.Equal(t, models.OrderStatusPending, order.PreviousStatus)
	assert.Equal(t, "cancelled by user", order.FailureReason)
	assert.NotNil(t, order.CancelledAt)

	_, err = svc.CancelOrder(ctx, "order-1", "again")
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
	assert.Equal(t, "order is already cancelled", apperr.From(err).Message)

	transitions := env.hook.all()
	require.Len(t, transitions, 1)
	assert.Nil(t, transitions[0].Payment)
}

func TestCancelPaidOrderRejected(t *testing.T) {
	env := newTestEnv()
	env.seedOrder(t, "order-1", "10.00")
	rec := paymentRecord("1", "order-1", "approved", "10.00")
	_, err := NewReconciler(env.repo, env.gw, nil, env.logger).Reconcile(context.Background(), &rec)
	require.NoError(t, err)

	svc := newOrderService(env)
	_, err = svc.CancelOrder(context.Background(), "order-1", "changed my mind")
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
	assert.Equal(t, "cannot cancel a paid order, request a refund instead", apperr.From(err).Message)

	order, err := env.repo.GetOrder(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, order.Status)

	_, err = svc.CancelOrder(context.Background(), "missing", "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestParsePhone(t *testing.T) {
	cases := []struct {
		in       string
		area     string
		number   string
		wantNone bool
	}{
		{in: "", wantNone: true},
		{in: "+54 351 456-7890", area: "351", number: "4567890"},
		{in: "(351) 456-7890", area: "351", number: "4567890"},
		{in: "11 123456", area: "11", number: "123456"},
		{in: "+1 415 555 0100", area: "+1", number: "4155550100"},
		{in: "12345", number: "12345"},
	}
	for _, tc := range cases {
		p := parsePhone(tc.in)
		if tc.wantNone {
			assert.Nil(t, p)
			continue
		}
		require.NotNil(t, p, tc.in)
		assert.Equal(t, tc.area, p.AreaCode, tc.in)
		assert.Equal(t, tc.number, p.Number, tc.in)
	}
}
