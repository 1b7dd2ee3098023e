package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"payment-service/internal/apperr"
	"payment-service/internal/gateway"
	"payment-service/internal/gateway/gatewaytest"
	"payment-service/internal/models"
	"payment-service/internal/redisclient"
	"payment-service/internal/service"
	"payment-service/internal/store"
	"payment-service/internal/webhook"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testSecret   = "whsec"
	testFrontend = "https://shop.test"
)

type apiEnv struct {
	router *gin.Engine
	repo   *store.MemoryStore
	gw     *gatewaytest.Fake
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop()
	repo := store.NewMemoryStore()
	gw := gatewaytest.New()
	local := redisclient.NewLocal()

	reconciler := service.NewReconciler(repo, gw, nil, logger)
	orders := service.NewOrderService(repo, gw, nil, service.CheckoutSettings{
		BackendURL:  "https://api.shop.test",
		FrontendURL: testFrontend,
	}, logger)
	refunds := service.NewRefundService(repo, gw, local, nil, time.Minute, logger)
	notifications := service.NewNotificationService(repo, webhook.NewValidator(testSecret, logger),
		reconciler, local, service.NotificationOptions{}, logger)

	router := gin.New()
	NewHandler(orders, refunds, reconciler, notifications, repo, testFrontend, logger).SetupRoutes(router)

	return &apiEnv{router: router, repo: repo, gw: gw}
}

func (e *apiEnv) do(method, target string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// createOrder creates an order worth 25.00 through the API and returns its id.
func (e *apiEnv) createOrder(t *testing.T) string {
	t.Helper()
	w := e.do(http.MethodPost, "/payments/create-preference", map[string]any{
		"items": []map[string]any{
			{"title": "Mate", "quantity": 2, "unit_price": 10},
			{"title": "Bombilla", "quantity": 1, "unit_price": "5.00"},
		},
		"customer_email": "ana@example.com",
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp service.CreateOrderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.OrderID
}

func (e *apiEnv) payOrder(t *testing.T, orderID, paymentID string) {
	t.Helper()
	e.gw.AddPayment(gateway.PaymentRecord{
		ID:                gateway.FlexibleID(paymentID),
		Status:            "approved",
		ExternalReference: orderID,
		TransactionAmount: decimal.RequireFromString("25.00"),
		CurrencyID:        "ARS",
	})
	w := e.do(http.MethodGet, "/payments/verify/"+paymentID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error.Code
}

func TestHealthAndReady(t *testing.T) {
	env := newAPIEnv(t)

	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/health", nil, nil).Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/ready", nil, nil).Code)
}

func TestCreatePreference(t *testing.T) {
	env := newAPIEnv(t)
	orderID := env.createOrder(t)

	w := env.do(http.MethodGet, "/payments/order/"+orderID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var order models.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &order))
	assert.True(t, order.TotalAmount.Equal(decimal.RequireFromString("25")))
	assert.Len(t, order.Items, 2)
}

func TestCreatePreferenceValidation(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(http.MethodPost, "/payments/create-preference", map[string]any{
		"customer_email": "ana@example.com",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "items")

	w = env.do(http.MethodPost, "/payments/create-preference", map[string]any{
		"items":          []map[string]any{{"title": "Free", "quantity": 1, "unit_price": 0}},
		"customer_email": "ana@example.com",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unit_price")

	w = env.do(http.MethodPost, "/payments/create-preference", map[string]any{
		"items":          []map[string]any{{"title": "Dust", "quantity": 3, "unit_price": 0.005}},
		"customer_email": "ana@example.com",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"cents"`)

	w = env.do(http.MethodPost, "/payments/create-preference", map[string]any{
		"items":          []map[string]any{{"title": "Mate", "quantity": 1, "unit_price": 3}},
		"customer_email": "not-an-email",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "customer_email")

	assert.Empty(t, env.gw.Preferences())
}

func TestCreatePreferenceGatewayFailure(t *testing.T) {
	env := newAPIEnv(t)
	env.gw.PreferenceErr = apperr.ExternalService("create_preference failed", nil)

	w := env.do(http.MethodPost, "/payments/create-preference", map[string]any{
		"items":          []map[string]any{{"title": "Mate", "quantity": 1, "unit_price": 3}},
		"customer_email": "ana@example.com",
	}, nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "EXTERNAL_SERVICE_ERROR", errorCode(t, w))
}

func TestOrderNotFound(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(http.MethodGet, "/payments/order/missing/status", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", errorCode(t, w))
}

func TestWebhookAlwaysAcknowledges(t *testing.T) {
	env := newAPIEnv(t)
	orderID := env.createOrder(t)
	env.gw.AddPayment(gateway.PaymentRecord{
		ID:                "777",
		Status:            "approved",
		ExternalReference: orderID,
		TransactionAmount: decimal.RequireFromString("25.00"),
	})

	body := map[string]any{"id": 1, "type": "payment", "action": "payment.updated", "data": map[string]any{"id": "777"}}

	w := env.do(http.MethodPost, "/payments/webhook", body, map[string]string{
		"x-signature":  "ts=1,v1=deadbeef",
		"x-request-id": "req-forged",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["received"])
	assert.NotEmpty(t, resp["error"])

	ts := fmt.Sprint(time.Now().Unix())
	sig := fmt.Sprintf("ts=%s,v1=%s", ts, webhook.Sign(testSecret, "777", "req-ok", ts))
	w = env.do(http.MethodPost, "/payments/webhook", body, map[string]string{
		"x-signature":  sig,
		"x-request-id": "req-ok",
	})
	require.Equal(t, http.StatusOK, w.Code)
	resp = nil
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotContains(t, resp, "error")

	status := env.do(http.MethodGet, "/payments/order/"+orderID+"/status", nil, nil)
	assert.Contains(t, status.Body.String(), `"is_paid":true`)

	w = env.do(http.MethodPost, "/payments/webhook", "not json", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSuccessCallbackRedirects(t *testing.T) {
	env := newAPIEnv(t)
	orderID := env.createOrder(t)
	env.gw.AddPayment(gateway.PaymentRecord{
		ID:                "888",
		Status:            "approved",
		ExternalReference: orderID,
		TransactionAmount: decimal.RequireFromString("25.00"),
	})

	w := env.do(http.MethodGet, "/payments/callback/success?payment_id=888&status=approved&external_reference="+orderID, nil, nil)
	require.Equal(t, http.StatusFound, w.Code)

	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/payment/success", loc.Path)
	assert.Equal(t, orderID, loc.Query().Get("order_id"))
	assert.Equal(t, "888", loc.Query().Get("payment_id"))
	assert.Equal(t, "paid", loc.Query().Get("status"))
}

func TestFailureCallbackCarriesMessage(t *testing.T) {
	env := newAPIEnv(t)
	orderID := env.createOrder(t)
	env.gw.AddPayment(gateway.PaymentRecord{
		ID:                "889",
		Status:            "rejected",
		StatusDetail:      "cc_rejected_insufficient_amount",
		ExternalReference: orderID,
		TransactionAmount: decimal.RequireFromString("25.00"),
	})

	w := env.do(http.MethodGet, "/payments/callback/failure?collection_id=889&external_reference="+orderID, nil, nil)
	require.Equal(t, http.StatusFound, w.Code)

	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/payment/failure", loc.Path)
	assert.Equal(t, "failed", loc.Query().Get("status"))
	assert.Equal(t, "Payment rejected: cc_rejected_insufficient_amount", loc.Query().Get("message"))
}

func TestCallbackErrorRedirect(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(http.MethodGet, "/payments/callback/pending?payment_id=null&external_reference=missing", nil, nil)
	require.Equal(t, http.StatusFound, w.Code)
	loc := w.Header().Get("Location")
	assert.True(t, strings.HasPrefix(loc, testFrontend+"/payment/error?message="), loc)
}

func TestVerifyByQuery(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(http.MethodGet, "/payments/verify", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	orderID := env.createOrder(t)
	env.gw.AddPayment(gateway.PaymentRecord{
		ID:                "901",
		Status:            "pending",
		ExternalReference: orderID,
		TransactionAmount: decimal.RequireFromString("25.00"),
	})
	w = env.do(http.MethodGet, "/payments/verify?paymentId=901", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRefundEndpoints(t *testing.T) {
	env := newAPIEnv(t)
	orderID := env.createOrder(t)
	env.payOrder(t, orderID, "990")

	w := env.do(http.MethodPost, "/payments/payment/990/refund", map[string]any{"amount": 30}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "INVALID_STATE", errorCode(t, w))

	w = env.do(http.MethodPost, "/payments/payment/990/refund", map[string]any{"amount": 10}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result service.RefundResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, models.PaymentStatusApproved, result.PaymentStatus)

	w = env.do(http.MethodPost, "/payments/payment/990/refund", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, models.PaymentStatusRefunded, result.PaymentStatus)

	w = env.do(http.MethodGet, "/payments/payment/990/refunds", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var refunds []gateway.Refund
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &refunds))
	require.Len(t, refunds, 2)

	w = env.do(http.MethodGet, "/payments/payment/990/refund/"+refunds[0].ID.String(), nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	order, err := env.repo.GetOrder(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusRefunded, order.Status)
}

func TestCancelEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	orderID := env.createOrder(t)

	w := env.do(http.MethodPost, "/payments/order/"+orderID+"/cancel", map[string]any{"reason": "changed my mind"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "changed my mind")

	w = env.do(http.MethodPost, "/payments/order/"+orderID+"/cancel", nil, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}
