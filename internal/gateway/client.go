package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"payment-service/internal/apperr"
	"payment-service/internal/util"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "https://api.mercadopago.com"
	DefaultTimeout = 5 * time.Second
)

// StatusError is a non-2xx gateway response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway responded %d: %s", e.StatusCode, e.Body)
}

// Client talks to the Mercado Pago REST API.
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	breaker     *gobreaker.CircuitBreaker[[]byte]
	logger      *zap.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the default http.Client. Its timeout is used as is.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a gateway client. A zero timeout means DefaultTimeout.
func NewClient(baseURL, accessToken string, timeout time.Duration, logger *zap.Logger, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c := &Client{
		baseURL:     baseURL,
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logger,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "mercadopago",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Client errors are answers, not outages.
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.StatusCode < http.StatusInternalServerError
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Gateway circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return c
}

// CreatePreference registers a checkout preference.
func (c *Client) CreatePreference(ctx context.Context, req *PreferenceRequest, idempotencyKey string) (*Preference, error) {
	body, err := c.do(ctx, "create_preference", http.MethodPost, "/checkout/preferences", req, idempotencyKey)
	if err != nil {
		return nil, err
	}

	var pref Preference
	if err := json.Unmarshal(body, &pref); err != nil {
		return nil, apperr.ExternalService("invalid preference response", err)
	}
	if pref.ID == "" {
		return nil, apperr.ExternalService("preference response without id", nil)
	}
	return &pref, nil
}

// GetPayment fetches the authoritative payment record.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*PaymentRecord, error) {
	body, err := c.do(ctx, "get_payment", http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), nil, "")
	if err != nil {
		return nil, err
	}

	var rec PaymentRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, apperr.ExternalService("invalid payment response", err)
	}
	rec.Raw = json.RawMessage(body)
	return &rec, nil
}

// CreateRefund refunds amount of the payment, or the whole balance when amount is nil.
func (c *Client) CreateRefund(ctx context.Context, paymentID string, amount *decimal.Decimal, idempotencyKey string) (*Refund, error) {
	var req refundRequest
	if amount != nil {
		v := amount.Round(2).InexactFloat64()
		req.Amount = &v
	}

	body, err := c.do(ctx, "create_refund", http.MethodPost,
		"/v1/payments/"+url.PathEscape(paymentID)+"/refunds", req, idempotencyKey)
	if err != nil {
		return nil, err
	}

	var refund Refund
	if err := json.Unmarshal(body, &refund); err != nil {
		return nil, apperr.ExternalService("invalid refund response", err)
	}
	refund.Raw = json.RawMessage(body)
	return &refund, nil
}

// ListRefunds lists the refunds of a payment.
func (c *Client) ListRefunds(ctx context.Context, paymentID string) ([]Refund, error) {
	body, err := c.do(ctx, "list_refunds", http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID)+"/refunds", nil, "")
	if err != nil {
		return nil, err
	}

	refunds := []Refund{}
	if err := json.Unmarshal(body, &refunds); err != nil {
		return nil, apperr.ExternalService("invalid refunds response", err)
	}
	return refunds, nil
}

// GetRefund fetches one refund of a payment.
func (c *Client) GetRefund(ctx context.Context, paymentID, refundID string) (*Refund, error) {
	path := "/v1/payments/" + url.PathEscape(paymentID) + "/refunds/" + url.PathEscape(refundID)
	body, err := c.do(ctx, "get_refund", http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}

	var refund Refund
	if err := json.Unmarshal(body, &refund); err != nil {
		return nil, apperr.ExternalService("invalid refund response", err)
	}
	refund.Raw = json.RawMessage(body)
	return &refund, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, in any, idempotencyKey string) ([]byte, error) {
	ctx, span := util.StartSpan(ctx, "Gateway."+op)
	defer span.End()

	start := time.Now()
	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.roundTrip(ctx, method, path, in, idempotencyKey)
	})

	status := "ok"
	var se *StatusError
	switch {
	case errors.As(err, &se):
		status = strconv.Itoa(se.StatusCode)
	case err != nil:
		status = "error"
	}
	util.GatewayRequestDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())

	if err != nil {
		c.logger.Error("Gateway request failed",
			zap.String("operation", op),
			zap.String("path", path),
			zap.Error(err))
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, apperr.ExternalService("payment gateway unavailable", err)
		}
		return nil, apperr.ExternalService(op+" failed", err)
	}
	return body, nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, in any, idempotencyKey string) ([]byte, error) {
	var reqBody io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
