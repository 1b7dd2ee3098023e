package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"payment-service/internal/apperr"
	"payment-service/internal/gateway"
	"payment-service/internal/service"
	"payment-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Pinger reports whether a backing dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	orders        *service.OrderService
	refunds       *service.RefundService
	reconciler    *service.Reconciler
	notifications *service.NotificationService
	db            Pinger
	validate      *validator.Validate
	frontendURL   string
	logger        *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	orders *service.OrderService,
	refunds *service.RefundService,
	reconciler *service.Reconciler,
	notifications *service.NotificationService,
	db Pinger,
	frontendURL string,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		orders:        orders,
		refunds:       refunds,
		reconciler:    reconciler,
		notifications: notifications,
		db:            db,
		validate:      NewValidator(),
		frontendURL:   strings.TrimRight(frontendURL, "/"),
		logger:        logger,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	payments := router.Group("/payments")
	{
		payments.POST("/create-preference", h.createPreference)
		payments.POST("/webhook", h.webhook)

		payments.GET("/callback/success", h.paymentCallback("success"))
		payments.GET("/callback/failure", h.paymentCallback("failure"))
		payments.GET("/callback/pending", h.paymentCallback("pending"))

		payments.GET("/verify", h.verifyPayment)
		payments.GET("/verify/:paymentId", h.verifyPayment)

		payments.GET("/order/:id", h.getOrder)
		payments.GET("/order/:id/status", h.getOrderStatus)
		payments.GET("/order/:id/payments", h.getOrderPayments)
		payments.POST("/order/:id/cancel", h.cancelOrder)

		payments.POST("/payment/:id/refund", h.refundPayment)
		payments.GET("/payment/:id/refunds", h.listRefunds)
		payments.GET("/payment/:id/refund/:refundId", h.getRefund)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready once the database answers
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"error":  err.Error(),
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// createPreference creates an order and its checkout preference
func (h *Handler) createPreference(c *gin.Context) {
	var req service.CreateOrderRequest
	if !bindAndValidate(c, h.validate, &req) {
		return
	}

	resp, err := h.orders.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// webhook acknowledges every gateway delivery with 200 so the gateway does not retry
// deliveries that can never succeed. Processing errors are reported in the body.
func (h *Handler) webhook(c *gin.Context) {
	var n service.Notification
	body, err := io.ReadAll(c.Request.Body)
	if err == nil && len(body) > 0 {
		if err := json.Unmarshal(body, &n); err != nil {
			h.logger.Warn("Malformed webhook body", zap.Error(err))
		}
	}

	// Legacy IPN deliveries carry the resource in the query string.
	if n.Type == "" {
		n.Type = c.Query("type")
	}
	if n.Type == "" {
		n.Type = c.Query("topic")
	}
	if n.Data.ID == "" {
		if id := c.Query("data.id"); id != "" {
			n.Data.ID = gateway.FlexibleID(id)
		}
	}
	if n.ID == "" {
		if id := c.Query("id"); id != "" {
			n.ID = gateway.FlexibleID(id)
		}
	}

	resp := gin.H{
		"received":  true,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	err = h.notifications.Handle(c.Request.Context(), n, c.GetHeader("x-signature"), c.GetHeader("x-request-id"))
	if err != nil {
		resp["error"] = apperr.From(err).Message
	}

	c.JSON(http.StatusOK, resp)
}

// paymentCallback handles the buyer's return from checkout. It re-verifies the payment and
// redirects to the frontend page for kind.
func (h *Handler) paymentCallback(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		paymentID := c.Query("payment_id")
		if paymentID == "" {
			paymentID = c.Query("collection_id")
		}
		if paymentID == "null" {
			paymentID = ""
		}
		orderID := c.Query("external_reference")

		h.logger.Info("Checkout callback received",
			zap.String("kind", kind),
			zap.String("payment_id", paymentID),
			zap.String("order_id", orderID),
			zap.String("status", c.Query("status")))

		if paymentID != "" {
			if _, err := h.reconciler.VerifyPayment(ctx, paymentID); err != nil {
				h.redirectError(c, kind, err)
				return
			}
		}

		view, err := h.orders.GetOrderStatus(ctx, orderID)
		if err != nil {
			h.redirectError(c, kind, err)
			return
		}

		q := url.Values{}
		q.Set("order_id", orderID)
		q.Set("status", string(view.Status))
		if kind == "failure" {
			q.Set("message", view.Message)
		} else {
			q.Set("payment_id", paymentID)
		}

		c.Redirect(http.StatusFound, h.frontendURL+"/payment/"+kind+"?"+q.Encode())
	}
}

func (h *Handler) redirectError(c *gin.Context, kind string, err error) {
	h.logger.Error("Checkout callback failed", zap.String("kind", kind), zap.Error(err))
	msg := apperr.From(err).Message
	c.Redirect(http.StatusFound, h.frontendURL+"/payment/error?message="+url.QueryEscape(msg))
}

// verifyPayment forces a re-fetch and reconciliation of a payment
func (h *Handler) verifyPayment(c *gin.Context) {
	paymentID := c.Param("paymentId")
	if paymentID == "" {
		paymentID = c.Query("paymentId")
	}

	payment, err := h.reconciler.VerifyPayment(c.Request.Context(), paymentID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, payment)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	order, err := h.orders.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

func (h *Handler) getOrderStatus(c *gin.Context) {
	view, err := h.orders.GetOrderStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

func (h *Handler) getOrderPayments(c *gin.Context) {
	payments, err := h.orders.GetOrderPayments(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, payments)
}

type cancelOrderRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=500"`
}

func (h *Handler) cancelOrder(c *gin.Context) {
	var req cancelOrderRequest
	if !bindOptional(c, h.validate, &req) {
		return
	}

	order, err := h.orders.CancelOrder(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

type refundRequest struct {
	Amount *decimal.Decimal `json:"amount"`
}

// refundPayment refunds the whole remaining balance, or amount when given
func (h *Handler) refundPayment(c *gin.Context) {
	var req refundRequest
	if !bindOptional(c, h.validate, &req) {
		return
	}

	result, err := h.refunds.Refund(c.Request.Context(), c.Param("id"), req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) listRefunds(c *gin.Context) {
	refunds, err := h.refunds.ListRefunds(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, refunds)
}

func (h *Handler) getRefund(c *gin.Context) {
	refund, err := h.refunds.GetRefund(c.Request.Context(), c.Param("id"), c.Param("refundId"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, refund)
}

// bindOptional is bindAndValidate for endpoints whose body may be empty.
func bindOptional(c *gin.Context, v *validator.Validate, out any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(out); err != nil {
		if errors.Is(err, io.EOF) {
			return true
		}
		writeError(c, apperr.Validation("invalid request body: %v", err))
		return false
	}
	if err := v.Struct(out); err != nil {
		writeError(c, apperr.Validation("invalid request: %v", err))
		return false
	}
	return true
}

// writeError maps err onto the error taxonomy response
func writeError(c *gin.Context, err error) {
	appErr := apperr.From(err)
	c.JSON(appErr.StatusCode, appErr.ToResponse())
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
