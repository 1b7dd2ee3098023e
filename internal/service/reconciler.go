package service

import (
	"context"
	"errors"
	"time"

	"payment-service/internal/apperr"
	"payment-service/internal/gateway"
	"payment-service/internal/models"
	"payment-service/internal/store"
	"payment-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Reconciler applies authoritative gateway payment records to the local Payment and Order rows.
type Reconciler struct {
	repo    store.Repository
	gateway PaymentGateway
	hook    TransitionHook
	logger  *zap.Logger
	now     func() time.Time
}

// NewReconciler creates a reconciler. A nil hook means NoopHook.
func NewReconciler(repo store.Repository, gw PaymentGateway, hook TransitionHook, logger *zap.Logger) *Reconciler {
	if hook == nil {
		hook = NoopHook{}
	}
	return &Reconciler{
		repo:    repo,
		gateway: gw,
		hook:    hook,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// VerifyPayment fetches the payment from the gateway and reconciles it.
func (r *Reconciler) VerifyPayment(ctx context.Context, paymentID string) (*models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.VerifyPayment")
	defer span.End()

	if paymentID == "" {
		return nil, apperr.Validation("payment id is required")
	}

	rec, err := r.gateway.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	return r.Reconcile(ctx, rec)
}

// Reconcile stores rec and moves the referenced order to the status it implies, in one
// transaction. Applying the same record twice changes nothing the second time.
func (r *Reconciler) Reconcile(ctx context.Context, rec *gateway.PaymentRecord) (*models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.Reconcile")
	defer span.End()

	start := time.Now()
	defer func() {
		util.ReconciliationLatency.Observe(time.Since(start).Seconds())
	}()

	externalID := rec.ID.String()
	if externalID == "" {
		util.ReconciliationsTotal.WithLabelValues("error").Inc()
		return nil, apperr.Validation("payment record without id")
	}
	if rec.ExternalReference == "" {
		util.ReconciliationsTotal.WithLabelValues("error").Inc()
		return nil, apperr.Validation("payment %s has no order reference", externalID)
	}
	if rec.TransactionAmount.IsNegative() {
		util.ReconciliationsTotal.WithLabelValues("error").Inc()
		return nil, apperr.Validation("payment %s has a negative amount", externalID)
	}

	status := models.ParsePaymentStatus(rec.Status)

	var (
		result     *models.Payment
		transition *Transition
		outcome    = "noop"
	)

	err := r.repo.WithTx(ctx, func(tx store.Tx) error {
		// Order first, then payment: concurrent deliveries for the same payment queue on the
		// order row even when no payment row exists yet.
		order, err := tx.GetOrderForUpdate(ctx, rec.ExternalReference)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("order", rec.ExternalReference)
		}
		if err != nil {
			return err
		}

		payment, err := tx.GetPaymentByExternalIDForUpdate(ctx, externalID)
		if err != nil {
			return err
		}
		if payment != nil && payment.OrderID != order.ID {
			return apperr.InvalidState("payment %s belongs to order %s, not %s", externalID, payment.OrderID, order.ID)
		}

		if payment != nil && payment.Status == status {
			// Same status: only a grown refunded total is taken, attempts stay untouched.
			refunded := clamp(rec.TransactionAmountRefunded, decimal.Zero, payment.Amount)
			if refunded.GreaterThan(payment.RefundedAmount) {
				payment.RefundedAmount = refunded
				if err := tx.UpdatePayment(ctx, payment); err != nil {
					return err
				}
				outcome = "refund_synced"
			}
			result = payment
			return nil
		}

		now := r.now()
		if payment == nil {
			payment = &models.Payment{
				ID:                uuid.New().String(),
				ExternalPaymentID: externalID,
				OrderID:           order.ID,
				WebhookAttempts:   1,
				DateCreated:       rec.DateCreated,
			}
			applyRecord(payment, rec, status, now)
			if err := tx.InsertPayment(ctx, payment); err != nil {
				return err
			}
			outcome = "created"
		} else {
			payment.PreviousStatus = payment.Status
			payment.WebhookAttempts++
			applyRecord(payment, rec, status, now)
			if err := tx.UpdatePayment(ctx, payment); err != nil {
				return err
			}
			outcome = "updated"
		}

		from := order.Status
		if applyOrderStatus(order, status.OrderStatus(), payment.StatusDetail, now) {
			if err := tx.UpdateOrder(ctx, order); err != nil {
				return err
			}
			transition = &Transition{Order: *order, From: from, To: order.Status, Payment: payment}
		}

		result = payment
		return nil
	})
	if err != nil {
		util.ReconciliationsTotal.WithLabelValues("error").Inc()
		r.logger.Error("Reconciliation failed",
			zap.String("payment_id", externalID),
			zap.String("order_id", rec.ExternalReference),
			zap.Error(err))
		return nil, err
	}

	util.ReconciliationsTotal.WithLabelValues(outcome).Inc()
	r.logger.Info("Payment reconciled",
		zap.String("payment_id", externalID),
		zap.String("order_id", rec.ExternalReference),
		zap.String("status", string(status)),
		zap.String("outcome", outcome))

	if transition != nil {
		runHook(ctx, r.hook, r.logger, *transition)
	}
	return result, nil
}

// applyRecord copies the gateway's view of the payment onto p.
func applyRecord(p *models.Payment, rec *gateway.PaymentRecord, status models.PaymentStatus, now time.Time) {
	p.Status = status
	p.Amount = rec.TransactionAmount
	p.RefundedAmount = clamp(rec.TransactionAmountRefunded, decimal.Zero, rec.TransactionAmount)
	p.Currency = rec.CurrencyID
	p.PaymentMethodID = rec.PaymentMethodID
	p.PaymentTypeID = rec.PaymentTypeID
	p.TransactionID = rec.TransactionDetails.TransactionID
	p.StatusDetail = rec.StatusDetail
	if rec.Description != "" {
		p.Description = rec.Description
	}
	if rec.Payer.Email != "" {
		p.PayerEmail = rec.Payer.Email
	}
	if rec.Payer.ID != "" {
		p.PayerID = rec.Payer.ID.String()
	}
	p.GatewayPayload = models.RawPayload(rec.Raw)
	p.LastWebhookAt = &now
	p.DateApproved = rec.DateApproved
	p.DateLastUpdated = rec.DateLastUpdated
}

// applyOrderStatus moves order to status and stamps the matching side field.
// It reports false when the order already is in status.
func applyOrderStatus(order *models.Order, status models.OrderStatus, detail string, now time.Time) bool {
	if order.Status == status {
		return false
	}

	order.PreviousStatus = order.Status
	order.Status = status

	switch status {
	case models.OrderStatusPaid:
		if order.PaidAt == nil {
			order.PaidAt = &now
		}
	case models.OrderStatusFailed:
		order.FailureReason = orDefault(detail, "rejected")
	case models.OrderStatusCancelled:
		if order.CancelledAt == nil {
			order.CancelledAt = &now
		}
		order.FailureReason = orDefault(detail, "cancelled by user")
	case models.OrderStatusRefunded:
		if order.RefundedAt == nil {
			order.RefundedAt = &now
		}
	}
	return true
}

func clamp(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
