package service

import (
	"context"
	"errors"
	"fmt"
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

const defaultRefundLockTTL = 30 * time.Second

// RefundService issues full and partial refunds of approved payments.
type RefundService struct {
	repo    store.Repository
	gateway PaymentGateway
	locker  Locker
	hook    TransitionHook
	lockTTL time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

func NewRefundService(
	repo store.Repository,
	gw PaymentGateway,
	locker Locker,
	hook TransitionHook,
	lockTTL time.Duration,
	logger *zap.Logger,
) *RefundService {
	if hook == nil {
		hook = NoopHook{}
	}
	if lockTTL <= 0 {
		lockTTL = defaultRefundLockTTL
	}
	return &RefundService{
		repo:    repo,
		gateway: gw,
		locker:  locker,
		hook:    hook,
		lockTTL: lockTTL,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RefundResult describes a refund created at the gateway and applied locally.
type RefundResult struct {
	RefundID       string               `json:"refund_id"`
	Status         string               `json:"status"`
	Amount         decimal.Decimal      `json:"amount"`
	PaymentID      string               `json:"payment_id"`
	RefundedAmount decimal.Decimal      `json:"refunded_amount"`
	PaymentStatus  models.PaymentStatus `json:"payment_status"`
}

// Refund refunds amount of the payment with gateway id paymentRef, or its whole remaining
// balance when amount is nil.
func (s *RefundService) Refund(ctx context.Context, paymentRef string, amount *decimal.Decimal) (*RefundResult, error) {
	ctx, span := util.StartSpan(ctx, "RefundService.Refund")
	defer span.End()

	kind := "full"
	if amount != nil {
		kind = "partial"
	}

	result, err := s.refund(ctx, paymentRef, amount)
	if err != nil {
		util.RefundsTotal.WithLabelValues(kind, "error").Inc()
		s.logger.Error("Refund failed", zap.String("payment_id", paymentRef), zap.Error(err))
		return nil, err
	}

	util.RefundsTotal.WithLabelValues(kind, "ok").Inc()
	s.logger.Info("Refund created",
		zap.String("payment_id", paymentRef),
		zap.String("refund_id", result.RefundID),
		zap.String("amount", result.Amount.String()),
		zap.String("payment_status", string(result.PaymentStatus)))
	return result, nil
}

func (s *RefundService) refund(ctx context.Context, paymentRef string, amount *decimal.Decimal) (*RefundResult, error) {
	lockKey := "refund:" + paymentRef
	token, ok, err := s.locker.AcquireLock(ctx, lockKey, s.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire refund lock: %w", err)
	}
	if !ok {
		return nil, apperr.InvalidState("refund already in progress for payment %s", paymentRef)
	}
	defer func() {
		if err := s.locker.ReleaseLock(context.WithoutCancel(ctx), lockKey, token); err != nil {
			s.logger.Warn("Failed to release refund lock", zap.String("payment_id", paymentRef), zap.Error(err))
		}
	}()

	payment, err := s.repo.GetPaymentByExternalID(ctx, paymentRef)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("payment", paymentRef)
	}
	if err != nil {
		return nil, err
	}

	maxRefundable, err := checkRefundable(payment, amount)
	if err != nil {
		return nil, err
	}

	// The gateway call holds no database locks.
	refund, err := s.gateway.CreateRefund(ctx, paymentRef, amount, uuid.New().String())
	if err != nil {
		return nil, err
	}

	value := refund.Amount
	if !value.IsPositive() {
		if amount != nil {
			value = *amount
		} else {
			value = maxRefundable
		}
	}

	var (
		applied    *models.Payment
		transition *Transition
	)
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		order, err := tx.GetOrderForUpdate(ctx, payment.OrderID)
		if err != nil {
			return err
		}
		p, err := tx.GetPaymentByExternalIDForUpdate(ctx, paymentRef)
		if err != nil {
			return err
		}
		if p == nil {
			return apperr.NotFound("payment", paymentRef)
		}

		now := s.now()
		p.RefundedAmount = decimal.Min(p.RefundedAmount.Add(value), p.Amount)
		if p.RefundedAmount.GreaterThanOrEqual(p.Amount) && p.Status != models.PaymentStatusRefunded {
			p.PreviousStatus = p.Status
			p.Status = models.PaymentStatusRefunded
		}
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return err
		}

		if p.Status == models.PaymentStatusRefunded {
			from := order.Status
			if applyOrderStatus(order, models.OrderStatusRefunded, "", now) {
				if err := tx.UpdateOrder(ctx, order); err != nil {
					return err
				}
				transition = &Transition{Order: *order, From: from, To: order.Status, Payment: p}
			}
		}

		applied = p
		return nil
	})
	if err != nil {
		// The gateway already refunded. The next reconciliation of the payment (notification or
		// verify) carries the grown refunded total and the reconciler takes it over.
		s.logger.Error("Refund created at gateway but not applied locally",
			zap.String("payment_id", paymentRef),
			zap.String("refund_id", refund.ID.String()),
			zap.Error(err))
		return nil, err
	}

	if transition != nil {
		runHook(ctx, s.hook, s.logger, *transition)
	}

	return &RefundResult{
		RefundID:       refund.ID.String(),
		Status:         orDefault(refund.Status, "approved"),
		Amount:         value,
		PaymentID:      paymentRef,
		RefundedAmount: applied.RefundedAmount,
		PaymentStatus:  applied.Status,
	}, nil
}

// checkRefundable validates a refund request against the stored payment and returns the
// refundable balance.
func checkRefundable(p *models.Payment, amount *decimal.Decimal) (decimal.Decimal, error) {
	if p.Status != models.PaymentStatusApproved {
		return decimal.Zero, apperr.InvalidState("only approved payments can be refunded, current status: %s", p.Status)
	}

	maxRefundable := p.RefundableAmount()
	if amount == nil {
		if !maxRefundable.IsPositive() {
			return decimal.Zero, apperr.InvalidState("payment %s has nothing left to refund", p.ExternalPaymentID)
		}
		return maxRefundable, nil
	}
	if !amount.IsPositive() {
		return decimal.Zero, apperr.Validation("refund amount must be greater than zero")
	}
	if amount.GreaterThan(maxRefundable) {
		return decimal.Zero, apperr.InvalidState("refund amount %s exceeds refundable balance %s",
			amount.StringFixed(2), maxRefundable.StringFixed(2))
	}
	return maxRefundable, nil
}

// ListRefunds returns the gateway's refunds of a payment.
func (s *RefundService) ListRefunds(ctx context.Context, paymentRef string) ([]gateway.Refund, error) {
	ctx, span := util.StartSpan(ctx, "RefundService.ListRefunds")
	defer span.End()

	return s.gateway.ListRefunds(ctx, paymentRef)
}

// GetRefund returns one refund of a payment as the gateway reports it.
func (s *RefundService) GetRefund(ctx context.Context, paymentRef, refundID string) (*gateway.Refund, error) {
	ctx, span := util.StartSpan(ctx, "RefundService.GetRefund")
	defer span.End()

	return s.gateway.GetRefund(ctx, paymentRef, refundID)
}
