package service

import (
	"context"
	"time"

	"payment-service/internal/apperr"
	"payment-service/internal/gateway"
	"payment-service/internal/models"
	"payment-service/internal/store"
	"payment-service/internal/util"
	"payment-service/internal/webhook"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	notificationTypePayment = "payment"
	defaultDedupTTL         = 24 * time.Hour
)

// Notification is the body of a gateway webhook delivery.
type Notification struct {
	ID     gateway.FlexibleID `json:"id"`
	Type   string             `json:"type"`
	Action string             `json:"action"`
	Data   struct {
		ID gateway.FlexibleID `json:"id"`
	} `json:"data"`
}

// DataID is the id of the notified resource, falling back to the notification id.
func (n *Notification) DataID() string {
	if id := n.Data.ID.String(); id != "" {
		return id
	}
	return n.ID.String()
}

// NotificationOptions configure the webhook pipeline.
type NotificationOptions struct {
	// MaxAge rejects deliveries whose signed timestamp is older. Zero disables the check.
	MaxAge   time.Duration
	DedupTTL time.Duration
	// Queue, when set, receives payment notifications instead of reconciling them inline.
	Queue NotificationQueue
}

// NotificationService verifies gateway notifications and dispatches them to the reconciler.
type NotificationService struct {
	repo       store.Repository
	validator  *webhook.Validator
	reconciler *Reconciler
	deduper    Deduper
	opts       NotificationOptions
	logger     *zap.Logger
}

func NewNotificationService(
	repo store.Repository,
	validator *webhook.Validator,
	reconciler *Reconciler,
	deduper Deduper,
	opts NotificationOptions,
	logger *zap.Logger,
) *NotificationService {
	if opts.DedupTTL <= 0 {
		opts.DedupTTL = defaultDedupTTL
	}
	return &NotificationService{
		repo:       repo,
		validator:  validator,
		reconciler: reconciler,
		deduper:    deduper,
		opts:       opts,
		logger:     logger,
	}
}

// Handle runs one webhook delivery through audit, authentication, dedupe and dispatch.
// The returned error is informational; the HTTP layer acknowledges every delivery.
func (s *NotificationService) Handle(ctx context.Context, n Notification, signature, requestID string) error {
	ctx, span := util.StartSpan(ctx, "NotificationService.Handle")
	defer span.End()

	dataID := n.DataID()
	auditID := requestID
	if auditID == "" {
		auditID = uuid.New().String()
	}

	valid := s.validator.Validate(signature, requestID, dataID)
	s.record(ctx, &models.WebhookNotification{
		ID:             auditID,
		NotificationID: n.ID.String(),
		Type:           n.Type,
		Action:         n.Action,
		DataID:         dataID,
		SignatureValid: valid,
	})

	if !valid {
		err := apperr.SignatureInvalid("invalid webhook signature")
		s.finish(ctx, auditID, "invalid_signature", err)
		return err
	}

	if s.opts.MaxAge > 0 {
		sig, _ := webhook.ParseSignature(signature)
		if s.validator.IsTooOld(sig.TS, s.opts.MaxAge) {
			err := apperr.SignatureInvalid("webhook timestamp outside the accepted window")
			s.finish(ctx, auditID, "stale", err)
			return err
		}
	}

	dedupKey := "webhook:" + requestID
	if s.deduper != nil && requestID != "" {
		seen, err := s.deduper.CheckIdempotencyKey(ctx, dedupKey)
		if err != nil {
			s.logger.Warn("Webhook dedupe lookup failed", zap.String("request_id", requestID), zap.Error(err))
		}
		if seen {
			s.logger.Info("Duplicate webhook delivery skipped", zap.String("request_id", requestID))
			util.WebhooksReceivedTotal.WithLabelValues("duplicate").Inc()
			return nil
		}
	}

	if n.Type != notificationTypePayment {
		s.logger.Info("Ignoring webhook notification",
			zap.String("type", n.Type),
			zap.String("action", n.Action),
			zap.String("data_id", dataID))
		s.finish(ctx, auditID, "ignored", nil)
		return nil
	}

	if s.opts.Queue != nil {
		err := s.opts.Queue.PublishPaymentNotification(ctx, &models.PaymentNotificationEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypePaymentNotificationReceived,
				Timestamp: time.Now(),
			},
			RequestID: auditID,
			Type:      n.Type,
			Action:    n.Action,
			DataID:    dataID,
		})
		if err != nil {
			s.finish(ctx, auditID, "error", err)
			return err
		}
		util.WebhooksReceivedTotal.WithLabelValues("queued").Inc()
		s.remember(ctx, dedupKey, requestID)
		return nil
	}

	_, err := s.reconciler.VerifyPayment(ctx, dataID)
	if err != nil {
		s.finish(ctx, auditID, "error", err)
		return err
	}
	s.finish(ctx, auditID, "processed", nil)
	s.remember(ctx, dedupKey, requestID)
	return nil
}

// ProcessQueued reconciles a notification taken from the payment-notifications topic.
func (s *NotificationService) ProcessQueued(ctx context.Context, event *models.PaymentNotificationEvent) error {
	ctx, span := util.StartSpan(ctx, "NotificationService.ProcessQueued")
	defer span.End()

	_, err := s.reconciler.VerifyPayment(ctx, event.DataID)
	if markErr := s.repo.MarkNotificationProcessed(ctx, event.RequestID, err); markErr != nil {
		s.logger.Warn("Failed to update webhook audit row", zap.String("id", event.RequestID), zap.Error(markErr))
	}
	return err
}

func (s *NotificationService) record(ctx context.Context, n *models.WebhookNotification) {
	if err := s.repo.RecordNotification(ctx, n); err != nil {
		s.logger.Warn("Failed to record webhook delivery", zap.String("id", n.ID), zap.Error(err))
	}
}

func (s *NotificationService) finish(ctx context.Context, auditID, outcome string, processErr error) {
	util.WebhooksReceivedTotal.WithLabelValues(outcome).Inc()
	if processErr != nil {
		s.logger.Error("Webhook processing failed", zap.String("id", auditID), zap.Error(processErr))
	}
	if err := s.repo.MarkNotificationProcessed(ctx, auditID, processErr); err != nil {
		s.logger.Warn("Failed to update webhook audit row", zap.String("id", auditID), zap.Error(err))
	}
}

func (s *NotificationService) remember(ctx context.Context, key, requestID string) {
	if s.deduper == nil || requestID == "" {
		return
	}
	if err := s.deduper.SetIdempotencyKey(ctx, key, "processed", s.opts.DedupTTL); err != nil {
		s.logger.Warn("Failed to store webhook dedupe key", zap.String("request_id", requestID), zap.Error(err))
	}
}
