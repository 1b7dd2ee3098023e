package worker

import (
	"context"

	"payment-service/internal/broker"
	"payment-service/internal/models"

	"go.uber.org/zap"
)

// NotificationProcessor reconciles a queued gateway notification.
type NotificationProcessor interface {
	ProcessQueued(ctx context.Context, event *models.PaymentNotificationEvent) error
}

// NotificationWorker consumes the payment-notifications topic and reconciles each payment
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(
	consumer *broker.Consumer,
	processor NotificationProcessor,
	logger *zap.Logger,
) *NotificationWorker {
	eventHandler := broker.NewEventHandler(logger)

	eventHandler.OnPaymentNotification(func(ctx context.Context, event *models.PaymentNotificationEvent) error {
		logger.Info("Processing queued payment notification",
			zap.String("data_id", event.DataID),
			zap.String("request_id", event.RequestID))

		if err := processor.ProcessQueued(ctx, event); err != nil {
			logger.Error("Queued payment notification failed",
				zap.String("data_id", event.DataID),
				zap.Error(err))
			return err
		}
		return nil
	})

	return &NotificationWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       logger,
	}
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker...")
	return w.consumer.Close()
}
