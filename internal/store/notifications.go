package store

import (
	"context"
	"fmt"
	"time"

	"payment-service/internal/models"
)

// RecordNotification stores the audit row of a webhook delivery.
// A redelivery with the same id keeps the first row.
func (s *Store) RecordNotification(ctx context.Context, n *models.WebhookNotification) error {
	if n.ReceivedAt.IsZero() {
		n.ReceivedAt = time.Now().UTC()
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO webhook_notifications
			(id, notification_id, type, action, data_id, signature_valid, processed, error, received_at)
		VALUES
			(:id, :notification_id, :type, :action, :data_id, :signature_valid, :processed, :error, :received_at)
		ON CONFLICT (id) DO NOTHING`, n)
	if err != nil {
		return fmt.Errorf("failed to record notification: %w", err)
	}
	return nil
}

// MarkNotificationProcessed closes the audit row with the processing outcome
func (s *Store) MarkNotificationProcessed(ctx context.Context, id string, processErr error) error {
	var errText string
	if processErr != nil {
		errText = processErr.Error()
	}

	_, err := s.db.ExecContext(ctx,
		"UPDATE webhook_notifications SET processed = $1, error = $2, processed_at = NOW() WHERE id = $3",
		processErr == nil, errText, id)
	if err != nil {
		return fmt.Errorf("failed to mark notification processed: %w", err)
	}
	return nil
}
