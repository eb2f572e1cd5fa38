package services

import (
	"context"
	"log/slog"

	"github.com/campus-dx/grant-engine/v1/models"
)

// NotificationSink receives status-change events for asynchronous
// delivery to the application owner. Delivery is best-effort: a failure
// is logged by the caller and never rolls back the status change.
type NotificationSink interface {
	Notify(ctx context.Context, recipientID string, event models.NotificationEvent) error
}

// LogNotificationSink records events in the service log. It stands in
// for the mail dispatcher, which is deployed as a separate collaborator.
type LogNotificationSink struct{}

// NewLogNotificationSink creates a log-backed notification sink.
func NewLogNotificationSink() *LogNotificationSink {
	return &LogNotificationSink{}
}

// Notify logs the event.
func (s *LogNotificationSink) Notify(ctx context.Context, recipientID string, event models.NotificationEvent) error {
	slog.Info("Status notification",
		"operation", models.OpNotifyOwner,
		"recipient", recipientID,
		"application_id", event.ApplicationID,
		"new_status", event.NewStatus,
		"by_role", event.ByRole)
	return nil
}
