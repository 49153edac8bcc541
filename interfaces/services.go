package interfaces

import (
	"context"
	"lifeline/models"
)

// EmergencyRepository persists the authoritative lifecycle records.
type EmergencyRepository interface {
	Create(ctx context.Context, emergency *models.Emergency) error
	GetByID(ctx context.Context, id string) (*models.Emergency, error)
	// GetActiveByUser returns the user's non-terminal (pending or active)
	// emergency, or nil when there is none.
	GetActiveByUser(ctx context.Context, userID string) (*models.Emergency, error)
	UpdateStatus(ctx context.Context, id string, status models.EmergencyStatus) error
	Cancel(ctx context.Context, id, reason string) error
	Resolve(ctx context.Context, id, notes string) error
	ListByUser(ctx context.Context, filters models.EmergencyHistoryFilters) ([]models.Emergency, int64, error)
	ListByStatus(ctx context.Context, status models.EmergencyStatus) ([]models.Emergency, error)
}

// AcknowledgmentRepository persists responder acknowledgments.
type AcknowledgmentRepository interface {
	// Create rejects a second acknowledgment from the same responder with
	// a DUPLICATE_ACKNOWLEDGMENT service error.
	Create(ctx context.Context, ack *models.Acknowledgment) error
	CountByEmergency(ctx context.Context, emergencyID string) (int64, error)
	ListByEmergency(ctx context.Context, emergencyID string) ([]models.Acknowledgment, error)
}

// DeliveryRepository persists notification batches and their delivery jobs.
// Batch counters are updated with atomic increments only.
type DeliveryRepository interface {
	// CreateBatch fails with ErrBatchExists when a batch for the same event
	// ID has already been created (duplicate event delivery).
	CreateBatch(ctx context.Context, batch *models.NotificationBatch) error
	GetBatch(ctx context.Context, batchID string) (*models.NotificationBatch, error)
	GetBatchByEventID(ctx context.Context, eventID string) (*models.NotificationBatch, error)
	InsertJobs(ctx context.Context, jobs []*models.DeliveryJob) error
	IncrementJobAttempts(ctx context.Context, jobID string) error
	// SwitchJobChannel moves a non-terminal job to its fallback channel,
	// resetting the attempt count and raising priority to expedited.
	SwitchJobChannel(ctx context.Context, jobID string, channel models.Channel) error
	MarkJobDelivered(ctx context.Context, job *models.DeliveryJob) error
	MarkJobFailed(ctx context.Context, job *models.DeliveryJob, reason string) error
}

// RecipientResolver maps a user to their ordered emergency contact tiers.
type RecipientResolver interface {
	ResolveRecipients(ctx context.Context, userID string) ([]models.Recipient, error)
	ResolveTier(ctx context.Context, userID string, tier models.ContactTier) ([]models.Recipient, error)
}

// ChannelProvider sends one rendered message over one transport and
// classifies the outcome.
type ChannelProvider interface {
	Send(ctx context.Context, job *models.DeliveryJob) models.DeliveryResult
}

// EventPublisher publishes lifecycle events to the event bus.
type EventPublisher interface {
	Publish(ctx context.Context, event *models.LifecycleEvent) error
}

// JobSubmitter accepts delivery jobs for asynchronous processing.
type JobSubmitter interface {
	Submit(job *models.DeliveryJob) error
}
