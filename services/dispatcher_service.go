package services

import (
	"context"
	"errors"
	"fmt"
	"lifeline/interfaces"
	"lifeline/models"
	"lifeline/repositories"
	"lifeline/utils"
	"time"

	"github.com/sirupsen/logrus"
)

// DispatcherService expands lifecycle events into per-recipient, per-channel
// delivery jobs, tracks them as a batch, and hands the jobs to the priority
// scheduler. Batch creation is idempotent per event ID, so duplicate event
// delivery from the at-least-once bus never double-notifies.
type DispatcherService struct {
	deliveryRepo interfaces.DeliveryRepository
	resolver     interfaces.RecipientResolver
	submitter    interfaces.JobSubmitter
}

func NewDispatcherService(
	deliveryRepo interfaces.DeliveryRepository,
	resolver interfaces.RecipientResolver,
	submitter interfaces.JobSubmitter,
) *DispatcherService {
	return &DispatcherService{
		deliveryRepo: deliveryRepo,
		resolver:     resolver,
		submitter:    submitter,
	}
}

// HandleEvent is the event bus entry point.
func (ds *DispatcherService) HandleEvent(ctx context.Context, event *models.LifecycleEvent) error {
	switch event.Kind {
	case models.EventEmergencyActivated:
		_, err := ds.Dispatch(ctx, event)
		return err
	case models.EventEmergencyResolved, models.EventEmergencyCancelled:
		// Nothing to fan out; in-flight jobs for the emergency drain on
		// their own and escalation is stopped by the lifecycle service.
		logrus.Debugf("Dispatcher ignoring %s event for emergency %s", event.Kind, event.EmergencyID)
		return nil
	default:
		logrus.Warnf("Dispatcher received unknown event kind %s", event.Kind)
		return nil
	}
}

// Dispatch expands an activation event into one job per (recipient, channel)
// pair. Primary-tier recipients get expedited priority; everyone else rides
// the standard lane.
func (ds *DispatcherService) Dispatch(ctx context.Context, event *models.LifecycleEvent) (*models.NotificationBatch, error) {
	recipients := event.Recipients
	if len(recipients) == 0 {
		// The snapshot may be empty when recipient resolution degraded at
		// publish time; try again rather than silently notifying nobody.
		resolved, err := ds.resolver.ResolveRecipients(ctx, event.UserID)
		if err != nil {
			logrus.Errorf("Recipient resolution failed for emergency %s: %v", event.EmergencyID, err)
		}
		recipients = resolved
	}

	return ds.createBatch(ctx, event, models.BatchKindActivation, recipients, func(r *models.Recipient) models.Priority {
		if r.Tier == models.TierPrimary {
			return models.PriorityExpedited
		}
		return models.PriorityStandard
	})
}

// DispatchEscalation notifies the next responder tier after the escalation
// timeout fired without an acknowledgment. Always expedited.
func (ds *DispatcherService) DispatchEscalation(ctx context.Context, emergency *models.Emergency) (*models.NotificationBatch, error) {
	recipients, err := ds.resolver.ResolveTier(ctx, emergency.UserID, models.TierSecondary)
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		recipients, err = ds.resolver.ResolveTier(ctx, emergency.UserID, models.TierTertiary)
		if err != nil {
			return nil, err
		}
	}
	if len(recipients) == 0 {
		logrus.Warnf("No secondary or tertiary contacts to escalate to for emergency %s", emergency.ID)
		return nil, nil
	}

	event := eventForEmergency(emergency, "escalation:"+emergency.ID)
	return ds.createBatch(ctx, event, models.BatchKindEscalation, recipients, expeditedPriority)
}

// DispatchFollowUp re-notifies every contact while the emergency remains
// unacknowledged. The sequence number keys idempotence per interval tick.
func (ds *DispatcherService) DispatchFollowUp(ctx context.Context, emergency *models.Emergency, sequence int) (*models.NotificationBatch, error) {
	recipients, err := ds.resolver.ResolveRecipients(ctx, emergency.UserID)
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		logrus.Warnf("No contacts for follow-up %d on emergency %s", sequence, emergency.ID)
		return nil, nil
	}

	event := eventForEmergency(emergency, fmt.Sprintf("followup:%s:%d", emergency.ID, sequence))
	return ds.createBatch(ctx, event, models.BatchKindFollowUp, recipients, expeditedPriority)
}

// GetBatchStatus returns the counter snapshot for a batch.
func (ds *DispatcherService) GetBatchStatus(ctx context.Context, batchID string) (*models.BatchStatusResponse, error) {
	batch, err := ds.deliveryRepo.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	return &models.BatchStatusResponse{
		BatchID:     batch.ID,
		EmergencyID: batch.EmergencyID,
		Kind:        batch.Kind,
		Total:       batch.Total,
		Sent:        batch.Sent,
		Delivered:   batch.Delivered,
		Failed:      batch.Failed,
		Pending:     batch.Pending,
		CreatedAt:   batch.CreatedAt,
		CompletedAt: batch.CompletedAt,
	}, nil
}

func (ds *DispatcherService) createBatch(
	ctx context.Context,
	event *models.LifecycleEvent,
	kind models.BatchKind,
	recipients []models.Recipient,
	priorityFor func(*models.Recipient) models.Priority,
) (*models.NotificationBatch, error) {
	message := utils.BuildEmergencyMessage(event, kind)

	var jobs []*models.DeliveryJob
	for i := range recipients {
		recipient := recipients[i]
		for _, channel := range recipient.Channels() {
			jobs = append(jobs, &models.DeliveryJob{
				ID:          utils.GenerateUUID(),
				EmergencyID: event.EmergencyID,
				ContactID:   recipient.ContactID,
				Recipient:   recipient,
				Channel:     channel,
				Priority:    priorityFor(&recipient),
				Message:     message,
				Status:      models.JobStatusQueued,
			})
		}
	}

	batch := &models.NotificationBatch{
		ID:          utils.GenerateUUID(),
		EmergencyID: event.EmergencyID,
		EventID:     event.EventID,
		Kind:        kind,
		Total:       int64(len(jobs)),
	}

	err := ds.deliveryRepo.CreateBatch(ctx, batch)
	if err != nil {
		if errors.Is(err, repositories.ErrBatchExists) {
			logrus.Infof("Batch for event %s already exists, skipping re-expansion", event.EventID)
			return ds.deliveryRepo.GetBatchByEventID(ctx, event.EventID)
		}
		return nil, err
	}

	for _, job := range jobs {
		job.BatchID = batch.ID
	}

	if err := ds.deliveryRepo.InsertJobs(ctx, jobs); err != nil {
		return nil, err
	}

	for _, job := range jobs {
		if err := ds.submitter.Submit(job); err != nil {
			logrus.Errorf("Failed to submit job %s to scheduler: %v", job.ID, err)
		}
	}

	logrus.Infof("Dispatched %s batch %s for emergency %s (%d jobs)", kind, batch.ID, event.EmergencyID, len(jobs))
	return batch, nil
}

func expeditedPriority(*models.Recipient) models.Priority {
	return models.PriorityExpedited
}

func eventForEmergency(emergency *models.Emergency, eventID string) *models.LifecycleEvent {
	return &models.LifecycleEvent{
		EventID:     eventID,
		Kind:        models.EventEmergencyActivated,
		EmergencyID: emergency.ID,
		UserID:      emergency.UserID,
		Type:        emergency.Type,
		Location:    emergency.Location,
		Message:     emergency.Message,
		TriggeredBy: emergency.TriggeredBy,
		Timestamp:   time.Now(),
	}
}
