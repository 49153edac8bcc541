package repositories

import (
	"context"
	"errors"
	"lifeline/models"
	"lifeline/utils"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// ErrBatchExists is returned when a batch has already been created for the
// same event ID. Duplicate event delivery is expected on an at-least-once
// bus; callers treat this as "already dispatched".
var ErrBatchExists = errors.New("notification batch already exists for event")

type DeliveryRepository struct {
	batchCollection *mongo.Collection
	jobCollection   *mongo.Collection
}

func NewDeliveryRepository(database *mongo.Database) *DeliveryRepository {
	return &DeliveryRepository{
		batchCollection: database.Collection("notification_batches"),
		jobCollection:   database.Collection("delivery_jobs"),
	}
}

// CreateBatch inserts a batch record. The unique eventId index makes batch
// creation idempotent per lifecycle event.
func (dr *DeliveryRepository) CreateBatch(ctx context.Context, batch *models.NotificationBatch) error {
	if batch.ID == "" {
		batch.ID = utils.GenerateUUID()
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now()
	}
	batch.Pending = batch.Total

	_, err := dr.batchCollection.InsertOne(ctx, batch)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrBatchExists
		}
		logrus.Errorf("Failed to create notification batch for event %s: %v", batch.EventID, err)
		return utils.NewDatabaseError("create notification batch", err)
	}

	return nil
}

func (dr *DeliveryRepository) GetBatch(ctx context.Context, batchID string) (*models.NotificationBatch, error) {
	var batch models.NotificationBatch
	err := dr.batchCollection.FindOne(ctx, bson.M{"_id": batchID}).Decode(&batch)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, utils.NewBatchNotFoundError()
		}
		logrus.Errorf("Failed to get batch %s: %v", batchID, err)
		return nil, utils.NewDatabaseError("get notification batch", err)
	}

	return &batch, nil
}

func (dr *DeliveryRepository) GetBatchByEventID(ctx context.Context, eventID string) (*models.NotificationBatch, error) {
	var batch models.NotificationBatch
	err := dr.batchCollection.FindOne(ctx, bson.M{"eventId": eventID}).Decode(&batch)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, utils.NewBatchNotFoundError()
		}
		logrus.Errorf("Failed to get batch for event %s: %v", eventID, err)
		return nil, utils.NewDatabaseError("get notification batch by event", err)
	}

	return &batch, nil
}

func (dr *DeliveryRepository) InsertJobs(ctx context.Context, jobs []*models.DeliveryJob) error {
	if len(jobs) == 0 {
		return nil
	}

	docs := make([]interface{}, 0, len(jobs))
	now := time.Now()
	for _, job := range jobs {
		if job.ID == "" {
			job.ID = utils.GenerateUUID()
		}
		if job.CreatedAt.IsZero() {
			job.CreatedAt = now
		}
		if job.Status == "" {
			job.Status = models.JobStatusQueued
		}
		docs = append(docs, job)
	}

	_, err := dr.jobCollection.InsertMany(ctx, docs)
	if err != nil {
		logrus.Errorf("Failed to insert %d delivery jobs: %v", len(jobs), err)
		return utils.NewDatabaseError("insert delivery jobs", err)
	}

	return nil
}

func (dr *DeliveryRepository) IncrementJobAttempts(ctx context.Context, jobID string) error {
	_, err := dr.jobCollection.UpdateOne(ctx,
		bson.M{"_id": jobID},
		bson.M{
			"$inc": bson.M{"attempts": 1},
			"$set": bson.M{"status": models.JobStatusDelivering},
		},
	)
	if err != nil {
		logrus.Errorf("Failed to increment attempts for job %s: %v", jobID, err)
		return utils.NewDatabaseError("increment job attempts", err)
	}

	return nil
}

// SwitchJobChannel moves a job to its fallback channel. The status guard
// keeps terminal jobs immutable.
func (dr *DeliveryRepository) SwitchJobChannel(ctx context.Context, jobID string, channel models.Channel) error {
	_, err := dr.jobCollection.UpdateOne(ctx,
		bson.M{
			"_id":    jobID,
			"status": bson.M{"$nin": []models.JobStatus{models.JobStatusDelivered, models.JobStatusFailed}},
		},
		bson.M{"$set": bson.M{
			"channel":  channel,
			"priority": models.PriorityExpedited,
			"attempts": 0,
			"status":   models.JobStatusQueued,
		}},
	)
	if err != nil {
		logrus.Errorf("Failed to switch job %s to channel %s: %v", jobID, channel, err)
		return utils.NewDatabaseError("switch job channel", err)
	}

	return nil
}

// MarkJobDelivered finalizes a job and bumps the batch counters in one
// atomic increment each; never read-modify-write.
func (dr *DeliveryRepository) MarkJobDelivered(ctx context.Context, job *models.DeliveryJob) error {
	now := time.Now()

	result, err := dr.jobCollection.UpdateOne(ctx,
		bson.M{
			"_id":    job.ID,
			"status": bson.M{"$nin": []models.JobStatus{models.JobStatusDelivered, models.JobStatusFailed}},
		},
		bson.M{"$set": bson.M{
			"status":      models.JobStatusDelivered,
			"channel":     job.Channel,
			"attempts":    job.Attempts,
			"completedAt": now,
		}},
	)
	if err != nil {
		logrus.Errorf("Failed to mark job %s delivered: %v", job.ID, err)
		return utils.NewDatabaseError("mark job delivered", err)
	}
	if result.ModifiedCount == 0 {
		// Already terminal; do not touch the counters twice.
		return nil
	}

	return dr.applyBatchDelta(ctx, job.BatchID, bson.M{"sent": 1, "delivered": 1, "pending": -1})
}

// MarkJobFailed finalizes a job as failed-permanent.
func (dr *DeliveryRepository) MarkJobFailed(ctx context.Context, job *models.DeliveryJob, reason string) error {
	now := time.Now()

	result, err := dr.jobCollection.UpdateOne(ctx,
		bson.M{
			"_id":    job.ID,
			"status": bson.M{"$nin": []models.JobStatus{models.JobStatusDelivered, models.JobStatusFailed}},
		},
		bson.M{"$set": bson.M{
			"status":      models.JobStatusFailed,
			"channel":     job.Channel,
			"attempts":    job.Attempts,
			"lastError":   reason,
			"completedAt": now,
		}},
	)
	if err != nil {
		logrus.Errorf("Failed to mark job %s failed: %v", job.ID, err)
		return utils.NewDatabaseError("mark job failed", err)
	}
	if result.ModifiedCount == 0 {
		return nil
	}

	return dr.applyBatchDelta(ctx, job.BatchID, bson.M{"failed": 1, "pending": -1})
}

func (dr *DeliveryRepository) applyBatchDelta(ctx context.Context, batchID string, delta bson.M) error {
	var batch models.NotificationBatch
	err := dr.batchCollection.FindOneAndUpdate(ctx,
		bson.M{"_id": batchID},
		bson.M{"$inc": delta},
	).Decode(&batch)
	if err != nil {
		logrus.Errorf("Failed to update counters for batch %s: %v", batchID, err)
		return utils.NewDatabaseError("update batch counters", err)
	}

	// FindOneAndUpdate returns the pre-update document; the batch is
	// complete when this delta consumed the last pending job.
	if batch.Pending == 1 && batch.CompletedAt == nil {
		now := time.Now()
		_, err = dr.batchCollection.UpdateOne(ctx,
			bson.M{"_id": batchID, "completedAt": nil},
			bson.M{"$set": bson.M{"completedAt": now}},
		)
		if err != nil {
			logrus.Errorf("Failed to mark batch %s complete: %v", batchID, err)
		}
	}

	return nil
}
