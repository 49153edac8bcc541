package repositories

import (
	"context"
	"lifeline/models"
	"lifeline/utils"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type AcknowledgmentRepository struct {
	collection *mongo.Collection
}

func NewAcknowledgmentRepository(database *mongo.Database) *AcknowledgmentRepository {
	return &AcknowledgmentRepository{
		collection: database.Collection("acknowledgments"),
	}
}

// Create inserts an acknowledgment. The unique (emergencyId, responderId)
// index rejects duplicates.
func (ar *AcknowledgmentRepository) Create(ctx context.Context, ack *models.Acknowledgment) error {
	if ack.ID == "" {
		ack.ID = utils.GenerateUUID()
	}
	if ack.AcknowledgedAt.IsZero() {
		ack.AcknowledgedAt = time.Now()
	}

	_, err := ar.collection.InsertOne(ctx, ack)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return utils.NewDuplicateAcknowledgmentError()
		}
		logrus.Errorf("Failed to create acknowledgment for emergency %s: %v", ack.EmergencyID, err)
		return utils.NewDatabaseError("create acknowledgment", err)
	}

	return nil
}

func (ar *AcknowledgmentRepository) CountByEmergency(ctx context.Context, emergencyID string) (int64, error) {
	count, err := ar.collection.CountDocuments(ctx, bson.M{"emergencyId": emergencyID})
	if err != nil {
		logrus.Errorf("Failed to count acknowledgments for emergency %s: %v", emergencyID, err)
		return 0, utils.NewDatabaseError("count acknowledgments", err)
	}

	return count, nil
}

func (ar *AcknowledgmentRepository) ListByEmergency(ctx context.Context, emergencyID string) ([]models.Acknowledgment, error) {
	opts := options.Find().SetSort(bson.D{{Key: "acknowledgedAt", Value: 1}})
	cursor, err := ar.collection.Find(ctx, bson.M{"emergencyId": emergencyID}, opts)
	if err != nil {
		logrus.Errorf("Failed to list acknowledgments for emergency %s: %v", emergencyID, err)
		return nil, utils.NewDatabaseError("list acknowledgments", err)
	}
	defer cursor.Close(ctx)

	var acks []models.Acknowledgment
	if err = cursor.All(ctx, &acks); err != nil {
		return nil, utils.NewDatabaseError("decode acknowledgments", err)
	}

	return acks, nil
}
