package database

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureIndexes creates the indexes the application relies on. Two of them
// enforce correctness, not just speed: the unique eventId index makes batch
// creation idempotent under duplicate event delivery, and the unique
// (emergencyId, responderId) index rejects duplicate acknowledgments.
func EnsureIndexes(db *mongo.Database) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	emergencyIndexes := []mongo.IndexModel{
		{
			// Partial unique index on non-terminal emergencies: the
			// at-most-one-active-per-user invariant holds even across
			// multiple instances, not just behind one process's lock.
			Keys: bson.D{{Key: "userId", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{
					"status": bson.M{"$in": bson.A{"pending", "active"}},
				}),
		},
		{
			Keys: bson.D{{Key: "userId", Value: 1}, {Key: "status", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: -1}},
		},
	}
	if _, err := db.Collection("emergencies").Indexes().CreateMany(ctx, emergencyIndexes); err != nil {
		return err
	}

	ackIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "emergencyId", Value: 1}, {Key: "responderId", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	if _, err := db.Collection("acknowledgments").Indexes().CreateMany(ctx, ackIndexes); err != nil {
		return err
	}

	batchIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "eventId", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "emergencyId", Value: 1}},
		},
	}
	if _, err := db.Collection("notification_batches").Indexes().CreateMany(ctx, batchIndexes); err != nil {
		return err
	}

	jobIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "batchId", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "emergencyId", Value: 1}, {Key: "status", Value: 1}},
		},
	}
	if _, err := db.Collection("delivery_jobs").Indexes().CreateMany(ctx, jobIndexes); err != nil {
		return err
	}

	contactIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "userId", Value: 1}, {Key: "tier", Value: 1}},
		},
	}
	if _, err := db.Collection("emergency_contacts").Indexes().CreateMany(ctx, contactIndexes); err != nil {
		return err
	}

	logrus.Info("Database indexes ensured")
	return nil
}
