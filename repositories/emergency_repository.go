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

type EmergencyRepository struct {
	collection *mongo.Collection
}

func NewEmergencyRepository(database *mongo.Database) *EmergencyRepository {
	return &EmergencyRepository{
		collection: database.Collection("emergencies"),
	}
}

func (er *EmergencyRepository) Create(ctx context.Context, emergency *models.Emergency) error {
	if emergency.ID == "" {
		emergency.ID = utils.GenerateUUID()
	}
	if emergency.CreatedAt.IsZero() {
		emergency.CreatedAt = time.Now()
	}

	_, err := er.collection.InsertOne(ctx, emergency)
	if err != nil {
		// The partial unique index on non-terminal emergencies rejects a
		// second pending/active record for the same user.
		if mongo.IsDuplicateKeyError(err) {
			return utils.NewActiveEmergencyExistsError()
		}
		logrus.Errorf("Failed to create emergency: %v", err)
		return utils.NewDatabaseError("create emergency", err)
	}

	return nil
}

func (er *EmergencyRepository) GetByID(ctx context.Context, id string) (*models.Emergency, error) {
	var emergency models.Emergency
	err := er.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&emergency)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, utils.NewEmergencyNotFoundError()
		}
		logrus.Errorf("Failed to get emergency %s: %v", id, err)
		return nil, utils.NewDatabaseError("get emergency", err)
	}

	return &emergency, nil
}

// GetActiveByUser returns the user's non-terminal emergency, or nil.
func (er *EmergencyRepository) GetActiveByUser(ctx context.Context, userID string) (*models.Emergency, error) {
	filter := bson.M{
		"userId": userID,
		"status": bson.M{"$in": []models.EmergencyStatus{models.StatusPending, models.StatusActive}},
	}

	var emergency models.Emergency
	err := er.collection.FindOne(ctx, filter).Decode(&emergency)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		logrus.Errorf("Failed to get active emergency for user %s: %v", userID, err)
		return nil, utils.NewDatabaseError("get active emergency", err)
	}

	return &emergency, nil
}

// validTransitionSources lists the statuses each target status may be reached
// from. Update filters include them so a stale write from another instance
// matches nothing instead of clobbering a terminal record.
var validTransitionSources = map[models.EmergencyStatus][]models.EmergencyStatus{
	models.StatusActive:    {models.StatusPending},
	models.StatusCancelled: {models.StatusPending, models.StatusActive},
	models.StatusResolved:  {models.StatusActive},
}

func (er *EmergencyRepository) UpdateStatus(ctx context.Context, id string, status models.EmergencyStatus) error {
	now := time.Now()
	update := bson.M{"status": status}

	switch status {
	case models.StatusActive:
		update["activatedAt"] = now
	case models.StatusCancelled:
		update["cancelledAt"] = now
	case models.StatusResolved:
		update["resolvedAt"] = now
	}

	return er.guardedUpdate(ctx, id, status, update, "update emergency status")
}

func (er *EmergencyRepository) Cancel(ctx context.Context, id, reason string) error {
	update := bson.M{
		"status":             models.StatusCancelled,
		"cancelledAt":        time.Now(),
		"cancellationReason": reason,
	}

	return er.guardedUpdate(ctx, id, models.StatusCancelled, update, "cancel emergency")
}

func (er *EmergencyRepository) Resolve(ctx context.Context, id, notes string) error {
	update := bson.M{
		"status":          models.StatusResolved,
		"resolvedAt":      time.Now(),
		"resolutionNotes": notes,
	}

	return er.guardedUpdate(ctx, id, models.StatusResolved, update, "resolve emergency")
}

func (er *EmergencyRepository) guardedUpdate(ctx context.Context, id string, target models.EmergencyStatus, update bson.M, operation string) error {
	filter := bson.M{
		"_id":    id,
		"status": bson.M{"$in": validTransitionSources[target]},
	}

	result, err := er.collection.UpdateOne(ctx, filter, bson.M{"$set": update})
	if err != nil {
		logrus.Errorf("Failed to %s %s: %v", operation, id, err)
		return utils.NewDatabaseError(operation, err)
	}

	if result.MatchedCount == 0 {
		current, err := er.GetByID(ctx, id)
		if err != nil {
			return err
		}
		logrus.Warnf("Emergency %s is %s, rejected transition to %s", id, current.Status, target)
		return utils.NewInvalidStateTransitionError(string(current.Status), string(target))
	}

	return nil
}

func (er *EmergencyRepository) ListByUser(ctx context.Context, filters models.EmergencyHistoryFilters) ([]models.Emergency, int64, error) {
	filter := bson.M{"userId": filters.UserID}
	if filters.Status != "" {
		filter["status"] = filters.Status
	}
	if filters.Type != "" {
		filter["type"] = filters.Type
	}

	total, err := er.collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, utils.NewDatabaseError("count emergencies", err)
	}

	page := filters.Page
	if page < 1 {
		page = 1
	}
	pageSize := filters.PageSize
	if pageSize < 1 {
		pageSize = 20
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetSkip(int64((page - 1) * pageSize)).
		SetLimit(int64(pageSize))

	cursor, err := er.collection.Find(ctx, filter, opts)
	if err != nil {
		logrus.Errorf("Failed to list emergencies for user %s: %v", filters.UserID, err)
		return nil, 0, utils.NewDatabaseError("list emergencies", err)
	}
	defer cursor.Close(ctx)

	var emergencies []models.Emergency
	if err = cursor.All(ctx, &emergencies); err != nil {
		return nil, 0, utils.NewDatabaseError("decode emergencies", err)
	}

	return emergencies, total, nil
}

// ListByStatus is used by the startup recovery sweep to find emergencies
// whose in-memory timers were lost in a restart.
func (er *EmergencyRepository) ListByStatus(ctx context.Context, status models.EmergencyStatus) ([]models.Emergency, error) {
	cursor, err := er.collection.Find(ctx, bson.M{"status": status})
	if err != nil {
		logrus.Errorf("Failed to list emergencies by status %s: %v", status, err)
		return nil, utils.NewDatabaseError("list emergencies by status", err)
	}
	defer cursor.Close(ctx)

	var emergencies []models.Emergency
	if err = cursor.All(ctx, &emergencies); err != nil {
		return nil, utils.NewDatabaseError("decode emergencies", err)
	}

	return emergencies, nil
}
