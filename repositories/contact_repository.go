package repositories

import (
	"context"
	"lifeline/models"
	"lifeline/utils"
	"sort"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// tierOrder sorts primary before secondary before tertiary.
var tierOrder = map[models.ContactTier]int{
	models.TierPrimary:   0,
	models.TierSecondary: 1,
	models.TierTertiary:  2,
}

// ContactRepository resolves a user's emergency contacts into recipient
// tiers. It implements interfaces.RecipientResolver.
type ContactRepository struct {
	collection *mongo.Collection
}

func NewContactRepository(database *mongo.Database) *ContactRepository {
	return &ContactRepository{
		collection: database.Collection("emergency_contacts"),
	}
}

func (cr *ContactRepository) ResolveRecipients(ctx context.Context, userID string) ([]models.Recipient, error) {
	return cr.find(ctx, bson.M{"userId": userID})
}

func (cr *ContactRepository) ResolveTier(ctx context.Context, userID string, tier models.ContactTier) ([]models.Recipient, error) {
	return cr.find(ctx, bson.M{"userId": userID, "tier": tier})
}

func (cr *ContactRepository) find(ctx context.Context, filter bson.M) ([]models.Recipient, error) {
	opts := options.Find().SetSort(bson.D{{Key: "tier", Value: 1}, {Key: "name", Value: 1}})
	cursor, err := cr.collection.Find(ctx, filter, opts)
	if err != nil {
		logrus.Errorf("Failed to resolve emergency contacts: %v", err)
		return nil, utils.NewDatabaseError("resolve emergency contacts", err)
	}
	defer cursor.Close(ctx)

	var contacts []models.EmergencyContact
	if err = cursor.All(ctx, &contacts); err != nil {
		return nil, utils.NewDatabaseError("decode emergency contacts", err)
	}

	recipients := make([]models.Recipient, 0, len(contacts))
	for _, contact := range contacts {
		recipients = append(recipients, models.Recipient{
			ContactID: contact.ID,
			Name:      contact.Name,
			Tier:      contact.Tier,
			PushToken: contact.PushToken,
			Phone:     contact.Phone,
			Email:     contact.Email,
		})
	}

	sort.SliceStable(recipients, func(i, j int) bool {
		return tierOrder[recipients[i].Tier] < tierOrder[recipients[j].Tier]
	})

	return recipients, nil
}
