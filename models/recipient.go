package models

// Contact Tier Constants
//
// Tiers order who gets notified first: primary contacts on activation,
// secondary on escalation, tertiary as a last resort.
type ContactTier string

const (
	TierPrimary   ContactTier = "primary"
	TierSecondary ContactTier = "secondary"
	TierTertiary  ContactTier = "tertiary"
)

// Recipient is a resolved emergency contact with whatever channel data it has.
type Recipient struct {
	ContactID string      `json:"contactId" bson:"contactId"`
	Name      string      `json:"name" bson:"name"`
	Tier      ContactTier `json:"tier" bson:"tier"`
	PushToken string      `json:"pushToken,omitempty" bson:"pushToken,omitempty"`
	Phone     string      `json:"phone,omitempty" bson:"phone,omitempty"`
	Email     string      `json:"email,omitempty" bson:"email,omitempty"`
}

// Channels returns the delivery channels this recipient can be reached on,
// in fallback order.
func (r *Recipient) Channels() []Channel {
	var channels []Channel
	if r.PushToken != "" {
		channels = append(channels, ChannelPush)
	}
	if r.Phone != "" {
		channels = append(channels, ChannelSMS)
	}
	if r.Email != "" {
		channels = append(channels, ChannelEmail)
	}
	return channels
}

// EmergencyContact is the persisted contact record backing recipient resolution.
type EmergencyContact struct {
	ID        string      `json:"id" bson:"_id"`
	UserID    string      `json:"userId" bson:"userId"`
	Name      string      `json:"name" bson:"name"`
	Tier      ContactTier `json:"tier" bson:"tier"`
	PushToken string      `json:"pushToken,omitempty" bson:"pushToken,omitempty"`
	Phone     string      `json:"phone,omitempty" bson:"phone,omitempty"`
	Email     string      `json:"email,omitempty" bson:"email,omitempty"`
}
