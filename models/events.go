package models

import "time"

// Lifecycle Event Kind Constants
type EventKind string

const (
	EventEmergencyActivated EventKind = "emergency.activated"
	EventEmergencyResolved  EventKind = "emergency.resolved"
	EventEmergencyCancelled EventKind = "emergency.cancelled"
)

// LifecycleEvent is the wire shape published on the event bus. The bus is
// at-least-once, so consumers deduplicate by EventID.
type LifecycleEvent struct {
	EventID     string        `json:"eventId"`
	Kind        EventKind     `json:"kind"`
	EmergencyID string        `json:"emergencyId"`
	UserID      string        `json:"userId"`
	Type        EmergencyType `json:"type"`
	Location    Location      `json:"location"`
	Message     string        `json:"message,omitempty"`
	TriggeredBy TriggerSource `json:"triggeredBy"`

	// Recipients is the contact snapshot resolved at publish time, so the
	// dispatcher does not depend on the contact store being reachable.
	Recipients []Recipient `json:"recipients,omitempty"`

	Reason    string    `json:"reason,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
