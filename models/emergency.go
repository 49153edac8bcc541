package models

import (
	"time"
)

// Emergency Status Constants
//
// Lifecycle: PENDING -> ACTIVE -> {CANCELLED | RESOLVED}, with
// PENDING -> CANCELLED allowed while the countdown is running.
type EmergencyStatus string

const (
	StatusPending   EmergencyStatus = "pending"
	StatusActive    EmergencyStatus = "active"
	StatusCancelled EmergencyStatus = "cancelled"
	StatusResolved  EmergencyStatus = "resolved"
)

// Emergency Type Constants
type EmergencyType string

const (
	EmergencyTypeSOS     EmergencyType = "sos"
	EmergencyTypeMedical EmergencyType = "medical"
	EmergencyTypeFire    EmergencyType = "fire"
	EmergencyTypePolice  EmergencyType = "police"
	EmergencyTypeFall    EmergencyType = "fall"
	EmergencyTypeGeneral EmergencyType = "general"
)

// Trigger Source Constants
type TriggerSource string

const (
	TriggeredByUser   TriggerSource = "user"
	TriggeredByDevice TriggerSource = "device"
	TriggeredBySystem TriggerSource = "system"
)

type Location struct {
	Latitude  float64   `json:"latitude" bson:"latitude"`
	Longitude float64   `json:"longitude" bson:"longitude"`
	Accuracy  float64   `json:"accuracy,omitempty" bson:"accuracy,omitempty"`
	Address   string    `json:"address,omitempty" bson:"address,omitempty"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// Emergency is the authoritative lifecycle record. It is mutated only by the
// lifecycle service under the per-emergency write lock.
type Emergency struct {
	ID               string          `json:"id" bson:"_id"`
	UserID           string          `json:"userId" bson:"userId"`
	Type             EmergencyType   `json:"type" bson:"type"`
	Status           EmergencyStatus `json:"status" bson:"status"`
	Location         Location        `json:"location" bson:"location"`
	Message          string          `json:"message,omitempty" bson:"message,omitempty"`
	TriggeredBy      TriggerSource   `json:"triggeredBy" bson:"triggeredBy"`
	CountdownSeconds int             `json:"countdownSeconds" bson:"countdownSeconds"`
	CreatedAt        time.Time       `json:"createdAt" bson:"createdAt"`
	ActivatedAt      *time.Time      `json:"activatedAt,omitempty" bson:"activatedAt,omitempty"`
	CancelledAt      *time.Time      `json:"cancelledAt,omitempty" bson:"cancelledAt,omitempty"`
	ResolvedAt       *time.Time      `json:"resolvedAt,omitempty" bson:"resolvedAt,omitempty"`

	CancellationReason string `json:"cancellationReason,omitempty" bson:"cancellationReason,omitempty"`
	ResolutionNotes    string `json:"resolutionNotes,omitempty" bson:"resolutionNotes,omitempty"`
}

func (e *Emergency) IsPending() bool {
	return e.Status == StatusPending
}

func (e *Emergency) IsActive() bool {
	return e.Status == StatusActive
}

// IsTerminal returns true once no further transitions are valid.
func (e *Emergency) IsTerminal() bool {
	return e.Status == StatusCancelled || e.Status == StatusResolved
}

func (e *Emergency) CanBeCancelled() bool {
	return e.Status == StatusPending || e.Status == StatusActive
}

func (e *Emergency) CanBeResolved() bool {
	return e.Status == StatusActive
}

// Duration returns how long the emergency has been (or was) active.
func (e *Emergency) Duration() time.Duration {
	if e.ActivatedAt == nil {
		return 0
	}
	end := time.Now()
	if e.ResolvedAt != nil {
		end = *e.ResolvedAt
	}
	return end.Sub(*e.ActivatedAt)
}

// =================== REQUEST/RESPONSE MODELS ===================

// CountdownSeconds is a pointer so an explicit 0 (activate immediately, no
// grace period) is distinguishable from an omitted field (use the default).
type TriggerEmergencyRequest struct {
	Type             EmergencyType `json:"type" binding:"required,oneof=sos medical fire police fall general"`
	Location         Location      `json:"location" binding:"required"`
	Message          string        `json:"message,omitempty"`
	CountdownSeconds *int          `json:"countdownSeconds,omitempty" binding:"omitempty,min=0,max=300"`
}

type DeviceTriggerRequest struct {
	UserID           string        `json:"userId" binding:"required"`
	DeviceID         string        `json:"deviceId" binding:"required"`
	Type             EmergencyType `json:"type" binding:"required,oneof=sos medical fire police fall general"`
	Location         Location      `json:"location" binding:"required"`
	Message          string        `json:"message,omitempty"`
	CountdownSeconds *int          `json:"countdownSeconds,omitempty" binding:"omitempty,min=0,max=300"`
}

type CancelEmergencyRequest struct {
	Reason string `json:"reason,omitempty"`
}

type ResolveEmergencyRequest struct {
	Notes string `json:"notes,omitempty"`
}

type EmergencyHistoryFilters struct {
	UserID   string
	Status   EmergencyStatus
	Type     EmergencyType
	Page     int
	PageSize int
}

type EmergencyDetailResponse struct {
	Emergency       Emergency        `json:"emergency"`
	Acknowledgments []Acknowledgment `json:"acknowledgments,omitempty"`
}
