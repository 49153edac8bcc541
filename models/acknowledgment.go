package models

import "time"

// Acknowledgment records that a responder has seen an active emergency.
// At most one acknowledgment exists per (emergency, responder) pair;
// duplicates are rejected by a unique index, never overwritten.
type Acknowledgment struct {
	ID             string    `json:"id" bson:"_id"`
	EmergencyID    string    `json:"emergencyId" bson:"emergencyId"`
	ResponderID    string    `json:"responderId" bson:"responderId"`
	ResponderName  string    `json:"responderName" bson:"responderName"`
	AcknowledgedAt time.Time `json:"acknowledgedAt" bson:"acknowledgedAt"`
	Location       *Location `json:"location,omitempty" bson:"location,omitempty"`
	Message        string    `json:"message,omitempty" bson:"message,omitempty"`
}

type AcknowledgeEmergencyRequest struct {
	ResponderID   string    `json:"responderId" binding:"required"`
	ResponderName string    `json:"responderName" binding:"required"`
	Location      *Location `json:"location,omitempty"`
	Message       string    `json:"message,omitempty"`
}
