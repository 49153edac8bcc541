package models

import "time"

// Channel Constants
type Channel string

const (
	ChannelPush  Channel = "push"
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// Priority Constants
type Priority string

const (
	PriorityExpedited Priority = "expedited"
	PriorityStandard  Priority = "standard"
)

// Job Status Constants
//
// delivered and failed are terminal; a job is never mutated after reaching
// either of them.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusDelivering JobStatus = "delivering"
	JobStatusDelivered  JobStatus = "delivered"
	JobStatusFailed     JobStatus = "failed"
)

// Batch Kind Constants
type BatchKind string

const (
	BatchKindActivation BatchKind = "activation"
	BatchKindEscalation BatchKind = "escalation"
	BatchKindFollowUp   BatchKind = "follow_up"
)

// RenderedMessage is the channel-agnostic payload carried by a delivery job.
type RenderedMessage struct {
	Title string            `json:"title" bson:"title"`
	Body  string            `json:"body" bson:"body"`
	Data  map[string]string `json:"data,omitempty" bson:"data,omitempty"`
}

// DeliveryJob is one unit of work for the delivery worker pool: one message
// to one recipient over one channel. On channel fallback the job switches
// channel in place so the batch counters stay exact.
type DeliveryJob struct {
	ID          string          `json:"id" bson:"_id"`
	EmergencyID string          `json:"emergencyId" bson:"emergencyId"`
	BatchID     string          `json:"batchId" bson:"batchId"`
	ContactID   string          `json:"contactId" bson:"contactId"`
	Recipient   Recipient       `json:"recipient" bson:"recipient"`
	Channel     Channel         `json:"channel" bson:"channel"`
	Priority    Priority        `json:"priority" bson:"priority"`
	Message     RenderedMessage `json:"message" bson:"message"`
	Attempts    int             `json:"attempts" bson:"attempts"`
	Status      JobStatus       `json:"status" bson:"status"`
	LastError   string          `json:"lastError,omitempty" bson:"lastError,omitempty"`
	CreatedAt   time.Time       `json:"createdAt" bson:"createdAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty" bson:"completedAt,omitempty"`
}

// NotificationBatch tracks the fan-out of one lifecycle event.
// Invariant: Sent + Failed + Pending == Total at every observable point.
type NotificationBatch struct {
	ID          string     `json:"id" bson:"_id"`
	EmergencyID string     `json:"emergencyId" bson:"emergencyId"`
	EventID     string     `json:"eventId" bson:"eventId"`
	Kind        BatchKind  `json:"kind" bson:"kind"`
	Total       int64      `json:"total" bson:"total"`
	Sent        int64      `json:"sent" bson:"sent"`
	Delivered   int64      `json:"delivered" bson:"delivered"`
	Failed      int64      `json:"failed" bson:"failed"`
	Pending     int64      `json:"pending" bson:"pending"`
	CreatedAt   time.Time  `json:"createdAt" bson:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty" bson:"completedAt,omitempty"`
}

// IsComplete reports whether every job in the batch has reached a terminal
// status.
func (b *NotificationBatch) IsComplete() bool {
	return b.Pending == 0
}

// DeliveryResult is the classified outcome of one channel provider call.
type DeliveryResult struct {
	Delivered bool   `json:"delivered"`
	MessageID string `json:"messageId,omitempty"`
	ErrorCode string `json:"errorCode,omitempty"`
	Retryable bool   `json:"retryable"`
}

// Provider error codes shared across channels. Permanent codes never succeed
// on retry and skip straight to fallback or terminal failure.
const (
	ErrCodeInvalidToken      = "invalid_token"
	ErrCodeInvalidAddress    = "invalid_address"
	ErrCodeBlacklisted       = "blacklisted"
	ErrCodePermissionRevoked = "permission_revoked"
	ErrCodeProviderError     = "provider_error"
	ErrCodeProviderTimeout   = "provider_timeout"
	ErrCodeRateLimited       = "rate_limited"
	ErrCodeUnavailable       = "provider_unavailable"
)

type BatchStatusResponse struct {
	BatchID     string     `json:"batchId"`
	EmergencyID string     `json:"emergencyId"`
	Kind        BatchKind  `json:"kind"`
	Total       int64      `json:"total"`
	Sent        int64      `json:"sent"`
	Delivered   int64      `json:"delivered"`
	Failed      int64      `json:"failed"`
	Pending     int64      `json:"pending"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

type EscalationStatusResponse struct {
	EmergencyID    string `json:"emergencyId"`
	Scheduled      bool   `json:"scheduled"`
	FollowUpActive bool   `json:"followUpActive"`
}
