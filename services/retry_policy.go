package services

import (
	"lifeline/models"
	"math/rand"
	"time"
)

// ChannelPolicy bounds retries for one transport.
type ChannelPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// RetryPolicy decides whether a failed delivery attempt is retried on the
// same channel, escalated to a fallback channel, or abandoned.
type RetryPolicy struct {
	policies map[models.Channel]ChannelPolicy
}

// permanentErrorCodes never succeed on retry.
var permanentErrorCodes = map[string]bool{
	models.ErrCodeInvalidToken:      true,
	models.ErrCodeInvalidAddress:    true,
	models.ErrCodeBlacklisted:       true,
	models.ErrCodePermissionRevoked: true,
}

// DefaultRetryPolicy gives push fewer attempts than SMS and email: a stale
// push token is common and falling back quickly matters more than retrying.
func DefaultRetryPolicy() *RetryPolicy {
	return NewRetryPolicy(map[models.Channel]ChannelPolicy{
		models.ChannelPush:  {MaxAttempts: 2, BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second},
		models.ChannelSMS:   {MaxAttempts: 3, BaseDelay: 5 * time.Second, MaxDelay: 60 * time.Second},
		models.ChannelEmail: {MaxAttempts: 3, BaseDelay: 10 * time.Second, MaxDelay: 120 * time.Second},
	})
}

func NewRetryPolicy(policies map[models.Channel]ChannelPolicy) *RetryPolicy {
	return &RetryPolicy{policies: policies}
}

// MaxAttempts returns the attempt budget for a channel.
func (rp *RetryPolicy) MaxAttempts(channel models.Channel) int {
	return rp.policies[channel].MaxAttempts
}

// ShouldRetry reports whether another attempt on the same channel is worth
// making.
func (rp *RetryPolicy) ShouldRetry(channel models.Channel, attemptsMade int, errorCode string) bool {
	policy, ok := rp.policies[channel]
	if !ok {
		return false
	}
	if attemptsMade >= policy.MaxAttempts {
		return false
	}
	if permanentErrorCodes[errorCode] {
		return false
	}
	return true
}

// IsPermanent reports whether an error code is classified permanent.
func (rp *RetryPolicy) IsPermanent(errorCode string) bool {
	return permanentErrorCodes[errorCode]
}

// NextBackoff returns the delay before the given attempt number, exponential
// with a cap and +/-20% jitter so retries against a struggling provider do
// not arrive in lockstep.
func (rp *RetryPolicy) NextBackoff(channel models.Channel, attemptsMade int) time.Duration {
	policy, ok := rp.policies[channel]
	if !ok {
		return time.Second
	}

	delay := policy.BaseDelay
	for i := 1; i < attemptsMade; i++ {
		delay *= 2
		if delay >= policy.MaxDelay {
			delay = policy.MaxDelay
			break
		}
	}

	jitter := 0.8 + rand.Float64()*0.4
	return time.Duration(float64(delay) * jitter)
}

// FallbackChannel returns the next transport to try once a channel is
// exhausted: push falls back to SMS, SMS to email, each only when the
// recipient has the contact data for it.
func (rp *RetryPolicy) FallbackChannel(job *models.DeliveryJob) (models.Channel, bool) {
	switch job.Channel {
	case models.ChannelPush:
		if job.Recipient.Phone != "" {
			return models.ChannelSMS, true
		}
		fallthrough
	case models.ChannelSMS:
		if job.Recipient.Email != "" {
			return models.ChannelEmail, true
		}
	}
	return "", false
}
