package services

import (
	"context"
	"lifeline/models"

	"firebase.google.com/go/v4/errorutils"
	"firebase.google.com/go/v4/messaging"
	"github.com/sirupsen/logrus"
)

// PushProvider delivers over FCM. It implements interfaces.ChannelProvider.
type PushProvider struct {
	client *messaging.Client
}

func NewPushProvider(client *messaging.Client) *PushProvider {
	return &PushProvider{client: client}
}

func (pp *PushProvider) Send(ctx context.Context, job *models.DeliveryJob) models.DeliveryResult {
	if pp.client == nil {
		return models.DeliveryResult{ErrorCode: models.ErrCodeUnavailable, Retryable: true}
	}

	if job.Recipient.PushToken == "" {
		return models.DeliveryResult{ErrorCode: models.ErrCodeInvalidToken}
	}

	message := &messaging.Message{
		Token: job.Recipient.PushToken,
		Notification: &messaging.Notification{
			Title: job.Message.Title,
			Body:  job.Message.Body,
		},
		Data: job.Message.Data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound:     "emergency",
				ChannelID: "emergency_alerts",
				Icon:      "ic_notification",
				Color:     "#D32F2F",
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Alert: &messaging.ApsAlert{
						Title: job.Message.Title,
						Body:  job.Message.Body,
					},
					Sound: "emergency.caf",
				},
			},
		},
	}

	messageID, err := pp.client.Send(ctx, message)
	if err != nil {
		logrus.Warnf("FCM send failed for job %s: %v", job.ID, err)
		return classifyFCMError(err)
	}

	return models.DeliveryResult{Delivered: true, MessageID: messageID}
}

func classifyFCMError(err error) models.DeliveryResult {
	switch {
	case messaging.IsRegistrationTokenNotRegistered(err):
		return models.DeliveryResult{ErrorCode: models.ErrCodeInvalidToken}
	case errorutils.IsInvalidArgument(err):
		return models.DeliveryResult{ErrorCode: models.ErrCodeInvalidToken}
	case errorutils.IsResourceExhausted(err):
		return models.DeliveryResult{ErrorCode: models.ErrCodeRateLimited, Retryable: true}
	case errorutils.IsUnavailable(err), errorutils.IsDeadlineExceeded(err):
		return models.DeliveryResult{ErrorCode: models.ErrCodeUnavailable, Retryable: true}
	case errorutils.IsInternal(err):
		return models.DeliveryResult{ErrorCode: models.ErrCodeProviderError, Retryable: true}
	default:
		return models.DeliveryResult{ErrorCode: models.ErrCodeProviderError, Retryable: true}
	}
}
