package services

import (
	"context"
	"errors"
	"fmt"
	"lifeline/models"

	"github.com/sirupsen/logrus"
	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Twilio error codes that identify an unusable destination number.
const (
	twilioInvalidToNumber     = 21211
	twilioBlacklisted         = 21610
	twilioPermissionToSend    = 21408
	twilioUnreachableCarrier  = 30003
	twilioLandlineUnreachable = 30006
)

// SMSProvider delivers over Twilio. It implements interfaces.ChannelProvider.
type SMSProvider struct {
	client     *twilio.RestClient
	fromNumber string
}

func NewSMSProvider(accountSID, authToken, fromNumber string) *SMSProvider {
	if accountSID == "" {
		logrus.Warn("Twilio not configured, SMS delivery will be unavailable")
		return &SMSProvider{}
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})

	return &SMSProvider{
		client:     client,
		fromNumber: fromNumber,
	}
}

func (sp *SMSProvider) Send(ctx context.Context, job *models.DeliveryJob) models.DeliveryResult {
	if sp.client == nil {
		return models.DeliveryResult{ErrorCode: models.ErrCodeUnavailable, Retryable: true}
	}

	if job.Recipient.Phone == "" {
		return models.DeliveryResult{ErrorCode: models.ErrCodeInvalidAddress}
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(job.Recipient.Phone)
	params.SetFrom(sp.fromNumber)
	params.SetBody(formatSMSBody(job.Message))

	resp, err := sp.client.Api.CreateMessage(params)
	if err != nil {
		logrus.Warnf("Twilio send failed for job %s: %v", job.ID, err)
		return classifyTwilioError(err)
	}

	result := models.DeliveryResult{Delivered: true}
	if resp.Sid != nil {
		result.MessageID = *resp.Sid
	}
	return result
}

// formatSMSBody collapses title and body into one segment-friendly string.
func formatSMSBody(message models.RenderedMessage) string {
	content := fmt.Sprintf("%s: %s", message.Title, message.Body)
	if len(content) > 320 {
		content = content[:317] + "..."
	}
	return content
}

func classifyTwilioError(err error) models.DeliveryResult {
	var restErr *twilioclient.TwilioRestError
	if !errors.As(err, &restErr) {
		return models.DeliveryResult{ErrorCode: models.ErrCodeProviderError, Retryable: true}
	}

	switch restErr.Code {
	case twilioInvalidToNumber:
		return models.DeliveryResult{ErrorCode: models.ErrCodeInvalidAddress}
	case twilioBlacklisted:
		return models.DeliveryResult{ErrorCode: models.ErrCodeBlacklisted}
	case twilioPermissionToSend, twilioUnreachableCarrier, twilioLandlineUnreachable:
		return models.DeliveryResult{ErrorCode: models.ErrCodePermissionRevoked}
	}

	if restErr.Status == 429 {
		return models.DeliveryResult{ErrorCode: models.ErrCodeRateLimited, Retryable: true}
	}
	if restErr.Status >= 500 {
		return models.DeliveryResult{ErrorCode: models.ErrCodeUnavailable, Retryable: true}
	}
	return models.DeliveryResult{ErrorCode: models.ErrCodeProviderError, Retryable: true}
}
