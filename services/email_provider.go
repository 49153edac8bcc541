package services

import (
	"context"
	"fmt"
	"lifeline/models"
	"net"
	"net/mail"
	"net/smtp"

	"github.com/sirupsen/logrus"
)

// EmailProvider delivers over SMTP. It implements interfaces.ChannelProvider.
// With no SMTP host configured it runs in mock mode: every send is logged and
// reported delivered, which keeps development environments working end to end.
type EmailProvider struct {
	host     string
	port     string
	username string
	password string
	from     string
}

func NewEmailProvider(host, port, username, password, from string) *EmailProvider {
	if host == "" {
		logrus.Warn("SMTP not configured, email delivery runs in mock mode")
	}

	return &EmailProvider{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
	}
}

func (ep *EmailProvider) Send(ctx context.Context, job *models.DeliveryJob) models.DeliveryResult {
	to := job.Recipient.Email
	if _, err := mail.ParseAddress(to); err != nil {
		return models.DeliveryResult{ErrorCode: models.ErrCodeInvalidAddress}
	}

	if ep.host == "" {
		logrus.Infof("[MOCK EMAIL] To: %s, Subject: %s", to, job.Message.Title)
		return models.DeliveryResult{Delivered: true, MessageID: "mock-" + job.ID}
	}

	message := ep.buildMessage(to, job.Message)
	auth := smtp.PlainAuth("", ep.username, ep.password, ep.host)
	addr := fmt.Sprintf("%s:%s", ep.host, ep.port)

	if err := smtp.SendMail(addr, auth, ep.from, []string{to}, []byte(message)); err != nil {
		logrus.Warnf("SMTP send failed for job %s: %v", job.ID, err)
		return classifySMTPError(err)
	}

	return models.DeliveryResult{Delivered: true}
}

func (ep *EmailProvider) buildMessage(to string, rendered models.RenderedMessage) string {
	return fmt.Sprintf(`From: %s
To: %s
Subject: %s
MIME-Version: 1.0
Content-Type: text/plain; charset=UTF-8

%s`, ep.from, to, rendered.Title, rendered.Body)
}

func classifySMTPError(err error) models.DeliveryResult {
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return models.DeliveryResult{ErrorCode: models.ErrCodeProviderTimeout, Retryable: true}
	}
	return models.DeliveryResult{ErrorCode: models.ErrCodeProviderError, Retryable: true}
}
