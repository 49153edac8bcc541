package config

import (
	"context"
	"lifeline/interfaces"
	"lifeline/models"
	"lifeline/services"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// InitChannelProviders builds the channel provider registry used by the
// delivery worker pool. Providers with missing credentials still register so
// the fallback chain stays intact; they report unavailable at send time.
func InitChannelProviders(cfg *Config) map[models.Channel]interfaces.ChannelProvider {
	return map[models.Channel]interfaces.ChannelProvider{
		models.ChannelPush:  services.NewPushProvider(initFCMClient(cfg)),
		models.ChannelSMS:   services.NewSMSProvider(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioPhoneNumber),
		models.ChannelEmail: services.NewEmailProvider(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom),
	}
}

func initFCMClient(cfg *Config) *messaging.Client {
	if cfg.FirebaseCredentials == "" {
		logrus.Warn("Firebase credentials not configured, push delivery will be unavailable")
		return nil
	}

	opt := option.WithCredentialsFile(cfg.FirebaseCredentials)
	app, err := firebase.NewApp(context.Background(), nil, opt)
	if err != nil {
		logrus.Errorf("Failed to initialize Firebase: %v", err)
		return nil
	}

	client, err := app.Messaging(context.Background())
	if err != nil {
		logrus.Errorf("Failed to initialize FCM client: %v", err)
		return nil
	}

	return client
}
