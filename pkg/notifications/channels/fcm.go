package channels

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/Rito-w/drone/pkg/notifications"
)

// Messenger sends one FCM message. *messaging.Client satisfies it.
type Messenger interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// NewFCMClient initializes a Firebase app from the service account file in
// cfg and returns its messaging client.
func NewFCMClient(ctx context.Context, cfg FCMConfig) (*messaging.Client, error) {
	if !cfg.Enabled() {
		return nil, ErrFCMNotConfigured
	}

	var appCfg *firebase.Config
	if cfg.ProjectID != "" {
		appCfg = &firebase.Config{ProjectID: cfg.ProjectID}
	}
	app, err := firebase.NewApp(ctx, appCfg, option.WithCredentialsFile(cfg.CredentialsFile))
	if err != nil {
		return nil, fmt.Errorf("initialize firebase: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialize fcm client: %w", err)
	}
	return client, nil
}

// FCMPush delivers to the device registration token in RecipientAddress.
type FCMPush struct {
	client Messenger
}

var _ notifications.ChannelSender = (*FCMPush)(nil)

func NewFCMPush(client Messenger) *FCMPush {
	return &FCMPush{client: client}
}

func (s *FCMPush) Send(ctx context.Context, n notifications.Notification) notifications.Result {
	if n.RecipientAddress == "" {
		return notifications.Failed(ReasonMissingDeviceToken)
	}
	if _, err := s.client.Send(ctx, pushMessage(n)); err != nil {
		if messaging.IsUnregistered(err) {
			return notifications.Failed(ReasonUnregisteredDevice)
		}
		return notifications.Failed(err.Error())
	}
	return notifications.Delivered()
}

func pushMessage(n notifications.Notification) *messaging.Message {
	data := make(map[string]string, len(n.TemplateParams)+4)
	for k, v := range n.TemplateParams {
		data[k] = v
	}
	data["notification_id"] = n.ID.String()
	data["category"] = n.Category.String()
	if n.BusinessID != "" {
		data["business_id"] = n.BusinessID
		data["business_type"] = n.BusinessType
	}

	priority := "normal"
	if n.Level == notifications.LevelUrgent {
		priority = "high"
	}

	return &messaging.Message{
		Token: n.RecipientAddress,
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Content,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority: priority,
			Notification: &messaging.AndroidNotification{
				Sound: "default",
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Alert: &messaging.ApsAlert{Title: n.Title, Body: n.Content},
					Sound: "default",
				},
			},
		},
	}
}
