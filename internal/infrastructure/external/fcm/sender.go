// Package fcm delivers notifications to native mobile apps through
// Firebase Cloud Messaging.
package fcm

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/garyjia/permit-approvals/internal/application/port"
	"github.com/garyjia/permit-approvals/internal/domain/entity"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Config holds the Firebase project settings
type Config struct {
	ProjectID       string
	CredentialsFile string
}

// messagingClient is the part of messaging.Client the sender uses
type messagingClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// Sender implements port.ChannelSender for the native_push channel.
// The subscription endpoint is the device registration token.
type Sender struct {
	client messagingClient
	// isUnregistered reports whether err means the token is permanently dead
	isUnregistered func(error) bool
	logger         *zap.Logger
}

// NewSender initialises the Firebase app and its messaging client
func NewSender(ctx context.Context, cfg Config, logger *zap.Logger) (*Sender, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create messaging client: %w", err)
	}

	return newSender(client, isDeadToken, logger), nil
}

func newSender(client messagingClient, isUnregistered func(error) bool, logger *zap.Logger) *Sender {
	return &Sender{
		client:         client,
		isUnregistered: isUnregistered,
		logger:         logger,
	}
}

func isDeadToken(err error) bool {
	return messaging.IsUnregistered(err) || messaging.IsSenderIDMismatch(err)
}

// Channel implements port.ChannelSender
func (s *Sender) Channel() string {
	return entity.ChannelNativePush
}

// Send implements port.ChannelSender. FCM notifications carry only an image
// URL, so the artifact stays behind the deep link.
func (s *Sender) Send(ctx context.Context, sub *entity.Subscription, msg *port.Message) error {
	data := map[string]string{"document_id": msg.DocumentID}
	if msg.Link != "" {
		data["link"] = msg.Link
	}

	id, err := s.client.Send(ctx, &messaging.Message{
		Token: sub.Endpoint,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Caption,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{"apns-priority": "10"},
		},
	})
	if err != nil {
		if s.isUnregistered(err) {
			return &port.EndpointInvalidError{
				Channel:  entity.ChannelNativePush,
				Endpoint: sub.Endpoint,
				Reason:   err.Error(),
			}
		}
		s.logger.Warn("FCM send failed",
			zap.String("owner_id", sub.OwnerID),
			zap.Error(err))
		return &port.ChannelDeliveryError{Channel: entity.ChannelNativePush, Err: err}
	}

	s.logger.Debug("FCM message sent", zap.String("message_id", id), zap.String("owner_id", sub.OwnerID))
	return nil
}

// Verify interface compliance
var _ port.ChannelSender = (*Sender)(nil)
