// Package webpush delivers notifications to browser push subscriptions
// using VAPID-signed, payload-encrypted Web Push requests.
package webpush

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	webpushgo "github.com/SherClockHolmes/webpush-go"
	"github.com/garyjia/permit-approvals/internal/application/port"
	"github.com/garyjia/permit-approvals/internal/domain/entity"
	"go.uber.org/zap"
)

// Config holds the VAPID identity of the server
type Config struct {
	Subscriber      string // mailto: or https: contact
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	TTL             int
}

// Sender implements port.ChannelSender for the web_push channel
type Sender struct {
	cfg        Config
	httpClient webpushgo.HTTPClient
	logger     *zap.Logger
}

// NewSender creates a web push sender. httpClient may be nil.
func NewSender(cfg Config, httpClient webpushgo.HTTPClient, logger *zap.Logger) *Sender {
	if cfg.TTL <= 0 {
		cfg.TTL = 3600
	}
	return &Sender{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger,
	}
}

// payload is what the service worker receives
type payload struct {
	Title      string `json:"title"`
	Body       string `json:"body"`
	URL        string `json:"url,omitempty"`
	DocumentID string `json:"document_id"`
}

// Channel implements port.ChannelSender
func (s *Sender) Channel() string {
	return entity.ChannelWebPush
}

// Send implements port.ChannelSender. Push payloads are size-limited, so the
// artifact is not attached; the deep link opens the full document.
func (s *Sender) Send(ctx context.Context, sub *entity.Subscription, msg *port.Message) error {
	body, err := json.Marshal(payload{
		Title:      msg.Title,
		Body:       msg.Caption,
		URL:        msg.Link,
		DocumentID: msg.DocumentID,
	})
	if err != nil {
		return &port.ChannelDeliveryError{Channel: entity.ChannelWebPush, Err: err}
	}

	resp, err := webpushgo.SendNotificationWithContext(ctx, body, &webpushgo.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpushgo.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}, &webpushgo.Options{
		HTTPClient:      s.httpClient,
		Subscriber:      s.cfg.Subscriber,
		VAPIDPublicKey:  s.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: s.cfg.VAPIDPrivateKey,
		TTL:             s.cfg.TTL,
		Urgency:         webpushgo.UrgencyHigh,
	})
	if err != nil {
		return &port.ChannelDeliveryError{Channel: entity.ChannelWebPush, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return &port.EndpointInvalidError{
			Channel:  entity.ChannelWebPush,
			Endpoint: sub.Endpoint,
			Reason:   fmt.Sprintf("push service answered %d", resp.StatusCode),
		}
	default:
		s.logger.Warn("Web push rejected",
			zap.String("owner_id", sub.OwnerID),
			zap.Int("status", resp.StatusCode))
		return &port.ChannelDeliveryError{
			Channel: entity.ChannelWebPush,
			Err:     fmt.Errorf("push service answered %d", resp.StatusCode),
		}
	}
}

// Verify interface compliance
var _ port.ChannelSender = (*Sender)(nil)
