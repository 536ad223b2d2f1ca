package webpush

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	webpushgo "github.com/SherClockHolmes/webpush-go"
	"github.com/garyjia/permit-approvals/internal/application/port"
	"github.com/garyjia/permit-approvals/internal/domain/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// browserSubscription builds a subscription with real client keys so the
// payload can be encrypted
func browserSubscription(t *testing.T, endpoint string) *entity.Subscription {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)

	return &entity.Subscription{
		OwnerID:  "u1",
		Channel:  entity.ChannelWebPush,
		Endpoint: endpoint,
		P256dh:   base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
		Auth:     base64.RawURLEncoding.EncodeToString(auth),
	}
}

func newTestSender(t *testing.T) *Sender {
	t.Helper()
	priv, pub, err := webpushgo.GenerateVAPIDKeys()
	require.NoError(t, err)
	return NewSender(Config{
		Subscriber:      "mailto:ops@example.com",
		VAPIDPublicKey:  pub,
		VAPIDPrivateKey: priv,
	}, nil, zap.NewNop())
}

func TestSender_StatusClassification(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		wantErr     bool
		wantInvalid bool
	}{
		{"created", http.StatusCreated, false, false},
		{"gone", http.StatusGone, true, true},
		{"not found", http.StatusNotFound, true, true},
		{"rate limited", http.StatusTooManyRequests, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotEncoding string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotEncoding = r.Header.Get("Content-Encoding")
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			s := newTestSender(t)
			err := s.Send(context.Background(), browserSubscription(t, srv.URL), &port.Message{
				Title:      "Exit permit #1 awaits your approval",
				Caption:    "Recipient: Warehouse B",
				DocumentID: "d1",
			})

			assert.Equal(t, "aes128gcm", gotEncoding)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var invalid *port.EndpointInvalidError
			assert.Equal(t, tt.wantInvalid, errors.As(err, &invalid))
		})
	}
}

func TestSender_BadKeysIsTransient(t *testing.T) {
	s := newTestSender(t)
	sub := &entity.Subscription{OwnerID: "u1", Channel: entity.ChannelWebPush, Endpoint: "https://push.invalid/x", P256dh: "bad", Auth: "bad"}

	err := s.Send(context.Background(), sub, &port.Message{Title: "t"})

	var transient *port.ChannelDeliveryError
	assert.True(t, errors.As(err, &transient))
}
