package fcm

import (
	"context"
	"errors"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/garyjia/permit-approvals/internal/application/port"
	"github.com/garyjia/permit-approvals/internal/domain/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errUnregistered = errors.New("registration token is not registered")

type mockMessaging struct {
	SendFunc func(ctx context.Context, message *messaging.Message) (string, error)
	last     *messaging.Message
}

func (m *mockMessaging) Send(ctx context.Context, message *messaging.Message) (string, error) {
	m.last = message
	return m.SendFunc(ctx, message)
}

func isTestUnregistered(err error) bool {
	return errors.Is(err, errUnregistered)
}

func TestSender_Send(t *testing.T) {
	client := &mockMessaging{SendFunc: func(ctx context.Context, message *messaging.Message) (string, error) {
		return "projects/p/messages/1", nil
	}}
	s := newSender(client, isTestUnregistered, zap.NewNop())

	sub := &entity.Subscription{OwnerID: "u1", Channel: entity.ChannelNativePush, Endpoint: "device-token"}
	err := s.Send(context.Background(), sub, &port.Message{
		Title:      "Payment order #3 awaits your approval",
		Caption:    "Amount: 100.00 USD",
		DocumentID: "d3",
		Link:       "https://app/documents/d3",
	})
	require.NoError(t, err)

	require.NotNil(t, client.last)
	assert.Equal(t, "device-token", client.last.Token)
	assert.Equal(t, "Payment order #3 awaits your approval", client.last.Notification.Title)
	assert.Equal(t, "d3", client.last.Data["document_id"])
	assert.Equal(t, "https://app/documents/d3", client.last.Data["link"])
}

func TestSender_ErrorClassification(t *testing.T) {
	sub := &entity.Subscription{OwnerID: "u1", Channel: entity.ChannelNativePush, Endpoint: "device-token"}

	dead := newSender(&mockMessaging{SendFunc: func(ctx context.Context, message *messaging.Message) (string, error) {
		return "", errUnregistered
	}}, isTestUnregistered, zap.NewNop())
	var invalid *port.EndpointInvalidError
	assert.True(t, errors.As(dead.Send(context.Background(), sub, &port.Message{}), &invalid))

	flaky := newSender(&mockMessaging{SendFunc: func(ctx context.Context, message *messaging.Message) (string, error) {
		return "", errors.New("503 unavailable")
	}}, isTestUnregistered, zap.NewNop())
	var transient *port.ChannelDeliveryError
	assert.True(t, errors.As(flaky.Send(context.Background(), sub, &port.Message{}), &transient))
}

func TestIsDeadToken_PlainErrorIsNotDead(t *testing.T) {
	assert.False(t, isDeadToken(errors.New("boom")))
}
