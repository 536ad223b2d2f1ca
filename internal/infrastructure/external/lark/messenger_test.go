package lark

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/garyjia/permit-approvals/internal/application/port"
	"github.com/garyjia/permit-approvals/internal/domain/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sentMessage struct {
	idType  string
	id      string
	msgType string
	content map[string]string
}

type mockIM struct {
	sent        []sentMessage
	sendErr     error
	uploadErr   error
	uploadedImg int
	uploadedFT  string
}

func (m *mockIM) SendMessage(ctx context.Context, receiveIDType, receiveID, msgType, content string) (string, error) {
	if m.sendErr != nil {
		return "", m.sendErr
	}
	var decoded map[string]string
	_ = json.Unmarshal([]byte(content), &decoded)
	m.sent = append(m.sent, sentMessage{idType: receiveIDType, id: receiveID, msgType: msgType, content: decoded})
	return "om_1", nil
}

func (m *mockIM) UploadImage(ctx context.Context, data []byte) (string, error) {
	if m.uploadErr != nil {
		return "", m.uploadErr
	}
	m.uploadedImg++
	return "img_1", nil
}

func (m *mockIM) UploadFile(ctx context.Context, fileName, fileType string, data []byte) (string, error) {
	if m.uploadErr != nil {
		return "", m.uploadErr
	}
	m.uploadedFT = fileType
	return "file_1", nil
}

func testSub(endpoint string) *entity.Subscription {
	return &entity.Subscription{OwnerID: "u1", Channel: entity.ChannelLark, Endpoint: endpoint}
}

func TestMessenger_SendsTextThenImage(t *testing.T) {
	im := &mockIM{}
	m := newMessenger(im, zap.NewNop())

	msg := &port.Message{
		Caption:    "Exit permit #1 awaits your approval",
		Link:       "https://app/documents/d1",
		Attachment: &port.Artifact{Data: []byte{1}, MimeType: "image/png", FileName: "d1.png"},
	}
	require.NoError(t, m.Send(context.Background(), testSub("ou_abc"), msg))

	require.Len(t, im.sent, 2)
	assert.Equal(t, "open_id", im.sent[0].idType)
	assert.Equal(t, "text", im.sent[0].msgType)
	assert.Contains(t, im.sent[0].content["text"], "https://app/documents/d1")
	assert.Equal(t, "image", im.sent[1].msgType)
	assert.Equal(t, "img_1", im.sent[1].content["image_key"])
	assert.Equal(t, 1, im.uploadedImg)
}

func TestMessenger_SpreadsheetGoesAsFile(t *testing.T) {
	im := &mockIM{}
	m := newMessenger(im, zap.NewNop())

	msg := &port.Message{
		Caption:    "caption",
		Attachment: &port.Artifact{Data: []byte{1}, MimeType: xlsxMimeType, FileName: "d1.xlsx"},
	}
	require.NoError(t, m.Send(context.Background(), testSub("oc_group"), msg))

	require.Len(t, im.sent, 2)
	assert.Equal(t, "chat_id", im.sent[0].idType)
	assert.Equal(t, "file", im.sent[1].msgType)
	assert.Equal(t, "xls", im.uploadedFT)
}

func TestMessenger_ClassifiesErrors(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantInvalid bool
	}{
		{"bot unavailable to user", &APIError{Op: "send message", Code: codeUserNotAvailable}, true},
		{"cross tenant open id", &APIError{Op: "send message", Code: codeOpenIDCrossTenant}, true},
		{"rate limited", &APIError{Op: "send message", Code: 99991400}, false},
		{"network", errors.New("connection reset"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMessenger(&mockIM{sendErr: tt.err}, zap.NewNop())
			err := m.Send(context.Background(), testSub("ou_abc"), &port.Message{Caption: "x"})
			require.Error(t, err)

			var invalid *port.EndpointInvalidError
			var transient *port.ChannelDeliveryError
			if tt.wantInvalid {
				assert.True(t, errors.As(err, &invalid))
			} else {
				assert.True(t, errors.As(err, &transient))
			}
		})
	}
}

func TestMessenger_AttachmentFailureIsTransient(t *testing.T) {
	im := &mockIM{uploadErr: errors.New("upload timeout")}
	m := newMessenger(im, zap.NewNop())

	msg := &port.Message{Caption: "x", Attachment: &port.Artifact{Data: []byte{1}, MimeType: "image/png"}}
	err := m.Send(context.Background(), testSub("ou_abc"), msg)

	var transient *port.ChannelDeliveryError
	assert.True(t, errors.As(err, &transient))
	assert.Len(t, im.sent, 1)
}

func TestMessenger_EmptyEndpointIsInvalid(t *testing.T) {
	m := newMessenger(&mockIM{}, zap.NewNop())
	err := m.Send(context.Background(), testSub(""), &port.Message{Caption: "x"})

	var invalid *port.EndpointInvalidError
	assert.True(t, errors.As(err, &invalid))
}
