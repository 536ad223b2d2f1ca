package lark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/garyjia/permit-approvals/internal/application/port"
	"github.com/garyjia/permit-approvals/internal/domain/entity"
	"go.uber.org/zap"
)

// Lark codes meaning the recipient can never be reached by this bot
const (
	codeBotNotInChat      = 230002
	codeUserNotAvailable  = 230013
	codeOpenIDCrossTenant = 99992361
	codeUserIDNotExist    = 99992364
)

const (
	xlsxMimeType            = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	receiveIDTypeOpenID     = "open_id"
	receiveIDTypeChatID     = "chat_id"
	chatIDPrefix            = "oc_"
	imageMimeTypePrefix     = "image/"
	larkFileTypeSpreadsheet = "xls"
	larkFileTypeStream      = "stream"
)

// imClient is the subset of MessageAPI the sender uses
type imClient interface {
	SendMessage(ctx context.Context, receiveIDType, receiveID, msgType, content string) (string, error)
	UploadImage(ctx context.Context, data []byte) (string, error)
	UploadFile(ctx context.Context, fileName, fileType string, data []byte) (string, error)
}

// Messenger delivers notifications to Lark users as a text message followed
// by the rendered artifact
type Messenger struct {
	im     imClient
	logger *zap.Logger
}

// NewMessenger creates a Lark channel sender
func NewMessenger(sdk *SDKClient, logger *zap.Logger) *Messenger {
	return newMessenger(NewMessageAPI(sdk, logger), logger)
}

func newMessenger(im imClient, logger *zap.Logger) *Messenger {
	return &Messenger{
		im:     im,
		logger: logger,
	}
}

// Channel implements port.ChannelSender
func (m *Messenger) Channel() string {
	return entity.ChannelLark
}

// Send implements port.ChannelSender. The endpoint is an open_id, or a
// chat_id for group subscriptions.
func (m *Messenger) Send(ctx context.Context, sub *entity.Subscription, msg *port.Message) error {
	if sub.Endpoint == "" {
		return &port.EndpointInvalidError{Channel: entity.ChannelLark, Reason: "empty receive id"}
	}

	idType := receiveIDTypeOpenID
	if strings.HasPrefix(sub.Endpoint, chatIDPrefix) {
		idType = receiveIDTypeChatID
	}

	text := msg.Caption
	if msg.Link != "" {
		text += "\n" + msg.Link
	}
	if _, err := m.im.SendMessage(ctx, idType, sub.Endpoint, "text", mustContent(map[string]string{"text": text})); err != nil {
		return m.classify(sub, err)
	}

	if msg.Attachment == nil {
		return nil
	}

	// The text already reached the user; a failed attachment is still a failed delivery
	if err := m.sendAttachment(ctx, idType, sub.Endpoint, msg.Attachment); err != nil {
		return m.classify(sub, err)
	}
	return nil
}

func (m *Messenger) sendAttachment(ctx context.Context, idType, receiveID string, art *port.Artifact) error {
	if strings.HasPrefix(art.MimeType, imageMimeTypePrefix) {
		key, err := m.im.UploadImage(ctx, art.Data)
		if err != nil {
			return err
		}
		_, err = m.im.SendMessage(ctx, idType, receiveID, "image", mustContent(map[string]string{"image_key": key}))
		return err
	}

	fileType := larkFileTypeStream
	if art.MimeType == xlsxMimeType {
		fileType = larkFileTypeSpreadsheet
	}
	key, err := m.im.UploadFile(ctx, art.FileName, fileType, art.Data)
	if err != nil {
		return err
	}
	_, err = m.im.SendMessage(ctx, idType, receiveID, "file", mustContent(map[string]string{"file_key": key}))
	return err
}

func (m *Messenger) classify(sub *entity.Subscription, err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case codeBotNotInChat, codeUserNotAvailable, codeOpenIDCrossTenant, codeUserIDNotExist:
			return &port.EndpointInvalidError{
				Channel:  entity.ChannelLark,
				Endpoint: sub.Endpoint,
				Reason:   apiErr.Error(),
			}
		}
	}

	m.logger.Warn("Lark delivery failed",
		zap.String("owner_id", sub.OwnerID),
		zap.Error(err))
	return &port.ChannelDeliveryError{Channel: entity.ChannelLark, Err: err}
}

// mustContent encodes a message content object; string maps always encode
func mustContent(v map[string]string) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("encode lark content: %v", err))
	}
	return string(b)
}

// Verify interface compliance
var _ port.ChannelSender = (*Messenger)(nil)
