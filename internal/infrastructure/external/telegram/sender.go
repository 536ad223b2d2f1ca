// Package telegram delivers notifications through a Telegram bot
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/garyjia/permit-approvals/internal/application/port"
	"github.com/garyjia/permit-approvals/internal/domain/entity"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Telegram's limit for photo and document captions
const maxCaptionLen = 1024

// botAPI is the part of tgbotapi.BotAPI the sender uses
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Sender implements port.ChannelSender for the telegram channel.
// The subscription endpoint is the numeric chat id.
type Sender struct {
	bot    botAPI
	logger *zap.Logger
}

// NewSender connects to the Bot API with token
func NewSender(token string, logger *zap.Logger) (*Sender, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to connect telegram bot: %w", err)
	}
	logger.Info("Telegram bot connected", zap.String("username", bot.Self.UserName))
	return newSender(bot, logger), nil
}

func newSender(bot botAPI, logger *zap.Logger) *Sender {
	return &Sender{bot: bot, logger: logger}
}

// Channel implements port.ChannelSender
func (s *Sender) Channel() string {
	return entity.ChannelTelegram
}

// Send implements port.ChannelSender. The artifact goes out as a photo or
// document with the caption attached when it fits, otherwise the caption is
// sent first as its own message. The bot API has no context support; the
// notifier bounds the call.
func (s *Sender) Send(ctx context.Context, sub *entity.Subscription, msg *port.Message) error {
	chatID, err := strconv.ParseInt(strings.TrimSpace(sub.Endpoint), 10, 64)
	if err != nil {
		return &port.EndpointInvalidError{
			Channel:  entity.ChannelTelegram,
			Endpoint: sub.Endpoint,
			Reason:   "chat id is not numeric",
		}
	}

	text := msg.Caption
	if msg.Link != "" {
		text += "\n" + msg.Link
	}

	var chattables []tgbotapi.Chattable
	switch {
	case msg.Attachment == nil:
		chattables = append(chattables, tgbotapi.NewMessage(chatID, text))
	case len(text) <= maxCaptionLen:
		chattables = append(chattables, attachmentConfig(chatID, msg.Attachment, text))
	default:
		chattables = append(chattables,
			tgbotapi.NewMessage(chatID, text),
			attachmentConfig(chatID, msg.Attachment, ""),
		)
	}

	for _, c := range chattables {
		if err := ctx.Err(); err != nil {
			return &port.ChannelDeliveryError{Channel: entity.ChannelTelegram, Err: err}
		}
		if _, err := s.bot.Send(c); err != nil {
			return s.classify(sub, err)
		}
	}
	return nil
}

func attachmentConfig(chatID int64, art *port.Artifact, caption string) tgbotapi.Chattable {
	file := tgbotapi.FileBytes{Name: art.FileName, Bytes: art.Data}
	if strings.HasPrefix(art.MimeType, "image/") {
		photo := tgbotapi.NewPhoto(chatID, file)
		photo.Caption = caption
		return photo
	}
	doc := tgbotapi.NewDocument(chatID, file)
	doc.Caption = caption
	return doc
}

// classify maps Bot API errors: 403 means the user blocked the bot or left,
// 400 "chat not found" means the id never existed
func (s *Sender) classify(sub *entity.Subscription, err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == 403 || (apiErr.Code == 400 && strings.Contains(strings.ToLower(apiErr.Message), "chat not found")) {
			return &port.EndpointInvalidError{
				Channel:  entity.ChannelTelegram,
				Endpoint: sub.Endpoint,
				Reason:   apiErr.Message,
			}
		}
	}

	s.logger.Warn("Telegram send failed",
		zap.String("owner_id", sub.OwnerID),
		zap.Error(err))
	return &port.ChannelDeliveryError{Channel: entity.ChannelTelegram, Err: err}
}

// Verify interface compliance
var _ port.ChannelSender = (*Sender)(nil)
