package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"tg-filter-bot/internal/domain"
	"tg-filter-bot/internal/infra/metrics"
)

// Sender доставляет сообщения рассылки через Bot API. Контент копируется
// без пометки "переслано", как copyMessage.
type Sender struct {
	bot *tgbotapi.BotAPI
	log zerolog.Logger
}

var _ domain.Transport = (*Sender)(nil)

// NewSender создаёт транспорт рассылки.
func NewSender(bot *tgbotapi.BotAPI, log zerolog.Logger) *Sender {
	return &Sender{bot: bot, log: log}
}

// Deliver копирует сообщение адресату. Повторов внутри нет: флуд-лимит
// возвращается как *domain.RateLimitedError, невосстановимая недоступность
// адресата — как domain.ErrRecipientGone.
func (s *Sender) Deliver(ctx context.Context, to domain.Recipient, content domain.ContentRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewCopyMessage(to.TGChatID, content.FromChatID, content.MessageID)
	start := time.Now()
	_, err := s.bot.CopyMessage(msg)
	metrics.ObserveNetworkRequest("telegram_bot", "copy_message", strconv.FormatInt(to.TGChatID, 10), start, err)
	if err != nil {
		return classifyDeliveryError(err)
	}
	return nil
}

// classifyDeliveryError переводит ошибки Bot API в доменные.
func classifyDeliveryError(err error) error {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	if apiErr.RetryAfter > 0 {
		return &domain.RateLimitedError{RetryAfter: time.Duration(apiErr.RetryAfter) * time.Second}
	}
	if isRecipientGone(apiErr) {
		return domain.ErrRecipientGone
	}
	return err
}

func isRecipientGone(apiErr *tgbotapi.Error) bool {
	if apiErr.Code == 403 {
		return true
	}
	message := strings.ToLower(apiErr.Message)
	for _, marker := range []string{
		"bot was blocked",
		"user is deactivated",
		"bot was kicked",
		"chat not found",
		"user not found",
	} {
		if strings.Contains(message, marker) {
			return true
		}
	}
	return false
}
