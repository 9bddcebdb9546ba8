package telegram

import (
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"tg-filter-bot/internal/domain"
	"tg-filter-bot/internal/infra/metrics"
)

// ProgressReporter показывает ход рассылки, редактируя статусное сообщение
// администратора. Ошибки редактирования логируются и не влияют на рассылку.
type ProgressReporter struct {
	bot       *tgbotapi.BotAPI
	log       zerolog.Logger
	chatID    int64
	messageID int
}

var _ domain.ProgressSink = (*ProgressReporter)(nil)

// NewProgressReporter создаёт репортер для одного статусного сообщения.
func NewProgressReporter(bot *tgbotapi.BotAPI, log zerolog.Logger, chatID int64, messageID int) *ProgressReporter {
	return &ProgressReporter{bot: bot, log: log, chatID: chatID, messageID: messageID}
}

// Report редактирует статусное сообщение текущим срезом прогресса.
func (r *ProgressReporter) Report(jobID string, p domain.DispatchProgress) {
	text := FormatProgress(jobID, p)
	edit := tgbotapi.NewEditMessageText(r.chatID, r.messageID, text)

	start := time.Now()
	_, err := r.bot.Request(edit)
	metrics.ObserveNetworkRequest("telegram_bot", "edit_progress", strconv.FormatInt(r.chatID, 10), start, err)
	if err != nil {
		r.log.Warn().Err(err).Str("job", jobID).Msg("не удалось обновить статус рассылки")
	}
}

// FormatProgress строит текст статусного сообщения рассылки.
func FormatProgress(jobID string, p domain.DispatchProgress) string {
	if p.Remaining == 0 {
		return fmt.Sprintf(
			"Рассылка %s завершена.\nВсего: %d\nДоставлено: %d\nНе доставлено: %d",
			jobID, p.Total, p.Sent, p.Failed,
		)
	}
	return fmt.Sprintf(
		"Рассылка %s идёт...\nВсего: %d\nДоставлено: %d\nНе доставлено: %d\nОсталось: %d",
		jobID, p.Total, p.Sent, p.Failed, p.Remaining,
	)
}
