package broadcast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tg-filter-bot/internal/domain"
	"tg-filter-bot/internal/infra/metrics"
)

// ErrEmptyRoster возвращается, если снапшот адресатов пуст.
var ErrEmptyRoster = errors.New("ростер рассылки пуст")

const (
	defaultRetryMargin = 2 * time.Second
	defaultMinBatch    = 10
)

// Config настраивает движок рассылки.
type Config struct {
	// RetryMargin добавляется к retry-after от Telegram перед повтором.
	RetryMargin time.Duration
	// MinProgressBatch — минимальное число обработанных адресатов между
	// уведомлениями о прогрессе. Фактический шаг — max(1% от total, MinProgressBatch).
	MinProgressBatch int
}

// Service последовательно доставляет одно сообщение всем адресатам снапшота.
// Параллельная отправка запрещена: флуд-лимит Telegram глобален для бота.
type Service struct {
	recipients domain.RecipientSource
	transport  domain.Transport
	progress   domain.ProgressSink
	log        zerolog.Logger

	retryMargin time.Duration
	minBatch    int

	// sleep подменяется в тестах, чтобы не ждать настоящие флуд-паузы.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewService создаёт движок рассылки.
func NewService(recipients domain.RecipientSource, transport domain.Transport, progress domain.ProgressSink, log zerolog.Logger, cfg Config) *Service {
	if cfg.RetryMargin <= 0 {
		cfg.RetryMargin = defaultRetryMargin
	}
	if cfg.MinProgressBatch <= 0 {
		cfg.MinProgressBatch = defaultMinBatch
	}
	return &Service{
		recipients:  recipients,
		transport:   transport,
		progress:    progress,
		log:         log,
		retryMargin: cfg.RetryMargin,
		minBatch:    cfg.MinProgressBatch,
		sleep:       sleepCtx,
	}
}

// Run выполняет рассылку по снапшоту ростера. Ошибки отдельных адресатов
// не прерывают задачу: они копятся в счётчике failed, мёртвые адресаты
// помечаются в источнике. Фатальна только невозможность получить снапшот.
func (s *Service) Run(ctx context.Context, job domain.BroadcastJob) (domain.DispatchSummary, error) {
	snapshot, err := s.recipients.ListRecipients(ctx)
	if err != nil {
		return domain.DispatchSummary{}, fmt.Errorf("снапшот ростера: %w", err)
	}
	if len(snapshot) == 0 {
		return domain.DispatchSummary{}, ErrEmptyRoster
	}

	total := len(snapshot)
	step := total / 100
	if step < s.minBatch {
		step = s.minBatch
	}

	jobLog := s.log.With().Str("job_id", job.ID).Int("total", total).Logger()
	jobLog.Info().Msg("broadcast: рассылка начата")

	var sent, failed int
	for i, recipient := range snapshot {
		if err := ctx.Err(); err != nil {
			jobLog.Warn().Int("processed", i).Msg("broadcast: рассылка прервана")
			return domain.DispatchSummary{Sent: sent, Failed: failed, Total: total}, err
		}

		if err := s.deliverOnce(ctx, recipient, job.Content, jobLog); err != nil {
			failed++
		} else {
			sent++
		}

		processed := i + 1
		if processed%step == 0 && processed != total {
			s.progress.Report(job.ID, domain.DispatchProgress{
				Sent:      sent,
				Failed:    failed,
				Remaining: total - processed,
				Total:     total,
			})
		}
	}

	s.progress.Report(job.ID, domain.DispatchProgress{Sent: sent, Failed: failed, Remaining: 0, Total: total})
	jobLog.Info().Int("sent", sent).Int("failed", failed).Msg("broadcast: рассылка завершена")
	return domain.DispatchSummary{Sent: sent, Failed: failed, Total: total}, nil
}

// deliverOnce доставляет сообщение одному адресату: при флуд-лимите ждёт и
// повторяет ровно один раз, при вечной недоступности помечает адресата мёртвым.
func (s *Service) deliverOnce(ctx context.Context, to domain.Recipient, content domain.ContentRef, jobLog zerolog.Logger) error {
	err := s.transport.Deliver(ctx, to, content)
	if err == nil {
		metrics.BroadcastDelivered.Inc()
		return nil
	}

	if retryAfter, ok := domain.AsRateLimited(err); ok {
		wait := retryAfter + s.retryMargin
		jobLog.Warn().Int64("chat", to.TGChatID).Dur("wait", wait).Msg("broadcast: флуд-лимит, ждём и повторяем")
		metrics.BroadcastRateLimited.Inc()
		if sleepErr := s.sleep(ctx, wait); sleepErr != nil {
			return sleepErr
		}
		err = s.transport.Deliver(ctx, to, content)
		if err == nil {
			metrics.BroadcastDelivered.Inc()
			return nil
		}
	}

	metrics.BroadcastFailed.Inc()
	if errors.Is(err, domain.ErrRecipientGone) {
		if markErr := s.recipients.MarkDead(ctx, to); markErr != nil {
			jobLog.Error().Err(markErr).Int64("chat", to.TGChatID).Msg("broadcast: не удалось пометить адресата мёртвым")
		}
	}
	jobLog.Debug().Err(err).Int64("chat", to.TGChatID).Msg("broadcast: доставка не удалась")
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
