package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tg-filter-bot/internal/adapters/repo"
	"tg-filter-bot/internal/adapters/telegram"
	"tg-filter-bot/internal/domain"
	"tg-filter-bot/internal/infra/config"
	"tg-filter-bot/internal/infra/db"
	applog "tg-filter-bot/internal/infra/log"
	"tg-filter-bot/internal/infra/metrics"
	"tg-filter-bot/internal/infra/queue"
	"tg-filter-bot/internal/usecase/broadcast"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), ":9090")

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: нет подключения к БД")
	}
	defer pool.Close()
	repoAdapter := repo.NewPostgres(pool)

	if cfg.Telegram.Token == "" {
		logger.Fatal().Msg("worker: не указан токен Telegram (TG_BOT_TOKEN)")
	}
	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: не удалось создать бота")
	}

	var jobs domain.BroadcastQueue
	if cfg.RabbitURL != "" {
		rabbit, err := queue.NewRabbitBroadcastQueue(cfg.RabbitURL, cfg.Queues.Broadcast)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: не удалось подключиться к RabbitMQ")
		}
		defer rabbit.Close()
		jobs = rabbit
	} else {
		if cfg.RedisAddr == "" {
			logger.Fatal().Msg("worker: нужен RABBITMQ_URL или REDIS_ADDR")
		}
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		jobs = queue.NewRedisBroadcastQueue(redisClient, cfg.Queues.Broadcast)
	}

	worker := &jobWorker{
		log:       logger,
		queue:     jobs,
		bot:       botAPI,
		roster:    repoAdapter,
		analytics: repoAdapter,
		cfg: broadcast.Config{
			RetryMargin:      cfg.Broadcast.RetryMargin,
			MinProgressBatch: cfg.Broadcast.MinProgressBatch,
		},
	}

	logger.Info().Msg("worker: запуск обработки очереди рассылок")
	worker.Run(ctx)
	logger.Info().Msg("worker: остановлен")
}

type jobWorker struct {
	log       zerolog.Logger
	queue     domain.BroadcastQueue
	bot       *tgbotapi.BotAPI
	roster    domain.RecipientSource
	analytics domain.BusinessMetricRepo
	cfg       broadcast.Config
}

func (w *jobWorker) Run(ctx context.Context) {
	for {
		job, ack, err := w.queue.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.log.Error().Err(err).Msg("worker: ошибка чтения очереди")
			time.Sleep(time.Second)
			continue
		}

		jobLog := w.log.With().
			Str("job_id", job.ID).
			Int64("admin", job.RequestedBy).
			Logger()

		if job.ID == "" {
			jobLog.Error().Msg("worker: задача без идентификатора, подтверждаем и пропускаем")
			if err := ack(true); err != nil {
				jobLog.Error().Err(err).Msg("worker: не удалось подтвердить задачу")
			}
			continue
		}

		retry := w.handleJob(ctx, job, jobLog)
		if retry {
			if err := ack(false); err != nil {
				jobLog.Error().Err(err).Msg("worker: не удалось вернуть задачу в очередь")
			}
			continue
		}
		if err := ack(true); err != nil {
			jobLog.Error().Err(err).Msg("worker: не удалось подтвердить задачу")
		}
	}
}

// handleJob выполняет одну рассылку. Возвращает true, если задачу нужно
// вернуть в очередь.
func (w *jobWorker) handleJob(ctx context.Context, job domain.BroadcastJob, jobLog zerolog.Logger) bool {
	sink := telegram.NewProgressReporter(w.bot, jobLog, job.StatusChatID, job.StatusMessageID)
	transport := telegram.NewSender(w.bot, jobLog)
	engine := broadcast.NewService(w.roster, transport, sink, jobLog, w.cfg)

	start := time.Now()
	summary, err := engine.Run(ctx, job)
	metrics.BroadcastJobDuration.Observe(time.Since(start).Seconds())

	if errors.Is(err, broadcast.ErrEmptyRoster) {
		jobLog.Warn().Msg("worker: ростер пуст, рассылать некому")
		sink.Report(job.ID, domain.DispatchProgress{})
		return false
	}
	if errors.Is(err, context.Canceled) {
		jobLog.Warn().Msg("worker: рассылка прервана остановкой, вернём задачу в очередь")
		return true
	}
	if err != nil {
		jobLog.Error().Err(err).Msg("worker: рассылка не удалась")
		return true
	}

	w.observeFinished(ctx, job, summary)
	jobLog.Info().
		Int("sent", summary.Sent).
		Int("failed", summary.Failed).
		Int("total", summary.Total).
		Msg("worker: рассылка завершена")
	return false
}

func (w *jobWorker) observeFinished(ctx context.Context, job domain.BroadcastJob, summary domain.DispatchSummary) {
	if w.analytics == nil {
		return
	}
	adminID := job.RequestedBy
	err := w.analytics.RecordBusinessMetric(ctx, domain.BusinessMetric{
		Event:  domain.BusinessMetricEventBroadcastFinished,
		UserID: &adminID,
		Metadata: map[string]any{
			"job_id":       job.ID,
			"sent":         summary.Sent,
			"failed":       summary.Failed,
			"total":        summary.Total,
			"requested_at": job.RequestedAt,
			"finished_at":  time.Now().UTC(),
		},
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		w.log.Error().Err(err).Str("job_id", job.ID).Msg("worker: не удалось сохранить бизнес-метрику")
	}
}
