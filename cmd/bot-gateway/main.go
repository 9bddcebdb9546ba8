package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"tg-filter-bot/internal/adapters/bot"
	"tg-filter-bot/internal/adapters/mtproto"
	"tg-filter-bot/internal/adapters/repo"
	"tg-filter-bot/internal/domain"
	"tg-filter-bot/internal/infra/cache"
	"tg-filter-bot/internal/infra/config"
	"tg-filter-bot/internal/infra/db"
	apphttp "tg-filter-bot/internal/infra/http"
	applog "tg-filter-bot/internal/infra/log"
	"tg-filter-bot/internal/infra/metrics"
	"tg-filter-bot/internal/infra/queue"
	"tg-filter-bot/internal/usecase/groups"
	"tg-filter-bot/internal/usecase/search"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("gateway: нет подключения к БД")
	}
	defer pool.Close()
	repoAdapter := repo.NewPostgres(pool)

	if cfg.RedisAddr == "" {
		logger.Fatal().Msg("gateway: не указан адрес Redis (REDIS_ADDR)")
	}
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	pendingStore := repo.NewRedisPendingStore(redisClient)
	membershipCache := cache.NewRedis(redisClient)

	if cfg.Telegram.Token == "" {
		logger.Fatal().Msg("gateway: не указан токен Telegram (TG_BOT_TOKEN)")
	}
	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("gateway: не удалось создать бота")
	}

	if cfg.Telegram.WebhookURL != "" {
		webhook, err := tgbotapi.NewWebhook(cfg.Telegram.WebhookURL + "/bot/webhook")
		if err == nil {
			_, err = botAPI.Request(webhook)
		}
		if err != nil {
			logger.Fatal().Err(err).Msg("gateway: не удалось зарегистрировать вебхук")
		}
	}

	jobs, err := buildBroadcastQueue(cfg, redisClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("gateway: не удалось инициализировать очередь рассылок")
	}

	provider := mtproto.NewProvider(
		cfg.Telegram.APIID,
		cfg.Telegram.APIHash,
		repoAdapter,
		cfg.MTProto.SessionName,
		cfg.MTProto.GlobalRPS,
		logger.With().Str("component", "mtproto").Logger(),
	)
	sessions := search.NewSessionCache(provider, cfg.Search.SessionTTL)
	searchService := search.NewService(sessions, logger.With().Str("component", "search").Logger(), search.Config{
		Concurrency:    cfg.Search.Concurrency,
		ChannelTimeout: cfg.Search.ChannelTimeout,
	})

	results := search.NewResultCache(cfg.Search.ResultTTL)
	results.StartSweeper(ctx, time.Minute)

	groupService := groups.NewService(repoAdapter, repoAdapter, repoAdapter)
	gate := bot.NewMembershipGate(botAPI, membershipCache, logger.With().Str("component", "gate").Logger())

	handler := bot.NewHandler(
		botAPI,
		logger.With().Str("component", "bot").Logger(),
		groupService,
		searchService,
		results,
		gate,
		pendingStore,
		jobs,
		repoAdapter,
		bot.Config{
			Admins:          cfg.Telegram.Admins,
			LogChannel:      cfg.Telegram.LogChannel,
			PageSize:        cfg.Search.PageSize,
			PerChannelLimit: cfg.Search.PerChannelLimit,
			DeleteAfter:     cfg.Search.ResultTTL,
		},
	)

	server := apphttp.NewServer(logger)
	server.Router.Post("/bot/webhook", func(w http.ResponseWriter, r *http.Request) {
		var update tgbotapi.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		handler.HandleUpdate(r.Context(), update)
		w.WriteHeader(http.StatusOK)
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	logger.Info().Msg("gateway: бот-гейтвей запущен")
	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("gateway: остановлен с ошибкой")
		return
	}
	logger.Info().Msg("gateway: остановлен")
}

// buildBroadcastQueue выбирает брокер: RabbitMQ при указанном адресе,
// иначе очередь на Redis.
func buildBroadcastQueue(cfg config.AppConfig, redisClient *redis.Client) (domain.BroadcastQueue, error) {
	if cfg.RabbitURL != "" {
		return queue.NewRabbitBroadcastQueue(cfg.RabbitURL, cfg.Queues.Broadcast)
	}
	return queue.NewRedisBroadcastQueue(redisClient, cfg.Queues.Broadcast), nil
}
