package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	Port   int    `envconfig:"PORT" default:"8080"`

	Telegram struct {
		Token      string  `envconfig:"TG_BOT_TOKEN"`
		WebhookURL string  `envconfig:"TG_WEBHOOK_URL"`
		APIID      int     `envconfig:"TG_API_ID"`
		APIHash    string  `envconfig:"TG_API_HASH"`
		LogChannel int64   `envconfig:"TG_LOG_CHANNEL"`
		Admins     []int64 `envconfig:"TG_ADMINS"`
	} `envconfig:""`

	MTProto struct {
		SessionName string `envconfig:"MTPROTO_SESSION_NAME" default:"default"`
		GlobalRPS   int    `envconfig:"MTPROTO_GLOBAL_RPS" default:"20"`
	} `envconfig:""`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	RabbitURL string `envconfig:"RABBITMQ_URL"`

	Search struct {
		PerChannelLimit int           `envconfig:"SEARCH_PER_CHANNEL_LIMIT" default:"50"`
		PageSize        int           `envconfig:"SEARCH_PAGE_SIZE" default:"10"`
		ResultTTL       time.Duration `envconfig:"SEARCH_RESULT_TTL" default:"10m"`
		SessionTTL      time.Duration `envconfig:"SEARCH_SESSION_TTL" default:"1h"`
		Concurrency     int           `envconfig:"SEARCH_CONCURRENCY" default:"20"`
		ChannelTimeout  time.Duration `envconfig:"SEARCH_CHANNEL_TIMEOUT" default:"15s"`
	} `envconfig:""`

	Broadcast struct {
		RetryMargin      time.Duration `envconfig:"BROADCAST_RETRY_MARGIN" default:"2s"`
		MinProgressBatch int           `envconfig:"BROADCAST_PROGRESS_BATCH" default:"10"`
	} `envconfig:""`

	Queues struct {
		Broadcast string `envconfig:"BROADCAST_QUEUE_KEY" default:"broadcast_jobs"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
