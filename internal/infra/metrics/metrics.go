package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	BroadcastDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "broadcast_delivered_total",
		Help: "Успешно доставленные сообщения рассылки",
	})
	BroadcastFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "broadcast_failed_total",
		Help: "Неудачные доставки рассылки",
	})
	BroadcastRateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "broadcast_rate_limited_total",
		Help: "Срабатывания флуд-лимита при рассылке",
	})
	BroadcastJobDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "broadcast_job_duration_seconds",
		Help:    "Длительность задачи рассылки",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	})

	SearchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "search_duration_seconds",
		Help:    "Длительность веерного поиска",
		Buckets: prometheus.DefBuckets,
	})
	SearchChannelErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "search_channel_errors_total",
		Help: "Ошибки отдельных каналов при поиске",
	})
	SearchRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "search_requests_total",
		Help: "Общее количество поисковых запросов",
	})
	SessionRefreshTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "session_refresh_total",
		Help: "Обновления MTProto-сессии поиска",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: prometheus.DefBuckets,
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		BroadcastDelivered,
		BroadcastFailed,
		BroadcastRateLimited,
		BroadcastJobDuration,
		SearchDuration,
		SearchChannelErrors,
		SearchRequestsTotal,
		SessionRefreshTotal,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}
