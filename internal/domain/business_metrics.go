package domain

import (
	"context"
	"time"
)

// BusinessMetric описывает бизнесовое событие, которое сохраняется для последующего анализа.
type BusinessMetric struct {
	Event      string
	UserID     *int64
	ChatID     *int64
	Metadata   map[string]any
	OccurredAt time.Time
}

const (
	// BusinessMetricEventUserRegistered фиксирует регистрацию нового пользователя.
	BusinessMetricEventUserRegistered = "user_registered"
	// BusinessMetricEventGroupRegistered фиксирует добавление бота в группу.
	BusinessMetricEventGroupRegistered = "group_registered"
	// BusinessMetricEventGroupVerified фиксирует одобрение группы.
	BusinessMetricEventGroupVerified = "group_verified"
	// BusinessMetricEventSearchPerformed фиксирует выполненный поиск.
	BusinessMetricEventSearchPerformed = "search_performed"
	// BusinessMetricEventBroadcastFinished фиксирует завершение рассылки.
	BusinessMetricEventBroadcastFinished = "broadcast_finished"
)

// BusinessMetricRepo сохраняет бизнесовые события.
type BusinessMetricRepo interface {
	RecordBusinessMetric(ctx context.Context, metric BusinessMetric) error
}
