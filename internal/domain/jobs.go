package domain

import (
	"context"
	"time"
)

// BroadcastJob содержит информацию о задаче рассылки.
// Снапшот адресатов делает воркер в момент начала обработки.
type BroadcastJob struct {
	ID              string     `json:"job_id"`
	Content         ContentRef `json:"content"`
	RequestedBy     int64      `json:"requested_by"`
	StatusChatID    int64      `json:"status_chat_id"`
	StatusMessageID int        `json:"status_message_id,omitempty"`
	RequestedAt     time.Time  `json:"requested_at"`
}

// BroadcastAckFunc подтверждает обработку или запрашивает повтор доставки задачи.
type BroadcastAckFunc func(success bool) error

// BroadcastQueue описывает очередь задач рассылки.
type BroadcastQueue interface {
	Enqueue(ctx context.Context, job BroadcastJob) error
	Receive(ctx context.Context) (BroadcastJob, BroadcastAckFunc, error)
}
