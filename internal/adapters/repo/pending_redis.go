package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tg-filter-bot/internal/domain"
	"tg-filter-bot/internal/infra/metrics"
)

// PendingTTL — срок жизни отложенного запроса. Спустя сутки запрос
// неактуален и пользователь повторит его сам.
const PendingTTL = 24 * time.Hour

// RedisPendingStore хранит отложенные гейтом запросы в Redis.
// TTL ключа заменяет фоновую чистку: истёкшие записи исчезают сами.
type RedisPendingStore struct {
	client *redis.Client
	ttl    time.Duration
}

var _ domain.PendingRequestStore = (*RedisPendingStore)(nil)

// NewRedisPendingStore создаёт хранилище с TTL по умолчанию.
func NewRedisPendingStore(client *redis.Client) *RedisPendingStore {
	return &RedisPendingStore{client: client, ttl: PendingTTL}
}

func pendingKey(userID int64) string {
	return fmt.Sprintf("pending_request:%d", userID)
}

// Save перезаписывает отложенный запрос пользователя. На пользователя
// живёт не больше одной записи.
func (s *RedisPendingStore) Save(ctx context.Context, req domain.PendingRequest) error {
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal pending request: %w", err)
	}

	start := time.Now()
	err = s.client.Set(ctx, pendingKey(req.UserID), payload, s.ttl).Err()
	metrics.ObserveNetworkRequest("redis", "pending_save", "pending_request", start, err)
	if err != nil {
		return fmt.Errorf("сохранение отложенного запроса: %w", err)
	}
	return nil
}

// Get возвращает отложенный запрос, если он ещё жив.
func (s *RedisPendingStore) Get(ctx context.Context, userID int64) (domain.PendingRequest, bool, error) {
	start := time.Now()
	payload, err := s.client.Get(ctx, pendingKey(userID)).Bytes()
	metrics.ObserveNetworkRequest("redis", "pending_get", "pending_request", start, err)
	if errors.Is(err, redis.Nil) {
		return domain.PendingRequest{}, false, nil
	}
	if err != nil {
		return domain.PendingRequest{}, false, fmt.Errorf("чтение отложенного запроса: %w", err)
	}

	var req domain.PendingRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return domain.PendingRequest{}, false, fmt.Errorf("decode pending request: %w", err)
	}
	return req, true, nil
}

// Delete удаляет отложенный запрос. Отсутствие записи не ошибка.
func (s *RedisPendingStore) Delete(ctx context.Context, userID int64) error {
	start := time.Now()
	err := s.client.Del(ctx, pendingKey(userID)).Err()
	metrics.ObserveNetworkRequest("redis", "pending_delete", "pending_request", start, err)
	return err
}
