package search

import (
	"context"
	"io"
	"sync"
	"time"

	"tg-filter-bot/internal/domain"
)

const defaultSessionTTL = time.Hour

// refreshCall — один общий запрос обновления сессии, которого ждут все
// конкурентные вызовы, заставшие промах.
type refreshCall struct {
	done   chan struct{}
	handle domain.Searcher
	err    error
}

// SessionCache держит один общий поисковый клиент с TTL. Обновление —
// single-flight: промах обслуживает ровно один вызов провайдера, остальные
// ждут его результат вместо собственных обращений.
type SessionCache struct {
	provider domain.SessionProvider
	ttl      time.Duration
	now      func() time.Time

	mu        sync.Mutex
	handle    domain.Searcher
	fetchedAt time.Time
	inflight  *refreshCall
}

// NewSessionCache создаёт кэш сессии.
func NewSessionCache(provider domain.SessionProvider, ttl time.Duration) *SessionCache {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &SessionCache{provider: provider, ttl: ttl, now: time.Now}
}

// Handle возвращает действующий поисковый клиент. Протухшая запись при
// обращении считается отсутствующей и вызывает ровно одно обновление.
func (c *SessionCache) Handle(ctx context.Context) (domain.Searcher, error) {
	c.mu.Lock()
	if c.handle != nil && c.now().Sub(c.fetchedAt) < c.ttl {
		handle := c.handle
		c.mu.Unlock()
		return handle, nil
	}
	if c.inflight != nil {
		call := c.inflight
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.handle, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &refreshCall{done: make(chan struct{})}
	c.inflight = call
	c.mu.Unlock()

	handle, err := c.provider.CurrentHandle(ctx)

	var replaced domain.Searcher
	c.mu.Lock()
	if err == nil {
		replaced = c.handle
		c.handle = handle
		c.fetchedAt = c.now()
	}
	c.inflight = nil
	c.mu.Unlock()

	closeHandle(replaced)

	call.handle, call.err = handle, err
	close(call.done)
	return handle, err
}

// Invalidate сбрасывает кэш, например после замены сессии.
func (c *SessionCache) Invalidate() {
	c.mu.Lock()
	old := c.handle
	c.handle = nil
	c.fetchedAt = time.Time{}
	c.mu.Unlock()
	closeHandle(old)
}

// closeHandle освобождает вытесненный клиент, если он держит соединение.
func closeHandle(h domain.Searcher) {
	if closer, ok := h.(io.Closer); ok {
		_ = closer.Close()
	}
}
