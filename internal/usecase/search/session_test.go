package search

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tg-filter-bot/internal/domain"
)

type slowProvider struct {
	handle domain.Searcher
	delay  time.Duration
	calls  atomic.Int32
}

func (p *slowProvider) CurrentHandle(context.Context) (domain.Searcher, error) {
	p.calls.Add(1)
	time.Sleep(p.delay)
	return p.handle, nil
}

func TestSessionCacheSingleFlight(t *testing.T) {
	handle := &scriptedSearcher{}
	provider := &slowProvider{handle: handle, delay: 50 * time.Millisecond}
	cache := NewSessionCache(provider, time.Hour)

	const callers = 16
	var wg sync.WaitGroup
	results := make([]domain.Searcher, callers)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			h, err := cache.Handle(context.Background())
			if err != nil {
				t.Errorf("не ожидали ошибку: %v", err)
				return
			}
			results[i] = h
		}()
	}
	wg.Wait()

	if got := provider.calls.Load(); got != 1 {
		t.Fatalf("ожидали один вызов провайдера, получили %d", got)
	}
	for i, h := range results {
		if h != domain.Searcher(handle) {
			t.Fatalf("вызов %d получил другой хэндл", i)
		}
	}
}

func TestSessionCacheExpiryTriggersSingleRefresh(t *testing.T) {
	provider := &slowProvider{handle: &scriptedSearcher{}}
	cache := NewSessionCache(provider, 3600*time.Second)

	base := time.Unix(1_700_000_000, 0)
	now := base
	cache.now = func() time.Time { return now }

	if _, err := cache.Handle(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if provider.calls.Load() != 1 {
		t.Fatalf("ожидали один вызов, получили %d", provider.calls.Load())
	}

	// Внутри TTL — обновления нет.
	now = base.Add(3599 * time.Second)
	if _, err := cache.Handle(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if provider.calls.Load() != 1 {
		t.Fatalf("запись ещё жива, а провайдер вызван %d раз", provider.calls.Load())
	}

	// Спустя TTL+1s — ровно одно обновление.
	now = base.Add(3601 * time.Second)
	if _, err := cache.Handle(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if provider.calls.Load() != 2 {
		t.Fatalf("ожидали ровно одно обновление, всего вызовов %d", provider.calls.Load())
	}
}

func TestSessionCacheInvalidate(t *testing.T) {
	provider := &slowProvider{handle: &scriptedSearcher{}}
	cache := NewSessionCache(provider, time.Hour)

	if _, err := cache.Handle(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	cache.Invalidate()
	if _, err := cache.Handle(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if provider.calls.Load() != 2 {
		t.Fatalf("после Invalidate ожидали повторный вызов, всего %d", provider.calls.Load())
	}
}
