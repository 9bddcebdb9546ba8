package search

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"tg-filter-bot/internal/domain"
)

func makeHits(n int) []domain.RawHit {
	hits := make([]domain.RawHit, 0, n)
	for i := 0; i < n; i++ {
		hits = append(hits, domain.RawHit{Title: fmt.Sprintf("hit %d", i+1), ChannelID: 1})
	}
	return hits
}

func TestResultCachePagination(t *testing.T) {
	cache := NewResultCache(time.Minute)
	key := ResultKey{UserID: 1, Query: "launch"}

	page := cache.Store(key, makeHits(47), 10)
	if page.Page != 1 || page.TotalPages != 5 {
		t.Fatalf("ожидали страницу 1/5, получили %d/%d", page.Page, page.TotalPages)
	}
	if len(page.Items) != 10 {
		t.Fatalf("ожидали 10 элементов на странице, получили %d", len(page.Items))
	}

	// Долистываем до конца: на последней странице Next — no-op.
	for i := 0; i < 4; i++ {
		page, _ = cache.Move(key, Next)
	}
	if page.Page != 5 || len(page.Items) != 7 {
		t.Fatalf("ожидали страницу 5 с 7 элементами, получили %d с %d", page.Page, len(page.Items))
	}
	page, _ = cache.Move(key, Next)
	if page.Page != 5 {
		t.Fatalf("Next на последней странице должен быть no-op, получили %d", page.Page)
	}

	// Обратно до первой: Prev на первой — no-op.
	for i := 0; i < 4; i++ {
		page, _ = cache.Move(key, Prev)
	}
	if page.Page != 1 {
		t.Fatalf("ожидали страницу 1, получили %d", page.Page)
	}
	page, _ = cache.Move(key, Prev)
	if page.Page != 1 {
		t.Fatalf("Prev на первой странице должен быть no-op, получили %d", page.Page)
	}
}

func TestResultCachePointerStaysInRange(t *testing.T) {
	cache := NewResultCache(time.Minute)
	key := ResultKey{UserID: 2, Query: "q"}
	cache.Store(key, makeHits(3), 10)

	for i := 0; i < 5; i++ {
		page, ok := cache.Move(key, Next)
		if !ok {
			t.Fatal("запись пропала")
		}
		if page.Page < 1 || page.Page > page.TotalPages {
			t.Fatalf("указатель вне диапазона: %d/%d", page.Page, page.TotalPages)
		}
	}
}

func TestResultCacheConcurrentMoves(t *testing.T) {
	cache := NewResultCache(time.Minute)
	key := ResultKey{UserID: 3, Query: "launch"}
	cache.Store(key, makeHits(100), 10)

	var wg sync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()
			cache.Move(key, Next)
		}()
	}
	wg.Wait()

	page, ok := cache.Page(key)
	if !ok {
		t.Fatal("запись пропала")
	}
	if page.Page != 3 {
		t.Fatalf("два конкурентных Next должны дать страницу 3, получили %d", page.Page)
	}
}

func TestResultCacheExpiry(t *testing.T) {
	cache := NewResultCache(10 * time.Minute)
	base := time.Unix(1_700_000_000, 0)
	now := base
	cache.now = func() time.Time { return now }

	key := ResultKey{UserID: 4, Query: "old"}
	cache.Store(key, makeHits(5), 10)

	if _, ok := cache.Page(key); !ok {
		t.Fatal("свежая запись должна находиться")
	}

	now = base.Add(10*time.Minute + time.Second)
	if _, ok := cache.Page(key); ok {
		t.Fatal("протухшая запись должна вести себя как отсутствующая")
	}
	if _, ok := cache.Move(key, Next); ok {
		t.Fatal("Move по протухшей записи должен вернуть промах")
	}
}

func TestResultCacheSweep(t *testing.T) {
	cache := NewResultCache(time.Minute)
	base := time.Unix(1_700_000_000, 0)
	now := base
	cache.now = func() time.Time { return now }

	cache.Store(ResultKey{UserID: 5, Query: "a"}, makeHits(1), 10)
	cache.Store(ResultKey{UserID: 6, Query: "b"}, makeHits(1), 10)

	now = base.Add(2 * time.Minute)
	cache.sweep()

	cache.mu.Lock()
	left := len(cache.entries)
	cache.mu.Unlock()
	if left != 0 {
		t.Fatalf("уборщик должен удалить протухшие записи, осталось %d", left)
	}
}
