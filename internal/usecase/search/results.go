package search

import (
	"context"
	"sync"
	"time"

	"tg-filter-bot/internal/domain"
)

const (
	defaultResultTTL = 10 * time.Minute
	defaultPageSize  = 10
)

// Direction задаёт направление листания выдачи.
type Direction int

const (
	Next Direction = iota + 1
	Prev
)

// ResultKey идентифицирует закэшированную выдачу: пользователь + запрос.
type ResultKey struct {
	UserID int64
	Query  string
}

// resultEntry — одна выдача с указателем текущей страницы. Мьютекс записи
// сериализует перемещения указателя: кнопки листания жмут конкурентно.
type resultEntry struct {
	mu        sync.Mutex
	items     []domain.RawHit
	pageSize  int
	page      int
	createdAt time.Time
}

// ResultCache хранит последнюю выдачу каждого пользователя и отдаёт её
// страницами. Протухшая запись при обращении ведёт себя как отсутствующая,
// фоновый уборщик лишь ограничивает память.
type ResultCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[ResultKey]*resultEntry
}

// NewResultCache создаёт кэш выдачи.
func NewResultCache(ttl time.Duration) *ResultCache {
	if ttl <= 0 {
		ttl = defaultResultTTL
	}
	return &ResultCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[ResultKey]*resultEntry),
	}
}

// Store кладёт выдачу в кэш, указатель встаёт на первую страницу.
func (c *ResultCache) Store(key ResultKey, items []domain.RawHit, pageSize int) domain.ResultPage {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	entry := &resultEntry{
		items:     items,
		pageSize:  pageSize,
		page:      1,
		createdAt: c.now(),
	}
	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
	return entry.view()
}

// Page возвращает текущую страницу. Второе значение false — записи нет или
// она протухла, вызывающий должен пересчитать выдачу.
func (c *ResultCache) Page(key ResultKey) (domain.ResultPage, bool) {
	entry, ok := c.lookup(key)
	if !ok {
		return domain.ResultPage{}, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.view(), true
}

// Move сдвигает указатель страницы. На границах — no-op: Next на последней
// странице и Prev на первой возвращают страницу без изменений.
func (c *ResultCache) Move(key ResultKey, dir Direction) (domain.ResultPage, bool) {
	entry, ok := c.lookup(key)
	if !ok {
		return domain.ResultPage{}, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	switch dir {
	case Next:
		if entry.page < entry.totalPages() {
			entry.page++
		}
	case Prev:
		if entry.page > 1 {
			entry.page--
		}
	}
	return entry.view(), true
}

// Delete убирает выдачу из кэша.
func (c *ResultCache) Delete(key ResultKey) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// StartSweeper запускает фоновую уборку протухших записей до отмены контекста.
func (c *ResultCache) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.sweep()
			}
		}
	}()
}

func (c *ResultCache) sweep() {
	now := c.now()
	c.mu.Lock()
	for key, entry := range c.entries {
		if now.Sub(entry.createdAt) > c.ttl {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
}

// lookup достаёт живую запись, протухшую удаляет на месте.
func (c *ResultCache) lookup(key ResultKey) (*resultEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.createdAt) > c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return entry, true
}

func (e *resultEntry) totalPages() int {
	pages := (len(e.items) + e.pageSize - 1) / e.pageSize
	if pages < 1 {
		pages = 1
	}
	return pages
}

// view строит срез текущей страницы. Вызывается под e.mu.
func (e *resultEntry) view() domain.ResultPage {
	start := (e.page - 1) * e.pageSize
	end := start + e.pageSize
	if start > len(e.items) {
		start = len(e.items)
	}
	if end > len(e.items) {
		end = len(e.items)
	}
	return domain.ResultPage{
		Items:      e.items[start:end],
		Page:       e.page,
		TotalPages: e.totalPages(),
		Total:      len(e.items),
	}
}
