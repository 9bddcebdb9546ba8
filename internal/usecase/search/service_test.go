package search

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tg-filter-bot/internal/domain"
)

type scriptedSearcher struct {
	hits  map[int64][]domain.RawHit
	fails map[int64]error
	hang  map[int64]bool

	calls atomic.Int32
}

func (s *scriptedSearcher) SearchChannel(ctx context.Context, channelID int64, _ string, _ int) ([]domain.RawHit, error) {
	s.calls.Add(1)
	if s.hang[channelID] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err := s.fails[channelID]; err != nil {
		return nil, err
	}
	return s.hits[channelID], nil
}

type staticProvider struct {
	handle domain.Searcher
	err    error

	calls atomic.Int32
}

func (p *staticProvider) CurrentHandle(context.Context) (domain.Searcher, error) {
	p.calls.Add(1)
	return p.handle, p.err
}

func newAggregator(handle domain.Searcher, cfg Config) *Service {
	cache := NewSessionCache(&staticProvider{handle: handle}, time.Hour)
	return NewService(cache, zerolog.Nop(), cfg)
}

func TestSearchMergesInChannelOrder(t *testing.T) {
	searcher := &scriptedSearcher{
		hits: map[int64][]domain.RawHit{
			1: {{Title: "Launch Notes", ChannelID: 1}},
			3: {{Title: "Launch Notes", ChannelID: 3}, {Title: "Specs", ChannelID: 3}},
		},
		fails: map[int64]error{2: errors.New("канал закрыт")},
	}
	svc := newAggregator(searcher, Config{})

	hits, err := svc.Search(context.Background(), []int64{1, 2, 3}, "launch", 50)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("ожидали 2 результата, получили %d", len(hits))
	}
	if hits[0].Title != "Launch Notes" || hits[0].ChannelID != 1 {
		t.Fatalf("дубликат должен остаться за первым каналом: %+v", hits[0])
	}
	if hits[1].Title != "Specs" {
		t.Fatalf("ожидали Specs вторым, получили %+v", hits[1])
	}
}

func TestSearchChannelFailureIsIsolated(t *testing.T) {
	searcher := &scriptedSearcher{
		hits: map[int64][]domain.RawHit{
			1: {{Title: "A", ChannelID: 1}},
			2: {{Title: "B", ChannelID: 2}},
			4: {{Title: "D", ChannelID: 4}},
		},
		fails: map[int64]error{3: errors.New("flood")},
	}
	svc := newAggregator(searcher, Config{})

	hits, err := svc.Search(context.Background(), []int64{1, 2, 3, 4}, "q", 10)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("ожидали результаты трёх каналов, получили %d", len(hits))
	}
}

func TestSearchHungChannelTimesOut(t *testing.T) {
	searcher := &scriptedSearcher{
		hits: map[int64][]domain.RawHit{1: {{Title: "A", ChannelID: 1}}},
		hang: map[int64]bool{2: true},
	}
	svc := newAggregator(searcher, Config{ChannelTimeout: 20 * time.Millisecond})

	done := make(chan struct{})
	var hits []domain.RawHit
	var err error
	go func() {
		hits, err = svc.Search(context.Background(), []int64{1, 2}, "q", 10)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("зависший канал заблокировал слияние")
	}
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(hits) != 1 || hits[0].Title != "A" {
		t.Fatalf("ожидали только результат живого канала, получили %+v", hits)
	}
}

func TestSearchNoCredentialFailsFast(t *testing.T) {
	cache := NewSessionCache(&staticProvider{err: domain.ErrNoCredential}, time.Hour)
	svc := NewService(cache, zerolog.Nop(), Config{})

	_, err := svc.Search(context.Background(), []int64{1}, "q", 10)
	if !errors.Is(err, domain.ErrNoCredential) {
		t.Fatalf("ожидали ErrNoCredential, получили %v", err)
	}
}

func TestSearchDedupUsesFirstTitleLine(t *testing.T) {
	searcher := &scriptedSearcher{
		hits: map[int64][]domain.RawHit{
			1: {{Title: "Movie 1080p\nподробности внутри", ChannelID: 1}},
			2: {{Title: "  movie 1080P  ", ChannelID: 2}, {Title: "Другое", ChannelID: 2}},
		},
	}
	svc := newAggregator(searcher, Config{})

	hits, err := svc.Search(context.Background(), []int64{1, 2}, "movie", 10)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("ожидали 2 результата после дедупликации, получили %d", len(hits))
	}
	if hits[0].ChannelID != 1 {
		t.Fatalf("первое вхождение должно победить: %+v", hits[0])
	}
}

func TestNormalizeQuery(t *testing.T) {
	cases := map[string]string{
		"  hello,   world! ": "hello world",
		"фильм (2024)":       "фильм 2024",
		"***":                "",
	}
	for in, want := range cases {
		if got := NormalizeQuery(in); got != want {
			t.Fatalf("NormalizeQuery(%q) = %q, ожидали %q", in, got, want)
		}
	}
}
