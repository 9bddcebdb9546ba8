package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tg-filter-bot/internal/domain"
)

type stubSource struct {
	recipients []domain.Recipient
	listErr    error

	mu   sync.Mutex
	dead []int64
}

func (s *stubSource) ListRecipients(context.Context) ([]domain.Recipient, error) {
	return s.recipients, s.listErr
}

func (s *stubSource) MarkDead(_ context.Context, r domain.Recipient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dead = append(s.dead, r.TGChatID)
	return nil
}

type stubTransport struct {
	// fail задаёт сценарий ошибок по chat id: ошибки выдаются по очереди,
	// после исчерпания списка доставка успешна.
	fail map[int64][]error

	mu       sync.Mutex
	attempts map[int64]int
}

func (t *stubTransport) Deliver(_ context.Context, to domain.Recipient, _ domain.ContentRef) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.attempts == nil {
		t.attempts = make(map[int64]int)
	}
	n := t.attempts[to.TGChatID]
	t.attempts[to.TGChatID] = n + 1
	script := t.fail[to.TGChatID]
	if n < len(script) {
		return script[n]
	}
	return nil
}

type stubSink struct {
	mu      sync.Mutex
	reports []domain.DispatchProgress
}

func (s *stubSink) Report(_ string, p domain.DispatchProgress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, p)
}

func roster(n int) []domain.Recipient {
	out := make([]domain.Recipient, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, domain.Recipient{TGChatID: int64(i + 1), Kind: domain.RecipientUser})
	}
	return out
}

func newTestService(src *stubSource, tr *stubTransport, sink *stubSink) (*Service, *[]time.Duration) {
	svc := NewService(src, tr, sink, zerolog.Nop(), Config{RetryMargin: 2 * time.Second, MinProgressBatch: 10})
	var slept []time.Duration
	svc.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return svc, &slept
}

func TestRunRetriesOnceAfterRateLimit(t *testing.T) {
	src := &stubSource{recipients: roster(250)}
	tr := &stubTransport{fail: map[int64][]error{
		130: {&domain.RateLimitedError{RetryAfter: 5 * time.Second}},
	}}
	sink := &stubSink{}
	svc, slept := newTestService(src, tr, sink)

	summary, err := svc.Run(context.Background(), domain.BroadcastJob{ID: "job-1"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if summary.Sent != 250 || summary.Failed != 0 {
		t.Fatalf("ожидали sent=250 failed=0, получили %+v", summary)
	}
	if len(*slept) != 1 || (*slept)[0] != 7*time.Second {
		t.Fatalf("ожидали одну паузу 7s, получили %v", *slept)
	}
	if tr.attempts[130] != 2 {
		t.Fatalf("ожидали 2 попытки для адресата 130, получили %d", tr.attempts[130])
	}
	for id, n := range tr.attempts {
		if n > 2 {
			t.Fatalf("адресат %d обработан %d раз", id, n)
		}
	}
}

func TestRunMarksDeadOnPermanentError(t *testing.T) {
	src := &stubSource{recipients: roster(5)}
	tr := &stubTransport{fail: map[int64][]error{
		3: {domain.ErrRecipientGone},
	}}
	sink := &stubSink{}
	svc, _ := newTestService(src, tr, sink)

	summary, err := svc.Run(context.Background(), domain.BroadcastJob{ID: "job-2"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if summary.Sent != 4 || summary.Failed != 1 {
		t.Fatalf("ожидали sent=4 failed=1, получили %+v", summary)
	}
	if len(src.dead) != 1 || src.dead[0] != 3 {
		t.Fatalf("ожидали пометку адресата 3, получили %v", src.dead)
	}
}

func TestRunRateLimitRetryFailureCountsOnce(t *testing.T) {
	src := &stubSource{recipients: roster(3)}
	tr := &stubTransport{fail: map[int64][]error{
		2: {
			&domain.RateLimitedError{RetryAfter: time.Second},
			&domain.RateLimitedError{RetryAfter: time.Second},
		},
	}}
	sink := &stubSink{}
	svc, slept := newTestService(src, tr, sink)

	summary, err := svc.Run(context.Background(), domain.BroadcastJob{ID: "job-3"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if summary.Sent != 2 || summary.Failed != 1 {
		t.Fatalf("ожидали sent=2 failed=1, получили %+v", summary)
	}
	if tr.attempts[2] != 2 {
		t.Fatalf("ожидали ровно 2 попытки, получили %d", tr.attempts[2])
	}
	if len(*slept) != 1 {
		t.Fatalf("ожидали одну паузу, получили %d", len(*slept))
	}
	if len(src.dead) != 0 {
		t.Fatalf("флуд-лимит не должен помечать адресата мёртвым: %v", src.dead)
	}
}

func TestRunProgressIsMonotonicAndComplete(t *testing.T) {
	src := &stubSource{recipients: roster(100)}
	tr := &stubTransport{fail: map[int64][]error{
		7:  {domain.ErrRecipientGone},
		42: {domain.ErrRecipientGone},
	}}
	sink := &stubSink{}
	svc, _ := newTestService(src, tr, sink)

	summary, err := svc.Run(context.Background(), domain.BroadcastJob{ID: "job-4"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if summary.Sent+summary.Failed != summary.Total {
		t.Fatalf("sent+failed != total: %+v", summary)
	}
	if len(sink.reports) == 0 {
		t.Fatal("ожидали хотя бы одно уведомление о прогрессе")
	}
	prev := -1
	for _, p := range sink.reports {
		processed := p.Sent + p.Failed
		if processed < prev {
			t.Fatalf("прогресс пошёл назад: %d после %d", processed, prev)
		}
		if processed > p.Total {
			t.Fatalf("обработано больше, чем всего: %+v", p)
		}
		prev = processed
	}
	last := sink.reports[len(sink.reports)-1]
	if last.Remaining != 0 {
		t.Fatalf("в финальном уведомлении remaining=%d", last.Remaining)
	}
	if last.Sent != 98 || last.Failed != 2 {
		t.Fatalf("ожидали 98/2, получили %+v", last)
	}
}

func TestRunFailsOnSnapshotError(t *testing.T) {
	src := &stubSource{listErr: errors.New("база недоступна")}
	svc, _ := newTestService(src, &stubTransport{}, &stubSink{})

	if _, err := svc.Run(context.Background(), domain.BroadcastJob{ID: "job-5"}); err == nil {
		t.Fatal("ожидали ошибку при недоступном снапшоте")
	}
}

func TestRunEmptyRoster(t *testing.T) {
	svc, _ := newTestService(&stubSource{}, &stubTransport{}, &stubSink{})
	if _, err := svc.Run(context.Background(), domain.BroadcastJob{ID: "job-6"}); !errors.Is(err, ErrEmptyRoster) {
		t.Fatalf("ожидали ErrEmptyRoster, получили %v", err)
	}
}
