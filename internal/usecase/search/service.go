package search

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"tg-filter-bot/internal/domain"
	"tg-filter-bot/internal/infra/metrics"
)

const (
	defaultConcurrency    = 20
	defaultChannelTimeout = 15 * time.Second
)

var queryCleanRegex = regexp.MustCompile(`[^\p{L}\p{N}\s]`)

// NormalizeQuery убирает из запроса спецсимволы и лишние пробелы.
func NormalizeQuery(raw string) string {
	cleaned := queryCleanRegex.ReplaceAllString(raw, "")
	return strings.Join(strings.Fields(cleaned), " ")
}

// Config настраивает агрегатор.
type Config struct {
	// Concurrency ограничивает число одновременных запросов к каналам.
	Concurrency int
	// ChannelTimeout — предельное время одного канального запроса. Зависший
	// канал не должен задерживать слияние результатов остальных.
	ChannelTimeout time.Duration
}

// Service выполняет веерный поиск по каналам группы и сливает результаты.
type Service struct {
	sessions *SessionCache
	log      zerolog.Logger

	concurrency    int
	channelTimeout time.Duration
}

// NewService создаёт агрегатор поиска.
func NewService(sessions *SessionCache, log zerolog.Logger, cfg Config) *Service {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.ChannelTimeout <= 0 {
		cfg.ChannelTimeout = defaultChannelTimeout
	}
	return &Service{
		sessions:       sessions,
		log:            log,
		concurrency:    cfg.Concurrency,
		channelTimeout: cfg.ChannelTimeout,
	}
}

// Search опрашивает каналы параллельно и возвращает дедуплицированную выдачу.
// Упавший или зависший канал даёт ноль результатов и не трогает соседей.
// Порядок детерминирован: каналы в заявленном порядке, внутри канала —
// порядок прихода.
func (s *Service) Search(ctx context.Context, channels []int64, query string, perChannelLimit int) ([]domain.RawHit, error) {
	handle, err := s.sessions.Handle(ctx)
	if err != nil {
		return nil, fmt.Errorf("получение поисковой сессии: %w", err)
	}
	if len(channels) == 0 {
		return []domain.RawHit{}, nil
	}

	start := time.Now()
	perChannel := make([][]domain.RawHit, len(channels))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, channelID := range channels {
		g.Go(func() error {
			taskCtx, cancel := context.WithTimeout(gctx, s.channelTimeout)
			defer cancel()

			hits, err := handle.SearchChannel(taskCtx, channelID, query, perChannelLimit)
			if err != nil {
				// Ошибка канала гасится на месте: сосед не должен страдать.
				metrics.SearchChannelErrors.Inc()
				s.log.Warn().Err(err).Int64("channel", channelID).Str("query", query).Msg("search: канал не ответил")
				return nil
			}
			perChannel[i] = hits
			return nil
		})
	}
	// Ошибки каналов поглощены внутри задач, Wait здесь только барьер.
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := mergeHits(perChannel)
	metrics.SearchDuration.Observe(time.Since(start).Seconds())
	s.log.Debug().Str("query", query).Int("channels", len(channels)).Int("hits", len(merged)).Msg("search: слияние завершено")
	return merged, nil
}

// mergeHits сливает результаты в порядке объявления каналов и выкидывает
// дубликаты по нормализованному заголовку. Побеждает первое вхождение.
func mergeHits(perChannel [][]domain.RawHit) []domain.RawHit {
	merged := make([]domain.RawHit, 0)
	seen := make(map[string]struct{})
	for _, hits := range perChannel {
		for _, hit := range hits {
			key := normalizeTitle(hit.Title)
			if key == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, hit)
		}
	}
	return merged
}

// normalizeTitle приводит заголовок к ключу дедупликации: первая строка,
// без регистра и краевых пробелов.
func normalizeTitle(title string) string {
	line := title
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	return strings.ToLower(strings.TrimSpace(line))
}
