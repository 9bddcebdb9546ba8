package mtproto

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"tg-filter-bot/internal/domain"
	"tg-filter-bot/internal/infra/metrics"
)

// ErrChannelUnavailable возвращается, когда поисковый аккаунт не состоит
// в канале и не может его искать.
var ErrChannelUnavailable = errors.New("канал недоступен поисковому аккаунту")

// Provider строит поисковые клиенты из сохранённой MTProto-сессии.
// Лимитер общий для всех клиентов: Telegram считает запросы на аккаунт.
type Provider struct {
	apiID       int
	apiHash     string
	sessions    domain.SessionRepo
	sessionName string
	limiter     *rate.Limiter
	log         zerolog.Logger
}

var _ domain.SessionProvider = (*Provider)(nil)

// NewProvider создаёт провайдер поисковых клиентов.
func NewProvider(apiID int, apiHash string, sessions domain.SessionRepo, sessionName string, globalRPS int, log zerolog.Logger) *Provider {
	if globalRPS <= 0 {
		globalRPS = 20
	}
	return &Provider{
		apiID:       apiID,
		apiHash:     apiHash,
		sessions:    sessions,
		sessionName: sessionName,
		limiter:     rate.NewLimiter(rate.Limit(globalRPS), globalRPS),
		log:         log,
	}
}

// CurrentHandle поднимает MTProto-клиент из сохранённой сессии и ждёт его
// готовности. Без сохранённой авторизации возвращает domain.ErrNoCredential.
func (p *Provider) CurrentHandle(ctx context.Context) (domain.Searcher, error) {
	if _, err := p.sessions.LoadMTProtoSession(ctx, p.sessionName); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNoCredential
		}
		return nil, fmt.Errorf("чтение сессии: %w", err)
	}

	client := telegram.NewClient(p.apiID, p.apiHash, telegram.Options{
		SessionStorage: NewSessionDB(p.sessions, p.sessionName),
	})

	runCtx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	runErr := make(chan error, 1)
	go func() {
		runErr <- client.Run(runCtx, func(ctx context.Context) error {
			status, err := client.Auth().Status(ctx)
			if err != nil {
				return err
			}
			if !status.Authorized {
				return domain.ErrNoCredential
			}
			close(ready)
			<-ctx.Done()
			return ctx.Err()
		})
	}()

	select {
	case <-ready:
	case err := <-runErr:
		cancel()
		if err == nil {
			err = errors.New("mtproto: клиент завершился до готовности")
		}
		return nil, err
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}

	metrics.SessionRefreshTotal.Inc()
	p.log.Info().Str("session", p.sessionName).Msg("mtproto: поисковый клиент готов")
	return &Handle{
		api:     client.API(),
		limiter: p.limiter,
		log:     p.log,
		stop:    cancel,
	}, nil
}

type channelRef struct {
	id         int64
	accessHash int64
	username   string
}

// Handle — один живой поисковый клиент. Справочник каналов аккаунта
// загружается лениво при первом поиске.
type Handle struct {
	api     *tg.Client
	limiter *rate.Limiter
	log     zerolog.Logger
	stop    context.CancelFunc

	mu       sync.Mutex
	channels map[int64]channelRef
}

var _ domain.Searcher = (*Handle)(nil)

// SearchChannel ищет сообщения в одном канале и возвращает совпадения со
// ссылками на исходные посты.
func (h *Handle) SearchChannel(ctx context.Context, channelID int64, query string, limit int) ([]domain.RawHit, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	ref, err := h.resolveChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := h.api.MessagesSearch(ctx, &tg.MessagesSearchRequest{
		Peer:   &tg.InputPeerChannel{ChannelID: ref.id, AccessHash: ref.accessHash},
		Q:      query,
		Filter: &tg.InputMessagesFilterEmpty{},
		Limit:  limit,
	})
	metrics.ObserveNetworkRequest("mtproto", "messages_search", strconv.FormatInt(channelID, 10), start, err)
	if err != nil {
		return nil, fmt.Errorf("поиск в канале %d: %w", channelID, err)
	}

	container, ok := resp.(interface{ GetMessages() []tg.MessageClass })
	if !ok {
		return nil, nil
	}

	var hits []domain.RawHit
	for _, raw := range container.GetMessages() {
		msg, ok := raw.(*tg.Message)
		if !ok {
			continue
		}
		title := firstLine(msg.Message)
		if title == "" {
			continue
		}
		hits = append(hits, domain.RawHit{
			Title:     title,
			Link:      postLink(ref, msg.ID),
			ChannelID: channelID,
		})
	}
	return hits, nil
}

// Close останавливает клиент и разрывает соединение.
func (h *Handle) Close() error {
	h.stop()
	return nil
}

// resolveChannel находит access hash канала среди чатов аккаунта.
func (h *Handle) resolveChannel(ctx context.Context, channelID int64) (channelRef, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	bare := bareChannelID(channelID)
	if h.channels == nil {
		if err := h.loadChannelsLocked(ctx); err != nil {
			return channelRef{}, err
		}
	}
	ref, ok := h.channels[bare]
	if !ok {
		return channelRef{}, fmt.Errorf("%w: %d", ErrChannelUnavailable, channelID)
	}
	return ref, nil
}

func (h *Handle) loadChannelsLocked(ctx context.Context) error {
	start := time.Now()
	resp, err := h.api.MessagesGetAllChats(ctx, []int64{})
	metrics.ObserveNetworkRequest("mtproto", "get_all_chats", "account", start, err)
	if err != nil {
		return fmt.Errorf("загрузка чатов аккаунта: %w", err)
	}

	channels := make(map[int64]channelRef)
	for _, chat := range resp.GetChats() {
		channel, ok := chat.(*tg.Channel)
		if !ok {
			continue
		}
		channels[channel.ID] = channelRef{
			id:         channel.ID,
			accessHash: channel.AccessHash,
			username:   channel.Username,
		}
	}
	h.channels = channels
	return nil
}

// bareChannelID приводит идентификатор из формата Bot API (-100xxxxxxxxxx)
// к внутреннему идентификатору MTProto.
func bareChannelID(id int64) int64 {
	if id <= -1000000000000 {
		return -id - 1000000000000
	}
	if id < 0 {
		return -id
	}
	return id
}

// postLink строит публичную ссылку на пост: t.me/<username>/<id> для
// публичных каналов, t.me/c/<id>/<id> для приватных.
func postLink(ref channelRef, messageID int) string {
	if ref.username != "" {
		return fmt.Sprintf("https://t.me/%s/%d", ref.username, messageID)
	}
	return fmt.Sprintf("https://t.me/c/%d/%d", ref.id, messageID)
}

// firstLine возвращает первую непустую строку текста.
func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return line
		}
	}
	return ""
}
