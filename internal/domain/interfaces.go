package domain

import (
	"context"
	"time"
)

// RecipientSource отдаёт снапшот ростера рассылки и принимает отметки о мёртвых адресатах.
type RecipientSource interface {
	// ListRecipients возвращает живых адресатов. Снапшот может быть устаревшим.
	ListRecipients(ctx context.Context) ([]Recipient, error)
	// MarkDead идемпотентно исключает адресата из будущих снапшотов.
	MarkDead(ctx context.Context, r Recipient) error
}

// Transport доставляет одно сообщение одному адресату. Без неявных повторов:
// флуд-лимит возвращается как *RateLimitedError, вечная недоступность — как
// ErrRecipientGone, решение о повторе принимает вызывающий.
type Transport interface {
	Deliver(ctx context.Context, to Recipient, content ContentRef) error
}

// Searcher — авторизованный клиент каналов. Каждый вызов может упасть независимо.
type Searcher interface {
	SearchChannel(ctx context.Context, channelID int64, query string, limit int) ([]RawHit, error)
}

// SessionProvider строит Searcher из сохранённой сессии.
// Возвращает ErrNoCredential, если сессии нет.
type SessionProvider interface {
	CurrentHandle(ctx context.Context) (Searcher, error)
}

// GateCheck проверяет допуск пользователя к поиску (подписка на обязательный канал).
// Проверка без побочных эффектов.
type GateCheck interface {
	Allowed(ctx context.Context, userID, chatID int64) (bool, error)
}

// PendingRequestStore запоминает последний заблокированный гейтом запрос пользователя.
// Семантика upsert: не больше одной записи на пользователя, TTL обеспечивает хранилище.
type PendingRequestStore interface {
	Save(ctx context.Context, req PendingRequest) error
	Get(ctx context.Context, userID int64) (PendingRequest, bool, error)
	Delete(ctx context.Context, userID int64) error
}

// ProgressSink получает уведомления о ходе рассылки. Вызовы не блокируют
// рассылку, частоту ограничивает сам движок.
type ProgressSink interface {
	Report(jobID string, p DispatchProgress)
}

// UserRepo управляет пользователями.
type UserRepo interface {
	UpsertByTGID(ctx context.Context, tgUserID int64, firstName, username string) (User, error)
	CountUsers(ctx context.Context) (int, error)
}

// GroupRepo управляет группами.
type GroupRepo interface {
	UpsertGroup(ctx context.Context, group Group) (Group, error)
	GetGroup(ctx context.Context, tgChatID int64) (Group, error)
	SetForceSub(ctx context.Context, tgChatID, channelID int64) error
	SetVerified(ctx context.Context, tgChatID int64, verified bool) error
	SetChannels(ctx context.Context, tgChatID int64, channels []int64) error
	CountGroups(ctx context.Context) (int, error)
}

// SessionRepo хранит MTProto-сессии поискового аккаунта.
type SessionRepo interface {
	LoadMTProtoSession(ctx context.Context, name string) ([]byte, error)
	SaveMTProtoSession(ctx context.Context, name string, data []byte) error
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Once(key string, ttl time.Duration, fn func() error) error
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
}
