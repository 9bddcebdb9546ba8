package mtproto

import (
	"context"
	"errors"

	"github.com/gotd/td/session"

	"tg-filter-bot/internal/domain"
)

// SessionDB хранит MTProto-сессию в domain.SessionRepo, чтобы авторизация
// переживала перезапуск и была общей для всех инстансов.
type SessionDB struct {
	repo domain.SessionRepo
	name string
}

var _ session.Storage = (*SessionDB)(nil)

// NewSessionDB создаёт хранилище сессии с заданным именем.
func NewSessionDB(repo domain.SessionRepo, name string) *SessionDB {
	return &SessionDB{repo: repo, name: name}
}

// LoadSession загружает сессию. Отсутствие записи переводится в
// session.ErrNotFound, как ожидает gotd.
func (s *SessionDB) LoadSession(ctx context.Context) ([]byte, error) {
	data, err := s.repo.LoadMTProtoSession(ctx, s.name)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, session.ErrNotFound
	}
	return data, nil
}

// StoreSession сохраняет сессию.
func (s *SessionDB) StoreSession(ctx context.Context, data []byte) error {
	return s.repo.SaveMTProtoSession(ctx, s.name, data)
}
