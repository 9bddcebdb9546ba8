package groups

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tg-filter-bot/internal/domain"
)

var (
	// ErrGroupNotFound возвращается, если группа не зарегистрирована.
	ErrGroupNotFound = errors.New("группа не зарегистрирована")
	// ErrNotOwner возвращается, если команду вызвал не владелец группы.
	ErrNotOwner = errors.New("команда доступна только владельцу группы")
	// ErrNotVerified возвращается для операций, требующих одобренную группу.
	ErrNotVerified = errors.New("группа не прошла верификацию")
	// ErrNoChannels возвращается, если к группе не привязан ни один канал.
	ErrNoChannels = errors.New("к группе не привязаны каналы")
)

// Service управляет группами: регистрация, верификация, force-sub, привязка каналов.
type Service struct {
	groups    domain.GroupRepo
	users     domain.UserRepo
	analytics domain.BusinessMetricRepo
}

// NewService создаёт сервис групп.
func NewService(groups domain.GroupRepo, users domain.UserRepo, analytics domain.BusinessMetricRepo) *Service {
	return &Service{groups: groups, users: users, analytics: analytics}
}

// RegisterUser создаёт или обновляет пользователя по /start.
func (s *Service) RegisterUser(ctx context.Context, tgUserID int64, firstName, username string) (domain.User, error) {
	user, err := s.users.UpsertByTGID(ctx, tgUserID, firstName, username)
	if err != nil {
		return domain.User{}, fmt.Errorf("сохранение пользователя: %w", err)
	}
	s.record(ctx, domain.BusinessMetricEventUserRegistered, &tgUserID, nil, nil)
	return user, nil
}

// RegisterGroup регистрирует группу в момент добавления бота.
func (s *Service) RegisterGroup(ctx context.Context, group domain.Group) (domain.Group, error) {
	saved, err := s.groups.UpsertGroup(ctx, group)
	if err != nil {
		return domain.Group{}, fmt.Errorf("сохранение группы: %w", err)
	}
	s.record(ctx, domain.BusinessMetricEventGroupRegistered, &group.OwnerTGID, &group.TGChatID, map[string]any{"title": group.Title})
	return saved, nil
}

// Get возвращает группу по идентификатору чата.
func (s *Service) Get(ctx context.Context, tgChatID int64) (domain.Group, error) {
	return s.fetch(ctx, tgChatID)
}

func (s *Service) fetch(ctx context.Context, tgChatID int64) (domain.Group, error) {
	group, err := s.groups.GetGroup(ctx, tgChatID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Group{}, ErrGroupNotFound
	}
	if err != nil {
		return domain.Group{}, fmt.Errorf("получение группы: %w", err)
	}
	return group, nil
}

// Approve помечает группу верифицированной и фиксирует событие.
func (s *Service) Approve(ctx context.Context, tgChatID int64) (domain.Group, error) {
	group, err := s.fetch(ctx, tgChatID)
	if err != nil {
		return domain.Group{}, err
	}
	if err := s.groups.SetVerified(ctx, tgChatID, true); err != nil {
		return domain.Group{}, fmt.Errorf("верификация группы: %w", err)
	}
	s.record(ctx, domain.BusinessMetricEventGroupVerified, &group.OwnerTGID, &tgChatID, nil)
	group.Verified = true
	return group, nil
}

// Reject снимает верификацию (или оставляет группу неверифицированной).
func (s *Service) Reject(ctx context.Context, tgChatID int64) (domain.Group, error) {
	group, err := s.fetch(ctx, tgChatID)
	if err != nil {
		return domain.Group{}, err
	}
	if err := s.groups.SetVerified(ctx, tgChatID, false); err != nil {
		return domain.Group{}, fmt.Errorf("отклонение группы: %w", err)
	}
	group.Verified = false
	return group, nil
}

// SetForceSub назначает группе обязательный канал. Только владелец и только
// после верификации.
func (s *Service) SetForceSub(ctx context.Context, tgChatID, callerTGID, channelID int64) error {
	group, err := s.fetch(ctx, tgChatID)
	if err != nil {
		return err
	}
	if group.OwnerTGID != callerTGID {
		return ErrNotOwner
	}
	if !group.Verified {
		return ErrNotVerified
	}
	if err := s.groups.SetForceSub(ctx, tgChatID, channelID); err != nil {
		return fmt.Errorf("сохранение force-sub: %w", err)
	}
	return nil
}

// RemoveForceSub убирает обязательный канал группы.
func (s *Service) RemoveForceSub(ctx context.Context, tgChatID, callerTGID int64) error {
	group, err := s.fetch(ctx, tgChatID)
	if err != nil {
		return err
	}
	if group.OwnerTGID != callerTGID {
		return ErrNotOwner
	}
	if err := s.groups.SetForceSub(ctx, tgChatID, 0); err != nil {
		return fmt.Errorf("сброс force-sub: %w", err)
	}
	return nil
}

// ConnectChannels привязывает к группе каналы-источники поиска.
func (s *Service) ConnectChannels(ctx context.Context, tgChatID, callerTGID int64, channels []int64) error {
	group, err := s.fetch(ctx, tgChatID)
	if err != nil {
		return err
	}
	if group.OwnerTGID != callerTGID {
		return ErrNotOwner
	}
	cleaned := dedupeChannels(append(group.Channels, channels...))
	if err := s.groups.SetChannels(ctx, tgChatID, cleaned); err != nil {
		return fmt.Errorf("привязка каналов: %w", err)
	}
	return nil
}

// DisconnectChannels отвязывает все каналы группы.
func (s *Service) DisconnectChannels(ctx context.Context, tgChatID, callerTGID int64) error {
	group, err := s.fetch(ctx, tgChatID)
	if err != nil {
		return err
	}
	if group.OwnerTGID != callerTGID {
		return ErrNotOwner
	}
	if err := s.groups.SetChannels(ctx, tgChatID, nil); err != nil {
		return fmt.Errorf("отвязка каналов: %w", err)
	}
	return nil
}

// SearchTargets возвращает каналы группы для веерного поиска.
func (s *Service) SearchTargets(ctx context.Context, tgChatID int64) ([]int64, error) {
	group, err := s.fetch(ctx, tgChatID)
	if err != nil {
		return nil, err
	}
	if len(group.Channels) == 0 {
		return nil, ErrNoChannels
	}
	return group.Channels, nil
}

// Stats возвращает счётчики пользователей и групп.
func (s *Service) Stats(ctx context.Context) (users, groups int, err error) {
	users, err = s.users.CountUsers(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("подсчёт пользователей: %w", err)
	}
	groups, err = s.groups.CountGroups(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("подсчёт групп: %w", err)
	}
	return users, groups, nil
}

func (s *Service) record(ctx context.Context, event string, userID, chatID *int64, meta map[string]any) {
	if s.analytics == nil {
		return
	}
	_ = s.analytics.RecordBusinessMetric(ctx, domain.BusinessMetric{
		Event:      event,
		UserID:     userID,
		ChatID:     chatID,
		Metadata:   meta,
		OccurredAt: time.Now().UTC(),
	})
}

func dedupeChannels(channels []int64) []int64 {
	seen := make(map[int64]struct{}, len(channels))
	cleaned := make([]int64, 0, len(channels))
	for _, id := range channels {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		cleaned = append(cleaned, id)
	}
	return cleaned
}
