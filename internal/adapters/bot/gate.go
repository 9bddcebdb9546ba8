package bot

import (
	"context"
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"tg-filter-bot/internal/domain"
	"tg-filter-bot/internal/infra/metrics"
)

const membershipCacheTTL = 5 * time.Minute

// MembershipGate проверяет подписку пользователя на обязательный канал
// через Bot API. Положительный ответ кэшируется, чтобы не дёргать
// getChatMember на каждое сообщение.
type MembershipGate struct {
	bot   *tgbotapi.BotAPI
	cache domain.Cache
	log   zerolog.Logger
}

var _ domain.GateCheck = (*MembershipGate)(nil)

// NewMembershipGate создаёт гейт. Кэш опционален.
func NewMembershipGate(bot *tgbotapi.BotAPI, cache domain.Cache, log zerolog.Logger) *MembershipGate {
	return &MembershipGate{bot: bot, cache: cache, log: log}
}

// Allowed возвращает true, если пользователь состоит в канале. Ошибка API
// не считается отказом и отдаётся вызывающему.
func (g *MembershipGate) Allowed(ctx context.Context, userID, channelID int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	cacheKey := fmt.Sprintf("fsub:%d:%d", channelID, userID)
	if g.cache != nil {
		if value, err := g.cache.Get(cacheKey); err == nil && string(value) == "1" {
			return true, nil
		}
	}

	start := time.Now()
	member, err := g.bot.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{
			ChatID: channelID,
			UserID: userID,
		},
	})
	metrics.ObserveNetworkRequest("telegram_bot", "get_chat_member", strconv.FormatInt(channelID, 10), start, err)
	if err != nil {
		return false, fmt.Errorf("проверка подписки: %w", err)
	}

	allowed := isSubscribed(member.Status)
	if allowed && g.cache != nil {
		if err := g.cache.Set(cacheKey, []byte("1"), membershipCacheTTL); err != nil {
			g.log.Warn().Err(err).Str("key", cacheKey).Msg("gate: не удалось закэшировать подписку")
		}
	}
	return allowed, nil
}

func isSubscribed(status string) bool {
	switch status {
	case "creator", "administrator", "member", "restricted":
		return true
	default:
		return false
	}
}
