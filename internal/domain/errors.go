package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound возвращается хранилищами, когда записи нет.
var ErrNotFound = errors.New("запись не найдена")

// ErrRecipientGone означает, что адресат недоступен навсегда:
// пользователь заблокировал бота, аккаунт удалён, бот выгнан из группы.
var ErrRecipientGone = errors.New("адресат недоступен")

// ErrNoCredential означает, что нет действующей MTProto-сессии для поиска.
// Повторять запрос бессмысленно до повторной авторизации.
var ErrNoCredential = errors.New("нет активной сессии для поиска")

// RateLimitedError — ограничение скорости со стороны Telegram.
// Доставку можно повторить после RetryAfter.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("превышен лимит запросов, повтор через %s", e.RetryAfter)
}

// AsRateLimited возвращает интервал ожидания, если ошибка — флуд-лимит.
func AsRateLimited(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}
