package telegram

import (
	"errors"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tg-filter-bot/internal/domain"
)

func TestClassifyDeliveryErrorRateLimit(t *testing.T) {
	apiErr := &tgbotapi.Error{
		Code:    429,
		Message: "Too Many Requests: retry after 5",
		ResponseParameters: tgbotapi.ResponseParameters{
			RetryAfter: 5,
		},
	}

	err := classifyDeliveryError(apiErr)
	retryAfter, ok := domain.AsRateLimited(err)
	if !ok {
		t.Fatalf("ожидали RateLimitedError, получили %v", err)
	}
	if retryAfter != 5*time.Second {
		t.Fatalf("неожиданный интервал ожидания: %s", retryAfter)
	}
}

func TestClassifyDeliveryErrorRecipientGone(t *testing.T) {
	cases := []*tgbotapi.Error{
		{Code: 403, Message: "Forbidden: bot was blocked by the user"},
		{Code: 400, Message: "Bad Request: chat not found"},
		{Code: 403, Message: "Forbidden: user is deactivated"},
	}
	for _, apiErr := range cases {
		if err := classifyDeliveryError(apiErr); !errors.Is(err, domain.ErrRecipientGone) {
			t.Fatalf("ошибка %q должна давать ErrRecipientGone, получили %v", apiErr.Message, err)
		}
	}
}

func TestClassifyDeliveryErrorTransient(t *testing.T) {
	apiErr := &tgbotapi.Error{Code: 500, Message: "Internal Server Error"}
	err := classifyDeliveryError(apiErr)
	if errors.Is(err, domain.ErrRecipientGone) {
		t.Fatalf("временная ошибка не должна помечать адресата мёртвым")
	}
	if _, ok := domain.AsRateLimited(err); ok {
		t.Fatalf("временная ошибка не должна считаться флуд-лимитом")
	}
}
