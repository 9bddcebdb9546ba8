package bot

import (
	"testing"

	"tg-filter-bot/internal/domain"
)

func TestParseChannelIDs(t *testing.T) {
	ids := parseChannelIDs(" -1001234567890  abc 0 42 ")
	want := []int64{-1001234567890, 42}
	if len(ids) != len(want) {
		t.Fatalf("ожидали %v, получили %v", want, ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ожидали %v, получили %v", want, ids)
		}
	}
}

func TestParseCallbackChatID(t *testing.T) {
	if id := parseCallbackChatID("verify_approve:-100500"); id != -100500 {
		t.Fatalf("ожидали -100500, получили %d", id)
	}
	if id := parseCallbackChatID("verify_approve"); id != 0 {
		t.Fatalf("данные без идентификатора должны давать 0, получили %d", id)
	}
}

func TestNavKeyboardMiddlePage(t *testing.T) {
	markup := navKeyboard(domain.ResultPage{Page: 2, TotalPages: 5})
	if markup == nil {
		t.Fatal("ожидали клавиатуру")
	}
	if len(markup.InlineKeyboard) != 2 {
		t.Fatalf("ожидали два ряда кнопок, получили %d", len(markup.InlineKeyboard))
	}
	if len(markup.InlineKeyboard[0]) != 3 {
		t.Fatalf("на средней странице должно быть три кнопки, получили %d", len(markup.InlineKeyboard[0]))
	}
}

func TestNavKeyboardSinglePage(t *testing.T) {
	markup := navKeyboard(domain.ResultPage{Page: 1, TotalPages: 1})
	if markup == nil {
		t.Fatal("ожидали клавиатуру")
	}
	if len(markup.InlineKeyboard) != 1 {
		t.Fatalf("одностраничная выдача оставляет только закрытие, получили %d рядов", len(markup.InlineKeyboard))
	}
}

func TestIsSubscribed(t *testing.T) {
	for _, status := range []string{"creator", "administrator", "member", "restricted"} {
		if !isSubscribed(status) {
			t.Fatalf("статус %q должен считаться подпиской", status)
		}
	}
	for _, status := range []string{"left", "kicked", ""} {
		if isSubscribed(status) {
			t.Fatalf("статус %q не должен считаться подпиской", status)
		}
	}
}
