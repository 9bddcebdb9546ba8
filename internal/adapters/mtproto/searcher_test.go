package mtproto

import "testing"

func TestBareChannelID(t *testing.T) {
	cases := []struct {
		in   int64
		want int64
	}{
		{-1001234567890, 1234567890},
		{-987654321, 987654321},
		{1234567890, 1234567890},
	}
	for _, tc := range cases {
		if got := bareChannelID(tc.in); got != tc.want {
			t.Fatalf("bareChannelID(%d) = %d, ожидали %d", tc.in, got, tc.want)
		}
	}
}

func TestPostLink(t *testing.T) {
	public := channelRef{id: 42, username: "example"}
	if link := postLink(public, 7); link != "https://t.me/example/7" {
		t.Fatalf("неожиданная публичная ссылка: %s", link)
	}
	private := channelRef{id: 42}
	if link := postLink(private, 7); link != "https://t.me/c/42/7" {
		t.Fatalf("неожиданная приватная ссылка: %s", link)
	}
}

func TestFirstLine(t *testing.T) {
	if got := firstLine("\n\n  Название фильма\nописание"); got != "Название фильма" {
		t.Fatalf("неожиданный заголовок: %q", got)
	}
	if got := firstLine("   \n \n"); got != "" {
		t.Fatalf("пустой текст должен давать пустой заголовок, получили %q", got)
	}
}
