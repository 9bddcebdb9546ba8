package telegram

import (
	"fmt"
	"strings"

	"tg-filter-bot/internal/domain"
)

// FormatResultPage строит текст одной страницы поисковой выдачи.
// Каждый результат занимает одну строку со ссылкой на исходный пост.
func FormatResultPage(query string, page domain.ResultPage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Результаты по запросу «%s» (%d):\n\n", query, page.Total)
	for i, hit := range page.Items {
		title := hit.Title
		if title == "" {
			title = "без названия"
		}
		if hit.Link != "" {
			fmt.Fprintf(&b, "%d. %s\n%s\n", i+1, title, hit.Link)
		} else {
			fmt.Fprintf(&b, "%d. %s\n", i+1, title)
		}
	}
	fmt.Fprintf(&b, "\nСтраница %d из %d", page.Page, page.TotalPages)
	return b.String()
}
