package domain

import "time"

// User описывает пользователя Telegram, написавшего боту в личные сообщения.
type User struct {
	ID        int64
	TGUserID  int64
	FirstName string
	Username  string
	Alive     bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Group описывает группу, в которую добавлен бот.
type Group struct {
	ID         int64
	TGChatID   int64
	Title      string
	OwnerTGID  int64
	OwnerName  string
	Channels   []int64
	ForceSubID int64
	Verified   bool
	Alive      bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// RecipientKind различает адресатов рассылки.
type RecipientKind string

const (
	RecipientUser  RecipientKind = "user"
	RecipientGroup RecipientKind = "group"
)

// Recipient — один адресат рассылки из снапшота ростера.
type Recipient struct {
	TGChatID int64
	Kind     RecipientKind
}

// ContentRef указывает на исходное сообщение, которое копируется адресатам.
type ContentRef struct {
	FromChatID int64
	MessageID  int
}

// RawHit — одно совпадение из одного канала-источника.
type RawHit struct {
	Title     string
	Link      string
	ChannelID int64
}

// ResultPage — страница закэшированной выдачи поиска.
type ResultPage struct {
	Items      []RawHit
	Page       int
	TotalPages int
	Total      int
}

// PendingRequest хранит последний запрос пользователя, отложенный до прохождения гейта.
// На пользователя живёт не больше одной записи, срок жизни ограничивает хранилище.
type PendingRequest struct {
	UserID    int64
	ChatID    int64
	Query     string
	CreatedAt time.Time
}

// DispatchProgress — промежуточный срез состояния рассылки.
type DispatchProgress struct {
	Sent      int
	Failed    int
	Remaining int
	Total     int
}

// DispatchSummary — итог рассылки.
type DispatchSummary struct {
	Sent   int
	Failed int
	Total  int
}
