package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tg-filter-bot/internal/adapters/telegram"
	"tg-filter-bot/internal/domain"
	"tg-filter-bot/internal/infra/metrics"
	"tg-filter-bot/internal/usecase/groups"
	"tg-filter-bot/internal/usecase/search"
)

// Config задаёт параметры обработчика.
type Config struct {
	// Admins — администраторы бота, им доступны /broadcast и /stats.
	Admins []int64
	// LogChannel — канал, куда уходят заявки на верификацию групп.
	LogChannel int64
	// PageSize — размер страницы поисковой выдачи.
	PageSize int
	// PerChannelLimit — максимум результатов с одного канала.
	PerChannelLimit int
	// DeleteAfter — через сколько удалять сообщения с выдачей. 0 отключает.
	DeleteAfter time.Duration
}

type timerKey struct {
	chatID    int64
	messageID int
}

// Handler обслуживает вебхук бота: команды, поиск, листание выдачи,
// гейт подписки и постановка рассылок в очередь.
type Handler struct {
	bot       *tgbotapi.BotAPI
	log       zerolog.Logger
	groupsUC  *groups.Service
	searchUC  *search.Service
	results   *search.ResultCache
	gate      domain.GateCheck
	pending   domain.PendingRequestStore
	jobs      domain.BroadcastQueue
	analytics domain.BusinessMetricRepo

	admins      map[int64]struct{}
	logChannel  int64
	pageSize    int
	perChannel  int
	deleteAfter time.Duration

	mu           sync.Mutex
	lastQuery    map[int64]string
	deleteTimers map[timerKey]*time.Timer
}

// NewHandler создаёт обработчик.
func NewHandler(
	bot *tgbotapi.BotAPI,
	log zerolog.Logger,
	groupsUC *groups.Service,
	searchUC *search.Service,
	results *search.ResultCache,
	gate domain.GateCheck,
	pending domain.PendingRequestStore,
	jobs domain.BroadcastQueue,
	analytics domain.BusinessMetricRepo,
	cfg Config,
) *Handler {
	admins := make(map[int64]struct{}, len(cfg.Admins))
	for _, id := range cfg.Admins {
		admins[id] = struct{}{}
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 10
	}
	if cfg.PerChannelLimit <= 0 {
		cfg.PerChannelLimit = 50
	}
	return &Handler{
		bot:          bot,
		log:          log,
		groupsUC:     groupsUC,
		searchUC:     searchUC,
		results:      results,
		gate:         gate,
		pending:      pending,
		jobs:         jobs,
		analytics:    analytics,
		admins:       admins,
		logChannel:   cfg.LogChannel,
		pageSize:     cfg.PageSize,
		perChannel:   cfg.PerChannelLimit,
		deleteAfter:  cfg.DeleteAfter,
		lastQuery:    make(map[int64]string),
		deleteTimers: make(map[timerKey]*time.Timer),
	}
}

// HandleUpdate обрабатывает входящий апдейт.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message != nil {
		h.handleMessage(ctx, upd.Message)
	} else if upd.CallbackQuery != nil {
		h.handleCallback(ctx, upd.CallbackQuery)
	}
}

func (h *Handler) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if len(msg.NewChatMembers) > 0 {
		h.handleNewMembers(ctx, msg)
		return
	}
	if msg.From == nil {
		return
	}

	text := strings.TrimSpace(msg.Text)
	switch {
	case strings.HasPrefix(text, "/start"):
		h.handleStart(ctx, msg)
	case strings.HasPrefix(text, "/help"):
		h.reply(msg.Chat.ID, h.buildHelpMessage(), nil)
	case strings.HasPrefix(text, "/about"):
		h.reply(msg.Chat.ID, h.buildAboutMessage(), nil)
	case strings.HasPrefix(text, "/id"):
		h.handleID(msg)
	case strings.HasPrefix(text, "/stats"):
		h.handleStats(ctx, msg)
	case strings.HasPrefix(text, "/broadcast"):
		h.handleBroadcast(ctx, msg)
	case strings.HasPrefix(text, "/verify"):
		h.handleVerify(ctx, msg)
	case strings.HasPrefix(text, "/fsub"):
		payload := strings.TrimSpace(strings.TrimPrefix(text, "/fsub"))
		h.handleForceSub(ctx, msg, payload)
	case strings.HasPrefix(text, "/nofsub"):
		h.handleRemoveForceSub(ctx, msg)
	case strings.HasPrefix(text, "/connect"):
		payload := strings.TrimSpace(strings.TrimPrefix(text, "/connect"))
		h.handleConnect(ctx, msg, payload)
	case strings.HasPrefix(text, "/disconnect"):
		h.handleDisconnect(ctx, msg)
	case strings.HasPrefix(text, "/search"):
		query := strings.TrimSpace(strings.TrimPrefix(text, "/search"))
		h.startSearch(ctx, msg.Chat, msg.From.ID, query)
	case strings.HasPrefix(text, "/"):
		h.reply(msg.Chat.ID, "Неизвестная команда. Используйте /help", nil)
	default:
		// Обычный текст в группе трактуется как поисковый запрос.
		if isGroupChat(msg.Chat) {
			h.startSearch(ctx, msg.Chat, msg.From.ID, text)
		}
	}
}

func (h *Handler) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	if !msg.Chat.IsPrivate() {
		return
	}
	_, err := h.groupsUC.RegisterUser(ctx, msg.From.ID, msg.From.FirstName, msg.From.UserName)
	if err != nil {
		h.log.Error().Err(err).Int64("user", msg.From.ID).Msg("не удалось сохранить пользователя")
		h.reply(msg.Chat.ID, "Не удалось сохранить профиль, попробуйте позже", nil)
		return
	}
	h.reply(msg.Chat.ID, h.buildStartMessage(msg.From.FirstName), nil)
}

func (h *Handler) handleID(msg *tgbotapi.Message) {
	var b strings.Builder
	fmt.Fprintf(&b, "ID чата: %d\n", msg.Chat.ID)
	if msg.From != nil {
		fmt.Fprintf(&b, "Ваш ID: %d\n", msg.From.ID)
	}
	if msg.ReplyToMessage != nil && msg.ReplyToMessage.ForwardFromChat != nil {
		fmt.Fprintf(&b, "ID канала пересланного сообщения: %d\n", msg.ReplyToMessage.ForwardFromChat.ID)
	}
	h.reply(msg.Chat.ID, strings.TrimSpace(b.String()), nil)
}

func (h *Handler) handleStats(ctx context.Context, msg *tgbotapi.Message) {
	if !h.isAdmin(msg.From.ID) {
		h.reply(msg.Chat.ID, "Команда доступна только администраторам бота", nil)
		return
	}
	users, groupsCount, err := h.groupsUC.Stats(ctx)
	if err != nil {
		h.reply(msg.Chat.ID, fmt.Sprintf("Не удалось получить статистику: %v", err), nil)
		return
	}
	h.reply(msg.Chat.ID, fmt.Sprintf("Пользователей: %d\nГрупп: %d", users, groupsCount), nil)
}

// handleBroadcast ставит рассылку в очередь. Контент берётся из сообщения,
// на которое администратор ответил командой.
func (h *Handler) handleBroadcast(ctx context.Context, msg *tgbotapi.Message) {
	if !h.isAdmin(msg.From.ID) {
		h.reply(msg.Chat.ID, "Команда доступна только администраторам бота", nil)
		return
	}
	if msg.ReplyToMessage == nil {
		h.reply(msg.Chat.ID, "Ответьте командой /broadcast на сообщение, которое нужно разослать", nil)
		return
	}

	status, ok := h.send(tgbotapi.NewMessage(msg.Chat.ID, "Рассылка поставлена в очередь..."))
	if !ok {
		return
	}

	job := domain.BroadcastJob{
		ID: uuid.NewString(),
		Content: domain.ContentRef{
			FromChatID: msg.ReplyToMessage.Chat.ID,
			MessageID:  msg.ReplyToMessage.MessageID,
		},
		RequestedBy:     msg.From.ID,
		StatusChatID:    msg.Chat.ID,
		StatusMessageID: status.MessageID,
		RequestedAt:     time.Now().UTC(),
	}
	if err := h.jobs.Enqueue(ctx, job); err != nil {
		h.log.Error().Err(err).Str("job", job.ID).Msg("не удалось поставить рассылку в очередь")
		h.reply(msg.Chat.ID, "Не удалось поставить рассылку в очередь, попробуйте позже", nil)
		return
	}
	h.log.Info().Str("job", job.ID).Int64("admin", msg.From.ID).Msg("рассылка поставлена в очередь")
}

// handleVerify отправляет заявку группы в лог-канал на ручное одобрение.
func (h *Handler) handleVerify(ctx context.Context, msg *tgbotapi.Message) {
	if !isGroupChat(msg.Chat) {
		h.reply(msg.Chat.ID, "Команда работает только в группах", nil)
		return
	}
	group, err := h.groupsUC.Get(ctx, msg.Chat.ID)
	if errors.Is(err, groups.ErrGroupNotFound) {
		group, err = h.registerGroup(ctx, msg.Chat, msg.From)
	}
	if err != nil {
		h.reply(msg.Chat.ID, fmt.Sprintf("Не удалось обработать заявку: %v", err), nil)
		return
	}
	if group.Verified {
		h.reply(msg.Chat.ID, "Группа уже верифицирована", nil)
		return
	}
	if h.logChannel == 0 {
		h.reply(msg.Chat.ID, "Верификация временно недоступна", nil)
		return
	}

	text := fmt.Sprintf(
		"Заявка на верификацию\nГруппа: %s\nID: %d\nВладелец: %s (%d)",
		group.Title, group.TGChatID, group.OwnerName, group.OwnerTGID,
	)
	markup := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("✅ Одобрить", fmt.Sprintf("verify_approve:%d", group.TGChatID)),
		tgbotapi.NewInlineKeyboardButtonData("❌ Отклонить", fmt.Sprintf("verify_reject:%d", group.TGChatID)),
	))
	request := tgbotapi.NewMessage(h.logChannel, text)
	request.ReplyMarkup = markup
	if _, ok := h.send(request); !ok {
		h.reply(msg.Chat.ID, "Не удалось отправить заявку, попробуйте позже", nil)
		return
	}
	h.reply(msg.Chat.ID, "Заявка на верификацию отправлена, ожидайте решения", nil)
}

func (h *Handler) handleForceSub(ctx context.Context, msg *tgbotapi.Message, payload string) {
	if !isGroupChat(msg.Chat) {
		h.reply(msg.Chat.ID, "Команда работает только в группах", nil)
		return
	}
	channelID, err := strconv.ParseInt(payload, 10, 64)
	if err != nil || channelID == 0 {
		h.reply(msg.Chat.ID, "Укажите ID канала: /fsub -100123456789", nil)
		return
	}
	if err := h.groupsUC.SetForceSub(ctx, msg.Chat.ID, msg.From.ID, channelID); err != nil {
		h.replyGroupError(msg.Chat.ID, err)
		return
	}
	h.reply(msg.Chat.ID, fmt.Sprintf("Обязательная подписка включена: канал %d", channelID), nil)
}

func (h *Handler) handleRemoveForceSub(ctx context.Context, msg *tgbotapi.Message) {
	if !isGroupChat(msg.Chat) {
		h.reply(msg.Chat.ID, "Команда работает только в группах", nil)
		return
	}
	if err := h.groupsUC.RemoveForceSub(ctx, msg.Chat.ID, msg.From.ID); err != nil {
		h.replyGroupError(msg.Chat.ID, err)
		return
	}
	h.reply(msg.Chat.ID, "Обязательная подписка отключена", nil)
}

func (h *Handler) handleConnect(ctx context.Context, msg *tgbotapi.Message, payload string) {
	if !isGroupChat(msg.Chat) {
		h.reply(msg.Chat.ID, "Команда работает только в группах", nil)
		return
	}
	channels := parseChannelIDs(payload)
	if len(channels) == 0 {
		h.reply(msg.Chat.ID, "Укажите ID каналов: /connect -100123456789 -100987654321", nil)
		return
	}
	if err := h.groupsUC.ConnectChannels(ctx, msg.Chat.ID, msg.From.ID, channels); err != nil {
		h.replyGroupError(msg.Chat.ID, err)
		return
	}
	h.reply(msg.Chat.ID, fmt.Sprintf("Подключено каналов: %d", len(channels)), nil)
}

func (h *Handler) handleDisconnect(ctx context.Context, msg *tgbotapi.Message) {
	if !isGroupChat(msg.Chat) {
		h.reply(msg.Chat.ID, "Команда работает только в группах", nil)
		return
	}
	if err := h.groupsUC.DisconnectChannels(ctx, msg.Chat.ID, msg.From.ID); err != nil {
		h.replyGroupError(msg.Chat.ID, err)
		return
	}
	h.reply(msg.Chat.ID, "Все каналы отключены от поиска", nil)
}

// handleNewMembers регистрирует группу, когда бота в неё добавляют.
func (h *Handler) handleNewMembers(ctx context.Context, msg *tgbotapi.Message) {
	self := h.bot.Self.ID
	for _, member := range msg.NewChatMembers {
		if member.ID != self {
			continue
		}
		if _, err := h.registerGroup(ctx, msg.Chat, msg.From); err != nil {
			h.log.Error().Err(err).Int64("chat", msg.Chat.ID).Msg("не удалось зарегистрировать группу")
			return
		}
		h.reply(msg.Chat.ID, "Бот подключён. Отправьте /verify, чтобы запросить верификацию группы.", nil)
		return
	}
}

func (h *Handler) registerGroup(ctx context.Context, chat *tgbotapi.Chat, from *tgbotapi.User) (domain.Group, error) {
	group := domain.Group{
		TGChatID: chat.ID,
		Title:    chat.Title,
	}
	if from != nil {
		group.OwnerTGID = from.ID
		group.OwnerName = from.FirstName
	}
	return h.groupsUC.RegisterGroup(ctx, group)
}

// startSearch проводит запрос через гейт подписки и запускает веерный поиск.
func (h *Handler) startSearch(ctx context.Context, chat *tgbotapi.Chat, userID int64, rawQuery string) {
	if !isGroupChat(chat) {
		h.reply(chat.ID, "Поиск работает в группах: добавьте бота в группу и подключите каналы", nil)
		return
	}
	query := search.NormalizeQuery(rawQuery)
	if query == "" {
		return
	}

	group, err := h.groupsUC.Get(ctx, chat.ID)
	if errors.Is(err, groups.ErrGroupNotFound) {
		h.reply(chat.ID, "Группа не зарегистрирована. Добавьте бота заново или отправьте /verify", nil)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Int64("chat", chat.ID).Msg("не удалось получить группу")
		return
	}
	if !group.Verified {
		h.reply(chat.ID, "Группа ещё не верифицирована. Отправьте /verify", nil)
		return
	}

	if group.ForceSubID != 0 {
		allowed, err := h.gate.Allowed(ctx, userID, group.ForceSubID)
		if err != nil {
			h.log.Warn().Err(err).Int64("user", userID).Int64("channel", group.ForceSubID).Msg("gate: проверка подписки не удалась")
		}
		if err == nil && !allowed {
			h.holdSearch(ctx, chat.ID, userID, query)
			return
		}
	}

	h.runSearch(ctx, chat.ID, userID, query)
}

// holdSearch откладывает запрос до подтверждения подписки.
func (h *Handler) holdSearch(ctx context.Context, chatID, userID int64, query string) {
	req := domain.PendingRequest{
		UserID:    userID,
		ChatID:    chatID,
		Query:     query,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.pending.Save(ctx, req); err != nil {
		h.log.Error().Err(err).Int64("user", userID).Msg("не удалось сохранить отложенный запрос")
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("✅ Я подписался", "checksub"),
	))
	h.reply(chatID, "Для поиска подпишитесь на обязательный канал группы, затем нажмите кнопку ниже.", &markup)
}

func (h *Handler) runSearch(ctx context.Context, chatID, userID int64, query string) {
	targets, err := h.groupsUC.SearchTargets(ctx, chatID)
	if errors.Is(err, groups.ErrNoChannels) {
		h.reply(chatID, "К группе не подключены каналы. Владелец может сделать это командой /connect", nil)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Int64("chat", chatID).Msg("не удалось получить каналы группы")
		return
	}

	metrics.SearchRequestsTotal.Inc()
	hits, err := h.searchUC.Search(ctx, targets, query, h.perChannel)
	if err != nil {
		if errors.Is(err, domain.ErrNoCredential) {
			h.reply(chatID, "Поиск временно недоступен: нет активной сессии", nil)
			return
		}
		h.log.Error().Err(err).Str("query", query).Msg("поиск не удался")
		h.reply(chatID, "Поиск не удался, попробуйте позже", nil)
		return
	}
	h.recordSearch(ctx, userID, chatID, query, len(hits))

	if len(hits) == 0 {
		if sent, ok := h.send(tgbotapi.NewMessage(chatID, fmt.Sprintf("По запросу «%s» ничего не найдено", query))); ok {
			h.scheduleDelete(chatID, sent.MessageID)
		}
		return
	}

	key := search.ResultKey{UserID: userID, Query: query}
	page := h.results.Store(key, hits, h.pageSize)
	h.rememberQuery(userID, query)

	msg := tgbotapi.NewMessage(chatID, telegram.FormatResultPage(query, page))
	msg.DisableWebPagePreview = true
	markup := navKeyboard(page)
	if markup != nil {
		msg.ReplyMarkup = markup
	}
	if sent, ok := h.send(msg); ok {
		h.scheduleDelete(chatID, sent.MessageID)
	}
}

func (h *Handler) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	data := cb.Data
	notice := ""
	switch {
	case data == "nav:next":
		notice = h.moveResults(cb, search.Next)
	case data == "nav:prev":
		notice = h.moveResults(cb, search.Prev)
	case data == "nav:close":
		h.closeResults(cb)
	case data == "nav:none":
		// Кнопка с номером страницы, действий нет.
	case data == "checksub":
		notice = h.resumePending(ctx, cb)
	case strings.HasPrefix(data, "verify_approve:"):
		notice = h.resolveVerification(ctx, cb, true)
	case strings.HasPrefix(data, "verify_reject:"):
		notice = h.resolveVerification(ctx, cb, false)
	}

	start := time.Now()
	_, err := h.bot.Request(tgbotapi.NewCallback(cb.ID, notice))
	metrics.ObserveNetworkRequest("telegram_bot", "answer_callback", strconv.FormatInt(cb.From.ID, 10), start, err)
	if err != nil {
		h.log.Error().Err(err).Msg("не удалось ответить на callback")
	}
}

// moveResults листает выдачу. Возвращает текст для всплывающего уведомления.
func (h *Handler) moveResults(cb *tgbotapi.CallbackQuery, dir search.Direction) string {
	if cb.Message == nil {
		return ""
	}
	query, ok := h.recallQuery(cb.From.ID)
	if !ok {
		return "Выдача устарела, повторите поиск"
	}
	key := search.ResultKey{UserID: cb.From.ID, Query: query}
	page, ok := h.results.Move(key, dir)
	if !ok {
		return "Выдача устарела, повторите поиск"
	}

	text := telegram.FormatResultPage(query, page)
	var edit tgbotapi.Chattable
	if markup := navKeyboard(page); markup != nil {
		cfg := tgbotapi.NewEditMessageTextAndMarkup(cb.Message.Chat.ID, cb.Message.MessageID, text, *markup)
		cfg.DisableWebPagePreview = true
		edit = cfg
	} else {
		cfg := tgbotapi.NewEditMessageText(cb.Message.Chat.ID, cb.Message.MessageID, text)
		cfg.DisableWebPagePreview = true
		edit = cfg
	}

	start := time.Now()
	_, err := h.bot.Request(edit)
	metrics.ObserveNetworkRequest("telegram_bot", "edit_results", strconv.FormatInt(cb.Message.Chat.ID, 10), start, err)
	if err != nil {
		h.log.Warn().Err(err).Msg("не удалось обновить страницу выдачи")
	}
	// Пока пользователь листает, выдача живёт дольше.
	h.scheduleDelete(cb.Message.Chat.ID, cb.Message.MessageID)
	return ""
}

func (h *Handler) closeResults(cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil {
		return
	}
	if query, ok := h.recallQuery(cb.From.ID); ok {
		h.results.Delete(search.ResultKey{UserID: cb.From.ID, Query: query})
	}
	h.cancelDelete(cb.Message.Chat.ID, cb.Message.MessageID)
	h.deleteMessage(cb.Message.Chat.ID, cb.Message.MessageID)
}

// resumePending повторяет отложенный запрос после подтверждения подписки.
func (h *Handler) resumePending(ctx context.Context, cb *tgbotapi.CallbackQuery) string {
	req, ok, err := h.pending.Get(ctx, cb.From.ID)
	if err != nil {
		h.log.Error().Err(err).Int64("user", cb.From.ID).Msg("не удалось прочитать отложенный запрос")
		return "Попробуйте позже"
	}
	if !ok {
		return "Запрос не найден, отправьте его заново"
	}

	group, err := h.groupsUC.Get(ctx, req.ChatID)
	if err != nil {
		return "Группа недоступна, отправьте запрос заново"
	}
	if group.ForceSubID != 0 {
		allowed, err := h.gate.Allowed(ctx, cb.From.ID, group.ForceSubID)
		if err != nil {
			h.log.Warn().Err(err).Int64("user", cb.From.ID).Msg("gate: повторная проверка не удалась")
			return "Попробуйте позже"
		}
		if !allowed {
			return "Подписка не найдена"
		}
	}

	if err := h.pending.Delete(ctx, cb.From.ID); err != nil {
		h.log.Warn().Err(err).Int64("user", cb.From.ID).Msg("не удалось удалить отложенный запрос")
	}
	if cb.Message != nil {
		h.deleteMessage(cb.Message.Chat.ID, cb.Message.MessageID)
	}
	h.runSearch(ctx, req.ChatID, req.UserID, req.Query)
	return ""
}

// resolveVerification обрабатывает решение администратора из лог-канала.
func (h *Handler) resolveVerification(ctx context.Context, cb *tgbotapi.CallbackQuery, approve bool) string {
	if !h.isAdmin(cb.From.ID) {
		return "Недостаточно прав"
	}
	chatID := parseCallbackChatID(cb.Data)
	if chatID == 0 {
		return "Некорректная заявка"
	}

	var (
		group domain.Group
		err   error
	)
	if approve {
		group, err = h.groupsUC.Approve(ctx, chatID)
	} else {
		group, err = h.groupsUC.Reject(ctx, chatID)
	}
	if err != nil {
		h.log.Error().Err(err).Int64("chat", chatID).Msg("не удалось обработать верификацию")
		return "Не удалось обработать заявку"
	}

	verdict := "отклонена"
	groupNotice := "Верификация отклонена."
	if approve {
		verdict = "одобрена"
		groupNotice = "Группа верифицирована, поиск доступен."
	}
	if cb.Message != nil {
		edit := tgbotapi.NewEditMessageText(cb.Message.Chat.ID, cb.Message.MessageID,
			fmt.Sprintf("Группа %s (%d): заявка %s", group.Title, group.TGChatID, verdict))
		if _, err := h.bot.Request(edit); err != nil {
			h.log.Warn().Err(err).Msg("не удалось обновить заявку в лог-канале")
		}
	}
	h.reply(chatID, groupNotice, nil)
	return "Заявка " + verdict
}

func (h *Handler) recordSearch(ctx context.Context, userID, chatID int64, query string, hits int) {
	if h.analytics == nil {
		return
	}
	_ = h.analytics.RecordBusinessMetric(ctx, domain.BusinessMetric{
		Event:      domain.BusinessMetricEventSearchPerformed,
		UserID:     &userID,
		ChatID:     &chatID,
		Metadata:   map[string]any{"query": query, "hits": hits},
		OccurredAt: time.Now().UTC(),
	})
}

func (h *Handler) rememberQuery(userID int64, query string) {
	h.mu.Lock()
	h.lastQuery[userID] = query
	h.mu.Unlock()
}

func (h *Handler) recallQuery(userID int64) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	query, ok := h.lastQuery[userID]
	return query, ok
}

// scheduleDelete взводит таймер удаления сообщения. Повторный вызов для того
// же сообщения продлевает срок.
func (h *Handler) scheduleDelete(chatID int64, messageID int) {
	if h.deleteAfter <= 0 {
		return
	}
	key := timerKey{chatID: chatID, messageID: messageID}
	h.mu.Lock()
	if old, ok := h.deleteTimers[key]; ok {
		old.Stop()
	}
	h.deleteTimers[key] = time.AfterFunc(h.deleteAfter, func() {
		h.mu.Lock()
		delete(h.deleteTimers, key)
		h.mu.Unlock()
		h.deleteMessage(chatID, messageID)
	})
	h.mu.Unlock()
}

func (h *Handler) cancelDelete(chatID int64, messageID int) {
	key := timerKey{chatID: chatID, messageID: messageID}
	h.mu.Lock()
	if timer, ok := h.deleteTimers[key]; ok {
		timer.Stop()
		delete(h.deleteTimers, key)
	}
	h.mu.Unlock()
}

func (h *Handler) deleteMessage(chatID int64, messageID int) {
	start := time.Now()
	_, err := h.bot.Request(tgbotapi.NewDeleteMessage(chatID, messageID))
	metrics.ObserveNetworkRequest("telegram_bot", "delete_message", strconv.FormatInt(chatID, 10), start, err)
	if err != nil {
		h.log.Warn().Err(err).Int64("chat", chatID).Int("message", messageID).Msg("не удалось удалить сообщение")
	}
}

func (h *Handler) isAdmin(userID int64) bool {
	_, ok := h.admins[userID]
	return ok
}

func (h *Handler) replyGroupError(chatID int64, err error) {
	switch {
	case errors.Is(err, groups.ErrGroupNotFound):
		h.reply(chatID, "Группа не зарегистрирована. Добавьте бота заново", nil)
	case errors.Is(err, groups.ErrNotOwner):
		h.reply(chatID, "Команда доступна только владельцу группы", nil)
	case errors.Is(err, groups.ErrNotVerified):
		h.reply(chatID, "Сначала пройдите верификацию: /verify", nil)
	default:
		h.reply(chatID, fmt.Sprintf("Не удалось выполнить команду: %v", err), nil)
	}
}

func (h *Handler) reply(chatID int64, text string, keyboard *tgbotapi.InlineKeyboardMarkup) {
	parts := telegram.SplitMessage(text)
	for i, part := range parts {
		msg := tgbotapi.NewMessage(chatID, part)
		if i == 0 && keyboard != nil {
			msg.ReplyMarkup = keyboard
		}
		if _, ok := h.send(msg); !ok {
			return
		}
	}
}

func (h *Handler) send(msg tgbotapi.MessageConfig) (tgbotapi.Message, bool) {
	start := time.Now()
	sent, err := h.bot.Send(msg)
	metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(msg.ChatID, 10), start, err)
	if err != nil {
		h.log.Error().Err(err).Int64("chat", msg.ChatID).Msg("не удалось отправить сообщение")
		return tgbotapi.Message{}, false
	}
	return sent, true
}

// navKeyboard строит кнопки листания. Для одностраничной выдачи остаётся
// только кнопка закрытия.
func navKeyboard(page domain.ResultPage) *tgbotapi.InlineKeyboardMarkup {
	var row []tgbotapi.InlineKeyboardButton
	if page.Page > 1 {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("⬅️", "nav:prev"))
	}
	if page.TotalPages > 1 {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(
			fmt.Sprintf("%d/%d", page.Page, page.TotalPages), "nav:none"))
	}
	if page.Page < page.TotalPages {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("➡️", "nav:next"))
	}

	rows := make([][]tgbotapi.InlineKeyboardButton, 0, 2)
	if len(row) > 0 {
		rows = append(rows, row)
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("🗑 Закрыть", "nav:close"),
	))
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &markup
}

func isGroupChat(chat *tgbotapi.Chat) bool {
	return chat != nil && (chat.IsGroup() || chat.IsSuperGroup())
}

func parseChannelIDs(payload string) []int64 {
	fields := strings.Fields(payload)
	ids := make([]int64, 0, len(fields))
	for _, field := range fields {
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil || id == 0 {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func parseCallbackChatID(data string) int64 {
	parts := strings.Split(data, ":")
	if len(parts) != 2 {
		return 0
	}
	id, _ := strconv.ParseInt(parts[1], 10, 64)
	return id
}

func (h *Handler) buildStartMessage(firstName string) string {
	name := strings.TrimSpace(firstName)
	if name == "" {
		name = "друг"
	}
	lines := []string{
		fmt.Sprintf("👋 Привет, %s!", name),
		"",
		"Я ищу посты по подключённым каналам прямо из вашей группы.",
		"",
		"Как начать:",
		"1. Добавьте меня в группу.",
		"2. Отправьте /verify и дождитесь одобрения.",
		"3. Владелец подключает каналы: /connect -100123456789.",
		"4. Пишите запрос прямо в группу — я пришлю совпадения.",
		"",
		"Полный список команд — /help.",
	}
	return strings.Join(lines, "\n")
}

func (h *Handler) buildHelpMessage() string {
	sections := []string{
		"📖 Команды:",
		"",
		"В группе:",
		"• любой текст — поиск по подключённым каналам.",
		"• /search запрос — то же самое явной командой.",
		"• /verify — запросить верификацию группы.",
		"• /connect -100… — подключить каналы (владелец).",
		"• /disconnect — отключить все каналы (владелец).",
		"• /fsub -100… — включить обязательную подписку (владелец).",
		"• /nofsub — выключить обязательную подписку (владелец).",
		"• /id — показать идентификаторы чата.",
		"",
		"Для администраторов бота:",
		"• /broadcast — ответом на сообщение, разослать его всем.",
		"• /stats — счётчики пользователей и групп.",
	}
	return strings.Join(sections, "\n")
}

func (h *Handler) buildAboutMessage() string {
	lines := []string{
		"🤖 Поисковый бот для групп.",
		"Ищет по подключённым каналам, листает выдачу страницами и удаляет её за собой.",
	}
	return strings.Join(lines, "\n")
}
