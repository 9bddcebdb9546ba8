package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tg-filter-bot/internal/domain"
	"tg-filter-bot/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.UserRepo           = (*Postgres)(nil)
	_ domain.GroupRepo          = (*Postgres)(nil)
	_ domain.RecipientSource    = (*Postgres)(nil)
	_ domain.SessionRepo        = (*Postgres)(nil)
	_ domain.BusinessMetricRepo = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return p.connCtx()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// UpsertByTGID реализует domain.UserRepo.
func (p *Postgres) UpsertByTGID(ctx context.Context, tgUserID int64, firstName, username string) (domain.User, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
INSERT INTO users (tg_user_id, first_name, username, alive, created_at, updated_at)
VALUES ($1, $2, $3, TRUE, now(), now())
ON CONFLICT (tg_user_id) DO UPDATE
SET first_name = EXCLUDED.first_name,
    username   = EXCLUDED.username,
    alive      = TRUE,
    updated_at = now()
RETURNING id, tg_user_id, first_name, username, alive, created_at, updated_at
`, tgUserID, firstName, username)
	var user domain.User
	err := row.Scan(&user.ID, &user.TGUserID, &user.FirstName, &user.Username, &user.Alive, &user.CreatedAt, &user.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "users_upsert", "users", start, err)
	if err != nil {
		return domain.User{}, fmt.Errorf("upsert пользователя: %w", err)
	}
	return user, nil
}

// CountUsers возвращает число живых пользователей.
func (p *Postgres) CountUsers(ctx context.Context) (int, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	var count int
	err := p.pool.QueryRow(ctx, `SELECT count(*) FROM users WHERE alive`).Scan(&count)
	metrics.ObserveNetworkRequest("postgres", "users_count", "users", start, err)
	return count, err
}

// UpsertGroup реализует domain.GroupRepo.
func (p *Postgres) UpsertGroup(ctx context.Context, group domain.Group) (domain.Group, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	channels := group.Channels
	if channels == nil {
		channels = []int64{}
	}

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
INSERT INTO groups (tg_chat_id, title, owner_tg_id, owner_name, channels, force_sub_id, verified, alive, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, now(), now())
ON CONFLICT (tg_chat_id) DO UPDATE
SET title      = EXCLUDED.title,
    owner_tg_id = EXCLUDED.owner_tg_id,
    owner_name = EXCLUDED.owner_name,
    alive      = TRUE,
    updated_at = now()
RETURNING id, tg_chat_id, title, owner_tg_id, owner_name, channels, force_sub_id, verified, alive, created_at, updated_at
`, group.TGChatID, group.Title, group.OwnerTGID, group.OwnerName, channels, group.ForceSubID, group.Verified)
	saved, err := scanGroup(row)
	metrics.ObserveNetworkRequest("postgres", "groups_upsert", "groups", start, err)
	if err != nil {
		return domain.Group{}, fmt.Errorf("upsert группы: %w", err)
	}
	return saved, nil
}

// GetGroup возвращает группу по идентификатору чата.
func (p *Postgres) GetGroup(ctx context.Context, tgChatID int64) (domain.Group, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
SELECT id, tg_chat_id, title, owner_tg_id, owner_name, channels, force_sub_id, verified, alive, created_at, updated_at
FROM groups
WHERE tg_chat_id = $1
`, tgChatID)
	group, err := scanGroup(row)
	metrics.ObserveNetworkRequest("postgres", "groups_get", "groups", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Group{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Group{}, fmt.Errorf("чтение группы: %w", err)
	}
	return group, nil
}

// SetForceSub сохраняет обязательный канал группы, 0 снимает требование.
func (p *Postgres) SetForceSub(ctx context.Context, tgChatID, channelID int64) error {
	return p.execGroupUpdate(ctx, "groups_force_sub", `
UPDATE groups SET force_sub_id = $2, updated_at = now() WHERE tg_chat_id = $1
`, tgChatID, channelID)
}

// SetVerified сохраняет флаг верификации.
func (p *Postgres) SetVerified(ctx context.Context, tgChatID int64, verified bool) error {
	return p.execGroupUpdate(ctx, "groups_verified", `
UPDATE groups SET verified = $2, updated_at = now() WHERE tg_chat_id = $1
`, tgChatID, verified)
}

// SetChannels сохраняет каналы-источники поиска.
func (p *Postgres) SetChannels(ctx context.Context, tgChatID int64, channels []int64) error {
	if channels == nil {
		channels = []int64{}
	}
	return p.execGroupUpdate(ctx, "groups_channels", `
UPDATE groups SET channels = $2, updated_at = now() WHERE tg_chat_id = $1
`, tgChatID, channels)
}

// CountGroups возвращает число живых групп.
func (p *Postgres) CountGroups(ctx context.Context) (int, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	var count int
	err := p.pool.QueryRow(ctx, `SELECT count(*) FROM groups WHERE alive`).Scan(&count)
	metrics.ObserveNetworkRequest("postgres", "groups_count", "groups", start, err)
	return count, err
}

// ListRecipients отдаёт снапшот ростера: живые пользователи, затем живые группы.
// Порядок стабилен, чтобы рассылка была воспроизводимой.
func (p *Postgres) ListRecipients(ctx context.Context) ([]domain.Recipient, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT tg_user_id AS chat_id, 'user' AS kind FROM users WHERE alive
UNION ALL
SELECT tg_chat_id AS chat_id, 'group' AS kind FROM groups WHERE alive
ORDER BY kind DESC, chat_id
`)
	metrics.ObserveNetworkRequest("postgres", "recipients_list", "users", start, err)
	if err != nil {
		return nil, fmt.Errorf("чтение ростера: %w", err)
	}
	defer rows.Close()

	var recipients []domain.Recipient
	for rows.Next() {
		var r domain.Recipient
		var kind string
		if err := rows.Scan(&r.TGChatID, &kind); err != nil {
			return nil, fmt.Errorf("scan адресата: %w", err)
		}
		r.Kind = domain.RecipientKind(kind)
		recipients = append(recipients, r)
	}
	return recipients, rows.Err()
}

// MarkDead идемпотентно гасит адресата в соответствующей таблице.
func (p *Postgres) MarkDead(ctx context.Context, r domain.Recipient) error {
	query := `UPDATE users SET alive = FALSE, updated_at = now() WHERE tg_user_id = $1`
	target := "users"
	if r.Kind == domain.RecipientGroup {
		query = `UPDATE groups SET alive = FALSE, updated_at = now() WHERE tg_chat_id = $1`
		target = "groups"
	}

	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, query, r.TGChatID)
	metrics.ObserveNetworkRequest("postgres", "recipient_mark_dead", target, start, err)
	if err != nil {
		return fmt.Errorf("пометка адресата: %w", err)
	}
	return nil
}

// LoadMTProtoSession читает сохранённую сессию по имени.
func (p *Postgres) LoadMTProtoSession(ctx context.Context, name string) ([]byte, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	var data []byte
	err := p.pool.QueryRow(ctx, `SELECT data FROM mtproto_sessions WHERE name = $1`, name).Scan(&data)
	metrics.ObserveNetworkRequest("postgres", "session_load", "mtproto_sessions", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("чтение сессии: %w", err)
	}
	return data, nil
}

// SaveMTProtoSession сохраняет сессию по имени.
func (p *Postgres) SaveMTProtoSession(ctx context.Context, name string, data []byte) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO mtproto_sessions (name, data, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (name) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
`, name, data)
	metrics.ObserveNetworkRequest("postgres", "session_save", "mtproto_sessions", start, err)
	if err != nil {
		return fmt.Errorf("сохранение сессии: %w", err)
	}
	return nil
}

// RecordBusinessMetric сохраняет бизнесовую метрику в БД.
func (p *Postgres) RecordBusinessMetric(ctx context.Context, metric domain.BusinessMetric) error {
	if metric.Event == "" {
		return nil
	}
	if metric.OccurredAt.IsZero() {
		metric.OccurredAt = time.Now().UTC()
	}

	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var payload []byte
	if metric.Metadata != nil {
		if data, err := json.Marshal(metric.Metadata); err == nil {
			payload = data
		}
	}

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO business_metrics (event, user_id, chat_id, metadata, occurred_at)
VALUES ($1, $2, $3, $4, $5)
`, metric.Event, metric.UserID, metric.ChatID, payload, metric.OccurredAt)
	metrics.ObserveNetworkRequest("postgres", "business_metrics_insert", "business_metrics", start, err)
	return err
}

func (p *Postgres) execGroupUpdate(ctx context.Context, operation, query string, args ...any) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", operation, "groups", start, err)
	if err != nil {
		return fmt.Errorf("обновление группы: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanGroup(row pgx.Row) (domain.Group, error) {
	var group domain.Group
	err := row.Scan(
		&group.ID,
		&group.TGChatID,
		&group.Title,
		&group.OwnerTGID,
		&group.OwnerName,
		&group.Channels,
		&group.ForceSubID,
		&group.Verified,
		&group.Alive,
		&group.CreatedAt,
		&group.UpdatedAt,
	)
	return group, err
}
