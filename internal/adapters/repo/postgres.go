package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"yt-insights/internal/domain"
	"yt-insights/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.UserRepo    = (*Postgres)(nil)
	_ domain.WatchRepo   = (*Postgres)(nil)
	_ domain.HabitRepo   = (*Postgres)(nil)
	_ domain.InsightRepo = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

// UpsertByExternalID реализует domain.UserRepo.
func (p *Postgres) UpsertByExternalID(externalID, timezone string) (domain.User, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	var (
		user      domain.User
		tzValue   sql.NullString
		chatID    sql.NullInt64
		dailyTime sql.NullTime
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO users (external_id, tz)
VALUES ($1, NULLIF($2,''))
ON CONFLICT (external_id) DO UPDATE SET tz = COALESCE(NULLIF(EXCLUDED.tz,''), users.tz), updated_at = now()
RETURNING id, external_id, tz, tg_chat_id, daily_time, created_at, updated_at
`, externalID, timezone).Scan(&user.ID, &user.ExternalID, &tzValue, &chatID, &dailyTime, &user.CreatedAt, &user.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "users_upsert", "users", start, err)
	if err != nil {
		return domain.User{}, err
	}
	applyUserNullables(&user, tzValue, chatID, dailyTime)
	return user, nil
}

// GetByExternalID возвращает пользователя по внешнему идентификатору.
func (p *Postgres) GetByExternalID(externalID string) (domain.User, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	var (
		user      domain.User
		tzValue   sql.NullString
		chatID    sql.NullInt64
		dailyTime sql.NullTime
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, external_id, tz, tg_chat_id, daily_time, created_at, updated_at
FROM users WHERE external_id=$1
`, externalID).Scan(&user.ID, &user.ExternalID, &tzValue, &chatID, &dailyTime, &user.CreatedAt, &user.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "users_get", "users", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrUnauthorized
	}
	if err != nil {
		return domain.User{}, err
	}
	applyUserNullables(&user, tzValue, chatID, dailyTime)
	return user, nil
}

// GetByID возвращает пользователя по внутреннему идентификатору.
func (p *Postgres) GetByID(userID int64) (domain.User, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	var (
		user      domain.User
		tzValue   sql.NullString
		chatID    sql.NullInt64
		dailyTime sql.NullTime
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, external_id, tz, tg_chat_id, daily_time, created_at, updated_at
FROM users WHERE id=$1
`, userID).Scan(&user.ID, &user.ExternalID, &tzValue, &chatID, &dailyTime, &user.CreatedAt, &user.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "users_get_by_id", "users", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrUnauthorized
	}
	if err != nil {
		return domain.User{}, err
	}
	applyUserNullables(&user, tzValue, chatID, dailyTime)
	return user, nil
}

// ListForDailyTime возвращает пользователей с настроенным временем генерации.
func (p *Postgres) ListForDailyTime(now time.Time) ([]domain.User, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, external_id, tz, tg_chat_id, daily_time, created_at, updated_at
FROM users WHERE daily_time IS NOT NULL
`)
	metrics.ObserveNetworkRequest("postgres", "users_list_for_daily_time", "users", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var (
			user      domain.User
			tzValue   sql.NullString
			chatID    sql.NullInt64
			dailyTime sql.NullTime
		)
		if err := rows.Scan(&user.ID, &user.ExternalID, &tzValue, &chatID, &dailyTime, &user.CreatedAt, &user.UpdatedAt); err != nil {
			return nil, err
		}
		applyUserNullables(&user, tzValue, chatID, dailyTime)
		users = append(users, user)
	}
	return users, rows.Err()
}

// UpdateDailyTime обновляет время ежедневной генерации.
func (p *Postgres) UpdateDailyTime(userID int64, daily time.Time) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `UPDATE users SET daily_time=$2, updated_at=now() WHERE id=$1`, userID, daily.Format("15:04:05"))
	metrics.ObserveNetworkRequest("postgres", "users_update_daily_time", "users", start, err)
	return err
}

// UpdateTimezone обновляет часовой пояс пользователя.
func (p *Postgres) UpdateTimezone(userID int64, timezone string) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `UPDATE users SET tz=NULLIF($2,''), updated_at=now() WHERE id=$1`, userID, timezone)
	metrics.ObserveNetworkRequest("postgres", "users_update_timezone", "users", start, err)
	return err
}

// LinkTelegramChat привязывает чат Telegram для уведомлений.
func (p *Postgres) LinkTelegramChat(userID, chatID int64) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `UPDATE users SET tg_chat_id=$2, updated_at=now() WHERE id=$1`, userID, chatID)
	metrics.ObserveNetworkRequest("postgres", "users_link_tg_chat", "users", start, err)
	return err
}

// SaveRecords сохраняет батч записей просмотров одной транзакцией.
// Дубли по ключу (user_id, video_id, watched_at) молча пропускаются, при
// ошибке откатывается весь батч.
func (p *Postgres) SaveRecords(userID int64, records []domain.WatchRecord) error {
	if len(records) == 0 {
		return nil
	}
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "watch_records", start, err)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, record := range records {
		start = time.Now()
		_, err := tx.Exec(ctx, `
INSERT INTO watch_records (user_id, video_id, title, channel, duration_seconds, category_id, watched_at)
VALUES ($1, $2, $3, $4, $5, NULLIF($6,''), $7)
ON CONFLICT (user_id, video_id, watched_at) DO NOTHING
`, userID, record.VideoID, record.Title, record.Channel, record.DurationSeconds, record.CategoryID, record.WatchedAt)
		metrics.ObserveNetworkRequest("postgres", "watch_records_upsert", "watch_records", start, err)
		if err != nil {
			return fmt.Errorf("вставка записи %s: %w", record.VideoID, err)
		}
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "watch_records", start, err)
	return err
}

// ListSince возвращает записи просмотров пользователя начиная с указанного
// момента, от новых к старым.
func (p *Postgres) ListSince(userID int64, since time.Time) ([]domain.WatchRecord, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, user_id, video_id, title, channel, duration_seconds, COALESCE(category_id,''), watched_at
FROM watch_records WHERE user_id=$1 AND watched_at >= $2
ORDER BY watched_at DESC
`, userID, since)
	metrics.ObserveNetworkRequest("postgres", "watch_records_list", "watch_records", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.WatchRecord
	for rows.Next() {
		var record domain.WatchRecord
		if err := rows.Scan(&record.ID, &record.UserID, &record.VideoID, &record.Title, &record.Channel, &record.DurationSeconds, &record.CategoryID, &record.WatchedAt); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// CreateHabits сохраняет батч привычек одной транзакцией.
func (p *Postgres) CreateHabits(habits []domain.Habit) error {
	if len(habits) == 0 {
		return nil
	}
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "habits", start, err)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, habit := range habits {
		start = time.Now()
		_, err := tx.Exec(ctx, `
INSERT INTO habits (id, user_id, title, description, priority, category, date, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`, habit.ID, habit.UserID, habit.Title, habit.Description, habit.Priority, habit.Category, habit.Date, habit.IsActive)
		metrics.ObserveNetworkRequest("postgres", "habits_insert", "habits", start, err)
		if err != nil {
			return fmt.Errorf("вставка привычки: %w", err)
		}
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "habits", start, err)
	return err
}

// DeactivateBefore деактивирует привычки с датой раньше указанной.
// Исторические батчи сохраняются для подсчёта серий.
func (p *Postgres) DeactivateBefore(userID int64, day time.Time) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE habits SET is_active=false WHERE user_id=$1 AND date < $2
`, userID, day)
	metrics.ObserveNetworkRequest("postgres", "habits_deactivate", "habits", start, err)
	return err
}

// ListForDate возвращает активные привычки на указанную дату вместе с
// признаком выполнения.
func (p *Postgres) ListForDate(userID int64, day time.Time) ([]domain.Habit, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT h.id, h.user_id, h.title, h.description, h.priority, h.category, h.date, h.is_active, h.created_at,
       EXISTS (SELECT 1 FROM habit_completions c WHERE c.habit_id = h.id AND c.user_id = h.user_id) AS completed
FROM habits h
WHERE h.user_id=$1 AND h.date=$2 AND h.is_active
ORDER BY h.created_at
`, userID, day)
	metrics.ObserveNetworkRequest("postgres", "habits_list_for_date", "habits", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var habits []domain.Habit
	for rows.Next() {
		var habit domain.Habit
		if err := rows.Scan(&habit.ID, &habit.UserID, &habit.Title, &habit.Description, &habit.Priority, &habit.Category, &habit.Date, &habit.IsActive, &habit.CreatedAt, &habit.Completed); err != nil {
			return nil, err
		}
		habits = append(habits, habit)
	}
	return habits, rows.Err()
}

// AddCompletion идемпотентно добавляет отметку выполнения.
func (p *Postgres) AddCompletion(completion domain.HabitCompletion) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO habit_completions (id, habit_id, user_id, completed_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (habit_id, user_id) DO NOTHING
`, completion.ID, completion.HabitID, completion.UserID, completion.CompletedAt)
	metrics.ObserveNetworkRequest("postgres", "habit_completions_insert", "habit_completions", start, err)
	return err
}

// RemoveCompletion идемпотентно снимает отметку выполнения.
func (p *Postgres) RemoveCompletion(habitID string, userID int64) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
DELETE FROM habit_completions WHERE habit_id=$1 AND user_id=$2
`, habitID, userID)
	metrics.ObserveNetworkRequest("postgres", "habit_completions_delete", "habit_completions", start, err)
	return err
}

// ListCompletions возвращает отметки выполнения начиная с указанного момента.
func (p *Postgres) ListCompletions(userID int64, from time.Time) ([]domain.HabitCompletion, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, habit_id, user_id, completed_at
FROM habit_completions WHERE user_id=$1 AND completed_at >= $2
ORDER BY completed_at DESC
`, userID, from)
	metrics.ObserveNetworkRequest("postgres", "habit_completions_list", "habit_completions", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var completions []domain.HabitCompletion
	for rows.Next() {
		var completion domain.HabitCompletion
		if err := rows.Scan(&completion.ID, &completion.HabitID, &completion.UserID, &completion.CompletedAt); err != nil {
			return nil, err
		}
		completions = append(completions, completion)
	}
	return completions, rows.Err()
}

// CreateInsights сохраняет батч инсайтов одной транзакцией.
func (p *Postgres) CreateInsights(insights []domain.Insight) error {
	if len(insights) == 0 {
		return nil
	}
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "insights", start, err)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, insight := range insights {
		start = time.Now()
		_, err := tx.Exec(ctx, `
INSERT INTO insights (id, user_id, insight_type, title, description, data)
VALUES ($1, $2, $3, $4, $5, $6)
`, insight.ID, insight.UserID, insight.InsightType, insight.Title, insight.Description, insight.Data)
		metrics.ObserveNetworkRequest("postgres", "insights_insert", "insights", start, err)
		if err != nil {
			return fmt.Errorf("вставка инсайта: %w", err)
		}
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "insights", start, err)
	return err
}

// ListRecent возвращает инсайты от новых к старым.
func (p *Postgres) ListRecent(userID int64, limit int) ([]domain.Insight, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, user_id, insight_type, title, description, data, created_at
FROM insights WHERE user_id=$1
ORDER BY created_at DESC
LIMIT $2
`, userID, limit)
	metrics.ObserveNetworkRequest("postgres", "insights_list", "insights", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var insights []domain.Insight
	for rows.Next() {
		var insight domain.Insight
		if err := rows.Scan(&insight.ID, &insight.UserID, &insight.InsightType, &insight.Title, &insight.Description, &insight.Data, &insight.CreatedAt); err != nil {
			return nil, err
		}
		insights = append(insights, insight)
	}
	return insights, rows.Err()
}

func applyUserNullables(user *domain.User, tz sql.NullString, chatID sql.NullInt64, dailyTime sql.NullTime) {
	if tz.Valid {
		user.Timezone = tz.String
	}
	if chatID.Valid {
		user.TGChatID = chatID.Int64
	}
	if dailyTime.Valid {
		ts := dailyTime.Time
		user.DailyTime = &ts
	}
}
