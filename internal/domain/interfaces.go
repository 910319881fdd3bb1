package domain

import (
	"context"
	"time"
)

// UserRepo управляет пользователями.
type UserRepo interface {
	UpsertByExternalID(externalID, timezone string) (User, error)
	GetByExternalID(externalID string) (User, error)
	GetByID(userID int64) (User, error)
	ListForDailyTime(now time.Time) ([]User, error)
	UpdateDailyTime(userID int64, daily time.Time) error
	UpdateTimezone(userID int64, timezone string) error
	LinkTelegramChat(userID, chatID int64) error
}

// WatchRepo управляет записями просмотров.
type WatchRepo interface {
	SaveRecords(userID int64, records []WatchRecord) error
	ListSince(userID int64, since time.Time) ([]WatchRecord, error)
}

// HabitRepo управляет привычками и отметками выполнения.
type HabitRepo interface {
	CreateHabits(habits []Habit) error
	DeactivateBefore(userID int64, day time.Time) error
	ListForDate(userID int64, day time.Time) ([]Habit, error)
	AddCompletion(completion HabitCompletion) error
	RemoveCompletion(habitID string, userID int64) error
	ListCompletions(userID int64, from time.Time) ([]HabitCompletion, error)
}

// InsightRepo сохраняет и возвращает инсайты.
type InsightRepo interface {
	CreateInsights(insights []Insight) error
	ListRecent(userID int64, limit int) ([]Insight, error)
}

// HistorySource выгружает историю просмотров из внешней видеоплатформы.
type HistorySource interface {
	RecentHistory(ctx context.Context, accessToken string, limit int) ([]HistoryItem, error)
	VideoDetails(ctx context.Context, ids []string) ([]VideoDetails, error)
}

// HabitQueue передаёт задания на ежедневную генерацию привычек.
type HabitQueue interface {
	Enqueue(ctx context.Context, job HabitJob) error
	Pop(ctx context.Context) (HabitJob, error)
}

// Notifier доставляет пользователю сгенерированные привычки.
type Notifier interface {
	NotifyHabits(chatID int64, habits []Habit) error
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Once(key string, ttl time.Duration, fn func() error) error
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
}
