package domain

import "time"

// User описывает пользователя сервиса.
type User struct {
	ID         int64
	ExternalID string
	Timezone   string
	TGChatID   int64
	DailyTime  *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// WatchRecord представляет один факт просмотра видео.
// Тройка (UserID, VideoID, WatchedAt) уникальна в хранилище.
type WatchRecord struct {
	ID              int64
	UserID          int64
	VideoID         string
	Title           string
	Channel         string
	DurationSeconds int
	CategoryID      string
	WatchedAt       time.Time
}

// DayBucket хранит суммарное время просмотра за один день недели в минутах.
type DayBucket struct {
	Day     string
	Minutes int
}

// ClassShare описывает долю класса длительности в процентах.
type ClassShare struct {
	Class   string
	Percent int
}

// Классы длительности видео.
const (
	LengthClassShort  = "short"  // < 60 секунд
	LengthClassMedium = "medium" // 60–599 секунд
	LengthClassLong   = "long"   // >= 600 секунд
)

// ChannelCount хранит количество просмотров одного канала.
type ChannelCount struct {
	Channel string `json:"channel"`
	Count   int    `json:"count"`
}

// AggregateSnapshot содержит производную статистику за скользящее окно.
// Снимок не сохраняется и пересчитывается на каждый запрос.
type AggregateSnapshot struct {
	WindowStart         time.Time
	WindowEnd           time.Time
	VideoCount          int
	TotalWatchSeconds   int
	TodayWatchSeconds   int
	AverageVideoSeconds int
	DailyBuckets        []DayBucket
	LengthShares        []ClassShare
	LateNightShare      int
	TopChannels         []ChannelCount
}

// Приоритеты привычек.
const (
	HabitPriorityLow    = "low"
	HabitPriorityMedium = "medium"
	HabitPriorityHigh   = "high"
)

// Habit описывает ежедневную рекомендацию-привычку.
type Habit struct {
	ID          string
	UserID      int64
	Title       string
	Description string
	Priority    string
	Category    string
	Date        time.Time
	IsActive    bool
	Completed   bool
	CreatedAt   time.Time
}

// HabitCompletion фиксирует выполнение привычки пользователем.
type HabitCompletion struct {
	ID          string
	HabitID     string
	UserID      int64
	CompletedAt time.Time
}

// Типы инсайтов.
const (
	InsightTypePattern        = "pattern"
	InsightTypeTime           = "time"
	InsightTypeRecommendation = "recommendation"
	InsightTypeOther          = "other"
)

// Insight представляет сгенерированное объяснение паттерна просмотров.
// Записи неизменяемы, канонический порядок чтения — от новых к старым.
type Insight struct {
	ID          string
	UserID      int64
	InsightType string
	Title       string
	Description string
	Data        []byte
	CreatedAt   time.Time
}

// HistoryItem описывает сырой элемент истории из внешнего API.
type HistoryItem struct {
	VideoID string
}

// VideoDetails содержит детали видео из внешнего API.
// Длительность уже нормализована адаптером в секунды.
type VideoDetails struct {
	ID              string
	Title           string
	ChannelTitle    string
	DurationSeconds int
	CategoryID      string
}
