package habits

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"yt-insights/internal/domain"
	"yt-insights/internal/infra/metrics"
	openai "yt-insights/internal/infra/openai"
)

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

const (
	minHabits = 3
	maxHabits = 5

	shortsMaxSeconds = 60
)

const systemPrompt = "Ты коуч по привычкам. Составь 3-5 микро-привычек, которые помогут пользователю " +
	"выработать более здоровые паттерны просмотра YouTube. Каждая привычка должна быть конкретной, " +
	"измеримой и достижимой. Верни ТОЛЬКО JSON-массив объектов с полями: " +
	`title (строка), priority (low/medium/high), category (строка), description (строка).`

// Service генерирует ежедневные привычки и ведёт отметки выполнения.
type Service struct {
	watches    domain.WatchRepo
	habits     domain.HabitRepo
	client     chatClient
	model      string
	timeout    time.Duration
	windowDays int
	maxItems   int
	log        zerolog.Logger
}

// NewService создаёт сервис привычек. Батч не может быть больше maxItems
// и меньше minHabits.
func NewService(watches domain.WatchRepo, habitRepo domain.HabitRepo, client chatClient, model string, timeout time.Duration, windowDays, maxItems int, logger zerolog.Logger) *Service {
	if model == "" {
		model = "gpt-4.1-mini"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if windowDays <= 0 {
		windowDays = 7
	}
	if maxItems < minHabits {
		maxItems = maxHabits
	}
	return &Service{
		watches:    watches,
		habits:     habitRepo,
		client:     client,
		model:      model,
		timeout:    timeout,
		windowDays: windowDays,
		maxItems:   maxItems,
		log:        logger,
	}
}

type habitPayload struct {
	Title       string `json:"title"`
	Priority    string `json:"priority"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

// GenerateDaily строит дневной батч привычек по статистике просмотров.
// Пустое окно — ошибка ErrNoHistory до обращения к генератору. Любой сбой
// генератора (транспорт или формат ответа) деградирует до встроенного
// набора по умолчанию, сам батч при этом всегда коммитится: старые
// привычки деактивируются, новые получают сегодняшнюю дату и is_active.
func (s *Service) GenerateDaily(ctx context.Context, userID int64, now time.Time, loc *time.Location) ([]domain.Habit, error) {
	metrics.IncGeneration("habits")
	metrics.IncGenerationForUser(userID)
	if loc == nil {
		loc = time.UTC
	}

	records, err := s.watches.ListSince(userID, now.AddDate(0, 0, -s.windowDays))
	if err != nil {
		return nil, fmt.Errorf("получение просмотров: %w", err)
	}
	if len(records) == 0 {
		return nil, domain.ErrNoHistory
	}

	totalSeconds := 0
	shortsCount := 0
	for _, record := range records {
		totalSeconds += record.DurationSeconds
		if record.DurationSeconds < shortsMaxSeconds {
			shortsCount++
		}
	}
	hoursPerWeek := totalSeconds / 3600
	shortsPercent := int(math.Round(float64(shortsCount) / float64(len(records)) * 100))

	proposals, err := s.requestHabits(ctx, hoursPerWeek, shortsPercent)
	if err != nil {
		s.log.Warn().Err(err).Int64("user", userID).Msg("habits: генератор недоступен, используем набор по умолчанию")
		proposals = defaultHabits()
	}

	today := dateOnly(now.In(loc))
	batch := make([]domain.Habit, 0, len(proposals))
	for _, p := range proposals {
		batch = append(batch, domain.Habit{
			ID:          uuid.NewString(),
			UserID:      userID,
			Title:       p.Title,
			Description: p.Description,
			Priority:    normalizePriority(p.Priority),
			Category:    p.Category,
			Date:        today,
			IsActive:    true,
		})
	}

	// деактивация идёт до вставки; падение вставки после неё — известный
	// зазор без отката (см. DESIGN.md)
	if err := s.habits.DeactivateBefore(userID, today); err != nil {
		return nil, fmt.Errorf("деактивация старых привычек: %w", err)
	}
	if err := s.habits.CreateHabits(batch); err != nil {
		return nil, fmt.Errorf("сохранение привычек: %w", err)
	}
	return batch, nil
}

func (s *Service) requestHabits(ctx context.Context, hoursPerWeek, shortsPercent int) ([]habitPayload, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	userPrompt := fmt.Sprintf("Пользователь смотрит %d часов в неделю, %d%% — Shorts. Составь персональные микро-привычки.", hoursPerWeek, shortsPercent)
	req := openai.ChatCompletionRequest{
		Model:       s.model,
		Temperature: 0.4,
		MaxTokens:   600,
		Messages: []openai.ChatMessage{
			{Role: openai.RoleSystem, Content: systemPrompt},
			{Role: openai.RoleUser, Content: userPrompt},
		},
	}

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai completion: пустой ответ")
	}
	return parseHabits(resp.Choices[0].Message.Content, s.maxItems)
}

// parseHabits разбирает ответ генератора: срезает обрамление кодовых блоков
// и декодирует JSON-массив. Меньше minHabits валидных позиций — батч
// некорректен, больше max — хвост отбрасывается.
func parseHabits(content string, max int) ([]habitPayload, error) {
	clean := stripCodeFence(content)
	var parsed []habitPayload
	if err := json.Unmarshal([]byte(clean), &parsed); err != nil {
		return nil, fmt.Errorf("распаковка ответа LLM: %w", err)
	}
	valid := make([]habitPayload, 0, len(parsed))
	for _, p := range parsed {
		p.Title = strings.TrimSpace(p.Title)
		p.Description = strings.TrimSpace(p.Description)
		p.Category = strings.TrimSpace(p.Category)
		if p.Title == "" {
			continue
		}
		valid = append(valid, p)
	}
	if len(valid) < minHabits {
		return nil, fmt.Errorf("ответ LLM: %d валидных привычек, ожидали не меньше %d", len(valid), minHabits)
	}
	if len(valid) > max {
		valid = valid[:max]
	}
	return valid, nil
}

func stripCodeFence(content string) string {
	clean := strings.TrimSpace(content)
	clean = strings.ReplaceAll(clean, "```json", "")
	clean = strings.ReplaceAll(clean, "```", "")
	return strings.TrimSpace(clean)
}

func normalizePriority(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case domain.HabitPriorityLow:
		return domain.HabitPriorityLow
	case domain.HabitPriorityHigh:
		return domain.HabitPriorityHigh
	default:
		return domain.HabitPriorityMedium
	}
}

// defaultHabits возвращает фиксированный набор на случай сбоя генератора.
func defaultHabits() []habitPayload {
	return []habitPayload{
		{
			Title:       "Ограничить YouTube Shorts 15 минутами сегодня",
			Priority:    domain.HabitPriorityHigh,
			Category:    "Контроль контента",
			Description: "Короткие ролики затягивают. Поставьте таймер и не выходите за лимит.",
		},
		{
			Title:       "Посмотреть 1 обучающее видео до развлекательных",
			Priority:    domain.HabitPriorityMedium,
			Category:    "Обучение",
			Description: "Сбалансируйте контент: начните день с чего-то полезного.",
		},
		{
			Title:       "Никакого YouTube после 22:00",
			Priority:    domain.HabitPriorityHigh,
			Category:    "Гигиена сна",
			Description: "Хороший сон начинается с ограничения вечернего экранного времени.",
		},
	}
}

// ListForToday возвращает привычки на сегодняшнюю дату.
func (s *Service) ListForToday(userID int64, now time.Time, loc *time.Location) ([]domain.Habit, error) {
	if loc == nil {
		loc = time.UTC
	}
	return s.habits.ListForDate(userID, dateOnly(now.In(loc)))
}

// Complete идемпотентно отмечает привычку выполненной.
func (s *Service) Complete(userID int64, habitID string, now time.Time) error {
	if habitID == "" {
		return fmt.Errorf("пустой идентификатор привычки")
	}
	return s.habits.AddCompletion(domain.HabitCompletion{
		ID:          uuid.NewString(),
		HabitID:     habitID,
		UserID:      userID,
		CompletedAt: now,
	})
}

// Uncomplete идемпотентно снимает отметку выполнения.
func (s *Service) Uncomplete(userID int64, habitID string) error {
	if habitID == "" {
		return fmt.Errorf("пустой идентификатор привычки")
	}
	return s.habits.RemoveCompletion(habitID, userID)
}

// Streak считает текущую серию подряд идущих дней с выполненными
// привычками. Отсчёт идёт от сегодняшнего дня; если сегодня отметок ещё
// нет, серия продолжается со вчерашнего.
func (s *Service) Streak(userID int64, now time.Time, loc *time.Location) (int, error) {
	if loc == nil {
		loc = time.UTC
	}
	completions, err := s.habits.ListCompletions(userID, now.AddDate(-1, 0, 0))
	if err != nil {
		return 0, fmt.Errorf("получение отметок: %w", err)
	}

	days := make(map[time.Time]struct{}, len(completions))
	for _, completion := range completions {
		days[dateOnly(completion.CompletedAt.In(loc))] = struct{}{}
	}

	day := dateOnly(now.In(loc))
	if _, ok := days[day]; !ok {
		day = day.AddDate(0, 0, -1)
	}
	streak := 0
	for {
		if _, ok := days[day]; !ok {
			break
		}
		streak++
		day = day.AddDate(0, 0, -1)
	}
	return streak, nil
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
