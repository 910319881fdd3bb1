package insights

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"yt-insights/internal/domain"
	"yt-insights/internal/infra/metrics"
	openai "yt-insights/internal/infra/openai"
	"yt-insights/internal/usecase/stats"
)

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

const systemPrompt = "Ты аналитик привычек просмотра YouTube. Составь 3-5 персональных наблюдений " +
	"по данным о просмотрах. Каждое наблюдение должно быть кратким, практичным и помогать строить " +
	"более здоровые привычки."

const fallbackRecommendation = "По вашим паттернам просмотра рекомендуем установить дневные лимиты и добавить больше обучающего контента."

// Service генерирует инсайты по агрегированной статистике.
type Service struct {
	watches     domain.WatchRepo
	insights    domain.InsightRepo
	client      chatClient
	model       string
	timeout     time.Duration
	windowDays  int
	topChannels int
}

// NewService создаёт сервис инсайтов.
func NewService(watches domain.WatchRepo, insightRepo domain.InsightRepo, client chatClient, model string, timeout time.Duration, windowDays, topChannels int) *Service {
	if model == "" {
		model = "gpt-4.1-mini"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if windowDays <= 0 {
		windowDays = 7
	}
	if topChannels <= 0 {
		topChannels = 5
	}
	return &Service{
		watches:     watches,
		insights:    insightRepo,
		client:      client,
		model:       model,
		timeout:     timeout,
		windowDays:  windowDays,
		topChannels: topChannels,
	}
}

type analyticsPayload struct {
	TotalVideos             int                   `json:"totalVideos"`
	TotalWatchMinutes       int                   `json:"totalWatchMinutes"`
	AvgVideoMinutes         int                   `json:"avgVideoMinutes"`
	LateNightViewingPercent int                   `json:"lateNightViewingPercentage"`
	TopChannels             []domain.ChannelCount `json:"topChannels"`
	Period                  string                `json:"period"`
}

// Generate строит снимок за окно, запрашивает у генератора свободный текст
// и упаковывает его ровно в три инсайта: pattern, time, recommendation.
// Пустое окно — ErrNoHistory до обращения к генератору; сбой генератора
// фатален для всей операции, частичный батч не коммитится.
func (s *Service) Generate(ctx context.Context, userID int64, now time.Time, loc *time.Location) ([]domain.Insight, error) {
	metrics.IncGeneration("insights")
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

	snapshot := stats.Build(records, now, loc, s.windowDays, s.topChannels)
	analytics := analyticsPayload{
		TotalVideos:             snapshot.VideoCount,
		TotalWatchMinutes:       snapshot.TotalWatchSeconds / 60,
		AvgVideoMinutes:         snapshot.AverageVideoSeconds / 60,
		LateNightViewingPercent: snapshot.LateNightShare,
		TopChannels:             snapshot.TopChannels,
		Period:                  fmt.Sprintf("%d дней", s.windowDays),
	}

	text, err := s.requestInsights(ctx, analytics)
	if err != nil {
		return nil, err
	}

	batch := s.packInsights(userID, text, analytics, snapshot)
	if err := s.insights.CreateInsights(batch); err != nil {
		return nil, fmt.Errorf("сохранение инсайтов: %w", err)
	}
	return batch, nil
}

func (s *Service) requestInsights(ctx context.Context, analytics analyticsPayload) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	data, err := json.MarshalIndent(analytics, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal analytics: %w", err)
	}
	req := openai.ChatCompletionRequest{
		Model:       s.model,
		Temperature: 0.3,
		MaxTokens:   800,
		Messages: []openai.ChatMessage{
			{Role: openai.RoleSystem, Content: systemPrompt},
			{Role: openai.RoleUser, Content: fmt.Sprintf("Проанализируй данные о просмотрах YouTube и дай наблюдения:\n%s", string(data))},
		},
	}

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: openai: пустой ответ", domain.ErrUpstream)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// packInsights нарезает свободный текст генератора на три записи.
// Описание инсайта "time" строится детерминированно из lateNightShare и от
// текста генератора не зависит.
func (s *Service) packInsights(userID int64, text string, analytics analyticsPayload, snapshot domain.AggregateSnapshot) []domain.Insight {
	recommendation := sliceRunes(text, 500, 1000)
	if recommendation == "" {
		recommendation = fallbackRecommendation
	}
	return []domain.Insight{
		{
			ID:          uuid.NewString(),
			UserID:      userID,
			InsightType: domain.InsightTypePattern,
			Title:       "Недельный паттерн просмотров",
			Description: sliceRunes(text, 0, 500),
			Data:        mustJSON(analytics),
		},
		{
			ID:          uuid.NewString(),
			UserID:      userID,
			InsightType: domain.InsightTypeTime,
			Title:       "Ночные просмотры",
			Description: fmt.Sprintf("Вы посмотрели %d%% видео поздно ночью (после 23:00). Установите время окончания просмотра, чтобы улучшить сон.", snapshot.LateNightShare),
			Data:        mustJSON(map[string]int{"lateNightPercentage": snapshot.LateNightShare}),
		},
		{
			ID:          uuid.NewString(),
			UserID:      userID,
			InsightType: domain.InsightTypeRecommendation,
			Title:       "Персональные рекомендации",
			Description: recommendation,
			Data:        mustJSON(map[string]any{"topChannels": snapshot.TopChannels}),
		},
	}
}

// ListRecent возвращает инсайты от новых к старым.
func (s *Service) ListRecent(userID int64, limit int) ([]domain.Insight, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.insights.ListRecent(userID, limit)
}

// sliceRunes вырезает срез текста по рунам, не ломая многобайтовые символы.
func sliceRunes(text string, from, to int) string {
	runes := []rune(text)
	if from >= len(runes) {
		return ""
	}
	to = int(math.Min(float64(to), float64(len(runes))))
	return strings.TrimSpace(string(runes[from:to]))
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
