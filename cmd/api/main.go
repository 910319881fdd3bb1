package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"

	"yt-insights/internal/adapters/repo"
	"yt-insights/internal/adapters/youtube"
	"yt-insights/internal/domain"
	"yt-insights/internal/infra/cache"
	"yt-insights/internal/infra/config"
	"yt-insights/internal/infra/db"
	httpinfra "yt-insights/internal/infra/http"
	infralog "yt-insights/internal/infra/log"
	"yt-insights/internal/infra/metrics"
	"yt-insights/internal/infra/openai"
	"yt-insights/internal/usecase/habits"
	"yt-insights/internal/usecase/insights"
	"yt-insights/internal/usecase/schedule"
	"yt-insights/internal/usecase/stats"
	syncusecase "yt-insights/internal/usecase/sync"
)

const dashboardTTL = 5 * time.Minute

func main() {
	cfg := config.Load()
	logger := infralog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	repoAdapter := repo.NewPostgres(pool)
	redisCache := cache.NewRedis(redisClient)
	source := youtube.NewClient(cfg.YouTube.APIKey, cfg.YouTube.BaseURL, 15*time.Second)
	llm := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Timeout)

	app := &application{
		cfg:      cfg,
		users:    repoAdapter,
		cache:    redisCache,
		sync:     syncusecase.NewService(source, repoAdapter, cfg.YouTube.MaxResults),
		stats:    stats.NewService(repoAdapter, cfg.Limits.WindowDays, cfg.Limits.TopChannels),
		habits:   habits.NewService(repoAdapter, repoAdapter, llm, cfg.OpenAI.Model, cfg.OpenAI.Timeout, cfg.Limits.WindowDays, cfg.Limits.HabitsMax, logger.With().Str("component", "habits").Logger()),
		insights: insights.NewService(repoAdapter, repoAdapter, llm, cfg.OpenAI.Model, cfg.OpenAI.Timeout, cfg.Limits.WindowDays, cfg.Limits.TopChannels),
		schedule: schedule.NewService(repoAdapter),
	}

	server := httpinfra.NewServer(logger.With().Str("component", "http").Logger())
	server.Router.Group(func(protected chi.Router) {
		protected.Use(httpinfra.AuthMiddleware(cfg.Auth.TokenSecret))

		protected.Post("/api/v1/sync", app.handleSync)
		protected.Get("/api/v1/dashboard", app.handleDashboard)

		protected.Post("/api/v1/insights/generate", app.handleGenerateInsights)
		protected.Get("/api/v1/insights", app.handleListInsights)

		protected.Post("/api/v1/habits/generate", app.handleGenerateHabits)
		protected.Get("/api/v1/habits/today", app.handleHabitsToday)
		protected.Get("/api/v1/habits/streak", app.handleStreak)
		protected.Post("/api/v1/habits/{habitID}/complete", app.handleComplete)
		protected.Delete("/api/v1/habits/{habitID}/complete", app.handleUncomplete)

		protected.Put("/api/v1/settings/timezone", app.handleUpdateTimezone)
		protected.Put("/api/v1/settings/daily-time", app.handleUpdateDailyTime)
		protected.Put("/api/v1/settings/telegram-chat", app.handleLinkTelegramChat)
	})

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), ":9090")

	go func() {
		if err := server.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("api: сервер остановлен")
		}
	}()
	<-ctx.Done()
	logger.Info().Msg("api: остановка")
}

type application struct {
	cfg      config.AppConfig
	users    domain.UserRepo
	cache    domain.Cache
	sync     *syncusecase.Service
	stats    *stats.Service
	habits   *habits.Service
	insights *insights.Service
	schedule *schedule.Service
}

// currentUser разрешает пользователя из токена, создавая запись при первом
// обращении. Вторым значением возвращается его часовой пояс.
func (a *application) currentUser(r *http.Request) (domain.User, *time.Location, error) {
	externalID, ok := httpinfra.ExternalUserID(r)
	if !ok {
		return domain.User{}, nil, domain.ErrUnauthorized
	}
	user, err := a.users.UpsertByExternalID(externalID, "")
	if err != nil {
		return domain.User{}, nil, err
	}
	loc := time.UTC
	if user.Timezone != "" {
		if parsed, err := time.LoadLocation(user.Timezone); err == nil {
			loc = parsed
		}
	}
	return user, loc, nil
}

func (a *application) handleSync(w http.ResponseWriter, r *http.Request) {
	user, _, err := a.currentUser(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	processed, err := a.sync.SyncUser(r.Context(), user.ID, r.Header.Get("X-Provider-Token"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httpinfra.WriteJSON(w, map[string]any{"success": true, "videosProcessed": processed})
}

func (a *application) handleDashboard(w http.ResponseWriter, r *http.Request) {
	user, loc, err := a.currentUser(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	now := time.Now()
	key := fmt.Sprintf("dashboard:%d:%s", user.ID, now.In(loc).Format("2006-01-02"))
	if cached, err := a.cache.Get(key); err == nil && len(cached) > 0 {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(cached)
		return
	}

	snapshot, err := a.stats.Snapshot(user.ID, now, loc)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	streak, err := a.habits.Streak(user.ID, now, loc)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	payload := map[string]any{"success": true, "dashboard": snapshotDTO(snapshot, streak)}
	if raw, err := json.Marshal(payload); err == nil {
		_ = a.cache.Set(key, raw, dashboardTTL)
	}
	httpinfra.WriteJSON(w, payload)
}

func (a *application) handleGenerateInsights(w http.ResponseWriter, r *http.Request) {
	user, loc, err := a.currentUser(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	batch, err := a.insights.Generate(r.Context(), user.ID, time.Now(), loc)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httpinfra.WriteJSON(w, map[string]any{"success": true, "insights": len(batch)})
}

func (a *application) handleListInsights(w http.ResponseWriter, r *http.Request) {
	user, _, err := a.currentUser(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	batch, err := a.insights.ListRecent(user.ID, 50)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httpinfra.WriteJSON(w, map[string]any{"success": true, "insights": insightDTOs(batch)})
}

func (a *application) handleGenerateHabits(w http.ResponseWriter, r *http.Request) {
	user, loc, err := a.currentUser(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	batch, err := a.habits.GenerateDaily(r.Context(), user.ID, time.Now(), loc)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httpinfra.WriteJSON(w, map[string]any{"success": true, "habits": len(batch)})
}

func (a *application) handleHabitsToday(w http.ResponseWriter, r *http.Request) {
	user, loc, err := a.currentUser(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	batch, err := a.habits.ListForToday(user.ID, time.Now(), loc)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httpinfra.WriteJSON(w, map[string]any{"success": true, "habits": habitDTOs(batch)})
}

func (a *application) handleStreak(w http.ResponseWriter, r *http.Request) {
	user, loc, err := a.currentUser(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	streak, err := a.habits.Streak(user.ID, time.Now(), loc)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httpinfra.WriteJSON(w, map[string]any{"success": true, "streak": streak})
}

func (a *application) handleComplete(w http.ResponseWriter, r *http.Request) {
	user, _, err := a.currentUser(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := a.habits.Complete(user.ID, chi.URLParam(r, "habitID"), time.Now()); err != nil {
		writeDomainError(w, err)
		return
	}
	httpinfra.WriteJSON(w, map[string]any{"success": true})
}

func (a *application) handleUncomplete(w http.ResponseWriter, r *http.Request) {
	user, _, err := a.currentUser(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := a.habits.Uncomplete(user.ID, chi.URLParam(r, "habitID")); err != nil {
		writeDomainError(w, err)
		return
	}
	httpinfra.WriteJSON(w, map[string]any{"success": true})
}

func (a *application) handleUpdateTimezone(w http.ResponseWriter, r *http.Request) {
	externalID, ok := httpinfra.ExternalUserID(r)
	if !ok {
		writeDomainError(w, domain.ErrUnauthorized)
		return
	}
	defer r.Body.Close()
	var req struct {
		Timezone string `json:"timezone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, fmt.Errorf("некорректное тело запроса"))
		return
	}
	if err := a.schedule.UpdateTimezone(r.Context(), externalID, req.Timezone); err != nil {
		writeDomainError(w, err)
		return
	}
	httpinfra.WriteJSON(w, map[string]any{"success": true})
}

func (a *application) handleUpdateDailyTime(w http.ResponseWriter, r *http.Request) {
	externalID, ok := httpinfra.ExternalUserID(r)
	if !ok {
		writeDomainError(w, domain.ErrUnauthorized)
		return
	}
	defer r.Body.Close()
	var req struct {
		Time string `json:"time"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, fmt.Errorf("некорректное тело запроса"))
		return
	}
	local, err := time.Parse("15:04", req.Time)
	if err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, fmt.Errorf("некорректный формат времени, ожидается HH:MM"))
		return
	}
	if err := a.schedule.UpdateDailyTime(r.Context(), externalID, local); err != nil {
		writeDomainError(w, err)
		return
	}
	httpinfra.WriteJSON(w, map[string]any{"success": true})
}

func (a *application) handleLinkTelegramChat(w http.ResponseWriter, r *http.Request) {
	externalID, ok := httpinfra.ExternalUserID(r)
	if !ok {
		writeDomainError(w, domain.ErrUnauthorized)
		return
	}
	defer r.Body.Close()
	var req struct {
		ChatID int64 `json:"chatId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, fmt.Errorf("некорректное тело запроса"))
		return
	}
	if req.ChatID == 0 {
		httpinfra.WriteError(w, http.StatusBadRequest, fmt.Errorf("некорректный идентификатор чата"))
		return
	}
	if err := a.schedule.LinkTelegramChat(r.Context(), externalID, req.ChatID); err != nil {
		writeDomainError(w, err)
		return
	}
	httpinfra.WriteJSON(w, map[string]any{"success": true})
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		httpinfra.WriteError(w, http.StatusUnauthorized, err)
	case errors.Is(err, domain.ErrNoHistory),
		errors.Is(err, domain.ErrNoProviderToken),
		errors.Is(err, domain.ErrUpstream),
		errors.Is(err, schedule.ErrInvalidTimezone):
		httpinfra.WriteError(w, http.StatusBadRequest, err)
	default:
		httpinfra.WriteError(w, http.StatusInternalServerError, err)
	}
}

type habitJSON struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	Category    string `json:"category"`
	Date        string `json:"date"`
	IsActive    bool   `json:"isActive"`
	Completed   bool   `json:"completed"`
}

func habitDTOs(batch []domain.Habit) []habitJSON {
	out := make([]habitJSON, 0, len(batch))
	for _, habit := range batch {
		out = append(out, habitJSON{
			ID:          habit.ID,
			Title:       habit.Title,
			Description: habit.Description,
			Priority:    habit.Priority,
			Category:    habit.Category,
			Date:        habit.Date.Format("2006-01-02"),
			IsActive:    habit.IsActive,
			Completed:   habit.Completed,
		})
	}
	return out
}

type insightJSON struct {
	ID          string          `json:"id"`
	InsightType string          `json:"insightType"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Data        json.RawMessage `json:"data"`
	CreatedAt   time.Time       `json:"createdAt"`
}

func insightDTOs(batch []domain.Insight) []insightJSON {
	out := make([]insightJSON, 0, len(batch))
	for _, insight := range batch {
		data := insight.Data
		if len(data) == 0 {
			data = []byte("{}")
		}
		out = append(out, insightJSON{
			ID:          insight.ID,
			InsightType: insight.InsightType,
			Title:       insight.Title,
			Description: insight.Description,
			Data:        json.RawMessage(data),
			CreatedAt:   insight.CreatedAt,
		})
	}
	return out
}

type bucketJSON struct {
	Day     string `json:"day"`
	Minutes int    `json:"minutes"`
}

type shareJSON struct {
	Class   string `json:"class"`
	Percent int    `json:"percent"`
}

func snapshotDTO(snapshot domain.AggregateSnapshot, streak int) map[string]any {
	buckets := make([]bucketJSON, 0, len(snapshot.DailyBuckets))
	for _, bucket := range snapshot.DailyBuckets {
		buckets = append(buckets, bucketJSON{Day: bucket.Day, Minutes: bucket.Minutes})
	}
	shares := make([]shareJSON, 0, len(snapshot.LengthShares))
	for _, share := range snapshot.LengthShares {
		shares = append(shares, shareJSON{Class: share.Class, Percent: share.Percent})
	}
	return map[string]any{
		"windowStart":         snapshot.WindowStart,
		"windowEnd":           snapshot.WindowEnd,
		"videoCount":          snapshot.VideoCount,
		"totalWatchSeconds":   snapshot.TotalWatchSeconds,
		"todayWatchSeconds":   snapshot.TodayWatchSeconds,
		"averageVideoSeconds": snapshot.AverageVideoSeconds,
		"dailyBuckets":        buckets,
		"lengthShares":        shares,
		"lateNightShare":      snapshot.LateNightShare,
		"topChannels":         snapshot.TopChannels,
		"streak":              streak,
	}
}
