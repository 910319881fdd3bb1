package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"yt-insights/internal/adapters/notify"
	"yt-insights/internal/adapters/repo"
	"yt-insights/internal/domain"
	"yt-insights/internal/infra/config"
	"yt-insights/internal/infra/db"
	infralog "yt-insights/internal/infra/log"
	"yt-insights/internal/infra/metrics"
	"yt-insights/internal/infra/openai"
	"yt-insights/internal/infra/queue"
	"yt-insights/internal/usecase/habits"
)

func main() {
	cfg := config.Load()
	logger := infralog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: нет подключения к БД")
	}
	defer pool.Close()

	var jobs domain.HabitQueue
	if cfg.AMQPURL != "" {
		rabbit, err := queue.NewRabbitHabitQueue(cfg.AMQPURL, cfg.Queues.Habits)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: нет подключения к брокеру")
		}
		defer rabbit.Close()
		jobs = rabbit
	} else {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		jobs = queue.NewRedisHabitQueue(redisClient, cfg.Queues.Habits)
	}

	var notifier domain.Notifier
	if cfg.Telegram.Token != "" {
		botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: не удалось создать Telegram бота")
		}
		notifier = notify.NewTelegram(botAPI)
	}

	repoAdapter := repo.NewPostgres(pool)
	llm := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Timeout)
	habitService := habits.NewService(repoAdapter, repoAdapter, llm, cfg.OpenAI.Model, cfg.OpenAI.Timeout, cfg.Limits.WindowDays, cfg.Limits.HabitsMax, logger.With().Str("component", "habits").Logger())

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), ":9090")

	logger.Info().Msg("worker: старт")
	for {
		job, err := jobs.Pop(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				logger.Info().Msg("worker: остановка")
				return
			}
			logger.Error().Err(err).Msg("worker: ошибка чтения очереди")
			time.Sleep(time.Second)
			continue
		}
		process(ctx, logger, repoAdapter, habitService, notifier, job)
	}
}

// process генерирует дневной батч привычек для пользователя из задания и
// отправляет уведомление, если привязан чат Telegram. Пользователь без
// истории просмотров не ошибка: батч просто не создаётся.
func process(ctx context.Context, logger zerolog.Logger, users domain.UserRepo, habitService *habits.Service, notifier domain.Notifier, job domain.HabitJob) {
	user, err := users.GetByID(job.UserID)
	if err != nil {
		logger.Error().Err(err).Int64("user", job.UserID).Msg("worker: пользователь не найден")
		return
	}
	loc := time.UTC
	if user.Timezone != "" {
		if parsed, err := time.LoadLocation(user.Timezone); err == nil {
			loc = parsed
		}
	}

	batch, err := habitService.GenerateDaily(ctx, user.ID, time.Now(), loc)
	if err != nil {
		if errors.Is(err, domain.ErrNoHistory) {
			logger.Info().Int64("user", user.ID).Msg("worker: нет истории просмотров, пропускаем")
			return
		}
		logger.Error().Err(err).Int64("user", user.ID).Msg("worker: не удалось сгенерировать привычки")
		return
	}

	if notifier == nil || user.TGChatID == 0 {
		return
	}
	if err := notifier.NotifyHabits(user.TGChatID, batch); err != nil {
		logger.Error().Err(err).Int64("user", user.ID).Msg("worker: не удалось отправить уведомление")
	}
}
