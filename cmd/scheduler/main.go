package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"yt-insights/internal/adapters/repo"
	"yt-insights/internal/domain"
	"yt-insights/internal/infra/cache"
	"yt-insights/internal/infra/config"
	"yt-insights/internal/infra/db"
	infralog "yt-insights/internal/infra/log"
	"yt-insights/internal/infra/metrics"
	"yt-insights/internal/infra/queue"
)

// lockTTL не даёт поставить задание повторно в течение суток, даже если
// планировщик перезапустится в ту же минуту.
const lockTTL = 24 * time.Hour

func main() {
	cfg := config.Load()
	logger := infralog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: нет подключения к БД")
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	locks := cache.NewRedis(redisClient)

	var jobs domain.HabitQueue
	if cfg.AMQPURL != "" {
		rabbit, err := queue.NewRabbitHabitQueue(cfg.AMQPURL, cfg.Queues.Habits)
		if err != nil {
			logger.Fatal().Err(err).Msg("scheduler: нет подключения к брокеру")
		}
		defer rabbit.Close()
		jobs = rabbit
	} else {
		jobs = queue.NewRedisHabitQueue(redisClient, cfg.Queues.Habits)
	}

	repoAdapter := repo.NewPostgres(pool)

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), ":9090")

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	logger.Info().Msg("scheduler: старт")
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("scheduler: остановка")
			return
		case now := <-ticker.C:
			tick(ctx, logger, repoAdapter, locks, jobs, now)
		}
	}
}

// tick находит пользователей, у которых в их часовом поясе наступило время
// ежедневной генерации, и ставит по заданию на каждого. Замок в Redis
// гарантирует не больше одного задания на пользователя в день.
func tick(ctx context.Context, logger zerolog.Logger, users domain.UserRepo, locks domain.Cache, jobs domain.HabitQueue, now time.Time) {
	candidates, err := users.ListForDailyTime(now.UTC())
	if err != nil {
		logger.Error().Err(err).Msg("scheduler: ошибка выборки пользователей")
		return
	}
	for _, user := range candidates {
		if user.DailyTime == nil {
			continue
		}
		loc := time.UTC
		if user.Timezone != "" {
			if parsed, err := time.LoadLocation(user.Timezone); err == nil {
				loc = parsed
			}
		}
		local := now.In(loc)
		if local.Hour() != user.DailyTime.Hour() || local.Minute() != user.DailyTime.Minute() {
			continue
		}

		key := fmt.Sprintf("habitgen:%d:%s", user.ID, local.Format("2006-01-02"))
		err := locks.Once(key, lockTTL, func() error {
			return jobs.Enqueue(ctx, domain.HabitJob{UserID: user.ID, ScheduledFor: now.UTC()})
		})
		if err != nil {
			logger.Error().Err(err).Int64("user", user.ID).Msg("scheduler: не удалось поставить задание")
		}
	}
}
