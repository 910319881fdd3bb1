package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"yt-insights/internal/domain"
)

// RedisHabitQueue реализует очередь задач на базе Redis lists.
type RedisHabitQueue struct {
	client *redis.Client
	key    string
}

// NewRedisHabitQueue создаёт очередь по указанному ключу.
func NewRedisHabitQueue(client *redis.Client, key string) *RedisHabitQueue {
	return &RedisHabitQueue{client: client, key: key}
}

// Enqueue публикует задачу в очередь.
func (q *RedisHabitQueue) Enqueue(ctx context.Context, job domain.HabitJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Pop блокирующе читает задачу из очереди.
func (q *RedisHabitQueue) Pop(ctx context.Context) (domain.HabitJob, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.HabitJob{}, err
		}

		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.HabitJob{}, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.HabitJob{}, err
		}
		if len(res) != 2 {
			return domain.HabitJob{}, errors.New("redis queue: unexpected response")
		}
		var job domain.HabitJob
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			return domain.HabitJob{}, fmt.Errorf("decode job: %w", err)
		}
		return job, nil
	}
}
