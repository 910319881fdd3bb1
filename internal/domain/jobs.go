package domain

import "time"

// HabitJob описывает задание на ежедневную генерацию привычек.
type HabitJob struct {
	UserID       int64     `json:"user_id"`
	ScheduledFor time.Time `json:"scheduled_for"`
}
