package notify

import (
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"yt-insights/internal/domain"
	"yt-insights/internal/infra/metrics"
)

// Telegram отправляет пользователю сгенерированные привычки в личный чат.
type Telegram struct {
	bot *tgbotapi.BotAPI
}

var _ domain.Notifier = (*Telegram)(nil)

// NewTelegram создаёт нотификатор поверх Bot API.
func NewTelegram(bot *tgbotapi.BotAPI) *Telegram {
	return &Telegram{bot: bot}
}

// NotifyHabits форматирует дневной батч привычек и отправляет его в чат.
func (t *Telegram) NotifyHabits(chatID int64, habits []domain.Habit) error {
	if chatID == 0 || len(habits) == 0 {
		return nil
	}
	for _, part := range SplitMessage(formatHabits(habits)) {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = tgbotapi.ModeHTML
		start := time.Now()
		_, err := t.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram", "send_message", "bot_api", start, err)
		if err != nil {
			metrics.NotifySendErrors.Inc()
			return fmt.Errorf("отправка уведомления: %w", err)
		}
	}
	return nil
}

func formatHabits(habits []domain.Habit) string {
	var builder strings.Builder
	builder.WriteString("🎯 <b>Привычки на сегодня</b>\n")
	for i, habit := range habits {
		builder.WriteString(fmt.Sprintf("\n%d. %s <b>%s</b>\n", i+1, priorityEmoji(habit.Priority), habit.Title))
		if habit.Description != "" {
			builder.WriteString(habit.Description)
			builder.WriteString("\n")
		}
	}
	return builder.String()
}

func priorityEmoji(priority string) string {
	switch priority {
	case domain.HabitPriorityHigh:
		return "🔴"
	case domain.HabitPriorityLow:
		return "🟢"
	default:
		return "🟡"
	}
}
