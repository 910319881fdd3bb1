package habits

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"yt-insights/internal/domain"
	openai "yt-insights/internal/infra/openai"
)

type stubWatchRepo struct {
	records []domain.WatchRecord
	listErr error
}

func (r *stubWatchRepo) SaveRecords(userID int64, records []domain.WatchRecord) error { return nil }

func (r *stubWatchRepo) ListSince(userID int64, since time.Time) ([]domain.WatchRecord, error) {
	return r.records, r.listErr
}

type stubHabitRepo struct {
	created     []domain.Habit
	deactivated []time.Time
	completions []domain.HabitCompletion
	removed     []string
}

func (r *stubHabitRepo) CreateHabits(habits []domain.Habit) error {
	r.created = append(r.created, habits...)
	return nil
}

func (r *stubHabitRepo) DeactivateBefore(userID int64, day time.Time) error {
	r.deactivated = append(r.deactivated, day)
	return nil
}

func (r *stubHabitRepo) ListForDate(userID int64, day time.Time) ([]domain.Habit, error) {
	return nil, nil
}

func (r *stubHabitRepo) AddCompletion(completion domain.HabitCompletion) error {
	r.completions = append(r.completions, completion)
	return nil
}

func (r *stubHabitRepo) RemoveCompletion(habitID string, userID int64) error {
	r.removed = append(r.removed, habitID)
	return nil
}

func (r *stubHabitRepo) ListCompletions(userID int64, from time.Time) ([]domain.HabitCompletion, error) {
	return r.completions, nil
}

type stubChat struct {
	content string
	err     error
}

func (c *stubChat) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if c.err != nil {
		return openai.ChatCompletionResponse{}, c.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatMessage{Content: c.content}}},
	}, nil
}

func watchRecords(n int) []domain.WatchRecord {
	records := make([]domain.WatchRecord, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, domain.WatchRecord{VideoID: "v", DurationSeconds: 300})
	}
	return records
}

func newTestService(watches domain.WatchRepo, habitRepo domain.HabitRepo, chat chatClient) *Service {
	return NewService(watches, habitRepo, chat, "test-model", time.Second, 7, maxHabits, zerolog.Nop())
}

const validResponse = "```json\n" +
	`[{"title":"Лимит Shorts","priority":"high","category":"контроль","description":"15 минут"},` +
	`{"title":"Обучающее видео","priority":"medium","category":"обучение","description":"одно в день"},` +
	`{"title":"Стоп после 22:00","priority":"high","category":"сон","description":"без вечерних сессий"}]` +
	"\n```"

func TestGenerateDailyNoHistory(t *testing.T) {
	service := newTestService(&stubWatchRepo{}, &stubHabitRepo{}, &stubChat{content: validResponse})

	_, err := service.GenerateDaily(context.Background(), 1, time.Now(), time.UTC)
	if !errors.Is(err, domain.ErrNoHistory) {
		t.Fatalf("expected ErrNoHistory, got %v", err)
	}
}

func TestGenerateDailyParsesFencedResponse(t *testing.T) {
	habitRepo := &stubHabitRepo{}
	service := newTestService(&stubWatchRepo{records: watchRecords(5)}, habitRepo, &stubChat{content: validResponse})
	now := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)

	batch, err := service.GenerateDaily(context.Background(), 1, now, time.UTC)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batch) != 3 {
		t.Fatalf("expected 3 habits, got %d", len(batch))
	}
	if batch[0].Title != "Лимит Shorts" || batch[0].Priority != domain.HabitPriorityHigh {
		t.Fatalf("unexpected first habit: %+v", batch[0])
	}
	today := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	for _, habit := range batch {
		if habit.ID == "" {
			t.Fatalf("habit without id: %+v", habit)
		}
		if !habit.Date.Equal(today) || !habit.IsActive {
			t.Fatalf("habit not stamped for today: %+v", habit)
		}
	}
	if len(habitRepo.deactivated) != 1 || !habitRepo.deactivated[0].Equal(today) {
		t.Fatalf("expected deactivation before %v, got %v", today, habitRepo.deactivated)
	}
	if len(habitRepo.created) != 3 {
		t.Fatalf("expected 3 created habits, got %d", len(habitRepo.created))
	}
}

func TestGenerateDailyFallsBackOnTransportError(t *testing.T) {
	habitRepo := &stubHabitRepo{}
	service := newTestService(&stubWatchRepo{records: watchRecords(5)}, habitRepo, &stubChat{err: errors.New("connection refused")})
	now := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)

	batch, err := service.GenerateDaily(context.Background(), 1, now, time.UTC)
	if err != nil {
		t.Fatalf("expected fallback instead of error, got %v", err)
	}
	if len(batch) != 3 {
		t.Fatalf("expected 3 default habits, got %d", len(batch))
	}
	for _, habit := range batch {
		if !habit.IsActive {
			t.Fatalf("default habit must be active: %+v", habit)
		}
	}
	if len(habitRepo.created) != 3 {
		t.Fatalf("default batch must be persisted, got %d", len(habitRepo.created))
	}
}

func TestGenerateDailyFallsBackOnMalformedJSON(t *testing.T) {
	service := newTestService(&stubWatchRepo{records: watchRecords(5)}, &stubHabitRepo{}, &stubChat{content: "не json"})

	batch, err := service.GenerateDaily(context.Background(), 1, time.Now(), time.UTC)
	if err != nil {
		t.Fatalf("expected fallback instead of error, got %v", err)
	}
	if len(batch) != 3 {
		t.Fatalf("expected 3 default habits, got %d", len(batch))
	}
}

func TestParseHabitsTruncatesOversizedBatch(t *testing.T) {
	content := `[` +
		`{"title":"1"},{"title":"2"},{"title":"3"},{"title":"4"},{"title":"5"},{"title":"6"},{"title":"7"}` +
		`]`
	parsed, err := parseHabits(content, maxHabits)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(parsed) != maxHabits {
		t.Fatalf("expected batch truncated to %d, got %d", maxHabits, len(parsed))
	}
}

func TestParseHabitsHonorsConfiguredMaximum(t *testing.T) {
	content := `[{"title":"1"},{"title":"2"},{"title":"3"},{"title":"4"},{"title":"5"}]`
	parsed, err := parseHabits(content, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(parsed) != 4 {
		t.Fatalf("expected batch truncated to 4, got %d", len(parsed))
	}
}

func TestParseHabitsRejectsSmallBatch(t *testing.T) {
	content := `[{"title":"одна"},{"title":""},{"title":"  "}]`
	if _, err := parseHabits(content, maxHabits); err == nil {
		t.Fatalf("expected error for batch below minimum")
	}
}

func TestNormalizePriority(t *testing.T) {
	cases := map[string]string{
		"high":     domain.HabitPriorityHigh,
		"LOW":      domain.HabitPriorityLow,
		"medium":   domain.HabitPriorityMedium,
		"urgent":   domain.HabitPriorityMedium,
		"":         domain.HabitPriorityMedium,
		" high   ": domain.HabitPriorityHigh,
	}
	for raw, want := range cases {
		if got := normalizePriority(raw); got != want {
			t.Fatalf("priority %q: expected %q, got %q", raw, want, got)
		}
	}
}

func TestStreakWalksConsecutiveDays(t *testing.T) {
	now := time.Date(2026, 8, 31, 15, 0, 0, 0, time.UTC)
	habitRepo := &stubHabitRepo{completions: []domain.HabitCompletion{
		{CompletedAt: now},
		{CompletedAt: now.AddDate(0, 0, -1)},
		{CompletedAt: now.AddDate(0, 0, -2)},
		{CompletedAt: now.AddDate(0, 0, -4)}, // разрыв
	}}
	service := newTestService(&stubWatchRepo{}, habitRepo, &stubChat{})

	streak, err := service.Streak(1, now, time.UTC)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if streak != 3 {
		t.Fatalf("expected streak 3, got %d", streak)
	}
}

func TestStreakStartsYesterdayWhenTodayUnmarked(t *testing.T) {
	now := time.Date(2026, 8, 31, 8, 0, 0, 0, time.UTC)
	habitRepo := &stubHabitRepo{completions: []domain.HabitCompletion{
		{CompletedAt: now.AddDate(0, 0, -1)},
		{CompletedAt: now.AddDate(0, 0, -2)},
	}}
	service := newTestService(&stubWatchRepo{}, habitRepo, &stubChat{})

	streak, err := service.Streak(1, now, time.UTC)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if streak != 2 {
		t.Fatalf("expected streak 2, got %d", streak)
	}
}

func TestStreakZeroWithoutCompletions(t *testing.T) {
	service := newTestService(&stubWatchRepo{}, &stubHabitRepo{}, &stubChat{})

	streak, err := service.Streak(1, time.Now(), time.UTC)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if streak != 0 {
		t.Fatalf("expected zero streak, got %d", streak)
	}
}

func TestCompleteRejectsEmptyID(t *testing.T) {
	service := newTestService(&stubWatchRepo{}, &stubHabitRepo{}, &stubChat{})
	if err := service.Complete(1, "", time.Now()); err == nil {
		t.Fatalf("expected error for empty habit id")
	}
}
