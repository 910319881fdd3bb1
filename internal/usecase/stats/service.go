package stats

import (
	"fmt"
	"math"
	"sort"
	"time"

	"yt-insights/internal/domain"
	"yt-insights/internal/infra/metrics"
)

const (
	defaultWindowDays  = 7
	defaultTopChannels = 5

	shortMaxSeconds = 60
	longMinSeconds  = 600
)

// Service строит агрегированные снимки по записям просмотров.
type Service struct {
	watches     domain.WatchRepo
	windowDays  int
	topChannels int
}

// NewService создаёт сервис статистики.
func NewService(watches domain.WatchRepo, windowDays, topChannels int) *Service {
	if windowDays <= 0 {
		windowDays = defaultWindowDays
	}
	if topChannels <= 0 {
		topChannels = defaultTopChannels
	}
	return &Service{watches: watches, windowDays: windowDays, topChannels: topChannels}
}

// Snapshot читает записи скользящего окна и считает статистику.
// Пустое окно даёт нулевой снимок, а не ошибку.
func (s *Service) Snapshot(userID int64, now time.Time, loc *time.Location) (domain.AggregateSnapshot, error) {
	if loc == nil {
		loc = time.UTC
	}
	records, err := s.watches.ListSince(userID, windowStart(now, loc, s.windowDays))
	if err != nil {
		return domain.AggregateSnapshot{}, fmt.Errorf("получение просмотров: %w", err)
	}
	start := time.Now()
	snapshot := Build(records, now, loc, s.windowDays, s.topChannels)
	metrics.SnapshotBuildSeconds.Observe(time.Since(start).Seconds())
	return snapshot, nil
}

// Build считает снимок по готовому набору записей.
// Момент "сейчас" и часовой пояс передаются явно, функция детерминированна.
func Build(records []domain.WatchRecord, now time.Time, loc *time.Location, windowDays, topLimit int) domain.AggregateSnapshot {
	if loc == nil {
		loc = time.UTC
	}
	if windowDays <= 0 {
		windowDays = defaultWindowDays
	}
	if topLimit <= 0 {
		topLimit = defaultTopChannels
	}

	// окно выравнивается по календарным датам в loc: запись раньше начала
	// самого старого слота не попадает ни в корзины, ни в суммы
	start := windowStart(now, loc, windowDays)
	inWindow := make([]domain.WatchRecord, 0, len(records))
	for _, record := range records {
		if record.WatchedAt.Before(start) {
			continue
		}
		inWindow = append(inWindow, record)
	}
	records = inWindow

	snapshot := domain.AggregateSnapshot{
		WindowStart:  start,
		WindowEnd:    now,
		VideoCount:   len(records),
		DailyBuckets: dailyBuckets(records, now, loc),
	}

	localNow := now.In(loc)
	lateNight := 0
	classSeconds := map[string]int{}
	for _, record := range records {
		snapshot.TotalWatchSeconds += record.DurationSeconds
		local := record.WatchedAt.In(loc)
		if sameDate(local, localNow) {
			snapshot.TodayWatchSeconds += record.DurationSeconds
		}
		if hour := local.Hour(); hour >= 23 || hour < 6 {
			lateNight++
		}
		classSeconds[lengthClass(record.DurationSeconds)] += record.DurationSeconds
	}

	if snapshot.VideoCount > 0 {
		snapshot.AverageVideoSeconds = roundToInt(float64(snapshot.TotalWatchSeconds) / float64(snapshot.VideoCount))
		snapshot.LateNightShare = roundToInt(float64(lateNight) / float64(snapshot.VideoCount) * 100)
	}
	snapshot.LengthShares = lengthShares(classSeconds, snapshot.TotalWatchSeconds)
	snapshot.TopChannels = topChannels(records, topLimit)
	return snapshot
}

// dailyBuckets строит 7 слотов по дням, последний слот — сегодня.
// Значения в минутах, дни без записей дают 0.
func dailyBuckets(records []domain.WatchRecord, now time.Time, loc *time.Location) []domain.DayBucket {
	localNow := now.In(loc)
	buckets := make([]domain.DayBucket, 0, 7)
	for offset := 6; offset >= 0; offset-- {
		day := localNow.AddDate(0, 0, -offset)
		seconds := 0
		for _, record := range records {
			if sameDate(record.WatchedAt.In(loc), day) {
				seconds += record.DurationSeconds
			}
		}
		buckets = append(buckets, domain.DayBucket{
			Day:     day.Weekday().String()[:3],
			Minutes: roundToInt(float64(seconds) / 60),
		})
	}
	return buckets
}

// lengthShares распределяет секунды по классам длительности в процентах.
// При нулевом суммарном времени распределение пустое, деления на ноль нет.
func lengthShares(classSeconds map[string]int, totalSeconds int) []domain.ClassShare {
	if totalSeconds <= 0 {
		return nil
	}
	shares := make([]domain.ClassShare, 0, 3)
	for _, class := range []string{domain.LengthClassShort, domain.LengthClassMedium, domain.LengthClassLong} {
		shares = append(shares, domain.ClassShare{
			Class:   class,
			Percent: roundToInt(float64(classSeconds[class]) / float64(totalSeconds) * 100),
		})
	}
	return shares
}

// topChannels группирует записи по каналу и возвращает до topLimit позиций.
// При равенстве счётчиков порядок определяется первым появлением канала.
func topChannels(records []domain.WatchRecord, topLimit int) []domain.ChannelCount {
	counts := map[string]int{}
	order := make([]string, 0)
	for _, record := range records {
		if record.Channel == "" {
			continue
		}
		if _, ok := counts[record.Channel]; !ok {
			order = append(order, record.Channel)
		}
		counts[record.Channel]++
	}

	top := make([]domain.ChannelCount, 0, len(order))
	for _, channel := range order {
		top = append(top, domain.ChannelCount{Channel: channel, Count: counts[channel]})
	}
	// стабильная сортировка сохраняет порядок первого появления при равных счётчиках
	sort.SliceStable(top, func(i, j int) bool { return top[i].Count > top[j].Count })
	if len(top) > topLimit {
		top = top[:topLimit]
	}
	return top
}

func lengthClass(seconds int) string {
	switch {
	case seconds < shortMaxSeconds:
		return domain.LengthClassShort
	case seconds < longMinSeconds:
		return domain.LengthClassMedium
	default:
		return domain.LengthClassLong
	}
}

// windowStart возвращает начало самого старого дневного слота окна
// в указанном часовом поясе.
func windowStart(now time.Time, loc *time.Location, windowDays int) time.Time {
	local := now.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return day.AddDate(0, 0, -(windowDays - 1))
}

func sameDate(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}

// roundToInt округляет до целого, половины уводятся от нуля.
func roundToInt(v float64) int {
	return int(math.Round(v))
}
