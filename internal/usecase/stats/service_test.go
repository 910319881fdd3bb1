package stats

import (
	"testing"
	"time"

	"yt-insights/internal/domain"
)

func record(videoID, channel string, seconds int, watchedAt time.Time) domain.WatchRecord {
	return domain.WatchRecord{
		VideoID:         videoID,
		Channel:         channel,
		DurationSeconds: seconds,
		WatchedAt:       watchedAt,
	}
}

func TestBuildEmptyWindow(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	snapshot := Build(nil, now, time.UTC, 7, 5)

	if snapshot.VideoCount != 0 || snapshot.TotalWatchSeconds != 0 {
		t.Fatalf("expected zero snapshot, got %+v", snapshot)
	}
	if snapshot.AverageVideoSeconds != 0 || snapshot.LateNightShare != 0 {
		t.Fatalf("expected zero derived values, got %+v", snapshot)
	}
	if snapshot.LengthShares != nil {
		t.Fatalf("expected nil length shares for empty window, got %v", snapshot.LengthShares)
	}
	if len(snapshot.DailyBuckets) != 7 {
		t.Fatalf("expected 7 daily buckets, got %d", len(snapshot.DailyBuckets))
	}
	for _, bucket := range snapshot.DailyBuckets {
		if bucket.Minutes != 0 {
			t.Fatalf("expected empty bucket, got %+v", bucket)
		}
	}
}

func TestBuildDailyBucketsOrder(t *testing.T) {
	// понедельник
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	records := []domain.WatchRecord{
		record("a", "ch", 600, now),                   // сегодня, 10 минут
		record("b", "ch", 300, now.AddDate(0, 0, -6)), // самый старый слот, 5 минут
	}
	snapshot := Build(records, now, time.UTC, 7, 5)

	if len(snapshot.DailyBuckets) != 7 {
		t.Fatalf("expected 7 buckets, got %d", len(snapshot.DailyBuckets))
	}
	first, last := snapshot.DailyBuckets[0], snapshot.DailyBuckets[6]
	if first.Day != "Tue" || first.Minutes != 5 {
		t.Fatalf("unexpected oldest bucket: %+v", first)
	}
	if last.Day != "Mon" || last.Minutes != 10 {
		t.Fatalf("unexpected today bucket: %+v", last)
	}
	if snapshot.TodayWatchSeconds != 600 {
		t.Fatalf("expected 600 seconds today, got %d", snapshot.TodayWatchSeconds)
	}
}

func TestBuildExcludesRecordsBeforeOldestBucket(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	records := []domain.WatchRecord{
		record("a", "ch", 600, time.Date(2026, 8, 25, 6, 0, 0, 0, time.UTC)),
		// внутри 7×24 часов, но календарная дата старше самого старого слота
		record("b", "ch", 600, time.Date(2026, 8, 24, 20, 0, 0, 0, time.UTC)),
	}
	snapshot := Build(records, now, time.UTC, 7, 5)

	if snapshot.VideoCount != 1 {
		t.Fatalf("expected 1 record in window, got %d", snapshot.VideoCount)
	}
	if snapshot.TotalWatchSeconds != 600 {
		t.Fatalf("expected 600 total seconds, got %d", snapshot.TotalWatchSeconds)
	}
	wantStart := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)
	if !snapshot.WindowStart.Equal(wantStart) {
		t.Fatalf("expected window start %v, got %v", wantStart, snapshot.WindowStart)
	}

	// суммы по корзинам сходятся с общим временем
	bucketMinutes := 0
	for _, bucket := range snapshot.DailyBuckets {
		bucketMinutes += bucket.Minutes
	}
	if bucketMinutes != snapshot.TotalWatchSeconds/60 {
		t.Fatalf("bucket sum %d does not match total %d minutes", bucketMinutes, snapshot.TotalWatchSeconds/60)
	}
}

func TestBuildLengthShares(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	records := []domain.WatchRecord{
		record("a", "ch", 30, now),  // short
		record("b", "ch", 90, now),  // medium
		record("c", "ch", 700, now), // long
	}
	snapshot := Build(records, now, time.UTC, 7, 5)

	want := map[string]int{
		domain.LengthClassShort:  4,
		domain.LengthClassMedium: 11,
		domain.LengthClassLong:   85,
	}
	if len(snapshot.LengthShares) != 3 {
		t.Fatalf("expected 3 shares, got %d", len(snapshot.LengthShares))
	}
	for _, share := range snapshot.LengthShares {
		if share.Percent != want[share.Class] {
			t.Fatalf("class %s: expected %d%%, got %d%%", share.Class, want[share.Class], share.Percent)
		}
	}
}

func TestBuildLateNightShare(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	records := []domain.WatchRecord{
		record("a", "ch", 60, time.Date(2026, 8, 30, 23, 30, 0, 0, time.UTC)),
		record("b", "ch", 60, time.Date(2026, 8, 31, 5, 59, 0, 0, time.UTC)),
		record("c", "ch", 60, time.Date(2026, 8, 31, 6, 0, 0, 0, time.UTC)),
		record("d", "ch", 60, time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)),
	}
	snapshot := Build(records, now, time.UTC, 7, 5)

	if snapshot.LateNightShare != 50 {
		t.Fatalf("expected 50%% late night, got %d%%", snapshot.LateNightShare)
	}
}

func TestBuildAverageRounding(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	records := []domain.WatchRecord{
		record("a", "ch", 10, now),
		record("b", "ch", 11, now),
	}
	snapshot := Build(records, now, time.UTC, 7, 5)

	// 10.5 округляется от нуля
	if snapshot.AverageVideoSeconds != 11 {
		t.Fatalf("expected average 11, got %d", snapshot.AverageVideoSeconds)
	}
}

func TestTopChannelsStableTieBreak(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	records := []domain.WatchRecord{
		record("a", "first", 60, now),
		record("b", "second", 60, now),
		record("c", "second", 60, now),
		record("d", "first", 60, now),
		record("e", "", 60, now), // без канала, не учитывается
		record("f", "third", 60, now),
	}
	snapshot := Build(records, now, time.UTC, 7, 2)

	if len(snapshot.TopChannels) != 2 {
		t.Fatalf("expected top list truncated to 2, got %d", len(snapshot.TopChannels))
	}
	// при равном счёте first появился раньше second
	if snapshot.TopChannels[0].Channel != "first" || snapshot.TopChannels[0].Count != 2 {
		t.Fatalf("unexpected leader: %+v", snapshot.TopChannels[0])
	}
	if snapshot.TopChannels[1].Channel != "second" || snapshot.TopChannels[1].Count != 2 {
		t.Fatalf("unexpected runner-up: %+v", snapshot.TopChannels[1])
	}
}

func TestBuildRespectsTimezone(t *testing.T) {
	// 23:30 UTC предыдущего дня — это 01:30 следующего в UTC+2:
	// запись попадает и в "сегодня", и в ночную долю
	loc := time.FixedZone("UTC+2", 2*3600)
	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	records := []domain.WatchRecord{
		record("a", "ch", 120, time.Date(2026, 8, 30, 23, 30, 0, 0, time.UTC)),
	}
	snapshot := Build(records, now, loc, 7, 5)

	if snapshot.TodayWatchSeconds != 120 {
		t.Fatalf("expected record counted as today in UTC+2, got %d seconds", snapshot.TodayWatchSeconds)
	}
	if snapshot.LateNightShare != 100 {
		t.Fatalf("expected 100%% late night in UTC+2, got %d%%", snapshot.LateNightShare)
	}
}
