package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"yt-insights/internal/domain"
)

type stubSource struct {
	items   []domain.HistoryItem
	details []domain.VideoDetails

	historyErr error
	detailsErr error

	requestedIDs []string
}

func (s *stubSource) RecentHistory(ctx context.Context, accessToken string, limit int) ([]domain.HistoryItem, error) {
	return s.items, s.historyErr
}

func (s *stubSource) VideoDetails(ctx context.Context, ids []string) ([]domain.VideoDetails, error) {
	s.requestedIDs = ids
	return s.details, s.detailsErr
}

type stubWatchRepo struct {
	saved   []domain.WatchRecord
	saveErr error
}

func (r *stubWatchRepo) SaveRecords(userID int64, records []domain.WatchRecord) error {
	r.saved = append(r.saved, records...)
	return r.saveErr
}

func (r *stubWatchRepo) ListSince(userID int64, since time.Time) ([]domain.WatchRecord, error) {
	return nil, nil
}

func TestSyncUserSkipsItemsWithoutID(t *testing.T) {
	source := &stubSource{
		items: []domain.HistoryItem{{VideoID: "a"}, {VideoID: ""}, {VideoID: "b"}},
		details: []domain.VideoDetails{
			{ID: "a", Title: "A", ChannelTitle: "ch", DurationSeconds: 60},
			{ID: "b", Title: "B", ChannelTitle: "ch", DurationSeconds: 45},
		},
	}
	repo := &stubWatchRepo{}
	service := NewService(source, repo, 50)

	processed, err := service.SyncUser(context.Background(), 1, "token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if processed != 3 {
		t.Fatalf("expected 3 processed items, got %d", processed)
	}
	if len(source.requestedIDs) != 2 {
		t.Fatalf("expected 2 detail lookups, got %v", source.requestedIDs)
	}
	if len(repo.saved) != 2 {
		t.Fatalf("expected 2 saved records, got %d", len(repo.saved))
	}
	if repo.saved[0].DurationSeconds != 60 || repo.saved[1].DurationSeconds != 45 {
		t.Fatalf("unexpected durations: %+v", repo.saved)
	}
}

func TestSyncUserSingleTimestampPerBatch(t *testing.T) {
	source := &stubSource{
		items: []domain.HistoryItem{{VideoID: "a"}, {VideoID: "b"}},
		details: []domain.VideoDetails{
			{ID: "a", DurationSeconds: 60},
			{ID: "b", DurationSeconds: 120},
		},
	}
	repo := &stubWatchRepo{}
	service := NewService(source, repo, 50)
	fixed := time.Date(2026, 8, 31, 12, 0, 0, 123456789, time.UTC)
	service.now = func() time.Time { return fixed }

	if _, err := service.SyncUser(context.Background(), 1, "token"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := fixed.Truncate(time.Second)
	for _, record := range repo.saved {
		if !record.WatchedAt.Equal(want) {
			t.Fatalf("expected shared timestamp %v, got %v", want, record.WatchedAt)
		}
	}
}

func TestSyncUserHistoryError(t *testing.T) {
	source := &stubSource{historyErr: domain.ErrUpstream}
	repo := &stubWatchRepo{}
	service := NewService(source, repo, 50)

	_, err := service.SyncUser(context.Background(), 1, "token")
	if !errors.Is(err, domain.ErrUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if len(repo.saved) != 0 {
		t.Fatalf("expected no saved records after upstream failure")
	}
}

func TestSyncUserEmptyIDsSkipsDetails(t *testing.T) {
	source := &stubSource{items: []domain.HistoryItem{{VideoID: ""}}}
	repo := &stubWatchRepo{}
	service := NewService(source, repo, 50)

	processed, err := service.SyncUser(context.Background(), 1, "token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if processed != 1 {
		t.Fatalf("expected 1 processed item, got %d", processed)
	}
	if source.requestedIDs != nil {
		t.Fatalf("details should not be requested for empty batch")
	}
}
