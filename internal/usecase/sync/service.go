package sync

import (
	"context"
	"fmt"
	"time"

	"yt-insights/internal/domain"
	"yt-insights/internal/infra/metrics"
)

// Service выгружает историю просмотров и сохраняет её в каноническом виде.
type Service struct {
	source   domain.HistorySource
	watches  domain.WatchRepo
	maxItems int
	now      func() time.Time
}

// NewService создаёт сервис синхронизации.
func NewService(source domain.HistorySource, watches domain.WatchRepo, maxItems int) *Service {
	if maxItems <= 0 {
		maxItems = 50
	}
	return &Service{source: source, watches: watches, maxItems: maxItems, now: time.Now}
}

// SyncUser выгружает последние элементы истории, нормализует их и
// сохраняет батчем. Возвращает количество обработанных элементов истории.
// Повторная синхронизация тех же данных не создаёт дублей: ключ
// (user_id, video_id, watched_at) схлопывает их на уровне хранилища.
func (s *Service) SyncUser(ctx context.Context, userID int64, accessToken string) (int, error) {
	metrics.SyncRequestsTotal.Inc()

	items, err := s.source.RecentHistory(ctx, accessToken, s.maxItems)
	if err != nil {
		metrics.SyncErrors.Inc()
		return 0, fmt.Errorf("история просмотров: %w", err)
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		// элемент без идентификатора пропускается, батч продолжается
		if item.VideoID == "" {
			continue
		}
		ids = append(ids, item.VideoID)
	}
	if len(ids) == 0 {
		return len(items), nil
	}

	details, err := s.source.VideoDetails(ctx, ids)
	if err != nil {
		metrics.SyncErrors.Inc()
		return 0, fmt.Errorf("детали видео: %w", err)
	}

	// точного времени просмотра история не отдаёт, поэтому весь батч
	// штампуется временем синхронизации
	watchedAt := s.now().UTC().Truncate(time.Second)
	records := make([]domain.WatchRecord, 0, len(details))
	for _, video := range details {
		if video.ID == "" {
			continue
		}
		records = append(records, domain.WatchRecord{
			UserID:          userID,
			VideoID:         video.ID,
			Title:           video.Title,
			Channel:         video.ChannelTitle,
			DurationSeconds: video.DurationSeconds,
			CategoryID:      video.CategoryID,
			WatchedAt:       watchedAt,
		})
	}

	if len(records) > 0 {
		if err := s.watches.SaveRecords(userID, records); err != nil {
			metrics.SyncErrors.Inc()
			return 0, fmt.Errorf("сохранение просмотров: %w", err)
		}
	}
	metrics.SyncedVideosTotal.Add(float64(len(records)))
	return len(items), nil
}
