package youtube

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"yt-insights/internal/domain"
	"yt-insights/internal/infra/metrics"
)

const defaultBaseURL = "https://www.googleapis.com/youtube/v3"

// Client обращается к YouTube Data API.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
}

var _ domain.HistorySource = (*Client)(nil)

// NewClient создаёт клиента YouTube Data API.
func NewClient(apiKey, baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

type playlistItemsResponse struct {
	Items []struct {
		Snippet struct {
			ResourceID struct {
				VideoID string `json:"videoId"`
			} `json:"resourceId"`
		} `json:"snippet"`
	} `json:"items"`
}

type videosResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			Title        string `json:"title"`
			ChannelTitle string `json:"channelTitle"`
			CategoryID   string `json:"categoryId"`
		} `json:"snippet"`
		ContentDetails struct {
			Duration string `json:"duration"`
		} `json:"contentDetails"`
	} `json:"items"`
}

// RecentHistory возвращает последние элементы истории просмотров.
// Плейлист HL доступен только с OAuth-токеном пользователя.
func (c *Client) RecentHistory(ctx context.Context, accessToken string, limit int) ([]domain.HistoryItem, error) {
	if accessToken == "" {
		return nil, domain.ErrNoProviderToken
	}
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	query := url.Values{}
	query.Set("part", "snippet,contentDetails")
	query.Set("playlistId", "HL")
	query.Set("maxResults", fmt.Sprintf("%d", limit))
	query.Set("key", c.apiKey)

	var parsed playlistItemsResponse
	if err := c.get(ctx, "playlistItems", query, accessToken, &parsed); err != nil {
		return nil, err
	}
	items := make([]domain.HistoryItem, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		items = append(items, domain.HistoryItem{VideoID: item.Snippet.ResourceID.VideoID})
	}
	return items, nil
}

// VideoDetails возвращает детали для пачки видео по их идентификаторам.
func (c *Client) VideoDetails(ctx context.Context, ids []string) ([]domain.VideoDetails, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := url.Values{}
	query.Set("part", "snippet,contentDetails")
	query.Set("id", strings.Join(ids, ","))
	query.Set("key", c.apiKey)

	var parsed videosResponse
	if err := c.get(ctx, "videos", query, "", &parsed); err != nil {
		return nil, err
	}
	details := make([]domain.VideoDetails, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		details = append(details, domain.VideoDetails{
			ID:              item.ID,
			Title:           item.Snippet.Title,
			ChannelTitle:    item.Snippet.ChannelTitle,
			DurationSeconds: ParseISODuration(item.ContentDetails.Duration),
			CategoryID:      item.Snippet.CategoryID,
		})
	}
	return details, nil
}

func (c *Client) get(ctx context.Context, resource string, query url.Values, accessToken string, out any) error {
	endpoint := fmt.Sprintf("%s/%s?%s", c.baseURL, resource, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("youtube: build request: %w", err)
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest("youtube", resource, resource, start, err)
		return fmt.Errorf("%w: youtube: %v", domain.ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ObserveNetworkRequest("youtube", resource, resource, start, err)
		return fmt.Errorf("%w: youtube: read response: %v", domain.ErrUpstream, err)
	}
	if resp.StatusCode >= 400 {
		err = fmt.Errorf("%w: youtube: status %d: %s", domain.ErrUpstream, resp.StatusCode, strings.TrimSpace(clip(string(body), 256)))
		metrics.ObserveNetworkRequest("youtube", resource, resource, start, err)
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		metrics.ObserveNetworkRequest("youtube", resource, resource, start, err)
		return fmt.Errorf("youtube: decode response: %w", err)
	}
	metrics.ObserveNetworkRequest("youtube", resource, resource, start, nil)
	return nil
}

func clip(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
