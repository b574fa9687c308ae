package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const maxFeedBytes = 32 << 20

// Fetcher downloads the source feed.
type Fetcher struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// NewFetcher creates a fetcher for url. Subscription URLs (webcal://) are
// fetched over HTTPS.
func NewFetcher(url string, timeout time.Duration, logger *zap.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		url:    NormalizeURL(url),
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// NormalizeURL maps webcal:// and webcals:// to https://.
func NormalizeURL(url string) string {
	url = strings.TrimSpace(url)
	lower := strings.ToLower(url)
	for _, scheme := range []string{"webcals://", "webcal://"} {
		if strings.HasPrefix(lower, scheme) {
			return "https://" + url[len(scheme):]
		}
	}
	return url
}

// Fetch returns the raw feed body.
func (f *Fetcher) Fetch(ctx context.Context) ([]byte, error) {
	if f.url == "" {
		return nil, errors.New("feed url is empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/calendar, */*;q=0.5")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch feed: unexpected status %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read feed: %w", err)
	}
	if len(body) > maxFeedBytes {
		return nil, fmt.Errorf("feed exceeds %d bytes", maxFeedBytes)
	}

	f.logger.Info("feed fetched",
		zap.String("host", req.URL.Host),
		zap.Int("bytes", len(body)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return body, nil
}
