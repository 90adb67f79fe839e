package correlation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"conversions/models"
)

// HTTPLookup queries a remote cookie store: GET <url>?key=<key> answers
// {"fbp": ..., "fbc": ...} or 404.
type HTTPLookup struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewHTTPLookup(baseURL string, timeout time.Duration) *HTTPLookup {
	return &HTTPLookup{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

func (l *HTTPLookup) Get(ctx context.Context, key string) (models.CorrelationRecord, error) {
	u, err := url.Parse(l.BaseURL)
	if err != nil {
		return models.CorrelationRecord{}, fmt.Errorf("invalid lookup url: %w", err)
	}
	q := u.Query()
	q.Set("key", key)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return models.CorrelationRecord{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.HTTPClient.Do(req)
	if err != nil {
		return models.CorrelationRecord{}, fmt.Errorf("lookup request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return models.CorrelationRecord{}, ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return models.CorrelationRecord{}, fmt.Errorf("lookup failed status=%d body=%s", resp.StatusCode, string(b))
	}

	var rec models.CorrelationRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return models.CorrelationRecord{}, fmt.Errorf("failed to decode lookup response: %w", err)
	}
	return rec, nil
}
