package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// CountSource reports the tracked account's post count for the current
// market window.
type CountSource interface {
	Count(ctx context.Context) (int, error)
}

// HTTPCountSource reads {"count": n} from a JSON endpoint.
type HTTPCountSource struct {
	httpClient *http.Client
	url        string
}

func NewHTTPCountSource(url string) *HTTPCountSource {
	return &HTTPCountSource{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		url:        url,
	}
}

type countResponse struct {
	Count *int `json:"count"`
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string   { return fmt.Sprintf("count source status=%d", e.StatusCode) }
func (e *StatusError) HTTPStatus() int { return e.StatusCode }

func (s *HTTPCountSource) Count(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		io.Copy(io.Discard, resp.Body)
		return 0, &StatusError{StatusCode: resp.StatusCode}
	}

	var body countResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode json: %w", err)
	}
	if body.Count == nil {
		return 0, fmt.Errorf("response has no count")
	}
	if *body.Count < 0 {
		return 0, fmt.Errorf("negative count %d", *body.Count)
	}
	return *body.Count, nil
}
