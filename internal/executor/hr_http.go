package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sony/gobreaker"

	"github.com/saihai-hitl/coordinator/internal/action"
)

const hrRequestTimeout = 10 * time.Second

// httpHRProvider posts an HR request to a configured HTTP endpoint with a
// short timeout. The call is wrapped in a circuit breaker, since the
// coordinator can drive many concurrent executions against the same
// downstream HR system.
type httpHRProvider struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewHTTPHRProvider builds an HR provider that POSTs JSON to url.
func NewHTTPHRProvider(url string) HRProvider {
	return &httpHRProvider{
		url:    url,
		client: &http.Client{Timeout: hrRequestTimeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "hr-provider",
			MaxRequests: 1,
			Interval:    30 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
}

func (p *httpHRProvider) Submit(ctx context.Context, payload action.HRPayload) (map[string]any, error) {
	if p.url == "" {
		return nil, errors.New("HR_API_URL is not configured")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal HR payload")
	}

	result, err := p.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
		if err != nil {
			return nil, errors.Wrap(err, "failed to build HR request")
		}
		req.Header.Set("Content-Type", "application/json; charset=utf-8")

		resp, err := p.client.Do(req)
		if err != nil {
			return nil, errors.Wrap(err, "HR API error")
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read HR response body")
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, errors.Errorf("HR API error: status %d: %s", resp.StatusCode, string(respBody))
		}

		var parsed map[string]any
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return map[string]any{"status": "accepted", "raw": string(respBody)}, nil
		}
		return parsed, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(map[string]any), nil
}
