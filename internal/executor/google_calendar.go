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
	"github.com/saihai-hitl/coordinator/internal/credential"
)

const (
	googleCalendarInsertURL = "https://www.googleapis.com/calendar/v3/calendars/primary/events?conferenceDataVersion=1"
	googleCalendarTimeout   = 10 * time.Second
)

// googleCalendarProvider creates real Google Calendar events on behalf of
// a resolved owner credential: resolve the owner's token (refreshing
// within the 60-second skew), POST the canonical event object, and retry
// once without conferenceData if an insert carrying conferenceData fails
// (any insert error triggers the retry, conferencing-related or not).
type googleCalendarProvider struct {
	credentials credential.Store
	client      *http.Client
	defaultTZ   string
	insertURL   string
	breaker     *gobreaker.CircuitBreaker
}

// NewGoogleCalendarProvider builds a CalendarProvider backed by the real
// Google Calendar API. The insert call runs behind a circuit breaker with
// the same settings as the HR provider's, since the coordinator can drive
// many concurrent executions against the same calendar backend.
func NewGoogleCalendarProvider(credentials credential.Store, defaultTZ string) CalendarProvider {
	return &googleCalendarProvider{
		credentials: credentials,
		client:      &http.Client{Timeout: googleCalendarTimeout},
		defaultTZ:   defaultTZ,
		insertURL:   googleCalendarInsertURL,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "google-calendar",
			MaxRequests: 1,
			Interval:    30 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
}

// insertURLForTest overrides the Calendar API endpoint so tests can point
// the provider at an httptest server instead of the real Google API.
func (g *googleCalendarProvider) insertURLForTest(url string) {
	g.insertURL = url
}

func (g *googleCalendarProvider) CreateEvent(ctx context.Context, payload action.CalendarPayload, ownerUserID, ownerEmail string) (map[string]any, error) {
	accessToken, err := g.credentials.RefreshIfNeeded(ctx, ownerUserID, ownerEmail, credential.ProviderGoogle)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve owner credential")
	}

	event, err := BuildCanonicalEvent(payload)
	if err != nil {
		return nil, err
	}

	result, err := g.insert(ctx, accessToken, event)
	if err != nil && event.ConferenceData != nil {
		// Single retry without conferenceData.
		result, err = g.insert(ctx, accessToken, event.WithoutConferenceData())
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (g *googleCalendarProvider) CreateTentativeHold(ctx context.Context, payload action.CalendarPayload) (string, string, error) {
	ownerEmail := payload.OwnerEmail
	accessToken, err := g.credentials.RefreshIfNeeded(ctx, payload.OwnerUserID, ownerEmail, credential.ProviderGoogle)
	if err != nil {
		return "", "", errors.Wrap(err, "failed to resolve owner credential for tentative hold")
	}

	event, err := BuildCanonicalEvent(payload)
	if err != nil {
		return "", "", err
	}
	event.ConferenceData = nil // tentative holds never request conferencing

	result, err := g.insert(ctx, accessToken, event)
	if err != nil {
		return "", "", err
	}
	eventID, _ := result["id"].(string)
	htmlLink, _ := result["htmlLink"].(string)
	return eventID, htmlLink, nil
}

func (g *googleCalendarProvider) insert(ctx context.Context, accessToken string, event CalendarEvent) (map[string]any, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal calendar event")
	}

	result, err := g.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.insertURL, bytes.NewReader(body))
		if err != nil {
			return nil, errors.Wrap(err, "failed to build calendar insert request")
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+accessToken)

		resp, err := g.client.Do(req)
		if err != nil {
			return nil, errors.Wrap(err, "calendar insert request failed")
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read calendar insert response")
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, errors.Errorf("calendar insert error: status %d: %s", resp.StatusCode, string(respBody))
		}

		var parsed map[string]any
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return nil, errors.Wrap(err, "failed to decode calendar insert response")
		}
		return parsed, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(map[string]any), nil
}
