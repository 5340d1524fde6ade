package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saihai-hitl/coordinator/internal/action"
	"github.com/saihai-hitl/coordinator/internal/credential"
)

type fakeCredentialStore struct {
	accessToken string
}

func (f *fakeCredentialStore) Get(context.Context, string, string, credential.Provider) (*credential.Credential, error) {
	return nil, nil
}

func (f *fakeCredentialStore) Put(context.Context, string, string, credential.Provider, string, string, string, string, *time.Time) error {
	return nil
}

func (f *fakeCredentialStore) RefreshIfNeeded(context.Context, string, string, credential.Provider) (string, error) {
	return f.accessToken, nil
}

func TestGoogleCalendarCreateEventRetriesWithoutConferenceDataOnFailure(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if calls == 1 {
			assert.Contains(t, body, "conferenceData")
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":"conferencing unavailable"}`))
			return
		}
		assert.NotContains(t, body, "conferenceData")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"evt-1","htmlLink":"https://calendar.example/evt-1"}`))
	}))
	defer server.Close()

	provider := NewGoogleCalendarProvider(&fakeCredentialStore{accessToken: "tok-123"}, "UTC").(*googleCalendarProvider)
	provider.client = server.Client()
	provider.insertURLForTest(server.URL)

	payload := action.CalendarPayload{
		Attendee: "a@example.com", Title: "Sync",
		StartAt: "2026-01-01T10:00:00Z", EndAt: "2026-01-01T10:30:00Z", Timezone: "UTC",
	}
	result, err := provider.CreateEvent(context.Background(), payload, "user-1", "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "evt-1", result["id"])
}

func TestGoogleCalendarCreateTentativeHoldNeverRequestsConferencing(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"evt-hold","htmlLink":"https://calendar.example/evt-hold"}`))
	}))
	defer server.Close()

	provider := NewGoogleCalendarProvider(&fakeCredentialStore{accessToken: "tok-123"}, "UTC").(*googleCalendarProvider)
	provider.client = server.Client()
	provider.insertURLForTest(server.URL)

	payload := action.CalendarPayload{
		Attendee: "a@example.com", Title: "Hold",
		StartAt: "2026-01-01T10:00:00Z", EndAt: "2026-01-01T10:30:00Z", Timezone: "UTC",
		OwnerUserID: "user-1", OwnerEmail: "a@example.com",
	}
	eventID, htmlLink, err := provider.CreateTentativeHold(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, "evt-hold", eventID)
	assert.Equal(t, "https://calendar.example/evt-hold", htmlLink)
	assert.NotContains(t, captured, "conferenceData")
}
