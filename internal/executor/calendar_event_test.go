package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saihai-hitl/coordinator/internal/action"
)

func TestBuildCanonicalEventAddsConferenceDataWhenNoMeetingURL(t *testing.T) {
	payload := action.CalendarPayload{
		Attendee: "a@example.com, b@example.com, A@EXAMPLE.COM",
		Title:    "Planning sync",
		StartAt:  "2026-02-01T09:00:00Z",
		EndAt:    "2026-02-01T09:30:00Z",
		Timezone: "UTC",
	}
	event, err := BuildCanonicalEvent(payload)
	require.NoError(t, err)
	require.NotNil(t, event.ConferenceData)
	assert.Equal(t, "hangoutsMeet", event.ConferenceData.CreateRequest.ConferenceSolutionKey.Type)
	assert.Len(t, event.Attendees, 2)
	assert.Equal(t, "2026-02-01T09:00:00Z", event.Start.DateTime)
}

func TestBuildCanonicalEventFoldsMeetingURLIntoDescriptionInsteadOfConferencing(t *testing.T) {
	payload := action.CalendarPayload{
		Attendee:   "a@example.com",
		Title:      "Standup",
		StartAt:    "2026-02-01T09:00:00",
		EndAt:      "2026-02-01T09:15:00",
		Timezone:   "America/New_York",
		MeetingURL: "https://meet.example/abc",
	}
	event, err := BuildCanonicalEvent(payload)
	require.NoError(t, err)
	assert.Nil(t, event.ConferenceData)
	assert.Contains(t, event.Description, "https://meet.example/abc")
}

func TestWithoutConferenceDataStripsField(t *testing.T) {
	payload := action.CalendarPayload{
		Attendee: "a@example.com", Title: "x",
		StartAt: "2026-02-01T09:00:00Z", EndAt: "2026-02-01T09:30:00Z", Timezone: "UTC",
	}
	event, err := BuildCanonicalEvent(payload)
	require.NoError(t, err)
	require.NotNil(t, event.ConferenceData)
	stripped := event.WithoutConferenceData()
	assert.Nil(t, stripped.ConferenceData)
	assert.NotNil(t, event.ConferenceData, "original event must be unmodified")
}

func TestNormalizeDateTimePromotesDateOnlyToMidnightInTimezone(t *testing.T) {
	result, err := normalizeDateTime("2026-03-15", "UTC")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-15T00:00:00Z", result)
}

func TestNormalizeDateTimeFallsBackToUTCForUnknownTimezone(t *testing.T) {
	result, err := normalizeDateTime("2026-03-15T10:00:00", "Not/ARealZone")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-15T10:00:00Z", result)
}

func TestNormalizeDateTimeRejectsGarbage(t *testing.T) {
	_, err := normalizeDateTime("not-a-date", "UTC")
	assert.Error(t, err)
}
