package executor

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/saihai-hitl/coordinator/internal/action"
)

// CalendarEvent is the canonical event object of the calendar provider
// wire format.
type CalendarEvent struct {
	Summary        string          `json:"summary"`
	Start          EventDateTime   `json:"start"`
	End            EventDateTime   `json:"end"`
	Attendees      []EventAttendee `json:"attendees,omitempty"`
	Description    string          `json:"description,omitempty"`
	Location       string          `json:"location,omitempty"`
	ConferenceData *ConferenceData `json:"conferenceData,omitempty"`
}

type EventDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type EventAttendee struct {
	Email string `json:"email"`
}

type ConferenceData struct {
	CreateRequest ConferenceCreateRequest `json:"createRequest"`
}

type ConferenceCreateRequest struct {
	RequestID             string                `json:"requestId"`
	ConferenceSolutionKey ConferenceSolutionKey `json:"conferenceSolutionKey"`
}

type ConferenceSolutionKey struct {
	Type string `json:"type"`
}

// BuildCanonicalEvent turns a coerced CalendarPayload into the canonical
// wire object: ISO datetime normalization, deduplicated case-insensitive
// attendees, conference data only when no meeting URL was supplied, and
// the meeting URL folded into the description otherwise.
func BuildCanonicalEvent(payload action.CalendarPayload) (CalendarEvent, error) {
	start, err := normalizeDateTime(payload.StartAt, payload.Timezone)
	if err != nil {
		return CalendarEvent{}, errors.Wrap(err, "invalid start_at")
	}
	end, err := normalizeDateTime(payload.EndAt, payload.Timezone)
	if err != nil {
		return CalendarEvent{}, errors.Wrap(err, "invalid end_at")
	}

	description := payload.Description
	event := CalendarEvent{
		Summary:     payload.Title,
		Start:       EventDateTime{DateTime: start, TimeZone: payload.Timezone},
		End:         EventDateTime{DateTime: end, TimeZone: payload.Timezone},
		Attendees:   dedupeAttendees(payload.Attendee),
		Description: description,
	}

	if payload.MeetingURL != "" {
		if !strings.Contains(event.Description, payload.MeetingURL) {
			event.Description = strings.TrimSpace(event.Description + "\nMeeting link: " + payload.MeetingURL)
		}
	} else {
		event.ConferenceData = &ConferenceData{
			CreateRequest: ConferenceCreateRequest{
				RequestID:             uuid.New().String(),
				ConferenceSolutionKey: ConferenceSolutionKey{Type: "hangoutsMeet"},
			},
		}
	}

	return event, nil
}

// WithoutConferenceData returns a copy of e with conferenceData cleared, for
// the single retry attempted when an insert carrying conferenceData fails.
func (e CalendarEvent) WithoutConferenceData() CalendarEvent {
	e.ConferenceData = nil
	return e
}

// dedupeAttendees splits a comma-separated attendee string and removes
// case-insensitive duplicates while preserving first-seen order.
func dedupeAttendees(raw string) []EventAttendee {
	seen := map[string]bool{}
	var out []EventAttendee
	for _, part := range strings.Split(raw, ",") {
		email := strings.TrimSpace(part)
		if email == "" {
			continue
		}
		key := strings.ToLower(email)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, EventAttendee{Email: email})
	}
	return out
}

// normalizeDateTime implements the datetime normalization rule: ISO-
// 8601 with a "Z" suffix mapped to "+00:00", a naive (no offset) value
// interpreted in tz, and a bare date promoted to midnight in tz.
func normalizeDateTime(raw, tz string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("empty datetime")
	}

	if strings.HasSuffix(raw, "Z") {
		raw = strings.TrimSuffix(raw, "Z") + "+00:00"
	}

	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.Format(time.RFC3339), nil
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}

	if t, err := time.ParseInLocation("2006-01-02T15:04:05", raw, loc); err == nil {
		return t.Format(time.RFC3339), nil
	}
	if t, err := time.ParseInLocation("2006-01-02", raw, loc); err == nil {
		return t.Format(time.RFC3339), nil
	}

	return "", errors.Errorf("unrecognized datetime format: %q", raw)
}
