package action

import "time"

// EmailPayload is the coerced shape of an email_draft action's final JSON
// line.
type EmailPayload struct {
	To      string `json:"to"`
	From    string `json:"from,omitempty"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// CalendarPayload is the coerced shape of a calendar_booking action's final
// JSON line, plus the fields the tentative-hold builder derives
// (owner_email, owner_user_id, meeting_url).
type CalendarPayload struct {
	Attendee    string `json:"attendee"`
	Title       string `json:"title"`
	StartAt     string `json:"start_at"`
	EndAt       string `json:"end_at"`
	Timezone    string `json:"timezone"`
	Description string `json:"description,omitempty"`
	MeetingURL  string `json:"meeting_url,omitempty"`
	OwnerEmail  string `json:"owner_email,omitempty"`
	OwnerUserID string `json:"owner_user_id,omitempty"`
}

// HRPayload is the coerced shape of an hr_request action's final JSON line.
type HRPayload struct {
	EmployeeID  string `json:"employee_id"`
	RequestType string `json:"request_type"`
	Summary     string `json:"summary"`
}

// Defaults for fields the raw payload omits. The executor's own configured
// defaults (from config.Config) take precedence where wired; these exist so
// payload coercion never produces an empty required field.
const (
	fallbackEmailTo          = "manager@example.com"
	fallbackEmailFrom        = "no-reply@coordinator.local"
	fallbackCalendarAttendee = fallbackEmailTo
	fallbackCalendarTZ       = "Asia/Tokyo"
)

// CoerceEmailPayload builds an EmailPayload from a raw decoded JSON map,
// filling recognized fields and falling back to defaults for the rest.
func CoerceEmailPayload(raw map[string]any, defaultTo, defaultFrom string) EmailPayload {
	to := stringField(raw, "to")
	if to == "" {
		to = firstNonEmpty(defaultTo, fallbackEmailTo)
	}
	from := stringField(raw, "from", "sender")
	if from == "" {
		from = firstNonEmpty(defaultFrom, fallbackEmailFrom)
	}
	return EmailPayload{
		To:      to,
		From:    from,
		Subject: firstNonEmpty(stringField(raw, "subject"), "Follow-up"),
		Body:    firstNonEmpty(stringField(raw, "body", "content"), ""),
	}
}

// CoerceCalendarPayload builds a CalendarPayload from a raw decoded JSON
// map, defaulting start/end to tomorrow's same-time one-hour slot when
// absent.
func CoerceCalendarPayload(raw map[string]any, defaultAttendee, defaultTZ string) CalendarPayload {
	now := time.Now().UTC()
	defaultStart := now.Add(24 * time.Hour)
	defaultEnd := defaultStart.Add(time.Hour)

	attendee := stringField(raw, "attendee")
	if attendee == "" {
		attendee = firstNonEmpty(defaultAttendee, fallbackCalendarAttendee)
	}
	tz := stringField(raw, "timezone")
	if tz == "" {
		tz = firstNonEmpty(defaultTZ, fallbackCalendarTZ)
	}

	return CalendarPayload{
		Attendee:    attendee,
		Title:       firstNonEmpty(stringField(raw, "title"), "Meeting"),
		StartAt:     firstNonEmpty(stringField(raw, "start_at", "startAt"), defaultStart.Format(time.RFC3339)),
		EndAt:       firstNonEmpty(stringField(raw, "end_at", "endAt"), defaultEnd.Format(time.RFC3339)),
		Timezone:    tz,
		Description: stringField(raw, "description"),
		MeetingURL:  stringField(raw, "meeting_url", "meetingUrl"),
		OwnerEmail:  stringField(raw, "owner_email", "ownerEmail"),
		OwnerUserID: stringField(raw, "owner_user_id", "ownerUserId"),
	}
}

// CoerceHRPayload builds an HRPayload from a raw decoded JSON map. A
// nested "hr_request" object, if present, takes precedence.
func CoerceHRPayload(raw map[string]any) HRPayload {
	if nested, ok := raw["hr_request"].(map[string]any); ok {
		raw = nested
	}
	return HRPayload{
		EmployeeID:  stringField(raw, "employee_id"),
		RequestType: stringField(raw, "request_type"),
		Summary:     stringField(raw, "summary"),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
