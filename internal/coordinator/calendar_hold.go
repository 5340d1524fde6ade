package coordinator

import (
	"fmt"
	"strings"
	"time"

	"github.com/saihai-hitl/coordinator/internal/action"
	"github.com/saihai-hitl/coordinator/internal/checkpoint"
)

// defaultCalendarHoldHour is the local hour at which a tentative hold is
// placed on the day after the approval request.
const defaultCalendarHoldHour = 18

// buildTentativeCalendarPayload derives a placeholder CalendarPayload from
// actionID's draft content, for the hold placed at requestApproval time.
// The hold always lands at 18:00 the day after the request, one hour long,
// titled "Tentative: ..." unless the draft already names a tentative
// meeting.
func buildTentativeCalendarPayload(actionID int64, draftContent string, defaultAttendee, defaultOwnerEmail, defaultTZ string) (action.CalendarPayload, checkpoint.TentativeCalendarHold) {
	raw := action.ExtractPayloadFromDraft(draftContent)

	tz := resolveTimezoneName(stringFromRaw(raw, "timezone"), defaultTZ)
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
		tz = "UTC"
	}

	now := time.Now().In(loc)
	nextDay := now.AddDate(0, 0, 1)
	start := time.Date(nextDay.Year(), nextDay.Month(), nextDay.Day(), defaultCalendarHoldHour, 0, 0, 0, loc)
	end := start.Add(time.Hour)

	title := stringFromRaw(raw, "title")
	if title == "" {
		title = fmt.Sprintf("Approval hold %d", actionID)
	}
	if !strings.Contains(strings.ToLower(title), "tentative") {
		title = "Tentative: " + title
	}

	description := strings.TrimSpace(stringFromRaw(raw, "description"))
	note := "Tentative hold created at approval request."
	if !strings.Contains(description, note) {
		description = strings.TrimSpace(description + "\n\n" + note)
	}

	attendee := stringFromRaw(raw, "attendee")
	if attendee == "" {
		attendee = defaultAttendee
	}
	ownerEmail := firstNonEmpty(stringFromRaw(raw, "owner_email"), stringFromRaw(raw, "ownerEmail"), defaultOwnerEmail)
	ownerUserID := firstNonEmpty(stringFromRaw(raw, "owner_user_id"), stringFromRaw(raw, "ownerUserId"))
	meetingURL := firstNonEmpty(stringFromRaw(raw, "meeting_url"), stringFromRaw(raw, "meetingUrl"))

	payload := action.CalendarPayload{
		Attendee:    attendee,
		Title:       title,
		StartAt:     start.Format(time.RFC3339),
		EndAt:       end.Format(time.RFC3339),
		Timezone:    tz,
		Description: description,
		MeetingURL:  meetingURL,
		OwnerEmail:  ownerEmail,
		OwnerUserID: ownerUserID,
	}
	hold := checkpoint.TentativeCalendarHold{
		StartAt:  payload.StartAt,
		EndAt:    payload.EndAt,
		Timezone: payload.Timezone,
		Title:    payload.Title,
		Attendee: payload.Attendee,
	}
	return payload, hold
}

func resolveTimezoneName(raw, fallback string) string {
	value := strings.TrimSpace(raw)
	if value == "" {
		return fallback
	}
	if _, err := time.LoadLocation(value); err != nil {
		return fallback
	}
	return value
}

func stringFromRaw(raw map[string]any, key string) string {
	if v, ok := raw[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
