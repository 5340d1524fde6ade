package demo

import (
	"fmt"
	"strings"
	"time"
)

const defaultCalendarTimezone = "UTC"

// demoSchedule computes the fixed "tomorrow 18:00-18:30" slot the demo
// booking always targets. now is injected so tests don't depend on
// wall-clock time.
func demoSchedule(tz string, now time.Time) (startAt, endAt string) {
	loc := resolveLocation(tz)
	base := now.In(loc)
	target := base.AddDate(0, 0, 1)
	start := time.Date(target.Year(), target.Month(), target.Day(), 18, 0, 0, 0, loc)
	end := start.Add(30 * time.Minute)
	return start.Format(time.RFC3339), end.Format(time.RFC3339)
}

func resolveLocation(tz string) *time.Location {
	name := strings.TrimSpace(tz)
	if name == "" {
		name = defaultCalendarTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// resolveInvitees returns the configured invitee list (already split from
// its environment variable at config-load time), falling back to
// OwnerEmail when empty.
func resolveInvitees(cfg Config) []string {
	if len(cfg.Invitees) > 0 {
		return cfg.Invitees
	}
	if cfg.OwnerEmail != "" {
		return []string{cfg.OwnerEmail}
	}
	return nil
}

// buildSummary is the English-translated equivalent of _build_demo_summary.
func buildSummary(cfg Config, plan, intervention string) string {
	if plan == "" {
		plan = "none selected"
	}
	if intervention == "" {
		intervention = "none"
	}
	invitees := strings.Join(resolveInvitees(cfg), ", ")
	return fmt.Sprintf(
		"*Execution draft*\n- Plan: %s\n- Intervention: %s\n- Schedule: tomorrow 18:00 - 18:30 (%s)\n- Invitees: %s",
		plan, intervention, cfg.Timezone, invitees,
	)
}

// buildSuccessMessage is the English-translated equivalent of
// _build_success_message.
func buildSuccessMessage(cfg Config, eventID, eventLink string) string {
	invitees := strings.Join(resolveInvitees(cfg), ", ")
	line := ""
	switch {
	case eventLink != "":
		line = "\nEvent: " + eventLink
	case eventID != "":
		line = "\nEvent ID: " + eventID
	}
	return fmt.Sprintf("Approve complete\nTomorrow 18:00 - 18:30 (%s)\nInvitees: %s%s", cfg.Timezone, invitees, line)
}
