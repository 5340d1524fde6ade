// Package executor implements the External Action Executor: it turns an
// approved Action's draft into one or more calls against a concrete
// provider (email, calendar, HR) and records exactly one
// external_action_runs row per attempt, success or failure.
package executor

import (
	"encoding/json"
	"time"
)

// RunStatus is the terminal status of a single executor attempt.
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Run is one attempt at executing a single (non-batch) sub-action, recorded
// append-only in external_action_runs.
type Run struct {
	RunID      int64
	ActionID   int64
	JobID      string
	ActionType string
	Provider   string
	Status     RunStatus
	Payload    json.RawMessage
	Result     json.RawMessage
	Error      string
	ExecutedAt time.Time
}

// ProviderConfig selects which backend each action type dispatches to and
// carries the defaults payload coercion falls back to, sourced from the
// EMAIL_PROVIDER/CALENDAR_PROVIDER/HR_PROVIDER/HR_API_URL,
// EMAIL_DEFAULT_*/CALENDAR_DEFAULT_* and DEFAULT_OWNER_EMAIL environment
// variables.
type ProviderConfig struct {
	EmailProvider    string // "mock" (default) -- no other email backend is implemented
	CalendarProvider string // "mock" or "google"
	HRProvider       string // "mock" or "http"
	HRAPIURL         string

	DefaultEmailTo          string
	DefaultEmailFrom        string
	DefaultCalendarAttendee string
	DefaultCalendarTZ       string
	DefaultOwnerEmail       string
}
