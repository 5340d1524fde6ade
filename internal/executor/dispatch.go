package executor

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/saihai-hitl/coordinator/internal/action"
	"github.com/saihai-hitl/coordinator/internal/coordinator"
)

// Executor is the External Action Executor (C2): it turns an approved
// Action's draft into one or more provider calls and records exactly one
// external_action_runs row per attempt. It satisfies coordinator.Executor.
type Executor struct {
	actions  action.Store
	runs     RunsStore
	email    EmailProvider
	calendar CalendarProvider
	hr       HRProvider
	config   ProviderConfig
}

// New builds the dispatching Executor.
func New(actions action.Store, runs RunsStore, email EmailProvider, calendar CalendarProvider, hr HRProvider, config ProviderConfig) *Executor {
	return &Executor{actions: actions, runs: runs, email: email, calendar: calendar, hr: hr, config: config}
}

var _ coordinator.Executor = (*Executor)(nil)

// canonicalActionType maps the watchdog's own action-type vocabulary
// ("meeting_request"/"mail_draft") onto the three dispatch targets this
// executor understands.
func canonicalActionType(t action.Type) action.Type {
	switch t {
	case action.TypeMeetingRequest:
		return action.TypeCalendarBooking
	case action.TypeMailDraft:
		return action.TypeEmailDraft
	default:
		return t
	}
}

// Execute implements coordinator.Executor. It loads actionID, parses its
// draft's trailing JSON payload (or uses payloadOverride when supplied),
// fans out over a nested "actions" list if present, and otherwise dispatches
// a single typed payload to the configured provider.
func (e *Executor) Execute(ctx context.Context, jobID string, actionID int64, payloadOverride map[string]any) error {
	a, err := e.actions.Get(ctx, nil, actionID)
	if err != nil {
		return err
	}
	if a == nil {
		return errors.Errorf("action %d not found", actionID)
	}

	raw := payloadOverride
	if raw == nil {
		raw = action.ExtractPayloadFromDraft(a.DraftContent)
	}

	if sub, ok := raw["actions"].([]any); ok {
		return e.executeFanOut(ctx, jobID, a, sub)
	}

	run, err := e.executeOne(ctx, jobID, a, canonicalActionType(a.ActionType), raw)
	if _, recErr := e.runs.Record(ctx, run); recErr != nil {
		return recErr
	}
	if err != nil {
		return err
	}
	return nil
}

// executeFanOut runs each sub-action with the same job_id/action_id,
// recording every attempt individually and failing the whole call if any
// sub-action fails. Every sub-action is attempted even after a failure.
func (e *Executor) executeFanOut(ctx context.Context, jobID string, a *action.Action, subActions []any) error {
	var firstErr error
	for _, raw := range subActions {
		sub, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		actionType := canonicalActionType(a.ActionType)
		if t, ok := sub["action_type"].(string); ok && t != "" {
			actionType = action.Type(t)
		}
		run, err := e.executeOne(ctx, jobID, a, actionType, sub)
		if _, recErr := e.runs.Record(ctx, run); recErr != nil && firstErr == nil {
			firstErr = recErr
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// executeOne dispatches a single coerced payload to its provider and always
// returns a fully populated Run, success or failure, for the caller to
// record.
func (e *Executor) executeOne(ctx context.Context, jobID string, a *action.Action, actionType action.Type, raw map[string]any) (Run, error) {
	run := Run{ActionID: a.ActionID, JobID: jobID, ActionType: string(actionType)}
	payloadJSON, _ := json.Marshal(redactPayload(raw))
	run.Payload = payloadJSON

	switch actionType {
	case action.TypeEmailDraft:
		payload := action.CoerceEmailPayload(raw, e.config.DefaultEmailTo, e.config.DefaultEmailFrom)
		run.Provider = e.config.EmailProvider
		result, err := e.email.Send(ctx, payload)
		return finishRun(run, result, err)

	case action.TypeCalendarBooking:
		payload := action.CoerceCalendarPayload(raw, e.config.DefaultCalendarAttendee, e.config.DefaultCalendarTZ)
		run.Provider = e.config.CalendarProvider
		result, err := e.calendar.CreateEvent(ctx, payload, payload.OwnerUserID, firstNonEmpty(payload.OwnerEmail, e.config.DefaultOwnerEmail))
		return finishRun(run, result, err)

	case action.TypeHRRequest:
		payload := action.CoerceHRPayload(raw)
		run.Provider = e.config.HRProvider
		result, err := e.hr.Submit(ctx, payload)
		return finishRun(run, result, err)

	default:
		run.Provider = "none"
		return finishRun(run, nil, errors.Errorf("unsupported action type %q", actionType))
	}
}

func finishRun(run Run, result map[string]any, err error) (Run, error) {
	if err != nil {
		run.Status = RunFailed
		run.Error = err.Error()
		return run, errors.Wrapf(err, "executor dispatch failed for action %d", run.ActionID)
	}
	run.Status = RunSucceeded
	if b, marshalErr := json.Marshal(result); marshalErr == nil {
		run.Result = b
	}
	return run, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// redactPayload strips nothing sensitive from email/calendar/HR payloads
// today (none of the recognized fields are secrets) but keeps a single seam
// so a future field (e.g. an embedded token) only needs to be added here
// before the snapshot is recorded.
func redactPayload(raw map[string]any) map[string]any {
	return raw
}
