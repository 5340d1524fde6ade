package demo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/saihai-hitl/coordinator/internal/action"
	"github.com/saihai-hitl/coordinator/internal/checkpoint"
	"github.com/saihai-hitl/coordinator/internal/logging"
)

// Config carries the demo-wide defaults, filled from the loaded
// configuration: Invitees and Approvers from the DEMO_* environment
// variables, Channel, Timezone and OwnerEmail from the approval channel and
// calendar/owner defaults.
type Config struct {
	Channel    string
	Timezone   string
	Invitees   []string
	OwnerEmail string
	Approvers  []string // empty means every actor is allowed
}

// Driver runs the compressed demo state machine on top of the same
// Checkpoint Store (C4) the HITL Coordinator (C5) uses, under
// thread_id = "demo:" + alert_id.
type Driver struct {
	checkpoints checkpoint.Store
	notifier    Notifier
	calendar    CalendarCreator
	cfg         Config
	log         logging.Logger
	now         func() time.Time
}

// New builds a Driver.
func New(checkpoints checkpoint.Store, notifier Notifier, calendar CalendarCreator, cfg Config, log logging.Logger) *Driver {
	return &Driver{
		checkpoints: checkpoints,
		notifier:    notifier,
		calendar:    calendar,
		cfg:         cfg,
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func threadIDFor(alertID string) string {
	return "demo:" + alertID
}

// Idempotency-key operation families for the demo transitions, so a token
// replayed against a different transition on the same alert never matches.
const (
	opPlanSelect = "demo_plan_select"
	opIntervene  = "demo_intervene"
	opApprove    = "demo_approve"
	opReject     = "demo_reject"
	opCancel     = "demo_cancel"
)

// Start mints a new alert_id, posts the opening alert message, and records
// the starting checkpoint.
func (d *Driver) Start(ctx context.Context, requestedBy string) (alertID string, err error) {
	alertID = "alert-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
	channel, threadTS, err := d.notifier.PostNewThread(ctx, d.cfg.Channel, fmt.Sprintf("Demo alert %s", alertID))
	if err != nil {
		return "", errors.Wrap(err, "failed to post demo alert")
	}

	tx, err := d.checkpoints.BeginTx(ctx)
	if err != nil {
		return "", err
	}
	defer rollbackOnErr(tx, &err)

	threadID := threadIDFor(alertID)
	cp := &checkpoint.Checkpoint{ThreadID: threadID}
	cp.Metadata.Mode = "demo"
	cp.Metadata.Status = string(StatusAlerted)
	cp.Metadata.RequestedBy = requestedBy
	cp.Metadata.RequestedAt = d.now().Format(time.RFC3339)
	cp.Metadata.ChatHandle = &checkpoint.ChatHandle{Channel: channel, ThreadTS: threadTS, MessageTS: threadTS}
	cp.Metadata.AppendAudit("demo_started", requestedBy, alertID, nil)

	if err = d.checkpoints.Save(ctx, tx, cp); err != nil {
		return "", err
	}
	if err = tx.Commit(); err != nil {
		return "", errors.Wrap(err, "failed to commit demo start")
	}
	return alertID, nil
}

// RecordPlanSelection records the requester's plan pick and re-posts the
// execution draft for approval.
func (d *Driver) RecordPlanSelection(ctx context.Context, alertID, actor, plan, idempotencyKey string) error {
	normalized, ok := normalizePlan(plan)
	if !ok {
		d.log.Warnw("demo plan selection invalid", "alert_id", alertID, "plan", plan)
		return nil
	}
	return d.mutate(ctx, alertID, opPlanSelect, idempotencyKey, func(cp *checkpoint.Checkpoint) error {
		if d.rejectIfTerminal(ctx, cp) {
			return nil
		}
		if d.rejectIfAlreadyApproved(ctx, cp) {
			return nil
		}
		cp.State.SelectedPlan = string(normalized)
		cp.Metadata.Status = string(StatusApprovalPending)
		cp.Metadata.AppendAudit("demo_plan_selected", actor, alertID, map[string]any{"plan": string(normalized)})
		d.postPrompt(ctx, cp)
		return nil
	})
}

// RecordIntervention records a free-text intervention and re-posts the
// execution draft for approval.
func (d *Driver) RecordIntervention(ctx context.Context, alertID, actor, intervention, idempotencyKey string) error {
	trimmed := strings.TrimSpace(intervention)
	if trimmed == "" {
		return nil
	}
	return d.mutate(ctx, alertID, opIntervene, idempotencyKey, func(cp *checkpoint.Checkpoint) error {
		if d.rejectIfAlreadyApproved(ctx, cp) {
			return nil
		}
		if d.rejectIfTerminal(ctx, cp) {
			return nil
		}
		cp.State.Feedback = trimmed
		cp.Metadata.Status = string(StatusApprovalPending)
		cp.Metadata.AppendAudit("demo_intervention", actor, alertID, map[string]any{"intervention": trimmed})
		d.postPrompt(ctx, cp)
		return nil
	})
}

// Approve marks the alert approved and books the calendar event in two
// phases: mark approved and commit, then create the event outside any
// lock. The booking runs synchronously since this driver's caller already
// runs off the request-handling goroutine.
func (d *Driver) Approve(ctx context.Context, alertID, actor, idempotencyKey string) error {
	var approvedSnapshot *checkpoint.Checkpoint
	err := d.mutate(ctx, alertID, opApprove, idempotencyKey, func(cp *checkpoint.Checkpoint) error {
		if d.rejectIfTerminal(ctx, cp) {
			return nil
		}
		if !d.actorAllowed(actor) {
			d.notify(ctx, cp, "Approve permission denied.")
			return nil
		}
		// A prior approval may have committed calendar_creating and still
		// be booking outside the row lock; a second approval arriving in
		// that window must not mint another attempt.
		if Status(cp.Metadata.Status) == StatusCalendarCreating {
			d.notify(ctx, cp, "Calendar booking already in progress.")
			return nil
		}
		if hold := cp.Metadata.TentativeCalendar; hold != nil && hold.EventID != "" {
			d.notify(ctx, cp, "Calendar event already created.")
			return nil
		}
		cp.Metadata.Status = string(StatusCalendarCreating)
		cp.Metadata.TentativeCalendar = &checkpoint.TentativeCalendarHold{Status: string(StatusCalendarCreating)}
		cp.Metadata.AppendAudit("demo_approved", actor, alertID, nil)
		snapshot := *cp
		approvedSnapshot = &snapshot
		return nil
	})
	if err != nil || approvedSnapshot == nil {
		return err
	}

	event, createErr := d.createCalendarEvent(ctx, *approvedSnapshot)
	if createErr != nil {
		return d.finishApproval(ctx, alertID, func(cp *checkpoint.Checkpoint) {
			cp.Metadata.Status = string(StatusCalendarFailed)
			cp.Metadata.TentativeCalendar.Status = string(StatusCalendarFailed)
			cp.Metadata.TentativeCalendar.Error = createErr.Error()
			d.notify(ctx, cp, fmt.Sprintf("Calendar booking failed: %s. Reply to retry.", createErr.Error()))
		})
	}

	eventID, _ := event["id"].(string)
	htmlLink, _ := event["htmlLink"].(string)
	return d.finishApproval(ctx, alertID, func(cp *checkpoint.Checkpoint) {
		cp.Metadata.Status = string(StatusCalendarCreated)
		cp.Metadata.TentativeCalendar.Status = string(StatusCalendarCreated)
		cp.Metadata.TentativeCalendar.EventID = eventID
		cp.Metadata.TentativeCalendar.HTMLLink = htmlLink
		d.notify(ctx, cp, buildSuccessMessage(d.cfg, eventID, htmlLink))
	})
}

// Reject marks the alert rejected.
func (d *Driver) Reject(ctx context.Context, alertID, actor, idempotencyKey string) error {
	return d.mutate(ctx, alertID, opReject, idempotencyKey, func(cp *checkpoint.Checkpoint) error {
		if d.rejectIfAlreadyApproved(ctx, cp) {
			return nil
		}
		cp.Metadata.Status = string(StatusRejected)
		cp.Metadata.AppendAudit("demo_rejected", actor, alertID, nil)
		d.notify(ctx, cp, "Rejected.")
		return nil
	})
}

// Cancel marks the alert cancelled.
func (d *Driver) Cancel(ctx context.Context, alertID, actor, idempotencyKey string) error {
	return d.mutate(ctx, alertID, opCancel, idempotencyKey, func(cp *checkpoint.Checkpoint) error {
		if d.rejectIfAlreadyApproved(ctx, cp) {
			return nil
		}
		cp.Metadata.Status = string(StatusCancelled)
		cp.Metadata.AppendAudit("demo_cancelled", actor, alertID, nil)
		d.notify(ctx, cp, "Cancelled.")
		return nil
	})
}

// mutate loads the checkpoint with a row lock, skips no-op replays via the
// family-scoped idempotency set, runs fn, and saves -- the same
// load/check/mutate/save shape coordinator.go's requestApproval/Approve use.
func (d *Driver) mutate(ctx context.Context, alertID, family, idempotencyKey string, fn func(cp *checkpoint.Checkpoint) error) (err error) {
	tx, err := d.checkpoints.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer rollbackOnErr(tx, &err)

	threadID := threadIDFor(alertID)
	cp, err := d.checkpoints.LoadForUpdate(ctx, tx, threadID)
	if err != nil {
		return err
	}
	if cp == nil {
		d.log.Warnw("demo mutation ignored, alert not found", "alert_id", alertID)
		return tx.Commit()
	}
	if cp.Metadata.HasIdempotencyKey(family, idempotencyKey) {
		return tx.Commit()
	}
	cp.Metadata.RecordIdempotencyKey(family, idempotencyKey)

	if err = fn(cp); err != nil {
		return err
	}
	if err = d.checkpoints.Save(ctx, tx, cp); err != nil {
		return err
	}
	return tx.Commit()
}

// finishApproval re-opens a fresh transaction to record the outcome of the
// calendar booking attempted outside any lock.
func (d *Driver) finishApproval(ctx context.Context, alertID string, apply func(cp *checkpoint.Checkpoint)) (err error) {
	tx, err := d.checkpoints.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer rollbackOnErr(tx, &err)

	threadID := threadIDFor(alertID)
	cp, err := d.checkpoints.LoadForUpdate(ctx, tx, threadID)
	if err != nil {
		return err
	}
	if cp == nil {
		return tx.Commit()
	}
	if cp.Metadata.TentativeCalendar != nil && cp.Metadata.TentativeCalendar.EventID != "" {
		return tx.Commit()
	}
	apply(cp)
	if err = d.checkpoints.Save(ctx, tx, cp); err != nil {
		return err
	}
	return tx.Commit()
}

func (d *Driver) createCalendarEvent(ctx context.Context, cp checkpoint.Checkpoint) (map[string]any, error) {
	start, end := demoSchedule(d.cfg.Timezone, d.now())
	title := "Demo intervention review"
	if cp.State.SelectedPlan != "" {
		title = fmt.Sprintf("%s - Plan %s", title, cp.State.SelectedPlan)
	}
	description := "Alert: " + strings.TrimPrefix(cp.ThreadID, "demo:")
	if cp.State.SelectedPlan != "" {
		description += "\nPlan: " + cp.State.SelectedPlan
	}
	if cp.State.Feedback != "" {
		description += "\nIntervention: " + cp.State.Feedback
	}

	payload := action.CalendarPayload{
		Title:       title,
		StartAt:     start,
		EndAt:       end,
		Timezone:    d.cfg.Timezone,
		Description: description,
		Attendee:    strings.Join(resolveInvitees(d.cfg), ","),
	}
	return d.calendar.CreateEvent(ctx, payload, "", d.cfg.OwnerEmail)
}

func (d *Driver) rejectIfTerminal(ctx context.Context, cp *checkpoint.Checkpoint) bool {
	switch Status(cp.Metadata.Status) {
	case StatusRejected, StatusCancelled:
		d.notify(ctx, cp, "This demo has already ended. Start a new one.")
		return true
	default:
		return false
	}
}

func (d *Driver) rejectIfAlreadyApproved(ctx context.Context, cp *checkpoint.Checkpoint) bool {
	switch Status(cp.Metadata.Status) {
	case StatusApproved, StatusCalendarCreating, StatusCalendarCreated:
		d.notify(ctx, cp, "Already approved.")
		return true
	default:
		return false
	}
}

func (d *Driver) actorAllowed(actor string) bool {
	if len(d.cfg.Approvers) == 0 {
		return true
	}
	for _, a := range d.cfg.Approvers {
		if a == actor {
			return true
		}
	}
	return false
}

func (d *Driver) postPrompt(ctx context.Context, cp *checkpoint.Checkpoint) {
	d.notify(ctx, cp, buildSummary(d.cfg, cp.State.SelectedPlan, cp.State.Feedback))
}

func (d *Driver) notify(ctx context.Context, cp *checkpoint.Checkpoint, text string) {
	if cp.Metadata.ChatHandle == nil {
		return
	}
	channel := cp.Metadata.ChatHandle.Channel
	threadTS := cp.Metadata.ChatHandle.ThreadTS
	if threadTS == "" {
		threadTS = cp.Metadata.ChatHandle.MessageTS
	}
	if err := d.notifier.PostThreadMessage(ctx, channel, threadTS, text); err != nil {
		d.log.Warnw("failed to post demo thread message", "thread_id", cp.ThreadID, "err", err)
	}
}

func rollbackOnErr(tx *sqlx.Tx, errp *error) {
	if tx == nil {
		return
	}
	if *errp != nil {
		_ = tx.Rollback()
	}
}
