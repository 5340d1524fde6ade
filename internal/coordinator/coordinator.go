package coordinator

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

// Idempotency-key operation families. Each mutating operation scopes
// caller-supplied keys to its own family, so the same token reused across
// different operations on one thread stays distinguishable.
const (
	opRequestApproval = "request_approval"
	opApprove         = "approve"
	opReject          = "reject"
	opSteer           = "steer"
)

// terminal execution statuses: once a thread reaches one of these, Approve
// and ProcessExecutionJob return the recorded outcome instead of re-running,
// and Reject and ApplySteer refuse with Conflict.
var terminalExecutionStatuses = map[string]bool{
	string(action.StatusExecuting): true,
	string(action.StatusExecuted):  true,
	string(action.StatusFailed):    true,
}

// Coordinator drives the HITL approval state machine. Every mutating
// method opens its own transaction, loads the relevant checkpoint with a
// row lock, mutates state and metadata together, and commits, so duplicate
// deliveries collapse to the single persisted outcome.
type Coordinator struct {
	db          *sqlx.DB
	actions     action.Store
	checkpoints checkpoint.Store
	executor    Executor
	chat        ChatNotifier
	calendar    CalendarHoldCreator
	log         logging.Logger

	defaultCalendarAttendee string
	defaultOwnerEmail       string
	defaultCalendarTZ       string
}

// CalendarHoldDefaults carries the fallback values applyTentativeCalendarHold
// uses when a draft's payload omits them, sourced from config.Config.
type CalendarHoldDefaults struct {
	Attendee   string
	OwnerEmail string
	Timezone   string
}

// New builds a Coordinator. calendar may be nil; when nil, tentative
// calendar holds are skipped (used for action types other than
// calendar_booking, or when no calendar provider is configured).
func New(db *sqlx.DB, actions action.Store, checkpoints checkpoint.Store, executor Executor, chat ChatNotifier, calendar CalendarHoldCreator, holdDefaults CalendarHoldDefaults, log logging.Logger) *Coordinator {
	return &Coordinator{
		db:                      db,
		actions:                 actions,
		checkpoints:             checkpoints,
		executor:                executor,
		chat:                    chat,
		calendar:                calendar,
		log:                     log,
		defaultCalendarAttendee: holdDefaults.Attendee,
		defaultOwnerEmail:       holdDefaults.OwnerEmail,
		defaultCalendarTZ:       holdDefaults.Timezone,
	}
}

func threadIDForAction(actionID int64) string {
	return fmt.Sprintf("action-%d", actionID)
}

// RequestApproval posts an approval prompt for actionID and moves it to
// approval_pending, or returns the existing pending request if one is
// already in flight (idempotent both on repeat calls and on a supplied
// idempotency key).
func (c *Coordinator) RequestApproval(ctx context.Context, actionID int64, requestedBy, idempotencyKey, summary string) (result *ApprovalResult, err error) {
	tx, err := c.checkpoints.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer rollbackOnErr(tx, &err)

	a, err := c.actions.Get(ctx, tx, actionID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, newNotFound("action", fmt.Sprintf("%d", actionID))
	}

	threadID := threadIDForAction(actionID)
	cp, err := c.checkpoints.LoadForUpdate(ctx, tx, threadID)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		cp = &checkpoint.Checkpoint{ThreadID: threadID}
	}

	if cp.Metadata.Status == string(action.StatusApprovalPending) && cp.Metadata.ApprovalRequestID != "" {
		res := approvalResultFromCheckpoint(cp, actionID)
		return res, tx.Commit()
	}

	if cp.Metadata.HasIdempotencyKey(opRequestApproval, idempotencyKey) && cp.Metadata.ApprovalRequestID != "" {
		res := approvalResultFromCheckpoint(cp, actionID)
		return res, tx.Commit()
	}

	approvalRequestID := "apr-" + shortID()
	cp.Metadata.ApprovalRequestID = approvalRequestID
	cp.Metadata.Status = string(action.StatusApprovalPending)
	cp.Metadata.RequestedBy = requestedBy
	cp.Metadata.RequestedAt = time.Now().UTC().Format(time.RFC3339)
	cp.Metadata.RecordIdempotencyKey(opRequestApproval, idempotencyKey)

	cp.State.ThreadID = threadID
	cp.State.ActionID = actionID
	cp.State.ProposalID = a.ProposalID
	cp.State.Draft = a.DraftContent

	cp.Metadata.AppendAudit("approval_requested", requestedBy, approvalRequestID, map[string]any{
		"action_id": actionID,
		"summary":   summary,
	})

	chatHandle, err := c.chat.SendApprovalMessage(ctx, ApprovalMessageRequest{
		ActionID:          actionID,
		ApprovalRequestID: approvalRequestID,
		ThreadID:          threadID,
		Summary:           summary,
		Draft:             a.DraftContent,
		Channel:           channelFromHandle(cp.Metadata.ChatHandle),
		ThreadTS:          threadTSFromHandle(cp.Metadata.ChatHandle),
	})
	if err != nil {
		c.log.Warnw("failed to send approval message", "thread_id", threadID, "action_id", actionID, "err", err)
	} else if chatHandle != nil {
		cp.Metadata.ChatHandle = &checkpoint.ChatHandle{
			Channel:   chatHandle.Channel,
			MessageTS: chatHandle.MessageTS,
			ThreadTS:  chatHandle.ThreadTS,
		}
	}

	c.applyTentativeCalendarHold(ctx, a, &cp.Metadata, actionID)

	if err = c.checkpoints.Save(ctx, tx, cp); err != nil {
		return nil, err
	}
	if err = c.actions.SetStatus(ctx, tx, actionID, action.StatusApprovalPending, false); err != nil {
		return nil, err
	}

	c.log.Infow("approval requested", "thread_id", threadID, "action_id", actionID, "approval_request_id", approvalRequestID)

	if err = tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit requestApproval")
	}
	return approvalResultFromCheckpoint(cp, actionID), nil
}

// Approve marks approvalRequestID approved and drives execution, returning
// the (possibly already-terminal) ExecutionJobResult.
func (c *Coordinator) Approve(ctx context.Context, approvalRequestID, actor, idempotencyKey string) (result *ExecutionJobResult, err error) {
	tx, err := c.checkpoints.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer rollbackOnErr(tx, &err)

	cp, err := c.checkpoints.FindByApprovalRequestID(ctx, tx, approvalRequestID)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, newNotFound("approval_request", approvalRequestID)
	}
	actionID := cp.State.ActionID
	if actionID == 0 {
		return nil, newNotFound("action", "0")
	}

	if existing := executionResultFromMetadata(cp.ThreadID, actionID, &cp.Metadata); existing != nil {
		return existing, tx.Commit()
	}

	a, err := c.actions.Get(ctx, tx, actionID)
	if err != nil {
		return nil, err
	}
	if a != nil && terminalExecutionStatuses[string(a.Status)] {
		return &ExecutionJobResult{
			JobID:    jobIDOrDefault(cp.Metadata.ExecutionJobID, actionID),
			Status:   string(a.Status),
			ThreadID: cp.ThreadID,
			ActionID: actionID,
		}, tx.Commit()
	}

	if cp.Metadata.HasIdempotencyKey(opApprove, idempotencyKey) {
		status := cp.Metadata.ExecutionStatus
		if status == "" {
			status = cp.Metadata.Status
		}
		if status == "" {
			status = string(action.StatusApproved)
		}
		return &ExecutionJobResult{
			JobID:    jobIDOrDefault(cp.Metadata.ExecutionJobID, actionID),
			Status:   status,
			ThreadID: cp.ThreadID,
			ActionID: actionID,
		}, tx.Commit()
	}

	cp.Metadata.RecordIdempotencyKey(opApprove, idempotencyKey)
	cp.Metadata.Status = string(action.StatusApproved)
	cp.Metadata.AppendAudit("approval_approved", actor, approvalRequestID, map[string]any{"action_id": actionID})

	if err = c.checkpoints.Save(ctx, tx, cp); err != nil {
		return nil, err
	}
	if err = c.actions.SetStatus(ctx, tx, actionID, action.StatusApproved, true); err != nil {
		return nil, err
	}

	c.log.Infow("approval approved", "thread_id", cp.ThreadID, "action_id", actionID, "approval_request_id", approvalRequestID)

	if err = tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit approve")
	}

	return c.processExecutionJobTx(ctx, actionID, false, nil)
}

// Reject marks approvalRequestID rejected. Idempotent on idempotencyKey.
func (c *Coordinator) Reject(ctx context.Context, approvalRequestID, actor, idempotencyKey string) (err error) {
	tx, err := c.checkpoints.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer rollbackOnErr(tx, &err)

	cp, err := c.checkpoints.FindByApprovalRequestID(ctx, tx, approvalRequestID)
	if err != nil {
		return err
	}
	if cp == nil {
		return newNotFound("approval_request", approvalRequestID)
	}
	actionID := cp.State.ActionID

	if terminalExecutionStatuses[cp.Metadata.Status] {
		return newConflict("cannot reject an action in status " + cp.Metadata.Status)
	}

	if cp.Metadata.HasIdempotencyKey(opReject, idempotencyKey) {
		return tx.Commit()
	}
	cp.Metadata.RecordIdempotencyKey(opReject, idempotencyKey)
	cp.Metadata.Status = string(action.StatusRejected)
	cp.Metadata.AppendAudit("approval_rejected", actor, approvalRequestID, map[string]any{"action_id": actionID})

	if err = c.checkpoints.Save(ctx, tx, cp); err != nil {
		return err
	}
	if actionID != 0 {
		if err = c.actions.SetStatus(ctx, tx, actionID, action.StatusRejected, false); err != nil {
			return err
		}
	}

	c.log.Infow("approval rejected", "thread_id", cp.ThreadID, "action_id", actionID, "approval_request_id", approvalRequestID)
	return tx.Commit()
}

// ApplySteer appends human feedback to the draft, resets the action to
// drafted, and immediately re-requests approval under a derived idempotency
// key, so duplicate steer submissions are absorbed.
func (c *Coordinator) ApplySteer(ctx context.Context, approvalRequestID, actor, feedback, selectedPlan, idempotencyKey string) (result *ApprovalResult, err error) {
	tx, err := c.checkpoints.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer rollbackOnErr(tx, &err)

	cp, err := c.checkpoints.FindByApprovalRequestID(ctx, tx, approvalRequestID)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, newNotFound("approval_request", approvalRequestID)
	}
	actionID := cp.State.ActionID
	if actionID == 0 {
		return nil, newNotFound("action", "0")
	}

	if terminalExecutionStatuses[cp.Metadata.Status] {
		return nil, newConflict("cannot steer an action in status " + cp.Metadata.Status)
	}

	if cp.Metadata.HasIdempotencyKey(opSteer, idempotencyKey) {
		res := approvalResultFromCheckpoint(cp, actionID)
		return res, tx.Commit()
	}
	cp.Metadata.RecordIdempotencyKey(opSteer, idempotencyKey)

	a, err := c.actions.Get(ctx, tx, actionID)
	if err != nil {
		return nil, err
	}
	draft := ""
	if a != nil {
		draft = a.DraftContent
	}
	planLine := ""
	if selectedPlan != "" {
		planLine = "\n[Plan] " + selectedPlan
	}
	updatedDraft := strings.TrimSpace(draft + "\n\n[Steer] " + feedback + planLine)

	if err = c.actions.SetDraftAndStatus(ctx, tx, actionID, updatedDraft, action.StatusDrafted); err != nil {
		return nil, err
	}

	cp.State.Draft = updatedDraft
	cp.State.Feedback = feedback
	cp.State.SelectedPlan = selectedPlan
	cp.Metadata.Status = string(action.StatusDrafted)
	cp.Metadata.AppendAudit("human_feedback_received", actor, approvalRequestID, map[string]any{
		"feedback":      feedback,
		"selected_plan": selectedPlan,
	})

	if err = c.checkpoints.Save(ctx, tx, cp); err != nil {
		return nil, err
	}

	c.log.Infow("steer applied", "thread_id", cp.ThreadID, "action_id", actionID, "approval_request_id", approvalRequestID)

	if err = tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit applySteer")
	}

	return c.RequestApproval(ctx, actionID, actor, cp.ThreadID+":"+approvalRequestID+":steer", "steer update")
}

// ProcessExecutionJob drives actionID from approved to executed/failed by
// invoking the External Action Executor. Exported for the HTTP intake's
// execute route, which may re-drive execution without going through
// Approve.
func (c *Coordinator) ProcessExecutionJob(ctx context.Context, actionID int64, simulateFailure bool, payloadOverride map[string]any) (*ExecutionJobResult, error) {
	return c.processExecutionJobTx(ctx, actionID, simulateFailure, payloadOverride)
}

func (c *Coordinator) processExecutionJobTx(ctx context.Context, actionID int64, simulateFailure bool, payloadOverride map[string]any) (result *ExecutionJobResult, err error) {
	tx, err := c.checkpoints.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer rollbackOnErr(tx, &err)

	threadID := threadIDForAction(actionID)
	cp, err := c.checkpoints.LoadForUpdate(ctx, tx, threadID)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		cp = &checkpoint.Checkpoint{ThreadID: threadID}
	}

	if existing := executionResultFromMetadata(threadID, actionID, &cp.Metadata); existing != nil {
		return existing, tx.Commit()
	}

	a, err := c.actions.Get(ctx, tx, actionID)
	if err != nil {
		return nil, err
	}
	if a != nil && terminalExecutionStatuses[string(a.Status)] {
		res := &ExecutionJobResult{
			JobID:    jobIDOrDefault(cp.Metadata.ExecutionJobID, actionID),
			Status:   string(a.Status),
			ThreadID: threadID,
			ActionID: actionID,
		}
		return res, tx.Commit()
	}

	jobID := "job-" + shortID()
	cp.Metadata.Status = string(action.StatusExecuting)
	cp.Metadata.ExecutionJobID = jobID
	cp.Metadata.ExecutionStatus = string(action.StatusExecuting)
	cp.Metadata.AppendAudit("execution_started", "worker", jobID, map[string]any{"action_id": actionID})

	if err = c.checkpoints.Save(ctx, tx, cp); err != nil {
		return nil, err
	}
	if err = c.actions.SetStatus(ctx, tx, actionID, action.StatusExecuting, true); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit execution_started")
	}

	if simulateFailure {
		return c.markFailed(ctx, threadID, cp, jobID, actionID, "simulated failure")
	}

	if execErr := c.executor.Execute(ctx, jobID, actionID, payloadOverride); execErr != nil {
		return c.markFailed(ctx, threadID, cp, jobID, actionID, execErr.Error())
	}

	return c.markSucceeded(ctx, threadID, cp, jobID, actionID)
}

func (c *Coordinator) markSucceeded(ctx context.Context, threadID string, cp *checkpoint.Checkpoint, jobID string, actionID int64) (result *ExecutionJobResult, err error) {
	tx, err := c.checkpoints.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer rollbackOnErr(tx, &err)

	cur, err := c.checkpoints.LoadForUpdate(ctx, tx, threadID)
	if err != nil {
		return nil, err
	}
	if cur != nil {
		cp = cur
	}
	cp.Metadata.Status = string(action.StatusExecuted)
	cp.Metadata.ExecutionStatus = string(action.StatusExecuted)
	cp.Metadata.AppendAudit("execution_succeeded", "worker", jobID, map[string]any{"action_id": actionID})

	if err = c.checkpoints.Save(ctx, tx, cp); err != nil {
		return nil, err
	}
	if err = c.actions.SetStatus(ctx, tx, actionID, action.StatusExecuted, true); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit execution_succeeded")
	}

	c.notifyExecutionResult(ctx, &cp.Metadata, actionID, jobID, string(action.StatusExecuted), "")
	c.log.Infow("execution succeeded", "thread_id", threadID, "action_id", actionID, "job_id", jobID)

	return &ExecutionJobResult{JobID: jobID, Status: string(action.StatusExecuted), ThreadID: threadID, ActionID: actionID}, nil
}

func (c *Coordinator) markFailed(ctx context.Context, threadID string, cp *checkpoint.Checkpoint, jobID string, actionID int64, errMsg string) (result *ExecutionJobResult, err error) {
	tx, txErr := c.checkpoints.BeginTx(ctx)
	if txErr != nil {
		return nil, txErr
	}
	defer rollbackOnErr(tx, &err)

	cur, loadErr := c.checkpoints.LoadForUpdate(ctx, tx, threadID)
	if loadErr != nil {
		return nil, loadErr
	}
	if cur != nil {
		cp = cur
	}
	cp.Metadata.Status = string(action.StatusFailed)
	cp.Metadata.ExecutionStatus = string(action.StatusFailed)
	cp.Metadata.AppendAudit("execution_failed", "worker", jobID, map[string]any{"action_id": actionID, "error": errMsg})

	if saveErr := c.checkpoints.Save(ctx, tx, cp); saveErr != nil {
		return nil, saveErr
	}
	if setErr := c.actions.SetStatus(ctx, tx, actionID, action.StatusFailed, true); setErr != nil {
		return nil, setErr
	}
	if commitErr := tx.Commit(); commitErr != nil {
		return nil, errors.Wrap(commitErr, "failed to commit execution_failed")
	}

	c.notifyExecutionResult(ctx, &cp.Metadata, actionID, jobID, string(action.StatusFailed), errMsg)
	c.log.Warnw("execution failed", "thread_id", threadID, "action_id", actionID, "job_id", jobID, "error", errMsg)

	return &ExecutionJobResult{JobID: jobID, Status: string(action.StatusFailed), ThreadID: threadID, ActionID: actionID}, nil
}

// FetchAuditLogs returns the audit trail for threadID, or an empty slice if
// the thread has no checkpoint yet.
func (c *Coordinator) FetchAuditLogs(ctx context.Context, threadID string) ([]AuditLogEntry, error) {
	cp, err := c.checkpoints.Load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, nil
	}
	return auditLogEntries(cp.Metadata.AuditEvents), nil
}

// FetchHistory lists threads matching filter, newest first.
func (c *Coordinator) FetchHistory(ctx context.Context, filter HistoryFilter) ([]HistoryEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	checkpoints, err := c.checkpoints.ListAll(ctx, 0)
	if err != nil {
		return nil, err
	}

	var out []HistoryEntry
	for _, cp := range checkpoints {
		if filter.ProjectID != "" && cp.Metadata.ProjectID != filter.ProjectID {
			continue
		}
		if filter.Status != "" && cp.Metadata.Status != filter.Status {
			continue
		}

		var draftSummary string
		if cp.State.ActionID != 0 {
			a, err := c.actions.Get(ctx, c.db, cp.State.ActionID)
			if err == nil && a != nil {
				draftSummary = a.DraftContent
			}
		}
		if len(draftSummary) > 160 {
			draftSummary = draftSummary[:160] + "..."
		}

		updatedAt := cp.Metadata.RequestedAt
		if ts := cp.Metadata.LastAuditTimestamp(); !ts.IsZero() {
			updatedAt = ts.Format(time.RFC3339)
		}

		out = append(out, HistoryEntry{
			ThreadID:  cp.ThreadID,
			ActionID:  cp.State.ActionID,
			Status:    cp.Metadata.Status,
			Summary:   draftSummary,
			ProjectID: cp.Metadata.ProjectID,
			Severity:  cp.Metadata.Severity,
			UpdatedAt: updatedAt,
			Events:    auditLogEntries(cp.Metadata.AuditEvents),
		})
	}

	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- helpers ---

func rollbackOnErr(tx *sqlx.Tx, errp *error) {
	if tx == nil {
		return
	}
	if *errp != nil {
		_ = tx.Rollback()
	}
}

func shortID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

func jobIDOrDefault(jobID string, actionID int64) string {
	if jobID != "" {
		return jobID
	}
	return fmt.Sprintf("job-%d", actionID)
}

func approvalResultFromCheckpoint(cp *checkpoint.Checkpoint, actionID int64) *ApprovalResult {
	status := cp.Metadata.Status
	if status == "" {
		status = string(action.StatusApprovalPending)
	}
	return &ApprovalResult{
		ThreadID:          cp.ThreadID,
		ApprovalRequestID: cp.Metadata.ApprovalRequestID,
		Status:            status,
		ActionID:          actionID,
		Chat:              chatResultFromHandle(cp.Metadata.ChatHandle),
	}
}

func executionResultFromMetadata(threadID string, actionID int64, m *checkpoint.Metadata) *ExecutionJobResult {
	status := m.ExecutionStatus
	if status == "" {
		status = m.Status
	}
	if !terminalExecutionStatuses[status] {
		return nil
	}
	return &ExecutionJobResult{
		JobID:    jobIDOrDefault(m.ExecutionJobID, actionID),
		Status:   status,
		ThreadID: threadID,
		ActionID: actionID,
	}
}

func chatResultFromHandle(h *checkpoint.ChatHandle) *ChatHandleResult {
	if h == nil || h.Channel == "" || h.MessageTS == "" {
		return nil
	}
	return &ChatHandleResult{Channel: h.Channel, MessageTS: h.MessageTS, ThreadTS: h.ThreadTS}
}

func channelFromHandle(h *checkpoint.ChatHandle) string {
	if h == nil {
		return ""
	}
	return h.Channel
}

func threadTSFromHandle(h *checkpoint.ChatHandle) string {
	if h == nil {
		return ""
	}
	if h.ThreadTS != "" {
		return h.ThreadTS
	}
	return h.MessageTS
}

func auditLogEntries(events []checkpoint.AuditEvent) []AuditLogEntry {
	out := make([]AuditLogEntry, 0, len(events))
	for _, e := range events {
		out = append(out, AuditLogEntry{
			EventType:     e.EventType,
			Actor:         e.Actor,
			CorrelationID: e.CorrelationID,
			Detail:        e.Detail,
			CreatedAt:     e.CreatedAt.Format(time.RFC3339),
		})
	}
	return out
}

func (c *Coordinator) notifyExecutionResult(ctx context.Context, m *checkpoint.Metadata, actionID int64, jobID, status, errMsg string) {
	h := m.ChatHandle
	if h == nil || h.Channel == "" {
		return
	}
	threadTS := h.ThreadTS
	if threadTS == "" {
		threadTS = h.MessageTS
	}
	var text string
	if status == string(action.StatusExecuted) {
		text = fmt.Sprintf("Execution completed. job_id=%s action_id=%d", jobID, actionID)
	} else {
		text = fmt.Sprintf("Execution failed. job_id=%s action_id=%d error=%s", jobID, actionID, errMsg)
	}
	if err := c.chat.PostThreadMessage(ctx, h.Channel, threadTS, text); err != nil {
		c.log.Warnw("failed to post thread message", "channel", h.Channel, "err", err)
	}
}

// applyTentativeCalendarHold places a placeholder booking at
// requestApproval time for calendar_booking actions. It never fails the
// caller; a hold failure is recorded in metadata and logged.
func (c *Coordinator) applyTentativeCalendarHold(ctx context.Context, a *action.Action, m *checkpoint.Metadata, actionID int64) {
	if a.ActionType != action.TypeCalendarBooking || c.calendar == nil {
		return
	}
	if m.TentativeCalendar != nil && m.TentativeCalendar.Status == "created" {
		return
	}

	payload, hold := buildTentativeCalendarPayload(actionID, a.DraftContent, c.defaultCalendarAttendee, c.defaultOwnerEmail, c.defaultCalendarTZ)
	hold.Status = "pending"
	hold.CreatedAt = time.Now().UTC().Format(time.RFC3339)

	eventID, htmlLink, err := c.calendar.CreateTentativeHold(ctx, payload)
	if err != nil {
		hold.Status = "failed"
		hold.Error = err.Error()
		m.TentativeCalendar = &hold
		c.log.Warnw("tentative calendar hold failed", "thread_id", threadIDForAction(actionID), "action_id", actionID, "err", err)
		return
	}
	hold.Status = "created"
	hold.EventID = eventID
	hold.HTMLLink = htmlLink
	m.TentativeCalendar = &hold
}
