package coordinator

import (
	"context"

	"github.com/saihai-hitl/coordinator/internal/action"
)

// ApprovalResult is returned by requestApproval and applySteer.
type ApprovalResult struct {
	ThreadID          string
	ApprovalRequestID string
	Status            string
	ActionID          int64
	Chat              *ChatHandleResult
}

// ChatHandleResult records where the approval prompt lives, so callers
// can link back to it.
type ChatHandleResult struct {
	Channel   string
	MessageTS string
	ThreadTS  string
}

// ExecutionJobResult is returned by approve (whether it drives execution or
// returns an already recorded outcome) and by processExecutionJob directly.
type ExecutionJobResult struct {
	JobID    string
	Status   string
	ThreadID string
	ActionID int64
}

// AuditLogEntry is the externally visible shape of one audit event,
// returned by fetchAuditLogs.
type AuditLogEntry struct {
	EventType     string
	Actor         string
	CorrelationID string
	Detail        map[string]any
	CreatedAt     string
}

// HistoryEntry is one row of fetchHistory's result.
type HistoryEntry struct {
	ThreadID  string
	ActionID  int64
	Status    string
	Summary   string
	ProjectID string
	Severity  string
	UpdatedAt string
	Events    []AuditLogEntry
}

// HistoryFilter narrows fetchHistory's result set.
type HistoryFilter struct {
	Status    string
	ProjectID string
	Limit     int
}

// Executor is the subset of the External Action Executor (C2) the
// coordinator depends on -- kept as a narrow interface so processExecutionJob
// can be tested without a real provider.
type Executor interface {
	Execute(ctx context.Context, jobID string, actionID int64, payloadOverride map[string]any) error
}

// ChatNotifier is the subset of the Chat Gateway (C3) the coordinator uses
// to post and update the approval prompt and thread follow-ups.
type ChatNotifier interface {
	SendApprovalMessage(ctx context.Context, req ApprovalMessageRequest) (*ChatHandleResult, error)
	PostThreadMessage(ctx context.Context, channel, threadTS, text string) error
}

// ApprovalMessageRequest carries everything the gateway needs to post or
// refresh an approval prompt message.
type ApprovalMessageRequest struct {
	ActionID          int64
	ApprovalRequestID string
	ThreadID          string
	Summary           string
	Draft             string
	Channel           string // non-empty when refreshing an existing message
	ThreadTS          string
}

// CalendarHoldCreator is the narrow slice of the Executor's calendar
// provider the coordinator calls directly to place a tentative hold at
// requestApproval time.
type CalendarHoldCreator interface {
	CreateTentativeHold(ctx context.Context, payload action.CalendarPayload) (eventID, htmlLink string, err error)
}
