// Package action persists the autonomous_actions table: the units of work
// proposed by an upstream planner and shepherded by the coordinator.
package action

import "time"

// Type enumerates the kinds of action the coordinator can drive to execution.
type Type string

const (
	TypeEmailDraft      Type = "email_draft"
	TypeCalendarBooking Type = "calendar_booking"
	TypeHRRequest       Type = "hr_request"

	// TypeMeetingRequest and TypeMailDraft are the watchdog's own
	// vocabulary for the same underlying action types; the executor
	// canonicalizes them at dispatch.
	TypeMeetingRequest Type = "meeting_request"
	TypeMailDraft      Type = "mail_draft"
)

// Status enumerates the action lifecycle.
type Status string

const (
	StatusDrafted         Status = "drafted"
	StatusApprovalPending Status = "approval_pending"
	StatusApproved        Status = "approved"
	StatusRejected        Status = "rejected"
	StatusExecuting       Status = "executing"
	StatusExecuted        Status = "executed"
	StatusFailed          Status = "failed"
)

// Action is a single row of autonomous_actions.
type Action struct {
	ActionID      int64     `db:"action_id"`
	ProposalID    *string   `db:"proposal_id"`
	ActionType    Type      `db:"action_type"`
	DraftContent  string    `db:"draft_content"`
	Status        Status    `db:"status"`
	IsApproved    bool      `db:"is_approved"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}
