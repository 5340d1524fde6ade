// Package demo implements the Demo Driver (C7): an alternative, compressed
// intake channel for live demonstrations. It drives the same Checkpoint
// Store (C4) and idempotency discipline as the HITL Coordinator (C5), but
// under its own thread_id namespace (demo:<alert_id>) and a smaller state
// set.
package demo

import "strings"

// Status enumerates the compressed demo state set:
// alerted -> {plan_selected, intervened} -> approval_pending ->
// {approved -> calendar_creating -> calendar_created | calendar_failed} |
// rejected | cancelled.
type Status string

const (
	StatusAlerted          Status = "alerted"
	StatusPlanSelected     Status = "plan_selected"
	StatusIntervened       Status = "intervened"
	StatusApprovalPending  Status = "approval_pending"
	StatusApproved         Status = "approved"
	StatusRejected         Status = "rejected"
	StatusCancelled        Status = "cancelled"
	StatusCalendarCreating Status = "calendar_creating"
	StatusCalendarCreated  Status = "calendar_created"
	StatusCalendarFailed   Status = "calendar_failed"
)

// Plan is one of the three fixed demo plans a requester can pick, bare
// "A"/"B"/"C" tokens (distinct from the watchdog's Plan_A/Plan_B/Plan_C
// strategy proposals -- this is a simpler, unrelated vocabulary scoped to
// the demo flow alone).
type Plan string

const (
	PlanA Plan = "A"
	PlanB Plan = "B"
	PlanC Plan = "C"
)

// normalizePlan upper-cases and validates a caller-supplied plan token.
func normalizePlan(raw string) (Plan, bool) {
	switch Plan(strings.ToUpper(strings.TrimSpace(raw))) {
	case PlanA:
		return PlanA, true
	case PlanB:
		return PlanB, true
	case PlanC:
		return PlanC, true
	default:
		return "", false
	}
}
