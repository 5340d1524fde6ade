// Package checkpoint implements the Checkpoint Store (C4): the durable
// key/value record of coordinator state keyed by thread_id, holding the
// current machine state, audit log, idempotency set, and channel handles.
// Secondary lookups (by approval_request_id, by chat thread handle) go
// through explicit index tables kept consistent inside the same
// transaction as every checkpoint write.
package checkpoint

import (
	"encoding/json"
	"time"
)

// State is the thread's working state: current draft, selected plan,
// feedback history. Kept as a typed struct rather than a free-form map,
// while remaining JSON-serializable for the BLOB column.
type State struct {
	ThreadID     string  `json:"thread_id"`
	ActionID     int64   `json:"action_id"`
	ProposalID   *string `json:"proposal_id,omitempty"`
	Draft        string  `json:"draft"`
	Feedback     string  `json:"feedback,omitempty"`
	SelectedPlan string  `json:"selected_plan,omitempty"`
}

// ChatHandle identifies where the approval prompt for a thread lives in chat.
type ChatHandle struct {
	Channel   string `json:"channel"`
	MessageTS string `json:"message_ts"`
	ThreadTS  string `json:"thread_ts,omitempty"`
}

// TentativeCalendarHold records a placeholder booking attempted at
// requestApproval time.
type TentativeCalendarHold struct {
	Status    string `json:"status"` // pending | created | failed
	EventID   string `json:"event_id,omitempty"`
	HTMLLink  string `json:"html_link,omitempty"`
	Error     string `json:"error,omitempty"`
	StartAt   string `json:"start_at,omitempty"`
	EndAt     string `json:"end_at,omitempty"`
	Timezone  string `json:"timezone,omitempty"`
	Title     string `json:"title,omitempty"`
	Attendee  string `json:"attendee,omitempty"`
	Provider  string `json:"provider,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// AuditEvent is one append-only entry of metadata.audit_events.
type AuditEvent struct {
	EventType     string         `json:"event_type"`
	Actor         string         `json:"actor,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Detail        map[string]any `json:"detail,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Metadata is the checkpoint's authoritative side: status, approval
// correlation, idempotency set, audit trail, and planner tags.
type Metadata struct {
	Status             string                 `json:"status"`
	ApprovalRequestID  string                 `json:"approval_request_id,omitempty"`
	RequestedBy        string                 `json:"requested_by,omitempty"`
	RequestedAt        string                 `json:"requested_at,omitempty"`
	IdempotencyKeys    []string               `json:"idempotency_keys,omitempty"`
	ExecutionJobID     string                 `json:"execution_job_id,omitempty"`
	ExecutionStatus    string                 `json:"execution_status,omitempty"`
	ChatHandle         *ChatHandle            `json:"chat_handle,omitempty"`
	AuditEvents        []AuditEvent           `json:"audit_events,omitempty"`
	TentativeCalendar  *TentativeCalendarHold `json:"tentative_calendar,omitempty"`
	ProjectID          string                 `json:"project_id,omitempty"`
	Severity           string                 `json:"severity,omitempty"`
	Mode               string                 `json:"mode,omitempty"`
}

// HasIdempotencyKey reports whether key has already been observed for this
// thread under the given operation family. Keys are stored as
// "<family>:<key>" so a caller token replayed against a different
// operation on the same thread never matches. Empty keys are never "seen";
// the set only scopes caller-provided tokens.
func (m *Metadata) HasIdempotencyKey(family, key string) bool {
	if key == "" {
		return false
	}
	scoped := family + ":" + key
	for _, k := range m.IdempotencyKeys {
		if k == scoped {
			return true
		}
	}
	return false
}

// RecordIdempotencyKey appends the family-scoped key to the
// insertion-ordered set if absent.
func (m *Metadata) RecordIdempotencyKey(family, key string) {
	if key == "" || m.HasIdempotencyKey(family, key) {
		return
	}
	m.IdempotencyKeys = append(m.IdempotencyKeys, family+":"+key)
}

// AppendAudit appends an audit event with the current time.
func (m *Metadata) AppendAudit(eventType, actor, correlationID string, detail map[string]any) {
	m.AuditEvents = append(m.AuditEvents, AuditEvent{
		EventType:     eventType,
		Actor:         actor,
		CorrelationID: correlationID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	})
}

// LastAuditTimestamp returns the created_at of the most recent audit event,
// or the zero value if there are none.
func (m *Metadata) LastAuditTimestamp() time.Time {
	if len(m.AuditEvents) == 0 {
		return time.Time{}
	}
	return m.AuditEvents[len(m.AuditEvents)-1].CreatedAt
}

// Checkpoint is the full durable record for one thread.
type Checkpoint struct {
	ThreadID  string
	State     State
	Metadata  Metadata
	UpdatedAt time.Time
}

// MarshalState and MarshalMetadata/UnmarshalMetadata let the store encode
// the two JSON columns without exposing encoding/json at every call site.
func MarshalState(s State) ([]byte, error)       { return json.Marshal(s) }
func UnmarshalState(b []byte, s *State) error     { return json.Unmarshal(b, s) }
func MarshalMetadata(m Metadata) ([]byte, error)  { return json.Marshal(m) }
func UnmarshalMetadata(b []byte, m *Metadata) error { return json.Unmarshal(b, m) }
