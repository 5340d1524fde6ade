package chat

import (
	"fmt"
	"strconv"
	"strings"
)

// ButtonEnvelope is the decoded form of an approval button's opaque "value"
// field: "thread_id=...|approval_request_id=...|action_id=...".
type ButtonEnvelope struct {
	ThreadID          string
	ApprovalRequestID string
	ActionID          int64
}

// encodeEnvelope builds the button "value" string for a given thread.
func encodeEnvelope(threadID, approvalRequestID string, actionID int64) string {
	return fmt.Sprintf("thread_id=%s|approval_request_id=%s|action_id=%d", threadID, approvalRequestID, actionID)
}

// DecodeEnvelope parses a button's "value" field back into its triple.
// Unknown or missing segments are left zero-valued rather than erroring --
// callers that require all three fields check them explicitly.
func DecodeEnvelope(value string) ButtonEnvelope {
	var env ButtonEnvelope
	for _, part := range strings.Split(value, "|") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "thread_id":
			env.ThreadID = kv[1]
		case "approval_request_id":
			env.ApprovalRequestID = kv[1]
		case "action_id":
			if id, err := strconv.ParseInt(kv[1], 10, 64); err == nil {
				env.ActionID = id
			}
		}
	}
	return env
}
