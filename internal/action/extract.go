package action

import (
	"encoding/json"
	"strings"
)

// ExtractPayloadFromDraft scans draftContent from the bottom up for the
// last line that parses as a JSON object, and returns it as a generic map.
// Planners append a trailing `{...}` line to a human-readable draft to
// carry machine-readable parameters; earlier lines are free-form prose and
// are ignored here.
func ExtractPayloadFromDraft(draftContent string) map[string]any {
	if draftContent == "" {
		return map[string]any{}
	}
	lines := strings.Split(draftContent, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		candidate := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(candidate, "{") {
			continue
		}
		var parsed map[string]any
		if err := json.Unmarshal([]byte(candidate), &parsed); err != nil {
			continue
		}
		return parsed
	}
	return map[string]any{}
}

// stringField pulls a string out of a raw payload map, trying each key in
// order and returning the first non-empty match.
func stringField(payload map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := payload[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}
