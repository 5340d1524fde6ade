package chat

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// InteractionEvent is the decoded form of a Slack block-actions or
// view-submission interaction payload (a form-encoded payload=<json>
// body).
type InteractionEvent struct {
	UserID          string
	TriggerID       string
	ActionID        string // approve | reject | request_changes, empty for a modal submission
	Envelope        ButtonEnvelope
	ModalValues     map[string]string // view.state.values, flattened to block_id.action_id -> value
	PrivateMetadata string            // view.private_metadata, carries the envelope for modal submissions
}

type interactionPayload struct {
	Type    string `json:"type"`
	User    struct {
		ID string `json:"id"`
	} `json:"user"`
	TriggerID string `json:"trigger_id"`
	Actions   []struct {
		ActionID string `json:"action_id"`
		Value    string `json:"value"`
	} `json:"actions"`
	View *struct {
		PrivateMetadata string `json:"private_metadata"`
		State           struct {
			Values map[string]map[string]struct {
				Value string `json:"value"`
			} `json:"values"`
		} `json:"state"`
	} `json:"view"`
}

// ParseInteraction decodes a form-encoded "payload=<json>" request body into
// an InteractionEvent. For a button click, Envelope/ActionID are populated
// from actions[0]; for a modal submission, ModalValues carries the flattened
// view.state.values and ActionID is empty.
func ParseInteraction(formBody []byte) (*InteractionEvent, error) {
	values, err := url.ParseQuery(string(formBody))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse interaction form body")
	}
	raw := values.Get("payload")
	if raw == "" {
		return nil, errors.New("interaction request missing payload field")
	}

	var p interactionPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, errors.Wrap(err, "failed to decode interaction payload")
	}

	event := &InteractionEvent{UserID: p.User.ID, TriggerID: p.TriggerID}
	if len(p.Actions) > 0 {
		event.ActionID = p.Actions[0].ActionID
		event.Envelope = DecodeEnvelope(p.Actions[0].Value)
	}
	if p.View != nil {
		event.PrivateMetadata = p.View.PrivateMetadata
		event.ModalValues = map[string]string{}
		for blockID, actions := range p.View.State.Values {
			for actionID, v := range actions {
				event.ModalValues[blockID+"."+actionID] = v.Value
			}
		}
	}
	return event, nil
}

// MessageEvent is the decoded form of an inbound chat "message" event.
type MessageEvent struct {
	EventID  string
	Channel  string
	UserID   string
	Text     string
	TS       string
	ThreadTS string // the thread root; equals TS when the message starts a new thread
}

type eventCallback struct {
	EventID string `json:"event_id"`
	Event   struct {
		Type     string `json:"type"`
		Text     string `json:"text"`
		TS       string `json:"ts"`
		ThreadTS string `json:"thread_ts"`
		User     string `json:"user"`
		Channel  string `json:"channel"`
	} `json:"event"`
}

// ParseEvent decodes a JSON event-callback body into a MessageEvent. Returns
// (nil, nil) for any event type other than "message" -- callers ignore it.
func ParseEvent(body []byte) (*MessageEvent, error) {
	var cb eventCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, errors.Wrap(err, "failed to decode event payload")
	}
	if cb.Event.Type != "message" {
		return nil, nil
	}
	threadTS := cb.Event.ThreadTS
	if threadTS == "" {
		threadTS = cb.Event.TS
	}
	return &MessageEvent{
		EventID:  cb.EventID,
		Channel:  cb.Event.Channel,
		UserID:   cb.Event.User,
		Text:     cb.Event.Text,
		TS:       cb.Event.TS,
		ThreadTS: threadTS,
	}, nil
}

// steerKeywords are the phrases that mark a plain-text thread reply as
// steering feedback rather than idle chatter.
var steerKeywords = []string{"change", "instead", "please", "add", "remove", "update", "fix", "use plan", "feedback"}

// LooksLikeSteer reports whether text should be treated as human feedback on
// a pending approval rather than unrelated conversation.
func LooksLikeSteer(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range steerKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// DisambiguationPrompt is the reply posted when a thread message matches
// none of the recognized steering keywords.
const DisambiguationPrompt = "I didn't recognize that as feedback on this approval. Reply with what you'd like changed, or use the Approve/Reject/Request changes buttons above."
