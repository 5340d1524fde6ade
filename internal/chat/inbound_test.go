package chat

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInteractionDecodesButtonClick(t *testing.T) {
	payload := `{"type":"block_actions","user":{"id":"U123"},"actions":[{"action_id":"approve","value":"thread_id=action-7|approval_request_id=apr-1|action_id=7"}]}`
	form := url.Values{"payload": {payload}}

	event, err := ParseInteraction([]byte(form.Encode()))
	require.NoError(t, err)
	assert.Equal(t, "U123", event.UserID)
	assert.Equal(t, "approve", event.ActionID)
	assert.Equal(t, "action-7", event.Envelope.ThreadID)
	assert.Equal(t, "apr-1", event.Envelope.ApprovalRequestID)
	assert.Equal(t, int64(7), event.Envelope.ActionID)
}

func TestParseInteractionDecodesModalSubmission(t *testing.T) {
	payload := `{"type":"view_submission","user":{"id":"U123"},"view":{"private_metadata":"thread_id=action-7|approval_request_id=apr-1|action_id=7","state":{"values":{"feedback_block":{"feedback_input":{"value":"add CC"}}}}}}`
	form := url.Values{"payload": {payload}}

	event, err := ParseInteraction([]byte(form.Encode()))
	require.NoError(t, err)
	assert.Equal(t, "add CC", event.ModalValues["feedback_block.feedback_input"])
	assert.Equal(t, "thread_id=action-7|approval_request_id=apr-1|action_id=7", event.PrivateMetadata)
}

func TestParseEventIgnoresNonMessageEvents(t *testing.T) {
	body := []byte(`{"event_id":"Ev1","event":{"type":"reaction_added"}}`)
	event, err := ParseEvent(body)
	require.NoError(t, err)
	assert.Nil(t, event)
}

func TestParseEventDecodesMessage(t *testing.T) {
	body := []byte(`{"event_id":"Ev1","event":{"type":"message","text":"please add CC","ts":"1700.01","thread_ts":"1699.99","user":"U1","channel":"C1"}}`)
	event, err := ParseEvent(body)
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, "please add CC", event.Text)
	assert.Equal(t, "1699.99", event.ThreadTS)
}
