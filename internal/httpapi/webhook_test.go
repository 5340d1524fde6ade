package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saihai-hitl/coordinator/internal/chat"
	"github.com/saihai-hitl/coordinator/internal/checkpoint"
)

func interactionBody(t *testing.T, actionID, value, userID, triggerID string) []byte {
	t.Helper()
	payload := map[string]any{
		"type":       "block_actions",
		"user":       map[string]string{"id": userID},
		"trigger_id": triggerID,
		"actions": []map[string]string{
			{"action_id": actionID, "value": value},
		},
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	form := url.Values{}
	form.Set("payload", string(raw))
	return []byte(form.Encode())
}

func eventBody(t *testing.T, eventID, channel, userID, text, ts, threadTS string) []byte {
	t.Helper()
	payload := map[string]any{
		"event_id": eventID,
		"event": map[string]string{
			"type":      "message",
			"text":      text,
			"ts":        ts,
			"thread_ts": threadTS,
			"user":      userID,
			"channel":   channel,
		},
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return raw
}

func postWebhook(router http.Handler, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestInteractionsRejectsBadSignature(t *testing.T) {
	cfg := defaultConfig()
	cfg.SigningSecret = "shhh"
	cfg.AllowUnsigned = false
	h := newTestHarness(t, cfg)

	body := interactionBody(t, "approve", "thread_id=action-1|approval_request_id=apr-1|action_id=1", "u2", "trig-1")
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	rec := postWebhook(h.router, "/webhooks/interactions", body, map[string]string{
		headerTimestamp: ts,
		headerSignature: "v0=deadbeef",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, h.coord.approveCalls)
}

func TestInteractionsAcceptsSignedApprove(t *testing.T) {
	cfg := defaultConfig()
	cfg.SigningSecret = "shhh"
	cfg.AllowUnsigned = false
	h := newTestHarness(t, cfg)

	body := interactionBody(t, "approve", "thread_id=action-1|approval_request_id=apr-1|action_id=1", "u2", "trig-1")
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	rec := postWebhook(h.router, "/webhooks/interactions", body, map[string]string{
		headerTimestamp: ts,
		headerSignature: chat.Sign("shhh", ts, body),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, h.coord.approveCalls, 1)
	assert.Equal(t, "apr-1/u2/interaction:trig-1", h.coord.approveCalls[0])
}

func TestInteractionRejectButton(t *testing.T) {
	h := newTestHarness(t, defaultConfig())

	body := interactionBody(t, "reject", "thread_id=action-1|approval_request_id=apr-1|action_id=1", "u3", "")
	rec := postWebhook(h.router, "/webhooks/interactions", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, h.coord.rejectCalls, 1)
	assert.Equal(t, "apr-1/u3", h.coord.rejectCalls[0])
}

func TestInteractionRequestChangesPostsNudge(t *testing.T) {
	h := newTestHarness(t, defaultConfig())
	h.checkpoints.seed(&checkpoint.Checkpoint{
		ThreadID: "action-1",
		Metadata: checkpoint.Metadata{
			Status:            "approval_pending",
			ApprovalRequestID: "apr-1",
			ChatHandle:        &checkpoint.ChatHandle{Channel: "C1", MessageTS: "100.1", ThreadTS: "100.1"},
		},
	})

	body := interactionBody(t, "request_changes", "thread_id=action-1|approval_request_id=apr-1|action_id=1", "u2", "")
	rec := postWebhook(h.router, "/webhooks/interactions", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, h.poster.posts, 1)
	assert.Contains(t, h.poster.posts[0], "C1/100.1/")
}

type modalPoster struct {
	fakePoster
	opened []string
}

func (m *modalPoster) PostModalOpener(_ context.Context, triggerID, _, approvalRequestID string, _ int64) error {
	m.opened = append(m.opened, triggerID+"/"+approvalRequestID)
	return nil
}

func TestInteractionRequestChangesOpensModal(t *testing.T) {
	h := newTestHarness(t, defaultConfig())
	mp := &modalPoster{}
	h.server.poster = mp

	body := interactionBody(t, "request_changes", "thread_id=action-1|approval_request_id=apr-1|action_id=1", "u2", "trig-9")
	rec := postWebhook(h.router, "/webhooks/interactions", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"trig-9/apr-1"}, mp.opened)
	assert.Empty(t, mp.posts)
}

func TestModalSubmissionSteers(t *testing.T) {
	h := newTestHarness(t, defaultConfig())

	payload := map[string]any{
		"type": "view_submission",
		"user": map[string]string{"id": "u2"},
		"view": map[string]any{
			"private_metadata": "thread_id=action-1|approval_request_id=apr-1|action_id=1",
			"state": map[string]any{
				"values": map[string]any{
					"steer_feedback": map[string]any{"feedback": map[string]string{"value": "add CC"}},
					"steer_plan":     map[string]any{"plan": map[string]string{"value": "Plan_B"}},
				},
			},
		},
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	form := url.Values{}
	form.Set("payload", string(raw))

	rec := postWebhook(h.router, "/webhooks/interactions", []byte(form.Encode()), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, h.coord.steerCalls, 1)
	assert.Equal(t, "apr-1/u2/add CC/Plan_B", h.coord.steerCalls[0])
}

func TestEventsURLVerification(t *testing.T) {
	h := newTestHarness(t, defaultConfig())

	body := []byte(`{"type":"url_verification","challenge":"ch-123"}`)
	rec := postWebhook(h.router, "/webhooks/events", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ch-123")
}

func TestEventSteersPendingThread(t *testing.T) {
	h := newTestHarness(t, defaultConfig())
	h.checkpoints.seed(&checkpoint.Checkpoint{
		ThreadID: "action-1",
		Metadata: checkpoint.Metadata{
			Status:            "approval_pending",
			ApprovalRequestID: "apr-1",
			ChatHandle:        &checkpoint.ChatHandle{Channel: "C1", MessageTS: "100.1", ThreadTS: "100.1"},
		},
	})

	body := eventBody(t, "Ev1", "C1", "u2", "please add the CFO as CC", "101.5", "100.1")
	rec := postWebhook(h.router, "/webhooks/events", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, h.coord.steerCalls, 1)
	assert.Equal(t, "apr-1/u2/please add the CFO as CC/", h.coord.steerCalls[0])
}

func TestEventWithoutKeywordsGetsDisambiguation(t *testing.T) {
	h := newTestHarness(t, defaultConfig())
	h.checkpoints.seed(&checkpoint.Checkpoint{
		ThreadID: "action-1",
		Metadata: checkpoint.Metadata{
			Status:            "approval_pending",
			ApprovalRequestID: "apr-1",
			ChatHandle:        &checkpoint.ChatHandle{Channel: "C1", MessageTS: "100.1", ThreadTS: "100.1"},
		},
	})

	body := eventBody(t, "Ev2", "C1", "u2", "interesting", "101.5", "100.1")
	rec := postWebhook(h.router, "/webhooks/events", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, h.coord.steerCalls)
	require.Len(t, h.poster.posts, 1)
	assert.Contains(t, h.poster.posts[0], chat.DisambiguationPrompt)
}

func TestEventForUnknownThreadIgnored(t *testing.T) {
	h := newTestHarness(t, defaultConfig())

	body := eventBody(t, "Ev3", "C9", "u2", "please change this", "101.5", "100.9")
	rec := postWebhook(h.router, "/webhooks/events", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, h.coord.steerCalls)
	assert.Empty(t, h.poster.posts)
}

func TestDemoThreadMessageRouting(t *testing.T) {
	h := newTestHarness(t, defaultConfig())
	h.checkpoints.seed(&checkpoint.Checkpoint{
		ThreadID: "demo:alert-42",
		Metadata: checkpoint.Metadata{
			Mode:       "demo",
			Status:     "alerted",
			ChatHandle: &checkpoint.ChatHandle{Channel: "C1", MessageTS: "200.1", ThreadTS: "200.1"},
		},
	})

	cases := []struct {
		text  string
		check func()
	}{
		{"plan B", func() { assert.Equal(t, []string{"alert-42/B"}, h.demo.planCalls) }},
		{"approve", func() { assert.Equal(t, []string{"alert-42/u2"}, h.demo.approves) }},
		{"reject", func() { assert.Equal(t, []string{"alert-42"}, h.demo.rejects) }},
		{"cancel", func() { assert.Equal(t, []string{"alert-42"}, h.demo.cancels) }},
		{"push the meeting a week", func() {
			assert.Equal(t, []string{"alert-42/push the meeting a week"}, h.demo.interventions)
		}},
	}
	for i, tc := range cases {
		body := eventBody(t, fmt.Sprintf("EvD%d", i), "C1", "u2", tc.text, fmt.Sprintf("201.%d", i), "200.1")
		rec := postWebhook(h.router, "/webhooks/events", body, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		tc.check()
	}
}

func TestBotAndEmptyMessagesIgnored(t *testing.T) {
	h := newTestHarness(t, defaultConfig())

	body := eventBody(t, "Ev4", "C1", "", "please change", "101.5", "100.1")
	rec := postWebhook(h.router, "/webhooks/events", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, h.coord.steerCalls)
}
