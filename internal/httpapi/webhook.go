package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/saihai-hitl/coordinator/internal/action"
	"github.com/saihai-hitl/coordinator/internal/chat"
	"github.com/saihai-hitl/coordinator/internal/checkpoint"
)

// DemoService's chat-driven transitions. Only Start is REST; everything
// else arrives as a thread reply and lands here.
type demoChatService interface {
	RecordPlanSelection(ctx context.Context, alertID, actor, plan, idempotencyKey string) error
	RecordIntervention(ctx context.Context, alertID, actor, intervention, idempotencyKey string) error
	Approve(ctx context.Context, alertID, actor, idempotencyKey string) error
	Reject(ctx context.Context, alertID, actor, idempotencyKey string) error
	Cancel(ctx context.Context, alertID, actor, idempotencyKey string) error
}

const (
	headerSignature = "X-Slack-Signature"
	headerTimestamp = "X-Slack-Request-Timestamp"
)

// verifyAndRead reads the raw request body and checks its signature.
// Returns nil (after writing 401) on failure -- the webhook must never
// process an unverified payload.
func (s *Server) verifyAndRead(w http.ResponseWriter, r *http.Request) []byte {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return nil
	}
	if err := chat.VerifySignature(s.cfg.SigningSecret, r.Header.Get(headerSignature), r.Header.Get(headerTimestamp), body, s.cfg.SignatureTTL, s.cfg.AllowUnsigned); err != nil {
		s.log.Warnw("webhook signature rejected", "err", err)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return nil
	}
	return body
}

// handleInteractions accepts button clicks and modal submissions. The
// response is returned immediately and the coordinator call runs in the
// background; the chat platform expects an acknowledgement within a few
// seconds, well under a database round-trip plus an executor call.
func (s *Server) handleInteractions(w http.ResponseWriter, r *http.Request) {
	body := s.verifyAndRead(w, r)
	if body == nil {
		return
	}
	event, err := chat.ParseInteraction(body)
	if err != nil {
		s.log.Warnw("failed to parse interaction", "err", err)
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusOK)
	s.dispatch(func() { s.processInteraction(context.Background(), event) })
}

func (s *Server) processInteraction(ctx context.Context, event *chat.InteractionEvent) {
	if event.ActionID == "" && event.ModalValues != nil {
		s.processModalSteer(ctx, event)
		return
	}

	env := event.Envelope
	if env.ApprovalRequestID == "" {
		s.log.Warnw("interaction without an approval envelope ignored", "action", event.ActionID)
		return
	}
	key := ""
	if event.TriggerID != "" {
		key = "interaction:" + event.TriggerID
	}

	switch event.ActionID {
	case "approve":
		if _, err := s.coord.Approve(ctx, env.ApprovalRequestID, event.UserID, key); err != nil {
			s.log.Warnw("approve via interaction failed", "approval_request_id", env.ApprovalRequestID, "err", err)
		}
	case "reject":
		if err := s.coord.Reject(ctx, env.ApprovalRequestID, event.UserID, key); err != nil {
			s.log.Warnw("reject via interaction failed", "approval_request_id", env.ApprovalRequestID, "err", err)
		}
	case "request_changes":
		if mo, ok := s.poster.(ModalOpener); ok && event.TriggerID != "" {
			err := mo.PostModalOpener(ctx, event.TriggerID, env.ThreadID, env.ApprovalRequestID, env.ActionID)
			if err == nil {
				return
			}
			s.log.Warnw("failed to open steer modal, falling back to thread nudge", "approval_request_id", env.ApprovalRequestID, "err", err)
		}
		s.postToThread(ctx, env.ThreadID, "Reply in this thread with the change you'd like and I'll update the draft.")
	default:
		s.log.Debugw("unhandled interaction action", "action", event.ActionID)
	}
}

// processModalSteer handles a view submission. The modal carries the
// button envelope in the view's private_metadata, plus the feedback text
// and an optional plan pick; input values arrive flattened as
// block_id.action_id.
func (s *Server) processModalSteer(ctx context.Context, event *chat.InteractionEvent) {
	envValue := event.PrivateMetadata
	if envValue == "" {
		envValue = modalValueWithSuffix(event.ModalValues, ".envelope")
	}
	feedback := modalValueWithSuffix(event.ModalValues, ".feedback")
	plan := modalValueWithSuffix(event.ModalValues, ".plan")
	if envValue == "" || feedback == "" {
		s.log.Warnw("modal submission missing envelope or feedback, ignored")
		return
	}
	env := chat.DecodeEnvelope(envValue)
	if env.ApprovalRequestID == "" {
		return
	}
	key := ""
	if event.TriggerID != "" {
		key = "interaction:" + event.TriggerID
	}
	if _, err := s.coord.ApplySteer(ctx, env.ApprovalRequestID, event.UserID, feedback, plan, key); err != nil {
		s.log.Warnw("steer via modal failed", "approval_request_id", env.ApprovalRequestID, "err", err)
	}
}

func modalValueWithSuffix(values map[string]string, suffix string) string {
	for k, v := range values {
		if strings.HasSuffix(k, suffix) && v != "" {
			return v
		}
	}
	return ""
}

// urlVerification is Slack's one-time endpoint handshake; it arrives on the
// events URL before any real traffic and must be echoed synchronously.
type urlVerification struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
}

// handleEvents accepts message events, used for thread-reply steering and
// for driving the demo state machine.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	body := s.verifyAndRead(w, r)
	if body == nil {
		return
	}

	var uv urlVerification
	if err := json.Unmarshal(body, &uv); err == nil && uv.Type == "url_verification" {
		writeJSON(w, http.StatusOK, map[string]string{"challenge": uv.Challenge})
		return
	}

	event, err := chat.ParseEvent(body)
	if err != nil {
		s.log.Warnw("failed to parse event", "err", err)
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusOK)
	if event == nil || event.UserID == "" || strings.TrimSpace(event.Text) == "" {
		return
	}
	s.dispatch(func() { s.processMessageEvent(context.Background(), event) })
}

func (s *Server) processMessageEvent(ctx context.Context, event *chat.MessageEvent) {
	cp, err := s.lookupThread(ctx, event.Channel, event.ThreadTS)
	if err != nil {
		s.log.Warnw("thread lookup failed", "channel", event.Channel, "thread_ts", event.ThreadTS, "err", err)
		return
	}
	if cp == nil {
		return // not one of ours
	}

	key := "evt:" + event.EventID

	if cp.Metadata.Mode == "demo" {
		s.processDemoMessage(ctx, cp, event, key)
		return
	}

	if cp.Metadata.Status == string(action.StatusApprovalPending) && chat.LooksLikeSteer(event.Text) {
		if _, err := s.coord.ApplySteer(ctx, cp.Metadata.ApprovalRequestID, event.UserID, strings.TrimSpace(event.Text), "", key); err != nil {
			s.log.Warnw("steer via message failed", "thread_id", cp.ThreadID, "err", err)
		}
		return
	}
	s.replyToThread(ctx, cp, chat.DisambiguationPrompt)
}

// processDemoMessage maps a plain thread reply onto the demo driver's
// compressed transition set: approve / reject / cancel / "plan X" /
// anything else is an intervention.
func (s *Server) processDemoMessage(ctx context.Context, cp *checkpoint.Checkpoint, event *chat.MessageEvent, key string) {
	demo, ok := s.demo.(demoChatService)
	if !ok {
		return
	}
	alertID := strings.TrimPrefix(cp.ThreadID, "demo:")
	text := strings.TrimSpace(event.Text)
	lower := strings.ToLower(text)

	var err error
	switch {
	case lower == "approve":
		err = demo.Approve(ctx, alertID, event.UserID, key)
	case lower == "reject":
		err = demo.Reject(ctx, alertID, event.UserID, key)
	case lower == "cancel":
		err = demo.Cancel(ctx, alertID, event.UserID, key)
	case strings.HasPrefix(lower, "plan "):
		err = demo.RecordPlanSelection(ctx, alertID, event.UserID, strings.TrimSpace(text[len("plan "):]), key)
	default:
		err = demo.RecordIntervention(ctx, alertID, event.UserID, text, key)
	}
	if err != nil {
		s.log.Warnw("demo transition via message failed", "alert_id", alertID, "err", err)
	}
}

// lookupThread resolves a (channel, thread_ts) pair to its checkpoint via
// the thread index. The lock taken by the lookup is released immediately;
// the actual mutation re-acquires it inside the coordinator.
func (s *Server) lookupThread(ctx context.Context, channel, threadTS string) (*checkpoint.Checkpoint, error) {
	tx, err := s.checkpoints.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	cp, err := s.checkpoints.FindByThreadHandle(ctx, tx, channel, threadTS)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	return cp, tx.Commit()
}

func (s *Server) postToThread(ctx context.Context, threadID, text string) {
	cp, err := s.checkpoints.Load(ctx, threadID)
	if err != nil || cp == nil {
		return
	}
	s.replyToThread(ctx, cp, text)
}

func (s *Server) replyToThread(ctx context.Context, cp *checkpoint.Checkpoint, text string) {
	h := cp.Metadata.ChatHandle
	if h == nil || h.Channel == "" {
		return
	}
	threadTS := h.ThreadTS
	if threadTS == "" {
		threadTS = h.MessageTS
	}
	if err := s.poster.PostThreadMessage(ctx, h.Channel, threadTS, text); err != nil {
		s.log.Warnw("failed to post thread reply", "thread_id", cp.ThreadID, "err", err)
	}
}
