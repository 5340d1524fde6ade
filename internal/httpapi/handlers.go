package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/saihai-hitl/coordinator/internal/coordinator"
)

// actorRequest is the common body shape of the approve/reject operations.
type actorRequest struct {
	Actor          string `json:"actor"`
	IdempotencyKey string `json:"idempotency_key"`
}

type steerRequest struct {
	Actor          string `json:"actor"`
	Feedback       string `json:"feedback"`
	SelectedPlan   string `json:"selected_plan"`
	IdempotencyKey string `json:"idempotency_key"`
}

type requestApprovalRequest struct {
	RequestedBy    string `json:"requested_by"`
	IdempotencyKey string `json:"idempotency_key"`
	Summary        string `json:"summary"`
}

type executeRequest struct {
	SimulateFailure bool           `json:"simulate_failure"`
	Payload         map[string]any `json:"payload"`
}

type approvalResponse struct {
	ThreadID          string `json:"thread_id"`
	ApprovalRequestID string `json:"approval_request_id"`
	Status            string `json:"status"`
	ActionID          int64  `json:"action_id"`
	Channel           string `json:"channel,omitempty"`
	MessageTS         string `json:"message_ts,omitempty"`
}

type executionResponse struct {
	JobID    string `json:"job_id"`
	Status   string `json:"status"`
	ThreadID string `json:"thread_id"`
	ActionID int64  `json:"action_id"`
}

func approvalResponseFrom(res *coordinator.ApprovalResult) approvalResponse {
	out := approvalResponse{
		ThreadID:          res.ThreadID,
		ApprovalRequestID: res.ApprovalRequestID,
		Status:            res.Status,
		ActionID:          res.ActionID,
	}
	if res.Chat != nil {
		out.Channel = res.Chat.Channel
		out.MessageTS = res.Chat.MessageTS
	}
	return out
}

func executionResponseFrom(res *coordinator.ExecutionJobResult) executionResponse {
	return executionResponse{JobID: res.JobID, Status: res.Status, ThreadID: res.ThreadID, ActionID: res.ActionID}
}

// decodeBody decodes an optional JSON request body into v. An empty body is
// accepted; a malformed one is a 400.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return false
	}
	return true
}

func actorOrDefault(actor string) string {
	if actor == "" {
		return "operator"
	}
	return actor
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	approvalRequestID := mux.Vars(r)["id"]
	var req actorRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.coord.Approve(r.Context(), approvalRequestID, actorOrDefault(req.Actor), req.IdempotencyKey)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, executionResponseFrom(res))
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	approvalRequestID := mux.Vars(r)["id"]
	var req actorRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.coord.Reject(r.Context(), approvalRequestID, actorOrDefault(req.Actor), req.IdempotencyKey); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

func (s *Server) handleSteer(w http.ResponseWriter, r *http.Request) {
	approvalRequestID := mux.Vars(r)["id"]
	var req steerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Feedback == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "feedback is required"})
		return
	}
	res, err := s.coord.ApplySteer(r.Context(), approvalRequestID, actorOrDefault(req.Actor), req.Feedback, req.SelectedPlan, req.IdempotencyKey)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, approvalResponseFrom(res))
}

func (s *Server) handleRequestApproval(w http.ResponseWriter, r *http.Request) {
	actionID, ok := actionIDVar(w, r)
	if !ok {
		return
	}
	var req requestApprovalRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.coord.RequestApproval(r.Context(), actionID, actorOrDefault(req.RequestedBy), req.IdempotencyKey, req.Summary)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, approvalResponseFrom(res))
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	actionID, ok := actionIDVar(w, r)
	if !ok {
		return
	}
	var req executeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.coord.ProcessExecutionJob(r.Context(), actionID, req.SimulateFailure, req.Payload)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, executionResponseFrom(res))
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	threadID := mux.Vars(r)["thread_id"]
	events, err := s.coord.FetchAuditLogs(r.Context(), threadID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if events == nil {
		events = []coordinator.AuditLogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"thread_id": threadID, "events": auditJSON(events)})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be an integer"})
			return
		}
		limit = v
	}
	entries, err := s.coord.FetchHistory(r.Context(), coordinator.HistoryFilter{
		Status:    q.Get("status"),
		ProjectID: q.Get("project_id"),
		Limit:     limit,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{
			"thread_id":  e.ThreadID,
			"action_id":  e.ActionID,
			"status":     e.Status,
			"summary":    e.Summary,
			"project_id": e.ProjectID,
			"severity":   e.Severity,
			"updated_at": e.UpdatedAt,
			"events":     auditJSON(e.Events),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": out})
}

func (s *Server) handleDemoStart(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if !decodeBody(w, r, &req) {
		return
	}
	alertID, err := s.demo.Start(r.Context(), actorOrDefault(req.Actor))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"alert_id": alertID})
}

func actionIDVar(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := mux.Vars(r)["action_id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "action_id must be an integer"})
		return 0, false
	}
	return id, true
}

func auditJSON(events []coordinator.AuditLogEntry) []map[string]any {
	out := make([]map[string]any, 0, len(events))
	for _, e := range events {
		out = append(out, map[string]any{
			"event_type":     e.EventType,
			"actor":          e.Actor,
			"correlation_id": e.CorrelationID,
			"detail":         e.Detail,
			"created_at":     e.CreatedAt,
		})
	}
	return out
}
