// Package httpapi is the HTTP Intake (C8): thin adapters that translate
// authenticated REST calls and chat webhooks into coordinator operations.
// One unauthenticated webhook subtree is guarded by signature
// verification, everything else sits behind an auth middleware, and
// metrics are recorded for every request that reaches the router at all.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"

	"github.com/saihai-hitl/coordinator/internal/checkpoint"
	"github.com/saihai-hitl/coordinator/internal/coordinator"
	"github.com/saihai-hitl/coordinator/internal/logging"
)

// CoordinatorService is the slice of the HITL Coordinator (C5) the intake
// layer drives, kept as an interface so handlers can be tested against a
// fake without a database.
type CoordinatorService interface {
	RequestApproval(ctx context.Context, actionID int64, requestedBy, idempotencyKey, summary string) (*coordinator.ApprovalResult, error)
	Approve(ctx context.Context, approvalRequestID, actor, idempotencyKey string) (*coordinator.ExecutionJobResult, error)
	Reject(ctx context.Context, approvalRequestID, actor, idempotencyKey string) error
	ApplySteer(ctx context.Context, approvalRequestID, actor, feedback, selectedPlan, idempotencyKey string) (*coordinator.ApprovalResult, error)
	ProcessExecutionJob(ctx context.Context, actionID int64, simulateFailure bool, payloadOverride map[string]any) (*coordinator.ExecutionJobResult, error)
	FetchAuditLogs(ctx context.Context, threadID string) ([]coordinator.AuditLogEntry, error)
	FetchHistory(ctx context.Context, filter coordinator.HistoryFilter) ([]coordinator.HistoryEntry, error)
}

// DemoService is the slice of the Demo Driver (C7) exposed over HTTP. Only
// starting a demo is a REST operation; every later transition arrives
// through the chat webhooks.
type DemoService interface {
	Start(ctx context.Context, requestedBy string) (alertID string, err error)
}

// ThreadPoster posts a plain reply into an existing chat thread, used for
// the disambiguation prompt and the request-changes nudge.
type ThreadPoster interface {
	PostThreadMessage(ctx context.Context, channel, threadTS, text string) error
}

// ModalOpener is the optional gateway capability of opening the steer
// modal from a request_changes click. When the poster doesn't implement it
// (or the click carried no trigger id), the intake falls back to a thread
// nudge.
type ModalOpener interface {
	PostModalOpener(ctx context.Context, triggerID, threadID, approvalRequestID string, actionID int64) error
}

// Config carries the intake layer's own settings, a subset of the process
// configuration.
type Config struct {
	APIAuthToken  string
	SigningSecret string
	SignatureTTL  time.Duration
	AllowUnsigned bool
}

// Server owns the router and the collaborators the handlers call into.
type Server struct {
	coord       CoordinatorService
	demo        DemoService
	checkpoints checkpoint.Store
	poster      ThreadPoster
	db          *sqlx.DB
	cfg         Config
	metrics     *apiMetrics
	log         logging.Logger

	// dispatch runs webhook follow-up work; tests replace it with a
	// synchronous call so they can assert on the outcome.
	dispatch func(fn func())
}

// New builds a Server. db may be nil in tests; it is only used by the
// health check's connectivity probe.
func New(coord CoordinatorService, demo DemoService, checkpoints checkpoint.Store, poster ThreadPoster, db *sqlx.DB, cfg Config, log logging.Logger) *Server {
	return &Server{
		coord:       coord,
		demo:        demo,
		checkpoints: checkpoints,
		poster:      poster,
		db:          db,
		cfg:         cfg,
		metrics:     newAPIMetrics(),
		log:         log,
		dispatch:    func(fn func()) { go fn() },
	}
}

// Router assembles the full route table: webhooks outside the auth
// middleware (they carry their own HMAC), everything else behind it.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.metrics.middleware)
	// Router-level middleware only wraps matched routes, so unmatched paths
	// are counted through the not-found handler instead.
	router.NotFoundHandler = s.metrics.middleware(http.NotFoundHandler())

	// Chat webhook endpoints -- NO bearer auth (HMAC signature verification).
	router.HandleFunc("/webhooks/interactions", s.handleInteractions).Methods(http.MethodPost)
	router.HandleFunc("/webhooks/events", s.handleEvents).Methods(http.MethodPost)

	authed := router.PathPrefix("/api/v1").Subrouter()
	authed.Use(s.authorizationRequired)

	authed.HandleFunc("/approvals/{id}/approve", s.handleApprove).Methods(http.MethodPost)
	authed.HandleFunc("/approvals/{id}/reject", s.handleReject).Methods(http.MethodPost)
	authed.HandleFunc("/approvals/{id}/steer", s.handleSteer).Methods(http.MethodPost)

	authed.HandleFunc("/nemawashi/{action_id}/request-approval", s.handleRequestApproval).Methods(http.MethodPost)
	authed.HandleFunc("/nemawashi/{action_id}/execute", s.handleExecute).Methods(http.MethodPost)

	authed.HandleFunc("/audit/{thread_id}", s.handleAudit).Methods(http.MethodGet)
	authed.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)

	authed.HandleFunc("/demo/start", s.handleDemoStart).Methods(http.MethodPost)

	authed.HandleFunc("/health", s.handleHealthCheck).Methods(http.MethodGet)
	authed.HandleFunc("/metrics", s.handleGetMetrics).Methods(http.MethodGet)

	return router
}

// authorizationRequired rejects requests without the configured bearer
// token. An empty configured token disables the check, the same escape
// hatch the chat gateway's allow-unsigned flag provides for local
// development.
func (s *Server) authorizationRequired(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIAuthToken != "" {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") || strings.TrimPrefix(header, "Bearer ") != s.cfg.APIAuthToken {
				http.Error(w, "Not authorized", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the coordinator's error taxonomy onto HTTP status
// codes: NotFound 404, Conflict 409, anything else 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	if nf, ok := coordinator.AsNotFound(err); ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": nf.Error()})
		return
	}
	if c, ok := coordinator.AsConflict(err); ok {
		writeJSON(w, http.StatusConflict, map[string]string{"error": c.Error()})
		return
	}
	s.log.Errorw("request failed", "err", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}
