package httpapi

import (
	"context"
	"net/http"
	"time"
)

// HealthResponse is the JSON response from the health check endpoint.
type HealthResponse struct {
	Healthy           bool         `json:"healthy"`
	Database          HealthStatus `json:"database"`
	OpenApprovalCount int          `json:"open_approval_count"`
}

// HealthStatus reports the health of a single subsystem.
type HealthStatus struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if s.db == nil {
		response.Database = HealthStatus{OK: false, Message: "database not configured"}
	} else if err := s.db.PingContext(ctx); err != nil {
		response.Database = HealthStatus{OK: false, Message: err.Error()}
	} else {
		response.Database = HealthStatus{OK: true}
	}

	response.OpenApprovalCount = -1 // indicates error until counted
	if response.Database.OK {
		checkpoints, err := s.checkpoints.ListAll(ctx, 0)
		if err != nil {
			s.log.Errorw("failed to list checkpoints for health check", "err", err)
		} else {
			open := 0
			for _, cp := range checkpoints {
				if cp.Metadata.Status == "approval_pending" {
					open++
				}
			}
			response.OpenApprovalCount = open
		}
	}

	response.Healthy = response.Database.OK
	status := http.StatusOK
	if !response.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, response)
}
