package web

import (
	"context"
	"net/http"
	"time"

	"github.com/JonMunkholm/pemtool/internal/core"
)

// HealthResponse is the body of /healthz.
type HealthResponse struct {
	Status  string                   `json:"status"`
	Store   string                   `json:"store"`
	Uploads core.UploadLimiterStatus `json:"uploads"`
}

// handleHealth reports store reachability and upload slot usage. It
// returns 503 when the store cannot be reached.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "ok", Store: "ok", Uploads: s.service.UploadLimiterStatus()}
	status := http.StatusOK
	if err := s.service.Ping(ctx); err != nil {
		resp.Status = "unavailable"
		resp.Store = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
