package httpapi

import (
	"net/http"
	"time"

	"github.com/ent0n29/xianwen/internal/observability"
)

// handlePerfLatency serves the rolling completion latency window. Without
// metrics it returns an empty window of the same shape.
func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	snap := observability.LatencySnapshot{
		GeneratedAt: time.Now().UTC(),
		Stages:      []observability.LatencyStats{},
	}
	if s.metrics != nil {
		snap = s.metrics.SnapshotLatency()
	}
	respondJSON(w, http.StatusOK, snap)
}
