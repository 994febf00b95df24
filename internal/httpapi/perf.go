package httpapi

import (
	"net/http"

	"github.com/ent0n29/edvoice/internal/observability"
)

func (s *Server) handlePerfLatency(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		respondJSON(w, http.StatusOK, observability.LatencySnapshot{
			Services: []observability.LatencyStats{},
			Outcomes: []observability.OutcomeCount{},
		})
		return
	}
	if r.URL.Query().Get("reset") == "1" {
		s.metrics.ResetLatency()
	}
	respondJSON(w, http.StatusOK, s.metrics.SnapshotLatency())
}
