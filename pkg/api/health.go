package api

import "net/http"

// healthResponse is the body of GET /health per SPEC_FULL §4.5.
type healthResponse struct {
	Status                string   `json:"status"`
	Service               string   `json:"service"`
	AvailableSources      []string `json:"available_sources"`
	AvailableDestinations []string `json:"available_destinations"`
}

// handleHealth reports the process as healthy whenever it is serving
// requests at all — there is no external dependency to probe at this
// layer (each adapter's own connection is opened and torn down per run),
// so this is a liveness check, not a readiness check against any backend.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:                "healthy",
		Service:               "migrator",
		AvailableSources:      s.registry.ListSources(),
		AvailableDestinations: s.registry.ListSinks(),
	})
}
