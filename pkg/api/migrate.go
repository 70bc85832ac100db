package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/saadactin/migrator/pkg/models"
)

// handleMigrate validates and runs one migration per SPEC_FULL §4.5.
// Request validation (missing fields, same source/dest kind, bad
// operation_type) returns 400 before the engine is ever touched; once
// dispatched, the run's own success/failure is reported via the 200/500
// split and the RunResult body, never via a distinct error path.
func (s *Server) handleMigrate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req models.MigrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body: " + err.Error()})
		return
	}

	if err := s.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation failed: " + err.Error()})
		return
	}
	if req.SourceKind == req.SinkKind {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "source_type and dest_type must differ"})
		return
	}

	// A migration run is uncancellable from outside once dispatched: detach
	// from the request context so a client disconnecting mid-run can't
	// cancel an in-flight adapter call and abort it.
	result, err := s.engine.Migrate(context.WithoutCancel(r.Context()), req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	status := http.StatusOK
	if !result.Success {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, result)
}
