package api

import (
	"context"
	"encoding/json"
	"net/http"
)

// testConnectionRequest is the body of POST /test-connection.
type testConnectionRequest struct {
	Type        string                 `json:"type" validate:"required,oneof=source destination"`
	AdapterType string                 `json:"adapter_type" validate:"required"`
	Config      map[string]interface{} `json:"config"`
}

type testConnectionResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// handleTestConnection probes a single adapter's connectivity without
// running a migration. Per SPEC_FULL §4.5 this never surfaces a failure
// as a non-200 status — a bad password or unreachable host is a valid
// answer to "can this connect?", not a server error.
func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req testConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, testConnectionResponse{Valid: false, Error: "invalid JSON body: " + err.Error()})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusOK, testConnectionResponse{Valid: false, Error: "validation failed: " + err.Error()})
		return
	}

	ctx := r.Context()

	if req.Type == "source" {
		adapter, err := s.registry.NewSource(req.AdapterType, req.Config)
		if err != nil {
			writeJSON(w, http.StatusOK, testConnectionResponse{Valid: false, Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, probeSource(ctx, adapter, req.Config))
		return
	}

	adapter, err := s.registry.NewSink(req.AdapterType, req.Config)
	if err != nil {
		writeJSON(w, http.StatusOK, testConnectionResponse{Valid: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, probeSink(ctx, adapter, req.Config))
}

// probeSource and probeSink are split out from handleTestConnection only
// because source.Adapter and sink.Adapter are distinct interface types;
// both just call TestConnection and shape the response identically.
func probeSource(ctx context.Context, adapter interface {
	TestConnection(ctx context.Context, config map[string]interface{}) bool
}, config map[string]interface{}) testConnectionResponse {
	if adapter.TestConnection(ctx, config) {
		return testConnectionResponse{Valid: true}
	}
	return testConnectionResponse{Valid: false, Error: "connection probe failed"}
}

func probeSink(ctx context.Context, adapter interface {
	TestConnection(ctx context.Context, config map[string]interface{}) bool
}, config map[string]interface{}) testConnectionResponse {
	if adapter.TestConnection(ctx, config) {
		return testConnectionResponse{Valid: true}
	}
	return testConnectionResponse{Valid: false, Error: "connection probe failed"}
}
