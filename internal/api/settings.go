package api

import (
	"encoding/json"
	"net/http"
	"os"
)

// engineSetting is the JSON shape for GET/PUT /v1/settings/engine.
type engineSetting struct {
	EnginePath string `json:"engine_path"`
}

func (s *Server) handleGetEngineSetting(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, engineSetting{EnginePath: s.settings.EnginePath()})
}

func (s *Server) handlePutEngineSetting(w http.ResponseWriter, r *http.Request) {
	var req engineSetting
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.EnginePath == "" {
		s.writeError(w, http.StatusBadRequest, "engine_path is required")
		return
	}
	if _, err := os.Stat(req.EnginePath); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, "engine_path does not exist")
		return
	}

	if err := s.settings.SetEnginePath(req.EnginePath); err != nil {
		s.logger.Error("persist engine path", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to persist engine path")
		return
	}

	s.writeJSON(w, http.StatusOK, engineSetting{EnginePath: req.EnginePath})
}
