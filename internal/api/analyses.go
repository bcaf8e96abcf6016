package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/spatialops/moran/internal/model"
	"github.com/spatialops/moran/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
)

// Submission defaults applied when the body omits optional knobs.
const (
	defaultMaxIterations = 200
	defaultTolerance     = 1e-5
	defaultOrder         = 1
	defaultSignificance  = 0.05
)

// createAnalysisRequest is the JSON body for POST /v1/analyses.
type createAnalysisRequest struct {
	Kind        string `json:"kind"`
	DatasetPath string `json:"dataset_path"`

	Dependent    string   `json:"dependent"`
	Independents []string `json:"independents"`
	Secondary    string   `json:"secondary"`

	Kernel             string  `json:"kernel"`
	BandwidthSelection string  `json:"bandwidth_selection"`
	Adaptive           bool    `json:"adaptive"`
	Bandwidth          float64 `json:"bandwidth"`
	Neighbors          int     `json:"neighbors"`

	Criterion     string  `json:"criterion"`
	MaxIterations int     `json:"max_iterations"`
	Tolerance     float64 `json:"tolerance"`

	Contiguity         string  `json:"contiguity"`
	ContiguityOrder    int     `json:"contiguity_order"`
	StandardizeWeights bool    `json:"standardize_weights"`
	Significance       float64 `json:"significance"`

	Standardize bool `json:"standardize"`
	Robust      bool `json:"robust"`
}

// listAnalysesResponse wraps the paginated list response.
type listAnalysesResponse struct {
	Analyses []*model.Run `json:"analyses"`
	Total    int          `json:"total"`
	Limit    int          `json:"limit"`
	Offset   int          `json:"offset"`
}

func (s *Server) handleCreateAnalysis(w http.ResponseWriter, r *http.Request) {
	var req createAnalysisRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := validateSubmission(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	applyDefaults(&req)

	if s.settings.EnginePath() == "" {
		s.writeError(w, http.StatusConflict, "statistical engine path is not configured")
		return
	}

	run := &model.Run{
		ID:           model.NewID(),
		Kind:         req.Kind,
		Status:       model.StatusPending,
		DatasetPath:  req.DatasetPath,
		Dependent:    req.Dependent,
		Independents: strings.Join(req.Independents, ","),
		Kernel:       req.Kernel,
		CreatedAt:    time.Now().UTC(),
	}

	analysis := &model.AnalysisRequest{
		Kind:               req.Kind,
		Dependent:          req.Dependent,
		Independents:       req.Independents,
		Secondary:          req.Secondary,
		Kernel:             req.Kernel,
		BandwidthSelection: req.BandwidthSelection,
		Adaptive:           req.Adaptive,
		Bandwidth:          req.Bandwidth,
		Neighbors:          req.Neighbors,
		Criterion:          req.Criterion,
		MaxIterations:      req.MaxIterations,
		Tolerance:          req.Tolerance,
		Contiguity:         req.Contiguity,
		ContiguityOrder:    req.ContiguityOrder,
		StandardizeWeights: req.StandardizeWeights,
		Significance:       req.Significance,
		Standardize:        req.Standardize,
		Robust:             req.Robust,
	}

	if err := s.engine.Submit(r.Context(), run, analysis); err != nil {
		s.logger.Error("submit analysis", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit analysis")
		return
	}

	s.writeJSON(w, http.StatusAccepted, run)
}

// validateSubmission rejects bodies that can never become a valid run. The
// pipeline does the full per-kind validation once the dataset is loaded.
func validateSubmission(req *createAnalysisRequest) error {
	switch req.Kind {
	case model.KindGWR, model.KindMGWR, model.KindLISA:
	case "":
		return fmt.Errorf("kind is required")
	default:
		return fmt.Errorf("unknown analysis kind %q", req.Kind)
	}
	if req.DatasetPath == "" {
		return fmt.Errorf("dataset_path is required")
	}
	if req.Dependent == "" {
		return fmt.Errorf("dependent is required")
	}
	if req.Kind != model.KindLISA && len(req.Independents) == 0 {
		return fmt.Errorf("independents are required for %s", req.Kind)
	}
	return nil
}

func applyDefaults(req *createAnalysisRequest) {
	if req.Kernel == "" {
		req.Kernel = model.KernelGaussian
	}
	if req.BandwidthSelection == "" {
		req.BandwidthSelection = model.SelectionCV
	}
	if req.Criterion == "" {
		req.Criterion = model.CriterionAICc
	}
	if req.MaxIterations == 0 {
		req.MaxIterations = defaultMaxIterations
	}
	if req.Tolerance == 0 {
		req.Tolerance = defaultTolerance
	}
	if req.Contiguity == "" {
		req.Contiguity = model.ContiguityQueen
	}
	if req.ContiguityOrder == 0 {
		req.ContiguityOrder = defaultOrder
	}
	if req.Significance == 0 {
		req.Significance = defaultSignificance
	}
}

func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "analysis not found")
		return
	}
	if err != nil {
		s.logger.Error("get analysis", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get analysis")
		return
	}

	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	runs, total, err := s.store.ListRuns(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list analyses", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list analyses")
		return
	}

	if runs == nil {
		runs = []*model.Run{}
	}

	s.writeJSON(w, http.StatusOK, listAnalysesResponse{
		Analyses: runs,
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	})
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
