package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/spatialops/moran/internal/config"
	"github.com/spatialops/moran/internal/invoke"
	"github.com/spatialops/moran/internal/jobs"
	"github.com/spatialops/moran/internal/model"
	"github.com/spatialops/moran/internal/pipeline"
	"github.com/spatialops/moran/internal/runner"
	"github.com/spatialops/moran/internal/store"
	"github.com/spatialops/moran/internal/workdir"
)

func postAnalysis(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url+"/v1/analyses", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST /v1/analyses: %v", err)
	}
	return resp
}

func gwrBody(datasetPath string) string {
	return fmt.Sprintf(`{
		"kind": "gwr",
		"dataset_path": %q,
		"dependent": "income",
		"independents": ["density"],
		"kernel": "gaussian",
		"bandwidth_selection": "cv"
	}`, datasetPath)
}

func TestCreateAnalysisValid(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postAnalysis(t, ts.URL, gwrBody(writeTestDataset(t, 4)))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("status = %d, want 202", resp.StatusCode)
	}

	var run model.Run
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if len(run.ID) != 26 {
		t.Errorf("ID length = %d, want 26", len(run.ID))
	}
	if run.Status != model.StatusPending {
		t.Errorf("Status = %q, want %q", run.Status, model.StatusPending)
	}
	if run.Kind != model.KindGWR {
		t.Errorf("Kind = %q, want gwr", run.Kind)
	}
	if run.Dependent != "income" {
		t.Errorf("Dependent = %q, want income", run.Dependent)
	}
	if run.Independents != "density" {
		t.Errorf("Independents = %q, want density", run.Independents)
	}
}

func TestCreateAnalysisRunsToCompletion(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postAnalysis(t, ts.URL, gwrBody(writeTestDataset(t, 6)))
	var created model.Run
	json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()

	deadline := time.Now().Add(5 * time.Second)
	var got model.Run
	for time.Now().Before(deadline) {
		getResp, err := http.Get(ts.URL + "/v1/analyses/" + created.ID)
		if err != nil {
			t.Fatalf("GET /v1/analyses/%s: %v", created.ID, err)
		}
		json.NewDecoder(getResp.Body).Decode(&got)
		getResp.Body.Close()
		if got.Status != model.StatusPending && got.Status != model.StatusRunning {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if got.Status != model.StatusCompleted {
		t.Fatalf("status = %q (error=%q), want completed", got.Status, got.Error)
	}
	if got.ResultPath == "" {
		t.Error("result_path is empty")
	}
	if got.ResultFeatures == nil || *got.ResultFeatures != 6 {
		t.Errorf("result_features = %v, want 6", got.ResultFeatures)
	}
}

func TestCreateAnalysisDefaults(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body := fmt.Sprintf(`{"kind":"gwr","dataset_path":%q,"dependent":"income","independents":["density"]}`,
		writeTestDataset(t, 4))
	resp := postAnalysis(t, ts.URL, body)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	var run model.Run
	json.NewDecoder(resp.Body).Decode(&run)
	if run.Kernel != model.KernelGaussian {
		t.Errorf("Kernel = %q, want default gaussian", run.Kernel)
	}
}

func TestCreateAnalysisValidation(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	tests := []struct {
		name string
		body string
	}{
		{"missing kind", `{"dataset_path":"/d.shp","dependent":"x","independents":["y"]}`},
		{"unknown kind", `{"kind":"kriging","dataset_path":"/d.shp","dependent":"x","independents":["y"]}`},
		{"missing dataset", `{"kind":"gwr","dependent":"x","independents":["y"]}`},
		{"missing dependent", `{"kind":"gwr","dataset_path":"/d.shp","independents":["y"]}`},
		{"missing independents", `{"kind":"gwr","dataset_path":"/d.shp","dependent":"x"}`},
		{"not json", `not json`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := postAnalysis(t, ts.URL, tc.body)
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
			var errResp map[string]string
			json.NewDecoder(resp.Body).Decode(&errResp)
			if errResp["error"] == "" {
				t.Error("expected error message in response")
			}
		})
	}
}

func TestCreateAnalysisEngineNotConfigured(t *testing.T) {
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	// Settings file without an engine path.
	settings, err := config.LoadSettings(filepath.Join(t.TempDir(), "empty.settings"))
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	p := pipeline.New(invoke.NewDefaultRegistry(t.TempDir()), runner.New(logger),
		workdir.New(logger, t.TempDir()), nil, logger)
	eng := jobs.NewEngine(s, p, settings, t.TempDir(), logger)
	srv := NewServer(":0", s, eng, p, settings, logger)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postAnalysis(t, ts.URL, gwrBody("/data/districts.shp"))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestGetAnalysisNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/analyses/nonexistent")
	if err != nil {
		t.Fatalf("GET /v1/analyses/nonexistent: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestListAnalysesEmpty(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/analyses")
	if err != nil {
		t.Fatalf("GET /v1/analyses: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	var listResp listAnalysesResponse
	json.NewDecoder(resp.Body).Decode(&listResp)

	if listResp.Total != 0 {
		t.Errorf("total = %d, want 0", listResp.Total)
	}
	if len(listResp.Analyses) != 0 {
		t.Errorf("analyses count = %d, want 0", len(listResp.Analyses))
	}
}

func TestListAnalysesPagination(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	datasetPath := writeTestDataset(t, 4)
	for i := 0; i < 5; i++ {
		resp := postAnalysis(t, ts.URL, gwrBody(datasetPath))
		resp.Body.Close()
	}

	resp, err := http.Get(ts.URL + "/v1/analyses?limit=2&offset=0")
	if err != nil {
		t.Fatalf("GET /v1/analyses: %v", err)
	}
	defer resp.Body.Close()

	var listResp listAnalysesResponse
	json.NewDecoder(resp.Body).Decode(&listResp)

	if listResp.Total != 5 {
		t.Errorf("total = %d, want 5", listResp.Total)
	}
	if len(listResp.Analyses) != 2 {
		t.Errorf("analyses count = %d, want 2", len(listResp.Analyses))
	}
	if listResp.Limit != 2 {
		t.Errorf("limit = %d, want 2", listResp.Limit)
	}
}

func TestListAnalysesDefaultLimit(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/analyses")
	if err != nil {
		t.Fatalf("GET /v1/analyses: %v", err)
	}
	defer resp.Body.Close()

	var listResp listAnalysesResponse
	json.NewDecoder(resp.Body).Decode(&listResp)

	if listResp.Limit != defaultListLimit {
		t.Errorf("limit = %d, want %d", listResp.Limit, defaultListLimit)
	}
}
