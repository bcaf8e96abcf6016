package api

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"

	"github.com/spatialops/moran/internal/config"
	"github.com/spatialops/moran/internal/dataset"
	"github.com/spatialops/moran/internal/fieldmap"
	"github.com/spatialops/moran/internal/invoke"
	"github.com/spatialops/moran/internal/jobs"
	"github.com/spatialops/moran/internal/pipeline"
	"github.com/spatialops/moran/internal/runner"
	"github.com/spatialops/moran/internal/store"
	"github.com/spatialops/moran/internal/workdir"
)

// copyEngine is a stub engine script that copies the input shapefile to the
// output location, standing in for a successful analysis.
const copyEngine = `base_in=${1%.shp}
base_out=${2%.shp}
for ext in shp shx dbf prj; do
  if [ -f "$base_in.$ext" ]; then cp "$base_in.$ext" "$base_out.$ext"; fi
done
echo "analysis complete"
`

// newTestServer builds a server over an in-memory store and a /bin/sh stub
// engine, ready to accept submissions.
func newTestServer(t *testing.T) *Server {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	settings, err := config.LoadSettings(filepath.Join(t.TempDir(), "moran.settings"))
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if err := settings.SetEnginePath("/bin/sh"); err != nil {
		t.Fatalf("SetEnginePath: %v", err)
	}

	scriptsDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(scriptsDir, "gwr.R"), []byte(copyEngine), 0o755); err != nil {
		t.Fatalf("write stub script: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	p := pipeline.New(
		invoke.NewDefaultRegistry(scriptsDir),
		runner.New(logger),
		workdir.New(logger, t.TempDir()),
		nil,
		logger,
	)
	eng := jobs.NewEngine(s, p, settings, t.TempDir(), logger)

	return NewServer(":0", s, eng, p, settings, logger)
}

// writeTestDataset exports a small point dataset to disk and returns its path.
func writeTestDataset(t *testing.T, n int) string {
	t.Helper()
	ds := &dataset.Dataset{
		Name:         "districts",
		GeometryType: shp.POINT,
		Fields: []dataset.Field{
			{Name: "income", Type: dataset.TypeReal},
			{Name: "density", Type: dataset.TypeReal},
		},
	}
	for i := 0; i < n; i++ {
		ds.Features = append(ds.Features, dataset.Feature{
			Shape: &shp.Point{X: float64(i), Y: float64(i)},
			Attrs: []any{float64(i) * 10, float64(i) * 2},
		})
	}

	mapping, err := fieldmap.Build(ds.FieldNames(), nil)
	if err != nil {
		t.Fatalf("Build mapping: %v", err)
	}
	path := filepath.Join(t.TempDir(), "districts.shp")
	if err := dataset.Export(ds, mapping, path); err != nil {
		t.Fatalf("Export dataset: %v", err)
	}
	return path
}

func TestPanicRecovery(t *testing.T) {
	srv := newTestServer(t)
	srv.Router().Get("/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/panic")
	if err != nil {
		t.Fatalf("GET /panic: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}

func TestCORSHeaders(t *testing.T) {
	srv := newTestServer(t)
	srv.Router().Get("/test", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	req, _ := http.NewRequest("OPTIONS", ts.URL+"/test", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS /test: %v", err)
	}
	defer resp.Body.Close()

	if v := resp.Header.Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", v, "*")
	}
}
