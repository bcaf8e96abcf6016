package jobs_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonas-p/go-shp"

	"github.com/spatialops/moran/internal/config"
	"github.com/spatialops/moran/internal/dataset"
	"github.com/spatialops/moran/internal/fieldmap"
	"github.com/spatialops/moran/internal/invoke"
	"github.com/spatialops/moran/internal/jobs"
	"github.com/spatialops/moran/internal/model"
	"github.com/spatialops/moran/internal/pipeline"
	"github.com/spatialops/moran/internal/runner"
	"github.com/spatialops/moran/internal/store"
	"github.com/spatialops/moran/internal/workdir"
)

// copyEngine is a stub engine that copies the input shapefile to the
// expected output location, standing in for a successful analysis.
// Positional parameters follow the engine contract: $1 is the input path,
// $2 the output path.
const copyEngine = `base_in=${1%.shp}
base_out=${2%.shp}
for ext in shp shx dbf prj; do
  if [ -f "$base_in.$ext" ]; then cp "$base_in.$ext" "$base_out.$ext"; fi
done
echo "analysis complete"
`

type testEnv struct {
	engine     *jobs.Engine
	store      store.Store
	resultsDir string
}

// newTestEngine builds a jobs engine whose statistical engine is /bin/sh and
// whose gwr.R "script" is the given shell body.
func newTestEngine(t *testing.T, scriptBody string, timeouts map[string]time.Duration) *testEnv {
	t.Helper()

	scriptsDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(scriptsDir, "gwr.R"), []byte(scriptBody), 0o755); err != nil {
		t.Fatalf("write stub script: %v", err)
	}

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

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	p := pipeline.New(
		invoke.NewDefaultRegistry(scriptsDir),
		runner.New(logger),
		workdir.New(logger, t.TempDir()),
		timeouts,
		logger,
	)

	resultsDir := t.TempDir()
	eng := jobs.NewEngine(s, p, settings, resultsDir, logger)
	return &testEnv{engine: eng, store: s, resultsDir: resultsDir}
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

func makeSubmission(datasetPath string) (*model.Run, *model.AnalysisRequest) {
	r := &model.Run{
		ID:           model.NewID(),
		Kind:         model.KindGWR,
		Status:       model.StatusPending,
		DatasetPath:  datasetPath,
		Dependent:    "income",
		Independents: "density",
		Kernel:       model.KernelGaussian,
		CreatedAt:    time.Now().UTC(),
	}
	req := &model.AnalysisRequest{
		Kind:               model.KindGWR,
		Dependent:          "income",
		Independents:       []string{"density"},
		Kernel:             model.KernelGaussian,
		BandwidthSelection: model.SelectionCV,
	}
	return r, req
}

// waitForTerminal polls the store until the run leaves pending/running.
func waitForTerminal(t *testing.T, s store.Store, id string, timeout time.Duration) *model.Run {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		r, err := s.GetRun(context.Background(), id)
		if err != nil {
			t.Fatalf("GetRun: %v", err)
		}
		if r.Status != model.StatusPending && r.Status != model.StatusRunning {
			return r
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run %s did not reach a terminal status within %v", id, timeout)
	return nil
}

func TestSubmitHappyPath(t *testing.T) {
	env := newTestEngine(t, copyEngine, nil)
	r, req := makeSubmission(writeTestDataset(t, 6))

	if err := env.engine.Submit(context.Background(), r, req); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// Should be pending immediately.
	got, _ := env.store.GetRun(context.Background(), r.ID)
	if got.Status != model.StatusPending && got.Status != model.StatusRunning {
		t.Errorf("initial status = %q, want pending or running", got.Status)
	}

	done := waitForTerminal(t, env.store, r.ID, 5*time.Second)
	if done.Status != model.StatusCompleted {
		t.Fatalf("status = %q (error=%q), want completed", done.Status, done.Error)
	}
	if done.ResultPath == "" {
		t.Fatal("result path is empty")
	}
	if done.StartedAt == nil {
		t.Error("started_at is nil")
	}
	if done.FinishedAt == nil {
		t.Error("finished_at is nil")
	}
	if done.SourceFeatures == nil || *done.SourceFeatures != 6 {
		t.Errorf("source_features = %v, want 6", done.SourceFeatures)
	}
	if done.ResultFeatures == nil || *done.ResultFeatures != 6 {
		t.Errorf("result_features = %v, want 6", done.ResultFeatures)
	}

	// The persisted result is detached from any working directory.
	result, err := dataset.Load(done.ResultPath, "result")
	if err != nil {
		t.Fatalf("Load result: %v", err)
	}
	if len(result.Features) != 6 {
		t.Errorf("result features = %d, want 6", len(result.Features))
	}

	// Log lines were persisted for historical viewing.
	lines, err := env.store.GetLogLines(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("GetLogLines: %v", err)
	}
	joined := joinLines(lines)
	if !strings.Contains(joined, "analysis complete") {
		t.Errorf("persisted log missing engine output: %q", joined)
	}
	if !strings.Contains(joined, "income -> income") {
		t.Errorf("persisted log missing mapping echo: %q", joined)
	}
}

func TestSubmitEngineFailure(t *testing.T) {
	failEngine := `echo "reading data"
echo "singular matrix" >&2
exit 3
`
	env := newTestEngine(t, failEngine, nil)
	r, req := makeSubmission(writeTestDataset(t, 4))

	if err := env.engine.Submit(context.Background(), r, req); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	done := waitForTerminal(t, env.store, r.ID, 5*time.Second)
	if done.Status != model.StatusFailed {
		t.Fatalf("status = %q, want failed", done.Status)
	}
	if done.Error == "" {
		t.Error("expected error message, got empty")
	}

	// Engine stderr lands in the persisted log.
	lines, err := env.store.GetLogLines(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("GetLogLines: %v", err)
	}
	joined := joinLines(lines)
	if !strings.Contains(joined, "singular matrix") {
		t.Errorf("persisted log missing engine diagnostics: %q", joined)
	}
}

func TestSubmitTimeout(t *testing.T) {
	slowEngine := "sleep 5\n"
	env := newTestEngine(t, slowEngine, map[string]time.Duration{
		model.KindGWR: 200 * time.Millisecond,
	})
	r, req := makeSubmission(writeTestDataset(t, 4))

	if err := env.engine.Submit(context.Background(), r, req); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	done := waitForTerminal(t, env.store, r.ID, 5*time.Second)
	if done.Status != model.StatusTimedOut {
		t.Fatalf("status = %q, want timed_out", done.Status)
	}
	if done.Error == "" {
		t.Error("expected timeout error message")
	}
}

func TestSubmitNoEngineConfigured(t *testing.T) {
	env := newTestEngine(t, copyEngine, nil)

	settings, err := config.LoadSettings(filepath.Join(t.TempDir(), "empty.settings"))
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	p := pipeline.New(invoke.NewDefaultRegistry(t.TempDir()), runner.New(logger),
		workdir.New(logger, t.TempDir()), nil, logger)
	eng := jobs.NewEngine(env.store, p, settings, t.TempDir(), logger)

	r, req := makeSubmission(writeTestDataset(t, 4))
	if err := eng.Submit(context.Background(), r, req); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	done := waitForTerminal(t, env.store, r.ID, 5*time.Second)
	if done.Status != model.StatusFailed {
		t.Fatalf("status = %q, want failed", done.Status)
	}
	if !strings.Contains(done.Error, "not configured") {
		t.Errorf("error = %q, want engine-not-configured message", done.Error)
	}
}

func TestSubmitMissingDataset(t *testing.T) {
	env := newTestEngine(t, copyEngine, nil)
	r, req := makeSubmission(filepath.Join(t.TempDir(), "nope.shp"))

	if err := env.engine.Submit(context.Background(), r, req); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	done := waitForTerminal(t, env.store, r.ID, 5*time.Second)
	if done.Status != model.StatusFailed {
		t.Fatalf("status = %q, want failed", done.Status)
	}
	if !strings.Contains(done.Error, "load dataset") {
		t.Errorf("error = %q, want dataset load failure", done.Error)
	}
}

func TestSubmitStreamsLogs(t *testing.T) {
	// Delay before copying so the subscriber is attached before the engine
	// produces its output.
	env := newTestEngine(t, "sleep 0.3\n"+copyEngine, nil)
	r, req := makeSubmission(writeTestDataset(t, 4))

	if err := env.engine.Submit(context.Background(), r, req); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ch, unsub := env.engine.Broker().Subscribe(r.ID)
	defer unsub()

	var got []string
	for line := range ch {
		got = append(got, line)
	}

	found := false
	for _, line := range got {
		if strings.Contains(line, "analysis complete") {
			found = true
		}
	}
	if !found {
		t.Errorf("streamed lines missing engine output: %v", got)
	}

	waitForTerminal(t, env.store, r.ID, 5*time.Second)
}

func TestSubmitConcurrent(t *testing.T) {
	env := newTestEngine(t, copyEngine, nil)
	datasetPath := writeTestDataset(t, 4)

	ids := make([]string, 4)
	for i := range ids {
		r, req := makeSubmission(datasetPath)
		ids[i] = r.ID
		if err := env.engine.Submit(context.Background(), r, req); err != nil {
			t.Fatalf("Submit[%d]: %v", i, err)
		}
	}

	env.engine.Wait()
	for _, id := range ids {
		done := waitForTerminal(t, env.store, id, 5*time.Second)
		if done.Status != model.StatusCompleted {
			t.Errorf("run %s status = %q (error=%q), want completed", id, done.Status, done.Error)
		}
	}
}

func joinLines(lines []model.LogLine) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l.Line)
		b.WriteByte('\n')
	}
	return b.String()
}
