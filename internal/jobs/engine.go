// Package jobs turns analysis submissions into asynchronous runs: each
// submission is persisted, executed through the pipeline in its own
// goroutine, streamed to log subscribers, and finalized with a terminal
// status whatever happens along the way.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spatialops/moran/internal/config"
	"github.com/spatialops/moran/internal/dataset"
	"github.com/spatialops/moran/internal/fieldmap"
	"github.com/spatialops/moran/internal/model"
	"github.com/spatialops/moran/internal/pipeline"
	"github.com/spatialops/moran/internal/store"
)

// Engine orchestrates asynchronous analysis execution.
type Engine struct {
	store      store.Store
	pipeline   *pipeline.Pipeline
	settings   *config.Settings
	resultsDir string
	logger     *slog.Logger
	wg         sync.WaitGroup
	broker     *LogBroker
}

// NewEngine creates a new execution engine. Completed results are written
// under resultsDir, one shapefile per run.
func NewEngine(s store.Store, p *pipeline.Pipeline, settings *config.Settings, resultsDir string, logger *slog.Logger) *Engine {
	return &Engine{
		store:      s,
		pipeline:   p,
		settings:   settings,
		resultsDir: resultsDir,
		logger:     logger,
		broker:     NewLogBroker(),
	}
}

// Broker returns the engine's log broker for SSE subscription.
func (e *Engine) Broker() *LogBroker {
	return e.broker
}

// Submit creates a run record and launches asynchronous execution in a
// goroutine. The run is stored with status "pending" before returning. The
// goroutine operates on copies to avoid data races with the caller.
func (e *Engine) Submit(ctx context.Context, r *model.Run, req *model.AnalysisRequest) error {
	if err := e.store.CreateRun(ctx, r); err != nil {
		return fmt.Errorf("create run: %w", err)
	}

	rCopy := *r
	reqCopy := *req
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.execute(&rCopy, &reqCopy)
	}()

	return nil
}

// Wait blocks until all in-flight run goroutines complete.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// execute runs the lifecycle in a goroutine: pending→running→terminal.
func (e *Engine) execute(r *model.Run, req *model.AnalysisRequest) {
	// Close the log stream when execution finishes, regardless of outcome.
	defer e.broker.Close(r.ID)

	if err := e.store.UpdateRunStatus(context.Background(), r.ID, model.StatusRunning); err != nil {
		e.logger.Error("failed to transition to running", "run_id", r.ID, "error", err)
		e.finishFailed(r.ID, nil, fmt.Sprintf("failed to start: %v", err))
		return
	}

	// Capture start time immediately after the running transition so that
	// started_at stays consistent across success, failure, and load-error paths.
	start := time.Now().UTC()

	if req.EnginePath == "" {
		req.EnginePath = e.settings.EnginePath()
	}
	if req.EnginePath == "" {
		e.finishFailed(r.ID, &start, "statistical engine path is not configured")
		return
	}

	ds, err := dataset.Load(r.DatasetPath, datasetName(r.DatasetPath))
	if err != nil {
		e.finishFailed(r.ID, &start, fmt.Sprintf("load dataset: %v", err))
		return
	}
	req.Dataset = ds

	// Dual-write log lines: persist to SQLite for historical viewing, then
	// publish to the LogBroker for real-time SSE.
	var seq atomic.Int32
	logLine := func(line string) {
		currentSeq := int(seq.Add(1) - 1)
		if err := e.store.InsertLogLine(context.Background(), r.ID, currentSeq, line); err != nil {
			e.logger.Error("failed to persist log line", "run_id", r.ID, "seq", currentSeq, "error", err)
		}
		e.broker.Publish(r.ID, line)
	}

	outcome := e.pipeline.Run(context.Background(), r.ID, req, logLine)
	durationMS := int(outcome.Duration.Milliseconds())

	switch outcome.State {
	case model.OutcomeSucceeded:
		resultPath, err := e.exportResult(r.ID, outcome.Result.Dataset)
		if err != nil {
			e.finishFailed(r.ID, &start, fmt.Sprintf("export result: %v", err))
			return
		}

		now := time.Now().UTC()
		completed := &model.Run{
			ID:             r.ID,
			Status:         model.StatusCompleted,
			ResultPath:     resultPath,
			SourceFields:   &outcome.Result.SourceFields,
			SourceFeatures: &outcome.Result.SourceFeatures,
			ResultFields:   &outcome.Result.ResultFields,
			ResultFeatures: &outcome.Result.ResultFeatures,
			DurationMS:     &durationMS,
			StartedAt:      &start,
			FinishedAt:     &now,
		}
		if err := e.store.UpdateRun(context.Background(), completed); err != nil {
			e.logger.Error("failed to update completed run", "run_id", r.ID, "error", err)
		}

	case model.OutcomeTimedOut:
		now := time.Now().UTC()
		timedOut := &model.Run{
			ID:         r.ID,
			Status:     model.StatusTimedOut,
			Error:      outcome.Err.Error(),
			DurationMS: &durationMS,
			StartedAt:  &start,
			FinishedAt: &now,
		}
		if err := e.store.UpdateRun(context.Background(), timedOut); err != nil {
			e.logger.Error("failed to update timed out run", "run_id", r.ID, "error", err)
		}

	default:
		// Surface engine stderr in the persisted log so that failed runs
		// keep their diagnostics next to the streamed output.
		if outcome.Diagnostics != "" {
			logLine("engine diagnostics:")
			for _, line := range strings.Split(strings.TrimRight(outcome.Diagnostics, "\n"), "\n") {
				logLine("  " + line)
			}
		}
		e.finishFailed(r.ID, &start, outcome.Err.Error())
	}
}

// exportResult writes the detached result dataset to the results directory
// and returns its path. Result field names already fit the interchange
// limits, so the mapping is a pass-through.
func (e *Engine) exportResult(runID string, ds *dataset.Dataset) (string, error) {
	mapping, err := fieldmap.Build(ds.FieldNames(), nil)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(e.resultsDir, 0o755); err != nil {
		return "", fmt.Errorf("create results dir: %w", err)
	}
	path := filepath.Join(e.resultsDir, runID+".shp")
	if err := dataset.Export(ds, mapping, path); err != nil {
		return "", err
	}
	return path, nil
}

// finishFailed marks a run as failed with the given error message.
// startedAt may be nil if execution never started.
func (e *Engine) finishFailed(id string, startedAt *time.Time, errMsg string) {
	now := time.Now().UTC()
	var durationMS int
	if startedAt != nil {
		durationMS = int(time.Since(*startedAt).Milliseconds())
	}

	r := &model.Run{
		ID:         id,
		Status:     model.StatusFailed,
		Error:      errMsg,
		DurationMS: &durationMS,
		StartedAt:  startedAt,
		FinishedAt: &now,
	}

	if err := e.store.UpdateRun(context.Background(), r); err != nil {
		e.logger.Error("failed to update failed run", "run_id", id, "error", err)
	}
}

func datasetName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
