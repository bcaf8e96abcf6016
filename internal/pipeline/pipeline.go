// Package pipeline sequences one analysis run: field-name mapping, dataset
// export, invocation marshalling, engine execution, result loading — all
// inside the scope of a private working directory that is released on every
// exit path.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/spatialops/moran/internal/dataset"
	"github.com/spatialops/moran/internal/fieldmap"
	"github.com/spatialops/moran/internal/invoke"
	"github.com/spatialops/moran/internal/model"
	"github.com/spatialops/moran/internal/runner"
	"github.com/spatialops/moran/internal/workdir"
)

// Interchange file names inside the working directory.
const (
	inputFileName  = "input.shp"
	outputFileName = "output.shp"
)

// DefaultTimeouts holds the per-kind wall-clock ceilings. LISA runs are
// short, GWR medium, MGWR long (its bandwidth search iterates per variable).
var DefaultTimeouts = map[string]time.Duration{
	model.KindGWR:  30 * time.Minute,
	model.KindLISA: 10 * time.Minute,
	model.KindMGWR: 60 * time.Minute,
}

// fallbackTimeout applies when a kind has no configured ceiling.
const fallbackTimeout = 30 * time.Minute

// Pipeline runs analyses synchronously from the caller's point of view. It
// holds no per-run state and is safe for concurrent use.
type Pipeline struct {
	marshallers *invoke.Registry
	runner      *runner.Runner
	workdirs    *workdir.Manager
	timeouts    map[string]time.Duration
	logger      *slog.Logger
}

// New creates a Pipeline. timeouts may be nil to use DefaultTimeouts;
// configured kinds override the defaults individually.
func New(marshallers *invoke.Registry, r *runner.Runner, w *workdir.Manager, timeouts map[string]time.Duration, logger *slog.Logger) *Pipeline {
	merged := make(map[string]time.Duration, len(DefaultTimeouts))
	for kind, d := range DefaultTimeouts {
		merged[kind] = d
	}
	for kind, d := range timeouts {
		if d > 0 {
			merged[kind] = d
		}
	}
	return &Pipeline{
		marshallers: marshallers,
		runner:      r,
		workdirs:    w,
		timeouts:    merged,
		logger:      logger,
	}
}

// Timeout returns the wall-clock ceiling for the given kind.
func (p *Pipeline) Timeout(kind string) time.Duration {
	if d, ok := p.timeouts[kind]; ok {
		return d
	}
	return fallbackTimeout
}

// Run executes the full pipeline for one request and returns a classified
// outcome. logLine, when set, receives every log line (the field-mapping
// echo, then engine stdout) as it is produced. The run's working directory
// is gone by the time Run returns, whatever the outcome; the result dataset
// is detached and does not depend on it.
func (p *Pipeline) Run(ctx context.Context, id string, req *model.AnalysisRequest, logLine func(string)) *model.Outcome {
	start := time.Now()

	var logBuf strings.Builder
	emit := func(line string) {
		logBuf.WriteString(line)
		logBuf.WriteByte('\n')
		if logLine != nil {
			logLine(line)
		}
	}

	if err := req.Validate(); err != nil {
		return p.finish(req.Kind, start, failed(fmt.Errorf("invalid request: %w", err), ""))
	}

	p.logger.Info("pipeline started", "run_id", id, "kind", req.Kind,
		"features", len(req.Dataset.Features), "fields", len(req.Dataset.Fields))

	mapping, err := fieldmap.Build(req.Dataset.FieldNames(), req.SelectedVariables())
	if err != nil {
		return p.finish(req.Kind, start, failed(err, ""))
	}

	dir, release, err := p.workdirs.Acquire(id)
	if err != nil {
		return p.finish(req.Kind, start, failed(err, ""))
	}
	// Released on every path out of this function; the result has already
	// been detached from the directory by then.
	defer release()

	job := invoke.Job{
		Dir:        dir,
		InputPath:  filepath.Join(dir, inputFileName),
		OutputPath: filepath.Join(dir, outputFileName),
	}

	emit("field name mapping (interchange format):")
	for _, v := range req.SelectedVariables() {
		short, _ := mapping.Short(v)
		emit(fmt.Sprintf("  %s -> %s", v, short))
	}

	p.logger.Debug("exporting dataset", "run_id", id, "path", job.InputPath)
	if err := dataset.Export(req.Dataset, mapping, job.InputPath); err != nil {
		return p.finish(req.Kind, start, failed(err, logBuf.String()))
	}

	marshaller, err := p.marshallers.Resolve(req.Kind)
	if err != nil {
		return p.finish(req.Kind, start, failed(err, logBuf.String()))
	}
	inv, err := marshaller.Marshal(req, mapping, job)
	if err != nil {
		return p.finish(req.Kind, start, failed(fmt.Errorf("marshal invocation: %w", err), logBuf.String()))
	}

	p.logger.Info("invoking engine", "run_id", id, "engine", req.EnginePath,
		"script", inv.ScriptPath, "timeout", p.Timeout(req.Kind))

	out, err := p.runner.Run(ctx, runner.Spec{
		Path:    req.EnginePath,
		Args:    inv.Args,
		Dir:     dir,
		Timeout: p.Timeout(req.Kind),
		LogLine: emit,
	})
	if err != nil {
		var timeoutErr *runner.TimeoutError
		if errors.As(err, &timeoutErr) {
			return p.finish(req.Kind, start, &model.Outcome{
				State:       model.OutcomeTimedOut,
				Diagnostics: logBuf.String(),
				Err:         timeoutErr,
			})
		}
		var invErr *runner.InvocationError
		if errors.As(err, &invErr) {
			return p.finish(req.Kind, start, failed(invErr, invErr.Diagnostics()))
		}
		return p.finish(req.Kind, start, failed(err, logBuf.String()))
	}

	resultName := fmt.Sprintf("%s_%s_results", req.Dataset.Name, req.Kind)
	resultDS, err := dataset.Load(job.OutputPath, resultName)
	if err != nil {
		return p.finish(req.Kind, start, failed(err, out.Stdout))
	}

	emit("result field summary:")
	for _, line := range dataset.NumericSummary(resultDS) {
		emit("  " + line)
	}

	p.logger.Info("pipeline succeeded", "run_id", id, "kind", req.Kind,
		"result_fields", len(resultDS.Fields), "result_features", len(resultDS.Features))

	return p.finish(req.Kind, start, &model.Outcome{
		State: model.OutcomeSucceeded,
		Result: &model.AnalysisResult{
			Dataset:        resultDS,
			Log:            logBuf.String(),
			SourceFields:   len(req.Dataset.Fields),
			SourceFeatures: len(req.Dataset.Features),
			ResultFields:   len(resultDS.Fields),
			ResultFeatures: len(resultDS.Features),
		},
	})
}

// finish stamps the duration and records run metrics.
func (p *Pipeline) finish(kind string, start time.Time, o *model.Outcome) *model.Outcome {
	o.Duration = time.Since(start)
	runsTotal.WithLabelValues(kind, o.State).Inc()
	runDuration.WithLabelValues(kind).Observe(o.Duration.Seconds())
	return o
}

func failed(err error, diagnostics string) *model.Outcome {
	return &model.Outcome{
		State:       model.OutcomeFailed,
		Diagnostics: diagnostics,
		Err:         err,
	}
}
