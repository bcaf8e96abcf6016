package model

import (
	"time"

	"github.com/spatialops/moran/internal/dataset"
)

// Outcome states.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeTimedOut  = "timed_out"
)

// AnalysisResult is the detached product of a successful run. Its dataset is
// held entirely in memory and stays valid after the job's working directory
// is removed.
type AnalysisResult struct {
	Dataset *dataset.Dataset

	// Log is the engine's standard output, verbatim.
	Log string

	SourceFields   int
	SourceFeatures int
	ResultFields   int
	ResultFeatures int
}

// Outcome is the classified result of one pipeline run.
type Outcome struct {
	State string

	// Result is set only when State is OutcomeSucceeded.
	Result *AnalysisResult

	// Diagnostics carries the engine output for failures: combined stderr
	// and stdout for invocation errors, a timeout notice otherwise.
	Diagnostics string

	// Err is the classified error for failed and timed-out runs.
	Err error

	Duration time.Duration
}
