package model

import "time"

// Run status constants.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusTimedOut  = "timed_out"
)

// Analysis kind constants.
const (
	KindGWR  = "gwr"
	KindMGWR = "mgwr"
	KindLISA = "lisa"
)

// Kinds lists every supported analysis kind.
var Kinds = []string{KindGWR, KindMGWR, KindLISA}

// ResultPrefixes maps each kind to the tag the engine prepends to the
// result fields it appends to the output schema.
var ResultPrefixes = map[string]string{
	KindGWR:  "GWR_",
	KindMGWR: "MGWR_",
	KindLISA: "LISA_",
}

// validTransitions maps each status to the set of statuses it may transition to.
var validTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusRunning: true,
		StatusFailed:  true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusTimedOut:  true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// LogLine represents a single persisted line of engine output from a run.
type LogLine struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Seq       int       `json:"seq"`
	Line      string    `json:"line"`
	CreatedAt time.Time `json:"created_at"`
}

// Run represents one analysis submission and its recorded outcome.
type Run struct {
	ID             string     `json:"id"`
	Kind           string     `json:"kind"`
	Status         string     `json:"status"`
	DatasetPath    string     `json:"dataset_path"`
	Dependent      string     `json:"dependent"`
	Independents   string     `json:"independents,omitempty"`
	Kernel         string     `json:"kernel,omitempty"`
	Error          string     `json:"error,omitempty"`
	ResultPath     string     `json:"result_path,omitempty"`
	SourceFields   *int       `json:"source_fields,omitempty"`
	SourceFeatures *int       `json:"source_features,omitempty"`
	ResultFields   *int       `json:"result_fields,omitempty"`
	ResultFeatures *int       `json:"result_features,omitempty"`
	DurationMS     *int       `json:"duration_ms,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}
