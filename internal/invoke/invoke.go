// Package invoke builds statistical-engine invocations from analysis
// requests. Each analysis kind registers its own marshalling strategy:
// positional arguments for the kinds whose engine script is fixed, a
// generated control script for the multiscale regression.
package invoke

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/spatialops/moran/internal/fieldmap"
	"github.com/spatialops/moran/internal/model"
)

// sentinelNone encodes an absent optional value in the positional-argument
// contract. The token and the argument orders are fixed by the engine-side
// scripts and must not change independently.
const sentinelNone = "None"

// Job carries the per-run paths a marshaller needs.
type Job struct {
	// Dir is the run's private working directory; generated scripts go here.
	Dir        string
	InputPath  string
	OutputPath string
}

// Invocation is a ready-to-run engine invocation: the argument vector passed
// to the engine executable, and the control script it points at.
type Invocation struct {
	Args       []string
	ScriptPath string
}

// Marshaller builds the engine invocation for one analysis kind.
type Marshaller interface {
	Kind() string
	Marshal(req *model.AnalysisRequest, m *fieldmap.Mapping, job Job) (*Invocation, error)
}

// Registry resolves the marshaller for an analysis kind.
type Registry struct {
	mu          sync.RWMutex
	marshallers map[string]Marshaller
}

// NewRegistry creates an empty marshaller registry.
func NewRegistry() *Registry {
	return &Registry{marshallers: make(map[string]Marshaller)}
}

// Register adds a marshaller under its kind.
func (r *Registry) Register(m Marshaller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.marshallers[m.Kind()] = m
}

// Resolve returns the marshaller for the given kind, or an error if none is
// registered.
func (r *Registry) Resolve(kind string) (Marshaller, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.marshallers[kind]
	if !ok {
		return nil, fmt.Errorf("no marshaller registered for kind %q", kind)
	}
	return m, nil
}

// NewDefaultRegistry registers the three built-in marshallers. scriptsDir
// holds the engine-side R scripts for the fixed-script kinds.
func NewDefaultRegistry(scriptsDir string) *Registry {
	r := NewRegistry()
	r.Register(&GWR{ScriptsDir: scriptsDir})
	r.Register(&LISA{ScriptsDir: scriptsDir})
	r.Register(&MGWR{})
	return r
}

// identifierRE is the lexical rule for every name token embedded into an
// engine invocation or generated script. Anything else is rejected before it
// reaches the engine.
var identifierRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

// checkIdentifier rejects tokens that could break out of the engine's
// lexical context.
func checkIdentifier(token, what string) error {
	if !identifierRE.MatchString(token) {
		return fmt.Errorf("%s %q is not a valid engine identifier", what, token)
	}
	return nil
}

// shortName resolves an original variable name through the mapping and
// validates the result.
func shortName(m *fieldmap.Mapping, original, what string) (string, error) {
	short, ok := m.Short(original)
	if !ok {
		return "", fmt.Errorf("%s %q has no short name in the field mapping", what, original)
	}
	if err := checkIdentifier(short, what); err != nil {
		return "", err
	}
	return short, nil
}

// enginePath normalizes a filesystem path for the engine, which reads
// forward slashes on every platform.
func enginePath(p string) string {
	return filepath.ToSlash(p)
}

func boolArg(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func intArg(v int) string {
	return strconv.Itoa(v)
}

func floatArg(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// quoteVector renders names as an R character vector body: `"a", "b"`.
// Callers must have validated every name.
func quoteVector(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = `"` + n + `"`
	}
	return strings.Join(quoted, ", ")
}
