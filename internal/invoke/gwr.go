package invoke

import (
	"path/filepath"
	"strings"

	"github.com/spatialops/moran/internal/fieldmap"
	"github.com/spatialops/moran/internal/model"
)

// gwrScript is the engine-side script implementing the weighted regression.
const gwrScript = "gwr.R"

// GWR marshals a geographically weighted regression into the engine's
// positional-argument contract. The argument order is fixed by gwr.R.
type GWR struct {
	ScriptsDir string
}

func (g *GWR) Kind() string { return model.KindGWR }

// Marshal builds the argument vector: input path, output path, dependent
// short name, comma-joined independent short names, kernel, bandwidth
// approach (or the sentinel), adaptive flag, manual bandwidth, neighbor
// count, standardize flag, robust flag.
func (g *GWR) Marshal(req *model.AnalysisRequest, m *fieldmap.Mapping, job Job) (*Invocation, error) {
	dep, err := shortName(m, req.Dependent, "dependent variable")
	if err != nil {
		return nil, err
	}
	indeps := make([]string, len(req.Independents))
	for i, v := range req.Independents {
		if indeps[i], err = shortName(m, v, "independent variable"); err != nil {
			return nil, err
		}
	}

	approach := sentinelNone
	switch req.BandwidthSelection {
	case model.SelectionCV:
		approach = "CV"
	case model.SelectionAIC:
		approach = "AIC"
	}

	script := filepath.Join(g.ScriptsDir, gwrScript)
	args := []string{
		enginePath(script),
		enginePath(job.InputPath),
		enginePath(job.OutputPath),
		dep,
		strings.Join(indeps, ","),
		req.Kernel,
		approach,
		boolArg(req.Adaptive),
		floatArg(req.Bandwidth),
		intArg(req.Neighbors),
		boolArg(req.Standardize),
		boolArg(req.Robust),
	}

	return &Invocation{Args: args, ScriptPath: script}, nil
}
