package invoke

import (
	"path/filepath"

	"github.com/spatialops/moran/internal/fieldmap"
	"github.com/spatialops/moran/internal/model"
)

// lisaScript is the engine-side script implementing the local association
// statistics.
const lisaScript = "lisa.R"

// LISA marshals a local spatial-association analysis into the engine's
// positional-argument contract. The argument order is fixed by lisa.R.
type LISA struct {
	ScriptsDir string
}

func (l *LISA) Kind() string { return model.KindLISA }

// Marshal builds the argument vector: input path, output path, primary
// variable short name, secondary short name (or the sentinel), analysis
// type, standardize flag, contiguity rule, contiguity order, weight
// standardization flag, significance level.
func (l *LISA) Marshal(req *model.AnalysisRequest, m *fieldmap.Mapping, job Job) (*Invocation, error) {
	variable, err := shortName(m, req.Dependent, "primary variable")
	if err != nil {
		return nil, err
	}

	secondary := sentinelNone
	analysisType := "univariate"
	if req.Secondary != "" {
		if secondary, err = shortName(m, req.Secondary, "secondary variable"); err != nil {
			return nil, err
		}
		analysisType = "bivariate"
	}

	script := filepath.Join(l.ScriptsDir, lisaScript)
	args := []string{
		enginePath(script),
		enginePath(job.InputPath),
		enginePath(job.OutputPath),
		variable,
		secondary,
		analysisType,
		boolArg(req.Standardize),
		req.Contiguity,
		intArg(req.ContiguityOrder),
		boolArg(req.StandardizeWeights),
		floatArg(req.Significance),
	}

	return &Invocation{Args: args, ScriptPath: script}, nil
}
