package model

import (
	"fmt"

	"github.com/spatialops/moran/internal/dataset"
)

// Kernel function constants for the weighted regressions.
const (
	KernelGaussian    = "gaussian"
	KernelBisquare    = "bisquare"
	KernelTricube     = "tricube"
	KernelExponential = "exponential"
	KernelBoxcar      = "boxcar"
)

// Bandwidth selection approaches for GWR.
const (
	SelectionCV     = "cv"
	SelectionAIC    = "aic"
	SelectionManual = "manual"
)

// Convergence criteria for MGWR bandwidth optimization.
const (
	CriterionAICc = "aicc"
	CriterionAIC  = "aic"
	CriterionBIC  = "bic"
	CriterionCV   = "cv"
)

// Contiguity rules for LISA spatial weights.
const (
	ContiguityQueen = "queen"
	ContiguityRook  = "rook"
)

// Kernels lists the kernels each kind accepts.
var Kernels = map[string][]string{
	KindGWR:  {KernelGaussian, KernelBisquare, KernelTricube, KernelExponential, KernelBoxcar},
	KindMGWR: {KernelGaussian, KernelBisquare},
}

// AnalysisRequest describes one analysis to run. It is built once by the
// caller and never mutated by the pipeline.
type AnalysisRequest struct {
	Kind    string
	Dataset *dataset.Dataset

	// Regression variables (GWR, MGWR). For LISA, Dependent is the primary
	// variable and Secondary the optional bivariate partner.
	Dependent    string
	Independents []string
	Secondary    string

	// Weighting (GWR, MGWR).
	Kernel             string
	BandwidthSelection string // GWR: cv, aic or manual
	Adaptive           bool
	Bandwidth          float64
	Neighbors          int

	// MGWR convergence.
	Criterion     string
	MaxIterations int
	Tolerance     float64

	// LISA weights.
	Contiguity         string
	ContiguityOrder    int
	StandardizeWeights bool
	Significance       float64

	Standardize bool
	Robust      bool

	// EnginePath is the statistical engine executable (Rscript).
	EnginePath string
}

// SelectedVariables returns the analysis variables in priority order: the
// dependent/primary variable first, then the independents (or the secondary
// variable for bivariate LISA). This order drives field-name shortening.
func (r *AnalysisRequest) SelectedVariables() []string {
	vars := []string{r.Dependent}
	if r.Kind == KindLISA {
		if r.Secondary != "" {
			vars = append(vars, r.Secondary)
		}
		return vars
	}
	return append(vars, r.Independents...)
}

// Validate checks that the request is complete and internally consistent for
// its kind. It does not touch the filesystem or the engine.
func (r *AnalysisRequest) Validate() error {
	switch r.Kind {
	case KindGWR, KindMGWR, KindLISA:
	default:
		return fmt.Errorf("unknown analysis kind %q", r.Kind)
	}
	if r.EnginePath == "" {
		return fmt.Errorf("engine path is not set")
	}
	if r.Dataset == nil {
		return fmt.Errorf("no dataset")
	}
	if len(r.Dataset.Fields) == 0 {
		return fmt.Errorf("dataset has no fields")
	}
	if len(r.Dataset.Features) == 0 {
		return fmt.Errorf("dataset has no features")
	}
	if r.Dependent == "" {
		return fmt.Errorf("no dependent variable")
	}
	for _, v := range r.SelectedVariables() {
		if !r.Dataset.HasField(v) {
			return fmt.Errorf("variable %q is not a dataset field", v)
		}
	}

	switch r.Kind {
	case KindGWR:
		if len(r.Independents) == 0 {
			return fmt.Errorf("no independent variables")
		}
		if !kernelAllowed(KindGWR, r.Kernel) {
			return fmt.Errorf("kernel %q is not supported for gwr", r.Kernel)
		}
		switch r.BandwidthSelection {
		case SelectionCV, SelectionAIC:
		case SelectionManual:
			if r.Adaptive && r.Neighbors <= 0 {
				return fmt.Errorf("adaptive manual bandwidth needs a neighbor count")
			}
			if !r.Adaptive && r.Bandwidth <= 0 {
				return fmt.Errorf("manual bandwidth must be positive")
			}
		default:
			return fmt.Errorf("unknown bandwidth selection %q", r.BandwidthSelection)
		}
	case KindMGWR:
		if len(r.Independents) == 0 {
			return fmt.Errorf("no independent variables")
		}
		if !kernelAllowed(KindMGWR, r.Kernel) {
			return fmt.Errorf("kernel %q is not supported for mgwr", r.Kernel)
		}
		switch r.Criterion {
		case CriterionAICc, CriterionAIC, CriterionBIC, CriterionCV:
		default:
			return fmt.Errorf("unknown criterion %q", r.Criterion)
		}
		if r.MaxIterations <= 0 {
			return fmt.Errorf("max iterations must be positive")
		}
		if r.Tolerance <= 0 {
			return fmt.Errorf("tolerance must be positive")
		}
	case KindLISA:
		switch r.Contiguity {
		case ContiguityQueen, ContiguityRook:
		default:
			return fmt.Errorf("unknown contiguity %q", r.Contiguity)
		}
		if r.ContiguityOrder <= 0 {
			return fmt.Errorf("contiguity order must be positive")
		}
		if r.Significance <= 0 || r.Significance >= 1 {
			return fmt.Errorf("significance must be in (0, 1)")
		}
	}

	return nil
}

func kernelAllowed(kind, kernel string) bool {
	for _, k := range Kernels[kind] {
		if k == kernel {
			return true
		}
	}
	return false
}
