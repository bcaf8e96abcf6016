package invoke

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"

	"github.com/spatialops/moran/internal/fieldmap"
	"github.com/spatialops/moran/internal/model"
)

// mgwrScriptName is the control script generated into the job directory.
const mgwrScriptName = "mgwr_analysis.R"

// MGWR marshals the multiscale regression by generating a complete engine
// control script. Every token interpolated into the script — paths, variable
// names, kernel, numeric settings — is validated or formatted by this
// package first; nothing user-supplied is embedded raw.
type MGWR struct{}

func (m *MGWR) Kind() string { return model.KindMGWR }

type mgwrParams struct {
	InputPath    string
	OutputPath   string
	Dependent    string
	FormulaVars  string // "x1 + x2"
	RequiredVars string // `"dep", "x1", "x2"`
	IndepsVector string // `"x1", "x2"`
	Kernel       string
	Adaptive     string // TRUE / FALSE
	Approach     string // AICc / CV
	Criterion    string // dCVR
	MaxIter      string
	Tolerance    string
	Standardize  bool
}

// Marshal writes the generated control script into the job directory and
// returns an invocation pointing at it.
func (m *MGWR) Marshal(req *model.AnalysisRequest, mapping *fieldmap.Mapping, job Job) (*Invocation, error) {
	dep, err := shortName(mapping, req.Dependent, "dependent variable")
	if err != nil {
		return nil, err
	}
	indeps := make([]string, len(req.Independents))
	for i, v := range req.Independents {
		if indeps[i], err = shortName(mapping, v, "independent variable"); err != nil {
			return nil, err
		}
	}
	if err := checkIdentifier(req.Kernel, "kernel"); err != nil {
		return nil, err
	}
	for _, p := range []string{job.InputPath, job.OutputPath} {
		if strings.ContainsAny(p, "\"\\\n") {
			return nil, fmt.Errorf("path %q cannot be embedded in a control script", p)
		}
	}

	// The engine has no standalone AIC or BIC optimizer for the multiscale
	// fit; both fall back to AICc. CV maps through unchanged.
	approach := "AICc"
	if req.Criterion == model.CriterionCV {
		approach = "CV"
	}

	adaptive := "FALSE"
	if req.Adaptive {
		adaptive = "TRUE"
	}

	params := mgwrParams{
		InputPath:    enginePath(job.InputPath),
		OutputPath:   enginePath(job.OutputPath),
		Dependent:    dep,
		FormulaVars:  strings.Join(indeps, " + "),
		RequiredVars: quoteVector(append([]string{dep}, indeps...)),
		IndepsVector: quoteVector(indeps),
		Kernel:       req.Kernel,
		Adaptive:     adaptive,
		Approach:     approach,
		Criterion:    "dCVR",
		MaxIter:      strconv.Itoa(req.MaxIterations),
		Tolerance:    floatArg(req.Tolerance),
		Standardize:  req.Standardize,
	}

	var script strings.Builder
	if err := mgwrTemplate.Execute(&script, params); err != nil {
		return nil, fmt.Errorf("render mgwr script: %w", err)
	}

	scriptPath := filepath.Join(job.Dir, mgwrScriptName)
	if err := os.WriteFile(scriptPath, []byte(script.String()), 0o644); err != nil {
		return nil, fmt.Errorf("write mgwr script: %w", err)
	}

	return &Invocation{
		Args:       []string{enginePath(scriptPath)},
		ScriptPath: scriptPath,
	}, nil
}

var mgwrTemplate = template.Must(template.New("mgwr").Parse(`options(warn = -1)

suppressPackageStartupMessages({
  library(GWmodel)
  library(sp)
  library(sf)
})

cat("=== MGWR ANALYSIS START ===\n\n")

cat("Reading data...\n")
sf_data <- st_read("{{.InputPath}}", quiet=TRUE)
cat(sprintf("Features: %d\n", nrow(sf_data)))
cat(sprintf("Columns: %d\n", ncol(sf_data)))

cat("\nChecking variables...\n")
required_vars <- c({{.RequiredVars}})
missing_vars <- required_vars[!required_vars %in% names(sf_data)]

if (length(missing_vars) > 0) {
  stop(paste("Missing variables:", paste(missing_vars, collapse=", ")))
}

cat("All variables present\n")

cat("\nConverting to Spatial...\n")
sp_data <- as(sf_data, "Spatial")

{{if .Standardize -}}
# Standardize on a working copy, never the original data.
vars_to_scale <- c({{.RequiredVars}})
sp_data_work <- sp_data
for (var in vars_to_scale) {
  if (var %in% names(sp_data_work@data)) {
    sp_data_work@data[[var]] <- as.numeric(scale(sp_data_work@data[[var]]))
  }
}
{{- else -}}
sp_data_work <- sp_data
{{- end}}

cat("\nChecking for missing values...\n")
for (var in required_vars) {
  n_na <- sum(is.na(sp_data_work@data[[var]]))
  if (n_na > 0) {
    cat(sprintf("WARNING: %d missing values in %s\n", n_na, var))
  }
}

complete_cases <- complete.cases(sp_data_work@data[, required_vars])
if (sum(!complete_cases) > 0) {
  cat(sprintf("Dropping %d rows with missing values\n", sum(!complete_cases)))
  sp_data_work <- sp_data_work[complete_cases, ]
  sf_data <- sf_data[complete_cases, ]
}

formula <- {{.Dependent}} ~ {{.FormulaVars}}
cat(sprintf("\nFormula: %s\n", deparse(formula)))

cat("\n=== GLOBAL OLS REGRESSION ===\n")
ols_model <- lm(formula, data=sp_data_work@data)
print(summary(ols_model))

cat("\n=== INITIAL GLOBAL BANDWIDTH ===\n")
bw_global <- bw.gwr(formula = formula,
                    data = sp_data_work,
                    approach = "{{.Approach}}",
                    kernel = "{{.Kernel}}",
                    adaptive = {{.Adaptive}},
                    p = 2,
                    longlat = FALSE)

cat(sprintf("Global bandwidth: %.2f\n", bw_global))

n_vars <- length(c({{.IndepsVector}})) + 1  # +1 for intercept
bw_init <- rep(bw_global, n_vars)
var_names <- c("Intercept", {{.IndepsVector}})

cat(sprintf("Variables (with intercept): %d\n", n_vars))

cat("\n=== MULTISCALE REGRESSION (gwr.multiscale) ===\n")
cat("Computing (this can take several minutes)...\n")
cat(sprintf("  - Criterion: {{.Criterion}}\n"))
cat(sprintf("  - Kernel: {{.Kernel}}\n"))
cat(sprintf("  - Adaptive: {{.Adaptive}}\n"))
cat(sprintf("  - Max iterations: {{.MaxIter}}\n"))
cat(sprintf("  - Tolerance: {{.Tolerance}}\n\n"))

tryCatch({
  cat("Computing distance matrix...\n")
  dMat <- gw.dist(dp.locat = coordinates(sp_data_work))
  cat(sprintf("Distance matrix: %d x %d\n", nrow(dMat), ncol(dMat)))

  mgwr_model <- gwr.multiscale(formula = formula,
                                data = sp_data_work,
                                criterion = "{{.Criterion}}",
                                kernel = "{{.Kernel}}",
                                adaptive = {{.Adaptive}},
                                bws0 = bw_init,
                                bw.seled = rep(TRUE, n_vars),
                                dMats = list(dMat),
                                predictor.centered = rep(TRUE, n_vars),
                                var.dMat.indx = rep(1, n_vars),
                                max.iterations = {{.MaxIter}},
                                threshold = {{.Tolerance}},
                                verbose = FALSE)

  cat("\n=== MGWR RESULTS ===\n")
  print(mgwr_model)

  result_sf <- sf_data
  result_sf$MGWR_yhat <- mgwr_model$SDF$yhat
  result_sf$MGWR_residual <- mgwr_model$SDF$residual
  result_sf$MGWR_localR2 <- mgwr_model$SDF$Local_R2

  coef_names <- names(mgwr_model$SDF@data)
  coef_names <- coef_names[!coef_names %in% c("yhat", "residual", "Local_R2", "sum.w", "gwr.e")]

  for (coef_name in coef_names) {
    new_name <- paste0("MGWR_", coef_name)
    result_sf[[new_name]] <- mgwr_model$SDF@data[[coef_name]]
  }

  cat("\n=== OPTIMAL BANDWIDTHS ===\n")
  if (!is.null(mgwr_model$GW.arguments$bws)) {
    bws <- mgwr_model$GW.arguments$bws
    bw_df <- data.frame(Variable = var_names, Bandwidth = bws)
    print(bw_df)

    for (i in seq_along(var_names)) {
      bw_col_name <- paste0("MGWR_BW_", gsub("[^A-Za-z0-9_]", "_", var_names[i]))
      result_sf[[bw_col_name]] <- rep(bws[i], nrow(result_sf))
    }
  }

  cat("\n=== DIAGNOSTICS ===\n")
  cat(sprintf("Global OLS AIC: %.2f\n", AIC(ols_model)))

  if (!is.null(mgwr_model$GW.diagnostic$AICc)) {
    cat(sprintf("MGWR AICc: %.2f\n", mgwr_model$GW.diagnostic$AICc))
  }

  cat(sprintf("Global OLS R2: %.4f\n", summary(ols_model)$r.squared))
  cat(sprintf("Mean MGWR R2: %.4f\n", mean(result_sf$MGWR_localR2, na.rm=TRUE)))
  cat(sprintf("Median MGWR R2: %.4f\n", median(result_sf$MGWR_localR2, na.rm=TRUE)))

  cat("\nWriting results...\n")
  st_write(result_sf, "{{.OutputPath}}", delete_dsn=TRUE, quiet=TRUE)

  cat("\n=== MGWR ANALYSIS COMPLETE ===\n")

}, error = function(e) {
  cat("\n=== MGWR COMPUTATION ERROR ===\n")
  cat(sprintf("Error: %s\n", e$message))
  stop(e)
})
`))
