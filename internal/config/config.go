package config

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spatialops/moran/internal/model"
)

const (
	defaultListenAddr   = ":8080"
	defaultDBPath       = "moran.db"
	defaultSettingsPath = "moran.settings"
	defaultScriptsDir   = "scripts"
	defaultResultsDir   = "results"

	envListenAddr   = "MORAN_LISTEN_ADDR"
	envDBPath       = "MORAN_DB_PATH"
	envLogLevel     = "MORAN_LOG_LEVEL"
	envSettingsPath = "MORAN_SETTINGS_PATH"
	envScriptsDir   = "MORAN_SCRIPTS_DIR"
	envResultsDir   = "MORAN_RESULTS_DIR"
	envWorkdirRoot  = "MORAN_WORKDIR_ROOT"

	envGWRTimeout  = "MORAN_GWR_TIMEOUT"
	envLISATimeout = "MORAN_LISA_TIMEOUT"
	envMGWRTimeout = "MORAN_MGWR_TIMEOUT"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr   string
	DBPath       string
	LogLevel     slog.Level
	SettingsPath string
	ScriptsDir   string
	ResultsDir   string
	WorkdirRoot  string
	// Timeouts holds per-kind engine timeout overrides. Kinds without an
	// entry use the built-in defaults.
	Timeouts map[string]time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	cfg := Config{
		ListenAddr:   defaultListenAddr,
		DBPath:       defaultDBPath,
		LogLevel:     slog.LevelInfo,
		SettingsPath: defaultSettingsPath,
		ScriptsDir:   defaultScriptsDir,
		ResultsDir:   defaultResultsDir,
		Timeouts:     map[string]time.Duration{},
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envSettingsPath); v != "" {
		cfg.SettingsPath = v
	}
	if v := os.Getenv(envScriptsDir); v != "" {
		cfg.ScriptsDir = v
	}
	if v := os.Getenv(envResultsDir); v != "" {
		cfg.ResultsDir = v
	}
	if v := os.Getenv(envWorkdirRoot); v != "" {
		cfg.WorkdirRoot = v
	}

	for kind, env := range map[string]string{
		model.KindGWR:  envGWRTimeout,
		model.KindLISA: envLISATimeout,
		model.KindMGWR: envMGWRTimeout,
	} {
		if v := os.Getenv(env); v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				cfg.Timeouts[kind] = d
			}
		}
	}

	return cfg
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
