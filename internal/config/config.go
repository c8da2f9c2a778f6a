// Package config loads settings from the environment and an optional
// .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/roach88/finrules/internal/engine"
	"github.com/roach88/finrules/internal/ir"
)

// Environment variables.
const (
	EnvDB               = "FINRULES_DB"
	EnvWorkspace        = "FINRULES_WORKSPACE"
	EnvLogLevel         = "FINRULES_LOG_LEVEL"
	EnvLogFormat        = "FINRULES_LOG_FORMAT"
	EnvWorkers          = "FINRULES_WORKERS"
	EnvMaxConditions    = "FINRULES_MAX_CONDITIONS"
	EnvMaxActions       = "FINRULES_MAX_ACTIONS"
	EnvMaxRulesPerStage = "FINRULES_MAX_RULES_PER_STAGE"
	EnvMaxEvaluations   = "FINRULES_MAX_EVALUATIONS"
)

// ErrInvalidValue is wrapped by every malformed setting.
var ErrInvalidValue = errors.New("invalid config value")

// Config holds runtime settings resolved from .env files, the environment
// and command-line flags.
type Config struct {
	DBPath         string
	Workspace      string
	LogLevel       string
	LogFormat      string
	Workers        int
	Limits         ir.Limits
	MaxEvaluations int
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		DBPath:         "finrules.db",
		Workspace:      "default",
		LogLevel:       "info",
		LogFormat:      "text",
		Workers:        engine.DefaultWorkers,
		Limits:         ir.DefaultLimits(),
		MaxEvaluations: engine.DefaultMaxEvaluations,
	}
}

// Load reads .env files (if present) into the environment and builds a
// Config from it. Variables already set in the environment win over .env.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from lookup, which has the os.LookupEnv
// signature.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	getEnv := func(key, fallback string) string {
		if value, ok := lookup(key); ok && value != "" {
			return value
		}
		return fallback
	}

	cfg.DBPath = getEnv(EnvDB, cfg.DBPath)
	cfg.Workspace = getEnv(EnvWorkspace, cfg.Workspace)
	cfg.LogLevel = getEnv(EnvLogLevel, cfg.LogLevel)
	cfg.LogFormat = getEnv(EnvLogFormat, cfg.LogFormat)

	ints := []struct {
		key string
		dst *int
		min int
	}{
		{EnvWorkers, &cfg.Workers, 1},
		{EnvMaxConditions, &cfg.Limits.MaxConditionsPerRule, 1},
		{EnvMaxActions, &cfg.Limits.MaxActionsPerRule, 1},
		{EnvMaxRulesPerStage, &cfg.Limits.MaxRulesPerStage, 1},
		{EnvMaxEvaluations, &cfg.MaxEvaluations, 1},
	}
	var errs []error
	for _, v := range ints {
		raw, ok := lookup(v.key)
		if !ok || raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < v.min {
			errs = append(errs, fmt.Errorf("%w: %s=%q must be an integer >= %d", ErrInvalidValue, v.key, raw, v.min))
			continue
		}
		*v.dst = n
	}
	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return cfg, nil
}
