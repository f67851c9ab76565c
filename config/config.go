// Package config reads server settings from the environment and builds the
// logger.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/warp/ops-engine/abac"
)

// Config captures server level configuration. Command-line flags in
// cmd/server override these values.
type Config struct {
	Addr            string
	DBPath          string
	LogLevel        string
	DefaultEffect   abac.Effect
	Algorithm       abac.Algorithm
	MaxRuleDepth    int
	ParallelEval    bool
	OverdueInterval time.Duration
	FixturesDir     string // empty: embedded fixtures
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		Addr:            ":8080",
		DBPath:          "./data/ops.db",
		LogLevel:        "info",
		DefaultEffect:   abac.EffectDeny,
		Algorithm:       abac.DenyOverrides,
		MaxRuleDepth:    abac.DefaultMaxDepth,
		OverdueInterval: time.Hour,
	}
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() (Config, error) {
	return Load(os.Getenv)
}

// Load builds a Config from getenv, starting from Defaults.
func Load(getenv func(string) string) (Config, error) {
	cfg := Defaults()

	if v := getenv("OPS_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := getenv("OPS_DB"); v != "" {
		cfg.DBPath = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("OPS_DEFAULT_EFFECT"); v != "" {
		eff := abac.Effect(strings.ToLower(v))
		if !eff.Valid() {
			return Config{}, fmt.Errorf("OPS_DEFAULT_EFFECT: unknown effect %q", v)
		}
		cfg.DefaultEffect = eff
	}
	if v := getenv("OPS_ALGORITHM"); v != "" {
		alg := abac.Algorithm(strings.ToLower(v))
		if !alg.Valid() {
			return Config{}, fmt.Errorf("OPS_ALGORITHM: unknown combining algorithm %q", v)
		}
		cfg.Algorithm = alg
	}
	if v := getenv("OPS_MAX_RULE_DEPTH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Config{}, fmt.Errorf("OPS_MAX_RULE_DEPTH: want a positive integer, got %q", v)
		}
		cfg.MaxRuleDepth = n
	}
	if v := getenv("OPS_PARALLEL_EVAL"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("OPS_PARALLEL_EVAL: %w", err)
		}
		cfg.ParallelEval = b
	}
	if v := getenv("OPS_OVERDUE_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("OPS_OVERDUE_INTERVAL: want a positive duration, got %q", v)
		}
		cfg.OverdueInterval = d
	}
	cfg.FixturesDir = getenv("OPS_FIXTURES")

	return cfg, nil
}

// Engine builds the policy engine described by the config.
func (c Config) Engine() *abac.Engine {
	e := abac.NewEngine(c.DefaultEffect)
	e.Algorithm = c.Algorithm
	e.MaxDepth = c.MaxRuleDepth
	e.Parallel = c.ParallelEval
	return e
}
