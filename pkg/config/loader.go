package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Initialize loads, merges, and validates configuration from
// <configDir>/remedy.yaml. A missing file yields the built-in defaults.
func Initialize(configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg := DefaultConfig()

	path := filepath.Join(configDir, "remedy.yaml")
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Info("No remedy.yaml found, using built-in defaults")
	case err != nil:
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	default:
		user := &Config{}
		expanded := ExpandEnv(data)
		if err := yaml.Unmarshal(expanded, user); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		if err := merge(cfg, user); err != nil {
			return nil, fmt.Errorf("failed to merge configuration: %w", err)
		}
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized",
		"max_concurrent_fixes", cfg.Dispatch.MaxConcurrentFixes,
		"max_fix_retries", cfg.Dispatch.MaxFixRetries,
		"daily_cost_limit", cfg.Safety.DailyCostLimit,
		"auto_deploy", cfg.Deploy.Enabled)

	return cfg, nil
}

// merge overlays user-provided sections onto the defaults. Only sections
// the user actually wrote are merged; nil sections keep defaults intact.
func merge(dst, src *Config) error {
	sections := []struct {
		dst, src any
		set      bool
	}{
		{dst.Dispatch, src.Dispatch, src.Dispatch != nil},
		{dst.Safety, src.Safety, src.Safety != nil},
		{dst.LLM, src.LLM, src.LLM != nil},
		{dst.Repo, src.Repo, src.Repo != nil},
		{dst.CI, src.CI, src.CI != nil},
		{dst.Deploy, src.Deploy, src.Deploy != nil},
		{dst.Learning, src.Learning, src.Learning != nil},
		{dst.Slack, src.Slack, src.Slack != nil},
	}
	for _, s := range sections {
		if !s.set {
			continue
		}
		if err := mergo.Merge(s.dst, s.src, mergo.WithOverride); err != nil {
			return err
		}
	}
	return nil
}

func validate(cfg *Config) error {
	var errs []error

	if cfg.Dispatch.MaxConcurrentFixes < 1 {
		errs = append(errs, fmt.Errorf("dispatch.max_concurrent_fixes must be >= 1, got %d", cfg.Dispatch.MaxConcurrentFixes))
	}
	if cfg.Dispatch.MaxFixRetries < 1 {
		errs = append(errs, fmt.Errorf("dispatch.max_fix_retries must be >= 1, got %d", cfg.Dispatch.MaxFixRetries))
	}
	if cfg.Safety.DailyCostLimit <= 0 {
		errs = append(errs, fmt.Errorf("safety.daily_cost_limit must be positive, got %v", cfg.Safety.DailyCostLimit))
	}
	for op, limit := range cfg.Safety.RateLimits {
		if limit < 1 {
			errs = append(errs, fmt.Errorf("safety.rate_limits[%s] must be >= 1, got %d", op, limit))
		}
	}
	if cfg.LLM.Model == "" {
		errs = append(errs, errors.New("llm.model must be set"))
	}
	if _, ok := cfg.LLM.Pricing[cfg.LLM.Model]; !ok {
		errs = append(errs, fmt.Errorf("llm.pricing has no entry for model %q", cfg.LLM.Model))
	}
	if cfg.LLM.ComplexModel != "" {
		if _, ok := cfg.LLM.Pricing[cfg.LLM.ComplexModel]; !ok {
			errs = append(errs, fmt.Errorf("llm.pricing has no entry for complex model %q", cfg.LLM.ComplexModel))
		}
	}
	if cfg.Repo.Path == "" {
		errs = append(errs, errors.New("repo.path must be set"))
	}
	if cfg.Repo.DefaultBranch == "" {
		errs = append(errs, errors.New("repo.default_branch must be set"))
	}
	if cfg.Learning.LessonLimit < 0 {
		errs = append(errs, fmt.Errorf("learning.lesson_limit must be >= 0, got %d", cfg.Learning.LessonLimit))
	}
	if cfg.Learning.PruneMinSuccessRate < 0 || cfg.Learning.PruneMinSuccessRate > 1 {
		errs = append(errs, fmt.Errorf("learning.prune_min_success_rate must be in [0, 1], got %v", cfg.Learning.PruneMinSuccessRate))
	}
	if cfg.Deploy.Enabled && cfg.Deploy.HealthURL == "" {
		errs = append(errs, errors.New("deploy.health_url must be set when deploy is enabled"))
	}

	return errors.Join(errs...)
}
