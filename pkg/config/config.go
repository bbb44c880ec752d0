// Package config loads and validates the orchestrator configuration:
// YAML with environment expansion, merged onto built-in defaults.
package config

import "time"

// Config is the complete runtime configuration.
type Config struct {
	Dispatch *DispatchConfig `yaml:"dispatch"`
	Safety   *SafetyConfig   `yaml:"safety"`
	LLM      *LLMConfig      `yaml:"llm"`
	Repo     *RepoConfig     `yaml:"repo"`
	CI       *CIConfig       `yaml:"ci"`
	Deploy   *DeployConfig   `yaml:"deploy"`
	Learning *LearningConfig `yaml:"learning"`
	Slack    *SlackConfig    `yaml:"slack"`
}

// SafetyConfig bounds the orchestrator's spend, operation rates, and the
// approval policy.
type SafetyConfig struct {
	// DailyCostLimit is the USD budget per calendar day.
	DailyCostLimit float64 `yaml:"daily_cost_limit"`

	// RateLimits maps operation names to their hourly caps.
	RateLimits map[string]int `yaml:"rate_limits"`

	// RequireApprovalCategories always need human sign-off.
	RequireApprovalCategories []string `yaml:"require_approval_categories"`

	// AutoApproveSeverities are the severities that do not by themselves
	// require approval. AutoApproveCategories waive the severity rule for
	// non-critical issues; other rules still apply.
	AutoApproveSeverities []string `yaml:"auto_approve_severities"`
	AutoApproveCategories []string `yaml:"auto_approve_categories"`

	// SensitiveFilePatterns force approval when an affected file name
	// contains any of them.
	SensitiveFilePatterns []string `yaml:"sensitive_file_patterns"`

	// ApprovalTimeout bounds the wait for a human verdict.
	ApprovalTimeout time.Duration `yaml:"approval_timeout"`
}

// ModelPricing is the USD price per million tokens for one model.
type ModelPricing struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

// LLMConfig selects models and the pricing table.
type LLMConfig struct {
	// Model used for classify/analyze and simple strategies.
	Model string `yaml:"model"`

	// ComplexModel used when the analysis judged the fix complex.
	ComplexModel string `yaml:"complex_model"`

	// BaseURL of an OpenAI-compatible endpoint; empty for the default.
	BaseURL string `yaml:"base_url"`

	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env"`

	// Pricing maps model ids to per-million-token prices.
	Pricing map[string]ModelPricing `yaml:"pricing"`

	// RequestTimeout for one completion call.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// RepoConfig describes the working copy the orchestrator edits.
type RepoConfig struct {
	// Path to the working copy root.
	Path string `yaml:"path"`

	// DefaultBranch to branch from and roll back to.
	DefaultBranch string `yaml:"default_branch"`

	// BranchPrefix for generated fix branches.
	BranchPrefix string `yaml:"branch_prefix"`

	// PrimaryExtension marks files that the formatter runs on.
	PrimaryExtension string `yaml:"primary_extension"`

	// CoreTestFiles is the canonical test set for local verification.
	CoreTestFiles []string `yaml:"core_test_files"`

	// KeyFiles are always included in analysis context.
	KeyFiles []string `yaml:"key_files"`

	// MaxContextFiles caps how many files are read into a prompt.
	MaxContextFiles int `yaml:"max_context_files"`

	// FileSizeCap and TemplateSizeCap bound per-file prompt bytes.
	FileSizeCap     int `yaml:"file_size_cap"`
	TemplateSizeCap int `yaml:"template_size_cap"`

	// CommandTimeout bounds each local subprocess.
	CommandTimeout time.Duration `yaml:"command_timeout"`

	// TesterCommand re-runs the reporting tester persona for validation.
	// Validation is skipped when empty.
	TesterCommand []string `yaml:"tester_command"`
}

// CIConfig controls PR check polling and the repair loop.
type CIConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`

	// WaitTimeout is the total budget for one CI wait cycle.
	WaitTimeout time.Duration `yaml:"wait_timeout"`

	// RerunDelay is the pause after pushing a repair before polling again.
	RerunDelay time.Duration `yaml:"rerun_delay"`
}

// DeployConfig controls the optional deploy stage.
type DeployConfig struct {
	Enabled       bool          `yaml:"enabled"`
	ComposePath   string        `yaml:"compose_path"`
	ServiceName   string        `yaml:"service_name"`
	HealthURL     string        `yaml:"health_url"`
	HealthTimeout time.Duration `yaml:"health_timeout"`
	Timeout       time.Duration `yaml:"timeout"`
}

// LearningConfig controls lesson selection and pruning.
type LearningConfig struct {
	// LessonLimit is the max lessons injected per strategize prompt.
	LessonLimit int `yaml:"lesson_limit"`

	// RetryWait gives freshly triggered failure analyses a chance to
	// commit before the next attempt strategizes.
	RetryWait time.Duration `yaml:"retry_wait"`

	PruneMinApplications int     `yaml:"prune_min_applications"`
	PruneMinSuccessRate  float64 `yaml:"prune_min_success_rate"`
}

// SlackConfig holds notification settings.
type SlackConfig struct {
	Enabled  *bool  `yaml:"enabled,omitempty"`
	TokenEnv string `yaml:"token_env,omitempty"`
	Channel  string `yaml:"channel,omitempty"`
}
