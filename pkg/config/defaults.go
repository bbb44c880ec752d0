package config

import "time"

// Rate-limited operation names.
const (
	OpLLMQuery  = "llm_query"
	OpCommit    = "commit"
	OpFileWrite = "file_write"
	OpDeploy    = "deploy"
	OpPRCreate  = "pr_create"
)

// DefaultConfig returns the complete built-in configuration. User YAML
// is merged on top of this.
func DefaultConfig() *Config {
	return &Config{
		Dispatch: DefaultDispatchConfig(),
		Safety: &SafetyConfig{
			DailyCostLimit: 10.00,
			RateLimits: map[string]int{
				OpLLMQuery:  100,
				OpCommit:    20,
				OpFileWrite: 50,
				OpDeploy:    5,
				OpPRCreate:  10,
			},
			RequireApprovalCategories: []string{"security", "authentication", "database"},
			AutoApproveSeverities:     []string{"low", "medium"},
			AutoApproveCategories:     []string{"ux", "performance"},
			SensitiveFilePatterns: []string{
				"auth", "password", "token", "secret", "credential",
				"migration", "schema", "database",
			},
			ApprovalTimeout: 30 * time.Minute,
		},
		LLM: &LLMConfig{
			Model:        "gpt-4o-mini",
			ComplexModel: "gpt-4o",
			APIKeyEnv:    "OPENAI_API_KEY",
			Pricing: map[string]ModelPricing{
				"gpt-4o-mini": {Input: 0.15, Output: 0.60},
				"gpt-4o":      {Input: 2.50, Output: 10.00},
			},
			RequestTimeout: 2 * time.Minute,
		},
		Repo: &RepoConfig{
			Path:             ".",
			DefaultBranch:    "main",
			BranchPrefix:     "fix/",
			PrimaryExtension: ".py",
			CoreTestFiles:    []string{"tests/test_app.py", "tests/test_database.py"},
			KeyFiles:         []string{"app.py", "database.py"},
			MaxContextFiles:  10,
			FileSizeCap:      8000,
			TemplateSizeCap:  12000,
			CommandTimeout:   300 * time.Second,
		},
		CI: &CIConfig{
			PollInterval: 30 * time.Second,
			WaitTimeout:  15 * time.Minute,
			RerunDelay:   10 * time.Second,
		},
		Deploy: &DeployConfig{
			Enabled:       false,
			ComposePath:   ".",
			ServiceName:   "app",
			HealthURL:     "http://localhost:8003/health",
			HealthTimeout: 90 * time.Second,
			Timeout:       600 * time.Second,
		},
		Learning: &LearningConfig{
			LessonLimit:          5,
			RetryWait:            10 * time.Second,
			PruneMinApplications: 5,
			PruneMinSuccessRate:  0.3,
		},
		Slack: &SlackConfig{
			TokenEnv: "SLACK_BOT_TOKEN",
		},
	}
}
