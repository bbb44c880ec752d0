package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/codeready-toolchain/remedy/pkg/config"
	"github.com/codeready-toolchain/remedy/pkg/ingest"
	"github.com/codeready-toolchain/remedy/pkg/models"
)

// TestWorker runs the local verification suite and the post-deploy
// issue validation.
type TestWorker struct {
	runner *Runner
	cfg    *config.RepoConfig
}

// NewTestWorker builds a test worker over the shared runner.
func NewTestWorker(runner *Runner, cfg *config.RepoConfig) *TestWorker {
	return &TestWorker{runner: runner, cfg: cfg}
}

// RunCoreTests runs the canonical test files, then the formatter check
// and the linter. The first failing step stops the run.
func (t *TestWorker) RunCoreTests(ctx context.Context) (*WorkerResult, error) {
	args := append([]string{"-m", "pytest", "-q"}, t.cfg.CoreTestFiles...)
	res, err := t.runner.Run(ctx, "python", args...)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return failure("core tests failed: %s", tail(res.Output(), 2000)), nil
	}

	res, err = t.runner.Run(ctx, "black", "--check", ".")
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return failure("formatting check failed: %s", tail(res.Output(), 2000)), nil
	}

	res, err = t.runner.Run(ctx, "flake8", "--max-line-length", "120", ".")
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return failure("lint check failed: %s", tail(res.Output(), 2000)), nil
	}

	slog.Info("Core tests passed")
	return success("core tests, formatting, and lint all passed"), nil
}

// RunTester re-runs the tester persona that reported the issue and
// returns its fresh reports. The tester command prints a JSON array of
// reports on stdout; the reporter name is passed as the final argument.
func (t *TestWorker) RunTester(ctx context.Context, command []string, reporter string) ([]ingest.Report, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("no tester command configured")
	}
	args := append(command[1:], reporter)
	res, err := t.runner.Run(ctx, command[0], args...)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("tester run failed: %s", tail(res.Output(), 2000))
	}

	var reports []ingest.Report
	if err := json.Unmarshal([]byte(strings.TrimSpace(res.Stdout)), &reports); err != nil {
		return nil, fmt.Errorf("failed to parse tester output: %w", err)
	}
	return reports, nil
}

// IssueStillPresent reports whether any fresh report describes the same
// problem as the original issue, comparing title against title and the
// combined report texts.
func IssueStillPresent(issue *models.Issue, reports []ingest.Report) bool {
	issueText := issue.Title + " " + issue.Description
	for _, r := range reports {
		if SameIssue(issue.Title, r.Title) {
			return true
		}
		if SameIssue(issueText, r.Title+" "+r.Description) {
			return true
		}
	}
	return false
}

// tail returns at most n trailing bytes of s. Failure output keeps the
// end, where the summary lives.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
