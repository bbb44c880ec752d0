package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/codeready-toolchain/remedy/pkg/config"
	"github.com/codeready-toolchain/remedy/pkg/models"
)

// ErrCITimeout indicates the checks did not settle within the wait
// budget.
var ErrCITimeout = fmt.Errorf("timed out waiting for CI checks")

var (
	blackReformatPattern = regexp.MustCompile(`would reformat (\S+)`)
	flake8Pattern        = regexp.MustCompile(`(?m)^(\S+?\.py):(\d+):(\d+): ([A-Z]\d+) (.+)$`)
	pytestFailedPattern  = regexp.MustCompile(`(?m)^FAILED (\S+?)::(\S+?)(?: - (.+))?$`)
	buildErrorPattern    = regexp.MustCompile(`(?m)^.*ERROR.*$`)
)

// Flake8 codes black fixes on its own: blank-line and trailing
// whitespace violations.
var blackFixableCodes = map[string]bool{
	"E302": true,
	"E303": true,
	"W291": true,
	"W293": true,
	"W391": true,
}

// CIWorker polls pull request checks and repairs mechanical failures.
type CIWorker struct {
	runner *Runner
	cfg    *config.CIConfig
	repo   *config.RepoConfig
}

// NewCIWorker builds a CI worker over the shared runner.
func NewCIWorker(runner *Runner, cfg *config.CIConfig, repo *config.RepoConfig) *CIWorker {
	return &CIWorker{runner: runner, cfg: cfg, repo: repo}
}

// checkRollup mirrors one entry of gh's statusCheckRollup JSON.
type checkRollup struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
	DetailsURL string `json:"detailsUrl"`
}

// PollChecks fetches the current check states of the PR.
func (c *CIWorker) PollChecks(ctx context.Context, prNumber int) (*models.PRStatus, error) {
	res, err := c.runner.Run(ctx, "gh", "pr", "view", strconv.Itoa(prNumber),
		"--json", "statusCheckRollup")
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("gh pr view failed: %s", res.Output())
	}
	return ParseCheckRollup(prNumber, res.Stdout)
}

// ParseCheckRollup converts gh's statusCheckRollup JSON into a PRStatus.
func ParseCheckRollup(prNumber int, raw string) (*models.PRStatus, error) {
	var payload struct {
		StatusCheckRollup []checkRollup `json:"statusCheckRollup"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("failed to parse check rollup: %w", err)
	}

	status := &models.PRStatus{PRNumber: prNumber}
	for _, c := range payload.StatusCheckRollup {
		status.Checks = append(status.Checks, models.CICheck{
			Name:       c.Name,
			Status:     strings.ToLower(c.Status),
			Conclusion: strings.ToLower(c.Conclusion),
			URL:        c.DetailsURL,
		})
	}
	status.Overall = models.DeriveOverall(status.Checks)
	return status, nil
}

// WaitForChecks polls until the PR's checks settle or the wait budget
// runs out.
func (c *CIWorker) WaitForChecks(ctx context.Context, prNumber int) (*models.PRStatus, error) {
	deadline := time.Now().Add(c.cfg.WaitTimeout)
	for {
		status, err := c.PollChecks(ctx, prNumber)
		if err != nil {
			return nil, err
		}
		if status.Overall != models.CIStatusPending {
			slog.Info("CI checks settled", "pr_number", prNumber, "overall", status.Overall)
			return status, nil
		}
		if time.Now().After(deadline) {
			return status, ErrCITimeout
		}
		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-time.After(c.cfg.PollInterval):
		}
	}
}

// FetchFailedLogs returns the failed-step logs of the branch's latest
// workflow run.
func (c *CIWorker) FetchFailedLogs(ctx context.Context, branch string) (string, error) {
	res, err := c.runner.Run(ctx, "gh", "run", "list",
		"--branch", branch, "--limit", "1", "--json", "databaseId")
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("gh run list failed: %s", res.Output())
	}
	var runs []struct {
		DatabaseID int64 `json:"databaseId"`
	}
	if err := json.Unmarshal([]byte(res.Stdout), &runs); err != nil {
		return "", fmt.Errorf("failed to parse run list: %w", err)
	}
	if len(runs) == 0 {
		return "", fmt.Errorf("no workflow runs found for branch %s", branch)
	}

	res, err = c.runner.Run(ctx, "gh", "run", "view",
		strconv.FormatInt(runs[0].DatabaseID, 10), "--log-failed")
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("gh run view failed: %s", res.Output())
	}
	return res.Stdout, nil
}

// ParseCILogs classifies failures found in CI logs: formatter
// complaints, lint violations, test failures, then build errors. An
// unrecognized non-empty log yields one unknown failure.
func ParseCILogs(checkName, logs string) []models.CIFailure {
	var failures []models.CIFailure

	for _, m := range blackReformatPattern.FindAllStringSubmatch(logs, -1) {
		failures = append(failures, models.CIFailure{
			CheckName:    checkName,
			FailureType:  models.CIFailureBlack,
			ErrorMessage: "file needs reformatting",
			FilePath:     m[1],
		})
	}

	for _, m := range flake8Pattern.FindAllStringSubmatch(logs, -1) {
		line, _ := strconv.Atoi(m[2])
		failureType := models.CIFailureLint
		if blackFixableCodes[m[4]] || m[4] == "W292" {
			failureType = models.CIFailureFlake8
		}
		failures = append(failures, models.CIFailure{
			CheckName:    checkName,
			FailureType:  failureType,
			ErrorMessage: m[4] + " " + m[5],
			FilePath:     m[1],
			LineNumber:   line,
		})
	}

	for _, m := range pytestFailedPattern.FindAllStringSubmatch(logs, -1) {
		failures = append(failures, models.CIFailure{
			CheckName:    checkName,
			FailureType:  models.CIFailureTest,
			ErrorMessage: fmt.Sprintf("%s failed: %s", m[2], m[3]),
			FilePath:     m[1],
		})
	}

	if len(failures) == 0 {
		if m := buildErrorPattern.FindString(logs); m != "" {
			failures = append(failures, models.CIFailure{
				CheckName:    checkName,
				FailureType:  models.CIFailureBuild,
				ErrorMessage: strings.TrimSpace(m),
				RawLog:       logs,
			})
		} else if strings.TrimSpace(logs) != "" {
			failures = append(failures, models.CIFailure{
				CheckName:    checkName,
				FailureType:  models.CIFailureUnknown,
				ErrorMessage: "unrecognized CI failure",
				RawLog:       logs,
			})
		}
	}
	return failures
}

// AutoFixable reports whether the failure can be repaired without the
// LLM.
func AutoFixable(f *models.CIFailure) bool {
	switch f.FailureType {
	case models.CIFailureBlack, models.CIFailureFlake8:
		return f.FilePath != ""
	}
	return false
}

// FixLintFailure repairs a mechanical lint failure in place: black for
// formatting violations, a trailing newline for W292.
func (c *CIWorker) FixLintFailure(ctx context.Context, f *models.CIFailure) (*WorkerResult, error) {
	if !AutoFixable(f) {
		return failure("%s failure in %s is not auto-fixable", f.FailureType, f.FilePath), nil
	}

	if strings.HasPrefix(f.ErrorMessage, "W292") {
		path := filepath.Join(c.repo.Path, f.FilePath)
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", f.FilePath, err)
		}
		if len(content) > 0 && content[len(content)-1] != '\n' {
			if err := os.WriteFile(path, append(content, '\n'), 0o644); err != nil {
				return nil, fmt.Errorf("failed to write %s: %w", f.FilePath, err)
			}
		}
		return success("appended missing newline to %s", f.FilePath), nil
	}

	res, err := c.runner.Run(ctx, "black", f.FilePath)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return failure("black failed on %s: %s", f.FilePath, res.Output()), nil
	}
	return success("reformatted %s", f.FilePath), nil
}
