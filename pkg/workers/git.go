package workers

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/codeready-toolchain/remedy/pkg/config"
	"github.com/codeready-toolchain/remedy/pkg/safety"
)

var (
	prURLPattern     = regexp.MustCompile(`/pull/(\d+)`)
	prFullURLPattern = regexp.MustCompile(`https?://\S+/pull/\d+`)
)

// GitWorker performs branch, commit, push, PR, and rollback operations
// on the working copy. Mutating operations go through the rate limiter.
type GitWorker struct {
	runner commandRunner
	cfg    *config.RepoConfig
	rate   *safety.RateLimiter
}

// NewGitWorker builds a git worker over the shared runner.
func NewGitWorker(runner *Runner, cfg *config.RepoConfig, rate *safety.RateLimiter) *GitWorker {
	return &GitWorker{runner: runner, cfg: cfg, rate: rate}
}

// BranchName derives the fix branch name from the issue: the prefix,
// the short session id, and a slug of the title capped at 30 runes.
func (g *GitWorker) BranchName(sessionID, title string) string {
	return g.cfg.BranchPrefix + sessionID + "-" + slugify(title, 30)
}

// slugify lowercases, replaces non-alphanumerics with hyphens, and caps
// the length without leaving a trailing hyphen.
func slugify(s string, maxLen int) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		case !lastHyphen:
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	slug := strings.Trim(b.String(), "-")
	if len(slug) > maxLen {
		slug = strings.Trim(slug[:maxLen], "-")
	}
	if slug == "" {
		slug = "issue"
	}
	return slug
}

// CreateBranch discards any stray edits left in the working copy,
// refreshes the default branch, and creates the fix branch from it.
func (g *GitWorker) CreateBranch(ctx context.Context, branch string) (*WorkerResult, error) {
	// The discard may fail on a pristine checkout; that is fine.
	if _, err := g.runner.Run(ctx, "git", "checkout", "--", "."); err != nil {
		return nil, err
	}
	for _, args := range [][]string{
		{"checkout", g.cfg.DefaultBranch},
		{"pull", "--ff-only"},
		{"checkout", "-b", branch},
	} {
		res, err := g.runner.Run(ctx, "git", args...)
		if err != nil {
			return nil, err
		}
		if res.ExitCode != 0 {
			return failure("git %s failed: %s", strings.Join(args, " "), res.Output()), nil
		}
	}
	slog.Info("Created fix branch", "branch", branch)
	return success("created branch %s", branch), nil
}

// ChangedFiles lists the files modified relative to HEAD.
func (g *GitWorker) ChangedFiles(ctx context.Context) ([]string, error) {
	res, err := g.runner.Run(ctx, "git", "diff", "--name-only", "HEAD")
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("git diff failed: %s", res.Output())
	}
	var files []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// Commit formats and lint-checks the changed source files, then commits
// everything. A lint failure blocks the commit.
func (g *GitWorker) Commit(ctx context.Context, message string) (*WorkerResult, error) {
	if !g.rate.Check(config.OpCommit) {
		return failure("commit rate limit reached, retry in %s", g.rate.WaitTime(config.OpCommit)), nil
	}

	changed, err := g.ChangedFiles(ctx)
	if err != nil {
		return nil, err
	}
	var source []string
	for _, f := range changed {
		if strings.HasSuffix(f, g.cfg.PrimaryExtension) {
			source = append(source, f)
		}
	}

	if len(source) > 0 {
		res, err := g.runner.Run(ctx, "black", source...)
		if err != nil {
			return nil, err
		}
		if res.ExitCode != 0 {
			return failure("formatter failed: %s", res.Output()), nil
		}
		res, err = g.runner.Run(ctx, "flake8", append([]string{"--max-line-length", "120"}, source...)...)
		if err != nil {
			return nil, err
		}
		if res.ExitCode != 0 {
			return failure("lint check failed: %s", res.Output()), nil
		}
	}

	res, err := g.runner.Run(ctx, "git", "add", "-A")
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return failure("git add failed: %s", res.Output()), nil
	}

	res, err = g.runner.Run(ctx, "git", "commit", "-m", message)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return failure("git commit failed: %s", res.Output()), nil
	}

	g.rate.Record(config.OpCommit)
	slog.Info("Committed changes", "files", len(changed))
	result := success("committed %d files", len(changed))
	if res, err = g.runner.Run(ctx, "git", "rev-parse", "HEAD"); err != nil {
		return nil, err
	}
	if hash := strings.TrimSpace(res.Stdout); res.ExitCode == 0 && hash != "" {
		result.Data = map[string]any{"commit_hash": hash}
	}
	return result, nil
}

// Push publishes the branch to origin.
func (g *GitWorker) Push(ctx context.Context, branch string) (*WorkerResult, error) {
	res, err := g.runner.Run(ctx, "git", "push", "-u", "origin", branch)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return failure("git push failed: %s", res.Output()), nil
	}
	return success("pushed %s", branch), nil
}

// OpenPR opens a pull request for the branch and returns its number in
// Data["pr_number"].
func (g *GitWorker) OpenPR(ctx context.Context, branch, title, body string) (*WorkerResult, error) {
	if !g.rate.Check(config.OpPRCreate) {
		return failure("pull request rate limit reached, retry in %s", g.rate.WaitTime(config.OpPRCreate)), nil
	}

	res, err := g.runner.Run(ctx, "gh", "pr", "create",
		"--base", g.cfg.DefaultBranch,
		"--head", branch,
		"--title", title,
		"--body", body)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return failure("gh pr create failed: %s", res.Output()), nil
	}

	number, err := ParsePRNumber(res.Output())
	if err != nil {
		return failure("pull request created but number not found in output: %s", res.Output()), nil
	}

	g.rate.Record(config.OpPRCreate)
	slog.Info("Opened pull request", "pr_number", number, "branch", branch)
	result := success("opened pull request #%d", number)
	result.Data = map[string]any{
		"pr_number": number,
		"pr_url":    prFullURLPattern.FindString(res.Output()),
	}
	return result, nil
}

// ParsePRNumber extracts the PR number from a pull request URL.
func ParsePRNumber(out string) (int, error) {
	m := prURLPattern.FindStringSubmatch(out)
	if m == nil {
		return 0, fmt.Errorf("no pull request URL in output")
	}
	return strconv.Atoi(m[1])
}

// Rollback discards uncommitted edits, returns to the default branch,
// and deletes the fix branch if it exists.
func (g *GitWorker) Rollback(ctx context.Context, branch string) (*WorkerResult, error) {
	res, err := g.runner.Run(ctx, "git", "checkout", "--", ".")
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return failure("failed to discard changes: %s", res.Output()), nil
	}
	res, err = g.runner.Run(ctx, "git", "clean", "-fd")
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return failure("git clean failed: %s", res.Output()), nil
	}
	res, err = g.runner.Run(ctx, "git", "checkout", g.cfg.DefaultBranch)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return failure("failed to return to %s: %s", g.cfg.DefaultBranch, res.Output()), nil
	}
	if branch != "" {
		// Branch deletion is best-effort; it may not exist yet, and the
		// push may never have happened.
		if res, err = g.runner.Run(ctx, "git", "branch", "-D", branch); err != nil {
			return nil, err
		}
		if res.ExitCode != 0 {
			slog.Debug("Fix branch not deleted", "branch", branch, "output", res.Output())
		}
		if res, err = g.runner.Run(ctx, "git", "push", "origin", "--delete", branch); err != nil {
			return nil, err
		}
		if res.ExitCode != 0 {
			slog.Debug("Remote fix branch not deleted", "branch", branch, "output", res.Output())
		}
	}
	slog.Info("Rolled back working copy", "branch", branch)
	return success("rolled back to %s", g.cfg.DefaultBranch), nil
}
