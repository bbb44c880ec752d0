// Package engine drives one fix session from claimed issue to terminal
// state: classification, root-cause analysis, the strategy/implement/
// test loop, pull request and CI repair, optional deploy, and
// validation by the reporting tester.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/codeready-toolchain/remedy/pkg/config"
	"github.com/codeready-toolchain/remedy/pkg/editor"
	"github.com/codeready-toolchain/remedy/pkg/ingest"
	"github.com/codeready-toolchain/remedy/pkg/learning"
	"github.com/codeready-toolchain/remedy/pkg/llm"
	"github.com/codeready-toolchain/remedy/pkg/metrics"
	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/queue"
	"github.com/codeready-toolchain/remedy/pkg/safety"
	"github.com/codeready-toolchain/remedy/pkg/workers"
)

// GitOps is the git surface the engine depends on.
type GitOps interface {
	BranchName(sessionID, title string) string
	CreateBranch(ctx context.Context, branch string) (*workers.WorkerResult, error)
	Commit(ctx context.Context, message string) (*workers.WorkerResult, error)
	Push(ctx context.Context, branch string) (*workers.WorkerResult, error)
	OpenPR(ctx context.Context, branch, title, body string) (*workers.WorkerResult, error)
	Rollback(ctx context.Context, branch string) (*workers.WorkerResult, error)
}

// CIOps is the pull request check surface the engine depends on.
type CIOps interface {
	WaitForChecks(ctx context.Context, prNumber int) (*models.PRStatus, error)
	FetchFailedLogs(ctx context.Context, branch string) (string, error)
	FixLintFailure(ctx context.Context, f *models.CIFailure) (*workers.WorkerResult, error)
}

// TestOps runs local verification and the tester persona.
type TestOps interface {
	RunCoreTests(ctx context.Context) (*workers.WorkerResult, error)
	RunTester(ctx context.Context, command []string, reporter string) ([]ingest.Report, error)
}

// DeployOps redeploys the application and restores the previous build
// when a deploy goes bad.
type DeployOps interface {
	Deploy(ctx context.Context) (*workers.WorkerResult, error)
	Rollback(ctx context.Context) (*workers.WorkerResult, error)
}

// Notifier delivers session notifications. *slack.Service satisfies it.
type Notifier interface {
	NotifyStatus(ctx context.Context, session *models.FixSession)
	NotifyApprovalNeeded(ctx context.Context, session *models.FixSession, reason string)
	NotifySummary(ctx context.Context, session *models.FixSession)
}

// Engine executes fix sessions. It implements queue.SessionExecutor.
type Engine struct {
	cfg      *config.Config
	store    *queue.Store
	llm      llm.Client
	editor   *editor.FileEditor
	contextB *ContextBuilder
	git      GitOps
	ci       CIOps
	tests    TestOps
	deploy   DeployOps
	learning *learning.Store
	analyzer *learning.Analyzer
	gate     *safety.ApprovalGate
	broker   *safety.ApprovalBroker
	rate     *safety.RateLimiter
	notifier Notifier

	// repoMu serializes mutations of the shared working copy across
	// concurrent sessions.
	repoMu sync.Mutex
}

// repoGuard tracks the working-copy lock for one session run. Acquired
// before the first branch operation, released when the run ends.
type repoGuard struct {
	mu   *sync.Mutex
	held bool
}

func (g *repoGuard) acquire() {
	if !g.held {
		g.mu.Lock()
		g.held = true
	}
}

func (g *repoGuard) release() {
	if g.held {
		g.mu.Unlock()
		g.held = false
	}
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Config   *config.Config
	Store    *queue.Store
	LLM      llm.Client
	Editor   *editor.FileEditor
	Git      GitOps
	CI       CIOps
	Tests    TestOps
	Deploy   DeployOps
	Learning *learning.Store
	Analyzer *learning.Analyzer
	Gate     *safety.ApprovalGate
	Broker   *safety.ApprovalBroker
	Rate     *safety.RateLimiter
	Notifier Notifier
}

// New builds an engine from its dependencies.
func New(d Deps) *Engine {
	return &Engine{
		cfg:      d.Config,
		store:    d.Store,
		llm:      d.LLM,
		editor:   d.Editor,
		contextB: NewContextBuilder(d.Editor, d.Config.Repo),
		git:      d.Git,
		ci:       d.CI,
		tests:    d.Tests,
		deploy:   d.Deploy,
		learning: d.Learning,
		analyzer: d.Analyzer,
		gate:     d.Gate,
		broker:   d.Broker,
		rate:     d.Rate,
		notifier: d.Notifier,
	}
}

// stalled reports whether err is a budget or rate stall.
func stalled(err error) bool {
	return errors.Is(err, llm.ErrBudgetExhausted) || errors.Is(err, llm.ErrRateLimited)
}

// Execute runs the session to a terminal state. The worker persists the
// returned status; intermediate transitions are persisted here.
func (e *Engine) Execute(ctx context.Context, session *models.FixSession) *queue.ExecutionResult {
	log := slog.With("session_id", session.ID)
	log.Info("Session execution started", "issue", session.Issue.Title)

	result := e.run(ctx, session, log)

	if result.Stall {
		log.Info("Session stalled")
		return result
	}

	now := time.Now()
	session.CompletedAt = &now
	if result.Error != nil {
		session.ErrorMessage = result.Error.Error()
	}
	session.Status = result.Status

	success := result.Status == models.StatusCompleted
	if len(session.AppliedLessonIDs) > 0 {
		if err := e.learning.RecordOutcome(context.Background(), session.ID, success); err != nil {
			log.Warn("Failed to record lesson outcome", "error", err)
		}
	}

	metrics.SessionsTotal.WithLabelValues(string(result.Status)).Inc()
	metrics.SessionDuration.WithLabelValues(string(result.Status)).Observe(session.Duration().Seconds())
	e.notifier.NotifySummary(context.Background(), session)

	log.Info("Session execution finished", "status", result.Status)
	return result
}

func (e *Engine) run(ctx context.Context, session *models.FixSession, log *slog.Logger) *queue.ExecutionResult {
	// The worker claimed the session into analyzing; announce it.
	e.notifier.NotifyStatus(ctx, session)

	cls, res := e.classify(ctx, session, log)
	if res != nil {
		return res
	}
	complexity := models.Complexity(cls.Complexity)

	codeContext := e.contextB.Build(&session.Issue, nil)
	analysis, err := e.analyze(ctx, session, codeContext)
	if err != nil {
		if stalled(err) {
			return &queue.ExecutionResult{Stall: true}
		}
		e.recordFailure(session, models.StageAnalyze, err.Error(), nil, "")
		return &queue.ExecutionResult{Status: models.StatusFailed, Error: err}
	}
	if len(analysis.FilesToModify) > 0 {
		codeContext = e.contextB.Build(&session.Issue, analysis.FilesToModify)
	}

	repo := &repoGuard{mu: &e.repoMu}
	defer repo.release()

	strategy, res := e.fixLoop(ctx, session, analysis, codeContext, complexity, repo, log)
	if res != nil {
		return res
	}

	if res := e.openPR(ctx, session, strategy); res != nil {
		return res
	}
	if res := e.repairCI(ctx, session, log); res != nil {
		return res
	}

	if e.cfg.Deploy.Enabled {
		if err := e.transition(ctx, session, models.StatusDeploying); err != nil {
			return &queue.ExecutionResult{Status: models.StatusFailed, Error: err}
		}
		dres, err := e.deploy.Deploy(ctx)
		if err != nil || !dres.Success {
			msg := "deploy failed"
			if err != nil {
				msg = err.Error()
			} else if dres.Message != "" {
				msg = dres.Message
			}
			e.recordFailure(session, models.StageDeploy, msg, nil, strategy.Description)
			e.rollback(session)
			if rres, rerr := e.deploy.Rollback(ctx); rerr != nil {
				log.Error("Deploy rollback failed", "error", rerr)
			} else if !rres.Success {
				log.Error("Deploy rollback unhealthy", "message", rres.Message)
			}
			return &queue.ExecutionResult{Status: models.StatusFailed, Error: errors.New(msg)}
		}
	}

	return e.validate(ctx, session, strategy)
}

// classify is the mandatory triage call: it decides whether the issue
// is worth an automated fix attempt at all, and refines severity and
// category on the way. A refusal ends the session in blocked without a
// failure row; feature requests and unclear reports are not failures to
// learn from.
func (e *Engine) classify(ctx context.Context, session *models.FixSession, log *slog.Logger) (*classification, *queue.ExecutionResult) {
	resp, err := e.ask(ctx, session, "classify", classifyPrompt(&session.Issue), 500, "")
	if err != nil {
		if stalled(err) {
			return nil, &queue.ExecutionResult{Stall: true}
		}
		log.Warn("Classification failed", "error", err)
		return nil, &queue.ExecutionResult{
			Status: models.StatusBlocked,
			Error:  fmt.Errorf("issue could not be classified: %w", err),
		}
	}
	c, err := parseClassification(resp.Content)
	if err != nil {
		log.Warn("Classification unparseable", "error", err)
		return nil, &queue.ExecutionResult{
			Status: models.StatusBlocked,
			Error:  fmt.Errorf("issue could not be classified: %w", err),
		}
	}

	if !c.CanAutoFix || c.SuggestedAction == "skip" {
		reason := c.Reason
		if reason == "" {
			reason = "not suitable for an automated fix"
		}
		log.Info("Issue not auto-fixable",
			"issue_type", c.IssueType,
			"suggested_action", c.SuggestedAction,
			"reason", reason)
		return nil, &queue.ExecutionResult{
			Status: models.StatusBlocked,
			Error:  fmt.Errorf("skipped (%s): %s", c.IssueType, reason),
		}
	}

	if models.ValidSeverity(models.Severity(c.Severity)) {
		session.Issue.Severity = models.Severity(c.Severity)
	}
	if models.ValidCategory(models.Category(c.Category)) {
		session.Issue.Category = models.Category(c.Category)
	}
	_ = e.store.Save(ctx, session)
	return c, nil
}

func (e *Engine) analyze(ctx context.Context, session *models.FixSession, codeContext string) (*analysisResult, error) {
	resp, err := e.ask(ctx, session, "analyze", analyzePrompt(&session.Issue, codeContext), 800, "")
	if err != nil {
		return nil, err
	}
	return parseAnalysis(resp.Content)
}

// fixLoop runs the strategize/implement/test cycle until the fix passes
// locally or the retry budget is spent. It returns the working strategy
// or a terminal result.
func (e *Engine) fixLoop(ctx context.Context, session *models.FixSession, analysis *analysisResult, codeContext string, complexity models.Complexity, repo *repoGuard, log *slog.Logger) (*models.FixStrategy, *queue.ExecutionResult) {
	feedback := ""
	approvalDecided := false
	for attempt := 1; attempt <= e.cfg.Dispatch.MaxFixRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, &queue.ExecutionResult{Status: models.StatusBlocked, Error: ctx.Err()}
		}
		log.Info("Fix attempt", "attempt", attempt)

		if err := e.transition(ctx, session, models.StatusStrategizing); err != nil {
			return nil, &queue.ExecutionResult{Status: models.StatusFailed, Error: err}
		}

		lessons := e.applyLessons(ctx, session)
		strategy, err := e.strategize(ctx, session, analysis, codeContext, lessons, feedback, complexity)
		if err != nil {
			if stalled(err) {
				return nil, &queue.ExecutionResult{Stall: true}
			}
			e.recordFailure(session, models.StageStrategy, err.Error(), nil, "")
			feedback = "the fix plan could not be parsed: " + err.Error()
			continue
		}
		session.Strategy = strategy

		// Approval is decided once, on the first strategy that parses;
		// retries reuse the verdict rather than re-request it.
		if !approvalDecided {
			approvalDecided = true
			if res := e.maybeAwaitApproval(ctx, session, strategy); res != nil {
				return nil, res
			}
		}

		repo.acquire()
		if err := e.transition(ctx, session, models.StatusImplementing); err != nil {
			return nil, &queue.ExecutionResult{Status: models.StatusFailed, Error: err}
		}
		if failMsg, err := e.implement(ctx, session, strategy); err != nil {
			return nil, &queue.ExecutionResult{Status: models.StatusFailed, Error: err}
		} else if failMsg != "" {
			e.failAttempt(ctx, session, models.StageImplement, failMsg, strategy)
			feedback = failMsg
			continue
		}

		if err := e.transition(ctx, session, models.StatusTesting); err != nil {
			return nil, &queue.ExecutionResult{Status: models.StatusFailed, Error: err}
		}
		tres, err := e.tests.RunCoreTests(ctx)
		if err != nil {
			return nil, &queue.ExecutionResult{Status: models.StatusFailed, Error: err}
		}
		if !tres.Success {
			e.failAttempt(ctx, session, models.StageTest, tres.Message, strategy)
			feedback = tres.Message
			continue
		}

		log.Info("Fix passed local verification", "attempt", attempt)
		return strategy, nil
	}

	err := fmt.Errorf("no working fix after %d attempts", e.cfg.Dispatch.MaxFixRetries)
	return nil, &queue.ExecutionResult{Status: models.StatusFailed, Error: err}
}

// applyLessons injects the best active lessons into the session and
// returns the rendered prompt fragment.
func (e *Engine) applyLessons(ctx context.Context, session *models.FixSession) string {
	lessons, err := e.learning.RelevantLessons(ctx, session.Issue.Category, e.cfg.Learning.LessonLimit)
	if err != nil {
		slog.Warn("Failed to load lessons", "session_id", session.ID, "error", err)
		return ""
	}
	for _, l := range lessons {
		if err := e.learning.RecordApplication(ctx, l.ID, session.ID); err != nil {
			slog.Warn("Failed to record lesson application", "lesson_id", l.ID, "error", err)
			continue
		}
		session.AppliedLessonIDs = append(session.AppliedLessonIDs, l.ID)
		metrics.LessonsApplied.Inc()
	}
	return learning.FormatLessons(lessons)
}

func (e *Engine) strategize(ctx context.Context, session *models.FixSession, analysis *analysisResult, codeContext, lessons, feedback string, complexity models.Complexity) (*models.FixStrategy, error) {
	model := ""
	if complexity == models.ComplexityComplex {
		model = e.cfg.LLM.ComplexModel
	}
	prompt := strategizePrompt(&session.Issue, analysis, codeContext, lessons, feedback)
	resp, err := e.ask(ctx, session, "strategize", prompt, 2000, model)
	if err != nil {
		return nil, err
	}
	strategy, err := parseStrategy(resp.Content)
	if err != nil {
		return nil, err
	}
	// Sensitive categories always go through a human regardless of what
	// the model claimed.
	switch session.Issue.Category {
	case models.CategorySecurity, models.CategoryAuthentication, models.CategoryDatabase:
		strategy.RequiresApproval = true
	}
	return strategy, nil
}

// maybeAwaitApproval parks the session until a human verdict when the
// gate requires one. Returns a terminal result on rejection or timeout.
func (e *Engine) maybeAwaitApproval(ctx context.Context, session *models.FixSession, strategy *models.FixStrategy) *queue.ExecutionResult {
	required, reason := e.gate.RequiresApproval(session, strategy)
	if !required {
		return nil
	}

	if err := e.transition(ctx, session, models.StatusAwaitingApproval); err != nil {
		return &queue.ExecutionResult{Status: models.StatusFailed, Error: err}
	}
	e.notifier.NotifyApprovalNeeded(ctx, session, reason)

	verdict, err := e.broker.Await(ctx, session.ID, e.cfg.Safety.ApprovalTimeout)
	if err != nil {
		return &queue.ExecutionResult{Status: models.StatusBlocked, Error: err}
	}
	if verdict.TimedOut {
		return &queue.ExecutionResult{
			Status: models.StatusBlocked,
			Error:  fmt.Errorf("approval timed out after %s", e.cfg.Safety.ApprovalTimeout),
		}
	}
	if !verdict.Approved {
		return &queue.ExecutionResult{
			Status: models.StatusBlocked,
			Error:  fmt.Errorf("fix rejected by %s", verdict.By),
		}
	}
	slog.Info("Fix approved", "session_id", session.ID, "by", verdict.By)
	return nil
}

// implement creates the fix branch and applies the strategy's steps.
// A returned message (with nil error) is a recoverable attempt failure;
// an error is fatal for the session.
func (e *Engine) implement(ctx context.Context, session *models.FixSession, strategy *models.FixStrategy) (string, error) {
	branch := e.git.BranchName(session.ID, session.Issue.Title)
	session.BranchName = branch

	bres, err := e.git.CreateBranch(ctx, branch)
	if err != nil {
		return "", err
	}
	if !bres.Success {
		return "", errors.New(bres.Message)
	}

	session.FilesModified = nil
	for _, step := range strategy.Steps {
		if !e.rate.Check(config.OpFileWrite) {
			e.rollback(session)
			return "", fmt.Errorf("file write rate limit reached")
		}

		// add_test steps are accepted without touching the tree; generated
		// tests are not committed.
		if step.Type == models.StepAddTest {
			slog.Debug("Accepting add_test step without writing it", "file", step.File)
			continue
		}

		if err := e.editor.EditFile(step.File, step.OldCode, step.NewCode); err != nil {
			e.rollback(session)
			return fmt.Sprintf("edit to %s failed: %v", step.File, err), nil
		}
		e.rate.Record(config.OpFileWrite)
		session.FilesModified = append(session.FilesModified, step.File)
	}
	return "", nil
}

// failAttempt rolls the working copy back, records the failure, and
// kicks off lesson extraction before the next attempt.
func (e *Engine) failAttempt(ctx context.Context, session *models.FixSession, stage, message string, strategy *models.FixStrategy) {
	e.rollback(session)
	e.recordFailure(session, stage, message, session.FilesModified, strategy.Description)

	// Lesson extraction runs detached; the wait below gives it a chance
	// to finish before the next strategize call.
	go func() {
		if _, err := e.analyzer.AnalyzeSession(context.Background(), session.ID); err != nil {
			slog.Warn("Failure analysis failed", "session_id", session.ID, "error", err)
		}
	}()

	select {
	case <-ctx.Done():
	case <-time.After(e.cfg.Learning.RetryWait):
	}
}

func (e *Engine) rollback(session *models.FixSession) {
	if _, err := e.git.Rollback(context.Background(), session.BranchName); err != nil {
		slog.Error("Rollback failed", "session_id", session.ID, "error", err)
	}
}

// openPR commits the fix, pushes the branch, and opens the pull
// request. The session remains in testing while CI runs.
func (e *Engine) openPR(ctx context.Context, session *models.FixSession, strategy *models.FixStrategy) *queue.ExecutionResult {
	fail := func(stage, msg string) *queue.ExecutionResult {
		e.rollback(session)
		e.recordFailure(session, stage, msg, session.FilesModified, strategy.Description)
		return &queue.ExecutionResult{Status: models.StatusFailed, Error: errors.New(msg)}
	}

	cres, err := e.git.Commit(ctx, fmt.Sprintf("Fix: %s\n\n%s", session.Issue.Title, strategy.Description))
	if err != nil {
		return fail(models.StageImplement, err.Error())
	}
	if !cres.Success {
		return fail(models.StageImplement, cres.Message)
	}
	if h, ok := cres.Data["commit_hash"].(string); ok {
		session.CommitHash = h
	}

	pres, err := e.git.Push(ctx, session.BranchName)
	if err != nil {
		return fail(models.StageImplement, err.Error())
	}
	if !pres.Success {
		return fail(models.StageImplement, pres.Message)
	}

	prres, err := e.git.OpenPR(ctx, session.BranchName,
		"Fix: "+session.Issue.Title, prBody(session, strategy))
	if err != nil {
		return fail(models.StageImplement, err.Error())
	}
	if !prres.Success {
		return fail(models.StageImplement, prres.Message)
	}
	if n, ok := prres.Data["pr_number"].(int); ok {
		session.PRNumber = n
	}
	if u, ok := prres.Data["pr_url"].(string); ok {
		session.PRURL = u
	}
	if err := e.store.Save(ctx, session); err != nil {
		return &queue.ExecutionResult{Status: models.StatusFailed, Error: err}
	}
	e.notifier.NotifyStatus(ctx, session)
	return nil
}

func prBody(session *models.FixSession, strategy *models.FixStrategy) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Automated fix for issue `%s`.\n\n", session.ID)
	fmt.Fprintf(&b, "**Issue:** %s\n", session.Issue.Title)
	fmt.Fprintf(&b, "**Reported by:** %s\n", session.Issue.Reporter)
	fmt.Fprintf(&b, "**Severity:** %s | **Category:** %s\n\n", session.Issue.Severity, session.Issue.Category)
	fmt.Fprintf(&b, "**Fix:** %s\n", strategy.Description)
	if len(strategy.FilesAffected) > 0 {
		fmt.Fprintf(&b, "**Files:** %s\n", strings.Join(strategy.FilesAffected, ", "))
	}
	return b.String()
}

// repairCI waits for the PR checks and repairs failures until they pass
// or the retry budget is spent. Mechanical lint failures are fixed
// directly; test and lint logic failures go through the LLM.
func (e *Engine) repairCI(ctx context.Context, session *models.FixSession, log *slog.Logger) *queue.ExecutionResult {
	for {
		status, err := e.ci.WaitForChecks(ctx, session.PRNumber)
		if err != nil {
			e.recordFailure(session, models.StageCITest, err.Error(), nil, "")
			return &queue.ExecutionResult{Status: models.StatusFailed, Error: err}
		}
		if status.Overall == models.CIStatusSuccess {
			passed := true
			session.CIPassed = &passed
			_ = e.store.Save(ctx, session)
			log.Info("CI checks passed", "pr_number", session.PRNumber, "attempts", session.CIAttempts)
			return nil
		}

		session.CIAttempts++
		metrics.CIRepairAttempts.Inc()
		if session.CIAttempts > e.cfg.Dispatch.MaxFixRetries {
			failed := false
			session.CIPassed = &failed
			err := fmt.Errorf("CI still failing after %d repair attempts", e.cfg.Dispatch.MaxFixRetries)
			e.recordFailure(session, models.StageCITest, err.Error(), nil, "")
			return &queue.ExecutionResult{Status: models.StatusFailed, Error: err}
		}

		logs, err := e.ci.FetchFailedLogs(ctx, session.BranchName)
		if err != nil {
			e.recordFailure(session, models.StageCITest, err.Error(), nil, "")
			return &queue.ExecutionResult{Status: models.StatusFailed, Error: err}
		}
		checkName := firstFailedCheck(status)
		failures := workers.ParseCILogs(checkName, logs)
		log.Info("Repairing CI failures", "attempt", session.CIAttempts, "failures", len(failures))

		for i := range failures {
			f := &failures[i]
			session.CIFailures = append(session.CIFailures,
				fmt.Sprintf("%s: %s", f.FailureType, f.ErrorMessage))

			if res := e.repairOne(ctx, session, f); res != nil {
				return res
			}
		}

		cres, err := e.git.Commit(ctx, "Fix CI failures")
		if err != nil || !cres.Success {
			msg := "commit of CI repairs failed"
			if err != nil {
				msg = err.Error()
			} else if cres.Message != "" {
				msg = cres.Message
			}
			e.recordFailure(session, models.StageCITest, msg, nil, "")
			return &queue.ExecutionResult{Status: models.StatusFailed, Error: errors.New(msg)}
		}
		if pres, err := e.git.Push(ctx, session.BranchName); err != nil || !pres.Success {
			msg := "push of CI repairs failed"
			if err != nil {
				msg = err.Error()
			}
			e.recordFailure(session, models.StageCITest, msg, nil, "")
			return &queue.ExecutionResult{Status: models.StatusFailed, Error: errors.New(msg)}
		}
		_ = e.store.Save(ctx, session)

		select {
		case <-ctx.Done():
			return &queue.ExecutionResult{Status: models.StatusBlocked, Error: ctx.Err()}
		case <-time.After(e.cfg.CI.RerunDelay):
		}
	}
}

// repairOne fixes a single CI failure in the working copy.
func (e *Engine) repairOne(ctx context.Context, session *models.FixSession, f *models.CIFailure) *queue.ExecutionResult {
	if workers.AutoFixable(f) {
		res, err := e.ci.FixLintFailure(ctx, f)
		if err != nil {
			e.recordFailure(session, models.StageCILint, err.Error(), []string{f.FilePath}, "")
			return &queue.ExecutionResult{Status: models.StatusFailed, Error: err}
		}
		if !res.Success {
			e.recordFailure(session, models.StageCILint, res.Message, []string{f.FilePath}, "")
			return &queue.ExecutionResult{Status: models.StatusFailed, Error: errors.New(res.Message)}
		}
		return nil
	}

	switch f.FailureType {
	case models.CIFailureTest, models.CIFailureLint:
		content, err := e.editor.ReadFile(f.FilePath)
		if err != nil {
			e.recordFailure(session, models.StageCITest, err.Error(), []string{f.FilePath}, "")
			return &queue.ExecutionResult{Status: models.StatusFailed, Error: err}
		}
		resp, err := e.ask(ctx, session, "ci_repair", ciRepairPrompt(f, content), 1500, "")
		if err != nil {
			if stalled(err) {
				// The PR is already open; parking the session here would
				// restart it from scratch, so treat a stall as failure.
				err = fmt.Errorf("CI repair blocked: %w", err)
			}
			e.recordFailure(session, models.StageCITest, err.Error(), []string{f.FilePath}, "")
			return &queue.ExecutionResult{Status: models.StatusFailed, Error: err}
		}
		edit, err := parseCIRepair(resp.Content)
		if err != nil {
			e.recordFailure(session, models.StageCITest, err.Error(), []string{f.FilePath}, "")
			return &queue.ExecutionResult{Status: models.StatusFailed, Error: err}
		}
		if err := e.editor.EditFile(edit.File, edit.OldCode, edit.NewCode); err != nil {
			e.recordFailure(session, models.StageCITest, err.Error(), []string{edit.File}, "")
			return &queue.ExecutionResult{Status: models.StatusFailed, Error: err}
		}
		return nil
	default:
		err := fmt.Errorf("cannot repair %s failure: %s", f.FailureType, f.ErrorMessage)
		e.recordFailure(session, models.StageCIBuild, err.Error(), nil, "")
		return &queue.ExecutionResult{Status: models.StatusFailed, Error: err}
	}
}

func firstFailedCheck(status *models.PRStatus) string {
	for _, c := range status.Checks {
		if c.Status == models.CheckStateCompleted && c.Conclusion != models.CheckConclusionSuccess {
			return c.Name
		}
	}
	return "ci"
}

// validate re-runs the reporting tester. The fix holds when no fresh
// report describes the original issue.
func (e *Engine) validate(ctx context.Context, session *models.FixSession, strategy *models.FixStrategy) *queue.ExecutionResult {
	if err := e.transition(ctx, session, models.StatusValidating); err != nil {
		return &queue.ExecutionResult{Status: models.StatusFailed, Error: err}
	}

	if len(e.cfg.Repo.TesterCommand) == 0 {
		slog.Info("No tester configured, skipping validation", "session_id", session.ID)
		return &queue.ExecutionResult{Status: models.StatusCompleted}
	}

	reports, err := e.tests.RunTester(ctx, e.cfg.Repo.TesterCommand, session.Issue.Reporter)
	if err != nil {
		// An unreachable tester does not undo a fix that passed tests
		// and CI; the session completes without a verdict.
		slog.Warn("Tester run failed, validation inconclusive",
			"session_id", session.ID, "error", err)
		return &queue.ExecutionResult{Status: models.StatusCompleted}
	}

	if workers.IssueStillPresent(&session.Issue, reports) {
		failed := false
		session.ValidationPassed = &failed
		msg := "issue reproduced after fix"
		e.recordFailure(session, models.StageValidate, msg, session.FilesModified, strategy.Description)
		e.rollback(session)
		return &queue.ExecutionResult{Status: models.StatusRolledBack, Error: errors.New(msg)}
	}

	passed := true
	session.ValidationPassed = &passed
	return &queue.ExecutionResult{Status: models.StatusCompleted}
}

// ask sends one gated completion and accumulates the session's token
// and cost counters.
func (e *Engine) ask(ctx context.Context, session *models.FixSession, operation, prompt string, maxTokens int, model string) (*llm.Response, error) {
	resp, err := e.llm.Ask(ctx, llm.Request{
		Prompt:    prompt,
		MaxTokens: maxTokens,
		Model:     model,
		SessionID: session.ID,
		Operation: operation,
	})
	if err != nil {
		return nil, err
	}
	session.TokensUsed += resp.InputTokens + resp.OutputTokens
	session.AccumulatedCost += resp.Cost
	return resp, nil
}

// transition moves the session to the next status, persists it, and
// notifies observers.
func (e *Engine) transition(ctx context.Context, session *models.FixSession, to models.Status) error {
	if session.Status == to {
		return nil
	}
	if !models.CanTransition(session.Status, to) {
		return fmt.Errorf("illegal transition %s -> %s", session.Status, to)
	}
	session.Status = to
	if err := e.store.Save(ctx, session); err != nil {
		return err
	}
	e.notifier.NotifyStatus(ctx, session)
	return nil
}

// recordFailure writes one failure row for lesson extraction. Uses a
// background context so failures survive session cancellation.
func (e *Engine) recordFailure(session *models.FixSession, stage, message string, files []string, strategyDesc string) {
	_, err := e.learning.RecordFailure(context.Background(), &models.Failure{
		SessionID:     session.ID,
		Stage:         stage,
		ErrorMessage:  message,
		IssueCategory: session.Issue.Category,
		IssueTitle:    session.Issue.Title,
		FilesInvolved: files,
		Strategy:      strategyDesc,
	})
	if err != nil {
		slog.Error("Failed to record failure", "session_id", session.ID, "error", err)
	}
	metrics.StageFailures.WithLabelValues(stage).Inc()
}
