package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/remedy/pkg/config"
	"github.com/codeready-toolchain/remedy/pkg/database"
	"github.com/codeready-toolchain/remedy/pkg/editor"
	"github.com/codeready-toolchain/remedy/pkg/ingest"
	"github.com/codeready-toolchain/remedy/pkg/learning"
	"github.com/codeready-toolchain/remedy/pkg/llm"
	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/queue"
	"github.com/codeready-toolchain/remedy/pkg/safety"
	"github.com/codeready-toolchain/remedy/pkg/workers"
)

// scriptedLLM returns queued responses per operation and records the
// prompts it was asked.
type scriptedLLM struct {
	mu        sync.Mutex
	responses map[string][]string
	errs      map[string]error
	calls     []string
	prompts   map[string][]string
}

func (s *scriptedLLM) enqueue(operation string, contents ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.responses == nil {
		s.responses = make(map[string][]string)
	}
	s.responses[operation] = append(s.responses[operation], contents...)
}

func (s *scriptedLLM) failWith(operation string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errs == nil {
		s.errs = make(map[string]error)
	}
	s.errs[operation] = err
}

func (s *scriptedLLM) Ask(_ context.Context, req llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req.Operation)
	if s.prompts == nil {
		s.prompts = make(map[string][]string)
	}
	s.prompts[req.Operation] = append(s.prompts[req.Operation], req.Prompt)
	if err := s.errs[req.Operation]; err != nil {
		return nil, err
	}
	q := s.responses[req.Operation]
	if len(q) == 0 {
		return nil, fmt.Errorf("no scripted response for %s", req.Operation)
	}
	s.responses[req.Operation] = q[1:]
	return &llm.Response{
		Content:      q[0],
		Model:        "test-model",
		InputTokens:  100,
		OutputTokens: 50,
		Cost:         0.001,
	}, nil
}

func (s *scriptedLLM) callCount(operation string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == operation {
			n++
		}
	}
	return n
}

func (s *scriptedLLM) promptsFor(operation string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts[operation]...)
}

type fakeGit struct {
	branches  []string
	commits   []string
	pushes    int
	rollbacks int
	prNumber  int
	restore   func()
}

func (g *fakeGit) BranchName(sessionID, title string) string {
	return "fix/" + sessionID
}

func (g *fakeGit) CreateBranch(_ context.Context, branch string) (*workers.WorkerResult, error) {
	g.branches = append(g.branches, branch)
	return &workers.WorkerResult{Success: true}, nil
}

func (g *fakeGit) Commit(_ context.Context, message string) (*workers.WorkerResult, error) {
	g.commits = append(g.commits, message)
	return &workers.WorkerResult{
		Success: true,
		Data:    map[string]any{"commit_hash": fmt.Sprintf("c0ffee%02d", len(g.commits))},
	}, nil
}

func (g *fakeGit) Push(_ context.Context, branch string) (*workers.WorkerResult, error) {
	g.pushes++
	return &workers.WorkerResult{Success: true}, nil
}

func (g *fakeGit) OpenPR(_ context.Context, branch, title, body string) (*workers.WorkerResult, error) {
	return &workers.WorkerResult{
		Success: true,
		Data: map[string]any{
			"pr_number": g.prNumber,
			"pr_url":    fmt.Sprintf("https://github.com/acme/shop/pull/%d", g.prNumber),
		},
	}, nil
}

func (g *fakeGit) Rollback(_ context.Context, branch string) (*workers.WorkerResult, error) {
	g.rollbacks++
	if g.restore != nil {
		g.restore()
	}
	return &workers.WorkerResult{Success: true}, nil
}

type fakeCI struct {
	statuses  []*models.PRStatus
	logs      string
	lintFixes int
}

func (c *fakeCI) WaitForChecks(_ context.Context, prNumber int) (*models.PRStatus, error) {
	if len(c.statuses) == 0 {
		return &models.PRStatus{PRNumber: prNumber, Overall: models.CIStatusSuccess}, nil
	}
	next := c.statuses[0]
	c.statuses = c.statuses[1:]
	return next, nil
}

func (c *fakeCI) FetchFailedLogs(_ context.Context, branch string) (string, error) {
	return c.logs, nil
}

func (c *fakeCI) FixLintFailure(_ context.Context, f *models.CIFailure) (*workers.WorkerResult, error) {
	c.lintFixes++
	return &workers.WorkerResult{Success: true}, nil
}

type fakeTests struct {
	results       []*workers.WorkerResult
	testerReports []ingest.Report
	testerRuns    int
}

func (f *fakeTests) RunCoreTests(_ context.Context) (*workers.WorkerResult, error) {
	if len(f.results) == 0 {
		return &workers.WorkerResult{Success: true}, nil
	}
	next := f.results[0]
	f.results = f.results[1:]
	return next, nil
}

func (f *fakeTests) RunTester(_ context.Context, command []string, reporter string) ([]ingest.Report, error) {
	f.testerRuns++
	return f.testerReports, nil
}

type fakeDeploy struct {
	results   []*workers.WorkerResult
	deploys   int
	rollbacks int
}

func (d *fakeDeploy) Deploy(_ context.Context) (*workers.WorkerResult, error) {
	d.deploys++
	if len(d.results) == 0 {
		return &workers.WorkerResult{Success: true}, nil
	}
	next := d.results[0]
	d.results = d.results[1:]
	return next, nil
}

func (d *fakeDeploy) Rollback(_ context.Context) (*workers.WorkerResult, error) {
	d.rollbacks++
	return &workers.WorkerResult{Success: true}, nil
}

type fakeNotifier struct {
	mu        sync.Mutex
	statuses  []models.Status
	approvals []string
	summaries int
}

func (n *fakeNotifier) NotifyStatus(_ context.Context, session *models.FixSession) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, session.Status)
}

func (n *fakeNotifier) NotifyApprovalNeeded(_ context.Context, session *models.FixSession, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.approvals = append(n.approvals, reason)
}

func (n *fakeNotifier) NotifySummary(_ context.Context, session *models.FixSession) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.summaries++
}

type fixture struct {
	engine   *Engine
	store    *queue.Store
	learning *learning.Store
	llm      *scriptedLLM
	learnLLM *scriptedLLM
	git      *fakeGit
	ci       *fakeCI
	tests    *fakeTests
	deploy   *fakeDeploy
	notifier *fakeNotifier
	broker   *safety.ApprovalBroker
	cfg      *config.Config
	repoDir  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dbCfg := database.DefaultConfig()
	dbCfg.Path = ":memory:"
	dbCfg.MaxOpenConns = 1
	client, err := database.NewClient(context.Background(), dbCfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	repoDir := t.TempDir()
	appSource := "def greet():\n    return 'Helo'\n"
	require.NoError(t, os.WriteFile(filepath.Join(repoDir, "app.py"), []byte(appSource), 0o644))

	cfg := config.DefaultConfig()
	cfg.Repo.Path = repoDir
	cfg.Repo.KeyFiles = []string{"app.py"}
	cfg.Repo.TesterCommand = nil
	cfg.Dispatch.MaxFixRetries = 3
	cfg.Learning.RetryWait = 10 * time.Millisecond
	cfg.Safety.ApprovalTimeout = 200 * time.Millisecond
	cfg.CI.RerunDelay = time.Millisecond
	cfg.Deploy.Enabled = false

	f := &fixture{
		store:    queue.NewStore(client.DB()),
		learning: learning.NewStore(client.DB()),
		llm:      &scriptedLLM{},
		learnLLM: &scriptedLLM{},
		git: &fakeGit{prNumber: 42, restore: func() {
			_ = os.WriteFile(filepath.Join(repoDir, "app.py"), []byte(appSource), 0o644)
		}},
		ci:       &fakeCI{},
		tests:    &fakeTests{},
		deploy:   &fakeDeploy{},
		notifier: &fakeNotifier{},
		broker:   safety.NewApprovalBroker(),
		cfg:      cfg,
		repoDir:  repoDir,
	}
	f.engine = New(Deps{
		Config:   cfg,
		Store:    f.store,
		LLM:      f.llm,
		Editor:   editor.NewFileEditor(repoDir),
		Git:      f.git,
		CI:       f.ci,
		Tests:    f.tests,
		Deploy:   f.deploy,
		Learning: f.learning,
		Analyzer: learning.NewAnalyzer(f.learning, f.learnLLM),
		Gate:     safety.NewApprovalGate(cfg.Safety),
		Broker:   f.broker,
		Rate:     safety.NewRateLimiter(cfg.Safety.RateLimits),
		Notifier: f.notifier,
	})
	return f
}

func (f *fixture) newSession(t *testing.T, category models.Category) *models.FixSession {
	t.Helper()
	session := &models.FixSession{
		ID: "ab12cd34",
		Issue: models.Issue{
			ID:          "ab12cd34",
			Title:       "Greeting typo on home page",
			Description: "greet() in app.py returns 'Helo' instead of 'Hello'",
			Severity:    models.SeverityLow,
			Category:    category,
			Reporter:    "tester-alpha",
		},
		Status:    models.StatusAnalyzing,
		StartedAt: time.Now(),
	}
	require.NoError(t, f.store.Create(context.Background(), session))
	return session
}

const classifyLowUX = `{
  "issue_type": "bug",
  "can_auto_fix": true,
  "reason": "clear string typo with a known location",
  "suggested_action": "fix",
  "severity": "low",
  "category": "ux",
  "complexity": "simple"
}`

func classifyFixable(severity, category string) string {
	return fmt.Sprintf(`{
  "issue_type": "bug",
  "can_auto_fix": true,
  "reason": "concrete broken behavior",
  "suggested_action": "fix",
  "severity": %q,
  "category": %q,
  "complexity": "simple"
}`, severity, category)
}

const analyzeGreeting = `{
  "root_cause": "greet() returns a misspelled greeting string",
  "files_to_modify": ["app.py"],
  "suggested_approach": "correct the returned string"
}`

const strategyGreeting = `{
  "complexity": "simple",
  "description": "Correct the greeting string",
  "files_affected": ["app.py"],
  "steps": [
    {"action": "edit_file", "file": "app.py", "old_code": "return 'Helo'", "new_code": "return 'Hello'", "description": "fix typo"}
  ],
  "requires_approval": false,
  "rollback_plan": "git checkout"
}`

func (f *fixture) scriptHappyPath() {
	f.llm.enqueue("classify", classifyLowUX)
	f.llm.enqueue("analyze", analyzeGreeting)
	f.llm.enqueue("strategize", strategyGreeting)
}

func TestExecuteHappyPath(t *testing.T) {
	f := newFixture(t)
	f.scriptHappyPath()
	session := f.newSession(t, models.CategoryUX)

	result := f.engine.Execute(context.Background(), session)

	require.NoError(t, result.Error)
	assert.Equal(t, models.StatusCompleted, result.Status)
	assert.False(t, result.Stall)

	content, err := os.ReadFile(filepath.Join(f.repoDir, "app.py"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "return 'Hello'")

	assert.Equal(t, []string{"fix/ab12cd34"}, f.git.branches)
	assert.Equal(t, 1, f.git.pushes)
	assert.Zero(t, f.git.rollbacks)
	assert.Equal(t, 42, session.PRNumber)
	assert.Equal(t, "https://github.com/acme/shop/pull/42", session.PRURL)
	assert.Equal(t, "c0ffee01", session.CommitHash)
	require.NotNil(t, session.CIPassed)
	assert.True(t, *session.CIPassed)
	assert.NotNil(t, session.CompletedAt)
	assert.Positive(t, session.TokensUsed)

	assert.Contains(t, f.notifier.statuses, models.StatusStrategizing)
	assert.Contains(t, f.notifier.statuses, models.StatusImplementing)
	assert.Contains(t, f.notifier.statuses, models.StatusTesting)
	assert.Contains(t, f.notifier.statuses, models.StatusValidating)
	assert.Equal(t, 1, f.notifier.summaries)
}

func TestExecuteSensitiveCategoryAwaitsApproval(t *testing.T) {
	f := newFixture(t)
	f.llm.enqueue("classify", classifyFixable("low", "authentication"))
	f.llm.enqueue("analyze", analyzeGreeting)
	f.llm.enqueue("strategize", strategyGreeting)
	session := f.newSession(t, models.CategoryAuthentication)

	go func() {
		for {
			if len(f.broker.Pending()) > 0 {
				_ = f.broker.Resolve(session.ID, true, "alice")
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	result := f.engine.Execute(context.Background(), session)

	require.NoError(t, result.Error)
	assert.Equal(t, models.StatusCompleted, result.Status)
	require.Len(t, f.notifier.approvals, 1)
	assert.Contains(t, f.notifier.approvals[0], "authentication")
	assert.Contains(t, f.notifier.statuses, models.StatusAwaitingApproval)
}

func TestExecuteRejectionBlocksSession(t *testing.T) {
	f := newFixture(t)
	f.llm.enqueue("classify", classifyFixable("low", "security"))
	f.llm.enqueue("analyze", analyzeGreeting)
	f.llm.enqueue("strategize", strategyGreeting)
	session := f.newSession(t, models.CategorySecurity)

	go func() {
		for {
			if len(f.broker.Pending()) > 0 {
				_ = f.broker.Resolve(session.ID, false, "bob")
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	result := f.engine.Execute(context.Background(), session)

	assert.Equal(t, models.StatusBlocked, result.Status)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "rejected by bob")
	assert.Empty(t, f.git.branches)
}

func TestExecuteApprovalTimeoutBlocksSession(t *testing.T) {
	f := newFixture(t)
	f.cfg.Safety.ApprovalTimeout = 30 * time.Millisecond
	f.llm.enqueue("classify", classifyFixable("low", "security"))
	f.llm.enqueue("analyze", analyzeGreeting)
	f.llm.enqueue("strategize", strategyGreeting)
	session := f.newSession(t, models.CategorySecurity)

	result := f.engine.Execute(context.Background(), session)

	assert.Equal(t, models.StatusBlocked, result.Status)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "timed out")
}

func TestExecuteBlocksNonAutoFixableIssue(t *testing.T) {
	f := newFixture(t)
	f.llm.enqueue("classify", `{
	  "issue_type": "feature_request",
	  "can_auto_fix": false,
	  "reason": "asks for new dark mode support",
	  "suggested_action": "skip",
	  "severity": "low",
	  "category": "ux",
	  "complexity": "simple"
	}`)
	session := f.newSession(t, models.CategoryUX)

	result := f.engine.Execute(context.Background(), session)

	assert.Equal(t, models.StatusBlocked, result.Status)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "skipped (feature_request)")
	assert.Contains(t, result.Error.Error(), "dark mode")

	// The session never reaches analysis or the working copy, and the
	// refusal is not recorded as a failure to learn from.
	assert.Zero(t, f.llm.callCount("analyze"))
	assert.Empty(t, f.git.branches)
	failures, err := f.learning.UnanalyzedFailures(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Empty(t, failures)
	assert.Equal(t, 1, f.notifier.summaries)
}

func TestExecuteBlocksOnUnparseableClassification(t *testing.T) {
	f := newFixture(t)
	f.llm.enqueue("classify", "this report seems bad, maybe severity high?")
	session := f.newSession(t, models.CategoryUX)

	result := f.engine.Execute(context.Background(), session)

	assert.Equal(t, models.StatusBlocked, result.Status)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "could not be classified")
	assert.Empty(t, f.git.branches)
}

func TestExecuteApprovalAfterStrategyParseFailure(t *testing.T) {
	f := newFixture(t)
	f.llm.enqueue("classify", classifyFixable("low", "security"))
	f.llm.enqueue("analyze", analyzeGreeting)
	// The first strategize answer is prose; approval must still gate the
	// first strategy that parses.
	f.llm.enqueue("strategize", "I would simply fix the typo.", strategyGreeting)
	session := f.newSession(t, models.CategorySecurity)

	go func() {
		for {
			if len(f.broker.Pending()) > 0 {
				_ = f.broker.Resolve(session.ID, true, "alice")
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	result := f.engine.Execute(context.Background(), session)

	require.NoError(t, result.Error)
	assert.Equal(t, models.StatusCompleted, result.Status)
	assert.Equal(t, 2, f.llm.callCount("strategize"))
	require.Len(t, f.notifier.approvals, 1)
	assert.Contains(t, f.notifier.statuses, models.StatusAwaitingApproval)
}

func TestExecuteAcceptsAddTestStepWithoutWriting(t *testing.T) {
	f := newFixture(t)
	f.llm.enqueue("classify", classifyLowUX)
	f.llm.enqueue("analyze", analyzeGreeting)
	f.llm.enqueue("strategize", `{
	  "complexity": "simple",
	  "description": "Correct the greeting string",
	  "files_affected": ["app.py"],
	  "steps": [
	    {"action": "edit_file", "file": "app.py", "old_code": "return 'Helo'", "new_code": "return 'Hello'", "description": "fix typo"},
	    {"action": "add_test", "file": "tests/test_app.py", "code": "def test_greet():\n    assert greet() == 'Hello'", "description": "cover the greeting"}
	  ],
	  "requires_approval": false,
	  "rollback_plan": "git checkout"
	}`)
	session := f.newSession(t, models.CategoryUX)

	result := f.engine.Execute(context.Background(), session)

	require.NoError(t, result.Error)
	assert.Equal(t, models.StatusCompleted, result.Status)
	assert.NoFileExists(t, filepath.Join(f.repoDir, "tests", "test_app.py"))
	assert.Equal(t, []string{"app.py"}, session.FilesModified)
}

func TestExecuteRetriesAfterTestFailure(t *testing.T) {
	f := newFixture(t)
	f.cfg.Learning.RetryWait = 250 * time.Millisecond
	f.llm.enqueue("classify", classifyLowUX)
	f.llm.enqueue("analyze", analyzeGreeting)
	f.llm.enqueue("strategize", strategyGreeting, strategyGreeting)
	f.learnLLM.enqueue("learn", `{
	  "failure_type": "test_regression",
	  "root_cause": "string change broke an assertion",
	  "lesson": "update tests together with string changes",
	  "prevention_rule": "Check test assertions referencing edited strings"
	}`)
	f.tests.results = []*workers.WorkerResult{
		{Success: false, Message: "1 test failed: test_greet"},
		{Success: true},
	}
	session := f.newSession(t, models.CategoryUX)

	result := f.engine.Execute(context.Background(), session)

	require.NoError(t, result.Error)
	assert.Equal(t, models.StatusCompleted, result.Status)
	assert.Equal(t, 1, f.git.rollbacks)
	assert.Equal(t, 2, f.llm.callCount("strategize"))

	// The failure produced a lesson that guided the second attempt.
	assert.NotEmpty(t, session.AppliedLessonIDs)
	prompts := f.llm.promptsFor("strategize")
	require.Len(t, prompts, 2)
	assert.NotContains(t, prompts[0], "Check test assertions referencing edited strings")
	assert.Contains(t, prompts[1], "Check test assertions referencing edited strings")

	failures, err := f.learning.UnanalyzedFailures(context.Background(), session.ID)
	require.NoError(t, err)
	// The failure may already be analyzed by the detached goroutine; either
	// way exactly one row was recorded.
	if len(failures) == 1 {
		assert.Equal(t, models.StageTest, failures[0].Stage)
	}
}

func TestExecuteExhaustsRetries(t *testing.T) {
	f := newFixture(t)
	f.cfg.Dispatch.MaxFixRetries = 2
	f.llm.enqueue("classify", classifyLowUX)
	f.llm.enqueue("analyze", analyzeGreeting)
	f.llm.enqueue("strategize", strategyGreeting, strategyGreeting)
	f.tests.results = []*workers.WorkerResult{
		{Success: false, Message: "still failing"},
		{Success: false, Message: "still failing"},
	}
	session := f.newSession(t, models.CategoryUX)

	result := f.engine.Execute(context.Background(), session)

	assert.Equal(t, models.StatusFailed, result.Status)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "no working fix after 2 attempts")
	assert.Equal(t, 2, f.git.rollbacks)
}

func TestExecuteRepairsCIThenCompletes(t *testing.T) {
	f := newFixture(t)
	f.scriptHappyPath()
	f.ci.statuses = []*models.PRStatus{
		{PRNumber: 42, Overall: models.CIStatusFailure, Checks: []models.CICheck{
			{Name: "lint", Status: models.CheckStateCompleted, Conclusion: models.CheckConclusionFailure},
		}},
		{PRNumber: 42, Overall: models.CIStatusSuccess},
	}
	f.ci.logs = "would reformat app.py\nOh no! 1 file would be reformatted."
	session := f.newSession(t, models.CategoryUX)

	result := f.engine.Execute(context.Background(), session)

	require.NoError(t, result.Error)
	assert.Equal(t, models.StatusCompleted, result.Status)
	assert.Equal(t, 1, f.ci.lintFixes)
	assert.Equal(t, 1, session.CIAttempts)
	require.NotNil(t, session.CIPassed)
	assert.True(t, *session.CIPassed)
	// Initial commit plus the repair commit.
	assert.Len(t, f.git.commits, 2)
	assert.Equal(t, 2, f.git.pushes)
}

func TestExecuteStallDuringClassification(t *testing.T) {
	f := newFixture(t)
	f.llm.failWith("classify", llm.ErrRateLimited)
	session := f.newSession(t, models.CategoryUX)

	result := f.engine.Execute(context.Background(), session)

	assert.True(t, result.Stall)
	assert.Empty(t, f.git.branches)
	assert.Zero(t, f.notifier.summaries)
}

func TestExecuteStallDuringAnalysis(t *testing.T) {
	f := newFixture(t)
	f.llm.enqueue("classify", classifyLowUX)
	f.llm.failWith("analyze", llm.ErrBudgetExhausted)
	session := f.newSession(t, models.CategoryUX)

	result := f.engine.Execute(context.Background(), session)

	assert.True(t, result.Stall)
	assert.Empty(t, f.git.branches)
	assert.Zero(t, f.notifier.summaries)
}

func TestExecuteDeployFailureRollsBackBuild(t *testing.T) {
	f := newFixture(t)
	f.scriptHappyPath()
	f.cfg.Deploy.Enabled = true
	f.deploy.results = []*workers.WorkerResult{
		{Success: false, Message: "deployed but health check failed: 502"},
	}
	session := f.newSession(t, models.CategoryUX)

	result := f.engine.Execute(context.Background(), session)

	assert.Equal(t, models.StatusFailed, result.Status)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "health check failed")
	// The working copy returns to the default branch and the previous
	// build is restored.
	assert.Equal(t, 1, f.git.rollbacks)
	assert.Equal(t, 1, f.deploy.rollbacks)

	failures, err := f.learning.UnanalyzedFailures(context.Background(), session.ID)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, models.StageDeploy, failures[0].Stage)
}

func TestExecuteValidationFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.scriptHappyPath()
	f.cfg.Repo.TesterCommand = []string{"python", "tester.py"}
	f.tests.testerReports = []ingest.Report{{
		Title:       "Greeting typo on home page",
		Description: "the greeting is still misspelled",
		Reporter:    "tester-alpha",
	}}
	session := f.newSession(t, models.CategoryUX)

	result := f.engine.Execute(context.Background(), session)

	assert.Equal(t, models.StatusRolledBack, result.Status)
	require.Error(t, result.Error)
	assert.Equal(t, 1, f.tests.testerRuns)
	assert.Equal(t, 1, f.git.rollbacks)
	require.NotNil(t, session.ValidationPassed)
	assert.False(t, *session.ValidationPassed)
}

func TestExecuteValidationPassesWithFreshReports(t *testing.T) {
	f := newFixture(t)
	f.scriptHappyPath()
	f.cfg.Repo.TesterCommand = []string{"python", "tester.py"}
	f.tests.testerReports = []ingest.Report{{
		Title:       "Checkout totals rounded incorrectly",
		Description: "cart total drops cents on the confirmation screen",
	}}
	session := f.newSession(t, models.CategoryUX)

	result := f.engine.Execute(context.Background(), session)

	require.NoError(t, result.Error)
	assert.Equal(t, models.StatusCompleted, result.Status)
	require.NotNil(t, session.ValidationPassed)
	assert.True(t, *session.ValidationPassed)
}
