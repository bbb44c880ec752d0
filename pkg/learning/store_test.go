package learning

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/remedy/pkg/database"
	"github.com/codeready-toolchain/remedy/pkg/llm"
	"github.com/codeready-toolchain/remedy/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := database.DefaultConfig()
	cfg.Path = ":memory:"
	cfg.MaxOpenConns = 1
	client, err := database.NewClient(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client.DB())
}

func sampleFailure(sessionID string) *models.Failure {
	return &models.Failure{
		SessionID:     sessionID,
		Stage:         models.StageTest,
		ErrorMessage:  "2 tests failed after edit",
		IssueCategory: models.CategoryUX,
		IssueTitle:    "Login button mislabeled",
		FilesInvolved: []string{"templates/login.html", "app.py"},
		Strategy:      "relabel button",
	}
}

func TestRecordAndFetchFailures(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.RecordFailure(ctx, sampleFailure("sess1"))
	require.NoError(t, err)
	assert.Positive(t, id)

	failures, err := store.UnanalyzedFailures(ctx, "sess1")
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, models.StageTest, failures[0].Stage)
	assert.Equal(t, []string{"templates/login.html", "app.py"}, failures[0].FilesInvolved)
	assert.False(t, failures[0].Analyzed)

	require.NoError(t, store.MarkAnalyzed(ctx, id))
	failures, err = store.UnanalyzedFailures(ctx, "sess1")
	require.NoError(t, err)
	assert.Empty(t, failures)
}

func TestCreateLessonDedup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id1, created, err := store.CreateLesson(ctx, &models.Lesson{
		FailureType:    "test_regression",
		RootCause:      "edit removed an assertion target",
		Lesson:         "check test expectations before editing templates",
		PreventionRule: "Run the template's tests before and after the edit",
	})
	require.NoError(t, err)
	assert.True(t, created)

	id2, created, err := store.CreateLesson(ctx, &models.Lesson{
		FailureType:    "different_type",
		RootCause:      "different cause",
		Lesson:         "different lesson",
		PreventionRule: "Run the template's tests before and after the edit",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id1, id2)

	lessons, err := store.ListLessons(ctx, false)
	require.NoError(t, err)
	assert.Len(t, lessons, 1)
}

func TestRelevantLessonsOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Scored winner: 3/4 success.
	winID, _, err := store.CreateLesson(ctx, &models.Lesson{
		FailureType: "a", RootCause: "a", Lesson: "a", PreventionRule: "rule-a",
	})
	require.NoError(t, err)
	// Unscored: neutral 0.5.
	midID, _, err := store.CreateLesson(ctx, &models.Lesson{
		FailureType: "b", RootCause: "b", Lesson: "b", PreventionRule: "rule-b",
	})
	require.NoError(t, err)
	// Scored loser: 0/2 success.
	loseID, _, err := store.CreateLesson(ctx, &models.Lesson{
		FailureType: "c", RootCause: "c", Lesson: "c", PreventionRule: "rule-c",
	})
	require.NoError(t, err)

	score := func(lessonID int64, session string, success bool) {
		require.NoError(t, store.RecordApplication(ctx, lessonID, session))
		require.NoError(t, store.RecordOutcome(ctx, session, success))
	}
	score(winID, "w1", true)
	score(winID, "w2", true)
	score(winID, "w3", true)
	score(winID, "w4", false)
	score(loseID, "l1", false)
	score(loseID, "l2", false)

	lessons, err := store.RelevantLessons(ctx, models.CategoryUX, 5)
	require.NoError(t, err)
	require.Len(t, lessons, 3)
	assert.Equal(t, winID, lessons[0].ID)
	assert.Equal(t, midID, lessons[1].ID)
	assert.Equal(t, loseID, lessons[2].ID)

	lessons, err = store.RelevantLessons(ctx, models.CategoryUX, 2)
	require.NoError(t, err)
	assert.Len(t, lessons, 2)
}

func TestRecordOutcomeScoresOnlyPendingApplications(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, _, err := store.CreateLesson(ctx, &models.Lesson{
		FailureType: "a", RootCause: "a", Lesson: "a", PreventionRule: "rule-a",
	})
	require.NoError(t, err)

	require.NoError(t, store.RecordApplication(ctx, id, "sess1"))
	require.NoError(t, store.RecordOutcome(ctx, "sess1", true))

	// A second outcome for the same session finds nothing pending.
	require.NoError(t, store.RecordOutcome(ctx, "sess1", false))

	lessons, err := store.ListLessons(ctx, false)
	require.NoError(t, err)
	require.Len(t, lessons, 1)
	assert.Equal(t, 1, lessons[0].TimesApplied)
	assert.Equal(t, 1, lessons[0].SuccessCount)
	assert.Zero(t, lessons[0].FailureCount)
	assert.InDelta(t, 1.0, lessons[0].SuccessRate(), 1e-9)
}

func TestPruneDeactivatesIneffectiveLessons(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	badID, _, err := store.CreateLesson(ctx, &models.Lesson{
		FailureType: "bad", RootCause: "bad", Lesson: "bad", PreventionRule: "rule-bad",
	})
	require.NoError(t, err)
	freshID, _, err := store.CreateLesson(ctx, &models.Lesson{
		FailureType: "fresh", RootCause: "fresh", Lesson: "fresh", PreventionRule: "rule-fresh",
	})
	require.NoError(t, err)

	// Five failing applications push the bad lesson under the bar.
	for i := 0; i < 5; i++ {
		session := string(rune('a' + i))
		require.NoError(t, store.RecordApplication(ctx, badID, session))
		require.NoError(t, store.RecordOutcome(ctx, session, false))
	}

	pruned, err := store.Prune(ctx, 5, 0.3)
	require.NoError(t, err)
	assert.Equal(t, []int64{badID}, pruned)

	active, err := store.ListLessons(ctx, false)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, freshID, active[0].ID)

	all, err := store.ListLessons(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestGetStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.RecordFailure(ctx, sampleFailure("sess1"))
	require.NoError(t, err)
	f2 := sampleFailure("sess1")
	f2.Stage = models.StageImplement
	id2, err := store.RecordFailure(ctx, f2)
	require.NoError(t, err)
	require.NoError(t, store.MarkAnalyzed(ctx, id2))

	lid, _, err := store.CreateLesson(ctx, &models.Lesson{
		FailureType: "a", RootCause: "a", Lesson: "a", PreventionRule: "rule-a",
	})
	require.NoError(t, err)
	require.NoError(t, store.RecordApplication(ctx, lid, "sess2"))
	require.NoError(t, store.RecordOutcome(ctx, "sess2", true))

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalFailures)
	assert.Equal(t, 1, stats.UnanalyzedFailures)
	assert.Equal(t, 1, stats.ActiveLessons)
	assert.Zero(t, stats.InactiveLessons)
	assert.Equal(t, 1, stats.TotalApplications)
	assert.InDelta(t, 1.0, stats.OverallSuccessRate, 1e-9)
	assert.Equal(t, 1, stats.FailuresByStage[models.StageTest])
	assert.Equal(t, 1, stats.FailuresByStage[models.StageImplement])
}

type scriptedLLM struct {
	responses []string
	calls     int
}

func (s *scriptedLLM) Ask(ctx context.Context, req llm.Request) (*llm.Response, error) {
	content := s.responses[s.calls%len(s.responses)]
	s.calls++
	return &llm.Response{Content: content, Model: "test-model"}, nil
}

func TestAnalyzeSessionCreatesLessons(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.RecordFailure(ctx, sampleFailure("sess1"))
	require.NoError(t, err)
	_, err = store.RecordFailure(ctx, sampleFailure("sess1"))
	require.NoError(t, err)

	client := &scriptedLLM{responses: []string{
		"```json\n{\"failure_type\": \"test_regression\", \"root_cause\": \"assertion target removed\", \"lesson\": \"check tests first\", \"prevention_rule\": \"Inspect test assertions before editing templates\"}\n```",
	}}
	analyzer := NewAnalyzer(store, client)

	created, err := analyzer.AnalyzeSession(ctx, "sess1")
	require.NoError(t, err)
	// Both failures yield the same prevention rule, dedup keeps one.
	assert.Equal(t, 1, created)
	assert.Equal(t, 2, client.calls)

	pending, err := store.UnanalyzedFailures(ctx, "sess1")
	require.NoError(t, err)
	assert.Empty(t, pending)

	lessons, err := store.ListLessons(ctx, false)
	require.NoError(t, err)
	require.Len(t, lessons, 1)
	assert.Equal(t, "Inspect test assertions before editing templates", lessons[0].PreventionRule)
}

func TestAnalyzeSessionSkipsUnparseable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.RecordFailure(ctx, sampleFailure("sess1"))
	require.NoError(t, err)

	client := &scriptedLLM{responses: []string{"I could not determine a lesson here."}}
	created, err := NewAnalyzer(store, client).AnalyzeSession(ctx, "sess1")
	require.NoError(t, err)
	assert.Zero(t, created)

	// The failure stays unanalyzed for a later pass.
	pending, err := store.UnanalyzedFailures(ctx, "sess1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ID)
}

func TestFormatLessons(t *testing.T) {
	assert.Empty(t, FormatLessons(nil))

	out := FormatLessons([]models.Lesson{
		{PreventionRule: "Rule one"},
		{PreventionRule: "Rule two"},
	})
	assert.Contains(t, out, "- Rule one\n")
	assert.Contains(t, out, "- Rule two\n")
}
