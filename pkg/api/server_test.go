package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/remedy/pkg/config"
	"github.com/codeready-toolchain/remedy/pkg/database"
	"github.com/codeready-toolchain/remedy/pkg/learning"
	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/queue"
	"github.com/codeready-toolchain/remedy/pkg/safety"
)

type testServer struct {
	router *gin.Engine
	store  *queue.Store
	broker *safety.ApprovalBroker
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dbCfg := database.DefaultConfig()
	dbCfg.Path = ":memory:"
	dbCfg.MaxOpenConns = 1
	client, err := database.NewClient(context.Background(), dbCfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	cfg := config.DefaultConfig()
	store := queue.NewStore(client.DB())
	// The pool is deliberately never started: handler tests exercise the
	// store paths, not session execution.
	pool := queue.NewWorkerPool("api-test", store, cfg.Dispatch, nil)
	broker := safety.NewApprovalBroker()

	server := NewServer(cfg,
		queue.NewDispatcher(store, pool),
		broker,
		safety.NewCostTracker(client.DB(), cfg.Safety.DailyCostLimit, cfg.LLM.Pricing, nil),
		safety.NewRateLimiter(cfg.Safety.RateLimits),
		learning.NewStore(client.DB()),
		client.DB(),
	)
	return &testServer{router: server.Routes(), store: store, broker: broker}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) submitIssue(t *testing.T, title string) string {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/issues", gin.H{
		"title":    title,
		"severity": "low",
		"category": "ux",
		"reporter": "tester-alpha",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var session models.FixSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	require.NotEmpty(t, session.ID)
	return session.ID
}

func TestCreateIssue(t *testing.T) {
	ts := newTestServer(t)

	id := ts.submitIssue(t, "Login button mislabeled")

	session, err := ts.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, session.Status)
	assert.Equal(t, "Login button mislabeled", session.Issue.Title)
}

func TestCreateIssueRejectsMissingTitle(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/issues", gin.H{"severity": "low"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "title is required")
}

func TestGetSession(t *testing.T) {
	ts := newTestServer(t)
	id := ts.submitIssue(t, "Slow search")

	rec := ts.do(t, http.MethodGet, "/api/sessions/"+id, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Slow search")

	rec = ts.do(t, http.MethodGet, "/api/sessions/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListSessionsWithFilter(t *testing.T) {
	ts := newTestServer(t)
	ts.submitIssue(t, "Issue one")
	ts.submitIssue(t, "Issue two")

	rec := ts.do(t, http.MethodGet, "/api/sessions?status=queued", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)

	rec = ts.do(t, http.MethodGet, "/api/sessions?limit=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/queue", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var depth struct {
		Depth int `json:"depth"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &depth))
	assert.Equal(t, 2, depth.Depth)
}

func TestCancelQueuedSession(t *testing.T) {
	ts := newTestServer(t)
	id := ts.submitIssue(t, "Cart total wrong")

	rec := ts.do(t, http.MethodPost, "/api/sessions/"+id+"/cancel", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	session, err := ts.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusBlocked, session.Status)

	// Already terminal, a second cancel conflicts.
	rec = ts.do(t, http.MethodPost, "/api/sessions/"+id+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRetrySession(t *testing.T) {
	ts := newTestServer(t)
	id := ts.submitIssue(t, "Broken logout")

	session, err := ts.store.Get(context.Background(), id)
	require.NoError(t, err)
	session.Status = models.StatusFailed
	session.ErrorMessage = "no working fix"
	require.NoError(t, ts.store.Save(context.Background(), session))

	rec := ts.do(t, http.MethodPost, "/api/sessions/"+id+"/retry", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := ts.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, got.Status)
	assert.Empty(t, got.ErrorMessage)

	// A queued session is not retryable.
	rec = ts.do(t, http.MethodPost, "/api/sessions/"+id+"/retry", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestResolveApproval(t *testing.T) {
	ts := newTestServer(t)

	verdicts := make(chan safety.Verdict, 1)
	go func() {
		v, _ := ts.broker.Await(context.Background(), "sess1", 5*time.Second)
		verdicts <- v
	}()
	require.Eventually(t, func() bool {
		return len(ts.broker.Pending()) == 1
	}, time.Second, 5*time.Millisecond)

	rec := ts.do(t, http.MethodPost, "/api/sessions/sess1/approval",
		gin.H{"approved": true, "by": "alice"})
	require.Equal(t, http.StatusOK, rec.Code)

	v := <-verdicts
	assert.True(t, v.Approved)
	assert.Equal(t, "alice", v.By)
}

func TestResolveApprovalWithoutPending(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/sessions/ghost/approval",
		gin.H{"approved": false, "by": "bob"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPauseAndResume(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/control/pause", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/control/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"paused":true`)

	rec = ts.do(t, http.MethodPost, "/api/control/resume", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLessonEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/lessons/seed", gin.H{
		"failure_type":    "anchor_mismatch",
		"root_cause":      "edits against stale file content",
		"lesson":          "refresh file context before strategizing",
		"prevention_rule": "Copy old_code from the current file content",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/lessons", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "anchor_mismatch")

	rec = ts.do(t, http.MethodPost, "/api/lessons/prune", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/lessons/stats", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUsageAndLimits(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/usage", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "daily_limit")

	rec = ts.do(t, http.MethodGet, "/api/usage?days=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/limits", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "llm_query")
}

func TestHealthReportsStoppedPool(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"unhealthy"`)
}
