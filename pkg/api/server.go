// Package api exposes the HTTP control surface: issue intake, session
// inspection and control, approvals, lessons, usage accounting, and
// health.
package api

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codeready-toolchain/remedy/pkg/config"
	"github.com/codeready-toolchain/remedy/pkg/learning"
	"github.com/codeready-toolchain/remedy/pkg/queue"
	"github.com/codeready-toolchain/remedy/pkg/safety"
)

// Server holds the handler dependencies.
type Server struct {
	cfg        *config.Config
	dispatcher *queue.Dispatcher
	broker     *safety.ApprovalBroker
	cost       *safety.CostTracker
	rate       *safety.RateLimiter
	lessons    *learning.Store
	db         *sql.DB
}

// NewServer creates the API server.
func NewServer(cfg *config.Config, dispatcher *queue.Dispatcher, broker *safety.ApprovalBroker,
	cost *safety.CostTracker, rate *safety.RateLimiter, lessons *learning.Store, db *sql.DB) *Server {
	return &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		broker:     broker,
		cost:       cost,
		rate:       rate,
		lessons:    lessons,
		db:         db,
	}
}

// Routes builds the gin engine with all endpoints registered.
func (s *Server) Routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")
	{
		api.POST("/issues", s.CreateIssue)

		api.GET("/sessions", s.ListSessions)
		api.GET("/queue", s.QueueStatus)
		api.GET("/sessions/:id", s.GetSession)
		api.POST("/sessions/:id/cancel", s.CancelSession)
		api.POST("/sessions/:id/retry", s.RetrySession)
		api.POST("/sessions/:id/approval", s.ResolveApproval)
		api.GET("/pr/:number", s.GetSessionByPR)

		api.POST("/control/pause", s.Pause)
		api.POST("/control/resume", s.Resume)
		api.GET("/control/status", s.ControlStatus)
		api.GET("/status", s.ControlStatus)

		api.GET("/lessons", s.ListLessons)
		api.POST("/lessons", s.SeedLesson)
		api.POST("/lessons/seed", s.SeedLesson)
		api.POST("/lessons/prune", s.PruneLessons)
		api.GET("/lessons/stats", s.LearningStats)

		api.GET("/usage", s.Usage)
		api.GET("/limits", s.Limits)
	}

	r.GET("/healthz", s.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// respondError maps store errors to HTTP responses. Not-found maps to
// 404, state conflicts reported by the dispatcher to 409.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, queue.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, safety.ErrNoPendingApproval):
		c.JSON(http.StatusNotFound, gin.H{"error": "no pending approval for session"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
