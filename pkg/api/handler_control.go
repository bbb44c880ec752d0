package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/remedy/pkg/database"
	"github.com/codeready-toolchain/remedy/pkg/models"
)

// Pause handles POST /api/control/pause. In-flight sessions finish;
// queued sessions stay queued until resume.
func (s *Server) Pause(c *gin.Context) {
	s.dispatcher.Pause()
	c.JSON(http.StatusOK, gin.H{"status": "paused"})
}

// Resume handles POST /api/control/resume.
func (s *Server) Resume(c *gin.Context) {
	s.dispatcher.Resume()
	c.JSON(http.StatusOK, gin.H{"status": "running"})
}

// ControlStatus handles GET /api/control/status and GET /api/status.
func (s *Server) ControlStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.dispatcher.Health())
}

// QueueStatus handles GET /api/queue: queue depth plus the sessions
// currently waiting.
func (s *Server) QueueStatus(c *gin.Context) {
	queued, err := s.dispatcher.List(c.Request.Context(), models.StatusQueued, defaultListLimit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"depth":    len(queued),
		"sessions": queued,
	})
}

// Health handles GET /healthz.
func (s *Server) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbHealth, err := database.Health(ctx, s.db)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": dbHealth,
			"error":    err.Error(),
		})
		return
	}

	pool := s.dispatcher.Health()
	status := "healthy"
	code := http.StatusOK
	if !pool.IsHealthy {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":   status,
		"database": dbHealth,
		"pool":     pool,
	})
}
