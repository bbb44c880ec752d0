package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/remedy/pkg/ingest"
	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/queue"
)

const defaultListLimit = 50

// CreateIssue handles POST /api/issues. The body is a raw tester
// report; malformed severities and categories are coerced, missing
// fields inferred.
func (s *Server) CreateIssue(c *gin.Context) {
	var report ingest.Report
	if err := c.ShouldBindJSON(&report); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if report.Title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title is required"})
		return
	}

	session, err := s.dispatcher.Submit(c.Request.Context(), report)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, session)
}

// ListSessions handles GET /api/sessions. Optional query parameters:
// status filters, limit caps the page size.
func (s *Server) ListSessions(c *gin.Context) {
	status := models.Status(c.Query("status"))

	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	sessions, err := s.dispatcher.List(c.Request.Context(), status, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "count": len(sessions)})
}

// GetSession handles GET /api/sessions/:id.
func (s *Server) GetSession(c *gin.Context) {
	session, err := s.dispatcher.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// GetSessionByPR handles GET /api/pr/:number, resolving a pull request
// back to the session that opened it.
func (s *Server) GetSessionByPR(c *gin.Context) {
	number, err := strconv.Atoi(c.Param("number"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pull request number"})
		return
	}
	session, err := s.dispatcher.FindByPR(c.Request.Context(), number)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// CancelSession handles POST /api/sessions/:id/cancel.
func (s *Server) CancelSession(c *gin.Context) {
	id := c.Param("id")
	if err := s.dispatcher.Cancel(c.Request.Context(), id); err != nil {
		if errors.Is(err, queue.ErrSessionNotFound) {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled", "session_id": id})
}

// RetrySession handles POST /api/sessions/:id/retry.
func (s *Server) RetrySession(c *gin.Context) {
	session, err := s.dispatcher.Retry(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, queue.ErrSessionNotFound) {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, session)
}

// ApprovalRequest is the body for resolving an approval.
type ApprovalRequest struct {
	Approved *bool  `json:"approved" binding:"required"`
	By       string `json:"by" binding:"required"`
}

// ResolveApproval handles POST /api/sessions/:id/approval, delivering a
// human verdict to a session waiting on one.
func (s *Server) ResolveApproval(c *gin.Context) {
	var req ApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := c.Param("id")
	if err := s.broker.Resolve(id, *req.Approved, req.By); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": id, "approved": *req.Approved, "by": req.By})
}
