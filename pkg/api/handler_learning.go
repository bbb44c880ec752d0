package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ListLessons handles GET /api/lessons. Pass include_inactive=true to
// include pruned lessons.
func (s *Server) ListLessons(c *gin.Context) {
	includeInactive := c.Query("include_inactive") == "true"
	lessons, err := s.lessons.ListLessons(c.Request.Context(), includeInactive)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lessons": lessons, "count": len(lessons)})
}

// SeedLessonRequest is the body for manually seeding a lesson.
type SeedLessonRequest struct {
	FailureType    string `json:"failure_type" binding:"required"`
	RootCause      string `json:"root_cause" binding:"required"`
	Lesson         string `json:"lesson" binding:"required"`
	PreventionRule string `json:"prevention_rule" binding:"required"`
}

// SeedLesson handles POST /api/lessons/seed.
func (s *Server) SeedLesson(c *gin.Context) {
	var req SeedLessonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := s.lessons.SeedLesson(c.Request.Context(),
		req.FailureType, req.RootCause, req.Lesson, req.PreventionRule)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"lesson_id": id})
}

// PruneLessons handles POST /api/lessons/prune, deactivating lessons
// whose tracked success rate fell below the configured floor.
func (s *Server) PruneLessons(c *gin.Context) {
	pruned, err := s.lessons.Prune(c.Request.Context(),
		s.cfg.Learning.PruneMinApplications, s.cfg.Learning.PruneMinSuccessRate)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pruned": pruned, "count": len(pruned)})
}

// LearningStats handles GET /api/lessons/stats.
func (s *Server) LearningStats(c *gin.Context) {
	stats, err := s.lessons.GetStats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
