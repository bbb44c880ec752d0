package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const defaultUsageDays = 7

// Usage handles GET /api/usage. The days query parameter bounds the
// history window.
func (s *Server) Usage(c *gin.Context) {
	days := defaultUsageDays
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days must be a positive integer"})
			return
		}
		days = n
	}

	stats, err := s.cost.Stats(c.Request.Context(), days)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Limits handles GET /api/limits, reporting the sliding-window state of
// every rate-limited operation.
func (s *Server) Limits(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"limits": s.rate.Stats()})
}
