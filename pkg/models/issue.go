// Package models contains the core domain types shared across the
// orchestrator: issues, fix sessions, strategies, learning records, and
// CI result shapes.
package models

import "time"

// Severity of a reported issue.
type Severity string

// Severity constants.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Category of a reported issue.
type Category string

// Category constants.
const (
	CategoryUX             Category = "ux"
	CategoryPerformance    Category = "performance"
	CategoryBug            Category = "bug"
	CategorySecurity       Category = "security"
	CategoryAccessibility  Category = "accessibility"
	CategoryAuthentication Category = "authentication"
	CategoryDatabase       Category = "database"
	CategoryOther          Category = "other"
)

// ValidSeverity reports whether s is a known severity value.
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// ValidCategory reports whether c is a known category value.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryUX, CategoryPerformance, CategoryBug, CategorySecurity,
		CategoryAccessibility, CategoryAuthentication, CategoryDatabase, CategoryOther:
		return true
	}
	return false
}

// Issue is a normalized bug report from a tester persona.
// Issues are immutable once accepted by the dispatcher.
type Issue struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Severity    Severity  `json:"severity"`
	Category    Category  `json:"category"`
	Reporter    string    `json:"reporter"`
	Steps       []string  `json:"steps_to_reproduce"`
	Expected    string    `json:"expected,omitempty"`
	Actual      string    `json:"actual,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
