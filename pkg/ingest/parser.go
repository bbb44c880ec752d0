// Package ingest normalizes loosely shaped bug reports from tester
// personas into Issue values and extracts source-file references from
// free text.
package ingest

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

// Report is the loose inbound shape accepted from issue sources. Only
// Title and Description are expected to be present; everything else is
// coerced to defaults.
type Report struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Severity    string   `json:"severity"`
	Category    string   `json:"category"`
	Reporter    string   `json:"reporter"`
	Steps       []string `json:"steps,omitempty"`
	StepsRaw    string   `json:"steps_raw,omitempty"`
	Expected    string   `json:"expected,omitempty"`
	Actual      string   `json:"actual,omitempty"`
}

// ParseReport normalizes a raw report into an Issue. Unknown severities
// coerce to medium and unknown categories to bug; when no category is
// supplied it is inferred from the report text.
func ParseReport(r Report) models.Issue {
	title := strings.TrimSpace(r.Title)
	if title == "" {
		title = "Unknown Issue"
	}

	reporter := strings.TrimSpace(r.Reporter)
	if reporter == "" {
		reporter = "unknown"
	}

	severity := models.Severity(strings.ToLower(strings.TrimSpace(r.Severity)))
	if !models.ValidSeverity(severity) {
		severity = models.SeverityMedium
	}

	var category models.Category
	if r.Category != "" {
		category = models.Category(strings.ToLower(strings.TrimSpace(r.Category)))
		if !models.ValidCategory(category) {
			category = models.CategoryBug
		}
	} else {
		category = InferCategory(title, r.Description)
	}

	steps := r.Steps
	if len(steps) == 0 {
		steps = ParseSteps(r.StepsRaw)
	} else {
		steps = normalizeSteps(steps)
	}

	return models.Issue{
		ID:          uuid.NewString()[:8],
		Title:       title,
		Description: r.Description,
		Severity:    severity,
		Category:    category,
		Reporter:    reporter,
		Steps:       steps,
		Expected:    r.Expected,
		Actual:      r.Actual,
		CreatedAt:   time.Now(),
	}
}

var (
	numberedPrefix = regexp.MustCompile(`^\d+\.\s*`)
	bulletPrefix   = regexp.MustCompile(`^[-*]\s*`)
)

// ParseSteps splits a newline-delimited or numbered block into an
// ordered step list, stripping leading numbers and bullets.
func ParseSteps(raw string) []string {
	if raw == "" {
		return nil
	}
	var steps []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		line = numberedPrefix.ReplaceAllString(line, "")
		line = bulletPrefix.ReplaceAllString(line, "")
		if line != "" {
			steps = append(steps, line)
		}
	}
	return steps
}

func normalizeSteps(steps []string) []string {
	var out []string
	for _, s := range steps {
		s = strings.TrimSpace(s)
		s = numberedPrefix.ReplaceAllString(s, "")
		s = bulletPrefix.ReplaceAllString(s, "")
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

var categoryKeywords = []struct {
	category models.Category
	keywords []string
}{
	{models.CategorySecurity, []string{
		"security", "auth", "password", "token", "xss", "injection",
		"csrf", "bypass", "unauthorized", "permission", "access denied",
	}},
	{models.CategoryPerformance, []string{
		"slow", "timeout", "loading", "performance", "speed", "latency",
		"delay", "hang", "freeze",
	}},
	{models.CategoryAccessibility, []string{
		"accessibility", "a11y", "screen reader", "keyboard", "contrast",
		"aria", "focus",
	}},
	{models.CategoryUX, []string{
		"confusing", "unclear", "hard to find", "navigation", "layout",
		"design", "ui", "ux", "user experience",
	}},
}

// InferCategory classifies an issue from its title and description text.
// Security keywords win over performance, accessibility, and UX; the
// fallback is bug.
func InferCategory(title, description string) models.Category {
	text := strings.ToLower(title + " " + description)
	for _, ck := range categoryKeywords {
		for _, kw := range ck.keywords {
			if strings.Contains(text, kw) {
				return ck.category
			}
		}
	}
	return models.CategoryBug
}

// FilePatterns are the path regexes used to pull file references out of
// issue text. Ordered; results are deduplicated.
var FilePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b([a-zA-Z_][a-zA-Z0-9_]*\.py)\b`),
	regexp.MustCompile(`\b(templates/[a-zA-Z0-9_/]+\.html)\b`),
	regexp.MustCompile(`\b(static/[a-zA-Z0-9_/]+\.[a-z]+)\b`),
	regexp.MustCompile(`(/api/[a-zA-Z0-9_/]+)`),
}

// ExtractFileReferences returns the unique file and endpoint references
// found in text, sorted for deterministic output.
func ExtractFileReferences(text string) []string {
	seen := make(map[string]struct{})
	for _, p := range FilePatterns {
		for _, m := range p.FindAllStringSubmatch(text, -1) {
			seen[m[1]] = struct{}{}
		}
	}
	files := make([]string, 0, len(seen))
	for f := range seen {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}
