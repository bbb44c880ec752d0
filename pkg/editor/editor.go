// Package editor applies anchored text replacements to source files.
// A replacement is located by progressively looser strategies, each of
// which requires the match to be unambiguous before it is applied.
package editor

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/agext/levenshtein"
)

// Sentinel errors for replacement outcomes.
var (
	// ErrOldCodeNotFound indicates no strategy could locate the target.
	ErrOldCodeNotFound = errors.New("old code not found")

	// ErrAmbiguousMatch indicates the target occurs more than once.
	ErrAmbiguousMatch = errors.New("old code matches multiple locations")

	// ErrNoChange indicates the replacement would leave the file unchanged.
	ErrNoChange = errors.New("replacement leaves content unchanged")
)

const (
	// maxWindowLines bounds the whitespace-normalized sliding window.
	maxWindowLines = 30

	// fuzzyThreshold is the minimum similarity ratio for a fuzzy match.
	fuzzyThreshold = 0.85
)

// Apply replaces oldCode with newCode in content, trying strategies in
// order: exact, whitespace-normalized, case-insensitive, fuzzy, anchor
// line. The first strategy that locates an unambiguous target wins.
func Apply(content, oldCode, newCode string) (string, error) {
	// Strategy 1: exact substring.
	if n := strings.Count(content, oldCode); n > 0 {
		if n > 1 {
			return "", fmt.Errorf("%w: %d exact occurrences", ErrAmbiguousMatch, n)
		}
		return replaceOnce(content, oldCode, newCode)
	}

	// Strategy 2: whitespace-normalized window.
	if match, ok := findWhitespaceNormalized(content, oldCode); ok {
		return replaceOnce(content, match, newCode)
	}

	// Strategy 3: case-insensitive single-line match.
	if actualOld, adjustedNew, ok := findCaseInsensitive(content, oldCode, newCode); ok {
		return replaceOnce(content, actualOld, adjustedNew)
	}

	// Strategy 4: fuzzy window.
	if match, ratio, ok := findFuzzy(content, oldCode); ok {
		slog.Debug("Fuzzy match accepted", "ratio", ratio)
		return replaceOnce(content, match, newCode)
	}

	// Strategy 5: anchor line splice.
	if result, ok := findByAnchorLines(content, oldCode, newCode); ok {
		if result == content {
			return "", ErrNoChange
		}
		return result, nil
	}

	return "", ErrOldCodeNotFound
}

func replaceOnce(content, old, new string) (string, error) {
	result := strings.Replace(content, old, new, 1)
	if result == content {
		return "", ErrNoChange
	}
	return result, nil
}

// findWhitespaceNormalized slides an n-line window (up to maxWindowLines)
// over the content, comparing with runs of whitespace collapsed. Returns
// the first matching window verbatim.
func findWhitespaceNormalized(content, target string) (string, bool) {
	targetNorm := normalizeWhitespace(target)
	if targetNorm == "" {
		return "", false
	}
	lines := strings.Split(content, "\n")
	for i := range lines {
		limit := maxWindowLines
		if rest := len(lines) - i; rest < limit {
			limit = rest
		}
		for window := 1; window <= limit; window++ {
			candidate := strings.Join(lines[i:i+window], "\n")
			if normalizeWhitespace(candidate) == targetNorm {
				return candidate, true
			}
		}
	}
	return "", false
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// findCaseInsensitive locates oldCode inside a single line ignoring
// case. The match is only used when the lowercased form occurs exactly
// once in the file; the found text's case pattern is mapped onto the
// replacement so human-visible strings keep their original casing.
func findCaseInsensitive(content, oldCode, newCode string) (string, string, bool) {
	oldLower := strings.ToLower(oldCode)
	if strings.Count(strings.ToLower(content), oldLower) != 1 {
		return "", "", false
	}
	for _, line := range strings.Split(content, "\n") {
		lineLower := strings.ToLower(line)
		pos := strings.Index(lineLower, oldLower)
		if pos < 0 {
			continue
		}
		actualOld := line[pos : pos+len(oldCode)]
		adjustedNew := newCode
		if actualOld != oldCode {
			adjustedNew = applyCasePattern(oldCode, actualOld, newCode)
		}
		return actualOld, adjustedNew, true
	}
	return "", "", false
}

// applyCasePattern maps the casing found in the file (actual) onto the
// occurrence of expected inside newText, so a replacement that repeats
// the matched phrase keeps the file's casing.
func applyCasePattern(expected, actual, newText string) string {
	start := strings.Index(strings.ToLower(newText), strings.ToLower(expected))
	if start < 0 {
		return newText
	}
	segment := newText[start : start+len(expected)]
	adjusted := make([]byte, len(segment))
	for i := 0; i < len(segment); i++ {
		if i < len(actual) && strings.EqualFold(string(segment[i]), string(actual[i])) {
			adjusted[i] = actual[i]
		} else {
			adjusted[i] = segment[i]
		}
	}
	return newText[:start] + string(adjusted) + newText[start+len(expected):]
}

// findFuzzy slides a window of the target's line count over the content
// and scores each candidate with a similarity ratio. The best window is
// accepted when it reaches fuzzyThreshold.
func findFuzzy(content, target string) (string, float64, bool) {
	targetTrimmed := strings.TrimSpace(target)
	targetLines := strings.Split(targetTrimmed, "\n")
	contentLines := strings.Split(content, "\n")
	if len(targetLines) > len(contentLines) {
		return "", 0, false
	}

	params := levenshtein.NewParams()
	bestRatio := 0.0
	bestMatch := ""
	for i := 0; i+len(targetLines) <= len(contentLines); i++ {
		candidate := strings.Join(contentLines[i:i+len(targetLines)], "\n")
		ratio := levenshtein.Similarity(targetTrimmed, strings.TrimSpace(candidate), params)
		if ratio > bestRatio {
			bestRatio = ratio
			bestMatch = candidate
		}
	}
	if bestRatio >= fuzzyThreshold {
		return bestMatch, bestRatio, true
	}
	return "", bestRatio, false
}

// findByAnchorLines locates the most discriminating non-empty,
// non-comment line of oldCode that occurs exactly once in the content,
// derives the corresponding line range, and splices newCode over it.
func findByAnchorLines(content, oldCode, newCode string) (string, bool) {
	oldLines := strings.Split(strings.TrimSpace(oldCode), "\n")
	contentLines := strings.Split(content, "\n")

	anchor := ""
	anchorIdxInOld := -1
	for idx, line := range oldLines {
		stripped := strings.TrimSpace(line)
		if stripped == "" || strings.HasPrefix(stripped, "#") || strings.HasPrefix(stripped, "//") {
			continue
		}
		count := 0
		for _, cl := range contentLines {
			if strings.Contains(cl, stripped) {
				count++
			}
		}
		if count == 1 {
			anchor = stripped
			anchorIdxInOld = idx
			break
		}
	}
	if anchor == "" {
		return "", false
	}

	anchorIdxInContent := -1
	for idx, line := range contentLines {
		if strings.Contains(line, anchor) {
			anchorIdxInContent = idx
			break
		}
	}
	if anchorIdxInContent < 0 {
		return "", false
	}

	linesBefore := anchorIdxInOld
	linesAfter := len(oldLines) - anchorIdxInOld - 1

	start := anchorIdxInContent - linesBefore
	if start < 0 {
		start = 0
	}
	end := anchorIdxInContent + linesAfter + 1
	if end > len(contentLines) {
		end = len(contentLines)
	}

	newLines := strings.Split(strings.TrimSpace(newCode), "\n")
	result := make([]string, 0, len(contentLines)-(end-start)+len(newLines))
	result = append(result, contentLines[:start]...)
	result = append(result, newLines...)
	result = append(result, contentLines[end:]...)
	return strings.Join(result, "\n"), true
}

// FileEditor applies replacements to files under a root directory.
type FileEditor struct {
	root string
}

// NewFileEditor returns an editor rooted at the working copy.
func NewFileEditor(root string) *FileEditor {
	return &FileEditor{root: root}
}

// EditFile reads the target file, applies the replacement, and writes
// the result back preserving the file mode.
func (e *FileEditor) EditFile(file, oldCode, newCode string) error {
	path := filepath.Join(e.root, file)
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cannot read file %s: %w", file, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cannot read file %s: %w", file, err)
	}

	result, err := Apply(string(data), oldCode, newCode)
	if err != nil {
		return fmt.Errorf("editing %s: %w", file, err)
	}

	if err := os.WriteFile(path, []byte(result), info.Mode()); err != nil {
		return fmt.Errorf("cannot write file %s: %w", file, err)
	}
	slog.Info("File edited", "file", file)
	return nil
}

// ReadFile returns the content of a file under the root.
func (e *FileEditor) ReadFile(file string) (string, error) {
	data, err := os.ReadFile(filepath.Join(e.root, file))
	if err != nil {
		return "", err
	}
	return string(data), nil
}
