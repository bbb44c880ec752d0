package engine

import (
	"fmt"
	"strings"

	"github.com/codeready-toolchain/remedy/pkg/config"
	"github.com/codeready-toolchain/remedy/pkg/editor"
	"github.com/codeready-toolchain/remedy/pkg/ingest"
	"github.com/codeready-toolchain/remedy/pkg/models"
)

// ContextBuilder assembles the source context for analysis and
// strategy prompts: the configured key files plus any files the issue
// text references, capped in count and per-file size.
type ContextBuilder struct {
	editor *editor.FileEditor
	cfg    *config.RepoConfig
}

// NewContextBuilder builds a context builder over the working copy.
func NewContextBuilder(ed *editor.FileEditor, cfg *config.RepoConfig) *ContextBuilder {
	return &ContextBuilder{editor: ed, cfg: cfg}
}

// Build returns the prompt context for the issue. extra names files the
// analysis already decided to modify. Unreadable files are skipped.
func (b *ContextBuilder) Build(issue *models.Issue, extra []string) string {
	text := issue.Title + " " + issue.Description + " " + strings.Join(issue.Steps, " ")
	refs := ingest.ExtractFileReferences(text)

	seen := make(map[string]bool)
	var files []string
	add := func(f string) {
		if f == "" || seen[f] || len(files) >= b.cfg.MaxContextFiles {
			return
		}
		seen[f] = true
		files = append(files, f)
	}
	for _, f := range extra {
		add(f)
	}
	for _, f := range b.cfg.KeyFiles {
		add(f)
	}
	for _, f := range refs {
		add(f)
	}

	var out strings.Builder
	for _, f := range files {
		content, err := b.editor.ReadFile(f)
		if err != nil {
			continue
		}
		limit := b.cfg.FileSizeCap
		if strings.HasSuffix(f, ".html") {
			limit = b.cfg.TemplateSizeCap
		}
		if len(content) > limit {
			content = content[:limit] + "\n... (truncated)"
		}
		fmt.Fprintf(&out, "### %s\n```\n%s\n```\n\n", f, content)
	}
	return out.String()
}
