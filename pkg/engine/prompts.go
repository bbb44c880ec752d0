package engine

import (
	"fmt"
	"strings"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

func issueBlock(issue *models.Issue) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", issue.Title)
	fmt.Fprintf(&b, "Description: %s\n", issue.Description)
	fmt.Fprintf(&b, "Severity: %s\n", issue.Severity)
	fmt.Fprintf(&b, "Category: %s\n", issue.Category)
	fmt.Fprintf(&b, "Reporter: %s\n", issue.Reporter)
	if len(issue.Steps) > 0 {
		b.WriteString("Steps to reproduce:\n")
		for i, s := range issue.Steps {
			fmt.Fprintf(&b, "%d. %s\n", i+1, s)
		}
	}
	if issue.Expected != "" {
		fmt.Fprintf(&b, "Expected: %s\n", issue.Expected)
	}
	if issue.Actual != "" {
		fmt.Fprintf(&b, "Actual: %s\n", issue.Actual)
	}
	return b.String()
}

func classifyPrompt(issue *models.Issue) string {
	return fmt.Sprintf(`You triage reports for a web application. Decide whether this report is a concrete bug an automated system can fix by editing code.

%s
A report is auto-fixable only if it describes broken behavior with enough detail to locate the code. Feature requests, vague complaints, and anything needing product decisions are not.

Respond with ONLY a JSON object:
{
  "issue_type": "bug|feature_request|improvement|unclear",
  "can_auto_fix": true or false,
  "reason": "one sentence on why",
  "suggested_action": "fix|skip|request_clarification|needs_human_review",
  "severity": "low|medium|high|critical",
  "category": "ux|performance|bug|security|accessibility|authentication|database|other",
  "complexity": "simple|moderate|complex"
}`, issueBlock(issue))
}

func analyzePrompt(issue *models.Issue, codeContext string) string {
	return fmt.Sprintf(`You are debugging a web application. Find the root cause of this report.

%s
Relevant source files:

%s
Respond with ONLY a JSON object:
{
  "root_cause": "one or two sentences on what is wrong",
  "files_to_modify": ["path/one.py"],
  "suggested_approach": "one or two sentences on how to fix it"
}`, issueBlock(issue), codeContext)
}

func strategizePrompt(issue *models.Issue, analysis *analysisResult, codeContext, lessons, feedback string) string {
	var b strings.Builder
	b.WriteString("You are fixing a bug in a web application. Produce an exact fix plan.\n\n")
	b.WriteString(issueBlock(issue))
	fmt.Fprintf(&b, "\nRoot cause: %s\n", analysis.RootCause)
	fmt.Fprintf(&b, "Suggested approach: %s\n", analysis.Approach)
	if lessons != "" {
		b.WriteString("\n" + lessons)
	}
	if feedback != "" {
		fmt.Fprintf(&b, "\nThe previous attempt failed:\n%s\nProduce a different plan that avoids this failure.\n", feedback)
	}
	b.WriteString("\nRelevant source files:\n\n")
	b.WriteString(codeContext)
	b.WriteString(`
Rules:
- old_code must be copied EXACTLY from the file shown above, including indentation.
- Keep edits minimal; do not rewrite whole files.
- Every edit_file step needs file, old_code, and new_code.

Respond with ONLY a JSON object:
{
  "complexity": "simple|moderate|complex",
  "description": "what the fix does",
  "files_affected": ["path/one.py"],
  "steps": [
    {"action": "edit_file", "file": "path/one.py", "old_code": "...", "new_code": "...", "description": "..."},
    {"action": "add_test", "file": "tests/test_app.py", "code": "...", "description": "..."}
  ],
  "requires_approval": false,
  "rollback_plan": "git checkout"
}`)
	return b.String()
}

func ciRepairPrompt(failure *models.CIFailure, fileContent string) string {
	return fmt.Sprintf(`A pull request check failed. Produce a minimal edit that fixes it.

Check: %s
Failure type: %s
Error: %s
File: %s

Current file content:
`+"```"+`
%s
`+"```"+`

Rules:
- old_code must be copied EXACTLY from the file above.
- Fix only what the check complains about.

Respond with ONLY a JSON object:
{
  "file": "%s",
  "old_code": "...",
  "new_code": "..."
}`, failure.CheckName, failure.FailureType, failure.ErrorMessage, failure.FilePath, fileContent, failure.FilePath)
}
