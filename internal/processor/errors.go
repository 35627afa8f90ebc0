package processor

import (
	"fmt"
	"strings"
)

type TemplateIssue struct {
	Part    string `json:"part"`
	Snippet string `json:"snippet"`
	Reason  string `json:"reason"`
}

// TemplateError aggregates every placeholder problem found while rendering,
// across all parts, rather than stopping at the first one.
type TemplateError struct {
	Issues []TemplateIssue `json:"issues"`
}

func (e *TemplateError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		parts = append(parts, fmt.Sprintf("%s: %s %q", issue.Part, issue.Reason, issue.Snippet))
	}
	return fmt.Sprintf("template has %d invalid placeholder(s): %s", len(e.Issues), strings.Join(parts, "; "))
}

func (e *TemplateError) add(part, snippet, reason string) {
	e.Issues = append(e.Issues, TemplateIssue{Part: part, Snippet: snippet, Reason: reason})
}
