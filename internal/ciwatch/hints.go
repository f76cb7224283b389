package ciwatch

import (
	"fmt"
	"strings"
)

// buildHints summarises a failed run for the reviewer. The conclusion line
// is always present so the list is never empty.
func buildHints(conclusion, branch, sha string, failing []string) []string {
	if conclusion == "" {
		conclusion = "failure"
	}
	hints := []string{fmt.Sprintf("Run concluded with %q", conclusion)}
	if branch != "" {
		hints = append(hints, fmt.Sprintf("Branch: %s", branch))
	}
	if sha != "" {
		hints = append(hints, fmt.Sprintf("Head commit: %s", shortSHA(sha)))
	}
	if len(failing) > 0 {
		hints = append(hints, fmt.Sprintf("Failing checks: %s", strings.Join(failing, ", ")))
	}
	if conclusion == "timed_out" {
		hints = append(hints, "The run timed out; check for hung tests or raise the job timeout")
	} else {
		hints = append(hints, "Re-run the failed jobs once to rule out flakiness before changing code")
	}
	return hints
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

var labelKeywords = []struct {
	label    string
	keywords []string
}{
	{"bug", []string{"bug", "error", "crash", "fail", "broken", "exception"}},
	{"enhancement", []string{"feature", "add ", "support", "request", "improve"}},
	{"documentation", []string{"doc", "readme", "typo"}},
	{"security", []string{"security", "vulnerab", "cve"}},
	{"performance", []string{"slow", "performance", "latency", "memory leak"}},
}

// suggestLabels picks labels whose keywords appear in the issue text.
func suggestLabels(title, body string) []string {
	text := strings.ToLower(title + " " + body)
	var labels []string
	for _, lk := range labelKeywords {
		for _, kw := range lk.keywords {
			if strings.Contains(text, kw) {
				labels = append(labels, lk.label)
				break
			}
		}
	}
	return labels
}

func triageSuggestions(body string, hasPriority bool) []string {
	var out []string
	if strings.TrimSpace(body) == "" {
		out = append(out, "Add a description with steps to reproduce and expected behaviour")
	}
	if !hasPriority {
		out = append(out, "Set a priority so the issue can be scheduled")
	}
	if len(out) == 0 {
		out = append(out, "Assign an owner")
	}
	return out
}

// splitSlug turns "gh/owner/repo" or "owner/repo" into "owner/repo".
func splitSlug(slug string) string {
	parts := strings.Split(strings.Trim(slug, "/"), "/")
	if len(parts) >= 3 {
		parts = parts[len(parts)-2:]
	}
	return strings.Join(parts, "/")
}
