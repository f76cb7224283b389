package analyzer

import (
	"fmt"
	"strings"

	"basegraph.app/warden/internal/model"
)

const comprehensiveReviewThreshold = 3

var typeSuggestions = map[string]string{
	"syntax_error":      "Run a syntax check or formatter locally before pushing",
	"test_failure":      "Run the failing tests locally and check for flaky or order-dependent tests",
	"lint_error":        "Enable the linter as a pre-commit hook so violations are caught before CI",
	"docker_error":      "Verify the Dockerfile builds locally and base image tags exist",
	"environment_error": "Check CI runner resources, permissions and required environment variables",
}

// suggestionsFor derives high-level advice from the set of matched types.
func suggestionsFor(a *model.FailureAnalysis) []string {
	types := a.FailureTypes()
	out := make([]string, 0, len(types)+1)
	for _, t := range types {
		if t == "dependency_error" {
			out = append(out, dependencySuggestion(a))
			continue
		}
		if s, ok := typeSuggestions[t]; ok {
			out = append(out, s)
		}
	}
	if len(types) > comprehensiveReviewThreshold {
		out = append(out, fmt.Sprintf("%d distinct failure types detected: run a comprehensive review of the recent changes", len(types)))
	}
	return out
}

func dependencySuggestion(a *model.FailureAnalysis) string {
	var modules []string
	seen := make(map[string]bool)
	for _, f := range a.Failures {
		if f.Type != "dependency_error" {
			continue
		}
		if m := missingModule(f.MatchedText); m != "" && !seen[m] {
			seen[m] = true
			modules = append(modules, m)
		}
	}
	s := "Pin dependency versions in requirements.txt (or your lockfile)"
	if len(modules) > 0 {
		s += " and add the missing: " + strings.Join(modules, ", ")
	}
	return s
}

// missingModule pulls the quoted module name out of a dependency match.
func missingModule(text string) string {
	for _, q := range []string{"'", "\""} {
		i := strings.Index(text, q)
		if i < 0 {
			continue
		}
		if j := strings.Index(text[i+1:], q); j > 0 {
			return text[i+1 : i+1+j]
		}
	}
	return ""
}
