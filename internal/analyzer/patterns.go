package analyzer

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"text/template"

	"gopkg.in/yaml.v3"

	"basegraph.app/warden/internal/model"
)

// Pattern classifies one kind of build failure.
type Pattern struct {
	Type        string         `yaml:"type"`
	Description string         `yaml:"description"`
	Severity    model.Severity `yaml:"severity"`
	Regexes     []string       `yaml:"patterns"`
	Fix         string         `yaml:"fix"`
	AutoFix     *AutoFixSpec   `yaml:"autofix,omitempty"`

	compiled []*regexp.Regexp
	fixTmpl  *template.Template
}

// AutoFixSpec is the mechanical remediation attached to a pattern. Command
// is a template rendered with the same data as Fix.
type AutoFixSpec struct {
	Description string `yaml:"description"`
	Command     string `yaml:"command"`
}

// fixData is what fix and auto-fix templates see.
type fixData struct {
	Match  string
	Module string
	Test   string
	Groups []string
	Named  map[string]string
}

func (p *Pattern) compile() error {
	if p.Type == "" {
		return fmt.Errorf("pattern without type")
	}
	if !p.Severity.Valid() {
		return fmt.Errorf("pattern %s: invalid severity %q", p.Type, p.Severity)
	}
	if len(p.Regexes) == 0 {
		return fmt.Errorf("pattern %s: no regexes", p.Type)
	}
	p.compiled = make([]*regexp.Regexp, 0, len(p.Regexes))
	for _, expr := range p.Regexes {
		re, err := regexp.Compile("(?m)" + expr)
		if err != nil {
			return fmt.Errorf("pattern %s: %w", p.Type, err)
		}
		p.compiled = append(p.compiled, re)
	}
	tmpl, err := template.New(p.Type).Option("missingkey=zero").Parse(p.Fix)
	if err != nil {
		return fmt.Errorf("pattern %s fix template: %w", p.Type, err)
	}
	p.fixTmpl = tmpl
	return nil
}

// data builds the template data for one submatch of re.
func (p *Pattern) data(re *regexp.Regexp, sub []string) *fixData {
	d := &fixData{Match: sub[0], Named: map[string]string{}}
	if len(sub) > 1 {
		d.Groups = sub[1:]
	}
	for i, name := range re.SubexpNames() {
		if name != "" && i < len(sub) {
			d.Named[name] = sub[i]
		}
	}
	d.Module = d.Named["module"]
	d.Test = d.Named["test"]
	return d
}

func render(t *template.Template, d *fixData) string {
	if t == nil {
		return ""
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, d); err != nil {
		return ""
	}
	return buf.String()
}

func renderString(text string, d *fixData) string {
	t, err := template.New("autofix").Option("missingkey=zero").Parse(text)
	if err != nil {
		return text
	}
	return render(t, d)
}

// DefaultPatterns returns the built-in library in evaluation order.
func DefaultPatterns() []*Pattern {
	return []*Pattern{
		{
			Type:        "dependency_error",
			Description: "Missing or unresolvable dependency",
			Severity:    model.SeverityHigh,
			Regexes: []string{
				`ModuleNotFoundError: No module named '(?P<module>[^']+)'`,
				`ImportError: No module named '?(?P<module>[\w.]+)'?`,
				`Could not find a version that satisfies the requirement (?P<module>\S+)`,
				`Cannot find module '(?P<module>[^']+)'`,
				`npm ERR! 404 Not Found.*?'?(?P<module>@?[\w./-]+)'?`,
				`no required module provides package (?P<module>\S+)`,
				`Could not resolve dependencies`,
			},
			Fix: `Install the missing dependency '{{.Module}}' and pin it in requirements.txt (or package.json / go.mod)`,
			AutoFix: &AutoFixSpec{
				Description: "Install declared dependencies",
				Command:     "pip install -r requirements.txt",
			},
		},
		{
			Type:        "syntax_error",
			Description: "Source does not parse",
			Severity:    model.SeverityHigh,
			Regexes: []string{
				`SyntaxError: .+`,
				`IndentationError: .+`,
				`error: expected .+`,
				`syntax error[: ].*`,
				`Unexpected token.*`,
			},
			Fix: `Fix the syntax error reported as: {{.Match}}`,
		},
		{
			Type:        "test_failure",
			Description: "Test suite failure",
			Severity:    model.SeverityMedium,
			Regexes: []string{
				`^FAILED (?P<test>\S+)`,
				`--- FAIL: (?P<test>\S+)`,
				`AssertionError.*`,
				`\b\d+ failed\b`,
				`Tests:\s+\d+ failed`,
			},
			Fix: `Reproduce locally and fix the failing test{{if .Test}} {{.Test}}{{end}}`,
		},
		{
			Type:        "lint_error",
			Description: "Linter or formatter violation",
			Severity:    model.SeverityLow,
			Regexes: []string{
				`\S+\.\w+:\d+:\d+: [EFWC]\d{3,4}\b.*`,
				`✖ \d+ problems? \(\d+ errors?`,
				`(?i)would reformat \S+`,
				`(?i)lint(ing)? (failed|errors?)`,
			},
			Fix: `Run the linter locally and apply its fixes: {{.Match}}`,
			AutoFix: &AutoFixSpec{
				Description: "Apply automatic lint fixes",
				Command:     "pre-commit run --all-files",
			},
		},
		{
			Type:        "docker_error",
			Description: "Container image build or pull failure",
			Severity:    model.SeverityMedium,
			Regexes: []string{
				`docker: Error response from daemon.*`,
				`failed to solve: .+`,
				`COPY failed: .+`,
				`manifest (for \S+ )?not found`,
				`pull access denied.*`,
			},
			Fix: `Check the Dockerfile and base image references: {{.Match}}`,
			AutoFix: &AutoFixSpec{
				Description: "Rebuild the image without cache",
				Command:     "docker build --no-cache .",
			},
		},
		{
			Type:        "environment_error",
			Description: "Runner environment or configuration problem",
			Severity:    model.SeverityMedium,
			Regexes: []string{
				`(?i)permission denied`,
				`No space left on device`,
				`(?P<command>\S+): command not found`,
				`(?i)environment variable (?P<var>\w+) (is )?not set`,
				`ECONNREFUSED`,
				`(?i)out of memory`,
			},
			Fix: `Check the CI runner configuration: {{.Match}}`,
		},
	}
}

type patternFile struct {
	Patterns []*Pattern `yaml:"patterns"`
}

// LoadPatterns reads a YAML pattern library replacing the defaults.
func LoadPatterns(path string) ([]*Pattern, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pattern file: %w", err)
	}
	return ParsePatterns(data)
}

func ParsePatterns(data []byte) ([]*Pattern, error) {
	var f patternFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing pattern file: %w", err)
	}
	if len(f.Patterns) == 0 {
		return nil, fmt.Errorf("pattern file defines no patterns")
	}
	return f.Patterns, nil
}
