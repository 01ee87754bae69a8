// Package validation runs deterministic structural and content checks over
// generated artifacts before they reach a reviewer.
package validation

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Severity separates blocking issues from reviewer hints.
type Severity string

const (
	Structural Severity = "structural"
	Advisory   Severity = "advisory"
)

// RuleKind selects how a rule is evaluated.
type RuleKind string

const (
	KindLiteral  RuleKind = "literal"
	KindRegex    RuleKind = "regex"
	KindRequired RuleKind = "required"
	KindMention  RuleKind = "mention"
)

// Artifact is a generated document flattened into named text fields.
type Artifact struct {
	Kind   string            `json:"kind"`
	Fields map[string]string `json:"fields"`
}

// Rule is one check. Literal and regex rules require a match by default;
// Forbid inverts them into "must not occur". Field restricts a rule to one
// field; empty means every field.
type Rule struct {
	Name          string   `yaml:"name" json:"name"`
	Kind          RuleKind `yaml:"kind" json:"kind"`
	Artifact      string   `yaml:"artifact,omitempty" json:"artifact,omitempty"`
	Field         string   `yaml:"field,omitempty" json:"field,omitempty"`
	Pattern       string   `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Values        []string `yaml:"values,omitempty" json:"values,omitempty"`
	CaseSensitive bool     `yaml:"case_sensitive,omitempty" json:"caseSensitive,omitempty"`
	Forbid        bool     `yaml:"forbid,omitempty" json:"forbid,omitempty"`
	Severity      Severity `yaml:"severity,omitempty" json:"severity,omitempty"`
	Message       string   `yaml:"message,omitempty" json:"message,omitempty"`

	re       *regexp.Regexp
	compiled bool
}

// Issue is one failed check.
type Issue struct {
	Field  string   `json:"field"`
	Type   Severity `json:"type"`
	Rule   string   `json:"rule"`
	Detail string   `json:"detail"`
}

// Report is the outcome of validating one artifact.
type Report struct {
	Valid  bool    `json:"valid"`
	Issues []Issue `json:"issues"`
}

// Structural returns the blocking issues.
func (r Report) Structural() []Issue {
	var out []Issue
	for _, i := range r.Issues {
		if i.Type == Structural {
			out = append(out, i)
		}
	}
	return out
}

// Advisory returns the non-blocking issues.
func (r Report) Advisory() []Issue {
	var out []Issue
	for _, i := range r.Issues {
		if i.Type == Advisory {
			out = append(out, i)
		}
	}
	return out
}

// Compile checks a rule and prepares its matcher. Validate compiles
// uncompiled rules on the fly.
func (r *Rule) Compile() error {
	if r.Name == "" {
		r.Name = string(r.Kind)
	}
	switch r.Kind {
	case KindLiteral:
		if r.Pattern == "" {
			return fmt.Errorf("validation: rule %q: literal needs a pattern", r.Name)
		}
	case KindRegex:
		expr := r.Pattern
		if !r.CaseSensitive {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return fmt.Errorf("validation: rule %q: %w", r.Name, err)
		}
		r.re = re
	case KindRequired:
		if r.Field == "" {
			return fmt.Errorf("validation: rule %q: required needs a field", r.Name)
		}
	case KindMention:
		if len(r.Values) == 0 {
			return fmt.Errorf("validation: rule %q: mention needs values", r.Name)
		}
	default:
		return fmt.Errorf("validation: rule %q: unknown kind %q", r.Name, r.Kind)
	}
	if r.Severity == "" {
		if r.Kind == KindMention {
			r.Severity = Advisory
		} else {
			r.Severity = Structural
		}
	}
	if r.Severity != Structural && r.Severity != Advisory {
		return fmt.Errorf("validation: rule %q: unknown severity %q", r.Name, r.Severity)
	}
	r.compiled = true
	return nil
}

// Validate runs rules against a. Rules scoped to another artifact kind are
// skipped. Only structural issues make the report invalid. Issues are sorted
// by field, rule and detail.
func Validate(a Artifact, rules []Rule) (Report, error) {
	var issues []Issue
	for i := range rules {
		r := rules[i]
		if r.Artifact != "" && r.Artifact != a.Kind {
			continue
		}
		if !r.compiled {
			if err := r.Compile(); err != nil {
				return Report{}, err
			}
		}
		issues = append(issues, r.check(a)...)
	}

	return newReport(issues), nil
}

// With returns a report holding r's issues plus extra, re-sorted.
func (r Report) With(extra ...Issue) Report {
	issues := make([]Issue, 0, len(r.Issues)+len(extra))
	issues = append(issues, r.Issues...)
	issues = append(issues, extra...)
	return newReport(issues)
}

func newReport(issues []Issue) Report {
	sort.Slice(issues, func(i, j int) bool {
		if issues[i].Field != issues[j].Field {
			return issues[i].Field < issues[j].Field
		}
		if issues[i].Rule != issues[j].Rule {
			return issues[i].Rule < issues[j].Rule
		}
		return issues[i].Detail < issues[j].Detail
	})

	rep := Report{Valid: true, Issues: issues}
	if rep.Issues == nil {
		rep.Issues = []Issue{}
	}
	for _, i := range issues {
		if i.Type == Structural {
			rep.Valid = false
			break
		}
	}
	return rep
}

func (r Rule) check(a Artifact) []Issue {
	switch r.Kind {
	case KindRequired:
		if strings.TrimSpace(a.Fields[r.Field]) == "" {
			return []Issue{r.issue(r.Field, "required field is missing or empty")}
		}
		return nil
	case KindMention:
		return r.checkMention(a)
	}

	var out []Issue
	for _, name := range r.fields(a) {
		found := r.matches(a.Fields[name])
		switch {
		case r.Forbid && found:
			out = append(out, r.issue(name, fmt.Sprintf("forbidden pattern %q present", r.Pattern)))
		case !r.Forbid && !found && r.Field != "":
			out = append(out, r.issue(name, fmt.Sprintf("expected pattern %q not found", r.Pattern)))
		}
	}
	if !r.Forbid && r.Field == "" {
		found := false
		for _, name := range r.fields(a) {
			if r.matches(a.Fields[name]) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, r.issue("*", fmt.Sprintf("expected pattern %q not found", r.Pattern)))
		}
	}
	return out
}

func (r Rule) checkMention(a Artifact) []Issue {
	var all strings.Builder
	for _, name := range r.fields(a) {
		all.WriteString(a.Fields[name])
		all.WriteByte('\n')
	}
	text := all.String()
	field := r.Field
	if field == "" {
		field = "*"
	}

	var out []Issue
	for _, v := range r.Values {
		if !contains(text, v, r.CaseSensitive) {
			out = append(out, r.issue(field, fmt.Sprintf("%q is not mentioned", v)))
		}
	}
	return out
}

func (r Rule) matches(text string) bool {
	if r.Kind == KindRegex {
		return r.re.MatchString(text)
	}
	return contains(text, r.Pattern, r.CaseSensitive)
}

func (r Rule) fields(a Artifact) []string {
	if r.Field != "" {
		return []string{r.Field}
	}
	names := make([]string, 0, len(a.Fields))
	for k := range a.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (r Rule) issue(field, detail string) Issue {
	if r.Message != "" {
		detail = r.Message + ": " + detail
	}
	return Issue{Field: field, Type: r.Severity, Rule: r.Name, Detail: detail}
}

func contains(text, pattern string, caseSensitive bool) bool {
	if caseSensitive {
		return strings.Contains(text, pattern)
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(pattern))
}
