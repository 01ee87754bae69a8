package validation

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads and compiles a YAML rules file. An empty path yields no
// rules.
func LoadRules(path string) ([]Rule, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("validation: read rules %s: %w", path, err)
	}
	rules, err := ParseRules(data)
	if err != nil {
		return nil, fmt.Errorf("validation: %s: %w", path, err)
	}
	return rules, nil
}

// ParseRules decodes and compiles rules from YAML:
//
//	rules:
//	  - name: no-placeholder
//	    kind: literal
//	    pattern: "[TODO]"
//	    forbid: true
func ParseRules(data []byte) ([]Rule, error) {
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	return Compile(f.Rules)
}

// Compile compiles every rule, failing on the first bad one.
func Compile(rules []Rule) ([]Rule, error) {
	out := make([]Rule, len(rules))
	for i := range rules {
		r := rules[i]
		if err := r.Compile(); err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

// ForArtifact returns the rules that apply to artifacts of kind.
func ForArtifact(rules []Rule, kind string) []Rule {
	var out []Rule
	for _, r := range rules {
		if r.Artifact == "" || r.Artifact == kind {
			out = append(out, r)
		}
	}
	return out
}
