package generation

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"text/template"

	"github.com/pelletier/go-toml/v2"
)

//go:embed prompts.toml
var defaultPrompts []byte

// SystemPrompts are the system messages.
type SystemPrompts struct {
	Journalist string `toml:"journalist"`
	Analyst    string `toml:"analyst"`
}

// SpecialistPrompts are the per-specialist analysis templates.
type SpecialistPrompts struct {
	Financial     string `toml:"financial"`
	Behavioral    string `toml:"behavioral"`
	Victimization string `toml:"victimization"`
}

// PhasePrompts are the arc, outline and article templates.
type PhasePrompts struct {
	Arcs    string `toml:"arcs"`
	Outline string `toml:"outline"`
	Article string `toml:"article"`
}

// Prompts is the prompt pack.
type Prompts struct {
	System      SystemPrompts     `toml:"system"`
	Specialists SpecialistPrompts `toml:"specialists"`
	Phases      PhasePrompts      `toml:"phases"`
}

// DefaultPrompts returns the built-in prompt pack.
func DefaultPrompts() (*Prompts, error) {
	var p Prompts
	if err := toml.Unmarshal(defaultPrompts, &p); err != nil {
		return nil, fmt.Errorf("generation: parse built-in prompts: %w", err)
	}
	return &p, nil
}

// LoadPrompts reads a TOML prompt pack over the built-in one: keys present
// in path replace the defaults. An empty path yields the defaults.
func LoadPrompts(path string) (*Prompts, error) {
	p, err := DefaultPrompts()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("generation: read prompts %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("generation: parse prompts %s: %w", path, err)
	}
	for name, tpl := range p.templates() {
		if _, err := template.New(name).Parse(tpl); err != nil {
			return nil, fmt.Errorf("generation: prompts %s: %s: %w", path, name, err)
		}
	}
	return p, nil
}

func (p *Prompts) templates() map[string]string {
	return map[string]string{
		"specialists.financial":     p.Specialists.Financial,
		"specialists.behavioral":    p.Specialists.Behavioral,
		"specialists.victimization": p.Specialists.Victimization,
		"phases.arcs":               p.Phases.Arcs,
		"phases.outline":            p.Phases.Outline,
		"phases.article":            p.Phases.Article,
	}
}

// Render executes the template text with data.
func Render(name, text string, data any) (string, error) {
	tpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("generation: template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("generation: render %s: %w", name, err)
	}
	return buf.String(), nil
}
