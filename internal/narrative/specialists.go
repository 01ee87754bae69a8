package narrative

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/starford/casefile/internal/evidence"
	"github.com/starford/casefile/internal/generation"
)

// Specialist names, listed by role precedence: when two specialists assign
// different roles to the same character, the earlier one wins.
const (
	SpecialistBehavioral    = "behavioral"
	SpecialistFinancial     = "financial"
	SpecialistVictimization = "victimization"
)

// Specialists is the precedence order used by Synthesize.
var Specialists = []string{SpecialistBehavioral, SpecialistFinancial, SpecialistVictimization}

// Analysis is one specialist's reading of the evidence.
type Analysis struct {
	Specialist     string            `json:"specialist"`
	Findings       []string          `json:"findings"`
	CharacterRoles map[string]string `json:"characterRoles"`
}

type analysisEnvelope struct {
	Findings       []string          `json:"findings"`
	CharacterRoles map[string]string `json:"characterRoles" jsonschema:"description=Character name to role"`
}

// RoleClaim is a role one specialist assigned.
type RoleClaim struct {
	Specialist string `json:"specialist"`
	Role       string `json:"role"`
}

// Conflict records a character whose role the specialists disagree on.
type Conflict struct {
	Character string      `json:"character"`
	Chosen    RoleClaim   `json:"chosen"`
	Overruled []RoleClaim `json:"overruled"`
}

// Synthesis merges the analyses.
type Synthesis struct {
	Analyses  []Analysis        `json:"analyses"`
	Roles     map[string]string `json:"roles"`
	Conflicts []Conflict        `json:"conflicts,omitempty"`
}

// String renders the synthesis as prompt text.
func (s Synthesis) String() string {
	var b strings.Builder
	for _, a := range s.Analyses {
		fmt.Fprintf(&b, "### %s\n", a.Specialist)
		writeLines(&b, a.Findings)
	}
	if len(s.Roles) > 0 {
		b.WriteString("### Character roles\n")
		names := make([]string, 0, len(s.Roles))
		for n := range s.Roles {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			fmt.Fprintf(&b, "- %s: %s\n", n, s.Roles[n])
		}
	}
	return b.String()
}

func precedence(specialist string) int {
	for i, s := range Specialists {
		if s == specialist {
			return i
		}
	}
	return len(Specialists)
}

// Synthesize merges analyses deterministically: analyses are ordered by
// specialist name and role conflicts resolve by Specialists precedence,
// regardless of the order the analyses finished in.
func Synthesize(analyses []Analysis) Synthesis {
	sorted := append([]Analysis(nil), analyses...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Specialist < sorted[j].Specialist })

	claims := make(map[string][]RoleClaim)
	for _, a := range sorted {
		for name, role := range a.CharacterRoles {
			role = strings.TrimSpace(role)
			if name == "" || role == "" {
				continue
			}
			claims[name] = append(claims[name], RoleClaim{Specialist: a.Specialist, Role: role})
		}
	}

	out := Synthesis{Analyses: sorted, Roles: make(map[string]string, len(claims))}
	names := make([]string, 0, len(claims))
	for n := range claims {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, name := range names {
		cs := claims[name]
		sort.SliceStable(cs, func(i, j int) bool {
			pi, pj := precedence(cs[i].Specialist), precedence(cs[j].Specialist)
			if pi != pj {
				return pi < pj
			}
			return cs[i].Specialist < cs[j].Specialist
		})
		chosen := cs[0]
		out.Roles[name] = chosen.Role

		var overruled []RoleClaim
		for _, c := range cs[1:] {
			if !strings.EqualFold(c.Role, chosen.Role) {
				overruled = append(overruled, c)
			}
		}
		if len(overruled) > 0 {
			out.Conflicts = append(out.Conflicts, Conflict{Character: name, Chosen: chosen, Overruled: overruled})
		}
	}
	return out
}

// Analyze runs every specialist concurrently, each on its own copy of the
// bundle, and synthesizes the results. Any specialist failure fails the
// whole analysis.
func (n *Narrator) Analyze(ctx context.Context, in Input) (Synthesis, error) {
	templates := map[string]string{
		SpecialistFinancial:     n.prompts.Specialists.Financial,
		SpecialistBehavioral:    n.prompts.Specialists.Behavioral,
		SpecialistVictimization: n.prompts.Specialists.Victimization,
	}

	results := make([]Analysis, len(Specialists))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range Specialists {
		bundle := in.Bundle.Clone()
		g.Go(func() error {
			a, err := n.analyze(gctx, in, name, templates[name], bundle)
			if err != nil {
				return err
			}
			results[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Synthesis{}, err
	}
	return Synthesize(results), nil
}

func (n *Narrator) analyze(ctx context.Context, in Input, name, tpl string, bundle evidence.Bundle) (Analysis, error) {
	compass := BuildCompass(bundle, in.Roster, in.Feedback)
	prompt, err := generation.Render("specialists."+name, tpl, map[string]any{"Compass": compass.String()})
	if err != nil {
		return Analysis{}, err
	}
	resp, err := n.gen.Generate(ctx, generation.Request{
		SessionID: in.SessionID,
		Label:     "specialist." + name,
		Tier:      generation.TierStandard,
		System:    n.prompts.System.Analyst,
		Prompt:    prompt,
		Schema:    analysisEnvelope{},
	})
	if err != nil {
		return Analysis{}, fmt.Errorf("narrative: %s analysis: %w", name, err)
	}
	env, err := generation.Decode[analysisEnvelope](resp)
	if err != nil {
		return Analysis{}, fmt.Errorf("narrative: %s analysis: %w", name, err)
	}
	if env.CharacterRoles == nil {
		env.CharacterRoles = map[string]string{}
	}
	return Analysis{Specialist: name, Findings: env.Findings, CharacterRoles: env.CharacterRoles}, nil
}
