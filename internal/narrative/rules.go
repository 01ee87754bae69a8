package narrative

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/starford/casefile/internal/evidence"
	"github.com/starford/casefile/internal/models"
	"github.com/starford/casefile/internal/validation"
)

// Artifact kinds, as used by validation rule scoping.
const (
	KindArcs    = "arcs"
	KindOutline = "outline"
	KindArticle = "article"
)

// BuiltinRules returns the rules every artifact of kind must pass.
func BuiltinRules(kind string, b evidence.Bundle, roster []models.Character, sections []string) []validation.Rule {
	var rules []validation.Rule

	switch kind {
	case KindOutline, KindArticle:
		rules = append(rules, validation.Rule{
			Name: "headline-required", Kind: validation.KindRequired, Field: "headline",
		})
		for _, s := range sections {
			rules = append(rules, validation.Rule{
				Name:    "section-required",
				Kind:    validation.KindRequired,
				Field:   sectionField(s),
				Message: fmt.Sprintf("section %q", s),
			})
		}
	}

	if kind == KindArticle {
		for _, id := range b.BuriedIDs() {
			rules = append(rules, validation.Rule{
				Name:          "buried-token-id",
				Kind:          validation.KindRegex,
				Pattern:       tokenPattern(id),
				CaseSensitive: true,
				Forbid:        true,
				Severity:      validation.Structural,
				Message:       "buried memory referenced",
			})
		}
	}

	if names := rosterNames(roster); len(names) > 0 {
		rules = append(rules, validation.Rule{
			Name:     "roster-mention",
			Kind:     validation.KindMention,
			Values:   names,
			Severity: validation.Advisory,
		})
	}
	return rules
}

func rosterNames(roster []models.Character) []string {
	out := make([]string, 0, len(roster))
	for _, ch := range roster {
		if ch.Name != "" {
			out = append(out, ch.Name)
		}
	}
	sort.Strings(out)
	return out
}

func sectionField(name string) string {
	return "section." + strings.ToLower(strings.TrimSpace(name))
}

func arcsArtifact(arcs []Arc) validation.Artifact {
	f := make(map[string]string, len(arcs)*3)
	for _, a := range arcs {
		key := "arc." + a.ID
		f[key+".name"] = a.Name
		f[key+".description"] = a.Description
		f[key+".characters"] = strings.Join(a.CharactersInvolved, ", ")
	}
	return validation.Artifact{Kind: KindArcs, Fields: f}
}

func outlineArtifact(o Outline) validation.Artifact {
	f := map[string]string{"headline": o.Headline}
	for _, s := range o.Sections {
		f[sectionField(s.Name)] = strings.Join(s.Beats, "\n")
	}
	return validation.Artifact{Kind: KindOutline, Fields: f}
}

func articleArtifact(a Article) validation.Artifact {
	f := map[string]string{"headline": a.Headline, "byline": a.Byline}
	for _, s := range a.Sections {
		f[sectionField(s.Name)] = s.Content
	}
	return validation.Artifact{Kind: KindArticle, Fields: f}
}

// checkArcs finds structural problems the rule engine cannot express.
func checkArcs(arcs []Arc, allowed []string) []validation.Issue {
	if len(arcs) == 0 {
		return []validation.Issue{structural("arcs", "arcs-present", "no arcs were proposed")}
	}
	ok := make(map[string]struct{}, len(allowed))
	for _, id := range allowed {
		ok[id] = struct{}{}
	}

	var out []validation.Issue
	seen := make(map[string]struct{}, len(arcs))
	for i, a := range arcs {
		field := "arc." + a.ID
		if a.ID == "" {
			field = fmt.Sprintf("arc[%d]", i)
			out = append(out, structural(field, "arc-id", "arc has no id"))
		} else if _, dup := seen[a.ID]; dup {
			out = append(out, structural(field, "arc-id", "duplicate arc id"))
		}
		seen[a.ID] = struct{}{}

		if strings.TrimSpace(a.Name) == "" {
			out = append(out, structural(field, "arc-name", "arc has no name"))
		}
		if len(a.SupportingEvidenceIDs) == 0 {
			out = append(out, structural(field, "arc-evidence", "arc cites no evidence"))
		}
		for _, id := range a.SupportingEvidenceIDs {
			if _, known := ok[id]; !known {
				out = append(out, structural(field, "arc-evidence", fmt.Sprintf("evidence %q is not in the case file", id)))
			}
		}
		if a.Strength < 1 || a.Strength > 5 {
			out = append(out, structural(field, "arc-strength", fmt.Sprintf("strength %d outside 1..5", a.Strength)))
		}
		if !a.PlayerEmphasis.Valid() {
			out = append(out, structural(field, "arc-emphasis", fmt.Sprintf("unknown player emphasis %q", a.PlayerEmphasis)))
		}
	}
	return out
}

// checkCitations flags evidence ids an outline section cites that are not
// in the case file.
func checkCitations(o Outline, allowed []string) []validation.Issue {
	ok := make(map[string]struct{}, len(allowed))
	for _, id := range allowed {
		ok[id] = struct{}{}
	}
	var out []validation.Issue
	for _, s := range o.Sections {
		for _, id := range s.EvidenceIDs {
			if _, known := ok[id]; !known {
				out = append(out, structural(sectionField(s.Name), "outline-evidence", fmt.Sprintf("evidence %q is not in the case file", id)))
			}
		}
	}
	return out
}

func structural(field, rule, detail string) validation.Issue {
	return validation.Issue{Field: field, Type: validation.Structural, Rule: rule, Detail: detail}
}

// tokenPattern matches id as a whole token, so tok-1 does not match inside
// tok-10 or tok-1b.
func tokenPattern(id string) string {
	return `(?:^|[^A-Za-z0-9_-])` + regexp.QuoteMeta(id) + `(?:$|[^A-Za-z0-9_-])`
}
