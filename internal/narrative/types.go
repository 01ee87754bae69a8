// Package narrative turns a curated evidence bundle into arcs, an outline
// and an article, validating every artifact before it is surfaced.
package narrative

import (
	"fmt"
	"strings"

	"github.com/starford/casefile/internal/validation"
)

// Emphasis is how strongly the players pushed an arc.
type Emphasis string

const (
	EmphasisHigh   Emphasis = "HIGH"
	EmphasisMedium Emphasis = "MEDIUM"
	EmphasisLow    Emphasis = "LOW"
)

// Valid reports whether e is a known emphasis.
func (e Emphasis) Valid() bool {
	switch e {
	case EmphasisHigh, EmphasisMedium, EmphasisLow:
		return true
	}
	return false
}

// Arc is a candidate storyline.
type Arc struct {
	ID                    string   `json:"id" jsonschema:"description=Short stable identifier such as arc-1"`
	Name                  string   `json:"name"`
	Description           string   `json:"description"`
	SupportingEvidenceIDs []string `json:"supportingEvidenceIds" jsonschema:"description=Token or photo ids from the case file"`
	Strength              int      `json:"strength" jsonschema:"minimum=1,maximum=5"`
	PlayerEmphasis        Emphasis `json:"playerEmphasis" jsonschema:"enum=HIGH,enum=MEDIUM,enum=LOW"`
	CharactersInvolved    []string `json:"charactersInvolved"`
}

// ArcSet is one generated set of arcs. Approved sets are never modified; a
// revision produces a new set.
type ArcSet struct {
	Revision int   `json:"revision"`
	Arcs     []Arc `json:"arcs"`
}

// Select returns the arcs with the given ids, in set order, and the ids
// that matched nothing.
func (s ArcSet) Select(ids []string) ([]Arc, []string) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = false
	}
	var out []Arc
	for _, a := range s.Arcs {
		if _, ok := want[a.ID]; ok {
			out = append(out, a)
			want[a.ID] = true
		}
	}
	var missing []string
	for _, id := range ids {
		if !want[id] {
			missing = append(missing, id)
			want[id] = true
		}
	}
	return out, missing
}

// OutlineSection is one planned section of the article.
type OutlineSection struct {
	Name        string   `json:"name"`
	Beats       []string `json:"beats"`
	EvidenceIDs []string `json:"evidenceIds"`
}

// Outline is the article plan.
type Outline struct {
	Headline string           `json:"headline"`
	Sections []OutlineSection `json:"sections"`
}

// ArticleSection is one written section.
type ArticleSection struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Article is the finished piece.
type Article struct {
	Headline string           `json:"headline"`
	Byline   string           `json:"byline"`
	Sections []ArticleSection `json:"sections"`
}

// Markdown renders the article.
func (a Article) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", a.Headline)
	if a.Byline != "" {
		fmt.Fprintf(&b, "_%s_\n\n", a.Byline)
	}
	for _, s := range a.Sections {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", s.Name, strings.TrimSpace(s.Content))
	}
	return b.String()
}

// Attempt records one generation try of a phase.
type Attempt struct {
	N      int                `json:"n"`
	Report *validation.Report `json:"report,omitempty"`
	Error  string             `json:"error,omitempty"`
}

type arcsEnvelope struct {
	Arcs []Arc `json:"arcs"`
}
