package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/starford/casefile/internal/narrative"
	"github.com/starford/casefile/internal/storage"
	"github.com/starford/casefile/internal/validation"
)

// Narrator returns canned, valid artifacts without calling a model.
// Its arcs cite tok-ledger and photo-bar.
type Narrator struct{}

// Analyze implements workflow.Narrator.
func (Narrator) Analyze(context.Context, narrative.Input) (narrative.Synthesis, error) {
	return narrative.Synthesis{Roles: map[string]string{"Marcus": "instigator"}}, nil
}

// Arcs implements workflow.Narrator.
func (Narrator) Arcs(_ context.Context, _ narrative.Input, _ narrative.Synthesis, revision int) (narrative.Result[narrative.ArcSet], error) {
	return narrative.Result[narrative.ArcSet]{
		Artifact: narrative.ArcSet{Revision: revision, Arcs: []narrative.Arc{
			{ID: "arc-money", Name: "Follow the money", SupportingEvidenceIDs: []string{"tok-ledger"}, Strength: 5, PlayerEmphasis: narrative.EmphasisHigh},
			{ID: "arc-bar", Name: "The bar", SupportingEvidenceIDs: []string{"photo-bar"}, Strength: 2, PlayerEmphasis: narrative.EmphasisLow},
		}},
		Report: validation.Report{Valid: true},
	}, nil
}

// Outline implements workflow.Narrator.
func (Narrator) Outline(_ context.Context, _ narrative.Input, arcs []narrative.Arc) (narrative.Result[narrative.Outline], error) {
	return narrative.Result[narrative.Outline]{
		Artifact: narrative.Outline{Headline: fmt.Sprintf("%d threads", len(arcs)), Sections: []narrative.OutlineSection{{Name: "Lede"}}},
		Report:   validation.Report{Valid: true},
	}, nil
}

// Article implements workflow.Narrator.
func (Narrator) Article(_ context.Context, _ narrative.Input, o narrative.Outline) (narrative.Result[narrative.Article], error) {
	return narrative.Result[narrative.Article]{
		Artifact: narrative.Article{Headline: o.Headline, Sections: []narrative.ArticleSection{{Name: "Lede", Content: "Marcus kept the ledger."}}},
		Report:   validation.Report{Valid: true},
	}, nil
}

// WriteCase writes the records Narrator's arcs refer to: tokens tok-ledger
// (exposed) and tok-secret (buried), photo photo-bar and character
// char-marcus.
func WriteCase(t *testing.T, store storage.Provider) {
	t.Helper()
	WriteRecord(t, store, "token", "tok-ledger", "name: Ledger\nowners: [Marcus]\n", "Marcus cooked the books.")
	WriteRecord(t, store, "token", "tok-secret", "name: Secret\n", "Never to be printed.")
	WriteRecord(t, store, "photo", "photo-bar", "caption: The bar at midnight\n", "")
	WriteRecord(t, store, "character", "char-marcus", "name: Marcus\ncluster: coverup\n", "")
}
