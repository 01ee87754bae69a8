package narrative

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/casefile/internal/apperr"
	"github.com/starford/casefile/internal/evidence"
	"github.com/starford/casefile/internal/generation"
	"github.com/starford/casefile/internal/models"
	"github.com/starford/casefile/internal/progress"
	"github.com/starford/casefile/internal/validation"
)

// labelGen answers by request label so concurrent callers stay deterministic.
type labelGen struct {
	mu      sync.Mutex
	replies map[string][]string
	calls   []generation.Request
}

func newLabelGen() *labelGen { return &labelGen{replies: map[string][]string{}} }

func (g *labelGen) on(label string, replies ...string) *labelGen {
	g.replies[label] = append(g.replies[label], replies...)
	return g
}

func (g *labelGen) Generate(_ context.Context, req generation.Request) (generation.Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, req)
	q := g.replies[req.Label]
	if len(q) == 0 {
		return generation.Response{}, fmt.Errorf("no reply for %s", req.Label)
	}
	text := q[0]
	if len(q) > 1 {
		g.replies[req.Label] = q[1:]
	}
	resp := generation.Response{Text: text}
	if req.Schema != nil {
		raw, err := generation.ExtractJSON(text)
		if err != nil {
			return resp, fmt.Errorf("%w: %w", generation.ErrMalformedResponse, err)
		}
		resp.Structured = raw
	}
	return resp, nil
}

func (g *labelGen) prompts(label string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for _, c := range g.calls {
		if c.Label == label {
			out = append(out, c.Prompt)
		}
	}
	return out
}

func quietLogger() *slog.Logger { return slog.New(slog.NewJSONHandler(io.Discard, nil)) }

func fixture() Input {
	return Input{
		SessionID: "s1",
		Bundle: evidence.Bundle{
			Exposed: []evidence.ExposedEvidence{
				{TokenID: "tok-ledger", Name: "Ledger", FullDescription: "Marcus cooked the books.", DisclosedBy: "Sarah", MemoryType: "Business"},
				{TokenID: "tok-party", Name: "Party", FullDescription: "Alex left early."},
			},
			Buried: []evidence.BuriedTransaction{
				{TokenID: "tok-secret", Amount: 125000, Account: "ChaseOffshore", At: time.Date(2025, 2, 14, 23, 0, 0, 0, time.UTC)},
				{TokenID: "tok-other", Amount: 5050, Account: "ChaseOffshore"},
			},
			DirectorNotes: evidence.DirectorNotes{Observations: "Sarah and Alex argued by the bar.", Whiteboard: "Marcus = suspect"},
			Photos:        []evidence.PhotoEvidence{{ID: "photo-1", Caption: "The bar at midnight"}},
		},
		Roster: []models.Character{{Name: "Sarah", Cluster: "JUSTICE"}, {Name: "Alex"}, {Name: "Marcus", Cluster: "COVERUP"}},
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

func testNarrator(gen generation.Generator, cfg Config) *Narrator {
	p, err := generation.DefaultPrompts()
	if err != nil {
		panic(err)
	}
	return New(gen, p, cfg, quietLogger())
}

func goodArc(id string, evidenceIDs ...string) Arc {
	return Arc{
		ID: id, Name: "The cover-up", Description: "Sarah, Alex and Marcus",
		SupportingEvidenceIDs: evidenceIDs, Strength: 4, PlayerEmphasis: EmphasisHigh,
		CharactersInvolved: []string{"Marcus"},
	}
}

func TestCompassShowsMoneyNotContent(t *testing.T) {
	in := fixture()
	c := BuildCompass(in.Bundle, in.Roster, []string{"more Marcus"})
	text := c.String()

	assert.Contains(t, text, "Sarah and Alex argued by the bar.")
	assert.Contains(t, text, "Marcus cooked the books.")
	assert.Contains(t, text, "account ChaseOffshore received $1300.50 for 2 memory(ies): tok-other, tok-secret")
	assert.Contains(t, text, "more Marcus")
	assert.Equal(t, []string{"Alex", "Marcus", "Sarah"}, c.Names())
	assert.Equal(t, []string{"business", "coverup", "justice"}, c.Themes)
}

func TestSynthesizeIsOrderIndependent(t *testing.T) {
	fin := Analysis{Specialist: SpecialistFinancial, CharacterRoles: map[string]string{"Marcus": "beneficiary", "Sarah": "payer"}}
	beh := Analysis{Specialist: SpecialistBehavioral, CharacterRoles: map[string]string{"Marcus": "instigator"}}
	vic := Analysis{Specialist: SpecialistVictimization, CharacterRoles: map[string]string{"Marcus": "perpetrator", "Alex": "victim"}}

	a := Synthesize([]Analysis{fin, beh, vic})
	b := Synthesize([]Analysis{vic, fin, beh})
	assert.Equal(t, a, b)

	assert.Equal(t, "instigator", a.Roles["Marcus"])
	assert.Equal(t, "payer", a.Roles["Sarah"])
	assert.Equal(t, "victim", a.Roles["Alex"])

	require.Len(t, a.Conflicts, 1)
	assert.Equal(t, "Marcus", a.Conflicts[0].Character)
	assert.Equal(t, SpecialistBehavioral, a.Conflicts[0].Chosen.Specialist)
	assert.Equal(t, []RoleClaim{
		{Specialist: SpecialistFinancial, Role: "beneficiary"},
		{Specialist: SpecialistVictimization, Role: "perpetrator"},
	}, a.Conflicts[0].Overruled)

	assert.Equal(t, SpecialistBehavioral, a.Analyses[0].Specialist)
	assert.Equal(t, SpecialistVictimization, a.Analyses[2].Specialist)
}

func TestAnalyzeRunsEverySpecialist(t *testing.T) {
	gen := newLabelGen().
		on("specialist.financial", `{"findings":["money moved"],"characterRoles":{"Marcus":"beneficiary"}}`).
		on("specialist.behavioral", `{"findings":["argument"],"characterRoles":{"Marcus":"instigator"}}`).
		on("specialist.victimization", `{"findings":["Alex harmed"],"characterRoles":{"Alex":"victim"}}`)

	syn, err := testNarrator(gen, Config{}).Analyze(context.Background(), fixture())
	require.NoError(t, err)
	require.Len(t, syn.Analyses, 3)
	assert.Equal(t, "instigator", syn.Roles["Marcus"])
	assert.Len(t, syn.Conflicts, 1)
	assert.Contains(t, syn.String(), "money moved")
}

func TestAnalyzeFailsWhenOneSpecialistFails(t *testing.T) {
	gen := newLabelGen().
		on("specialist.financial", `{"findings":[]}`).
		on("specialist.behavioral", `{"findings":[]}`)

	_, err := testNarrator(gen, Config{}).Analyze(context.Background(), fixture())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "victimization")
}

func TestArcsRegenerateUntilCitationsAreValid(t *testing.T) {
	bad := mustJSON(t, arcsEnvelope{Arcs: []Arc{goodArc("arc-1", "tok-ledger", "tok-ghost")}})
	good := mustJSON(t, arcsEnvelope{Arcs: []Arc{goodArc("arc-1", "tok-ledger", "tok-secret", "photo-1")}})
	gen := newLabelGen().on(KindArcs, bad, good)

	res, err := testNarrator(gen, Config{}).Arcs(context.Background(), fixture(), Synthesis{}, 2)
	require.NoError(t, err)
	assert.True(t, res.Report.Valid)
	assert.Equal(t, 2, res.Artifact.Revision)
	require.Len(t, res.Attempts, 2)
	assert.False(t, res.Attempts[0].Report.Valid)

	prompts := gen.prompts(KindArcs)
	require.Len(t, prompts, 2)
	assert.NotContains(t, prompts[0], "tok-ghost")
	assert.Contains(t, prompts[1], `evidence "tok-ghost" is not in the case file`)
}

func TestArcsSurfaceInvalidArtifactAfterCap(t *testing.T) {
	bad := mustJSON(t, arcsEnvelope{Arcs: []Arc{{ID: "arc-1", Name: "x", SupportingEvidenceIDs: []string{"tok-ledger"}, Strength: 9, PlayerEmphasis: "LOUD"}}})
	gen := newLabelGen().on(KindArcs, bad)

	res, err := testNarrator(gen, Config{MaxAttempts: 2}).Arcs(context.Background(), fixture(), Synthesis{}, 0)
	require.NoError(t, err)
	assert.False(t, res.Report.Valid)
	assert.Len(t, res.Attempts, 2)

	rules := map[string]bool{}
	for _, i := range res.Report.Structural() {
		rules[i.Rule] = true
	}
	assert.True(t, rules["arc-strength"])
	assert.True(t, rules["arc-emphasis"])
}

func TestArcsCarryReviewerRevision(t *testing.T) {
	good := mustJSON(t, arcsEnvelope{Arcs: []Arc{goodArc("arc-1", "tok-ledger")}})
	gen := newLabelGen().on(KindArcs, good)

	in := fixture()
	in.Revision = "focus on the money"
	_, err := testNarrator(gen, Config{}).Arcs(context.Background(), in, Synthesis{}, 1)
	require.NoError(t, err)
	assert.Contains(t, gen.prompts(KindArcs)[0], "focus on the money")
}

func TestOutlineRequiresConfiguredSections(t *testing.T) {
	cfg := Config{Sections: []string{"Lede", "Money"}}
	missing := mustJSON(t, Outline{Headline: "H", Sections: []OutlineSection{{Name: "Lede", Beats: []string{"Sarah", "Alex", "Marcus"}}}})
	complete := mustJSON(t, Outline{Headline: "H", Sections: []OutlineSection{
		{Name: "Lede", Beats: []string{"Sarah and Alex"}, EvidenceIDs: []string{"tok-ledger"}},
		{Name: "money", Beats: []string{"Marcus"}, EvidenceIDs: []string{"tok-secret"}},
	}})
	gen := newLabelGen().on(KindOutline, missing, complete)

	res, err := testNarrator(gen, cfg).Outline(context.Background(), fixture(), []Arc{goodArc("arc-1", "tok-ledger")})
	require.NoError(t, err)
	assert.True(t, res.Report.Valid)
	require.Len(t, res.Attempts, 2)
	assert.Equal(t, "section.money", res.Attempts[0].Report.Structural()[0].Field)
	assert.Contains(t, gen.prompts(KindOutline)[0], "Lede, Money")
}

func TestArticleMustNotNameBuriedTokens(t *testing.T) {
	cfg := Config{Sections: []string{"Lede"}, MaxAttempts: 1}
	leak := mustJSON(t, Article{Headline: "H", Sections: []ArticleSection{{Name: "Lede", Content: "Sarah, Alex and Marcus sold tok-secret."}}})
	gen := newLabelGen().on(KindArticle, leak)

	res, err := testNarrator(gen, cfg).Article(context.Background(), fixture(), Outline{Headline: "H"})
	require.NoError(t, err)
	assert.False(t, res.Report.Valid)
	require.Len(t, res.Report.Structural(), 1)
	assert.Equal(t, "buried-token-id", res.Report.Structural()[0].Rule)
	assert.Equal(t, "Nova, NeurAI Weekly", res.Artifact.Byline)
}

func TestBuriedTokenMatchesWholeIDsOnly(t *testing.T) {
	in := fixture()
	in.Bundle.Exposed = []evidence.ExposedEvidence{{TokenID: "tok-10", Name: "Ledger"}}
	in.Bundle.Buried = []evidence.BuriedTransaction{{TokenID: "tok-1", Amount: 500, Account: "Offshore"}}

	cases := []struct {
		text  string
		valid bool
	}{
		{"Sarah, Alex and Marcus read exposed memory tok-10.", true},
		{"Sarah, Alex and Marcus read tok-1b and tok-10b.", true},
		{"Sarah, Alex and Marcus read tok-1.", false},
		{"tok-1 was read by Sarah, Alex and Marcus.", false},
		{"Sarah, Alex and Marcus read (tok-1), then tok-10.", false},
	}
	for _, tc := range cases {
		art := mustJSON(t, Article{Headline: "H", Byline: "B", Sections: []ArticleSection{{Name: "Lede", Content: tc.text}}})
		gen := newLabelGen().on(KindArticle, art)

		res, err := testNarrator(gen, Config{Sections: []string{"Lede"}, MaxAttempts: 1}).Article(context.Background(), in, Outline{Headline: "H"})
		require.NoError(t, err, tc.text)
		assert.Equal(t, tc.valid, res.Report.Valid, tc.text)
	}
}

func TestArticleAdvisoryDoesNotBlock(t *testing.T) {
	cfg := Config{Sections: []string{"Lede"}}
	art := mustJSON(t, Article{Headline: "H", Byline: "B", Sections: []ArticleSection{{Name: "Lede", Content: "Only Sarah is named."}}})
	gen := newLabelGen().on(KindArticle, art)

	res, err := testNarrator(gen, cfg).Article(context.Background(), fixture(), Outline{Headline: "H"})
	require.NoError(t, err)
	assert.True(t, res.Report.Valid)
	assert.Len(t, res.Report.Advisory(), 2)
	assert.Len(t, res.Attempts, 1)
	assert.Contains(t, res.Artifact.Markdown(), "## Lede")
}

func TestConfigRulesApply(t *testing.T) {
	rules, err := validation.Compile([]validation.Rule{{Name: "no-dash", Kind: validation.KindLiteral, Pattern: "--", Forbid: true, Artifact: KindArticle}})
	require.NoError(t, err)
	art := mustJSON(t, Article{Headline: "H -- bad", Byline: "B", Sections: []ArticleSection{{Name: "Lede", Content: "Sarah Alex Marcus"}}})
	gen := newLabelGen().on(KindArticle, art)

	res, err := testNarrator(gen, Config{Sections: []string{"Lede"}, Rules: rules, MaxAttempts: 1}).
		Article(context.Background(), fixture(), Outline{})
	require.NoError(t, err)
	assert.False(t, res.Report.Valid)
	assert.Equal(t, "no-dash", res.Report.Structural()[0].Rule)
}

func TestProseReplyIsRetried(t *testing.T) {
	valid := mustJSON(t, Outline{Headline: "H", Sections: []OutlineSection{
		{Name: "Lede", Beats: []string{"Sarah, Alex and Marcus"}, EvidenceIDs: []string{"tok-ledger"}},
	}})
	fake := generation.NewFake("Sorry, here is my plan in prose.", valid)
	client := generation.NewClient(fake, nil, 0, nil, quietLogger())

	res, err := testNarrator(client, Config{Sections: []string{"Lede"}, MaxAttempts: 3}).
		Outline(context.Background(), fixture(), []Arc{goodArc("arc-1", "tok-ledger")})
	require.NoError(t, err)
	assert.True(t, res.Report.Valid)
	assert.Equal(t, "H", res.Artifact.Headline)
	require.Len(t, res.Attempts, 2)
	assert.Contains(t, res.Attempts[0].Error, "malformed response")
	require.Len(t, fake.Calls(), 2)
	assert.Contains(t, fake.Calls()[1].Prompt, "not a valid JSON object")
}

func TestMalformedResponsesFailThePhase(t *testing.T) {
	gen := newLabelGen().on(KindOutline, "no plan today")

	_, err := testNarrator(gen, Config{MaxAttempts: 2}).Outline(context.Background(), fixture(), nil)
	require.Error(t, err)
	var pe *PhaseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, KindOutline, pe.Phase)
	assert.Len(t, pe.Attempts, 2)
	assert.Len(t, gen.prompts(KindOutline), 2)
	assert.True(t, errors.Is(err, apperr.ErrValidationFailure))
}

func TestAttemptsEmitProgress(t *testing.T) {
	bad := mustJSON(t, arcsEnvelope{Arcs: []Arc{goodArc("arc-1", "tok-nope")}})
	good := mustJSON(t, arcsEnvelope{Arcs: []Arc{goodArc("arc-1", "tok-ledger")}})
	gen := newLabelGen().on(KindArcs, bad, good)
	rec := &progress.Recorder{}

	res, err := testNarrator(gen, Config{MaxAttempts: 3, Emitter: rec}).Arcs(context.Background(), fixture(), Synthesis{}, 0)
	require.NoError(t, err)
	require.True(t, res.Report.Valid)

	var got []progress.Event
	for _, ev := range rec.Events() {
		if ev.Type == progress.GenerationProgress {
			got = append(got, ev)
		}
	}
	require.Len(t, got, 2)
	for i, ev := range got {
		assert.Equal(t, "s1", ev.SessionID)
		assert.Equal(t, KindArcs, ev.Phase)
		data := ev.Data.(map[string]any)
		assert.Equal(t, i+1, data["attempt"])
		assert.Equal(t, 3, data["maxAttempts"])
	}
	assert.NotContains(t, got[0].Data, "issues")
	assert.Contains(t, got[1].Data, "issues")
}

func TestTimeoutsAreRetriedThenSurfaced(t *testing.T) {
	fake := &generation.Fake{}
	fake.Always(generation.Reply{Text: "late", Delay: time.Second})
	client := generation.NewClient(fake, map[generation.Tier]generation.TierConfig{
		generation.TierStandard: {Model: "m", Timeout: 10 * time.Millisecond},
	}, 0, nil, quietLogger())

	_, err := testNarrator(client, Config{MaxAttempts: 2}).Arcs(context.Background(), fixture(), Synthesis{}, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrGenerationTimeout))

	var pe *PhaseError
	require.True(t, errors.As(err, &pe))
	assert.Len(t, pe.Attempts, 2)
	assert.Len(t, fake.Calls(), 2)
	assert.True(t, strings.Contains(pe.Attempts[0].Error, "timeout"))
}

func TestArcSetSelect(t *testing.T) {
	set := ArcSet{Arcs: []Arc{{ID: "a"}, {ID: "b"}, {ID: "c"}}}
	got, missing := set.Select([]string{"c", "a", "zz", "zz"})
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, []string{"zz"}, missing)
}
