package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/casefile/internal/apperr"
	"github.com/starford/casefile/internal/evidence"
	"github.com/starford/casefile/internal/models"
	"github.com/starford/casefile/internal/narrative"
	"github.com/starford/casefile/internal/progress"
	gate "github.com/starford/casefile/internal/validation"
)

type records map[string]models.Entity

func (r records) add(t models.EntityType, id string, payload any) records {
	data, _ := json.Marshal(payload)
	r[id] = models.Entity{RemoteID: id, Type: t, LastModified: time.Now(), Payload: data}
	return r
}

func (r records) FetchByIDs(_ context.Context, t models.EntityType, ids []string) ([]models.Entity, error) {
	var out []models.Entity
	for _, id := range ids {
		if e, ok := r[id]; ok && e.Type == t {
			out = append(out, e)
		}
	}
	return out, nil
}

type stubNarrator struct {
	mu        sync.Mutex
	calls     map[string]int
	revisions map[string][]string
	arcsErr   error
}

func newStubNarrator() *stubNarrator {
	return &stubNarrator{calls: map[string]int{}, revisions: map[string][]string{}}
}

func (s *stubNarrator) record(phase string, in narrative.Input) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[phase]++
	s.revisions[phase] = append(s.revisions[phase], in.Revision)
}

func (s *stubNarrator) count(phase string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[phase]
}

func valid() gate.Report { return gate.Report{Valid: true, Issues: []gate.Issue{}} }

func (s *stubNarrator) Analyze(_ context.Context, in narrative.Input) (narrative.Synthesis, error) {
	s.record("analyze", in)
	return narrative.Synthesis{Roles: map[string]string{"Marcus": "instigator"}}, nil
}

func (s *stubNarrator) Arcs(_ context.Context, in narrative.Input, _ narrative.Synthesis, revision int) (narrative.Result[narrative.ArcSet], error) {
	s.record("arcs", in)
	if s.arcsErr != nil {
		return narrative.Result[narrative.ArcSet]{}, s.arcsErr
	}
	return narrative.Result[narrative.ArcSet]{
		Artifact: narrative.ArcSet{Revision: revision, Arcs: []narrative.Arc{
			{ID: "arc-1", Name: "Money", SupportingEvidenceIDs: []string{"tok-1"}, Strength: 4, PlayerEmphasis: narrative.EmphasisHigh},
			{ID: "arc-2", Name: "Party", SupportingEvidenceIDs: []string{"photo-1"}, Strength: 2, PlayerEmphasis: narrative.EmphasisLow},
		}},
		Report:   valid(),
		Attempts: []narrative.Attempt{{N: 1}},
	}, nil
}

func (s *stubNarrator) Outline(_ context.Context, in narrative.Input, arcs []narrative.Arc) (narrative.Result[narrative.Outline], error) {
	s.record("outline", in)
	return narrative.Result[narrative.Outline]{
		Artifact: narrative.Outline{Headline: fmt.Sprintf("%d arcs", len(arcs)), Sections: []narrative.OutlineSection{{Name: "Lede"}}},
		Report:   valid(),
	}, nil
}

func (s *stubNarrator) Article(_ context.Context, in narrative.Input, o narrative.Outline) (narrative.Result[narrative.Article], error) {
	s.record("article", in)
	return narrative.Result[narrative.Article]{
		Artifact: narrative.Article{Headline: o.Headline, Sections: []narrative.ArticleSection{{Name: "Lede", Content: "It happened."}}},
		Report:   valid(),
	}, nil
}

type harness struct {
	engine   *Engine
	store    *MemoryStore
	narrator *stubNarrator
	events   *progress.Recorder
	recs     records
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	recs := records{}.
		add(models.EntityToken, "tok-1", models.Token{ID: "tok-1", Name: "Ledger", FullDescription: "Cooked books."}).
		add(models.EntityToken, "tok-2", models.Token{ID: "tok-2", Name: "Secret", FullDescription: "never shown"}).
		add(models.EntityPhoto, "photo-1", models.Photo{ID: "photo-1", Caption: "Bar"}).
		add(models.EntityCharacter, "char-marcus", models.Character{ID: "char-marcus", Name: "Marcus"})

	h := &harness{store: NewMemoryStore(), narrator: newStubNarrator(), events: &progress.Recorder{}, recs: recs}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	h.engine = NewEngine(h.store, evidence.NewCurator(recs), recs, h.narrator, h.events, cfg, logger)
	t.Cleanup(h.engine.Close)
	return h
}

func input() SessionInput {
	return SessionInput{
		Title:        "Game 12",
		CharacterIDs: []string{"char-marcus", "char-ghost"},
		CurateInput: evidence.CurateInput{
			ExposedTokenIDs: []string{"tok-1"},
			BuriedTokenIDs:  []string{"tok-2"},
			Transactions: []evidence.RawTransaction{
				{TokenID: "tok-2", Amount: 5000, Account: "Offshore", FullDescription: "never shown"},
			},
			DirectorNotes: evidence.RawDirectorNotes{Observations: "Marcus hovered by the safe."},
			PhotoIDs:      []string{"photo-1"},
		},
	}
}

func (h *harness) approve(t *testing.T, id string, resp Response) *State {
	t.Helper()
	st, err := h.engine.Approve(context.Background(), id, resp, "")
	require.NoError(t, err)
	return st
}

// toArticle runs a session up to the article checkpoint.
func (h *harness) toArticle(t *testing.T, id string) *State {
	t.Helper()
	_, err := h.engine.Start(context.Background(), id, input())
	require.NoError(t, err)
	h.approve(t, id, Response{Type: CheckpointInputReview, Approved: true})
	h.approve(t, id, Response{Type: CheckpointEvidenceBundle, Approved: true})
	h.approve(t, id, Response{Type: CheckpointArcSelection, SelectedArcIDs: []string{"arc-1"}})
	return h.approve(t, id, Response{Type: CheckpointOutline, Approved: true})
}

func TestSessionRunsToCompletion(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	st, err := h.engine.Start(ctx, "s1", input())
	require.NoError(t, err)
	assert.Equal(t, PhaseInputReview, st.Phase)
	assert.Equal(t, StatusWaiting, st.Status)
	require.NotNil(t, st.Pending)
	review := st.Pending.Payload.InputReview
	require.NotNil(t, review)
	assert.Equal(t, []string{"char-ghost"}, review.MissingCharacters)
	require.Len(t, review.Roster, 1)
	assert.Equal(t, "Marcus", review.Roster[0].Name)

	st = h.approve(t, "s1", Response{Type: CheckpointInputReview, Approved: true})
	assert.Equal(t, PhaseEvidenceCuration, st.Phase)
	bundle := st.Pending.Payload.EvidenceBundle
	require.NotNil(t, bundle)
	require.Len(t, bundle.Buried, 1)
	assert.Equal(t, int64(5000), bundle.Buried[0].Amount)

	st = h.approve(t, "s1", Response{Type: CheckpointEvidenceBundle, Approved: true})
	assert.Equal(t, PhaseArcSelection, st.Phase)
	require.NotNil(t, st.Pending.Payload.ArcSelection)
	assert.Len(t, st.Pending.Payload.ArcSelection.ArcSet.Arcs, 2)

	st = h.approve(t, "s1", Response{Type: CheckpointArcSelection, SelectedArcIDs: []string{"arc-2"}})
	assert.Equal(t, PhaseOutline, st.Phase)
	require.Len(t, st.Selected, 1)
	assert.Equal(t, "1 arcs", st.Outline.Outline.Headline)

	st = h.approve(t, "s1", Response{Type: CheckpointOutline, Approved: true})
	assert.Equal(t, PhaseArticle, st.Phase)
	assert.Contains(t, st.Pending.Payload.Article.Markdown, "It happened.")

	st = h.approve(t, "s1", Response{Type: CheckpointArticle, Approved: true})
	assert.Equal(t, PhaseComplete, st.Phase)
	assert.Equal(t, StatusComplete, st.Status)
	assert.Nil(t, st.Pending)

	ready := 0
	for _, typ := range h.events.Types() {
		if typ == progress.CheckpointReady {
			ready++
		}
	}
	assert.Equal(t, 5, ready)

	snaps, err := h.engine.History(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, snaps, 5)
}

func TestBuriedContentNeverReachesState(t *testing.T) {
	h := newHarness(t, Config{})
	st := h.toArticle(t, "s1")
	data, err := json.Marshal(st.Bundle)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "never shown")
}

func TestApproveRejectsMismatchedResponse(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	_, err := h.engine.Start(ctx, "s1", input())
	require.NoError(t, err)

	_, err = h.engine.Approve(ctx, "s1", Response{Type: CheckpointArcSelection, SelectedArcIDs: []string{"arc-1"}}, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrCheckpointMismatch))

	_, err = h.engine.Approve(ctx, "s1", Response{Type: CheckpointInputReview}, "")
	assert.True(t, errors.Is(err, apperr.ErrCheckpointMismatch))

	st, err := h.engine.State(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, PhaseInputReview, st.Phase)
	require.NotNil(t, st.Pending, "workflow stays paused")
	assert.Equal(t, CheckpointInputReview, st.Pending.Type)
}

func TestResponseShapes(t *testing.T) {
	arcs := &Checkpoint{Type: CheckpointArcSelection, Payload: Payload{ArcSelection: &ArcSelection{
		ArcSet: narrative.ArcSet{Arcs: []narrative.Arc{{ID: "arc-1"}}},
	}}}
	outline := &Checkpoint{Type: CheckpointOutline}
	bundle := &Checkpoint{Type: CheckpointEvidenceBundle}

	cases := []struct {
		name string
		cp   *Checkpoint
		resp Response
		ok   bool
	}{
		{"select", arcs, Response{Type: CheckpointArcSelection, SelectedArcIDs: []string{"arc-1"}}, true},
		{"arc feedback", arcs, Response{Type: CheckpointArcSelection, Feedback: "more money"}, true},
		{"select and feedback", arcs, Response{Type: CheckpointArcSelection, SelectedArcIDs: []string{"arc-1"}, Feedback: "x"}, false},
		{"unknown arc", arcs, Response{Type: CheckpointArcSelection, SelectedArcIDs: []string{"arc-9"}}, false},
		{"empty selection", arcs, Response{Type: CheckpointArcSelection}, false},
		{"approve arcs", arcs, Response{Type: CheckpointArcSelection, Approved: true, SelectedArcIDs: []string{"arc-1"}}, false},
		{"outline approve", outline, Response{Type: CheckpointOutline, Approved: true}, true},
		{"outline feedback", outline, Response{Type: CheckpointOutline, Feedback: "shorter"}, true},
		{"outline both", outline, Response{Type: CheckpointOutline, Approved: true, Feedback: "shorter"}, false},
		{"outline neither", outline, Response{Type: CheckpointOutline}, false},
		{"bundle feedback", bundle, Response{Type: CheckpointEvidenceBundle, Approved: true, Feedback: "no"}, false},
		{"no pending", nil, Response{Type: CheckpointOutline, Approved: true}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.resp.Validate(tc.cp)
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperr.ErrCheckpointMismatch), err.Error())
		})
	}
}

func TestApproveWithStaleChecksumConflicts(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	st, err := h.engine.Start(ctx, "s1", input())
	require.NoError(t, err)

	_, err = h.engine.Approve(ctx, "s1", Response{Type: CheckpointInputReview, Approved: true}, `"stale"`)
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	_, err = h.engine.Approve(ctx, "s1", Response{Type: CheckpointInputReview, Approved: true}, `"`+st.Pending.Checksum+`"`)
	require.NoError(t, err)
}

func TestInterruptIsIdempotent(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	st := newState("s1", input(), time.Now())
	require.NoError(t, h.store.Create(ctx, st))

	payload := Payload{Outline: &OutlineReview{Outline: narrative.Outline{Headline: "H"}}}
	_, suspended, err := h.engine.interrupt(ctx, st, CheckpointOutline, payload)
	require.NoError(t, err)
	assert.True(t, suspended)
	first := st.Pending

	_, suspended, err = h.engine.interrupt(ctx, st, CheckpointOutline, payload)
	require.NoError(t, err)
	assert.True(t, suspended)
	assert.Same(t, first, st.Pending, "pending checkpoint is not raised twice")

	resume := &Response{Type: CheckpointOutline, Approved: true}
	st.Resume[CheckpointOutline] = resume
	for i := 0; i < 2; i++ {
		got, suspended, err := h.engine.interrupt(ctx, st, CheckpointOutline, payload)
		require.NoError(t, err)
		assert.False(t, suspended)
		assert.Same(t, resume, got)
	}

	snaps, err := h.store.Snapshots(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
}

func TestFeedbackRegeneratesWithNote(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	_, err := h.engine.Start(ctx, "s1", input())
	require.NoError(t, err)
	h.approve(t, "s1", Response{Type: CheckpointInputReview, Approved: true})
	h.approve(t, "s1", Response{Type: CheckpointEvidenceBundle, Approved: true})

	st := h.approve(t, "s1", Response{Type: CheckpointArcSelection, Feedback: "lean on the money"})
	assert.Equal(t, PhaseArcSelection, st.Phase)
	assert.Equal(t, 1, st.Pending.RevisionCount)
	assert.Equal(t, 1, st.Arcs.Set.Revision)
	assert.Equal(t, []string{"lean on the money"}, st.Feedback)

	assert.Equal(t, 1, h.narrator.count("analyze"), "specialists are not rerun for a revision")
	assert.Equal(t, 2, h.narrator.count("arcs"))
	assert.Equal(t, []string{"", "lean on the money"}, h.narrator.revisions["arcs"])
}

func TestRevisionCapEscalates(t *testing.T) {
	h := newHarness(t, Config{RevisionCaps: map[Phase]int{PhaseOutline: 1}})
	ctx := context.Background()
	_, err := h.engine.Start(ctx, "s1", input())
	require.NoError(t, err)
	h.approve(t, "s1", Response{Type: CheckpointInputReview, Approved: true})
	h.approve(t, "s1", Response{Type: CheckpointEvidenceBundle, Approved: true})
	h.approve(t, "s1", Response{Type: CheckpointArcSelection, SelectedArcIDs: []string{"arc-1"}})

	st := h.approve(t, "s1", Response{Type: CheckpointOutline, Feedback: "again"})
	assert.Equal(t, PhaseOutline, st.Phase)
	assert.False(t, st.Escalated[PhaseOutline])

	st = h.approve(t, "s1", Response{Type: CheckpointOutline, Feedback: "and again"})
	assert.Equal(t, PhaseArticle, st.Phase)
	assert.True(t, st.Escalated[PhaseOutline])
	assert.Equal(t, 2, h.narrator.count("outline"))
	assert.Equal(t, &Response{Type: CheckpointOutline, Approved: true}, st.Resume[CheckpointOutline])
}

func TestRollbackToArcSelectionDiscardsDownstream(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	st := h.toArticle(t, "s1")
	require.NotNil(t, st.Article)
	arcCalls := h.narrator.count("arcs")

	st, err := h.engine.Rollback(ctx, "s1", RollbackRequest{Target: CheckpointArcSelection})
	require.NoError(t, err)
	assert.Equal(t, PhaseArcSelection, st.Phase)
	assert.Nil(t, st.Outline)
	assert.Nil(t, st.Article)
	assert.Nil(t, st.Selected)
	require.NotNil(t, st.Pending)
	assert.Equal(t, CheckpointArcSelection, st.Pending.Type)
	assert.Equal(t, arcCalls, h.narrator.count("arcs"), "arcs are re-presented, not regenerated")

	got, err := h.engine.State(ctx, "s1")
	require.NoError(t, err)
	data, err := json.Marshal(got)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"outline":null`)
	assert.Contains(t, string(data), `"article":null`)

	snaps, err := h.store.Snapshots(ctx, "s1")
	require.NoError(t, err)
	for _, s := range snaps {
		assert.NotEqual(t, CheckpointOutline, s.Checkpoint)
		assert.NotEqual(t, CheckpointArticle, s.Checkpoint)
	}

	st = h.approve(t, "s1", Response{Type: CheckpointArcSelection, SelectedArcIDs: []string{"arc-1", "arc-2"}})
	assert.Equal(t, "2 arcs", st.Outline.Outline.Headline)
}

func TestRollbackWithFeedbackRegenerates(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	h.toArticle(t, "s1")

	st, err := h.engine.Rollback(ctx, "s1", RollbackRequest{
		Target:    CheckpointOutline,
		Overrides: &Overrides{Feedback: "open with the safe"},
	})
	require.NoError(t, err)
	assert.Equal(t, PhaseOutline, st.Phase)
	assert.Nil(t, st.Article)
	assert.Equal(t, 2, h.narrator.count("outline"))
	assert.Equal(t, "open with the safe", h.narrator.revisions["outline"][1])
	assert.Contains(t, st.Feedback, "open with the safe")
}

func TestRollbackToUnreachedCheckpoint(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	_, err := h.engine.Start(ctx, "s1", input())
	require.NoError(t, err)

	_, err = h.engine.Rollback(ctx, "s1", RollbackRequest{Target: CheckpointOutline})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	_, err = h.engine.Rollback(ctx, "s1", RollbackRequest{Target: "bogus"})
	assert.True(t, errors.Is(err, apperr.ErrCheckpointMismatch))

	_, err = h.engine.Rollback(ctx, "s1", RollbackRequest{Target: CheckpointOutline, Overrides: &Overrides{Input: &SessionInput{}}})
	assert.True(t, errors.Is(err, apperr.ErrCheckpointMismatch))
}

// failingRollback refuses every rollback write.
type failingRollback struct {
	*MemoryStore
}

func (failingRollback) RollbackTo(context.Context, *State, int64) (int, error) {
	return 0, errors.New("disk full")
}

func TestFailedRollbackKeepsStateAndHistory(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	h.toArticle(t, "s1")

	before, err := h.engine.History(ctx, "s1")
	require.NoError(t, err)

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	e := NewEngine(failingRollback{h.store}, evidence.NewCurator(h.recs), h.recs, h.narrator, h.events, Config{}, logger)
	t.Cleanup(e.Close)

	_, err = e.Rollback(ctx, "s1", RollbackRequest{Target: CheckpointArcSelection})
	require.Error(t, err)

	st, err := h.engine.State(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, PhaseArticle, st.Phase)
	assert.NotNil(t, st.Outline)
	assert.NotNil(t, st.Article)

	after, err := h.engine.History(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.NotContains(t, h.events.Types(), progress.SessionRolledBack)
}

func TestCurationInconsistencyFailsAndRollbackRecovers(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	in := input()
	in.ExposedTokenIDs = []string{"tok-1", "tok-missing"}

	_, err := h.engine.Start(ctx, "s1", in)
	require.NoError(t, err)
	st := h.approve(t, "s1", Response{Type: CheckpointInputReview, Approved: true})
	assert.Equal(t, PhaseError, st.Phase)
	assert.Equal(t, StatusFailed, st.Status)
	require.NotNil(t, st.Failure)
	assert.Equal(t, PhaseEvidenceCuration, st.Failure.Phase)
	assert.Equal(t, string(apperr.KindCurationInconsistency), st.Failure.Kind)
	assert.Contains(t, st.Failure.Message, "tok-missing")
	assert.Contains(t, h.events.Types(), progress.SessionFailed)

	fixed := input()
	st, err = h.engine.Rollback(ctx, "s1", RollbackRequest{Target: CheckpointInputReview, Overrides: &Overrides{Input: &fixed}})
	require.NoError(t, err)
	assert.Equal(t, PhaseInputReview, st.Phase)
	assert.Nil(t, st.Failure)

	st = h.approve(t, "s1", Response{Type: CheckpointInputReview, Approved: true})
	assert.Equal(t, PhaseEvidenceCuration, st.Phase)
	assert.Len(t, st.Bundle.Exposed, 1)
}

func TestPhaseErrorKeepsAttemptHistory(t *testing.T) {
	h := newHarness(t, Config{})
	h.narrator.arcsErr = &narrative.PhaseError{
		Phase:    narrative.KindArcs,
		Attempts: []narrative.Attempt{{N: 1, Error: "timeout"}, {N: 2, Error: "timeout"}},
		Err:      apperr.New(apperr.KindGenerationTimeout, "too slow"),
	}
	ctx := context.Background()
	_, err := h.engine.Start(ctx, "s1", input())
	require.NoError(t, err)
	h.approve(t, "s1", Response{Type: CheckpointInputReview, Approved: true})
	st := h.approve(t, "s1", Response{Type: CheckpointEvidenceBundle, Approved: true})

	assert.Equal(t, PhaseError, st.Phase)
	assert.Equal(t, string(apperr.KindGenerationTimeout), st.Failure.Kind)
	assert.Len(t, st.Failure.Attempts, 2)
}

func TestApproveCorrectedInput(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	_, err := h.engine.Start(ctx, "s1", input())
	require.NoError(t, err)

	fixed := input()
	fixed.CharacterIDs = []string{"char-marcus"}
	st := h.approve(t, "s1", Response{Type: CheckpointInputReview, Approved: true, Input: &fixed})
	assert.Equal(t, PhaseEvidenceCuration, st.Phase)
	assert.Empty(t, st.InputReview.MissingCharacters)
	assert.Equal(t, []string{"char-marcus"}, st.Input.CharacterIDs)
}

func TestStartValidation(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	_, err := h.engine.Start(ctx, "", input())
	assert.True(t, errors.Is(err, apperr.ErrValidationFailure))

	bad := input()
	bad.Transactions = append(bad.Transactions, evidence.RawTransaction{TokenID: "tok-2"})
	_, err = h.engine.Start(ctx, "s1", bad)
	assert.True(t, errors.Is(err, apperr.ErrValidationFailure))

	_, err = h.engine.Start(ctx, "s1", input())
	require.NoError(t, err)
	_, err = h.engine.Start(ctx, "s1", input())
	assert.True(t, errors.Is(err, apperr.ErrAlreadyExists))

	_, err = h.engine.Checkpoint(ctx, "nope")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestBackgroundRun(t *testing.T) {
	h := newHarness(t, Config{Background: true})
	ctx := context.Background()

	st, err := h.engine.Start(ctx, "s1", input())
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, st.Status)

	h.engine.Wait()
	cp, err := h.engine.Checkpoint(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, CheckpointInputReview, cp.Type)

	_, err = h.engine.Approve(ctx, "s1", Response{Type: CheckpointInputReview, Approved: true}, "")
	require.NoError(t, err)
	h.engine.Wait()
	cp, err = h.engine.Checkpoint(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, CheckpointEvidenceBundle, cp.Type)
}

func TestResumeAllPicksUpRunningSessions(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	st := newState("s1", input(), time.Now())
	require.NoError(t, h.store.Create(ctx, st))

	require.NoError(t, h.engine.ResumeAll(ctx))
	cp, err := h.engine.Checkpoint(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, CheckpointInputReview, cp.Type)
}

func TestTransitionsAreForwardOnly(t *testing.T) {
	require.NoError(t, ensureTransition(PhaseOutline, PhaseArticle))
	require.NoError(t, ensureTransition(PhaseArticle, PhaseError))
	assert.True(t, errors.Is(ensureTransition(PhaseArticle, PhaseOutline), apperr.ErrConflict))
	assert.True(t, errors.Is(ensureTransition(PhaseInputReview, PhaseArcSelection), apperr.ErrConflict))
	assert.Error(t, ensureTransition(PhaseComplete, PhaseInputReview))
}
