package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/starford/casefile/internal/apperr"
	"github.com/starford/casefile/internal/checksum"
	"github.com/starford/casefile/internal/evidence"
	"github.com/starford/casefile/internal/models"
	"github.com/starford/casefile/internal/narrative"
	"github.com/starford/casefile/internal/progress"
)

// DefaultRevisionCap bounds reviewer-requested regenerations per phase.
const DefaultRevisionCap = 3

// Curator builds evidence bundles.
type Curator interface {
	Curate(ctx context.Context, in evidence.CurateInput) (evidence.Bundle, error)
}

// Narrator generates the narrative artifacts.
type Narrator interface {
	Analyze(ctx context.Context, in narrative.Input) (narrative.Synthesis, error)
	Arcs(ctx context.Context, in narrative.Input, syn narrative.Synthesis, revision int) (narrative.Result[narrative.ArcSet], error)
	Outline(ctx context.Context, in narrative.Input, arcs []narrative.Arc) (narrative.Result[narrative.Outline], error)
	Article(ctx context.Context, in narrative.Input, outline narrative.Outline) (narrative.Result[narrative.Article], error)
}

// Config tunes the engine.
type Config struct {
	// RevisionCaps overrides DefaultCap per phase.
	RevisionCaps map[Phase]int
	DefaultCap   int
	// Background runs phases in a goroutine; Start, Approve and Rollback
	// then return as soon as the request is recorded.
	Background bool
}

// Engine runs sessions. Operations on one session are serialized.
type Engine struct {
	store    Store
	curator  Curator
	roster   evidence.Loader
	narrator Narrator
	emitter  progress.Emitter
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine returns an Engine. roster loads character records for the
// session cast. A nil emitter discards progress events.
func NewEngine(store Store, curator Curator, roster evidence.Loader, narrator Narrator, emitter progress.Emitter, cfg Config, logger *slog.Logger) *Engine {
	if emitter == nil {
		emitter = progress.Nop
	}
	if cfg.DefaultCap <= 0 {
		cfg.DefaultCap = DefaultRevisionCap
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:    store,
		curator:  curator,
		roster:   roster,
		narrator: narrator,
		emitter:  emitter,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
		locks:    make(map[string]*sync.Mutex),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Close cancels background runs and waits for them to stop.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
}

// Wait blocks until no background run is in flight.
func (e *Engine) Wait() { e.wg.Wait() }

func (e *Engine) lock(id string) func() {
	e.mu.Lock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (e *Engine) revisionCap(p Phase) int {
	if n, ok := e.cfg.RevisionCaps[p]; ok && n >= 0 {
		return n
	}
	return e.cfg.DefaultCap
}

// Start creates session id and runs it to its first checkpoint.
func (e *Engine) Start(ctx context.Context, id string, in SessionInput) (*State, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperr.New(apperr.KindValidationFailure, "workflow: session id is required")
	}
	if err := in.Validate(); err != nil {
		return nil, apperr.Wrap(apperr.KindValidationFailure, "workflow: invalid session input", err)
	}

	unlock := e.lock(id)
	defer unlock()

	st := newState(id, in, e.now())
	if err := e.store.Create(ctx, st); err != nil {
		return nil, err
	}
	e.logger.Info("workflow: session started", slog.String("session", id))
	e.emit(st, progress.PhaseEntered, string(st.Phase), nil)
	return e.run(ctx, st)
}

// State returns the session state.
func (e *Engine) State(ctx context.Context, id string) (*State, error) {
	return e.store.Get(ctx, id)
}

// Checkpoint returns the pending checkpoint, or ErrNotFound when the
// session is not waiting for a decision.
func (e *Engine) Checkpoint(ctx context.Context, id string) (*Checkpoint, error) {
	st, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if st.Pending == nil {
		return nil, apperr.WithMetadata(apperr.KindNotFound,
			fmt.Sprintf("workflow: session %s has no pending checkpoint", id),
			map[string]string{"phase": string(st.Phase), "status": string(st.Status)})
	}
	return st.Pending, nil
}

// List returns every session.
func (e *Engine) List(ctx context.Context) ([]Summary, error) {
	return e.store.List(ctx)
}

// History returns the checkpoint snapshots of a session, oldest first.
func (e *Engine) History(ctx context.Context, id string) ([]Snapshot, error) {
	if _, err := e.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return e.store.Snapshots(ctx, id)
}

// Approve resolves the pending checkpoint with resp and resumes the
// session. ifMatch, when set, must match the pending checkpoint checksum.
func (e *Engine) Approve(ctx context.Context, id string, resp Response, ifMatch string) (*State, error) {
	unlock := e.lock(id)
	defer unlock()

	st, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if st.Pending != nil && !checksum.Match(ifMatch, st.Pending.Checksum) {
		return nil, apperr.WithMetadata(apperr.KindConflict,
			"workflow: checkpoint has changed since it was read",
			map[string]string{"checksum": st.Pending.Checksum})
	}
	if err := resp.Validate(st.Pending); err != nil {
		return nil, err
	}

	typ := st.Pending.Type
	st.Resume[typ] = &resp
	st.Pending = nil
	st.Status = StatusRunning
	e.emit(st, progress.CheckpointResolved, string(typ), resp)
	if err := e.save(ctx, st); err != nil {
		return nil, err
	}
	return e.run(ctx, st)
}

// Overrides adjust the state a rollback re-enters with.
type Overrides struct {
	// Input replaces the session input. Only valid with the input-review
	// target.
	Input *SessionInput `json:"input,omitempty"`
	// Feedback is added to the reviewer notes and forces regeneration.
	Feedback string `json:"feedback,omitempty"`
	// Regenerate discards the target's own artifact too.
	Regenerate bool `json:"regenerate,omitempty"`
}

// RollbackRequest names the checkpoint to return to.
type RollbackRequest struct {
	Target    CheckpointType `json:"targetCheckpoint"`
	Overrides *Overrides     `json:"overrides,omitempty"`
}

// Rollback restores the state captured when the target checkpoint was
// raised, discards everything produced after it and re-enters it. The
// target's own snapshot is kept so a failed re-entry can be rolled back
// again.
func (e *Engine) Rollback(ctx context.Context, id string, req RollbackRequest) (*State, error) {
	target, err := ParseCheckpointType(string(req.Target))
	if err != nil {
		return nil, err
	}
	var ov Overrides
	if req.Overrides != nil {
		ov = *req.Overrides
	}
	if ov.Input != nil {
		if target != CheckpointInputReview {
			return nil, apperr.New(apperr.KindCheckpointMismatch,
				fmt.Sprintf("workflow: an input override needs target %s, not %s", CheckpointInputReview, target))
		}
		if err := ov.Input.Validate(); err != nil {
			return nil, apperr.Wrap(apperr.KindValidationFailure, "workflow: invalid session input", err)
		}
	}

	unlock := e.lock(id)
	defer unlock()

	cur, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	snap, err := e.store.LatestSnapshot(ctx, id, target)
	if err != nil {
		return nil, err
	}
	st := snap.State
	st.init()
	st.SessionID = cur.SessionID
	st.CreatedAt = cur.CreatedAt
	phase := target.Phase()
	st.Phase = phase

	if ov.Regenerate || ov.Feedback != "" || ov.Input != nil {
		st.clearFrom(phase)
	} else {
		st.clearAfter(phase)
	}
	if ov.Input != nil {
		st.Input = *ov.Input
	}
	if fb := strings.TrimSpace(ov.Feedback); fb != "" {
		st.Feedback = append(st.Feedback, fb)
		st.Revision[phase] = fb
	}
	st.Status = StatusRunning
	st.UpdatedAt = e.now()

	dropped, err := e.store.RollbackTo(ctx, st, snap.Seq+1)
	if err != nil {
		return nil, fmt.Errorf("workflow: roll back session %s: %w", id, err)
	}

	e.logger.Info("workflow: rolled back",
		slog.String("session", id),
		slog.String("target", string(target)),
		slog.String("from", string(cur.Phase)),
		slog.Int("snapshots_dropped", dropped))
	e.emit(st, progress.SessionRolledBack, string(target), map[string]any{
		"from":             cur.Phase,
		"snapshotsDropped": dropped,
	})
	return e.run(ctx, st)
}

// Resume continues a session left running, for example by a restart.
// Sessions that are waiting, complete or failed are returned unchanged.
func (e *Engine) Resume(ctx context.Context, id string) (*State, error) {
	unlock := e.lock(id)
	defer unlock()

	st, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if st.Status != StatusRunning {
		return st, nil
	}
	return e.run(ctx, st)
}

// ResumeAll resumes every running session.
func (e *Engine) ResumeAll(ctx context.Context) error {
	list, err := e.store.List(ctx)
	if err != nil {
		return err
	}
	for _, s := range list {
		if s.Status != StatusRunning {
			continue
		}
		if _, err := e.Resume(ctx, s.ID); err != nil {
			e.logger.Warn("workflow: resume failed", slog.String("session", s.ID), slog.String("error", err.Error()))
		}
	}
	return nil
}

// run advances st inline, or hands it to a goroutine in background mode.
// The caller holds the session lock.
func (e *Engine) run(ctx context.Context, st *State) (*State, error) {
	if !e.cfg.Background {
		if err := e.advance(ctx, st); err != nil {
			return nil, err
		}
		return st, nil
	}

	id := st.SessionID
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		unlock := e.lock(id)
		defer unlock()

		fresh, err := e.store.Get(e.ctx, id)
		if err != nil {
			e.logger.Error("workflow: load session", slog.String("session", id), slog.String("error", err.Error()))
			return
		}
		if fresh.Status != StatusRunning {
			return
		}
		if err := e.advance(e.ctx, fresh); err != nil {
			e.logger.Error("workflow: advance", slog.String("session", id), slog.String("error", err.Error()))
		}
	}()
	return st, nil
}

// advance runs phases until the session suspends at a checkpoint,
// completes or fails. Phase failures put the session in the error phase;
// only store failures are returned.
func (e *Engine) advance(ctx context.Context, st *State) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var (
			next      Phase
			suspended bool
			err       error
		)
		switch st.Phase {
		case PhaseInputReview:
			next, suspended, err = e.inputReview(ctx, st)
		case PhaseEvidenceCuration:
			next, suspended, err = e.curation(ctx, st)
		case PhaseArcSelection:
			next, suspended, err = e.arcSelection(ctx, st)
		case PhaseOutline:
			next, suspended, err = e.outline(ctx, st)
		case PhaseArticle:
			next, suspended, err = e.article(ctx, st)
		case PhaseComplete:
			st.Status = StatusComplete
			return e.save(ctx, st)
		case PhaseError:
			st.Status = StatusFailed
			return e.save(ctx, st)
		default:
			return fmt.Errorf("workflow: unknown phase %q", st.Phase)
		}

		if err != nil {
			return e.fail(ctx, st, err)
		}
		if suspended {
			return nil
		}
		if next == "" {
			continue
		}
		if err := ensureTransition(st.Phase, next); err != nil {
			return err
		}
		st.Phase = next
		e.emit(st, progress.PhaseEntered, string(next), nil)
		if err := e.save(ctx, st); err != nil {
			return err
		}
	}
}

// interrupt returns the stored resume data for typ when present, so a
// replayed phase does not ask twice. Otherwise it raises a checkpoint with
// payload, snapshots the state and reports suspension.
func (e *Engine) interrupt(ctx context.Context, st *State, typ CheckpointType, payload Payload) (*Response, bool, error) {
	if resp := st.Resume[typ]; resp != nil {
		return resp, false, nil
	}
	if st.Pending != nil && st.Pending.Type == typ {
		return nil, true, nil
	}

	cp, err := newCheckpoint(typ, payload, st.Revisions[typ.Phase()], e.now())
	if err != nil {
		return nil, false, err
	}
	st.Pending = cp
	st.Status = StatusWaiting
	if _, err := e.store.AppendSnapshot(ctx, st.SessionID, typ, st); err != nil {
		return nil, false, fmt.Errorf("workflow: snapshot: %w", err)
	}
	if err := e.save(ctx, st); err != nil {
		return nil, false, err
	}
	e.logger.Info("workflow: checkpoint ready",
		slog.String("session", st.SessionID),
		slog.String("checkpoint", string(typ)),
		slog.Int("revision", cp.RevisionCount))
	e.emit(st, progress.CheckpointReady, string(typ), map[string]any{
		"type":     typ,
		"checksum": cp.Checksum,
		"revision": cp.RevisionCount,
	})
	return nil, true, nil
}

// revise records reviewer feedback for p. It reports true when the phase
// should regenerate, false when the revision cap forces escalation.
func (e *Engine) revise(st *State, p Phase, typ CheckpointType, feedback string) bool {
	feedback = strings.TrimSpace(feedback)
	st.Feedback = append(st.Feedback, feedback)
	if st.Revisions[p] >= e.revisionCap(p) {
		st.Escalated[p] = true
		e.logger.Warn("workflow: revision cap reached, escalating",
			slog.String("session", st.SessionID),
			slog.String("phase", string(p)),
			slog.Int("revisions", st.Revisions[p]))
		e.emit(st, progress.CheckpointResolved, string(typ), map[string]any{"escalated": true})
		return false
	}
	st.Revisions[p]++
	st.Revision[p] = feedback
	delete(st.Resume, typ)
	return true
}

func (e *Engine) inputReview(ctx context.Context, st *State) (Phase, bool, error) {
	if st.InputReview == nil {
		review, roster, err := e.review(ctx, st.Input)
		if err != nil {
			return "", false, err
		}
		st.InputReview, st.Roster = review, roster
	}

	resp, suspended, err := e.interrupt(ctx, st, CheckpointInputReview, Payload{InputReview: st.InputReview})
	if err != nil || suspended {
		return "", suspended, err
	}
	if resp.Input != nil {
		review, roster, err := e.review(ctx, *resp.Input)
		if err != nil {
			return "", false, err
		}
		st.Input = *resp.Input
		st.InputReview, st.Roster = review, roster
		st.Resume[CheckpointInputReview] = &Response{Type: CheckpointInputReview, Approved: true}
	}
	return PhaseEvidenceCuration, false, nil
}

// review resolves the cast and summarizes in.
func (e *Engine) review(ctx context.Context, in SessionInput) (*InputReview, []models.Character, error) {
	roster := []models.Character{}
	var missing []string
	if len(in.CharacterIDs) > 0 {
		ents, err := e.roster.FetchByIDs(ctx, models.EntityCharacter, in.CharacterIDs)
		if err != nil {
			return nil, nil, fmt.Errorf("workflow: load roster: %w", err)
		}
		found := make(map[string]models.Character, len(ents))
		for _, ent := range ents {
			var ch models.Character
			if err := ent.Decode(&ch); err != nil {
				return nil, nil, fmt.Errorf("workflow: decode character %s: %w", ent.RemoteID, err)
			}
			if ch.ID == "" {
				ch.ID = ent.RemoteID
			}
			found[ent.RemoteID] = ch
		}
		seen := make(map[string]bool)
		for _, id := range in.CharacterIDs {
			if seen[id] {
				continue
			}
			seen[id] = true
			if ch, ok := found[id]; ok {
				roster = append(roster, ch)
			} else {
				missing = append(missing, id)
			}
		}
	}

	r := &InputReview{
		Title:             in.Title,
		Roster:            roster,
		MissingCharacters: missing,
		Exposed:           len(in.ExposedTokenIDs),
		Buried:            len(in.BuriedTokenIDs),
		Transactions:      len(in.Transactions),
		Photos:            len(in.PhotoIDs),
		HasObservations:   strings.TrimSpace(in.DirectorNotes.Observations) != "",
	}
	if !r.HasObservations {
		r.Warnings = append(r.Warnings, "director observations are empty")
	}
	buried := make(map[string]bool, len(in.BuriedTokenIDs))
	for _, id := range in.BuriedTokenIDs {
		buried[id] = true
	}
	for _, tx := range in.Transactions {
		if !buried[tx.TokenID] {
			r.Warnings = append(r.Warnings, fmt.Sprintf("transaction for %s, which is not listed as buried, will be ignored", tx.TokenID))
		}
	}
	return r, roster, nil
}

func (e *Engine) curation(ctx context.Context, st *State) (Phase, bool, error) {
	if st.Bundle == nil {
		b, err := e.curator.Curate(ctx, st.Input.CurateInput)
		if err != nil {
			return "", false, err
		}
		st.Bundle = &b
	}

	_, suspended, err := e.interrupt(ctx, st, CheckpointEvidenceBundle, Payload{EvidenceBundle: st.Bundle})
	if err != nil || suspended {
		return "", suspended, err
	}
	return PhaseArcSelection, false, nil
}

func (e *Engine) arcSelection(ctx context.Context, st *State) (Phase, bool, error) {
	in := st.narrativeInput()
	in.Revision = st.Revision[PhaseArcSelection]

	if st.Synthesis == nil {
		syn, err := e.narrator.Analyze(ctx, in)
		if err != nil {
			return "", false, err
		}
		st.Synthesis = &syn
	}
	if st.Arcs == nil {
		res, err := e.narrator.Arcs(ctx, in, *st.Synthesis, st.Revisions[PhaseArcSelection])
		if err != nil {
			return "", false, err
		}
		st.Arcs = &ArcsResult{Set: res.Artifact, Report: res.Report, Attempts: res.Attempts}
		delete(st.Revision, PhaseArcSelection)
	}

	resp, suspended, err := e.interrupt(ctx, st, CheckpointArcSelection, Payload{ArcSelection: &ArcSelection{
		ArcSet:    st.Arcs.Set,
		Synthesis: *st.Synthesis,
		Report:    st.Arcs.Report,
		Attempts:  st.Arcs.Attempts,
	}})
	if err != nil || suspended {
		return "", suspended, err
	}

	if resp.Feedback != "" {
		if e.revise(st, PhaseArcSelection, CheckpointArcSelection, resp.Feedback) {
			st.Arcs = nil
			return "", false, nil
		}
		ids := make([]string, 0, len(st.Arcs.Set.Arcs))
		for _, a := range st.Arcs.Set.Arcs {
			ids = append(ids, a.ID)
		}
		st.Resume[CheckpointArcSelection] = &Response{Type: CheckpointArcSelection, SelectedArcIDs: ids}
		st.Selected = append([]narrative.Arc(nil), st.Arcs.Set.Arcs...)
		return PhaseOutline, false, nil
	}

	st.Selected, _ = st.Arcs.Set.Select(resp.SelectedArcIDs)
	return PhaseOutline, false, nil
}

func (e *Engine) outline(ctx context.Context, st *State) (Phase, bool, error) {
	if st.Outline == nil {
		in := st.narrativeInput()
		in.Revision = st.Revision[PhaseOutline]
		res, err := e.narrator.Outline(ctx, in, st.Selected)
		if err != nil {
			return "", false, err
		}
		st.Outline = &OutlineResult{Outline: res.Artifact, Report: res.Report, Attempts: res.Attempts}
		delete(st.Revision, PhaseOutline)
	}

	resp, suspended, err := e.interrupt(ctx, st, CheckpointOutline, Payload{Outline: &OutlineReview{
		Outline:  st.Outline.Outline,
		Report:   st.Outline.Report,
		Attempts: st.Outline.Attempts,
	}})
	if err != nil || suspended {
		return "", suspended, err
	}
	if resp.Feedback != "" {
		if e.revise(st, PhaseOutline, CheckpointOutline, resp.Feedback) {
			st.Outline = nil
			return "", false, nil
		}
		st.Resume[CheckpointOutline] = &Response{Type: CheckpointOutline, Approved: true}
	}
	return PhaseArticle, false, nil
}

func (e *Engine) article(ctx context.Context, st *State) (Phase, bool, error) {
	if st.Article == nil {
		in := st.narrativeInput()
		in.Revision = st.Revision[PhaseArticle]
		res, err := e.narrator.Article(ctx, in, st.Outline.Outline)
		if err != nil {
			return "", false, err
		}
		st.Article = &ArticleResult{Article: res.Artifact, Report: res.Report, Attempts: res.Attempts}
		delete(st.Revision, PhaseArticle)
	}

	resp, suspended, err := e.interrupt(ctx, st, CheckpointArticle, Payload{Article: &ArticleReview{
		Article:  st.Article.Article,
		Markdown: st.Article.Article.Markdown(),
		Report:   st.Article.Report,
		Attempts: st.Article.Attempts,
	}})
	if err != nil || suspended {
		return "", suspended, err
	}
	if resp.Feedback != "" {
		if e.revise(st, PhaseArticle, CheckpointArticle, resp.Feedback) {
			st.Article = nil
			return "", false, nil
		}
		st.Resume[CheckpointArticle] = &Response{Type: CheckpointArticle, Approved: true}
	}
	return PhaseComplete, false, nil
}

// fail moves st to the error phase. Cancellation is returned as is so an
// interrupted run can be resumed.
func (e *Engine) fail(ctx context.Context, st *State, cause error) error {
	if ctx.Err() != nil {
		return cause
	}

	f := &Failure{Phase: st.Phase, Kind: string(apperr.KindOf(cause)), Message: cause.Error()}
	var pe *narrative.PhaseError
	if errors.As(cause, &pe) {
		f.Attempts = pe.Attempts
	}
	if err := ensureTransition(st.Phase, PhaseError); err != nil {
		return err
	}
	st.Failure = f
	st.Phase = PhaseError
	st.Status = StatusFailed
	st.Pending = nil

	e.logger.Error("workflow: phase failed",
		slog.String("session", st.SessionID),
		slog.String("phase", string(f.Phase)),
		slog.String("error", cause.Error()))
	e.emit(st, progress.SessionFailed, cause.Error(), f)
	return e.save(ctx, st)
}

func (e *Engine) save(ctx context.Context, st *State) error {
	st.UpdatedAt = e.now()
	if err := e.store.Save(ctx, st); err != nil {
		return fmt.Errorf("workflow: save session %s: %w", st.SessionID, err)
	}
	return nil
}

func (e *Engine) emit(st *State, typ, msg string, data any) {
	if data != nil {
		// Detach payloads from the live state.
		if raw, err := json.Marshal(data); err == nil {
			data = json.RawMessage(raw)
		}
	}
	e.emitter.Emit(progress.Event{
		Type:      typ,
		SessionID: st.SessionID,
		Phase:     string(st.Phase),
		Message:   msg,
		Data:      data,
		At:        e.now(),
	})
}
