package workflow

import (
	"encoding/json"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/casefile/internal/evidence"
	"github.com/starford/casefile/internal/models"
	"github.com/starford/casefile/internal/narrative"
	gate "github.com/starford/casefile/internal/validation"
)

// SessionInput is what a director submits after a game.
type SessionInput struct {
	Title        string   `json:"title,omitempty"`
	CharacterIDs []string `json:"characterIds,omitempty"`
	evidence.CurateInput
}

// Validate checks the input shape. Referential checks happen during
// curation.
func (in *SessionInput) Validate() error {
	if err := validation.ValidateStruct(in,
		validation.Field(&in.CharacterIDs, validation.Each(validation.Required)),
	); err != nil {
		return err
	}
	c := &in.CurateInput
	if err := validation.ValidateStruct(c,
		validation.Field(&c.ExposedTokenIDs, validation.Each(validation.Required)),
		validation.Field(&c.BuriedTokenIDs, validation.Each(validation.Required)),
		validation.Field(&c.PhotoIDs, validation.Each(validation.Required)),
	); err != nil {
		return err
	}
	for i := range c.Transactions {
		tx := &c.Transactions[i]
		if err := validation.ValidateStruct(tx,
			validation.Field(&tx.TokenID, validation.Required),
			validation.Field(&tx.Account, validation.Required),
			validation.Field(&tx.Amount, validation.Min(int64(0))),
		); err != nil {
			return validation.Errors{"transactions": err}
		}
	}
	return nil
}

// Status is the coarse run state of a session.
type Status string

const (
	StatusRunning  Status = "running"
	StatusWaiting  Status = "waiting"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Failure describes why a session entered the error phase.
type Failure struct {
	Phase    Phase               `json:"phase"`
	Kind     string              `json:"kind,omitempty"`
	Message  string              `json:"message"`
	Attempts []narrative.Attempt `json:"attempts,omitempty"`
}

// ArcsResult is the stored outcome of arc generation.
type ArcsResult struct {
	Set      narrative.ArcSet    `json:"set"`
	Report   gate.Report         `json:"report"`
	Attempts []narrative.Attempt `json:"attempts"`
}

// OutlineResult is the stored outcome of outline generation.
type OutlineResult struct {
	Outline  narrative.Outline   `json:"outline"`
	Report   gate.Report         `json:"report"`
	Attempts []narrative.Attempt `json:"attempts"`
}

// ArticleResult is the stored outcome of article generation.
type ArticleResult struct {
	Article  narrative.Article   `json:"article"`
	Report   gate.Report         `json:"report"`
	Attempts []narrative.Attempt `json:"attempts"`
}

// State is everything a session has produced. Artifact fields are nil until
// their phase runs and are cleared again by rollback.
type State struct {
	SessionID string `json:"sessionId"`
	Phase     Phase  `json:"phase"`
	Status    Status `json:"status"`

	Input       SessionInput         `json:"input"`
	InputReview *InputReview         `json:"inputReview"`
	Roster      []models.Character   `json:"roster"`
	Bundle      *evidence.Bundle     `json:"bundle"`
	Synthesis   *narrative.Synthesis `json:"synthesis"`
	Arcs        *ArcsResult          `json:"arcs"`
	Selected    []narrative.Arc      `json:"selectedArcs"`
	Outline     *OutlineResult       `json:"outline"`
	Article     *ArticleResult       `json:"article"`

	Pending   *Checkpoint                  `json:"pendingCheckpoint"`
	Resume    map[CheckpointType]*Response `json:"resume"`
	Revisions map[Phase]int                `json:"revisions"`
	Escalated map[Phase]bool               `json:"escalated"`
	// Feedback is every reviewer note, oldest first.
	Feedback []string `json:"feedback"`
	// Revision holds the note the next generation of a phase must address.
	Revision map[Phase]string `json:"revision"`
	Failure  *Failure         `json:"failure"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func newState(id string, in SessionInput, now time.Time) *State {
	st := &State{
		SessionID: id,
		Phase:     PhaseInputReview,
		Status:    StatusRunning,
		Input:     in,
		CreatedAt: now,
		UpdatedAt: now,
	}
	st.init()
	return st
}

// UnmarshalJSON decodes a stored state and restores its empty maps.
func (st *State) UnmarshalJSON(data []byte) error {
	type plain State
	if err := json.Unmarshal(data, (*plain)(st)); err != nil {
		return err
	}
	st.init()
	return nil
}

func (st *State) init() {
	if st.Resume == nil {
		st.Resume = make(map[CheckpointType]*Response)
	}
	if st.Revisions == nil {
		st.Revisions = make(map[Phase]int)
	}
	if st.Escalated == nil {
		st.Escalated = make(map[Phase]bool)
	}
	if st.Revision == nil {
		st.Revision = make(map[Phase]string)
	}
}

// clearFrom drops the artifact and resume data of phase p and of every
// later phase.
func (st *State) clearFrom(p Phase) {
	for _, q := range Pipeline {
		if q != p && !after(q, p) {
			continue
		}
		st.clearPhase(q)
	}
	st.Pending = nil
	st.Failure = nil
}

// clearAfter drops everything later phases produced, keeping p's own
// artifact.
func (st *State) clearAfter(p Phase) {
	for _, q := range Pipeline {
		if after(q, p) {
			st.clearPhase(q)
		}
	}
	for typ := range st.Resume {
		if typ.Phase() == p {
			delete(st.Resume, typ)
		}
	}
	if p == PhaseArcSelection {
		st.Selected = nil
	}
	st.Pending = nil
	st.Failure = nil
}

func (st *State) clearPhase(p Phase) {
	switch p {
	case PhaseInputReview:
		st.InputReview = nil
		st.Roster = nil
	case PhaseEvidenceCuration:
		st.Bundle = nil
	case PhaseArcSelection:
		st.Synthesis = nil
		st.Arcs = nil
		st.Selected = nil
	case PhaseOutline:
		st.Outline = nil
	case PhaseArticle:
		st.Article = nil
	}
	for typ := range st.Resume {
		if typ.Phase() == p {
			delete(st.Resume, typ)
		}
	}
	delete(st.Escalated, p)
	delete(st.Revision, p)
}

func (st *State) narrativeInput() narrative.Input {
	in := narrative.Input{
		SessionID: st.SessionID,
		Roster:    st.Roster,
		Feedback:  st.Feedback,
	}
	if st.Bundle != nil {
		in.Bundle = *st.Bundle
	}
	return in
}
