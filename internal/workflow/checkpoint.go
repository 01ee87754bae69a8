package workflow

import (
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/casefile/internal/apperr"
	"github.com/starford/casefile/internal/checksum"
	"github.com/starford/casefile/internal/evidence"
	"github.com/starford/casefile/internal/models"
	"github.com/starford/casefile/internal/narrative"
	gate "github.com/starford/casefile/internal/validation"
)

// InputReview summarizes the submitted session input for confirmation.
type InputReview struct {
	Title             string             `json:"title,omitempty"`
	Roster            []models.Character `json:"roster"`
	MissingCharacters []string           `json:"missingCharacters,omitempty"`
	Exposed           int                `json:"exposed"`
	Buried            int                `json:"buried"`
	Transactions      int                `json:"transactions"`
	Photos            int                `json:"photos"`
	HasObservations   bool               `json:"hasObservations"`
	Warnings          []string           `json:"warnings,omitempty"`
}

// ArcSelection is the payload of the arc-selection checkpoint.
type ArcSelection struct {
	ArcSet    narrative.ArcSet    `json:"arcSet"`
	Synthesis narrative.Synthesis `json:"synthesis"`
	Report    gate.Report         `json:"report"`
	Attempts  []narrative.Attempt `json:"attempts"`
}

// OutlineReview is the payload of the outline checkpoint.
type OutlineReview struct {
	Outline  narrative.Outline   `json:"outline"`
	Report   gate.Report         `json:"report"`
	Attempts []narrative.Attempt `json:"attempts"`
}

// ArticleReview is the payload of the article checkpoint.
type ArticleReview struct {
	Article  narrative.Article   `json:"article"`
	Markdown string              `json:"markdown"`
	Report   gate.Report         `json:"report"`
	Attempts []narrative.Attempt `json:"attempts"`
}

// Payload is a tagged union: exactly the field matching the checkpoint
// type is set.
type Payload struct {
	InputReview    *InputReview     `json:"inputReview,omitempty"`
	EvidenceBundle *evidence.Bundle `json:"evidenceBundle,omitempty"`
	ArcSelection   *ArcSelection    `json:"arcSelection,omitempty"`
	Outline        *OutlineReview   `json:"outline,omitempty"`
	Article        *ArticleReview   `json:"article,omitempty"`
}

func (p Payload) kind() (CheckpointType, bool) {
	var set []CheckpointType
	if p.InputReview != nil {
		set = append(set, CheckpointInputReview)
	}
	if p.EvidenceBundle != nil {
		set = append(set, CheckpointEvidenceBundle)
	}
	if p.ArcSelection != nil {
		set = append(set, CheckpointArcSelection)
	}
	if p.Outline != nil {
		set = append(set, CheckpointOutline)
	}
	if p.Article != nil {
		set = append(set, CheckpointArticle)
	}
	if len(set) != 1 {
		return "", false
	}
	return set[0], true
}

// Checkpoint is a pending human decision.
type Checkpoint struct {
	Type          CheckpointType `json:"type"`
	Phase         Phase          `json:"phase"`
	Payload       Payload        `json:"payload"`
	RevisionCount int            `json:"revisionCount"`
	Checksum      string         `json:"checksum"`
	CreatedAt     time.Time      `json:"createdAt"`
}

func newCheckpoint(typ CheckpointType, payload Payload, revisions int, now time.Time) (*Checkpoint, error) {
	if k, ok := payload.kind(); !ok || k != typ {
		return nil, fmt.Errorf("workflow: payload does not match checkpoint %s", typ)
	}
	sum, err := checksum.Of(struct {
		Type     CheckpointType `json:"type"`
		Payload  Payload        `json:"payload"`
		Revision int            `json:"revision"`
	}{typ, payload, revisions})
	if err != nil {
		return nil, err
	}
	return &Checkpoint{
		Type:          typ,
		Phase:         typ.Phase(),
		Payload:       payload,
		RevisionCount: revisions,
		Checksum:      sum,
		CreatedAt:     now,
	}, nil
}

// Response resolves a checkpoint. Which fields are allowed depends on Type:
//
//	input-review     {approved: true, input?}
//	evidence-bundle  {approved: true}
//	arc-selection    {selectedArcIds} or {feedback}
//	outline, article {approved: true} or {feedback}
type Response struct {
	Type           CheckpointType `json:"type"`
	Approved       bool           `json:"approved,omitempty"`
	Input          *SessionInput  `json:"input,omitempty"`
	SelectedArcIDs []string       `json:"selectedArcIds,omitempty"`
	Feedback       string         `json:"feedback,omitempty"`
}

// Validate checks r against the checkpoint it answers.
func (r Response) Validate(cp *Checkpoint) error {
	if cp == nil {
		return apperr.New(apperr.KindCheckpointMismatch, "workflow: no checkpoint is pending")
	}
	if r.Type != cp.Type {
		return apperr.WithMetadata(apperr.KindCheckpointMismatch,
			fmt.Sprintf("workflow: response for %q does not match pending checkpoint %q", r.Type, cp.Type),
			map[string]string{"expected": string(cp.Type), "got": string(r.Type)})
	}

	hasFeedback := strings.TrimSpace(r.Feedback) != ""
	var err error
	switch cp.Type {
	case CheckpointInputReview:
		err = validation.ValidateStruct(&r,
			validation.Field(&r.Approved, validation.Required.Error("must be true")),
			validation.Field(&r.SelectedArcIDs, validation.Empty),
			validation.Field(&r.Feedback, validation.Empty),
		)
		if err == nil && r.Input != nil {
			err = r.Input.Validate()
		}
	case CheckpointEvidenceBundle:
		err = validation.ValidateStruct(&r,
			validation.Field(&r.Approved, validation.Required.Error("must be true")),
			validation.Field(&r.Input, validation.Nil),
			validation.Field(&r.SelectedArcIDs, validation.Empty),
			validation.Field(&r.Feedback, validation.Empty),
		)
	case CheckpointArcSelection:
		err = validation.ValidateStruct(&r,
			validation.Field(&r.Approved, validation.Empty),
			validation.Field(&r.Input, validation.Nil),
			validation.Field(&r.SelectedArcIDs,
				validation.Required.When(!hasFeedback).Error("select at least one arc or give feedback"),
				validation.Empty.When(hasFeedback).Error("cannot select arcs and give feedback"),
				validation.Each(validation.Required)),
		)
		if err == nil && !hasFeedback && cp.Payload.ArcSelection != nil {
			if _, missing := cp.Payload.ArcSelection.ArcSet.Select(r.SelectedArcIDs); len(missing) > 0 {
				return apperr.WithMetadata(apperr.KindCheckpointMismatch,
					fmt.Sprintf("workflow: unknown arc ids: %s", strings.Join(missing, ", ")),
					map[string]string{"unknown": strings.Join(missing, ",")})
			}
		}
	case CheckpointOutline, CheckpointArticle:
		err = validation.ValidateStruct(&r,
			validation.Field(&r.Approved,
				validation.Required.When(!hasFeedback).Error("approve or give feedback"),
				validation.Empty.When(hasFeedback).Error("cannot approve and give feedback")),
			validation.Field(&r.Input, validation.Nil),
			validation.Field(&r.SelectedArcIDs, validation.Empty),
		)
	default:
		err = fmt.Errorf("unknown checkpoint type %q", cp.Type)
	}
	if err != nil {
		return apperr.Wrap(apperr.KindCheckpointMismatch,
			fmt.Sprintf("workflow: invalid %s response", cp.Type), err)
	}
	return nil
}
