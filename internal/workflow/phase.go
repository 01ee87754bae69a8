// Package workflow drives a session through curation and generation,
// pausing at typed checkpoints for human approval.
package workflow

import (
	"fmt"

	"github.com/starford/casefile/internal/apperr"
)

// Phase is a workflow state.
type Phase string

const (
	PhaseInputReview      Phase = "input-review"
	PhaseEvidenceCuration Phase = "evidence-curation"
	PhaseArcSelection     Phase = "arc-selection"
	PhaseOutline          Phase = "outline"
	PhaseArticle          Phase = "article"
	PhaseComplete         Phase = "complete"
	PhaseError            Phase = "error"
)

// Pipeline lists the phases in order.
var Pipeline = []Phase{
	PhaseInputReview,
	PhaseEvidenceCuration,
	PhaseArcSelection,
	PhaseOutline,
	PhaseArticle,
	PhaseComplete,
}

// CheckpointType names a human approval point.
type CheckpointType string

const (
	CheckpointInputReview    CheckpointType = "input-review"
	CheckpointEvidenceBundle CheckpointType = "evidence-bundle"
	CheckpointArcSelection   CheckpointType = "arc-selection"
	CheckpointOutline        CheckpointType = "outline"
	CheckpointArticle        CheckpointType = "article"
)

var checkpointPhase = map[CheckpointType]Phase{
	CheckpointInputReview:    PhaseInputReview,
	CheckpointEvidenceBundle: PhaseEvidenceCuration,
	CheckpointArcSelection:   PhaseArcSelection,
	CheckpointOutline:        PhaseOutline,
	CheckpointArticle:        PhaseArticle,
}

// Phase returns the phase that raises checkpoints of type t.
func (t CheckpointType) Phase() Phase { return checkpointPhase[t] }

// ParseCheckpointType validates s.
func ParseCheckpointType(s string) (CheckpointType, error) {
	t := CheckpointType(s)
	if _, ok := checkpointPhase[t]; !ok {
		return "", apperr.New(apperr.KindCheckpointMismatch, fmt.Sprintf("workflow: unknown checkpoint %q", s))
	}
	return t, nil
}

// transitions lists the forward moves allowed from each phase. Rollback is
// the only way back.
var transitions = map[Phase][]Phase{
	PhaseInputReview:      {PhaseEvidenceCuration, PhaseError},
	PhaseEvidenceCuration: {PhaseArcSelection, PhaseError},
	PhaseArcSelection:     {PhaseOutline, PhaseError},
	PhaseOutline:          {PhaseArticle, PhaseError},
	PhaseArticle:          {PhaseComplete, PhaseError},
}

func ensureTransition(from, to Phase) error {
	for _, p := range transitions[from] {
		if p == to {
			return nil
		}
	}
	return apperr.New(apperr.KindConflict, fmt.Sprintf("workflow: invalid transition %s -> %s", from, to))
}

func phaseIndex(p Phase) int {
	for i, q := range Pipeline {
		if q == p {
			return i
		}
	}
	return -1
}

// after reports whether p comes strictly after q in the pipeline.
func after(p, q Phase) bool {
	return phaseIndex(p) > phaseIndex(q)
}
