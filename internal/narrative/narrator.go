package narrative

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/starford/casefile/internal/apperr"
	"github.com/starford/casefile/internal/evidence"
	"github.com/starford/casefile/internal/generation"
	"github.com/starford/casefile/internal/models"
	"github.com/starford/casefile/internal/progress"
	"github.com/starford/casefile/internal/validation"
)

// DefaultSections are the article sections used when none are configured.
var DefaultSections = []string{"Lede", "The Night", "Follow the Money", "The Players", "What Remains Buried"}

// DefaultMaxAttempts bounds automatic regeneration of an invalid artifact.
const DefaultMaxAttempts = 3

// Config tunes the narrator.
type Config struct {
	Sections    []string
	MaxAttempts int
	Byline      string
	Rules       []validation.Rule
	// Emitter receives a generation.progress event per attempt.
	Emitter progress.Emitter
}

// Input is what every phase writes from.
type Input struct {
	SessionID string
	Bundle    evidence.Bundle
	Roster    []models.Character
	// Feedback is every reviewer note given so far in the session.
	Feedback []string
	// Revision is the reviewer note the current generation must address.
	Revision string
}

// Result is a validated artifact with the history that produced it. A
// result whose Report is invalid exhausted its attempts.
type Result[T any] struct {
	Artifact T                 `json:"artifact"`
	Report   validation.Report `json:"report"`
	Attempts []Attempt         `json:"attempts"`
}

// PhaseError is returned when no attempt produced a usable artifact.
type PhaseError struct {
	Phase    string
	Attempts []Attempt
	Err      error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("narrative: %s failed after %d attempt(s): %v", e.Phase, len(e.Attempts), e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

// Narrator runs the generation phases.
type Narrator struct {
	gen     generation.Generator
	prompts *generation.Prompts
	cfg     Config
	logger  *slog.Logger
}

// New returns a Narrator.
func New(gen generation.Generator, prompts *generation.Prompts, cfg Config, logger *slog.Logger) *Narrator {
	if len(cfg.Sections) == 0 {
		cfg.Sections = DefaultSections
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Byline == "" {
		cfg.Byline = "Nova, NeurAI Weekly"
	}
	if cfg.Emitter == nil {
		cfg.Emitter = progress.Nop
	}
	return &Narrator{gen: gen, prompts: prompts, cfg: cfg, logger: logger}
}

// Arcs proposes an arc set from the synthesis.
func (n *Narrator) Arcs(ctx context.Context, in Input, syn Synthesis, revision int) (Result[ArcSet], error) {
	compass := BuildCompass(in.Bundle, in.Roster, in.Feedback)
	allowed := in.Bundle.AllIDs()

	res, err := run(ctx, n, phase[[]Arc]{
		label: KindArcs,
		tier:  generation.TierStandard,
		in:    in,
		render: func(feedback string) (string, error) {
			return generation.Render("phases.arcs", n.prompts.Phases.Arcs, map[string]any{
				"Compass":  compass.String(),
				"Analyses": syn.String(),
				"Feedback": feedback,
			})
		},
		schema: arcsEnvelope{},
		decode: func(resp generation.Response) ([]Arc, error) {
			env, err := generation.Decode[arcsEnvelope](resp)
			return env.Arcs, err
		},
		check: func(arcs []Arc) (validation.Report, error) {
			rep, err := n.validate(arcsArtifact(arcs), KindArcs, in)
			if err != nil {
				return rep, err
			}
			return rep.With(checkArcs(arcs, allowed)...), nil
		},
	})
	if err != nil {
		return Result[ArcSet]{}, err
	}
	return Result[ArcSet]{
		Artifact: ArcSet{Revision: revision, Arcs: res.Artifact},
		Report:   res.Report,
		Attempts: res.Attempts,
	}, nil
}

// Outline plans the article around the selected arcs.
func (n *Narrator) Outline(ctx context.Context, in Input, arcs []Arc) (Result[Outline], error) {
	compass := BuildCompass(in.Bundle, in.Roster, in.Feedback)
	arcsJSON, err := json.MarshalIndent(arcs, "", "  ")
	if err != nil {
		return Result[Outline]{}, fmt.Errorf("narrative: encode arcs: %w", err)
	}
	allowed := in.Bundle.AllIDs()

	return run(ctx, n, phase[Outline]{
		label: KindOutline,
		tier:  generation.TierStandard,
		in:    in,
		render: func(feedback string) (string, error) {
			return generation.Render("phases.outline", n.prompts.Phases.Outline, map[string]any{
				"Compass":  compass.String(),
				"Arcs":     string(arcsJSON),
				"Sections": strings.Join(n.cfg.Sections, ", "),
				"Feedback": feedback,
			})
		},
		schema: Outline{},
		decode: generation.Decode[Outline],
		check: func(o Outline) (validation.Report, error) {
			rep, err := n.validate(outlineArtifact(o), KindOutline, in)
			if err != nil {
				return rep, err
			}
			return rep.With(checkCitations(o, allowed)...), nil
		},
	})
}

// Article writes the article from the approved outline.
func (n *Narrator) Article(ctx context.Context, in Input, outline Outline) (Result[Article], error) {
	compass := BuildCompass(in.Bundle, in.Roster, in.Feedback)
	outlineJSON, err := json.MarshalIndent(outline, "", "  ")
	if err != nil {
		return Result[Article]{}, fmt.Errorf("narrative: encode outline: %w", err)
	}

	return run(ctx, n, phase[Article]{
		label:  KindArticle,
		tier:   generation.TierDeep,
		in:     in,
		system: n.prompts.System.Journalist,
		render: func(feedback string) (string, error) {
			return generation.Render("phases.article", n.prompts.Phases.Article, map[string]any{
				"Compass":  compass.String(),
				"Outline":  string(outlineJSON),
				"Feedback": feedback,
			})
		},
		schema: Article{},
		decode: func(resp generation.Response) (Article, error) {
			a, err := generation.Decode[Article](resp)
			if err == nil && a.Byline == "" {
				a.Byline = n.cfg.Byline
			}
			return a, err
		},
		check: func(a Article) (validation.Report, error) {
			return n.validate(articleArtifact(a), KindArticle, in)
		},
	})
}

func (n *Narrator) validate(a validation.Artifact, kind string, in Input) (validation.Report, error) {
	rules := BuiltinRules(kind, in.Bundle, in.Roster, n.cfg.Sections)
	rules = append(rules, validation.ForArtifact(n.cfg.Rules, kind)...)
	return validation.Validate(a, rules)
}

type phase[T any] struct {
	label  string
	tier   generation.Tier
	in     Input
	system string
	render func(feedback string) (string, error)
	schema any
	decode func(generation.Response) (T, error)
	check  func(T) (validation.Report, error)
}

// run generates, validates and regenerates until an artifact passes the
// structural rules or the attempts run out. The last decodable artifact is
// returned with its issues when every attempt failed validation.
func run[T any](ctx context.Context, n *Narrator, p phase[T]) (Result[T], error) {
	system := p.system
	if system == "" {
		system = n.prompts.System.Journalist
	}

	var (
		res      Result[T]
		have     bool
		lastErr  error
		feedback = strings.TrimSpace(p.in.Revision)
		emitter  = progress.Session(n.cfg.Emitter, p.in.SessionID)
	)

	for attempt := 1; attempt <= n.cfg.MaxAttempts; attempt++ {
		data := map[string]any{"attempt": attempt, "maxAttempts": n.cfg.MaxAttempts}
		if have {
			data["issues"] = len(res.Report.Structural())
		}
		emitter.Emit(progress.Event{
			Type:    progress.GenerationProgress,
			Phase:   p.label,
			Message: fmt.Sprintf("%s attempt %d of %d", p.label, attempt, n.cfg.MaxAttempts),
			Data:    data,
		})

		prompt, err := p.render(feedback)
		if err != nil {
			return Result[T]{}, err
		}

		resp, err := n.gen.Generate(ctx, generation.Request{
			SessionID: p.in.SessionID,
			Label:     p.label,
			Tier:      p.tier,
			System:    system,
			Prompt:    prompt,
			Schema:    p.schema,
		})
		if err != nil && !errors.Is(err, generation.ErrMalformedResponse) {
			if !errors.Is(err, apperr.ErrGenerationTimeout) || ctx.Err() != nil {
				return Result[T]{}, &PhaseError{Phase: p.label, Attempts: append(res.Attempts, Attempt{N: attempt, Error: err.Error()}), Err: err}
			}
			lastErr = err
			res.Attempts = append(res.Attempts, Attempt{N: attempt, Error: err.Error()})
			n.logger.Warn("narrative: generation timed out, retrying",
				slog.String("phase", p.label),
				slog.Int("attempt", attempt))
			continue
		}

		var art T
		if err == nil {
			art, err = p.decode(resp)
		}
		if err != nil {
			lastErr = apperr.Wrap(apperr.KindValidationFailure, fmt.Sprintf("narrative: %s: malformed response", p.label), err)
			res.Attempts = append(res.Attempts, Attempt{N: attempt, Error: lastErr.Error()})
			feedback = joinFeedback(p.in.Revision, "The previous response was not a valid JSON object matching the schema.")
			continue
		}

		rep, err := p.check(art)
		if err != nil {
			return Result[T]{}, err
		}
		r := rep
		res.Attempts = append(res.Attempts, Attempt{N: attempt, Report: &r})
		res.Artifact, res.Report, have = art, rep, true
		if rep.Valid {
			return res, nil
		}

		n.logger.Info("narrative: artifact failed validation, regenerating",
			slog.String("phase", p.label),
			slog.Int("attempt", attempt),
			slog.Int("issues", len(rep.Structural())))
		feedback = joinFeedback(p.in.Revision, issueFeedback(rep.Structural()))
	}

	if have {
		n.logger.Warn("narrative: attempts exhausted, surfacing invalid artifact",
			slog.String("phase", p.label),
			slog.Int("attempts", len(res.Attempts)))
		return res, nil
	}
	return Result[T]{}, &PhaseError{Phase: p.label, Attempts: res.Attempts, Err: lastErr}
}

func issueFeedback(issues []validation.Issue) string {
	var b strings.Builder
	b.WriteString("The previous draft failed these checks:\n")
	for _, i := range issues {
		fmt.Fprintf(&b, "- %s: %s\n", i.Field, i.Detail)
	}
	return strings.TrimRight(b.String(), "\n")
}

func joinFeedback(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n\n")
}
