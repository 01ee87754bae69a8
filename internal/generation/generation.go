// Package generation wraps language-model backends behind a tiered,
// time-bounded, observable Generate call.
package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/starford/casefile/internal/apperr"
	"github.com/starford/casefile/internal/progress"
)

// Tier is the expected cost/latency class of a call.
type Tier string

const (
	TierFast     Tier = "fast"
	TierStandard Tier = "standard"
	TierDeep     Tier = "deep"
)

// Request is one generation call. Schema, when set, is a Go value whose JSON
// Schema is appended to the prompt; the response must then be a JSON object.
type Request struct {
	SessionID string
	Label     string
	Tier      Tier
	System    string
	Prompt    string
	Schema    any
}

// Response carries the raw text and, for schema requests, the extracted
// JSON object.
type Response struct {
	Text       string          `json:"text"`
	Structured json.RawMessage `json:"structured,omitempty"`
}

// ErrMalformedResponse marks a schema request whose reply held no JSON
// object. The Response returned alongside it still carries the raw text.
var ErrMalformedResponse = errors.New("generation: malformed response")

// Generator produces text from a prompt.
type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// Completion is what a Backend receives.
type Completion struct {
	Model     string
	System    string
	Prompt    string
	JSON      bool
	MaxTokens int
}

// Backend is a provider-specific completion call.
type Backend interface {
	Complete(ctx context.Context, c Completion) (string, error)
}

// TierConfig binds a tier to a model and a hard timeout.
type TierConfig struct {
	Model   string
	Timeout time.Duration
}

// DefaultTimeouts are used for tiers without an explicit timeout.
var DefaultTimeouts = map[Tier]time.Duration{
	TierFast:     30 * time.Second,
	TierStandard: 2 * time.Minute,
	TierDeep:     5 * time.Minute,
}

// Client implements Generator over a Backend.
type Client struct {
	backend   Backend
	tiers     map[Tier]TierConfig
	maxTokens int
	emitter   progress.Emitter
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewClient returns a Client. A nil emitter discards progress events.
func NewClient(backend Backend, tiers map[Tier]TierConfig, maxTokens int, emitter progress.Emitter, logger *slog.Logger) *Client {
	if emitter == nil {
		emitter = progress.Nop
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Client{
		backend:   backend,
		tiers:     tiers,
		maxTokens: maxTokens,
		emitter:   emitter,
		logger:    logger,
		tracer:    otel.Tracer("casefile/generation"),
	}
}

func (c *Client) tier(t Tier) (Tier, TierConfig) {
	if t == "" {
		t = TierStandard
	}
	cfg := c.tiers[t]
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeouts[t]
		if cfg.Timeout <= 0 {
			cfg.Timeout = DefaultTimeouts[TierStandard]
		}
	}
	return t, cfg
}

// Generate runs req against the tier's model. Exceeding the tier timeout
// returns a GenerationTimeout error; the call is not retried here.
func (c *Client) Generate(ctx context.Context, req Request) (Response, error) {
	tier, cfg := c.tier(req.Tier)

	ctx, span := c.tracer.Start(ctx, "generation."+req.Label, trace.WithAttributes(
		attribute.String("generation.tier", string(tier)),
		attribute.String("generation.model", cfg.Model),
		attribute.String("session.id", req.SessionID),
	))
	defer span.End()

	base := progress.Event{SessionID: req.SessionID, Phase: req.Label}
	emit := func(typ, msg string, data any) {
		ev := base
		ev.Type, ev.Message, ev.Data = typ, msg, data
		c.emitter.Emit(ev)
	}

	prompt := req.Prompt
	if req.Schema != nil {
		schema, err := SchemaFor(req.Schema)
		if err != nil {
			return Response{}, err
		}
		prompt = WithSchema(prompt, schema)
	}

	emit(progress.GenerationStart, req.Label, map[string]string{"tier": string(tier), "model": cfg.Model})
	start := time.Now()

	callCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	text, err := c.backend.Complete(callCtx, Completion{
		Model:     cfg.Model,
		System:    req.System,
		Prompt:    prompt,
		JSON:      req.Schema != nil,
		MaxTokens: c.maxTokens,
	})
	if err == nil && callCtx.Err() != nil && ctx.Err() == nil {
		err = callCtx.Err()
	}
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = apperr.WithMetadata(apperr.KindGenerationTimeout,
				fmt.Sprintf("generation: %s exceeded %s tier timeout of %s", req.Label, tier, cfg.Timeout),
				map[string]string{"tier": string(tier), "timeout": cfg.Timeout.String(), "label": req.Label})
		} else {
			err = fmt.Errorf("generation: %s: %w", req.Label, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		emit(progress.GenerationError, err.Error(), nil)
		c.logger.Warn("generation: call failed",
			slog.String("label", req.Label),
			slog.String("tier", string(tier)),
			slog.String("error", err.Error()))
		return Response{}, err
	}

	resp := Response{Text: text}
	if req.Schema != nil {
		raw, err := ExtractJSON(text)
		if err != nil {
			err = fmt.Errorf("generation: %s: %w: %w", req.Label, ErrMalformedResponse, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			emit(progress.GenerationError, err.Error(), nil)
			return resp, err
		}
		resp.Structured = raw
	}

	elapsed := time.Since(start)
	span.SetAttributes(attribute.Int("generation.response_bytes", len(text)))
	emit(progress.GenerationComplete, req.Label, map[string]any{"tier": string(tier), "durationMs": elapsed.Milliseconds()})
	c.logger.Debug("generation: complete",
		slog.String("label", req.Label),
		slog.String("tier", string(tier)),
		slog.Duration("elapsed", elapsed))
	return resp, nil
}

// Decode unmarshals the structured part of resp, falling back to extracting
// JSON from the text.
func Decode[T any](resp Response) (T, error) {
	if len(resp.Structured) > 0 {
		var out T
		if err := json.Unmarshal(resp.Structured, &out); err != nil {
			return out, fmt.Errorf("generation: decode: %w", err)
		}
		return out, nil
	}
	return ParseJSON[T](resp.Text)
}
