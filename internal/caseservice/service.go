// Package caseservice coordinates the workflow engine, the cached source and
// the progress stream behind the HTTP API, the MCP server and the CLI.
package caseservice

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/starford/casefile/internal/apperr"
	"github.com/starford/casefile/internal/cache"
	"github.com/starford/casefile/internal/checksum"
	"github.com/starford/casefile/internal/models"
	"github.com/starford/casefile/internal/progress"
	"github.com/starford/casefile/internal/source"
	"github.com/starford/casefile/internal/workflow"
)

// NewSessionID is the path id that asks for a generated session id.
const NewSessionID = "new"

// RefreshAll refreshes every collection.
const RefreshAll = "all"

// Engine is the slice of workflow.Engine the service drives.
type Engine interface {
	Start(ctx context.Context, id string, in workflow.SessionInput) (*workflow.State, error)
	State(ctx context.Context, id string) (*workflow.State, error)
	Checkpoint(ctx context.Context, id string) (*workflow.Checkpoint, error)
	Approve(ctx context.Context, id string, resp workflow.Response, ifMatch string) (*workflow.State, error)
	Rollback(ctx context.Context, id string, req workflow.RollbackRequest) (*workflow.State, error)
	List(ctx context.Context) ([]workflow.Summary, error)
	History(ctx context.Context, id string) ([]workflow.Snapshot, error)
}

var _ Engine = (*workflow.Engine)(nil)

// Service is the single entry point the transports share.
type Service struct {
	engine    Engine
	refresher source.Refresher
	cache     cache.Store
	emitter   progress.Emitter
	logger    *slog.Logger
}

// NewService creates a Service. A nil emitter discards cache events.
func NewService(engine Engine, refresher source.Refresher, store cache.Store, emitter progress.Emitter, logger *slog.Logger) *Service {
	if emitter == nil {
		emitter = progress.Nop
	}
	return &Service{engine: engine, refresher: refresher, cache: store, emitter: emitter, logger: logger}
}

// StartSession starts a workflow. An empty id or NewSessionID gets a uuid.
func (s *Service) StartSession(ctx context.Context, id string, in workflow.SessionInput) (*workflow.State, error) {
	if id == "" || id == NewSessionID {
		id = uuid.NewString()
	}
	return s.engine.Start(ctx, id, in)
}

// Session returns the full state of a session.
func (s *Service) Session(ctx context.Context, id string) (*workflow.State, error) {
	return s.engine.State(ctx, id)
}

// Checkpoint returns the pending checkpoint and its entity tag.
func (s *Service) Checkpoint(ctx context.Context, id string) (*workflow.Checkpoint, string, error) {
	cp, err := s.engine.Checkpoint(ctx, id)
	if err != nil {
		return nil, "", err
	}
	return cp, checksum.ETag(cp.Checksum), nil
}

// Approve resolves the pending checkpoint.
func (s *Service) Approve(ctx context.Context, id string, resp workflow.Response, ifMatch string) (*workflow.State, error) {
	return s.engine.Approve(ctx, id, resp, ifMatch)
}

// Rollback rewinds a session to an earlier checkpoint.
func (s *Service) Rollback(ctx context.Context, id string, req workflow.RollbackRequest) (*workflow.State, error) {
	return s.engine.Rollback(ctx, id, req)
}

// Sessions lists every session.
func (s *Service) Sessions(ctx context.Context) ([]workflow.Summary, error) {
	return s.engine.List(ctx)
}

// History returns the checkpoint snapshots of a session, oldest first.
func (s *Service) History(ctx context.Context, id string) ([]workflow.Snapshot, error) {
	return s.engine.History(ctx, id)
}

// CacheStats summarises the cache per collection.
func (s *Service) CacheStats(_ context.Context) ([]cache.TypeStats, error) {
	return s.cache.Stats()
}

// ClearCache empties the cache. The next fetch of each collection is a
// full fetch.
func (s *Service) ClearCache(_ context.Context) error {
	if err := s.cache.Clear(); err != nil {
		return err
	}
	s.logger.Info("cache: cleared")
	return nil
}

// Refresh brings the cache of one collection, or of all of them when typ is
// RefreshAll, up to date with the source.
func (s *Service) Refresh(ctx context.Context, typ string) ([]source.Stats, error) {
	types := models.EntityTypes
	if typ != RefreshAll {
		t, err := models.ParseEntityType(typ)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindValidationFailure, "refresh", err)
		}
		types = []models.EntityType{t}
	}

	out := make([]source.Stats, 0, len(types))
	for _, t := range types {
		stats, err := s.refresher.Refresh(ctx, t)
		s.Refreshed(t, stats, err)
		if err != nil {
			return out, fmt.Errorf("refresh %s: %w", t, err)
		}
		out = append(out, stats)
	}
	return out, nil
}

// Refreshed reports a finished refresh on the progress stream. Its
// signature matches source.RefreshCallback so the vault watcher can use it.
func (s *Service) Refreshed(t models.EntityType, stats source.Stats, err error) {
	ev := progress.Event{
		Type:  progress.CacheRefreshed,
		Phase: string(t),
		Data:  stats,
		At:    time.Now().UTC(),
	}
	if err != nil {
		ev.Message = err.Error()
		ev.Data = nil
	}
	s.emitter.Emit(ev)
}

// Ready reports whether the cache is readable.
func (s *Service) Ready(_ context.Context) error {
	if _, err := s.cache.Stats(); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	return nil
}
