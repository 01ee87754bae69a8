package source

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/casefile/internal/apperr"
	"github.com/starford/casefile/internal/cache"
	"github.com/starford/casefile/internal/freshness"
	"github.com/starford/casefile/internal/models"
)

// Stats describes one cached fetch.
type Stats struct {
	Type        models.EntityType `json:"type"`
	Remote      int               `json:"remote"`
	Fresh       int               `json:"fresh"`
	Stale       int               `json:"stale"`
	New         int               `json:"new"`
	Deleted     int               `json:"deleted"`
	FullFetched int               `json:"full_fetched"`
	Fallback    bool              `json:"fallback"`
	Duration    time.Duration     `json:"duration"`
}

// Result is the output of FetchEntities.
type Result struct {
	Entities []models.Entity
	Stats    Stats
}

// Client fetches entities through the cache: a light timestamp listing
// decides which records need a full fetch, the rest come from the cache.
type Client struct {
	remote  Fetcher
	store   cache.Store
	checker *freshness.Checker
	logger  *slog.Logger
	now     func() time.Time
}

// NewClient returns a cached client over remote.
func NewClient(remote Fetcher, store cache.Store, logger *slog.Logger) *Client {
	return &Client{
		remote:  remote,
		store:   store,
		checker: freshness.NewChecker(store),
		logger:  logger,
		now:     time.Now,
	}
}

// FetchEntities returns every entity of entityType matching filter, sorted by
// id and restricted to idFilter when it is non-nil.
//
// Any failure on the cached path falls back to a direct FetchAll. If that
// fails too, the error is SourceUnavailable.
func (c *Client) FetchEntities(ctx context.Context, entityType models.EntityType, filter Filter, idFilter []string) (Result, error) {
	start := c.now()

	res, err := c.fetchCached(ctx, entityType, filter, idFilter)
	if err == nil {
		res.Stats.Duration = c.now().Sub(start)
		return res, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{}, ctxErr
	}

	c.logger.Warn("source: cached fetch failed, fetching directly",
		slog.String("type", string(entityType)),
		slog.String("error", err.Error()))

	direct, derr := c.remote.FetchAll(ctx, entityType, filter)
	if derr != nil {
		return Result{}, apperr.Wrap(apperr.KindSourceUnavailable,
			fmt.Sprintf("source: fetch %s", entityType), fmt.Errorf("%w (cached path: %v)", derr, err))
	}
	direct = allow(direct, idFilter)
	sortEntities(direct)
	return Result{
		Entities: direct,
		Stats: Stats{
			Type:        entityType,
			Remote:      len(direct),
			FullFetched: len(direct),
			Fallback:    true,
			Duration:    c.now().Sub(start),
		},
	}, nil
}

// Refresh runs an unfiltered fetch so the cache mirrors the remote collection.
func (c *Client) Refresh(ctx context.Context, entityType models.EntityType) (Stats, error) {
	res, err := c.FetchEntities(ctx, entityType, nil, nil)
	if err != nil {
		return Stats{}, err
	}
	return res.Stats, nil
}

// FetchByIDs returns the entities among ids, through the cache.
func (c *Client) FetchByIDs(ctx context.Context, entityType models.EntityType, ids []string) ([]models.Entity, error) {
	if ids == nil {
		ids = []string{}
	}
	res, err := c.FetchEntities(ctx, entityType, nil, ids)
	if err != nil {
		return nil, err
	}
	return res.Entities, nil
}

func (c *Client) fetchCached(ctx context.Context, entityType models.EntityType, filter Filter, idFilter []string) (Result, error) {
	stats := Stats{Type: entityType}

	remote, err := c.remote.ListStamps(ctx, entityType, filter)
	if err != nil {
		return Result{}, fmt.Errorf("source: list %s stamps: %w", entityType, err)
	}
	stats.Remote = len(remote)

	fr, err := c.checker.CheckFreshness(entityType, remote)
	if err != nil {
		c.logger.Warn("source: cached stamps unreadable, treating cache as empty",
			slog.String("type", string(entityType)),
			slog.String("error", apperr.Wrap(apperr.KindCacheCorruption, "read stamps", err).Error()))
		fr = freshness.Check(nil, remote)
	}

	cached, err := c.store.GetEntitiesByIDs(fr.Fresh)
	if err != nil {
		return Result{}, fmt.Errorf("source: load fresh %s: %w", entityType, err)
	}
	needs := fr.NeedsFetch()
	if len(cached) < len(fr.Fresh) {
		// Rows vanished between the stamp read and the payload read.
		have := make(map[string]struct{}, len(cached))
		for _, e := range cached {
			have[e.RemoteID] = struct{}{}
		}
		for _, id := range fr.Fresh {
			if _, ok := have[id]; !ok {
				needs = append(needs, id)
			}
		}
	}

	var fetched []models.Entity
	if len(needs) > 0 {
		fetched, err = c.remote.FetchByIDs(ctx, entityType, needs)
		if err != nil {
			return Result{}, fmt.Errorf("source: fetch %d %s: %w", len(needs), entityType, err)
		}
		now := c.now()
		for i := range fetched {
			fetched[i].Type = entityType
			fetched[i].FetchedAt = now
		}
		if err := c.store.UpsertEntities(fetched); err != nil {
			return Result{}, fmt.Errorf("source: store %s: %w", entityType, err)
		}
	}

	if len(filter) == 0 && len(fr.Deleted) > 0 {
		if _, err := c.store.DeleteEntities(fr.Deleted); err != nil {
			return Result{}, fmt.Errorf("source: delete %s: %w", entityType, err)
		}
		stats.Deleted = len(fr.Deleted)
	}

	merged := make([]models.Entity, 0, len(cached)+len(fetched))
	merged = append(merged, cached...)
	merged = append(merged, fetched...)
	merged = allow(merged, idFilter)
	sortEntities(merged)

	stats.Fresh = len(fr.Fresh)
	stats.Stale = len(fr.Stale)
	stats.New = len(fr.New)
	stats.FullFetched = len(fetched)

	if len(filter) == 0 {
		if err := c.store.SetMetadata(cache.LastSyncKey(entityType), cache.FormatSyncTime(c.now())); err != nil {
			c.logger.Warn("source: record sync time failed",
				slog.String("type", string(entityType)),
				slog.String("error", err.Error()))
		}
	}

	c.logger.Debug("source: fetched",
		slog.String("type", string(entityType)),
		slog.Int("remote", stats.Remote),
		slog.Int("fresh", stats.Fresh),
		slog.Int("full_fetched", stats.FullFetched),
		slog.Int("deleted", stats.Deleted))

	return Result{Entities: merged, Stats: stats}, nil
}
