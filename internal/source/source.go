// Package source fetches entities from the remote source of truth, through
// the local cache.
package source

import (
	"context"
	"sort"

	"github.com/starford/casefile/internal/models"
)

// Filter restricts a listing to records whose fields equal the given values.
// An empty filter enumerates the whole collection.
type Filter map[string]string

// Fetcher is the remote source interface.
type Fetcher interface {
	// ListStamps returns id/last-modified pairs without record content.
	ListStamps(ctx context.Context, entityType models.EntityType, filter Filter) ([]models.EntityStamp, error)
	// FetchByIDs returns full records for ids. Unknown ids are skipped.
	FetchByIDs(ctx context.Context, entityType models.EntityType, ids []string) ([]models.Entity, error)
	// FetchAll returns every record matching filter.
	FetchAll(ctx context.Context, entityType models.EntityType, filter Filter) ([]models.Entity, error)
}

func sortEntities(es []models.Entity) {
	sort.Slice(es, func(i, j int) bool { return es[i].RemoteID < es[j].RemoteID })
}

// allow keeps only entities whose id is in ids. A nil ids keeps everything.
func allow(es []models.Entity, ids []string) []models.Entity {
	if ids == nil {
		return es
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	out := make([]models.Entity, 0, len(ids))
	for _, e := range es {
		if _, ok := set[e.RemoteID]; ok {
			out = append(out, e)
		}
	}
	return out
}
