// Package freshness classifies remote entities against cached timestamps.
package freshness

import (
	"fmt"
	"sort"

	"github.com/starford/casefile/internal/models"
)

// Result partitions cached ∪ remote ids. Every id lands in exactly one list.
type Result struct {
	Fresh   []string `json:"fresh"`
	Stale   []string `json:"stale"`
	New     []string `json:"new"`
	Deleted []string `json:"deleted"`
}

// NeedsFetch returns stale ∪ new, sorted.
func (r Result) NeedsFetch() []string {
	out := make([]string, 0, len(r.Stale)+len(r.New))
	out = append(out, r.Stale...)
	out = append(out, r.New...)
	sort.Strings(out)
	return out
}

// TimestampSource loads cached stamps for a type without reading payloads.
type TimestampSource interface {
	GetEntityTimestamps(entityType models.EntityType) ([]models.EntityStamp, error)
}

// Checker compares a remote enumeration with the cache.
type Checker struct {
	cache TimestampSource
}

// NewChecker returns a Checker reading cached stamps from cache.
func NewChecker(cache TimestampSource) *Checker {
	return &Checker{cache: cache}
}

// CheckFreshness classifies remote, which must be the full remote enumeration
// for entityType.
func (c *Checker) CheckFreshness(entityType models.EntityType, remote []models.EntityStamp) (Result, error) {
	cached, err := c.cache.GetEntityTimestamps(entityType)
	if err != nil {
		return Result{}, fmt.Errorf("freshness: load cached stamps for %s: %w", entityType, err)
	}
	return Check(cached, remote), nil
}

// Check classifies remote stamps against cached ones.
//
// A remote id missing from cached is new. A remote id whose timestamp is
// strictly after the cached one is stale; anything else is fresh. A cached id
// missing from remote is deleted. Duplicate remote ids keep the latest stamp.
func Check(cached, remote []models.EntityStamp) Result {
	cachedByID := make(map[string]models.EntityStamp, len(cached))
	for _, s := range cached {
		cachedByID[s.ID] = s
	}

	remoteByID := make(map[string]models.EntityStamp, len(remote))
	for _, s := range remote {
		if prev, ok := remoteByID[s.ID]; ok && !s.LastModified.After(prev.LastModified) {
			continue
		}
		remoteByID[s.ID] = s
	}

	res := Result{
		Fresh:   []string{},
		Stale:   []string{},
		New:     []string{},
		Deleted: []string{},
	}
	for id, r := range remoteByID {
		c, ok := cachedByID[id]
		switch {
		case !ok:
			res.New = append(res.New, id)
		case r.LastModified.After(c.LastModified):
			res.Stale = append(res.Stale, id)
		default:
			res.Fresh = append(res.Fresh, id)
		}
	}
	for id := range cachedByID {
		if _, ok := remoteByID[id]; !ok {
			res.Deleted = append(res.Deleted, id)
		}
	}

	sort.Strings(res.Fresh)
	sort.Strings(res.Stale)
	sort.Strings(res.New)
	sort.Strings(res.Deleted)
	return res
}
