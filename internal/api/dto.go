package api

import (
	"github.com/starford/casefile/internal/cache"
	"github.com/starford/casefile/internal/source"
	"github.com/starford/casefile/internal/workflow"
)

// SessionListResponse wraps the session listing.
type SessionListResponse struct {
	Sessions []workflow.Summary `json:"sessions" validate:"required"`
}

// HistoryEntry is one checkpoint snapshot, without its captured state.
type HistoryEntry struct {
	Seq        int64                   `json:"seq" example:"3" validate:"required"`
	Checkpoint workflow.CheckpointType `json:"checkpoint" example:"outline" validate:"required"`
	Phase      workflow.Phase          `json:"phase" example:"outline" validate:"required"`
	Revisions  map[workflow.Phase]int  `json:"revisions"`
}

// HistoryResponse wraps the snapshot history of a session.
type HistoryResponse struct {
	Snapshots []HistoryEntry `json:"snapshots" validate:"required"`
}

// CacheStatsResponse wraps per-collection cache statistics.
type CacheStatsResponse struct {
	Types []cache.TypeStats `json:"types" validate:"required"`
}

// RefreshResponse reports what a refresh fetched.
type RefreshResponse struct {
	Refreshed []source.Stats `json:"refreshed" validate:"required"`
}
