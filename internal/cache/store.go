package cache

import "github.com/starford/casefile/internal/models"

// Store defines the entity cache operations.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with fakes.
type Store interface {
	GetEntity(id string) (*models.Entity, error)
	GetEntitiesByType(entityType models.EntityType) ([]models.Entity, error)
	GetEntitiesByIDs(ids []string) ([]models.Entity, error)
	GetEntityTimestamps(entityType models.EntityType) ([]models.EntityStamp, error)
	UpsertEntity(e models.Entity) error
	UpsertEntities(batch []models.Entity) error
	DeleteStaleEntities(entityType models.EntityType, activeIDs []string) (int, error)
	DeleteEntities(ids []string) (int, error)
	GetMetadata(key string) (string, error)
	SetMetadata(key, value string) error
	Stats() ([]TypeStats, error)
	Clear() error
	Close() error
}

// Verify *DB satisfies Store at compile time.
var _ Store = (*DB)(nil)
