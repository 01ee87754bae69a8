package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/starford/casefile/internal/apperr"
	"github.com/starford/casefile/internal/models"
)

// LastSyncKey is the metadata key recording the last successful sync of a type.
func LastSyncKey(entityType models.EntityType) string {
	return "last_sync:" + string(entityType)
}

// TypeStats summarises the cached rows of one entity type.
type TypeStats struct {
	Type     models.EntityType `json:"type"`
	Count    int               `json:"count"`
	LastSync string            `json:"last_sync,omitempty"`
}

func corrupt(op string, err error) error {
	return apperr.Wrap(apperr.KindCacheCorruption, "cache: "+op, err)
}

// GetEntity returns the cached entity with the given remote id.
func (db *DB) GetEntity(id string) (*models.Entity, error) {
	row := db.conn.QueryRow(`
		SELECT remote_id, entity_type, last_modified, payload, fetched_at
		FROM entities WHERE remote_id = ?`, id)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, corrupt("get entity", err)
	}
	return &e, nil
}

// GetEntitiesByType returns every cached entity of a type, ordered by id.
func (db *DB) GetEntitiesByType(entityType models.EntityType) ([]models.Entity, error) {
	rows, err := db.conn.Query(`
		SELECT remote_id, entity_type, last_modified, payload, fetched_at
		FROM entities WHERE entity_type = ? ORDER BY remote_id`, string(entityType))
	if err != nil {
		return nil, corrupt("entities by type", err)
	}
	defer rows.Close()

	var out []models.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, corrupt("scan entity", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, corrupt("entities by type", err)
	}
	return out, nil
}

// GetEntitiesByIDs returns the cached entities among ids, ordered by id.
// Unknown ids are skipped.
func (db *DB) GetEntitiesByIDs(ids []string) ([]models.Entity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	stmt, err := db.conn.Prepare(`
		SELECT remote_id, entity_type, last_modified, payload, fetched_at
		FROM entities WHERE remote_id = ?`)
	if err != nil {
		return nil, corrupt("prepare get entity", err)
	}
	defer stmt.Close()

	out := make([]models.Entity, 0, len(ids))
	for _, id := range sortedUnique(ids) {
		e, err := scanEntity(stmt.QueryRow(id))
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, corrupt("get entity", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// GetEntityTimestamps returns id/last-modified pairs for a type without
// reading payloads.
func (db *DB) GetEntityTimestamps(entityType models.EntityType) ([]models.EntityStamp, error) {
	rows, err := db.conn.Query(`
		SELECT remote_id, last_modified FROM entities
		WHERE entity_type = ? ORDER BY remote_id`, string(entityType))
	if err != nil {
		return nil, corrupt("entity timestamps", err)
	}
	defer rows.Close()

	var out []models.EntityStamp
	for rows.Next() {
		var (
			s  models.EntityStamp
			ts int64
		)
		if err := rows.Scan(&s.ID, &ts); err != nil {
			return nil, corrupt("scan timestamp", err)
		}
		s.LastModified = fromNanos(ts)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, corrupt("entity timestamps", err)
	}
	return out, nil
}

// UpsertEntity inserts or replaces a single entity.
func (db *DB) UpsertEntity(e models.Entity) error {
	return db.UpsertEntities([]models.Entity{e})
}

// UpsertEntities inserts or replaces a batch inside one transaction. Either
// the whole batch is applied or none of it is.
func (db *DB) UpsertEntities(batch []models.Entity) error {
	if len(batch) == 0 {
		return nil
	}
	db.wmu.Lock()
	defer db.wmu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return corrupt("begin tx", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	stmt, err := tx.Prepare(`
		INSERT INTO entities (remote_id, entity_type, last_modified, payload, fetched_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(remote_id) DO UPDATE SET
			entity_type   = excluded.entity_type,
			last_modified = excluded.last_modified,
			payload       = excluded.payload,
			fetched_at    = excluded.fetched_at
	`)
	if err != nil {
		return corrupt("prepare upsert", err)
	}
	defer stmt.Close()

	now := db.now()
	for _, e := range batch {
		if strings.TrimSpace(e.RemoteID) == "" {
			return fmt.Errorf("cache: upsert: entity of type %q has empty remote id", e.Type)
		}
		if e.Type == "" {
			return fmt.Errorf("cache: upsert: entity %q has empty type", e.RemoteID)
		}
		fetched := e.FetchedAt
		if fetched.IsZero() {
			fetched = now
		}
		payload := []byte(e.Payload)
		if payload == nil {
			payload = []byte("null")
		}
		if _, err := stmt.Exec(e.RemoteID, string(e.Type), toNanos(e.LastModified), payload, toNanos(fetched)); err != nil {
			return corrupt("upsert entity "+e.RemoteID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return corrupt("commit upsert", err)
	}
	return nil
}

// DeleteStaleEntities deletes every entity of entityType whose id is not in
// activeIDs and returns how many were removed.
func (db *DB) DeleteStaleEntities(entityType models.EntityType, activeIDs []string) (int, error) {
	active := make(map[string]struct{}, len(activeIDs))
	for _, id := range activeIDs {
		active[id] = struct{}{}
	}

	db.wmu.Lock()
	defer db.wmu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return 0, corrupt("begin tx", err)
	}
	defer tx.Rollback() //nolint:errcheck

	rows, err := tx.Query(`SELECT remote_id FROM entities WHERE entity_type = ?`, string(entityType))
	if err != nil {
		return 0, corrupt("list ids", err)
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, corrupt("scan id", err)
		}
		if _, ok := active[id]; !ok {
			stale = append(stale, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, corrupt("list ids", err)
	}

	n, err := deleteIDs(tx, stale)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, corrupt("commit delete", err)
	}
	return n, nil
}

// DeleteEntities removes the given ids regardless of type.
func (db *DB) DeleteEntities(ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	db.wmu.Lock()
	defer db.wmu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return 0, corrupt("begin tx", err)
	}
	defer tx.Rollback() //nolint:errcheck

	n, err := deleteIDs(tx, ids)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, corrupt("commit delete", err)
	}
	return n, nil
}

func deleteIDs(tx *sql.Tx, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	stmt, err := tx.Prepare(`DELETE FROM entities WHERE remote_id = ?`)
	if err != nil {
		return 0, corrupt("prepare delete", err)
	}
	defer stmt.Close()

	total := 0
	for _, id := range ids {
		res, err := stmt.Exec(id)
		if err != nil {
			return 0, corrupt("delete entity "+id, err)
		}
		n, _ := res.RowsAffected()
		total += int(n)
	}
	return total, nil
}

// GetMetadata returns a sync bookkeeping value, or "" if unset.
func (db *DB) GetMetadata(key string) (string, error) {
	var v string
	err := db.conn.QueryRow(`SELECT value FROM sync_metadata WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", corrupt("get metadata", err)
	}
	return v, nil
}

// SetMetadata stores a sync bookkeeping value.
func (db *DB) SetMetadata(key, value string) error {
	db.wmu.Lock()
	defer db.wmu.Unlock()

	_, err := db.conn.Exec(`
		INSERT INTO sync_metadata (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, toNanos(db.now()))
	if err != nil {
		return corrupt("set metadata", err)
	}
	return nil
}

// Stats returns per-type counts and last sync times for every known type.
func (db *DB) Stats() ([]TypeStats, error) {
	counts := make(map[models.EntityType]int)
	rows, err := db.conn.Query(`SELECT entity_type, count(*) FROM entities GROUP BY entity_type`)
	if err != nil {
		return nil, corrupt("stats", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			t string
			n int
		)
		if err := rows.Scan(&t, &n); err != nil {
			return nil, corrupt("scan stats", err)
		}
		counts[models.EntityType(t)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, corrupt("stats", err)
	}

	out := make([]TypeStats, 0, len(models.EntityTypes))
	for _, t := range models.EntityTypes {
		last, err := db.GetMetadata(LastSyncKey(t))
		if err != nil {
			return nil, err
		}
		out = append(out, TypeStats{Type: t, Count: counts[t], LastSync: last})
	}
	return out, nil
}

// Clear removes every entity and all sync metadata.
func (db *DB) Clear() error {
	db.wmu.Lock()
	defer db.wmu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return corrupt("begin tx", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`DELETE FROM entities`); err != nil {
		return corrupt("clear entities", err)
	}
	if _, err := tx.Exec(`DELETE FROM sync_metadata`); err != nil {
		return corrupt("clear metadata", err)
	}
	if err := tx.Commit(); err != nil {
		return corrupt("commit clear", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntity(s scanner) (models.Entity, error) {
	var (
		e            models.Entity
		entityType   string
		lastModified int64
		fetchedAt    int64
		payload      []byte
	)
	if err := s.Scan(&e.RemoteID, &entityType, &lastModified, &payload, &fetchedAt); err != nil {
		return models.Entity{}, err
	}
	e.Type = models.EntityType(entityType)
	e.LastModified = fromNanos(lastModified)
	e.FetchedAt = fromNanos(fetchedAt)
	e.Payload = payload
	return e, nil
}

func sortedUnique(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// FormatSyncTime renders a last-sync timestamp for metadata storage.
func FormatSyncTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
