// Package sessions persists workflow sessions and their checkpoint
// snapshots in SQLite.
package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/starford/casefile/internal/apperr"
	"github.com/starford/casefile/internal/workflow"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	phase      TEXT NOT NULL,
	status     TEXT NOT NULL,
	state      BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS session_snapshots (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	checkpoint TEXT NOT NULL,
	state      BLOB NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snapshots_session ON session_snapshots(session_id, checkpoint, seq);
`

// DB is a workflow.Store backed by SQLite.
type DB struct {
	conn *sql.DB
	wmu  sync.Mutex
	now  func() time.Time
}

var _ workflow.Store = (*DB)(nil)

// Open opens (or creates) the session database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("sessions: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sessions: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sessions: apply schema: %w", err)
	}
	return &DB{conn: conn, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func notFound(id string) error {
	return apperr.New(apperr.KindNotFound, fmt.Sprintf("sessions: session %s not found", id))
}

// Create implements workflow.Store.
func (db *DB) Create(ctx context.Context, st *workflow.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("sessions: encode state: %w", err)
	}
	now := db.now().UTC().UnixNano()

	db.wmu.Lock()
	defer db.wmu.Unlock()
	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO sessions (id, phase, status, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		st.SessionID, string(st.Phase), string(st.Status), data, now, now)
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) && sqlErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
		return apperr.New(apperr.KindAlreadyExists, fmt.Sprintf("sessions: session %s already exists", st.SessionID))
	}
	if err != nil {
		return fmt.Errorf("sessions: create %s: %w", st.SessionID, err)
	}
	return nil
}

// Get implements workflow.Store.
func (db *DB) Get(ctx context.Context, id string) (*workflow.State, error) {
	var data []byte
	err := db.conn.QueryRowContext(ctx, `SELECT state FROM sessions WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("sessions: get %s: %w", id, err)
	}
	return decode(data)
}

// Save implements workflow.Store.
func (db *DB) Save(ctx context.Context, st *workflow.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("sessions: encode state: %w", err)
	}

	db.wmu.Lock()
	defer db.wmu.Unlock()
	res, err := db.conn.ExecContext(ctx, `
		UPDATE sessions SET phase = ?, status = ?, state = ?, updated_at = ?
		WHERE id = ?`,
		string(st.Phase), string(st.Status), data, db.now().UTC().UnixNano(), st.SessionID)
	if err != nil {
		return fmt.Errorf("sessions: save %s: %w", st.SessionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(st.SessionID)
	}
	return nil
}

// List implements workflow.Store.
func (db *DB) List(ctx context.Context) ([]workflow.Summary, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, phase, status, updated_at FROM sessions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("sessions: list: %w", err)
	}
	defer rows.Close()

	out := []workflow.Summary{}
	for rows.Next() {
		var (
			s       workflow.Summary
			phase   string
			status  string
			updated int64
		)
		if err := rows.Scan(&s.ID, &phase, &status, &updated); err != nil {
			return nil, fmt.Errorf("sessions: scan summary: %w", err)
		}
		s.Phase = workflow.Phase(phase)
		s.Status = workflow.Status(status)
		s.UpdatedAt = time.Unix(0, updated).UTC()
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sessions: list: %w", err)
	}
	return out, nil
}

// AppendSnapshot implements workflow.Store.
func (db *DB) AppendSnapshot(ctx context.Context, id string, cp workflow.CheckpointType, st *workflow.State) (int64, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return 0, fmt.Errorf("sessions: encode snapshot: %w", err)
	}

	db.wmu.Lock()
	defer db.wmu.Unlock()
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO session_snapshots (session_id, checkpoint, state, created_at)
		VALUES (?, ?, ?, ?)`,
		id, string(cp), data, db.now().UTC().UnixNano())
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) && sqlErr.ExtendedCode == sqlite3.ErrConstraintForeignKey {
		return 0, notFound(id)
	}
	if err != nil {
		return 0, fmt.Errorf("sessions: append snapshot %s: %w", id, err)
	}
	return res.LastInsertId()
}

// LatestSnapshot implements workflow.Store.
func (db *DB) LatestSnapshot(ctx context.Context, id string, cp workflow.CheckpointType) (workflow.Snapshot, error) {
	var (
		seq  int64
		data []byte
	)
	err := db.conn.QueryRowContext(ctx, `
		SELECT seq, state FROM session_snapshots
		WHERE session_id = ? AND checkpoint = ?
		ORDER BY seq DESC LIMIT 1`, id, string(cp)).Scan(&seq, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return workflow.Snapshot{}, apperr.New(apperr.KindNotFound,
			fmt.Sprintf("sessions: session %s never reached checkpoint %s", id, cp))
	}
	if err != nil {
		return workflow.Snapshot{}, fmt.Errorf("sessions: latest snapshot %s: %w", id, err)
	}
	st, err := decode(data)
	if err != nil {
		return workflow.Snapshot{}, err
	}
	return workflow.Snapshot{Seq: seq, Checkpoint: cp, State: st}, nil
}

// RollbackTo implements workflow.Store. The state update and the snapshot
// truncation share one transaction.
func (db *DB) RollbackTo(ctx context.Context, st *workflow.State, fromSeq int64) (int, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return 0, fmt.Errorf("sessions: encode state: %w", err)
	}

	db.wmu.Lock()
	defer db.wmu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sessions: begin rollback %s: %w", st.SessionID, err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE sessions SET phase = ?, status = ?, state = ?, updated_at = ?
		WHERE id = ?`,
		string(st.Phase), string(st.Status), data, db.now().UTC().UnixNano(), st.SessionID)
	if err != nil {
		return 0, fmt.Errorf("sessions: rollback %s: %w", st.SessionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, notFound(st.SessionID)
	}

	res, err = tx.ExecContext(ctx, `
		DELETE FROM session_snapshots WHERE session_id = ? AND seq >= ?`, st.SessionID, fromSeq)
	if err != nil {
		return 0, fmt.Errorf("sessions: truncate snapshots %s: %w", st.SessionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sessions: truncate snapshots %s: %w", st.SessionID, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sessions: commit rollback %s: %w", st.SessionID, err)
	}
	return int(n), nil
}

// Snapshots implements workflow.Store.
func (db *DB) Snapshots(ctx context.Context, id string) ([]workflow.Snapshot, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT seq, checkpoint, state FROM session_snapshots
		WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("sessions: snapshots %s: %w", id, err)
	}
	defer rows.Close()

	out := []workflow.Snapshot{}
	for rows.Next() {
		var (
			snap workflow.Snapshot
			cp   string
			data []byte
		)
		if err := rows.Scan(&snap.Seq, &cp, &data); err != nil {
			return nil, fmt.Errorf("sessions: scan snapshot: %w", err)
		}
		st, err := decode(data)
		if err != nil {
			return nil, err
		}
		snap.Checkpoint = workflow.CheckpointType(cp)
		snap.State = st
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sessions: snapshots %s: %w", id, err)
	}
	return out, nil
}

// Delete removes a session and its snapshots.
func (db *DB) Delete(ctx context.Context, id string) error {
	db.wmu.Lock()
	defer db.wmu.Unlock()
	res, err := db.conn.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sessions: delete %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(id)
	}
	return nil
}

func decode(data []byte) (*workflow.State, error) {
	var st workflow.State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, apperr.Wrap(apperr.KindCacheCorruption, "sessions: decode state", err)
	}
	return &st, nil
}
