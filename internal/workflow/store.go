package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/starford/casefile/internal/apperr"
)

// Summary is a listing row.
type Summary struct {
	ID        string    `json:"id"`
	Phase     Phase     `json:"phase"`
	Status    Status    `json:"status"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Snapshot is the state captured when a checkpoint was raised.
type Snapshot struct {
	Seq        int64          `json:"seq"`
	Checkpoint CheckpointType `json:"checkpoint"`
	State      *State         `json:"state"`
}

// Store persists session state and checkpoint snapshots.
type Store interface {
	// Create fails with ErrAlreadyExists when the id is taken.
	Create(ctx context.Context, st *State) error
	// Get fails with ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (*State, error)
	Save(ctx context.Context, st *State) error
	List(ctx context.Context) ([]Summary, error)
	AppendSnapshot(ctx context.Context, id string, cp CheckpointType, st *State) (int64, error)
	// LatestSnapshot fails with ErrNotFound when cp was never raised.
	LatestSnapshot(ctx context.Context, id string, cp CheckpointType) (Snapshot, error)
	// RollbackTo saves st and deletes its snapshots with seq >= fromSeq as
	// one step: on error neither change is visible.
	RollbackTo(ctx context.Context, st *State, fromSeq int64) (int, error)
	Snapshots(ctx context.Context, id string) ([]Snapshot, error)
}

// MemoryStore is an in-process Store. States are deep-copied through JSON
// so callers never share memory with the store.
type MemoryStore struct {
	mu        sync.RWMutex
	states    map[string][]byte
	snapshots map[string][]memSnapshot
	seq       int64
}

type memSnapshot struct {
	seq   int64
	cp    CheckpointType
	state []byte
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:    make(map[string][]byte),
		snapshots: make(map[string][]memSnapshot),
	}
}

// Create implements Store.
func (m *MemoryStore) Create(_ context.Context, st *State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("workflow: encode state: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.states[st.SessionID]; ok {
		return apperr.New(apperr.KindAlreadyExists, fmt.Sprintf("workflow: session %s already exists", st.SessionID))
	}
	m.states[st.SessionID] = data
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, id string) (*State, error) {
	m.mu.RLock()
	data, ok := m.states[id]
	m.mu.RUnlock()
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, fmt.Sprintf("workflow: session %s not found", id))
	}
	return decodeState(data)
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, st *State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("workflow: encode state: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.states[st.SessionID]; !ok {
		return apperr.New(apperr.KindNotFound, fmt.Sprintf("workflow: session %s not found", st.SessionID))
	}
	m.states[st.SessionID] = data
	return nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context) ([]Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Summary, 0, len(m.states))
	for _, data := range m.states {
		st, err := decodeState(data)
		if err != nil {
			return nil, err
		}
		out = append(out, Summary{ID: st.SessionID, Phase: st.Phase, Status: st.Status, UpdatedAt: st.UpdatedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// AppendSnapshot implements Store.
func (m *MemoryStore) AppendSnapshot(_ context.Context, id string, cp CheckpointType, st *State) (int64, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return 0, fmt.Errorf("workflow: encode snapshot: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.snapshots[id] = append(m.snapshots[id], memSnapshot{seq: m.seq, cp: cp, state: data})
	return m.seq, nil
}

// LatestSnapshot implements Store.
func (m *MemoryStore) LatestSnapshot(_ context.Context, id string, cp CheckpointType) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snaps := m.snapshots[id]
	for i := len(snaps) - 1; i >= 0; i-- {
		if snaps[i].cp != cp {
			continue
		}
		st, err := decodeState(snaps[i].state)
		if err != nil {
			return Snapshot{}, err
		}
		return Snapshot{Seq: snaps[i].seq, Checkpoint: cp, State: st}, nil
	}
	return Snapshot{}, apperr.New(apperr.KindNotFound, fmt.Sprintf("workflow: session %s never reached checkpoint %s", id, cp))
}

// RollbackTo implements Store.
func (m *MemoryStore) RollbackTo(_ context.Context, st *State, fromSeq int64) (int, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return 0, fmt.Errorf("workflow: encode state: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := st.SessionID
	if _, ok := m.states[id]; !ok {
		return 0, apperr.New(apperr.KindNotFound, fmt.Sprintf("workflow: session %s not found", id))
	}
	m.states[id] = data
	snaps := m.snapshots[id]
	kept := snaps[:0]
	for _, s := range snaps {
		if s.seq < fromSeq {
			kept = append(kept, s)
		}
	}
	n := len(snaps) - len(kept)
	m.snapshots[id] = kept
	return n, nil
}

// Snapshots implements Store.
func (m *MemoryStore) Snapshots(_ context.Context, id string) ([]Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Snapshot, 0, len(m.snapshots[id]))
	for _, s := range m.snapshots[id] {
		st, err := decodeState(s.state)
		if err != nil {
			return nil, err
		}
		out = append(out, Snapshot{Seq: s.seq, Checkpoint: s.cp, State: st})
	}
	return out, nil
}

func decodeState(data []byte) (*State, error) {
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("workflow: decode state: %w", err)
	}
	st.init()
	return &st, nil
}
