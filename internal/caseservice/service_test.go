package caseservice

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/casefile/internal/apperr"
	"github.com/starford/casefile/internal/models"
	"github.com/starford/casefile/internal/progress"
	"github.com/starford/casefile/internal/source"
	"github.com/starford/casefile/internal/testutil"
	"github.com/starford/casefile/internal/workflow"
)

type fakeEngine struct {
	Engine
	started []string
	cp      *workflow.Checkpoint
}

func (f *fakeEngine) Start(_ context.Context, id string, in workflow.SessionInput) (*workflow.State, error) {
	f.started = append(f.started, id)
	return &workflow.State{SessionID: id, Input: in}, nil
}

func (f *fakeEngine) Checkpoint(_ context.Context, id string) (*workflow.Checkpoint, error) {
	if f.cp == nil {
		return nil, apperr.ErrNotFound
	}
	return f.cp, nil
}

type fakeRefresher struct {
	calls []models.EntityType
	fail  models.EntityType
}

func (f *fakeRefresher) Refresh(_ context.Context, t models.EntityType) (source.Stats, error) {
	f.calls = append(f.calls, t)
	if t == f.fail {
		return source.Stats{}, apperr.Wrap(apperr.KindSourceUnavailable, "list stamps", errors.New("offline"))
	}
	return source.Stats{Type: t, Remote: 2, FullFetched: 2}, nil
}

func newService(t *testing.T, eng *fakeEngine, ref *fakeRefresher) (*Service, *progress.Recorder) {
	t.Helper()
	rec := &progress.Recorder{}
	return NewService(eng, ref, testutil.TestCache(t), rec, testutil.Logger()), rec
}

func TestStartSessionAssignsID(t *testing.T) {
	eng := &fakeEngine{}
	svc, _ := newService(t, eng, &fakeRefresher{})

	st, err := svc.StartSession(context.Background(), NewSessionID, workflow.SessionInput{Title: "Night"})
	require.NoError(t, err)
	_, perr := uuid.Parse(st.SessionID)
	assert.NoError(t, perr)

	st, err = svc.StartSession(context.Background(), "game-42", workflow.SessionInput{})
	require.NoError(t, err)
	assert.Equal(t, "game-42", st.SessionID)
	assert.Len(t, eng.started, 2)
}

func TestCheckpointETag(t *testing.T) {
	eng := &fakeEngine{cp: &workflow.Checkpoint{Type: workflow.CheckpointOutline, Checksum: "abc"}}
	svc, _ := newService(t, eng, &fakeRefresher{})

	cp, etag, err := svc.Checkpoint(context.Background(), "s")
	require.NoError(t, err)
	assert.Equal(t, workflow.CheckpointOutline, cp.Type)
	assert.Equal(t, `"abc"`, etag)

	eng.cp = nil
	_, _, err = svc.Checkpoint(context.Background(), "s")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRefreshAllEmitsPerCollection(t *testing.T) {
	ref := &fakeRefresher{}
	svc, rec := newService(t, &fakeEngine{}, ref)

	stats, err := svc.Refresh(context.Background(), RefreshAll)
	require.NoError(t, err)
	assert.Len(t, stats, len(models.EntityTypes))
	assert.Equal(t, models.EntityTypes, ref.calls)

	types := rec.Types()
	require.Len(t, types, len(models.EntityTypes))
	for _, typ := range types {
		assert.Equal(t, progress.CacheRefreshed, typ)
	}
}

func TestRefreshUnknownType(t *testing.T) {
	svc, _ := newService(t, &fakeEngine{}, &fakeRefresher{})
	_, err := svc.Refresh(context.Background(), "ledgers")
	assert.ErrorIs(t, err, apperr.ErrValidationFailure)
}

func TestRefreshFailureIsReported(t *testing.T) {
	ref := &fakeRefresher{fail: models.EntityCharacter}
	svc, rec := newService(t, &fakeEngine{}, ref)

	stats, err := svc.Refresh(context.Background(), RefreshAll)
	assert.ErrorIs(t, err, apperr.ErrSourceUnavailable)
	assert.Len(t, stats, 1)

	events := rec.Events()
	require.Len(t, events, 2)
	assert.Equal(t, string(models.EntityCharacter), events[1].Phase)
	assert.Contains(t, events[1].Message, "offline")
	assert.Nil(t, events[1].Data)
}

func TestCacheStatsClearReady(t *testing.T) {
	svc, _ := newService(t, &fakeEngine{}, &fakeRefresher{})
	require.NoError(t, svc.cache.UpsertEntity(models.Entity{
		RemoteID: "tok-1", Type: models.EntityToken, LastModified: time.Now(), Payload: []byte(`{}`),
	}))

	stats, err := svc.CacheStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats[0].Count)

	require.NoError(t, svc.ClearCache(context.Background()))
	stats, err = svc.CacheStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats[0].Count)
	assert.NoError(t, svc.Ready(context.Background()))
}
