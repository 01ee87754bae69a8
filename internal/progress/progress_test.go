package progress

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamEmitNeverBlocks(t *testing.T) {
	s := NewStream(2)
	for i := 0; i < 5; i++ {
		s.Emit(Event{Type: GenerationStart})
	}
	assert.Equal(t, int64(3), s.Dropped())

	e := <-s.Events()
	assert.False(t, e.At.IsZero(), "emit stamps the event time")
}

func TestStreamCloseIsIdempotent(t *testing.T) {
	s := NewStream(1)
	s.Close()
	s.Close()
	s.Emit(Event{Type: GenerationStart})
	_, ok := <-s.Events()
	assert.False(t, ok)
}

func TestForwardDeliversInOrder(t *testing.T) {
	s := NewStream(8)
	s.Emit(Event{Type: PhaseEntered})
	s.Emit(Event{Type: CheckpointReady})
	s.Close()

	var got []string
	require.NoError(t, Forward(context.Background(), s, func(e Event) { got = append(got, e.Type) }))
	assert.Equal(t, []string{PhaseEntered, CheckpointReady}, got)
}

func TestForwardStopsOnCancel(t *testing.T) {
	s := NewStream(1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = Forward(ctx, s, func(Event) {})
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("forward did not stop")
	}
}

func TestSessionStampsID(t *testing.T) {
	rec := &Recorder{}
	Session(rec, "s1").Emit(Event{Type: GenerationStart})
	Session(rec, "s1").Emit(Event{Type: GenerationStart, SessionID: "other"})

	events := rec.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "s1", events[0].SessionID)
	assert.Equal(t, "other", events[1].SessionID)
}
