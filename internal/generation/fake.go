package generation

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Reply is one scripted answer of a Fake.
type Reply struct {
	Text  string
	Err   error
	Delay time.Duration
}

// Fake is a Backend that answers from a queue of scripted replies and
// records every completion it receives.
type Fake struct {
	mu       sync.Mutex
	replies  []Reply
	fallback *Reply
	calls    []Completion
}

// NewFake returns a Fake answering texts in order.
func NewFake(texts ...string) *Fake {
	f := &Fake{}
	for _, t := range texts {
		f.replies = append(f.replies, Reply{Text: t})
	}
	return f
}

// Push appends replies to the queue.
func (f *Fake) Push(replies ...Reply) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, replies...)
}

// Always answers r once the queue is empty.
func (f *Fake) Always(r Reply) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fallback = &r
}

// Complete implements Backend.
func (f *Fake) Complete(ctx context.Context, c Completion) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	var r Reply
	switch {
	case len(f.replies) > 0:
		r = f.replies[0]
		f.replies = f.replies[1:]
	case f.fallback != nil:
		r = *f.fallback
	default:
		f.mu.Unlock()
		return "", fmt.Errorf("fake backend: no reply queued for call %d", len(f.calls))
	}
	f.mu.Unlock()

	if r.Delay > 0 {
		select {
		case <-time.After(r.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return r.Text, r.Err
}

// Calls returns the completions received so far.
func (f *Fake) Calls() []Completion {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Completion(nil), f.calls...)
}
