// Package timer implements C5: repeat/count timers and the fixed-timestep
// game loop, both of which feed items into a Stage's queue (C4) rather than
// running user code directly. Timer identifiers are globally unique 64-bit
// values; reuse is forbidden (spec §4.5).
package timer

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ulala-x/playhouse-go/pkg/errors"
)

// ID is a globally unique timer identifier.
type ID uint64

var idGen uint64

// NextID returns a fresh, never-reused timer id.
func NextID() ID {
	return ID(atomic.AddUint64(&idGen, 1))
}

// Target receives the two kinds of queue items this package produces. Stage
// implements Target by wrapping each call into its own queue item types,
// keeping timer and stage decoupled from each other's internals.
type Target interface {
	EnqueueTimerCallback(id ID, callback func())
	EnqueueTick(deltaTime, totalElapsed time.Duration)
}

type timerEntry struct {
	id       ID
	timer    *time.Timer
	mu       sync.Mutex
	cancelled bool
	remaining int // -1 means infinite (Repeat)
}

// Scheduler owns every timer and at most one game loop for a single Stage.
// Not safe for concurrent use by multiple goroutines beyond the Stage worker
// that owns it plus Cancel, which may be called from any goroutine.
type Scheduler struct {
	target Target

	mu     sync.Mutex
	timers map[ID]*timerEntry

	loop *gameLoop
}

// NewScheduler builds a Scheduler that posts into target.
func NewScheduler(target Target) *Scheduler {
	return &Scheduler{target: target, timers: make(map[ID]*timerEntry)}
}

// Repeat fires callback forever at period cadence after initialDelay.
func (s *Scheduler) Repeat(initialDelay, period time.Duration, callback func()) ID {
	return s.schedule(initialDelay, period, -1, callback)
}

// Count fires callback n times at period cadence after initialDelay. n=0 is
// rejected.
func (s *Scheduler) Count(initialDelay, period time.Duration, n int, callback func()) (ID, error) {
	if n == 0 {
		return 0, errors.ErrInternal.WithMetadata(map[string]string{"reason": "count timer with N=0"})
	}
	return s.schedule(initialDelay, period, n, callback), nil
}

func (s *Scheduler) schedule(initialDelay, period time.Duration, remaining int, callback func()) ID {
	id := NextID()
	e := &timerEntry{id: id, remaining: remaining}

	s.mu.Lock()
	s.timers[id] = e
	s.mu.Unlock()

	var fire func()
	fire = func() {
		s.mu.Lock()
		cur, ok := s.timers[id]
		s.mu.Unlock()
		if !ok {
			return
		}
		cur.mu.Lock()
		if cur.cancelled {
			cur.mu.Unlock()
			return
		}
		if cur.remaining > 0 {
			cur.remaining--
		}
		done := cur.remaining == 0
		cur.mu.Unlock()

		s.target.EnqueueTimerCallback(id, callback)

		if done {
			s.mu.Lock()
			delete(s.timers, id)
			s.mu.Unlock()
			return
		}

		cur.mu.Lock()
		if !cur.cancelled {
			cur.timer = time.AfterFunc(period, fire)
		}
		cur.mu.Unlock()
	}

	e.timer = time.AfterFunc(initialDelay, fire)
	return id
}

// Cancel removes timer id. At most a small, bounded number of already-fired
// callbacks may still be observed by the Stage if they were enqueued before
// Cancel returns (spec property 5).
func (s *Scheduler) Cancel(id ID) {
	s.mu.Lock()
	e, ok := s.timers[id]
	if ok {
		delete(s.timers, id)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	e.cancelled = true
	t := e.timer
	e.mu.Unlock()
	if t != nil {
		t.Stop()
	}
}

// CancelAll cancels every timer and stops the game loop, for DestroyStage.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	ids := make([]ID, 0, len(s.timers))
	for id := range s.timers {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.Cancel(id)
	}
	s.StopGameLoop()
}
