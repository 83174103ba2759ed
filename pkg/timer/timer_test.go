package timer

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTarget struct {
	mu    sync.Mutex
	ticks int
	calls int32
}

func (f *fakeTarget) EnqueueTimerCallback(id ID, callback func()) {
	atomic.AddInt32(&f.calls, 1)
	callback()
}

func (f *fakeTarget) EnqueueTick(deltaTime, totalElapsed time.Duration) {
	f.mu.Lock()
	f.ticks++
	f.mu.Unlock()
}

func TestRepeatFiresRepeatedly(t *testing.T) {
	ft := &fakeTarget{}
	s := NewScheduler(ft)
	var fired int32
	id := s.Repeat(5*time.Millisecond, 10*time.Millisecond, func() {
		atomic.AddInt32(&fired, 1)
	})
	time.Sleep(60 * time.Millisecond)
	s.Cancel(id)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&fired), int32(3))
}

func TestCountFiresExactlyN(t *testing.T) {
	ft := &fakeTarget{}
	s := NewScheduler(ft)
	var fired int32
	_, err := s.Count(0, 5*time.Millisecond, 3, func() {
		atomic.AddInt32(&fired, 1)
	})
	require.NoError(t, err)
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(3), atomic.LoadInt32(&fired))
}

func TestCountZeroRejected(t *testing.T) {
	s := NewScheduler(&fakeTarget{})
	_, err := s.Count(0, time.Millisecond, 0, func() {})
	require.Error(t, err)
}

func TestCancelBoundsFurtherFirings(t *testing.T) {
	ft := &fakeTarget{}
	s := NewScheduler(ft)
	var fired int32
	id := s.Repeat(0, 5*time.Millisecond, func() {
		atomic.AddInt32(&fired, 1)
	})
	time.Sleep(12 * time.Millisecond)
	s.Cancel(id)
	after := atomic.LoadInt32(&fired)
	time.Sleep(30 * time.Millisecond)
	// small bounded number of further firings allowed, never unbounded growth
	assert.LessOrEqual(t, atomic.LoadInt32(&fired), after+1)
}

func TestGameLoopFixedStep(t *testing.T) {
	ft := &fakeTarget{}
	s := NewScheduler(ft)
	require.NoError(t, s.StartGameLoop(10*time.Millisecond, 50*time.Millisecond))
	time.Sleep(120 * time.Millisecond)
	s.StopGameLoop()

	ft.mu.Lock()
	ticks := ft.ticks
	ft.mu.Unlock()
	assert.Greater(t, ticks, 0)
}

func TestGameLoopAccumulatorCap(t *testing.T) {
	ft := &fakeTarget{}
	s := NewScheduler(ft)
	gl := &gameLoop{
		timestep: 50 * time.Millisecond,
		maxAccum: 250 * time.Millisecond,
	}
	gl.accumulator = 2 * time.Second // simulate a long pause
	if gl.accumulator > gl.maxAccum {
		gl.accumulator = gl.maxAccum
	}
	count := 0
	for gl.accumulator >= gl.timestep {
		gl.accumulator -= gl.timestep
		count++
	}
	assert.LessOrEqual(t, count, int(gl.maxAccum/gl.timestep))
	_ = s
}

func TestStartGameLoopTwiceFails(t *testing.T) {
	ft := &fakeTarget{}
	s := NewScheduler(ft)
	require.NoError(t, s.StartGameLoop(10*time.Millisecond, 0))
	err := s.StartGameLoop(10*time.Millisecond, 0)
	require.Error(t, err)
	s.StopGameLoop()
}
