package timer

import (
	"sync"
	"time"

	"github.com/ulala-x/playhouse-go/pkg/errors"
)

// gameLoopResolution bounds how often the accumulator is serviced; it need
// not equal the timestep since excess real time just accumulates.
const gameLoopResolution = 5 * time.Millisecond

type gameLoop struct {
	timestep     time.Duration
	maxAccum     time.Duration
	accumulator  time.Duration
	totalElapsed time.Duration
	lastTick     time.Time

	stop chan struct{}
	wg   sync.WaitGroup
}

// StartGameLoop starts the one fixed-timestep loop for this Stage. Starting a
// second loop while one is running fails loudly per spec §4.5.
func (s *Scheduler) StartGameLoop(timestep time.Duration, maxAccum time.Duration) error {
	s.mu.Lock()
	if s.loop != nil {
		s.mu.Unlock()
		return errors.ErrInternal.WithMetadata(map[string]string{"reason": "game loop already running"})
	}
	if maxAccum <= 0 {
		maxAccum = 5 * timestep
	}
	gl := &gameLoop{
		timestep: timestep,
		maxAccum: maxAccum,
		lastTick: time.Now(),
		stop:     make(chan struct{}),
	}
	s.loop = gl
	s.mu.Unlock()

	gl.wg.Add(1)
	go s.runGameLoop(gl)
	return nil
}

// StopGameLoop stops future ticks. Ticks already enqueued are not discarded;
// the Stage may see a small residual burst.
func (s *Scheduler) StopGameLoop() {
	s.mu.Lock()
	gl := s.loop
	s.loop = nil
	s.mu.Unlock()
	if gl == nil {
		return
	}
	close(gl.stop)
	gl.wg.Wait()
}

func (s *Scheduler) runGameLoop(gl *gameLoop) {
	defer gl.wg.Done()
	ticker := time.NewTicker(gameLoopResolution)
	defer ticker.Stop()

	for {
		select {
		case <-gl.stop:
			return
		case now := <-ticker.C:
			elapsed := now.Sub(gl.lastTick)
			gl.lastTick = now
			gl.accumulator += elapsed
			if gl.accumulator > gl.maxAccum {
				gl.accumulator = gl.maxAccum // spiral-of-death guard: drop excess debt
			}
			for gl.accumulator >= gl.timestep {
				gl.accumulator -= gl.timestep
				gl.totalElapsed += gl.timestep
				s.target.EnqueueTick(gl.timestep, gl.totalElapsed)
			}
		}
	}
}
