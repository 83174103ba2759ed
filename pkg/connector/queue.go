package connector

import (
	"sync"

	"github.com/ulala-x/playhouse-go/pkg/logger"
)

// Action is one unit of work the main-thread action queue delivers: a
// callback firing, a push message, or a connect/disconnect/error event
// (spec §4.9).
type Action func()

const defaultDispatchQueueCap = 10000

// actionQueue is the connector's single-producer (network goroutines),
// single-consumer (MainThreadAction caller) mailbox. Overflow sheds the
// oldest 10% rather than blocking the network goroutines or growing without
// bound during an application pause.
type actionQueue struct {
	mu       sync.Mutex
	items    []Action
	capacity int
}

func newActionQueue(capacity int) *actionQueue {
	if capacity <= 0 {
		capacity = defaultDispatchQueueCap
	}
	return &actionQueue{capacity: capacity}
}

func (q *actionQueue) push(a Action) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		shed := q.capacity / 10
		if shed < 1 {
			shed = 1
		}
		logger.Log.Warnf("connector: dispatch queue exceeded %d items, shedding %d oldest", q.capacity, shed)
		q.items = append([]Action(nil), q.items[shed:]...)
	}
	q.items = append(q.items, a)
}

// drainAll returns and clears every currently queued action, to be run by
// the caller of MainThreadAction.
func (q *actionQueue) drainAll() []Action {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func (q *actionQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
