// Package tracker implements C3: pairing an outbound request with exactly one
// inbound reply or a timeout. One Tracker instance is used per-session for
// client<->server requests and one per-process for server<->server requests,
// per spec §4.3.
package tracker

import (
	"sync"
	"time"

	"github.com/ulala-x/playhouse-go/pkg/errors"
	"github.com/ulala-x/playhouse-go/pkg/logger"
	"github.com/ulala-x/playhouse-go/pkg/metrics"
)

// Completer is invoked exactly once per tracked entry, either with a non-nil
// response or a non-nil err (never both).
type Completer func(response interface{}, err error)

type entry struct {
	completer Completer
	timer     *time.Timer
	done      bool
}

// Tracker correlates msgSeq values with pending Completers.
type Tracker struct {
	mu      sync.Mutex
	pending map[uint16]*entry

	nextMu sync.Mutex
	seq    uint16

	// DroppedReplies counts late/duplicate replies discarded by Complete.
	droppedReplies uint64

	reporter metrics.Reporter
}

// New builds an empty Tracker. reporter may be nil, in which case
// metrics.Nop is used; every expired entry reports RequestTimeoutTotal.
func New(reporter metrics.Reporter) *Tracker {
	if reporter == nil {
		reporter = metrics.Nop
	}
	return &Tracker{pending: make(map[uint16]*entry), reporter: reporter}
}

// NextSeq returns a monotonically-ish increasing 16-bit value; it skips 0 and
// wraps at 65535.
func (t *Tracker) NextSeq() uint16 {
	t.nextMu.Lock()
	defer t.nextMu.Unlock()
	t.seq++
	if t.seq == 0 {
		t.seq = 1
	}
	return t.seq
}

// Track registers a pending entry with a deadline. Returns an error if seq is
// already pending. The completer fires exactly once, either via Complete/Fail
// or, on deadline, with a RequestTimeout error.
func (t *Tracker) Track(seq uint16, deadline time.Duration, completer Completer) error {
	t.mu.Lock()
	if _, exists := t.pending[seq]; exists {
		t.mu.Unlock()
		return errors.ErrInternal.WithMetadata(map[string]string{"reason": "seq already pending", "seq": itoa(seq)})
	}
	e := &entry{completer: completer}
	t.pending[seq] = e
	t.mu.Unlock()

	e.timer = time.AfterFunc(deadline, func() {
		t.timeout(seq)
	})
	return nil
}

func (t *Tracker) timeout(seq uint16) {
	t.mu.Lock()
	e, ok := t.pending[seq]
	if !ok || e.done {
		t.mu.Unlock()
		return
	}
	e.done = true
	delete(t.pending, seq)
	t.mu.Unlock()

	t.reporter.ReportCounter(metrics.RequestTimeoutTotal, nil, 1)
	e.completer(nil, errors.ErrRequestTimeout)
}

func (t *Tracker) take(seq uint16) *entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.pending[seq]
	if !ok || e.done {
		return nil
	}
	e.done = true
	delete(t.pending, seq)
	return e
}

// Complete resolves seq's completer with response. Returns false if seq was
// not found (a late or duplicate reply); the caller should log and drop.
func (t *Tracker) Complete(seq uint16, response interface{}) bool {
	e := t.take(seq)
	if e == nil {
		t.mu.Lock()
		t.droppedReplies++
		t.mu.Unlock()
		logger.Log.Debugf("tracker: dropped late/duplicate reply for seq=%d", seq)
		return false
	}
	e.timer.Stop()
	e.completer(response, nil)
	return true
}

// Fail resolves seq's completer with err. Returns false if not found.
func (t *Tracker) Fail(seq uint16, err error) bool {
	e := t.take(seq)
	if e == nil {
		return false
	}
	e.timer.Stop()
	e.completer(nil, err)
	return true
}

// CancelAll removes every pending entry and rejects each with err.
func (t *Tracker) CancelAll(err error) {
	t.mu.Lock()
	all := t.pending
	t.pending = make(map[uint16]*entry)
	t.mu.Unlock()

	for _, e := range all {
		if e.done {
			continue
		}
		e.done = true
		e.timer.Stop()
		e.completer(nil, err)
	}
}

// DroppedReplies returns the number of late/duplicate replies discarded so
// far. The count is not reported to the metrics Reporter; RequestTimeoutTotal
// counts expired entries, not dropped replies.
func (t *Tracker) DroppedReplies() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.droppedReplies
}

// Pending returns the current number of in-flight entries, for tests/metrics.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func itoa(v uint16) string {
	if v == 0 {
		return "0"
	}
	var buf [5]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
