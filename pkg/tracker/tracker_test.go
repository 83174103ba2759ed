package tracker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ulala-x/playhouse-go/pkg/errors"
	"github.com/ulala-x/playhouse-go/pkg/metrics"
)

func TestTrackCompleteFiresOnce(t *testing.T) {
	tr := New(metrics.Nop)
	seq := tr.NextSeq()

	var calls int
	var mu sync.Mutex
	done := make(chan struct{})
	err := tr.Track(seq, time.Second, func(resp interface{}, err error) {
		mu.Lock()
		calls++
		mu.Unlock()
		close(done)
	})
	require.NoError(t, err)

	assert.True(t, tr.Complete(seq, "pong"))
	<-done
	// a second complete for the same seq must be a no-op (late/duplicate)
	assert.False(t, tr.Complete(seq, "pong-again"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestTrackTimeout(t *testing.T) {
	tr := New(metrics.Nop)
	seq := tr.NextSeq()

	done := make(chan error, 1)
	err := tr.Track(seq, 30*time.Millisecond, func(resp interface{}, err error) {
		done <- err
	})
	require.NoError(t, err)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, errors.ErrRequestTimeout)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("completer never fired")
	}

	// late reply after timeout must be discarded
	assert.False(t, tr.Complete(seq, "too late"))
	assert.Equal(t, uint64(1), tr.DroppedReplies())
}

func TestDuplicateSeqRejected(t *testing.T) {
	tr := New(metrics.Nop)
	err := tr.Track(5, time.Second, func(interface{}, error) {})
	require.NoError(t, err)
	err = tr.Track(5, time.Second, func(interface{}, error) {})
	require.Error(t, err)
	tr.CancelAll(errors.ErrConnectionClosed)
}

func TestNextSeqSkipsZeroAndWraps(t *testing.T) {
	tr := &Tracker{pending: make(map[uint16]*entry), seq: 65535, reporter: metrics.Nop}
	assert.Equal(t, uint16(1), tr.NextSeq())
}

func TestCancelAllRejectsEverything(t *testing.T) {
	tr := New(metrics.Nop)
	results := make(chan error, 3)
	for i := 0; i < 3; i++ {
		seq := tr.NextSeq()
		require.NoError(t, tr.Track(seq, time.Second, func(resp interface{}, err error) {
			results <- err
		}))
	}
	tr.CancelAll(errors.ErrConnectionClosed)
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, <-results, errors.ErrConnectionClosed)
	}
	assert.Equal(t, 0, tr.Pending())
}
