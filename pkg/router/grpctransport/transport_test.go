package grpctransport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type staticResolver struct {
	known map[string]string
}

func (r *staticResolver) Resolve(nid string) (string, bool) {
	ep, ok := r.known[nid]
	return ep, ok
}

func TestDeliverReachesPeer(t *testing.T) {
	received := make(chan []byte, 1)
	rx, err := Listen("127.0.0.1:0", nil, func(payload []byte) { received <- payload })
	require.NoError(t, err)
	defer rx.Close()

	resolver := &staticResolver{known: map[string]string{"game:2": rx.Addr()}}
	tx, err := Listen("127.0.0.1:0", resolver, func(payload []byte) {})
	require.NoError(t, err)
	defer tx.Close()

	require.NoError(t, tx.Deliver("game:2", []byte("hello")))

	select {
	case payload := <-received:
		require.Equal(t, []byte("hello"), payload)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestDeliverToUnresolvableNIDFails(t *testing.T) {
	resolver := &staticResolver{known: map[string]string{}}
	tx, err := Listen("127.0.0.1:0", resolver, func(payload []byte) {})
	require.NoError(t, err)
	defer tx.Close()

	err = tx.Deliver("game:ghost", []byte("hello"))
	require.Error(t, err)
}
