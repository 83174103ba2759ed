// Package natstransport implements router.Transport over NATS core pub/sub,
// the cluster transport the teacher's go.mod declares (nats-io/nats.go,
// nats-io/nuid) for inter-server delivery. Each server process subscribes to
// its own NID's subject and publishes directly to a peer's subject; NATS core
// gives at-most-once delivery, in publish order per connection, and has no
// outbound queue of its own, which is why the Router layer above (not this
// package) owns the per-peer outbound queue.
package natstransport

import (
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nuid"

	"github.com/ulala-x/playhouse-go/pkg/errors"
	"github.com/ulala-x/playhouse-go/pkg/logger"
)

const subjectPrefix = "playhouse.route."

func subjectFor(nid string) string {
	return subjectPrefix + nid
}

// Transport is a router.Transport backed by a single NATS connection.
type Transport struct {
	conn *nats.Conn
	sub  *nats.Subscription
}

// Dial connects to url and subscribes selfNID's subject, handing every
// inbound message's raw bytes to onMessage (normally Router.HandleInbound).
func Dial(url string, selfNID string, onMessage func(payload []byte)) (*Transport, error) {
	conn, err := nats.Connect(url,
		nats.Name("playhouse:"+selfNID),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, errors.Wrap(errors.ErrConnectionFailed, err)
	}

	sub, err := conn.Subscribe(subjectFor(selfNID), func(msg *nats.Msg) {
		onMessage(msg.Data)
	})
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(errors.ErrConnectionFailed, err)
	}

	return &Transport{conn: conn, sub: sub}, nil
}

// Deliver publishes envelope to toNID's subject. NATS publish is
// fire-and-forget; a subject with no current subscriber silently drops the
// message, matching spec §4.7's "undeliverable sends fail silently from the
// transport's perspective" note for unreachable peers that were resolvable
// at enqueue time but vanished before delivery.
func (t *Transport) Deliver(toNID string, envelope []byte) error {
	if err := t.conn.Publish(subjectFor(toNID), envelope); err != nil {
		logger.Log.Warnf("natstransport: publish to %s failed: %v", toNID, err)
		return errors.Wrap(errors.ErrConnectionFailed, err)
	}
	return nil
}

// Close drains the subscription and closes the connection.
func (t *Transport) Close() error {
	if t.sub != nil {
		_ = t.sub.Unsubscribe()
	}
	t.conn.Close()
	return nil
}

// correlationID returns a fresh NATS nuid. Nothing in this module calls it;
// the Router's own request/reply path correlates via RouteHeader.MsgSeq.
func correlationID() string {
	return nuid.Next()
}
