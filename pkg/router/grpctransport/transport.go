// Package grpctransport implements router.Transport over google.golang.org/
// grpc, the second cluster backend the teacher's stack carries alongside
// NATS. Rather than fabricate protoc-generated stubs for a message this
// module defines itself, it registers a raw byte codec (codec.go) and a
// hand-built grpc.ServiceDesc (service.go) so every envelope rides as an
// opaque payload, the same passthrough technique reverse-proxying gRPC
// gateways use to move messages they don't need to understand.
package grpctransport

import (
	"context"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/ulala-x/playhouse-go/pkg/errors"
	"github.com/ulala-x/playhouse-go/pkg/logger"
	"github.com/ulala-x/playhouse-go/pkg/router"
)

const dialTimeout = 5 * time.Second

// Transport is a router.Transport backed by one gRPC server (receiving) and
// a pool of lazily-dialed client connections (sending).
type Transport struct {
	onMessage func(payload []byte)
	resolver  router.Resolver

	grpcSrv  *grpc.Server
	listener net.Listener

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// Listen starts a gRPC server on addr. onMessage receives the raw bytes of
// every envelope delivered to this process, normally router.Router.HandleInbound.
func Listen(addr string, resolver router.Resolver, onMessage func(payload []byte)) (*Transport, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(errors.ErrConnectionFailed, err)
	}

	t := &Transport{
		onMessage: onMessage,
		resolver:  resolver,
		conns:     make(map[string]*grpc.ClientConn),
		listener:  ln,
	}
	t.grpcSrv = grpc.NewServer()
	t.grpcSrv.RegisterService(&serviceDesc, t)

	go func() {
		if err := t.grpcSrv.Serve(ln); err != nil {
			logger.Log.Warnf("grpctransport: serve exited: %v", err)
		}
	}()

	return t, nil
}

// Addr returns the server's bound address, useful when addr was ":0".
func (t *Transport) Addr() string {
	return t.listener.Addr().String()
}

func (t *Transport) route(ctx context.Context, envelope rawMessage) (rawMessage, error) {
	if t.onMessage != nil {
		t.onMessage([]byte(envelope))
	}
	return rawMessage{}, nil
}

func (t *Transport) connFor(nid string) (*grpc.ClientConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c, ok := t.conns[nid]; ok {
		return c, nil
	}
	if t.resolver == nil {
		return nil, errors.ErrInternal.WithMetadata(map[string]string{"reason": "grpctransport: no resolver configured"})
	}
	endpoint, ok := t.resolver.Resolve(nid)
	if !ok {
		return nil, errors.ErrInternal.WithMetadata(map[string]string{"reason": "unreachable NID", "nid": nid})
	}

	conn, err := grpc.Dial(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return nil, errors.Wrap(errors.ErrConnectionFailed, err)
	}
	t.conns[nid] = conn
	return conn, nil
}

// Deliver hands envelope to toNID over a (possibly newly dialed) gRPC
// connection.
func (t *Transport) Deliver(toNID string, envelope []byte) error {
	conn, err := t.connFor(toNID)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	in := rawMessage(envelope)
	out := new(rawMessage)
	if err := conn.Invoke(ctx, routeMethodName, &in, out, grpc.CallContentSubtype(codecName)); err != nil {
		return errors.Wrap(errors.ErrConnectionFailed, err)
	}
	return nil
}

// Close tears down every client connection and stops the server.
func (t *Transport) Close() error {
	t.mu.Lock()
	for _, c := range t.conns {
		_ = c.Close()
	}
	t.mu.Unlock()
	t.grpcSrv.GracefulStop()
	return nil
}
