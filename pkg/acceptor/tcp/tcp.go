// Package tcp implements the D1 TCP acceptor, grounded on the teacher's raw
// net.Listener accept loop feeding into agent.Handle: one goroutine accepts
// connections and hands each off to a fresh pkg/session.Session.
package tcp

import (
	"net"

	"github.com/ulala-x/playhouse-go/pkg/logger"
	"github.com/ulala-x/playhouse-go/pkg/metrics"
	"github.com/ulala-x/playhouse-go/pkg/session"
)

// ConnectHandler is invoked once per newly accepted connection, before
// Serve starts reading from it, so the caller can register the session with
// its dispatcher.
type ConnectHandler func(s *session.Session)

// Acceptor listens on a TCP address and spins up a Session per connection.
type Acceptor struct {
	ln net.Listener

	cfg        session.Config
	onConnect  ConnectHandler
	onFrame    session.FrameHandler
	onDisconnect session.DisconnectHandler
	reporter   metrics.Reporter
}

// Listen starts listening on addr. Call Serve to begin accepting. reporter
// may be nil, in which case metrics.Nop is used for every accepted session.
func Listen(addr string, cfg session.Config, onConnect ConnectHandler, onFrame session.FrameHandler, onDisconnect session.DisconnectHandler, reporter metrics.Reporter) (*Acceptor, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Acceptor{ln: ln, cfg: cfg, onConnect: onConnect, onFrame: onFrame, onDisconnect: onDisconnect, reporter: reporter}, nil
}

// Addr returns the actual listening address (useful when addr was ":0").
func (a *Acceptor) Addr() string { return a.ln.Addr().String() }

// Serve accepts connections until the listener is closed.
func (a *Acceptor) Serve() error {
	for {
		conn, err := a.ln.Accept()
		if err != nil {
			return err
		}
		go a.handle(conn)
	}
}

func (a *Acceptor) handle(conn net.Conn) {
	s := session.New(conn, a.cfg, a.onDisconnect, a.reporter)
	if a.onConnect != nil {
		a.onConnect(s)
	}
	logger.Log.Debugf("tcp acceptor: accepted connection from %s as session %d", conn.RemoteAddr(), s.ID())
	s.Serve(a.onFrame)
}

// Close stops accepting new connections.
func (a *Acceptor) Close() error { return a.ln.Close() }
