// Package ws implements the D2 WebSocket acceptor, grounded on the teacher's
// use of gorilla/websocket for its WS acceptor variant. A small wsConn
// wrapper adapts *websocket.Conn's message-oriented API to the byte-stream
// session.Conn contract so C1/C2 stay acceptor-agnostic.
package ws

import (
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ulala-x/playhouse-go/pkg/logger"
	"github.com/ulala-x/playhouse-go/pkg/metrics"
	"github.com/ulala-x/playhouse-go/pkg/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsConn adapts a *websocket.Conn's binary-message framing to the
// byte-stream Read/Write contract session.Conn expects, buffering whatever
// is left over from a partial Read across calls.
type wsConn struct {
	conn *websocket.Conn
	rest []byte
}

func (c *wsConn) Read(p []byte) (int, error) {
	for len(c.rest) == 0 {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		c.rest = data
	}
	n := copy(p, c.rest)
	c.rest = c.rest[n:]
	return n, nil
}

func (c *wsConn) Write(p []byte) (int, error) {
	if err := c.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Close() error           { return c.conn.Close() }
func (c *wsConn) RemoteAddr() net.Addr   { return c.conn.RemoteAddr() }

// ConnectHandler is invoked once per upgraded connection before Serve starts
// reading from it.
type ConnectHandler func(s *session.Session)

// Acceptor upgrades HTTP connections at a configured path and spins up a
// Session per upgraded connection.
type Acceptor struct {
	cfg          session.Config
	onConnect    ConnectHandler
	onFrame      session.FrameHandler
	onDisconnect session.DisconnectHandler
	reporter     metrics.Reporter
}

// New builds a ws Acceptor. Mount Handler() on an http.ServeMux at
// config.WebSocketPath. reporter may be nil, in which case metrics.Nop is
// used for every upgraded session.
func New(cfg session.Config, onConnect ConnectHandler, onFrame session.FrameHandler, onDisconnect session.DisconnectHandler, reporter metrics.Reporter) *Acceptor {
	return &Acceptor{cfg: cfg, onConnect: onConnect, onFrame: onFrame, onDisconnect: onDisconnect, reporter: reporter}
}

// Handler returns the http.HandlerFunc to mount for the WebSocket endpoint.
func (a *Acceptor) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Log.Warnf("ws acceptor: upgrade failed: %v", err)
			return
		}
		conn.SetReadDeadline(time.Time{})
		s := session.New(&wsConn{conn: conn}, a.cfg, a.onDisconnect, a.reporter)
		if a.onConnect != nil {
			a.onConnect(s)
		}
		logger.Log.Debugf("ws acceptor: upgraded connection from %s as session %d", conn.RemoteAddr(), s.ID())
		s.Serve(a.onFrame)
	}
}
