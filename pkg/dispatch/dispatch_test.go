package dispatch

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ulala-x/playhouse-go/pkg/actor"
	"github.com/ulala-x/playhouse-go/pkg/apicontroller"
	"github.com/ulala-x/playhouse-go/pkg/codec"
	"github.com/ulala-x/playhouse-go/pkg/frame"
	"github.com/ulala-x/playhouse-go/pkg/router"
	"github.com/ulala-x/playhouse-go/pkg/session"
	"github.com/ulala-x/playhouse-go/pkg/stage"
)

type fakeConn struct {
	r net.Conn
	w net.Conn
}

func (c *fakeConn) Read(p []byte) (int, error)  { return c.r.Read(p) }
func (c *fakeConn) Write(p []byte) (int, error) { return c.w.Write(p) }
func (c *fakeConn) Close() error                { c.r.Close(); return c.w.Close() }
func (c *fakeConn) RemoteAddr() net.Addr        { return c.r.RemoteAddr() }

type echoStageUser struct{}

func (u *echoStageUser) OnCreate(payload *frame.Packet) (bool, *frame.Packet) { return true, nil }
func (u *echoStageUser) OnPostCreate()                                      {}
func (u *echoStageUser) OnDestroy()                                         {}
func (u *echoStageUser) OnJoinStage(a *actor.Actor) bool                    { return true }
func (u *echoStageUser) OnPostJoinStage(a *actor.Actor)                     {}
func (u *echoStageUser) OnConnectionChanged(a *actor.Actor, connected bool) {}
func (u *echoStageUser) OnDispatch(a *actor.Actor, p *frame.Packet)         {}
func (u *echoStageUser) OnDispatchServer(p *frame.Packet)                  {}

type acceptingActorUser struct {
	accountID string
}

func (a *acceptingActorUser) OnCreate() {}
func (a *acceptingActorUser) OnAuthenticate(p *frame.Packet) bool {
	a.accountID = string(p.Payload)
	return true
}
func (a *acceptingActorUser) OnPostAuthenticate() {}
func (a *acceptingActorUser) OnDestroy()          {}
func (a *acceptingActorUser) AccountID() string   { return a.accountID }

func readOneFrame(t *testing.T, r net.Conn) *frame.Frame {
	t.Helper()
	dec := codec.NewDecoder(frame.DefaultMaxMessageSize, frame.DefaultMaxBodySize, true)
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		require.NoError(t, err)
		frames, ferr := dec.Feed(buf[:n])
		require.NoError(t, ferr)
		if len(frames) > 0 {
			return frames[0]
		}
	}
}

func TestHandleClientFrameAuthFlowJoinsStageAndReplies(t *testing.T) {
	serverConnEnd, clientConnEnd := net.Pipe()
	conn := &fakeConn{r: serverConnEnd, w: serverConnEnd}
	dir := stage.NewDirectory()

	stageFac := func(stageType string) stage.User { return &echoStageUser{} }
	actorFac := func(stageType string) actor.User { return &acceptingActorUser{} }

	d := New(Config{
		SelfNID:            "game:1",
		DefaultStageType:   "Room",
		StageDispatchBurst: 8,
		AuthenticateMsgID:  "Auth",
		RequestTimeout:     time.Second,
	}, dir, nil, nil, stageFac, actorFac, nil)

	sess := session.New(conn, session.Config{
		MaxMessageSize:    frame.DefaultMaxMessageSize,
		AuthenticateMsgID: "Auth",
	}, d.OnSessionDisconnect, nil)
	d.RegisterSession(sess)

	go sess.Serve(d.HandleClientFrame)

	authFrame := &frame.Frame{MsgID: "Auth", MsgSeq: 1, StageID: 100, Payload: []byte("acc-1")}
	wire, err := codec.Encode(authFrame)
	require.NoError(t, err)
	_, err = clientConnEnd.Write(wire)
	require.NoError(t, err)

	resp := readOneFrame(t, clientConnEnd)
	assert.Equal(t, "Auth", resp.MsgID)
	assert.Equal(t, uint16(0), resp.ErrorCode)

	_, ok := dir.Get(100)
	assert.True(t, ok)

	sess.Close(nil)
}

func TestHandleServerEnvelopeWithZeroStageIDGoesToAPIController(t *testing.T) {
	dir := stage.NewDirectory()
	stageFac := func(stageType string) stage.User { return &echoStageUser{} }
	actorFac := func(stageType string) actor.User { return &acceptingActorUser{} }

	d := New(Config{
		SelfNID:          "game:1",
		DefaultStageType: "Room",
		RequestTimeout:   time.Second,
	}, dir, nil, nil, stageFac, actorFac, nil)

	api := apicontroller.New()
	var gotMsgID string
	api.Register("Ping", func(req *frame.Packet) (*frame.Packet, error) {
		gotMsgID = req.MsgID
		return frame.NewPacket(req.MsgID, []byte("pong"), 0, nil), nil
	})
	d.BindAPIController(api)

	env := &router.Envelope{Header: router.RouteHeader{MsgID: "Ping", FromNID: "game:2"}, Payload: []byte("ping")}
	d.HandleServerEnvelope(env)

	assert.Equal(t, "Ping", gotMsgID)
}
