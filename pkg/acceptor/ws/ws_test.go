package ws

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ulala-x/playhouse-go/pkg/codec"
	"github.com/ulala-x/playhouse-go/pkg/frame"
	"github.com/ulala-x/playhouse-go/pkg/session"
)

func TestAcceptorEchoesFrameOverWebSocket(t *testing.T) {
	onFrame := func(s *session.Session, f *frame.Frame) {
		resp := &frame.Frame{MsgID: f.MsgID, MsgSeq: f.MsgSeq, StageID: f.StageID, Payload: f.Payload, FromServer: true}
		require.NoError(t, s.SendResponse(resp))
	}
	a := New(session.Config{MaxMessageSize: frame.DefaultMaxMessageSize, AuthenticateMsgID: "Echo"}, nil, onFrame, nil, nil)

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	f := &frame.Frame{MsgID: "Echo", MsgSeq: 1, StageID: 100, Payload: []byte("hi")}
	wire, err := codec.Encode(f)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(gorillaws.BinaryMessage, wire))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	dec := codec.NewDecoder(frame.DefaultMaxMessageSize, frame.DefaultMaxBodySize, true)
	frames, err := dec.Feed(data)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, "Echo", frames[0].MsgID)
	assert.Equal(t, []byte("hi"), frames[0].Payload)
}
