package stage

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ulala-x/playhouse-go/pkg/actor"
	"github.com/ulala-x/playhouse-go/pkg/errors"
	"github.com/ulala-x/playhouse-go/pkg/frame"
	"github.com/ulala-x/playhouse-go/pkg/session"
)

type fakeOutbound struct {
	mu        sync.Mutex
	replies   []string
	errCodes  []uint16
}

func (f *fakeOutbound) SendToStage(stageID int64, msgID string, payload []byte) error { return nil }
func (f *fakeOutbound) RequestToStage(stageID int64, msgID string, payload []byte, timeout time.Duration) (*frame.Packet, error) {
	return nil, nil
}
func (f *fakeOutbound) SendToAPI(serviceType, msgID string, payload []byte) error { return nil }
func (f *fakeOutbound) RequestToAPI(serviceType, msgID string, payload []byte, timeout time.Duration) (*frame.Packet, error) {
	return nil, nil
}
func (f *fakeOutbound) ReplyClient(sessionID session.ID, msgID string, seq uint16, stageID int64, errCode uint16, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, msgID)
	f.errCodes = append(f.errCodes, errCode)
	return nil
}
func (f *fakeOutbound) ReplyServer(fromNID, msgID string, seq uint16, errCode uint16, payload []byte) error {
	return f.ReplyClient(0, msgID, seq, 0, errCode, payload)
}

// concurrencyCheckingStage panics if entered concurrently (property 3).
type concurrencyCheckingStage struct {
	entered int32
	order   []int
	mu      sync.Mutex
	joinOK  bool
}

func (u *concurrencyCheckingStage) guard(fn func()) {
	if !atomic.CompareAndSwapInt32(&u.entered, 0, 1) {
		panic("concurrent entry into stage callback")
	}
	defer atomic.StoreInt32(&u.entered, 0)
	fn()
}

func (u *concurrencyCheckingStage) OnCreate(payload *frame.Packet) (bool, *frame.Packet) {
	var ok bool
	u.guard(func() { ok = true })
	return ok, nil
}
func (u *concurrencyCheckingStage) OnPostCreate() {}
func (u *concurrencyCheckingStage) OnDestroy()    {}
func (u *concurrencyCheckingStage) OnJoinStage(a *actor.Actor) bool {
	var ok bool
	u.guard(func() { ok = u.joinOK })
	return ok
}
func (u *concurrencyCheckingStage) OnPostJoinStage(a *actor.Actor)            {}
func (u *concurrencyCheckingStage) OnConnectionChanged(a *actor.Actor, c bool) {}
func (u *concurrencyCheckingStage) OnDispatch(a *actor.Actor, p *frame.Packet) {
	u.guard(func() {
		u.mu.Lock()
		n := len(u.order)
		u.order = append(u.order, n)
		u.mu.Unlock()
		time.Sleep(time.Millisecond)
	})
}
func (u *concurrencyCheckingStage) OnDispatchServer(p *frame.Packet) {}

type fakeActorUser struct {
	accountID string
}

func (a *fakeActorUser) OnCreate()                              {}
func (a *fakeActorUser) OnAuthenticate(p *frame.Packet) bool     { return true }
func (a *fakeActorUser) OnPostAuthenticate()                     {}
func (a *fakeActorUser) OnDestroy()                              {}
func (a *fakeActorUser) AccountID() string                       { return a.accountID }

func newTestStage() (*Stage, *fakeOutbound, *concurrencyCheckingStage) {
	out := &fakeOutbound{}
	u := &concurrencyCheckingStage{joinOK: true}
	dir := NewDirectory()
	s, _, _ := dir.GetOrCreate(1, "Test", func() *Stage {
		return New(1, "Test", u, out, 8, dir, nil)
	})
	res := s.CreateStage(nil)
	if !res.OK {
		panic(res.Err)
	}
	return s, out, u
}

func joinActor(t *testing.T, s *Stage, accountID string) *actor.Actor {
	t.Helper()
	res := s.JoinStage(&fakeActorUser{accountID: accountID}, session.ID(1), nil)
	require.True(t, res.OK, res.Err)
	return res.Actor
}

func TestNoConcurrentEntry(t *testing.T) {
	s, out, _ := newTestStage()
	a := joinActor(t, s, "acc-1")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Dispatch(&ClientMessage{AccountID: a.AccountID(), Packet: frame.NewPacket("Ping", nil, 0, nil)})
		}()
	}
	wg.Wait()
	time.Sleep(200 * time.Millisecond)

	// a concurrent entry panics in guard, and the stage answers that panic
	// with an UncheckedContents reply; none must have been sent.
	out.mu.Lock()
	defer out.mu.Unlock()
	assert.Empty(t, out.replies)
}

func TestFIFOOrderPerSource(t *testing.T) {
	s, _, u := newTestStage()
	a := joinActor(t, s, "acc-1")

	for i := 0; i < 20; i++ {
		s.Dispatch(&ClientMessage{AccountID: a.AccountID(), Packet: frame.NewPacket("Ping", nil, 0, nil)})
	}
	time.Sleep(200 * time.Millisecond)

	u.mu.Lock()
	defer u.mu.Unlock()
	require.Len(t, u.order, 20)
	for i, v := range u.order {
		assert.Equal(t, i, v)
	}
}

func TestStageCreateRaceExactlyOneWinner(t *testing.T) {
	dir := NewDirectory()
	var successes, exists int32
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, isNew, err := dir.GetOrCreate(42, "Test", func() *Stage {
				return New(42, "Test", &concurrencyCheckingStage{joinOK: true}, &fakeOutbound{}, 8, dir, nil)
			})
			require.NoError(t, err)
			if isNew {
				res := s.CreateStage(nil)
				if res.OK {
					atomic.AddInt32(&successes, 1)
				}
				return
			}
			res := s.CreateStage(nil)
			if res.Err != nil && res.Err.Error() != "" {
				if isErr(res.Err, errors.ErrStageAlreadyExists) {
					atomic.AddInt32(&exists, 1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&successes))
	assert.Equal(t, 1, dir.Len())
}

func isErr(err error, target *errors.Error) bool {
	type isser interface{ Is(error) bool }
	if e, ok := err.(isser); ok {
		return e.Is(target)
	}
	return false
}

type rejectJoinActorUser struct {
	accountID string
	destroyed bool
}

func (a *rejectJoinActorUser) OnCreate() {}
func (a *rejectJoinActorUser) OnAuthenticate(p *frame.Packet) bool {
	return true // returns true but leaves accountID empty: AccountIdNotSet contract violation
}
func (a *rejectJoinActorUser) OnPostAuthenticate() {}
func (a *rejectJoinActorUser) OnDestroy()          { a.destroyed = true }
func (a *rejectJoinActorUser) AccountID() string   { return a.accountID }

func TestJoinFailureAccountIdNotSet(t *testing.T) {
	s, _, _ := newTestStage()
	u := &rejectJoinActorUser{}
	res := s.JoinStage(u, session.ID(1), nil)
	require.False(t, res.OK)
	require.True(t, isErr(res.Err, errors.ErrAccountIdNotSet))

	// Stage still accepts further joins.
	a := joinActor(t, s, "acc-ok")
	assert.Equal(t, "acc-ok", a.AccountID())
}

func TestLeaveStageActorNotFound(t *testing.T) {
	s, _, _ := newTestStage()
	res := s.LeaveStage("nope")
	require.False(t, res.OK)
	require.True(t, isErr(res.Err, errors.ErrActorNotFound))
}

func TestDestroyStageClearsActorsAndDirectory(t *testing.T) {
	s, _, _ := newTestStage()
	joinActor(t, s, "acc-1")
	dir := s.dir

	res := s.DestroyStage()
	require.True(t, res.OK)
	_, ok := dir.Get(s.ID)
	assert.False(t, ok)
}

func TestPanicInDispatchRepliesUncheckedContentsAndSurvives(t *testing.T) {
	out := &fakeOutbound{}
	u := &panickyStage{}
	dir := NewDirectory()
	s, _, _ := dir.GetOrCreate(9, "Test", func() *Stage { return New(9, "Test", u, out, 8, dir, nil) })
	require.True(t, s.CreateStage(nil).OK)

	res := s.JoinStage(&fakeActorUser{accountID: "acc"}, session.ID(1), nil)
	require.True(t, res.OK)

	s.Dispatch(&ClientMessage{AccountID: "acc", MsgSeq: 1, Packet: frame.NewPacket("Boom", nil, 0, nil)})
	time.Sleep(100 * time.Millisecond)

	out.mu.Lock()
	defer out.mu.Unlock()
	require.Len(t, out.replies, 1)
	assert.Equal(t, errors.WireCode(errors.ErrUncheckedContents), out.errCodes[0])

	// the stage itself must survive: subsequent dispatch still reaches user code
	s.Dispatch(&ClientMessage{AccountID: "acc", Packet: frame.NewPacket("Ping", nil, 0, nil)})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&u.pings))
}

type panickyStage struct{ pings int32 }

func (u *panickyStage) OnCreate(payload *frame.Packet) (bool, *frame.Packet) { return true, nil }
func (u *panickyStage) OnPostCreate()                                       {}
func (u *panickyStage) OnDestroy()                                          {}
func (u *panickyStage) OnJoinStage(a *actor.Actor) bool                     { return true }
func (u *panickyStage) OnPostJoinStage(a *actor.Actor)                      {}
func (u *panickyStage) OnConnectionChanged(a *actor.Actor, c bool)          {}
func (u *panickyStage) OnDispatch(a *actor.Actor, p *frame.Packet) {
	if p.MsgID == "Boom" {
		panic("boom")
	}
	if p.MsgID == "Ping" {
		atomic.AddInt32(&u.pings, 1)
	}
}
func (u *panickyStage) OnDispatchServer(p *frame.Packet) {}
