package stage

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/ulala-x/playhouse-go/pkg/actor"
	"github.com/ulala-x/playhouse-go/pkg/errors"
	"github.com/ulala-x/playhouse-go/pkg/frame"
	"github.com/ulala-x/playhouse-go/pkg/logger"
	"github.com/ulala-x/playhouse-go/pkg/metrics"
	"github.com/ulala-x/playhouse-go/pkg/session"
	"github.com/ulala-x/playhouse-go/pkg/timer"
)

const defaultDispatchBurst = 256

// asyncPool is the shared worker pool AsyncBlock's pre-function runs on, kept
// well away from any Stage's own goroutine (spec §4.5).
var asyncPool = make(chan func(), 1024)

func init() {
	for i := 0; i < 32; i++ {
		go func() {
			for fn := range asyncPool {
				fn()
			}
		}()
	}
}

// Stage is the core-owned wrapper around one user Stage (spec §3 "Stage").
type Stage struct {
	ID   int64
	Type string

	user     User
	outbound Outbound

	actors map[string]*actor.Actor

	scheduler *timer.Scheduler

	mailbox mailbox
	running int32
	burst   int

	created bool

	// current-request header, valid only while processing a kindClientMessage
	// or kindServerMessage item; cleared immediately after (spec §4.4).
	curClientMsg *ClientMessage
	curServerMsg *ServerMessage

	dir      *Directory
	reporter metrics.Reporter
}

// New constructs a Stage. It is not usable until its own
// CreateStage/GetOrCreateStage system command runs OnCreate. reporter may be
// nil, in which case metrics.Nop is used.
func New(id int64, stageType string, user User, outbound Outbound, burst int, dir *Directory, reporter metrics.Reporter) *Stage {
	if burst <= 0 {
		burst = defaultDispatchBurst
	}
	if reporter == nil {
		reporter = metrics.Nop
	}
	s := &Stage{
		ID:       id,
		Type:     stageType,
		user:     user,
		outbound: outbound,
		actors:   make(map[string]*actor.Actor),
		burst:    burst,
		dir:      dir,
		reporter: reporter,
	}
	s.scheduler = timer.NewScheduler(s)
	return s
}

func (s *Stage) stageTags() map[string]string {
	return map[string]string{"stageId": strconv.FormatInt(s.ID, 10), "stageType": s.Type}
}

// Created reports whether OnCreate has completed successfully.
func (s *Stage) Created() bool { return s.created }

// --- timer.Target ---

func (s *Stage) EnqueueTimerCallback(id timer.ID, callback func()) {
	s.enqueueItem(queueItem{kind: kindTimerCallback, timerFn: callback})
}

func (s *Stage) EnqueueTick(deltaTime, totalElapsed time.Duration) {
	s.enqueueItem(queueItem{kind: kindTick, tickDelta: deltaTime, tickTotal: totalElapsed})
}

// Timers exposes the scheduler for Repeat/Count/Cancel/StartGameLoop calls
// made from within user callbacks.
func (s *Stage) Timers() *timer.Scheduler { return s.scheduler }

// AsyncBlock runs pre on a worker pool away from this Stage, then enqueues
// post(result) back onto this Stage's own queue (spec §4.5).
func (s *Stage) AsyncBlock(pre func() interface{}, post func(result interface{})) {
	asyncPool <- func() {
		result := pre()
		s.mailbox.push(queueItem{kind: kindAsyncResult, asyncFn: func() { post(result) }})
		s.schedule()
	}
}

// --- scheduling (spec §4.4 "Scheduling model") ---

func (s *Stage) enqueueItem(item queueItem) {
	s.mailbox.push(item)
	s.reporter.ReportGauge(metrics.StageQueueDepth, s.stageTags(), float64(s.mailbox.len()))
	s.schedule()
}

func (s *Stage) schedule() {
	if atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		go s.drain()
	}
}

func (s *Stage) drain() {
	for {
		processed := 0
		for processed < s.burst {
			item, ok := s.mailbox.pop()
			if !ok {
				break
			}
			s.process(item)
			processed++
		}

		atomic.StoreInt32(&s.running, 0)
		if s.mailbox.isEmpty() {
			return
		}
		if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
			// a producer already rescheduled a fresh worker
			return
		}
		if processed >= s.burst {
			// fairness: yield this goroutine/thread to the scheduler instead
			// of monopolizing it (spec §4.4 "Fairness").
			go s.drain()
			return
		}
	}
}

func (s *Stage) process(item queueItem) {
	start := time.Now()
	defer func() {
		s.reporter.ReportHistogram(metrics.StageDispatchDurationSeconds, s.stageTags(), time.Since(start).Seconds())
		if r := recover(); r != nil {
			logger.Log.Errorf("stage %d: user callback panic: %v", s.ID, r)
			s.handlePanic(item, r)
		}
	}()

	switch item.kind {
	case kindCreateStage:
		s.handleCreateStage(item, false)
	case kindGetOrCreateStage:
		s.handleCreateStage(item, true)
	case kindJoinStage:
		s.handleJoinStage(item)
	case kindLeaveStage:
		s.handleLeaveStage(item)
	case kindDisconnectNotice:
		s.handleDisconnectNotice(item)
	case kindReconnect:
		s.handleReconnect(item)
	case kindDestroyStage:
		s.handleDestroyStage(item)
	case kindClientMessage:
		s.handleClientMessage(item)
	case kindServerMessage:
		s.handleServerMessage(item)
	case kindTimerCallback:
		item.timerFn()
	case kindTick:
		// the game loop tick is delivered to OnDispatchServer-style user code
		// via a reserved msgId, letting existing Stage logic consume it.
		s.user.OnDispatchServer(frame.NewPacket(tickMsgID, encodeTick(item.tickDelta, item.tickTotal), 0, nil))
	case kindAsyncResult:
		item.asyncFn()
	}
}

func (s *Stage) handlePanic(item queueItem, r interface{}) {
	switch item.kind {
	case kindCreateStage, kindGetOrCreateStage, kindJoinStage, kindLeaveStage, kindDisconnectNotice, kindReconnect, kindDestroyStage:
		if item.resultCh != nil {
			item.resultCh <- CommandResult{Err: errors.ErrInternal.WithMetadata(map[string]string{"panic": "true"})}
		}
	case kindClientMessage:
		_ = s.outbound.ReplyClient(item.clientMsg.SessionID, item.clientMsg.Packet.MsgID, item.clientMsg.MsgSeq, s.ID,
			errors.WireCode(errors.ErrUncheckedContents), nil)
	case kindServerMessage:
		if item.serverMsg.MsgSeq != 0 {
			_ = s.outbound.ReplyServer(item.serverMsg.FromNID, item.serverMsg.Packet.MsgID, item.serverMsg.MsgSeq,
				errors.WireCode(errors.ErrUncheckedContents), nil)
		}
	}
}

const tickMsgID = "@GameLoop@Tick@"
