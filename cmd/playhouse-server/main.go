// Command playhouse-server is the process entrypoint (spec §6.5): it wires
// config -> logger -> metrics -> registry -> router -> directory ->
// dispatcher -> acceptors together and blocks on OS signals for graceful
// shutdown, grounded on the teacher's pitaya.NewApp-style builder.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ulala-x/playhouse-go/pkg/acceptor/tcp"
	"github.com/ulala-x/playhouse-go/pkg/acceptor/ws"
	"github.com/ulala-x/playhouse-go/pkg/actor"
	"github.com/ulala-x/playhouse-go/pkg/admin"
	"github.com/ulala-x/playhouse-go/pkg/apicontroller"
	"github.com/ulala-x/playhouse-go/pkg/config"
	"github.com/ulala-x/playhouse-go/pkg/dispatch"
	"github.com/ulala-x/playhouse-go/pkg/frame"
	"github.com/ulala-x/playhouse-go/pkg/logger"
	"github.com/ulala-x/playhouse-go/pkg/metrics"
	prometheusmetrics "github.com/ulala-x/playhouse-go/pkg/metrics/prometheus"
	"github.com/ulala-x/playhouse-go/pkg/registry/etcd"
	"github.com/ulala-x/playhouse-go/pkg/router"
	"github.com/ulala-x/playhouse-go/pkg/router/natstransport"
	"github.com/ulala-x/playhouse-go/pkg/session"
	"github.com/ulala-x/playhouse-go/pkg/stage"
)

// defaultRoomUser is the built-in Stage.User used when no game module is
// linked in: it joins any actor and echoes client messages back, so the
// binary is runnable standalone for smoke-testing an acceptor/codec/stage
// wiring without a real game on top.
type defaultRoomUser struct{ outbound stage.Outbound }

func (u *defaultRoomUser) OnCreate(payload *frame.Packet) (bool, *frame.Packet) { return true, nil }
func (u *defaultRoomUser) OnPostCreate()                                      {}
func (u *defaultRoomUser) OnDestroy()                                         {}
func (u *defaultRoomUser) OnJoinStage(a *actor.Actor) bool                    { return true }
func (u *defaultRoomUser) OnPostJoinStage(a *actor.Actor)                    {}
func (u *defaultRoomUser) OnConnectionChanged(a *actor.Actor, connected bool) {}
func (u *defaultRoomUser) OnDispatch(a *actor.Actor, p *frame.Packet) {
	_ = u.outbound.ReplyClient(a.SessionID, p.MsgID, 0, a.StageID, 0, p.Payload)
}
func (u *defaultRoomUser) OnDispatchServer(p *frame.Packet) {}

type defaultActorUser struct{ accountID string }

func (a *defaultActorUser) OnCreate() {}
func (a *defaultActorUser) OnAuthenticate(p *frame.Packet) bool {
	a.accountID = string(p.Payload)
	return a.accountID != ""
}
func (a *defaultActorUser) OnPostAuthenticate() {}
func (a *defaultActorUser) OnDestroy()          {}
func (a *defaultActorUser) AccountID() string   { return a.accountID }

// staticLocator answers no non-local placement questions; a real deployment
// backs dispatch.Locator with its own stage-placement/service-discovery
// logic (registry.Registry only answers "does this NID exist", not "which
// NID owns this stage").
type staticLocator struct{}

func (staticLocator) LocateStage(int64) (string, bool)    { return "", false }
func (staticLocator) LocateService(string) (string, bool) { return "", false }

func main() {
	configPath := flag.String("config", "", "path to a config file (optional; env PLAYHOUSE_* and defaults otherwise)")
	flag.Parse()

	cfg, err := config.Load(config.NewViper(), *configPath)
	if err != nil {
		logger.Log.Fatalf("playhouse-server: failed to load config: %v", err)
	}

	selfNID := fmt.Sprintf("%s:%s", cfg.ServiceType, cfg.ServerID)
	logger.Log.Infof("playhouse-server: starting as %s", selfNID)

	promReg := prometheus.NewRegistry()
	reporter := prometheusmetrics.New(promReg)

	dir := stage.NewDirectory()

	var registryClient *etcd.Registry
	if len(cfg.EtcdEndpoints) > 0 {
		r, err := etcd.New(cfg.EtcdEndpoints, 10*time.Second)
		if err != nil {
			logger.Log.Warnf("playhouse-server: etcd registry unavailable, running without peer discovery: %v", err)
		} else {
			registryClient = r
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := registryClient.Bootstrap(ctx); err != nil {
				logger.Log.Warnf("playhouse-server: etcd bootstrap failed: %v", err)
			}
			cancel()
		}
	}

	var rtr *router.Router
	var d *dispatch.Dispatch

	if cfg.NatsURL != "" && registryClient != nil {
		nt, err := natstransport.Dial(cfg.NatsURL, selfNID, func(payload []byte) {
			rtr.HandleInbound(payload)
		})
		if err != nil {
			logger.Log.Warnf("playhouse-server: nats transport unavailable, running single-process: %v", err)
		} else {
			rtr = router.New(selfNID, nt, registryClient, func(env *router.Envelope) { d.HandleServerEnvelope(env) }, reporter)
		}
	}

	stageFac := func(stageType string) stage.User { return &defaultRoomUser{outbound: d} }
	actorFac := func(stageType string) actor.User { return &defaultActorUser{} }

	d = dispatch.New(dispatch.Config{
		SelfNID:            selfNID,
		DefaultStageType:   cfg.DefaultStageType,
		StageDispatchBurst: cfg.StageDispatchBurst,
		AuthenticateMsgID:  cfg.AuthenticateMsgID,
		RequestTimeout:     cfg.RequestTimeout,
	}, dir, rtr, staticLocator{}, stageFac, actorFac, reporter)

	api := apicontroller.New()
	d.BindAPIController(api)

	sessCfg := session.Config{
		HeartbeatInterval: cfg.HeartbeatInterval,
		HeartbeatTimeout:  cfg.HeartbeatTimeout,
		MaxMessageSize:    cfg.MaxMessageSize,
		MaxBodySize:       cfg.MaxBodySize,
		AuthenticateMsgID: cfg.AuthenticateMsgID,
	}

	onConnect := func(s *session.Session) {
		reporter.ReportCounter(metrics.SessionConnectedTotal, map[string]string{"nid": selfNID}, 1)
		d.RegisterSession(s)
	}

	tcpAddr := fmt.Sprintf(":%d", cfg.TCPPort)
	tcpAcceptor, err := tcp.Listen(tcpAddr, sessCfg, onConnect, d.HandleClientFrame, d.OnSessionDisconnect, reporter)
	if err != nil {
		logger.Log.Fatalf("playhouse-server: failed to listen on %s: %v", tcpAddr, err)
	}
	go func() {
		if err := tcpAcceptor.Serve(); err != nil {
			logger.Log.Warnf("playhouse-server: tcp acceptor stopped: %v", err)
		}
	}()
	logger.Log.Infof("playhouse-server: tcp acceptor listening on %s", tcpAcceptor.Addr())

	if cfg.WebSocketPath != "" {
		wsAcceptor := ws.New(sessCfg, onConnect, d.HandleClientFrame, d.OnSessionDisconnect, reporter)
		mux := http.NewServeMux()
		mux.Handle(cfg.WebSocketPath, wsAcceptor.Handler())
		go func() {
			if err := http.ListenAndServe(fmt.Sprintf(":%d", cfg.TCPPort+1), mux); err != nil {
				logger.Log.Warnf("playhouse-server: ws acceptor stopped: %v", err)
			}
		}()
	}

	adminSrv := admin.New(cfg.MetricsAddr, promReg, dir, nil)
	go func() {
		if err := adminSrv.Serve(); err != nil {
			logger.Log.Warnf("playhouse-server: admin server stopped: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Log.Infof("playhouse-server: shutting down")

	_ = tcpAcceptor.Close()
	_ = adminSrv.Close()
	if rtr != nil {
		_ = rtr.Close()
	}
	if registryClient != nil {
		_ = registryClient.Close()
	}
}
