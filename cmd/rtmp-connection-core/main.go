// Command rtmp-connection-core is the demo binary wiring the connection
// core to concrete collaborators: a TCP transport, an in-process scope, a
// goroutine-backed scheduler, a rate-limited worker pool, the Redis admin
// listener and the websocket control plane. It follows the teacher's
// CreateRTMPServer/AcceptConnections/Start shape (rtmp_server.go) with one
// goroutine per accepted connection; live connections are kept in a map by
// id so the admin and control-plane kill commands can find them.
package main

import (
	"context"
	"net"
	"strconv"

	"github.com/AgustinSRG/rtmp-connection-core/admin"
	"github.com/AgustinSRG/rtmp-connection-core/config"
	"github.com/AgustinSRG/rtmp-connection-core/conn"
	"github.com/AgustinSRG/rtmp-connection-core/controlplane"
	"github.com/AgustinSRG/rtmp-connection-core/rlog"
	"github.com/AgustinSRG/rtmp-connection-core/scheduler"
	"github.com/AgustinSRG/rtmp-connection-core/scope"
	"github.com/AgustinSRG/rtmp-connection-core/transport"
	"github.com/AgustinSRG/rtmp-connection-core/webhook"
	"github.com/AgustinSRG/rtmp-connection-core/wire"
	"github.com/AgustinSRG/rtmp-connection-core/workerpool"
)

// loggingHandler is a minimal conn.Handler that logs, at debug level, the
// data type and payload length of every packet it receives (control
// packets included, since the dispatch pipeline hands those to the handler
// as well); a real embedder would decode the AMF command here
// and drive Connection.Connect/Setup/DispatchEvent accordingly. AMF
// command decoding is outside the connection core's own scope (spec.md
// §1), so the demo binary stops at "wiring compiles and runs", not "full
// RTMP command semantics".
type loggingHandler struct {
	scope *scope.Scope
}

func (h *loggingHandler) MessageReceived(c *conn.Connection, p *wire.Packet) {
	rlog.DebugSession(c.ID(), c.RemoteAddress(), rlog.Counter("dataType", uint64(p.DataType))+" "+rlog.Counter("len", uint64(len(p.Payload))))
}

type server struct {
	cfg         *config.Config
	tuning      *conn.Tuning
	scope       *scope.Scope
	sched       *scheduler.Scheduler
	pool        *workerpool.Pool
	control     *controlplane.Client
	webhook     *webhook.Notifier
	nextID      uint64
	connections map[string]*conn.Connection
}

func (s *server) nextSessionID() string {
	s.nextID++
	return strconv.FormatUint(s.nextID, 10)
}

func (s *server) killConnection(id string) {
	if c, ok := s.connections[id]; ok {
		c.Close()
	}
}

func (s *server) handleAccept(id, remoteAddr string, raw net.Conn) {
	defer raw.Close()

	if err := transport.ServerHandshake(raw); err != nil {
		rlog.Warning("handshake failed for " + id + ": " + err.Error())
		return
	}

	t := transport.NewTCPTransport(raw)
	handler := &loggingHandler{scope: s.scope}
	c := conn.NewConnection(id, remoteAddr, t, handler, s.scope, s.sched, s.pool, rlog.Adapter{}, s.tuning)

	s.connections[id] = c
	defer delete(s.connections, id)

	c.Open()
	if err := c.Connect(s.scope, ""); err != nil {
		rlog.Warning("connection rejected: " + err.Error())
		return
	}

	// No stream name is known yet at accept time (AMF command decoding is
	// outside this package's scope); the webhook carries the connection id
	// and lets the external receiver correlate by that alone.
	streamID, _ := s.webhook.NotifyStart(c.ID(), "", remoteAddr)
	defer s.webhook.NotifyStop(c.ID(), "", streamID, remoteAddr)

	reader := t.CountingReader()
	header := make([]byte, 12)
	for {
		n, err := reader(header)
		if err != nil || n == 0 {
			break
		}
		c.MessageReceived(&wire.Packet{DataType: uint32(header[7])})
	}

	c.Close()
}

func (s *server) acceptLoop(listener net.Listener) {
	defer listener.Close()
	for {
		raw, err := listener.Accept()
		if err != nil {
			rlog.Error(err)
			return
		}
		id := s.nextSessionID()
		remoteAddr := raw.RemoteAddr().String()
		rlog.Request(id, remoteAddr, "connection accepted")
		go s.handleAccept(id, remoteAddr, raw)
	}
}

func main() {
	rlog.Info("rtmp-connection-core starting")

	cfg, err := config.Load()
	if err != nil {
		rlog.Error(err)
		return
	}

	sc := scope.New()
	sched := scheduler.New()
	pool := workerpool.New(workerpool.Options{
		Workers:          cfg.WorkerPoolSize,
		QueueSize:        cfg.WorkerQueueSize,
		SubmitsPerSecond: cfg.WorkerSubmitsPerSecond,
		TaskTimeout:      cfg.MaxHandlingTimeout,
	})
	defer pool.Close()

	tuning := &conn.Tuning{
		MaxHandshakeTimeoutMs:      uint64(cfg.HandshakeTimeout.Milliseconds()),
		PingIntervalMs:             uint64(cfg.KeepAliveInterval.Milliseconds()),
		MaxInactivityMs:            cfg.MaxInactivity.Milliseconds(),
		QueueThresholdForAudioDrop: int64(cfg.QueueThresholdForAudioDrop),
		MaxHandlingTimeoutMs:       cfg.MaxHandlingTimeout.Milliseconds(),
		BytesReadInterval:          cfg.BytesReadInterval,
	}

	s := &server{
		cfg:         cfg,
		tuning:      tuning,
		scope:       sc,
		sched:       sched,
		pool:        pool,
		connections: make(map[string]*conn.Connection),
	}
	s.control = controlplane.New(s.killConnection)
	s.webhook = webhook.New(cfg.CallbackURL, cfg.CallbackJWTSecret, cfg.CallbackJWTSubject)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go admin.New(s.killConnection, func(connectionID string, streamID uint32) {
		if c, ok := s.connections[connectionID]; ok {
			c.CloseStream(streamID)
		}
	}).Run(ctx)

	bindAddr := cfg.BindAddress + ":" + strconv.Itoa(cfg.RTMPPort)
	listener, err := net.Listen("tcp", bindAddr)
	if err != nil {
		rlog.Error(err)
		return
	}
	rlog.Info("listening on " + bindAddr)

	if cfg.TLSEnabled {
		tlsListener, err := transport.NewTLSListener(listener, cfg.TLSCertPath, cfg.TLSKeyPath, 0)
		if err != nil {
			rlog.Error(err)
			return
		}
		s.acceptLoop(tlsListener)
		return
	}

	s.acceptLoop(listener)
	sched.Wait()
}
