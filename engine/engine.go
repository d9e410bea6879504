package engine

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/dcrpc/homa/grant"
	"github.com/dcrpc/homa/internal"
	"github.com/dcrpc/homa/metrics"
	"github.com/dcrpc/homa/pacer"
	"github.com/dcrpc/homa/rpcmsg"
	"github.com/dcrpc/homa/socket"
	"github.com/dcrpc/homa/sockettab"
	"github.com/dcrpc/homa/timer"
)

var ErrNoWriter = errors.New("engine: no datagram writer configured")

// Writer is the raw IP datagram boundary (§1: "a raw IP datagram
// interface below"). priority carries the packet's scheduling priority
// out of band, the way the original engine tags an skb's priority field
// rather than encoding it on the wire. The engine depends only on this
// interface; the `rawsock` package provides the real implementation.
type Writer interface {
	WriteDatagram(dst [4]byte, priority uint8, payload []byte) error
}

// Engine is the top-level assembly of every independently-testable
// layer: peer/socket tables, the grant scheduler, the pacer, the timer,
// and per-CPU metrics (§2's "dependency order: peer table, socket
// table, packet codec, RPC state machine, grant scheduler, pacer,
// timer, top-level dispatch").
type Engine struct {
	cfg Config

	Peers *sockettab.PeerTable
	Ports *sockettab.SocketTable

	grant *grant.Queue
	pace  *pacer.Pacer
	tick  *timer.Driver
	mtx   *metrics.Counters

	writer Writer

	mu      sync.Mutex
	sockets map[*socket.Socket]struct{}
}

// New builds an Engine. Call SetWriter before any traffic flows;
// decoupling construction from the writer lets tests wire a fake one.
func New(cfg Config) (*Engine, error) {
	if cfg.RTTBytes == 0 {
		cfg.RTTBytes = cfg.DeriveRTTBytes()
	}
	e := &Engine{
		cfg:     cfg,
		Peers:   &sockettab.PeerTable{},
		Ports:   &sockettab.SocketTable{},
		grant:   &grant.Queue{},
		pace:    &pacer.Pacer{},
		tick:    &timer.Driver{},
		mtx:     &metrics.Counters{},
		sockets: make(map[*socket.Socket]struct{}),
	}
	if err := e.grant.Configure(grant.Config{
		MaxOvercommit:  cfg.MaxOvercommit,
		GrantIncrement: cfg.GrantIncrement,
		RTTBytes:       cfg.RTTBytes,
		NumPriorities:  int(cfg.MaxPriority-cfg.MinPriority) + 1,
		Logger:         cfg.Logger,
	}); err != nil {
		return nil, err
	}
	e.mtx.Reset(0)
	e.pace.Occupancy.Configure(cfg.cyclesPerByte(cyclesPerSecond), cfg.MaxNICQueueCycles, cfg.ThrottleMinBytes, monotonicCycles)
	e.pace.Configure((*txSender)(e), cfg.Logger)
	e.tick.Configure(timer.Config{
		ResendTicks:    cfg.ResendTicks,
		ResendInterval: cfg.ResendInterval,
		AbortResends:   cfg.AbortResends,
		Logger:         cfg.Logger,
	}, (*resendSink)(e), e.Peers)
	return e, nil
}

// SetWriter installs the raw datagram sink used by every outbound packet.
func (e *Engine) SetWriter(w Writer) { e.writer = w }

func (e *Engine) debug(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(e.cfg.Logger, slog.LevelDebug, msg, attrs...)
}

// Metrics exposes the engine's per-CPU counters for export.
func (e *Engine) Metrics() *metrics.Counters { return e.mtx }

// NewSocket constructs a socket wired to this engine's tables,
// transmitter, and tunables, and registers it for the timer sweep.
func (e *Engine) NewSocket() *socket.Socket {
	sock := socket.New(e.Peers, e.Ports, (*txSender)(e), socket.Config{
		MaxPacketPayload: e.cfg.maxPacketPayload(),
		CutoffBoundaries: e.cfg.UnschedCutoffs,
		RTTBytes:         e.cfg.RTTBytes,
		Logger:           e.cfg.Logger,
	})
	e.mu.Lock()
	e.sockets[sock] = struct{}{}
	e.mu.Unlock()
	return sock
}

// CloseSocket unregisters sock from the timer sweep and closes it.
func (e *Engine) CloseSocket(sock *socket.Socket) error {
	e.mu.Lock()
	delete(e.sockets, sock)
	e.mu.Unlock()
	return sock.Close()
}

// Tick drives the timer once across every registered socket (§4.6); the
// caller is expected to invoke this on a fixed-period goroutine/ticker.
func (e *Engine) Tick() {
	e.mu.Lock()
	socks := make([]*socket.Socket, 0, len(e.sockets))
	for s := range e.sockets {
		socks = append(socks, s)
	}
	e.mu.Unlock()
	for _, s := range socks {
		e.tick.Tick(s)
	}
	e.pace.Kick()
	shard := e.mtx.Shard()
	shard.TimerCycles.Add(1)
}

// txHandle pairs a socket with one of its RPC handles, the opaque item
// type both the throttle queue and the grant queue key on.
type txHandle struct {
	sock *socket.Socket
	h    rpcmsg.Handle
}
