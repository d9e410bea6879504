// Package socket implements the application-facing socket surface of
// §6 and §4.8: bind, send, reply, receive, shutdown, close, poll,
// getsockopt/setsockopt, plus the per-socket RPC bookkeeping (active
// list, ready queues, dead list, wait-hooks) that the rest of the engine
// drives through the dispatch-facing methods in dispatch.go. Grounded on
// the teacher's tcp.Conn: a mutex-protected handle around lower-level
// state with a small, explicit Config struct and slog-based tracing.
package socket

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/dcrpc/homa/internal"
	"github.com/dcrpc/homa/rpcmsg"
	"github.com/dcrpc/homa/sockettab"
	"github.com/dcrpc/homa/wire"
)

var (
	ErrClosed       = errors.New("homa: socket closed")
	ErrWouldBlock   = errors.New("homa: operation would block")
	ErrNoSuchRPC    = errors.New("homa: no such RPC on this socket")
	ErrNotServerRPC = errors.New("homa: RPC is not a server RPC in service")
)

// Transmitter is implemented by the engine's dispatch layer. Send and
// Reply hand newly-sendable RPCs to it; it applies NIC occupancy control
// (§4.2) and the pacer (§4.5) — concerns this package does not own.
type Transmitter interface {
	Transmit(sock *Socket, h rpcmsg.Handle)
}

// Config bundles the tunables a Socket needs to build outgoing messages
// (§6 Tunables), following the teacher's Config-struct-per-component
// convention.
type Config struct {
	MaxPacketPayload int
	CutoffBoundaries [wire.NumPriorities]uint32
	RTTBytes         uint32
	Logger           *slog.Logger
}

// Socket is one bound or unbound socket (§3). A socket owns the RPC
// records for both roles it plays (client sender, server receiver) and
// is the unit of locking for everything attached to it (§5 lock #1/#2).
type Socket struct {
	mu sync.Mutex

	serverPort uint16 // 0 if unbound
	clientPort uint16 // always allocated on first use

	nextOutgoingID uint64

	table rpcmsg.Table
	// RPC-id hash buckets, keyed by the 64-bit id, one map per role this
	// socket plays. Protected by mu, per §5 ("RPCs are not independently
	// lockable"); §4.7's low-bits hashing is simply Go's builtin map
	// hashing the raw uint64 key, which distributes the same way.
	clientRPCs map[uint64]rpcmsg.Handle
	serverRPCs map[uint64]rpcmsg.Handle

	active        []rpcmsg.Handle // oldest first; timer driven.
	dead          []rpcmsg.Handle // retired, freed at the next reap.
	readyRequest  []rpcmsg.Handle // server role: requests ready to read.
	readyResponse []rpcmsg.Handle // client role: responses ready to read.

	waitRequest  *waitHook
	waitResponse *waitHook

	closed     bool
	shutdownAt bool

	peers *sockettab.PeerTable
	ports *sockettab.SocketTable
	xmit  Transmitter
	cfg   Config

	logger struct{ log *slog.Logger }
}

// New constructs an unbound Socket. Call Bind to accept server traffic;
// client ports are allocated lazily on the first Send.
func New(peers *sockettab.PeerTable, ports *sockettab.SocketTable, xmit Transmitter, cfg Config) *Socket {
	s := &Socket{
		clientRPCs: make(map[uint64]rpcmsg.Handle),
		serverRPCs: make(map[uint64]rpcmsg.Handle),
		peers:      peers,
		ports:      ports,
		xmit:       xmit,
		cfg:        cfg,
	}
	s.logger.log = cfg.Logger
	s.table.Configure(cfg.Logger)
	return s
}

// Bind assigns port as this socket's server port, accepting incoming
// requests addressed to it.
func (s *Socket) Bind(port uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.shutdownAt {
		return ErrClosed
	}
	if err := s.ports.Bind(port, s); err != nil {
		return err
	}
	s.serverPort = port
	return nil
}

// ensureClientPort lazily allocates this socket's client port.
func (s *Socket) ensureClientPort() (uint16, error) {
	if s.clientPort != 0 {
		return s.clientPort, nil
	}
	port, err := s.ports.AllocClientPort(s)
	if err != nil {
		return 0, err
	}
	s.clientPort = port
	return port, nil
}

// ServerPort/ClientPort report the socket's bound ports (0 if unbound).
func (s *Socket) ServerPort() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverPort
}

func (s *Socket) ClientPort() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientPort
}

// Poll reports whether any ready queue is non-empty.
func (s *Socket) Poll() (requestReady, responseReady bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.readyRequest) > 0, len(s.readyResponse) > 0
}

// Shutdown drains in-flight operations (§7): no further sends/binds
// succeed, waiting readers are woken with ErrClosed, and already-ready
// RPCs remain deliverable until Close.
func (s *Socket) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdownAt {
		return
	}
	s.shutdownAt = true
	s.wakeAllLocked(ErrClosed)
	s.trace("socket:shutdown")
}

// Close releases the socket's ports and forcibly completes every
// in-flight RPC with ErrShutdown.
func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.wakeAllLocked(ErrClosed)
	for _, h := range s.active {
		if rpc, ok := s.table.Get(h); ok {
			rpc.Abort(rpcmsg.ErrShutdown)
		}
	}
	if s.serverPort != 0 {
		s.ports.Remove(s.serverPort)
	}
	if s.clientPort != 0 {
		s.ports.Remove(s.clientPort)
	}
	s.trace("socket:close")
	return nil
}

// SockOpt identifies a tunable getsockopt/setsockopt can read or write.
// Only the subset that is meaningfully per-socket rather than
// engine-global is modeled here (§6: the rest live in engine.Config).
type SockOpt int

const (
	OptRTTBytes SockOpt = iota
	OptMaxPacketPayload
)

func (s *Socket) GetSockOpt(opt SockOpt) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch opt {
	case OptRTTBytes:
		return s.cfg.RTTBytes, nil
	case OptMaxPacketPayload:
		return uint32(s.cfg.MaxPacketPayload), nil
	default:
		return 0, errors.New("homa: unknown sockopt")
	}
}

func (s *Socket) SetSockOpt(opt SockOpt, v uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch opt {
	case OptRTTBytes:
		s.cfg.RTTBytes = v
	case OptMaxPacketPayload:
		s.cfg.MaxPacketPayload = int(v)
	default:
		return errors.New("homa: unknown sockopt")
	}
	return nil
}

// killLocked retires h's bookkeeping off the live indices (active list,
// hash buckets — already done by the caller) and parks it on the dead
// list instead of freeing it immediately. The actual free is left to
// [Socket.ReapDead], so a handle that just left the active list cannot
// be recycled by [rpcmsg.Table.New] out from under a grant/throttle-queue
// entry still referencing it this same tick (§3's "dead RPC list" and
// §4.6's "the timer also drives the dead-RPC reaper").
func (s *Socket) killLocked(h rpcmsg.Handle) {
	s.dead = append(s.dead, h)
}

// ReapDead frees every RPC parked on the dead list since the last reap.
// Called once per tick from the timer driver (§4.6).
func (s *Socket) ReapDead() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.dead {
		s.table.Free(h)
	}
	s.dead = s.dead[:0]
}

func (s *Socket) trace(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(s.logger.log, internal.LevelTrace, msg, attrs...)
}
func (s *Socket) debug(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(s.logger.log, slog.LevelDebug, msg, attrs...)
}
func (s *Socket) warn(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(s.logger.log, slog.LevelWarn, msg, attrs...)
}
