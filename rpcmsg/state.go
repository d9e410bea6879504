// Package rpcmsg implements the RPC record and its send/receive state
// machine: the outgoing-message descriptor, the incoming-message
// reassembly structure, and the transitions between them (§3, §4.2, §4.3
// of the engine specification).
package rpcmsg

import (
	"log/slog"

	"github.com/dcrpc/homa/internal"
)

// Role distinguishes the two sides of an RPC.
type Role uint8

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// State is the lifecycle state of an RPC record.
type State uint8

const (
	// StateOutgoing: a message is being transmitted (client request or
	// server reply) and no complete response/request has arrived yet.
	StateOutgoing State = iota
	// StateIncoming: a message is being received and is not yet complete.
	StateIncoming
	// StateReady: the relevant message is fully reassembled and queued
	// for the application to read.
	StateReady
	// StateInService: server only. The application has read the request
	// and is producing a reply.
	StateInService
	// StateClientDone: client only. The application has read the response.
	StateClientDone
)

func (s State) String() string {
	switch s {
	case StateOutgoing:
		return "OUTGOING"
	case StateIncoming:
		return "INCOMING"
	case StateReady:
		return "READY"
	case StateInService:
		return "IN_SERVICE"
	case StateClientDone:
		return "CLIENT_DONE"
	default:
		return "?"
	}
}

// ErrorKind enumerates the terminal, application-visible failure kinds
// from §7. Transient drops never reach this enum; they are counted in
// metrics and never surfaced on an RPC.
type ErrorKind uint8

const (
	ErrNone ErrorKind = iota
	// ErrTimeout: no progress after abort_resends RESENDs (client only;
	// server RPCs are destroyed silently instead by the timer package,
	// through the socket's Forget and ReapDead).
	ErrTimeout
	// ErrServerRestart: peer indicated (via RESTART addressed elsewhere)
	// that it crashed and lost all RPC state.
	ErrServerRestart
	// ErrShutdown: the owning socket was shut down while this RPC was
	// in flight.
	ErrShutdown
)

func (e ErrorKind) Error() string {
	switch e {
	case ErrNone:
		return "no error"
	case ErrTimeout:
		return "homa: RPC timed out"
	case ErrServerRestart:
		return "homa: peer restarted"
	case ErrShutdown:
		return "homa: socket shut down"
	default:
		return "homa: unknown error"
	}
}

// logger mirrors the teacher's nil-safe slog wrapper: a nil *slog.Logger
// makes every call a no-op, so logging is zero-cost when unconfigured.
type logger struct {
	log *slog.Logger
}

func (l logger) trace(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, internal.LevelTrace, msg, attrs...)
}
func (l logger) debug(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, slog.LevelDebug, msg, attrs...)
}
func (l logger) info(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, slog.LevelInfo, msg, attrs...)
}
func (l logger) warn(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, slog.LevelWarn, msg, attrs...)
}
func (l logger) error(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, slog.LevelError, msg, attrs...)
}
