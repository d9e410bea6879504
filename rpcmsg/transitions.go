package rpcmsg

import "log/slog"

// OnFirstResponseData transitions a client RPC from OUTGOING to INCOMING
// on arrival of the first DATA packet of the response (§3).
func (r *RPC) OnFirstResponseData() {
	if r.Role == RoleClient && r.State == StateOutgoing {
		r.State = StateIncoming
		r.trace("rpc:outgoing->incoming", slog.Uint64("id", r.ID))
	}
}

// OnReassemblyComplete transitions INCOMING -> READY once the relevant
// message is fully reassembled, on either role.
func (r *RPC) OnReassemblyComplete() {
	if r.State == StateIncoming {
		r.State = StateReady
		r.trace("rpc:incoming->ready", slog.Uint64("id", r.ID))
	}
}

// OnApplicationRead transitions READY -> IN_SERVICE (server, reading the
// request) or READY -> CLIENT_DONE (client, reading the response).
func (r *RPC) OnApplicationRead() {
	if r.State != StateReady {
		return
	}
	if r.Role == RoleServer {
		r.State = StateInService
		r.trace("rpc:ready->in_service", slog.Uint64("id", r.ID))
	} else {
		r.State = StateClientDone
		r.trace("rpc:ready->client_done", slog.Uint64("id", r.ID))
	}
}

// OnReplyIssued transitions a server RPC from IN_SERVICE to OUTGOING when
// the application hands back a reply buffer.
func (r *RPC) OnReplyIssued() {
	if r.Role == RoleServer && r.State == StateInService {
		r.State = StateOutgoing
		r.trace("rpc:in_service->outgoing", slog.Uint64("id", r.ID))
	}
}

// Restart resets a client RPC's outgoing descriptor to offset 0 and
// discards any partial inbound response, re-entering OUTGOING, per the
// RESTART handler in §4.1.
func (r *RPC) Restart(data []byte, maxPacket int, cutoffBoundaries []uint32, rttBytes uint32) {
	if r.Role != RoleClient {
		return
	}
	if r.Out != nil {
		r.Out.Reset(data, maxPacket, cutoffBoundaries, rttBytes)
	}
	r.In = nil
	r.State = StateOutgoing
	r.SilentTicks = 0
	r.ResendCount = 0
	r.warn("rpc:restart", slog.Uint64("id", r.ID))
}

// Abort marks a terminal, application-visible failure. Client RPCs enter
// READY so the next reader observes it (§7); server RPCs are destroyed by
// the caller instead of calling Abort (see timer package).
func (r *RPC) Abort(kind ErrorKind) {
	r.Err = kind
	r.State = StateReady
	r.error("rpc:abort", slog.Uint64("id", r.ID), slog.String("err", kind.Error()))
}
