// Dispatch-facing methods: the engine's packet dispatcher (§4.1) calls
// these once it has resolved the (socket, rpc-id) pair a packet belongs
// to. Everything here runs under the owning socket's lock, per §5's lock
// hierarchy — RPCs are never independently lockable.
package socket

import (
	"log/slog"

	"github.com/dcrpc/homa/rpcmsg"
	"github.com/dcrpc/homa/wire"
)

// LookupClientRPC/LookupServerRPC resolve an id to the handle this
// socket has filed it under for the given role, without taking the
// RPC-wide action DeliverData et al. perform.
func (s *Socket) LookupClientRPC(id uint64) (rpcmsg.Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.clientRPCs[id]
	return h, ok
}

func (s *Socket) LookupServerRPC(id uint64) (rpcmsg.Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.serverRPCs[id]
	return h, ok
}

// AcceptRequest creates a new server-role RPC for an (id, peer) pair this
// socket has never seen, per the DATA-for-unknown-pair rule of §4.1.
// remotePort is the requesting client's port, taken from the packet's
// source-port field. It is the caller's job to have already confirmed
// the id is unseen.
func (s *Socket) AcceptRequest(id uint64, peer [4]byte, remotePort uint16, totalLength, unscheduled uint32) rpcmsg.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, rpc := s.table.New(rpcmsg.RoleServer, id)
	rpc.PeerAddr = peer
	// DestPort/SrcPort consistently mean "where a reply goes"/"our own
	// bound port" across both roles, matching Send's client-side usage.
	rpc.DestPort = remotePort
	rpc.SrcPort = s.serverPort
	rpc.State = rpcmsg.StateIncoming
	rpc.In = &rpcmsg.Incoming{}
	rpc.In.Reset(totalLength, unscheduled)
	rpc.Payload = make([]byte, totalLength)
	s.serverRPCs[id] = h
	s.active = append(s.active, h)
	s.debug("socket:accept_request", slog.Uint64("id", id), slog.Uint64("len", uint64(totalLength)))
	return h
}

// DeliverData merges one DATA packet's segments into h's reassembly
// state (§4.3), allocating the message buffer on first sight and
// retiring the RPC to the appropriate ready queue once complete.
// firstOfMessage signals whether this is the opening DATA of the
// message, used only to drive the client OUTGOING->INCOMING edge.
func (s *Socket) DeliverData(h rpcmsg.Handle, segs []wire.Segment, totalLength, watermark uint32, firstOfMessage bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rpc, ok := s.table.Get(h)
	if !ok {
		return ErrNoSuchRPC
	}
	rpc.SilentTicks = 0
	rpc.ResendCount = 0
	if rpc.Role == rpcmsg.RoleClient && firstOfMessage {
		rpc.OnFirstResponseData()
	}
	if rpc.In == nil {
		rpc.In = &rpcmsg.Incoming{}
		rpc.In.Reset(totalLength, watermark)
		rpc.Payload = make([]byte, totalLength)
	}
	for _, seg := range segs {
		rpc.In.MergeSegment(seg.Offset, uint32(len(seg.Data)), watermark)
		if len(rpc.Payload) < int(seg.Offset)+len(seg.Data) {
			continue // malformed segment past the declared length; drop silently.
		}
		copy(rpc.Payload[seg.Offset:], seg.Data)
	}
	if rpc.In.Complete() {
		rpc.OnReassemblyComplete()
		s.retireLocked(h, rpc)
	}
	return nil
}

// retireLocked moves a freshly-READY RPC into its ready queue or hands it
// straight to a matching wait-hook (§4.8). Caller holds mu.
func (s *Socket) retireLocked(h rpcmsg.Handle, rpc *rpcmsg.RPC) {
	dir := DirResponse
	hook := s.waitResponse
	if rpc.Role == rpcmsg.RoleServer {
		dir = DirRequest
		hook = s.waitRequest
	}
	if hook != nil && !hook.delivered && hook.matches(rpc.ID) {
		hook.deliverLocked(h)
		if dir == DirRequest {
			s.waitRequest = nil
		} else {
			s.waitResponse = nil
		}
		return
	}
	s.pushReadyLocked(dir, h)
}

// HandleGrant widens h's outgoing grant window and re-triggers
// transmission if that unblocked sendable bytes (§4.1 GRANT).
func (s *Socket) HandleGrant(h rpcmsg.Handle, offset uint32, priority uint8) error {
	s.mu.Lock()
	rpc, ok := s.table.Get(h)
	if !ok || rpc.Out == nil {
		s.mu.Unlock()
		return ErrNoSuchRPC
	}
	rpc.SilentTicks = 0
	widened := rpc.Out.WidenGrant(offset, priority)
	s.mu.Unlock()
	if widened && s.xmit != nil {
		s.xmit.Transmit(s, h)
	}
	return nil
}

// HandleResend queues the requested byte range for retransmission at the
// given priority (§4.1 RESEND).
func (s *Socket) HandleResend(h rpcmsg.Handle, offset, length uint32, priority uint8) error {
	s.mu.Lock()
	rpc, ok := s.table.Get(h)
	if !ok || rpc.Out == nil {
		s.mu.Unlock()
		return ErrNoSuchRPC
	}
	rpc.SilentTicks = 0
	rpc.Out.MarkRetransmit(offset, length)
	rpc.Out.SchedPriority = priority
	rpc.ResendCount++
	s.mu.Unlock()
	if s.xmit != nil {
		s.xmit.Transmit(s, h)
	}
	return nil
}

// HandleRestart resets h's outgoing message to offset 0, per §4.1
// RESTART: the peer lost all RPC state and needs the request replayed.
// The original message bytes are recovered from the RPC's own outgoing
// descriptor; the application never needs to resupply them.
func (s *Socket) HandleRestart(h rpcmsg.Handle, cutoffBoundaries []uint32) error {
	s.mu.Lock()
	rpc, ok := s.table.Get(h)
	if !ok || rpc.Out == nil {
		s.mu.Unlock()
		return ErrNoSuchRPC
	}
	rpc.Restart(rpc.Out.Data, s.cfg.MaxPacketPayload, cutoffBoundaries, s.cfg.RTTBytes)
	s.mu.Unlock()
	if s.xmit != nil {
		s.xmit.Transmit(s, h)
	}
	return nil
}

// HandleBusy records that the peer is alive but not yet ready to grant,
// resetting this RPC's silent-tick counter so the timer does not treat
// the peer as unresponsive (§4.1 BUSY, §4.6).
func (s *Socket) HandleBusy(h rpcmsg.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rpc, ok := s.table.Get(h)
	if !ok {
		return ErrNoSuchRPC
	}
	rpc.SilentTicks = 0
	return nil
}

// AbortRPC marks h as terminally failed with kind and makes it
// application-visible by retiring it into its ready queue (or handing it
// straight to a waiting reader), for the timer's client-timeout path
// (§4.6, §7: a timed-out client RPC surfaces to the application rather
// than disappearing silently the way a server RPC does).
func (s *Socket) AbortRPC(h rpcmsg.Handle, kind rpcmsg.ErrorKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rpc, ok := s.table.Get(h)
	if !ok {
		return
	}
	rpc.Abort(kind)
	s.retireLocked(h, rpc)
}

// Forget removes a server-role RPC from bookkeeping without making it
// application-visible, for the timer's silent-destroy path (§4.6: a
// server RPC that times out is discarded, never surfaced as an error).
func (s *Socket) Forget(h rpcmsg.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rpc, ok := s.table.Get(h)
	if !ok {
		return
	}
	if rpc.Role == rpcmsg.RoleServer {
		delete(s.serverRPCs, rpc.ID)
	} else {
		delete(s.clientRPCs, rpc.ID)
	}
	s.removeActiveLocked(h)
	s.killLocked(h)
}

func (s *Socket) removeActiveLocked(h rpcmsg.Handle) {
	for i, x := range s.active {
		if x == h {
			s.active = append(s.active[:i], s.active[i+1:]...)
			return
		}
	}
}

// Active returns a snapshot of the RPC handles currently open on this
// socket, for the timer's per-tick sweep (§4.6).
func (s *Socket) Active() []rpcmsg.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]rpcmsg.Handle, len(s.active))
	copy(out, s.active)
	return out
}

// RPC exposes a handle's record directly for components, like the timer,
// that need to read or mutate it under this socket's lock. fn runs with
// the lock held; it must not call back into the socket.
func (s *Socket) RPC(h rpcmsg.Handle, fn func(*rpcmsg.RPC)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rpc, ok := s.table.Get(h)
	if !ok {
		return false
	}
	fn(rpc)
	return true
}
