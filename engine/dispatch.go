package engine

import (
	"log/slog"

	"github.com/dcrpc/homa/grant"
	"github.com/dcrpc/homa/internal"
	"github.com/dcrpc/homa/metrics"
	"github.com/dcrpc/homa/rpcmsg"
	"github.com/dcrpc/homa/socket"
	"github.com/dcrpc/homa/wire"
)

// Dispatch is the top-level packet-ingress entry point of §4.1: classify
// the opcode, resolve the destination socket by port, then apply the
// per-type rule. srcAddr is the datagram's source IPv4 address, supplied
// by whatever receives raw packets (normally `rawsock`).
func (e *Engine) Dispatch(srcAddr [4]byte, pkt []byte) {
	typ, err := wire.Classify(pkt)
	shard := e.mtx.Shard()
	if err != nil {
		shard.Errors[metrics.ErrShortPacket].Add(1)
		return
	}
	hdr, err := wire.NewCommonHeader(pkt)
	if err != nil {
		shard.Errors[metrics.ErrShortPacket].Add(1)
		return
	}
	shard.RecvByType[typ].Add(1)

	v, ok := e.Ports.Lookup(hdr.DestPort())
	if !ok {
		shard.Errors[metrics.ErrRoute].Add(1)
		return
	}
	sock, ok := v.(*socket.Socket)
	if !ok {
		return
	}
	id := hdr.ID64BE()

	switch typ {
	case wire.TypeData:
		e.dispatchData(sock, srcAddr, id, pkt)
	case wire.TypeGrant:
		e.dispatchGrant(sock, id, pkt)
	case wire.TypeResend:
		e.dispatchResend(sock, srcAddr, id, pkt)
	case wire.TypeRestart:
		e.dispatchRestart(sock, id)
	case wire.TypeBusy:
		if h, _, found := resolveRPC(sock, id); found {
			sock.HandleBusy(h)
		}
	case wire.TypeCutoffs:
		e.dispatchCutoffs(srcAddr, pkt)
	case wire.TypeFreeze:
		// No protocol effect; diagnostic ring-buffer freeze is out of
		// scope for this engine (no ring buffer is modeled).
	default:
		shard.Errors[metrics.ErrUnknownType].Add(1)
	}
}

// resolveRPC looks a packet's RPC id up against both of sock's hash
// buckets (§4.7), since an arriving control packet may address either
// a request this socket is serving or a reply to a request it sent.
func resolveRPC(sock *socket.Socket, id uint64) (rpcmsg.Handle, rpcmsg.Role, bool) {
	if h, ok := sock.LookupServerRPC(id); ok {
		return h, rpcmsg.RoleServer, true
	}
	if h, ok := sock.LookupClientRPC(id); ok {
		return h, rpcmsg.RoleClient, true
	}
	return rpcmsg.Handle{}, 0, false
}

func (e *Engine) dispatchData(sock *socket.Socket, srcAddr [4]byte, id uint64, pkt []byte) {
	shard := e.mtx.Shard()
	frame, err := wire.NewDataFrame(pkt)
	if err != nil {
		shard.Errors[metrics.ErrShortPacket].Add(1)
		return
	}
	segs, err := frame.Segments()
	if err != nil {
		shard.Errors[metrics.ErrShortPacket].Add(1)
		return
	}
	for _, seg := range segs {
		shard.RecordRecvBytes(uint32(len(seg.Data)))
	}
	totalLength := frame.MessageLength()
	watermark := frame.Incoming()

	h, _, found := resolveRPC(sock, id)
	if !found {
		// DATA for an unknown (server, id) pair: only a bound server
		// socket may originate a fresh RPC from it (§4.1).
		if sock.ServerPort() == 0 {
			shard.Errors[metrics.ErrUnknownRPC].Add(1)
			return
		}
		h = sock.AcceptRequest(id, srcAddr, frame.SourcePort(), totalLength, watermark)
	}
	if err := sock.DeliverData(h, segs, totalLength, watermark, true); err != nil {
		shard.Errors[metrics.ErrCantCreateRPC].Add(1)
		return
	}
	if frame.CutoffVersion() != e.cfg.CutoffVersion {
		e.sendCutoffs(srcAddr, frame.SourcePort())
	}
	e.updateGrantQueue(sock, h)
}

func (e *Engine) dispatchGrant(sock *socket.Socket, id uint64, pkt []byte) {
	frame, err := wire.NewGrantFrame(pkt)
	if err != nil {
		e.mtx.Shard().Errors[metrics.ErrShortPacket].Add(1)
		return
	}
	h, _, found := resolveRPC(sock, id)
	if !found {
		e.mtx.Shard().Errors[metrics.ErrUnknownRPC].Add(1)
		return
	}
	sock.HandleGrant(h, frame.Offset(), frame.Priority())
}

func (e *Engine) dispatchResend(sock *socket.Socket, srcAddr [4]byte, id uint64, pkt []byte) {
	frame, err := wire.NewResendFrame(pkt)
	if err != nil {
		e.mtx.Shard().Errors[metrics.ErrShortPacket].Add(1)
		return
	}
	h, _, found := resolveRPC(sock, id)
	if !found {
		e.debug("engine:resend_unknown_rpc", internal.SlogAddr4("peer", &srcAddr), slog.Uint64("id", id))
		e.sendRestart(srcAddr, frame.SourcePort(), id)
		return
	}
	sock.HandleResend(h, frame.Offset(), frame.Length(), frame.Priority())
}

func (e *Engine) dispatchRestart(sock *socket.Socket, id uint64) {
	h, role, found := resolveRPC(sock, id)
	if !found || role != rpcmsg.RoleClient {
		return
	}
	sock.HandleRestart(h, e.cfg.UnschedCutoffs[:])
}

func (e *Engine) dispatchCutoffs(srcAddr [4]byte, pkt []byte) {
	frame, err := wire.NewCutoffsFrame(pkt)
	if err != nil {
		e.mtx.Shard().Errors[metrics.ErrShortPacket].Add(1)
		return
	}
	peer := e.Peers.GetOrCreate(srcAddr, nil)
	peer.SetCutoffs(frame.Cutoffs(), frame.Version(), timeNow())
	e.debug("engine:cutoffs_updated", internal.SlogAddr4("peer", &srcAddr), slog.Uint64("version", uint64(frame.Version())))
}

// sendRestart answers a RESEND for an RPC this side no longer knows
// about with a RESTART, per §4.1.
func (e *Engine) sendRestart(peer [4]byte, remotePort uint16, id uint64) {
	if e.writer == nil {
		return
	}
	buf := make([]byte, wire.HeaderLen())
	frame, err := wire.NewRestartFrame(buf)
	if err != nil {
		return
	}
	frame.SetDestPort(remotePort)
	frame.SetType(wire.TypeRestart)
	frame.SetID64BE(id)
	if e.writer.WriteDatagram(peer, 0, buf) == nil {
		e.mtx.Shard().SentByType[wire.TypeRestart].Add(1)
	}
}

// updateGrantQueue refreshes h's standing in the SRPT grant queue after
// a reassembly update and, if anything newly qualifies, emits GRANTs.
func (e *Engine) updateGrantQueue(sock *socket.Socket, h rpcmsg.Handle) {
	var totalLength, bytesReceived, incoming uint32
	var scheduled, complete bool
	sock.RPC(h, func(rpc *rpcmsg.RPC) {
		if rpc.In == nil {
			return
		}
		totalLength = rpc.In.TotalLength
		bytesReceived = rpc.In.BytesReceived
		incoming = rpc.In.Incoming
		scheduled = rpc.In.Scheduled
		complete = rpc.In.Complete()
	})
	key := grant.Key{Owner: sock, Handle: h}
	if complete || !scheduled {
		e.grant.Remove(key)
		return
	}
	e.grant.Upsert(key, totalLength, bytesReceived, incoming)
	e.emitGrants()
}

func (e *Engine) emitGrants() {
	for _, a := range e.grant.Recompute() {
		sock, ok := a.Key.Owner.(*socket.Socket)
		if !ok {
			continue
		}
		h, ok := a.Key.Handle.(rpcmsg.Handle)
		if !ok {
			continue
		}
		var peer [4]byte
		var destPort uint16
		var id uint64
		found := sock.RPC(h, func(rpc *rpcmsg.RPC) {
			if rpc.In == nil {
				return
			}
			rpc.In.Priority = a.Priority
			peer = rpc.PeerAddr
			destPort = rpc.DestPort
			id = rpc.ID
		})
		if !found {
			continue
		}
		e.sendGrant(peer, destPort, id, a.Incoming, a.Priority)
	}
}

func (e *Engine) sendGrant(peer [4]byte, destPort uint16, id uint64, offset uint32, priority uint8) {
	if e.writer == nil {
		return
	}
	buf := make([]byte, wire.GrantHeaderLen())
	frame, err := wire.NewGrantFrame(buf)
	if err != nil {
		return
	}
	frame.SetDestPort(destPort)
	frame.SetType(wire.TypeGrant)
	frame.SetID64BE(id)
	frame.SetOffset(offset)
	frame.SetPriority(priority)
	frame.SetCutoffVersion(e.cfg.CutoffVersion)
	if e.writer.WriteDatagram(peer, priority, buf) == nil {
		e.mtx.Shard().SentByType[wire.TypeGrant].Add(1)
	}
}

// sendCutoffs re-advertises this host's unscheduled-priority cutoffs to
// destPort at peer, per §3A's cutoff-version handshake: called when an
// arriving DATA's echoed CutoffVersion no longer matches ours, so the
// sender is working off a stale table.
func (e *Engine) sendCutoffs(peer [4]byte, destPort uint16) {
	if e.writer == nil {
		return
	}
	buf := make([]byte, wire.CutoffsHeaderLen())
	frame, err := wire.NewCutoffsFrame(buf)
	if err != nil {
		return
	}
	frame.SetDestPort(destPort)
	frame.SetType(wire.TypeCutoffs)
	frame.SetCutoffs(e.cfg.UnschedCutoffs)
	frame.SetVersion(e.cfg.CutoffVersion)
	if e.writer.WriteDatagram(peer, 0, buf) == nil {
		e.mtx.Shard().SentByType[wire.TypeCutoffs].Add(1)
	}
}
