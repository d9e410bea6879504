package engine

import (
	"github.com/dcrpc/homa/metrics"
	"github.com/dcrpc/homa/rpcmsg"
	"github.com/dcrpc/homa/socket"
	"github.com/dcrpc/homa/wire"
)

// txSender implements both socket.Transmitter and pacer.Sender over the
// same Engine: every outbound packet, whether triggered fresh by Send/
// Reply/HandleGrant or replayed by the pacer's drain loop, goes through
// sendOneStep's single choke point (§4.2).
type txSender Engine

// Transmit pumps h's outgoing message until it runs out of sendable
// bytes, is blocked on the grant window, or is refused by NIC occupancy
// — at which point it is appended to the throttle queue for the pacer
// to finish (§4.2: "A refused packet causes the RPC to be appended to
// the throttle queue and control returns").
func (e *txSender) Transmit(sock *socket.Socket, h rpcmsg.Handle) {
	// §4.5 fast-path hook: give the pacer a chance to drain any other
	// throttled RPCs while occupancy slack exists, now that this call's
	// own socket lock (if any) has already been released by the caller.
	defer e.pace.Kick()
	for {
		sent, done := e.sendOneStep(sock, h)
		if done {
			return
		}
		if !sent {
			e.pace.Throttle.Enqueue(txHandle{sock, h})
			sock.RPC(h, func(rpc *rpcmsg.RPC) { rpc.OnThrottleQueue = true })
			return
		}
	}
}

// TrySendNext implements pacer.Sender for the throttle-queue drain loop.
func (e *txSender) TrySendNext(item any) (sent, done bool) {
	th, ok := item.(txHandle)
	if !ok {
		return false, true
	}
	sent, done = e.sendOneStep(th.sock, th.h)
	if done {
		th.sock.RPC(th.h, func(rpc *rpcmsg.RPC) { rpc.OnThrottleQueue = false })
	}
	return sent, done
}

type outboundPacket struct {
	buf        *rpcmsg.OutBuffer
	peer       [4]byte
	destPort   uint16
	srcPort    uint16
	id         uint64
	msgLength  uint32
	granted    uint32
	retransmit bool
	priority   uint8
	role       rpcmsg.Role
}

// sendOneStep attempts to transmit exactly one outgoing packet for h.
// sent reports whether bytes actually went out; done reports whether
// the caller should stop driving this RPC for now (nothing left to send,
// or the RPC finished and was retired).
func (e *txSender) sendOneStep(sock *socket.Socket, h rpcmsg.Handle) (sent, done bool) {
	var out outboundPacket
	var ok bool
	present := sock.RPC(h, func(rpc *rpcmsg.RPC) {
		if rpc.Out == nil {
			return
		}
		_, buf, sendable := rpc.Out.NextSendable()
		if !sendable {
			return
		}
		out = outboundPacket{
			buf:        buf,
			peer:       rpc.PeerAddr,
			destPort:   rpc.DestPort,
			srcPort:    rpc.SrcPort,
			id:         rpc.ID,
			msgLength:  rpc.Out.Length,
			granted:    rpc.Out.Granted,
			retransmit: buf.Retransmitted,
			priority:   rpc.Out.SchedPriority,
			role:       rpc.Role,
		}
		ok = true
	})
	if !present || !ok {
		return false, true
	}

	peer := e.Peers.GetOrCreate(out.peer, nil)
	_, cutoffVersion := peer.Cutoffs()
	pkt := buildDataPacket(out, cutoffVersion)

	if e.writer == nil || !e.pace.Occupancy.Admit(len(pkt)) {
		return false, false
	}
	shard := e.mtx.Shard()
	if err := e.writer.WriteDatagram(out.peer, out.priority, pkt); err != nil {
		shard.Errors[metrics.ErrTransmit].Add(1)
		return false, true
	}
	shard.SentByType[wire.TypeData].Add(1)

	retireServer := false
	moreSendable := false
	sock.RPC(h, func(rpc *rpcmsg.RPC) {
		if rpc.Out == nil {
			return
		}
		rpc.Out.Advance()
		if rpc.Out.Done() {
			if rpc.Role == rpcmsg.RoleServer {
				retireServer = true
			}
			return
		}
		_, _, moreSendable = rpc.Out.NextSendable()
	})
	if retireServer {
		sock.Forget(h)
		return true, true
	}
	return true, !moreSendable
}

func buildDataPacket(out outboundPacket, cutoffVersion uint16) []byte {
	segHeaderLen := wire.SegmentHeaderLen()
	buf := make([]byte, wire.DataPrefixLen()+segHeaderLen+len(out.buf.Payload))
	frame, _ := wire.NewDataFrame(buf)
	frame.SetSourcePort(out.srcPort)
	frame.SetDestPort(out.destPort)
	frame.SetType(wire.TypeData)
	frame.SetID64BE(out.id)
	frame.SetMessageLength(out.msgLength)
	frame.SetIncoming(out.granted)
	frame.SetCutoffVersion(cutoffVersion)
	frame.SetRetransmit(out.retransmit)
	segOff := wire.DataPrefixLen()
	wire.PutSegmentHeader(buf[segOff:], out.buf.Offset, uint32(len(out.buf.Payload)))
	copy(buf[segOff+segHeaderLen:], out.buf.Payload)
	return buf
}
