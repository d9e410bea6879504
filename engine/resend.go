package engine

import "github.com/dcrpc/homa/wire"

// resendSink implements timer.ResendSink: it serializes the timer's
// RESEND decisions into wire packets and writes them directly (RESEND is
// small and always unscheduled, so it bypasses occupancy admission the
// way throttle-min-bytes traffic does).
type resendSink Engine

func (e *resendSink) EmitResend(peer [4]byte, destPort uint16, id uint64, offset, length uint32, priority uint8) {
	if e.writer == nil {
		return
	}
	buf := make([]byte, wire.HeaderLen()+4+4+1)
	frame, err := wire.NewResendFrame(buf)
	if err != nil {
		return
	}
	frame.SetDestPort(destPort)
	frame.SetType(wire.TypeResend)
	frame.SetID64BE(id)
	frame.SetOffset(offset)
	frame.SetLength(length)
	frame.SetPriority(priority)
	if e.writer.WriteDatagram(peer, priority, buf) == nil {
		shard := e.mtx.Shard()
		shard.SentByType[wire.TypeResend].Add(1)
		shard.Resends.Add(1)
	}
}
