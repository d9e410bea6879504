package rpcmsg

import "github.com/dcrpc/homa/wire"

// OutBuffer is one packet's worth of outgoing message data, sized to the
// segmentation-offload cap. It survives transmission so it can be
// retransmitted on RESEND.
type OutBuffer struct {
	Offset        uint32
	Payload       []byte
	Sent          bool
	Retransmitted bool
}

// End returns the exclusive end offset of this buffer within the message.
func (b *OutBuffer) End() uint32 { return b.Offset + uint32(len(b.Payload)) }

// Outgoing is the outgoing-message descriptor of §3: the ordered list of
// per-packet buffers plus the scheduling state controlling how much of
// the message may be sent.
type Outgoing struct {
	Length uint32
	// Data retains the full message backing slice, so a RESTART (§4.1)
	// can rebuild the whole outgoing descriptor without the application
	// re-supplying the buffer.
	Data []byte
	// Buffers is offset-ordered; NextPacket indexes the first
	// not-yet-transmitted buffer.
	Buffers    []OutBuffer
	NextPacket int
	// Unscheduled is the number of bytes sendable without any grant.
	Unscheduled uint32
	// Granted is the offset up to which transmission is authorized;
	// always >= Unscheduled and never exceeds Length.
	Granted uint32
	// SchedPriority is the priority to use for packets sent after the
	// unscheduled window, last set by an incoming GRANT.
	SchedPriority uint8
	// PendingResend holds indices into Buffers queued for retransmission
	// by a RESEND, drained ahead of fresh data by the transmit loop.
	PendingResend []int
}

// Reset splits data into GSO-capped buffers and computes the initial
// unscheduled window (§4.2): the first finite priority-cutoff boundary
// >= length for short messages. cutoffs[0] is conventionally a "no
// limit" sentinel (>= wire.MaxMessageSize) and is skipped when picking
// the window, not treated as a boundary itself. When no finite boundary
// covers length, rttBytes (rounded up to whole packets) is used instead.
func (o *Outgoing) Reset(data []byte, maxPacket int, cutoffBoundaries []uint32, rttBytes uint32) {
	length := uint32(len(data))
	*o = Outgoing{
		Length:  length,
		Data:    data,
		Buffers: o.Buffers[:0],
	}
	if maxPacket <= 0 {
		maxPacket = wire.EthernetMaxPayload
	}
	for off := uint32(0); off < length; off += uint32(maxPacket) {
		end := off + uint32(maxPacket)
		if end > length {
			end = length
		}
		o.Buffers = append(o.Buffers, OutBuffer{Offset: off, Payload: data[off:end]})
	}
	o.Unscheduled = unscheduledWindow(length, maxPacket, cutoffBoundaries, rttBytes)
	if o.Unscheduled > length {
		o.Unscheduled = length
	}
	o.Granted = o.Unscheduled
}

// unscheduledWindow picks the first finite cutoff boundary >= length for
// short messages, or rttBytes rounded up to whole packets otherwise.
// Cutoff entries are a priority assignment table, not window sizes: an
// entry at or above wire.MaxMessageSize (entry 0 is conventionally such
// a sentinel — "this and lower priorities are never capped") means "no
// limit" and never itself doubles as the unscheduled window, or every
// message would be sent entirely unscheduled the moment cutoffs are
// populated.
func unscheduledWindow(length uint32, maxPacket int, cutoffBoundaries []uint32, rttBytes uint32) uint32 {
	for _, c := range cutoffBoundaries {
		if c >= wire.MaxMessageSize {
			continue
		}
		if c >= length {
			return c
		}
	}
	if maxPacket <= 0 {
		return rttBytes
	}
	packets := (rttBytes + uint32(maxPacket) - 1) / uint32(maxPacket)
	return packets * uint32(maxPacket)
}

// WidenGrant raises Granted to offset if offset is larger, reporting
// whether it actually widened (§4.1 GRANT handling: "widen granted if
// its offset exceeds the current value").
func (o *Outgoing) WidenGrant(offset uint32, priority uint8) bool {
	widened := false
	if offset > o.Granted {
		if offset > o.Length {
			offset = o.Length
		}
		o.Granted = offset
		widened = true
	}
	o.SchedPriority = priority
	return widened
}

// NextSendable returns the next buffer eligible for transmission and its
// index: a pending retransmission takes priority over fresh data, and
// fresh data is gated by Granted. ok=false means nothing is sendable
// right now.
func (o *Outgoing) NextSendable() (idx int, buf *OutBuffer, ok bool) {
	if len(o.PendingResend) > 0 {
		idx = o.PendingResend[0]
		return idx, &o.Buffers[idx], true
	}
	if o.NextPacket >= len(o.Buffers) {
		return 0, nil, false
	}
	b := &o.Buffers[o.NextPacket]
	if b.Offset >= o.Granted {
		return 0, nil, false
	}
	return o.NextPacket, b, true
}

// Advance marks the buffer returned by the most recent [Outgoing.NextSendable]
// as sent, draining it from PendingResend or moving the NextPacket cursor
// forward, whichever produced it.
func (o *Outgoing) Advance() {
	if len(o.PendingResend) > 0 {
		idx := o.PendingResend[0]
		o.Buffers[idx].Sent = true
		o.PendingResend = o.PendingResend[1:]
		return
	}
	if o.NextPacket < len(o.Buffers) {
		o.Buffers[o.NextPacket].Sent = true
		o.NextPacket++
	}
}

// Done reports whether every buffer has been transmitted at least once
// and no retransmission is pending.
func (o *Outgoing) Done() bool { return o.NextPacket >= len(o.Buffers) && len(o.PendingResend) == 0 }

// MarkRetransmit finds buffers overlapping [offset, offset+length) and
// queues them for resend ahead of fresh data.
func (o *Outgoing) MarkRetransmit(offset, length uint32) {
	end := offset + length
	for i := range o.Buffers {
		b := &o.Buffers[i]
		if b.Offset < end && b.End() > offset {
			b.Retransmitted = true
			if !containsInt(o.PendingResend, i) {
				o.PendingResend = append(o.PendingResend, i)
			}
		}
	}
}

func containsInt(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// BytesSent returns the offset of the first buffer not yet sent, i.e. how
// many contiguous bytes from the start of the message have been
// transmitted at least once.
func (o *Outgoing) BytesSent() uint32 {
	if o.NextPacket == 0 {
		return 0
	}
	if o.NextPacket >= len(o.Buffers) {
		return o.Length
	}
	return o.Buffers[o.NextPacket].Offset
}
