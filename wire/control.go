package wire

import "encoding/binary"

// GrantFrame is the wire format of a GRANT packet: tells the sender it may
// transmit up to Offset, using Priority for future scheduled packets.
// CutoffVersion piggy-backs the granter's current unscheduled-cutoffs
// version (SPEC_FULL.md §3A's cutoff-version handshake nuance) so a
// sender can tell, without waiting for a dedicated CUTOFFS packet,
// whether its cached cutoffs table for this peer is already stale.
type GrantFrame struct {
	CommonHeader
}

func NewGrantFrame(buf []byte) (GrantFrame, error) {
	if len(buf) < sizeGrantHeader {
		return GrantFrame{}, ErrShortPacket
	}
	return GrantFrame{CommonHeader{buf: buf}}, nil
}

func (f GrantFrame) Offset() uint32     { return binary.BigEndian.Uint32(f.buf[28:32]) }
func (f GrantFrame) SetOffset(v uint32) { binary.BigEndian.PutUint32(f.buf[28:32], v) }
func (f GrantFrame) Priority() uint8     { return f.buf[32] }
func (f GrantFrame) SetPriority(v uint8) { f.buf[32] = v }

func (f GrantFrame) CutoffVersion() uint16     { return binary.BigEndian.Uint16(f.buf[33:35]) }
func (f GrantFrame) SetCutoffVersion(v uint16) { binary.BigEndian.PutUint16(f.buf[33:35], v) }

// ResendFrame is the wire format of a RESEND packet: requests
// retransmission of [Offset, Offset+Length).
type ResendFrame struct {
	CommonHeader
}

func NewResendFrame(buf []byte) (ResendFrame, error) {
	if len(buf) < sizeResendHeader {
		return ResendFrame{}, ErrShortPacket
	}
	return ResendFrame{CommonHeader{buf: buf}}, nil
}

func (f ResendFrame) Offset() uint32     { return binary.BigEndian.Uint32(f.buf[28:32]) }
func (f ResendFrame) SetOffset(v uint32) { binary.BigEndian.PutUint32(f.buf[28:32], v) }
func (f ResendFrame) Length() uint32     { return binary.BigEndian.Uint32(f.buf[32:36]) }
func (f ResendFrame) SetLength(v uint32) { binary.BigEndian.PutUint32(f.buf[32:36], v) }
func (f ResendFrame) Priority() uint8     { return f.buf[36] }
func (f ResendFrame) SetPriority(v uint8) { f.buf[36] = v }

// RestartFrame, BusyFrame and FreezeFrame carry only the common header.
type RestartFrame struct{ CommonHeader }
type BusyFrame struct{ CommonHeader }
type FreezeFrame struct{ CommonHeader }

func NewRestartFrame(buf []byte) (RestartFrame, error) {
	h, err := NewCommonHeader(buf)
	return RestartFrame{h}, err
}
func NewBusyFrame(buf []byte) (BusyFrame, error) {
	h, err := NewCommonHeader(buf)
	return BusyFrame{h}, err
}
func NewFreezeFrame(buf []byte) (FreezeFrame, error) {
	h, err := NewCommonHeader(buf)
	return FreezeFrame{h}, err
}

// CutoffsFrame is the wire format of a CUTOFFS packet: the priority to use
// for unscheduled packets sent to the sender of this packet, per size
// class, plus a version tag the receiver must echo on future DATA.
type CutoffsFrame struct {
	CommonHeader
}

func NewCutoffsFrame(buf []byte) (CutoffsFrame, error) {
	if len(buf) < sizeCutoffs {
		return CutoffsFrame{}, ErrShortPacket
	}
	return CutoffsFrame{CommonHeader{buf: buf}}, nil
}

func (f CutoffsFrame) Cutoffs() [NumPriorities]uint32 {
	var out [NumPriorities]uint32
	for i := range out {
		out[i] = binary.BigEndian.Uint32(f.buf[28+4*i:])
	}
	return out
}

func (f CutoffsFrame) SetCutoffs(c [NumPriorities]uint32) {
	for i, v := range c {
		binary.BigEndian.PutUint32(f.buf[28+4*i:], v)
	}
}

func (f CutoffsFrame) Version() uint16     { return binary.BigEndian.Uint16(f.buf[28+4*NumPriorities:]) }
func (f CutoffsFrame) SetVersion(v uint16) { binary.BigEndian.PutUint16(f.buf[28+4*NumPriorities:], v) }
