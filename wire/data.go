package wire

import "encoding/binary"

// DataFrame is the wire format of a DATA packet: a common header, a
// fixed data prefix, and one or more (offset, length, payload) segments.
// When handed to segmentation offload hardware the NIC splits these into
// one datagram per segment.
type DataFrame struct {
	CommonHeader
}

// NewDataFrame wraps buf as a DATA packet. buf must be at least long
// enough to hold the fixed prefix; segment validity is checked lazily by
// [DataFrame.Segments].
func NewDataFrame(buf []byte) (DataFrame, error) {
	if len(buf) < sizeDataPrefix {
		return DataFrame{}, ErrShortPacket
	}
	return DataFrame{CommonHeader{buf: buf}}, nil
}

func (f DataFrame) MessageLength() uint32     { return binary.BigEndian.Uint32(f.buf[28:32]) }
func (f DataFrame) SetMessageLength(v uint32) { binary.BigEndian.PutUint32(f.buf[28:32], v) }

// Incoming is the watermark: bytes the sender commits to transmit without
// further grants.
func (f DataFrame) Incoming() uint32     { return binary.BigEndian.Uint32(f.buf[32:36]) }
func (f DataFrame) SetIncoming(v uint32) { binary.BigEndian.PutUint32(f.buf[32:36], v) }

func (f DataFrame) CutoffVersion() uint16     { return binary.BigEndian.Uint16(f.buf[36:38]) }
func (f DataFrame) SetCutoffVersion(v uint16) { binary.BigEndian.PutUint16(f.buf[36:38], v) }

func (f DataFrame) Retransmit() bool { return f.buf[38] != 0 }
func (f DataFrame) SetRetransmit(v bool) {
	if v {
		f.buf[38] = 1
	} else {
		f.buf[38] = 0
	}
}

// segmentsOffset is where the first (offset, length, payload) triple starts.
const segmentsOffset = sizeCommonHeader + 4 + 4 + 2 + 1 + 1

// Segment is one (offset, length) tagged slice of message payload.
type Segment struct {
	Offset uint32
	Data   []byte
}

// Segments decodes every (offset, length, payload) triple following the
// data prefix. Segments within a packet are not guaranteed to be ordered.
func (f DataFrame) Segments() ([]Segment, error) {
	buf := f.buf[segmentsOffset:]
	var segs []Segment
	for len(buf) > 0 {
		if len(buf) < sizeDataSegment {
			return nil, ErrBadSegment
		}
		off := binary.BigEndian.Uint32(buf[0:4])
		length := binary.BigEndian.Uint32(buf[4:8])
		buf = buf[sizeDataSegment:]
		if uint32(len(buf)) < length {
			return nil, ErrBadSegment
		}
		segs = append(segs, Segment{Offset: off, Data: buf[:length]})
		buf = buf[length:]
	}
	return segs, nil
}

// PutSegmentHeader writes a single segment's (offset, length) prefix into
// dst, returning the number of header bytes written.
func PutSegmentHeader(dst []byte, offset, length uint32) int {
	binary.BigEndian.PutUint32(dst[0:4], offset)
	binary.BigEndian.PutUint32(dst[4:8], length)
	return sizeDataSegment
}

// DataPrefixLen is the size of a DATA header up to (not including) the
// first segment's (offset, length) pair.
func DataPrefixLen() int { return segmentsOffset }

// SegmentHeaderLen is the per-segment (offset, length) overhead.
func SegmentHeaderLen() int { return sizeDataSegment }
