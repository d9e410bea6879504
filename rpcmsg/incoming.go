package rpcmsg

// Span is a contiguous [Offset, Offset+Length) range of received bytes.
type Span struct {
	Offset uint32
	Length uint32
}

func (s Span) End() uint32 { return s.Offset + s.Length }

// Incoming is the incoming-message descriptor of §3: an offset-sorted,
// gap-tolerant list of received spans plus the bookkeeping the grant
// scheduler needs (bytes-remaining is the SRPT key).
type Incoming struct {
	TotalLength uint32
	// Received is kept merged and offset-sorted; adjacent/overlapping
	// spans are coalesced on insert so its length stays bounded by the
	// number of genuine gaps, not the number of packets received.
	Received []Span
	// BytesReceived is the sum of Received span lengths.
	BytesReceived uint32
	// Incoming is the watermark up to which the sender is expected to
	// transmit without further grants.
	Incoming uint32
	// Scheduled is true when TotalLength exceeds the unscheduled window,
	// meaning this message needs GRANTs to complete.
	Scheduled bool
	// Priority is the priority to advertise in future GRANTs.
	Priority uint8
	// OnGrantQueue lags true briefly but never lags false (§3 invariant).
	OnGrantQueue bool
}

// Reset prepares the descriptor for a new message of the given total
// length, sent with an initial unscheduled window of unscheduled bytes.
func (in *Incoming) Reset(totalLength, unscheduled uint32) {
	*in = Incoming{
		TotalLength: totalLength,
		Received:    in.Received[:0],
		Incoming:    min32(unscheduled, totalLength),
		Scheduled:   totalLength > unscheduled,
	}
}

// BytesRemaining is the SRPT scheduling key.
func (in *Incoming) BytesRemaining() uint32 { return in.TotalLength - in.BytesReceived }

// Complete reports whether every byte of the message has arrived.
func (in *Incoming) Complete() bool { return in.BytesReceived >= in.TotalLength }

// MergeSegment inserts a received [offset, offset+length) span into the
// reassembly structure (§4.3). It is idempotent: re-receiving an already
// fully-covered range leaves BytesReceived unchanged. wm, if nonzero, is
// the incoming watermark advertised with the segment; Incoming is raised
// to max(Incoming, wm, offset+length).
func (in *Incoming) MergeSegment(offset, length, wm uint32) {
	if length == 0 {
		return
	}
	newSpan := Span{Offset: offset, Length: length}
	in.insertSpan(newSpan)
	if wm > in.Incoming {
		in.Incoming = wm
	}
	if end := offset + length; end > in.Incoming {
		in.Incoming = end
	}
	if in.Incoming > in.TotalLength {
		in.Incoming = in.TotalLength
	}
}

// insertSpan merges newSpan into the sorted, coalesced Received list and
// credits BytesReceived with only the newly covered bytes.
func (in *Incoming) insertSpan(newSpan Span) {
	// Fast path: strictly-ordered append, the common case absent loss.
	n := len(in.Received)
	if n == 0 || in.Received[n-1].End() < newSpan.Offset {
		in.Received = append(in.Received, newSpan)
		in.BytesReceived += newSpan.Length
		return
	}
	if in.Received[n-1].End() >= newSpan.End() && in.Received[n-1].Offset <= newSpan.Offset {
		return // already fully covered by the tail span.
	}

	// General path: find the insertion point and merge with any
	// overlapping/adjacent neighbors, crediting only newly-covered bytes.
	// overlapLen is always measured against the new span's own bounds, not
	// the growing merged bounds below, or a second merged-in span could
	// inflate newBytes by double-counting bytes it shares with the first.
	reqLo, reqHi := newSpan.Offset, newSpan.End()
	lo, hi := reqLo, reqHi
	covered := uint32(0)
	i := 0
	for i < len(in.Received) && in.Received[i].End() < reqLo {
		i++
	}
	start := i
	for i < len(in.Received) && in.Received[i].Offset <= hi {
		s := in.Received[i]
		covered += overlapLen(s, reqLo, reqHi)
		if s.Offset < lo {
			lo = s.Offset
		}
		if s.End() > hi {
			hi = s.End()
		}
		i++
	}
	merged := Span{Offset: lo, Length: hi - lo}
	newBytes := newSpan.Length - covered
	tail := append([]Span{}, in.Received[i:]...)
	in.Received = append(in.Received[:start], merged)
	in.Received = append(in.Received, tail...)
	in.BytesReceived += newBytes
}

// overlapLen returns how much of existing span s falls within [lo, hi).
func overlapLen(s Span, lo, hi uint32) uint32 {
	a, b := s.Offset, s.End()
	if a < lo {
		a = lo
	}
	if b > hi {
		b = hi
	}
	if b <= a {
		return 0
	}
	return b - a
}

// LastContiguous returns the offset up to which bytes have been received
// with no gap from the start of the message — the boundary a RESEND
// should name as its range start.
func (in *Incoming) LastContiguous() uint32 {
	if len(in.Received) == 0 || in.Received[0].Offset != 0 {
		return 0
	}
	return in.Received[0].End()
}

func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}
