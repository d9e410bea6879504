package wire

import (
	"bytes"
	"testing"
)

func TestCommonHeaderAccessors(t *testing.T) {
	buf := make([]byte, sizeCommonHeader)
	h, err := NewCommonHeader(buf)
	if err != nil {
		t.Fatal(err)
	}
	h.SetSourcePort(1234)
	h.SetDestPort(5678)
	h.SetDoff(3)
	h.SetType(TypeGrant)
	h.SetID64BE(0xdeadbeefcafebabe)

	if h.SourcePort() != 1234 || h.DestPort() != 5678 {
		t.Fatalf("port mismatch: %d/%d", h.SourcePort(), h.DestPort())
	}
	if h.Doff() != 3 {
		t.Fatalf("Doff() = %d, want 3", h.Doff())
	}
	if h.Type() != TypeGrant {
		t.Fatalf("Type() = %v, want GRANT", h.Type())
	}
	if h.ID64BE() != 0xdeadbeefcafebabe {
		t.Fatalf("ID64BE() = %x", h.ID64BE())
	}
}

func TestNewCommonHeaderRejectsShortBuffer(t *testing.T) {
	if _, err := NewCommonHeader(make([]byte, sizeCommonHeader-1)); err != ErrShortPacket {
		t.Fatalf("want ErrShortPacket, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	buf := make([]byte, sizeCommonHeader)
	buf[13] = byte(TypeResend)
	typ, err := Classify(buf)
	if err != nil {
		t.Fatal(err)
	}
	if typ != TypeResend {
		t.Fatalf("Classify() = %v, want RESEND", typ)
	}

	if _, err := Classify(make([]byte, 4)); err != ErrShortPacket {
		t.Fatalf("want ErrShortPacket for a truncated buffer, got %v", err)
	}
	buf[13] = 0xff
	if _, err := Classify(buf); err != ErrUnknownType {
		t.Fatalf("want ErrUnknownType for an out-of-range opcode, got %v", err)
	}
}

func TestTypeString(t *testing.T) {
	cases := map[Type]string{
		TypeData:    "DATA",
		TypeGrant:   "GRANT",
		TypeResend:  "RESEND",
		TypeRestart: "RESTART",
		TypeBusy:    "BUSY",
		TypeCutoffs: "CUTOFFS",
		TypeFreeze:  "FREEZE",
		Type(0xff):  "?",
	}
	for typ, want := range cases {
		if got := typ.String(); got != want {
			t.Errorf("Type(%d).String() = %q, want %q", typ, got, want)
		}
	}
}

func TestDataFrameSegmentsRoundTrip(t *testing.T) {
	payloadA := []byte("hello")
	payloadB := []byte("world!")
	buf := make([]byte, segmentsOffset)
	buf = append(buf, make([]byte, sizeDataSegment)...)
	PutSegmentHeader(buf[segmentsOffset:], 0, uint32(len(payloadA)))
	buf = append(buf, payloadA...)

	segBStart := len(buf)
	buf = append(buf, make([]byte, sizeDataSegment)...)
	PutSegmentHeader(buf[segBStart:], uint32(len(payloadA)), uint32(len(payloadB)))
	buf = append(buf, payloadB...)

	f, err := NewDataFrame(buf)
	if err != nil {
		t.Fatal(err)
	}
	f.SetMessageLength(uint32(len(payloadA) + len(payloadB)))
	f.SetIncoming(11)
	f.SetRetransmit(true)

	if f.MessageLength() != 11 || f.Incoming() != 11 {
		t.Fatalf("MessageLength/Incoming mismatch: %d/%d", f.MessageLength(), f.Incoming())
	}
	if !f.Retransmit() {
		t.Fatal("want Retransmit() true")
	}

	segs, err := f.Segments()
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 2 {
		t.Fatalf("want 2 segments, got %d", len(segs))
	}
	if segs[0].Offset != 0 || !bytes.Equal(segs[0].Data, payloadA) {
		t.Fatalf("segment 0 mismatch: %+v", segs[0])
	}
	if segs[1].Offset != uint32(len(payloadA)) || !bytes.Equal(segs[1].Data, payloadB) {
		t.Fatalf("segment 1 mismatch: %+v", segs[1])
	}
}

func TestDataFrameSegmentsRejectsTruncatedPayload(t *testing.T) {
	buf := make([]byte, segmentsOffset+sizeDataSegment)
	PutSegmentHeader(buf[segmentsOffset:], 0, 100) // claims 100 bytes but none follow
	f, err := NewDataFrame(buf)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Segments(); err != ErrBadSegment {
		t.Fatalf("want ErrBadSegment, got %v", err)
	}
}

func TestGrantAndResendFrames(t *testing.T) {
	g, err := NewGrantFrame(make([]byte, sizeGrantHeader))
	if err != nil {
		t.Fatal(err)
	}
	g.SetOffset(4096)
	g.SetPriority(2)
	g.SetCutoffVersion(9)
	if g.Offset() != 4096 || g.Priority() != 2 || g.CutoffVersion() != 9 {
		t.Fatalf("grant fields mismatch: %d/%d/%d", g.Offset(), g.Priority(), g.CutoffVersion())
	}

	r, err := NewResendFrame(make([]byte, sizeResendHeader))
	if err != nil {
		t.Fatal(err)
	}
	r.SetOffset(1000)
	r.SetLength(500)
	r.SetPriority(5)
	if r.Offset() != 1000 || r.Length() != 500 || r.Priority() != 5 {
		t.Fatalf("resend fields mismatch: %+v", r)
	}
}

func TestCutoffsFrameRoundTrip(t *testing.T) {
	f, err := NewCutoffsFrame(make([]byte, sizeCutoffs))
	if err != nil {
		t.Fatal(err)
	}
	var want [NumPriorities]uint32
	for i := range want {
		want[i] = uint32(i) * 1000
	}
	f.SetCutoffs(want)
	f.SetVersion(7)

	if f.Cutoffs() != want {
		t.Fatalf("Cutoffs() = %v, want %v", f.Cutoffs(), want)
	}
	if f.Version() != 7 {
		t.Fatalf("Version() = %d, want 7", f.Version())
	}
}
