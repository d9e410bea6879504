package rpcmsg

import "testing"

func TestIncomingResetSetsUnscheduledWatermark(t *testing.T) {
	var in Incoming
	in.Reset(1000, 400)
	if in.TotalLength != 1000 || in.Incoming != 400 || !in.Scheduled {
		t.Fatalf("unexpected reset state: %+v", in)
	}

	in.Reset(100, 400)
	if in.Incoming != 100 {
		t.Fatalf("want Incoming clamped to TotalLength, got %d", in.Incoming)
	}
	if in.Scheduled {
		t.Fatal("want Scheduled false when the whole message fits unscheduled")
	}
}

func TestMergeSegmentContiguousAppend(t *testing.T) {
	var in Incoming
	in.Reset(30, 10)
	in.MergeSegment(0, 10, 10)
	in.MergeSegment(10, 10, 20)
	in.MergeSegment(20, 10, 30)

	if !in.Complete() {
		t.Fatalf("want Complete() after receiving all 30 bytes, got BytesReceived=%d", in.BytesReceived)
	}
	if in.LastContiguous() != 30 {
		t.Fatalf("LastContiguous() = %d, want 30", in.LastContiguous())
	}
}

func TestMergeSegmentOutOfOrderAndOverlap(t *testing.T) {
	var in Incoming
	in.Reset(30, 0)
	in.MergeSegment(20, 10, 30) // arrives first
	if in.BytesReceived != 10 {
		t.Fatalf("BytesReceived = %d, want 10", in.BytesReceived)
	}
	if in.LastContiguous() != 0 {
		t.Fatalf("want LastContiguous 0 with a gap at the start, got %d", in.LastContiguous())
	}

	in.MergeSegment(0, 10, 0) // leaves [10,20) as the only gap
	if in.BytesReceived != 20 {
		t.Fatalf("BytesReceived = %d, want 20", in.BytesReceived)
	}

	in.MergeSegment(5, 20, 0) // overlaps both existing spans and fills the gap
	if in.BytesReceived != 30 {
		t.Fatalf("BytesReceived = %d, want 30 once the gap is filled", in.BytesReceived)
	}
	if !in.Complete() {
		t.Fatal("want Complete() true")
	}
	if len(in.Received) != 1 {
		t.Fatalf("want the three spans coalesced into one, got %d: %+v", len(in.Received), in.Received)
	}
}

func TestMergeSegmentIdempotentOnFullyCoveredRange(t *testing.T) {
	var in Incoming
	in.Reset(100, 0)
	in.MergeSegment(0, 50, 50)
	before := in.BytesReceived
	in.MergeSegment(10, 20, 0) // fully inside the existing span
	if in.BytesReceived != before {
		t.Fatalf("want BytesReceived unchanged on a fully-covered re-receive, got %d vs %d", in.BytesReceived, before)
	}
}

func TestMergeSegmentRaisesWatermark(t *testing.T) {
	var in Incoming
	in.Reset(1000, 100)
	in.MergeSegment(0, 10, 500)
	if in.Incoming != 500 {
		t.Fatalf("Incoming = %d, want 500 from the advertised watermark", in.Incoming)
	}
	in.MergeSegment(900, 100, 0)
	if in.Incoming != 1000 {
		t.Fatalf("Incoming = %d, want clamped to TotalLength 1000", in.Incoming)
	}
}

func TestBytesRemaining(t *testing.T) {
	var in Incoming
	in.Reset(100, 0)
	in.MergeSegment(0, 40, 0)
	if got := in.BytesRemaining(); got != 60 {
		t.Fatalf("BytesRemaining() = %d, want 60", got)
	}
}
