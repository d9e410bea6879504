package pacer

import (
	"sync/atomic"
	"testing"
)

func TestOccupancyAdmitsUntilQueueFull(t *testing.T) {
	var clock int64
	now := func() int64 { return atomic.LoadInt64(&clock) }
	var o Occupancy
	o.Configure(1 /*cyclesPerByte*/, 100 /*maxQueueCycles*/, 0 /*throttleMinBytes*/, now)

	if !o.Admit(50) {
		t.Fatal("first 50-byte packet should be admitted into an empty queue")
	}
	if !o.Admit(40) {
		t.Fatal("90 cycles projected occupancy is within the 100-cycle ceiling")
	}
	if o.Admit(20) {
		t.Fatal("110 cycles projected occupancy exceeds the 100-cycle ceiling, should refuse")
	}
}

func TestOccupancyThrottleMinBytesBypassesAdmission(t *testing.T) {
	var clock int64
	now := func() int64 { return atomic.LoadInt64(&clock) }
	var o Occupancy
	o.Configure(1, 10, 5, now)
	// Fill the queue to its ceiling first.
	if !o.Admit(10) {
		t.Fatal("expected initial admit to succeed (exactly at the ceiling)")
	}
	// A tiny control packet under throttleMinBytes always gets through,
	// even though the queue is already at its ceiling.
	if !o.Admit(3) {
		t.Fatal("packets under throttleMinBytes must bypass occupancy admission")
	}
}

func TestThrottleFIFO(t *testing.T) {
	var th Throttle
	th.Enqueue("a")
	th.Enqueue("b")
	th.Enqueue("a") // idempotent
	if th.Len() != 2 {
		t.Fatalf("want 2 distinct items, got %d", th.Len())
	}
	if got, ok := th.PeekHead(); !ok || got != "a" {
		t.Fatalf("want head 'a', got %v, %v", got, ok)
	}
	th.PopHead()
	if got, ok := th.PeekHead(); !ok || got != "b" {
		t.Fatalf("want head 'b' after pop, got %v, %v", got, ok)
	}
}

type fakeSender struct {
	sendResult func(item any) (bool, bool)
	calls      int
}

func (f *fakeSender) TrySendNext(item any) (bool, bool) {
	f.calls++
	return f.sendResult(item)
}

func TestPacerKickDrainsUntilEmpty(t *testing.T) {
	var p Pacer
	var clock int64
	now := func() int64 { return atomic.LoadInt64(&clock) }
	p.Occupancy.Configure(0, 1<<30, 0, now) // cyclesPerByte=0 never refuses.

	sent := 0
	sender := &fakeSender{sendResult: func(item any) (bool, bool) {
		sent++
		return true, true // each item fully sent on first try.
	}}
	p.Configure(sender, nil)
	p.Throttle.Enqueue("x")
	p.Throttle.Enqueue("y")
	p.Kick()

	if sent != 2 {
		t.Fatalf("want both items drained, got %d sends", sent)
	}
	if p.Throttle.Len() != 0 {
		t.Fatalf("want empty throttle queue after drain, got %d", p.Throttle.Len())
	}
}

func TestPacerKickYieldsOccupancyBlockedItemInsteadOfDropping(t *testing.T) {
	var p Pacer
	var clock int64
	now := func() int64 { return atomic.LoadInt64(&clock) }
	p.Occupancy.Configure(0, 1<<30, 0, now) // HasSlack() always true here.

	// sendOneStep-style: (sent=false, done=false) means "blocked by
	// occupancy right now", which must leave the item on the queue
	// rather than discarding it (§4.5).
	sender := &fakeSender{sendResult: func(item any) (bool, bool) {
		return false, false
	}}
	p.Configure(sender, nil)
	p.Throttle.Enqueue("x")
	p.Kick()

	if p.Throttle.Len() != 1 {
		t.Fatalf("want the blocked item still queued, got len=%d", p.Throttle.Len())
	}
	if sender.calls != 1 {
		t.Fatalf("want exactly one TrySendNext attempt before yielding, got %d", sender.calls)
	}

	// A later Kick, once the item reports done=true, must drop it.
	sender.sendResult = func(item any) (bool, bool) { return false, true }
	p.Kick()
	if p.Throttle.Len() != 0 {
		t.Fatalf("want the fully-drained item popped, got len=%d", p.Throttle.Len())
	}
}

func TestPacerKickContentionCountsWastedCycles(t *testing.T) {
	var p Pacer
	p.running.Store(true) // simulate an in-progress drain.
	p.Configure(&fakeSender{sendResult: func(any) (bool, bool) { return true, true }}, nil)
	p.Kick()
	if p.WastedCycles() != 1 {
		t.Fatalf("want 1 wasted cycle from the contended Kick, got %d", p.WastedCycles())
	}
}
