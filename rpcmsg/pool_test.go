package rpcmsg

import "testing"

func TestBufferPoolAcquireReleaseRoundTrip(t *testing.T) {
	var p BufferPool
	if err := p.Reset(2, 64); err != nil {
		t.Fatal(err)
	}
	if p.Cap() != 2 {
		t.Fatalf("Cap() = %d, want 2", p.Cap())
	}

	buf1, idx1, err := p.Acquire()
	if err != nil {
		t.Fatal(err)
	}
	if len(buf1) != 64 {
		t.Fatalf("want a 64-byte buffer, got %d", len(buf1))
	}
	if p.InUse() != 1 {
		t.Fatalf("InUse() = %d, want 1", p.InUse())
	}

	_, idx2, err := p.Acquire()
	if err != nil {
		t.Fatal(err)
	}
	if idx1 == idx2 {
		t.Fatal("want two distinct buffer indices")
	}

	p.Release(idx1)
	if p.InUse() != 1 {
		t.Fatalf("InUse() = %d, want 1 after releasing one buffer", p.InUse())
	}

	buf3, idx3, err := p.Acquire()
	if err != nil {
		t.Fatal(err)
	}
	if idx3 != idx1 {
		t.Fatalf("want the released index reused, got %d want %d", idx3, idx1)
	}
	if len(buf3) != 64 {
		t.Fatalf("reacquired buffer has wrong length: %d", len(buf3))
	}
}

func TestBufferPoolExhaustion(t *testing.T) {
	var p BufferPool
	if err := p.Reset(1, 16); err != nil {
		t.Fatal(err)
	}
	if _, _, err := p.Acquire(); err != nil {
		t.Fatal(err)
	}
	if _, idx, err := p.Acquire(); err != errPoolExhausted || idx != -1 {
		t.Fatalf("want errPoolExhausted with idx=-1, got idx=%d err=%v", idx, err)
	}
}

func TestBufferPoolReleaseIgnoresDoubleRelease(t *testing.T) {
	var p BufferPool
	if err := p.Reset(1, 16); err != nil {
		t.Fatal(err)
	}
	_, idx, _ := p.Acquire()
	p.Release(idx)
	p.Release(idx) // already free; must be a no-op, not a double-free of the slot
	if p.InUse() != 0 {
		t.Fatalf("InUse() = %d, want 0", p.InUse())
	}
	if p.Cap() != 1 {
		t.Fatalf("Cap() = %d, want 1", p.Cap())
	}
}

func TestBufferPoolResetRejectsInvalidSizes(t *testing.T) {
	var p BufferPool
	if err := p.Reset(0, 16); err == nil {
		t.Fatal("want an error for n=0")
	}
	if err := p.Reset(1, 0); err == nil {
		t.Fatal("want an error for bufSize=0")
	}
}
