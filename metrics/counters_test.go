package metrics

import "testing"

func TestCountersShardRoundRobins(t *testing.T) {
	var c Counters
	c.Reset(4)
	if len(c.Shards()) != 4 {
		t.Fatalf("want 4 shards, got %d", len(c.Shards()))
	}
	seen := make(map[*PerCPU]bool)
	for i := 0; i < 8; i++ {
		seen[c.Shard()] = true
	}
	if len(seen) != 4 {
		t.Fatalf("want every shard visited by round-robin, got %d distinct", len(seen))
	}
}

func TestCountersResetDefaultsToGOMAXPROCS(t *testing.T) {
	var c Counters
	c.Reset(0)
	if len(c.Shards()) == 0 {
		t.Fatal("want Reset(0) to size shards from GOMAXPROCS, not leave it empty")
	}
}

func TestShardLazilyInitializes(t *testing.T) {
	var c Counters
	p := c.Shard() // never explicitly Reset
	if p == nil {
		t.Fatal("want Shard to lazily initialize shards rather than panic")
	}
}

func TestRecordRecvBytesBuckets(t *testing.T) {
	var p PerCPU
	p.RecordRecvBytes(0)
	if p.RecvBytesSmall[0].Load() != 1 {
		t.Fatalf("want bucket 0 credited for a 0-byte record, got %d", p.RecvBytesSmall[0].Load())
	}

	p.RecordRecvBytes(smallBucketLimit - 1)
	if p.RecvBytesSmall[numSmallBuckets-1].Load() != 1 {
		t.Fatalf("want the last small bucket credited, got %d", p.RecvBytesSmall[numSmallBuckets-1].Load())
	}

	p.RecordRecvBytes(smallBucketLimit)
	if p.RecvBytesMedium[0].Load() != 1 {
		t.Fatalf("want the first medium bucket credited at the small/medium boundary, got %d", p.RecvBytesMedium[0].Load())
	}

	p.RecordRecvBytes(mediumBucketLimit)
	if p.RecvBytesLarge.Load() != 1 {
		t.Fatalf("want the large counter credited past the medium ceiling, got %d", p.RecvBytesLarge.Load())
	}
}

func TestErrorClassString(t *testing.T) {
	if ErrClientTimeout.String() != "client_timeout" {
		t.Fatalf("ErrClientTimeout.String() = %q", ErrClientTimeout.String())
	}
	if ErrorClass(numErrorClasses).String() != "?" {
		t.Fatal("want \"?\" for an out-of-range error class")
	}
}
