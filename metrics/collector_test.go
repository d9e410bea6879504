package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dcrpc/homa/wire"
)

func TestCollectorExportsCounters(t *testing.T) {
	var c Counters
	c.Reset(1)
	c.Shards()[0].SentByType[wire.TypeData].Add(3)
	c.Shards()[0].Resends.Add(7)

	coll := NewCollector(&c)
	// wire/TypeFreeze - wire/TypeData + 1 sent/recv descs, each emitted for
	// every packet type, plus 3 timer/pacer cycle samples and 1 resend
	// sample: the exact count Collect produces while every error class
	// is zero.
	want := 2*(int(wire.TypeFreeze)-int(wire.TypeData)+1) + 3 + 1
	if count := testutil.CollectAndCount(coll); count != want {
		t.Fatalf("CollectAndCount() = %d, want %d", count, want)
	}
}

func TestCollectorDescribeEmitsEveryDesc(t *testing.T) {
	var c Counters
	c.Reset(1)
	coll := NewCollector(&c)

	ch := make(chan *prometheus.Desc, 16)
	coll.Describe(ch)
	close(ch)

	n := 0
	for range ch {
		n++
	}
	if n != 5 {
		t.Fatalf("want 5 descriptors (sent, recv, cycles, resends, errors), got %d", n)
	}
}
