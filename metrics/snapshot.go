package metrics

import (
	"fmt"
	"strings"
	"sync"

	"github.com/dcrpc/homa/wire"
)

// Snapshot is the aggregate of every per-CPU record at one instant. It is
// a plain value, safe to read and pass around once compiled.
type Snapshot struct {
	SentByType [int(wire.TypeFreeze) + 1]uint64
	RecvByType [int(wire.TypeFreeze) + 1]uint64

	RecvBytesSmall  [numSmallBuckets]uint64
	RecvBytesMedium [numMediumBuckets]uint64
	RecvBytesLarge  uint64

	TimerCycles       uint64
	PacerCycles       uint64
	PacerWastedCycles uint64
	Resends           uint64
	PeerChainWalks    uint64

	Errors [numErrorClasses]uint64
}

// compileMu serializes the relatively expensive string-form compilation
// of a snapshot (§5 lock #7: "Metrics lock — only for string-form
// compilation of the metrics snapshot"). It never guards the counters
// themselves, which remain lock-free.
var compileMu sync.Mutex

// Snapshot sums every shard into a single point-in-time value.
func (c *Counters) Snapshot() Snapshot {
	var s Snapshot
	for i := range c.shards {
		p := &c.shards[i]
		for t := range s.SentByType {
			s.SentByType[t] += p.SentByType[t].Load()
			s.RecvByType[t] += p.RecvByType[t].Load()
		}
		for b := range s.RecvBytesSmall {
			s.RecvBytesSmall[b] += p.RecvBytesSmall[b].Load()
		}
		for b := range s.RecvBytesMedium {
			s.RecvBytesMedium[b] += p.RecvBytesMedium[b].Load()
		}
		s.RecvBytesLarge += p.RecvBytesLarge.Load()
		s.TimerCycles += p.TimerCycles.Load()
		s.PacerCycles += p.PacerCycles.Load()
		s.PacerWastedCycles += p.PacerWastedCycles.Load()
		s.Resends += p.Resends.Load()
		s.PeerChainWalks += p.PeerChainWalks.Load()
		for e := range s.Errors {
			s.Errors[e] += p.Errors[e].Load()
		}
	}
	return s
}

// Text serializes the snapshot into the human-readable blob §6 calls
// for. Concurrent callers are serialized by compileMu; the underlying
// counters were already a consistent-enough point-in-time copy by the
// time Text runs.
func (s Snapshot) Text() string {
	compileMu.Lock()
	defer compileMu.Unlock()
	var b strings.Builder
	fmt.Fprintf(&b, "homa metrics snapshot\n")
	for t := wire.TypeData; t <= wire.TypeFreeze; t++ {
		fmt.Fprintf(&b, "  %-8s sent=%-10d recv=%-10d\n", t, s.SentByType[t], s.RecvByType[t])
	}
	fmt.Fprintf(&b, "  recv_bytes_large=%d\n", s.RecvBytesLarge)
	fmt.Fprintf(&b, "  timer_cycles=%d pacer_cycles=%d pacer_wasted_cycles=%d\n",
		s.TimerCycles, s.PacerCycles, s.PacerWastedCycles)
	fmt.Fprintf(&b, "  resends=%d peer_chain_walks=%d\n", s.Resends, s.PeerChainWalks)
	for e := ErrorClass(0); e < numErrorClasses; e++ {
		if s.Errors[e] != 0 {
			fmt.Fprintf(&b, "  err.%s=%d\n", e, s.Errors[e])
		}
	}
	return b.String()
}
