// Package metrics implements the free-running per-CPU counter record of
// §6: per-type packet counts, per-size-bucket received bytes, timer and
// pacer cycle totals, resend counts, and per-class error counts. Counters
// are updated with atomic operations and never take a lock on the hot
// path (§9: "per-CPU counters ... never lock on the hot path").
package metrics

import (
	"runtime"
	"sync/atomic"

	"github.com/dcrpc/homa/wire"
)

// ErrorClass enumerates the per-class error counters of §6.
type ErrorClass uint8

const (
	ErrKmalloc ErrorClass = iota
	ErrRoute
	ErrTransmit
	ErrUnknownRPC
	ErrCantCreateRPC
	ErrUnknownType
	ErrShortPacket
	ErrClientTimeout
	ErrServerTimeout
	numErrorClasses
)

func (e ErrorClass) String() string {
	switch e {
	case ErrKmalloc:
		return "alloc"
	case ErrRoute:
		return "route"
	case ErrTransmit:
		return "transmit"
	case ErrUnknownRPC:
		return "unknown_rpc"
	case ErrCantCreateRPC:
		return "cant_create_rpc"
	case ErrUnknownType:
		return "unknown_type"
	case ErrShortPacket:
		return "short_packet"
	case ErrClientTimeout:
		return "client_timeout"
	case ErrServerTimeout:
		return "server_timeout"
	default:
		return "?"
	}
}

const (
	// numSmallBuckets covers received bytes in 64-byte buckets for small
	// messages, up to smallBucketLimit.
	numSmallBuckets  = 16
	smallBucketSize  = 64
	smallBucketLimit = numSmallBuckets * smallBucketSize // 1024

	// numMediumBuckets covers 1024-byte buckets above smallBucketLimit,
	// up to mediumBucketLimit; anything larger accumulates in the single
	// "large" counter.
	numMediumBuckets  = 64
	mediumBucketSize  = 1024
	mediumBucketLimit = smallBucketLimit + numMediumBuckets*mediumBucketSize
)

// PerCPU is one core's counter record. Every field is updated with
// atomics so concurrent writers from different cores never contend.
type PerCPU struct {
	SentByType [int(wire.TypeFreeze) + 1]atomic.Uint64
	RecvByType [int(wire.TypeFreeze) + 1]atomic.Uint64

	RecvBytesSmall  [numSmallBuckets]atomic.Uint64
	RecvBytesMedium [numMediumBuckets]atomic.Uint64
	RecvBytesLarge  atomic.Uint64

	TimerCycles       atomic.Uint64
	PacerCycles       atomic.Uint64
	PacerWastedCycles atomic.Uint64
	Resends           atomic.Uint64
	PeerChainWalks    atomic.Uint64

	Errors [numErrorClasses]atomic.Uint64
}

// Counters is a free-running array of [PerCPU] records, one approximately
// per logical core (§9: "Model as an array of counter records indexed by
// the currently executing logical core. Accept that occasional
// preemption may miscount by one"). Go exposes no portable way to read
// the executing core id without runtime internals, so shard selection
// here round-robins a lock-free cursor instead of true CPU affinity;
// correctness does not depend on which shard a given update lands in,
// only that updates never contend across goroutines running concurrently
// on different cores, which this preserves.
type Counters struct {
	shards []PerCPU
	cursor atomic.Uint32
}

// Reset (re)sizes the counters to n shards, defaulting to GOMAXPROCS.
func (c *Counters) Reset(n int) {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	c.shards = make([]PerCPU, n)
	c.cursor.Store(0)
}

// Shard returns a counter record for the calling goroutine to update.
// Cheap and allocation-free; safe to call on every packet.
func (c *Counters) Shard() *PerCPU {
	if len(c.shards) == 0 {
		c.Reset(0)
	}
	i := c.cursor.Add(1)
	return &c.shards[int(i)%len(c.shards)]
}

// Shards exposes the raw per-CPU records for snapshot aggregation.
func (c *Counters) Shards() []PerCPU { return c.shards }

// RecordRecvBytes counts one received segment of n bytes in the size
// bucket for n (§6). Each call adds 1, not n; duplicate segments are
// counted too.
func (p *PerCPU) RecordRecvBytes(n uint32) {
	switch {
	case n < smallBucketLimit:
		p.RecvBytesSmall[n/smallBucketSize].Add(1)
	case n < mediumBucketLimit:
		p.RecvBytesMedium[(n-smallBucketLimit)/mediumBucketSize].Add(1)
	default:
		p.RecvBytesLarge.Add(1)
	}
}
