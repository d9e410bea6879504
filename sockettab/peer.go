// Package sockettab implements the two global, read-mostly tables of
// §4.7: the peer table (one entry per distant host) and the socket
// table (indexed by local port), plus client port allocation. Both
// tables are safe for concurrent lookup without a reader lock: inserts
// swap in a fresh copy-on-write map under a dedicated writer lock, and
// readers load the current map through an atomic pointer. This is the
// idiomatic Go rendition of the epoch-based-reclamation discipline §4.7
// asks for — Go has no RCU primitive, but an atomic snapshot swap gives
// the same guarantee (readers never block, never see a torn map) without
// needing one.
package sockettab

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dcrpc/homa/wire"
)

// Peer is one remote host contacted by this engine (§3). Peers are never
// evicted once installed: lookups may be retained indefinitely by
// concurrent senders, so removal would require reference counting this
// package does not implement (§9 open question: peer eviction).
type Peer struct {
	Addr [4]byte
	// Route is an opaque handle into the peripheral routing layer
	// (§1: "peer/route lookup ... out of scope as design content").
	// The engine only needs to hold and forward it, never interpret it.
	Route any

	mu             sync.Mutex
	cutoffs        [wire.NumPriorities]uint32
	cutoffVersion  uint16
	lastUpdate     time.Time
	lastResendTick uint64
}

// Cutoffs returns the most recently advertised unscheduled-priority
// cutoffs for this peer, and their version tag.
func (p *Peer) Cutoffs() (cutoffs [wire.NumPriorities]uint32, version uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cutoffs, p.cutoffVersion
}

// SetCutoffs installs a new cutoffs table and version, per the CUTOFFS
// handler in §4.1.
func (p *Peer) SetCutoffs(cutoffs [wire.NumPriorities]uint32, version uint16, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cutoffs = cutoffs
	p.cutoffVersion = version
	p.lastUpdate = now
}

// LastResendTick/SetLastResendTick support the timer's per-peer
// resend-interval de-duplication (§4.6).
func (p *Peer) LastResendTick() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastResendTick
}

func (p *Peer) SetLastResendTick(tick uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastResendTick = tick
}

// PeerTable maps IPv4 addresses to [Peer] records. Sized loosely after
// §3's "≈1M buckets" via a plain Go map — buckets are an implementation
// detail of the original hash table design and not something a Go map
// needs management of directly.
type PeerTable struct {
	m      atomic.Pointer[map[[4]byte]*Peer]
	wmu    sync.Mutex // writer lock: insertion only.
	newRef func([4]byte) any
}

// Lookup finds the peer for addr without taking any lock.
func (t *PeerTable) Lookup(addr [4]byte) (*Peer, bool) {
	mp := t.m.Load()
	if mp == nil {
		return nil, false
	}
	p, ok := (*mp)[addr]
	return p, ok
}

// GetOrCreate returns the existing peer for addr, or installs a new one
// (route resolution is the caller's responsibility — newRoute, if
// non-nil, is stashed on Peer.Route). Installation takes the writer
// lock and publishes a fresh copy-on-write map; concurrent Lookups never
// block and never observe a partially-built map.
func (t *PeerTable) GetOrCreate(addr [4]byte, newRoute any) *Peer {
	if p, ok := t.Lookup(addr); ok {
		return p
	}
	t.wmu.Lock()
	defer t.wmu.Unlock()
	// Re-check under the writer lock: another writer may have raced us.
	if mp := t.m.Load(); mp != nil {
		if p, ok := (*mp)[addr]; ok {
			return p
		}
	}
	p := &Peer{Addr: addr, Route: newRoute}
	old := t.m.Load()
	next := make(map[[4]byte]*Peer, mapLen(old)+1)
	if old != nil {
		for k, v := range *old {
			next[k] = v
		}
	}
	next[addr] = p
	t.m.Store(&next)
	return p
}

func mapLen[K comparable, V any](m *map[K]V) int {
	if m == nil {
		return 0
	}
	return len(*m)
}
