package rpcmsg

import (
	"log/slog"
)

// Handle is a stable, generation-checked reference to an RPC slot in a
// [Table]. Unlike a bare pointer it cannot be used after the slot has
// been reused for a different RPC: [Table.Get] reports ok=false once the
// generation has moved on. This replaces the intrusive self-pointer
// style of the original design (see design notes on cyclic membership
// links) with index-based handles that lists store by value.
type Handle struct {
	index uint32
	gen   uint32
}

// Zero reports whether h is the zero Handle (never a valid allocation).
func (h Handle) Zero() bool { return h.gen == 0 && h.index == 0 }

// RPC is one in-flight call, per §3. It is always accessed through a
// [Table]; callers hold the owning socket's lock while mutating one
// (§5: "RPCs are not independently lockable").
type RPC struct {
	handle Handle
	gen    uint32
	inUse  bool

	ID       uint64
	Role     Role
	PeerAddr [4]byte
	DestPort uint16
	SrcPort  uint16
	State    State

	Out *Outgoing
	In  *Incoming
	// Payload holds the reassembled message bytes for In, sized to
	// In.TotalLength once known. Segment copies land here at their
	// offset; BufferPool is not on this path.
	Payload []byte

	Err ErrorKind

	SilentTicks uint32
	ResendCount uint32

	// OnGrantQueue/OnThrottleQueue mirror the matching queue's own
	// bookkeeping so code with only an RPC in hand can tell whether it
	// needs to unlink itself; the queues remain the source of truth.
	OnGrantQueue    bool
	OnThrottleQueue bool

	logger
}

// Handle returns the stable handle identifying this slot.
func (r *RPC) Handle() Handle { return r.handle }

// TerminalError reports this RPC's terminal error, if Abort set one, as
// a plain Go error rather than the ErrNone sentinel.
func (r *RPC) TerminalError() error {
	if r.Err == ErrNone {
		return nil
	}
	return r.Err
}

// Table is the slab allocator for RPC records (§9: "model as arena-owned
// entries referenced by stable indices"). The socket package keeps one
// Table per socket, shared by its client and server hash buckets.
type Table struct {
	slots []slot
	free  []uint32
	log   *slog.Logger
}

type slot struct {
	rpc  RPC
	gen  uint32
	live bool
}

// Configure sets the logger propagated to every RPC allocated afterward.
func (t *Table) Configure(log *slog.Logger) { t.log = log }

// New allocates a fresh RPC slot, reusing a freed one when available.
func (t *Table) New(role Role, id uint64) (Handle, *RPC) {
	var idx uint32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		t.slots = append(t.slots, slot{})
		idx = uint32(len(t.slots) - 1)
	}
	s := &t.slots[idx]
	s.gen++
	s.live = true
	h := Handle{index: idx, gen: s.gen}
	s.rpc = RPC{
		handle: h,
		gen:    s.gen,
		inUse:  true,
		ID:     id,
		Role:   role,
		logger: logger{log: t.log},
	}
	return h, &s.rpc
}

// Get resolves a handle to its RPC, reporting ok=false if the slot has
// since been freed and reallocated (or never allocated).
func (t *Table) Get(h Handle) (*RPC, bool) {
	if int(h.index) >= len(t.slots) {
		return nil, false
	}
	s := &t.slots[h.index]
	if !s.live || s.gen != h.gen {
		return nil, false
	}
	return &s.rpc, true
}

// Free releases the slot for reuse. Any handle referencing it becomes
// invalid immediately (reads via [Table.Get] return ok=false).
func (t *Table) Free(h Handle) {
	if int(h.index) >= len(t.slots) {
		return
	}
	s := &t.slots[h.index]
	if !s.live || s.gen != h.gen {
		return
	}
	s.live = false
	s.rpc = RPC{}
	t.free = append(t.free, h.index)
}

// Len returns the number of live slots (O(n); diagnostic use only).
func (t *Table) Len() int {
	n := 0
	for i := range t.slots {
		if t.slots[i].live {
			n++
		}
	}
	return n
}
