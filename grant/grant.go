// Package grant implements the SRPT grant scheduler of §4.4: a global,
// priority-ordered queue of incoming messages, selecting up to
// max-overcommit receivers by smallest bytes-remaining and deciding when
// each should receive a widened GRANT. Grounded on the teacher's
// tcp.ringTx/sentlist pattern (a plain ordered slice rebuilt under a
// single mutex, no intrusive pointers) generalized from sequence-number
// order to the bytes-remaining order §4.4 calls for.
package grant

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/dcrpc/homa/internal"
)

var ErrInvalidConfig = errors.New("grant: invalid config")

// Key identifies one grantable incoming message. Owner is opaque to this
// package (the engine's dispatch layer stores the owning *socket.Socket
// there); grant only ever compares it for equality.
type Key struct {
	Owner  any
	Handle any
}

// Config bundles the tunables §4.4/§6 assign to the scheduler.
type Config struct {
	MaxOvercommit  int
	GrantIncrement uint32
	RTTBytes       uint32
	NumPriorities  int
	Logger         *slog.Logger
}

type member struct {
	key           Key
	bytesRemain   uint32
	incoming      uint32
	bytesReceived uint32
	totalLength   uint32
	seq           uint64
}

// Queue is the grant queue of §4.4/§5 lock #3: a single mutex protects
// both the member set and the derived ordering, matching the spec's
// "grant-queue lock — global, protects grant queue and counter."
type Queue struct {
	mu      sync.Mutex
	cfg     Config
	members map[Key]*member
	order   []*member // kept sorted by (bytesRemain, seq) ascending.
	nextSeq uint64
	log     *slog.Logger
}

// Action is a decision to widen one message's incoming watermark and
// advertise a priority, for the caller to serialize into a GRANT packet.
type Action struct {
	Key      Key
	Incoming uint32
	Priority uint8
}

// Configure (re)initializes the queue. Safe to call again to change
// tunables; pending members are preserved.
func (q *Queue) Configure(cfg Config) error {
	if cfg.MaxOvercommit <= 0 || cfg.GrantIncrement == 0 || cfg.NumPriorities <= 0 {
		return ErrInvalidConfig
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cfg = cfg
	q.log = cfg.Logger
	if q.members == nil {
		q.members = make(map[Key]*member)
	}
	return nil
}

// Upsert inserts or updates the grantable state for key (§4.3: "On every
// arrival of a DATA packet for an incoming message not yet complete ...
// the scheduler recomputes"). bytesRemaining = totalLength - bytesReceived
// is the sort key; the caller recomputes it once per reassembly update.
func (q *Queue) Upsert(key Key, totalLength, bytesReceived, incoming uint32) {
	q.mu.Lock()
	defer q.mu.Unlock()
	remain := totalLength - bytesReceived
	if m, ok := q.members[key]; ok {
		m.bytesRemain = remain
		m.incoming = incoming
		m.bytesReceived = bytesReceived
		m.totalLength = totalLength
		q.resortLocked()
		return
	}
	m := &member{
		key:           key,
		bytesRemain:   remain,
		incoming:      incoming,
		bytesReceived: bytesReceived,
		totalLength:   totalLength,
		seq:           q.nextSeq,
	}
	q.nextSeq++
	q.members[key] = m
	q.order = append(q.order, m)
	q.resortLocked()
	internal.LogAttrs(q.log, internal.LevelTrace, "grant:upsert", slog.Uint64("remain", uint64(remain)))
}

// Remove unlinks key from the grant queue. Idempotent (§3 invariant:
// "Removal is idempotent; the presence flag may lag to true briefly but
// never to false").
func (q *Queue) Remove(key Key) {
	q.mu.Lock()
	defer q.mu.Unlock()
	m, ok := q.members[key]
	if !ok {
		return
	}
	delete(q.members, key)
	for i, x := range q.order {
		if x == m {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
}

// Contains reports whether key is currently tracked by the queue.
func (q *Queue) Contains(key Key) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.members[key]
	return ok
}

// resortLocked restores the (bytesRemain, seq) ordering. Called with mu
// held; a plain stable sort over a short slice is simpler and just as
// correct as a heap for the queue sizes max-overcommit implies.
func (q *Queue) resortLocked() {
	sort.SliceStable(q.order, func(i, j int) bool {
		a, b := q.order[i], q.order[j]
		if a.bytesRemain != b.bytesRemain {
			return a.bytesRemain < b.bytesRemain
		}
		return a.seq < b.seq
	})
}

// Recompute re-derives the grant decisions for the current queue state
// (§4.4): the max-overcommit smallest-remaining members are selected;
// of those, any whose (incoming - bytesReceived) has fallen below the
// RTT-byte target receives a widened incoming watermark, clamped to
// totalLength. Priorities are assigned in rank order, highest to the
// smallest remainder.
func (q *Queue) Recompute() []Action {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.cfg.MaxOvercommit
	if n > len(q.order) {
		n = len(q.order)
	}
	actions := make([]Action, 0, n)
	for rank := 0; rank < n; rank++ {
		m := q.order[rank]
		if m.incoming-m.bytesReceived >= q.cfg.RTTBytes {
			continue
		}
		next := m.incoming + q.cfg.GrantIncrement
		if next > m.totalLength {
			next = m.totalLength
		}
		if next <= m.incoming {
			continue
		}
		m.incoming = next
		actions = append(actions, Action{
			Key:      m.key,
			Incoming: next,
			Priority: priorityForRank(rank, q.cfg.NumPriorities),
		})
	}
	return actions
}

// priorityForRank maps a 0-based SRPT rank to a priority level: rank 0
// (smallest remainder) gets the highest level, descending from there and
// clamped at 0 once ranks exceed the available levels.
func priorityForRank(rank, numPriorities int) uint8 {
	p := numPriorities - 1 - rank
	if p < 0 {
		p = 0
	}
	return uint8(p)
}

// Len reports the number of messages currently tracked, for diagnostics.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}
