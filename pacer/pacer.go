package pacer

import (
	"log/slog"
	"sync/atomic"

	"github.com/dcrpc/homa/internal"
)

// Sender is implemented by the engine's transmit path. TrySendNext
// transmits item's next withheld packet, if occupancy currently allows
// it. sent reports whether a packet actually went out; done reports
// whether item has no further withheld packets and should leave the
// throttle queue.
type Sender interface {
	TrySendNext(item any) (sent, done bool)
}

// Pacer is the single-threaded shaper of §4.5. Its inner loop is guarded
// by an atomic compare-and-swap so at most one instance ever runs
// concurrently (§5 REDESIGN FLAGS: "formalise it as a compare-and-swap
// spinlock with zero-wait fallback") — both the dedicated worker and any
// opportunistic fast-path caller share this guard.
type Pacer struct {
	Throttle  Throttle
	Occupancy Occupancy
	running   atomic.Bool
	sender    Sender
	log       *slog.Logger

	wastedCycles atomic.Uint64
}

// Configure installs the sender callback and logger. Occupancy and
// Throttle are configured directly by the caller before first use.
func (p *Pacer) Configure(sender Sender, log *slog.Logger) {
	p.sender = sender
	p.log = log
}

// Kick runs the pacer's drain loop opportunistically if no other
// instance currently holds it, returning immediately otherwise (§4.5:
// "a companion fast-path hook ... may invoke the pacer inline ...
// contenders return immediately"). Safe to call from any code path,
// including ones about to release their own locks.
func (p *Pacer) Kick() {
	if !p.running.CompareAndSwap(false, true) {
		p.wastedCycles.Add(1)
		return
	}
	defer p.running.Store(false)
	p.drain()
}

// drain repeatedly transmits the throttle queue's head item while
// occupancy has slack, stopping when the queue empties or occupancy
// saturates. Caller already holds the running guard.
func (p *Pacer) drain() {
	for {
		if !p.Occupancy.HasSlack() {
			return
		}
		item, ok := p.Throttle.PeekHead()
		if !ok {
			return
		}
		sent, done := p.sender.TrySendNext(item)
		if !sent {
			if done {
				// Fully drained (nothing left to send, or the RPC
				// finished) — it no longer belongs on the queue.
				p.Throttle.PopHead()
				internal.LogAttrs(p.log, internal.LevelTrace, "pacer:drop_head")
				continue
			}
			// Genuinely blocked by occupancy: yield and leave the
			// item queued for the next Kick (§4.5).
			return
		}
		if done {
			p.Throttle.PopHead()
		}
		// else: leave at head — the next loop iteration re-checks
		// occupancy before retrying the same item.
	}
}

// WastedCycles reports how many Kick calls found the guard already held,
// the counter §6 calls "pacer wasted cycles."
func (p *Pacer) WastedCycles() uint64 { return p.wastedCycles.Load() }
