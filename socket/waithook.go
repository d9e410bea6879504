package socket

import "github.com/dcrpc/homa/rpcmsg"

// waitHook is the cancellation-safe blocking-receive mechanism of §4.8: a
// thread registers one under the socket lock and sleeps on notify; the
// first party to act — a completing RPC, or the waiter cancelling —
// decides who ends up owning the handle. Grounded on the teacher's
// tcp.Conn read-wait channel, generalized to carry a payload instead of
// a bare wakeup.
type waitHook struct {
	filterID  uint64
	hasFilter bool
	handle    rpcmsg.Handle
	delivered bool
	notify    chan struct{}
}

func newWaitHook(filterID uint64, hasFilter bool) *waitHook {
	return &waitHook{filterID: filterID, hasFilter: hasFilter, notify: make(chan struct{}, 1)}
}

// matches reports whether this hook accepts the RPC named by id.
func (w *waitHook) matches(id uint64) bool {
	return !w.hasFilter || w.filterID == id
}

// deliverLocked hands h directly to the hook, bypassing the ready queue.
// Caller holds the socket lock.
func (w *waitHook) deliverLocked(h rpcmsg.Handle) {
	w.handle = h
	w.delivered = true
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// wakeAllLocked signals every registered hook with no handle delivered;
// callers observe their wait return ErrClosed. Caller holds the socket
// lock.
func (s *Socket) wakeAllLocked(_ error) {
	for _, h := range []*waitHook{s.waitRequest, s.waitResponse} {
		if h == nil {
			continue
		}
		select {
		case h.notify <- struct{}{}:
		default:
		}
	}
}
