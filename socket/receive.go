package socket

import (
	"context"
	"log/slog"

	"github.com/dcrpc/homa/rpcmsg"
)

// Direction selects which of a socket's two ready queues Receive drains
// (§3: client requests vs. server responses are never mixed).
type Direction int

const (
	DirRequest  Direction = iota // server role: inbound requests.
	DirResponse                  // client role: inbound responses.
)

// Receive returns the next ready RPC on the given direction, optionally
// restricted to a single id. With blocking=false it returns ErrWouldBlock
// immediately if nothing matches; with blocking=true it registers a
// wait-hook (§4.8) and sleeps until a match arrives or ctx is done.
// Cancellation is safe: if the RPC was already delivered to the hook by
// the time ctx fires, ownership is handed back to the ready queue rather
// than dropped.
func (s *Socket) Receive(ctx context.Context, dir Direction, filterID uint64, hasFilter bool, blocking bool) (rpcmsg.Handle, []byte, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return rpcmsg.Handle{}, nil, ErrClosed
	}
	if h, ok := s.popReadyLocked(dir, filterID, hasFilter); ok {
		data, rpcErr := s.finishReadLocked(h)
		s.mu.Unlock()
		return h, data, rpcErr
	}
	if s.shutdownAt {
		s.mu.Unlock()
		return rpcmsg.Handle{}, nil, ErrClosed
	}
	if !blocking {
		s.mu.Unlock()
		return rpcmsg.Handle{}, nil, ErrWouldBlock
	}

	hook := newWaitHook(filterID, hasFilter)
	s.attachHookLocked(dir, hook)
	s.mu.Unlock()

	select {
	case <-hook.notify:
		s.mu.Lock()
		defer s.mu.Unlock()
		s.detachHookLocked(dir, hook)
		if !hook.delivered {
			return rpcmsg.Handle{}, nil, ErrClosed
		}
		data, rpcErr := s.finishReadLocked(hook.handle)
		return hook.handle, data, rpcErr
	case <-ctx.Done():
		s.mu.Lock()
		defer s.mu.Unlock()
		s.detachHookLocked(dir, hook)
		if hook.delivered {
			s.pushReadyLocked(dir, hook.handle)
		}
		return rpcmsg.Handle{}, nil, ctx.Err()
	}
}

func (s *Socket) attachHookLocked(dir Direction, hook *waitHook) {
	if dir == DirRequest {
		s.waitRequest = hook
	} else {
		s.waitResponse = hook
	}
}

func (s *Socket) detachHookLocked(dir Direction, hook *waitHook) {
	if dir == DirRequest && s.waitRequest == hook {
		s.waitRequest = nil
	} else if dir == DirResponse && s.waitResponse == hook {
		s.waitResponse = nil
	}
}

// popReadyLocked removes and returns the first queue entry matching
// filterID (or the head, if no filter), scanning since the filtered case
// is rare and queues stay short.
func (s *Socket) popReadyLocked(dir Direction, filterID uint64, hasFilter bool) (rpcmsg.Handle, bool) {
	q := s.readyQueueLocked(dir)
	for i, h := range *q {
		rpc, ok := s.table.Get(h)
		if !ok {
			continue
		}
		if hasFilter && rpc.ID != filterID {
			continue
		}
		*q = append((*q)[:i], (*q)[i+1:]...)
		return h, true
	}
	return rpcmsg.Handle{}, false
}

func (s *Socket) pushReadyLocked(dir Direction, h rpcmsg.Handle) {
	q := s.readyQueueLocked(dir)
	*q = append(*q, h)
}

func (s *Socket) readyQueueLocked(dir Direction) *[]rpcmsg.Handle {
	if dir == DirRequest {
		return &s.readyRequest
	}
	return &s.readyResponse
}

// finishReadLocked transitions the RPC past READY and returns its
// payload, plus the terminal error if Abort (§7) marked one — ErrTimeout
// or ErrServerRestart surface here instead of as a payload. A client RPC
// that lands in CLIENT_DONE has nothing further to do on the wire (no
// Reply half like the server side), so it leaves the id map and the
// active list at once and is parked on the dead list for the next reap.
func (s *Socket) finishReadLocked(h rpcmsg.Handle) ([]byte, error) {
	rpc, ok := s.table.Get(h)
	if !ok {
		return nil, nil
	}
	rpc.OnApplicationRead()
	s.trace("socket:receive", slog.Uint64("id", rpc.ID))
	payload, err := rpc.Payload, rpc.TerminalError()
	if rpc.Role == rpcmsg.RoleClient && rpc.State == rpcmsg.StateClientDone {
		delete(s.clientRPCs, rpc.ID)
		s.removeActiveLocked(h)
		s.killLocked(h)
	}
	return payload, err
}
