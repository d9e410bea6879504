package pacer

import "sync"

// Throttle is the FIFO throttle queue of §4.1/§5 lock #4: RPCs whose
// next outgoing packet was refused by the occupancy check. Items are
// opaque (`any`) so this package need not import socket/rpcmsg; the
// engine's Sender implementation knows how to interpret them.
type Throttle struct {
	mu    sync.Mutex
	items []any
	index map[any]bool // membership, for the "idempotent presence" invariant
}

// Enqueue appends item to the tail if it is not already queued.
func (t *Throttle) Enqueue(item any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.index == nil {
		t.index = make(map[any]bool)
	}
	if t.index[item] {
		return
	}
	t.index[item] = true
	t.items = append(t.items, item)
}

// PeekHead returns the head item without removing it.
func (t *Throttle) PeekHead() (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.items) == 0 {
		return nil, false
	}
	return t.items[0], true
}

// PopHead removes and returns the head item.
func (t *Throttle) PopHead() (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.items) == 0 {
		return nil, false
	}
	item := t.items[0]
	t.items = t.items[1:]
	delete(t.index, item)
	return item, true
}

// Contains reports whether item is currently queued.
func (t *Throttle) Contains(item any) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.index[item]
}

// Len reports the current queue length.
func (t *Throttle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}
