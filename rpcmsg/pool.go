package rpcmsg

import (
	"errors"
	"sync"
)

var errPoolExhausted = errors.New("rpcmsg: buffer pool exhausted")

// BufferPool is a fixed-capacity slab of fixed-size buffers with
// acquire/release semantics (modeled on original_source's homa_pool, a
// bounded pool of receive buffers with a free-list bitmap). No other
// package draws from it: the receive path copies segments into a
// per-RPC Payload slice allocated with make. Grounded on the teacher's
// x/xnet.TCPPool: a mutex-protected, fixed-size pool with acquire/release
// semantics and no per-call allocation.
type BufferPool struct {
	mu       sync.Mutex
	slab     []byte
	bufSize  int
	free     []bool // true = available; acts as the free-list bitmap.
	freeList []int  // stack of free indices for O(1) acquire.
	inUse    int
}

// Reset (re)configures the pool to hand out n buffers of bufSize bytes
// each, backed by one contiguous allocation.
func (p *BufferPool) Reset(n, bufSize int) error {
	if n <= 0 || bufSize <= 0 {
		return errors.New("rpcmsg: invalid buffer pool size")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.slab = make([]byte, n*bufSize)
	p.bufSize = bufSize
	p.free = make([]bool, n)
	p.freeList = make([]int, n)
	for i := range p.freeList {
		p.free[i] = true
		p.freeList[i] = n - 1 - i
	}
	p.inUse = 0
	return nil
}

// Acquire hands out one buffer slice, or errPoolExhausted if every slot
// is checked out.
func (p *BufferPool) Acquire() ([]byte, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.freeList)
	if n == 0 {
		return nil, -1, errPoolExhausted
	}
	idx := p.freeList[n-1]
	p.freeList = p.freeList[:n-1]
	p.free[idx] = false
	p.inUse++
	off := idx * p.bufSize
	return p.slab[off : off+p.bufSize], idx, nil
}

// Release returns a buffer obtained from Acquire to the free list.
func (p *BufferPool) Release(idx int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if idx < 0 || idx >= len(p.free) || p.free[idx] {
		return
	}
	p.free[idx] = true
	p.freeList = append(p.freeList, idx)
	p.inUse--
}

// InUse returns the number of currently-checked-out buffers.
func (p *BufferPool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

// Cap returns the total number of buffers managed by the pool.
func (p *BufferPool) Cap() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}
