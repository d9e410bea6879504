//go:build linux

package rawsock

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sys/unix"
)

// Dispatcher is the subset of engine.Engine a ReadLoop feeds. Kept as an
// interface so rawsock never imports engine (rawsock is a leaf boundary
// package; neither package imports the other, and cmd/homaengine wires
// them together).
type Dispatcher interface {
	Dispatch(srcAddr [4]byte, pkt []byte)
}

const pollSlice = 200 * time.Millisecond

// ReadLoop drains raw datagrams into d.Dispatch until ctx is done or the
// connection is closed. A raw IPv4 socket hands the reader the full IP
// header plus payload; the engine only wants the Homa datagram, so the
// header length byte is used to trim it before dispatch. Run this in its
// own goroutine; it blocks in bounded slices (via SO_RCVTIMEO) so ctx
// cancellation is noticed promptly without requiring a wakeup write.
func (c *Conn) ReadLoop(ctx context.Context, d Dispatcher) error {
	buf := make([]byte, c.recvBuf)
	for {
		if ctxDone(ctx) {
			return ctx.Err()
		}
		tv := unix.NsecToTimeval(pollSlice.Nanoseconds())
		if err := unix.SetsockoptTimeval(c.fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
			c.warn("rawsock:set_rcvtimeo", slog.String("err", err.Error()))
		}
		n, from, err := unix.Recvfrom(c.fd, buf, 0)
		if err != nil {
			if isTransientRecvErr(err) {
				continue
			}
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if closed {
				return ErrClosed
			}
			c.warn("rawsock:recvfrom", slog.String("err", err.Error()))
			continue
		}
		payload, src, ok := trimIPHeader(buf[:n], from)
		if !ok {
			continue
		}
		d.Dispatch(src, payload)
	}
}

func isTransientRecvErr(err error) bool {
	switch err {
	case unix.EAGAIN, unix.EWOULDBLOCK, unix.EINTR:
		return true
	default:
		return false
	}
}

// trimIPHeader strips the kernel-supplied IPv4 header from a raw-socket
// read, returning the Homa payload and the packet's source address.
func trimIPHeader(pkt []byte, from unix.Sockaddr) ([]byte, [4]byte, bool) {
	var src [4]byte
	if len(pkt) < 20 {
		return nil, src, false
	}
	ihl := int(pkt[0]&0x0f) * 4
	if ihl < 20 || len(pkt) < ihl {
		return nil, src, false
	}
	if sa, ok := from.(*unix.SockaddrInet4); ok {
		src = sa.Addr
	} else {
		copy(src[:], pkt[12:16])
	}
	return pkt[ihl:], src, true
}
