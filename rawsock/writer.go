//go:build linux

package rawsock

import (
	"log/slog"

	"golang.org/x/sys/unix"
)

// WriteDatagram implements engine.Writer. priority carries the packet's
// scheduling priority out-of-band (Homa never encodes it on the wire, the
// same way the original kernel module conveys it via skb->priority); here
// it is mapped onto IP_TOS so a priority-aware NIC queueing discipline can
// still observe it, matching the one-frame-at-a-time nature of a raw
// socket each Send serializes on.
func (c *Conn) WriteDatagram(dst [4]byte, priority uint8, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	tos := tosForPriority(priority)
	if err := unix.SetsockoptInt(c.fd, unix.IPPROTO_IP, unix.IP_TOS, tos); err != nil {
		c.warn("rawsock:set_tos", slog.Int("tos", tos), slog.String("err", err.Error()))
	}
	sa := &unix.SockaddrInet4{Addr: dst}
	if err := unix.Sendto(c.fd, payload, 0, sa); err != nil {
		c.warn("rawsock:sendto", slog.String("err", err.Error()))
		return err
	}
	c.debug("rawsock:sent", slog.Int("n", len(payload)), slog.Int("priority", int(priority)))
	return nil
}

// tosForPriority spreads priority's low 3 bits across the DSCP field's top
// bits, the conventional way to expose an internal scheduling class to IP
// QoS without a dedicated out-of-band channel.
func tosForPriority(priority uint8) int {
	return int(priority&0x7) << 5
}
