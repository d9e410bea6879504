// Package rawsock is the transport engine's raw-IP datagram boundary: a
// thin AF_INET/SOCK_RAW socket that implements engine.Writer for egress and
// feeds engine.Dispatch for ingress. It carries no Homa protocol knowledge
// of its own — the engine already framed the packet; rawsock only gets it
// onto (or off of) the wire.
//
//go:build linux

package rawsock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/dcrpc/homa/internal"
)

// HomaProtocol is the IANA-assigned IP protocol number for Homa (146),
// used as the socket's IPPROTO so the kernel delivers only Homa datagrams
// to this fd instead of every raw packet on the interface.
const HomaProtocol = 146

var (
	ErrClosed = errors.New("rawsock: closed")
	ErrNoAddr = errors.New("rawsock: invalid IPv4 address")
)

// Config configures a Conn. Source is required; Interface narrows egress
// and TTL is applied to every outbound datagram.
type Config struct {
	Source    net.IP
	Interface string
	TTL       int
	RecvBuf   int
	Logger    *slog.Logger
}

// Conn owns one raw IPPROTO_HOMA socket, usable concurrently for sends
// (serialized by mu, matching the teacher pack's single-fd raw senders)
// while ReadLoop drains it from a dedicated goroutine.
type Conn struct {
	fd      int
	src     [4]byte
	ifIndex int
	recvBuf int
	log     *slog.Logger

	mu     sync.Mutex
	closed bool
}

// Open creates and configures the raw socket. TTL defaults to 64 and
// RecvBuf to 4096 when left zero.
func Open(cfg Config) (*Conn, error) {
	src := cfg.Source.To4()
	if src == nil {
		return nil, ErrNoAddr
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 64
	}
	if cfg.RecvBuf <= 0 {
		cfg.RecvBuf = 4096
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_RAW, HomaProtocol)
	if err != nil {
		return nil, fmt.Errorf("rawsock: socket: %w", err)
	}
	ok := false
	defer func() {
		if !ok {
			_ = unix.Close(fd)
		}
	}()
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_TTL, cfg.TTL); err != nil {
		return nil, fmt.Errorf("rawsock: set ttl: %w", err)
	}
	// IP_HDRINCL left unset: the kernel builds the IPv4 header for us, as
	// with the pack's raw-ICMP senders, since the engine only ever hands
	// us the Homa payload.

	var ifIndex int
	if cfg.Interface != "" {
		ifi, err := net.InterfaceByName(cfg.Interface)
		if err != nil {
			return nil, fmt.Errorf("rawsock: lookup interface %q: %w", cfg.Interface, err)
		}
		ifIndex = ifi.Index
		if err := bindToDevice(fd, cfg.Interface); err != nil {
			return nil, fmt.Errorf("rawsock: bind device: %w", err)
		}
	}

	c := &Conn{
		fd:      fd,
		ifIndex: ifIndex,
		recvBuf: cfg.RecvBuf,
		log:     cfg.Logger,
	}
	copy(c.src[:], src)
	ok = true
	c.info("rawsock:open", slog.String("src", cfg.Source.String()), slog.String("iface", cfg.Interface))
	return c, nil
}

func bindToDevice(fd int, iface string) error {
	return unix.SetsockoptString(fd, unix.SOL_SOCKET, unix.SO_BINDTODEVICE, iface)
}

// Close releases the underlying file descriptor. Safe to call once;
// subsequent calls return ErrClosed.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.closed = true
	return unix.Close(c.fd)
}

func (c *Conn) info(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(c.log, slog.LevelInfo, msg, attrs...)
}
func (c *Conn) warn(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(c.log, slog.LevelWarn, msg, attrs...)
}
func (c *Conn) debug(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(c.log, slog.LevelDebug, msg, attrs...)
}

// ctxDone reports, without blocking, whether ctx is done; used by
// ReadLoop to notice cancellation between Recvfrom calls, each of which
// is bounded by an SO_RCVTIMEO poll slice.
func ctxDone(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
