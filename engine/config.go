// Package engine wires the transport's independent components — wire
// codec, RPC state machine, grant scheduler, pacer, timer, peer/socket
// tables, and the socket surface — into the top-level packet dispatcher
// of §4.1, and owns the tunables of §6. Grounded on the teacher's
// internet.Stack: a top-level struct that composes independently
// testable layers behind one Config and one entry point per direction
// (ingress dispatch, egress transmit).
package engine

import (
	"log/slog"
	"time"

	"github.com/dcrpc/homa/wire"
)

// Config bundles every tunable enumerated in §6.
type Config struct {
	// RTTBytes is the target in-flight window, rounded up to full packets.
	RTTBytes uint32
	// LinkMbps is the uplink's raw bandwidth, used to derive CyclesPerByte.
	LinkMbps uint32
	// MaxPriority/MinPriority bound the priority range the grant scheduler
	// assigns from. MaxSchedPriority is stored but not read by any
	// component, so scheduled traffic is not limited to a sub-range.
	MaxPriority, MinPriority, MaxSchedPriority uint8
	// UnschedCutoffs assigns unscheduled priorities by message size;
	// entry 0 is conventionally "no limit" (the largest value).
	UnschedCutoffs [wire.NumPriorities]uint32
	// CutoffVersion tags this host's current UnschedCutoffs (§3A's
	// cutoff-version handshake). Senders echo back the version they
	// last saw on DATA; a mismatch tells this engine to re-advertise
	// CUTOFFS to that sender.
	CutoffVersion uint16
	// GrantIncrement is the GRANT step, in bytes.
	GrantIncrement uint32
	// MaxOvercommit bounds concurrently granted receivers.
	MaxOvercommit int
	// ResendTicks/ResendInterval/AbortResends are the timer thresholds.
	ResendTicks    uint32
	ResendInterval uint64
	AbortResends   uint32
	// ThrottleMinBytes lets small packets bypass occupancy admission.
	ThrottleMinBytes int
	// MaxNICQueueCycles is the occupancy ceiling, already converted from
	// a time budget (max-nic-queue-ns) to cycles by the caller.
	MaxNICQueueCycles int64
	// MaxGSOSize optionally caps the packet size below the OS GSO limit;
	// 0 means use EthernetMaxPayload.
	MaxGSOSize int
	// Verbose is carried with the other tunables; the engine does not
	// read it, and log output depends on Logger alone.
	Verbose bool

	Logger *slog.Logger
}

// cyclesPerByte derives the pacer's rate model from LinkMbps. 0 Mbps is
// treated as unlimited (no occupancy backpressure).
func (c Config) cyclesPerByte(cyclesPerSecond int64) float64 {
	if c.LinkMbps == 0 {
		return 0
	}
	bytesPerSecond := float64(c.LinkMbps) * 1_000_000 / 8
	return float64(cyclesPerSecond) / bytesPerSecond
}

// maxPacketPayload resolves the configured GSO cap, defaulting to the
// Ethernet MTU payload.
func (c Config) maxPacketPayload() int {
	if c.MaxGSOSize > 0 {
		return c.MaxGSOSize
	}
	return wire.EthernetMaxPayload
}

// baseRTT is the fixed round-trip estimate the original module falls back
// to when deriving a default rtt_bytes from link speed alone.
const baseRTT = 10 * 1e-6 // 10us, a typical same-rack datacenter RTT.

// DeriveRTTBytes computes the in-flight byte budget a link of this
// Config's LinkMbps sustains over one baseRTT round trip, the same
// fallback the original module applies when rtt_bytes isn't explicitly
// configured.
func (c Config) DeriveRTTBytes() uint32 {
	if c.LinkMbps == 0 {
		return 0
	}
	bytesPerSecond := float64(c.LinkMbps) * 1_000_000 / 8
	return uint32(bytesPerSecond * baseRTT)
}

// DefaultConfig returns the tunables of §6 at their conventional
// datacenter-fabric defaults: a 10Gbps link, 8 priority levels (with
// MaxSchedPriority equal to MaxPriority), and timer thresholds
// modeled on the original module's own constants.
func DefaultConfig() Config {
	cfg := Config{
		LinkMbps:          10000,
		MaxPriority:       uint8(wire.NumPriorities - 1),
		MinPriority:       0,
		MaxSchedPriority:  uint8(wire.NumPriorities - 1),
		GrantIncrement:    10000,
		MaxOvercommit:     8,
		ResendTicks:       5,
		ResendInterval:    5,
		AbortResends:      5,
		ThrottleMinBytes:  1000,
		MaxNICQueueCycles: int64(2 * time.Millisecond),
		CutoffVersion:     1,
	}
	cfg.RTTBytes = cfg.DeriveRTTBytes()
	// Evenly spaced unscheduled cutoffs, entry 0 left at "no limit".
	step := cfg.RTTBytes / uint32(wire.NumPriorities-1)
	if step == 0 {
		step = 1
	}
	cfg.UnschedCutoffs[0] = ^uint32(0)
	for i := 1; i < wire.NumPriorities; i++ {
		cfg.UnschedCutoffs[i] = uint32(i) * step
	}
	return cfg
}
