// Package timer implements the fixed-tick driver of §4.6: silent-tick
// accounting per RPC, RESEND emission with per-peer de-duplication,
// the client-timeout/server-silent-destroy split, and the dead-RPC
// reaper. Grounded on the teacher's internal periodic-check style in
// tcp.Conn's retransmission timer, generalized from one connection to a
// socket's whole active list.
package timer

import (
	"log/slog"

	"github.com/dcrpc/homa/internal"
	"github.com/dcrpc/homa/rpcmsg"
	"github.com/dcrpc/homa/socket"
	"github.com/dcrpc/homa/sockettab"
)

// ResendSink receives RESEND decisions the driver makes while walking a
// socket's active list; the engine's dispatch layer turns these into
// wire packets.
type ResendSink interface {
	EmitResend(peer [4]byte, destPort uint16, id uint64, offset, length uint32, priority uint8)
}

// Config bundles the timer thresholds of §6.
type Config struct {
	ResendTicks    uint32
	ResendInterval uint64
	AbortResends   uint32
	Logger         *slog.Logger
}

// Driver is the fixed-tick timer. One Driver serves every socket in the
// engine; Tick is called once per socket per tick from the engine's
// scheduling loop.
type Driver struct {
	cfg   Config
	sink  ResendSink
	peers *sockettab.PeerTable
	tick  uint64
	log   *slog.Logger
}

// Configure installs the sink, peer table, and thresholds.
func (d *Driver) Configure(cfg Config, sink ResendSink, peers *sockettab.PeerTable) {
	d.cfg = cfg
	d.sink = sink
	d.peers = peers
	d.log = cfg.Logger
}

// decision is computed under the socket's lock (via sock.RPC) and acted
// on afterward, so the callback passed to sock.RPC never calls back into
// the socket.
type decision struct {
	abortClient   bool
	destroyServer bool
	resend        *resendArgs
}

type resendArgs struct {
	peer     [4]byte
	destPort uint16
	id       uint64
	offset   uint32
	length   uint32
	priority uint8
}

// Tick advances the timer by one period for sock: every active RPC's
// silent-tick counter is incremented, RESENDs are emitted for ones stuck
// awaiting data, and RPCs that exhausted abort-resends are finalized
// (§4.6, §7).
func (d *Driver) Tick(sock *socket.Socket) {
	d.tick++
	for _, h := range sock.Active() {
		var dec decision
		ok := sock.RPC(h, func(rpc *rpcmsg.RPC) {
			rpc.SilentTicks++
			if rpc.State != rpcmsg.StateIncoming {
				return
			}
			if rpc.SilentTicks < d.cfg.ResendTicks {
				return
			}
			peer := d.peers.GetOrCreate(rpc.PeerAddr, nil)
			if last := peer.LastResendTick(); d.tick-last < d.cfg.ResendInterval {
				return
			}
			peer.SetLastResendTick(d.tick)
			rpc.ResendCount++
			if rpc.ResendCount > d.cfg.AbortResends {
				if rpc.Role == rpcmsg.RoleClient {
					dec.abortClient = true
				} else {
					dec.destroyServer = true
				}
				return
			}
			if rpc.In == nil {
				return
			}
			start := rpc.In.LastContiguous()
			end := rpc.In.Incoming
			if end <= start {
				return
			}
			dec.resend = &resendArgs{
				peer: rpc.PeerAddr, destPort: rpc.DestPort, id: rpc.ID,
				offset: start, length: end - start, priority: rpc.In.Priority,
			}
		})
		if !ok {
			continue
		}
		switch {
		case dec.abortClient:
			sock.AbortRPC(h, rpcmsg.ErrTimeout)
			internal.LogAttrs(d.log, slog.LevelWarn, "timer:abort_client")
		case dec.destroyServer:
			sock.Forget(h)
			internal.LogAttrs(d.log, slog.LevelInfo, "timer:destroy_server")
		case dec.resend != nil:
			if d.sink != nil {
				r := dec.resend
				d.sink.EmitResend(r.peer, r.destPort, r.id, r.offset, r.length, r.priority)
			}
		}
	}
	sock.ReapDead()
}
