package socket

import (
	"log/slog"

	"github.com/dcrpc/homa/rpcmsg"
)

// Send starts a new client RPC addressed to (dst, destPort) carrying data,
// returning the id the peer will see on the wire (§3, §4.2). The request
// is handed to the Transmitter immediately; Send does not block on any
// network I/O.
func (s *Socket) Send(dst [4]byte, destPort uint16, data []byte) (uint64, error) {
	s.mu.Lock()
	if s.closed || s.shutdownAt {
		s.mu.Unlock()
		return 0, ErrClosed
	}
	if _, err := s.ensureClientPort(); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	s.nextOutgoingID++
	id := s.nextOutgoingID

	peer := s.peers.GetOrCreate(dst, nil)
	cutoffs, _ := peer.Cutoffs()

	h, rpc := s.table.New(rpcmsg.RoleClient, id)
	rpc.PeerAddr = dst
	rpc.DestPort = destPort
	rpc.SrcPort = s.clientPort
	rpc.Out = &rpcmsg.Outgoing{}
	rpc.Out.Reset(data, s.cfg.MaxPacketPayload, cutoffs[:], s.cfg.RTTBytes)

	s.clientRPCs[id] = h
	s.active = append(s.active, h)
	s.debug("socket:send", slog.Uint64("id", id), slog.Int("len", len(data)))
	s.mu.Unlock()

	if s.xmit != nil {
		s.xmit.Transmit(s, h)
	}
	return id, nil
}

// Reply hands data back as the response to a request this socket has
// finished servicing, transitioning its RPC IN_SERVICE -> OUTGOING
// (§4.8's reply half of the server lifecycle).
func (s *Socket) Reply(h rpcmsg.Handle, data []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	rpc, ok := s.table.Get(h)
	if !ok || rpc.Role != rpcmsg.RoleServer {
		s.mu.Unlock()
		return ErrNotServerRPC
	}
	peer := s.peers.GetOrCreate(rpc.PeerAddr, nil)
	cutoffs, _ := peer.Cutoffs()

	rpc.Out = &rpcmsg.Outgoing{}
	rpc.Out.Reset(data, s.cfg.MaxPacketPayload, cutoffs[:], s.cfg.RTTBytes)
	rpc.OnReplyIssued()
	s.debug("socket:reply", slog.Uint64("id", rpc.ID), slog.Int("len", len(data)))
	s.mu.Unlock()

	if s.xmit != nil {
		s.xmit.Transmit(s, h)
	}
	return nil
}
