package timer

import (
	"context"
	"errors"
	"testing"

	"github.com/dcrpc/homa/rpcmsg"
	"github.com/dcrpc/homa/socket"
	"github.com/dcrpc/homa/sockettab"
	"github.com/dcrpc/homa/wire"
)

type recordingSink struct {
	resends []resendArgs
}

func (r *recordingSink) EmitResend(peer [4]byte, destPort uint16, id uint64, offset, length uint32, priority uint8) {
	r.resends = append(r.resends, resendArgs{peer: peer, destPort: destPort, id: id, offset: offset, length: length, priority: priority})
}

func TestTickEmitsResendAfterSilentTicks(t *testing.T) {
	peers := &sockettab.PeerTable{}
	ports := &sockettab.SocketTable{}
	sock := socket.New(peers, ports, nil, socket.Config{MaxPacketPayload: 1400})
	if err := sock.Bind(7); err != nil {
		t.Fatal(err)
	}
	h := sock.AcceptRequest(42, [4]byte{10, 0, 0, 1}, 9000, 1000, 500)

	var d Driver
	sink := &recordingSink{}
	d.Configure(Config{ResendTicks: 3, ResendInterval: 1, AbortResends: 5}, sink, peers)

	for i := 0; i < 3; i++ {
		d.Tick(sock)
	}
	if len(sink.resends) == 0 {
		t.Fatalf("want at least one RESEND after 3 silent ticks, got none")
	}
	r := sink.resends[0]
	if r.id != 42 || r.offset != 0 || r.length != 500 {
		t.Fatalf("unexpected resend args: %+v", r)
	}
	_ = h
}

func TestTickDestroysServerRPCAfterAbortResends(t *testing.T) {
	peers := &sockettab.PeerTable{}
	ports := &sockettab.SocketTable{}
	sock := socket.New(peers, ports, nil, socket.Config{MaxPacketPayload: 1400})
	if err := sock.Bind(7); err != nil {
		t.Fatal(err)
	}
	sock.AcceptRequest(99, [4]byte{10, 0, 0, 3}, 9000, 1000, 500)

	var d Driver
	sink := &recordingSink{}
	// ResendInterval=1 so every tick past ResendTicks re-fires; AbortResends=2
	// means the 3rd resend attempt silently destroys the server RPC.
	d.Configure(Config{ResendTicks: 1, ResendInterval: 1, AbortResends: 2}, sink, peers)

	for i := 0; i < 10 && len(sock.Active()) > 0; i++ {
		d.Tick(sock)
	}
	if len(sock.Active()) != 0 {
		t.Fatalf("want the server RPC silently reaped, got %d still active", len(sock.Active()))
	}
}

func TestTickAbortsClientAwaitingMoreResponseData(t *testing.T) {
	peers := &sockettab.PeerTable{}
	ports := &sockettab.SocketTable{}
	sock := socket.New(peers, ports, nil, socket.Config{MaxPacketPayload: 1400})

	id, err := sock.Send([4]byte{10, 0, 0, 2}, 9000, []byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	h, ok := sock.LookupClientRPC(id)
	if !ok {
		t.Fatal("expected the sent RPC to be registered under its id")
	}
	// Simulate the first response DATA packet arriving, partial: this
	// transitions the client OUTGOING->INCOMING (§3) but leaves it
	// incomplete, so the timer should keep nudging for the rest.
	seg := wire.Segment{Offset: 0, Data: make([]byte, 10)}
	if err := sock.DeliverData(h, []wire.Segment{seg}, 100, 50, true); err != nil {
		t.Fatal(err)
	}

	var d Driver
	sink := &recordingSink{}
	d.Configure(Config{ResendTicks: 1, ResendInterval: 1, AbortResends: 2}, sink, peers)

	for i := 0; i < 10; i++ {
		d.Tick(sock)
	}
	_, _, err = sock.Receive(context.Background(), socket.DirResponse, 0, false, false)
	if !errors.Is(err, rpcmsg.ErrTimeout) {
		t.Fatalf("want ErrTimeout surfaced to the application, got %v", err)
	}
	if len(sock.Active()) != 0 {
		t.Fatalf("want the client RPC freed once the application reads the timeout, got %d still active", len(sock.Active()))
	}
}
