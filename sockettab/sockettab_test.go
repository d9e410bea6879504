package sockettab

import (
	"testing"
	"time"

	"github.com/dcrpc/homa/wire"
)

func TestPeerTableGetOrCreateReturnsSameInstance(t *testing.T) {
	var tbl PeerTable
	p1 := tbl.GetOrCreate([4]byte{10, 0, 0, 1}, "route-a")
	p2 := tbl.GetOrCreate([4]byte{10, 0, 0, 1}, "route-b")
	if p1 != p2 {
		t.Fatal("want GetOrCreate to return the existing peer, not install a second one")
	}
	if p2.Route != "route-a" {
		t.Fatalf("want the original route preserved, got %v", p2.Route)
	}
}

func TestPeerTableLookupMissing(t *testing.T) {
	var tbl PeerTable
	if _, ok := tbl.Lookup([4]byte{1, 2, 3, 4}); ok {
		t.Fatal("want Lookup to miss on an empty table")
	}
}

func TestPeerCutoffsRoundTrip(t *testing.T) {
	var tbl PeerTable
	p := tbl.GetOrCreate([4]byte{10, 0, 0, 2}, nil)
	var want [wire.NumPriorities]uint32
	for i := range want {
		want[i] = uint32(i) * 100
	}
	now := time.Unix(1000, 0)
	p.SetCutoffs(want, 5, now)

	got, version := p.Cutoffs()
	if got != want || version != 5 {
		t.Fatalf("Cutoffs() = %v/%d, want %v/5", got, version, want)
	}
}

func TestPeerLastResendTick(t *testing.T) {
	var tbl PeerTable
	p := tbl.GetOrCreate([4]byte{10, 0, 0, 3}, nil)
	if p.LastResendTick() != 0 {
		t.Fatal("want zero value before any SetLastResendTick")
	}
	p.SetLastResendTick(42)
	if p.LastResendTick() != 42 {
		t.Fatalf("LastResendTick() = %d, want 42", p.LastResendTick())
	}
}

func TestSocketTableBindAndLookup(t *testing.T) {
	var tbl SocketTable
	if err := tbl.Bind(8080, "sock-a"); err != nil {
		t.Fatal(err)
	}
	got, ok := tbl.Lookup(8080)
	if !ok || got != "sock-a" {
		t.Fatalf("Lookup(8080) = (%v, %v), want (sock-a, true)", got, ok)
	}
}

func TestSocketTableBindRejectsZeroPort(t *testing.T) {
	var tbl SocketTable
	if err := tbl.Bind(0, "x"); err != ErrZeroPort {
		t.Fatalf("want ErrZeroPort, got %v", err)
	}
}

func TestSocketTableBindRejectsDuplicatePort(t *testing.T) {
	var tbl SocketTable
	if err := tbl.Bind(9000, "a"); err != nil {
		t.Fatal(err)
	}
	if err := tbl.Bind(9000, "b"); err != ErrPortInUse {
		t.Fatalf("want ErrPortInUse, got %v", err)
	}
}

func TestSocketTableAllocClientPortInRange(t *testing.T) {
	var tbl SocketTable
	port, err := tbl.AllocClientPort("sock")
	if err != nil {
		t.Fatal(err)
	}
	if port < minClientPort {
		t.Fatalf("AllocClientPort() = %d, want >= %d", port, minClientPort)
	}
	port2, err := tbl.AllocClientPort("sock2")
	if err != nil {
		t.Fatal(err)
	}
	if port2 == port {
		t.Fatal("want distinct client ports on successive allocations")
	}
}

func TestSocketTableRemove(t *testing.T) {
	var tbl SocketTable
	if err := tbl.Bind(7777, "a"); err != nil {
		t.Fatal(err)
	}
	if err := tbl.Remove(7777); err != nil {
		t.Fatal(err)
	}
	if _, ok := tbl.Lookup(7777); ok {
		t.Fatal("want the port gone after Remove")
	}
	// The port should now be bindable again.
	if err := tbl.Bind(7777, "b"); err != nil {
		t.Fatalf("want the freed port rebindable, got %v", err)
	}
}

func TestSocketTableRemoveUnboundPort(t *testing.T) {
	var tbl SocketTable
	if err := tbl.Remove(1234); err != ErrPortUnbound {
		t.Fatalf("want ErrPortUnbound, got %v", err)
	}
}
