package discovery

import (
	"context"
	"net"
	"net/netip"
	"os"
	"testing"
	"time"

	"github.com/udit2303/spareshare/pkg/peer"
	"github.com/udit2303/spareshare/pkg/util"
)

var testLog = util.NewLogger(os.Stdout, util.WarnLevel)

func testInfo(t *testing.T, addr string, spare uint64, price float32) peer.Info {
	t.Helper()
	id, err := peer.GenerateIdentity()
	if err != nil {
		t.Fatalf("failed to generate identity: %v", err)
	}
	return peer.Info{
		ID:       id.ID,
		Addr:     netip.MustParseAddrPort(addr),
		SpareMBs: spare,
		Price:    price,
	}
}

func hasPeer(peers []peer.Info, id peer.ID) bool {
	for _, p := range peers {
		if p.ID == id {
			return true
		}
	}
	return false
}

// sendRaw writes one datagram to a service's bound address from a throwaway
// socket, the way an arbitrary process on the LAN could.
func sendRaw(t *testing.T, dest string, data []byte) {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp", dest)
	if err != nil {
		t.Fatalf("failed to resolve %s: %v", dest, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		t.Fatalf("failed to dial %s: %v", dest, err)
	}
	defer conn.Close()
	if _, err := conn.Write(data); err != nil {
		t.Fatalf("failed to send datagram: %v", err)
	}
}

func announcement(t *testing.T, info peer.Info) []byte {
	t.Helper()
	payload, err := peer.EncodeWire(info.Wire())
	if err != nil {
		t.Fatalf("failed to encode announcement: %v", err)
	}
	return append(append([]byte(nil), magic...), payload...)
}

// two services on loopback sockets, each announcing to the other's bind
// address, see each other within one announce interval plus slack
func TestLoopbackConvergence(t *testing.T) {
	info1 := testInfo(t, "127.0.0.1:47111", 100, 1.0)
	info2 := testInfo(t, "127.0.0.1:47112", 50, 2.0)

	svc1, err := NewLoopback(info1, "127.0.0.1:47101", "127.0.0.1:47102", testLog)
	if err != nil {
		t.Fatalf("failed to create service 1: %v", err)
	}
	svc2, err := NewLoopback(info2, "127.0.0.1:47102", "127.0.0.1:47101", testLog)
	if err != nil {
		t.Fatalf("failed to create service 2: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done1 := make(chan error, 1)
	done2 := make(chan error, 1)
	go func() { done1 <- svc1.Start(ctx) }()
	go func() { done2 <- svc2.Start(ctx) }()

	deadline := time.Now().Add(AnnounceInterval + 2*time.Second)
	for time.Now().Before(deadline) {
		if hasPeer(svc1.Peers(), info2.ID) && hasPeer(svc2.Peers(), info1.ID) {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	if !hasPeer(svc1.Peers(), info2.ID) {
		t.Error("service 1 should see service 2")
	}
	if !hasPeer(svc2.Peers(), info1.ID) {
		t.Error("service 2 should see service 1")
	}
	if hasPeer(svc1.Peers(), info1.ID) {
		t.Error("service 1 should not list itself")
	}

	cancel()
	for _, done := range []chan error{done1, done2} {
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Start returned error on cancel: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("Start did not return after cancellation")
		}
	}
}

// a datagram without the magic marker, and a marked but malformed one, must
// never mutate the peer table
func TestMarkerAndDecodeFiltering(t *testing.T) {
	info := testInfo(t, "127.0.0.1:47113", 10, 1.0)
	svc, err := NewLoopback(info, "127.0.0.1:0", "127.0.0.1:9", testLog)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Start(ctx) }()

	sendRaw(t, svc.Addr(), []byte("not a spareshare announcement"))
	sendRaw(t, svc.Addr(), append(append([]byte(nil), magic...), 0xff, 0x00, 0x13))

	time.Sleep(500 * time.Millisecond)
	if n := len(svc.Peers()); n != 0 {
		t.Fatalf("peer table should be empty, has %d entries", n)
	}
}

// the node's own (looped back) announcements never enter the table
func TestSelfAnnouncementFiltered(t *testing.T) {
	info := testInfo(t, "127.0.0.1:47114", 10, 1.0)
	svc, err := NewLoopback(info, "127.0.0.1:0", "127.0.0.1:9", testLog)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Start(ctx) }()

	sendRaw(t, svc.Addr(), announcement(t, info))

	time.Sleep(500 * time.Millisecond)
	if hasPeer(svc.Peers(), info.ID) {
		t.Fatal("service stored its own announcement")
	}
}

// an entry with no further announcements is gone after PeerTimeout plus one
// prune tick
func TestStalePeerPruned(t *testing.T) {
	if testing.Short() {
		t.Skip("waits out the full peer timeout")
	}

	self := testInfo(t, "127.0.0.1:47115", 10, 1.0)
	other := testInfo(t, "127.0.0.1:47116", 20, 2.0)

	svc, err := NewLoopback(self, "127.0.0.1:0", "127.0.0.1:9", testLog)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Start(ctx) }()

	sendRaw(t, svc.Addr(), announcement(t, other))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !hasPeer(svc.Peers(), other.ID) {
		time.Sleep(50 * time.Millisecond)
	}
	if !hasPeer(svc.Peers(), other.ID) {
		t.Fatal("announcement never reached the peer table")
	}

	time.Sleep(PeerTimeout + 2*PruneTick)
	if hasPeer(svc.Peers(), other.ID) {
		t.Fatal("stale peer was not pruned")
	}
}

// prune removes exactly the entries past the timeout
func TestPruneCutoff(t *testing.T) {
	self := testInfo(t, "127.0.0.1:47117", 10, 1.0)
	fresh := testInfo(t, "127.0.0.1:47118", 10, 1.0)
	stale := testInfo(t, "127.0.0.1:47119", 10, 1.0)

	svc, err := NewLoopback(self, "127.0.0.1:0", "127.0.0.1:9", testLog)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	defer svc.Close()

	now := time.Now()
	svc.mu.Lock()
	svc.peers[fresh.ID] = entry{info: fresh, lastSeen: now}
	svc.peers[stale.ID] = entry{info: stale, lastSeen: now.Add(-PeerTimeout - time.Second)}
	svc.mu.Unlock()

	svc.prune(now)

	if !hasPeer(svc.Peers(), fresh.ID) {
		t.Error("fresh peer was pruned")
	}
	if hasPeer(svc.Peers(), stale.ID) {
		t.Error("stale peer survived prune")
	}
}
