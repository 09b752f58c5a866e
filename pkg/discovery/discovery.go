package discovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/sync/errgroup"

	"github.com/udit2303/spareshare/internal/telemetry"
	"github.com/udit2303/spareshare/pkg/peer"
	"github.com/udit2303/spareshare/pkg/util"
)

const (
	// DiscoveryPort is the UDP port announcements are sent to and
	// received on.
	DiscoveryPort = 7677

	// AnnounceInterval is how often the local offer is broadcast.
	AnnounceInterval = 2 * time.Second

	// PruneTick is how often the peer table is scanned for stale entries.
	PruneTick = time.Second

	// PeerTimeout is how long a peer stays in the table without a fresh
	// announcement. Several announce intervals, so a single lost datagram
	// does not evict a live peer.
	PeerTimeout = 6 * time.Second

	// maxDatagram bounds a single announcement read.
	maxDatagram = 2048
)

// magic prefixes every announcement so unrelated traffic on the multicast
// group is rejected before any decoding happens.
var magic = []byte{'S', 'P', 'R', 'S', 0x01}

// multicastGroup is the well-known group all spareshare nodes join.
var multicastGroup = net.IPv4(239, 77, 77, 77)

// ErrConfig marks a discovery setup failure: bad bind address, socket setup,
// or multicast join. Fatal to service construction.
var ErrConfig = errors.New("discovery configuration failed")

type entry struct {
	info     peer.Info
	lastSeen time.Time
}

// Service maintains a live view of peers reachable on the local broadcast
// domain. One UDP socket is shared by the announce and listen loops; the peer
// table is shared by all three loops and guarded by a single mutex.
type Service struct {
	self peer.Info
	conn *net.UDPConn
	dest *net.UDPAddr
	log  *util.Logger

	mu    sync.Mutex
	peers map[peer.ID]entry
}

// New creates a production discovery service: it binds the discovery port,
// joins the spareshare multicast group on every eligible interface, and
// targets the group with its announcements.
func New(self peer.Info, log *util.Logger) (*Service, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: DiscoveryPort})
	if err != nil {
		return nil, fmt.Errorf("%w: bind :%d: %v", ErrConfig, DiscoveryPort, err)
	}

	pc := ipv4.NewPacketConn(conn)
	group := &net.UDPAddr{IP: multicastGroup}
	joined := 0
	ifaces, err := net.Interfaces()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: listing interfaces: %v", ErrConfig, err)
	}
	for i := range ifaces {
		iface := ifaces[i]
		if (iface.Flags&net.FlagUp) == 0 || (iface.Flags&net.FlagMulticast) == 0 {
			continue
		}
		if err := pc.JoinGroup(&iface, group); err != nil {
			log.Debug("Could not join multicast group", "iface", iface.Name, "error", err)
			continue
		}
		joined++
	}
	if joined == 0 {
		conn.Close()
		return nil, fmt.Errorf("%w: no interface joined group %s", ErrConfig, multicastGroup)
	}
	// Loopback lets co-located nodes on one host discover each other.
	_ = pc.SetMulticastLoopback(true)

	return &Service{
		self:  self,
		conn:  conn,
		dest:  &net.UDPAddr{IP: multicastGroup, Port: DiscoveryPort},
		log:   log.With("peer", self.ID.String()),
		peers: make(map[peer.ID]entry),
	}, nil
}

// NewLoopback creates a discovery service bound to an explicit unicast
// address with an explicit destination. Used where multicast is unavailable
// or the test needs network isolation.
func NewLoopback(self peer.Info, bindAddr, destAddr string, log *util.Logger) (*Service, error) {
	bind, err := net.ResolveUDPAddr("udp", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: bind address %q: %v", ErrConfig, bindAddr, err)
	}
	dest, err := net.ResolveUDPAddr("udp", destAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: destination address %q: %v", ErrConfig, destAddr, err)
	}
	conn, err := net.ListenUDP("udp", bind)
	if err != nil {
		return nil, fmt.Errorf("%w: bind %s: %v", ErrConfig, bindAddr, err)
	}
	return &Service{
		self:  self,
		conn:  conn,
		dest:  dest,
		log:   log.With("peer", self.ID.String()),
		peers: make(map[peer.ID]entry),
	}, nil
}

// Addr returns the address the discovery socket is bound to.
func (s *Service) Addr() string {
	return s.conn.LocalAddr().String()
}

// PeerInfo returns the local node's immutable offer.
func (s *Service) PeerInfo() peer.Info {
	return s.self
}

// Peers returns a point-in-time copy of all currently live peers. The
// internal table and its lock never escape.
func (s *Service) Peers() []peer.Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]peer.Info, 0, len(s.peers))
	for _, e := range s.peers {
		out = append(out, e.info)
	}
	return out
}

// Start runs the announce, listen and prune loops until ctx is cancelled,
// then returns once all three have stopped.
func (s *Service) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.announceLoop(ctx) })
	g.Go(func() error { return s.listenLoop(ctx) })
	g.Go(func() error { return s.pruneLoop(ctx) })
	g.Go(func() error {
		// Closing the socket is the only way to unblock a pending read.
		<-ctx.Done()
		_ = s.conn.Close()
		return nil
	})
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Service) announceLoop(ctx context.Context) error {
	payload, err := peer.EncodeWire(s.self.Wire())
	if err != nil {
		return fmt.Errorf("encoding own announcement: %w", err)
	}
	datagram := append(append([]byte(nil), magic...), payload...)

	ticker := time.NewTicker(AnnounceInterval)
	defer ticker.Stop()
	for {
		if _, err := s.conn.WriteToUDP(datagram, s.dest); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Announcements are periodic and self-healing, so a lost
			// one is only worth a warning.
			s.log.Warn("Failed to send announcement", "dest", s.dest.String(), "error", err)
		} else {
			telemetry.AnnouncementsSent.Inc()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Service) listenLoop(ctx context.Context) error {
	buf := make([]byte, maxDatagram)
	for {
		n, src, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("reading announcement: %w", err)
		}
		s.handleDatagram(buf[:n], src)
	}
}

// handleDatagram validates, decodes and upserts one announcement. All
// failures are recoverable: the datagram is dropped and listening continues.
func (s *Service) handleDatagram(data []byte, src *net.UDPAddr) {
	if !bytes.HasPrefix(data, magic) {
		telemetry.DatagramsDropped.Inc()
		return
	}
	w, err := peer.DecodeWire(data[len(magic):])
	if err != nil {
		telemetry.DatagramsDropped.Inc()
		s.log.Debug("Dropping malformed announcement", "src", src.String(), "error", err)
		return
	}
	info, err := w.Info()
	if err != nil {
		telemetry.DatagramsDropped.Inc()
		s.log.Debug("Dropping invalid announcement", "src", src.String(), "error", err)
		return
	}
	// Our own announcements are looped back by the multicast socket.
	if info.ID == s.self.ID {
		return
	}

	s.mu.Lock()
	_, known := s.peers[info.ID]
	s.peers[info.ID] = entry{info: info, lastSeen: time.Now()}
	s.mu.Unlock()

	if !known {
		s.log.Info("Discovered peer",
			"id", info.ID.String(),
			"addr", info.Addr.String(),
			"spare_mbs", info.SpareMBs,
			"price", info.Price)
	}
}

// Close releases the discovery socket. Start's cancellation watcher does the
// same; Close exists for construction-failure paths where Start never ran.
func (s *Service) Close() error {
	return s.conn.Close()
}

func (s *Service) pruneLoop(ctx context.Context) error {
	ticker := time.NewTicker(PruneTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.prune(time.Now())
		}
	}
}

func (s *Service) prune(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.peers {
		if now.Sub(e.lastSeen) > PeerTimeout {
			delete(s.peers, id)
			telemetry.PeersPruned.Inc()
			s.log.Info("Pruned stale peer", "id", id.String(), "last_seen", e.lastSeen.Format(time.RFC3339))
		}
	}
}
