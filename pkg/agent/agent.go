package agent

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/udit2303/spareshare/internal/telemetry"
	"github.com/udit2303/spareshare/pkg/control"
	"github.com/udit2303/spareshare/pkg/discovery"
	"github.com/udit2303/spareshare/pkg/peer"
	"github.com/udit2303/spareshare/pkg/util"
)

// Agent composes discovery and the control-plane channel into an operating
// node: it keeps the peer table fresh, receives inbound Deals, and pushes
// outbound Deals to peers matched by capacity and price.
type Agent struct {
	discovery *discovery.Service
	receiver  *control.Receiver
	sender    *control.Sender
	log       *util.Logger

	mu       sync.Mutex
	incoming map[string]control.Deal // keyed by proposer's advertised address
}

// New creates a production agent: multicast discovery, a receiving endpoint
// on the node's advertised address, and one reusable sending endpoint.
func New(id *peer.Identity, self peer.Info, trust control.TrustPolicy, log *util.Logger) (*Agent, error) {
	dsvc, err := discovery.New(self, log)
	if err != nil {
		return nil, err
	}
	return assemble(id, self, dsvc, trust, log)
}

// NewLoopback creates an agent whose discovery runs over explicit unicast
// addresses instead of the multicast group. Used where multicast is
// unavailable or the test needs isolation.
func NewLoopback(id *peer.Identity, self peer.Info, bindAddr, destAddr string, trust control.TrustPolicy, log *util.Logger) (*Agent, error) {
	dsvc, err := discovery.NewLoopback(self, bindAddr, destAddr, log)
	if err != nil {
		return nil, err
	}
	return assemble(id, self, dsvc, trust, log)
}

func assemble(id *peer.Identity, self peer.Info, dsvc *discovery.Service, trust control.TrustPolicy, log *util.Logger) (*Agent, error) {
	receiver, err := control.NewReceiver(id, self.Addr)
	if err != nil {
		dsvc.Close()
		return nil, err
	}
	sender, err := control.NewSender(trust)
	if err != nil {
		dsvc.Close()
		receiver.Close()
		return nil, err
	}
	return &Agent{
		discovery: dsvc,
		receiver:  receiver,
		sender:    sender,
		log:       log.With("peer", self.ID.String()),
		incoming:  make(map[string]control.Deal),
	}, nil
}

// Run operates the node until ctx is cancelled: the discovery loops and the
// deal receive loop run concurrently. Discovery failures never abort the
// receive loop and vice versa; a cancelled context stops both cleanly.
func (a *Agent) Run(ctx context.Context) error {
	self := a.discovery.PeerInfo()
	a.log.Info("Agent running", "addr", self.Addr.String(), "spare_mbs", self.SpareMBs, "price", self.Price)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.discovery.Start(ctx) })
	g.Go(func() error { return a.receiveLoop(ctx) })
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// receiveLoop accepts Deals one connection at a time. A failed receive is
// logged and the loop continues; only cancellation ends it.
func (a *Agent) receiveLoop(ctx context.Context) error {
	a.log.Info("Listening for deals", "addr", a.receiver.Addr())
	for {
		deal, err := a.receiver.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.log.Warn("Failed to receive deal", "error", err)
			continue
		}
		telemetry.DealsReceived.Inc()
		a.log.Info("Received deal", "from", deal.Peer.Addr, "file_len", deal.FileLen, "price_per_mb", deal.PricePerMB)

		a.mu.Lock()
		a.incoming[deal.Peer.Addr] = deal
		a.mu.Unlock()
	}
}

// dealMatch reports whether a peer's offer can hold the deal: enough spare
// capacity for the file, asking price at or below what the deal pays.
func dealMatch(p peer.Info, d control.Deal) bool {
	spareBytes := uint64(math.MaxUint64)
	if p.SpareMBs <= math.MaxUint64/control.BytesPerMiB {
		spareBytes = p.SpareMBs * control.BytesPerMiB
	}
	return spareBytes >= d.FileLen && p.Price <= d.PricePerMB
}

// SendMatchedDeals proposes the deal to every currently known peer whose
// offer matches, each dispatch independent of the others. Matching is a pure
// filter over a snapshot: no capacity is reserved, so a popular peer can be
// offered more than it could honor. Returns the number of successful sends.
func (a *Agent) SendMatchedDeals(ctx context.Context, deal control.Deal) int {
	peers := a.discovery.Peers()

	var sent atomic.Int64
	var wg sync.WaitGroup
	for _, p := range peers {
		if !dealMatch(p, deal) {
			continue
		}
		wg.Add(1)
		go func(p peer.Info) {
			defer wg.Done()
			a.log.Info("Sending matched deal", "to", p.ID.String(), "addr", p.Addr.String())
			if err := a.sender.Send(ctx, p.Addr, deal); err != nil {
				telemetry.DealSendFailures.Inc()
				a.log.Warn("Failed to send deal", "to", p.ID.String(), "addr", p.Addr.String(), "error", err)
				return
			}
			telemetry.DealsSent.Inc()
			sent.Add(1)
		}(p)
	}
	wg.Wait()
	return int(sent.Load())
}

// CertDER exposes the receiving endpoint's certificate so a deployment can
// distribute it to peers for pinning.
func (a *Agent) CertDER() []byte {
	return a.receiver.CertDER()
}

// PeerInfo returns the local node's immutable offer.
func (a *Agent) PeerInfo() peer.Info {
	return a.discovery.PeerInfo()
}

// Peers returns a snapshot of the live peer table.
func (a *Agent) Peers() []peer.Info {
	return a.discovery.Peers()
}

// IncomingDeals returns a copy of the most recent Deal received from each
// advertised address.
func (a *Agent) IncomingDeals() map[string]control.Deal {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]control.Deal, len(a.incoming))
	for k, v := range a.incoming {
		out[k] = v
	}
	return out
}

// Close releases both control-plane endpoints and the discovery socket.
func (a *Agent) Close() error {
	err := a.receiver.Close()
	if serr := a.sender.Close(); err == nil {
		err = serr
	}
	if derr := a.discovery.Close(); err == nil {
		err = derr
	}
	return err
}
