package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/udit2303/spareshare/internal/telemetry"
	"github.com/udit2303/spareshare/pkg/agent"
	"github.com/udit2303/spareshare/pkg/control"
	"github.com/udit2303/spareshare/pkg/discovery"
	"github.com/udit2303/spareshare/pkg/peer"
	"github.com/udit2303/spareshare/pkg/util"
)

var (
	log = util.DefaultLogger()
)

func main() {
	// Set up context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle OS signals for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("Received signal, shutting down...", "signal", sig)
		cancel()
	}()

	// Define command-line flags
	addr := flag.String("addr", "127.0.0.1:7100", "Advertised control-plane address (ip:port)")
	capacity := flag.Uint64("capacity", 0, "Spare capacity to advertise, in MiB")
	price := flag.Float64("price", 0, "Asking price per MiB")
	nodeName := flag.String("name", "node1", "Name of this node (mDNS instance)")
	loopBind := flag.String("loopback-bind", "", "Bind discovery to this unicast address instead of multicast")
	loopDest := flag.String("loopback-dest", "", "Unicast announcement destination (with -loopback-bind)")
	mdns := flag.Bool("mdns", false, "Also advertise the node over mDNS")
	metricsAddr := flag.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	pinPath := flag.String("pin", "", "Path to a peer certificate (DER) to pin for outbound deals")
	certOut := flag.String("cert-out", "", "Write this node's control certificate (DER) to a file")
	proposeLen := flag.Uint64("propose-len", 0, "Propose a deal for a file of this many bytes")
	proposePrice := flag.Float64("propose-price", 0, "Price per MiB offered with -propose-len")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// Configure logger based on debug flag
	if *debug {
		log = util.NewLogger(os.Stdout, util.DebugLevel)
	}
	log = log.With("node", *nodeName)

	controlAddr, err := netip.ParseAddrPort(*addr)
	if err != nil {
		log.Error("Invalid -addr, expected ip:port", "value", *addr, "error", err)
		os.Exit(1)
	}

	identity, err := peer.GenerateIdentity()
	if err != nil {
		log.Error("Failed to generate node identity", "error", err)
		os.Exit(1)
	}
	self := peer.Info{
		ID:       identity.ID,
		Addr:     controlAddr,
		SpareMBs: *capacity,
		Price:    float32(*price),
	}

	trust := control.SystemTrust()
	if *pinPath != "" {
		der, err := os.ReadFile(*pinPath)
		if err != nil {
			log.Error("Failed to read pinned certificate", "path", *pinPath, "error", err)
			os.Exit(1)
		}
		trust = control.PinnedTrust(der)
	}

	var a *agent.Agent
	if *loopBind != "" {
		a, err = agent.NewLoopback(identity, self, *loopBind, *loopDest, trust, log)
	} else {
		a, err = agent.New(identity, self, trust, log)
	}
	if err != nil {
		log.Error("Failed to start agent", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if *certOut != "" {
		if err := os.WriteFile(*certOut, a.CertDER(), 0o644); err != nil {
			log.Error("Failed to write certificate", "path", *certOut, "error", err)
			os.Exit(1)
		}
		log.Info("Wrote control certificate", "path", *certOut)
	}

	log.Info("Starting spareshare node",
		"peer", identity.ID.String(),
		"addr", controlAddr.String(),
		"capacity_mbs", *capacity,
		"price", *price)

	// Show local and public IPs to the user
	if localIPs, err := util.GetLocalIPs(); err == nil {
		log.Info("Local IPv4 addresses", "ips", localIPs)
	} else {
		log.Warn("Unable to get local IPs", "error", err)
	}
	if pubIP, pubPort, err := util.GetPublicIP("", 3*time.Second); err == nil {
		log.Info("Public internet address (via STUN)", "ip", pubIP, "port", pubPort)
	} else {
		log.Warn("Unable to determine public IP (STUN)", "error", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.Run(ctx); err != nil {
			errCh <- fmt.Errorf("agent error: %w", err)
		}
	}()

	if *mdns {
		go func() {
			if err := discovery.AnnounceMDNS(ctx, *nodeName, self, log); err != nil {
				log.Warn("mDNS announcement failed", "error", err)
			}
		}()
	}

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", telemetry.MetricsHandler())
			log.Info("Serving metrics", "addr", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Warn("Metrics server stopped", "error", err)
			}
		}()
	}

	// Propose a deal once at least one peer shows up
	if *proposeLen > 0 {
		go func() {
			err := util.RetryWithBackoff(ctx, 5, discovery.AnnounceInterval, func() error {
				if len(a.Peers()) == 0 {
					return fmt.Errorf("no peers discovered yet")
				}
				return nil
			})
			if err != nil {
				log.Error("No peers to propose to", "error", err)
				return
			}
			deal := control.Deal{
				Peer:       self.Wire(),
				FileLen:    *proposeLen,
				PricePerMB: float32(*proposePrice),
			}
			sent := a.SendMatchedDeals(ctx, deal)
			log.Info("Proposed deal to matched peers", "file_len", *proposeLen, "price_per_mb", *proposePrice, "sent", sent)
		}()
	}

	// Wait for context cancellation (from signal) or a fatal agent error
	select {
	case err := <-errCh:
		log.Error("Agent stopped", "error", err)
		os.Exit(1)
	case <-ctx.Done():
	}
	log.Info("Shutting down...")
}
