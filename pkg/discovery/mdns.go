package discovery

import (
	"context"
	"fmt"

	"github.com/grandcat/zeroconf"

	"github.com/udit2303/spareshare/pkg/peer"
	"github.com/udit2303/spareshare/pkg/util"
)

// mdnsService is the zeroconf service type spareshare nodes register under.
const mdnsService = "_spareshare._udp"

// AnnounceMDNS additionally registers the node over mDNS so generic zeroconf
// browsers on the LAN can see it. The peer table itself is fed only by the
// magic-marker protocol; this is a convenience advertisement. Blocks until
// ctx is done.
func AnnounceMDNS(ctx context.Context, instance string, self peer.Info, log *util.Logger) error {
	txt := []string{
		"id=" + self.ID.String(),
		fmt.Sprintf("spare_mbs=%d", self.SpareMBs),
		fmt.Sprintf("price=%g", self.Price),
	}
	server, err := zeroconf.Register(instance, mdnsService, "local.", int(self.Addr.Port()), txt, nil)
	if err != nil {
		return fmt.Errorf("failed to announce service: %w", err)
	}
	defer server.Shutdown()

	log.Info("Announcing over mDNS", "instance", instance, "service", mdnsService, "port", self.Addr.Port())
	<-ctx.Done()
	return nil
}
