package control

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/quic-go/quic-go"
)

// Sender is the outbound half of the control plane: one UDP socket on an
// ephemeral port, reused for every dial. Its configuration is immutable
// after construction, so it is safe to share across concurrent sends.
type Sender struct {
	transport *quic.Transport
	tlsConf   *tls.Config
}

// NewSender creates the reusable sending endpoint with the given certificate
// verification policy.
func NewSender(trust TrustPolicy) (*Sender, error) {
	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("%w: bind sender socket: %v", ErrConfig, err)
	}
	return &Sender{
		transport: &quic.Transport{Conn: udpConn},
		tlsConf:   trust.clientTLS(),
	}, nil
}

// Send delivers one Deal to the peer listening at addr: connect, open a
// unidirectional stream, write the serialized Deal, half-close. No response
// is read back; the exchange is fire-and-forget, and callers needing
// confirmation must build acceptance on top.
func (s *Sender) Send(ctx context.Context, addr netip.AddrPort, deal Deal) error {
	payload, err := EncodeDeal(deal)
	if err != nil {
		return err
	}

	conn, err := s.transport.Dial(ctx, net.UDPAddrFromAddrPort(addr), s.tlsConf, &quic.Config{})
	if err != nil {
		var terr *quic.TransportError
		if errors.As(err, &terr) && terr.ErrorCode.IsCryptoError() {
			return fmt.Errorf("%w: %s: %v", ErrTrust, addr, err)
		}
		return fmt.Errorf("%w: %s: %v", ErrConnect, addr, err)
	}
	defer conn.CloseWithError(0, "")

	stream, err := conn.OpenUniStreamSync(ctx)
	if err != nil {
		return fmt.Errorf("%w: open stream to %s: %v", ErrStream, addr, err)
	}
	if _, err := stream.Write(payload); err != nil {
		return fmt.Errorf("%w: writing deal to %s: %v", ErrIO, addr, err)
	}
	if err := stream.Close(); err != nil {
		return fmt.Errorf("%w: finishing stream to %s: %v", ErrIO, addr, err)
	}

	// The receiver closes the connection once it has read the stream.
	// Waiting for that keeps the deferred close from racing delivery.
	select {
	case <-conn.Context().Done():
	case <-ctx.Done():
	}
	return nil
}

// Close releases the sending endpoint's socket.
func (s *Sender) Close() error {
	err := s.transport.Close()
	if cerr := s.transport.Conn.Close(); err == nil {
		err = cerr
	}
	return err
}
