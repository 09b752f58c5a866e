package control

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/netip"

	"github.com/quic-go/quic-go"

	"github.com/udit2303/spareshare/pkg/peer"
)

// Receiver is the inbound half of the control plane. It listens on the
// node's advertised address and authenticates itself with a self-signed
// certificate issued from the node identity.
type Receiver struct {
	listener *quic.Listener
	certDER  []byte
}

// NewReceiver binds the receiving endpoint to the node's advertised control
// address.
func NewReceiver(id *peer.Identity, addr netip.AddrPort) (*Receiver, error) {
	cert, der, err := selfSignedCert(id, addr.Addr())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	tlsConf := &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{alpn},
	}
	listener, err := quic.ListenAddr(addr.String(), tlsConf, &quic.Config{})
	if err != nil {
		return nil, fmt.Errorf("%w: listen %s: %v", ErrConfig, addr, err)
	}
	return &Receiver{listener: listener, certDER: der}, nil
}

// CertDER returns the DER form of the receiver's certificate, so deployments
// can distribute it for pinning.
func (r *Receiver) CertDER() []byte {
	return append([]byte(nil), r.certDER...)
}

// Addr returns the bound listening address.
func (r *Receiver) Addr() string {
	return r.listener.Addr().String()
}

// Receive accepts one inbound connection, reads a single Deal from its first
// unidirectional stream and returns it. The sender's transport address is
// deliberately not part of the result: a Deal identifies its proposer through
// the embedded peer info, never through the ephemeral source port.
func (r *Receiver) Receive(ctx context.Context) (Deal, error) {
	conn, err := r.listener.Accept(ctx)
	if err != nil {
		return Deal{}, fmt.Errorf("%w: accept: %v", ErrConnect, err)
	}
	defer conn.CloseWithError(0, "")

	stream, err := conn.AcceptUniStream(ctx)
	if err != nil {
		return Deal{}, fmt.Errorf("%w: accept stream: %v", ErrStream, err)
	}

	// Read one byte past the cap so an oversize payload is detected
	// instead of silently truncated.
	data, err := io.ReadAll(io.LimitReader(stream, MaxDealWire+1))
	if err != nil {
		return Deal{}, fmt.Errorf("%w: reading deal: %v", ErrIO, err)
	}
	return DecodeDeal(data)
}

// Close shuts the listening endpoint down.
func (r *Receiver) Close() error {
	return r.listener.Close()
}
