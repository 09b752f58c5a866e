package control

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"testing"
)

// alpn identifies the spareshare control protocol during the TLS handshake.
const alpn = "spareshare/1"

// serverName is the name receiver certificates are issued for and senders
// dial with. Peers are addressed by IP, so a fixed name keeps SNI stable.
const serverName = "spareshare"

// TrustPolicy decides how a sending endpoint verifies the certificate a peer
// presents. The set of policies is closed: each variant is chosen statically
// at endpoint construction, never through a runtime flag.
type TrustPolicy interface {
	clientTLS() *tls.Config
}

// SystemTrust verifies peer certificates against the system root store.
// Today every receiver presents a self-signed certificate, so this policy
// rejects them all until certificates are distributed through a real trust
// store. That gap is documented, not worked around.
func SystemTrust() TrustPolicy {
	return systemTrust{}
}

type systemTrust struct{}

func (systemTrust) clientTLS() *tls.Config {
	return &tls.Config{
		NextProtos: []string{alpn},
		ServerName: serverName,
	}
}

// PinnedTrust accepts exactly one certificate, byte for byte. The pin is the
// DER form a receiver exposes via Receiver.CertDER, distributed out of band.
func PinnedTrust(certDER []byte) TrustPolicy {
	return pinnedTrust{certDER: append([]byte(nil), certDER...)}
}

type pinnedTrust struct {
	certDER []byte
}

func (p pinnedTrust) clientTLS() *tls.Config {
	return &tls.Config{
		NextProtos: []string{alpn},
		ServerName: serverName,
		// Verification is replaced, not skipped: the presented leaf must
		// equal the pinned certificate.
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return fmt.Errorf("peer presented no certificate")
			}
			if !bytes.Equal(rawCerts[0], p.certDER) {
				return fmt.Errorf("peer certificate does not match pinned certificate")
			}
			return nil
		},
	}
}

// InsecureTrust accepts any certificate. It exists for loopback tests where
// peers present ad-hoc self-signed certificates; the constructor panics
// outside `go test` so no production configuration can reach it.
func InsecureTrust() TrustPolicy {
	if !testing.Testing() {
		panic("control: InsecureTrust is only available in tests")
	}
	return insecureTrust{}
}

type insecureTrust struct{}

func (insecureTrust) clientTLS() *tls.Config {
	return &tls.Config{
		NextProtos:         []string{alpn},
		ServerName:         serverName,
		InsecureSkipVerify: true,
	}
}
