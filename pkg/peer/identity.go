package peer

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// IDSize is the length of a peer identifier in bytes.
const IDSize = 32

// ID uniquely identifies a peer. It is the BLAKE2b-256 digest of the peer's
// Ed25519 public key, so it is stable for one process and unforgeable without
// the key.
type ID [IDSize]byte

// IDFromBytes rebuilds an ID from its raw wire bytes.
func IDFromBytes(b []byte) (ID, error) {
	var id ID
	if len(b) != IDSize {
		return id, fmt.Errorf("invalid peer ID length: %d (want %d)", len(b), IDSize)
	}
	copy(id[:], b)
	return id, nil
}

// Bytes returns the raw bytes of the ID.
func (id ID) Bytes() []byte {
	return append([]byte(nil), id[:]...)
}

// String returns a short hex form for logging.
func (id ID) String() string {
	return hex.EncodeToString(id[:8])
}

// Identity is a node's key pair and the peer ID derived from it. The private
// key also signs the node's self-signed control-plane certificate.
type Identity struct {
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey
	ID         ID
}

// GenerateIdentity creates a fresh Ed25519 identity for this process.
func GenerateIdentity() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate identity key: %w", err)
	}
	return &Identity{
		PrivateKey: priv,
		PublicKey:  pub,
		ID:         IDFromPublicKey(pub),
	}, nil
}

// IDFromPublicKey derives the peer ID for a public key.
func IDFromPublicKey(pub ed25519.PublicKey) ID {
	return ID(blake2b.Sum256(pub))
}
