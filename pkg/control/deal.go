package control

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/udit2303/spareshare/pkg/peer"
)

// BytesPerMiB is the number of bytes in one mebibyte.
const BytesPerMiB = 1 << 20

// MaxDealWire caps the serialized size of a Deal. A larger payload is a
// protocol violation and fails cleanly on both ends.
const MaxDealWire = 1024

// Deal is a proposed transfer contract. It carries the proposer's wire info
// so the receiver can identify the offering node even though the transport
// only reveals an ephemeral source port. Immutable once constructed.
type Deal struct {
	Peer       peer.Wire `cbor:"peer"`
	FileLen    uint64    `cbor:"file_len"`
	PricePerMB float32   `cbor:"price_per_mb"`
}

// EncodeDeal serializes a Deal, enforcing the wire size cap.
func EncodeDeal(d Deal) ([]byte, error) {
	b, err := cbor.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if len(b) > MaxDealWire {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrOversize, len(b), MaxDealWire)
	}
	return b, nil
}

// DecodeDeal parses a serialized Deal.
func DecodeDeal(b []byte) (Deal, error) {
	if len(b) > MaxDealWire {
		return Deal{}, fmt.Errorf("%w: %d bytes (max %d)", ErrOversize, len(b), MaxDealWire)
	}
	var d Deal
	if err := cbor.Unmarshal(b, &d); err != nil {
		return Deal{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return d, nil
}
