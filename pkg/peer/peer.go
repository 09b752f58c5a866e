package peer

import (
	"fmt"
	"net/netip"

	"github.com/fxamacker/cbor/v2"
)

// Info is the in-memory description of a peer's offer: who it is, where its
// control-plane endpoint listens, and how much spare capacity it sells at
// what price.
type Info struct {
	ID       ID
	Addr     netip.AddrPort
	SpareMBs uint64  // spare capacity in whole MiB
	Price    float32 // asking price, currency per MiB
}

// Wire is the serialization-safe projection of Info. The peer ID travels as
// raw bytes so it can cross the wire and be embedded inside a Deal.
type Wire struct {
	IDBytes  []byte  `cbor:"id"`
	Addr     string  `cbor:"addr"`
	SpareMBs uint64  `cbor:"spare_mbs"`
	Price    float32 `cbor:"price"`
}

// Wire converts an Info into its wire form.
func (i Info) Wire() Wire {
	return Wire{
		IDBytes:  i.ID.Bytes(),
		Addr:     i.Addr.String(),
		SpareMBs: i.SpareMBs,
		Price:    i.Price,
	}
}

// Info converts a wire record back into the in-memory form. It is the inverse
// of Info.Wire and fails on a malformed ID or address.
func (w Wire) Info() (Info, error) {
	id, err := IDFromBytes(w.IDBytes)
	if err != nil {
		return Info{}, err
	}
	addr, err := netip.ParseAddrPort(w.Addr)
	if err != nil {
		return Info{}, fmt.Errorf("invalid peer address %q: %w", w.Addr, err)
	}
	return Info{ID: id, Addr: addr, SpareMBs: w.SpareMBs, Price: w.Price}, nil
}

// EncodeWire serializes a wire record for an announcement datagram.
func EncodeWire(w Wire) ([]byte, error) {
	return cbor.Marshal(w)
}

// DecodeWire parses the payload of an announcement datagram.
func DecodeWire(data []byte) (Wire, error) {
	var w Wire
	if err := cbor.Unmarshal(data, &w); err != nil {
		return Wire{}, fmt.Errorf("could not parse peer announcement: %w", err)
	}
	return w, nil
}
