package peer

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func testInfo(t *testing.T, spare uint64, price float32) Info {
	t.Helper()
	id, err := GenerateIdentity()
	require.NoError(t, err)
	return Info{
		ID:       id.ID,
		Addr:     netip.MustParseAddrPort("192.168.1.20:7100"),
		SpareMBs: spare,
		Price:    price,
	}
}

func TestInfoWireRoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		spare uint64
		price float32
	}{
		{"typical", 100, 1.5},
		{"zero capacity", 0, 0},
		{"large capacity", 1 << 40, 0.001},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			info := testInfo(t, tc.spare, tc.price)
			got, err := info.Wire().Info()
			require.NoError(t, err)
			require.Equal(t, info, got)
		})
	}
}

func TestWireEncodeDecodeRoundTrip(t *testing.T) {
	info := testInfo(t, 42, 2.25)
	b, err := EncodeWire(info.Wire())
	require.NoError(t, err)

	w, err := DecodeWire(b)
	require.NoError(t, err)

	got, err := w.Info()
	require.NoError(t, err)
	require.Equal(t, info, got)
}

func TestDecodeWireRejectsGarbage(t *testing.T) {
	_, err := DecodeWire([]byte{0xff, 0x00, 0x13, 0x37})
	require.Error(t, err)
}

func TestWireInfoRejectsBadFields(t *testing.T) {
	good := testInfo(t, 1, 1).Wire()

	badID := good
	badID.IDBytes = []byte{1, 2, 3}
	_, err := badID.Info()
	require.Error(t, err)

	badAddr := good
	badAddr.Addr = "not-an-address"
	_, err = badAddr.Info()
	require.Error(t, err)
}

func TestIDFromBytes(t *testing.T) {
	id, err := GenerateIdentity()
	require.NoError(t, err)

	got, err := IDFromBytes(id.ID.Bytes())
	require.NoError(t, err)
	require.Equal(t, id.ID, got)

	_, err = IDFromBytes(make([]byte, IDSize-1))
	require.Error(t, err)
}

func TestIDDerivationIsStable(t *testing.T) {
	id, err := GenerateIdentity()
	require.NoError(t, err)
	require.Equal(t, id.ID, IDFromPublicKey(id.PublicKey))

	other, err := GenerateIdentity()
	require.NoError(t, err)
	require.NotEqual(t, id.ID, other.ID)
}
