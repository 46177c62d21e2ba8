package cosmos

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHexToBech32RoundTrip(t *testing.T) {
	const hexAddr = "0x6F1805D56bF05b7be10857F376A5b1c160C8f72C"
	addr, err := HexToBech32("crc", hexAddr)
	require.NoError(t, err)
	require.Contains(t, addr, "crc1")

	back, err := Bech32ToHex(addr)
	require.NoError(t, err)
	require.True(t, strings.EqualFold(hexAddr, back), back)

	_, err = HexToBech32("crc", "0x1234")
	require.Error(t, err)
}

func TestNormalizeAddress(t *testing.T) {
	addr, err := HexToBech32("crc", "0x6F1805D56bF05b7be10857F376A5b1c160C8f72C")
	require.NoError(t, err)

	got, err := NormalizeAddress("crc", "0x6F1805D56bF05b7be10857F376A5b1c160C8f72C")
	require.NoError(t, err)
	require.Equal(t, addr, got)

	got, err = NormalizeAddress("crc", addr)
	require.NoError(t, err)
	require.Equal(t, addr, got)

	_, err = NormalizeAddress("cro", addr)
	require.Error(t, err)
}
