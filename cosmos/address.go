package cosmos

import (
	"fmt"

	"github.com/cosmos/cosmos-sdk/types/bech32"
	"github.com/ethereum/go-ethereum/common"
)

// HexToBech32 converts a 0x address, e.g. a contract acting as relayer caller,
// into its bech32 form.
func HexToBech32(prefix, hexAddr string) (string, error) {
	if !common.IsHexAddress(hexAddr) {
		return "", fmt.Errorf("invalid hex address %q", hexAddr)
	}
	return bech32.ConvertAndEncode(prefix, common.HexToAddress(hexAddr).Bytes())
}

// Bech32ToHex is the inverse of HexToBech32.
func Bech32ToHex(addr string) (string, error) {
	_, bz, err := bech32.DecodeAndConvert(addr)
	if err != nil {
		return "", fmt.Errorf("decoding %s: %w", addr, err)
	}
	if len(bz) != common.AddressLength {
		return "", fmt.Errorf("%s is %d bytes long, not an account address", addr, len(bz))
	}
	return common.BytesToAddress(bz).Hex(), nil
}

// NormalizeAddress accepts either form and returns the bech32 one.
func NormalizeAddress(prefix, addr string) (string, error) {
	if common.IsHexAddress(addr) {
		return HexToBech32(prefix, addr)
	}
	hrp, _, err := bech32.DecodeAndConvert(addr)
	if err != nil {
		return "", fmt.Errorf("decoding %s: %w", addr, err)
	}
	if hrp != prefix {
		return "", fmt.Errorf("address %s has prefix %s, expected %s", addr, hrp, prefix)
	}
	return addr, nil
}
