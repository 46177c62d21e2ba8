package ibc

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"testing"

	transfertypes "github.com/cosmos/ibc-go/v7/modules/apps/transfer/types"
	"github.com/stretchr/testify/require"
)

func TestDeriveDenom(t *testing.T) {
	denom, err := DeriveDenom("channel-0", "basetcro")
	require.NoError(t, err)
	require.Equal(t, "ibc/6B5A664BF0AF4F71B2F0BAA33141E2F1321242FBD5D19762F541EC971ACB0865", denom)

	again, err := DeriveDenom("channel-0", "basetcro")
	require.NoError(t, err)
	require.Equal(t, denom, again)

	sum := sha256.Sum256([]byte("transfer/channel-1/basecro"))
	other, err := DeriveDenom("channel-1", "basecro")
	require.NoError(t, err)
	require.Equal(t, "ibc/"+strings.ToUpper(fmt.Sprintf("%x", sum)), other)
	require.NotEqual(t, denom, other)

	// same result as the transfer module's own derivation
	expected := transfertypes.ParseDenomTrace(transfertypes.GetPrefixedDenom("transfer", "channel-0", "basetcro")).IBCDenom()
	require.Equal(t, expected, denom)
}

func TestDeriveDenomRejectsDelimiters(t *testing.T) {
	for _, tc := range []struct {
		name    string
		channel string
		denom   string
	}{
		{"slash in denom", "channel-0", "transfer/channel-1/uatom"},
		{"slash in channel", "channel-0/x", "uatom"},
		{"empty denom", "channel-0", ""},
		{"empty channel", "", "uatom"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DeriveDenom(tc.channel, tc.denom)
			require.Error(t, err)
		})
	}
}

func TestDeriveTrace(t *testing.T) {
	hash, err := DeriveTrace("transfer/channel-0/transfer/channel-7", "uatom")
	require.NoError(t, err)
	require.Equal(t, "D315ADD5DCD667EB61C44FDD303D8B278C7A6E4F00D2BA0B004754CC4D2084F3", hash)

	single, err := DeriveTrace("transfer/channel-0", "basetcro")
	require.NoError(t, err)
	require.Equal(t, "ibc/"+single, MustDeriveDenom("channel-0", "basetcro"))

	_, err = DeriveTrace("transfer", "uatom")
	require.Error(t, err)
}

func TestDenomTraceReceive(t *testing.T) {
	native := NewDenomTrace("basetcro")
	require.True(t, native.IsNative())
	require.Equal(t, "basetcro", native.IBCDenom())

	// a -> b over channel-0 (b sees it as channel-1 on its side)
	onB := native.Receive("transfer", "channel-0", "transfer", "channel-1")
	require.Equal(t, "transfer/channel-1/basetcro", onB.FullPath())
	require.Equal(t, MustDeriveDenom("channel-1", "basetcro"), onB.IBCDenom())

	// b -> a back through the same channel unwinds the hop
	back := onB.Receive("transfer", "channel-1", "transfer", "channel-0")
	require.True(t, back.Equal(native))
	require.Equal(t, "basetcro", back.IBCDenom())

	// b -> c over another channel adds a hop
	onC := onB.Receive("transfer", "channel-5", "transfer", "channel-9")
	require.Equal(t, "transfer/channel-9/transfer/channel-1/basetcro", onC.FullPath())
	require.Len(t, onB.Path, 1)
}

func TestParseDenomTrace(t *testing.T) {
	trace, err := ParseDenomTrace("transfer/channel-0/transfer/channel-7/uatom")
	require.NoError(t, err)
	require.Equal(t, []Hop{{"transfer", "channel-0"}, {"transfer", "channel-7"}}, trace.Path)
	require.Equal(t, "uatom", trace.BaseDenom)

	native, err := ParseDenomTrace("uatom")
	require.NoError(t, err)
	require.True(t, native.IsNative())

	hash, ok := HashFromDenom(trace.IBCDenom())
	require.True(t, ok)
	require.Equal(t, trace.Hash(), hash)

	_, ok = HashFromDenom("uatom")
	require.False(t, ok)
}
