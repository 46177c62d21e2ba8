package ibc

import (
	"fmt"
	"strings"

	transfertypes "github.com/cosmos/ibc-go/v7/modules/apps/transfer/types"
	host "github.com/cosmos/ibc-go/v7/modules/core/24-host"
)

// DenomPrefix is the prefix of every denomination derived from a trace.
const DenomPrefix = "ibc/"

// Hop is one port/channel prefix a token picked up while being forwarded.
type Hop struct {
	PortID    string
	ChannelID string
}

func (h Hop) String() string {
	return h.PortID + "/" + h.ChannelID
}

// Validate checks both identifiers against the ics24 identifier rules, which
// also rules out the path delimiter.
func (h Hop) Validate() error {
	if err := host.PortIdentifierValidator(h.PortID); err != nil {
		return fmt.Errorf("invalid hop port %q: %w", h.PortID, err)
	}
	if err := host.ChannelIdentifierValidator(h.ChannelID); err != nil {
		return fmt.Errorf("invalid hop channel %q: %w", h.ChannelID, err)
	}
	return nil
}

// DenomTrace is the hop history of a token plus its base denomination.
// Path[0] is the most recent hop, i.e. the outermost prefix.
type DenomTrace struct {
	Path      []Hop
	BaseDenom string
}

// NewDenomTrace returns the trace of a native token that crossed no channel yet.
func NewDenomTrace(baseDenom string) DenomTrace {
	return DenomTrace{BaseDenom: baseDenom}
}

// PathString joins the hops, e.g. "transfer/channel-0".
func (t DenomTrace) PathString() string {
	parts := make([]string, len(t.Path))
	for i, hop := range t.Path {
		parts[i] = hop.String()
	}
	return strings.Join(parts, "/")
}

// FullPath is the string that gets hashed, e.g. "transfer/channel-0/basetcro".
func (t DenomTrace) FullPath() string {
	if len(t.Path) == 0 {
		return t.BaseDenom
	}
	return t.PathString() + "/" + t.BaseDenom
}

// IsNative reports whether the token has no hops, i.e. lives on its origin ledger.
func (t DenomTrace) IsNative() bool {
	return len(t.Path) == 0
}

func (t DenomTrace) ics20() transfertypes.DenomTrace {
	return transfertypes.DenomTrace{Path: t.PathString(), BaseDenom: t.BaseDenom}
}

// Hash returns the upper case hex sha256 of FullPath.
func (t DenomTrace) Hash() string {
	return t.ics20().Hash().String()
}

// IBCDenom returns the on-ledger denomination of the token: the base denom for
// native tokens, "ibc/<HASH>" otherwise.
func (t DenomTrace) IBCDenom() string {
	return t.ics20().IBCDenom()
}

// Validate checks every hop and the base denom.
func (t DenomTrace) Validate() error {
	for _, hop := range t.Path {
		if err := hop.Validate(); err != nil {
			return err
		}
	}
	if strings.TrimSpace(t.BaseDenom) == "" {
		return fmt.Errorf("base denom cannot be blank")
	}
	if strings.HasPrefix(t.BaseDenom, "/") || strings.HasSuffix(t.BaseDenom, "/") || strings.Contains(t.BaseDenom, "//") {
		return fmt.Errorf("invalid base denom %q", t.BaseDenom)
	}
	return nil
}

// Equal compares two traces hop by hop.
func (t DenomTrace) Equal(o DenomTrace) bool {
	if t.BaseDenom != o.BaseDenom || len(t.Path) != len(o.Path) {
		return false
	}
	for i := range t.Path {
		if t.Path[i] != o.Path[i] {
			return false
		}
	}
	return true
}

func (t DenomTrace) String() string {
	return t.FullPath()
}

// Receive returns the trace the token has on the receiving ledger after being
// sent through srcPort/srcChannel, whose counterparty is dstPort/dstChannel.
// A token returning through the channel it last arrived on loses that hop,
// any other token gains the destination hop.
func (t DenomTrace) Receive(srcPort, srcChannel, dstPort, dstChannel string) DenomTrace {
	if len(t.Path) > 0 && t.Path[0] == (Hop{PortID: srcPort, ChannelID: srcChannel}) {
		return DenomTrace{Path: append([]Hop(nil), t.Path[1:]...), BaseDenom: t.BaseDenom}
	}
	path := make([]Hop, 0, len(t.Path)+1)
	path = append(path, Hop{PortID: dstPort, ChannelID: dstChannel})
	path = append(path, t.Path...)
	return DenomTrace{Path: path, BaseDenom: t.BaseDenom}
}

// DeriveDenom returns the denomination a token of base denom gets after one hop
// over channel on the transfer port: "ibc/" + upper(hex(sha256("transfer/<channel>/<denom>"))).
func DeriveDenom(channel, denom string) (string, error) {
	if strings.Contains(denom, "/") {
		return "", fmt.Errorf("denom %q cannot contain a path delimiter", denom)
	}
	trace := DenomTrace{
		Path:      []Hop{{PortID: TransferPortID, ChannelID: channel}},
		BaseDenom: denom,
	}
	if err := trace.Validate(); err != nil {
		return "", err
	}
	return trace.IBCDenom(), nil
}

// MustDeriveDenom is DeriveDenom for inputs known to be valid.
func MustDeriveDenom(channel, denom string) string {
	d, err := DeriveDenom(channel, denom)
	if err != nil {
		panic(err)
	}
	return d
}

// DeriveTrace returns the hash of a multi hop token, where path is the
// concatenation of every "port/channel" prefix picked up while forwarding.
func DeriveTrace(path, baseDenom string) (string, error) {
	hops, err := ParseHops(path)
	if err != nil {
		return "", err
	}
	trace := DenomTrace{Path: hops, BaseDenom: baseDenom}
	if err := trace.Validate(); err != nil {
		return "", err
	}
	return trace.Hash(), nil
}

// ParseHops splits "transfer/channel-0/transfer/channel-7" into hops.
func ParseHops(path string) ([]Hop, error) {
	if path == "" {
		return nil, nil
	}
	parts := strings.Split(path, "/")
	if len(parts)%2 != 0 {
		return nil, fmt.Errorf("path %q is not a sequence of port/channel pairs", path)
	}
	hops := make([]Hop, 0, len(parts)/2)
	for i := 0; i < len(parts); i += 2 {
		hop := Hop{PortID: parts[i], ChannelID: parts[i+1]}
		if err := hop.Validate(); err != nil {
			return nil, err
		}
		hops = append(hops, hop)
	}
	return hops, nil
}

// ParseDenomTrace parses a full denom path such as "transfer/channel-0/basetcro".
// A denom without a path is returned as a native trace.
func ParseDenomTrace(fullPath string) (DenomTrace, error) {
	parsed := transfertypes.ParseDenomTrace(fullPath)
	hops, err := ParseHops(parsed.Path)
	if err != nil {
		return DenomTrace{}, err
	}
	trace := DenomTrace{Path: hops, BaseDenom: parsed.BaseDenom}
	if err := trace.Validate(); err != nil {
		return DenomTrace{}, err
	}
	return trace, nil
}

// HashFromDenom extracts the hash of an "ibc/<HASH>" denomination.
func HashFromDenom(denom string) (string, bool) {
	if !strings.HasPrefix(denom, DenomPrefix) {
		return "", false
	}
	return strings.TrimPrefix(denom, DenomPrefix), true
}
