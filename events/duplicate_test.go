package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/dymensionxyz/ibc-convergence/blockdb"
	"github.com/dymensionxyz/ibc-convergence/ibc"
)

func TestFindDuplicate(t *testing.T) {
	healthy := attrs(
		"receiver", "cro1a", "amount", "1000basetcro",
		"receiver", "cro1b", "amount", "1000basetcro",
		"receiver", "cro1a", "amount", "20ibcfee",
	)
	_, found := FindDuplicate(healthy)
	require.False(t, found)

	injected := append(healthy, attrs("receiver", "cro1b", "amount", "1000basetcro")...)
	dup, found := FindDuplicate(injected)
	require.True(t, found)
	require.Equal(t, Pair{Key: "receiver", Value: "cro1b", Amount: "1000basetcro"}, dup)
	require.Equal(t, "cro1b:1000basetcro", dup.String())

	_, found = FindDuplicate(nil)
	require.False(t, found)

	// events without amounts never report
	_, found = FindDuplicate(attrs("packet_sequence", "1", "packet_sequence", "1"))
	require.False(t, found)
}

func TestDetectorAnomalies(t *testing.T) {
	d := NewDetector()

	for _, tc := range []struct {
		name  string
		attrs []blockdb.EventAttribute
		kinds []AnomalyKind
	}{
		{
			name:  "well formed",
			attrs: attrs("spender", "a", "amount", "1", "spender", "b", "amount", "2"),
		},
		{
			name:  "key without amount",
			attrs: attrs("spender", "a", "spender", "b", "amount", "2"),
			kinds: []AnomalyKind{DanglingKey},
		},
		{
			name:  "trailing key",
			attrs: attrs("spender", "a", "amount", "1", "spender", "b"),
			kinds: []AnomalyKind{DanglingKey},
		},
		{
			name:  "two amounts for one key",
			attrs: attrs("spender", "a", "amount", "1", "amount", "2"),
			kinds: []AnomalyKind{OrphanAmount},
		},
		{
			name:  "amount first",
			attrs: attrs("amount", "1", "spender", "a"),
			kinds: []AnomalyKind{GroupIsCompanion},
		},
		{
			name:  "keys without any amount",
			attrs: attrs("port_id", "transfer", "port_id", "icahost"),
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			res := d.Scan(tc.attrs)
			require.Empty(t, res.Duplicates)
			var kinds []AnomalyKind
			for _, a := range res.Anomalies {
				kinds = append(kinds, a.Kind)
			}
			require.Equal(t, tc.kinds, kinds)
		})
	}
}

func TestDetectorOrphanAmountStillPairs(t *testing.T) {
	res := NewDetector().Scan(attrs("receiver", "a", "amount", "1", "amount", "1"))
	require.Len(t, res.Anomalies, 1)
	require.Equal(t, []Pair{{Key: "receiver", Value: "a", Amount: "1"}}, res.Duplicates)
}

func TestDetectorExplicitGroupKey(t *testing.T) {
	d := Detector{GroupKey: "receiver", Strict: true}
	res := d.Scan(attrs("amount", "5", "receiver", "a", "amount", "1", "receiver", "a", "amount", "1"))
	require.Equal(t, []Pair{{Key: "receiver", Value: "a", Amount: "1"}}, res.Duplicates)
	require.Len(t, res.Anomalies, 1)
	require.Equal(t, OrphanAmount, res.Anomalies[0].Kind)
	require.Equal(t, 0, res.Anomalies[0].Index)
}

func TestAssertNoDuplicates(t *testing.T) {
	evts := []blockdb.Event{
		{Type: "coin_received", Attributes: attrs("receiver", "a", "amount", "1", "receiver", "a", "amount", "1")},
		{Type: "coin_spent", Attributes: attrs("spender", "a", "spender", "b", "amount", "1")},
		{Type: "message", Attributes: attrs("action", "x")},
	}

	err := AssertNoDuplicates(evts, NewDetector())
	require.Error(t, err)
	require.Len(t, multierr.Errors(err), 2)
	var violation *ibc.InvariantViolation
	require.True(t, errors.As(err, &violation))
	require.Equal(t, "coin_received", violation.Subject)

	lenient := NewDetector()
	lenient.Strict = false
	err = AssertNoDuplicates(evts, lenient)
	require.Len(t, multierr.Errors(err), 1)

	require.NoError(t, AssertNoDuplicates(evts[2:], NewDetector()))
}

func TestAssertNoCrossEventDuplicate(t *testing.T) {
	recv := blockdb.Event{Type: "recv_packet", Attributes: attrs("packet_sequence", "1")}
	msg := blockdb.Event{Type: "message", Attributes: attrs("module", "ibc_channel")}

	require.NoError(t, AssertNoCrossEventDuplicate([]blockdb.Event{msg, recv, msg}))

	err := AssertNoCrossEventDuplicate([]blockdb.Event{recv, msg, recv})
	var violation *ibc.InvariantViolation
	require.ErrorAs(t, err, &violation)
	require.Equal(t, "recv_packet", violation.Subject)

	// same type, different attribute order is not a duplicate
	a := blockdb.Event{Type: "transfer", Attributes: attrs("recipient", "x", "amount", "1")}
	b := blockdb.Event{Type: "transfer", Attributes: attrs("amount", "1", "recipient", "x")}
	require.NoError(t, AssertNoCrossEventDuplicate([]blockdb.Event{a, b}))
}
