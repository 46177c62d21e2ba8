package events

import (
	"encoding/json"
	"fmt"

	"go.uber.org/multierr"

	"github.com/dymensionxyz/ibc-convergence/blockdb"
	"github.com/dymensionxyz/ibc-convergence/ibc"
)

// CompanionKey is the attribute paired with the group key of every record.
const CompanionKey = "amount"

// Pair is one (group value, amount) record of an event.
type Pair struct {
	Key    string
	Value  string
	Amount string
}

func (p Pair) String() string {
	return p.Value + ":" + p.Amount
}

// AnomalyKind classifies an attribute stream that does not follow the
// "group key, then amount" record shape.
type AnomalyKind string

const (
	// DanglingKey is a group key followed by another group key (or the end of
	// the event) without an amount, in an event that carries amounts.
	DanglingKey AnomalyKind = "dangling_key"
	// OrphanAmount is an amount with no group key since the previous amount.
	OrphanAmount AnomalyKind = "orphan_amount"
	// GroupIsCompanion is an event whose group key is the companion key itself.
	GroupIsCompanion AnomalyKind = "group_is_companion"
)

// Anomaly is a structurally unexpected attribute at Index.
type Anomaly struct {
	Kind  AnomalyKind
	Index int
	Attr  blockdb.EventAttribute
}

func (a Anomaly) String() string {
	return fmt.Sprintf("%s at attribute %d (%s=%s)", a.Kind, a.Index, a.Attr.Key, a.Attr.Value)
}

// ScanResult is the outcome of scanning one attribute stream.
type ScanResult struct {
	// Duplicates lists every recurrence of an already seen pair, in order.
	Duplicates []Pair
	Anomalies  []Anomaly
}

// Detector finds repeated (group value, amount) pairs in an event's attributes.
// The stream is read as records that each start with the group key and end
// with the companion key. Attribute order is assumed to follow that shape;
// ledgers that interleave attributes differently surface as anomalies.
type Detector struct {
	// GroupKey defaults to the key of the first attribute.
	GroupKey string
	// Companion defaults to CompanionKey.
	Companion string
	// Strict turns anomalies into violations.
	Strict bool
}

// NewDetector returns a strict detector using the first attribute as group key.
func NewDetector() Detector {
	return Detector{Companion: CompanionKey, Strict: true}
}

type scanState int

const (
	awaitingKey scanState = iota
	awaitingAmount
	paired
)

// Scan walks attrs once.
func (d Detector) Scan(attrs []blockdb.EventAttribute) ScanResult {
	var res ScanResult
	if len(attrs) == 0 {
		return res
	}
	groupKey, companion := d.GroupKey, d.Companion
	if groupKey == "" {
		groupKey = attrs[0].Key
	}
	if companion == "" {
		companion = CompanionKey
	}
	if groupKey == companion {
		res.Anomalies = append(res.Anomalies, Anomaly{Kind: GroupIsCompanion, Index: 0, Attr: attrs[0]})
		return res
	}

	usesCompanion := false
	for _, attr := range attrs {
		if attr.Key == companion {
			usesCompanion = true
			break
		}
	}

	var (
		state   = awaitingKey
		current string
		last    int
		seen    = make(map[Pair]struct{})
	)
	for i, attr := range attrs {
		switch attr.Key {
		case groupKey:
			if state == awaitingAmount && usesCompanion {
				res.Anomalies = append(res.Anomalies, Anomaly{Kind: DanglingKey, Index: last, Attr: attrs[last]})
			}
			current, last, state = attr.Value, i, awaitingAmount
		case companion:
			if state != awaitingAmount {
				res.Anomalies = append(res.Anomalies, Anomaly{Kind: OrphanAmount, Index: i, Attr: attr})
				if state == awaitingKey {
					continue
				}
			}
			// an orphan amount still pairs with the last group value
			p := Pair{Key: groupKey, Value: current, Amount: attr.Value}
			if _, ok := seen[p]; ok {
				res.Duplicates = append(res.Duplicates, p)
			}
			seen[p] = struct{}{}
			state = paired
		}
	}
	if state == awaitingAmount && usesCompanion {
		res.Anomalies = append(res.Anomalies, Anomaly{Kind: DanglingKey, Index: last, Attr: attrs[last]})
	}
	return res
}

// Check scans the attributes of one event and returns an *ibc.InvariantViolation
// per duplicate, plus one per anomaly when strict.
func (d Detector) Check(evt blockdb.Event) error {
	res := d.Scan(evt.Attributes)
	var err error
	for _, dup := range res.Duplicates {
		err = multierr.Append(err, &ibc.InvariantViolation{
			Invariant: "unique_event_record",
			Subject:   evt.Type,
			Expected:  "no repeated " + dup.Key + ":" + CompanionKey + " pair",
			Observed:  "duplicate " + dup.String(),
		})
	}
	if d.Strict {
		for _, a := range res.Anomalies {
			err = multierr.Append(err, &ibc.InvariantViolation{
				Invariant: "event_record_shape",
				Subject:   evt.Type,
				Expected:  "group key followed by " + CompanionKey,
				Observed:  a.String(),
			})
		}
	}
	return err
}

// FindDuplicate returns the first recurring (first key value, amount) pair of attrs.
func FindDuplicate(attrs []blockdb.EventAttribute) (Pair, bool) {
	res := Detector{Companion: CompanionKey}.Scan(attrs)
	if len(res.Duplicates) == 0 {
		return Pair{}, false
	}
	return res.Duplicates[0], true
}

// AssertNoDuplicates checks every event of a tx with d.
func AssertNoDuplicates(evts []blockdb.Event, d Detector) error {
	var err error
	for _, evt := range evts {
		err = multierr.Append(err, d.Check(evt))
	}
	return err
}

// AssertNoCrossEventDuplicate fails when two non "message" events of one tx
// result serialize to identical bytes.
func AssertNoCrossEventDuplicate(evts []blockdb.Event) error {
	seen := make(map[string]int, len(evts))
	for i, evt := range evts {
		if evt.Type == "message" {
			continue
		}
		bz, err := json.Marshal(evt)
		if err != nil {
			return fmt.Errorf("failed to encode event %q: %w", evt.Type, err)
		}
		if j, ok := seen[string(bz)]; ok {
			return &ibc.InvariantViolation{
				Invariant: "unique_event",
				Subject:   evt.Type,
				Expected:  "distinct events",
				Observed:  fmt.Sprintf("events %d and %d are identical: %s", j, i, bz),
			}
		}
		seen[string(bz)] = i
	}
	return nil
}
