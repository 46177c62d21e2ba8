package events

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	abci "github.com/cometbft/cometbft/abci/types"
	"github.com/icza/dyno"

	"github.com/dymensionxyz/ibc-convergence/blockdb"
)

// Encoding of attribute keys and values in raw json payloads.
type Encoding int

const (
	// EncodingAuto detects base64 per event.
	EncodingAuto Encoding = iota
	EncodingPlain
	// EncodingBase64 is how cometbft before 0.37 renders attributes.
	EncodingBase64
)

// FromABCI converts events returned by a cometbft client.
func FromABCI(evts []abci.Event) []blockdb.Event {
	out := make([]blockdb.Event, 0, len(evts))
	for _, evt := range evts {
		attrs := make([]blockdb.EventAttribute, len(evt.Attributes))
		for i, attr := range evt.Attributes {
			attrs[i] = blockdb.EventAttribute{Key: attr.Key, Value: attr.Value}
		}
		out = append(out, blockdb.Event{Type: evt.Type, Attributes: attrs})
	}
	return out
}

// ParseEncoding accepts auto, plain and base64.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return EncodingAuto, nil
	case "plain":
		return EncodingPlain, nil
	case "base64":
		return EncodingBase64, nil
	default:
		return 0, fmt.Errorf("unknown attribute encoding %q", s)
	}
}

// FromJSON decodes the event list found at path inside a json document, e.g.
// FromJSON(bz, EncodingAuto, "result", "txs_results", 0, "events").
// An empty path means the document itself is the list.
func FromJSON(bz []byte, enc Encoding, path ...interface{}) ([]blockdb.Event, error) {
	var doc interface{}
	if err := json.Unmarshal(bz, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal events json: %w", err)
	}
	return eventsAt(doc, enc, path...)
}

// TxResultsFromJSON decodes the events of every tx in a block_results
// response, with or without the json-rpc envelope.
func TxResultsFromJSON(bz []byte, enc Encoding) ([][]blockdb.Event, error) {
	var doc interface{}
	if err := json.Unmarshal(bz, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal block results: %w", err)
	}
	if result, err := dyno.Get(doc, "result"); err == nil {
		doc = result
	}
	raw, err := dyno.Get(doc, "txs_results")
	if err != nil {
		return nil, fmt.Errorf("no txs_results in block results: %w", err)
	}
	if raw == nil {
		// blocks without txs
		return nil, nil
	}
	txs, err := dyno.GetSlice(doc, "txs_results")
	if err != nil {
		return nil, err
	}
	out := make([][]blockdb.Event, 0, len(txs))
	for i, tx := range txs {
		evts, err := eventsAt(tx, enc, "events")
		if err != nil {
			return nil, fmt.Errorf("tx %d: %w", i, err)
		}
		out = append(out, evts)
	}
	return out, nil
}

func eventsAt(doc interface{}, enc Encoding, path ...interface{}) ([]blockdb.Event, error) {
	v, err := dyno.Get(doc, path...)
	if err != nil {
		return nil, fmt.Errorf("no event list at %v: %w", path, err)
	}
	if v == nil {
		return nil, nil
	}
	raw, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("no event list at %v: got %T", path, v)
	}
	out := make([]blockdb.Event, 0, len(raw))
	for i, r := range raw {
		evt, err := eventFromJSON(r, enc)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		out = append(out, evt)
	}
	return out, nil
}

func eventFromJSON(r interface{}, enc Encoding) (blockdb.Event, error) {
	typ, err := dyno.GetString(r, "type")
	if err != nil {
		return blockdb.Event{}, err
	}
	evt := blockdb.Event{Type: typ}
	rawAttrs, err := dyno.GetSlice(r, "attributes")
	if err != nil {
		// events without attributes render as null
		return evt, nil
	}
	for _, ra := range rawAttrs {
		key, err := dyno.GetString(ra, "key")
		if err != nil {
			return blockdb.Event{}, fmt.Errorf("attribute of %q: %w", typ, err)
		}
		// values may be null
		value, _ := dyno.GetString(ra, "value")
		evt.Attributes = append(evt.Attributes, blockdb.EventAttribute{Key: key, Value: value})
	}

	decode := enc == EncodingBase64 || (enc == EncodingAuto && looksBase64(evt.Attributes))
	if !decode {
		return evt, nil
	}
	for i, attr := range evt.Attributes {
		k, err := base64.StdEncoding.DecodeString(attr.Key)
		if err != nil {
			return blockdb.Event{}, fmt.Errorf("attribute key %q of %q is not base64: %w", attr.Key, typ, err)
		}
		v, err := base64.StdEncoding.DecodeString(attr.Value)
		if err != nil {
			return blockdb.Event{}, fmt.Errorf("attribute value of %q is not base64: %w", typ, err)
		}
		evt.Attributes[i] = blockdb.EventAttribute{Key: string(k), Value: string(v)}
	}
	return evt, nil
}

// looksBase64 reports whether every key decodes to an identifier.
func looksBase64(attrs []blockdb.EventAttribute) bool {
	if len(attrs) == 0 {
		return false
	}
	for _, attr := range attrs {
		k, err := base64.StdEncoding.DecodeString(attr.Key)
		if err != nil || len(k) == 0 || !isIdentifier(k) {
			return false
		}
	}
	return true
}

func isIdentifier(b []byte) bool {
	for _, c := range b {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '.', c == '-':
		default:
			return false
		}
	}
	return true
}
