package events

import (
	"errors"
	"fmt"

	"github.com/dymensionxyz/ibc-convergence/blockdb"
)

// ErrKeyNotFound is returned when an event type or attribute key is absent.
// Inside a poll predicate it means the event did not fire yet.
var ErrKeyNotFound = errors.New("key not found")

// Flattened maps event type to attribute key to value. When a type or a key
// occurs more than once, the later occurrence wins.
type Flattened map[string]map[string]string

// Parse flattens events for single value lookups.
func Parse(evts []blockdb.Event) Flattened {
	f := make(Flattened, len(evts))
	for _, evt := range evts {
		attrs, ok := f[evt.Type]
		if !ok {
			attrs = make(map[string]string, len(evt.Attributes))
			f[evt.Type] = attrs
		}
		for _, attr := range evt.Attributes {
			attrs[attr.Key] = attr.Value
		}
	}
	return f
}

// Event returns the attributes of an event type.
func (f Flattened) Event(eventType string) (map[string]string, error) {
	attrs, ok := f[eventType]
	if !ok {
		return nil, fmt.Errorf("event %q: %w", eventType, ErrKeyNotFound)
	}
	return attrs, nil
}

// Get returns the value of key in eventType.
func (f Flattened) Get(eventType, key string) (string, error) {
	attrs, err := f.Event(eventType)
	if err != nil {
		return "", err
	}
	v, ok := attrs[key]
	if !ok {
		return "", fmt.Errorf("attribute %q of event %q: %w", key, eventType, ErrKeyNotFound)
	}
	return v, nil
}

// Has reports whether an event type fired.
func (f Flattened) Has(eventType string) bool {
	_, ok := f[eventType]
	return ok
}

// Ordered maps event type to the attributes of every occurrence of that type,
// concatenated in emission order.
type Ordered map[string][]blockdb.EventAttribute

// ParseOrdered groups events by type and keeps attribute order, for consumers
// that scan for "first X before the next Y".
func ParseOrdered(evts []blockdb.Event) Ordered {
	o := make(Ordered, len(evts))
	for _, evt := range evts {
		o[evt.Type] = append(o[evt.Type], evt.Attributes...)
	}
	return o
}

// Attributes returns the ordered attributes of eventType.
func (o Ordered) Attributes(eventType string) ([]blockdb.EventAttribute, error) {
	attrs, ok := o[eventType]
	if !ok {
		return nil, fmt.Errorf("event %q: %w", eventType, ErrKeyNotFound)
	}
	return attrs, nil
}

// Values returns every value of key in eventType, in order.
func (o Ordered) Values(eventType, key string) ([]string, error) {
	attrs, err := o.Attributes(eventType)
	if err != nil {
		return nil, err
	}
	var values []string
	for _, attr := range attrs {
		if attr.Key == key {
			values = append(values, attr.Value)
		}
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("attribute %q of event %q: %w", key, eventType, ErrKeyNotFound)
	}
	return values, nil
}

// FindEvent returns the first event of eventType whose attributes satisfy match.
// A nil match accepts the first event of the type.
func FindEvent(evts []blockdb.Event, eventType string, match func(attrs map[string]string) bool) (blockdb.Event, bool) {
	for _, evt := range evts {
		if evt.Type != eventType {
			continue
		}
		if match == nil || match(evt.Map()) {
			return evt, true
		}
	}
	return blockdb.Event{}, false
}

// AttributeValue returns the first value of key in the first event of eventType holding it.
func AttributeValue(evts []blockdb.Event, eventType, key string) (string, bool) {
	for _, evt := range evts {
		if evt.Type != eventType {
			continue
		}
		if v, ok := evt.Get(key); ok {
			return v, true
		}
	}
	return "", false
}
