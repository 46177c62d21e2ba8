package blockdb

// Tx is a transaction as returned by a ledger query, reduced to the parts
// the verifier inspects.
type Tx struct {
	// Height of the block that included the tx.
	Height uint64
	// Hash is the hex encoded tx hash.
	Hash string
	// Data is the json encoded transaction, when available.
	Data []byte
	// Events are the abci events emitted while executing the tx, in emission order.
	Events []Event
}

// Event is an abci event: a type tag plus an ordered list of attributes.
type Event struct {
	Type       string           `json:"type"`
	Attributes []EventAttribute `json:"attributes"`
}

// EventAttribute is one key/value pair of an Event.
type EventAttribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Get returns the value of the first attribute with the given key.
func (e Event) Get(key string) (string, bool) {
	for _, attr := range e.Attributes {
		if attr.Key == key {
			return attr.Value, true
		}
	}
	return "", false
}

// Map flattens the attributes, later keys overwrite earlier ones.
func (e Event) Map() map[string]string {
	m := make(map[string]string, len(e.Attributes))
	for _, attr := range e.Attributes {
		m[attr.Key] = attr.Value
	}
	return m
}
