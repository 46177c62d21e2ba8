package simnet

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dymensionxyz/ibc-convergence/ibc"
)

type condition struct {
	eventType string
	key       string
	value     string
}

// query is the subset of the tendermint tx search language made of
// "type.key='value'" conditions joined by AND.
type query []condition

func parseQuery(s string) (query, error) {
	var q query
	for _, part := range strings.Split(s, " AND ") {
		part = strings.TrimSpace(part)
		lhs, rhs, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("unsupported query condition %q", part)
		}
		typ, key, ok := strings.Cut(strings.TrimSpace(lhs), ".")
		if !ok || typ == "" || key == "" {
			return nil, fmt.Errorf("condition %q must be of the form type.key=value", part)
		}
		q = append(q, condition{eventType: typ, key: key, value: strings.Trim(strings.TrimSpace(rhs), "'")})
	}
	return q, nil
}

func (q query) matches(tx ibc.TxResult) bool {
	for _, c := range q {
		if !c.matches(tx) {
			return false
		}
	}
	return true
}

func (c condition) matches(tx ibc.TxResult) bool {
	if c.eventType == "tx" {
		switch c.key {
		case "height":
			return c.value == strconv.FormatInt(tx.Height, 10)
		case "hash":
			return strings.EqualFold(c.value, tx.TxHash)
		}
	}
	for _, evt := range tx.Events {
		if evt.Type != c.eventType {
			continue
		}
		for _, attr := range evt.Attributes {
			if attr.Key == c.key && attr.Value == c.value {
				return true
			}
		}
	}
	return false
}
