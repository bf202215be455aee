package storage

import (
	"encoding/binary"
	"fmt"
)

// Key schema for the broker's pebble database:
//
//	bal:<username>                 → cash balance (decimal string)
//	pos:<username>:<symbol>        → held quantity (decimal string)
//	ord:<id8>                      → pending order (JSON), id big-endian
//	fill:<username>:<ts20>:<uuid>  → executed trade record (JSON)
//	seq:order                      → last assigned order id (8 bytes)
//
// Order ids are big-endian so a prefix scan over "ord:" yields orders in
// ascending id order, which is also insertion order. The evaluator relies on
// that for deterministic cycle ordering.
const (
	prefixBalance  = "bal:"
	prefixPosition = "pos:"
	prefixOrder    = "ord:"
	prefixFill     = "fill:"
)

var keyOrderSeq = []byte("seq:order")

func balanceKey(username string) []byte {
	return []byte(prefixBalance + username)
}

func positionKey(username, symbol string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixPosition, username, symbol))
}

// positionPrefix covers all positions of one user.
func positionPrefix(username string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixPosition, username))
}

func orderKey(id uint64) []byte {
	k := make([]byte, len(prefixOrder)+8)
	copy(k, prefixOrder)
	binary.BigEndian.PutUint64(k[len(prefixOrder):], id)
	return k
}

func orderPrefix() []byte { return []byte(prefixOrder) }

// fillKey zero-pads the timestamp (20 digits) for lexicographic time order.
func fillKey(username string, timestamp int64, fillID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", prefixFill, username, timestamp, fillID))
}

func fillPrefix(username string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixFill, username))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
