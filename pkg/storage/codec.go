package storage

import (
	"encoding/binary"

	"github.com/shopspring/decimal"
)

// Decimals are stored as their canonical string form. It round-trips exactly
// and keeps the DB inspectable with plain tooling.
func encodeDecimal(d decimal.Decimal) []byte {
	return []byte(d.String())
}

func decodeDecimal(b []byte) (decimal.Decimal, error) {
	return decimal.NewFromString(string(b))
}

func encodeUint64(v uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], v)
	return k[:]
}

func decodeUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
