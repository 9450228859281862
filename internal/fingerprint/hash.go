// Package fingerprint provides the opaque, non-cryptographic content hash
// used to decide row and payload equality across the writer, merger and
// delta components. Per spec.md §9's design note, the source pads a
// non-cryptographic hash to SHA-256 width; csvpipe instead uses xxhash64
// directly as a fixed-output fast hash — content equality never needs
// cryptographic strength, only a stable fingerprint.
package fingerprint

import (
	"encoding/hex"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// RowHash hashes the pipe-joined concatenation "field0|field1|...|" of a row,
// matching the concatenation rule spec.md §4.D specifies for content-hash
// deduplication and §4.F's content-hash change detection.
func RowHash(row []string) string {
	var b strings.Builder
	for _, f := range row {
		b.WriteString(f)
		b.WriteByte('|')
	}
	return StringHash(b.String())
}

// StringHash hashes an arbitrary string payload; RowHash is built on it.
func StringHash(s string) string {
	sum := xxhash.Sum64String(s)
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(sum >> (56 - 8*i))
	}
	return hex.EncodeToString(buf[:])
}

// BytesHash hashes a byte slice directly, avoiding a string conversion for
// large payloads.
func BytesHash(b []byte) string {
	sum := xxhash.Sum64(b)
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(sum >> (56 - 8*i))
	}
	return hex.EncodeToString(buf[:])
}
