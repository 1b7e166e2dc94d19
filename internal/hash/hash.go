// Package hash wraps xxHash64 for the identities urlstate needs: dictionary
// fingerprints and the payload checksum carried by V2 envelopes.
package hash

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// Checksum32 returns the low 32 bits of the xxHash64 of data.
func Checksum32(data []byte) uint32 {
	return uint32(xxhash.Sum64(data)) //nolint:gosec
}

// Fingerprint accumulates a stable hash over a sequence of fields.
//
// Every field is length-prefixed before hashing so that ("ab", "c") and
// ("a", "bc") produce different fingerprints.
type Fingerprint struct {
	d   *xxhash.Digest
	tmp [binary.MaxVarintLen64]byte
}

// NewFingerprint creates an empty fingerprint.
func NewFingerprint() *Fingerprint {
	return &Fingerprint{d: xxhash.New()}
}

// WriteString adds a length-prefixed string field.
func (f *Fingerprint) WriteString(s string) {
	f.WriteUint(uint64(len(s)))
	_, _ = f.d.WriteString(s)
}

// WriteBytes adds a length-prefixed byte field.
func (f *Fingerprint) WriteBytes(b []byte) {
	f.WriteUint(uint64(len(b)))
	_, _ = f.d.Write(b)
}

// WriteUint adds an unsigned integer field.
func (f *Fingerprint) WriteUint(v uint64) {
	n := binary.PutUvarint(f.tmp[:], v)
	_, _ = f.d.Write(f.tmp[:n])
}

// Sum64 returns the fingerprint of everything written so far.
func (f *Fingerprint) Sum64() uint64 {
	return f.d.Sum64()
}
