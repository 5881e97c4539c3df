// Package objectid implements the SHA-256 object identifiers used to key
// chunks in a content-addressed store.
package objectid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"

	"github.com/chunkarchive/chunkarchive/pkg/encoding"
)

// Size is the length, in bytes, of an object identifier.
const Size = sha256.Size

// ID is a 32-byte SHA-256 digest used as a chunk's store key. The zero value
// is not a valid identifier for any content (it would require a preimage of
// all zero bytes to hash to it, which is cryptographically implausible, but
// callers should still treat Zero as a sentinel "unset" value).
type ID [Size]byte

// Zero is the unset object identifier.
var Zero ID

// Compute returns the object identifier for the specified bytes.
func Compute(data []byte) ID {
	return ID(sha256.Sum256(data))
}

// Equal reports whether two identifiers are byte-identical.
func (id ID) Equal(other ID) bool {
	return id == other
}

// IsZero reports whether id is the zero identifier.
func (id ID) IsZero() bool {
	return id == Zero
}

// String renders the identifier as lowercase hexadecimal, matching how
// chunk store paths and index records are usually displayed.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Short renders the identifier using Base62 rather than hexadecimal,
// producing a shorter string for progress output and log lines. The
// canonical on-disk and wire representation remains the raw 32 bytes; Short
// is a display-only convenience.
func (id ID) Short() string {
	return encoding.EncodeBase62(id[:])
}

// ParseHex parses a lowercase-hexadecimal identifier of the form produced by
// String.
func ParseHex(s string) (ID, error) {
	var id ID
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid object identifier: %w", err)
	}
	if len(decoded) != Size {
		return id, fmt.Errorf("invalid object identifier: expected %d bytes, got %d", Size, len(decoded))
	}
	copy(id[:], decoded)
	return id, nil
}

// Hasher is a reusable SHA-256 context for computing object identifiers
// without reallocating a hash.Hash for every chunk.
type Hasher struct {
	hash hash.Hash
}

// NewHasher creates a new reusable object identifier hasher.
func NewHasher() *Hasher {
	return &Hasher{hash: sha256.New()}
}

// Reset clears any accumulated state so the hasher can be reused.
func (h *Hasher) Reset() {
	h.hash.Reset()
}

// Write implements io.Writer.Write, feeding bytes into the running digest.
func (h *Hasher) Write(p []byte) (int, error) {
	return h.hash.Write(p)
}

// Sum returns the object identifier for everything written since the last
// Reset, without affecting further writes.
func (h *Hasher) Sum() ID {
	var id ID
	h.hash.Sum(id[:0])
	return id
}
