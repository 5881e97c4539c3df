// Package archive implements the framing of a filesystem tree (regular
// file, directory, or block device) into a single linear, self-delimiting
// byte stream, and the reverse materialization of such a stream back onto
// disk.
//
// The traversal side is adapted from pkg/filesystem.Walk, turning its
// visitor callback into the entry list consumed by a pull-based Step
// iterator; validation of decoded entries follows the same "reject
// anything outside the three supported kinds" discipline that the
// synchronization core applies to its own entry types.
package archive

import (
	"encoding/binary"
	"os"
)

// Kind identifies what sort of filesystem object an archive entry
// represents. Only the three kinds named in the specification are
// supported; symbolic links and other exotic types are skipped during
// encoding with a warning rather than rejected outright, since a tree
// containing one should still be archivable.
type Kind byte

const (
	// KindRegular identifies a regular file entry.
	KindRegular Kind = iota
	// KindDirectory identifies a directory entry.
	KindDirectory
	// KindBlockDevice identifies a block device entry. Block device
	// content is never archived (only its existence and permissions are
	// recorded); the corresponding node is expected to already exist in
	// place at decode time.
	KindBlockDevice
)

// String renders a human-readable name for k.
func (k Kind) String() string {
	switch k {
	case KindRegular:
		return "regular"
	case KindDirectory:
		return "directory"
	case KindBlockDevice:
		return "block-device"
	default:
		return "unknown"
	}
}

// doneMarker is the kind byte value used to signal the end of the entry
// stream. It is written as a trailing one-byte pseudo-entry by the
// Encoder and recognized by the Decoder wherever a header is expected.
const doneMarker = byte(0xFF)

// contentChunkSize bounds the size of a single DATA/PAYLOAD transfer so
// that Step calls perform bounded work, per the suspension-point
// requirement in the synchronizer's concurrency model.
const contentChunkSize = 64 * 1024

// isBlockDevice reports whether mode describes a block device, as opposed
// to a character device (which this archive format does not support).
func isBlockDevice(mode os.FileMode) bool {
	return mode&os.ModeDevice != 0 && mode&os.ModeCharDevice == 0
}

// writeUvarint appends the unsigned varint encoding of v to buf.
func writeUvarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}
