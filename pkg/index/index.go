// Package index implements the on-disk record stream that pairs an
// archive's chunk identifiers with their sizes: a small binary format
// written once per encode session and consumed once per decode session.
//
// The format is deliberately minimal and stdlib-only (see DESIGN.md): a
// fixed magic/version header, a sequence of (32-byte object identifier,
// uvarint size) records, a single end-of-stream marker record, and a
// trailing 32-byte archive digest appended once the writer is closed.
package index

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/chunkarchive/chunkarchive/pkg/objectid"
)

// magic identifies the file format; version allows the framing to evolve
// without silently misparsing an older index.
var magic = [4]byte{'c', 'a', 'i', 'x'}

const version = 1

// eofMarker is the identifier value used to signal the end of the record
// stream. It is indistinguishable from a valid SHA-256 digest only in the
// cryptographically implausible case of a chunk hashing to all zero bytes;
// readers rely on it appearing nowhere else in a well-formed index.
var eofMarker objectid.ID

// Writer appends (object identifier, size) records to an index, followed by
// an end-of-stream marker and a trailing archive digest. A Writer must be
// closed exactly once, after SetDigest and WriteEOF, to flush the trailer.
type Writer struct {
	output   *bufio.Writer
	closer   io.Closer
	digest   objectid.ID
	hasSet   bool
	wroteEOF bool
}

// NewWriter creates an index writer over the given stream, writing the
// header immediately.
func NewWriter(w io.WriteCloser) (*Writer, error) {
	buffered := bufio.NewWriter(w)
	if _, err := buffered.Write(magic[:]); err != nil {
		return nil, fmt.Errorf("unable to write index magic: %w", err)
	}
	if err := buffered.WriteByte(version); err != nil {
		return nil, fmt.Errorf("unable to write index version: %w", err)
	}
	return &Writer{output: buffered, closer: w}, nil
}

// WriteObject appends a single (id, size) record.
func (w *Writer) WriteObject(id objectid.ID, size int) error {
	if w.wroteEOF {
		return fmt.Errorf("index writer already finished")
	}
	if _, err := w.output.Write(id[:]); err != nil {
		return fmt.Errorf("unable to write object identifier: %w", err)
	}
	var sizeBuffer [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(sizeBuffer[:], uint64(size))
	if _, err := w.output.Write(sizeBuffer[:n]); err != nil {
		return fmt.Errorf("unable to write object size: %w", err)
	}
	return nil
}

// SetDigest records the archive-level digest to be written in the trailer
// at Close. It may be called at most once.
func (w *Writer) SetDigest(digest objectid.ID) {
	w.digest = digest
	w.hasSet = true
}

// WriteEOF appends the end-of-stream marker. It must be called exactly once,
// after all object records and before Close.
func (w *Writer) WriteEOF() error {
	if w.wroteEOF {
		return fmt.Errorf("index writer already finished")
	}
	if _, err := w.output.Write(eofMarker[:]); err != nil {
		return fmt.Errorf("unable to write index end marker: %w", err)
	}
	w.wroteEOF = true
	return nil
}

// Abort closes the underlying stream without writing the end-of-stream
// marker or trailing digest, leaving a partially written index in place
// for the caller to unlink. It is used when a session is torn down before
// reaching its FINISHED step.
func (w *Writer) Abort() error {
	return w.closer.Close()
}

// Close writes the trailing archive digest and closes the underlying
// stream. WriteEOF and SetDigest must both have been called first.
func (w *Writer) Close() error {
	if !w.wroteEOF {
		return fmt.Errorf("index writer closed before end marker was written")
	}
	if !w.hasSet {
		return fmt.Errorf("index writer closed before archive digest was set")
	}
	if _, err := w.output.Write(w.digest[:]); err != nil {
		return fmt.Errorf("unable to write archive digest: %w", err)
	}
	if err := w.output.Flush(); err != nil {
		return fmt.Errorf("unable to flush index: %w", err)
	}
	return w.closer.Close()
}

// Reader consumes an index written by Writer.
type Reader struct {
	input  *bufio.Reader
	closer io.Closer
	eof    bool
	digest objectid.ID
}

// NewReader opens an index reader over the given stream, validating the
// header immediately.
func NewReader(r io.ReadCloser) (*Reader, error) {
	buffered := bufio.NewReader(r)

	var header [4]byte
	if _, err := io.ReadFull(buffered, header[:]); err != nil {
		return nil, fmt.Errorf("unable to read index magic: %w", err)
	}
	if header != magic {
		return nil, fmt.Errorf("not a valid index (bad magic)")
	}
	versionByte, err := buffered.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("unable to read index version: %w", err)
	}
	if versionByte != version {
		return nil, fmt.Errorf("unsupported index version %d", versionByte)
	}

	return &Reader{input: buffered, closer: r}, nil
}

// ReadObject reads the next (id, size) record. When the end-of-stream
// marker is reached, it reads the trailing archive digest, sets eof, and
// returns io.EOF; the digest is then available via Digest.
func (r *Reader) ReadObject() (objectid.ID, int, error) {
	var id objectid.ID
	if r.eof {
		return id, 0, io.EOF
	}

	if _, err := io.ReadFull(r.input, id[:]); err != nil {
		return id, 0, fmt.Errorf("unable to read object identifier: %w", err)
	}

	if id == eofMarker {
		if _, err := io.ReadFull(r.input, r.digest[:]); err != nil {
			return id, 0, fmt.Errorf("unable to read archive digest: %w", err)
		}
		r.eof = true
		return id, 0, io.EOF
	}

	size, err := binary.ReadUvarint(r.input)
	if err != nil {
		return id, 0, fmt.Errorf("unable to read object size: %w", err)
	}
	return id, int(size), nil
}

// Digest returns the archive-level digest recorded in the trailer. It is
// only valid once ReadObject has returned io.EOF.
func (r *Reader) Digest() (objectid.ID, error) {
	if !r.eof {
		return objectid.ID{}, fmt.Errorf("archive digest unavailable before end of index")
	}
	return r.digest, nil
}

// Close closes the underlying stream.
func (r *Reader) Close() error {
	return r.closer.Close()
}
