// Package chunkstore implements a content-addressed object store: chunks
// are written under their SHA-256 object identifier and retrieved by it. A
// Store can be opened writable (supporting Put) or as a read-only seed
// store (supporting only Get), matching the synchronizer's writable-primary
// plus ordered-seed-fallback model.
package chunkstore

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/chunkarchive/chunkarchive/pkg/filesystem"
	"github.com/chunkarchive/chunkarchive/pkg/logging"
	"github.com/chunkarchive/chunkarchive/pkg/must"
	"github.com/chunkarchive/chunkarchive/pkg/objectid"
	"github.com/chunkarchive/chunkarchive/pkg/stream"
)

const (
	// temporaryNamePrefix is the prefix used for in-progress chunk files
	// before they are committed under their final content address.
	temporaryNamePrefix = filesystem.TemporaryNamePrefix + "chunk-"
	// writeBufferSize is the buffer size used for pooled chunk writers.
	writeBufferSize = 32 * 1024
)

// ErrNotFound is returned by Get when the requested object is not present
// in this store. Callers assembling a writable-then-seed-stores cascade
// should treat this (and only this) error as "try the next store."
var ErrNotFound = errors.New("object not found")

// prefixDirectoryName returns the two-character hex prefix used to shard
// objects across subdirectories, avoiding a single directory with one entry
// per chunk.
func prefixDirectoryName(id objectid.ID) string {
	return hex.EncodeToString(id[:1])
}

// Store is a content-addressed chunk store rooted at a single directory on
// the local filesystem.
type Store struct {
	// root is the store's root directory.
	root string
	// writable indicates whether this store accepts Put calls. Read-only
	// seed stores have writable == false.
	writable bool
	// logger is used for best-effort cleanup diagnostics.
	logger *logging.Logger

	// prefixLock guards prefixExists.
	prefixLock sync.RWMutex
	// prefixExists caches which of the 256 possible prefix directories have
	// already been created, avoiding a MkdirAll syscall on every Put.
	prefixExists [256]bool

	// writerPool recycles buffered writers across chunk writes.
	writerPool sync.Pool
}

// New opens (or, for a writable store, creates) a chunk store rooted at the
// specified directory.
func New(root string, writable bool, logger *logging.Logger) (*Store, error) {
	if writable {
		if err := os.MkdirAll(root, 0755); err != nil {
			return nil, fmt.Errorf("unable to create store root: %w", err)
		}
	} else if info, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("unable to access store root: %w", err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("store root is not a directory: %s", root)
	}

	store := &Store{
		root:     root,
		writable: writable,
		logger:   logger,
	}
	store.writerPool.New = func() interface{} {
		return bufio.NewWriterSize(io.Discard, writeBufferSize)
	}
	return store, nil
}

// Writable reports whether this store accepts Put calls.
func (s *Store) Writable() bool {
	return s.writable
}

// path returns the on-disk path at which an object's bytes are stored.
func (s *Store) path(id objectid.ID) string {
	return filepath.Join(s.root, prefixDirectoryName(id), id.String())
}

func (s *Store) ensurePrefixExists(prefix string, index byte) error {
	s.prefixLock.RLock()
	exists := s.prefixExists[index]
	s.prefixLock.RUnlock()
	if exists {
		return nil
	}

	s.prefixLock.Lock()
	defer s.prefixLock.Unlock()
	if s.prefixExists[index] {
		return nil
	}
	if err := os.Mkdir(filepath.Join(s.root, prefix), 0755); err != nil && !os.IsExist(err) {
		return fmt.Errorf("unable to create prefix directory: %w", err)
	}
	s.prefixExists[index] = true
	return nil
}

// Contains reports whether id is present in this store, without reading its
// bytes.
func (s *Store) Contains(id objectid.ID) (bool, error) {
	_, err := os.Stat(s.path(id))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("unable to stat object: %w", err)
}

// Get retrieves the bytes stored under id. It returns ErrNotFound (exactly,
// via errors.Is) if the object is absent so that callers can cascade to the
// next store in a fallback chain.
func (s *Store) Get(id objectid.ID) ([]byte, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("unable to read object: %w", err)
	}
	return data, nil
}

// Put stores data under id, which must already be objectid.Compute(data).
// Put is idempotent: storing the same id twice is a no-op on the second
// call (content-addressing guarantees the bytes are identical).
func (s *Store) Put(id objectid.ID, data []byte) error {
	if !s.writable {
		return errors.New("store is read-only")
	}

	if exists, err := s.Contains(id); err != nil {
		return err
	} else if exists {
		return nil
	}

	prefix := prefixDirectoryName(id)
	if err := s.ensurePrefixExists(prefix, id[0]); err != nil {
		return err
	}

	temporary, err := os.CreateTemp(s.root, temporaryNamePrefix)
	if err != nil {
		return fmt.Errorf("unable to create temporary chunk file: %w", err)
	}

	hasher := objectid.NewHasher()
	hashedWriter := stream.NewHashedWriter(temporary, hasherAdapter{hasher})

	buffered := s.writerPool.Get().(*bufio.Writer)
	buffered.Reset(hashedWriter)
	defer func() {
		buffered.Reset(io.Discard)
		s.writerPool.Put(buffered)
	}()

	if _, err := buffered.Write(data); err != nil {
		must.Close(temporary, s.logger)
		must.OSRemove(temporary.Name(), s.logger)
		return fmt.Errorf("unable to write chunk data: %w", err)
	}
	if err := buffered.Flush(); err != nil {
		must.Close(temporary, s.logger)
		must.OSRemove(temporary.Name(), s.logger)
		return fmt.Errorf("unable to flush chunk data: %w", err)
	}
	if err := temporary.Close(); err != nil {
		must.OSRemove(temporary.Name(), s.logger)
		return fmt.Errorf("unable to close temporary chunk file: %w", err)
	}

	if computed := hasher.Sum(); computed != id {
		must.OSRemove(temporary.Name(), s.logger)
		return fmt.Errorf("chunk data does not hash to the requested identifier")
	}

	destination := s.path(id)
	if err := filesystem.Rename(nil, temporary.Name(), nil, destination, true); err != nil {
		must.OSRemove(temporary.Name(), s.logger)
		return fmt.Errorf("unable to commit chunk file: %w", err)
	}

	return nil
}

// hasherAdapter adapts *objectid.Hasher to the hash.Hash subset that
// stream.NewHashedWriter requires (Write), while keeping objectid as the
// sole owner of the SHA-256 implementation detail.
type hasherAdapter struct {
	hasher *objectid.Hasher
}

func (h hasherAdapter) Write(p []byte) (int, error) { return h.hasher.Write(p) }
func (h hasherAdapter) Sum(b []byte) []byte {
	id := h.hasher.Sum()
	return append(b, id[:]...)
}
func (h hasherAdapter) Reset()         { h.hasher.Reset() }
func (h hasherAdapter) Size() int      { return objectid.Size }
func (h hasherAdapter) BlockSize() int { return 1 }
