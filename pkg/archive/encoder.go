package archive

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/chunkarchive/chunkarchive/pkg/filesystem"
	"github.com/chunkarchive/chunkarchive/pkg/logging"
	"github.com/chunkarchive/chunkarchive/pkg/must"
)

// Step is the outcome of a single Encoder.Step call.
type Step int

const (
	// StepFinished indicates that the entire tree has been encoded; no
	// further calls to Step will produce data.
	StepFinished Step = iota
	// StepNextFile indicates that GetData returns the header bytes for a
	// new entry (and, for regular files, that content bytes will follow in
	// subsequent StepData outcomes).
	StepNextFile
	// StepData indicates that GetData returns another chunk of the
	// current entry's payload (or, for the final pseudo-entry, the
	// end-of-stream marker).
	StepData
)

// treeEntry describes a single filesystem object discovered while walking
// the base tree, in the order it will be encoded.
type treeEntry struct {
	kind    Kind
	relPath string
	mode    uint32
	absPath string
	size    int64
}

// Encoder frames a filesystem tree into a linear byte stream. It is driven
// by repeated calls to Step, pulling the resulting bytes via GetData, in
// the same pull-based idiom the synchronizer uses for its own Step
// operation.
type Encoder struct {
	logger *logging.Logger

	entries []treeEntry
	index   int

	reader    *os.File
	remaining int64

	data        []byte
	currentPath string
	currentMode uint32

	wroteDone bool
	finished  bool
}

// NewEncoder creates an encoder with no base tree configured yet. SetBaseFD
// must be called exactly once before the first call to Step.
func NewEncoder(logger *logging.Logger) *Encoder {
	return &Encoder{logger: logger}
}

// SetBaseFD configures the filesystem tree to encode and takes ownership of
// fd. For a directory base, the descriptor is closed once its contents have
// been listed (subsequent entries are opened individually by path as they
// are reached); for a regular file or block device base, the descriptor is
// closed immediately since the entry list holds exactly one element.
func (e *Encoder) SetBaseFD(fd *os.File) error {
	info, err := fd.Stat()
	if err != nil {
		must.Close(fd, e.logger)
		return fmt.Errorf("unable to stat base: %w", err)
	}
	path := fd.Name()

	if info.IsDir() {
		defer must.Close(fd, e.logger)
		err := filesystem.Walk(path, func(p string, i os.FileInfo, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if p == path {
				// The root directory itself isn't archived as an entry;
				// its existence is established by Start's mkdir.
				return nil
			}
			if i.Mode()&os.ModeSymlink != 0 {
				e.logger.Warnf("skipping symbolic link %s", p)
				return nil
			}
			rel, relErr := filepath.Rel(path, p)
			if relErr != nil {
				return relErr
			}
			rel = filepath.ToSlash(rel)
			switch {
			case i.IsDir():
				e.entries = append(e.entries, treeEntry{
					kind: KindDirectory, relPath: rel, mode: uint32(i.Mode().Perm()), absPath: p,
				})
			case isBlockDevice(i.Mode()):
				e.entries = append(e.entries, treeEntry{
					kind: KindBlockDevice, relPath: rel, mode: uint32(i.Mode().Perm()), absPath: p,
				})
			case i.Mode().IsRegular():
				e.entries = append(e.entries, treeEntry{
					kind: KindRegular, relPath: rel, mode: uint32(i.Mode().Perm()), absPath: p, size: i.Size(),
				})
			default:
				e.logger.Warnf("skipping unsupported entry %s", p)
			}
			return nil
		})
		if err != nil {
			return err
		}
		// Directory listing order is not stable, so entries are sorted by
		// relative path; a parent's path is a prefix of its children's and
		// therefore still sorts ahead of them.
		sort.Slice(e.entries, func(a, b int) bool { return e.entries[a].relPath < e.entries[b].relPath })
		return nil
	}

	defer must.Close(fd, e.logger)
	if isBlockDevice(info.Mode()) {
		e.entries = append(e.entries, treeEntry{kind: KindBlockDevice, relPath: "", mode: uint32(info.Mode().Perm())})
		return nil
	}
	e.entries = append(e.entries, treeEntry{
		kind: KindRegular, relPath: "", mode: uint32(info.Mode().Perm()), absPath: path, size: info.Size(),
	})
	return nil
}

// CurrentPath returns the relative path of the entry most recently started
// by Step, intended for progress reporting between Step calls.
func (e *Encoder) CurrentPath() string {
	return e.currentPath
}

// CurrentMode returns the permission bits of the entry most recently
// started by Step.
func (e *Encoder) CurrentMode() uint32 {
	return e.currentMode
}

// GetData returns the bytes produced by the most recent Step call. The
// returned slice is only valid until the next call to Step.
func (e *Encoder) GetData() []byte {
	return e.data
}

// Step advances the encoder by one unit of work: either a new entry header
// (StepNextFile), one chunk of an entry's payload (StepData), or the final
// notice that the whole tree has been encoded (StepFinished).
func (e *Encoder) Step() (Step, error) {
	if e.finished {
		e.data = nil
		return StepFinished, nil
	}

	if e.reader != nil {
		size := e.remaining
		if size > contentChunkSize {
			size = contentChunkSize
		}
		if size == 0 {
			must.Close(e.reader, e.logger)
			e.reader = nil
			return e.advance()
		}
		buffer := make([]byte, size)
		n, err := e.reader.Read(buffer)
		if err != nil && err != io.EOF {
			return StepFinished, fmt.Errorf("unable to read entry content: %w", err)
		}
		if n == 0 {
			must.Close(e.reader, e.logger)
			e.reader = nil
			return e.advance()
		}
		e.remaining -= int64(n)
		e.data = buffer[:n]
		return StepData, nil
	}

	return e.advance()
}

// advance moves to the next tree entry (or the terminal marker, or
// finished), producing its header bytes.
func (e *Encoder) advance() (Step, error) {
	if e.index >= len(e.entries) {
		if !e.wroteDone {
			e.wroteDone = true
			e.data = []byte{doneMarker}
			return StepData, nil
		}
		e.finished = true
		e.data = nil
		return StepFinished, nil
	}

	entry := e.entries[e.index]
	e.index++

	header := []byte{byte(entry.kind)}
	header = writeUvarint(header, uint64(len(entry.relPath)))
	header = append(header, entry.relPath...)
	header = writeUvarint(header, uint64(entry.mode))

	if entry.kind == KindRegular {
		header = writeUvarint(header, uint64(entry.size))
		reader, err := os.Open(entry.absPath)
		if err != nil {
			return StepFinished, fmt.Errorf("unable to open %s: %w", entry.absPath, err)
		}
		e.reader = reader
		e.remaining = entry.size
	}

	e.currentPath = entry.relPath
	e.currentMode = entry.mode
	e.data = header
	return StepNextFile, nil
}
