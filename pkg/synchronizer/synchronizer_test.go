package synchronizer

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/chunkarchive/chunkarchive/pkg/archive"
	"github.com/chunkarchive/chunkarchive/pkg/chunkstore"
	"github.com/chunkarchive/chunkarchive/pkg/index"
	"github.com/chunkarchive/chunkarchive/pkg/logging"
	"github.com/chunkarchive/chunkarchive/pkg/objectid"
)

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.LevelDisabled, os.Stderr)
}

func newTestStore(t *testing.T, writable bool) *chunkstore.Store {
	t.Helper()
	store, err := chunkstore.New(t.TempDir(), writable, testLogger())
	if err != nil {
		t.Fatalf("unable to create store: %v", err)
	}
	return store
}

// driveToFinished runs Step repeatedly until FINISHED or an error.
func driveToFinished(t *testing.T, s *Synchronizer) {
	t.Helper()
	for i := 0; ; i++ {
		if i > 1_000_000 {
			t.Fatalf("pipeline did not finish after a very large number of steps")
		}
		code, err := s.Step()
		if err != nil {
			t.Fatalf("step failed: %v", err)
		}
		if code == StepCodeFinished {
			return
		}
	}
}

// writeCorruptIndex hand-writes a minimal index whose single record
// claims a size that disagrees with what the store actually holds for id,
// exercising the decode-side BAD_MESSAGE path without needing a full
// encode session.
func writeCorruptIndex(t *testing.T, path string, id objectid.ID, claimedSize int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("unable to create index fixture: %v", err)
	}
	w, err := index.NewWriter(f)
	if err != nil {
		t.Fatalf("unable to create index writer: %v", err)
	}
	if err := w.WriteObject(id, claimedSize); err != nil {
		t.Fatalf("unable to write index record: %v", err)
	}
	w.SetDigest(objectid.Compute([]byte("irrelevant for this test")))
	if err := w.WriteEOF(); err != nil {
		t.Fatalf("unable to write index eof: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("unable to close index writer: %v", err)
	}
}

func writeFixtureTree(t *testing.T, root string, size int) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(root, "payload.bin"), bytes.Repeat([]byte{0}, size), 0644); err != nil {
		t.Fatalf("unable to write fixture file: %v", err)
	}
}

// TestEncodeZeroFileProducesChunksAndIndex covers a ten-mebibyte all-zero
// file: every emitted chunk must hash to its own object identifier, the
// sum of chunk sizes recorded in the index must equal the archive length,
// and the archive digest must only be readable once the pipeline reaches
// eof.
func TestEncodeZeroFileProducesChunksAndIndex(t *testing.T) {
	source := t.TempDir()
	writeFixtureTree(t, source, 10*1024*1024)

	baseFD, err := os.Open(filepath.Join(source, "payload.bin"))
	if err != nil {
		t.Fatalf("unable to open fixture file: %v", err)
	}

	store := newTestStore(t, true)
	archivePath := filepath.Join(t.TempDir(), "archive.bin")
	indexPath := filepath.Join(t.TempDir(), "index.bin")

	s := New(Encode, testLogger())
	if err := s.SetBaseFD(baseFD); err != nil {
		t.Fatalf("unable to set base: %v", err)
	}
	if err := s.SetArchivePath(archivePath); err != nil {
		t.Fatalf("unable to set archive path: %v", err)
	}
	if err := s.SetWritableStore(store); err != nil {
		t.Fatalf("unable to set writable store: %v", err)
	}
	if err := s.SetIndexPath(indexPath); err != nil {
		t.Fatalf("unable to set index path: %v", err)
	}

	if _, err := s.GetDigest(); err == nil {
		t.Fatalf("expected GetDigest to fail before eof")
	} else {
		var se *Error
		if !errors.As(err, &se) || se.Kind != ErrorKindBusy {
			t.Fatalf("expected BUSY error, got %v", err)
		}
	}

	driveToFinished(t, s)

	digest, err := s.GetDigest()
	if err != nil {
		t.Fatalf("unable to read digest after eof: %v", err)
	}
	if digest.IsZero() {
		t.Fatalf("expected a non-zero archive digest")
	}

	archiveInfo, err := os.Stat(archivePath)
	if err != nil {
		t.Fatalf("unable to stat archive: %v", err)
	}

	reader, err := os.Open(indexPath)
	if err != nil {
		t.Fatalf("unable to open index: %v", err)
	}
	defer reader.Close()

	idx, err := index.NewReader(reader)
	if err != nil {
		t.Fatalf("unable to open index reader: %v", err)
	}
	var totalSize int64
	for {
		id, size, err := idx.ReadObject()
		if err != nil {
			break
		}
		data, getErr := store.Get(id)
		if getErr != nil {
			t.Fatalf("chunk %s missing from store: %v", id, getErr)
		}
		if objectid.Compute(data) != id {
			t.Fatalf("chunk does not hash to its own identifier")
		}
		if len(data) != size {
			t.Fatalf("chunk size mismatch: index says %d, got %d", size, len(data))
		}
		totalSize += int64(size)
	}
	if totalSize != archiveInfo.Size() {
		t.Fatalf("sum of chunk sizes (%d) does not equal archive length (%d)", totalSize, archiveInfo.Size())
	}

	if _, err := s.Step(); err == nil {
		t.Fatalf("expected Step after FINISHED to fail")
	} else {
		var se *Error
		if !errors.As(err, &se) || se.Kind != ErrorKindPipelineClosed {
			t.Fatalf("expected PIPELINE_CLOSED error, got %v", err)
		}
	}
}

// TestEncodeDecodeViaIndexAndStore encodes a directory to an index plus
// chunk store with no archive sink retained, then decodes purely from the
// index and store, verifying the reconstructed tree matches the original.
func TestEncodeDecodeViaIndexAndStore(t *testing.T) {
	source := t.TempDir()
	if err := os.WriteFile(filepath.Join(source, "a.txt"), []byte("alpha"), 0644); err != nil {
		t.Fatalf("unable to write fixture: %v", err)
	}
	if err := os.Mkdir(filepath.Join(source, "dir"), 0755); err != nil {
		t.Fatalf("unable to create fixture dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(source, "dir", "b.txt"), bytes.Repeat([]byte("b"), 200*1024), 0644); err != nil {
		t.Fatalf("unable to write fixture: %v", err)
	}

	baseFD, err := os.Open(source)
	if err != nil {
		t.Fatalf("unable to open fixture root: %v", err)
	}

	store := newTestStore(t, true)
	indexPath := filepath.Join(t.TempDir(), "index.bin")
	archivePath := filepath.Join(t.TempDir(), "archive.bin")

	enc := New(Encode, testLogger())
	if err := enc.SetBaseFD(baseFD); err != nil {
		t.Fatalf("unable to set base: %v", err)
	}
	if err := enc.SetArchivePath(archivePath); err != nil {
		t.Fatalf("unable to set archive path: %v", err)
	}
	if err := enc.SetWritableStore(store); err != nil {
		t.Fatalf("unable to set writable store: %v", err)
	}
	if err := enc.SetIndexPath(indexPath); err != nil {
		t.Fatalf("unable to set index path: %v", err)
	}
	driveToFinished(t, enc)

	// Delete the archive file: the decode side must reconstruct the tree
	// using only the index and the chunk store.
	if err := os.Remove(archivePath); err != nil {
		t.Fatalf("unable to remove archive: %v", err)
	}

	destination := filepath.Join(t.TempDir(), "restored")
	dec := New(Decode, testLogger())
	if err := dec.SetBasePath(destination); err != nil {
		t.Fatalf("unable to set base path: %v", err)
	}
	if err := dec.SetBaseMode(archive.KindDirectory); err != nil {
		t.Fatalf("unable to set base mode: %v", err)
	}
	if err := dec.SetWritableStore(store); err != nil {
		t.Fatalf("unable to set writable store: %v", err)
	}
	if err := dec.SetIndexPath(indexPath); err != nil {
		t.Fatalf("unable to set index path: %v", err)
	}
	driveToFinished(t, dec)

	got, err := os.ReadFile(filepath.Join(destination, "a.txt"))
	if err != nil {
		t.Fatalf("unable to read restored file: %v", err)
	}
	if string(got) != "alpha" {
		t.Fatalf("restored content mismatch: got %q", got)
	}
	gotNested, err := os.ReadFile(filepath.Join(destination, "dir", "b.txt"))
	if err != nil {
		t.Fatalf("unable to read restored nested file: %v", err)
	}
	if len(gotNested) != 200*1024 {
		t.Fatalf("restored nested file has wrong length: %d", len(gotNested))
	}
}

// TestDecodeCorruptedIndexSizeReturnsBadMessage covers the case where the
// chunk store's actual bytes for an id disagree with the index's recorded
// size for the same id.
func TestDecodeCorruptedIndexSizeReturnsBadMessage(t *testing.T) {
	store := newTestStore(t, true)
	data := []byte("mismatched chunk payload")
	id := objectid.Compute(data)
	if err := store.Put(id, data); err != nil {
		t.Fatalf("unable to seed store: %v", err)
	}

	indexPath := filepath.Join(t.TempDir(), "index.bin")
	writeCorruptIndex(t, indexPath, id, len(data)+1)

	destination := filepath.Join(t.TempDir(), "restored")
	dec := New(Decode, testLogger())
	if err := dec.SetBasePath(destination); err != nil {
		t.Fatalf("unable to set base path: %v", err)
	}
	if err := dec.SetBaseMode(archive.KindDirectory); err != nil {
		t.Fatalf("unable to set base mode: %v", err)
	}
	if err := dec.SetWritableStore(store); err != nil {
		t.Fatalf("unable to set writable store: %v", err)
	}
	if err := dec.SetIndexPath(indexPath); err != nil {
		t.Fatalf("unable to set index path: %v", err)
	}

	var lastErr error
	for i := 0; i < 1000; i++ {
		_, err := dec.Step()
		if err != nil {
			lastErr = err
			break
		}
	}
	if lastErr == nil {
		t.Fatalf("expected a BAD_MESSAGE error")
	}
	var se *Error
	if !errors.As(lastErr, &se) || se.Kind != ErrorKindBadMessage {
		t.Fatalf("expected BAD_MESSAGE error, got %v", lastErr)
	}
}

// TestGetFallsBackToSeedStore covers the writable-store-miss then
// seed-store-hit fallback cascade.
func TestGetFallsBackToSeedStore(t *testing.T) {
	wstore := newTestStore(t, true)
	seed := newTestStore(t, true)

	data := []byte("seeded content")
	id := objectid.Compute(data)
	if err := seed.Put(id, data); err != nil {
		t.Fatalf("unable to seed store: %v", err)
	}

	s := New(Decode, testLogger())
	if err := s.SetWritableStore(wstore); err != nil {
		t.Fatalf("unable to set writable store: %v", err)
	}
	if err := s.AddSeedStore(seed); err != nil {
		t.Fatalf("unable to add seed store: %v", err)
	}

	got, err := s.Get(id)
	if err != nil {
		t.Fatalf("unable to get object via seed fallback: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("seed fallback returned wrong content")
	}

	if _, err := s.Get(objectid.Compute([]byte("absent"))); err == nil {
		t.Fatalf("expected NOT_FOUND for an absent object")
	} else {
		var se *Error
		if !errors.As(err, &se) || se.Kind != ErrorKindNotFound {
			t.Fatalf("expected NOT_FOUND error, got %v", err)
		}
	}
}

// TestDoubleSetArchivePathFailsBusy covers write-once enforcement on the
// archive endpoint.
func TestDoubleSetArchivePathFailsBusy(t *testing.T) {
	s := New(Encode, testLogger())
	path := filepath.Join(t.TempDir(), "archive.bin")
	if err := s.SetArchivePath(path); err != nil {
		t.Fatalf("unable to set archive path: %v", err)
	}
	err := s.SetArchivePath(path)
	if err == nil {
		t.Fatalf("expected a second SetArchivePath call to fail")
	}
	var se *Error
	if !errors.As(err, &se) || se.Kind != ErrorKindBusy {
		t.Fatalf("expected BUSY error, got %v", err)
	}
}

// TestEncodeRegularFileBase covers encoding a plain file (rather than a
// directory) as the base.
func TestEncodeRegularFileBase(t *testing.T) {
	source := t.TempDir()
	path := filepath.Join(source, "solo.bin")
	content := bytes.Repeat([]byte("x"), 4096)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("unable to write fixture: %v", err)
	}

	baseFD, err := os.Open(path)
	if err != nil {
		t.Fatalf("unable to open fixture: %v", err)
	}

	archivePath := filepath.Join(t.TempDir(), "archive.bin")
	s := New(Encode, testLogger())
	if err := s.SetBaseFD(baseFD); err != nil {
		t.Fatalf("unable to set base: %v", err)
	}
	if err := s.SetArchivePath(archivePath); err != nil {
		t.Fatalf("unable to set archive path: %v", err)
	}
	driveToFinished(t, s)

	info, err := os.Stat(archivePath)
	if err != nil {
		t.Fatalf("archive was not committed: %v", err)
	}
	if info.Size() == 0 {
		t.Fatalf("expected a non-empty archive")
	}
}

// TestDroppedSessionLeavesNoFinalArchive covers the invariant that no
// partial file is ever published under a final name: closing a session
// before it reaches FINISHED must leave nothing at the archive's final
// path.
func TestDroppedSessionLeavesNoFinalArchive(t *testing.T) {
	source := t.TempDir()
	writeFixtureTree(t, source, 1024*1024)
	baseFD, err := os.Open(filepath.Join(source, "payload.bin"))
	if err != nil {
		t.Fatalf("unable to open fixture: %v", err)
	}

	archivePath := filepath.Join(t.TempDir(), "archive.bin")
	s := New(Encode, testLogger())
	if err := s.SetBaseFD(baseFD); err != nil {
		t.Fatalf("unable to set base: %v", err)
	}
	if err := s.SetArchivePath(archivePath); err != nil {
		t.Fatalf("unable to set archive path: %v", err)
	}

	if _, err := s.Step(); err != nil {
		t.Fatalf("unable to perform initial step: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("unable to close synchronizer: %v", err)
	}

	if _, err := os.Stat(archivePath); !os.IsNotExist(err) {
		t.Fatalf("expected no file at the final archive path after a dropped session, stat returned: %v", err)
	}
}
