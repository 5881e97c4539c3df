package synchronizer

import (
	"errors"
	"fmt"
	"io"

	"github.com/chunkarchive/chunkarchive/pkg/archive"
	"github.com/chunkarchive/chunkarchive/pkg/chunkstore"
	"github.com/chunkarchive/chunkarchive/pkg/filesystem"
	"github.com/chunkarchive/chunkarchive/pkg/objectid"
)

// Step advances the pipeline by one bounded unit of work, lazily invoking
// Start on the first call. It never blocks on anything but the file I/O
// it explicitly performs, and two Step calls are never concurrent on the
// same instance by construction (there is nothing in this package that
// would make a Synchronizer safe to share across goroutines).
func (s *Synchronizer) Step() (StepCode, error) {
	if s.eof {
		return StepCodeFinished, newError(ErrorKindPipelineClosed, "pipeline already finished")
	}
	if !s.started {
		if err := s.start(); err != nil {
			return StepCodeFinished, err
		}
	}

	if s.direction == Encode {
		return s.stepEncode()
	}
	return s.stepDecode()
}

// stepEncode drives one Encoder.Step call and tees its output, in order,
// to the archive sink, the running archive digest, and the chunker fanout.
func (s *Synchronizer) stepEncode() (StepCode, error) {
	outcome, err := s.encoder.Step()
	if err != nil {
		return StepCodeFinished, fmt.Errorf("encode step failed: %w", err)
	}

	if outcome == archive.StepFinished {
		return s.finishEncode()
	}

	data := s.encoder.GetData()

	if s.archiveFD != nil && len(data) > 0 {
		if _, err := s.archiveFD.Write(data); err != nil {
			return StepCodeFinished, fmt.Errorf("unable to write archive sink: %w", err)
		}
	}
	if len(data) > 0 {
		s.archiveHasher.Write(data)
	}
	if len(data) > 0 {
		if err := s.feedChunker(data); err != nil {
			return StepCodeFinished, err
		}
	}

	if outcome == archive.StepNextFile {
		return StepCodeNextFile, nil
	}
	return StepCodeStep, nil
}

// finishEncode flushes the pending chunk tail, finalizes the index (if
// any), commits the archive sink under its final name (if a temp path was
// used), and marks the pipeline eof.
func (s *Synchronizer) finishEncode() (StepCode, error) {
	if len(s.buffer) > 0 {
		if err := s.emitChunk(s.buffer); err != nil {
			return StepCodeFinished, err
		}
		s.buffer = nil
	}

	s.finalDigest = s.archiveHasher.Sum()

	if s.indexWriter != nil {
		s.indexWriter.SetDigest(s.finalDigest)
		if err := s.indexWriter.WriteEOF(); err != nil {
			return StepCodeFinished, fmt.Errorf("unable to finalize index: %w", err)
		}
		if err := s.indexWriter.Close(); err != nil {
			return StepCodeFinished, fmt.Errorf("unable to close index: %w", err)
		}
		s.indexWriter = nil
	}

	if s.archiveFD != nil {
		if err := s.archiveFD.Close(); err != nil {
			return StepCodeFinished, fmt.Errorf("unable to close archive sink: %w", err)
		}
		s.archiveFD = nil
	}

	if s.temporaryArchivePath != "" {
		if err := filesystem.Rename(nil, s.temporaryArchivePath, nil, s.archivePath, true); err != nil {
			return StepCodeFinished, fmt.Errorf("unable to commit archive file: %w", err)
		}
		s.temporaryArchivePath = ""
	}

	s.eof = true
	return StepCodeFinished, nil
}

// feedChunker scans data for cut points, emitting every complete chunk it
// finds and leaving any remainder in s.buffer for the next call (or for
// finishEncode, at FINISHED).
func (s *Synchronizer) feedChunker(data []byte) error {
	for {
		offset, found := s.chunk.Scan(data)
		if !found {
			s.buffer = append(s.buffer, data...)
			return nil
		}

		var chunkBytes []byte
		if len(s.buffer) == 0 {
			chunkBytes = data[:offset]
		} else {
			s.buffer = append(s.buffer, data[:offset]...)
			chunkBytes = s.buffer
		}

		if err := s.emitChunk(chunkBytes); err != nil {
			return err
		}
		s.buffer = nil

		data = data[offset:]
		if len(data) == 0 {
			return nil
		}
	}
}

// emitChunk computes a chunk's object identifier, stores it in the
// writable store (if configured), and appends an index record (if an
// index writer is configured). A nil writable store makes this a no-op
// beyond identifier computation, supporting an archive-sink-only session
// with no chunk store at all.
func (s *Synchronizer) emitChunk(data []byte) error {
	s.objectHasher.Reset()
	s.objectHasher.Write(data)
	id := s.objectHasher.Sum()

	if s.wstore != nil {
		if err := s.wstore.Put(id, data); err != nil {
			return fmt.Errorf("unable to store chunk: %w", err)
		}
	}
	if s.indexWriter != nil {
		if err := s.indexWriter.WriteObject(id, len(data)); err != nil {
			return fmt.Errorf("unable to append index record: %w", err)
		}
	}
	return nil
}

// stepDecode drives one Decoder.Step call, servicing a data request if the
// decoder needs more bytes before it can make progress.
func (s *Synchronizer) stepDecode() (StepCode, error) {
	outcome, err := s.decoder.Step()
	if err != nil {
		return StepCodeFinished, fmt.Errorf("decode step failed: %w", err)
	}

	switch outcome {
	case archive.DecodeFinished:
		return s.finishDecode()
	case archive.DecodeRequest:
		if err := s.serviceDecodeRequest(); err != nil {
			return StepCodeFinished, err
		}
		return StepCodeStep, nil
	case archive.DecodeNextFile:
		return StepCodeNextFile, nil
	default:
		return StepCodeStep, nil
	}
}

// finishDecode commits the base tree under its final name (if a temp path
// was used) and marks the pipeline eof.
func (s *Synchronizer) finishDecode() (StepCode, error) {
	if s.baseFD != nil {
		if err := s.baseFD.Close(); err != nil {
			return StepCodeFinished, fmt.Errorf("unable to close base tree: %w", err)
		}
		s.baseFD = nil
	}

	if s.temporaryBasePath != "" {
		if err := filesystem.Rename(nil, s.temporaryBasePath, nil, s.basePath, true); err != nil {
			return StepCodeFinished, fmt.Errorf("unable to commit base tree: %w", err)
		}
		s.temporaryBasePath = ""
	}

	s.finalDigest = s.archiveHasher.Sum()
	s.eof = true
	return StepCodeFinished, nil
}

// serviceDecodeRequest supplies the decoder with its next slice of
// archive bytes, resolved either through the index (chunk-at-a-time,
// fetched through the store fallback cascade) or by reading directly from
// an open archive descriptor. The archive digest absorbs exactly the
// bytes the decoder accepted, in that order, so that a digest read after
// eof reflects precisely the concatenation of everything the decoder
// consumed.
func (s *Synchronizer) serviceDecodeRequest() error {
	if s.indexReader != nil {
		id, expectedSize, err := s.indexReader.ReadObject()
		if err == io.EOF {
			if err := s.decoder.PutEOF(); err != nil {
				return fmt.Errorf("unable to signal end of archive stream: %w", err)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("unable to read index record: %w", err)
		}

		data, err := s.get(id)
		if err != nil {
			return err
		}
		if len(data) != expectedSize {
			return newError(ErrorKindBadMessage, fmt.Sprintf(
				"chunk %s size mismatch: index says %d, store has %d", id, expectedSize, len(data)))
		}

		if err := s.decoder.PutData(data); err != nil {
			return fmt.Errorf("unable to deliver chunk to decoder: %w", err)
		}
		s.archiveHasher.Write(data)
		return nil
	}

	if s.archiveFD != nil {
		buffer := make([]byte, 64*1024)
		n, err := s.archiveFD.Read(buffer)
		if err != nil && err != io.EOF {
			return fmt.Errorf("unable to read archive stream: %w", err)
		}
		if n > 0 {
			chunk := buffer[:n]
			if err := s.decoder.PutData(chunk); err != nil {
				return fmt.Errorf("unable to deliver archive bytes to decoder: %w", err)
			}
			s.archiveHasher.Write(chunk)
		}
		if n == 0 || err == io.EOF {
			if err := s.decoder.PutEOF(); err != nil {
				return fmt.Errorf("unable to signal end of archive stream: %w", err)
			}
		}
		return nil
	}

	return newError(ErrorKindDirectionMismatch, "neither an index nor an archive stream is configured")
}

// Get resolves id through the writable store, then each seed store in
// registration order, returning the first result that is not NOT-FOUND
// (including an error other than not-found, which is returned verbatim).
func (s *Synchronizer) Get(id objectid.ID) ([]byte, error) {
	return s.get(id)
}

func (s *Synchronizer) get(id objectid.ID) ([]byte, error) {
	if s.wstore != nil {
		data, err := s.wstore.Get(id)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, chunkstore.ErrNotFound) {
			return nil, err
		}
	}
	for _, store := range s.rstores {
		data, err := store.Get(id)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, chunkstore.ErrNotFound) {
			return nil, err
		}
	}
	return nil, newError(ErrorKindNotFound, fmt.Sprintf("object %s not found in any configured store", id))
}

// Put stores data under its object identifier in the writable store,
// which must be configured.
func (s *Synchronizer) Put(id objectid.ID, data []byte) error {
	if s.wstore == nil {
		return newError(ErrorKindNotReady, "no writable store configured")
	}
	return s.wstore.Put(id, data)
}

// MakeObjectID returns the content address for data without storing it.
func (s *Synchronizer) MakeObjectID(data []byte) objectid.ID {
	return objectid.Compute(data)
}

// GetDigest returns the archive-level digest over the complete archive
// stream. It fails with BUSY before the pipeline has reached eof, so that
// a caller can never observe a digest over a partial stream.
func (s *Synchronizer) GetDigest() (objectid.ID, error) {
	if !s.eof {
		return objectid.ID{}, newError(ErrorKindBusy, "archive digest unavailable before pipeline completion")
	}
	return s.finalDigest, nil
}

// CurrentPath delegates to whichever of the encoder or decoder is active,
// for progress reporting between Step calls.
func (s *Synchronizer) CurrentPath() (string, error) {
	if s.encoder != nil {
		return s.encoder.CurrentPath(), nil
	}
	if s.decoder != nil {
		return s.decoder.CurrentPath(), nil
	}
	return "", newError(ErrorKindDirectionMismatch, "pipeline not yet started")
}

// CurrentMode delegates to whichever of the encoder or decoder is active.
func (s *Synchronizer) CurrentMode() (uint32, error) {
	if s.encoder != nil {
		return s.encoder.CurrentMode(), nil
	}
	if s.decoder != nil {
		return s.decoder.CurrentMode(), nil
	}
	return 0, newError(ErrorKindDirectionMismatch, "pipeline not yet started")
}
