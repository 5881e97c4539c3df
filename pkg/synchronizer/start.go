package synchronizer

import (
	"os"

	"github.com/chunkarchive/chunkarchive/pkg/archive"
	"github.com/chunkarchive/chunkarchive/pkg/chunker"
	"github.com/chunkarchive/chunkarchive/pkg/index"
	"github.com/chunkarchive/chunkarchive/pkg/objectid"
)

// start materializes every resource implied by the configuration surface
// (temporary files, the base tree descriptor, the encoder or decoder, the
// index) and is invoked lazily by the first call to Step. It is
// idempotent in the sense that a second call is a no-op: once started,
// every later Step call skips straight to driving the pipeline.
func (s *Synchronizer) start() error {
	if s.started {
		return nil
	}

	chunk, err := chunker.New(s.chunkerConfig)
	if err != nil {
		return wrapError(ErrorKindInvalidArgument, "unable to construct chunker", err)
	}
	s.chunk = chunk
	s.objectHasher = objectid.NewHasher()
	s.archiveHasher = objectid.NewHasher()

	if s.direction == Encode {
		if err := s.requireArchiveSinkOrIndex(); err != nil {
			return err
		}
		if err := s.startEncode(); err != nil {
			return err
		}
	} else {
		if err := s.startDecode(); err != nil {
			return err
		}
	}

	if err := s.startIndex(); err != nil {
		return err
	}

	s.started = true
	return nil
}

func (s *Synchronizer) startEncode() error {
	if s.archiveFD == nil && s.archivePath != "" {
		temp, err := temporarySiblingPath(s.archivePath)
		if err != nil {
			return wrapError(ErrorKindNotReady, "unable to derive temporary archive path", err)
		}
		perm := s.makePermMode
		if !s.makePermModeSet {
			perm = 0666
		}
		fd, err := os.OpenFile(temp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
		if err != nil {
			return wrapError(ErrorKindNotReady, "unable to create temporary archive file", err)
		}
		s.archiveFD = fd
		s.temporaryArchivePath = temp
	}

	if s.baseFD == nil {
		return newError(ErrorKindNotReady, "encode requires a base filesystem tree")
	}
	s.encoder = archive.NewEncoder(s.logger)
	fd := s.baseFD
	s.baseFD = nil
	if err := s.encoder.SetBaseFD(fd); err != nil {
		return wrapError(ErrorKindInvalidArgument, "unable to configure encoder base", err)
	}
	return nil
}

func (s *Synchronizer) startDecode() error {
	if s.baseFD == nil && s.basePath != "" {
		if !s.baseModeSet {
			return newError(ErrorKindNotReady, "decode by path requires a base mode")
		}
		switch s.baseMode {
		case archive.KindDirectory:
			if err := os.Mkdir(s.basePath, 0777); err != nil && !os.IsExist(err) {
				return wrapError(ErrorKindNotReady, "unable to create base directory", err)
			}
			fd, err := os.Open(s.basePath)
			if err != nil {
				return wrapError(ErrorKindNotReady, "unable to open base directory", err)
			}
			s.baseFD = fd
		case archive.KindRegular:
			temp, err := temporarySiblingPath(s.basePath)
			if err != nil {
				return wrapError(ErrorKindNotReady, "unable to derive temporary base path", err)
			}
			fd, err := os.OpenFile(temp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0666)
			if err != nil {
				return wrapError(ErrorKindNotReady, "unable to create temporary base file", err)
			}
			s.baseFD = fd
			s.temporaryBasePath = temp
		case archive.KindBlockDevice:
			fd, err := os.OpenFile(s.basePath, os.O_WRONLY, 0)
			if err != nil {
				return wrapError(ErrorKindNotReady, "unable to open base block device", err)
			}
			s.baseFD = fd
		default:
			return newError(ErrorKindInvalidArgument, "invalid base mode")
		}
	}

	s.decoder = archive.NewDecoder(s.logger)

	if s.baseFD != nil {
		fd := s.baseFD
		s.baseFD = nil
		kind := s.baseMode
		if !s.baseModeSet {
			info, err := fd.Stat()
			if err != nil {
				return wrapError(ErrorKindInvalidArgument, "unable to stat base descriptor", err)
			}
			mode := info.Mode()
			switch {
			case info.IsDir():
				kind = archive.KindDirectory
			case mode&os.ModeDevice != 0 && mode&os.ModeCharDevice == 0:
				kind = archive.KindBlockDevice
			default:
				kind = archive.KindRegular
			}
		}
		if kind == archive.KindDirectory {
			// A directory base, materialized above (or supplied
			// directly via SetBaseFD), drives entry placement by
			// path rather than by descriptor.
			path := s.basePath
			if path == "" {
				path = fd.Name()
			}
			if err := s.decoder.SetBaseMode(path, archive.KindDirectory); err != nil {
				return wrapError(ErrorKindInvalidArgument, "unable to configure decoder base", err)
			}
			s.baseFD = fd
			return nil
		}
		if err := s.decoder.SetBaseFD(fd, kind); err != nil {
			return wrapError(ErrorKindInvalidArgument, "unable to configure decoder base", err)
		}
		return nil
	}

	return newError(ErrorKindNotReady, "decode requires a base filesystem tree")
}

func (s *Synchronizer) startIndex() error {
	if s.indexFD == nil && s.indexPath == "" {
		return nil
	}

	var stream *os.File
	if s.indexFD != nil {
		stream = s.indexFD
		s.indexFD = nil
	} else if s.direction == Encode {
		fd, err := os.OpenFile(s.indexPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0666)
		if err != nil {
			return wrapError(ErrorKindNotReady, "unable to create index file", err)
		}
		stream = fd
	} else {
		fd, err := os.Open(s.indexPath)
		if err != nil {
			return wrapError(ErrorKindNotReady, "unable to open index file", err)
		}
		stream = fd
	}

	if s.direction == Encode {
		if s.wstore == nil {
			return newError(ErrorKindNotReady, "an index requires a writable store in encode")
		}
		writer, err := index.NewWriter(stream)
		if err != nil {
			return wrapError(ErrorKindNotReady, "unable to initialize index writer", err)
		}
		s.indexWriter = writer
	} else {
		reader, err := index.NewReader(stream)
		if err != nil {
			return wrapError(ErrorKindNotReady, "unable to initialize index reader", err)
		}
		s.indexReader = reader
	}
	return nil
}

// requireArchiveSinkOrIndex enforces that ENCODE has somewhere to send its
// bytes: either an archive sink (descriptor or path) or an index plus
// writable store to record chunk identifiers. Without either, Start would
// succeed but produce nothing observable, so it is rejected up front.
func (s *Synchronizer) requireArchiveSinkOrIndex() error {
	hasArchiveSink := s.archiveFD != nil || s.archivePath != ""
	hasIndex := s.indexFD != nil || s.indexPath != ""
	if !hasArchiveSink && !hasIndex {
		return newError(ErrorKindNotReady, "encode requires an archive sink or an index")
	}
	if hasIndex && !hasArchiveSink && s.wstore == nil {
		return newError(ErrorKindNotReady, "an index without an archive sink requires a writable store")
	}
	return nil
}
