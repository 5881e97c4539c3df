package archive

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/chunkarchive/chunkarchive/pkg/logging"
)

// encodeAll drains an Encoder completely, returning the concatenated
// archive bytes it produced.
func encodeAll(t *testing.T, e *Encoder) []byte {
	t.Helper()
	var out bytes.Buffer
	for {
		step, err := e.Step()
		if err != nil {
			t.Fatalf("encode step failed: %v", err)
		}
		switch step {
		case StepFinished:
			return out.Bytes()
		case StepNextFile, StepData:
			out.Write(e.GetData())
		default:
			t.Fatalf("unexpected encode step %v", step)
		}
	}
}

// decodeAll drains a Decoder completely by feeding it data in fixed-size
// pushes, simulating chunk-sized delivery rather than delivering the whole
// archive in one push.
func decodeAll(t *testing.T, d *Decoder, archiveBytes []byte) {
	t.Helper()
	const pushSize = 7
	offset := 0
	for {
		step, err := d.Step()
		if err != nil {
			t.Fatalf("decode step failed: %v", err)
		}
		switch step {
		case DecodeFinished:
			return
		case DecodeRequest:
			if offset >= len(archiveBytes) {
				t.Fatalf("decoder requested data but none remains")
			}
			end := offset + pushSize
			if end > len(archiveBytes) {
				end = len(archiveBytes)
			}
			if err := d.PutData(archiveBytes[offset:end]); err != nil {
				t.Fatalf("put data failed: %v", err)
			}
			offset = end
			if offset >= len(archiveBytes) {
				if err := d.PutEOF(); err != nil {
					t.Fatalf("put eof failed: %v", err)
				}
			}
		case DecodeNextFile, DecodeStepProgress, DecodePayload:
			// Continue.
		default:
			t.Fatalf("unexpected decode step %v", step)
		}
	}
}

func TestEncodeDecodeDirectoryRoundTrip(t *testing.T) {
	source := t.TempDir()
	if err := os.WriteFile(filepath.Join(source, "top.txt"), []byte("hello, world"), 0644); err != nil {
		t.Fatalf("unable to write fixture file: %v", err)
	}
	if err := os.Mkdir(filepath.Join(source, "sub"), 0755); err != nil {
		t.Fatalf("unable to create fixture subdirectory: %v", err)
	}
	nested := bytes.Repeat([]byte{0}, 10*1024)
	if err := os.WriteFile(filepath.Join(source, "sub", "zeros.bin"), nested, 0644); err != nil {
		t.Fatalf("unable to write fixture file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(source, "sub", "empty.txt"), nil, 0644); err != nil {
		t.Fatalf("unable to write fixture file: %v", err)
	}

	logger := logging.NewLogger(logging.LevelDisabled, os.Stderr)

	baseFD, err := os.Open(source)
	if err != nil {
		t.Fatalf("unable to open fixture root: %v", err)
	}
	encoder := NewEncoder(logger)
	if err := encoder.SetBaseFD(baseFD); err != nil {
		t.Fatalf("unable to set encoder base: %v", err)
	}
	archiveBytes := encodeAll(t, encoder)
	if len(archiveBytes) == 0 {
		t.Fatalf("expected non-empty archive")
	}

	destination := t.TempDir()
	if err := os.Mkdir(destination, 0755); err != nil && !os.IsExist(err) {
		t.Fatalf("unable to create destination: %v", err)
	}
	decoder := NewDecoder(logger)
	if err := decoder.SetBaseMode(destination, KindDirectory); err != nil {
		t.Fatalf("unable to set decoder base: %v", err)
	}
	decodeAll(t, decoder, archiveBytes)

	got, err := os.ReadFile(filepath.Join(destination, "top.txt"))
	if err != nil {
		t.Fatalf("unable to read decoded file: %v", err)
	}
	if string(got) != "hello, world" {
		t.Fatalf("top.txt content mismatch: got %q", got)
	}

	gotNested, err := os.ReadFile(filepath.Join(destination, "sub", "zeros.bin"))
	if err != nil {
		t.Fatalf("unable to read decoded nested file: %v", err)
	}
	if !bytes.Equal(gotNested, nested) {
		t.Fatalf("nested file content mismatch")
	}

	gotEmpty, err := os.ReadFile(filepath.Join(destination, "sub", "empty.txt"))
	if err != nil {
		t.Fatalf("unable to read decoded empty file: %v", err)
	}
	if len(gotEmpty) != 0 {
		t.Fatalf("expected empty file to remain empty, got %d bytes", len(gotEmpty))
	}

	// Re-encoding the reconstructed tree should reproduce the same bytes.
	destFD, err := os.Open(destination)
	if err != nil {
		t.Fatalf("unable to reopen destination: %v", err)
	}
	reEncoder := NewEncoder(logger)
	if err := reEncoder.SetBaseFD(destFD); err != nil {
		t.Fatalf("unable to set re-encoder base: %v", err)
	}
	reEncoded := encodeAll(t, reEncoder)
	if !bytes.Equal(reEncoded, archiveBytes) {
		t.Fatalf("re-encoding the reconstructed tree did not reproduce the original archive bytes")
	}
}

func TestEncodeDecodeRegularFileRoundTrip(t *testing.T) {
	source := t.TempDir()
	path := filepath.Join(source, "input.bin")
	content := bytes.Repeat([]byte("mutagen"), 4096)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("unable to write fixture file: %v", err)
	}

	logger := logging.NewLogger(logging.LevelDisabled, os.Stderr)

	baseFD, err := os.Open(path)
	if err != nil {
		t.Fatalf("unable to open fixture file: %v", err)
	}
	encoder := NewEncoder(logger)
	if err := encoder.SetBaseFD(baseFD); err != nil {
		t.Fatalf("unable to set encoder base: %v", err)
	}
	archiveBytes := encodeAll(t, encoder)

	destinationDir := t.TempDir()
	destinationPath := filepath.Join(destinationDir, "output.bin")
	destFD, err := os.Create(destinationPath)
	if err != nil {
		t.Fatalf("unable to create decoder destination: %v", err)
	}
	decoder := NewDecoder(logger)
	if err := decoder.SetBaseFD(destFD, KindRegular); err != nil {
		t.Fatalf("unable to set decoder base: %v", err)
	}
	decodeAll(t, decoder, archiveBytes)
	if err := destFD.Close(); err != nil {
		t.Fatalf("unable to close decoder destination: %v", err)
	}

	got, err := os.ReadFile(destinationPath)
	if err != nil {
		t.Fatalf("unable to read decoded file: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("decoded content mismatch")
	}
}
