package must

import (
	"fmt"
	"io"
	"os"

	"github.com/chunkarchive/chunkarchive/pkg/logging"
)

// Fprint writes to w, logging (rather than returning) any failure to write
// the complete string.
func Fprint(w io.Writer, logger *logging.Logger, a ...interface{}) {
	s := fmt.Sprint(a...)
	n, err := fmt.Fprint(w, s)
	if err != nil {
		logger.Warnf("unable to Fprint '%s': %s", s, err.Error())
	}
	if n < len(s) {
		logger.Warnf("unable to Fprint all of '%s'; printed only %d of %d bytes", s, n, len(s))
	}
}

// Close closes c, logging (rather than returning) any failure.
func Close(c io.Closer, logger *logging.Logger) {
	if err := c.Close(); err != nil {
		logger.Warnf("unable to close: %s", err.Error())
	}
}

// WriteString writes s to ws, logging (rather than returning) any failure.
func WriteString(ws interface{ WriteString(string) (int, error) }, s string, logger *logging.Logger) {
	n, err := ws.WriteString(s)
	if err != nil {
		logger.Warnf("unable to write string '%s': %s", s, err.Error())
	}
	if n < len(s) {
		logger.Warnf("unable to write all of string '%s'; only wrote %d of %d bytes", s, n, len(s))
	}
}

// Remove removes the named path from r, logging (rather than returning) any
// failure.
func Remove(r interface{ Remove(string) error }, path string, logger *logging.Logger) {
	if err := r.Remove(path); err != nil {
		logger.Warnf("unable to remove '%s': %s", path, err.Error())
	}
}

// Unlock unlocks locker, logging (rather than returning) any failure.
func Unlock(locker interface{ Unlock() error }, logger *logging.Logger) {
	if err := locker.Unlock(); err != nil {
		logger.Warnf("unable to unlock locker: %s", err.Error())
	}
}

// OSRemove removes the named filesystem path, logging (rather than
// returning) any failure.
func OSRemove(name string, logger *logging.Logger) {
	if err := os.Remove(name); err != nil {
		logger.Warnf("unable to remove '%s': %s", name, err.Error())
	}
}

// Truncate truncates t to size, logging (rather than returning) any failure.
func Truncate(t interface{ Truncate(int64) error }, size int64, logger *logging.Logger) {
	if err := t.Truncate(size); err != nil {
		logger.Warnf("unable to truncate to size %d: %s", size, err.Error())
	}
}

// IOCopy copies from src to dst, logging (rather than returning) any
// failure.
func IOCopy(dst io.Writer, src io.Reader, logger *logging.Logger) {
	if _, err := io.Copy(dst, src); err != nil {
		logger.Warnf("unable to copy from source to destination: %s", err.Error())
	}
}

// Flush flushes sd, logging (rather than returning) any failure.
func Flush(sd interface{ Flush() error }, logger *logging.Logger) {
	if err := sd.Flush(); err != nil {
		logger.Warnf("unable to flush: %s", err.Error())
	}
}
