// Package chunker implements rolling-hash content-defined chunking: scanning
// a byte stream for deterministic cut points so that re-encoding the same
// content (even with insertions or deletions elsewhere in the stream)
// reproduces the same chunk boundaries around unchanged regions.
package chunker

import (
	"fmt"

	"github.com/silvasur/buzhash"
)

const (
	// DefaultWindowSize is the number of trailing bytes the rolling hash
	// considers when deciding whether the current position is a cut point.
	DefaultWindowSize = 64
	// DefaultMinSize is the default minimum chunk size in bytes. No cut is
	// honored before this many bytes have accumulated in the pending chunk.
	DefaultMinSize = 4 * 1024
	// DefaultMaxSize is the default maximum chunk size in bytes. A cut is
	// forced at this size even if the rolling hash never signals one,
	// bounding worst-case chunk size (and therefore worst-case memory use
	// for a single pending chunk).
	DefaultMaxSize = 1024 * 1024
	// DefaultAverageSize is the target average chunk size in bytes, used to
	// derive the cut mask if one isn't specified explicitly.
	DefaultAverageSize = 64 * 1024
)

// maskForAverageSize returns a bitmask such that, for uniformly distributed
// rolling hash values, a cut is signaled on average once every averageSize
// bytes.
func maskForAverageSize(averageSize int) uint32 {
	bits := 0
	for (1 << uint(bits+1)) <= averageSize {
		bits++
	}
	if bits == 0 {
		return 0
	}
	return (uint32(1) << uint(bits)) - 1
}

// Config holds the parameters governing cut-point selection. The zero value
// is not usable; use DefaultConfig.
type Config struct {
	// WindowSize is the rolling hash window size in bytes.
	WindowSize int
	// MinSize is the minimum chunk size; cuts inside it are ignored.
	MinSize int
	// MaxSize is the maximum chunk size; a cut is forced here regardless of
	// the rolling hash.
	MaxSize int
	// CutMask is ANDed with the rolling hash value; a cut is signaled when
	// the result is zero.
	CutMask uint32
}

// DefaultConfig returns the chunker configuration used when none is
// specified explicitly.
func DefaultConfig() Config {
	return Config{
		WindowSize: DefaultWindowSize,
		MinSize:    DefaultMinSize,
		MaxSize:    DefaultMaxSize,
		CutMask:    maskForAverageSize(DefaultAverageSize),
	}
}

// Validate ensures the configuration describes a usable chunker.
func (c Config) Validate() error {
	if c.WindowSize <= 0 {
		return fmt.Errorf("window size must be positive")
	}
	if c.MinSize <= 0 {
		return fmt.Errorf("minimum size must be positive")
	}
	if c.MaxSize < c.MinSize {
		return fmt.Errorf("maximum size (%d) must be at least minimum size (%d)", c.MaxSize, c.MinSize)
	}
	return nil
}

// Chunker is a rolling-hash content-defined splitter. It is stateful: Scan
// must be called with successive, contiguous slices of a single logical
// stream, and the pending-size bookkeeping spans calls. A Chunker is not
// safe for concurrent use.
type Chunker struct {
	config Config
	hash   *buzhash.BuzHash
	// pending is the number of bytes accumulated toward the current chunk
	// since the last cut, including bytes from previous Scan calls.
	pending int
}

// New creates a Chunker using the specified configuration.
func New(config Config) (*Chunker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid chunker configuration: %w", err)
	}
	return &Chunker{
		config: config,
		hash:   buzhash.NewBuzHash(uint32(config.WindowSize)),
	}, nil
}

// Reset clears all chunker state, as if it had just been constructed. Used
// between sessions so a single Chunker value can be reused.
func (c *Chunker) Reset() {
	c.hash.Reset()
	c.pending = 0
}

// Scan looks for the next cut point within data, given that pending bytes
// have already accumulated toward the current chunk from prior calls. It
// returns the offset of the cut (exclusive, i.e. data[:offset] belongs to
// the chunk that is ending) and true if a cut was found within data;
// otherwise it returns false, having consumed the whole slice into the
// pending count.
func (c *Chunker) Scan(data []byte) (offset int, found bool) {
	for i, b := range data {
		c.pending++
		forced := c.pending >= c.config.MaxSize
		sum := c.hash.HashByte(b)
		if forced || (c.pending >= c.config.MinSize && sum&c.config.CutMask == 0) {
			c.pending = 0
			c.hash.Reset()
			return i + 1, true
		}
	}
	return 0, false
}
