package chunker

import (
	"bytes"
	"math/rand"
	"testing"
)

// TestMaskForAverageSizeRoundsDownToPowerOfTwo verifies that the derived cut
// mask targets a power-of-two average without exceeding the requested size.
func TestMaskForAverageSizeRoundsDownToPowerOfTwo(t *testing.T) {
	mask := maskForAverageSize(64 * 1024)
	if mask != (1<<16)-1 {
		t.Errorf("unexpected mask for 64 KiB average: %#x", mask)
	}
}

// TestConfigValidate tests that invalid configurations are rejected.
func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"default", DefaultConfig(), true},
		{"zero window", Config{WindowSize: 0, MinSize: 1, MaxSize: 2}, false},
		{"zero min", Config{WindowSize: 1, MinSize: 0, MaxSize: 2}, false},
		{"max less than min", Config{WindowSize: 1, MinSize: 10, MaxSize: 5}, false},
	}
	for _, c := range cases {
		if err := c.cfg.Validate(); (err == nil) != c.ok {
			t.Errorf("%s: Validate() error = %v, want ok = %v", c.name, err, c.ok)
		}
	}
}

// TestScanRespectsMinAndMaxSize ensures that no chunk is ever emitted smaller
// than MinSize (except possibly the final flush, which the chunker itself
// doesn't know about) or larger than MaxSize.
func TestScanRespectsMinAndMaxSize(t *testing.T) {
	cfg := Config{WindowSize: 16, MinSize: 128, MaxSize: 512, CutMask: maskForAverageSize(256)}
	c, err := New(cfg)
	if err != nil {
		t.Fatal("unable to create chunker:", err)
	}

	source := rand.New(rand.NewSource(1))
	data := make([]byte, 256*1024)
	if _, err := source.Read(data); err != nil {
		t.Fatal("unable to generate random data:", err)
	}

	var sizes []int
	pending := 0
	remaining := data
	for len(remaining) > 0 {
		offset, found := c.Scan(remaining)
		if !found {
			pending += len(remaining)
			break
		}
		pending += offset
		sizes = append(sizes, pending)
		pending = 0
		remaining = remaining[offset:]
	}

	var total int
	for _, size := range sizes {
		if size < cfg.MinSize {
			t.Errorf("chunk size %d below minimum %d", size, cfg.MinSize)
		}
		if size > cfg.MaxSize {
			t.Errorf("chunk size %d above maximum %d", size, cfg.MaxSize)
		}
		total += size
	}
	total += pending
	if total != len(data) {
		t.Errorf("chunk sizes sum to %d, expected %d", total, len(data))
	}
}

// TestScanIsDeterministic verifies that scanning the same content twice
// produces identical cut points, which is the entire point of content-defined
// chunking (stable boundaries for stable content).
func TestScanIsDeterministic(t *testing.T) {
	data := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog"), 4096)

	scanAll := func() []int {
		c, err := New(DefaultConfig())
		if err != nil {
			t.Fatal("unable to create chunker:", err)
		}
		var cuts []int
		consumed := 0
		remaining := data
		for len(remaining) > 0 {
			offset, found := c.Scan(remaining)
			if !found {
				break
			}
			consumed += offset
			cuts = append(cuts, consumed)
			remaining = remaining[offset:]
		}
		return cuts
	}

	first := scanAll()
	second := scanAll()
	if len(first) != len(second) {
		t.Fatalf("cut count mismatch: %d != %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("cut %d mismatch: %d != %d", i, first[i], second[i])
		}
	}
}

// TestResetClearsPendingState ensures a reused Chunker doesn't leak pending
// byte counts or rolling hash state across sessions.
func TestResetClearsPendingState(t *testing.T) {
	cfg := Config{WindowSize: 8, MinSize: 4, MaxSize: 16, CutMask: 0xFFFFFFFF}
	c, err := New(cfg)
	if err != nil {
		t.Fatal("unable to create chunker:", err)
	}

	// With a cut mask of all ones, no byte will ever satisfy sum&mask==0
	// except by chance at zero, so MaxSize forces every cut.
	data := bytes.Repeat([]byte{0xAB}, 100)
	offset, found := c.Scan(data)
	if !found {
		t.Fatal("expected a forced cut at MaxSize")
	}
	if offset != cfg.MaxSize {
		t.Errorf("expected forced cut at %d, got %d", cfg.MaxSize, offset)
	}

	c.Reset()
	if c.pending != 0 {
		t.Error("Reset did not clear pending byte count")
	}
}
