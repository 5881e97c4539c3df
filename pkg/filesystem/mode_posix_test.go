// +build !windows

package filesystem

import (
	"testing"

	"golang.org/x/sys/unix"
)

// TestModePermissionsMaskMatchesOS verifies that ModePermissionsMask matches
// its expected value per the POSIX specification.
func TestModePermissionsMaskMatchesOS(t *testing.T) {
	if ModePermissionsMask != Mode(unix.S_IRWXU|unix.S_IRWXG|unix.S_IRWXO) {
		t.Error("ModePermissionsMask does not match expected value")
	}
}
