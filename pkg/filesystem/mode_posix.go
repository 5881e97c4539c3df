// +build !windows

package filesystem

import (
	"golang.org/x/sys/unix"
)

// Mode is an opaque type representing a file mode. It is guaranteed to be
// convertable to a uint32 value. On POSIX sytems, it is the raw underlying file
// mode from the Stat_t structure (as opposed to the os package's FileMode
// implementation).
type Mode uint32

// ModePermissionsMask is a bit mask that isolates permission bits from a
// Mode.
const ModePermissionsMask = Mode(unix.S_IRWXU | unix.S_IRWXG | unix.S_IRWXO)
