// +build !windows

package filesystem

import (
	"os"
	"strings"

	"github.com/pkg/errors"

	"golang.org/x/sys/unix"
)

// ensureValidName verifies that the provided name does not reference the
// current directory, the parent directory, or contain a path separator
// character.
func ensureValidName(name string) error {
	// Verify that the name does not reference the directory itself or the
	// parent directory.
	if name == "." {
		return errors.New("name is directory reference")
	} else if name == ".." {
		return errors.New("name is parent directory reference")
	}

	// Verify that the path separator character does not appear in the name.
	if strings.IndexByte(name, os.PathSeparator) != -1 {
		return errors.New("path separator appears in name")
	}

	// Success.
	return nil
}

// Directory identifies a directory by file descriptor for use with Rename's
// *at-relative addressing. Every call site in this module passes nil (path-
// relative addressing) for both the source and target directory.
type Directory struct {
	// descriptor is the file descriptor for the directory, designed to be used
	// in conjunction with POSIX *at functions.
	descriptor int
}

// Rename performs an atomic rename operation from one filesystem location (the
// source) to another (the target). Each location can be specified in one of two
// ways: either by a combination of directory and (non-path) name or by path
// (with corresponding nil Directory object). Different specification mechanisms
// can be used for each location.
//
// If allowOverwrite is false, the rename fails (without touching the target)
// if the target already exists, using the platform's atomic no-replace
// rename variant where available and falling back to an existence check
// followed by a normal rename otherwise.
//
// This function does not support cross-device renames.
func Rename(
	sourceDirectory *Directory, sourceNameOrPath string,
	targetDirectory *Directory, targetNameOrPath string,
	allowOverwrite bool,
) error {
	// If a source directory has been provided, then verify that the source name
	// is a valid name and not a path.
	if sourceDirectory != nil {
		if err := ensureValidName(sourceNameOrPath); err != nil {
			return errors.Wrap(err, "source name invalid")
		}
	}

	// If a target directory has been provided, then verify that the target name
	// is a valid name and not a path.
	if targetDirectory != nil {
		if err := ensureValidName(targetNameOrPath); err != nil {
			return errors.Wrap(err, "target name invalid")
		}
	}

	// Extract the file descriptors to pass to renameat. A nil Directory means
	// path-based addressing, resolved against the current working directory.
	sourceDescriptor, targetDescriptor := unix.AT_FDCWD, unix.AT_FDCWD
	if sourceDirectory != nil {
		sourceDescriptor = sourceDirectory.descriptor
	}
	if targetDirectory != nil {
		targetDescriptor = targetDirectory.descriptor
	}

	// If overwriting is disallowed, try the platform's atomic no-replace
	// rename variant first.
	if !allowOverwrite {
		err := renameatNoReplaceRetryingOnEINTR(
			sourceDescriptor, sourceNameOrPath,
			targetDescriptor, targetNameOrPath,
		)
		if err == nil {
			return nil
		} else if err != unix.ENOTSUP && err != unix.ENOSYS {
			return err
		}
		// Fall through to the non-atomic fallback below for platforms or
		// filesystems that don't support a no-replace rename, after checking
		// that the target does not already exist.
		var metadata unix.Stat_t
		if err := unix.Fstatat(targetDescriptor, targetNameOrPath, &metadata, unix.AT_SYMLINK_NOFOLLOW); err == nil {
			return unix.EEXIST
		} else if err != unix.ENOENT {
			return err
		}
	}

	// Perform an atomic rename.
	return unix.Renameat(
		sourceDescriptor, sourceNameOrPath,
		targetDescriptor, targetNameOrPath,
	)
}
