// Package filesystem provides filesystem utility functions used by the
// archive, index, and chunk store packages for atomic renames, permission
// application, and directory traversal.
package filesystem
