//go:build !windows

package diskspace

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Free returns the bytes available to unprivileged users on the filesystem
// containing path. The path must exist.
func Free(path string) (int64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	// Bavail = blocks available to non-root users
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}
