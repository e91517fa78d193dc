//go:build windows

package diskspace

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// Free returns the bytes available to the caller on the volume containing
// path. The path must exist.
func Free(path string) (int64, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, fmt.Errorf("encode path %s: %w", path, err)
	}
	var available, total, free uint64
	if err := windows.GetDiskFreeSpaceEx(p, &available, &total, &free); err != nil {
		return 0, fmt.Errorf("GetDiskFreeSpaceEx %s: %w", path, err)
	}
	return int64(available), nil
}
