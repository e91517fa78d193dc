// Package diskspace provides utilities for checking available disk space
// across different operating systems and file systems.
package diskspace

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// InsufficientSpaceError indicates that there is not enough disk space available.
type InsufficientSpaceError struct {
	Path           string
	RequiredBytes  int64
	AvailableBytes int64
}

func (e *InsufficientSpaceError) Error() string {
	requiredGB := float64(e.RequiredBytes) / (1 << 30)
	availableGB := float64(e.AvailableBytes) / (1 << 30)
	return fmt.Sprintf("insufficient disk space on %s: need %.2f GB, have %.2f GB available",
		e.Path, requiredGB, availableGB)
}

// IsInsufficientSpaceError checks if err is or wraps an InsufficientSpaceError.
func IsInsufficientSpaceError(err error) bool {
	var spaceErr *InsufficientSpaceError
	return errors.As(err, &spaceErr)
}

// Check compares the free space on the volume holding path against
// requiredBytes. Having exactly requiredBytes free passes.
func Check(path string, requiredBytes int64) error {
	available, err := Free(path)
	if err != nil {
		return err
	}
	return Compare(path, requiredBytes, available)
}

// Compare is the decision half of Check, split out so callers with their own
// free-space source get identical boundary behaviour.
func Compare(path string, requiredBytes, availableBytes int64) error {
	if availableBytes < requiredBytes {
		return &InsufficientSpaceError{
			Path:           path,
			RequiredBytes:  requiredBytes,
			AvailableBytes: availableBytes,
		}
	}
	return nil
}

// IsNetworkPath reports whether path addresses a network location:
// a UNC path (\\server\share or //server/share) or a URL with a host.
func IsNetworkPath(path string) bool {
	if strings.HasPrefix(path, `\\`) || strings.HasPrefix(path, "//") {
		// \\?\C:\... is a local extended-length path, not a share.
		return !strings.HasPrefix(path, `\\?\`) && !strings.HasPrefix(path, `\\.\`)
	}
	return IsURL(path)
}

// IsURL reports whether path is a URL with a scheme and a host, such as
// smb://nas/vms. Single-letter schemes are Windows drive letters.
func IsURL(path string) bool {
	u, err := url.Parse(path)
	return err == nil && len(u.Scheme) > 1 && u.Host != ""
}
