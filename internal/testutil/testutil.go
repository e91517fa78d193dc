// Package testutil provides common test helpers for vmxfer tests.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/javanstorm/vmxfer/pkg/hypervisor"
)

// CreateTestDisk creates a sparse disk file at the given path with the specified size.
// The file is created as a sparse file, so it doesn't actually allocate all the space.
func CreateTestDisk(t *testing.T, path string, size int64) {
	t.Helper()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("failed to create directory %s: %v", dir, err)
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create test disk at %s: %v", path, err)
	}
	defer f.Close()

	if err := f.Truncate(size); err != nil {
		t.Fatalf("failed to truncate test disk to %d bytes: %v", size, err)
	}
}

// CreatePayload lays out an exported VM folder under dir/name the way
// Export-VM does: one .vmcx config under "Virtual Machines" and one .vhdx per
// disk size under "Virtual Hard Disks". It returns the payload path.
func CreatePayload(t *testing.T, dir, name string, diskSizes ...int64) string {
	t.Helper()

	payload := filepath.Join(dir, name)
	vmDir := filepath.Join(payload, hypervisor.VirtualMachinesDir)
	if err := os.MkdirAll(vmDir, 0755); err != nil {
		t.Fatalf("failed to create %s: %v", vmDir, err)
	}
	config := filepath.Join(vmDir, "7C1F2A90-0000-4000-8000-000000000001.vmcx")
	if err := os.WriteFile(config, []byte("vmcx"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	for i, size := range diskSizes {
		disk := filepath.Join(payload, hypervisor.VirtualHardDisksDir, fmt.Sprintf("%s-%d.vhdx", name, i))
		CreateTestDisk(t, disk, size)
	}
	return payload
}

// NewLocalPlatform returns a directory-backed platform in a temp dir with one
// VM per name, each holding a single disk of diskSize bytes.
func NewLocalPlatform(t *testing.T, diskSize int64, names ...string) *hypervisor.Local {
	t.Helper()

	local := hypervisor.NewLocal(filepath.Join(t.TempDir(), "store"))
	for _, name := range names {
		if _, err := local.CreateVM(name, []int64{diskSize}); err != nil {
			t.Fatalf("failed to create VM %s: %v", name, err)
		}
	}
	return local
}
