package hypervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Payload and VM folder names, matching the Hyper-V export layout.
const (
	VirtualMachinesDir  = "Virtual Machines"
	VirtualHardDisksDir = "Virtual Hard Disks"
)

// localVM is a VM entry in the local registry file.
type localVM struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Disks     []string  `json:"disks"`
	CreatedAt time.Time `json:"created_at"`
}

func (v *localVM) entity() *Entity {
	return &Entity{ID: v.ID, Name: v.Name, Path: v.Path, State: "Off"}
}

// localRegistryData holds the registry file contents.
type localRegistryData struct {
	VMs []localVM `json:"vms"`
}

// Local is a directory-backed Platform. VMs are registry entries whose disks
// are plain files; export and import copy them with progress reported through
// in-process management jobs.
type Local struct {
	root         string
	registryPath string
	mu           sync.Mutex // Guards the registry file
	jobs         *localJobs
}

// NewLocal creates a local driver storing its state under root.
func NewLocal(root string) *Local {
	return &Local{
		root:         root,
		registryPath: filepath.Join(root, "vms.json"),
		jobs:         newLocalJobs(),
	}
}

func (l *Local) Info() Info {
	return Info{
		Name:    BackendLocal,
		Version: "1.0.0",
		Host:    "localhost",
	}
}

// DefaultVMPath returns the storage directory a VM gets when none is requested.
func (l *Local) DefaultVMPath(name string) string {
	return filepath.Join(l.root, "vms", name)
}

// load reads the registry from disk. Caller holds mu.
func (l *Local) load() (*localRegistryData, error) {
	data, err := os.ReadFile(l.registryPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &localRegistryData{VMs: []localVM{}}, nil
		}
		return nil, fmt.Errorf("read registry: %w", err)
	}

	var reg localRegistryData
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}
	return &reg, nil
}

// save writes the registry atomically. Caller holds mu.
func (l *Local) save(reg *localRegistryData) error {
	if err := os.MkdirAll(l.root, 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}

	tmpPath := l.registryPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write registry temp: %w", err)
	}
	if err := os.Rename(tmpPath, l.registryPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename registry: %w", err)
	}
	return nil
}

// update loads the registry, applies fn and saves the result.
func (l *Local) update(fn func(reg *localRegistryData) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	reg, err := l.load()
	if err != nil {
		return err
	}
	if err := fn(reg); err != nil {
		return err
	}
	return l.save(reg)
}

func (l *Local) lookup(match func(v *localVM) bool) (*localVM, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	reg, err := l.load()
	if err != nil {
		return nil, err
	}
	for i := range reg.VMs {
		if match(&reg.VMs[i]) {
			vm := reg.VMs[i]
			return &vm, nil
		}
	}
	return nil, ErrVMNotFound
}

// register adds a VM entry, rejecting duplicate identifiers.
func (l *Local) register(vm localVM) error {
	return l.update(func(reg *localRegistryData) error {
		for _, existing := range reg.VMs {
			if existing.ID == vm.ID {
				return fmt.Errorf("VM id '%s': %w", vm.ID, ErrVMExists)
			}
		}
		vm.CreatedAt = time.Now()
		reg.VMs = append(reg.VMs, vm)
		return nil
	})
}

// CreateVM registers a new VM with sparse disks of the given sizes.
func (l *Local) CreateVM(name string, diskSizes []int64) (*Entity, error) {
	if _, err := l.FindVM(context.Background(), name); err == nil {
		return nil, fmt.Errorf("VM '%s': %w", name, ErrVMExists)
	}

	vm := localVM{
		ID:   uuid.New().String(),
		Name: name,
		Path: l.DefaultVMPath(name),
	}
	diskDir := filepath.Join(vm.Path, VirtualHardDisksDir)
	if err := os.MkdirAll(diskDir, 0755); err != nil {
		return nil, fmt.Errorf("create disk directory: %w", err)
	}
	for i, size := range diskSizes {
		path := filepath.Join(diskDir, fmt.Sprintf("%s-disk%d.vhdx", name, i))
		if err := createSparse(path, size); err != nil {
			return nil, err
		}
		vm.Disks = append(vm.Disks, path)
	}

	if err := l.register(vm); err != nil {
		return nil, err
	}
	return vm.entity(), nil
}

func createSparse(path string, size int64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create disk: %w", err)
	}
	defer f.Close()
	if err := f.Truncate(size); err != nil {
		return fmt.Errorf("size disk: %w", err)
	}
	return nil
}

// ListVMs returns every registered VM.
func (l *Local) ListVMs(ctx context.Context) ([]Entity, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	reg, err := l.load()
	if err != nil {
		return nil, err
	}
	entities := make([]Entity, 0, len(reg.VMs))
	for i := range reg.VMs {
		entities = append(entities, *reg.VMs[i].entity())
	}
	return entities, nil
}

func (l *Local) FindVM(ctx context.Context, name string) (*Entity, error) {
	vm, err := l.lookup(func(v *localVM) bool { return v.Name == name })
	if err != nil {
		return nil, err
	}
	return vm.entity(), nil
}

func (l *Local) GetVM(ctx context.Context, id string) (*Entity, error) {
	vm, err := l.lookup(func(v *localVM) bool { return v.ID == id })
	if err != nil {
		return nil, err
	}
	return vm.entity(), nil
}

func (l *Local) RenameVM(ctx context.Context, id, newName string) error {
	return l.update(func(reg *localRegistryData) error {
		for i := range reg.VMs {
			if reg.VMs[i].ID == id {
				reg.VMs[i].Name = newName
				return nil
			}
		}
		return ErrVMNotFound
	})
}

func (l *Local) MoveStorage(ctx context.Context, id, path string) error {
	return l.update(func(reg *localRegistryData) error {
		for i := range reg.VMs {
			vm := &reg.VMs[i]
			if vm.ID != id {
				continue
			}
			diskDir := filepath.Join(path, VirtualHardDisksDir)
			if err := os.MkdirAll(diskDir, 0755); err != nil {
				return fmt.Errorf("create disk directory: %w", err)
			}
			moved := make([]string, 0, len(vm.Disks))
			for _, disk := range vm.Disks {
				dst := filepath.Join(diskDir, filepath.Base(disk))
				if err := moveFile(ctx, disk, dst); err != nil {
					return fmt.Errorf("move disk %s: %w", filepath.Base(disk), err)
				}
				moved = append(moved, dst)
			}
			// Leftover directories are removed only when empty.
			os.Remove(filepath.Join(vm.Path, VirtualHardDisksDir))
			os.Remove(vm.Path)
			vm.Path = path
			vm.Disks = moved
			return nil
		}
		return ErrVMNotFound
	})
}

func (l *Local) ListDisks(ctx context.Context, id string) ([]Disk, error) {
	vm, err := l.lookup(func(v *localVM) bool { return v.ID == id })
	if err != nil {
		return nil, err
	}

	disks := make([]Disk, 0, len(vm.Disks))
	for _, path := range vm.Disks {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue // Detached or deleted out from under us
			}
			return nil, fmt.Errorf("stat disk: %w", err)
		}
		disks = append(disks, Disk{Path: path, Size: info.Size()})
	}
	return disks, nil
}

func (l *Local) ListJobs(ctx context.Context) ([]Job, error) {
	return l.jobs.list(), nil
}

func (l *Local) GetJob(ctx context.Context, id string) (*Job, error) {
	return l.jobs.get(id)
}

func (l *Local) CancelJob(ctx context.Context, id string) error {
	return l.jobs.cancel(id)
}
