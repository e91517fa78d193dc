package hypervisor

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// exportConfig is the VM configuration written into an export payload.
type exportConfig struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	ExportedAt time.Time    `json:"exported_at"`
	Disks      []exportDisk `json:"disks"`
}

type exportDisk struct {
	File     string `json:"file"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"` // SHA256 of the disk file
}

// byteCounter accumulates copied bytes across files and reports them to a job.
type byteCounter struct {
	job   *jobHandle
	done  int64
	total int64
}

func (c *byteCounter) add(n int64) {
	c.done += n
	c.job.progress(c.done, c.total)
}

func (l *Local) Export(ctx context.Context, spec ExportSpec) (*Entity, error) {
	vm, err := l.lookup(func(v *localVM) bool { return v.Name == spec.Name })
	if err != nil {
		return nil, fmt.Errorf("export VM '%s': %w", spec.Name, err)
	}

	ctx, job := l.jobs.start(ctx, "Export Virtual Machine",
		fmt.Sprintf("Exporting virtual machine '%s'", vm.Name), vm.Name)
	entity, err := l.export(ctx, vm, spec.Path, job)
	job.finish(err)
	return entity, err
}

func (l *Local) export(ctx context.Context, vm *localVM, dest string, job *jobHandle) (*Entity, error) {
	payload := filepath.Join(dest, vm.Name)
	if _, err := os.Stat(payload); err == nil {
		return nil, fmt.Errorf("export folder '%s' already exists", payload)
	}

	cfg := exportConfig{ID: vm.ID, Name: vm.Name}
	counter := &byteCounter{job: job}
	for _, disk := range vm.Disks {
		info, err := os.Stat(disk)
		if err != nil {
			return nil, fmt.Errorf("stat disk: %w", err)
		}
		counter.total += info.Size()
	}

	diskDir := filepath.Join(payload, VirtualHardDisksDir)
	if err := os.MkdirAll(diskDir, 0755); err != nil {
		return nil, fmt.Errorf("create payload: %w", err)
	}

	for _, disk := range vm.Disks {
		dst := filepath.Join(diskDir, filepath.Base(disk))
		size, checksum, err := copyFile(ctx, disk, dst, counter.add)
		if err != nil {
			os.RemoveAll(payload)
			return nil, fmt.Errorf("copy disk %s: %w", filepath.Base(disk), err)
		}
		cfg.Disks = append(cfg.Disks, exportDisk{File: filepath.Base(disk), Size: size, Checksum: checksum})
	}

	// The configuration goes last: its presence marks a complete payload.
	cfg.ExportedAt = time.Now()
	if err := writeExportConfig(filepath.Join(payload, VirtualMachinesDir, vm.ID+".json"), &cfg); err != nil {
		os.RemoveAll(payload)
		return nil, err
	}

	return vm.entity(), nil
}

func writeExportConfig(path string, cfg *exportConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write config temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

func readExportConfig(path string) (*exportConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg exportConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %v: %w", err, ErrPayloadInvalid)
	}
	if cfg.ID == "" || cfg.Name == "" {
		return nil, fmt.Errorf("config %s lacks id or name: %w", filepath.Base(path), ErrPayloadInvalid)
	}
	return &cfg, nil
}

// PayloadVMName returns the VM name recorded in a JSON payload config.
func PayloadVMName(data []byte) (string, error) {
	var cfg exportConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("parse config: %v: %w", err, ErrPayloadInvalid)
	}
	if cfg.Name == "" {
		return "", fmt.Errorf("config lacks a VM name: %w", ErrPayloadInvalid)
	}
	return cfg.Name, nil
}

func (l *Local) Import(ctx context.Context, spec ImportSpec) (*Entity, error) {
	cfg, err := readExportConfig(spec.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("import VM: %w", err)
	}

	ctx, job := l.jobs.start(ctx, "Import Virtual Machine",
		fmt.Sprintf("Importing virtual machine '%s'", cfg.Name), cfg.Name)
	entity, err := l.importVM(ctx, cfg, spec, job)
	job.finish(err)
	return entity, err
}

func (l *Local) importVM(ctx context.Context, cfg *exportConfig, spec ImportSpec, job *jobHandle) (*Entity, error) {
	vm := localVM{ID: cfg.ID, Name: cfg.Name}
	if spec.GenerateNewID {
		vm.ID = uuid.New().String()
	}
	if _, err := l.GetVM(ctx, vm.ID); err == nil {
		return nil, fmt.Errorf("VM id '%s': %w", vm.ID, ErrVMExists)
	}

	counter := &byteCounter{job: job}
	for _, d := range cfg.Disks {
		counter.total += d.Size
	}

	srcDir := filepath.Join(spec.PayloadPath, VirtualHardDisksDir)
	switch spec.Mode {
	case ImportRegister:
		vm.Path = spec.PayloadPath
	case ImportRestore:
		vm.Path = l.DefaultVMPath(cfg.Name)
	default:
		vm.Path = spec.Destination
	}
	dstDir := filepath.Join(vm.Path, VirtualHardDisksDir)

	var created []string
	cleanup := func() {
		for _, path := range created {
			os.Remove(path)
		}
	}

	for _, d := range cfg.Disks {
		src := filepath.Join(srcDir, d.File)
		dst := filepath.Join(dstDir, d.File)

		var checksum string
		var err error
		switch spec.Mode {
		case ImportRegister:
			checksum, err = hashFile(ctx, src, counter.add)
			dst = src
		case ImportRestore:
			if checksum, err = hashFile(ctx, src, counter.add); err == nil {
				if err = os.MkdirAll(dstDir, 0755); err == nil {
					err = moveFile(ctx, src, dst)
				}
			}
		default:
			if err = os.MkdirAll(dstDir, 0755); err == nil {
				_, checksum, err = copyFile(ctx, src, dst, counter.add)
			}
			if err == nil {
				created = append(created, dst)
			}
		}
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("import disk %s: %w", d.File, err)
		}
		if d.Checksum != "" && checksum != d.Checksum {
			cleanup()
			return nil, fmt.Errorf("disk %s: %w", d.File, ErrChecksumMismatch)
		}
		vm.Disks = append(vm.Disks, dst)
	}

	if err := l.register(vm); err != nil {
		cleanup()
		return nil, err
	}
	return vm.entity(), nil
}

// ctxReader stops a copy at the next read once ctx is done and reports
// every chunk read.
type ctxReader struct {
	ctx    context.Context
	r      io.Reader
	onRead func(n int64)
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := r.r.Read(p)
	if n > 0 && r.onRead != nil {
		r.onRead(int64(n))
	}
	return n, err
}

// copyFile copies src to dst through a temp file + rename, returning the
// byte count and SHA256 of the copied data.
func copyFile(ctx context.Context, src, dst string, onRead func(n int64)) (int64, string, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, "", fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	tmpPath := dst + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return 0, "", fmt.Errorf("create destination: %w", err)
	}
	defer out.Close()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(out, h), &ctxReader{ctx: ctx, r: in, onRead: onRead})
	if err != nil {
		os.Remove(tmpPath)
		return 0, "", err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, "", fmt.Errorf("close destination: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return 0, "", fmt.Errorf("finalize destination: %w", err)
	}
	return n, sumHex(h), nil
}

// hashFile computes the SHA256 checksum of a file.
func hashFile(ctx context.Context, path string, onRead func(n int64)) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, &ctxReader{ctx: ctx, r: f, onRead: onRead}); err != nil {
		return "", err
	}
	return sumHex(h), nil
}

func sumHex(h hash.Hash) string {
	return fmt.Sprintf("%x", h.Sum(nil))
}

// moveFile renames src to dst, falling back to copy + delete across devices.
func moveFile(ctx context.Context, src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if _, _, err := copyFile(ctx, src, dst, nil); err != nil {
		return err
	}
	return os.Remove(src)
}
