package transfer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/javanstorm/vmxfer/internal/diskspace"
	"github.com/javanstorm/vmxfer/pkg/hypervisor"
)

// Filesystem is the view of the host's files the engine needs. Paths are
// host-native; patterns are doublestar globs over slash-separated relative
// paths.
type Filesystem interface {
	MkdirAll(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
	// Files returns regular files under root matching pattern. A missing
	// root yields no files and no error.
	Files(ctx context.Context, root, pattern string) ([]hypervisor.File, error)
	ReadFile(ctx context.Context, path string) ([]byte, error)
	Free(ctx context.Context, path string) (int64, error)
	Join(elem ...string) string
}

// Patterns used against payload folders.
const (
	patternAll    = "**"
	patternDisks  = "**/*.{vhd,vhdx,avhd,avhdx}"
	patternConfig = hypervisor.VirtualMachinesDir + "/**/*.{vmcx,json}"
)

// OSFilesystem is the Filesystem of the machine running the engine.
type OSFilesystem struct{}

func (OSFilesystem) MkdirAll(_ context.Context, path string) error {
	return os.MkdirAll(path, 0755)
}

func (OSFilesystem) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (OSFilesystem) Files(ctx context.Context, root, pattern string) ([]hypervisor.File, error) {
	if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	fsys := os.DirFS(root)
	matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly(), doublestar.WithFailOnIOErrors())
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}

	files := make([]hypervisor.File, 0, len(matches))
	for _, rel := range matches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := fs.Stat(fsys, rel)
		if err != nil {
			// Files can vanish mid-copy (temp files being renamed).
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", rel, err)
		}
		files = append(files, hypervisor.File{
			Path: filepath.Join(root, filepath.FromSlash(rel)),
			Rel:  rel,
			Size: info.Size(),
		})
	}
	return files, nil
}

func (OSFilesystem) ReadFile(_ context.Context, path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (OSFilesystem) Free(_ context.Context, path string) (int64, error) {
	return diskspace.Free(path)
}

func (OSFilesystem) Join(elem ...string) string {
	return filepath.Join(elem...)
}

// totalSize sums the sizes of files.
func totalSize(files []hypervisor.File) int64 {
	var n int64
	for _, f := range files {
		n += f.Size
	}
	return n
}
