package hypervisor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// RemoteFS exposes the Hyper-V host's filesystem through the driver's runner.
// Paths are Windows paths on the host.
type RemoteFS struct {
	d *hypervDriver
}

// HostFilesystem returns the filesystem of a remote Hyper-V host. It reports
// false for local drivers, whose paths are on this machine.
func HostFilesystem(p Platform) (*RemoteFS, bool) {
	d, ok := p.(*hypervDriver)
	if !ok {
		return nil, false
	}
	if _, remote := d.runner.(*sshRunner); !remote {
		return nil, false
	}
	return &RemoteFS{d: d}, true
}

func (r *RemoteFS) MkdirAll(ctx context.Context, path string) error {
	script := fmt.Sprintf("New-Item -ItemType Directory -Force -Path %s | Out-Null", psQuote(path))
	if _, err := r.d.run(ctx, script); err != nil {
		return fmt.Errorf("create directory %s: %w", path, err)
	}
	return nil
}

func (r *RemoteFS) Exists(ctx context.Context, path string) (bool, error) {
	out, err := r.d.run(ctx, fmt.Sprintf("Test-Path -LiteralPath %s", psQuote(path)))
	if err != nil {
		return false, fmt.Errorf("test path %s: %w", path, err)
	}
	return strings.EqualFold(strings.TrimSpace(string(out)), "True"), nil
}

// Files lists every file under root on the host and filters by pattern here,
// so the glob syntax matches OSFilesystem exactly.
func (r *RemoteFS) Files(ctx context.Context, root, pattern string) ([]File, error) {
	script := fmt.Sprintf(`$root = %s
if (-not (Test-Path -LiteralPath $root)) { return }
$full = (Resolve-Path -LiteralPath $root).ProviderPath.TrimEnd('\')
$items = @(Get-ChildItem -LiteralPath $root -Recurse -File -Force | ForEach-Object {
  [pscustomobject]@{ path = $_.FullName; rel = $_.FullName.Substring($full.Length + 1).Replace('\', '/'); size = $_.Length }
})
ConvertTo-Json -InputObject $items -Compress`, psQuote(root))

	out, err := r.d.run(ctx, script)
	if err != nil {
		return nil, fmt.Errorf("list files in %s: %w", root, err)
	}
	out = bytes.TrimSpace(out)
	if len(out) == 0 {
		return nil, nil
	}

	var all []File
	if err := json.Unmarshal(out, &all); err != nil {
		return nil, fmt.Errorf("parse file list: %w", err)
	}

	files := all[:0]
	for _, f := range all {
		ok, err := doublestar.Match(pattern, f.Rel)
		if err != nil {
			return nil, fmt.Errorf("match %s: %w", pattern, err)
		}
		if ok {
			files = append(files, f)
		}
	}
	return files, nil
}

// ReadFile returns the contents of a file on the host, carried as base64 so
// binary content survives the console.
func (r *RemoteFS) ReadFile(ctx context.Context, path string) ([]byte, error) {
	script := fmt.Sprintf("[Convert]::ToBase64String([System.IO.File]::ReadAllBytes(%s))", psQuote(path))
	out, err := r.d.run(ctx, script)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(out)))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return data, nil
}

func (r *RemoteFS) Free(ctx context.Context, path string) (int64, error) {
	script := fmt.Sprintf(`$p = %s
while (-not (Test-Path -LiteralPath $p)) { $p = Split-Path -Parent $p }
([System.IO.DriveInfo]::new((Resolve-Path -LiteralPath $p).ProviderPath)).AvailableFreeSpace`, psQuote(path))

	out, err := r.d.run(ctx, script)
	if err != nil {
		return 0, fmt.Errorf("query free space for %s: %w", path, err)
	}
	free, err := strconv.ParseInt(strings.TrimSpace(string(out)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse free space %q: %w", strings.TrimSpace(string(out)), err)
	}
	return free, nil
}

func (r *RemoteFS) Join(elem ...string) string {
	if len(elem) == 0 {
		return ""
	}
	path := elem[0]
	for _, e := range elem[1:] {
		path = winJoin(path, strings.Trim(e, `\/`))
	}
	return path
}
