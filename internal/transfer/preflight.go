package transfer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/javanstorm/vmxfer/internal/diskspace"
	"github.com/javanstorm/vmxfer/pkg/hypervisor"
	"github.com/rs/zerolog"
)

// maxConflictAttempts bounds rename rounds against a resolver that keeps
// proposing taken names.
const maxConflictAttempts = 100

// SpaceRequirement is the free space a transfer needs at its destination.
type SpaceRequirement struct {
	EstimatedBytes int64   `json:"estimated_bytes"`
	Overhead       float64 `json:"overhead"`
	RequiredBytes  int64   `json:"required_bytes"`
}

// NewSpaceRequirement computes estimated * overhead in whole bytes, rounding
// the multiplier to thousandths so boundary comparisons are exact.
func NewSpaceRequirement(estimated int64, overhead float64) SpaceRequirement {
	permille := int64(math.Round(overhead * 1000))
	q, r := estimated/1000, estimated%1000
	return SpaceRequirement{
		EstimatedBytes: estimated,
		Overhead:       overhead,
		RequiredBytes:  q*permille + r*permille/1000,
	}
}

// Preflight validates a request before any transfer work starts. Apart from
// creating the destination directory it changes nothing on the host.
type Preflight struct {
	registry hypervisor.Registry
	fs       Filesystem
	resolver ConflictResolver
	settings Settings
	log      zerolog.Logger
}

// NewPreflight creates a validator. A nil resolver cancels on conflict.
func NewPreflight(registry hypervisor.Registry, fs Filesystem, resolver ConflictResolver, settings Settings, log zerolog.Logger) *Preflight {
	if resolver == nil {
		resolver = CancelResolver{}
	}
	return &Preflight{
		registry: registry,
		fs:       fs,
		resolver: resolver,
		settings: settings.withDefaults(),
		log:      log,
	}
}

// Run executes every preflight check in order and returns the validated plan.
func (p *Preflight) Run(ctx context.Context, req Request) (*Plan, *Error) {
	if err := validateRequest(&req); err != nil {
		return nil, newError(KindValidation, err, "%s", err.Error())
	}

	plan := &Plan{Request: req, JobTarget: req.sourceName()}

	switch req.Direction {
	case DirectionExport:
		vm, err := p.registry.FindVM(ctx, req.Source)
		if err != nil {
			if errors.Is(err, hypervisor.ErrVMNotFound) {
				return nil, newError(KindValidation, err, "source VM %q not found", req.Source)
			}
			return nil, newError(KindValidation, err, "look up source VM %q", req.Source)
		}
		plan.SourceVM = vm
	case DirectionImport:
		cfg, err := p.findConfig(ctx, req.Source)
		if err != nil {
			return nil, newError(KindValidation, err, "%s", err.Error())
		}
		plan.ConfigPath = cfg
		plan.PayloadPath = req.Source
		name, err := p.configuredName(ctx, cfg)
		if err != nil {
			return nil, newError(KindValidation, err, "%s", err.Error())
		}
		if name != "" {
			plan.JobTarget = name
		}
	}

	dest, err := p.ResolveDestination(ctx, req.Destination)
	if err != nil {
		return nil, newError(KindValidation, err, "%s", err.Error())
	}
	plan.Destination = dest

	name := req.TargetName
	if name == "" {
		name = plan.JobTarget
	}
	name, perr := p.resolveName(ctx, req.Direction, dest, name)
	if perr != nil {
		return nil, perr
	}
	plan.TargetName = name
	plan.Request.TargetName = name

	if req.Direction == DirectionExport {
		plan.ExportRoot = dest
		if name != plan.SourceVM.Name {
			plan.ExportRoot = p.fs.Join(dest, name)
		}
		plan.PayloadPath = p.fs.Join(plan.ExportRoot, plan.SourceVM.Name)
	}

	estimated, err := p.EstimateSize(ctx, plan)
	if err != nil {
		return nil, newError(KindValidation, err, "estimate transfer size")
	}
	plan.Space = NewSpaceRequirement(estimated, p.settings.overhead(req.Direction))

	checked, err := p.CheckFreeSpace(ctx, dest, plan.Space)
	if err != nil {
		if diskspace.IsInsufficientSpaceError(err) {
			return nil, newError(KindSpace, err, "%s", err.Error())
		}
		return nil, newError(KindValidation, err, "check free space at %s", dest)
	}
	plan.SpaceChecked = checked

	return plan, nil
}

func validateRequest(req *Request) error {
	if _, ok := ParseDirection(string(req.Direction)); !ok {
		return fmt.Errorf("unknown direction %q", req.Direction)
	}
	if strings.TrimSpace(req.Source) == "" {
		return errors.New("source is required")
	}
	if strings.TrimSpace(req.Destination) == "" {
		return errors.New("destination is required")
	}
	if req.Direction == DirectionImport {
		mode, err := hypervisor.ParseImportMode(string(req.ImportMode))
		if err != nil {
			return fmt.Errorf("import mode %q: %w", req.ImportMode, err)
		}
		req.ImportMode = mode
	}
	return nil
}

// findConfig locates the VM configuration inside an import payload,
// preferring a native .vmcx over a .json config.
func (p *Preflight) findConfig(ctx context.Context, payload string) (string, error) {
	ok, err := p.fs.Exists(ctx, p.fs.Join(payload, hypervisor.VirtualMachinesDir))
	if err != nil {
		return "", fmt.Errorf("inspect payload %s: %w", payload, err)
	}
	if !ok {
		return "", fmt.Errorf("payload %s has no %q folder: %w", payload, hypervisor.VirtualMachinesDir, hypervisor.ErrPayloadInvalid)
	}

	files, err := p.fs.Files(ctx, payload, patternConfig)
	if err != nil {
		return "", fmt.Errorf("inspect payload %s: %w", payload, err)
	}
	if len(files) == 0 {
		return "", fmt.Errorf("payload %s has no VM configuration: %w", payload, hypervisor.ErrPayloadInvalid)
	}
	sort.Slice(files, func(i, j int) bool {
		vi, vj := strings.HasSuffix(files[i].Rel, ".vmcx"), strings.HasSuffix(files[j].Rel, ".vmcx")
		if vi != vj {
			return vi
		}
		return files[i].Rel < files[j].Rel
	})
	return files[0].Path, nil
}

// configuredName returns the VM name a JSON payload config records. Native
// .vmcx configs are binary and yield "", leaving the payload folder name.
func (p *Preflight) configuredName(ctx context.Context, cfg string) (string, error) {
	if !strings.EqualFold(filepath.Ext(cfg), ".json") {
		return "", nil
	}
	data, err := p.fs.ReadFile(ctx, cfg)
	if err != nil {
		return "", fmt.Errorf("read VM configuration %s: %w", cfg, err)
	}
	name, err := hypervisor.PayloadVMName(data)
	if err != nil {
		return "", fmt.Errorf("VM configuration %s: %w", cfg, err)
	}
	return name, nil
}

// ResolveDestination normalizes the destination and creates it if missing.
// Creating an existing directory is a no-op.
func (p *Preflight) ResolveDestination(ctx context.Context, path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("destination is required")
	}
	network, err := p.networkAddressed(path)
	if err != nil {
		return "", err
	}
	if _, local := p.fs.(OSFilesystem); local && !network {
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("resolve destination %s: %w", path, err)
		}
		path = abs
	}
	if err := p.fs.MkdirAll(ctx, path); err != nil {
		return "", fmt.Errorf("create destination %s: %w", path, err)
	}
	return path, nil
}

// networkAddressed reports whether path names a network share the filesystem
// reaches directly. The local filesystem cannot write to a URL, and outside
// Windows a UNC-looking path is an ordinary local path, so both are rejected
// rather than created on local disk.
func (p *Preflight) networkAddressed(path string) (bool, error) {
	if !diskspace.IsNetworkPath(path) {
		return false, nil
	}
	if _, local := p.fs.(OSFilesystem); !local {
		return true, nil
	}
	if diskspace.IsURL(path) {
		return false, fmt.Errorf("destination %s is a URL; mount the share and pass its path instead", path)
	}
	if runtime.GOOS != "windows" {
		return false, fmt.Errorf("destination %s is a UNC path, which is only reachable on Windows", path)
	}
	return true, nil
}

// CheckConflict reports whether name is already taken for this direction:
// an existing payload folder under dest for an export, a registered VM for an
// import. A nil Conflict means the name is free.
func (p *Preflight) CheckConflict(ctx context.Context, dir Direction, dest, name string) (*Conflict, error) {
	if dir == DirectionImport {
		vm, err := p.registry.FindVM(ctx, name)
		if errors.Is(err, hypervisor.ErrVMNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("look up VM %q: %w", name, err)
		}
		return &Conflict{Direction: dir, Name: name, Existing: vm.ID}, nil
	}

	path := p.fs.Join(dest, name)
	exists, err := p.fs.Exists(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", path, err)
	}
	if !exists {
		return nil, nil
	}
	return &Conflict{Direction: dir, Name: name, Existing: path}, nil
}

// resolveName runs the conflict check until a free name is found or the
// resolver cancels.
func (p *Preflight) resolveName(ctx context.Context, dir Direction, dest, name string) (string, *Error) {
	for attempt := 1; ; attempt++ {
		c, err := p.CheckConflict(ctx, dir, dest, name)
		if err != nil {
			return "", newError(KindValidation, err, "check name conflict for %q", name)
		}
		if c == nil {
			return name, nil
		}
		if attempt > maxConflictAttempts {
			return "", newError(KindValidation, nil, "no free name found after %d attempts", maxConflictAttempts)
		}

		c.Attempt = attempt
		next, err := p.resolver.Resolve(ctx, *c)
		if err != nil {
			return "", newError(KindValidation, err, "name conflict: %s", c)
		}
		if next == "" || next == name {
			return "", newError(KindValidation, nil, "name conflict: %s", c)
		}
		p.log.Info().Str("from", name).Str("to", next).Msg("Renaming to resolve name conflict")
		name = next
	}
}

// EstimateSize returns the bytes the transfer will write: the source VM's
// disks for an export, the payload's disk files for an import. A source with
// no disks estimates zero.
func (p *Preflight) EstimateSize(ctx context.Context, plan *Plan) (int64, error) {
	if plan.Request.Direction == DirectionExport {
		disks, err := p.registry.ListDisks(ctx, plan.SourceVM.ID)
		if err != nil {
			return 0, fmt.Errorf("list disks: %w", err)
		}
		var total int64
		for _, d := range disks {
			total += d.Size
		}
		return total, nil
	}

	files, err := p.fs.Files(ctx, plan.PayloadPath, patternDisks)
	if err != nil {
		return 0, fmt.Errorf("list payload disks: %w", err)
	}
	return totalSize(files), nil
}

// CheckFreeSpace verifies free >= required at dest. The check is skipped,
// and false returned, only for network-addressed destinations the filesystem
// can reach.
func (p *Preflight) CheckFreeSpace(ctx context.Context, dest string, req SpaceRequirement) (bool, error) {
	network, err := p.networkAddressed(dest)
	if err != nil {
		return false, err
	}
	if network {
		p.log.Warn().Str("destination", dest).Int64("required_bytes", req.RequiredBytes).
			Msg("Destination is network-addressed, skipping free-space check")
		return false, nil
	}

	free, err := p.fs.Free(ctx, dest)
	if err != nil {
		return false, err
	}
	p.log.Debug().Str("destination", dest).Int64("required_bytes", req.RequiredBytes).
		Int64("free_bytes", free).Msg("Free-space check")
	return true, diskspace.Compare(dest, req.RequiredBytes, free)
}
