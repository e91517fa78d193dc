package transfer

import (
	"context"
	"errors"

	"github.com/javanstorm/vmxfer/pkg/hypervisor"
	"github.com/rs/zerolog"
)

// Finalizer post-processes a nominally successful transfer. Any failure here
// is an integrity failure, even though the platform reported success.
type Finalizer struct {
	registry hypervisor.Registry
	fs       Filesystem
	log      zerolog.Logger
}

func NewFinalizer(registry hypervisor.Registry, fs Filesystem, log zerolog.Logger) *Finalizer {
	return &Finalizer{registry: registry, fs: fs, log: log}
}

// Finalize validates the result and applies the target name. entity is the
// platform call's result and may be nil when only the job reported success.
func (f *Finalizer) Finalize(ctx context.Context, plan *Plan, entity *hypervisor.Entity) (*hypervisor.Entity, *Error) {
	if plan.Request.Direction == DirectionExport {
		return f.finalizeExport(ctx, plan, entity)
	}
	return f.finalizeImport(ctx, plan, entity)
}

func (f *Finalizer) finalizeExport(ctx context.Context, plan *Plan, entity *hypervisor.Entity) (*hypervisor.Entity, *Error) {
	configDir := f.fs.Join(plan.PayloadPath, hypervisor.VirtualMachinesDir)
	ok, err := f.fs.Exists(ctx, configDir)
	if err != nil {
		return nil, newError(KindIntegrity, err, "inspect export payload %s", plan.PayloadPath)
	}
	if !ok {
		return nil, newError(KindIntegrity, hypervisor.ErrPayloadInvalid,
			"export payload %s has no %q folder", plan.PayloadPath, hypervisor.VirtualMachinesDir)
	}
	if entity == nil {
		entity = plan.SourceVM
	}
	return entity, nil
}

func (f *Finalizer) finalizeImport(ctx context.Context, plan *Plan, entity *hypervisor.Entity) (*hypervisor.Entity, *Error) {
	if entity == nil {
		vm, err := f.registry.FindVM(ctx, plan.JobTarget)
		if err != nil {
			return nil, newError(KindIntegrity, err, "locate imported VM %q", plan.JobTarget)
		}
		entity = vm
	}

	if entity.Name != plan.TargetName {
		if err := f.registry.RenameVM(ctx, entity.ID, plan.TargetName); err != nil {
			return nil, newError(KindIntegrity, err, "rename imported VM %q to %q", entity.Name, plan.TargetName)
		}
		f.log.Info().Str("from", entity.Name).Str("to", plan.TargetName).Msg("Renamed imported VM")
	}

	vm, err := f.registry.GetVM(ctx, entity.ID)
	if err != nil {
		if errors.Is(err, hypervisor.ErrVMNotFound) {
			return nil, newError(KindIntegrity, err, "imported VM %s is not registered", entity.ID)
		}
		return nil, newError(KindIntegrity, err, "re-read imported VM %s", entity.ID)
	}
	if vm.Name != plan.TargetName {
		return nil, newError(KindIntegrity, nil, "imported VM is named %q, expected %q", vm.Name, plan.TargetName)
	}

	disks, err := f.registry.ListDisks(ctx, vm.ID)
	if err != nil {
		return nil, newError(KindIntegrity, err, "list disks of imported VM %q", vm.Name)
	}
	if len(disks) == 0 {
		return nil, newError(KindIntegrity, nil, "imported VM %q has no disks attached", vm.Name)
	}
	return vm, nil
}
