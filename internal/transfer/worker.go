package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/javanstorm/vmxfer/pkg/hypervisor"
)

// WorkerState is the lifecycle of the background platform call.
type WorkerState int

const (
	WorkerRunning WorkerState = iota
	WorkerSucceeded
	WorkerFailed
	WorkerCancelled
)

func (s WorkerState) String() string {
	switch s {
	case WorkerRunning:
		return "Running"
	case WorkerSucceeded:
		return "Succeeded"
	case WorkerFailed:
		return "Failed"
	case WorkerCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Worker runs one platform call in its own goroutine. Its state is only
// observed by polling, never by blocking, except when the caller waits on
// Done.
type Worker struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	state  WorkerState
	entity *hypervisor.Entity
	err    error
}

// StartWorker launches fn in the background. Cancelling ctx or calling Cancel
// cancels the context fn receives.
func StartWorker(ctx context.Context, fn func(ctx context.Context) (*hypervisor.Entity, error)) *Worker {
	ctx, cancel := context.WithCancel(ctx)
	w := &Worker{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(w.done)
		defer cancel()

		entity, err := fn(ctx)

		w.mu.Lock()
		defer w.mu.Unlock()
		w.entity, w.err = entity, err
		switch {
		case err == nil:
			w.state = WorkerSucceeded
		case errors.Is(err, context.Canceled):
			w.state = WorkerCancelled
		default:
			w.state = WorkerFailed
		}
	}()

	return w
}

// State returns the current state without blocking.
func (w *Worker) State() WorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Done is closed when the call has returned.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Result returns what the call returned. Only meaningful once Done is closed.
func (w *Worker) Result() (*hypervisor.Entity, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.entity, w.err
}

// Cancel asks the call to stop.
func (w *Worker) Cancel() {
	w.cancel()
}

// transferUnit returns the platform call for a plan. Imports whose files did
// not land in the requested destination are relocated there before the unit
// reports success; a failed relocation is a relocationError.
func transferUnit(p hypervisor.Platform, fs Filesystem, plan *Plan) func(ctx context.Context) (*hypervisor.Entity, error) {
	req := plan.Request
	if req.Direction == DirectionExport {
		return func(ctx context.Context) (*hypervisor.Entity, error) {
			if plan.ExportRoot != plan.Destination {
				if err := fs.MkdirAll(ctx, plan.ExportRoot); err != nil {
					return nil, fmt.Errorf("create export folder: %w", err)
				}
			}
			return p.Export(ctx, hypervisor.ExportSpec{
				Name:             plan.SourceVM.Name,
				Path:             plan.ExportRoot,
				CaptureLiveState: req.CaptureLiveState,
			})
		}
	}

	return func(ctx context.Context) (*hypervisor.Entity, error) {
		entity, err := p.Import(ctx, hypervisor.ImportSpec{
			ConfigPath:    plan.ConfigPath,
			PayloadPath:   plan.PayloadPath,
			Destination:   plan.Destination,
			Mode:          req.ImportMode,
			GenerateNewID: req.GenerateNewID,
		})
		if err != nil {
			return nil, err
		}
		// Register mode uses the payload in place by definition.
		if req.ImportMode == hypervisor.ImportRegister || samePath(entity.Path, plan.Destination) {
			return entity, nil
		}
		if err := p.MoveStorage(ctx, entity.ID, plan.Destination); err != nil {
			return entity, &relocationError{err: err}
		}
		moved := *entity
		moved.Path = plan.Destination
		return &moved, nil
	}
}

// samePath compares host paths loosely: Windows hosts are case-insensitive
// and either separator may appear.
func samePath(a, b string) bool {
	norm := func(s string) string {
		return strings.TrimRight(strings.ReplaceAll(s, `\`, "/"), "/")
	}
	return strings.EqualFold(norm(a), norm(b))
}
