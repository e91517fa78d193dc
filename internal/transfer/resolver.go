package transfer

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Conflict describes a target name that is already taken at the destination.
type Conflict struct {
	Direction Direction
	Name      string
	// Existing is the path (export) or VM id (import) already holding Name.
	Existing string
	// Attempt counts resolutions asked for this request, starting at 1.
	Attempt int
}

func (c Conflict) String() string {
	if c.Direction == DirectionImport {
		return fmt.Sprintf("VM %q already exists (id %s)", c.Name, c.Existing)
	}
	return fmt.Sprintf("payload folder %s already exists", c.Existing)
}

// ConflictResolver decides what happens when the target name is taken.
// It returns a new name to rename, or ErrConflictCancelled to give up.
// Overwriting is never an option.
type ConflictResolver interface {
	Resolve(ctx context.Context, c Conflict) (string, error)
}

// ConflictResolverFunc adapts a function to ConflictResolver.
type ConflictResolverFunc func(ctx context.Context, c Conflict) (string, error)

func (f ConflictResolverFunc) Resolve(ctx context.Context, c Conflict) (string, error) {
	return f(ctx, c)
}

// CancelResolver cancels on any conflict.
type CancelResolver struct{}

func (CancelResolver) Resolve(context.Context, Conflict) (string, error) {
	return "", ErrConflictCancelled
}

// SuffixResolver renames to <name>-2, <name>-3, ... until a free name is found.
type SuffixResolver struct{}

func (SuffixResolver) Resolve(_ context.Context, c Conflict) (string, error) {
	return nextSuffix(c.Name), nil
}

// nextSuffix bumps a trailing -N counter, or appends -2.
func nextSuffix(name string) string {
	if i := strings.LastIndexByte(name, '-'); i > 0 {
		if n, err := strconv.Atoi(name[i+1:]); err == nil && n >= 2 {
			return fmt.Sprintf("%s-%d", name[:i], n+1)
		}
	}
	return name + "-2"
}

// FixedNameResolver renames to Name once; a second conflict cancels.
type FixedNameResolver struct {
	Name string
}

func (r FixedNameResolver) Resolve(_ context.Context, c Conflict) (string, error) {
	if r.Name == "" || c.Name == r.Name {
		return "", ErrConflictCancelled
	}
	return r.Name, nil
}
