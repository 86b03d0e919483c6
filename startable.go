package deploykit

import (
	"context"
	"fmt"
	"strings"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// Effector names. EffectorStart doubles as the problem-indicator tag for
// start failures.
const (
	EffectorStart   = "start"
	EffectorStop    = "stop"
	EffectorRestart = "restart"
)

// Startable is the capability of entities that can be started, stopped and
// restarted. The context carries cancellation: when it is cancelled an
// implementation should abandon the operation and return promptly.
type Startable interface {
	Start(ctx context.Context, locations []Location) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
}

// ChildFailure is the failure of one child during a dispatch.
type ChildFailure struct {
	Entity Entity
	Err    error
}

// DispatchError is the composite failure of a dispatch over children.
// Every child was awaited before it was produced.
type DispatchError struct {
	Effector   string
	ParentName string
	Total      int
	Failures   []ChildFailure
}

// Error implements error
func (e *DispatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s failed for %d of %d children of %s", e.Effector, len(e.Failures), e.Total, e.ParentName)
	for i, f := range e.Failures {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s: %v", f.Entity.DisplayName(), f.Err)
	}
	return b.String()
}

// Unwrap exposes the individual child errors to errors.Is and errors.As.
func (e *DispatchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// FailedChildren returns the display names of the children that failed.
func (e *DispatchError) FailedChildren() []string {
	names := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		names = append(names, f.Entity.DisplayName())
	}
	return names
}

// StartChildren invokes Start(locations) on every Startable child of parent
// in parallel and waits for all of them. Failures do not cancel siblings.
func StartChildren(ctx context.Context, parent Entity, locations []Location) error {
	return dispatch(ctx, parent, EffectorStart, func(ctx context.Context, s Startable) error {
		return s.Start(ctx, locations)
	})
}

// StopChildren invokes Stop on every Startable child of parent in parallel
// and waits for all of them.
func StopChildren(ctx context.Context, parent Entity) error {
	return dispatch(ctx, parent, EffectorStop, func(ctx context.Context, s Startable) error {
		return s.Stop(ctx)
	})
}

// RestartChildren invokes Restart on every Startable child of parent in
// parallel and waits for all of them.
func RestartChildren(ctx context.Context, parent Entity) error {
	return dispatch(ctx, parent, EffectorRestart, func(ctx context.Context, s Startable) error {
		return s.Restart(ctx)
	})
}

type startableChild struct {
	entity    Entity
	startable Startable
}

// StartableChildren returns the direct children of parent that have the
// Startable capability.
func StartableChildren(parent Entity) []Entity {
	children := startableChildren(parent)
	entities := make([]Entity, 0, len(children))
	for _, c := range children {
		entities = append(entities, c.entity)
	}
	return entities
}

func startableChildren(parent Entity) []startableChild {
	var result []startableChild
	for _, child := range parent.Children() {
		if s, ok := child.(Startable); ok {
			result = append(result, startableChild{entity: child, startable: s})
		}
	}
	return result
}

func dispatch(ctx context.Context, parent Entity, effector string, call func(context.Context, Startable) error) error {
	children := startableChildren(parent)
	if len(children) == 0 {
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	results := make([]error, len(children))
	var wg conc.WaitGroup
	for i, child := range children {
		wg.Go(func() {
			var catcher panics.Catcher
			catcher.Try(func() {
				results[i] = call(ctx, child.startable)
			})
			if recovered := catcher.Recovered(); recovered != nil {
				results[i] = recovered.AsError()
			}
		})
	}
	wg.Wait()

	var failures []ChildFailure
	for i, err := range results {
		if err != nil {
			failures = append(failures, ChildFailure{Entity: children[i].entity, Err: err})
		}
	}
	if len(failures) == 0 {
		return nil
	}
	// Once children were handed a cancelled context, the cancellation wins
	// over their individual failures.
	if err := ctx.Err(); err != nil {
		return err
	}
	return &DispatchError{
		Effector:   effector,
		ParentName: parent.DisplayName(),
		Total:      len(children),
		Failures:   failures,
	}
}
