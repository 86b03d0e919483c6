package deploykit

import (
	"context"
	"fmt"
	"reflect"
)

// EntityFactory constructs the implementation of an entity. The returned
// value must embed BasicEntity.
type EntityFactory func() Entity

// EntityInitializer runs against a freshly created entity, after the base
// initialization and before the entity's own Init.
type EntityInitializer func(ctx context.Context, e Entity) error

// EntitySpec declares one entity of a topology.
type EntitySpec struct {
	// Name is the display name. Empty means a generated name.
	Name string

	// Factory constructs the entity implementation.
	Factory EntityFactory

	// Children are created as children of the entity, in order.
	Children []EntitySpec

	// Locations are added to the entity's location set on creation.
	Locations []Location

	Initializers []EntityInitializer
}

// ApplicationSpec declares an application. Applications have no factory:
// variants are expressed through Hooks.
type ApplicationSpec struct {
	Name      string
	Hooks     Hooks
	Children  []EntitySpec
	Locations []Location
}

// Validate checks the entity spec and its children recursively.
func (s EntitySpec) Validate() error {
	if s.Factory == nil {
		return fmt.Errorf("entity %q: %w", s.Name, ErrSpecFactoryNil)
	}
	for i, child := range s.Children {
		if err := child.Validate(); err != nil {
			return fmt.Errorf("child %d of %q: %w", i, s.Name, err)
		}
	}
	return nil
}

// Validate checks every child spec.
func (s ApplicationSpec) Validate() error {
	for i, child := range s.Children {
		if err := child.Validate(); err != nil {
			return fmt.Errorf("application %q child %d: %w", s.Name, i, err)
		}
	}
	return nil
}

// build runs the factory and rejects results that cannot be managed.
func (s EntitySpec) build() (Entity, error) {
	e := s.Factory()
	if e == nil || (reflect.ValueOf(e).Kind() == reflect.Pointer && reflect.ValueOf(e).IsNil()) {
		return nil, fmt.Errorf("entity %q: %w", s.Name, ErrSpecFactoryResult)
	}
	if _, ok := e.(*Application); ok {
		return nil, fmt.Errorf("entity %q: %w", s.Name, ErrNestedApplication)
	}
	return e, nil
}
