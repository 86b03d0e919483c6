package deploykit

import (
	"context"
	"fmt"
)

// EntityProxy is the externally visible handle of a managed entity. Callers
// outside the entity hold proxies, never the implementation; Deproxy
// recovers the implementation when it is really needed.
type EntityProxy struct {
	target Entity
}

// Entity methods forward to the target.

func (p *EntityProxy) ID() string                   { return p.target.ID() }
func (p *EntityProxy) DisplayName() string          { return p.target.DisplayName() }
func (p *EntityProxy) Parent() Entity               { return p.target.Parent() }
func (p *EntityProxy) Children() []Entity           { return p.target.Children() }
func (p *EntityProxy) Locations() []Location        { return p.target.Locations() }
func (p *EntityProxy) Application() Entity          { return p.target.Application() }
func (p *EntityProxy) ApplicationID() string        { return p.target.ApplicationID() }
func (p *EntityProxy) Attributes() *AttributeMap    { return p.target.Attributes() }
func (p *EntityProxy) Enrichers() *EnricherRegistry { return p.target.Enrichers() }
func (p *EntityProxy) Proxy() Entity                { return p.target.Proxy() }
func (p *EntityProxy) IsManaged() bool              { return p.target.IsManaged() }
func (p *EntityProxy) base() *BasicEntity           { return p.target.base() }

// String returns the target's identity
func (p *EntityProxy) String() string {
	return fmt.Sprintf("%s{id=%s}", p.target.DisplayName(), p.target.ID())
}

// invoke runs an effector against the target. Effectors can only be invoked
// on managed entities; failures other than interruptions are logged here so
// drivers need not log the errors they return.
func (p *EntityProxy) invoke(ctx context.Context, effector string, fn func(context.Context) error) error {
	if !p.target.IsManaged() {
		return fmt.Errorf("invoke %s on %s: %w", effector, p.target.DisplayName(), ErrEntityNotManaged)
	}
	logger := p.target.base().Logger()
	logger.Debug("Invoking effector", "effector", effector)
	err := fn(ctx)
	switch {
	case err == nil:
		logger.Debug("Effector completed", "effector", effector)
	case IsInterrupted(err):
		logger.Debug("Effector interrupted", "effector", effector, "error", err)
	default:
		logger.Error("Effector failed", "effector", effector, "error", err)
	}
	return err
}

// StartableProxy is the proxy of an entity with the Startable capability.
type StartableProxy struct {
	*EntityProxy
	startable Startable
}

// Start implements Startable
func (p *StartableProxy) Start(ctx context.Context, locations []Location) error {
	return p.invoke(ctx, EffectorStart, func(ctx context.Context) error {
		return p.startable.Start(ctx, locations)
	})
}

// Stop implements Startable
func (p *StartableProxy) Stop(ctx context.Context) error {
	return p.invoke(ctx, EffectorStop, p.startable.Stop)
}

// Restart implements Startable
func (p *StartableProxy) Restart(ctx context.Context) error {
	return p.invoke(ctx, EffectorRestart, p.startable.Restart)
}

// ApplicationProxy is the proxy of an Application.
type ApplicationProxy struct {
	*StartableProxy
	app *Application
}

// Deployed reports whether the application is currently deployed.
func (p *ApplicationProxy) Deployed() bool { return p.app.Deployed() }

// StartableApplication is the public face of an application: an entity
// with the Startable capability that knows whether it is deployed.
type StartableApplication interface {
	Entity
	Startable
	Deployed() bool
}

// NewProxy creates the proxy for target matching its capabilities.
func NewProxy(target Entity) Entity {
	target = Deproxy(target)
	base := &EntityProxy{target: target}
	switch t := target.(type) {
	case *Application:
		return &ApplicationProxy{StartableProxy: &StartableProxy{EntityProxy: base, startable: t}, app: t}
	case Startable:
		return &StartableProxy{EntityProxy: base, startable: t}
	default:
		return base
	}
}

// Deproxy returns the implementation behind e.
func Deproxy(e Entity) Entity {
	if e == nil {
		return nil
	}
	if b := e.base(); b != nil && b.self != nil {
		return b.self
	}
	return e
}
