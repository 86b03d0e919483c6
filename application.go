package deploykit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/GoCodeAlone/deploykit/lifecycle"
)

// Hooks are the override points of an Application. Every hook is optional.
type Hooks struct {
	// InitApp runs once during Init. It is where the topology is declared,
	// typically with AddChild.
	InitApp func(ctx context.Context, app *Application) error

	// PreStart runs before the children are started.
	PreStart func(ctx context.Context, app *Application, locations []Location) error

	// PostStart runs after the children have started.
	PostStart func(ctx context.Context, app *Application, locations []Location) error

	// StartChildren replaces the default parallel start of every Startable child.
	StartChildren func(ctx context.Context, app *Application, locations []Location) error
}

// Application is the root entity of a deployment: it owns its child
// entities and drives their lifecycle. Applications are created by
// LocalManagementContext.CreateApplication from an ApplicationSpec.
type Application struct {
	BasicEntity

	hooks Hooks

	// mu serializes SetApplication, the end of Start and the
	// deployed/unmanage step at the end of Stop.
	mu       sync.Mutex
	deployed atomic.Bool

	initDone sync.Once
	initErr  error
}

const notUpTimestampFormat = "2006-01-02 15:04:05.000"

// driverIndicator is the not-up indicator key owned by the lifecycle driver.
var driverIndicator = ServiceStateActual.Name()

func newApplication(hooks Hooks) *Application {
	return &Application{hooks: hooks}
}

// Init runs the base initialization, the InitApp hook and installs the
// children aggregation. It runs once; later calls return the first result.
func (a *Application) Init(ctx context.Context) error {
	a.initDone.Do(func() {
		a.initErr = a.init(ctx)
	})
	return a.initErr
}

func (a *Application) init(ctx context.Context) error {
	if err := a.initBase(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInitFailed, a.DisplayName(), err)
	}
	if a.hooks.InitApp != nil {
		if err := a.hooks.InitApp(ctx, a); err != nil {
			if IsInterrupted(err) {
				return err
			}
			return fmt.Errorf("%w: %s: %w", ErrInitFailed, a.DisplayName(), err)
		}
	}
	// InitApp may have installed its own aggregation under the default tag.
	if _, ok := a.enrs.Get(ChildrenEnricherTag); !ok {
		if err := a.enrs.Add(NewChildrenIndicatorsEnricher()); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInitFailed, a.DisplayName(), err)
		}
	}
	UpdateNotUpIndicator(a, driverIndicator,
		"Application created but not yet started, at "+time.Now().Format(notUpTimestampFormat))
	return nil
}

// Start drives the application from STARTING to RUNNING over the
// accumulated locations.
//
// Every exit leaves the expected state at RUNNING; after a failure the START
// problem indicator makes the actual state ON_FIRE. An interruption is
// returned unchanged and is not recorded, and a not-up indicator marks the
// interrupted start. When a concurrent stop unmanages the application before
// the start completes, nothing more is written and the returned error wraps
// ErrEntityNotManaged.
func (a *Application) Start(ctx context.Context, locations []Location) error {
	a.AddLocations(locations...)
	locs := a.Locations()

	ClearProblemsIndicator(a, EffectorStart)
	SetExpectedState(a, lifecycle.Starting)
	defer a.expectRunning()

	UpdateNotUpIndicator(a, driverIndicator, "Application starting")
	if err := a.recordApplicationEvent(ctx, lifecycle.Starting); err != nil {
		return err
	}

	if err := a.runStart(ctx, locs); err != nil {
		if IsInterrupted(err) {
			UpdateNotUpIndicator(a, driverIndicator, "Application start interrupted")
			return err
		}
		return a.failStart(ctx, err)
	}
	return a.completeStart(ctx, locs)
}

// expectRunning is the final write of every start. It is skipped once the
// application has been unmanaged.
func (a *Application) expectRunning() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.IsManaged() {
		SetExpectedState(a, lifecycle.Running)
	}
}

func (a *Application) failStart(ctx context.Context, cause error) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.deployed.Store(false)
	startErr := fmt.Errorf("%w: %s: %w", ErrStartFailed, a.DisplayName(), cause)
	if !a.IsManaged() {
		return fmt.Errorf("%w: %w", ErrEntityNotManaged, startErr)
	}
	UpdateProblemsIndicator(a, EffectorStart, cause.Error())
	if err := a.recordApplicationEvent(ctx, lifecycle.OnFire); err != nil {
		return err
	}
	return startErr
}

func (a *Application) completeStart(ctx context.Context, locs []Location) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.IsManaged() {
		return fmt.Errorf("%w: %s was stopped before its start completed", ErrEntityNotManaged, a.DisplayName())
	}
	a.deployed.Store(true)
	if err := a.recordApplicationEvent(ctx, lifecycle.Running); err != nil {
		return err
	}
	a.Logger().Info("Started application", "locations", locationIDs(locs))
	return nil
}

func (a *Application) runStart(ctx context.Context, locations []Location) error {
	if a.hooks.PreStart != nil {
		if err := a.hooks.PreStart(ctx, a, locations); err != nil {
			return fmt.Errorf("pre-start: %w", err)
		}
	}
	ClearNotUpIndicator(a, driverIndicator)

	if err := a.startChildren(ctx, locations); err != nil {
		return err
	}

	if a.hooks.PostStart != nil {
		if err := a.hooks.PostStart(ctx, a, locations); err != nil {
			return fmt.Errorf("post-start: %w", err)
		}
	}
	return nil
}

func (a *Application) startChildren(ctx context.Context, locations []Location) error {
	if a.hooks.StartChildren != nil {
		return a.hooks.StartChildren(ctx, a, locations)
	}
	return StartChildren(ctx, a, locations)
}

// Stop drives the application from STOPPING to STOPPED. A top-level
// application is then marked undeployed and unmanaged, as the very last step.
func (a *Application) Stop(ctx context.Context) error {
	logger := a.Logger()
	logger.Info("Stopping application")

	UpdateNotUpIndicator(a, driverIndicator, "Application stopping")
	SetAttribute(a, ServiceUp, false)
	SetExpectedState(a, lifecycle.Stopping)
	if err := a.recordApplicationEvent(ctx, lifecycle.Stopping); err != nil {
		return err
	}

	if err := StopChildren(ctx, a); err != nil {
		if IsInterrupted(err) {
			return err
		}
		SetExpectedState(a, lifecycle.OnFire)
		recordErr := a.recordApplicationEvent(ctx, lifecycle.OnFire)
		logger.Warn("Error stopping application", "error", err)
		if recordErr != nil {
			return recordErr
		}
		return fmt.Errorf("%w: %s: %w", ErrStopFailed, a.DisplayName(), err)
	}

	a.ensureStoppingIndicator()
	SetExpectedState(a, lifecycle.Stopped)
	if err := a.recordApplicationEvent(ctx, lifecycle.Stopped); err != nil {
		return err
	}

	if a.Parent() == nil {
		if err := a.undeploy(ctx); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrStopFailed, a.DisplayName(), err)
		}
	}

	logger.Info("Stopped application")
	return nil
}

// ensureStoppingIndicator republishes the stopping indicator after the
// children have stopped, because stopping them may have cleared it.
func (a *Application) ensureStoppingIndicator() {
	UpdateNotUpIndicator(a, driverIndicator, "Application stopping")
}

func (a *Application) undeploy(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.deployed.Store(false)
	mgmt := a.ManagementContext()
	if mgmt == nil || mgmt.EntityManager() == nil {
		return nil
	}
	if err := mgmt.EntityManager().Unmanage(ctx, a); err != nil && !errors.Is(err, ErrEntityNotManaged) {
		return err
	}
	return nil
}

// Restart restarts every Startable child concurrently. The application's
// own state is re-derived from its children.
func (a *Application) Restart(ctx context.Context) error {
	if err := RestartChildren(ctx, a); err != nil {
		if IsInterrupted(err) {
			return err
		}
		return fmt.Errorf("%w: %s: %w", ErrRestartFailed, a.DisplayName(), err)
	}
	return nil
}

// OnManagementStopped records DESTROYED when the application is unmanaged
// while its management context is still running. During process teardown
// nothing is recorded.
func (a *Application) OnManagementStopped(ctx context.Context) {
	mgmt := a.ManagementContext()
	if mgmt == nil || !mgmt.IsRunning() {
		return
	}
	if err := a.recordApplicationEvent(ctx, lifecycle.Destroyed); err != nil {
		a.Logger().Debug("Interrupted recording application destruction", "error", err)
	}
}

// Application returns the proxy of this application.
func (a *Application) Application() Entity {
	appID := a.ApplicationID()
	if appID == a.ID() || (appID == "" && a.Parent() == nil) {
		return a.Proxy()
	}
	return a.BasicEntity.Application()
}

// SetApplication installs the back-reference to the root application.
// Pointing an application at itself is the normal case; anything else is a
// nested application and is only logged.
func (a *Application) SetApplication(app Entity) {
	if app == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if app.ID() == a.ID() {
		a.setApplicationID(a.ID())
		return
	}
	a.setApplicationID(app.ID())

	parent := a.Parent()
	switch {
	case parent == nil:
		a.Logger().Warn("Application assigned an enclosing application but has no parent", "application", app.ID())
	case parent.ApplicationID() != app.ID():
		a.Logger().Warn("Application assigned an application different from its parent's",
			"application", app.ID(), "parentApplication", parent.ApplicationID())
	}
}

// Deployed reports whether the application has been started successfully
// and not stopped since.
func (a *Application) Deployed() bool { return a.deployed.Load() }

// AddChild creates an entity from spec as a child of the application. Use it
// from the InitApp hook or at any later time.
func (a *Application) AddChild(ctx context.Context, spec EntitySpec) (Entity, error) {
	mgmt := a.ManagementContext()
	if mgmt == nil || mgmt.EntityManager() == nil {
		return nil, fmt.Errorf("add child to %s: %w", a.DisplayName(), ErrNoManagementContext)
	}
	return mgmt.EntityManager().CreateEntity(ctx, spec, a)
}

// recordApplicationEvent reports a lifecycle state to the usage manager.
// Failures are logged only while the management context is running; only
// an interruption is returned.
func (a *Application) recordApplicationEvent(ctx context.Context, state lifecycle.Lifecycle) error {
	mgmt := a.ManagementContext()
	if mgmt == nil {
		return nil
	}

	var err error
	if usage := mgmt.UsageManager(); usage == nil {
		err = ErrUsageManagerMissing
	} else {
		var catcher panics.Catcher
		catcher.Try(func() {
			err = usage.RecordApplicationEvent(ctx, a.Proxy(), state)
		})
		if recovered := catcher.Recovered(); recovered != nil {
			err = recovered.AsError()
		}
	}
	if err == nil {
		return nil
	}
	if IsInterrupted(err) {
		return err
	}
	if mgmt.IsRunning() {
		a.Logger().Warn("Problem recording application event", "state", state.String(), "error", err)
	}
	return nil
}
