package deploykit

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// ManagementContext is the runtime that owns entities.
type ManagementContext interface {
	// IsRunning reports whether the context is operating normally. It turns
	// false once termination has begun.
	IsRunning() bool

	EntityManager() EntityManager
	UsageManager() UsageManager
	Logger() Logger
}

// EntityManager creates, registers and removes entities.
type EntityManager interface {
	// CreateEntity builds the entity described by spec, initializes it and
	// adds it to parent. When parent is managed the new entity is managed too.
	CreateEntity(ctx context.Context, spec EntitySpec, parent Entity) (Entity, error)

	// Manage registers e and all its descendants.
	Manage(e Entity) error

	// Unmanage removes e and all its descendants, children first.
	Unmanage(ctx context.Context, e Entity) error

	// Entity returns the proxy of the managed entity with id.
	Entity(id string) (Entity, bool)

	// Entities returns the proxies of all managed entities.
	Entities() []Entity

	IsManaged(e Entity) bool
}

// Option configures a LocalManagementContext.
type Option func(*LocalManagementContext) error

// WithLogger sets the logger of the management context and its entities.
func WithLogger(logger Logger) Option {
	return func(m *LocalManagementContext) error {
		m.logger = logger
		return nil
	}
}

// WithUsageManager replaces the in-memory usage manager.
func WithUsageManager(usage UsageManager) Option {
	return func(m *LocalManagementContext) error {
		m.usage = usage
		return nil
	}
}

// WithConfig sets the configuration. It is validated before use.
func WithConfig(cfg *ManagementConfig) Option {
	return func(m *LocalManagementContext) error {
		if cfg == nil {
			return fmt.Errorf("%w: nil config", ErrConfigInvalid)
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		c := *cfg
		m.config = &c
		return nil
	}
}

// WithResyncSchedule overrides the resync schedule of the configuration.
func WithResyncSchedule(schedule string) Option {
	return func(m *LocalManagementContext) error {
		m.resyncSchedule = &schedule
		return nil
	}
}

// LocalManagementContext is an in-process management context.
type LocalManagementContext struct {
	config         *ManagementConfig
	resyncSchedule *string
	logger         Logger
	usage          UsageManager
	entities       *localEntityManager
	observers      *observerSet
	scheduler      *cron.Cron

	running atomic.Bool

	mu           sync.Mutex
	applications []string
}

// NewLocalManagementContext creates a running management context.
func NewLocalManagementContext(opts ...Option) (*LocalManagementContext, error) {
	m := &LocalManagementContext{config: DefaultManagementConfig()}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	if m.resyncSchedule != nil {
		m.config.ResyncSchedule = *m.resyncSchedule
		if err := m.config.Validate(); err != nil {
			return nil, err
		}
	}
	if m.logger == nil {
		m.logger = NewTextLogger(os.Stderr, m.config.LogLevel)
	}
	if m.usage == nil {
		m.usage = NewLocalUsageManager(m.logger, m.config.UsageHistoryLimit)
	}
	m.observers = newObserverSet(m.logger)
	m.entities = &localEntityManager{mgmt: m, entities: make(map[string]Entity)}

	if m.config.ResyncSchedule != "" {
		m.scheduler = cron.New()
		if _, err := m.scheduler.AddFunc(m.config.ResyncSchedule, m.resyncAll); err != nil {
			return nil, fmt.Errorf("%w: resync schedule %q: %w", ErrConfigInvalid, m.config.ResyncSchedule, err)
		}
		m.scheduler.Start()
	}

	m.running.Store(true)
	m.logger.Debug("Management context started", "resyncSchedule", m.config.ResyncSchedule)
	return m, nil
}

// IsRunning implements ManagementContext
func (m *LocalManagementContext) IsRunning() bool { return m.running.Load() }

// EntityManager implements ManagementContext
func (m *LocalManagementContext) EntityManager() EntityManager { return m.entities }

// UsageManager implements ManagementContext
func (m *LocalManagementContext) UsageManager() UsageManager { return m.usage }

// Logger implements ManagementContext
func (m *LocalManagementContext) Logger() Logger { return m.logger }

// Config returns a copy of the effective configuration.
func (m *LocalManagementContext) Config() ManagementConfig { return *m.config }

// RegisterObserver subscribes observer to the management events
// (application created, entity managed and unmanaged).
func (m *LocalManagementContext) RegisterObserver(observer Observer, eventTypes ...string) error {
	return m.observers.RegisterObserver(observer, eventTypes...)
}

// UnregisterObserver removes an observer of management events.
func (m *LocalManagementContext) UnregisterObserver(observer Observer) error {
	return m.observers.UnregisterObserver(observer)
}

// NotifyObservers publishes event to the observers of management events.
func (m *LocalManagementContext) NotifyObservers(ctx context.Context, event CloudEvent) error {
	return m.observers.NotifyObservers(ctx, event)
}

// GetObservers describes the observers of management events.
func (m *LocalManagementContext) GetObservers() []ObserverInfo {
	return m.observers.GetObservers()
}

// CreateApplication builds the application described by spec with its
// children, initializes the tree and manages it. When any part fails to
// initialize nothing is managed.
func (m *LocalManagementContext) CreateApplication(ctx context.Context, spec ApplicationSpec) (StartableApplication, error) {
	if !m.IsRunning() {
		return nil, ErrManagementNotRunning
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	app := newApplication(spec.Hooks)
	app.setup(app, spec.Name, m)
	app.SetApplication(app)
	app.AddLocations(spec.Locations...)

	for _, childSpec := range spec.Children {
		if _, err := m.entities.CreateEntity(ctx, childSpec, app); err != nil {
			return nil, fmt.Errorf("create application %q: %w", app.DisplayName(), err)
		}
	}
	if err := app.Init(ctx); err != nil {
		return nil, err
	}
	if err := m.entities.Manage(app); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.applications = append(m.applications, app.ID())
	m.mu.Unlock()

	m.emit(ctx, EventTypeApplicationCreated, app)
	m.logger.Info("Created application", "application", app.DisplayName(), "applicationID", app.ID())

	proxy, _ := app.Proxy().(StartableApplication)
	return proxy, nil
}

// Applications returns the proxies of the managed applications, in creation order.
func (m *LocalManagementContext) Applications() []StartableApplication {
	m.mu.Lock()
	ids := slices.Clone(m.applications)
	m.mu.Unlock()

	apps := make([]StartableApplication, 0, len(ids))
	for _, id := range ids {
		if e, ok := m.entities.Entity(id); ok {
			if app, ok := e.(StartableApplication); ok {
				apps = append(apps, app)
			}
		}
	}
	return apps
}

// Terminate stops the context: it stops reporting as running, unmanages
// every application and stops the resync scheduler, waiting at most the
// configured shutdown timeout for a running resync.
func (m *LocalManagementContext) Terminate(ctx context.Context) error {
	if !m.running.CompareAndSwap(true, false) {
		return nil
	}
	m.logger.Info("Terminating management context")

	for _, app := range m.Applications() {
		if err := m.entities.Unmanage(ctx, app); err != nil {
			m.logger.Warn("Failed to unmanage application during termination", "application", app.DisplayName(), "error", err)
		}
	}

	if m.scheduler != nil {
		stopped := m.scheduler.Stop()
		timeout := time.NewTimer(m.config.ShutdownTimeout)
		defer timeout.Stop()
		select {
		case <-stopped.Done():
		case <-timeout.C:
			m.logger.Warn("Timed out waiting for resync to finish", "timeout", m.config.ShutdownTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// resyncAll re-derives the enrichers of every managed entity.
func (m *LocalManagementContext) resyncAll() {
	for _, e := range m.entities.implementations() {
		e.Enrichers().Resync()
	}
}

func (m *LocalManagementContext) emit(ctx context.Context, eventType string, e Entity) {
	if len(m.observers.GetObservers()) == 0 {
		return
	}
	event := NewCloudEvent(eventType, "deploykit/management", map[string]any{
		"entityId":      e.ID(),
		"displayName":   e.DisplayName(),
		"applicationId": e.ApplicationID(),
	}, nil)
	if err := m.observers.NotifyObservers(ctx, event); err != nil {
		m.logger.Debug("Failed to notify observers", "event", eventType, "error", err)
	}
}

// localEntityManager keeps the implementations of managed entities by ID.
type localEntityManager struct {
	mgmt *LocalManagementContext

	mu       sync.RWMutex
	entities map[string]Entity
}

// CreateEntity implements EntityManager
func (m *localEntityManager) CreateEntity(ctx context.Context, spec EntitySpec, parent Entity) (Entity, error) {
	if !m.mgmt.IsRunning() {
		return nil, ErrManagementNotRunning
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	e, err := m.build(ctx, spec, parent)
	if err != nil {
		return nil, err
	}
	if parent != nil && parent.IsManaged() {
		if err := m.Manage(e); err != nil {
			return nil, err
		}
	}
	return e.Proxy(), nil
}

func (m *localEntityManager) build(ctx context.Context, spec EntitySpec, parent Entity) (Entity, error) {
	e, err := spec.build()
	if err != nil {
		return nil, err
	}
	b := e.base()
	if b.self != nil {
		return nil, fmt.Errorf("entity %q: %w", spec.Name, ErrEntityAlreadyManaged)
	}
	b.setup(e, spec.Name, m.mgmt)
	b.AddLocations(spec.Locations...)

	var parentBase *BasicEntity
	if parent != nil {
		parentBase = Deproxy(parent).base()
		if parentBase.ManagementContext() != ManagementContext(m.mgmt) {
			return nil, fmt.Errorf("entity %q: %w", spec.Name, ErrForeignEntity)
		}
		b.setApplicationID(parentBase.ApplicationID())
		parentBase.addChild(e)
	}

	fail := func(err error) (Entity, error) {
		if parentBase != nil {
			parentBase.removeChild(e)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrInitFailed, b.DisplayName(), err)
	}

	if err := b.initBase(); err != nil {
		return fail(err)
	}
	for _, initializer := range spec.Initializers {
		if err := initializer(ctx, e); err != nil {
			return fail(err)
		}
	}
	if initializable, ok := e.(Initializable); ok {
		if err := initializable.Init(ctx); err != nil {
			return fail(err)
		}
	}
	for _, childSpec := range spec.Children {
		if _, err := m.build(ctx, childSpec, e); err != nil {
			return fail(err)
		}
	}
	return e, nil
}

// Manage implements EntityManager
func (m *localEntityManager) Manage(e Entity) error {
	e = Deproxy(e)
	b := e.base()
	if b.ManagementContext() != ManagementContext(m.mgmt) {
		return fmt.Errorf("manage %s: %w", e.DisplayName(), ErrForeignEntity)
	}
	if b.IsManaged() {
		return fmt.Errorf("manage %s: %w", e.DisplayName(), ErrEntityAlreadyManaged)
	}
	m.manageTree(e)
	return nil
}

func (m *localEntityManager) manageTree(e Entity) {
	b := e.base()
	if b.ApplicationID() == "" {
		if parent := b.Parent(); parent != nil {
			b.setApplicationID(parent.ApplicationID())
		}
	}
	b.proxy.Store(entityHolder{entity: NewProxy(e)})
	m.mu.Lock()
	m.entities[e.ID()] = e
	m.mu.Unlock()
	b.managed.Store(true)
	b.Logger().Debug("Entity managed")
	m.mgmt.emit(context.Background(), EventTypeEntityManaged, e)

	b.mu.RLock()
	children := slices.Clone(b.children)
	b.mu.RUnlock()
	for _, child := range children {
		if !child.IsManaged() {
			m.manageTree(child)
		}
	}
}

// Unmanage implements EntityManager
func (m *localEntityManager) Unmanage(ctx context.Context, e Entity) error {
	e = Deproxy(e)
	if !e.IsManaged() {
		return fmt.Errorf("unmanage %s: %w", e.DisplayName(), ErrEntityNotManaged)
	}
	m.unmanageTree(ctx, e)

	// A directly unmanaged child leaves its parent.
	b := e.base()
	b.mu.RLock()
	parent := b.parent
	b.mu.RUnlock()
	if parent != nil && parent.IsManaged() {
		parent.base().removeChild(e)
	}
	return nil
}

func (m *localEntityManager) unmanageTree(ctx context.Context, e Entity) {
	b := e.base()
	b.mu.RLock()
	children := slices.Clone(b.children)
	b.mu.RUnlock()
	for _, child := range children {
		if child.IsManaged() {
			m.unmanageTree(ctx, child)
		}
	}

	if !b.managed.CompareAndSwap(true, false) {
		return
	}
	m.mu.Lock()
	delete(m.entities, e.ID())
	m.mu.Unlock()
	b.enrs.detachAll()
	b.Logger().Debug("Entity unmanaged")

	if listener, ok := e.(ManagementListener); ok {
		listener.OnManagementStopped(ctx)
	}
	m.mgmt.emit(ctx, EventTypeEntityUnmanaged, e)
}

// Entity implements EntityManager
func (m *localEntityManager) Entity(id string) (Entity, bool) {
	m.mu.RLock()
	e, ok := m.entities[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return e.Proxy(), true
}

// Entities implements EntityManager
func (m *localEntityManager) Entities() []Entity {
	impls := m.implementations()
	proxies := make([]Entity, 0, len(impls))
	for _, e := range impls {
		proxies = append(proxies, e.Proxy())
	}
	return proxies
}

// IsManaged implements EntityManager
func (m *localEntityManager) IsManaged(e Entity) bool {
	if e == nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entities[e.ID()]
	return ok
}

func (m *localEntityManager) implementations() []Entity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	impls := make([]Entity, 0, len(m.entities))
	for _, e := range m.entities {
		impls = append(impls, e)
	}
	slices.SortFunc(impls, func(a, b Entity) int {
		switch {
		case a.ID() < b.ID():
			return -1
		case a.ID() > b.ID():
			return 1
		}
		return 0
	})
	return impls
}
