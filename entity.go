package deploykit

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Entity is a managed unit with identity, attributes, optional children and
// a lifecycle. Concrete entity types embed BasicEntity, which supplies every
// method of this interface.
type Entity interface {
	// ID returns the stable identity of the entity. It never changes.
	ID() string

	// DisplayName returns the human-readable name of the entity.
	DisplayName() string

	// Parent returns the parent entity, or nil for a root.
	Parent() Entity

	// Children returns the direct children, in the order they were added.
	Children() []Entity

	// Locations returns the deployment locations of the entity.
	Locations() []Location

	// Application returns the root application the entity belongs to.
	Application() Entity

	// ApplicationID returns the ID of the root application, or "" when unknown.
	ApplicationID() string

	// Attributes returns the attribute map of the entity.
	Attributes() *AttributeMap

	// Enrichers returns the enricher registry of the entity.
	Enrichers() *EnricherRegistry

	// Proxy returns the externally visible handle of the entity. Before the
	// entity is managed this is the entity itself.
	Proxy() Entity

	// IsManaged reports whether the entity is registered with its management context.
	IsManaged() bool

	base() *BasicEntity
}

// ManagementListener is implemented by entities that need to react when
// they are removed from their management context.
type ManagementListener interface {
	OnManagementStopped(ctx context.Context)
}

// Initializable is implemented by entities that perform their own
// initialization after the base entity has been set up.
type Initializable interface {
	Init(ctx context.Context) error
}

// BasicEntity provides identity, hierarchy, attributes, enrichers and
// locations. Embed it in concrete entity types:
//
//	type Database struct {
//		deploykit.BasicEntity
//	}
type BasicEntity struct {
	id          string
	displayName string
	entityType  string

	// self is the outermost value embedding this BasicEntity.
	self  Entity
	attrs *AttributeMap
	enrs  *EnricherRegistry

	mgmt    atomic.Value // holds mgmtHolder
	proxy   atomic.Value // holds entityHolder
	managed atomic.Bool
	logger  Logger

	mu            sync.RWMutex
	parent        Entity
	children      []Entity
	childrenSubs  map[uint64]func()
	nextSubID     uint64
	locations     []Location
	applicationID string

	initOnce sync.Once
}

type mgmtHolder struct{ mgmt ManagementContext }

type entityHolder struct{ entity Entity }

// setup initializes the embedded base for self. It is called once by the
// entity manager before the entity becomes visible to anybody else.
func (e *BasicEntity) setup(self Entity, name string, mgmt ManagementContext) {
	e.id = newID()
	e.self = self
	e.entityType = fmt.Sprintf("%T", self)
	if name == "" {
		name = fmt.Sprintf("%s:%s", shortTypeName(e.entityType), e.id[len(e.id)-8:])
	}
	e.displayName = name
	e.attrs = NewAttributeMap(self)
	e.enrs = newEnricherRegistry(self)
	e.childrenSubs = make(map[uint64]func())
	e.mgmt.Store(mgmtHolder{mgmt: mgmt})

	var logger Logger = nopLogger{}
	if mgmt != nil && mgmt.Logger() != nil {
		logger = mgmt.Logger()
	}
	e.logger = WithLoggerValues(logger, "entity", e.displayName, "entityID", e.id)
}

// initBase installs the default service-state enricher. It runs once.
func (e *BasicEntity) initBase() error {
	var err error
	e.initOnce.Do(func() {
		err = e.enrs.Add(NewServiceStateEnricher())
	})
	return err
}

func (e *BasicEntity) base() *BasicEntity { return e }

// ID implements Entity
func (e *BasicEntity) ID() string { return e.id }

// DisplayName implements Entity
func (e *BasicEntity) DisplayName() string { return e.displayName }

// EntityType returns the Go type name of the concrete entity.
func (e *BasicEntity) EntityType() string { return e.entityType }

// String returns "name{id=...}".
func (e *BasicEntity) String() string {
	return fmt.Sprintf("%s{id=%s}", e.displayName, e.id)
}

// Logger returns the entity's logger, which tags every line with its identity.
func (e *BasicEntity) Logger() Logger {
	if e.logger == nil {
		return nopLogger{}
	}
	return e.logger
}

// Attributes implements Entity
func (e *BasicEntity) Attributes() *AttributeMap { return e.attrs }

// Enrichers implements Entity
func (e *BasicEntity) Enrichers() *EnricherRegistry { return e.enrs }

// ManagementContext returns the management context the entity was created by.
func (e *BasicEntity) ManagementContext() ManagementContext {
	h, _ := e.mgmt.Load().(mgmtHolder)
	return h.mgmt
}

// Proxy implements Entity
func (e *BasicEntity) Proxy() Entity {
	if h, ok := e.proxy.Load().(entityHolder); ok && h.entity != nil {
		return h.entity
	}
	return e.self
}

// IsManaged implements Entity
func (e *BasicEntity) IsManaged() bool { return e.managed.Load() }

// Parent implements Entity
func (e *BasicEntity) Parent() Entity {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.parent == nil {
		return nil
	}
	return e.parent.Proxy()
}

// Children implements Entity. Managed children are returned as their proxies.
func (e *BasicEntity) Children() []Entity {
	e.mu.RLock()
	defer e.mu.RUnlock()
	children := make([]Entity, 0, len(e.children))
	for _, c := range e.children {
		children = append(children, c.Proxy())
	}
	return children
}

// SubscribeChildren calls fn whenever a child is added or removed.
func (e *BasicEntity) SubscribeChildren(fn func()) Subscription {
	e.mu.Lock()
	e.nextSubID++
	id := e.nextSubID
	e.childrenSubs[id] = fn
	e.mu.Unlock()
	return subscriptionFunc(func() {
		e.mu.Lock()
		delete(e.childrenSubs, id)
		e.mu.Unlock()
	})
}

func (e *BasicEntity) addChild(child Entity) {
	child = Deproxy(child)
	e.mu.Lock()
	if slices.ContainsFunc(e.children, func(c Entity) bool { return c.ID() == child.ID() }) {
		e.mu.Unlock()
		return
	}
	e.children = append(e.children, child)
	listeners := e.childrenListenersLocked()
	e.mu.Unlock()

	cb := child.base()
	cb.mu.Lock()
	cb.parent = e.self
	cb.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

func (e *BasicEntity) removeChild(child Entity) bool {
	id := child.ID()
	e.mu.Lock()
	idx := slices.IndexFunc(e.children, func(c Entity) bool { return c.ID() == id })
	if idx < 0 {
		e.mu.Unlock()
		return false
	}
	e.children = slices.Delete(e.children, idx, idx+1)
	listeners := e.childrenListenersLocked()
	e.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
	return true
}

func (e *BasicEntity) childrenListenersLocked() []func() {
	listeners := make([]func(), 0, len(e.childrenSubs))
	for _, fn := range e.childrenSubs {
		listeners = append(listeners, fn)
	}
	return listeners
}

// Locations implements Entity
func (e *BasicEntity) Locations() []Location {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.locations)
}

// AddLocations adds locations to the entity's location set. Locations
// already present (by ID) are ignored; insertion order is preserved.
func (e *BasicEntity) AddLocations(locations ...Location) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, l := range locations {
		if l == nil {
			continue
		}
		if slices.ContainsFunc(e.locations, func(existing Location) bool { return existing.ID() == l.ID() }) {
			continue
		}
		e.locations = append(e.locations, l)
	}
}

// RemoveLocations removes locations (by ID) from the entity's location set.
func (e *BasicEntity) RemoveLocations(locations ...Location) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.locations = slices.DeleteFunc(e.locations, func(existing Location) bool {
		return slices.ContainsFunc(locations, func(l Location) bool { return l != nil && l.ID() == existing.ID() })
	})
}

// ApplicationID implements Entity
func (e *BasicEntity) ApplicationID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.applicationID
}

// Application implements Entity. The back-reference is held as an ID and
// resolved through the entity manager on demand.
func (e *BasicEntity) Application() Entity {
	appID := e.ApplicationID()
	if appID != "" {
		if appID == e.id {
			return e.Proxy()
		}
		if resolved := e.lookup(appID); resolved != nil {
			return resolved
		}
	}
	if parent := e.Parent(); parent != nil {
		return parent.Application()
	}
	return nil
}

func (e *BasicEntity) setApplicationID(id string) {
	e.mu.Lock()
	e.applicationID = id
	e.mu.Unlock()
}

func (e *BasicEntity) lookup(id string) Entity {
	mgmt := e.ManagementContext()
	if mgmt == nil || mgmt.EntityManager() == nil {
		return nil
	}
	found, ok := mgmt.EntityManager().Entity(id)
	if !ok {
		return nil
	}
	return found
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

func shortTypeName(t string) string {
	for i := len(t) - 1; i >= 0; i-- {
		if t[i] == '.' {
			return t[i+1:]
		}
	}
	return t
}
