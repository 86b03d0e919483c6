package deploykit

import (
	"sync"
)

// AttributeKey is a typed descriptor for an entity attribute.
// The type parameter fixes the type of value stored under the name, so
// GetAttribute and SetAttribute never need type assertions at call sites.
type AttributeKey[T any] struct {
	name        string
	description string
}

// NewAttributeKey creates a typed attribute descriptor.
func NewAttributeKey[T any](name, description string) AttributeKey[T] {
	return AttributeKey[T]{name: name, description: description}
}

// Name returns the attribute name
func (k AttributeKey[T]) Name() string { return k.name }

// Description returns the human-readable description of the attribute
func (k AttributeKey[T]) Description() string { return k.description }

// String returns the attribute name
func (k AttributeKey[T]) String() string { return k.name }

// AttributeChange describes a single attribute publication.
type AttributeChange struct {
	Entity   Entity
	Name     string
	Old      any
	HadOld   bool
	New      any
	Sequence uint64
}

// Subscription is returned by the subscribe helpers; Unsubscribe stops
// further notifications and is safe to call more than once.
type Subscription interface {
	Unsubscribe()
}

type subscriptionFunc func()

func (f subscriptionFunc) Unsubscribe() { f() }

type attributeListener struct {
	id uint64
	fn func(AttributeChange)
}

// AttributeMap holds the attribute values of one entity.
//
// Writes are atomic. Listeners are called synchronously on the writing
// goroutine after the lock is released, so the writes made by one goroutine
// are observed in order; there is no ordering between concurrent writers.
type AttributeMap struct {
	owner Entity

	mu        sync.RWMutex
	values    map[string]any
	listeners map[string][]attributeListener
	nextID    uint64
	sequence  uint64
}

// NewAttributeMap creates an empty attribute map owned by owner.
func NewAttributeMap(owner Entity) *AttributeMap {
	return &AttributeMap{
		owner:     owner,
		values:    make(map[string]any),
		listeners: make(map[string][]attributeListener),
	}
}

// Value returns the raw value stored under name.
func (m *AttributeMap) Value(name string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[name]
	return v, ok
}

// Names returns the names of all attributes that have been published.
func (m *AttributeMap) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.values))
	for name := range m.values {
		names = append(names, name)
	}
	return names
}

// Subscribe registers fn for changes to the named attribute. An empty name
// subscribes to every attribute of the entity.
func (m *AttributeMap) Subscribe(name string, fn func(AttributeChange)) Subscription {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.listeners[name] = append(m.listeners[name], attributeListener{id: id, fn: fn})
	m.mu.Unlock()

	var once sync.Once
	return subscriptionFunc(func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			current := m.listeners[name]
			for i, l := range current {
				if l.id == id {
					m.listeners[name] = append(current[:i:i], current[i+1:]...)
					break
				}
			}
		})
	})
}

func (m *AttributeMap) set(name string, value any) any {
	m.mu.Lock()
	old, hadOld := m.values[name]
	m.values[name] = value
	change := m.changeLocked(name, old, hadOld, value)
	listeners := m.listenersLocked(name)
	m.mu.Unlock()

	notify(listeners, change)
	return old
}

// update applies fn to the current value under the write lock. fn must not
// touch the map. Listeners are only notified when fn reports a change.
func (m *AttributeMap) update(name string, fn func(current any, ok bool) (any, bool)) bool {
	m.mu.Lock()
	old, hadOld := m.values[name]
	value, changed := fn(old, hadOld)
	if !changed {
		m.mu.Unlock()
		return false
	}
	m.values[name] = value
	change := m.changeLocked(name, old, hadOld, value)
	listeners := m.listenersLocked(name)
	m.mu.Unlock()

	notify(listeners, change)
	return true
}

func (m *AttributeMap) changeLocked(name string, old any, hadOld bool, value any) AttributeChange {
	m.sequence++
	return AttributeChange{
		Entity:   m.owner,
		Name:     name,
		Old:      old,
		HadOld:   hadOld,
		New:      value,
		Sequence: m.sequence,
	}
}

func (m *AttributeMap) listenersLocked(name string) []attributeListener {
	named := m.listeners[name]
	wildcard := m.listeners[""]
	if len(named) == 0 && len(wildcard) == 0 {
		return nil
	}
	listeners := make([]attributeListener, 0, len(named)+len(wildcard))
	listeners = append(listeners, named...)
	return append(listeners, wildcard...)
}

func notify(listeners []attributeListener, change AttributeChange) {
	for _, l := range listeners {
		l.fn(change)
	}
}

// GetAttribute returns the value of key on e and whether it has been set.
func GetAttribute[T any](e Entity, key AttributeKey[T]) (T, bool) {
	var zero T
	raw, ok := e.Attributes().Value(key.name)
	if !ok {
		return zero, false
	}
	v, ok := raw.(T)
	if !ok {
		return zero, false
	}
	return v, true
}

// SetAttribute publishes value for key on e and returns the previous value.
func SetAttribute[T any](e Entity, key AttributeKey[T], value T) T {
	old := e.Attributes().set(key.name, value)
	prev, _ := old.(T)
	return prev
}

// UpdateAttribute atomically replaces the value of key using fn. fn receives
// the current value (zero and false when unset) and returns the new value
// and whether anything changed; unchanged results are not published.
func UpdateAttribute[T any](e Entity, key AttributeKey[T], fn func(current T, ok bool) (T, bool)) bool {
	return e.Attributes().update(key.name, func(current any, ok bool) (any, bool) {
		typed, isT := current.(T)
		return fn(typed, ok && isT)
	})
}

// SubscribeAttribute calls fn with the typed new value whenever key changes on e.
func SubscribeAttribute[T any](e Entity, key AttributeKey[T], fn func(e Entity, value T)) Subscription {
	return e.Attributes().Subscribe(key.name, func(change AttributeChange) {
		v, _ := change.New.(T)
		fn(change.Entity, v)
	})
}
