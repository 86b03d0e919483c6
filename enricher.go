package deploykit

import (
	"fmt"
	"sync"
)

// Enricher is a derivation policy that computes attributes of an entity
// from other attributes (its own, or those of related entities).
//
// Each enricher carries a tag. An entity holds at most one enricher per tag:
// adding an enricher whose tag is already in use detaches the previous one,
// so a default derivation can be replaced by re-attaching under its tag.
type Enricher interface {
	// Tag returns the registry key of the enricher.
	Tag() string

	// Attach binds the enricher to e, subscribes to its inputs and performs
	// an initial derivation.
	Attach(e Entity) error

	// Detach stops all subscriptions. It is idempotent.
	Detach()

	// Resync re-derives the outputs from the current inputs.
	Resync()
}

// EnricherRegistry is the keyed set of enrichers attached to one entity.
type EnricherRegistry struct {
	owner Entity

	mu        sync.Mutex
	enrichers map[string]Enricher
	order     []string
}

func newEnricherRegistry(owner Entity) *EnricherRegistry {
	return &EnricherRegistry{
		owner:     owner,
		enrichers: make(map[string]Enricher),
	}
}

// Add attaches enricher to the owning entity, replacing and detaching any
// enricher registered under the same tag.
func (r *EnricherRegistry) Add(enricher Enricher) error {
	tag := enricher.Tag()
	if tag == "" {
		return ErrEnricherTagEmpty
	}

	r.mu.Lock()
	previous, replaced := r.enrichers[tag]
	r.enrichers[tag] = enricher
	if !replaced {
		r.order = append(r.order, tag)
	}
	r.mu.Unlock()

	if replaced && previous != enricher {
		previous.Detach()
	}

	if err := enricher.Attach(r.owner); err != nil {
		r.mu.Lock()
		if r.enrichers[tag] == enricher {
			delete(r.enrichers, tag)
			r.removeOrderLocked(tag)
		}
		r.mu.Unlock()
		return fmt.Errorf("attach enricher %q to %s: %w", tag, r.owner.DisplayName(), err)
	}
	return nil
}

// Get returns the enricher registered under tag.
func (r *EnricherRegistry) Get(tag string) (Enricher, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.enrichers[tag]
	return e, ok
}

// Remove detaches and forgets the enricher registered under tag.
func (r *EnricherRegistry) Remove(tag string) bool {
	r.mu.Lock()
	e, ok := r.enrichers[tag]
	if ok {
		delete(r.enrichers, tag)
		r.removeOrderLocked(tag)
	}
	r.mu.Unlock()

	if ok {
		e.Detach()
	}
	return ok
}

// Tags returns the tags of attached enrichers in the order they were first added.
func (r *EnricherRegistry) Tags() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// Resync asks every enricher to re-derive its outputs.
func (r *EnricherRegistry) Resync() {
	for _, e := range r.snapshot() {
		e.Resync()
	}
}

// detachAll is called when the owner is unmanaged.
func (r *EnricherRegistry) detachAll() {
	r.mu.Lock()
	enrichers := make([]Enricher, 0, len(r.order))
	for _, tag := range r.order {
		enrichers = append(enrichers, r.enrichers[tag])
	}
	r.enrichers = make(map[string]Enricher)
	r.order = nil
	r.mu.Unlock()

	for _, e := range enrichers {
		e.Detach()
	}
}

func (r *EnricherRegistry) snapshot() []Enricher {
	r.mu.Lock()
	defer r.mu.Unlock()
	enrichers := make([]Enricher, 0, len(r.order))
	for _, tag := range r.order {
		enrichers = append(enrichers, r.enrichers[tag])
	}
	return enrichers
}

func (r *EnricherRegistry) removeOrderLocked(tag string) {
	for i, t := range r.order {
		if t == tag {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			return
		}
	}
}

// derivation is the shared machinery of the built-in enrichers: it owns the
// subscriptions of one attachment and coalesces recomputation requests.
// A trigger arriving while a computation is in progress marks the derivation
// dirty; the running computation then loops, so the final derivation always
// reflects the latest inputs.
type derivation struct {
	compute func()

	mu       sync.Mutex
	entity   Entity
	subs     []Subscription
	running  bool
	pending  bool
	detached bool
}

func (d *derivation) bind(e Entity) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.entity != nil {
		return ErrEnricherAlreadyBound
	}
	d.entity = e
	d.detached = false
	return nil
}

func (d *derivation) owner() Entity {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.entity
}

func (d *derivation) active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.entity != nil && !d.detached
}

func (d *derivation) track(subs ...Subscription) {
	d.mu.Lock()
	if d.detached {
		d.mu.Unlock()
		for _, s := range subs {
			s.Unsubscribe()
		}
		return
	}
	d.subs = append(d.subs, subs...)
	d.mu.Unlock()
}

func (d *derivation) trigger() {
	d.mu.Lock()
	if d.detached || d.entity == nil {
		d.mu.Unlock()
		return
	}
	d.pending = true
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.mu.Unlock()

	for {
		d.mu.Lock()
		if !d.pending || d.detached {
			d.running = false
			d.mu.Unlock()
			return
		}
		d.pending = false
		d.mu.Unlock()

		d.compute()
	}
}

func (d *derivation) release() {
	d.mu.Lock()
	if d.detached {
		d.mu.Unlock()
		return
	}
	d.detached = true
	subs := d.subs
	d.subs = nil
	d.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
}
