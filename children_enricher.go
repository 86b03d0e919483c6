package deploykit

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/GoCodeAlone/deploykit/lifecycle"
)

// ChildrenEnricherTag is the tag under which the default children/members
// aggregation is attached. Attaching another enricher with this tag replaces it.
const ChildrenEnricherTag = "service.isUp.fromChildren"

// ChildrenIndicatorKey is the key of the not-up and problem entries the
// children aggregation publishes on its entity.
const ChildrenIndicatorKey = "children"

// ChildrenNotUpMessage is the not-up message published when a child or
// member reports service-up false.
const ChildrenNotUpMessage = "one or more children are not up"

// ChildrenIndicatorsEnricher derives the "children" not-up and problem
// indicators of an entity from the service-up and actual-state attributes
// of its children and, for groups, its members.
type ChildrenIndicatorsEnricher struct {
	d          derivation
	tag        string
	useMembers bool

	mu        sync.Mutex
	perEntity map[string][]Subscription
}

// NewChildrenIndicatorsEnricher creates the aggregation over children and,
// when the entity is a Group, its members.
func NewChildrenIndicatorsEnricher() *ChildrenIndicatorsEnricher {
	c := &ChildrenIndicatorsEnricher{
		tag:        ChildrenEnricherTag,
		useMembers: true,
		perEntity:  make(map[string][]Subscription),
	}
	c.d.compute = c.compute
	return c
}

// ChildrenOnly restricts the aggregation to children, ignoring group members.
func (c *ChildrenIndicatorsEnricher) ChildrenOnly() *ChildrenIndicatorsEnricher {
	c.useMembers = false
	return c
}

// WithTag attaches the aggregation under a different tag, so it can run
// alongside the default one.
func (c *ChildrenIndicatorsEnricher) WithTag(tag string) *ChildrenIndicatorsEnricher {
	c.tag = tag
	return c
}

// Tag implements Enricher
func (c *ChildrenIndicatorsEnricher) Tag() string { return c.tag }

// Attach implements Enricher
func (c *ChildrenIndicatorsEnricher) Attach(e Entity) error {
	if err := c.d.bind(e); err != nil {
		return err
	}

	onMembership := func() {
		c.resubscribe()
		c.d.trigger()
	}
	c.d.track(
		e.base().SubscribeChildren(onMembership),
		e.Attributes().Subscribe(ServiceStateExpected.Name(), func(AttributeChange) { c.d.trigger() }),
	)
	if g, ok := Deproxy(e).(Group); ok && c.useMembers {
		c.d.track(g.SubscribeMembers(onMembership))
	}

	c.resubscribe()
	c.d.trigger()
	return nil
}

// Detach implements Enricher
func (c *ChildrenIndicatorsEnricher) Detach() {
	c.d.release()
	c.mu.Lock()
	subs := c.perEntity
	c.perEntity = make(map[string][]Subscription)
	c.mu.Unlock()
	for _, list := range subs {
		for _, s := range list {
			s.Unsubscribe()
		}
	}
}

// Resync implements Enricher
func (c *ChildrenIndicatorsEnricher) Resync() {
	c.resubscribe()
	c.d.trigger()
}

// relevant returns the children and members the aggregation observes,
// each entity once.
func (c *ChildrenIndicatorsEnricher) relevant(e Entity) []Entity {
	seen := make(map[string]bool)
	var result []Entity
	add := func(list []Entity) {
		for _, x := range list {
			if !seen[x.ID()] {
				seen[x.ID()] = true
				result = append(result, x)
			}
		}
	}
	add(e.Children())
	if g, ok := Deproxy(e).(Group); ok && c.useMembers {
		add(g.Members())
	}
	return result
}

// resubscribe aligns the per-entity subscriptions with the current set of
// children and members.
func (c *ChildrenIndicatorsEnricher) resubscribe() {
	e := c.d.owner()
	if e == nil {
		return
	}
	current := c.relevant(e)

	c.mu.Lock()
	if !c.d.active() {
		c.mu.Unlock()
		return
	}
	wanted := make(map[string]Entity, len(current))
	for _, x := range current {
		wanted[x.ID()] = x
	}
	var stale []Subscription
	for id, subs := range c.perEntity {
		if _, ok := wanted[id]; !ok {
			stale = append(stale, subs...)
			delete(c.perEntity, id)
		}
	}
	trigger := func(AttributeChange) { c.d.trigger() }
	for id, x := range wanted {
		if _, ok := c.perEntity[id]; ok {
			continue
		}
		c.perEntity[id] = []Subscription{
			x.Attributes().Subscribe(ServiceUp.Name(), trigger),
			x.Attributes().Subscribe(ServiceStateActual.Name(), trigger),
		}
	}
	c.mu.Unlock()

	for _, s := range stale {
		s.Unsubscribe()
	}
}

func (c *ChildrenIndicatorsEnricher) compute() {
	e := c.d.owner()
	if e == nil {
		return
	}

	var notUp []string
	var unhealthy []string
	expected, hasExpected := ExpectedState(e)
	checkProblems := hasExpected && (expected == lifecycle.Running || expected == lifecycle.Starting)

	for _, x := range c.relevant(e) {
		if up, ok := GetAttribute(x, ServiceUp); ok && !up {
			notUp = append(notUp, x.DisplayName())
		}
		if !checkProblems {
			continue
		}
		if state, ok := ActualState(x); ok && state.IsStopped() {
			unhealthy = append(unhealthy, fmt.Sprintf("%s (%s)", x.DisplayName(), state))
		}
	}

	if len(notUp) > 0 {
		UpdateNotUpIndicator(e, ChildrenIndicatorKey, ChildrenNotUpMessage)
	} else {
		ClearNotUpIndicator(e, ChildrenIndicatorKey)
	}

	if len(unhealthy) > 0 {
		sort.Strings(unhealthy)
		UpdateProblemsIndicator(e, ChildrenIndicatorKey, "Required entities not healthy: "+strings.Join(unhealthy, ", "))
	} else {
		ClearProblemsIndicator(e, ChildrenIndicatorKey)
	}
}
