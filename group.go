package deploykit

import (
	"slices"
	"sync"
)

// Group is an entity that also has members. Members are not owned by the
// group: they keep their own parent, and membership has no lifecycle effect.
type Group interface {
	Entity
	Members() []Entity
	SubscribeMembers(fn func()) Subscription
}

// BasicGroup is an embeddable Group implementation.
type BasicGroup struct {
	BasicEntity

	membersMu   sync.RWMutex
	members     []Entity
	membersSubs map[uint64]func()
	nextMemSub  uint64
}

// Members implements Group
func (g *BasicGroup) Members() []Entity {
	g.membersMu.RLock()
	defer g.membersMu.RUnlock()
	members := make([]Entity, 0, len(g.members))
	for _, m := range g.members {
		members = append(members, m.Proxy())
	}
	return members
}

// AddMember adds e to the group. It returns false if e was already a member.
func (g *BasicGroup) AddMember(e Entity) bool {
	e = Deproxy(e)
	g.membersMu.Lock()
	if slices.ContainsFunc(g.members, func(m Entity) bool { return m.ID() == e.ID() }) {
		g.membersMu.Unlock()
		return false
	}
	g.members = append(g.members, e)
	listeners := g.memberListenersLocked()
	g.membersMu.Unlock()

	for _, fn := range listeners {
		fn()
	}
	return true
}

// RemoveMember removes e from the group. It returns false if e was not a member.
func (g *BasicGroup) RemoveMember(e Entity) bool {
	id := e.ID()
	g.membersMu.Lock()
	idx := slices.IndexFunc(g.members, func(m Entity) bool { return m.ID() == id })
	if idx < 0 {
		g.membersMu.Unlock()
		return false
	}
	g.members = slices.Delete(g.members, idx, idx+1)
	listeners := g.memberListenersLocked()
	g.membersMu.Unlock()

	for _, fn := range listeners {
		fn()
	}
	return true
}

// SubscribeMembers implements Group
func (g *BasicGroup) SubscribeMembers(fn func()) Subscription {
	g.membersMu.Lock()
	if g.membersSubs == nil {
		g.membersSubs = make(map[uint64]func())
	}
	g.nextMemSub++
	id := g.nextMemSub
	g.membersSubs[id] = fn
	g.membersMu.Unlock()
	return subscriptionFunc(func() {
		g.membersMu.Lock()
		delete(g.membersSubs, id)
		g.membersMu.Unlock()
	})
}

func (g *BasicGroup) memberListenersLocked() []func() {
	listeners := make([]func(), 0, len(g.membersSubs))
	for _, fn := range g.membersSubs {
		listeners = append(listeners, fn)
	}
	return listeners
}
