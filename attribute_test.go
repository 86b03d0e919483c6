package deploykit

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPlainEntity(t *testing.T, m *LocalManagementContext, name string) Entity {
	t.Helper()
	e, err := m.EntityManager().CreateEntity(context.Background(), EntitySpec{
		Name:    name,
		Factory: func() Entity { return &plainChild{} },
	}, nil)
	require.NoError(t, err)
	return e
}

func TestAttributes(t *testing.T) {
	m, _ := newTestManagement(t)
	counter := NewAttributeKey[int]("test.counter", "A counter")

	t.Run("get_unset_attribute", func(t *testing.T) {
		e := newPlainEntity(t, m, "unset")
		v, ok := GetAttribute(e, counter)
		assert.False(t, ok)
		assert.Zero(t, v)
	})

	t.Run("set_returns_previous_value", func(t *testing.T) {
		e := newPlainEntity(t, m, "set")
		assert.Zero(t, SetAttribute(e, counter, 1))
		assert.Equal(t, 1, SetAttribute(e, counter, 2))
		v, ok := GetAttribute(e, counter)
		assert.True(t, ok)
		assert.Equal(t, 2, v)
		assert.Contains(t, e.Attributes().Names(), "test.counter")
	})

	t.Run("mismatched_type_reads_as_unset", func(t *testing.T) {
		e := newPlainEntity(t, m, "mismatch")
		SetAttribute(e, NewAttributeKey[string]("test.counter", ""), "not a number")
		_, ok := GetAttribute(e, counter)
		assert.False(t, ok)
	})

	t.Run("subscribers_see_changes_in_order", func(t *testing.T) {
		e := newPlainEntity(t, m, "ordered")
		var seen []int
		var changes []AttributeChange
		sub := SubscribeAttribute(e, counter, func(_ Entity, v int) { seen = append(seen, v) })
		e.Attributes().Subscribe("test.counter", func(c AttributeChange) { changes = append(changes, c) })

		SetAttribute(e, counter, 1)
		SetAttribute(e, counter, 2)
		sub.Unsubscribe()
		sub.Unsubscribe()
		SetAttribute(e, counter, 3)

		assert.Equal(t, []int{1, 2}, seen)
		require.Len(t, changes, 3)
		assert.False(t, changes[0].HadOld)
		assert.Equal(t, 2, changes[2].Old)
		assert.Equal(t, 3, changes[2].New)
		assert.Less(t, changes[0].Sequence, changes[1].Sequence)
		assert.Same(t, Deproxy(e), changes[0].Entity)
	})

	t.Run("wildcard_subscription", func(t *testing.T) {
		e := newPlainEntity(t, m, "wildcard")
		var names []string
		e.Attributes().Subscribe("", func(c AttributeChange) { names = append(names, c.Name) })
		SetAttribute(e, counter, 1)
		SetAttribute(e, NewAttributeKey[string]("test.label", ""), "x")
		assert.Equal(t, []string{"test.counter", "test.label"}, names)
	})

	t.Run("update_publishes_only_changes", func(t *testing.T) {
		e := newPlainEntity(t, m, "update")
		calls := 0
		SubscribeAttribute(e, counter, func(Entity, int) { calls++ })

		inc := func(current int, ok bool) (int, bool) { return current + 1, true }
		same := func(current int, ok bool) (int, bool) { return current, false }

		assert.True(t, UpdateAttribute(e, counter, inc))
		assert.False(t, UpdateAttribute(e, counter, same))
		assert.True(t, UpdateAttribute(e, counter, inc))

		v, _ := GetAttribute(e, counter)
		assert.Equal(t, 2, v)
		assert.Equal(t, 2, calls)
	})

	t.Run("concurrent_updates_are_atomic", func(t *testing.T) {
		e := newPlainEntity(t, m, "concurrent")
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				UpdateAttribute(e, counter, func(current int, _ bool) (int, bool) { return current + 1, true })
			}()
		}
		wg.Wait()
		v, _ := GetAttribute(e, counter)
		assert.Equal(t, 50, v)
	})

	t.Run("key_accessors", func(t *testing.T) {
		assert.Equal(t, "test.counter", counter.Name())
		assert.Equal(t, "test.counter", counter.String())
		assert.Equal(t, "A counter", counter.Description())
	})
}
