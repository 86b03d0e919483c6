package deploykit

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingEnricher counts its lifecycle calls.
type recordingEnricher struct {
	tag       string
	attachErr error
	attached  Entity
	detaches  int
	resyncs   int
}

func (r *recordingEnricher) Tag() string { return r.tag }

func (r *recordingEnricher) Attach(e Entity) error {
	if r.attachErr != nil {
		return r.attachErr
	}
	r.attached = e
	return nil
}

func (r *recordingEnricher) Detach() { r.detaches++ }
func (r *recordingEnricher) Resync() { r.resyncs++ }

func TestEnricherRegistry(t *testing.T) {
	m, _ := newTestManagement(t)

	t.Run("base_entities_carry_service_state_enricher", func(t *testing.T) {
		e := newPlainEntity(t, m, "base")
		assert.Equal(t, []string{ServiceStateEnricherTag}, e.Enrichers().Tags())
		_, ok := e.Enrichers().Get(ServiceStateEnricherTag)
		assert.True(t, ok)
	})

	t.Run("same_tag_replaces_and_detaches", func(t *testing.T) {
		e := newPlainEntity(t, m, "replace")
		first := &recordingEnricher{tag: "custom"}
		second := &recordingEnricher{tag: "custom"}

		require.NoError(t, e.Enrichers().Add(first))
		require.NoError(t, e.Enrichers().Add(second))

		assert.Equal(t, 1, first.detaches)
		assert.Same(t, Deproxy(e), second.attached)
		got, _ := e.Enrichers().Get("custom")
		assert.Same(t, second, got)
		assert.Equal(t, []string{ServiceStateEnricherTag, "custom"}, e.Enrichers().Tags())
	})

	t.Run("empty_tag_rejected", func(t *testing.T) {
		e := newPlainEntity(t, m, "empty")
		assert.ErrorIs(t, e.Enrichers().Add(&recordingEnricher{}), ErrEnricherTagEmpty)
	})

	t.Run("attach_failure_rolls_back", func(t *testing.T) {
		e := newPlainEntity(t, m, "rollback")
		attachErr := errors.New("cannot attach")
		err := e.Enrichers().Add(&recordingEnricher{tag: "broken", attachErr: attachErr})
		assert.ErrorIs(t, err, attachErr)
		_, ok := e.Enrichers().Get("broken")
		assert.False(t, ok)
		assert.NotContains(t, e.Enrichers().Tags(), "broken")
	})

	t.Run("remove_and_resync", func(t *testing.T) {
		e := newPlainEntity(t, m, "remove")
		r := &recordingEnricher{tag: "custom"}
		require.NoError(t, e.Enrichers().Add(r))

		e.Enrichers().Resync()
		assert.Equal(t, 1, r.resyncs)

		assert.True(t, e.Enrichers().Remove("custom"))
		assert.False(t, e.Enrichers().Remove("custom"))
		assert.Equal(t, 1, r.detaches)
	})

	t.Run("built_in_enrichers_attach_once", func(t *testing.T) {
		e1 := newPlainEntity(t, m, "one")
		e2 := newPlainEntity(t, m, "two")
		s := NewServiceStateEnricher()
		require.NoError(t, e1.Enrichers().Add(s))
		assert.ErrorIs(t, e2.Enrichers().Add(s), ErrEnricherAlreadyBound)
	})
}

func TestDerivation_Coalesces(t *testing.T) {
	var d derivation
	runs := 0
	d.compute = func() {
		runs++
		if runs == 1 {
			// a trigger arriving mid-computation is folded into one more run
			d.trigger()
			d.trigger()
		}
	}

	d.trigger()
	assert.Zero(t, runs, "unbound derivations do not compute")

	m, _ := newTestManagement(t)
	require.NoError(t, d.bind(newPlainEntity(t, m, "coalesce")))
	d.trigger()
	assert.Equal(t, 2, runs)

	d.release()
	d.trigger()
	assert.Equal(t, 2, runs)
	assert.False(t, d.active())
}
