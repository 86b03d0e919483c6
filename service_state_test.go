package deploykit

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/GoCodeAlone/deploykit/lifecycle"
)

func TestComputeActualState(t *testing.T) {
	tests := []struct {
		name        string
		expected    lifecycle.Lifecycle
		hasExpected bool
		up          bool
		problems    int
		want        lifecycle.Lifecycle
	}{
		{name: "no_expected_state", hasExpected: false, up: true, want: lifecycle.Created},
		{name: "no_expected_state_ignores_problems", hasExpected: false, problems: 2, want: lifecycle.Created},
		{name: "running_and_up", expected: lifecycle.Running, hasExpected: true, up: true, want: lifecycle.Running},
		{name: "running_but_not_up", expected: lifecycle.Running, hasExpected: true, up: false, want: lifecycle.OnFire},
		{name: "running_with_problem", expected: lifecycle.Running, hasExpected: true, up: true, problems: 1, want: lifecycle.OnFire},
		{name: "starting_not_up", expected: lifecycle.Starting, hasExpected: true, up: false, want: lifecycle.Starting},
		{name: "starting_with_problem", expected: lifecycle.Starting, hasExpected: true, up: false, problems: 1, want: lifecycle.OnFire},
		{name: "stopping_with_problem", expected: lifecycle.Stopping, hasExpected: true, problems: 1, want: lifecycle.Stopping},
		{name: "stopped", expected: lifecycle.Stopped, hasExpected: true, want: lifecycle.Stopped},
		{name: "on_fire_stays_on_fire", expected: lifecycle.OnFire, hasExpected: true, up: true, want: lifecycle.OnFire},
		{name: "created_expected", expected: lifecycle.Created, hasExpected: true, up: true, want: lifecycle.Created},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeActualState(tt.expected, tt.hasExpected, tt.up, tt.problems)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestServiceStateEnricher(t *testing.T) {
	m, _ := newTestManagement(t)

	t.Run("initial_derivation", func(t *testing.T) {
		e := newPlainEntity(t, m, "fresh")
		assert.True(t, IsServiceUp(e))
		state, ok := ActualState(e)
		assert.True(t, ok)
		assert.Equal(t, lifecycle.Created, state)
		_, hasExpected := ExpectedState(e)
		assert.False(t, hasExpected)
	})

	t.Run("not_up_indicators_drive_service_up", func(t *testing.T) {
		e := newPlainEntity(t, m, "indicators")
		SetExpectedState(e, lifecycle.Running)
		assert.Equal(t, lifecycle.Running, mustActual(t, e))

		UpdateNotUpIndicator(e, "db", "database unreachable")
		assert.False(t, IsServiceUp(e))
		assert.Equal(t, lifecycle.OnFire, mustActual(t, e))
		assert.Equal(t, map[string]string{"db": "database unreachable"}, NotUpIndicators(e))

		ClearNotUpIndicator(e, "db")
		assert.True(t, IsServiceUp(e))
		assert.Equal(t, lifecycle.Running, mustActual(t, e))
		assert.Empty(t, NotUpIndicators(e))
	})

	t.Run("problems_fail_a_starting_entity", func(t *testing.T) {
		e := newPlainEntity(t, m, "problems")
		SetExpectedState(e, lifecycle.Starting)
		UpdateProblemsIndicator(e, "disk", "disk full")
		assert.Equal(t, lifecycle.OnFire, mustActual(t, e))
		assert.Equal(t, map[string]string{"disk": "disk full"}, Problems(e))

		ClearProblemsIndicator(e, "disk")
		assert.Equal(t, lifecycle.Starting, mustActual(t, e))
	})

	t.Run("unchanged_indicator_is_not_republished", func(t *testing.T) {
		e := newPlainEntity(t, m, "unchanged")
		trace := traceAttribute(e, ServiceNotUpIndicators)
		UpdateNotUpIndicator(e, "k", "v")
		UpdateNotUpIndicator(e, "k", "v")
		ClearNotUpIndicator(e, "missing")
		assert.Len(t, trace(), 1)
	})

	t.Run("clearing_an_unset_map_publishes_empty", func(t *testing.T) {
		e := newPlainEntity(t, m, "empty")
		ClearProblemsIndicator(e, "anything")
		v, ok := GetAttribute(e, ServiceProblems)
		assert.True(t, ok)
		assert.Empty(t, v)
	})

	t.Run("returned_maps_are_copies", func(t *testing.T) {
		e := newPlainEntity(t, m, "copies")
		UpdateNotUpIndicator(e, "k", "v")
		NotUpIndicators(e)["other"] = "x"
		assert.Equal(t, map[string]string{"k": "v"}, NotUpIndicators(e))
	})

	t.Run("service_up_published_once_per_change", func(t *testing.T) {
		e := newPlainEntity(t, m, "service-up")
		trace := traceAttribute(e, ServiceUp)
		UpdateNotUpIndicator(e, "a", "1")
		UpdateNotUpIndicator(e, "b", "2")
		ClearNotUpIndicator(e, "a")
		ClearNotUpIndicator(e, "b")
		assert.Equal(t, []bool{false, true}, trace())
	})
}

func mustActual(t *testing.T, e Entity) lifecycle.Lifecycle {
	t.Helper()
	state, ok := ActualState(e)
	assert.True(t, ok, "actual state not published")
	return state
}
