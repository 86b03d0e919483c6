package deploykit

import (
	"maps"

	"github.com/GoCodeAlone/deploykit/lifecycle"
)

// Well-known service attributes published by every entity.
var (
	// ServiceUp is true iff the entity's not-up indicators are empty.
	ServiceUp = NewAttributeKey[bool]("service.isUp",
		"Whether the service is active and available (confirmed and monitored)")

	// ServiceStateActual is the lifecycle state derived from expected state and indicators.
	ServiceStateActual = NewAttributeKey[lifecycle.Lifecycle]("service.state",
		"Actual lifecycle state of the service")

	// ServiceStateExpected is the lifecycle state the entity's driver has committed to reach.
	ServiceStateExpected = NewAttributeKey[lifecycle.Transition]("service.state.expected",
		"Last controlled change to service state, indicating what the expected state should be")

	// ServiceNotUpIndicators maps reason tags to messages explaining why the service is not up.
	ServiceNotUpIndicators = NewAttributeKey[map[string]string]("service.notUp.indicators",
		"A map of namespaced indicators that the service is not up")

	// ServiceProblems maps problem tags to descriptions of problems affecting the service.
	ServiceProblems = NewAttributeKey[map[string]string]("service.problems",
		"A map of namespaced indicators of problems with a service")
)

// ServiceStateEnricherTag is the tag of the enricher installed on every
// entity that derives ServiceUp and ServiceStateActual.
const ServiceStateEnricherTag = "service.state.computation"

// UpdateNotUpIndicator publishes message under key in the not-up indicators of e.
func UpdateNotUpIndicator(e Entity, key, message string) {
	putIndicator(e, ServiceNotUpIndicators, key, message)
}

// ClearNotUpIndicator removes key from the not-up indicators of e.
func ClearNotUpIndicator(e Entity, key string) {
	removeIndicator(e, ServiceNotUpIndicators, key)
}

// NotUpIndicators returns a copy of the not-up indicators of e.
func NotUpIndicators(e Entity) map[string]string {
	v, _ := GetAttribute(e, ServiceNotUpIndicators)
	return maps.Clone(nonNil(v))
}

// UpdateProblemsIndicator publishes problem under key in the problem indicators of e.
func UpdateProblemsIndicator(e Entity, key, problem string) {
	putIndicator(e, ServiceProblems, key, problem)
}

// ClearProblemsIndicator removes key from the problem indicators of e.
func ClearProblemsIndicator(e Entity, key string) {
	removeIndicator(e, ServiceProblems, key)
}

// Problems returns a copy of the problem indicators of e.
func Problems(e Entity) map[string]string {
	v, _ := GetAttribute(e, ServiceProblems)
	return maps.Clone(nonNil(v))
}

// SetExpectedState records that the driver of e has committed to reach state.
func SetExpectedState(e Entity, state lifecycle.Lifecycle) {
	SetAttribute(e, ServiceStateExpected, lifecycle.NewTransition(state))
}

// ExpectedState returns the state the driver of e last committed to.
func ExpectedState(e Entity) (lifecycle.Lifecycle, bool) {
	t, ok := GetAttribute(e, ServiceStateExpected)
	if !ok {
		return lifecycle.Created, false
	}
	return t.State, true
}

// ActualState returns the derived lifecycle state of e.
func ActualState(e Entity) (lifecycle.Lifecycle, bool) {
	return GetAttribute(e, ServiceStateActual)
}

// IsServiceUp returns the published service-up value of e (false when unset).
func IsServiceUp(e Entity) bool {
	up, _ := GetAttribute(e, ServiceUp)
	return up
}

func putIndicator(e Entity, key AttributeKey[map[string]string], tag, message string) {
	UpdateAttribute(e, key, func(current map[string]string, ok bool) (map[string]string, bool) {
		if existing, present := current[tag]; ok && present && existing == message {
			return current, false
		}
		next := maps.Clone(nonNil(current))
		next[tag] = message
		return next, true
	})
}

func removeIndicator(e Entity, key AttributeKey[map[string]string], tag string) {
	UpdateAttribute(e, key, func(current map[string]string, ok bool) (map[string]string, bool) {
		if !ok {
			// publish an empty map so the derivation sees an explicit "nothing wrong"
			return map[string]string{}, true
		}
		if _, present := current[tag]; !present {
			return current, false
		}
		next := maps.Clone(current)
		delete(next, tag)
		return next, true
	})
}

func nonNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

// ComputeActualState applies the service-state rules: with no expected state
// the entity is CREATED; when RUNNING is expected any problem or not-up
// indicator makes it ON_FIRE; when STARTING is expected a problem makes it
// ON_FIRE; otherwise the actual state is the expected state.
func ComputeActualState(expected lifecycle.Lifecycle, hasExpected, up bool, problems int) lifecycle.Lifecycle {
	if !hasExpected {
		return lifecycle.Created
	}
	switch expected {
	case lifecycle.Running:
		if problems > 0 || !up {
			return lifecycle.OnFire
		}
		return lifecycle.Running
	case lifecycle.Starting:
		if problems > 0 {
			return lifecycle.OnFire
		}
		return lifecycle.Starting
	default:
		return expected
	}
}

// ServiceStateEnricher derives ServiceUp from the not-up indicators and
// ServiceStateActual from the expected state, service-up and problems.
type ServiceStateEnricher struct {
	d derivation
}

// NewServiceStateEnricher creates the default service-state derivation.
func NewServiceStateEnricher() *ServiceStateEnricher {
	s := &ServiceStateEnricher{}
	s.d.compute = s.compute
	return s
}

// Tag implements Enricher
func (s *ServiceStateEnricher) Tag() string { return ServiceStateEnricherTag }

// Attach implements Enricher
func (s *ServiceStateEnricher) Attach(e Entity) error {
	if err := s.d.bind(e); err != nil {
		return err
	}
	trigger := func(AttributeChange) { s.d.trigger() }
	s.d.track(
		e.Attributes().Subscribe(ServiceNotUpIndicators.Name(), trigger),
		e.Attributes().Subscribe(ServiceProblems.Name(), trigger),
		e.Attributes().Subscribe(ServiceStateExpected.Name(), trigger),
	)
	s.d.trigger()
	return nil
}

// Detach implements Enricher
func (s *ServiceStateEnricher) Detach() { s.d.release() }

// Resync implements Enricher
func (s *ServiceStateEnricher) Resync() { s.d.trigger() }

func (s *ServiceStateEnricher) compute() {
	e := s.d.owner()
	if e == nil {
		return
	}

	notUp, _ := GetAttribute(e, ServiceNotUpIndicators)
	up := len(notUp) == 0
	UpdateAttribute(e, ServiceUp, func(current bool, ok bool) (bool, bool) {
		return up, !ok || current != up
	})

	expected, hasExpected := ExpectedState(e)
	problems, _ := GetAttribute(e, ServiceProblems)
	actual := ComputeActualState(expected, hasExpected, up, len(problems))
	UpdateAttribute(e, ServiceStateActual, func(current lifecycle.Lifecycle, ok bool) (lifecycle.Lifecycle, bool) {
		return actual, !ok || current != actual
	})
}
