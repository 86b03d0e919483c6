// Package lifecycle defines the lifecycle vocabulary shared by entities and
// applications: the enumerated states and the timestamped transitions that
// record when an entity committed to reach a state.
package lifecycle

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnknownLifecycle is returned when a lifecycle name cannot be parsed
var ErrUnknownLifecycle = errors.New("unknown lifecycle state")

// Lifecycle is the state of an entity in its lifecycle.
type Lifecycle int

const (
	// Created means the entity has been constructed and initialized but never started.
	Created Lifecycle = iota

	// Starting means the entity is in the process of starting.
	Starting

	// Running means the entity has started and is healthy.
	Running

	// Stopping means the entity is in the process of stopping.
	Stopping

	// Stopped means the entity has stopped. It may be started again.
	Stopped

	// OnFire means the entity has failed, or a failure was detected while it
	// was expected to be starting or running.
	OnFire

	// Destroyed means the entity has been unmanaged and will never be used again.
	Destroyed
)

var names = [...]string{
	Created:   "created",
	Starting:  "starting",
	Running:   "running",
	Stopping:  "stopping",
	Stopped:   "stopped",
	OnFire:    "on-fire",
	Destroyed: "destroyed",
}

// All returns every lifecycle state in declaration order.
func All() []Lifecycle {
	return []Lifecycle{Created, Starting, Running, Stopping, Stopped, OnFire, Destroyed}
}

// String returns the lower-case, hyphenated name of the state
func (l Lifecycle) String() string {
	if l < 0 || int(l) >= len(names) {
		return fmt.Sprintf("lifecycle(%d)", int(l))
	}
	return names[l]
}

// IsValid reports whether l is one of the declared states
func (l Lifecycle) IsValid() bool {
	return l >= Created && l <= Destroyed
}

// IsStopped reports whether the state is one in which the entity is not
// expected to serve: stopping, stopped, on-fire or destroyed.
func (l Lifecycle) IsStopped() bool {
	switch l {
	case OnFire, Stopping, Stopped, Destroyed:
		return true
	default:
		return false
	}
}

// Parse converts a name such as "running", "ON_FIRE" or "on-fire" into a Lifecycle.
func Parse(s string) (Lifecycle, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	normalized = strings.NewReplacer("_", "", "-", "", " ", "").Replace(normalized)
	for i, name := range names {
		if strings.ReplaceAll(name, "-", "") == normalized {
			return Lifecycle(i), nil
		}
	}
	return Created, fmt.Errorf("%w: %q", ErrUnknownLifecycle, s)
}

// MarshalText implements encoding.TextMarshaler
func (l Lifecycle) MarshalText() ([]byte, error) {
	if !l.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownLifecycle, int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (l *Lifecycle) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Transition records the state an entity committed to and when it did so.
type Transition struct {
	State     Lifecycle `json:"state" yaml:"state"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// NewTransition returns a transition to state stamped with the current time.
func NewTransition(state Lifecycle) Transition {
	return Transition{State: state, Timestamp: time.Now()}
}

// String returns "state @ RFC3339 timestamp"
func (t Transition) String() string {
	return t.State.String() + " @ " + t.Timestamp.Format(time.RFC3339Nano)
}
