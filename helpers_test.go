package deploykit

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/deploykit/lifecycle"
)

var errBoom = errors.New("boom")

type logEntry struct {
	level string
	msg   string
	args  []any
}

// captureLogger records every log call so tests can assert on them.
type captureLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *captureLogger) add(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, args: args})
}

func (l *captureLogger) Info(msg string, args ...any)  { l.add("info", msg, args) }
func (l *captureLogger) Error(msg string, args ...any) { l.add("error", msg, args) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.add("warn", msg, args) }
func (l *captureLogger) Debug(msg string, args ...any) { l.add("debug", msg, args) }

func (l *captureLogger) messages(level string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var msgs []string
	for _, e := range l.entries {
		if e.level == level {
			msgs = append(msgs, e.msg)
		}
	}
	return msgs
}

func (l *captureLogger) has(level, msg string) bool {
	return slices.Contains(l.messages(level), msg)
}

// testChild is a Startable entity whose behaviour is scripted per test.
type testChild struct {
	BasicEntity

	startErr   error
	stopErr    error
	restartErr error
	block      bool
	panicValue any

	entered chan struct{}

	mu          sync.Mutex
	startedWith []Location
	starts      int
	stops       int
	restarts    int
	cancelled   int
}

func newTestChild() *testChild {
	return &testChild{entered: make(chan struct{}, 8)}
}

func childSpec(name string, configure func(c *testChild)) EntitySpec {
	return EntitySpec{
		Name: name,
		Factory: func() Entity {
			c := newTestChild()
			if configure != nil {
				configure(c)
			}
			return c
		},
	}
}

func (c *testChild) Start(ctx context.Context, locations []Location) error {
	c.mu.Lock()
	c.starts++
	c.startedWith = slices.Clone(locations)
	c.mu.Unlock()
	select {
	case c.entered <- struct{}{}:
	default:
	}

	ClearNotUpIndicator(c, EffectorStart)
	SetExpectedState(c, lifecycle.Starting)
	if c.panicValue != nil {
		panic(c.panicValue)
	}
	if c.block {
		<-ctx.Done()
		c.mu.Lock()
		c.cancelled++
		c.mu.Unlock()
		return ctx.Err()
	}
	if c.startErr != nil {
		UpdateNotUpIndicator(c, EffectorStart, c.startErr.Error())
		SetExpectedState(c, lifecycle.OnFire)
		return c.startErr
	}
	SetExpectedState(c, lifecycle.Running)
	return nil
}

func (c *testChild) Stop(ctx context.Context) error {
	c.mu.Lock()
	c.stops++
	c.mu.Unlock()

	SetExpectedState(c, lifecycle.Stopping)
	if c.stopErr != nil {
		SetExpectedState(c, lifecycle.OnFire)
		return c.stopErr
	}
	SetExpectedState(c, lifecycle.Stopped)
	return nil
}

func (c *testChild) Restart(ctx context.Context) error {
	c.mu.Lock()
	c.restarts++
	c.mu.Unlock()

	SetExpectedState(c, lifecycle.Stopping)
	if c.restartErr != nil {
		SetExpectedState(c, lifecycle.OnFire)
		return c.restartErr
	}
	SetExpectedState(c, lifecycle.Running)
	return nil
}

func (c *testChild) counts() (starts, stops, restarts int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts, c.stops, c.restarts
}

func (c *testChild) locations() []Location {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.startedWith)
}

// plainChild is an entity without the Startable capability.
type plainChild struct {
	BasicEntity
}

// testGroup is a group entity used by aggregation tests.
type testGroup struct {
	BasicGroup
}

// failingUsage rejects every event.
type failingUsage struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (u *failingUsage) RecordApplicationEvent(ctx context.Context, app Entity, state lifecycle.Lifecycle) error {
	u.mu.Lock()
	u.calls++
	u.mu.Unlock()
	return u.err
}

// traceAttribute records every published value of key on e.
func traceAttribute[T any](e Entity, key AttributeKey[T]) func() []T {
	var mu sync.Mutex
	var values []T
	SubscribeAttribute(e, key, func(_ Entity, v T) {
		mu.Lock()
		values = append(values, v)
		mu.Unlock()
	})
	return func() []T {
		mu.Lock()
		defer mu.Unlock()
		return slices.Clone(values)
	}
}

func expectedStates(transitions []lifecycle.Transition) []lifecycle.Lifecycle {
	states := make([]lifecycle.Lifecycle, 0, len(transitions))
	for _, t := range transitions {
		states = append(states, t.State)
	}
	return states
}

func newTestManagement(t *testing.T, opts ...Option) (*LocalManagementContext, *captureLogger) {
	t.Helper()
	logger := &captureLogger{}
	m, err := NewLocalManagementContext(append([]Option{WithLogger(logger)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Terminate(context.Background()) })
	return m, logger
}

func createApp(t *testing.T, m *LocalManagementContext, spec ApplicationSpec) StartableApplication {
	t.Helper()
	app, err := m.CreateApplication(context.Background(), spec)
	require.NoError(t, err)
	return app
}

func appUsage(t *testing.T, m *LocalManagementContext, app Entity) []lifecycle.Lifecycle {
	t.Helper()
	usage, ok := m.UsageManager().(*LocalUsageManager)
	require.True(t, ok, "expected local usage manager")
	record, found := usage.ApplicationUsage(app.ID())
	if !found {
		return nil
	}
	return record.States()
}

func childImpl(t *testing.T, e Entity) *testChild {
	t.Helper()
	c, ok := Deproxy(e).(*testChild)
	require.True(t, ok, fmt.Sprintf("expected *testChild, got %T", Deproxy(e)))
	return c
}
