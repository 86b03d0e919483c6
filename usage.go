package deploykit

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/GoCodeAlone/deploykit/lifecycle"
)

// UsageManager is the sink for application lifecycle events.
type UsageManager interface {
	RecordApplicationEvent(ctx context.Context, app Entity, state lifecycle.Lifecycle) error
}

// ApplicationEvent is one recorded lifecycle state of an application.
type ApplicationEvent struct {
	State lifecycle.Lifecycle `json:"state" yaml:"state"`
	Date  time.Time           `json:"date" yaml:"date"`
}

// ApplicationUsage is the usage record of one application.
type ApplicationUsage struct {
	ApplicationID string             `json:"applicationId" yaml:"applicationId"`
	DisplayName   string             `json:"displayName" yaml:"displayName"`
	EntityType    string             `json:"entityType" yaml:"entityType"`
	Metadata      map[string]string  `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Events        []ApplicationEvent `json:"events" yaml:"events"`
}

// LatestState returns the most recently recorded state.
func (u ApplicationUsage) LatestState() (lifecycle.Lifecycle, bool) {
	if len(u.Events) == 0 {
		return lifecycle.Created, false
	}
	return u.Events[len(u.Events)-1].State, true
}

// States returns the recorded states in order.
func (u ApplicationUsage) States() []lifecycle.Lifecycle {
	states := make([]lifecycle.Lifecycle, 0, len(u.Events))
	for _, e := range u.Events {
		states = append(states, e.State)
	}
	return states
}

func (u *ApplicationUsage) clone() ApplicationUsage {
	c := *u
	c.Metadata = maps.Clone(u.Metadata)
	c.Events = slices.Clone(u.Events)
	return c
}

// ApplicationEventData is the payload of EventTypeApplicationEvent CloudEvents.
type ApplicationEventData struct {
	ApplicationID string    `json:"applicationId"`
	DisplayName   string    `json:"displayName"`
	State         string    `json:"state"`
	Date          time.Time `json:"date"`
}

// LocalUsageManager keeps usage records in memory and publishes every
// recorded event to its observers.
type LocalUsageManager struct {
	*observerSet

	logger       Logger
	historyLimit int

	mu     sync.RWMutex
	usages map[string]*ApplicationUsage
}

// NewLocalUsageManager creates an in-memory usage manager. historyLimit
// bounds the number of events kept per application; zero means unbounded.
func NewLocalUsageManager(logger Logger, historyLimit int) *LocalUsageManager {
	if logger == nil {
		logger = nopLogger{}
	}
	return &LocalUsageManager{
		observerSet:  newObserverSet(logger),
		logger:       logger,
		historyLimit: historyLimit,
		usages:       make(map[string]*ApplicationUsage),
	}
}

// RecordApplicationEvent implements UsageManager
func (m *LocalUsageManager) RecordApplicationEvent(ctx context.Context, app Entity, state lifecycle.Lifecycle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if app == nil {
		return fmt.Errorf("record %s: %w", state, ErrApplicationNotFound)
	}

	event := ApplicationEvent{State: state, Date: time.Now()}

	m.mu.Lock()
	usage, ok := m.usages[app.ID()]
	if !ok {
		usage = &ApplicationUsage{
			ApplicationID: app.ID(),
			DisplayName:   app.DisplayName(),
			EntityType:    Deproxy(app).base().EntityType(),
			Metadata:      usageMetadata(app),
		}
		m.usages[app.ID()] = usage
	}
	usage.Events = append(usage.Events, event)
	if m.historyLimit > 0 && len(usage.Events) > m.historyLimit {
		usage.Events = slices.Clone(usage.Events[len(usage.Events)-m.historyLimit:])
	}
	m.mu.Unlock()

	m.logger.Debug("Recorded application event", "application", app.DisplayName(), "state", state.String())

	ce := NewCloudEvent(EventTypeApplicationEvent, "deploykit/usage", ApplicationEventData{
		ApplicationID: app.ID(),
		DisplayName:   app.DisplayName(),
		State:         state.String(),
		Date:          event.Date,
	}, map[string]any{"applicationid": app.ID(), "state": state.String()})
	return m.NotifyObservers(ctx, ce)
}

// ApplicationUsage returns a copy of the usage record of the application with id.
func (m *LocalUsageManager) ApplicationUsage(id string) (ApplicationUsage, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	usage, ok := m.usages[id]
	if !ok {
		return ApplicationUsage{}, false
	}
	return usage.clone(), true
}

// ApplicationUsages returns copies of the records matching filter (all when
// filter is nil), ordered by application ID.
func (m *LocalUsageManager) ApplicationUsages(filter func(ApplicationUsage) bool) []ApplicationUsage {
	m.mu.RLock()
	result := make([]ApplicationUsage, 0, len(m.usages))
	for _, usage := range m.usages {
		c := usage.clone()
		if filter == nil || filter(c) {
			result = append(result, c)
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(result, func(a, b ApplicationUsage) int { return strings.Compare(a.ApplicationID, b.ApplicationID) })
	return result
}

func usageMetadata(app Entity) map[string]string {
	locations := app.Locations()
	if len(locations) == 0 {
		return nil
	}
	names := make([]string, 0, len(locations))
	for _, l := range locations {
		names = append(names, l.DisplayName())
	}
	return map[string]string{"locations": strings.Join(names, ",")}
}
