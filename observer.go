package daemon

import (
	"context"
	"fmt"
	"sort"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// Observer is notified of lifecycle events published by a Manager.
// Events use the CloudEvents specification.
type Observer interface {
	// OnEvent is called synchronously from the lifecycle pass that produced
	// the event, so it should return quickly.
	OnEvent(ctx context.Context, event cloudevents.Event) error

	// ObserverID returns a unique identifier for this observer.
	ObserverID() string
}

// Subject is implemented by objects that publish lifecycle events.
type Subject interface {
	// RegisterObserver adds an observer. With no eventTypes it receives
	// every event.
	RegisterObserver(observer Observer, eventTypes ...string) error

	// UnregisterObserver removes an observer. Unknown observers are ignored.
	UnregisterObserver(observer Observer) error

	// GetObservers describes the registered observers.
	GetObservers() []ObserverInfo
}

// ObserverInfo describes a registered observer.
type ObserverInfo struct {
	ID           string    `json:"id"`
	EventTypes   []string  `json:"eventTypes"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// Event types published by the manager.
const (
	EventTypeModuleRegistered   = "com.hippocms.daemon.module.registered"
	EventTypeModuleExcluded     = "com.hippocms.daemon.module.excluded"
	EventTypeModuleStarted      = "com.hippocms.daemon.module.started"
	EventTypeModuleFailed       = "com.hippocms.daemon.module.failed"
	EventTypeModuleStopped      = "com.hippocms.daemon.module.stopped"
	EventTypeModuleReconfigured = "com.hippocms.daemon.module.reconfigured"

	EventTypeManagerStarted = "com.hippocms.daemon.manager.started"
	EventTypeManagerFailed  = "com.hippocms.daemon.manager.failed"
	EventTypeManagerStopped = "com.hippocms.daemon.manager.stopped"
)

// EventSource is the CloudEvents source attribute of manager events.
const EventSource = "daemon-module-manager"

// FunctionalObserver adapts a function to Observer.
type FunctionalObserver struct {
	id      string
	handler func(ctx context.Context, event cloudevents.Event) error
}

// NewFunctionalObserver creates an observer backed by handler.
func NewFunctionalObserver(id string, handler func(ctx context.Context, event cloudevents.Event) error) Observer {
	return &FunctionalObserver{id: id, handler: handler}
}

func (f *FunctionalObserver) OnEvent(ctx context.Context, event cloudevents.Event) error {
	return f.handler(ctx, event)
}

func (f *FunctionalObserver) ObserverID() string {
	return f.id
}

// NewCloudEvent creates a CloudEvent with a time-ordered id.
func NewCloudEvent(eventType, source string, data any, metadata map[string]any) cloudevents.Event {
	event := cloudevents.NewEvent()
	event.SetID(generateEventID())
	event.SetSource(source)
	event.SetType(eventType)
	event.SetTime(time.Now())
	event.SetSpecVersion(cloudevents.VersionV1)

	if data != nil {
		_ = event.SetData(cloudevents.ApplicationJSON, data)
	}
	for key, value := range metadata {
		event.SetExtension(key, value)
	}
	return event
}

// generateEventID returns a UUIDv7, falling back to v4.
func generateEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

type observerRegistration struct {
	observer     Observer
	eventTypes   map[string]bool
	registeredAt time.Time
}

// RegisterObserver implements Subject.
func (m *Manager) RegisterObserver(observer Observer, eventTypes ...string) error {
	if observer == nil {
		return fmt.Errorf("register observer: %w", ErrObserverNil)
	}
	m.observerMu.Lock()
	defer m.observerMu.Unlock()

	types := make(map[string]bool, len(eventTypes))
	for _, eventType := range eventTypes {
		types[eventType] = true
	}
	m.observers[observer.ObserverID()] = &observerRegistration{
		observer:     observer,
		eventTypes:   types,
		registeredAt: time.Now(),
	}
	m.logger.Debug("Observer registered", "observerID", observer.ObserverID(), "eventTypes", eventTypes)
	return nil
}

// UnregisterObserver implements Subject.
func (m *Manager) UnregisterObserver(observer Observer) error {
	m.observerMu.Lock()
	defer m.observerMu.Unlock()
	if _, exists := m.observers[observer.ObserverID()]; exists {
		delete(m.observers, observer.ObserverID())
		m.logger.Debug("Observer unregistered", "observerID", observer.ObserverID())
	}
	return nil
}

// GetObservers implements Subject.
func (m *Manager) GetObservers() []ObserverInfo {
	m.observerMu.RLock()
	defer m.observerMu.RUnlock()

	info := make([]ObserverInfo, 0, len(m.observers))
	for _, reg := range m.observers {
		eventTypes := make([]string, 0, len(reg.eventTypes))
		for eventType := range reg.eventTypes {
			eventTypes = append(eventTypes, eventType)
		}
		sort.Strings(eventTypes)
		info = append(info, ObserverInfo{
			ID:           reg.observer.ObserverID(),
			EventTypes:   eventTypes,
			RegisteredAt: reg.registeredAt,
		})
	}
	sort.Slice(info, func(i, j int) bool { return info[i].ID < info[j].ID })
	return info
}

// emitEvent delivers an event to every interested observer. Observer errors
// and panics are logged and never reach the lifecycle pass.
func (m *Manager) emitEvent(ctx context.Context, eventType string, data map[string]any) {
	m.observerMu.RLock()
	if len(m.observers) == 0 {
		m.observerMu.RUnlock()
		return
	}
	targets := make([]Observer, 0, len(m.observers))
	for _, reg := range m.observers {
		if len(reg.eventTypes) > 0 && !reg.eventTypes[eventType] {
			continue
		}
		targets = append(targets, reg.observer)
	}
	m.observerMu.RUnlock()
	sort.Slice(targets, func(i, j int) bool {
		return targets[i].ObserverID() < targets[j].ObserverID()
	})

	event := NewCloudEvent(eventType, EventSource, data, nil)
	if err := event.Validate(); err != nil {
		m.logger.Error("Invalid CloudEvent", "eventType", eventType, "error", err)
		return
	}
	for _, observer := range targets {
		m.notifyObserver(ctx, observer, event)
	}
}

func (m *Manager) notifyObserver(ctx context.Context, observer Observer, event cloudevents.Event) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Observer panicked", "observerID", observer.ObserverID(), "event", event.Type(), "panic", r)
		}
	}()
	if err := observer.OnEvent(ctx, event); err != nil {
		m.logger.Error("Observer error", "observerID", observer.ObserverID(), "event", event.Type(), "error", err)
	}
}
