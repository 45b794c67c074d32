package daemon

import (
	"context"
	"testing"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_LifecycleEvents(t *testing.T) {
	rec := newEventRecorder("all")
	repo := newTestRepo(nil)
	failing := newTestModule("failing", nil)
	failing.initErr = errBoom
	m, _ := newTestManager(t, repo,
		WithStaticModules(newTestModule("A", nil), failing),
		WithObserver(rec),
	)

	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Stop(context.Background()))

	assert.Equal(t, []string{
		EventTypeModuleRegistered,
		EventTypeModuleRegistered,
		EventTypeModuleStarted,
		EventTypeModuleFailed,
		EventTypeManagerStarted,
		EventTypeModuleStopped,
		EventTypeModuleStopped,
		EventTypeManagerStopped,
	}, rec.types())
	assert.Equal(t, []string{"A", "failing"}, rec.moduleNames(t, EventTypeModuleRegistered))
	assert.Equal(t, []string{"failing"}, rec.moduleNames(t, EventTypeModuleFailed))
	assert.Equal(t, []string{"failing", "A"}, rec.moduleNames(t, EventTypeModuleStopped))

	for _, e := range rec.events {
		assert.Equal(t, EventSource, e.Source())
		assert.Equal(t, cloudevents.VersionV1, e.SpecVersion())
		assert.NotEmpty(t, e.ID())
		assert.NoError(t, e.Validate())
	}
}

func TestManager_FailedStartEvent(t *testing.T) {
	rec := newEventRecorder("failures")
	repo := newTestRepo(nil)
	m, _ := newTestManager(t, repo,
		WithStaticModules(newTestModule("self", nil).provides("x").requires("x", false)),
		WithObserver(rec, EventTypeManagerFailed),
	)

	require.Error(t, m.Start(context.Background()))
	require.Equal(t, []string{EventTypeManagerFailed}, rec.types())

	var data map[string]any
	require.NoError(t, rec.events[0].DataAs(&data))
	assert.Contains(t, data["error"], "self, self")
}

func TestManager_ObserverFailuresAreContained(t *testing.T) {
	panicking := newEventRecorder("panicking")
	panicking.panics = true
	erroring := newEventRecorder("erroring")
	erroring.err = errBoom

	repo := newTestRepo(nil)
	root := repo.login("admin")
	logger, logs := newObservedLogger()
	m, err := NewManager(root, logger,
		WithStaticModules(newTestModule("A", nil)),
		WithObserver(panicking, EventTypeModuleStarted),
		WithObserver(erroring, EventTypeModuleStarted),
	)
	require.NoError(t, err)

	require.NoError(t, m.Start(context.Background()))
	reg, _ := m.Registry().Lookup("A")
	assert.Equal(t, ModuleStateStarted, reg.State())
	assert.Equal(t, 1, logs.FilterMessage("Observer panicked").Len())
	assert.Equal(t, 1, logs.FilterMessage("Observer error").Len())
	require.NoError(t, m.Stop(context.Background()))
}

func TestManager_ObserverRegistration(t *testing.T) {
	m, _ := newTestManager(t, newTestRepo(nil))

	require.ErrorIs(t, m.RegisterObserver(nil), ErrObserverNil)

	b := newEventRecorder("b")
	a := NewFunctionalObserver("a", func(context.Context, cloudevents.Event) error { return nil })
	require.NoError(t, m.RegisterObserver(b, EventTypeModuleStopped, EventTypeModuleStarted))
	require.NoError(t, m.RegisterObserver(a))

	observers := m.GetObservers()
	require.Len(t, observers, 2)
	assert.Equal(t, "a", observers[0].ID)
	assert.Empty(t, observers[0].EventTypes)
	assert.Equal(t, "b", observers[1].ID)
	assert.Equal(t, []string{EventTypeModuleStarted, EventTypeModuleStopped}, observers[1].EventTypes)
	assert.False(t, observers[1].RegisteredAt.IsZero())

	require.NoError(t, m.UnregisterObserver(b))
	require.NoError(t, m.UnregisterObserver(b))
	observers = m.GetObservers()
	require.Len(t, observers, 1)
	assert.Equal(t, "a", observers[0].ID)
}

func TestNewCloudEvent(t *testing.T) {
	event := NewCloudEvent(EventTypeModuleStarted, EventSource,
		map[string]any{"moduleName": "A"}, map[string]any{"host": "cms"})

	require.NoError(t, event.Validate())
	assert.Equal(t, EventTypeModuleStarted, event.Type())
	assert.Equal(t, cloudevents.ApplicationJSON, event.DataContentType())
	assert.Equal(t, "cms", event.Extensions()["host"])

	other := NewCloudEvent(EventTypeModuleStarted, EventSource, nil, nil)
	assert.NotEqual(t, event.ID(), other.ID())
	assert.Nil(t, other.Data())
}
