package heartbeat

import (
	"context"
	"testing"
	"time"

	"github.com/hippocms/daemon"
	"github.com/hippocms/daemon/modules/scheduler"
	"github.com/hippocms/daemon/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	zapobserver "go.uber.org/zap/zaptest/observer"
)

func configNode(props map[string]any) daemon.ConfigNode {
	return repository.NewNode(daemon.NodeModuleConfig, props)
}

func systemSession(t *testing.T) daemon.Session {
	t.Helper()
	session, err := repository.New(nil).Login(daemon.SystemCredentials)
	require.NoError(t, err)
	return session
}

func startedScheduler(t *testing.T, opts ...scheduler.SchedulerOption) *scheduler.Scheduler {
	t.Helper()
	s := scheduler.NewScheduler(opts...)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	return s
}

func TestSettings(t *testing.T) {
	assert.Equal(t, Settings{Schedule: "@every 30s", Message: "alive", Enabled: true}, DefaultSettings())

	s := SettingsFrom(configNode(map[string]any{"schedule": "@every 5s", "enabled": "false"}))
	assert.Equal(t, Settings{Schedule: "@every 5s", Message: "alive", Enabled: false}, s)

	assert.Equal(t, DefaultSettings(), SettingsFrom(configNode(nil)))
}

func TestModule_Dependencies(t *testing.T) {
	m := NewModule(nil, nil)
	deps := m.Dependencies()
	assert.Equal(t, []string{scheduler.ServiceName}, deps.Requires)
	assert.Equal(t, []bool{false}, deps.Optional)
	assert.Empty(t, deps.Provides)
}

func TestModule_RequiresScheduler(t *testing.T) {
	m := NewModule(nil, nil)
	require.ErrorIs(t, m.Initialize(context.Background(), systemSession(t)), ErrNoScheduler)
	assert.False(t, m.Scheduled())
}

func TestModule_Lifecycle(t *testing.T) {
	sched := startedScheduler(t)
	m := NewModule(sched, nil)

	require.NoError(t, m.Configure(configNode(map[string]any{"schedule": "@every 1h"})))
	require.NoError(t, m.Initialize(context.Background(), systemSession(t)))
	assert.True(t, m.Scheduled())

	jobs := sched.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, ModuleName, jobs[0].Name)
	assert.Equal(t, "@every 1h", jobs[0].Schedule)

	require.NoError(t, m.Shutdown(context.Background()))
	assert.False(t, m.Scheduled())
	assert.Empty(t, sched.Jobs())
	require.NoError(t, m.Shutdown(context.Background()), "shutting down twice is a no-op")
}

func TestModule_StartsDisabled(t *testing.T) {
	sched := startedScheduler(t)
	m := NewModule(sched, nil)

	require.NoError(t, m.Configure(configNode(map[string]any{"enabled": false})))
	require.NoError(t, m.Initialize(context.Background(), systemSession(t)))
	assert.False(t, m.Scheduled())
	assert.Empty(t, sched.Jobs())
}

func TestModule_Reconfigure(t *testing.T) {
	sched := startedScheduler(t)
	m := NewModule(sched, nil)
	require.NoError(t, m.Initialize(context.Background(), systemSession(t)))
	first := sched.Jobs()[0].ID

	t.Run("reschedules keeping the job", func(t *testing.T) {
		require.NoError(t, m.Reconfigure(context.Background(), configNode(map[string]any{"schedule": "@every 2h"})))
		jobs := sched.Jobs()
		require.Len(t, jobs, 1)
		assert.Equal(t, first, jobs[0].ID)
		assert.Equal(t, "@every 2h", jobs[0].Schedule)
	})

	t.Run("message change keeps the schedule", func(t *testing.T) {
		require.NoError(t, m.Reconfigure(context.Background(),
			configNode(map[string]any{"schedule": "@every 2h", "message": "still here"})))
		assert.Equal(t, "still here", m.Settings().Message)
		assert.Equal(t, first, sched.Jobs()[0].ID)
	})

	t.Run("invalid schedule keeps the previous settings", func(t *testing.T) {
		err := m.Reconfigure(context.Background(), configNode(map[string]any{"schedule": "whenever"}))
		require.ErrorIs(t, err, scheduler.ErrInvalidSchedule)
		assert.Equal(t, "@every 2h", m.Settings().Schedule)
	})

	t.Run("disable removes the job", func(t *testing.T) {
		require.NoError(t, m.Reconfigure(context.Background(), configNode(map[string]any{"enabled": false})))
		assert.False(t, m.Scheduled())
		assert.Empty(t, sched.Jobs())
	})

	t.Run("enable schedules a new job", func(t *testing.T) {
		require.NoError(t, m.Reconfigure(context.Background(), configNode(map[string]any{"schedule": "@every 3h"})))
		jobs := sched.Jobs()
		require.Len(t, jobs, 1)
		assert.NotEqual(t, first, jobs[0].ID)
		assert.Equal(t, "@every 3h", jobs[0].Schedule)
	})
}

func TestModule_ShutdownAfterSchedulerStopped(t *testing.T) {
	sched := scheduler.NewScheduler()
	require.NoError(t, sched.Start(context.Background()))
	m := NewModule(sched, nil)
	require.NoError(t, m.Initialize(context.Background(), systemSession(t)))

	require.NoError(t, sched.Stop(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))
	assert.False(t, m.Scheduled())
}

func TestModule_Beats(t *testing.T) {
	core, logs := zapobserver.New(zapcore.InfoLevel)
	logger := daemon.NewZapLogger(zap.New(core))
	sched := startedScheduler(t, scheduler.WithSeconds(true))
	m := NewModule(sched, logger)

	require.NoError(t, m.Configure(configNode(map[string]any{"schedule": "* * * * * *", "message": "ping"})))
	require.NoError(t, m.Initialize(context.Background(), systemSession(t)))
	assert.True(t, m.LastBeat().IsZero())

	assert.Eventually(t, func() bool { return m.Beats() >= 1 }, 3*time.Second, 20*time.Millisecond)
	assert.False(t, m.LastBeat().IsZero())

	beats := logs.FilterMessage("Heartbeat").All()
	require.NotEmpty(t, beats)
	fields := beats[0].ContextMap()
	assert.Equal(t, "ping", fields["message"])
	assert.Equal(t, "system", fields["user"])
	assert.Equal(t, int64(1), fields["beat"])
}

func repositoryTree(schedule string) *repository.Node {
	root := repository.NewNode("", nil)
	root.AddChild(repository.NewNode("hippo:configuration", nil)).
		AddChild(repository.NewNode("hippo:modules", nil)).
		AddChild(repository.NewNode(ModuleName, map[string]any{daemon.PropertyClassName: "heartbeat.Module"})).
		AddChild(repository.NewNode(daemon.NodeModuleConfig, map[string]any{"schedule": schedule}))
	return root
}

func TestModule_UnderManager(t *testing.T) {
	repo := repository.New(repositoryTree("@every 1h"))
	session, err := repo.Login(daemon.Credentials{UserID: "admin"})
	require.NoError(t, err)

	sched := scheduler.NewModule(nil)
	beat := NewModule(sched.Scheduler(), nil)
	factories := daemon.NewFactoryRegistry()
	factories.MustRegister("heartbeat.Module", func() daemon.DaemonModule { return beat })

	mgr, err := daemon.NewManager(session, nil,
		daemon.WithFactories(factories),
		daemon.WithStaticModules(sched),
	)
	require.NoError(t, err)
	require.NoError(t, mgr.Start(context.Background()))
	assert.True(t, beat.Scheduled())
	assert.Equal(t, "@every 1h", sched.Scheduler().Jobs()[0].Schedule)

	repo.Replace(repositoryTree("@every 4h"))
	require.NoError(t, mgr.Reconfigure(context.Background(), ModuleName))
	assert.Equal(t, "@every 4h", sched.Scheduler().Jobs()[0].Schedule)

	require.NoError(t, mgr.Stop(context.Background()))
	assert.False(t, beat.Scheduled())
	assert.False(t, sched.Scheduler().IsStarted())
}
