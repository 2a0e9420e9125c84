package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	rt, meta, err := Load(WithConfigPath(filepath.Join(t.TempDir(), "missing.yaml")))
	require.NoError(t, err)
	require.Equal(t, 300*time.Second, rt.MissionMaxDuration)
	require.Equal(t, 3, rt.ExecutionMaxInflightPerUser)
	require.Equal(t, SourceDefault, meta.Source("mission.execution_max_inflight_per_user"))
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nova.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mission:
  max_duration_ms: 60000
scheduler:
  max_inflight_global: 64
`), 0o644))

	rt, meta, err := Load(WithConfigPath(path))
	require.NoError(t, err)
	require.Equal(t, 60*time.Second, rt.MissionMaxDuration)
	require.Equal(t, 64, rt.SchedulerMaxInFlightGlobal)
	require.Equal(t, SourceFile, meta.Source("mission.max_duration_ms"))
	require.Equal(t, SourceDefault, meta.Source("session.idle_minutes"))
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nova.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mission:\n  execution_max_inflight_global: 50\n"), 0o644))

	t.Setenv("NOVA_MISSION_EXECUTION_MAX_INFLIGHT_GLOBAL", "999")

	rt, meta, err := Load(WithConfigPath(path))
	require.NoError(t, err)
	require.Equal(t, 999, rt.ExecutionMaxInflightGlobal)
	require.Equal(t, SourceEnv, meta.Source("mission.execution_max_inflight_global"))
}

func TestLoad_OverrideWinsOverEverything(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nova.yaml")
	require.NoError(t, os.WriteFile(path, []byte("session:\n  idle_minutes: 15\n"), 0o644))
	t.Setenv("NOVA_SESSION_IDLE_MINUTES", "20")

	want := 5
	rt, meta, err := Load(WithConfigPath(path), WithOverrides(Overrides{SessionIdleMinutes: &want}))
	require.NoError(t, err)
	require.Equal(t, 5, rt.SessionIdleMinutes)
	require.Equal(t, SourceOverride, meta.Source("session.idle_minutes"))
}

func TestWatcher_ReloadsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nova.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scheduler:\n  max_inflight_global: 10\n"), 0o644))

	w, err := NewWatcher(path, nil, WithWatchDebounce(20*time.Millisecond))
	require.NoError(t, err)
	rt, _ := w.Current()
	require.Equal(t, 10, rt.SchedulerMaxInFlightGlobal)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("scheduler:\n  max_inflight_global: 77\n"), 0o644))

	select {
	case updated := <-w.Updates():
		require.Equal(t, 77, updated.SchedulerMaxInFlightGlobal)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}
