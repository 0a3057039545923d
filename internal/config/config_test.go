package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "heap.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, uint64(4<<20), cfg.Heap.EdenInitial)
	assert.Equal(t, uint64(64<<20), cfg.Heap.EdenMax)
	assert.Equal(t, uint64(8<<20), cfg.Heap.SurvivorMax)
	assert.Equal(t, uint64(16<<20), cfg.Heap.OldInitial)
	assert.Equal(t, uint64(256<<20), cfg.Heap.OldMax)
	assert.Equal(t, uint8(2), cfg.Tunables.TenureAge)
	assert.False(t, cfg.Worker.Dedup)
	assert.Equal(t, 10*time.Second, cfg.Worker.SafepointTimeout)
	assert.Equal(t, "127.0.0.1:0", cfg.Export.Addr)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
heap:
  eden_initial: 1048576
  eden_max: 2097152
  survivor_max: 524288
  old_initial: 4194304
  old_max: 8388608
tunables:
  tenure_age: 4
worker:
  dedup: true
  safepoint_timeout: 2s
export:
  addr: "127.0.0.1:9900"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, uint64(1<<20), cfg.Heap.EdenInitial)
	assert.Equal(t, uint64(2<<20), cfg.Heap.EdenMax)
	assert.Equal(t, uint8(4), cfg.Tunables.TenureAge)
	assert.True(t, cfg.Worker.Dedup)
	assert.Equal(t, 2*time.Second, cfg.Worker.SafepointTimeout)
	assert.Equal(t, "127.0.0.1:9900", cfg.Export.Addr)
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, "tunables:\n  tenure_age: 7\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, uint8(7), cfg.Tunables.TenureAge)
	assert.Equal(t, uint64(4<<20), cfg.Heap.EdenInitial)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsBadSizing(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"zero eden", "heap:\n  eden_initial: 0\n"},
		{"eden max below initial", "heap:\n  eden_initial: 8388608\n  eden_max: 4194304\n"},
		{"zero survivor", "heap:\n  survivor_max: 0\n"},
		{"old max below initial", "heap:\n  old_initial: 67108864\n  old_max: 33554432\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}
}

func TestValidateClampsTenureAge(t *testing.T) {
	cfg, err := Load(writeConfig(t, "tunables:\n  tenure_age: 0\n"))
	require.NoError(t, err)
	assert.Equal(t, uint8(1), cfg.Tunables.TenureAge)
}

func TestWatchAppliesTunableChanges(t *testing.T) {
	path := writeConfig(t, "tunables:\n  tenure_age: 2\n")

	applied := make(chan Tunables, 4)
	w, err := Watch(path, func(tn Tunables) { applied <- tn }, nil)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("tunables:\n  tenure_age: 5\n"), 0o644))

	select {
	case tn := <-applied:
		assert.Equal(t, uint8(5), tn.TenureAge)
	case <-time.After(5 * time.Second):
		t.Fatal("tunable change never applied")
	}
}

func TestWatchReportsParseErrors(t *testing.T) {
	path := writeConfig(t, "tunables:\n  tenure_age: 2\n")

	errs := make(chan error, 4)
	w, err := Watch(path, func(Tunables) {}, func(e error) { errs <- e })
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte(":::not yaml"), 0o644))

	select {
	case e := <-errs:
		assert.Error(t, e)
	case <-time.After(5 * time.Second):
		t.Fatal("parse error never reported")
	}
}

func TestWatchMissingFile(t *testing.T) {
	_, err := Watch(filepath.Join(t.TempDir(), "absent.yaml"), func(Tunables) {}, nil)
	assert.Error(t, err)
}
