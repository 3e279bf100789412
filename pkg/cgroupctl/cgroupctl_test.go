package cgroupctl

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePath(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"relative_under_sys_fs_cgroup", "mybox", "/sys/fs/cgroup/mybox"},
		{"already_absolute_kept_verbatim", "/custom/path", "/custom/path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolvePath(tt.input))
		})
	}
}

func TestController_CreateSetLimitsMigrateDestroy(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "box")
	c := New(dir)

	require.NoError(t, c.Create())
	assert.True(t, c.Exists())

	require.NoError(t, c.SetLimits([]LimitPair{
		{Name: "memory.max", Value: "1048576"},
	}))
	got, err := os.ReadFile(filepath.Join(dir, "memory.max"))
	require.NoError(t, err)
	assert.Equal(t, "1048576", string(got))

	require.NoError(t, c.MigratePID(4242))
	got, err = os.ReadFile(filepath.Join(dir, "cgroup.procs"))
	require.NoError(t, err)
	assert.Equal(t, "4242", string(got))

	// cgroup.kill and an emptied cgroup.procs simulate the kernel
	// having already reaped everyone by the time we check.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cgroup.procs"), nil, 0664))

	require.NoError(t, c.KillAndDestroy())
	assert.False(t, c.Exists())

	// Idempotent: a second teardown on an already-gone cgroup is a no-op.
	assert.NoError(t, c.KillAndDestroy())
}

func TestController_SetLimits_StopsOnFirstFailure(t *testing.T) {
	dir := t.TempDir()
	c := New(dir)
	require.NoError(t, c.Create())

	// memory.max is pre-created as a directory, so writing to it fails
	// with EISDIR; pids.max would otherwise succeed. SetLimits must
	// return on the first failure and never reach the second pair.
	require.NoError(t, os.Mkdir(filepath.Join(dir, "memory.max"), 0775))

	err := c.SetLimits([]LimitPair{
		{Name: "memory.max", Value: "1048576"},
		{Name: "pids.max", Value: "64"},
	})
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(dir, "pids.max"))
	assert.True(t, os.IsNotExist(statErr), "pids.max should never have been attempted")
}

func TestController_CPUTimeUsecs(t *testing.T) {
	dir := t.TempDir()
	c := New(dir)

	t.Run("field_not_first_line", func(t *testing.T) {
		content := "nr_periods 0\nusage_usec 123456\nuser_usec 100000\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, "cpu.stat"), []byte(content), 0664))

		usecs, err := c.CPUTimeUsecs()
		require.NoError(t, err)
		assert.Equal(t, int64(123456), usecs)
	})

	t.Run("missing_cgroup_reports_negative_without_error", func(t *testing.T) {
		gone := New(filepath.Join(t.TempDir(), "never-existed"))
		usecs, err := gone.CPUTimeUsecs()
		require.NoError(t, err)
		assert.Equal(t, int64(-1), usecs)
	})
}

func TestController_Overwrite_WhenAbsent(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "absent"))
	assert.NoError(t, c.Overwrite())
}
