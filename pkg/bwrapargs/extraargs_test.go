package bwrapargs

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendExtraArgsFromEnv_Unset(t *testing.T) {
	os.Unsetenv(ExtraArgsEnv)
	cfg := Config{BwrapArgv: []string{"bwrap", "/bin/true"}}
	got, err := AppendExtraArgsFromEnv(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"bwrap", "/bin/true"}, got.BwrapArgv)
}

func TestAppendExtraArgsFromEnv_AppendedAfterCLIArgv(t *testing.T) {
	t.Setenv(ExtraArgsEnv, `--ro-bind /usr /usr`)
	cfg := Config{BwrapArgv: []string{"bwrap", "/bin/true"}}
	got, err := AppendExtraArgsFromEnv(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"bwrap", "/bin/true", "--ro-bind", "/usr", "/usr"}, got.BwrapArgv)
}

func TestAppendExtraArgsFromEnv_NeverReparsedAsBwrapboxFlags(t *testing.T) {
	// "--quiet" and "--cgroup" look like bwrapbox's own flags, but since
	// this runs after Parse they can only ever land in BwrapArgv.
	t.Setenv(ExtraArgsEnv, `--quiet --cgroup /foo`)
	cfg := Config{BwrapArgv: []string{"bwrap"}, Quiet: false, CgroupEnabled: false}
	got, err := AppendExtraArgsFromEnv(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"bwrap", "--quiet", "--cgroup", "/foo"}, got.BwrapArgv)
	assert.False(t, got.Quiet)
	assert.False(t, got.CgroupEnabled)
}

func TestAppendExtraArgsFromEnv_InvalidQuoting(t *testing.T) {
	t.Setenv(ExtraArgsEnv, `--rlimit "unterminated`)
	_, err := AppendExtraArgsFromEnv(Config{})
	assert.Error(t, err)
}
