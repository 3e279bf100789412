package supervisor

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"

	"github.com/sandboxrun/bwrapbox/pkg/bwrapargs"
	"github.com/sandboxrun/bwrapbox/pkg/rlimit"
)

func TestLimiterActive(t *testing.T) {
	disabled := bwrapargs.Config{CPUHighUsecs: -1, CPUMaxUsecs: -1, WallHighUsecs: -1, WallMaxUsecs: -1}
	assert.False(t, limiterActive(disabled))

	enabled := disabled
	enabled.WallMaxUsecs = 100000
	assert.True(t, limiterActive(enabled))
}

func TestEncodeRlimitPairs(t *testing.T) {
	pairs := []rlimit.Pair{
		{Resource: "nofile", Field: rlimit.FieldMax, Value: 16},
		{Resource: "cpu", Field: rlimit.FieldHigh, Value: 30},
	}
	assert.Equal(t, []string{"nofile.max=16", "cpu.high=30"}, encodeRlimitPairs(pairs))
}

func TestEmitSummary_Exited(t *testing.T) {
	var buf bytes.Buffer
	emitSummary(&buf, "exited", 7, 0, 1234, 5678)
	assert.Equal(t, "[bwrapbox] application exited with status 7 after 1234 real usecs and 5678 CPU usecs\n", buf.String())
}

func TestEmitSummary_Killed(t *testing.T) {
	var buf bytes.Buffer
	emitSummary(&buf, "killed", int(unix.SIGKILL), int(unix.SIGKILL), 100000, 40000)
	assert.Equal(t, "[bwrapbox] application killed with status 9 after 100000 real usecs and 40000 CPU usecs\n", buf.String())
}

func TestEmitSummary_TimeExceeded(t *testing.T) {
	var buf bytes.Buffer
	emitSummary(&buf, "time exceeded", int(unix.SIGXCPU), int(unix.SIGXCPU), 50000, 50000)
	assert.Equal(t, "[bwrapbox] application time exceeded after 50000 real usecs and 50000 CPU usecs\n", buf.String())
}

func TestClassifyExit_WaitError(t *testing.T) {
	exitCode, reason, sig := classifyExit(unix.WaitStatus(0), assertError{})
	assert.Equal(t, 130, exitCode)
	assert.Equal(t, "interrupted", reason)
	assert.Equal(t, 0, sig)
}

type assertError struct{}

func (assertError) Error() string { return "boom" }
