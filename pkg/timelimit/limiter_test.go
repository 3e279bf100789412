package timelimit

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestConfig_Active(t *testing.T) {
	assert.False(t, Config{CPUHighUsecs: Disabled, CPUMaxUsecs: Disabled, WallHighUsecs: Disabled, WallMaxUsecs: Disabled}.Active())
	assert.True(t, Config{CPUHighUsecs: 1, CPUMaxUsecs: Disabled, WallHighUsecs: Disabled, WallMaxUsecs: Disabled}.Active())
}

func TestNormalize_SubstitutesDisabledHighWithMax(t *testing.T) {
	cpuHigh, wallHigh := normalize(Disabled, 500, 1000, 2000)
	assert.Equal(t, int64(1000), cpuHigh)
	assert.Equal(t, int64(500), wallHigh)
}

func TestRemainingDelta_PicksSmaller(t *testing.T) {
	d := remainingDelta(1000, 900, 5000, 100)
	assert.Equal(t, 100*time.Microsecond, d)
}

func TestRun_CPUMaxExceededSignalsKill(t *testing.T) {
	var killedPID int
	var killedSignal unix.Signal
	origKill := killFunc
	killFunc = func(pid int, sig unix.Signal) error {
		killedPID, killedSignal = pid, sig
		return nil
	}
	defer func() { killFunc = origKill }()

	now := time.Now()
	cfg := Config{
		CPUHighUsecs:  Disabled,
		CPUMaxUsecs:   1000,
		WallHighUsecs: Disabled,
		WallMaxUsecs:  Disabled,
		TargetPID:     4242,
		Now:           func() time.Time { return now },
		ReadCPU:       func() (int64, error) { return 1500, nil },
	}

	require.NoError(t, Run(cfg))
	assert.Equal(t, 4242, killedPID)
	assert.Equal(t, unix.SIGKILL, killedSignal)
}

func TestRun_CgroupGoneExitsQuietly(t *testing.T) {
	now := time.Now()
	cfg := Config{
		CPUHighUsecs:  Disabled,
		CPUMaxUsecs:   1000,
		WallHighUsecs: Disabled,
		WallMaxUsecs:  Disabled,
		TargetPID:     4242,
		Now:           func() time.Time { return now },
		ReadCPU:       func() (int64, error) { return -1, nil },
	}
	assert.NoError(t, Run(cfg))
}

func TestRun_HighThenMaxEscalates(t *testing.T) {
	var signals []unix.Signal
	origKill := killFunc
	killFunc = func(pid int, sig unix.Signal) error {
		signals = append(signals, sig)
		return nil
	}
	defer func() { killFunc = origKill }()

	now := time.Now()
	var usage int64 = 50
	cfg := Config{
		CPUHighUsecs:  100,
		CPUMaxUsecs:   200,
		WallHighUsecs: Disabled,
		WallMaxUsecs:  Disabled,
		TargetPID:     99,
		Now:           func() time.Time { return now },
		ReadCPU: func() (int64, error) {
			current := atomic.LoadInt64(&usage)
			// Each sample jumps straight to the next phase's
			// threshold so the test doesn't depend on real sleeps.
			atomic.StoreInt64(&usage, current+200)
			return current, nil
		},
	}

	require.NoError(t, Run(cfg))
	require.Len(t, signals, 2)
	assert.Equal(t, unix.SIGXCPU, signals[0])
	assert.Equal(t, unix.SIGKILL, signals[1])
}
