// Package timelimit implements the dual-axis (CPU-time and wall-clock)
// watchdog that bwrapbox runs as its own re-exec'd limiter process. It
// never polls on a fixed interval: each phase sleeps exactly the
// minimum remaining time to its own thresholds, so it wakes once per
// threshold boundary rather than busy-checking.
package timelimit

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/sandboxrun/bwrapbox/pkg/errors"
	"github.com/sandboxrun/bwrapbox/pkg/logging"
)

// Disabled marks a threshold as not in effect.
const Disabled int64 = -1

// CPUTimeReader samples cumulative CPU time consumed by the watched
// cgroup, in microseconds. A negative return with a nil error means
// the cgroup is gone and the watchdog should stop.
type CPUTimeReader func() (int64, error)

// Config carries the four threshold fields from the command line
// (cpu_high_usecs, cpu_max_usecs, wall_high_usecs, wall_max_usecs),
// plus the pid to signal and the dependencies needed to sample time.
type Config struct {
	CPUHighUsecs  int64
	CPUMaxUsecs   int64
	WallHighUsecs int64
	WallMaxUsecs  int64

	TargetPID int
	ReadCPU   CPUTimeReader
	Now       func() time.Time // monotonic wall-clock source, overridable in tests

	Logger logging.Logger
}

// Active reports whether any of the four thresholds are set. The
// supervisor checks the same condition (its own limiterActive) before
// spawning the limiter at all.
func (c Config) Active() bool {
	return c.CPUHighUsecs >= 0 || c.CPUMaxUsecs >= 0 || c.WallHighUsecs >= 0 || c.WallMaxUsecs >= 0
}

// killFunc is a seam for tests; production code always uses unix.Kill.
var killFunc = unix.Kill

type phase struct {
	cpuThreshold  int64
	wallThreshold int64
	signal        unix.Signal
}

// Run drives the two-phase watchdog against cfg.TargetPID: phase 1
// signals SIGXCPU and then hands over to phase 2, which signals
// SIGKILL. It stops after the last active phase has signaled, or as
// soon as the cgroup disappears. It returns nil in every case that is
// not an unexpected internal error; exiting quietly when there is
// nothing left to watch is the expected, common outcome.
func Run(cfg Config) error {
	start := cfg.Now()

	// Phase 1 ("high") runs only if a high threshold was actually
	// requested on at least one axis. Within the phase, an axis whose
	// high threshold is disabled has its own max value substituted, so
	// that axis never outlasts phase 2's boundary.
	if cfg.CPUHighUsecs >= 0 || cfg.WallHighUsecs >= 0 {
		highCPU, highWall := normalize(cfg.CPUHighUsecs, cfg.WallHighUsecs, cfg.CPUMaxUsecs, cfg.WallMaxUsecs)
		p := phase{cpuThreshold: highCPU, wallThreshold: highWall, signal: unix.SIGXCPU}
		gone, err := runPhase(cfg, start, p)
		if err != nil {
			return err
		}
		if gone {
			return nil
		}
	}

	// Phase 2 ("max").
	if cfg.CPUMaxUsecs >= 0 || cfg.WallMaxUsecs >= 0 {
		p := phase{cpuThreshold: cfg.CPUMaxUsecs, wallThreshold: cfg.WallMaxUsecs, signal: unix.SIGKILL}
		if _, err := runPhase(cfg, start, p); err != nil {
			return err
		}
	}
	return nil
}

// normalize substitutes an axis's own max threshold for its disabled
// high threshold, so phase 1 can never run longer than phase 2 would
// have allowed.
func normalize(cpuHigh, wallHigh, cpuMax, wallMax int64) (int64, int64) {
	if cpuHigh < 0 {
		cpuHigh = cpuMax
	}
	if wallHigh < 0 {
		wallHigh = wallMax
	}
	return cpuHigh, wallHigh
}

// runPhase loops sampling elapsed wall time and cgroup CPU time until
// a threshold is crossed (it signals and returns false, so the caller
// moves on to the next phase) or the cgroup disappears (it returns
// true, "nothing left to do"). If both thresholds in this phase are
// disabled it returns false at once.
func runPhase(cfg Config, start time.Time, p phase) (gone bool, err error) {
	if p.cpuThreshold < 0 && p.wallThreshold < 0 {
		return false, nil
	}

	for {
		elapsedWall := cfg.Now().Sub(start).Microseconds()

		cpuUsage, err := cfg.ReadCPU()
		if err != nil {
			return false, errors.NewInternalError("read cgroup cpu time failed", err)
		}
		if cpuUsage < 0 {
			// The cgroup is gone; the supervisor has already torn
			// down, there is nothing left to watch.
			return true, nil
		}

		cpuExceeded := p.cpuThreshold >= 0 && cpuUsage >= p.cpuThreshold
		wallExceeded := p.wallThreshold >= 0 && elapsedWall >= p.wallThreshold
		if cpuExceeded || wallExceeded {
			if cfg.Logger != nil {
				cfg.Logger.Debugf("threshold crossed, signaling pid %d with %v (cpu=%d wall=%d)", cfg.TargetPID, p.signal, cpuUsage, elapsedWall)
			}
			if err := killFunc(cfg.TargetPID, p.signal); err != nil {
				return false, errors.NewProcessError("signal target pid failed", err).WithContext("pid", cfg.TargetPID).WithContext("signal", p.signal)
			}
			return false, nil
		}

		sleep := remainingDelta(p.cpuThreshold, cpuUsage, p.wallThreshold, elapsedWall)
		time.Sleep(sleep)
	}
}

// remainingDelta returns the smallest non-negative wait until either
// threshold in this phase would next be crossed, treating a disabled
// threshold as having no bound.
func remainingDelta(cpuThreshold, cpuUsage, wallThreshold, wallUsage int64) time.Duration {
	const noBound = time.Duration(1<<63 - 1)
	wait := noBound

	if cpuThreshold >= 0 {
		if d := clampPositive(cpuThreshold - cpuUsage); time.Duration(d)*time.Microsecond < wait {
			wait = time.Duration(d) * time.Microsecond
		}
	}
	if wallThreshold >= 0 {
		if d := clampPositive(wallThreshold - wallUsage); time.Duration(d)*time.Microsecond < wait {
			wait = time.Duration(d) * time.Microsecond
		}
	}
	if wait == noBound {
		// Neither threshold in this phase is active; this should be
		// unreachable because runPhase returns early in that case, but
		// clamp to a safe ceiling rather than sleeping "forever".
		return time.Second
	}
	return wait
}

func clampPositive(d int64) int64 {
	if d < 0 {
		return 0
	}
	return d
}
