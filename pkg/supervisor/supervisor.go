// Package supervisor runs a sandboxed job end to end: it creates the
// cgroup, writes limits, launches the bwrap child and (conditionally)
// the limiter child via pkg/reexec, installs signal handlers that
// guarantee cgroup teardown, waits on the bwrap child, and emits the
// final summary line.
package supervisor

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/sandboxrun/bwrapbox/pkg/bwrapargs"
	"github.com/sandboxrun/bwrapbox/pkg/cgroupctl"
	"github.com/sandboxrun/bwrapbox/pkg/logging"
)

// Run executes cfg in cgroup mode: it is the caller's responsibility
// to have already checked cfg.CgroupEnabled before invoking this
// (direct-passthrough mode never reaches here). logLevel/logFormat are
// forwarded to the limiter-child helper, which builds its own logger
// rather than inheriting one across the re-exec boundary. Run returns
// the exit code bwrapbox itself should exit with.
func Run(cfg bwrapargs.Config, logger logging.Logger, logLevel, logFormat string, stderr io.Writer) int {
	ctl := cgroupctl.New(cfg.CgroupPath)

	if cfg.CgroupOverwrite {
		if err := ctl.Overwrite(); err != nil {
			return fatal(logger, "pre-destroy cgroup failed: %v", err)
		}
	}

	if err := ctl.Create(); err != nil {
		return fatal(logger, "create cgroup failed: %v", err)
	}
	// From here on, every exit path must attempt teardown; KillAndDestroy
	// is itself idempotent (gated on isdir), so the deferred call here
	// and a signal handler's call both racing to tear down is harmless.
	defer ctl.KillAndDestroy()

	if err := ctl.SetLimits(cfg.CgroupLimits); err != nil {
		return fatal(logger, "write cgroup limits failed: %v", err)
	}

	bwrapCmd, err := startBwrapChild(cfg, ctl)
	if err != nil {
		return fatal(logger, "start bwrap child failed: %v", err)
	}
	// The monotonic clock baseline is seeded here, immediately after
	// the bwrap child is launched, so the summary's elapsed wall time
	// is measured from that launch. The limiter, started next, stamps
	// its own start time when it begins running.
	start := time.Now()

	var limiterPID int
	if limiterActive(cfg) {
		limiterCmd, err := startLimiterChild(cfg, ctl, bwrapCmd.Process.Pid, logLevel, logFormat)
		if err != nil {
			return fatal(logger, "start limiter child failed: %v", err)
		}
		limiterPID = limiterCmd.Process.Pid
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)
	go func() {
		if _, ok := <-sigCh; ok {
			logger.Warnf("received termination signal, tearing down cgroup")
			_ = ctl.KillAndDestroy()
		}
	}()

	waitStatus, waitErr := waitChild(bwrapCmd.Process.Pid)
	elapsedUsecs := time.Since(start).Microseconds()
	cpuUsecs, _ := ctl.CPUTimeUsecs()

	// Tear the cgroup down now; the deferred call above is then a no-op.
	_ = ctl.KillAndDestroy()

	// The supervisor never blocks waiting on the limiter. The limiter
	// is not a member of the cgroup: it exits on its own after its last
	// signal, or when its next cpu.stat sample finds the cgroup gone.
	// A non-blocking reap collects it if it has already exited.
	reapLimiter(limiterPID)

	exitCode, reason, signalNum := classifyExit(waitStatus, waitErr)

	if !cfg.Quiet {
		emitSummary(stderr, reason, exitCode, signalNum, elapsedUsecs, cpuUsecs)
	}

	return exitCode
}

func fatal(logger logging.Logger, format string, args ...interface{}) int {
	logger.Errorf(format, args...)
	return 255
}

func limiterActive(cfg bwrapargs.Config) bool {
	return cfg.CPUHighUsecs >= 0 || cfg.CPUMaxUsecs >= 0 || cfg.WallHighUsecs >= 0 || cfg.WallMaxUsecs >= 0
}

func emitSummary(w io.Writer, reason string, exitCode, signalNum int, elapsedUsecs, cpuUsecs int64) {
	if reason == "time exceeded" {
		fmt.Fprintf(w, "[bwrapbox] application time exceeded after %d real usecs and %d CPU usecs\n", elapsedUsecs, cpuUsecs)
		return
	}
	n := exitCode
	if reason == "killed" || reason == "stopped" {
		n = signalNum
	}
	fmt.Fprintf(w, "[bwrapbox] application %s with status %d after %d real usecs and %d CPU usecs\n", reason, n, elapsedUsecs, cpuUsecs)
}

// classifyExit turns a wait4 result into (exitCode, reason, signal)
// for the summary line.
func classifyExit(ws unix.WaitStatus, waitErr error) (exitCode int, reason string, signalNum int) {
	if waitErr != nil {
		return 130, "interrupted", 0
	}
	switch {
	case ws.Exited():
		return ws.ExitStatus(), "exited", 0
	case ws.Signaled():
		sig := ws.Signal()
		if sig == unix.SIGXCPU {
			return int(sig), "time exceeded", int(sig)
		}
		return int(sig), "killed", int(sig)
	case ws.Stopped():
		sig := ws.StopSignal()
		return int(sig), "stopped", int(sig)
	default:
		return 130, "interrupted", 0
	}
}

func reapLimiter(pid int) {
	if pid == 0 {
		return
	}
	var ws unix.WaitStatus
	_, _ = unix.Wait4(pid, &ws, unix.WNOHANG, nil)
}
