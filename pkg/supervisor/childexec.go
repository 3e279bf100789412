package supervisor

import (
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/sandboxrun/bwrapbox/pkg/bwrapargs"
	"github.com/sandboxrun/bwrapbox/pkg/cgroupctl"
	"github.com/sandboxrun/bwrapbox/pkg/childproc"
	"github.com/sandboxrun/bwrapbox/pkg/reexec"
	"github.com/sandboxrun/bwrapbox/pkg/rlimit"
)

// startBwrapChild launches the bwrap-child re-exec helper, which
// migrates itself into the cgroup, applies rlimits, drops uid/gid,
// and execs bwrap. Membership happens inside that helper, before it
// execs bwrap; this call returns as soon as the helper process has
// started, which may be before it has joined the cgroup.
func startBwrapChild(cfg bwrapargs.Config, ctl *cgroupctl.Controller) (*exec.Cmd, error) {
	args := []string{
		"--cgroup-path", ctl.Path(),
		"--uid", strconv.FormatUint(uint64(cfg.ExecUID), 10),
		"--gid", strconv.FormatUint(uint64(cfg.ExecGID), 10),
	}
	for _, entry := range encodeRlimitPairs(cfg.ExecLimits) {
		args = append(args, "--rlimit", entry)
	}
	args = append(args, "--")
	args = append(args, cfg.BwrapArgv...)

	cmd := reexec.Command(childproc.BwrapChildHelperName, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	// New process group so a signal to -pid reaches the whole tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd, nil
}

// startLimiterChild launches the limiter-child re-exec helper against
// targetPID. Called only once targetPID (the bwrap child's pid) is
// known.
func startLimiterChild(cfg bwrapargs.Config, ctl *cgroupctl.Controller, targetPID int, logLevel, logFormat string) (*exec.Cmd, error) {
	args := []string{
		"--cgroup-path", ctl.Path(),
		"--target-pid", strconv.Itoa(targetPID),
		"--cpu-high", strconv.FormatInt(cfg.CPUHighUsecs, 10),
		"--cpu-max", strconv.FormatInt(cfg.CPUMaxUsecs, 10),
		"--wall-high", strconv.FormatInt(cfg.WallHighUsecs, 10),
		"--wall-max", strconv.FormatInt(cfg.WallMaxUsecs, 10),
		"--log-level", logLevel,
		"--log-format", logFormat,
	}

	cmd := reexec.Command(childproc.LimiterChildHelperName, args...)
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd, nil
}

func encodeRlimitPairs(pairs []rlimit.Pair) []string {
	encoded := make([]string, 0, len(pairs))
	for _, p := range pairs {
		suffix := "high"
		if p.Field == rlimit.FieldMax {
			suffix = "max"
		}
		encoded = append(encoded, p.Resource+"."+suffix+"="+strconv.FormatUint(p.Value, 10))
	}
	return encoded
}

// waitChild blocks for pid's termination via wait4, returning its
// status. This is the single waitpid-equivalent call the supervisor
// makes on the bwrap child.
func waitChild(pid int) (unix.WaitStatus, error) {
	var ws unix.WaitStatus
	for {
		_, err := unix.Wait4(pid, &ws, 0, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return ws, err
		}
		return ws, nil
	}
}
