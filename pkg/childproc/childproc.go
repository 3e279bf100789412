// Package childproc holds the two re-exec helper entry points that
// bwrapbox launches via pkg/reexec instead of calling fork(2)
// directly: the bwrap child (migrates itself into the cgroup, applies
// rlimits, drops uid/gid, then execs bwrap) and the limiter child
// (runs the dual-axis watchdog against the bwrap child's pid). Both
// register themselves in pkg/reexec's dispatch table from init(), and
// both end the process themselves; there is no "return to main"
// after one of these runs.
package childproc

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/jessevdk/go-flags"
	"golang.org/x/sys/unix"

	"github.com/sandboxrun/bwrapbox/pkg/cgroupctl"
	"github.com/sandboxrun/bwrapbox/pkg/idswitch"
	"github.com/sandboxrun/bwrapbox/pkg/logging"
	"github.com/sandboxrun/bwrapbox/pkg/reexec"
	"github.com/sandboxrun/bwrapbox/pkg/rlimit"
	"github.com/sandboxrun/bwrapbox/pkg/timelimit"
)

// BwrapChildHelperName is the os.Args[1] value that dispatches into
// runBwrapChild.
const BwrapChildHelperName = "bwrap-child"

// LimiterChildHelperName is the os.Args[1] value that dispatches into
// runLimiterChild.
const LimiterChildHelperName = "limiter-child"

func init() {
	reexec.Register(BwrapChildHelperName, runBwrapChild)
	reexec.Register(LimiterChildHelperName, runLimiterChild)
}

var timeNow = time.Now

// bwrapChildOpts is the fixed-arity argv this helper parses from
// its own os.Args[2:], built with go-flags the same way the
// supervisor's other small internal subcommands are.
type bwrapChildOpts struct {
	CgroupPath string `long:"cgroup-path" description:"absolute cgroup directory to join, empty if cgroup mode is off"`
	UID        uint32 `long:"uid" default:"4294967295" description:"uid sentinel 0xFFFFFFFF means do not switch"`
	GID        uint32 `long:"gid" default:"4294967295" description:"gid sentinel 0xFFFFFFFF means do not switch"`
	Rlimit     []string `long:"rlimit" description:"NAME=VALUE rlimit pair, repeatable"`
}

// exitFatal implements the "child-exit path": _exit(-1)-equivalent,
// never the parent's atexit-bearing os.Exit in the supervisor, since
// this process IS the child and must not run any handler meant for
// the parent.
func exitFatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "[bwrapbox] "+format+"\n", args...)
	os.Exit(255)
}

// runBwrapChild sets PR_SET_PDEATHSIG, migrates into the cgroup,
// applies rlimits, drops gid then uid, and execs bwrap. bwrapArgv (the
// argv with argv[0] = "bwrap") follows the flag block, separated by
// "--".
func runBwrapChild(args []string) {
	sep := len(args)
	for i, a := range args {
		if a == "--" {
			sep = i
			break
		}
	}
	var opts bwrapChildOpts
	parser := flags.NewParser(&opts, flags.IgnoreUnknown)
	if _, err := parser.ParseArgs(args[:sep]); err != nil {
		exitFatal("parse bwrap-child args failed: %v", err)
	}
	if sep == len(args) {
		exitFatal("bwrap-child missing bwrap argv separator")
	}
	bwrapArgv := args[sep+1:]

	if err := unix.Prctl(unix.PR_SET_PDEATHSIG, uintptr(unix.SIGKILL), 0, 0, 0); err != nil {
		exitFatal("PR_SET_PDEATHSIG failed: %v", err)
	}

	if opts.CgroupPath != "" {
		ctl := cgroupctl.New(opts.CgroupPath)
		if err := ctl.MigratePID(os.Getpid()); err != nil {
			exitFatal("migrate pid into cgroup failed: %v", err)
		}
	}

	if pairs, err := decodeRlimitPairs(opts.Rlimit); err != nil {
		exitFatal("decode rlimit pairs failed: %v", err)
	} else if err := rlimit.Apply(pairs); err != nil {
		exitFatal("apply rlimits failed: %v", err)
	}

	if err := idswitch.Apply(opts.UID, opts.GID); err != nil {
		exitFatal("drop privileges failed: %v", err)
	}

	bwrapPath, err := exec.LookPath("bwrap")
	if err != nil {
		exitFatal("bwrap not found in PATH: %v", err)
	}
	// execve does not itself search PATH; bwrapPath is already
	// resolved, but bwrapArgv[0] must stay "bwrap" for the exec'd
	// process's own argv[0].
	if len(bwrapArgv) == 0 {
		bwrapArgv = []string{"bwrap"}
	}
	bwrapArgv[0] = "bwrap"
	if err := unix.Exec(bwrapPath, bwrapArgv, os.Environ()); err != nil {
		exitFatal("exec bwrap failed: %v", err)
	}
	// unix.Exec only returns on failure; reaching here is impossible,
	// but a return from execve is treated as fatal too.
	exitFatal("exec bwrap returned unexpectedly")
}

func decodeRlimitPairs(raw []string) ([]rlimit.Pair, error) {
	pairs := make([]rlimit.Pair, 0, len(raw))
	for _, entry := range raw {
		name, value, err := splitNameValue(entry)
		if err != nil {
			return nil, err
		}
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return nil, err
		}
		pair, err := rlimit.ParsePair(name, n)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, pair)
	}
	return pairs, nil
}

func splitNameValue(entry string) (name, value string, err error) {
	for i := 0; i < len(entry); i++ {
		if entry[i] == '=' {
			return entry[:i], entry[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("malformed rlimit pair %q, want NAME=VALUE", entry)
}

// limiterChildOpts is the fixed-arity argv for the limiter helper.
type limiterChildOpts struct {
	CgroupPath    string `long:"cgroup-path" required:"true"`
	TargetPID     int    `long:"target-pid" required:"true"`
	CPUHighUsecs  int64  `long:"cpu-high" default:"-1"`
	CPUMaxUsecs   int64  `long:"cpu-max" default:"-1"`
	WallHighUsecs int64  `long:"wall-high" default:"-1"`
	WallMaxUsecs  int64  `long:"wall-max" default:"-1"`
	LogLevel      string `long:"log-level" default:"info"`
	LogFormat     string `long:"log-format" default:"console"`
}

// runLimiterChild does the same PR_SET_PDEATHSIG setup, then runs the
// watchdog loop from pkg/timelimit against the bwrap child's pid.
func runLimiterChild(args []string) {
	var opts limiterChildOpts
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		exitFatal("parse limiter-child args failed: %v", err)
	}

	if err := unix.Prctl(unix.PR_SET_PDEATHSIG, uintptr(unix.SIGKILL), 0, 0, 0); err != nil {
		exitFatal("PR_SET_PDEATHSIG failed: %v", err)
	}

	logger, err := logging.NewZapLogger("limiter", logging.ZapConfig{Level: opts.LogLevel, Format: opts.LogFormat})
	if err != nil {
		exitFatal("invalid --log-level: %v", err)
	}

	ctl := cgroupctl.New(opts.CgroupPath)
	cfg := timelimit.Config{
		CPUHighUsecs:  opts.CPUHighUsecs,
		CPUMaxUsecs:   opts.CPUMaxUsecs,
		WallHighUsecs: opts.WallHighUsecs,
		WallMaxUsecs:  opts.WallMaxUsecs,
		TargetPID:     opts.TargetPID,
		ReadCPU:       ctl.CPUTimeUsecs,
		Now:           timeNow,
		Logger:        logger,
	}

	if err := timelimit.Run(cfg); err != nil {
		exitFatal("limiter loop failed: %v", err)
	}
	os.Exit(0)
}
