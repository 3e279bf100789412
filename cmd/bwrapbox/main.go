package main

import (
	"fmt"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"

	_ "github.com/sandboxrun/bwrapbox/pkg/childproc"
	"github.com/sandboxrun/bwrapbox/pkg/bwrapargs"
	"github.com/sandboxrun/bwrapbox/pkg/idswitch"
	"github.com/sandboxrun/bwrapbox/pkg/logging"
	"github.com/sandboxrun/bwrapbox/pkg/profile"
	"github.com/sandboxrun/bwrapbox/pkg/reexec"
	"github.com/sandboxrun/bwrapbox/pkg/rlimit"
	"github.com/sandboxrun/bwrapbox/pkg/supervisor"
)

func main() {
	// Dispatch into a re-exec helper (the bwrap child or the limiter
	// child) before anything else; if os.Args[1] names one, this
	// process ends inside the handler and never returns.
	if reexec.Init() {
		return
	}

	logLevel, logFormat, profilePath, args := extractAmbientFlags(os.Args[1:])

	logger, err := logging.NewZapLogger("bwrapbox", logging.ZapConfig{Level: logLevel, Format: logFormat})
	if err != nil {
		fmt.Fprintf(os.Stderr, "[bwrapbox] invalid --log-level: %v\n", err)
		os.Exit(255)
	}

	if profilePath != "" {
		p, err := profile.LoadFromFile(profilePath)
		if err != nil {
			logger.Errorf("load profile failed: %v", err)
			os.Exit(255)
		}
		args = append(p.ToArgs(), args...)
	}

	cfg, err := bwrapargs.Parse(args)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(255)
	}

	cfg, err = bwrapargs.AppendExtraArgsFromEnv(cfg)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(255)
	}

	if cfg.Help {
		bwrapargs.WriteHelp(os.Stdout)
		execBwrapHelp()
		return
	}

	if !cfg.CgroupEnabled {
		os.Exit(runDirect(cfg, logger))
		return
	}

	os.Exit(supervisor.Run(cfg, logger, logLevel, logFormat, os.Stderr))
}

// runDirect handles the "cgroup mode is off" case: rlimits and
// setuid/setgid apply in-process, then bwrapbox execs bwrap directly
// with no fork at all.
func runDirect(cfg bwrapargs.Config, logger logging.Logger) int {
	if err := rlimit.Apply(cfg.ExecLimits); err != nil {
		logger.Errorf("apply rlimits failed: %v", err)
		return 255
	}
	if err := idswitch.Apply(cfg.ExecUID, cfg.ExecGID); err != nil {
		logger.Errorf("drop privileges failed: %v", err)
		return 255
	}

	bwrapPath, err := exec.LookPath("bwrap")
	if err != nil {
		logger.Errorf("bwrap not found in PATH: %v", err)
		return 255
	}
	if err := unix.Exec(bwrapPath, cfg.BwrapArgv, os.Environ()); err != nil {
		logger.Errorf("exec bwrap failed: %v", err)
		return 255
	}
	// unix.Exec only returns on failure.
	return 255
}

func execBwrapHelp() {
	bwrapPath, err := exec.LookPath("bwrap")
	if err != nil {
		fmt.Fprintf(os.Stderr, "[bwrapbox] bwrap not found in PATH: %v\n", err)
		os.Exit(255)
	}
	_ = unix.Exec(bwrapPath, []string{"bwrap", "--help"}, os.Environ())
	os.Exit(255)
}

// extractAmbientFlags pulls bwrapbox's own ambient flags (--log-level,
// --log-format, --profile) out of argv before the bwrap argv classifier
// runs, since those flags are supplemental and must never be forwarded
// to bwrap as unknown tokens.
func extractAmbientFlags(args []string) (logLevel, logFormat, profilePath string, rest []string) {
	logLevel = "info"
	logFormat = "console"

	rest = make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--log-level":
			if i+1 < len(args) {
				i++
				logLevel = args[i]
			}
		case "--log-format":
			if i+1 < len(args) {
				i++
				logFormat = args[i]
			}
		case "--profile":
			if i+1 < len(args) {
				i++
				profilePath = args[i]
			}
		case "--":
			rest = append(rest, args[i:]...)
			return logLevel, logFormat, profilePath, rest
		default:
			rest = append(rest, args[i])
		}
	}
	return logLevel, logFormat, profilePath, rest
}
