// Package bwrapargs implements the single left-to-right classification
// pass that splits bwrapbox's own argv into supervisor options and a
// pass-through bwrap argv. Parse is hand-written rather than built on
// go-flags: the classifier must interleave variable-arity recognized
// flags with unrecognized pass-through tokens in their original
// order, and go-flags' IgnoreUnknown mode collects every unrecognized
// token into one trailing slice instead, which cannot reproduce that
// ordering. WriteHelp's usage text still goes through go-flags, the
// same as every other subcommand in this repo.
package bwrapargs

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jessevdk/go-flags"

	"github.com/sandboxrun/bwrapbox/pkg/cgroupctl"
	"github.com/sandboxrun/bwrapbox/pkg/errors"
	"github.com/sandboxrun/bwrapbox/pkg/rlimit"
)

// Disabled marks a climit-elapsed threshold as unset (-1).
const Disabled int64 = -1

// NoIDChange is the sentinel exec_uid/exec_gid value (do not switch).
const NoIDChange uint32 = 0xFFFFFFFF

// Config is the supervisor configuration populated by Parse.
type Config struct {
	CgroupEnabled   bool
	CgroupOverwrite bool
	CgroupPath      string
	CgroupLimits    []cgroupctl.LimitPair

	CPUHighUsecs  int64
	CPUMaxUsecs   int64
	WallHighUsecs int64
	WallMaxUsecs  int64

	ExecLimits []rlimit.Pair
	ExecUID    uint32
	ExecGID    uint32

	Quiet bool

	// Help is true when --help appeared anywhere, or argv was empty;
	// the caller should print help and exec "bwrap --help" rather than
	// use BwrapArgv.
	Help bool

	// BwrapArgv is the NULL-terminated-equivalent argv to exec, with
	// BwrapArgv[0] always "bwrap".
	BwrapArgv []string
}

// Parse classifies args (bwrapbox's own argv, excluding argv[0]) into
// a Config by walking it left to right exactly once, recognizing a
// fixed set of bwrapbox flags and forwarding everything else to bwrap
// verbatim.
func Parse(args []string) (Config, error) {
	cfg := Config{
		CPUHighUsecs:  Disabled,
		CPUMaxUsecs:   Disabled,
		WallHighUsecs: Disabled,
		WallMaxUsecs:  Disabled,
		ExecUID:       NoIDChange,
		ExecGID:       NoIDChange,
		BwrapArgv:     []string{"bwrap"},
	}

	if len(args) == 0 {
		cfg.Help = true
		return cfg, nil
	}
	for _, a := range args {
		if a == "--help" {
			cfg.Help = true
			return cfg, nil
		}
	}

	passthroughMode := false

	for i := 0; i < len(args); i++ {
		tok := args[i]

		if passthroughMode {
			cfg.BwrapArgv = append(cfg.BwrapArgv, tok)
			continue
		}

		if tok == "--" {
			cfg.BwrapArgv = append(cfg.BwrapArgv, tok)
			passthroughMode = true
			continue
		}

		switch tok {
		case "--cgroup":
			val, err := takeArg(args, &i, tok)
			if err != nil {
				return Config{}, err
			}
			cfg.CgroupEnabled = true
			cfg.CgroupPath = cgroupctl.ResolvePath(val)

		case "--cgroup-overwrite":
			cfg.CgroupOverwrite = true

		case "--climit":
			name, value, err := takePair(args, &i, tok)
			if err != nil {
				return Config{}, err
			}
			if err := bindClimit(&cfg, name, value); err != nil {
				return Config{}, err
			}

		case "--rlimit":
			name, value, err := takePair(args, &i, tok)
			if err != nil {
				return Config{}, err
			}
			n, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				return Config{}, errors.NewValidationError("rlimit value must be an integer", err).WithContext("value", value)
			}
			pair, err := rlimit.ParsePair(name, n)
			if err != nil {
				return Config{}, err
			}
			cfg.ExecLimits = append(cfg.ExecLimits, pair)

		case "--climit-elapsed-high":
			val, err := takeArg(args, &i, tok)
			if err != nil {
				return Config{}, err
			}
			if err := requireCgroup(cfg, tok); err != nil {
				return Config{}, err
			}
			n, err := parseInt64(val, tok)
			if err != nil {
				return Config{}, err
			}
			cfg.WallHighUsecs = n

		case "--climit-elapsed-max":
			val, err := takeArg(args, &i, tok)
			if err != nil {
				return Config{}, err
			}
			if err := requireCgroup(cfg, tok); err != nil {
				return Config{}, err
			}
			n, err := parseInt64(val, tok)
			if err != nil {
				return Config{}, err
			}
			cfg.WallMaxUsecs = n

		case "--setuid":
			val, err := takeArg(args, &i, tok)
			if err != nil {
				return Config{}, err
			}
			n, err := strconv.ParseUint(val, 10, 32)
			if err != nil {
				return Config{}, errors.NewValidationError("setuid value must be an integer", err).WithContext("value", val)
			}
			cfg.ExecUID = uint32(n)

		case "--setgid":
			val, err := takeArg(args, &i, tok)
			if err != nil {
				return Config{}, err
			}
			n, err := strconv.ParseUint(val, 10, 32)
			if err != nil {
				return Config{}, errors.NewValidationError("setgid value must be an integer", err).WithContext("value", val)
			}
			cfg.ExecGID = uint32(n)

		case "--quiet":
			cfg.Quiet = true

		default:
			cfg.BwrapArgv = append(cfg.BwrapArgv, tok)
		}
	}

	return cfg, nil
}

// bindClimit applies rule 4: "time.high"/"time.max" bind the cpu
// threshold fields instead of becoming literal cgroup writes.
func bindClimit(cfg *Config, name, value string) error {
	switch name {
	case "time.high":
		n, err := parseInt64(value, "--climit time.high")
		if err != nil {
			return err
		}
		cfg.CPUHighUsecs = n
		return nil
	case "time.max":
		n, err := parseInt64(value, "--climit time.max")
		if err != nil {
			return err
		}
		cfg.CPUMaxUsecs = n
		return nil
	default:
		cfg.CgroupLimits = append(cfg.CgroupLimits, cgroupctl.LimitPair{Name: name, Value: value})
		return nil
	}
}

// requireCgroup enforces rule 5: a climit-elapsed-* flag requires
// --cgroup to already be enabled.
func requireCgroup(cfg Config, flag string) error {
	if !cfg.CgroupEnabled {
		return errors.NewValidationError("enable cgroup to limit time", nil).WithContext("flag", flag)
	}
	return nil
}

// takeArg consumes the single argument following a 1-arity flag,
// advancing i past it.
func takeArg(args []string, i *int, flag string) (string, error) {
	if *i+1 >= len(args) {
		return "", errors.NewValidationError("missing argument", nil).WithContext("flag", flag)
	}
	*i++
	return args[*i], nil
}

// takePair consumes the two arguments following a 2-arity flag
// (NAME VALUE), advancing i past both.
func takePair(args []string, i *int, flag string) (name, value string, err error) {
	if *i+2 >= len(args) {
		return "", "", errors.NewValidationError("missing argument", nil).WithContext("flag", flag)
	}
	*i++
	name = args[*i]
	*i++
	value = args[*i]
	return name, value, nil
}

func parseInt64(raw, flag string) (int64, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errors.NewValidationError("value must be an integer", err).WithContext("flag", flag).WithContext("value", raw)
	}
	return n, nil
}

// helpOptions mirrors the flag table Parse recognizes, solely so its
// go-flags tags can render usage text. Parse does not use this struct
// to classify argv itself; see the package doc comment.
type helpOptions struct {
	Help              bool     `long:"help" description:"Print this help and bwrap's own help"`
	Cgroup            string   `long:"cgroup" value-name:"NAME" description:"Enable cgroup mode"`
	CgroupOverwrite   bool     `long:"cgroup-overwrite" description:"Pre-destroy cgroup NAME if it exists"`
	Climit            []string `long:"climit" value-name:"VAR VALUE" description:"Cgroup limit (time.high/time.max special-cased)"`
	Rlimit            []string `long:"rlimit" value-name:"VAR VALUE" description:"Per-process rlimit (RESOURCE.high/.max)"`
	ClimitElapsedHigh string   `long:"climit-elapsed-high" value-name:"VALUE" description:"Wall-clock soft limit (usec)"`
	ClimitElapsedMax  string   `long:"climit-elapsed-max" value-name:"VALUE" description:"Wall-clock hard limit (usec)"`
	Setuid            string   `long:"setuid" value-name:"VALUE" description:"UID to assume before exec"`
	Setgid            string   `long:"setgid" value-name:"VALUE" description:"GID to assume before exec"`
	Quiet             bool     `long:"quiet" description:"Suppress the final summary line"`
}

// WriteHelp renders the top-level usage text to w via go-flags, the
// same way the rest of the pack gets "--help" output for free from
// flags.NewParser. Printed when --help is recognized, before control
// is handed to "bwrap --help".
func WriteHelp(w io.Writer) {
	var opts helpOptions
	parser := flags.NewParser(&opts, flags.None)
	parser.Name = "bwrapbox"
	parser.Usage = "[OPTIONS...] [--] COMMAND [ARGS...]\n\n" +
		"Run COMMAND under bwrap with Linux rlimits, a cgroup v2 control\n" +
		"group, and CPU/wall-clock watchdogs."
	parser.WriteHelp(w)
	fmt.Fprint(w, "\nUnrecognized flags are forwarded to bwrap.\n")
}

// splitExtraArgs splits an environment-provided extra-args string
// (BWRAPBOX_EXTRA_ARGS) the same way a shell would, for appending to
// BwrapArgv after Parse runs.
func splitExtraArgs(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	return shlexSplit(raw)
}
