package bwrapargs

import (
	"os"

	"github.com/google/shlex"

	"github.com/sandboxrun/bwrapbox/pkg/errors"
)

// ExtraArgsEnv is the environment variable holding additional
// shell-quoted arguments to pass through to bwrap, letting a wrapping
// harness inject default bwrap flags without rewriting every call
// site.
const ExtraArgsEnv = "BWRAPBOX_EXTRA_ARGS"

func shlexSplit(raw string) ([]string, error) {
	tokens, err := shlex.Split(raw)
	if err != nil {
		return nil, errors.NewValidationError("invalid "+ExtraArgsEnv, err).WithContext("value", raw)
	}
	return tokens, nil
}

// AppendExtraArgsFromEnv splits BWRAPBOX_EXTRA_ARGS (if set) the way a
// shell would and appends the resulting tokens to cfg.BwrapArgv. This
// runs after Parse, so an extra-args token that happens to match a
// bwrapbox flag name is never reinterpreted as one, and the tokens
// always land after the caller's own pass-through argv.
func AppendExtraArgsFromEnv(cfg Config) (Config, error) {
	extra, err := splitExtraArgs(os.Getenv(ExtraArgsEnv))
	if err != nil {
		return cfg, err
	}
	if len(extra) == 0 {
		return cfg, nil
	}
	cfg.BwrapArgv = append(cfg.BwrapArgv, extra...)
	return cfg, nil
}
