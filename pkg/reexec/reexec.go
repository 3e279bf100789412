// Package reexec provides the os.Args[1]-keyed dispatch that lets
// bwrapbox spawn its own helper subprocesses by re-executing
// /proc/self/exe with a reserved first argument, rather than calling
// fork(2) directly. Go cannot safely fork without also execing
// (the runtime's own threads and GC state do not survive a bare
// fork), so every "child process" bwrapbox needs is realized as a
// re-exec into one of the handlers registered here.
package reexec

import (
	"os"
	"os/exec"
)

// Handler is a registered subcommand body. It never returns control
// to the caller in the ordinary case; it ends the process itself
// (commonly via syscall.Exec or os.Exit), since there is no
// meaningful "resume normal main" after a re-exec helper runs.
type Handler func(args []string)

var handlers = make(map[string]Handler)

// Register adds a named helper. Call from an init() in the package
// that implements the helper, so that registration happens before
// Init is checked in main.
func Register(name string, h Handler) {
	handlers[name] = h
}

// Init inspects os.Args[1]; if it names a registered handler, the
// handler runs with the remaining arguments, and Init returns true if
// the handler itself returns (the registered helpers end the process
// instead). Otherwise Init returns false and the caller proceeds with
// its normal argument parsing.
func Init() bool {
	if len(os.Args) < 2 {
		return false
	}
	h, ok := handlers[os.Args[1]]
	if !ok {
		return false
	}
	h(os.Args[2:])
	return true
}

// SelfExePath is the path re-exec callers should launch: it resolves
// through /proc/self/exe so relaunching works even if the binary was
// invoked via a relative path or has since been replaced on disk.
const SelfExePath = "/proc/self/exe"

// Command builds an *exec.Cmd that re-execs this binary with name as
// os.Args[1], followed by extraArgs, dispatching into the handler
// registered under name.
func Command(name string, extraArgs ...string) *exec.Cmd {
	args := append([]string{name}, extraArgs...)
	return exec.Command(SelfExePath, args...)
}
