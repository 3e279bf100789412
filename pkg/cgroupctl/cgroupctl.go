// Package cgroupctl manages the single cgroup v2 directory a bwrapbox
// invocation owns: creating it, writing controller limits into it,
// migrating a pid in, sampling cpu.stat, and tearing it down by
// killing every member and removing the directory. Every control file
// touch goes through pkg/fsutil, matching the plain os.WriteFile/
// os.ReadFile style used throughout the cgroup v2 tooling this is
// grounded on, rather than pulling in a full OCI cgroups library.
package cgroupctl

import (
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/sandboxrun/bwrapbox/pkg/errors"
	"github.com/sandboxrun/bwrapbox/pkg/fsutil"
)

const sysFsCgroup = "/sys/fs/cgroup"

// LimitPair is a single cgroup control file write: Name is the
// relative filename beneath the cgroup directory (e.g. "memory.max"),
// Value is written verbatim.
type LimitPair struct {
	Name  string
	Value string
}

// ResolvePath reinterprets a relative cgroup name as absolute under
// /sys/fs/cgroup. An already-absolute name is returned unchanged.
func ResolvePath(name string) string {
	if strings.HasPrefix(name, "/") {
		return name
	}
	return path.Join(sysFsCgroup, name)
}

// Controller owns the lifecycle of one cgroup v2 directory.
type Controller struct {
	path string
}

// New returns a Controller for the cgroup at path (already resolved
// via ResolvePath). It does not touch the filesystem.
func New(cgroupPath string) *Controller {
	return &Controller{path: cgroupPath}
}

// Path returns the absolute cgroup directory this controller owns.
func (c *Controller) Path() string {
	return c.path
}

// Exists reports whether the cgroup directory is currently present.
func (c *Controller) Exists() bool {
	return fsutil.IsDir(c.path)
}

// Overwrite destroys a pre-existing cgroup at this path, if any,
// before Create is called. Used for --cgroup-overwrite.
func (c *Controller) Overwrite() error {
	if !c.Exists() {
		return nil
	}
	return c.KillAndDestroy()
}

// Create makes the cgroup directory. It is not an error if it already
// exists (mirrors fsutil.Mkdir's idempotence).
func (c *Controller) Create() error {
	return fsutil.Mkdir(c.path)
}

// SetLimits writes each pair's value to its named control file
// beneath the cgroup directory, in order. It is fatal on the first
// failure: the cgroup is left partially configured, and the caller's
// cleanup path tears it down.
func (c *Controller) SetLimits(pairs []LimitPair) error {
	for _, p := range pairs {
		target := path.Join(c.path, p.Name)
		if err := fsutil.WriteFile(target, []byte(p.Value)); err != nil {
			return errors.NewIOError("write cgroup limit failed", err).WithContext("name", p.Name).WithContext("value", p.Value)
		}
	}
	return nil
}

// MigratePID writes pid to cgroup.procs, joining it (and, from then
// on, its descendants) to this cgroup. Must be called before the
// target execs, so that the execed process is accounted from the
// start.
func (c *Controller) MigratePID(pid int) error {
	target := path.Join(c.path, "cgroup.procs")
	if err := fsutil.WriteFile(target, []byte(strconv.Itoa(pid))); err != nil {
		return errors.NewIOError("migrate pid into cgroup failed", err).WithContext("pid", pid)
	}
	return nil
}

// CPUTimeUsecs reads cpu.stat and returns the usage_usec field,
// accepting it at any line position rather than assuming it is
// first (the kernel layout has been stable but is not guaranteed).
// It returns -1, without error, if the cgroup directory no longer
// exists; the caller's sampling loop uses this to detect teardown.
func (c *Controller) CPUTimeUsecs() (int64, error) {
	target := path.Join(c.path, "cpu.stat")
	data, err := fsutil.ReadFile(target)
	if err != nil {
		if errors.IsIOError(err) {
			return -1, nil
		}
		return 0, err
	}

	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[0] == "usage_usec" {
			usecs, parseErr := strconv.ParseInt(fields[1], 10, 64)
			if parseErr != nil {
				return 0, errors.NewInternalError("parse usage_usec failed", parseErr).WithContext("line", line)
			}
			return usecs, nil
		}
	}
	return 0, errors.NewInternalError("usage_usec not found in cpu.stat", nil).WithContext("path", target)
}

// procsDrainTimeout bounds how long KillAndDestroy waits for
// cgroup.procs to drain before attempting rmdir anyway.
const procsDrainTimeout = 2 * time.Second

// KillAndDestroy writes "1" to cgroup.kill, which atomically SIGKILLs
// every process the cgroup currently contains (kernel ≥5.14), waits
// for cgroup.procs to report empty, then removes the directory. It
// is idempotent: calling it when the cgroup does not exist is a
// no-op, so a deferred cleanup and a signal handler can both call it
// safely.
func (c *Controller) KillAndDestroy() error {
	if !c.Exists() {
		return nil
	}

	killFile := path.Join(c.path, "cgroup.kill")
	if err := fsutil.WriteFile(killFile, []byte("1")); err != nil {
		return errors.NewIOError("write cgroup.kill failed", err).WithContext("path", killFile)
	}

	procsFile := path.Join(c.path, "cgroup.procs")
	deadline := time.Now().Add(procsDrainTimeout)
	// No sleep between polls: the read is itself a syscall and
	// membership empties within microseconds of cgroup.kill.
	for time.Now().Before(deadline) {
		data, err := fsutil.ReadFile(procsFile)
		if err != nil || len(strings.TrimSpace(string(data))) == 0 {
			break
		}
	}

	return fsutil.Rmdir(c.path)
}
