// Package idswitch drops the calling process's group and user id, in
// that order, before exec. It is invoked from the bwrap-child re-exec
// helper (after PR_SET_PDEATHSIG, cgroup migration and rlimits) and,
// when cgroup mode is off, from cmd/bwrapbox itself; in both cases it
// runs just before the final exec into bwrap.
package idswitch

import (
	"golang.org/x/sys/unix"

	"github.com/sandboxrun/bwrapbox/pkg/errors"
)

// NoChange is the sentinel exec_uid/exec_gid value meaning "do not
// switch".
const NoChange = 0xFFFFFFFF

// Apply drops gid then uid to the given values, skipping the syscall
// entirely for a value equal to NoChange. Group is dropped first so
// that the process still holds CAP_SETGID when it changes the gid;
// dropping the uid first would give that capability up.
func Apply(uid, gid uint32) error {
	if gid != NoChange {
		if err := unix.Setresgid(int(gid), int(gid), int(gid)); err != nil {
			return errors.NewPermissionError("setresgid failed", err).WithContext("gid", gid)
		}
	}
	if uid != NoChange {
		if err := unix.Setresuid(int(uid), int(uid), int(uid)); err != nil {
			return errors.NewPermissionError("setresuid failed", err).WithContext("uid", uid)
		}
	}
	return nil
}
