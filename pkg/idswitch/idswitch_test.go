package idswitch

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApply_BothSentinel_NoSyscalls(t *testing.T) {
	// With both ids at NoChange, Apply must not attempt any syscall,
	// so it succeeds even when run unprivileged.
	err := Apply(NoChange, NoChange)
	assert.NoError(t, err)
}

func TestApply_CurrentIdentity_Idempotent(t *testing.T) {
	// Setting uid/gid to the identity the test process already holds
	// is a no-op syscall that should succeed regardless of privilege.
	uid := uint32(os.Getuid())
	gid := uint32(os.Getgid())
	err := Apply(uid, gid)
	assert.NoError(t, err)
}
