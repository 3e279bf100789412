package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractAmbientFlags_Defaults(t *testing.T) {
	level, format, profilePath, rest := extractAmbientFlags([]string{"--", "/bin/true"})
	assert.Equal(t, "info", level)
	assert.Equal(t, "console", format)
	assert.Equal(t, "", profilePath)
	assert.Equal(t, []string{"--", "/bin/true"}, rest)
}

func TestExtractAmbientFlags_Extracted(t *testing.T) {
	level, format, profilePath, rest := extractAmbientFlags([]string{
		"--log-level", "debug", "--profile", "grader.yaml", "--cgroup", "t", "--", "/bin/true",
	})
	assert.Equal(t, "debug", level)
	assert.Equal(t, "console", format)
	assert.Equal(t, "grader.yaml", profilePath)
	assert.Equal(t, []string{"--cgroup", "t", "--", "/bin/true"}, rest)
}

func TestExtractAmbientFlags_NeverConsumesAfterDashDash(t *testing.T) {
	_, _, profilePath, rest := extractAmbientFlags([]string{"--", "/bin/echo", "--log-level", "debug"})
	assert.Equal(t, "", profilePath)
	assert.Equal(t, []string{"--", "/bin/echo", "--log-level", "debug"}, rest)
}
