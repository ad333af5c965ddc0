package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetFullVersion(t *testing.T) {
	origVersion, origBuild, origCommit := Version, Build, GitCommit
	defer func() {
		Version, Build, GitCommit = origVersion, origBuild, origCommit
	}()

	Version = "1.2.3"
	Build = "2026-08-30T10:00:00Z"
	GitCommit = "abc1234"

	assert.Equal(t, "1.2.3 (build: 2026-08-30T10:00:00Z, commit: abc1234)", GetFullVersion())
	assert.Equal(t, "1.2.3", GetVersion())
	assert.Equal(t, "2026-08-30T10:00:00Z", GetBuild())
	assert.Equal(t, "abc1234", GetGitCommit())
}
