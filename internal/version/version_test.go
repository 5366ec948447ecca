package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionStrings(t *testing.T) {
	assert.NotEmpty(t, Version)
	assert.NotEmpty(t, Revision)

	assert.Contains(t, Short(), Version)
	assert.Contains(t, Detailed(), Revision)
	assert.Contains(t, Detailed(), "/")
}

func TestApplyBuildInfo(t *testing.T) {
	oldV, oldR, oldD := Version, Revision, BuildDate
	t.Cleanup(func() { Version, Revision, BuildDate = oldV, oldR, oldD })

	Version, Revision, BuildDate = devVersion, "HEAD", ""
	applyBuildInfo("v1.2.3", map[string]string{
		"vcs.revision": "abcdef0123456",
		"vcs.modified": "true",
		"vcs.time":     "2025-01-01T00:00:00Z",
	})

	assert.Equal(t, "1.2.3", Version)
	assert.Equal(t, "abcdef0-dirty", Revision)
	assert.Equal(t, "2025-01-01T00:00:00Z", BuildDate)
}
