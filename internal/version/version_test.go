package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// restore puts the package variables back after a test mutates them.
func restore(t *testing.T) {
	v, r, d := Version, Revision, BuildDate
	t.Cleanup(func() { Version, Revision, BuildDate = v, r, d })
}

func TestStrings(t *testing.T) {
	restore(t)
	Version, Revision, BuildDate = "1.4.0", "abcdef1234567890", "2025-06-01T00:00:00Z"

	assert.Equal(t, "1.4.0 (abcdef1)", Short())

	detailed := Detailed()
	assert.True(t, strings.HasPrefix(detailed, "1.4.0 (abcdef1234567890; go"))
	assert.True(t, strings.HasSuffix(detailed, "; 2025-06-01T00:00:00Z)"))
	assert.Contains(t, detailed, Get().Platform)

	assert.Equal(t, "btsync/1.4.0 ("+Get().Platform+")", UserAgent())
}

func TestShortRevision(t *testing.T) {
	assert.Equal(t, "abcdef1-dirty", shortRevision("abcdef1234567890-dirty"))
	assert.Equal(t, "HEAD", shortRevision("HEAD"))
	assert.Equal(t, "", shortRevision(""))
}

func TestFromBuildInfo(t *testing.T) {
	tests := []struct {
		name                     string
		version, revision, date  string
		mainVersion              string
		vcs                      map[string]string
		wantVer, wantRev, wantAt string
	}{
		{
			name:    "devel module version is ignored",
			version: devVersion, revision: devRevision,
			mainVersion: "(devel)",
			vcs:         map[string]string{},
			wantVer:     devVersion, wantRev: devRevision,
		},
		{
			name:    "defaults are filled",
			version: devVersion, revision: devRevision,
			mainVersion: "v9.9.9",
			vcs: map[string]string{
				"vcs.revision": "abcdef1234567890",
				"vcs.modified": "true",
				"vcs.time":     "2025-12-12T01:00:00Z",
			},
			wantVer: "9.9.9", wantRev: "abcdef1234567890-dirty", wantAt: "2025-12-12T01:00:00Z",
		},
		{
			name:    "ldflags win",
			version: "1.2.3", revision: "deadbeef", date: "from-ldflags",
			mainVersion: "v9.9.9",
			vcs:         map[string]string{"vcs.revision": "abcdef", "vcs.time": "2025-12-12T01:00:00Z"},
			wantVer:     "1.2.3", wantRev: "deadbeef", wantAt: "from-ldflags",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			restore(t)
			Version, Revision, BuildDate = tt.version, tt.revision, tt.date

			fromBuildInfo(tt.mainVersion, tt.vcs)

			assert.Equal(t, tt.wantVer, Version)
			assert.Equal(t, tt.wantRev, Revision)
			assert.Equal(t, tt.wantAt, BuildDate)
		})
	}
}
