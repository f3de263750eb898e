package version

import (
	"runtime/debug"
	"strings"
	"time"
)

// Set at build time with -ldflags.
var (
	Version   = "dev"
	GitCommit = ""
	BuildTime = ""
)

// Info is the build information of the running binary.
type Info struct {
	Version   string    `json:"version"`
	GitCommit string    `json:"git_commit,omitempty"`
	GoVersion string    `json:"go_version"`
	BuildDate time.Time `json:"build_date,omitzero"`
	Dirty     bool      `json:"dirty,omitempty"`
}

// Get returns the build information, filling gaps from the embedded
// VCS stamp.
func Get() Info {
	return resolve(Version, GitCommit, BuildTime, readBuildInfo)
}

func readBuildInfo() (*debug.BuildInfo, bool) { return debug.ReadBuildInfo() }

func resolve(ver, commit, built string, read func() (*debug.BuildInfo, bool)) Info {
	info := Info{Version: ver, GitCommit: commit}
	if t, err := time.Parse(time.RFC3339, built); err == nil {
		info.BuildDate = t
	}

	bi, ok := read()
	if !ok {
		return info
	}
	info.GoVersion = bi.GoVersion
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.GitCommit == "" {
				info.GitCommit = s.Value
			}
		case "vcs.modified":
			info.Dirty = s.Value == "true"
		case "vcs.time":
			if info.BuildDate.IsZero() {
				if t, err := time.Parse(time.RFC3339, s.Value); err == nil {
					info.BuildDate = t
				}
			}
		}
	}
	if len(info.GitCommit) > 7 {
		info.GitCommit = info.GitCommit[:7]
	}
	return info
}

// String returns "version-commit[-dirty]", or just the version without a
// commit.
func (i Info) String() string {
	parts := []string{i.Version}
	if i.GitCommit != "" {
		parts = append(parts, i.GitCommit)
	}
	if i.Dirty {
		parts = append(parts, "dirty")
	}
	return strings.Join(parts, "-")
}

// Fields returns log fields describing the build.
func (i Info) Fields() map[string]interface{} {
	f := map[string]interface{}{
		"version":    i.Version,
		"go_version": i.GoVersion,
	}
	if i.GitCommit != "" {
		f["git_commit"] = i.GitCommit
	}
	if !i.BuildDate.IsZero() {
		f["build_date"] = i.BuildDate.UTC().Format(time.RFC3339)
	}
	return f
}
