package version

import (
	"runtime/debug"
	"testing"
	"time"
)

func stamp(settings ...debug.BuildSetting) func() (*debug.BuildInfo, bool) {
	return func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{GoVersion: "go1.26.0", Settings: settings}, true
	}
}

func noStamp() (*debug.BuildInfo, bool) { return nil, false }

func TestResolve(t *testing.T) {
	vcsTime := "2026-03-01T10:00:00Z"
	tests := []struct {
		name       string
		ver        string
		commit     string
		built      string
		read       func() (*debug.BuildInfo, bool)
		wantString string
		wantDate   string
	}{
		{
			name:       "dev without build info",
			ver:        "dev",
			read:       noStamp,
			wantString: "dev",
		},
		{
			name:       "ldflags win over vcs stamp",
			ver:        "1.4.0",
			commit:     "abc1234",
			built:      "2026-04-01T00:00:00Z",
			read:       stamp(debug.BuildSetting{Key: "vcs.revision", Value: "fffffffffffff"}, debug.BuildSetting{Key: "vcs.time", Value: vcsTime}),
			wantString: "1.4.0-abc1234",
			wantDate:   "2026-04-01T00:00:00Z",
		},
		{
			name:       "vcs stamp fills gaps",
			ver:        "dev",
			read:       stamp(debug.BuildSetting{Key: "vcs.revision", Value: "0123456789abcdef"}, debug.BuildSetting{Key: "vcs.time", Value: vcsTime}),
			wantString: "dev-0123456",
			wantDate:   vcsTime,
		},
		{
			name:       "dirty tree",
			ver:        "1.4.0",
			read:       stamp(debug.BuildSetting{Key: "vcs.revision", Value: "0123456"}, debug.BuildSetting{Key: "vcs.modified", Value: "true"}),
			wantString: "1.4.0-0123456-dirty",
		},
		{
			name:       "unparseable build time ignored",
			ver:        "1.4.0",
			built:      "yesterday",
			read:       noStamp,
			wantString: "1.4.0",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			info := resolve(tc.ver, tc.commit, tc.built, tc.read)
			if got := info.String(); got != tc.wantString {
				t.Errorf("expected %q, got %q", tc.wantString, got)
			}
			if tc.wantDate == "" {
				if !info.BuildDate.IsZero() {
					t.Errorf("expected no build date, got %v", info.BuildDate)
				}
				return
			}
			if got := info.BuildDate.UTC().Format(time.RFC3339); got != tc.wantDate {
				t.Errorf("expected build date %s, got %s", tc.wantDate, got)
			}
		})
	}
}

func TestFields(t *testing.T) {
	info := resolve("1.4.0", "abc1234", "2026-04-01T00:00:00Z", stamp())
	f := info.Fields()
	if f["version"] != "1.4.0" || f["git_commit"] != "abc1234" {
		t.Errorf("unexpected fields %v", f)
	}
	if f["go_version"] != "go1.26.0" {
		t.Errorf("expected go version, got %v", f["go_version"])
	}
	if f["build_date"] != "2026-04-01T00:00:00Z" {
		t.Errorf("expected build date, got %v", f["build_date"])
	}

	bare := resolve("dev", "", "", noStamp).Fields()
	if _, ok := bare["git_commit"]; ok {
		t.Error("expected no commit field without a commit")
	}
}

func TestGet(t *testing.T) {
	if Get().Version != Version {
		t.Errorf("expected Get to report Version %q", Version)
	}
}
