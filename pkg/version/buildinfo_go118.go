//go:build go1.18
// +build go1.18

package version

import "runtime/debug"

func init() {
	vcsRevision = buildSettingsRevision
}

func buildSettingsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" {
			return setting.Value
		}
	}
	return "unknown"
}
