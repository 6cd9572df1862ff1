// Package version reports the version of dbgcheck and the modules it was
// built with.
package version

import (
	"fmt"
	"runtime"
	"strings"
)

// Version represents the current version of dbgcheck.
type Version struct {
	Major    string
	Minor    string
	Patch    string
	Metadata string
	Build    string
}

// DbgcheckVersion is the current version of dbgcheck.
var DbgcheckVersion = Version{
	Major: "0", Minor: "3", Patch: "0", Metadata: "",
	Build: "$Id$",
}

func (v Version) String() string {
	if strings.HasPrefix(v.Build, "$Id$") {
		v.Build = vcsRevision()
	}
	ver := fmt.Sprintf("Version: %s.%s.%s", v.Major, v.Minor, v.Patch)
	if v.Metadata != "" {
		ver += "-" + v.Metadata
	}
	return fmt.Sprintf("%s\nBuild: %s", ver, v.Build)
}

// vcsRevision returns the revision the binary was built from, if the
// toolchain recorded it.
var vcsRevision = func() string {
	return "unknown"
}

var buildInfo = func() string {
	return ""
}

// BuildInfo returns the Go version and the module dependencies dbgcheck
// was built with.
func BuildInfo() string {
	return fmt.Sprintf("%s\n%s", runtime.Version(), buildInfo())
}
