package version

import (
	"fmt"
	"runtime/debug"

	"github.com/larsks/gobot/tools"
)

// Version is overridden at build time via -ldflags.
var Version string = "dev"

// GetVersion returns a human-readable version string including the target
// platform and, when built from a git checkout, the revision and date.
func GetVersion(progName string) string {
	vs := fmt.Sprintf("%s version %s", progName, Version)

	if bi, ok := debug.ReadBuildInfo(); ok {
		bim := tools.BuildInfoMap(bi)
		vs = fmt.Sprintf("%s %s/%s", vs, bim["GOOS"], bim["GOARCH"])
		if vcs, ok := bim["vcs"]; ok && vcs == "git" {
			vs = fmt.Sprintf("%s rev %s on %s", vs, bim["vcs.revision"][:10], bim["vcs.time"])
		}
	}

	return vs
}
