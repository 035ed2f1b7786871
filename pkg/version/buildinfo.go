package version

import (
	"fmt"
	"runtime/debug"
	"strings"
)

func init() {
	buildInfo = moduleBuildInfo
}

// moduleBuildInfo lists the main module and every dependency linked into
// the binary, one per line.
func moduleBuildInfo() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "not built in module mode"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", info.Main.Path, info.Main.Version)
	for _, dep := range info.Deps {
		mod := dep
		if dep.Replace != nil {
			mod = dep.Replace
		}
		fmt.Fprintf(&b, "  %s %s", dep.Path, mod.Version)
		if mod != dep {
			fmt.Fprintf(&b, " (replaced by %s)", mod.Path)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
