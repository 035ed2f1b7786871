package main

import (
	"os"

	"github.com/go-delve/icount/cmd/icount/cmds"
	"github.com/go-delve/icount/pkg/version"
)

// Build is the git sha of this binaries build.
var Build string

func main() {
	if Build != "" {
		version.ICountVersion.Build = Build
	}
	if err := cmds.New().Execute(); err != nil {
		os.Exit(1)
	}
}
