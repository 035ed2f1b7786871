//go:build !linux || !amd64

package native

import (
	"errors"

	"github.com/go-delve/icount/pkg/proc"
)

// ErrNativeBackendDisabled is returned on platforms without a ptrace
// backend.
var ErrNativeBackendDisabled = errors.New("native backend only available on linux/amd64")

// Launch returns ErrNativeBackendDisabled.
func Launch(cmd []string, wd string) (*Process, error) {
	return nil, &proc.LaunchError{Cmd: cmd, Err: ErrNativeBackendDisabled}
}

// Launcher returns ErrNativeBackendDisabled.
func Launcher(cmd []string, wd string) (proc.Target, error) {
	return nil, &proc.LaunchError{Cmd: cmd, Err: ErrNativeBackendDisabled}
}
