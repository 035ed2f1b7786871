package native

import "github.com/go-delve/icount/pkg/proc"

var _ proc.Target = (*Process)(nil)
