package local

import (
	"time"

	"github.com/hashicorp/go-hclog"
)

// Local is a build backend that runs the toolchain on this host.
// Every build gets its own output directory so builds of one batch can
// run side by side.
type Local struct {
	l hclog.Logger

	command []string
	output  string
	env     []string
	timeout time.Duration
}
