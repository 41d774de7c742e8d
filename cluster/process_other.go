//go:build !unix

package cluster

import (
	"errors"
	"os"
)

var errPauseUnsupported = errors.New("cluster: pause is not supported on this platform")

func pause(*os.Process) error {
	return errPauseUnsupported
}

func unpause(*os.Process) error {
	return errPauseUnsupported
}
