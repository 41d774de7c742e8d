//go:build unix

package cluster

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

func pause(p *os.Process) error {
	if err := unix.Kill(p.Pid, unix.SIGSTOP); err != nil {
		return fmt.Errorf("cluster: pause pid %d: %w", p.Pid, err)
	}
	return nil
}

func unpause(p *os.Process) error {
	if err := unix.Kill(p.Pid, unix.SIGCONT); err != nil {
		return fmt.Errorf("cluster: unpause pid %d: %w", p.Pid, err)
	}
	return nil
}
