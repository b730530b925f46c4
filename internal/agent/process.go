package agent

import (
	"fmt"
	"syscall"
)

// signalProcessGroup sends sig to the entire process group (negative
// PID), reaching children the worker may have forked.
func signalProcessGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	if err := syscall.Kill(-pid, sig); err != nil {
		return fmt.Errorf("signal process group %d: %w", pid, err)
	}
	return nil
}
