//go:build unix

package bleveindex

import (
	"errors"
	"syscall"
)

// isProcessRunning probes pid with signal 0
func isProcessRunning(pid int) bool {
	err := syscall.Kill(pid, syscall.Signal(0))
	switch {
	case err == nil:
		return true
	case errors.Is(err, syscall.ESRCH):
		return false
	case errors.Is(err, syscall.EPERM):
		// exists, owned by someone else
		return true
	default:
		return false
	}
}
