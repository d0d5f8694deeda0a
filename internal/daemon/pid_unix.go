//go:build unix

package daemon

import "syscall"

// isAlive liveness-checks pid with a null signal (spec §4.5 step 2): sending
// signal 0 performs no action but still reports ESRCH if the process is gone.
func isAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}
