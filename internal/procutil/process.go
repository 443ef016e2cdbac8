// Package procutil wraps the platform-specific pieces of finding and
// terminating processes by PID.
package procutil

import "time"

// WaitForExit polls until the process identified by pid is gone or the
// timeout elapses. It reports whether the process exited in time.
func WaitForExit(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if !IsProcessAlive(pid) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(50 * time.Millisecond)
	}
}
