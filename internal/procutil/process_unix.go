//go:build !windows

package procutil

import (
	"os"
	"syscall"
)

// IsProcessAlive reports whether pid names a live process. Signal 0
// performs the existence and permission checks without delivering
// anything.
func IsProcessAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// GracefulTerminate asks the process to shut down with SIGTERM.
func GracefulTerminate(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}

// TerminateByPID sends SIGTERM to a process known only by pid, such as
// one recorded in a PID file by an earlier run.
func TerminateByPID(pid int) error {
	return syscall.Kill(pid, syscall.SIGTERM)
}
