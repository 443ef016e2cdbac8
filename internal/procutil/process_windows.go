//go:build windows

package procutil

import (
	"fmt"
	"os"
	"syscall"
)

const queryLimitedInformation = 0x1000

// IsProcessAlive reports whether pid names a live process. Opening a
// handle with PROCESS_QUERY_LIMITED_INFORMATION succeeds only while the
// process is running.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	h, err := syscall.OpenProcess(queryLimitedInformation, false, uint32(pid))
	if err != nil {
		return false
	}
	syscall.CloseHandle(h)
	return true
}

// GracefulTerminate stops the process. Windows has no SIGTERM
// equivalent that Process.Signal can deliver, so this is a hard
// TerminateProcess.
func GracefulTerminate(p *os.Process) error {
	return p.Kill()
}

// TerminateByPID stops a process known only by pid.
func TerminateByPID(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid: %d", pid)
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	defer p.Release()
	return p.Kill()
}
