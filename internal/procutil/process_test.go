package procutil

import (
	"os"
	"os/exec"
	"runtime"
	"testing"
	"time"
)

// blockingChild starts a subprocess that runs until killed. The caller
// drives termination; cleanup reaps whatever is left so no zombie
// outlives the test.
func blockingChild(t *testing.T) *exec.Cmd {
	t.Helper()

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		// waitfor blocks on a signal name that never arrives.
		cmd = exec.Command("waitfor", "PabridgeTestSignalNeverSent", "/T", "300")
	} else {
		cmd = exec.Command("sleep", "300")
	}
	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start subprocess: %v", err)
	}
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	})
	return cmd
}

func TestIsProcessAliveSelf(t *testing.T) {
	if !IsProcessAlive(os.Getpid()) {
		t.Fatal("expected own process to be reported alive")
	}
}

func TestIsProcessAliveUnknownPID(t *testing.T) {
	// Beyond any realistic pid_max on the platforms we run on.
	if IsProcessAlive(1<<30 - 1) {
		t.Fatal("expected non-existent PID to be reported dead")
	}
}

func TestGracefulTerminate(t *testing.T) {
	cmd := blockingChild(t)

	if err := GracefulTerminate(cmd.Process); err != nil {
		t.Fatalf("GracefulTerminate returned error: %v", err)
	}
	_ = cmd.Wait()

	if !WaitForExit(cmd.Process.Pid, time.Second) {
		t.Fatal("process still alive after GracefulTerminate")
	}
}

func TestTerminateByPID(t *testing.T) {
	cmd := blockingChild(t)
	pid := cmd.Process.Pid

	if err := TerminateByPID(pid); err != nil {
		t.Fatalf("TerminateByPID returned error: %v", err)
	}
	_ = cmd.Wait()

	if !WaitForExit(pid, time.Second) {
		t.Fatal("process still alive after TerminateByPID")
	}
}

func TestWaitForExitTimesOutOnLiveProcess(t *testing.T) {
	cmd := blockingChild(t)

	if WaitForExit(cmd.Process.Pid, 150*time.Millisecond) {
		t.Fatal("expected WaitForExit to time out while the child runs")
	}
}
