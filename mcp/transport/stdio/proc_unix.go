//go:build unix

package stdio

import (
	"io/fs"
	"os/exec"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
)

var (
	sigTerm = syscall.SIGTERM
	sigKill = syscall.SIGKILL
)

const groupPollInterval = 20 * time.Millisecond

// setProcAttrs puts the provider in its own process group, so launchers
// such as npx are signalled together with their children.
func setProcAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	pid := cmd.Process.Pid
	err := syscall.Kill(-pid, sig)
	if err == nil || errors.Is(err, syscall.ESRCH) {
		return nil
	}
	// fall back to the leader alone
	if perr := cmd.Process.Signal(sig); perr != nil {
		return errors.Wrapf(err, "signal %v to group %d", sig, pid)
	}
	return nil
}

// groupAlive reports whether any process of the provider's group remains.
func groupAlive(cmd *exec.Cmd) bool {
	return syscall.Kill(-cmd.Process.Pid, 0) == nil
}

func isExecutable(fi fs.FileInfo) bool {
	return fi.Mode()&0o111 != 0
}

func executableNames(command, _ string) []string {
	return []string{command}
}
