//go:build !unix

package stdio

import (
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

type signal int

const (
	sigTerm signal = iota
	sigKill
)

const groupPollInterval = 20 * time.Millisecond

func setProcAttrs(_ *exec.Cmd) {}

// groupAlive is false, children are not tracked without process groups.
func groupAlive(_ *exec.Cmd) bool {
	return false
}

// signalGroup has no group semantics here: interrupts are not deliverable,
// so both signals kill the process.
func signalGroup(cmd *exec.Cmd, _ signal) error {
	err := cmd.Process.Kill()
	if err != nil && !errors.Is(err, os.ErrProcessDone) {
		return errors.WithStack(err)
	}
	return nil
}

func isExecutable(fi fs.FileInfo) bool {
	return fi.Mode().IsRegular()
}

// executableNames appends the extensions of pathExt, the PATHEXT
// of the provider environment.
func executableNames(command, pathExt string) []string {
	if filepath.Ext(command) != "" {
		return []string{command}
	}
	names := []string{command}
	for _, ext := range strings.Split(strings.ToLower(pathExt), string(filepath.ListSeparator)) {
		if ext != "" {
			names = append(names, command+ext)
		}
	}
	return names
}
