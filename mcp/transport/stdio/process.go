// Package stdio launches MCP tool providers as child processes and speaks
// newline-delimited JSON-RPC with them over stdin and stdout.
package stdio

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbridge/mcp/mcperr"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpbridge/mcp/transport", "stdio")

// DefaultGraceTimeout is the time a provider is given to exit after SIGTERM.
const DefaultGraceTimeout = 2 * time.Second

// stderrTailLines is the number of provider stderr lines kept for diagnostics.
const stderrTailLines = 20

// State of a provider process.
type State int32

const (
	StateStarting State = iota
	StateReady
	StateFailed
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

// Config describes how to launch a provider.
type Config struct {
	// Name is the display name, used in logs only
	Name string
	// Command is the executable, resolved against Env["PATH"] when set
	Command string
	Args    []string
	// Env is the complete environment of the child.
	// The parent environment is never inherited.
	Env map[string]string
}

// Process is a handle to one running provider.
type Process struct {
	cfg Config

	mu      sync.Mutex
	state   State
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *os.File
	stderr  *os.File
	handed  bool
	lastErr error

	done     chan struct{}
	waitErr  error
	termOnce sync.Once

	tailMu sync.Mutex
	tail   []string
}

// New returns a handle in the Starting state. Nothing is launched until Start.
func New(cfg Config) *Process {
	return &Process{
		cfg:   cfg,
		state: StateStarting,
		done:  make(chan struct{}),
	}
}

// Name returns the configured display name.
func (p *Process) Name() string {
	return p.cfg.Name
}

// State returns the current state.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Err returns the error that moved the process to Failed, if any.
func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Pid returns the OS process id, or 0 if the process was never launched.
func (p *Process) Pid() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Start launches the provider. On success the state is Ready.
func (p *Process) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		p.fail(err)
		return errors.WithStack(err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateStarting {
		return errors.Wrapf(mcperr.ErrSpawn, "provider %q is %s", p.cfg.Name, p.state)
	}

	path, err := resolveCommand(p.cfg.Command, p.cfg.Env["PATH"], p.cfg.Env["PATHEXT"])
	if err != nil {
		return p.failLocked(errors.Wrapf(mcperr.ErrSpawn, "provider %q: %s", p.cfg.Name, err.Error()))
	}

	cmd := &exec.Cmd{
		Path: path,
		Args: append([]string{p.cfg.Command}, p.cfg.Args...),
		Env:  envList(p.cfg.Env),
		// bounds Wait if a grandchild keeps inherited descriptors open
		WaitDelay: time.Second,
	}
	setProcAttrs(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return p.failLocked(errors.Wrapf(mcperr.ErrSpawn, "provider %q: stdin: %s", p.cfg.Name, err.Error()))
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		return p.failLocked(errors.Wrapf(mcperr.ErrSpawn, "provider %q: stdout: %s", p.cfg.Name, err.Error()))
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		_ = outR.Close()
		_ = outW.Close()
		return p.failLocked(errors.Wrapf(mcperr.ErrSpawn, "provider %q: stderr: %s", p.cfg.Name, err.Error()))
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	started := time.Now()
	err = cmd.Start()
	// the child owns the write ends now
	_ = outW.Close()
	_ = errW.Close()
	if err != nil {
		_ = stdin.Close()
		_ = outR.Close()
		_ = errR.Close()
		return p.failLocked(errors.Wrapf(mcperr.ErrSpawn, "provider %q: %s", p.cfg.Name, err.Error()))
	}

	p.cmd = cmd
	p.stdin = stdin
	p.stdout = outR
	p.stderr = errR
	p.state = StateReady

	logger.KV(xlog.DEBUG,
		"status", "started",
		"provider", p.cfg.Name,
		"command", p.cfg.Command,
		"pid", cmd.Process.Pid,
		"elapsed", time.Since(started).String())

	go p.relayStderr(errR)
	go p.wait(cmd)
	return nil
}

func (p *Process) wait(cmd *exec.Cmd) {
	err := cmd.Wait()

	p.mu.Lock()
	p.waitErr = err
	unexpected := p.state == StateReady
	if unexpected {
		p.state = StateFailed
		p.lastErr = errors.Wrapf(mcperr.ErrConnectionLost, "provider %q exited: %v", p.cfg.Name, err)
	}
	p.mu.Unlock()

	if unexpected {
		logger.KV(xlog.WARNING,
			"status", "exited",
			"provider", p.cfg.Name,
			"pid", cmd.Process.Pid,
			"err", err,
			"stderr", strings.Join(p.StderrTail(), "\n"))
	}
	close(p.done)
}

func (p *Process) relayStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		logger.KV(xlog.DEBUG, "provider", p.cfg.Name, "stderr", line)

		p.tailMu.Lock()
		p.tail = append(p.tail, line)
		if len(p.tail) > stderrTailLines {
			p.tail = p.tail[len(p.tail)-stderrTailLines:]
		}
		p.tailMu.Unlock()
	}
}

// StderrTail returns the last lines the provider wrote to stderr.
func (p *Process) StderrTail() []string {
	p.tailMu.Lock()
	defer p.tailMu.Unlock()
	return append([]string(nil), p.tail...)
}

// Streams hands the provider's stdin and stdout to the caller.
// It succeeds once per process; only the protocol client may own them.
func (p *Process) Streams() (io.WriteCloser, io.ReadCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateReady {
		return nil, nil, errors.Wrapf(mcperr.ErrProviderUnavailable, "provider %q is %s", p.cfg.Name, p.state)
	}
	if p.handed {
		return nil, nil, errors.Newf("streams of provider %q already taken", p.cfg.Name)
	}
	p.handed = true
	return p.stdin, p.stdout, nil
}

// Transport returns a framed JSON-RPC transport over the provider's streams.
func (p *Process) Transport() (*Transport, error) {
	stdin, stdout, err := p.Streams()
	if err != nil {
		return nil, err
	}
	return NewTransport(p.cfg.Name, stdout, stdin), nil
}

// Fail marks a launched provider as Failed, for example after a handshake error.
// Terminate must still be called.
func (p *Process) Fail(err error) {
	p.fail(err)
}

func (p *Process) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.failLocked(err)
}

func (p *Process) failLocked(err error) error {
	if p.state == StateStarting || p.state == StateReady {
		p.state = StateFailed
		p.lastErr = err
	}
	return err
}

// Done is closed when the launched process has been reaped.
// It is never closed for a process that was not launched.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Exited reports whether the OS process is gone, or was never launched.
func (p *Process) Exited() bool {
	p.mu.Lock()
	launched := p.cmd != nil
	p.mu.Unlock()
	if !launched {
		return true
	}
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Terminate closes stdin, asks the process group to exit, and kills what
// is left of the group once grace has elapsed. It returns after the
// process is reaped.
// Terminate is idempotent and safe in every state.
func (p *Process) Terminate(grace time.Duration) {
	p.termOnce.Do(func() {
		p.terminate(grace)
	})
	p.mu.Lock()
	launched := p.cmd != nil
	p.mu.Unlock()
	if launched {
		<-p.done
	}
}

func (p *Process) terminate(grace time.Duration) {
	if grace <= 0 {
		grace = DefaultGraceTimeout
	}

	p.mu.Lock()
	prev := p.state
	p.state = StateTerminated
	cmd := p.cmd
	stdin, stdout, stderr := p.stdin, p.stdout, p.stderr
	p.mu.Unlock()

	if cmd == nil {
		logger.KV(xlog.DEBUG, "status", "terminated", "provider", p.cfg.Name, "launched", false, "prev", prev.String())
		return
	}
	pid := cmd.Process.Pid

	started := time.Now()
	if err := stdin.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		logger.KV(xlog.DEBUG, "provider", p.cfg.Name, "reason", "close_stdin", "err", err.Error())
	}

	// the group is signalled even when the leader is gone,
	// launchers such as sh or npx may leave their children behind
	if err := signalGroup(cmd, sigTerm); err != nil {
		logger.KV(xlog.DEBUG, "provider", p.cfg.Name, "reason", "sigterm", "pid", pid, "err", err.Error())
	}
	forced := !p.awaitGroup(cmd, grace)
	if forced {
		if err := signalGroup(cmd, sigKill); err != nil {
			logger.KV(xlog.ERROR, "provider", p.cfg.Name, "reason", "sigkill", "pid", pid, "err", err.Error())
		}
	}
	<-p.done

	// unblocks readers if a detached grandchild still holds the pipes
	_ = stdout.Close()
	_ = stderr.Close()

	logger.KV(xlog.DEBUG,
		"status", "terminated",
		"provider", p.cfg.Name,
		"pid", pid,
		"prev", prev.String(),
		"forced", forced,
		"elapsed", time.Since(started).String())
}

// awaitGroup reports whether the leader was reaped and the rest of its
// process group exited within grace.
func (p *Process) awaitGroup(cmd *exec.Cmd, grace time.Duration) bool {
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-p.done:
	case <-timer.C:
		return false
	}

	ticker := time.NewTicker(groupPollInterval)
	defer ticker.Stop()
	for groupAlive(cmd) {
		select {
		case <-ticker.C:
		case <-timer.C:
			return false
		}
	}
	return true
}

// ExitErr returns the result of waiting for the process, once it exited.
func (p *Process) ExitErr() error {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.waitErr
	default:
		return nil
	}
}

func envList(env map[string]string) []string {
	// non-nil: an empty slice gives the child an empty environment
	list := make([]string, 0, len(env))
	for k, v := range env {
		list = append(list, k+"="+v)
	}
	sort.Strings(list)
	return list
}

// resolveCommand finds command in pathEnv, the PATH of the provider.
// The PATH of this process is never consulted.
func resolveCommand(command, pathEnv, pathExt string) (string, error) {
	if command == "" {
		return "", errors.New("empty command")
	}
	if strings.ContainsRune(command, filepath.Separator) || strings.ContainsRune(command, '/') {
		if err := checkExecutable(command); err != nil {
			return "", err
		}
		return command, nil
	}
	if pathEnv == "" {
		return "", errors.Newf("%q is not a path and the provider environment has no PATH", command)
	}
	for _, dir := range filepath.SplitList(pathEnv) {
		if dir == "" {
			continue
		}
		for _, name := range executableNames(command, pathExt) {
			candidate := filepath.Join(dir, name)
			if checkExecutable(candidate) == nil {
				return candidate, nil
			}
		}
	}
	return "", errors.Newf("executable %q not found in PATH", command)
}

func checkExecutable(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return errors.WithStack(err)
	}
	if fi.IsDir() {
		return errors.Newf("%s is a directory", path)
	}
	if !isExecutable(fi) {
		return errors.Newf("%s is not executable", path)
	}
	return nil
}
