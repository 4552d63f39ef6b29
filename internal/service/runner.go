package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

var (
	ErrNotStarted = errors.New("command not started")
	ErrInProgress = errors.New("command in progress")
	ErrTimeout    = errors.New("timed out")
)

const waitDelay = 2 * time.Second

type StderrFunc func(ctx context.Context, line string)

// Runner runs a single external command at a time.
type Runner struct {
	mx         sync.RWMutex
	cmd        *exec.Cmd
	cancelFunc context.CancelFunc
	result     Result
	waits      []chan Result
}

func NewRunner() *Runner {
	return &Runner{
		result: Result{Err: ErrNotStarted},
	}
}

type Command struct {
	Path    string
	Args    []string
	Env     []string // nil means the environment of the current process
	Stdin   []byte
	Timeout time.Duration
}

// CommandFromTokens builds a command from an executable and its arguments.
func CommandFromTokens(tokens []string) Command {
	if len(tokens) == 0 {
		return Command{}
	}
	return Command{
		Path: tokens[0],
		Args: append([]string(nil), tokens[1:]...),
	}
}

type Result struct {
	Path    string
	Args    []string
	Started time.Time
	Stopped time.Time
	State   *os.ProcessState
	Stdout  *bytes.Buffer
	Err     error
}

// ExitCode returns the exit code of a finished process, or -1 when the
// process did not start, is still running or was terminated by a signal.
func (r Result) ExitCode() int {
	if r.State == nil {
		return -1
	}
	return r.State.ExitCode()
}

// Success reports a normal exit with code zero.
func (r Result) Success() bool {
	return r.Err == nil && r.State != nil && r.State.Success()
}

// Start runs the command with proto.Stdin written to its standard input,
// which is closed afterwards. It returns ErrInProgress or an exec error,
// otherwise nil. Start does NOT wait on command to finish, use WaitChan
// method instead.
func (r *Runner) Start(ctx context.Context, proto Command, stderrFunc StderrFunc) error {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.cmd != nil {
		return ErrInProgress
	}

	r.result = Result{
		Path: proto.Path,
		Args: append([]string(nil), proto.Args...),
	}

	if proto.Timeout == 0 {
		slog.DebugContext(ctx, "command has no timeout", "path", proto.Path)
		ctx, r.cancelFunc = context.WithCancel(ctx)
	} else {
		cause := fmt.Errorf("%w after %s", ErrTimeout, proto.Timeout)
		ctx, r.cancelFunc = context.WithTimeoutCause(ctx, proto.Timeout, cause)
	}

	cmd := exec.CommandContext(ctx, r.result.Path, r.result.Args...)
	if proto.Env != nil {
		cmd.Env = append([]string(nil), proto.Env...)
	}
	cmd.Stdin = bytes.NewReader(proto.Stdin)
	// do not hang on children keeping the output open after a kill
	cmd.WaitDelay = waitDelay

	var buf bytes.Buffer
	r.result.Stdout = &buf
	cmd.Stdout = &buf
	var stderr *lineWriter
	if stderrFunc != nil {
		stderr = &lineWriter{ctx: ctx, fn: stderrFunc}
		cmd.Stderr = stderr
	}

	r.result.Started = time.Now().UTC()
	if err := cmd.Start(); err != nil {
		r.fail(err)
		return err
	}
	r.cmd = cmd

	go r.wait(ctx, cmd, stderr)
	return nil
}

func (r *Runner) fail(err error) {
	r.result.Stopped = time.Now().UTC()
	r.result.Err = err
	if r.cancelFunc != nil {
		r.cancelFunc()
		r.cancelFunc = nil
	}
	r.cmd = nil
}

func (r *Runner) wait(ctx context.Context, cmd *exec.Cmd, stderr *lineWriter) {
	err := cmd.Wait()
	stopped := time.Now().UTC()
	if err != nil && ctx.Err() != nil {
		// killed by a timeout or a cancellation, say which
		err = fmt.Errorf("%w: %w", context.Cause(ctx), err)
	}
	if stderr != nil {
		stderr.flush()
	}

	r.mx.Lock()
	defer r.mx.Unlock()
	if r.cancelFunc != nil {
		r.cancelFunc()
		r.cancelFunc = nil
	}
	r.result.Stopped = stopped
	r.result.State = cmd.ProcessState
	r.result.Err = err
	r.cmd = nil
	for _, ch := range r.waits {
		ch <- r.result
		close(ch)
	}
	r.waits = nil
}

// lineWriter calls fn for every complete line written to it. exec.Cmd
// writes from a single goroutine, so no locking is needed.
type lineWriter struct {
	ctx context.Context
	fn  StderrFunc
	buf []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.fn(w.ctx, string(w.buf[:i]))
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

func (w *lineWriter) flush() {
	if len(w.buf) > 0 {
		w.fn(w.ctx, string(w.buf))
		w.buf = nil
	}
}

// WaitChan returns the channel obtaining the result of a running
// program. The channel is closed once program ends. When nothing is
// running, the last result is delivered immediately.
func (r *Runner) WaitChan() <-chan Result {
	ch := make(chan Result, 1)
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.cmd == nil {
		ch <- r.result
		close(ch)
		return ch
	}
	r.waits = append(r.waits, ch)
	return ch
}

// LastResult returns a last command result
// or result with ErrNotStarted/ErrInProgress
// if no command have been executed yet.
func (r *Runner) LastResult() Result {
	r.mx.RLock()
	defer r.mx.RUnlock()
	if r.cmd != nil {
		res := r.result
		res.Err = ErrInProgress
		return res
	}
	return r.result
}
