// Package engine runs a UCI chess engine as a child process. Commands go in
// through Send; every stdout line is handed to a callback from a dedicated
// reader goroutine, and termination is reported exactly once however it is
// detected.
package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jacokyle01/analysis-bridge/internal/log"
)

const (
	// DefaultGracePeriod is how long Stop waits for a clean exit before
	// killing the process group.
	DefaultGracePeriod = 3 * time.Second

	maxLineSize  = 1024 * 1024
	drainTimeout = 200 * time.Millisecond
	reapTimeout  = 2 * time.Second
)

var (
	// ErrStart is matched by every launch failure.
	ErrStart = errors.New("engine failed to start")
	// ErrNotRunning is returned by Send once the engine has terminated.
	ErrNotRunning = errors.New("engine not running")
	// ErrTerminated is reported by Err once the engine is gone.
	ErrTerminated = errors.New("engine terminated")
	// ErrNotReaped is returned by Stop when the killed process never exits.
	ErrNotReaped = errors.New("engine not reaped after kill")
)

// StartError describes a failed launch.
type StartError struct {
	Path string
	Err  error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start engine %q: %v", e.Path, e.Err)
}

func (e *StartError) Unwrap() []error {
	return []error{ErrStart, e.Err}
}

// Config describes how to launch the engine and where its output goes.
type Config struct {
	Path        string
	Args        []string
	Env         []string // appended to the current environment
	Dir         string
	GracePeriod time.Duration

	// OnLine receives every stdout line in arrival order.
	OnLine func(line string)
	// OnDiagnostic receives stderr lines. They are never parsed.
	OnDiagnostic func(line string)
	// OnExit is called once, with an error wrapping ErrTerminated.
	OnExit func(err error)
}

// Engine is a running engine process.
type Engine struct {
	cfg    Config
	cmd    *exec.Cmd
	logger zerolog.Logger

	mu    sync.Mutex
	stdin io.WriteCloser
	w     *bufio.Writer

	stdout io.ReadCloser
	stderr io.ReadCloser

	readers sync.WaitGroup
	exited  chan struct{}

	done     chan struct{}
	doneOnce sync.Once
	err      error

	stopOnce sync.Once
	stopErr  error
}

// Start launches the engine in its own process group and starts the stdout
// reader, stderr reader and process waiter.
func Start(cfg Config) (*Engine, error) {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}

	cmd := exec.Command(cfg.Path, cfg.Args...) //nolint:gosec // engine path comes from operator config
	cmd.Dir = cfg.Dir
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &StartError{Path: cfg.Path, Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &StartError{Path: cfg.Path, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &StartError{Path: cfg.Path, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &StartError{Path: cfg.Path, Err: err}
	}

	e := &Engine{
		cfg:    cfg,
		cmd:    cmd,
		logger: log.For("engine").With().Int("pid", cmd.Process.Pid).Logger(),
		stdin:  stdin,
		w:      bufio.NewWriter(stdin),
		stdout: stdout,
		stderr: stderr,
		exited: make(chan struct{}),
		done:   make(chan struct{}),
	}
	e.logger.Info().Str("path", cfg.Path).Strs("args", cfg.Args).Msg("engine started")

	e.readers.Add(2)
	go e.readStdout()
	go e.readStderr()
	go e.wait()

	return e, nil
}

// Send writes cmd followed by a newline and flushes it.
func (e *Engine) Send(cmd string) error {
	select {
	case <-e.done:
		return ErrNotRunning
	default:
	}
	if err := e.write(cmd); err != nil {
		return fmt.Errorf("send %q: %w", cmd, err)
	}
	e.logger.Debug().Str("cmd", cmd).Msg("sent")
	return nil
}

func (e *Engine) write(cmd string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.WriteString(cmd + "\n"); err != nil {
		return err
	}
	return e.w.Flush()
}

// Done is closed once the engine has terminated.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Err reports why the engine terminated, or nil while it is running.
func (e *Engine) Err() error {
	select {
	case <-e.done:
		return e.err
	default:
		return nil
	}
}

// PID returns the process id.
func (e *Engine) PID() int {
	return e.cmd.Process.Pid
}

// Path returns the executable path the engine was started from.
func (e *Engine) Path() string {
	return e.cfg.Path
}

// Stop asks the engine to stop searching and quit, waits for the grace
// period (or ctx) and then kills the whole process group. It may be called
// any number of times, including after the engine died on its own.
func (e *Engine) Stop(ctx context.Context) error {
	e.stopOnce.Do(func() {
		e.stopErr = e.stop(ctx)
	})
	return e.stopErr
}

func (e *Engine) stop(ctx context.Context) error {
	// The pipe may already be broken.
	_ = e.write("stop")
	_ = e.write("quit")
	e.mu.Lock()
	_ = e.stdin.Close()
	e.mu.Unlock()

	grace := time.NewTimer(e.cfg.GracePeriod)
	defer grace.Stop()

	select {
	case <-e.exited:
		return nil
	case <-grace.C:
		e.logger.Warn().Dur("grace", e.cfg.GracePeriod).Msg("engine ignored quit, killing process group")
	case <-ctx.Done():
		e.logger.Warn().Err(ctx.Err()).Msg("stop interrupted, killing process group")
	}

	if err := killGroup(e.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill engine: %w", err)
	}
	return awaitExit(ctx, e.exited, reapTimeout)
}

// awaitExit waits for exited after a kill. A process stuck in the kernel
// may never be reaped, so the wait is bounded by ctx and by timeout.
func awaitExit(ctx context.Context, exited <-chan struct{}, timeout time.Duration) error {
	interrupted := ctx.Done()
	if ctx.Err() != nil {
		// ctx already forced the kill; only the timeout bounds the reap.
		interrupted = nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-exited:
		return nil
	case <-interrupted:
		return fmt.Errorf("%w: %w", ErrNotReaped, ctx.Err())
	case <-timer.C:
		return fmt.Errorf("%w after %s", ErrNotReaped, timeout)
	}
}

func (e *Engine) readStdout() {
	defer e.readers.Done()
	err := e.scan(e.stdout, func(line string) {
		if e.cfg.OnLine != nil {
			e.cfg.OnLine(line)
		}
	})
	e.terminate(streamClosed("stdout", err))
}

func (e *Engine) readStderr() {
	defer e.readers.Done()
	err := e.scan(e.stderr, func(line string) {
		e.logger.Info().Str("stderr", line).Msg("engine diagnostic")
		if e.cfg.OnDiagnostic != nil {
			e.cfg.OnDiagnostic(line)
		}
	})
	e.terminate(streamClosed("stderr", err))
}

func (e *Engine) scan(r io.Reader, fn func(string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		fn(scanner.Text())
	}
	return scanner.Err()
}

// wait uses Process.Wait rather than Cmd.Wait: a grandchild that inherited
// the pipes would otherwise hold Cmd.Wait open after the engine exits.
func (e *Engine) wait() {
	state, err := e.cmd.Process.Wait()
	if err == nil {
		err = fmt.Errorf("process exited: %s", state)
	}
	e.terminate(err)
	close(e.exited)

	drained := make(chan struct{})
	go func() {
		e.readers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(drainTimeout):
	}
	_ = e.stdout.Close()
	_ = e.stderr.Close()
}

func (e *Engine) terminate(cause error) {
	e.doneOnce.Do(func() {
		e.err = fmt.Errorf("%w: %w", ErrTerminated, cause)
		close(e.done)
		e.logger.Warn().Err(cause).Msg("engine terminated")
		if e.cfg.OnExit != nil {
			e.cfg.OnExit(e.err)
		}
	})
}

func streamClosed(name string, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return fmt.Errorf("%s closed", name)
}
