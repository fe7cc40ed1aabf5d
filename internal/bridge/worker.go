package bridge

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/zjrosen/trezorbridge/internal/log"
	"github.com/zjrosen/trezorbridge/internal/wire"
)

// WorkerProcess owns the spawned worker: its exec.Cmd, the stdin pipe
// requests are written to, and the buffered stdout reader responses come
// back on. It is the production Transport. A WorkerProcess is exclusively
// owned by one Client; its pipes must never be touched from outside.
type WorkerProcess struct {
	id     string
	cmd    *exec.Cmd
	cancel context.CancelFunc

	stdin  io.WriteCloser
	stdout *bufio.Reader

	shutdownTimeout time.Duration

	// mu guards stdin writes and the closed flag. The protocol is one
	// outstanding request at a time; the lock enforces the single writer.
	mu     sync.Mutex
	closed bool

	// exited is closed by waitForExit once the process is gone.
	exited  chan struct{}
	exitErr error

	captureStderr bool
	stderrMu      sync.Mutex
	stderrLines   []string

	wg sync.WaitGroup
}

func newWorkerProcess(
	id string,
	cmd *exec.Cmd,
	cancel context.CancelFunc,
	stdin io.WriteCloser,
	stdout io.ReadCloser,
	stderr io.ReadCloser,
	shutdownTimeout time.Duration,
	captureStderr bool,
) *WorkerProcess {
	w := &WorkerProcess{
		id:              id,
		cmd:             cmd,
		cancel:          cancel,
		stdin:           stdin,
		stdout:          bufio.NewReader(stdout),
		shutdownTimeout: shutdownTimeout,
		exited:          make(chan struct{}),
		captureStderr:   captureStderr,
	}

	w.wg.Add(2)
	go w.drainStderr(stderr)
	go w.waitForExit()

	return w
}

// ID returns the worker's host-side identity used in logs and traces.
func (w *WorkerProcess) ID() string {
	return w.id
}

// PID returns the OS process ID, or -1 if not running.
func (w *WorkerProcess) PID() int {
	if w.cmd == nil || w.cmd.Process == nil {
		return -1
	}
	return w.cmd.Process.Pid
}

// Send implements Transport. It writes the request's single-line wire form
// to the worker's stdin. The pipe is unbuffered on the host side, so the
// write itself is the flush and a blocking worker observes it immediately.
func (w *WorkerProcess) Send(req wire.Request) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("%w: worker is closed", ErrIO)
	}

	line, err := wire.EncodeRequest(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}

	log.Debug(log.CatWire, "-> request",
		"worker", w.id, "id", req.ID, "command", req.Command)

	if _, err := w.stdin.Write(line); err != nil {
		return fmt.Errorf("%w: writing request %d: %v", ErrIO, req.ID, err)
	}
	return nil
}

// ReadLine implements Transport. It blocks until one full line arrives on
// the worker's stdout or the stream closes. A closed stream or an empty
// line is ErrCommunication; any other read failure is ErrIO.
func (w *WorkerProcess) ReadLine() ([]byte, error) {
	line, err := w.stdout.ReadBytes('\n')
	trimmed := bytes.TrimSpace(line)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
			if len(trimmed) > 0 {
				// Final line arrived without a terminator; still a
				// complete unit.
				return trimmed, nil
			}
			return nil, fmt.Errorf("%w: worker closed its output stream%s", ErrCommunication, w.exitSuffix())
		}
		return nil, fmt.Errorf("%w: reading response: %v", ErrIO, err)
	}
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty response line", ErrCommunication)
	}

	log.Debug(log.CatWire, "<- response", "worker", w.id, "bytes", len(trimmed))
	return trimmed, nil
}

// Close implements Transport. It closes the worker's stdin so the worker
// sees EOF, waits up to the shutdown timeout for a voluntary exit, then
// kills the process. Idempotent; never blocks indefinitely.
func (w *WorkerProcess) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	_ = w.stdin.Close()

	select {
	case <-w.exited:
	case <-time.After(w.shutdownTimeout):
		log.Warn(log.CatWorker, "Worker did not exit in time, killing",
			"worker", w.id, "timeout", w.shutdownTimeout)
		w.cancel()
		<-w.exited
	}

	w.cancel()
	w.wg.Wait()

	log.Debug(log.CatWorker, "Worker closed", "worker", w.id)
	return nil
}

// StderrLines returns captured stderr lines. Thread-safe.
func (w *WorkerProcess) StderrLines() []string {
	w.stderrMu.Lock()
	defer w.stderrMu.Unlock()
	result := make([]string, len(w.stderrLines))
	copy(result, w.stderrLines)
	return result
}

// drainStderr keeps the worker's diagnostic stream flowing into the logger.
// The stream is not part of the request/response protocol; draining it keeps
// worker-side crashes observable and prevents the worker from blocking on a
// full pipe.
func (w *WorkerProcess) drainStderr(stderr io.Reader) {
	defer w.wg.Done()

	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		log.Debug(log.CatWorker, "STDERR", "worker", w.id, "line", line)

		if w.captureStderr {
			w.stderrMu.Lock()
			w.stderrLines = append(w.stderrLines, line)
			w.stderrMu.Unlock()
		}
	}
	if err := scanner.Err(); err != nil {
		log.Debug(log.CatWorker, "stderr scanner error", "worker", w.id, "error", err)
	}
}

// waitForExit reaps the worker and records how it went.
func (w *WorkerProcess) waitForExit() {
	defer w.wg.Done()

	err := w.cmd.Wait()
	w.exitErr = err
	close(w.exited)

	if err != nil {
		log.Debug(log.CatWorker, "Worker exited", "worker", w.id, "error", err)
	} else {
		log.Debug(log.CatWorker, "Worker exited cleanly", "worker", w.id)
	}
}

// exitDetail describes the worker's exit for error messages, folding in
// captured stderr when available.
func (w *WorkerProcess) exitDetail() string {
	<-w.exited

	var exit string
	if w.exitErr != nil {
		exit = w.exitErr.Error()
	} else {
		exit = "exit status 0"
	}
	if stderr := strings.Join(w.StderrLines(), "\n"); stderr != "" {
		return joinNonEmpty(exit, "stderr: "+stderr)
	}
	return exit
}

// exitSuffix annotates stream-closed errors with the exit status when the
// worker is already gone.
func (w *WorkerProcess) exitSuffix() string {
	select {
	case <-w.exited:
		if w.exitErr != nil {
			return " (" + w.exitErr.Error() + ")"
		}
		return " (worker exited)"
	default:
		return ""
	}
}
