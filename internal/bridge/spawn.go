package bridge

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zjrosen/trezorbridge/internal/log"
)

// Defaults for locating and launching the worker.
const (
	// DefaultScript is the worker script filename, resolved relative to
	// the host executable's directory unless a script dir is injected.
	DefaultScript = "trezor-worker.js"

	// DefaultRuntime is the runtime binary that executes the worker script.
	DefaultRuntime = "deno"

	// DefaultStartupDelay gives the worker time to load its native modules
	// and print its banner before the first request is sent.
	DefaultStartupDelay = 500 * time.Millisecond

	// DefaultShutdownTimeout bounds the graceful wait before the worker is
	// forcibly killed during Close.
	DefaultShutdownTimeout = 3 * time.Second
)

// DefaultRuntimeArgs are the runtime flags the worker script declares it
// needs: network and USB access, filesystem reads for its protocol
// definitions, and its native crypto/protobuf bindings.
func DefaultRuntimeArgs() []string {
	return []string{
		"run",
		"--allow-net",
		"--allow-read",
		"--allow-env",
		"--allow-ffi",
		"--allow-run",
		"--allow-sys",
		"--allow-write",
		"--allow-scripts=npm:blake-hash@2.0.0,npm:tiny-secp256k1@1.1.7,npm:protobufjs@7.4.0,npm:usb@2.15.0",
		"--node-modules-dir",
	}
}

// CommandFactoryFunc creates an exec.Cmd for testing purposes.
// It receives the context, executable path, and arguments.
type CommandFactoryFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// osExecutable is swapped in tests to exercise the resolution failure path.
var osExecutable = os.Executable

// executableDir resolves the directory holding the running host binary.
func executableDir() (string, error) {
	exe, err := osExecutable()
	if err != nil {
		return "", err
	}
	return filepath.Dir(exe), nil
}

// SpawnBuilder provides a fluent API for launching the worker process.
// It consolidates the spawn boilerplate (script resolution, pipe creation,
// process start, startup settling) behind option methods.
type SpawnBuilder struct {
	ctx             context.Context
	scriptDir       string
	script          string
	runtime         string
	runtimeArgs     []string
	env             []string
	startupDelay    time.Duration
	shutdownTimeout time.Duration
	captureStderr   bool
	commandFactory  CommandFactoryFunc
}

// NewSpawnBuilder creates a new SpawnBuilder with the given context.
// Cancelling the context kills the worker.
func NewSpawnBuilder(ctx context.Context) *SpawnBuilder {
	return &SpawnBuilder{
		ctx:             ctx,
		script:          DefaultScript,
		runtime:         DefaultRuntime,
		runtimeArgs:     DefaultRuntimeArgs(),
		startupDelay:    DefaultStartupDelay,
		shutdownTimeout: DefaultShutdownTimeout,
	}
}

// WithScriptDir sets the directory containing the worker script.
// When empty, the directory of the running executable is used.
func (b *SpawnBuilder) WithScriptDir(dir string) *SpawnBuilder {
	b.scriptDir = dir
	return b
}

// WithScript sets the worker script filename.
func (b *SpawnBuilder) WithScript(name string) *SpawnBuilder {
	b.script = name
	return b
}

// WithRuntime sets the runtime binary and its arguments. The script path is
// appended after args when the command is built.
func (b *SpawnBuilder) WithRuntime(bin string, args ...string) *SpawnBuilder {
	b.runtime = bin
	b.runtimeArgs = args
	return b
}

// WithEnv sets additional environment variables to append to os.Environ().
// Variables are in the format "KEY=VALUE".
func (b *SpawnBuilder) WithEnv(env []string) *SpawnBuilder {
	b.env = env
	return b
}

// WithStartupDelay sets the settling time after the process starts and
// before the spawn is considered successful.
func (b *SpawnBuilder) WithStartupDelay(d time.Duration) *SpawnBuilder {
	b.startupDelay = d
	return b
}

// WithShutdownTimeout bounds the graceful wait during Close.
func (b *SpawnBuilder) WithShutdownTimeout(d time.Duration) *SpawnBuilder {
	b.shutdownTimeout = d
	return b
}

// WithStderrCapture enables stderr line capture for error messages.
func (b *SpawnBuilder) WithStderrCapture(capture bool) *SpawnBuilder {
	b.captureStderr = capture
	return b
}

// WithCommandFactory sets a custom command factory for testing.
// This allows unit tests to mock exec.Command without spawning the runtime.
func (b *SpawnBuilder) WithCommandFactory(fn CommandFactoryFunc) *SpawnBuilder {
	b.commandFactory = fn
	return b
}

// Build resolves the worker script, launches the worker with its stdin and
// stdout piped and stderr drained to the logger, and waits out the startup
// delay. Returns the running WorkerProcess or a taxonomy error:
// ErrExecutableDirectory when the host binary's directory cannot be
// determined, ErrInitialization for everything else that prevents a usable
// worker (missing script, missing runtime, immediate exit).
//
// On error, all created resources are cleaned up.
func (b *SpawnBuilder) Build() (*WorkerProcess, error) {
	dir := b.scriptDir
	if dir == "" {
		var err error
		dir, err = executableDir()
		if err != nil {
			return nil, ErrExecutableDirectory
		}
	}

	scriptPath := filepath.Join(dir, b.script)
	if _, err := os.Stat(scriptPath); err != nil {
		return nil, fmt.Errorf("%w: worker script not found at %s", ErrInitialization, scriptPath)
	}

	procCtx, cancel := context.WithCancel(b.ctx)

	var cmd *exec.Cmd
	args := append(append([]string{}, b.runtimeArgs...), scriptPath)
	if b.commandFactory != nil {
		cmd = b.commandFactory(procCtx, b.runtime, args...)
	} else {
		// #nosec G204 -- runtime and args come from config, not user input
		cmd = exec.CommandContext(procCtx, b.runtime, args...)
	}
	cmd.Dir = dir

	if len(b.env) > 0 {
		cmd.Env = append(os.Environ(), b.env...)
	}

	var stdin io.WriteCloser
	var stdout, stderr io.ReadCloser

	cleanup := func() {
		cancel()
		if stdin != nil {
			_ = stdin.Close()
		}
		if stdout != nil {
			_ = stdout.Close()
		}
		if stderr != nil {
			_ = stderr.Close()
		}
	}

	var err error
	if stdin, err = cmd.StdinPipe(); err != nil {
		cleanup()
		return nil, fmt.Errorf("%w: creating stdin pipe: %v", ErrInitialization, err)
	}
	if stdout, err = cmd.StdoutPipe(); err != nil {
		cleanup()
		return nil, fmt.Errorf("%w: creating stdout pipe: %v", ErrInitialization, err)
	}
	if stderr, err = cmd.StderrPipe(); err != nil {
		cleanup()
		return nil, fmt.Errorf("%w: creating stderr pipe: %v", ErrInitialization, err)
	}

	log.Debug(log.CatWorker, "Spawning worker",
		"runtime", b.runtime,
		"script", scriptPath)

	if err := cmd.Start(); err != nil {
		cleanup()
		return nil, fmt.Errorf("%w: starting worker: %v", ErrInitialization, err)
	}

	w := newWorkerProcess(uuid.NewString(), cmd, cancel, stdin, stdout, stderr,
		b.shutdownTimeout, b.captureStderr)

	log.Debug(log.CatWorker, "Worker started",
		"worker", w.id,
		"pid", cmd.Process.Pid)

	// The worker needs a moment to load native modules before it starts
	// reading stdin. An exit during the delay is a failed spawn, not a
	// protocol error.
	if b.startupDelay > 0 {
		select {
		case <-w.exited:
			detail := w.exitDetail()
			_ = w.Close()
			return nil, fmt.Errorf("%w: worker exited during startup: %s", ErrInitialization, detail)
		case <-time.After(b.startupDelay):
		}
	}

	return w, nil
}

// joinNonEmpty joins non-empty parts with "; " for error detail strings.
func joinNonEmpty(parts ...string) string {
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "; ")
}
