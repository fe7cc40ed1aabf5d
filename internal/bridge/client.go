// Package bridge connects the host to the external hardware-wallet worker.
//
// The worker owns the actual device protocol (USB transport, curves,
// hashing); this package owns the process boundary: spawning the worker,
// exchanging one JSON line per request and response over its standard
// streams, correlating responses to requests, and tearing the worker down
// deterministically when the client is closed.
//
// The model is single-threaded and strictly turn-taking: each call writes
// one request, then blocks for exactly one response. One Client owns one
// worker; multiple clients spawn independent workers.
package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zjrosen/trezorbridge/internal/log"
	"github.com/zjrosen/trezorbridge/internal/tracing"
	"github.com/zjrosen/trezorbridge/internal/wire"
)

// State is the client lifecycle state.
type State int

const (
	// StateUninitialized means no worker has been spawned yet.
	StateUninitialized State = iota
	// StateInitialized means the worker is running and the init handshake
	// succeeded.
	StateInitialized
	// StateClosed means the client has been closed. Terminal.
	StateClosed
)

// String returns a human-readable string representation of the state.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// TransportFactory creates the worker transport. Tests substitute an
// in-process stub; production uses the SpawnBuilder.
type TransportFactory func(ctx context.Context) (Transport, error)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithScriptDir sets the directory containing the worker script, replacing
// the default resolution relative to the host executable.
func WithScriptDir(dir string) Option {
	return func(c *Client) { c.scriptDir = dir }
}

// WithScript sets the worker script filename.
func WithScript(name string) Option {
	return func(c *Client) { c.script = name }
}

// WithRuntime sets the runtime binary and arguments used to launch the
// worker script.
func WithRuntime(bin string, args ...string) Option {
	return func(c *Client) {
		c.runtime = bin
		c.runtimeArgs = args
	}
}

// WithEnv sets additional environment variables for the worker.
func WithEnv(env []string) Option {
	return func(c *Client) { c.env = env }
}

// WithStartupDelay sets the settling time after the worker starts.
func WithStartupDelay(d time.Duration) Option {
	return func(c *Client) { c.startupDelay = d }
}

// WithShutdownTimeout bounds the graceful wait during Close.
func WithShutdownTimeout(d time.Duration) Option {
	return func(c *Client) { c.shutdownTimeout = d }
}

// WithStderrCapture enables stderr line capture for error messages.
func WithStderrCapture(capture bool) Option {
	return func(c *Client) { c.captureStderr = capture }
}

// WithCommandFactory sets a custom command factory for testing.
func WithCommandFactory(fn CommandFactoryFunc) Option {
	return func(c *Client) { c.commandFactory = fn }
}

// WithTransportFactory replaces process spawning entirely. Used by tests to
// run the facade against an in-process transport stub.
func WithTransportFactory(fn TransportFactory) Option {
	return func(c *Client) { c.transportFactory = fn }
}

// WithTracer sets the tracer for per-call spans. Defaults to a no-op.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Client) { c.tracer = tracer }
}

// Client is the public entry point to the worker. It composes the
// supervisor, request channel and response reader into typed operations and
// owns the worker for its lifetime.
type Client struct {
	id string

	scriptDir       string
	script          string
	runtime         string
	runtimeArgs     []string
	env             []string
	startupDelay    time.Duration
	shutdownTimeout time.Duration
	captureStderr   bool
	commandFactory  CommandFactoryFunc

	transportFactory TransportFactory
	tracer           trace.Tracer

	// mu serializes calls: the protocol allows one outstanding request at
	// a time, and state transitions must be atomic with the I/O they guard.
	mu        sync.Mutex
	state     State
	transport Transport
	nextID    uint64
}

// New constructs the facade without spawning a worker. Resource discovery
// happens here: when no script dir is injected, the host executable's
// directory is resolved, failing with ErrExecutableDirectory if it cannot
// be determined.
func New(opts ...Option) (*Client, error) {
	c := &Client{
		id:              uuid.NewString(),
		script:          DefaultScript,
		runtime:         DefaultRuntime,
		runtimeArgs:     DefaultRuntimeArgs(),
		startupDelay:    DefaultStartupDelay,
		shutdownTimeout: DefaultShutdownTimeout,
		tracer:          noop.NewTracerProvider().Tracer("bridge"),
		state:           StateUninitialized,
		nextID:          1,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.transportFactory == nil && c.scriptDir == "" {
		dir, err := executableDir()
		if err != nil {
			return nil, ErrExecutableDirectory
		}
		c.scriptDir = dir
	}

	log.Debug(log.CatBridge, "Client created", "client", c.id, "scriptDir", c.scriptDir)
	return c, nil
}

// ID returns the client's identity used in logs and traces.
func (c *Client) ID() string {
	return c.id
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Init spawns the worker and performs the init handshake. Valid only from
// StateUninitialized. On any failure the worker is torn down and the client
// stays Uninitialized; the returned error wraps ErrInitialization (or is
// ErrExecutableDirectory when the script could not be located).
func (c *Client) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateInitialized:
		return ErrAlreadyInitialized
	case StateClosed:
		return ErrClosed
	}

	t, err := c.spawnTransport(ctx)
	if err != nil {
		return err
	}
	c.transport = t

	req := c.nextRequest(wire.CmdInit, nil)
	_, span := tracing.StartCall(ctx, c.tracer, string(wire.CmdInit), c.id, req.ID)

	resp, err := roundTrip[struct{}](c, req)
	if err != nil {
		tracing.EndCall(span, false, err)
		c.teardownLocked()
		return fmt.Errorf("%w: init handshake: %w", ErrInitialization, err)
	}
	if !resp.Success {
		err := fmt.Errorf("%w: %s", ErrInitialization, envelopeFailure(resp.Error, resp.Message))
		tracing.EndCall(span, false, err)
		c.teardownLocked()
		return err
	}

	tracing.EndCall(span, true, nil)
	c.state = StateInitialized
	log.Info(log.CatBridge, "Client initialized", "client", c.id)
	return nil
}

// GetFeatures queries a fresh snapshot of the connected device.
// Valid only from StateInitialized.
func (c *Client) GetFeatures(ctx context.Context) (wire.Response[wire.DeviceFeatures], error) {
	return call[wire.DeviceFeatures](c, ctx, wire.CmdGetFeatures, nil)
}

// GetAddress derives the address at path for the given coin. When
// showOnDevice is true the device displays the address for confirmation.
// Valid only from StateInitialized.
func (c *Client) GetAddress(ctx context.Context, path, coin string, showOnDevice bool) (wire.Response[wire.AddressInfo], error) {
	return call[wire.AddressInfo](c, ctx, wire.CmdGetAddress, &wire.Args{
		Path:         path,
		Coin:         coin,
		ShowOnDevice: &showOnDevice,
	})
}

// GetPublicKey retrieves the extended public key at path for the given coin.
// Valid only from StateInitialized.
func (c *Client) GetPublicKey(ctx context.Context, path, coin string) (wire.Response[wire.PublicKeyInfo], error) {
	return call[wire.PublicKeyInfo](c, ctx, wire.CmdGetPublicKey, &wire.Args{
		Path: path,
		Coin: coin,
	})
}

// Close tears the worker down and transitions to StateClosed. A best-effort
// exit request is sent first so the worker can shut down voluntarily; the
// supervisor's bounded wait handles the rest. Idempotent: closing an
// already-closed client is a no-op and never spawns a worker.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return nil
	}

	if c.transport != nil {
		req := c.nextRequest(wire.CmdExit, nil)
		_ = c.transport.Send(req)
	}
	c.teardownLocked()
	c.state = StateClosed

	log.Info(log.CatBridge, "Client closed", "client", c.id)
	return nil
}

// spawnTransport creates the worker transport. Callers hold c.mu.
func (c *Client) spawnTransport(ctx context.Context) (Transport, error) {
	if c.transportFactory != nil {
		return c.transportFactory(ctx)
	}

	b := NewSpawnBuilder(ctx).
		WithScriptDir(c.scriptDir).
		WithScript(c.script).
		WithRuntime(c.runtime, c.runtimeArgs...).
		WithEnv(c.env).
		WithStartupDelay(c.startupDelay).
		WithShutdownTimeout(c.shutdownTimeout).
		WithStderrCapture(c.captureStderr)
	if c.commandFactory != nil {
		b = b.WithCommandFactory(c.commandFactory)
	}
	return b.Build()
}

// nextRequest builds a request with a fresh correlation id. Callers hold c.mu.
func (c *Client) nextRequest(cmd wire.Command, args *wire.Args) wire.Request {
	req := wire.Request{ID: c.nextID, Command: cmd, Args: args}
	c.nextID++
	return req
}

// teardownLocked closes the transport if present. Callers hold c.mu.
func (c *Client) teardownLocked() {
	if c.transport != nil {
		_ = c.transport.Close()
		c.transport = nil
	}
}

// call performs one correlated request/response exchange with state
// checking and tracing. It is generic over the payload type the command
// promises. An envelope with success=false is returned as data, not an
// error; only transport and protocol failures produce errors.
func call[T any](c *Client, ctx context.Context, cmd wire.Command, args *wire.Args) (wire.Response[T], error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero wire.Response[T]
	switch c.state {
	case StateUninitialized:
		return zero, ErrNotInitialized
	case StateClosed:
		return zero, ErrClosed
	}

	req := c.nextRequest(cmd, args)
	_, span := tracing.StartCall(ctx, c.tracer, string(cmd), c.id, req.ID)

	resp, err := roundTrip[T](c, req)
	if err != nil {
		tracing.EndCall(span, false, err)
		return zero, err
	}

	tracing.EndCall(span, resp.Success, nil)
	return resp, nil
}

// roundTrip writes one request and blocks for its response. Callers hold
// c.mu. The response envelope's correlation id must match the id just sent;
// a mismatch means a previous response was left unread or the worker lost
// sync, and is reported as ErrCommunication.
func roundTrip[T any](c *Client, req wire.Request) (wire.Response[T], error) {
	var zero wire.Response[T]

	if err := c.transport.Send(req); err != nil {
		return zero, err
	}

	line, err := c.transport.ReadLine()
	if err != nil {
		return zero, err
	}

	resp, err := wire.Decode[T](line)
	if err != nil {
		return zero, fmt.Errorf("%w: %v", ErrJSON, err)
	}

	if resp.ID != req.ID {
		return zero, fmt.Errorf("%w: correlation id mismatch: sent %d, got %d",
			ErrCommunication, req.ID, resp.ID)
	}

	return resp, nil
}

// envelopeFailure summarizes a success=false envelope for error detail.
func envelopeFailure(errMsg, msg string) string {
	if errMsg == "" && msg == "" {
		return "worker reported failure without detail"
	}
	return joinNonEmpty(errMsg, msg)
}
