package bridge

import "errors"

// The bridge maps every failure path onto a closed set of sentinel errors.
// Callers classify with errors.Is; the wrapped detail string carries the
// underlying cause. Application-level failure reported inside a well-formed
// envelope (success=false) is NOT an error here - it is returned as data.
var (
	// ErrInitialization is returned when the worker failed to start or
	// failed its first handshake.
	ErrInitialization = errors.New("worker initialization failed")

	// ErrIO is returned for any failure writing to or reading from the
	// worker's pipes after a successful spawn, including broken pipes.
	ErrIO = errors.New("worker i/o failed")

	// ErrExecutableDirectory is returned when the host executable's own
	// location could not be resolved, so the worker script could not be
	// located. It carries no further detail.
	ErrExecutableDirectory = errors.New("executable directory could not be determined")

	// ErrCommunication is returned for protocol-level violations: the
	// stream closed unexpectedly, a correlation-id mismatch, or other
	// transport-adjacent inconsistency not classified as raw I/O.
	ErrCommunication = errors.New("worker communication failed")

	// ErrJSON is returned when a response line could not be decoded into
	// the expected envelope shape.
	ErrJSON = errors.New("worker response is not valid JSON")
)

// Client state errors. These are rejected before any I/O is attempted.
var (
	// ErrNotInitialized is returned when an operation requires a running
	// worker but Init has not succeeded.
	ErrNotInitialized = errors.New("client is not initialized")

	// ErrAlreadyInitialized is returned when Init is called twice.
	ErrAlreadyInitialized = errors.New("client is already initialized")

	// ErrClosed is returned when an operation is attempted on a closed client.
	ErrClosed = errors.New("client is closed")
)
