package bridge

import "github.com/zjrosen/trezorbridge/internal/wire"

// Transport abstracts the worker connection: write one request, read one
// response line, tear down. The production implementation is WorkerProcess;
// tests substitute an in-process stub so the facade is exercised without a
// real subprocess.
//
// The protocol is strictly one outstanding request at a time. Implementations
// do not multiplex; callers must not interleave Send and ReadLine across
// goroutines.
type Transport interface {
	// Send serializes req to its single-line wire form and writes it to the
	// worker's input, flushing synchronously so a blocking worker observes
	// it immediately. Fails with ErrIO on any write failure.
	Send(req wire.Request) error

	// ReadLine blocks until one full line is available from the worker's
	// output, or the stream closes. An empty read (stream closed, worker
	// exited) is reported as ErrCommunication; read failures as ErrIO.
	// The returned bytes are the raw line without the terminator.
	ReadLine() ([]byte, error)

	// Close tears the worker down. Idempotent.
	Close() error
}
