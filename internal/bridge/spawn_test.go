package bridge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// writeWorkerScript drops a shell stub standing in for the real worker. The
// runtime under test becomes /bin/sh, so the contract exercised here is the
// same one the production runtime sees: JSON lines on stdin, JSON lines on
// stdout.
func writeWorkerScript(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultScript)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o700))
	return dir
}

// shWorker builds a SpawnBuilder aimed at a shell stub with test-friendly
// timing.
func shWorker(t *testing.T, ctx context.Context, body string) *SpawnBuilder {
	t.Helper()
	return NewSpawnBuilder(ctx).
		WithScriptDir(writeWorkerScript(t, body)).
		WithRuntime("/bin/sh").
		WithStartupDelay(10 * time.Millisecond).
		WithShutdownTimeout(2 * time.Second)
}

// TestSpawnBuilder_MissingScript_ReturnsInitializationError verifies the
// script is resolved before anything is launched.
func TestSpawnBuilder_MissingScript_ReturnsInitializationError(t *testing.T) {
	_, err := NewSpawnBuilder(context.Background()).
		WithScriptDir(t.TempDir()).
		Build()

	require.ErrorIs(t, err, ErrInitialization)
	require.Contains(t, err.Error(), "worker script not found")
}

// TestSpawnBuilder_MissingRuntime_ReturnsInitializationError verifies a
// launch failure maps to the initialization error, not a raw exec error.
func TestSpawnBuilder_MissingRuntime_ReturnsInitializationError(t *testing.T) {
	dir := writeWorkerScript(t, "cat\n")

	_, err := NewSpawnBuilder(context.Background()).
		WithScriptDir(dir).
		WithRuntime("/nonexistent/runtime-binary").
		Build()

	require.ErrorIs(t, err, ErrInitialization)
}

// TestSpawnBuilder_WorkerExitsDuringStartup_ReturnsInitializationError
// verifies that a worker dying inside the settling window is a failed spawn
// carrying the exit status.
func TestSpawnBuilder_WorkerExitsDuringStartup_ReturnsInitializationError(t *testing.T) {
	w, err := NewSpawnBuilder(context.Background()).
		WithScriptDir(writeWorkerScript(t, "exit 7\n")).
		WithRuntime("/bin/sh").
		WithStartupDelay(500 * time.Millisecond).
		WithShutdownTimeout(time.Second).
		Build()

	require.Nil(t, w)
	require.ErrorIs(t, err, ErrInitialization)
	require.Contains(t, err.Error(), "exited during startup")
	require.Contains(t, err.Error(), "exit status 7")
}

// TestSpawnBuilder_Success_WorkerIdentity verifies a healthy spawn exposes
// the worker's identity and pid.
func TestSpawnBuilder_Success_WorkerIdentity(t *testing.T) {
	w, err := shWorker(t, context.Background(), "cat\n").Build()
	require.NoError(t, err)
	defer func() { require.NoError(t, w.Close()) }()

	require.NotEmpty(t, w.ID())
	require.Greater(t, w.PID(), 0)
}

// TestExecutableDirectory_ResolutionFailure verifies the dedicated error for
// an unresolvable host executable directory, with no detail attached.
func TestExecutableDirectory_ResolutionFailure(t *testing.T) {
	orig := osExecutable
	osExecutable = func() (string, error) {
		return "", errors.New("procfs unavailable")
	}
	defer func() { osExecutable = orig }()

	_, err := New()
	require.ErrorIs(t, err, ErrExecutableDirectory)
	require.Equal(t, ErrExecutableDirectory.Error(), err.Error())
}

// TestClient_EndToEnd_ShellWorker runs the full lifecycle against a canned
// shell worker: init handshake, one address call, close.
func TestClient_EndToEnd_ShellWorker(t *testing.T) {
	body := `read line
echo '{"id":1,"success":true}'
read line
echo '{"id":2,"success":true,"payload":{"path":[2147483692,2147483648,2147483648,0,0],"address":"1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"}}'
read line
exit 0
`
	c, err := New(
		WithScriptDir(writeWorkerScript(t, body)),
		WithRuntime("/bin/sh"),
		WithStartupDelay(10*time.Millisecond),
		WithShutdownTimeout(2*time.Second),
	)
	require.NoError(t, err)

	require.NoError(t, c.Init(context.Background()))

	resp, err := c.GetAddress(context.Background(), "m/44'/0'/0'/0/0", "bitcoin", false)
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.NotNil(t, resp.Payload)
	require.Equal(t, "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa", resp.Payload.Address)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}

// TestClient_ShellWorker_GarbageLine verifies a non-JSON line from the
// worker surfaces as a decode error on the affected call.
func TestClient_ShellWorker_GarbageLine(t *testing.T) {
	body := `read line
echo '{"id":1,"success":true}'
read line
echo 'TypeError: usb is undefined'
cat > /dev/null
`
	c := newShellClient(t, body)
	require.NoError(t, c.Init(context.Background()))

	_, err := c.GetFeatures(context.Background())
	require.ErrorIs(t, err, ErrJSON)
}

// TestClient_ShellWorker_StaleResponse verifies a response correlated to an
// old request is rejected.
func TestClient_ShellWorker_StaleResponse(t *testing.T) {
	body := `read line
echo '{"id":1,"success":true}'
read line
echo '{"id":99,"success":true}'
cat > /dev/null
`
	c := newShellClient(t, body)
	require.NoError(t, c.Init(context.Background()))

	_, err := c.GetFeatures(context.Background())
	require.ErrorIs(t, err, ErrCommunication)
	require.Contains(t, err.Error(), "correlation id mismatch")
}

// TestClient_ShellWorker_DiesMidCall verifies a worker that exits between
// request and response fails the call with a stream error, and the client
// does not respawn.
func TestClient_ShellWorker_DiesMidCall(t *testing.T) {
	body := `read line
echo '{"id":1,"success":true}'
read line
exit 1
`
	c := newShellClient(t, body)
	require.NoError(t, c.Init(context.Background()))

	_, err := c.GetFeatures(context.Background())
	require.ErrorIs(t, err, ErrCommunication)

	// Still initialized, still broken: the next call fails too instead of
	// silently restarting the worker.
	_, err = c.GetFeatures(context.Background())
	require.Error(t, err)
	require.NoError(t, c.Close())
}

// newShellClient wires a client to a shell stub worker with fast timing.
func newShellClient(t *testing.T, body string) *Client {
	t.Helper()
	c, err := New(
		WithScriptDir(writeWorkerScript(t, body)),
		WithRuntime("/bin/sh"),
		WithStartupDelay(10*time.Millisecond),
		WithShutdownTimeout(2*time.Second),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}
