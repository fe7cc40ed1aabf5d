package tracing

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestNewFileExporter_CreatesFile(t *testing.T) {
	tmpDir := t.TempDir()
	tracePath := filepath.Join(tmpDir, "traces.jsonl")

	exporter, err := NewFileExporter(tracePath)
	require.NoError(t, err)
	require.NotNil(t, exporter)

	_, err = os.Stat(tracePath)
	require.NoError(t, err, "trace file should be created")

	require.NoError(t, exporter.Shutdown(context.Background()))
}

func TestNewFileExporter_CreatesParentDirectories(t *testing.T) {
	tmpDir := t.TempDir()
	tracePath := filepath.Join(tmpDir, "nested", "dir", "traces.jsonl")

	exporter, err := NewFileExporter(tracePath)
	require.NoError(t, err)

	_, err = os.Stat(tracePath)
	require.NoError(t, err, "trace file should be created with parent dirs")

	require.NoError(t, exporter.Shutdown(context.Background()))
}

func TestNewFileExporter_AppendsToExistingFile(t *testing.T) {
	tmpDir := t.TempDir()
	tracePath := filepath.Join(tmpDir, "traces.jsonl")

	err := os.WriteFile(tracePath, []byte(`{"existing": "data"}`+"\n"), 0644)
	require.NoError(t, err)

	exporter, err := NewFileExporter(tracePath)
	require.NoError(t, err)

	stub := tracetest.SpanStub{
		Name:      "bridge.call.getFeatures",
		StartTime: time.Now(),
		EndTime:   time.Now().Add(100 * time.Millisecond),
	}
	err = exporter.ExportSpans(context.Background(), []sdktrace.ReadOnlySpan{stub.Snapshot()})
	require.NoError(t, err)

	require.NoError(t, exporter.Shutdown(context.Background()))

	content, err := os.ReadFile(tracePath)
	require.NoError(t, err)

	file, err := os.Open(tracePath)
	require.NoError(t, err)
	defer file.Close()

	lines := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines++
	}
	require.Equal(t, 2, lines, "file should have original line plus new span")
	require.Contains(t, string(content), `{"existing": "data"}`)
}

func TestFileExporter_WritesValidJSONL(t *testing.T) {
	tmpDir := t.TempDir()
	tracePath := filepath.Join(tmpDir, "traces.jsonl")

	exporter, err := NewFileExporter(tracePath)
	require.NoError(t, err)

	stub := tracetest.SpanStub{
		Name:      "bridge.call.getAddress",
		SpanKind:  trace.SpanKindClient,
		StartTime: time.Now(),
		EndTime:   time.Now().Add(100 * time.Millisecond),
		Status: sdktrace.Status{
			Code:        codes.Ok,
			Description: "",
		},
		Attributes: []attribute.KeyValue{
			attribute.String(AttrClientID, "client-123"),
			attribute.String(AttrCommand, "getAddress"),
			attribute.Int64(AttrRequestID, 2),
		},
	}

	err = exporter.ExportSpans(context.Background(), []sdktrace.ReadOnlySpan{stub.Snapshot()})
	require.NoError(t, err)

	require.NoError(t, exporter.Shutdown(context.Background()))

	file, err := os.Open(tracePath)
	require.NoError(t, err)
	defer file.Close()

	var record SpanRecord
	err = json.NewDecoder(file).Decode(&record)
	require.NoError(t, err, "should be valid JSON")

	require.Equal(t, "bridge.call.getAddress", record.Name)
	require.Equal(t, "CLIENT", record.Kind)
	require.Equal(t, "OK", record.Status)
	require.NotEmpty(t, record.StartTime)
	require.NotEmpty(t, record.EndTime)
	require.True(t, record.DurationMs > 0, "duration should be positive")

	require.Equal(t, "client-123", record.Attributes[AttrClientID])
	require.Equal(t, "getAddress", record.Attributes[AttrCommand])
	require.EqualValues(t, 2, record.Attributes[AttrRequestID])
}

func TestFileExporter_ThreadSafe(t *testing.T) {
	tmpDir := t.TempDir()
	tracePath := filepath.Join(tmpDir, "traces.jsonl")

	exporter, err := NewFileExporter(tracePath)
	require.NoError(t, err)

	var wg sync.WaitGroup
	numGoroutines := 10
	spansPerGoroutine := 100

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for j := 0; j < spansPerGoroutine; j++ {
				stub := tracetest.SpanStub{
					Name:      "concurrent-span",
					StartTime: time.Now(),
					EndTime:   time.Now().Add(time.Millisecond),
					Attributes: []attribute.KeyValue{
						attribute.Int("worker", workerID),
						attribute.Int("iteration", j),
					},
				}
				err := exporter.ExportSpans(context.Background(), []sdktrace.ReadOnlySpan{stub.Snapshot()})
				require.NoError(t, err)
			}
		}(i)
	}

	wg.Wait()
	require.NoError(t, exporter.Shutdown(context.Background()))

	file, err := os.Open(tracePath)
	require.NoError(t, err)
	defer file.Close()

	var count int
	decoder := json.NewDecoder(file)
	for {
		var record SpanRecord
		if err := decoder.Decode(&record); err != nil {
			break
		}
		count++
		require.NotEmpty(t, record.Name)
	}
	require.Equal(t, numGoroutines*spansPerGoroutine, count, "all spans should be written")
}

func TestFileExporter_Shutdown_Idempotent(t *testing.T) {
	tmpDir := t.TempDir()
	tracePath := filepath.Join(tmpDir, "traces.jsonl")

	exporter, err := NewFileExporter(tracePath)
	require.NoError(t, err)

	require.NoError(t, exporter.Shutdown(context.Background()))
	require.NoError(t, exporter.Shutdown(context.Background()))
}

func TestFileExporter_ExportEmptySpans(t *testing.T) {
	tmpDir := t.TempDir()
	tracePath := filepath.Join(tmpDir, "traces.jsonl")

	exporter, err := NewFileExporter(tracePath)
	require.NoError(t, err)

	err = exporter.ExportSpans(context.Background(), []sdktrace.ReadOnlySpan{})
	require.NoError(t, err)

	require.NoError(t, exporter.Shutdown(context.Background()))

	info, err := os.Stat(tracePath)
	require.NoError(t, err)
	require.Zero(t, info.Size(), "file should be empty after exporting no spans")
}

func TestSpanKindToString(t *testing.T) {
	tests := []struct {
		kind     trace.SpanKind
		expected string
	}{
		{trace.SpanKindInternal, "INTERNAL"},
		{trace.SpanKindServer, "SERVER"},
		{trace.SpanKindClient, "CLIENT"},
		{trace.SpanKindProducer, "PRODUCER"},
		{trace.SpanKindConsumer, "CONSUMER"},
		{trace.SpanKindUnspecified, "UNSPECIFIED"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			require.Equal(t, tt.expected, spanKindToString(tt.kind))
		})
	}
}

func TestSpanRecord_ErrorStatus(t *testing.T) {
	tmpDir := t.TempDir()
	tracePath := filepath.Join(tmpDir, "traces.jsonl")

	exporter, err := NewFileExporter(tracePath)
	require.NoError(t, err)

	stub := tracetest.SpanStub{
		Name:      "bridge.call.init",
		StartTime: time.Now(),
		EndTime:   time.Now().Add(100 * time.Millisecond),
		Status: sdktrace.Status{
			Code:        codes.Error,
			Description: "worker closed its output stream",
		},
	}

	err = exporter.ExportSpans(context.Background(), []sdktrace.ReadOnlySpan{stub.Snapshot()})
	require.NoError(t, err)

	require.NoError(t, exporter.Shutdown(context.Background()))

	file, err := os.Open(tracePath)
	require.NoError(t, err)
	defer file.Close()

	var record SpanRecord
	require.NoError(t, json.NewDecoder(file).Decode(&record))

	require.Equal(t, "ERROR", record.Status)
	require.Equal(t, "worker closed its output stream", record.StatusMsg)
}
