package shutdown

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/otel/attribute"

	"github.com/acp-traces/acp-traces/internal/acp"
	"github.com/acp-traces/acp-traces/internal/pump"
	"github.com/acp-traces/acp-traces/internal/telemetry"
)

type recordingEmitter struct {
	ended        map[*telemetry.SpanHandle]bool
	errTypes     map[*telemetry.SpanHandle]string
	shutdownCall bool
}

func newRecordingEmitter() *recordingEmitter {
	return &recordingEmitter{ended: map[*telemetry.SpanHandle]bool{}, errTypes: map[*telemetry.SpanHandle]string{}}
}

func (e *recordingEmitter) StartSpan(context.Context, string, telemetry.SpanKind, *telemetry.SpanHandle, time.Time, ...attribute.KeyValue) *telemetry.SpanHandle {
	return &telemetry.SpanHandle{}
}
func (e *recordingEmitter) SetAttribute(*telemetry.SpanHandle, string, attribute.Value) {}
func (e *recordingEmitter) RecordError(h *telemetry.SpanHandle, errType, _ string) {
	e.errTypes[h] = errType
}
func (e *recordingEmitter) EndSpan(h *telemetry.SpanHandle, _ time.Time) { e.ended[h] = true }
func (e *recordingEmitter) RecordHistogram(context.Context, string, float64, ...attribute.KeyValue) {
}
func (e *recordingEmitter) Shutdown(context.Context, time.Duration) error {
	e.shutdownCall = true
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFinishDrainsAbandonedSpansAndFlushes(t *testing.T) {
	emitter := newRecordingEmitter()
	manager := telemetry.NewManager(emitter, false)

	msg := acp.Classify([]byte(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"clientInfo":{"name":"zed","version":"0.1"}}}`))
	manager.Dispatch(context.Background(), msg, telemetry.DirEditorToAgent, time.Now())

	require.Len(t, emitter.ended, 0)

	coord := New(manager, discardLogger(), time.Second)
	outcome := coord.Finish(context.Background(), []pump.Result{{Direction: pump.EditorToAgent}, {Direction: pump.AgentToEditor}}, 0, nil)

	assert.Equal(t, 0, outcome.ExitCode)
	assert.False(t, outcome.Fatal)
	assert.True(t, emitter.shutdownCall)
	assert.Len(t, emitter.ended, 1)
	for _, errType := range emitter.errTypes {
		assert.Equal(t, "abandoned", errType)
	}
}

func TestFinishPropagatesFatalForwardingError(t *testing.T) {
	emitter := newRecordingEmitter()
	manager := telemetry.NewManager(emitter, false)
	coord := New(manager, discardLogger(), time.Second)

	outcome := coord.Finish(context.Background(), []pump.Result{
		{Direction: pump.EditorToAgent, Err: errWrite},
	}, 0, nil)

	assert.True(t, outcome.Fatal)
	assert.Equal(t, 1, outcome.ExitCode)
}

func TestFinishPropagatesChildExitCode(t *testing.T) {
	emitter := newRecordingEmitter()
	manager := telemetry.NewManager(emitter, false)
	coord := New(manager, discardLogger(), time.Second)

	outcome := coord.Finish(context.Background(), nil, 7, nil)
	assert.Equal(t, 7, outcome.ExitCode)
	assert.False(t, outcome.Fatal)
}

var errWrite = errors.New("write: broken pipe")
