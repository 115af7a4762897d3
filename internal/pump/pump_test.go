package pump

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/otel/attribute"

	"github.com/acp-traces/acp-traces/internal/telemetry"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// noopEmitter is a telemetry.Emitter that records nothing; this package only
// tests forwarding fidelity, which the Span Manager's own tests don't cover.
type noopEmitter struct{}

func (noopEmitter) StartSpan(context.Context, string, telemetry.SpanKind, *telemetry.SpanHandle, time.Time, ...attribute.KeyValue) *telemetry.SpanHandle {
	return &telemetry.SpanHandle{}
}
func (noopEmitter) SetAttribute(*telemetry.SpanHandle, string, attribute.Value) {}
func (noopEmitter) RecordError(*telemetry.SpanHandle, string, string)          {}
func (noopEmitter) EndSpan(*telemetry.SpanHandle, time.Time)                   {}
func (noopEmitter) RecordHistogram(context.Context, string, float64, ...attribute.KeyValue) {}
func (noopEmitter) Shutdown(context.Context, time.Duration) error { return nil }

func TestByteExactForwarding(t *testing.T) {
	editorToAgentInput := "{\"jsonrpc\":\"2.0\",\"id\":1,\"method\":\"initialize\",\"params\":{}}\nnot json\n"
	agentToEditorInput := "{\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{}}\n"

	editorIn := bytes.NewBufferString(editorToAgentInput)
	var editorOut bytes.Buffer
	var agentIn bytes.Buffer
	agentOut := bytes.NewBufferString(agentToEditorInput)
	agentErr := bytes.NewBufferString("")
	var stderrSink bytes.Buffer

	manager := telemetry.NewManager(noopEmitter{}, false)
	p := New(editorIn, &editorOut, &agentIn, agentOut, agentErr, &stderrSink, manager, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	results := p.Run(ctx)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.NoError(t, r.Err)
	}

	assert.Equal(t, editorToAgentInput, agentIn.String())
	assert.Equal(t, agentToEditorInput, editorOut.String())
}
