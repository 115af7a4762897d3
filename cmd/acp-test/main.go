// Command acp-test is a smoke-test harness for the interceptor engine: it
// feeds one of the literal scenario transcripts used to validate the
// testable properties through the real Classifier and Span Manager, using a
// printing Emitter in place of a real OTLP exporter, and prints the
// resulting span tree so a developer can eyeball the mapping without a
// collector running.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/acp-traces/acp-traces/internal/acp"
	"github.com/acp-traces/acp-traces/internal/telemetry"
)

// frame is one line of a canned transcript: which direction it travels and
// the raw JSON-RPC text.
type frame struct {
	dir telemetry.Direction
	raw string
}

var scenarios = map[string][]frame{
	"clean-turn": {
		{telemetry.DirEditorToAgent, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"clientInfo":{"name":"zed","version":"0.1"}}}`},
		{telemetry.DirAgentToEditor, `{"jsonrpc":"2.0","id":1,"result":{"agentInfo":{"name":"kiro","version":"9"},"protocolVersion":1}}`},
		{telemetry.DirEditorToAgent, `{"jsonrpc":"2.0","id":2,"method":"session/new","params":{}}`},
		{telemetry.DirAgentToEditor, `{"jsonrpc":"2.0","id":2,"result":{"sessionId":"S1"}}`},
		{telemetry.DirEditorToAgent, `{"jsonrpc":"2.0","id":3,"method":"session/prompt","params":{"sessionId":"S1","prompt":[{"type":"text","text":"hi"}]}}`},
		{telemetry.DirAgentToEditor, `{"jsonrpc":"2.0","method":"session/update","params":{"sessionId":"S1","update":{"sessionUpdate":"agent_message_chunk","content":{"text":"hello"}}}}`},
		{telemetry.DirAgentToEditor, `{"jsonrpc":"2.0","id":3,"result":{"stopReason":"end_turn"}}`},
	},
	"tool-call-roundtrip": {
		{telemetry.DirEditorToAgent, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"clientInfo":{"name":"zed","version":"0.1"}}}`},
		{telemetry.DirAgentToEditor, `{"jsonrpc":"2.0","id":1,"result":{"agentInfo":{"name":"kiro","version":"9"},"protocolVersion":1}}`},
		{telemetry.DirEditorToAgent, `{"jsonrpc":"2.0","id":2,"method":"session/new","params":{}}`},
		{telemetry.DirAgentToEditor, `{"jsonrpc":"2.0","id":2,"result":{"sessionId":"S1"}}`},
		{telemetry.DirEditorToAgent, `{"jsonrpc":"2.0","id":3,"method":"session/prompt","params":{"sessionId":"S1","prompt":[{"type":"text","text":"hi"}]}}`},
		{telemetry.DirAgentToEditor, `{"jsonrpc":"2.0","method":"session/update","params":{"sessionId":"S1","update":{"sessionUpdate":"tool_call","toolCallId":"T1","title":"Read file","kind":"read"}}}`},
		{telemetry.DirAgentToEditor, `{"jsonrpc":"2.0","method":"session/update","params":{"sessionId":"S1","update":{"sessionUpdate":"tool_call_update","toolCallId":"T1","status":"completed"}}}`},
		{telemetry.DirAgentToEditor, `{"jsonrpc":"2.0","id":3,"result":{"stopReason":"end_turn"}}`},
	},
	"client-side-fs-request": {
		{telemetry.DirEditorToAgent, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"clientInfo":{"name":"zed","version":"0.1"}}}`},
		{telemetry.DirAgentToEditor, `{"jsonrpc":"2.0","id":1,"result":{"agentInfo":{"name":"kiro","version":"9"},"protocolVersion":1}}`},
		{telemetry.DirEditorToAgent, `{"jsonrpc":"2.0","id":2,"method":"session/new","params":{}}`},
		{telemetry.DirAgentToEditor, `{"jsonrpc":"2.0","id":2,"result":{"sessionId":"S1"}}`},
		{telemetry.DirEditorToAgent, `{"jsonrpc":"2.0","id":3,"method":"session/prompt","params":{"sessionId":"S1","prompt":[{"type":"text","text":"hi"}]}}`},
		{telemetry.DirAgentToEditor, `{"jsonrpc":"2.0","id":100,"method":"fs/read_text_file","params":{"sessionId":"S1","path":"/x"}}`},
		{telemetry.DirEditorToAgent, `{"jsonrpc":"2.0","id":100,"result":{"content":"..."}}`},
	},
	"error-response": {
		{telemetry.DirEditorToAgent, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"clientInfo":{"name":"zed","version":"0.1"}}}`},
		{telemetry.DirAgentToEditor, `{"jsonrpc":"2.0","id":1,"result":{"agentInfo":{"name":"kiro","version":"9"},"protocolVersion":1}}`},
		{telemetry.DirEditorToAgent, `{"jsonrpc":"2.0","id":2,"method":"session/new","params":{}}`},
		{telemetry.DirAgentToEditor, `{"jsonrpc":"2.0","id":2,"result":{"sessionId":"S1"}}`},
		{telemetry.DirEditorToAgent, `{"jsonrpc":"2.0","id":3,"method":"session/prompt","params":{"sessionId":"S1","prompt":[{"type":"text","text":"hi"}]}}`},
		{telemetry.DirAgentToEditor, `{"jsonrpc":"2.0","id":3,"error":{"code":-32000,"message":"boom"}}`},
	},
	"malformed-frame": {
		{telemetry.DirEditorToAgent, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"clientInfo":{"name":"zed","version":"0.1"}}}`},
		{telemetry.DirAgentToEditor, `not json`},
		{telemetry.DirAgentToEditor, `{"jsonrpc":"2.0","id":1,"result":{"agentInfo":{"name":"kiro","version":"9"},"protocolVersion":1}}`},
	},
}

func main() {
	name := flag.String("scenario", "clean-turn", "Scenario to replay: clean-turn, tool-call-roundtrip, client-side-fs-request, error-response, malformed-frame")
	recordContent := flag.Bool("record-content", false, "Enable opt-in content attributes")
	flag.Parse()

	frames, ok := scenarios[*name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown scenario %q\n", *name)
		fmt.Fprintln(os.Stderr, "available scenarios:")
		for n := range scenarios {
			fmt.Fprintln(os.Stderr, " -", n)
		}
		os.Exit(2)
	}

	emitter := newPrintingEmitter()
	manager := telemetry.NewManager(emitter, *recordContent)

	start := time.Now()
	for i, f := range frames {
		msg := acp.Classify([]byte(f.raw))
		at := start.Add(time.Duration(i) * time.Millisecond)
		fmt.Printf("--> [%s] %s\n", directionLabel(f.dir), f.raw)
		manager.Dispatch(context.Background(), msg, f.dir, at)
	}

	fmt.Println()
	fmt.Println("span tree:")
	emitter.printTree()

	fmt.Println()
	fmt.Println("histogram observations:")
	emitter.printHistograms()
}

func directionLabel(d telemetry.Direction) string {
	if d == telemetry.DirEditorToAgent {
		return "editor->agent"
	}
	return "agent->editor"
}

// printedSpan is the side-table entry kept per SpanHandle: the SDK span
// itself is opaque from outside the telemetry package, so the printing
// emitter tracks everything it needs to render a tree on its own.
type printedSpan struct {
	name       string
	parent     *telemetry.SpanHandle
	attrs      map[string]attribute.Value
	errType    string
	errMessage string
	ended      bool
	start, end time.Time
}

type histObservation struct {
	name  string
	value float64
	attrs []attribute.KeyValue
}

// printingEmitter implements telemetry.Emitter by recording every call
// against an opaque *telemetry.SpanHandle key, so it can render the
// resulting span tree after a scenario replay finishes.
type printingEmitter struct {
	spans        map[*telemetry.SpanHandle]*printedSpan
	order        []*telemetry.SpanHandle
	observations []histObservation
}

func newPrintingEmitter() *printingEmitter {
	return &printingEmitter{spans: map[*telemetry.SpanHandle]*printedSpan{}}
}

func (e *printingEmitter) StartSpan(_ context.Context, name string, _ telemetry.SpanKind, parent *telemetry.SpanHandle, start time.Time, attrs ...attribute.KeyValue) *telemetry.SpanHandle {
	h := &telemetry.SpanHandle{}
	ps := &printedSpan{name: name, parent: parent, attrs: map[string]attribute.Value{}, start: start}
	for _, kv := range attrs {
		ps.attrs[string(kv.Key)] = kv.Value
	}
	e.spans[h] = ps
	e.order = append(e.order, h)
	return h
}

func (e *printingEmitter) SetAttribute(h *telemetry.SpanHandle, key string, value attribute.Value) {
	if ps, ok := e.spans[h]; ok {
		ps.attrs[key] = value
	}
}

func (e *printingEmitter) RecordError(h *telemetry.SpanHandle, errType, message string) {
	if ps, ok := e.spans[h]; ok {
		ps.errType = errType
		ps.errMessage = message
	}
}

func (e *printingEmitter) EndSpan(h *telemetry.SpanHandle, end time.Time) {
	if ps, ok := e.spans[h]; ok {
		ps.ended = true
		ps.end = end
	}
}

func (e *printingEmitter) RecordHistogram(_ context.Context, name string, value float64, attrs ...attribute.KeyValue) {
	e.observations = append(e.observations, histObservation{name: name, value: value, attrs: attrs})
}

func (e *printingEmitter) Shutdown(context.Context, time.Duration) error { return nil }

func (e *printingEmitter) printTree() {
	children := map[*telemetry.SpanHandle][]*telemetry.SpanHandle{}
	var roots []*telemetry.SpanHandle
	for _, h := range e.order {
		ps := e.spans[h]
		if ps.parent != nil {
			children[ps.parent] = append(children[ps.parent], h)
		} else {
			roots = append(roots, h)
		}
	}

	var walk func(h *telemetry.SpanHandle, depth int)
	walk = func(h *telemetry.SpanHandle, depth int) {
		ps := e.spans[h]
		indent := ""
		for i := 0; i < depth; i++ {
			indent += "  "
		}
		status := "open"
		if ps.ended {
			status = fmt.Sprintf("ended (%s)", ps.end.Sub(ps.start))
		}
		fmt.Printf("%s- %s [%s]", indent, ps.name, status)
		if ps.errType != "" {
			fmt.Printf(" error.type=%s (%s)", ps.errType, ps.errMessage)
		}
		fmt.Println()
		for _, key := range sortedKeys(ps.attrs) {
			fmt.Printf("%s    %s=%v\n", indent, key, ps.attrs[key].AsInterface())
		}
		for _, c := range children[h] {
			walk(c, depth+1)
		}
	}
	for _, r := range roots {
		walk(r, 0)
	}
}

func (e *printingEmitter) printHistograms() {
	for _, obs := range e.observations {
		fmt.Printf("- %s = %.4f %v\n", obs.name, obs.value, obs.attrs)
	}
}

func sortedKeys(m map[string]attribute.Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
