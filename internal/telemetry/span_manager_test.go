package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acp-traces/acp-traces/internal/acp"
)

func dispatchRaw(m *Manager, raw string, dir Direction, at time.Time) {
	msg := acp.Classify([]byte(raw))
	m.Dispatch(context.Background(), msg, dir, at)
}

func TestCleanTurn(t *testing.T) {
	emitter := newFakeEmitter()
	m := NewManager(emitter, false)
	base := time.Unix(0, 0)

	dispatchRaw(m, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"clientInfo":{"name":"zed","version":"0.1"}}}`, DirEditorToAgent, base)
	dispatchRaw(m, `{"jsonrpc":"2.0","id":1,"result":{"agentInfo":{"name":"kiro","version":"9"},"protocolVersion":1}}`, DirAgentToEditor, base.Add(time.Millisecond))
	dispatchRaw(m, `{"jsonrpc":"2.0","id":2,"method":"session/new","params":{}}`, DirEditorToAgent, base.Add(2*time.Millisecond))
	dispatchRaw(m, `{"jsonrpc":"2.0","id":2,"result":{"sessionId":"S1"}}`, DirAgentToEditor, base.Add(3*time.Millisecond))
	dispatchRaw(m, `{"jsonrpc":"2.0","id":3,"method":"session/prompt","params":{"sessionId":"S1","prompt":[{"type":"text","text":"hi"}]}}`, DirEditorToAgent, base.Add(4*time.Millisecond))
	dispatchRaw(m, `{"jsonrpc":"2.0","method":"session/update","params":{"sessionId":"S1","update":{"sessionUpdate":"agent_message_chunk","content":{"text":"hello"}}}}`, DirAgentToEditor, base.Add(5*time.Millisecond))
	dispatchRaw(m, `{"jsonrpc":"2.0","id":3,"result":{"stopReason":"end_turn"}}`, DirAgentToEditor, base.Add(10*time.Millisecond))

	span := emitter.spanNamed("invoke_agent kiro")
	require.NotNil(t, span)
	assert.True(t, span.ended)
	assert.Equal(t, SpanClient, span.kind)
	assert.Equal(t, "acp.kiro", span.attrs[attrProviderName].AsString())
	assert.Equal(t, "S1", span.attrs[attrConversationID].AsString())
	assert.Equal(t, []string{"end_turn"}, span.attrs[attrFinishReasons].AsStringSlice())

	assert.Len(t, emitter.histogramValues(histogramTurnDuration), 1)
	assert.Len(t, emitter.histogramValues(histogramTTFT), 1)
}

func TestToolCallRoundtrip(t *testing.T) {
	emitter := newFakeEmitter()
	m := NewManager(emitter, false)
	base := time.Unix(0, 0)

	dispatchRaw(m, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"clientInfo":{"name":"zed","version":"0.1"}}}`, DirEditorToAgent, base)
	dispatchRaw(m, `{"jsonrpc":"2.0","id":1,"result":{"agentInfo":{"name":"kiro","version":"9"},"protocolVersion":1}}`, DirAgentToEditor, base)
	dispatchRaw(m, `{"jsonrpc":"2.0","id":2,"method":"session/new","params":{}}`, DirEditorToAgent, base)
	dispatchRaw(m, `{"jsonrpc":"2.0","id":2,"result":{"sessionId":"S1"}}`, DirAgentToEditor, base)
	dispatchRaw(m, `{"jsonrpc":"2.0","id":3,"method":"session/prompt","params":{"sessionId":"S1","prompt":[{"type":"text","text":"hi"}]}}`, DirEditorToAgent, base)

	dispatchRaw(m, `{"jsonrpc":"2.0","method":"session/update","params":{"sessionId":"S1","update":{"sessionUpdate":"tool_call","toolCallId":"T1","title":"Read file","kind":"read"}}}`, DirAgentToEditor, base.Add(time.Millisecond))
	dispatchRaw(m, `{"jsonrpc":"2.0","method":"session/update","params":{"sessionId":"S1","update":{"sessionUpdate":"tool_call_update","toolCallId":"T1","status":"completed"}}}`, DirAgentToEditor, base.Add(2*time.Millisecond))

	dispatchRaw(m, `{"jsonrpc":"2.0","id":3,"result":{"stopReason":"end_turn"}}`, DirAgentToEditor, base.Add(3*time.Millisecond))

	tool := emitter.spanNamed("execute_tool Read file")
	require.NotNil(t, tool)
	assert.True(t, tool.ended)
	assert.Equal(t, "datastore", tool.attrs[attrToolType].AsString())
	assert.Equal(t, "read", tool.attrs[attrACPToolKind].AsString())
	assert.Empty(t, tool.errType)

	prompt := emitter.spanNamed("invoke_agent kiro")
	require.NotNil(t, prompt)
	assert.Same(t, prompt, tool.parent)
}

func TestClientSideFsRequest(t *testing.T) {
	emitter := newFakeEmitter()
	m := NewManager(emitter, false)
	base := time.Unix(0, 0)

	dispatchRaw(m, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"clientInfo":{"name":"zed","version":"0.1"}}}`, DirEditorToAgent, base)
	dispatchRaw(m, `{"jsonrpc":"2.0","id":1,"result":{"agentInfo":{"name":"kiro","version":"9"},"protocolVersion":1}}`, DirAgentToEditor, base)
	dispatchRaw(m, `{"jsonrpc":"2.0","id":2,"method":"session/new","params":{}}`, DirEditorToAgent, base)
	dispatchRaw(m, `{"jsonrpc":"2.0","id":2,"result":{"sessionId":"S1"}}`, DirAgentToEditor, base)
	dispatchRaw(m, `{"jsonrpc":"2.0","id":3,"method":"session/prompt","params":{"sessionId":"S1","prompt":[{"type":"text","text":"hi"}]}}`, DirEditorToAgent, base)

	dispatchRaw(m, `{"jsonrpc":"2.0","id":100,"method":"fs/read_text_file","params":{"sessionId":"S1","path":"/x"}}`, DirAgentToEditor, base.Add(time.Millisecond))
	dispatchRaw(m, `{"jsonrpc":"2.0","id":100,"result":{"content":"..."}}`, DirEditorToAgent, base.Add(2*time.Millisecond))

	fs := emitter.spanNamed("execute_tool fs/read_text_file")
	require.NotNil(t, fs)
	assert.True(t, fs.ended)
	assert.Equal(t, "function", fs.attrs[attrToolType].AsString())
	assert.Equal(t, "100", fs.attrs[attrToolCallID].AsString())

	prompt := emitter.spanNamed("invoke_agent kiro")
	require.NotNil(t, prompt)
	assert.Same(t, prompt, fs.parent)
}

func TestErrorResponse(t *testing.T) {
	emitter := newFakeEmitter()
	m := NewManager(emitter, false)
	base := time.Unix(0, 0)

	dispatchRaw(m, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"clientInfo":{"name":"zed","version":"0.1"}}}`, DirEditorToAgent, base)
	dispatchRaw(m, `{"jsonrpc":"2.0","id":1,"result":{"agentInfo":{"name":"kiro","version":"9"},"protocolVersion":1}}`, DirAgentToEditor, base)
	dispatchRaw(m, `{"jsonrpc":"2.0","id":2,"method":"session/new","params":{}}`, DirEditorToAgent, base)
	dispatchRaw(m, `{"jsonrpc":"2.0","id":2,"result":{"sessionId":"S1"}}`, DirAgentToEditor, base)
	dispatchRaw(m, `{"jsonrpc":"2.0","id":3,"method":"session/prompt","params":{"sessionId":"S1","prompt":[{"type":"text","text":"hi"}]}}`, DirEditorToAgent, base)

	dispatchRaw(m, `{"jsonrpc":"2.0","id":3,"error":{"code":-32000,"message":"boom"}}`, DirAgentToEditor, base.Add(5*time.Millisecond))

	prompt := emitter.spanNamed("invoke_agent kiro")
	require.NotNil(t, prompt)
	assert.True(t, prompt.ended)
	assert.Equal(t, "jsonrpc.-32000", prompt.errType)
	assert.Len(t, emitter.histogramValues(histogramTurnDuration), 1)
}

func TestAbandonedShutdown(t *testing.T) {
	emitter := newFakeEmitter()
	m := NewManager(emitter, false)
	base := time.Unix(0, 0)

	dispatchRaw(m, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"clientInfo":{"name":"zed","version":"0.1"}}}`, DirEditorToAgent, base)
	dispatchRaw(m, `{"jsonrpc":"2.0","id":1,"result":{"agentInfo":{"name":"kiro","version":"9"},"protocolVersion":1}}`, DirAgentToEditor, base)
	dispatchRaw(m, `{"jsonrpc":"2.0","id":2,"method":"session/new","params":{}}`, DirEditorToAgent, base)
	dispatchRaw(m, `{"jsonrpc":"2.0","id":2,"result":{"sessionId":"S1"}}`, DirAgentToEditor, base)
	dispatchRaw(m, `{"jsonrpc":"2.0","id":3,"method":"session/prompt","params":{"sessionId":"S1","prompt":[{"type":"text","text":"hi"}]}}`, DirEditorToAgent, base)

	handles := m.State().Drain()
	require.Len(t, handles, 1)

	for _, h := range handles {
		emitter.RecordError(h, errAbandoned, "shutdown")
		emitter.EndSpan(h, base.Add(time.Second))
	}

	prompt := emitter.spanNamed("invoke_agent kiro")
	require.NotNil(t, prompt)
	assert.True(t, prompt.ended)
	assert.Equal(t, errAbandoned, prompt.errType)

	require.Empty(t, m.State().Sessions)
	require.Empty(t, m.State().PendingTopLevel)
}

func TestMalformedFrameIsIgnored(t *testing.T) {
	emitter := newFakeEmitter()
	m := NewManager(emitter, false)
	base := time.Unix(0, 0)

	dispatchRaw(m, `not json`, DirEditorToAgent, base)
	assert.Empty(t, emitter.spans)

	dispatchRaw(m, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"clientInfo":{"name":"zed","version":"0.1"}}}`, DirEditorToAgent, base)
	assert.Len(t, emitter.spans, 1)
}

func TestContentGating(t *testing.T) {
	base := time.Unix(0, 0)

	run := func(recordContent bool) *fakeSpan {
		emitter := newFakeEmitter()
		m := NewManager(emitter, recordContent)
		dispatchRaw(m, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"clientInfo":{"name":"zed","version":"0.1"}}}`, DirEditorToAgent, base)
		dispatchRaw(m, `{"jsonrpc":"2.0","id":1,"result":{"agentInfo":{"name":"kiro","version":"9"},"protocolVersion":1}}`, DirAgentToEditor, base)
		dispatchRaw(m, `{"jsonrpc":"2.0","id":2,"method":"session/new","params":{}}`, DirEditorToAgent, base)
		dispatchRaw(m, `{"jsonrpc":"2.0","id":2,"result":{"sessionId":"S1"}}`, DirAgentToEditor, base)
		dispatchRaw(m, `{"jsonrpc":"2.0","id":3,"method":"session/prompt","params":{"sessionId":"S1","prompt":[{"type":"text","text":"hi"}]}}`, DirEditorToAgent, base)
		return emitter.spanNamed("invoke_agent kiro")
	}

	off := run(false)
	require.NotNil(t, off)
	_, ok := off.attrs[attrInputMessages]
	assert.False(t, ok)

	on := run(true)
	require.NotNil(t, on)
	_, ok = on.attrs[attrInputMessages]
	assert.True(t, ok)
}
