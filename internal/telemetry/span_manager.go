// Package telemetry is the Span Manager (§4.4) and its Session Store (§3):
// the heart of the interceptor. It consumes classified ACP messages
// annotated with direction and turns them into span lifecycle operations and
// histogram observations against the fixed GenAI semconv mapping in genai.go.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/acp-traces/acp-traces/internal/acp"
)

// Direction identifies which side of the pump produced a message.
type Direction int

const (
	DirEditorToAgent Direction = iota
	DirAgentToEditor
)

// Manager dispatches classified messages into span lifecycle operations. It
// owns the only mutation path into GlobalState, per §9 "Global mutable
// state".
type Manager struct {
	state         *GlobalState
	emitter       Emitter
	recordContent bool
}

// NewManager builds a Span Manager over a fresh Session Store, emitting
// through e. recordContent gates every opt-in attribute of §4.4 (content
// gating, §8).
func NewManager(e Emitter, recordContent bool) *Manager {
	return &Manager{
		state:         NewGlobalState(),
		emitter:       e,
		recordContent: recordContent,
	}
}

// State exposes the Session Store for the Shutdown Coordinator's drain walk.
func (m *Manager) State() *GlobalState { return m.state }

// Emitter exposes the collaborator so the Shutdown Coordinator can end
// drained spans and invoke the bounded exporter flush (§4.6).
func (m *Manager) Emitter() Emitter { return m.emitter }

// Dispatch is the single flat match of §9 "Dynamic dispatch over message
// shapes": it must return in bounded time and perform no I/O (§5), since the
// Pump calls it synchronously on the hot forwarding path.
func (m *Manager) Dispatch(ctx context.Context, msg acp.Message, dir Direction, now time.Time) {
	if msg.Kind == acp.KindMalformed {
		return
	}

	m.state.Lock()
	defer m.state.Unlock()

	switch msg.Kind {
	case acp.KindRequest:
		m.dispatchRequest(ctx, msg, dir, now)
	case acp.KindNotification:
		m.dispatchNotification(ctx, msg, now)
	case acp.KindSuccess, acp.KindError:
		m.dispatchResponse(ctx, msg, dir, now)
	}
}

func (m *Manager) dispatchRequest(ctx context.Context, msg acp.Message, dir Direction, now time.Time) {
	switch msg.Family {
	case acp.FamilyInitialize, acp.FamilyAuthenticate, acp.FamilySessionNew, acp.FamilySessionLoad:
		if dir == DirEditorToAgent {
			m.startLifecycleSpan(ctx, msg, now)
		}
	case acp.FamilySessionPrompt:
		if dir == DirEditorToAgent {
			m.startPromptSpan(ctx, msg, now)
		}
	case acp.FamilyFs, acp.FamilyTerminal:
		if dir == DirAgentToEditor {
			m.startClientToolSpan(ctx, msg, now, msg.Method)
		}
	default:
		if msg.Method == "session/request_permission" && dir == DirAgentToEditor {
			m.startClientToolSpan(ctx, msg, now, msg.Method)
		}
	}
}

func (m *Manager) dispatchResponse(ctx context.Context, msg acp.Message, dir Direction, now time.Time) {
	if pending, ok := m.state.TakePendingTopLevel(msg.ID); ok {
		m.finishTopLevel(ctx, pending, msg, now)
		return
	}
	if pending, ok := m.state.TakePendingClientSide(msg.ID); ok {
		m.finishClientToolSpan(pending, msg, now)
		return
	}
	// §7 taxonomy: a response with no matching pending request is a
	// protocol violation, but with no span to attach it to there is
	// nothing further to record.
}

func (m *Manager) dispatchNotification(ctx context.Context, msg acp.Message, now time.Time) {
	if msg.Family != acp.FamilySessionUpdate {
		return
	}
	var params acp.SessionUpdateParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return
	}
	session := m.state.GetOrCreateSession(params.SessionID)
	update := params.Update

	switch update.SessionUpdate {
	case "agent_message_chunk":
		if session.ActivePrompt == nil {
			return
		}
		session.ActivePrompt.AccumulatedOutput += update.AgentMessageText()
		if session.ActivePrompt.FirstChunkTime == nil {
			t := now
			session.ActivePrompt.FirstChunkTime = &t
		}
	case "tool_call":
		m.startAnnouncedToolSpan(ctx, session, update, now)
	case "tool_call_update":
		m.updateAnnouncedToolSpan(session, update, now)
	}
}

// --- Lifecycle RPCs (§4.4.1) ---

func (m *Manager) startLifecycleSpan(ctx context.Context, msg acp.Message, now time.Time) {
	attrs := []attribute.KeyValue{
		attribute.String(attrRPCSystem, rpcSystemValue),
		attribute.String(attrRPCMethod, msg.Method),
		attribute.String(attrRPCRequestID, msg.ID),
		attribute.String(attrNetworkTransport, networkPipe),
		attribute.String(attrACPMethodName, msg.Method),
	}
	handle := m.emitter.StartSpan(ctx, msg.Method, SpanInternal, nil, now, attrs...)

	m.state.InsertPendingTopLevel(msg.ID, &PendingRequest{
		Handle:    handle,
		Method:    msg.Method,
		StartTime: now,
	})

	if msg.Family == acp.FamilyInitialize {
		var params acp.InitializeParams
		if err := json.Unmarshal(msg.Params, &params); err == nil {
			name, version := params.ClientInfo.Name, params.ClientInfo.Version
			m.state.ClientName = &name
			m.state.ClientVersion = &version
		}
	}
}

func (m *Manager) finishTopLevel(ctx context.Context, pending *PendingRequest, msg acp.Message, now time.Time) {
	if pending.IsPrompt {
		m.finishPromptSpan(ctx, pending, msg, now)
		return
	}

	if msg.Kind == acp.KindError {
		m.recordJSONRPCError(pending.Handle, msg.Error)
	} else if pending.Method == "initialize" {
		var result acp.InitializeResult
		if err := json.Unmarshal(msg.Result, &result); err == nil {
			name, version, pv := result.AgentInfo.Name, result.AgentInfo.Version, result.ProtocolVersion
			m.state.AgentName = &name
			m.state.AgentVersion = &version
			m.state.ProtocolVersion = &pv
		}
	} else if pending.Method == "session/new" {
		var result acp.SessionNewResult
		if err := json.Unmarshal(msg.Result, &result); err == nil {
			m.state.GetOrCreateSession(result.SessionID)
		}
	}

	m.emitter.EndSpan(pending.Handle, now)
}

// --- Prompt turn (§4.4.2) ---

func (m *Manager) startPromptSpan(ctx context.Context, msg acp.Message, now time.Time) {
	var params acp.SessionPromptParams
	if err := json.Unmarshal(msg.Params, &params); err != nil || params.SessionID == "" {
		return
	}

	session := m.state.GetOrCreateSession(params.SessionID)
	if session.ActivePrompt != nil {
		m.emitter.RecordError(session.ActivePrompt.Handle, errProtocolViolation, "new session/prompt while a turn is already active")
		m.emitter.EndSpan(session.ActivePrompt.Handle, now)
		session.ActivePrompt = nil
	}

	agentName := "unknown"
	if m.state.AgentName != nil && *m.state.AgentName != "" {
		agentName = *m.state.AgentName
	}
	spanName := opInvokeAgent
	if agentName != "unknown" {
		spanName = fmt.Sprintf("%s %s", opInvokeAgent, agentName)
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrOperationName, opInvokeAgent),
		attribute.String(attrProviderName, "acp."+agentName),
		attribute.String(attrAgentName, agentName),
		attribute.String(attrAgentID, agentName),
		attribute.String(attrConversationID, params.SessionID),
		attribute.String(attrACPMethodName, msg.Method),
		attribute.String(attrRPCRequestID, msg.ID),
		attribute.String(attrNetworkTransport, networkPipe),
	}
	if m.state.ProtocolVersion != nil {
		attrs = append(attrs, attribute.Int(attrACPProtocolVersion, *m.state.ProtocolVersion))
	}
	if m.state.AgentVersion != nil {
		attrs = append(attrs, attribute.String(attrACPAgentVersion, *m.state.AgentVersion))
	}
	if m.state.ClientName != nil {
		attrs = append(attrs, attribute.String(attrACPClientName, *m.state.ClientName))
	}
	if m.state.ClientVersion != nil {
		attrs = append(attrs, attribute.String(attrACPClientVersion, *m.state.ClientVersion))
	}
	if m.recordContent {
		if encoded, err := json.Marshal(inputMessagesFromPrompt(params.Prompt)); err == nil {
			attrs = append(attrs, attribute.String(attrInputMessages, string(encoded)))
		}
	}

	handle := m.emitter.StartSpan(ctx, spanName, SpanClient, nil, now, attrs...)
	session.ActivePrompt = &PromptSpan{Handle: handle, StartTime: now}

	m.state.InsertPendingTopLevel(msg.ID, &PendingRequest{
		Handle:    handle,
		Method:    "session/prompt",
		SessionID: params.SessionID,
		StartTime: now,
		IsPrompt:  true,
	})
}

func (m *Manager) finishPromptSpan(ctx context.Context, pending *PendingRequest, msg acp.Message, now time.Time) {
	session := m.state.GetSession(pending.SessionID)

	duration := now.Sub(pending.StartTime).Seconds()
	histAttrs := []attribute.KeyValue{attribute.String(attrConversationID, pending.SessionID)}

	if msg.Kind == acp.KindError {
		m.recordJSONRPCError(pending.Handle, msg.Error)
	} else {
		var result acp.SessionPromptResult
		if err := json.Unmarshal(msg.Result, &result); err == nil {
			m.emitter.SetAttribute(pending.Handle, attrFinishReasons, attribute.StringSliceValue([]string{result.StopReason}))
			if m.recordContent && session != nil {
				out := outputMessageFromAccumulated(session.ActivePrompt, result.StopReason)
				if encoded, err := json.Marshal(out); err == nil {
					m.emitter.SetAttribute(pending.Handle, attrOutputMessages, attribute.StringValue(string(encoded)))
				}
			}
		}
	}

	if session != nil && session.ActivePrompt != nil && session.ActivePrompt.FirstChunkTime != nil {
		ttft := session.ActivePrompt.FirstChunkTime.Sub(pending.StartTime)
		m.emitter.SetAttribute(pending.Handle, attrACPTTFTMillis, attribute.Int64Value(ttft.Milliseconds()))
		m.emitter.RecordHistogram(ctx, histogramTTFT, ttft.Seconds(), histAttrs...)
	}

	m.emitter.EndSpan(pending.Handle, now)
	m.emitter.RecordHistogram(ctx, histogramTurnDuration, duration, histAttrs...)

	if session != nil {
		session.ActivePrompt = nil
		if len(session.ActiveToolSpans) == 0 {
			m.state.RemoveSession(session.SessionID)
		}
	}
}

// --- Streaming updates (§4.4.3) ---

func (m *Manager) startAnnouncedToolSpan(ctx context.Context, session *SessionState, update acp.SessionUpdate, now time.Time) {
	var parent *SpanHandle
	var attrs []attribute.KeyValue
	if session.ActivePrompt != nil {
		parent = session.ActivePrompt.Handle
	}

	toolType := toolTypeForKind(update.Kind)
	attrs = append(attrs,
		attribute.String(attrOperationName, opExecuteTool),
		attribute.String(attrToolName, update.Title),
		attribute.String(attrToolCallID, update.ToolCallID),
		attribute.String(attrToolType, toolType),
		attribute.String(attrACPToolKind, update.Kind),
		attribute.String(attrConversationID, session.SessionID),
	)
	if len(update.Locations) > 0 {
		attrs = append(attrs, attribute.String(attrACPToolLocations, string(update.Locations)))
	}
	if m.recordContent && len(update.RawInput) > 0 {
		attrs = append(attrs, attribute.String(attrToolArguments, string(update.RawInput)))
	}

	name := fmt.Sprintf("%s %s", opExecuteTool, update.Title)
	handle := m.emitter.StartSpan(ctx, name, SpanInternal, parent, now, attrs...)
	if parent == nil {
		m.emitter.RecordError(handle, errOrphanToolCall, "tool_call announced with no active prompt")
	}

	session.ActiveToolSpans[update.ToolCallID] = &ToolSpan{
		Handle:    handle,
		StartTime: now,
		Title:     update.Title,
		Kind:      update.Kind,
	}
}

func (m *Manager) updateAnnouncedToolSpan(session *SessionState, update acp.SessionUpdate, now time.Time) {
	tool, ok := session.ActiveToolSpans[update.ToolCallID]
	if !ok {
		// §7: unknown_tool_call_id protocol violation; no span exists to
		// attach it to, so there is nothing further to record.
		return
	}

	switch update.Status {
	case "completed", "failed":
		if m.recordContent {
			result := resultTextFor(update)
			if result != "" {
				m.emitter.SetAttribute(tool.Handle, attrToolResult, attribute.StringValue(result))
			}
		}
		if update.Status == "failed" {
			errType := update.Error
			if errType == "" {
				errType = errOtherToolFailure
			}
			m.emitter.RecordError(tool.Handle, errType, "tool call failed")
		}
		m.emitter.EndSpan(tool.Handle, now)
		delete(session.ActiveToolSpans, update.ToolCallID)

		if session.ActivePrompt == nil && len(session.ActiveToolSpans) == 0 {
			m.state.RemoveSession(session.SessionID)
		}
	default:
		if update.Title != "" {
			tool.Title = update.Title
		}
		if update.Kind != "" {
			tool.Kind = update.Kind
		}
	}
}

func resultTextFor(update acp.SessionUpdate) string {
	if len(update.RawOutput) > 0 {
		return string(update.RawOutput)
	}
	return update.ToolResultText()
}

// --- Client-side tool RPCs & permission requests (§4.4.4, §4.4.5) ---

func (m *Manager) startClientToolSpan(ctx context.Context, msg acp.Message, now time.Time, toolName string) {
	var params acp.FsOrTerminalParams
	_ = json.Unmarshal(msg.Params, &params)

	var parent *SpanHandle
	var sessionID string
	if params.SessionID != "" {
		sessionID = params.SessionID
		if s := m.state.GetSession(sessionID); s != nil && s.ActivePrompt != nil {
			parent = s.ActivePrompt.Handle
		}
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrOperationName, opExecuteTool),
		attribute.String(attrToolName, toolName),
		attribute.String(attrToolCallID, msg.ID),
		attribute.String(attrToolType, "function"),
		attribute.String(attrACPMethodName, toolName),
		attribute.String(attrNetworkTransport, networkPipe),
		attribute.String(attrRPCRequestID, msg.ID),
	}
	if sessionID != "" {
		attrs = append(attrs, attribute.String(attrConversationID, sessionID))
	}
	if m.recordContent && len(msg.Params) > 0 {
		attrs = append(attrs, attribute.String(attrToolArguments, string(msg.Params)))
	}

	name := fmt.Sprintf("%s %s", opExecuteTool, toolName)
	handle := m.emitter.StartSpan(ctx, name, SpanInternal, parent, now, attrs...)
	if parent == nil {
		m.emitter.RecordError(handle, errOrphanToolCall, "client-side tool request with no active prompt")
	}

	m.state.InsertPendingClientSide(msg.ID, &PendingRequest{
		Handle:    handle,
		Method:    toolName,
		SessionID: sessionID,
		StartTime: now,
	})
}

func (m *Manager) finishClientToolSpan(pending *PendingRequest, msg acp.Message, now time.Time) {
	if msg.Kind == acp.KindError {
		m.recordJSONRPCError(pending.Handle, msg.Error)
	} else {
		if pending.Method == "session/request_permission" {
			var result acp.RequestPermissionResult
			if err := json.Unmarshal(msg.Result, &result); err == nil {
				m.emitter.SetAttribute(pending.Handle, attrACPPermOutcome, attribute.StringValue(result.Outcome.Outcome))
			}
		}
		if m.recordContent && len(msg.Result) > 0 {
			m.emitter.SetAttribute(pending.Handle, attrToolResult, attribute.StringValue(string(msg.Result)))
		}
	}
	m.emitter.EndSpan(pending.Handle, now)
}

func (m *Manager) recordJSONRPCError(handle *SpanHandle, jsonErr *acp.JSONRPCError) {
	if jsonErr == nil {
		return
	}
	errType := fmt.Sprintf("jsonrpc.%d", jsonErr.Code)
	m.emitter.SetAttribute(handle, attrRPCErrorCode, attribute.IntValue(jsonErr.Code))
	m.emitter.SetAttribute(handle, attrRPCErrorMessage, attribute.StringValue(jsonErr.Message))
	m.emitter.RecordError(handle, errType, jsonErr.Message)
}

// --- Content block mapping (§4.4.6) ---

type messagePart struct {
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	Data      string `json:"data,omitempty"`
	MediaType string `json:"media_type,omitempty"`
}

type message struct {
	Role         string        `json:"role"`
	Parts        []messagePart `json:"parts"`
	FinishReason string        `json:"finish_reason,omitempty"`
}

func inputMessagesFromPrompt(blocks []acp.ContentBlock) []message {
	parts := make([]messagePart, 0, len(blocks))
	for _, b := range blocks {
		parts = append(parts, partFromContentBlock(b))
	}
	return []message{{Role: "user", Parts: parts}}
}

func partFromContentBlock(b acp.ContentBlock) messagePart {
	switch b.Type {
	case "text":
		return messagePart{Type: "text", Content: b.Text}
	case "image":
		return messagePart{Type: "image", Data: b.Data, MediaType: b.MimeType}
	case "audio":
		return messagePart{Type: "audio", Data: b.Data, MediaType: b.MimeType}
	case "resource":
		text := ""
		if b.Resource != nil {
			text = b.Resource.Text
		}
		return messagePart{Type: "text", Content: text}
	case "resource_link":
		return messagePart{Type: "text", Content: b.URI}
	default:
		return messagePart{Type: "text", Content: b.Text}
	}
}

func outputMessageFromAccumulated(prompt *PromptSpan, stopReason string) []message {
	accum := ""
	if prompt != nil {
		accum = prompt.AccumulatedOutput
	}
	return []message{{
		Role:         "assistant",
		Parts:        []messagePart{{Type: "text", Content: accum}},
		FinishReason: stopReason,
	}}
}
