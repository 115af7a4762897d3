package telemetry

// This file holds the one fixed vocabulary table the core is specified to
// import verbatim rather than derive: the GenAI Semantic Conventions v1.39
// span/attribute names referenced throughout §4.4, plus the ACP-specific
// `acp.*` attributes this interceptor defines as supplementary context. No
// published Go module vendors the GenAI semconv v1.39 tables yet (the
// upstream go.opentelemetry.io/otel/semconv packages lag the GenAI additions
// by several releases), so these are hand-maintained constants rather than
// values pulled from a dependency — see DESIGN.md.

// Attribute keys.
const (
	attrOperationName  = "gen_ai.operation.name"
	attrProviderName   = "gen_ai.provider.name"
	attrAgentName      = "gen_ai.agent.name"
	attrAgentID        = "gen_ai.agent.id"
	attrConversationID = "gen_ai.conversation.id"
	attrFinishReasons  = "gen_ai.response.finish_reasons"
	attrInputMessages  = "gen_ai.input.messages"
	attrOutputMessages = "gen_ai.output.messages"
	attrToolName       = "gen_ai.tool.name"
	attrToolCallID     = "gen_ai.tool.call.id"
	attrToolType       = "gen_ai.tool.type"
	attrToolArguments  = "gen_ai.tool.call.arguments"
	attrToolResult     = "gen_ai.tool.call.result"

	attrRPCSystem        = "rpc.system"
	attrRPCMethod        = "rpc.method"
	attrRPCRequestID     = "rpc.jsonrpc.request_id"
	attrRPCErrorCode     = "rpc.jsonrpc.error_code"
	attrRPCErrorMessage  = "rpc.jsonrpc.error_message"
	attrNetworkTransport = "network.transport"

	attrACPMethodName      = "acp.method.name"
	attrACPProtocolVersion = "acp.protocol.version"
	attrACPAgentVersion    = "acp.agent.version"
	attrACPClientName      = "acp.client.name"
	attrACPClientVersion   = "acp.client.version"
	attrACPToolKind        = "acp.tool.kind"
	attrACPToolLocations   = "acp.tool.locations"
	attrACPPermOutcome     = "acp.permission.outcome"
	attrACPTTFTMillis      = "acp.time_to_first_token_ms"

	attrErrorType = "error.type"
)

// Operation names (§4.4).
const (
	opInvokeAgent  = "invoke_agent"
	opExecuteTool  = "execute_tool"
	networkPipe    = "pipe"
	rpcSystemValue = "jsonrpc"
)

// Error taxonomy tokens (§7).
const (
	errProtocolViolation = "protocol_violation"
	errOrphanToolCall    = "orphan_tool_call"
	errUnknownToolCallID = "unknown_tool_call_id"
	errUnmatchedResponse = "unmatched_response"
	errAbandoned         = "abandoned"
	errOtherToolFailure  = "_OTHER"
)

// toolTypeForKind implements the fixed ACP kind → gen_ai.tool.type mapping
// of §4.4.3.
func toolTypeForKind(kind string) string {
	switch kind {
	case "read", "search", "fetch":
		return "datastore"
	case "edit", "delete", "move", "execute", "think", "other":
		return "extension"
	default:
		return "extension"
	}
}
