package acp

import "encoding/json"

// Kind identifies which of the five JSON-RPC frame shapes a message is
// (§4.2). A frame with both a method and an id is a Request; with a method
// and no id, a Notification; with an id and a result, a Success; with an id
// and an error, an Error; anything else is Malformed.
type Kind int

const (
	KindMalformed Kind = iota
	KindRequest
	KindNotification
	KindSuccess
	KindError
)

// Family tags which ACP method the classifier recognized, for the Span
// Manager's dispatch table.
type Family int

const (
	FamilyOther Family = iota
	FamilyInitialize
	FamilyAuthenticate
	FamilySessionNew
	FamilySessionLoad
	FamilySessionPrompt
	FamilySessionUpdate
	FamilySessionRequestPermission
	FamilyFs
	FamilyTerminal
)

var familyByMethod = map[string]Family{
	"initialize":                 FamilyInitialize,
	"authenticate":               FamilyAuthenticate,
	"session/new":                FamilySessionNew,
	"session/load":               FamilySessionLoad,
	"session/prompt":             FamilySessionPrompt,
	"session/update":             FamilySessionUpdate,
	"session/request_permission": FamilySessionRequestPermission,
}

func classifyFamily(method string) Family {
	if f, ok := familyByMethod[method]; ok {
		return f
	}
	if len(method) >= 3 && method[:3] == "fs/" {
		return FamilyFs
	}
	if len(method) >= 9 && method[:9] == "terminal/" {
		return FamilyTerminal
	}
	return FamilyOther
}

// Message is a classified JSON-RPC frame: exactly one Kind, plus whatever
// fields that Kind carries. Params and Result are kept as raw JSON so the
// Span Manager can decode them into a concrete ACP type once it knows which
// one it needs.
type Message struct {
	Kind   Kind
	Family Family
	ID     string // stringified JSON-RPC id; empty for notifications and malformed frames
	Method string
	Params json.RawMessage
	Result json.RawMessage
	Error  *JSONRPCError
}

// Classify parses a single frame (without its trailing newline) into a
// Message. It never returns an error: a frame that doesn't parse as JSON, or
// that parses but matches none of the five shapes, becomes KindMalformed so
// the caller can still forward it byte-exact while skipping telemetry.
func Classify(raw []byte) Message {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Message{Kind: KindMalformed}
	}

	id, hasID := env.hasID()

	switch {
	case hasID && env.Method != "":
		return Message{
			Kind:   KindRequest,
			Family: classifyFamily(env.Method),
			ID:     id,
			Method: env.Method,
			Params: env.Params,
		}
	case !hasID && env.Method != "":
		return Message{
			Kind:   KindNotification,
			Family: classifyFamily(env.Method),
			Method: env.Method,
			Params: env.Params,
		}
	case hasID && env.Error != nil:
		return Message{
			Kind:  KindError,
			ID:    id,
			Error: env.Error,
		}
	case hasID && env.Result != nil:
		return Message{
			Kind:   KindSuccess,
			ID:     id,
			Result: env.Result,
		}
	default:
		return Message{Kind: KindMalformed}
	}
}
