package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	jmespath "github.com/jmespath-community/go-jmespath"
)

// MaxMessageBytes bounds inbound messages; the document is untrusted.
const MaxMessageBytes = 256 << 10

// MessageType is the closed set of inbound message kinds.
type MessageType string

const (
	TypeConsole           MessageType = "console"
	TypeAuthRequest       MessageType = "authRequest"
	TypeHandoffAck        MessageType = "handoffAck"
	TypeReady             MessageType = "ready"
	TypeSavedAck          MessageType = "savedAck"
	TypeErrorReport       MessageType = "errorReport"
	TypeStateUpdate       MessageType = "stateUpdate"
	TypeCollaboratorEvent MessageType = "collaboratorEvent"
	TypeUnknown           MessageType = "unknown"
)

// Wire type strings posted by the embedded document. Session requests have two aliases
// because older canvas builds used the provider-specific name.
const (
	WireConsole         = "console"
	WireAuthRequest     = "auth.request"
	WireSessionRequest  = "request-supabase-session"
	WireSessionImported = "supabase-session-imported"
	WireReady           = "ready"
	WireSaved           = "saved"
	WireError           = "error"
	WireState           = "state"
	WireCollaborator    = "collaborator"
)

var wireTypes = map[string]MessageType{
	WireConsole:         TypeConsole,
	WireAuthRequest:     TypeAuthRequest,
	WireSessionRequest:  TypeAuthRequest,
	WireSessionImported: TypeHandoffAck,
	WireReady:           TypeReady,
	WireSaved:           TypeSavedAck,
	WireError:           TypeErrorReport,
	WireState:           TypeStateUpdate,
	WireCollaborator:    TypeCollaboratorEvent,
}

// Decode errors. All of them mean the message is dropped.
var (
	ErrMessageTooLarge = errors.New("message exceeds size limit")
	ErrMissingType     = errors.New("message has no type")
	ErrInvalidPayload  = errors.New("invalid payload")
)

// errorMessageExpr extracts a human-readable message from the shapes canvas builds report errors in.
const errorMessageExpr = "message || error.message || error || reason"

// DefaultErrorMessage is shown when an error report carries no usable message.
const DefaultErrorMessage = "The canvas reported an error"

var consoleLevels = map[string]struct{}{
	"log": {}, "info": {}, "warn": {}, "error": {}, "debug": {},
}

// Envelope is a validated inbound message. Only the payload field matching Type is set.
type Envelope struct {
	Type     MessageType
	WireType string

	Console      *ConsolePayload
	Error        *ErrorPayload
	Collaborator *CollaboratorPayload
	Fields       map[string]any // savedAck and stateUpdate bodies
}

// ConsolePayload mirrors a console call inside the document.
type ConsolePayload struct {
	Level string `json:"level"`
	Args  []any  `json:"args"`
}

// ErrorPayload is an error reported by the document.
type ErrorPayload struct {
	Message string
}

// CollaboratorPayload is a collaboration event (join, leave, cursor...).
type CollaboratorPayload struct {
	Event  string `json:"event"`
	UserID string `json:"userId"`
}

type rawEnvelope struct {
	Type    *string         `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// DecodeEnvelope parses and validates raw. Unknown type strings decode as TypeUnknown;
// structurally invalid input returns an error and must be dropped.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	if len(raw) > MaxMessageBytes {
		return Envelope{}, ErrMessageTooLarge
	}

	var re rawEnvelope
	if err := json.Unmarshal(raw, &re); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if re.Type == nil || strings.TrimSpace(*re.Type) == "" {
		return Envelope{}, ErrMissingType
	}

	wire := strings.TrimSpace(*re.Type)
	env := Envelope{Type: TypeUnknown, WireType: wire}
	if t, ok := wireTypes[wire]; ok {
		env.Type = t
	}

	var err error
	switch env.Type {
	case TypeConsole:
		env.Console, err = decodeConsole(re.Payload)
	case TypeErrorReport:
		env.Error, err = decodeError(re.Payload)
	case TypeCollaboratorEvent:
		env.Collaborator, err = decodeCollaborator(re.Payload)
	case TypeSavedAck, TypeStateUpdate:
		env.Fields, err = decodeFields(re.Payload)
	case TypeAuthRequest, TypeHandoffAck, TypeReady, TypeUnknown:
		// Payload is not consulted.
	}
	if err != nil {
		return Envelope{}, fmt.Errorf("%s: %w", wire, err)
	}
	return env, nil
}

func isAbsent(p json.RawMessage) bool {
	s := strings.TrimSpace(string(p))
	return s == "" || s == "null"
}

func decodeConsole(p json.RawMessage) (*ConsolePayload, error) {
	if isAbsent(p) {
		return nil, fmt.Errorf("%w: console payload required", ErrInvalidPayload)
	}
	var c ConsolePayload
	if err := json.Unmarshal(p, &c); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	c.Level = strings.ToLower(strings.TrimSpace(c.Level))
	if _, ok := consoleLevels[c.Level]; !ok {
		return nil, fmt.Errorf("%w: console level %q", ErrInvalidPayload, c.Level)
	}
	return &c, nil
}

func decodeError(p json.RawMessage) (*ErrorPayload, error) {
	out := &ErrorPayload{Message: DefaultErrorMessage}
	if isAbsent(p) {
		return out, nil
	}
	var data any
	if err := json.Unmarshal(p, &data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if s, ok := data.(string); ok {
		if s = strings.TrimSpace(s); s != "" {
			out.Message = s
		}
		return out, nil
	}
	res, err := jmespath.Search(errorMessageExpr, data)
	if err != nil {
		return out, nil //nolint:nilerr // non-object payloads fall back to the default message.
	}
	if s, ok := res.(string); ok && strings.TrimSpace(s) != "" {
		out.Message = strings.TrimSpace(s)
	}
	return out, nil
}

func decodeCollaborator(p json.RawMessage) (*CollaboratorPayload, error) {
	if isAbsent(p) {
		return nil, fmt.Errorf("%w: collaborator payload required", ErrInvalidPayload)
	}
	var c CollaboratorPayload
	if err := json.Unmarshal(p, &c); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if strings.TrimSpace(c.Event) == "" {
		return nil, fmt.Errorf("%w: collaborator event required", ErrInvalidPayload)
	}
	return &c, nil
}

func decodeFields(p json.RawMessage) (map[string]any, error) {
	if isAbsent(p) {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return nil, fmt.Errorf("%w: expected object: %w", ErrInvalidPayload, err)
	}
	return m, nil
}
