// Package wire implements the OCPP 1.6J frame codec: encoding and
// decoding of CALL/CALLRESULT/CALLERROR arrays over a text WebSocket
// message. It carries no business logic; callers route decoded frames
// through internal/ocpp/mux.
package wire

import (
	"encoding/json"
	"fmt"
)

// Type is the OCPP message type discriminant, the first element of
// every frame array.
type Type int

const (
	TypeCall       Type = 2
	TypeCallResult Type = 3
	TypeCallError  Type = 4
)

// Frame is the decoded form of one OCPP 1.6J message. Exactly one of
// the CALL-shaped fields (Action/Payload) or the CALLERROR-shaped
// fields (ErrorCode/ErrorDescription) is populated, depending on Type.
type Frame struct {
	Type             Type
	MessageID        string
	Action           string
	Payload          json.RawMessage
	ErrorCode        string
	ErrorDescription string
	ErrorDetails     json.RawMessage
}

// Standard OCPP error codes carried in CALLERROR frames.
const (
	ErrorNotImplemented    = "NotImplemented"
	ErrorInternalError     = "InternalError"
	ErrorProtocolError     = "ProtocolError"
	ErrorFormationViolation = "FormationViolation"
)

// Decode parses one WebSocket text message into a Frame. A fragmented
// or non-array payload is rejected as malformed.
func Decode(raw []byte) (Frame, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return Frame{}, &MalformedError{Reason: "not a JSON array", Cause: err}
	}
	if len(parts) < 3 {
		return Frame{}, &MalformedError{Reason: fmt.Sprintf("frame has %d elements, need at least 3", len(parts))}
	}

	var typ int
	if err := json.Unmarshal(parts[0], &typ); err != nil {
		return Frame{}, &MalformedError{Reason: "messageTypeId is not a number", Cause: err}
	}

	var messageID string
	if err := json.Unmarshal(parts[1], &messageID); err != nil {
		return Frame{}, &MalformedError{Reason: "messageId is not a string", Cause: err}
	}

	switch Type(typ) {
	case TypeCall:
		if len(parts) != 4 {
			return Frame{}, &MalformedError{Reason: "CALL frame must have 4 elements"}
		}
		var action string
		if err := json.Unmarshal(parts[2], &action); err != nil {
			return Frame{}, &MalformedError{Reason: "action is not a string", Cause: err}
		}
		return Frame{Type: TypeCall, MessageID: messageID, Action: action, Payload: parts[3]}, nil

	case TypeCallResult:
		if len(parts) != 3 {
			return Frame{}, &MalformedError{Reason: "CALLRESULT frame must have 3 elements"}
		}
		return Frame{Type: TypeCallResult, MessageID: messageID, Payload: parts[2]}, nil

	case TypeCallError:
		if len(parts) < 4 {
			return Frame{}, &MalformedError{Reason: "CALLERROR frame must have at least 4 elements"}
		}
		var errorCode, errorDescription string
		if err := json.Unmarshal(parts[2], &errorCode); err != nil {
			return Frame{}, &MalformedError{Reason: "errorCode is not a string", Cause: err}
		}
		if err := json.Unmarshal(parts[3], &errorDescription); err != nil {
			return Frame{}, &MalformedError{Reason: "errorDescription is not a string", Cause: err}
		}
		var details json.RawMessage
		if len(parts) >= 5 {
			details = parts[4]
		}
		return Frame{Type: TypeCallError, MessageID: messageID, ErrorCode: errorCode, ErrorDescription: errorDescription, ErrorDetails: details}, nil

	default:
		return Frame{}, &MalformedError{Reason: fmt.Sprintf("unknown messageTypeId %d", typ)}
	}
}

// EncodeCall renders a CALL frame: [2, messageId, action, payload].
func EncodeCall(messageID, action string, payload interface{}) ([]byte, error) {
	return json.Marshal([]interface{}{TypeCall, messageID, action, payload})
}

// EncodeResult renders a CALLRESULT frame: [3, messageId, payload].
func EncodeResult(messageID string, payload interface{}) ([]byte, error) {
	return json.Marshal([]interface{}{TypeCallResult, messageID, payload})
}

// EncodeError renders a CALLERROR frame: [4, messageId, code, description, details].
func EncodeError(messageID, code, description string, details interface{}) ([]byte, error) {
	if details == nil {
		details = map[string]interface{}{}
	}
	return json.Marshal([]interface{}{TypeCallError, messageID, code, description, details})
}

// MalformedError reports a frame that failed codec validation.
type MalformedError struct {
	Reason string
	Cause  error
}

func (e *MalformedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("malformed OCPP frame: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("malformed OCPP frame: %s", e.Reason)
}

func (e *MalformedError) Unwrap() error { return e.Cause }
