// Package core defines the error vocabulary shared by the call
// multiplexer, the charge-point actor, and the operator façade.
package core

import "fmt"

// Kind classifies a core error so the HTTP layer can map it to a status
// code without string matching.
type Kind string

const (
	// KindNotConnected means no actor is registered for the requested cpid.
	KindNotConnected Kind = "NotConnected"
	// KindNoActiveTransaction means neither transactionId nor connectorId
	// resolved to a live session.
	KindNoActiveTransaction Kind = "NoActiveTransaction"
	// KindBusy means release was called while a session is active.
	KindBusy Kind = "Busy"
	// KindRemoteRejected means the charger returned a non-accepted status.
	KindRemoteRejected Kind = "RemoteRejected"
	// KindCallTimeout means the charger did not reply within the deadline.
	KindCallTimeout Kind = "CallTimeout"
	// KindDisconnected means the socket closed while a call was outstanding.
	KindDisconnected Kind = "Disconnected"
	// KindMalformed means a frame failed codec validation.
	KindMalformed Kind = "Malformed"
)

// Error is the typed error surfaced by the CSMS core.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, core.NotConnected) style comparisons by Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Sentinel errors compared with errors.Is by Kind only (Message ignored).
var (
	NotConnected       = newError(KindNotConnected, "")
	NoActiveTransaction = newError(KindNoActiveTransaction, "")
	Busy               = newError(KindBusy, "")
	RemoteRejected     = newError(KindRemoteRejected, "")
	CallTimeout        = newError(KindCallTimeout, "")
	Disconnected       = newError(KindDisconnected, "")
	Malformed          = newError(KindMalformed, "")
)

// Newf builds an *Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind wrapping cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}
