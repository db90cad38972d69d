// Package mux implements the per-actor OCPP call multiplexer: it
// correlates outbound CALLs to their CALLRESULT or CALLERROR by
// message id, and lets a single connection's replies be waited on out
// of arrival order.
//
// A Multiplexer belongs to exactly one charge-point actor. It is not
// safe to share across actors; each actor constructs its own instead
// of reaching for ambient package-level state.
package mux

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ocpp-csms/csms/internal/csms/core"
	"github.com/ocpp-csms/csms/internal/ocpp/wire"
)

// Writer is the minimal transport surface the multiplexer needs: a
// single outbound frame at a time, serialized by the caller.
type Writer interface {
	WriteMessage(data []byte) error
}

// DefaultTimeout is the timeout applied to Call unless an explicit one
// is supplied.
const DefaultTimeout = 30 * time.Second

type awaiter struct {
	replyCh chan reply
	done    bool
}

type reply struct {
	payload json.RawMessage
	err     *core.Error
}

// Multiplexer tracks outstanding outbound CALLs for one connection.
type Multiplexer struct {
	writer Writer

	mu       sync.Mutex
	awaiting map[string]*awaiter
}

// New creates a Multiplexer writing frames through writer.
func New(writer Writer) *Multiplexer {
	return &Multiplexer{
		writer:   writer,
		awaiting: make(map[string]*awaiter),
	}
}

// Call issues action with payload, blocking until a CALLRESULT/CALLERROR
// with the matching message id arrives, timeout elapses, ctx is
// cancelled, or the multiplexer is closed (e.g. on disconnect).
//
// On timeout the awaiter is removed and the error is core.CallTimeout;
// a reply that arrives after that point is silently discarded by
// Resolve, since the map entry is already gone.
func (m *Multiplexer) Call(ctx context.Context, action string, payload interface{}, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	messageID := uuid.NewString()
	aw := &awaiter{replyCh: make(chan reply, 1)}

	m.mu.Lock()
	m.awaiting[messageID] = aw
	m.mu.Unlock()

	frame, err := wire.EncodeCall(messageID, action, payload)
	if err != nil {
		m.forget(messageID)
		return nil, core.Wrap(core.KindMalformed, err, "encoding %s call", action)
	}

	if err := m.writer.WriteMessage(frame); err != nil {
		m.forget(messageID)
		return nil, core.Wrap(core.KindDisconnected, err, "writing %s call", action)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-aw.replyCh:
		if r.err != nil {
			return nil, r.err
		}
		return r.payload, nil
	case <-timer.C:
		m.forget(messageID)
		return nil, core.Newf(core.KindCallTimeout, "%s did not reply within %s", action, timeout)
	case <-ctx.Done():
		m.forget(messageID)
		return nil, ctx.Err()
	}
}

// Resolve delivers a decoded CALLRESULT or CALLERROR frame to its
// awaiter, if one is still outstanding. It is a no-op for unknown or
// already-resolved message ids (a late reply after timeout).
func (m *Multiplexer) Resolve(f wire.Frame) {
	m.mu.Lock()
	aw, ok := m.awaiting[f.MessageID]
	if ok {
		delete(m.awaiting, f.MessageID)
	}
	m.mu.Unlock()

	if !ok {
		return
	}

	switch f.Type {
	case wire.TypeCallResult:
		aw.replyCh <- reply{payload: f.Payload}
	case wire.TypeCallError:
		aw.replyCh <- reply{err: core.Newf(core.KindRemoteRejected, "%s: %s", f.ErrorCode, f.ErrorDescription)}
	}
}

// CloseAll fails every outstanding awaiter with err, used when the
// WebSocket closes so no awaiter leaks past actor teardown.
func (m *Multiplexer) CloseAll(err *core.Error) {
	m.mu.Lock()
	pending := m.awaiting
	m.awaiting = make(map[string]*awaiter)
	m.mu.Unlock()

	for _, aw := range pending {
		aw.replyCh <- reply{err: err}
	}
}

// PendingCount reports the number of outstanding awaiters; used by tests
// to assert no awaiter leaks.
func (m *Multiplexer) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.awaiting)
}

func (m *Multiplexer) forget(messageID string) {
	m.mu.Lock()
	delete(m.awaiting, messageID)
	m.mu.Unlock()
}
