package mux

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocpp-csms/csms/internal/csms/core"
	"github.com/ocpp-csms/csms/internal/ocpp/wire"
)

type captureWriter struct {
	mu    sync.Mutex
	sent  [][]byte
	onMsg func(data []byte)
}

func (w *captureWriter) WriteMessage(data []byte) error {
	w.mu.Lock()
	w.sent = append(w.sent, data)
	w.mu.Unlock()
	if w.onMsg != nil {
		w.onMsg(data)
	}
	return nil
}

func (w *captureWriter) lastMessageID(t *testing.T) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	require.NotEmpty(t, w.sent)
	f, err := wire.Decode(w.sent[len(w.sent)-1])
	require.NoError(t, err)
	return f.MessageID
}

func TestCallResolvesOnResult(t *testing.T) {
	w := &captureWriter{}
	m := New(w)

	go func() {
		time.Sleep(10 * time.Millisecond)
		id := w.lastMessageID(t)
		frame, _ := wire.EncodeResult(id, map[string]string{"ok": "yes"})
		f, _ := wire.Decode(frame)
		m.Resolve(f)
	}()

	payload, err := m.Call(context.Background(), "Heartbeat", map[string]interface{}{}, 500*time.Millisecond)
	require.NoError(t, err)
	var got map[string]string
	require.NoError(t, json.Unmarshal(payload, &got))
	assert.Equal(t, "yes", got["ok"])
	assert.Equal(t, 0, m.PendingCount())
}

func TestCallResolvesOnError(t *testing.T) {
	w := &captureWriter{}
	m := New(w)

	go func() {
		time.Sleep(10 * time.Millisecond)
		id := w.lastMessageID(t)
		frame, _ := wire.EncodeError(id, "Rejected", "nope", nil)
		f, _ := wire.Decode(frame)
		m.Resolve(f)
	}()

	_, err := m.Call(context.Background(), "RemoteStartTransaction", map[string]interface{}{}, 500*time.Millisecond)
	require.Error(t, err)
	var cerr *core.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, core.KindRemoteRejected, cerr.Kind)
}

func TestCallTimesOut(t *testing.T) {
	w := &captureWriter{}
	m := New(w)

	_, err := m.Call(context.Background(), "GetConfiguration", map[string]interface{}{}, 20*time.Millisecond)
	require.Error(t, err)
	var cerr *core.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, core.KindCallTimeout, cerr.Kind)
	assert.Equal(t, 0, m.PendingCount())
}

func TestLateReplyAfterTimeoutIsDiscarded(t *testing.T) {
	w := &captureWriter{}
	m := New(w)

	_, err := m.Call(context.Background(), "GetConfiguration", map[string]interface{}{}, 10*time.Millisecond)
	require.Error(t, err)

	id := w.lastMessageID(t)
	frame, _ := wire.EncodeResult(id, map[string]string{})
	f, _ := wire.Decode(frame)
	assert.NotPanics(t, func() { m.Resolve(f) })
}

func TestCloseAllFailsOutstanding(t *testing.T) {
	w := &captureWriter{}
	m := New(w)

	errCh := make(chan error, 1)
	go func() {
		_, err := m.Call(context.Background(), "Heartbeat", map[string]interface{}{}, time.Second)
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	m.CloseAll(core.Disconnected)

	err := <-errCh
	require.Error(t, err)
	var cerr *core.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, core.KindDisconnected, cerr.Kind)
}
