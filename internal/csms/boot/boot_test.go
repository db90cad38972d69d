package boot

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocpp-csms/csms/internal/csms/core"
	"github.com/ocpp-csms/csms/internal/csms/station"
	"github.com/ocpp-csms/csms/internal/csms/txcounter"
	"github.com/ocpp-csms/csms/internal/logger"
	"github.com/ocpp-csms/csms/internal/ocpp/messages"
	"github.com/ocpp-csms/csms/internal/ocpp/wire"
)

type scriptedWriter struct {
	mu          sync.Mutex
	actor       *station.Actor
	configKeys  []messages.KeyValue
	seenActions []string
}

func (w *scriptedWriter) WriteMessage(data []byte) error {
	f, err := wire.Decode(data)
	if err != nil {
		return err
	}
	if f.Type != wire.TypeCall {
		return nil
	}
	w.mu.Lock()
	w.seenActions = append(w.seenActions, f.Action)
	w.mu.Unlock()

	switch f.Action {
	case string(messages.ActionGetConfiguration):
		go func() {
			msg, _ := wire.EncodeResult(f.MessageID, messages.GetConfigurationResponse{ConfigurationKey: w.configKeys})
			w.actor.HandleInboundFrame(msg)
		}()
	case string(messages.ActionChangeConfiguration):
		go func() {
			msg, _ := wire.EncodeResult(f.MessageID, messages.ChangeConfigurationResponse{Status: messages.ConfigurationAccepted})
			w.actor.HandleInboundFrame(msg)
		}()
	case string(messages.ActionDataTransfer):
		go func() {
			msg, _ := wire.EncodeResult(f.MessageID, messages.DataTransferResponse{Status: messages.DataTransferAccepted})
			w.actor.HandleInboundFrame(msg)
		}()
	}
	return nil
}

func (w *scriptedWriter) actionsSeen() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.seenActions))
	copy(out, w.seenActions)
	return out
}

func newBootHarness(t *testing.T, supported []string) (*station.Actor, *scriptedWriter) {
	t.Helper()
	log, err := logger.New(nil)
	require.NoError(t, err)

	var keys []messages.KeyValue
	for _, k := range supported {
		keys = append(keys, messages.KeyValue{Key: k, Readonly: false})
	}

	w := &scriptedWriter{configKeys: keys}
	a := station.New("CP1", w, txcounter.New(), station.Config{WatchdogDuration: time.Hour, CallTimeout: time.Second}, log)
	w.actor = a

	configurator := New(Config{GetConfigTimeout: 500 * time.Millisecond, CallTimeout: 500 * time.Millisecond, QRCodeURL: "https://example.test/qr"}, log)
	a.SetBootHook(configurator.Hook)
	a.Run()
	t.Cleanup(func() { a.Close(core.Disconnected) })

	return a, w
}

func bootAndWait(a *station.Actor) {
	raw, _ := wire.EncodeCall("boot-1", string(messages.ActionBootNotification), messages.BootNotificationRequest{
		ChargePointVendor: "Acme",
		ChargePointModel:  "X1",
	})
	a.HandleInboundFrame(raw)
	time.Sleep(100 * time.Millisecond)
}

func TestBootPushesConfigurationWhenSupported(t *testing.T) {
	a, w := newBootHarness(t, []string{"AuthorizeRemoteTxRequests", "QRcodeConnectorID1"})
	bootAndWait(a)

	actions := w.actionsSeen()
	assert.Contains(t, actions, string(messages.ActionGetConfiguration))
	assert.Contains(t, actions, string(messages.ActionChangeConfiguration))
	assert.NotContains(t, actions, string(messages.ActionDataTransfer))
}

func TestBootFallsBackToVendorDataTransferWhenQRKeyUnsupported(t *testing.T) {
	a, w := newBootHarness(t, nil)
	bootAndWait(a)

	actions := w.actionsSeen()
	assert.Contains(t, actions, string(messages.ActionGetConfiguration))
	assert.Contains(t, actions, string(messages.ActionDataTransfer))
}

func TestReconnectSkipsGetConfigurationProbe(t *testing.T) {
	log, err := logger.New(nil)
	require.NoError(t, err)

	configurator := New(Config{GetConfigTimeout: 500 * time.Millisecond, CallTimeout: 500 * time.Millisecond, QRCodeURL: "https://example.test/qr"}, log)

	w1 := &scriptedWriter{configKeys: []messages.KeyValue{{Key: "AuthorizeRemoteTxRequests"}}}
	a1 := station.New("CP-RECONNECT", w1, txcounter.New(), station.Config{WatchdogDuration: time.Hour, CallTimeout: time.Second}, log)
	w1.actor = a1
	a1.SetBootHook(configurator.Hook)
	a1.Run()
	bootAndWait(a1)
	a1.Close(core.Disconnected)
	assert.Contains(t, w1.actionsSeen(), string(messages.ActionGetConfiguration))

	w2 := &scriptedWriter{}
	a2 := station.New("CP-RECONNECT", w2, txcounter.New(), station.Config{WatchdogDuration: time.Hour, CallTimeout: time.Second}, log)
	w2.actor = a2
	a2.SetBootHook(configurator.Hook)
	a2.Run()
	t.Cleanup(func() { a2.Close(core.Disconnected) })
	bootAndWait(a2)

	assert.NotContains(t, w2.actionsSeen(), string(messages.ActionGetConfiguration))
	assert.Contains(t, w2.actionsSeen(), string(messages.ActionChangeConfiguration))
}
