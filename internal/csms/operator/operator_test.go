package operator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocpp-csms/csms/internal/csms/core"
	"github.com/ocpp-csms/csms/internal/csms/registry"
	"github.com/ocpp-csms/csms/internal/csms/station"
	"github.com/ocpp-csms/csms/internal/csms/txcounter"
	"github.com/ocpp-csms/csms/internal/logger"
	"github.com/ocpp-csms/csms/internal/ocpp/messages"
	"github.com/ocpp-csms/csms/internal/ocpp/wire"
)

type fakeWriter struct {
	mu    sync.Mutex
	actor *station.Actor
}

func (w *fakeWriter) WriteMessage(data []byte) error {
	f, err := wire.Decode(data)
	if err != nil {
		return err
	}
	if f.Type != wire.TypeCall {
		return nil
	}
	switch f.Action {
	case string(messages.ActionRemoteStartTransaction), string(messages.ActionRemoteStopTransaction):
		go func() {
			msg, _ := wire.EncodeResult(f.MessageID, map[string]string{"status": string(messages.RemoteAccepted)})
			w.mu.Lock()
			actor := w.actor
			w.mu.Unlock()
			actor.HandleInboundFrame(msg)
		}()
	}
	return nil
}

func newHarness(t *testing.T) (*Facade, *registry.Registry) {
	t.Helper()
	log, err := logger.New(nil)
	require.NoError(t, err)
	reg := registry.New("pod-1", nil, log)

	w := &fakeWriter{}
	cfg := station.Config{WatchdogDuration: time.Hour, CallTimeout: 200 * time.Millisecond}
	a := station.New("CP1", w, txcounter.New(), cfg, log)
	w.mu.Lock()
	w.actor = a
	w.mu.Unlock()
	a.Run()
	t.Cleanup(func() { a.Close(core.Disconnected) })
	reg.Put("CP1", a)

	return New(reg), reg
}

func TestStartUnknownChargePointFailsNotConnected(t *testing.T) {
	f, _ := newHarness(t)
	err := f.Start(context.Background(), "UNKNOWN", 1, "TAG")
	require.NotNil(t, err)
	assert.Equal(t, core.KindNotConnected, err.Kind)
}

func TestStartThenStopByConnectorID(t *testing.T) {
	f, reg := newHarness(t)

	require.Nil(t, f.Start(context.Background(), "CP1", 1, "TAG"))

	actor, ok := reg.Get("CP1")
	require.True(t, ok)
	raw, _ := wire.EncodeCall("m1", string(messages.ActionStartTransaction), messages.StartTransactionRequest{
		ConnectorId: 1,
		IdTag:       "TAG",
		MeterStart:  0,
		Timestamp:   messages.Now(),
	})
	actor.HandleInboundFrame(raw)
	time.Sleep(30 * time.Millisecond)

	require.Len(t, f.ListActive(), 1)

	connectorID := 1
	txID, stopErr := f.Stop(context.Background(), "CP1", nil, &connectorID)
	require.Nil(t, stopErr)
	assert.Equal(t, 1, txID)
}

func TestReleaseBusyWhileActive(t *testing.T) {
	f, reg := newHarness(t)

	require.Nil(t, f.Start(context.Background(), "CP1", 1, "TAG"))
	actor, _ := reg.Get("CP1")
	raw, _ := wire.EncodeCall("m1", string(messages.ActionStartTransaction), messages.StartTransactionRequest{
		ConnectorId: 1,
		IdTag:       "TAG",
		MeterStart:  0,
		Timestamp:   messages.Now(),
	})
	actor.HandleInboundFrame(raw)
	time.Sleep(30 * time.Millisecond)

	err := f.Release(context.Background(), "CP1", 1)
	require.NotNil(t, err)
	assert.Equal(t, core.KindBusy, err.Kind)
}

func TestListStatusAggregatesAcrossChargePoints(t *testing.T) {
	f, reg := newHarness(t)

	log, _ := logger.New(nil)
	w2 := &fakeWriter{}
	a2 := station.New("CP2", w2, txcounter.New(), station.DefaultConfig(), log)
	w2.actor = a2
	a2.Run()
	t.Cleanup(func() { a2.Close(core.Disconnected) })
	reg.Put("CP2", a2)

	raw, _ := wire.EncodeCall("m1", string(messages.ActionStatusNotification), messages.StatusNotificationRequest{
		ConnectorId: 1,
		ErrorCode:   messages.ErrorCodeNoError,
		Status:      messages.StatusAvailable,
	})
	a2.HandleInboundFrame(raw)
	time.Sleep(20 * time.Millisecond)

	statuses := f.ListStatus()
	var sawCP2 bool
	for _, s := range statuses {
		if s.ChargePointID == "CP2" {
			sawCP2 = true
		}
	}
	assert.True(t, sawCP2)
}
