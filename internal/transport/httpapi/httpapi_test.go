package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocpp-csms/csms/internal/csms/operator"
	"github.com/ocpp-csms/csms/internal/csms/registry"
	"github.com/ocpp-csms/csms/internal/csms/station"
	"github.com/ocpp-csms/csms/internal/csms/txcounter"
	"github.com/ocpp-csms/csms/internal/logger"
	"github.com/ocpp-csms/csms/internal/ocpp/messages"
	"github.com/ocpp-csms/csms/internal/ocpp/wire"
)

type fakeWriter struct {
	actor   *station.Actor
	respond func(f wire.Frame) (interface{}, bool)
}

func (w *fakeWriter) WriteMessage(data []byte) error {
	f, err := wire.Decode(data)
	if err != nil || f.Type != wire.TypeCall {
		return nil
	}
	if w.respond == nil {
		return nil
	}
	if payload, ok := w.respond(f); ok {
		go func() {
			msg, _ := wire.EncodeResult(f.MessageID, payload)
			w.actor.HandleInboundFrame(msg)
		}()
	}
	return nil
}

func acceptAllWriter() *fakeWriter {
	return &fakeWriter{respond: func(f wire.Frame) (interface{}, bool) {
		switch f.Action {
		case string(messages.ActionRemoteStartTransaction), string(messages.ActionRemoteStopTransaction):
			return messages.RemoteStartTransactionResponse{Status: messages.RemoteAccepted}, true
		case string(messages.ActionUnlockConnector):
			return messages.UnlockConnectorResponse{Status: messages.UnlockUnlocked}, true
		}
		return nil, false
	}}
}

func newTestServer(t *testing.T) (*Server, *registry.Registry) {
	t.Helper()
	log, err := logger.New(nil)
	require.NoError(t, err)

	reg := registry.New("pod-1", nil, log)
	w := acceptAllWriter()
	actor := station.New("CP1", w, txcounter.New(), station.Config{WatchdogDuration: time.Hour, CallTimeout: time.Second}, log)
	w.actor = actor
	actor.Run()
	t.Cleanup(func() {})
	reg.Put("CP1", actor)

	facade := operator.New(reg)
	return New(facade, "secret-key", "DEFAULT", log), reg
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}, apiKey string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

// startSession feeds the actor a charger-side StartTransaction for
// connectorID, so the connector holds an active session.
func startSession(t *testing.T, actor *station.Actor, connectorID int, idTag string) {
	t.Helper()
	raw, err := wire.EncodeCall("start-tx", string(messages.ActionStartTransaction), messages.StartTransactionRequest{
		ConnectorId: connectorID,
		IdTag:       idTag,
		MeterStart:  0,
		Timestamp:   messages.Now(),
	})
	require.NoError(t, err)
	actor.HandleInboundFrame(raw)
}

func TestHealthDoesNotRequireAPIKey(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/v1/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStartRequiresAPIKeyWhenConfigured(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/start", startRequest{ChargePointID: "CP1", ConnectorID: 1}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStartSucceedsWithAPIKey(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/start", startRequest{ChargePointID: "CP1", ConnectorID: 1, IdTag: "TAG1"}, "secret-key")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStartUnknownChargePointReturns404(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/start", startRequest{ChargePointID: "UNKNOWN", ConnectorID: 1}, "secret-key")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartMissingConnectorIdFailsValidation(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/start", map[string]string{"cpid": "CP1"}, "secret-key")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReleaseBusyReturns400(t *testing.T) {
	s, reg := newTestServer(t)
	actor, ok := reg.Get("CP1")
	require.True(t, ok)
	require.Nil(t, actor.Start(context.Background(), 1, "TAG1"))
	startSession(t, actor, 1, "TAG1")

	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/release", releaseRequest{ChargePointID: "CP1", ConnectorID: 1}, "secret-key")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChargeStopAliasMatchesStop(t *testing.T) {
	s, reg := newTestServer(t)
	actor, ok := reg.Get("CP1")
	require.True(t, ok)
	require.Nil(t, actor.Start(context.Background(), 2, "TAG1"))
	startSession(t, actor, 2, "TAG1")

	connectorID := 2
	rec := doJSON(t, s.Handler(), http.MethodPost, "/charge/stop", stopRequest{ChargePointID: "CP1", ConnectorID: &connectorID}, "secret-key")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListRoutesReturnData(t *testing.T) {
	s, reg := newTestServer(t)
	actor, ok := reg.Get("CP1")
	require.True(t, ok)
	require.Nil(t, actor.Start(context.Background(), 3, "TAG1"))
	startSession(t, actor, 3, "TAG1")

	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/v1/active", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "CP1")

	rec = doJSON(t, s.Handler(), http.MethodGet, "/api/v1/status", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
