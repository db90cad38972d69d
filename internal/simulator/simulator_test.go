package simulator

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ocpp-csms/csms/internal/csms/registry"
	"github.com/ocpp-csms/csms/internal/csms/station"
	"github.com/ocpp-csms/csms/internal/csms/txcounter"
	"github.com/ocpp-csms/csms/internal/logger"
	"github.com/ocpp-csms/csms/internal/transport/wsserver"
)

func newTestCSMS(t *testing.T) (*httptest.Server, *registry.Registry) {
	t.Helper()
	log, err := logger.New(nil)
	require.NoError(t, err)

	reg := registry.New("pod-1", nil, log)
	srv := wsserver.New(wsserver.Config{
		Host:             "127.0.0.1",
		PathPrefix:       "/ocpp/",
		Subprotocol:      "ocpp1.6",
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		HandshakeTimeout: time.Second,
		PingInterval:     time.Hour,
		PongTimeout:      time.Second,
		MaxMessageSize:   1 << 20,
		MaxConnections:   10,
	}, reg, txcounter.New(), station.Config{WatchdogDuration: time.Hour, CallTimeout: time.Second}, nil, nil, log)

	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(httpSrv.Close)
	return httpSrv, reg
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newTestCharger(t *testing.T, srv *httptest.Server, chargePointID string) *Charger {
	t.Helper()
	log, err := logger.New(nil)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.ServerURL = wsURL(srv) + "/ocpp"
	cfg.ChargePointID = chargePointID
	cfg.CallTimeout = 2 * time.Second
	cfg.HandshakeTimeout = 2 * time.Second

	charger := New(cfg, log)
	t.Cleanup(func() { charger.Close() })
	return charger
}

func TestConnectRegistersWithCSMS(t *testing.T) {
	srv, reg := newTestCSMS(t)
	charger := newTestCharger(t, srv, "SIM-CONNECT")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, charger.Connect(ctx))

	require.Eventually(t, func() bool {
		_, ok := reg.Get("SIM-CONNECT")
		return ok
	}, time.Second, 10*time.Millisecond)
}

func TestStartAndStopTransaction(t *testing.T) {
	srv, _ := newTestCSMS(t)
	charger := newTestCharger(t, srv, "SIM-SESSION")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, charger.Connect(ctx))

	txID, err := charger.StartTransaction(1, "DEMO-TAG")
	require.NoError(t, err)
	require.NotZero(t, txID)

	require.NoError(t, charger.SendMeterValue(1, 500))
	require.NoError(t, charger.StopTransaction("Local"))
}

func TestHeartbeat(t *testing.T) {
	srv, _ := newTestCSMS(t)
	charger := newTestCharger(t, srv, "SIM-HEARTBEAT")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, charger.Connect(ctx))

	require.NoError(t, charger.Heartbeat())
}
