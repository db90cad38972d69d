// Package simulator implements a charge point test double speaking
// OCPP 1.6J over WebSocket: it dials a CSMS, runs the boot/heartbeat
// lifecycle, and can drive a charging session end to end. It reuses
// internal/ocpp/wire for framing and internal/ocpp/messages for
// payload shapes rather than re-deriving either.
//
// Grounded on the weilun-shrimp charger simulator's receive-loop and
// pendingCalls dispatch pattern, and on the JoseRFJuniorLLMs-EV-IA
// simulator's gorilla/websocket dialing and heartbeat-loop structure.
package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ocpp-csms/csms/internal/logger"
	"github.com/ocpp-csms/csms/internal/ocpp/messages"
	"github.com/ocpp-csms/csms/internal/ocpp/wire"
)

// Config describes the identity and behavior of one simulated charge
// point.
type Config struct {
	ServerURL         string
	ChargePointID     string
	Vendor            string
	Model             string
	SerialNumber      string
	FirmwareVersion   string
	ConnectorCount    int
	IdTag             string
	CallTimeout       time.Duration
	HandshakeTimeout  time.Duration
}

// DefaultConfig returns sane defaults for a single-connector charge
// point pointed at a local CSMS.
func DefaultConfig() Config {
	return Config{
		ServerURL:        "ws://127.0.0.1:9000/ocpp",
		ChargePointID:    "SIM-" + uuid.NewString()[:8],
		Vendor:           "Acme",
		Model:            "SimulatorV1",
		SerialNumber:     "SIM0001",
		FirmwareVersion:  "1.0.0",
		ConnectorCount:   1,
		IdTag:            "DEMO-TAG",
		CallTimeout:      10 * time.Second,
		HandshakeTimeout: 5 * time.Second,
	}
}

type connectorState struct {
	id      int
	status  messages.ChargePointStatus
	meterWh int
}

// Charger is one simulated charge point connection.
type Charger struct {
	cfg Config
	log *logger.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	pendingMu    sync.Mutex
	pendingCalls map[string]chan wire.Frame

	stateMu       sync.Mutex
	connectors    map[int]*connectorState
	configKeys    map[string]string
	transactionID int

	heartbeatInterval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Charger in the disconnected state.
func New(cfg Config, log *logger.Logger) *Charger {
	connectors := make(map[int]*connectorState, cfg.ConnectorCount)
	for i := 1; i <= cfg.ConnectorCount; i++ {
		connectors[i] = &connectorState{id: i, status: messages.StatusAvailable}
	}

	return &Charger{
		cfg:          cfg,
		log:          log,
		pendingCalls: make(map[string]chan wire.Frame),
		connectors:   connectors,
		configKeys: map[string]string{
			"HeartbeatInterval":         "300",
			"AuthorizeRemoteTxRequests": "true",
			"QRcodeConnectorID1":        "true",
		},
		heartbeatInterval: 300 * time.Second,
		stopCh:            make(chan struct{}),
	}
}

// Connect dials the CSMS, starts the read loop, runs the boot
// handshake, and starts the heartbeat loop using whatever interval
// the CSMS granted.
func (c *Charger) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		Subprotocols:     []string{"ocpp1.6"},
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	url := fmt.Sprintf("%s/%s", c.cfg.ServerURL, c.cfg.ChargePointID)
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	c.wg.Add(1)
	go c.readLoop()

	resp, err := c.bootNotification()
	if err != nil {
		return fmt.Errorf("boot notification: %w", err)
	}
	if resp.Status != messages.RegistrationAccepted {
		c.log.Warnf("%s: boot notification not accepted: %s", c.cfg.ChargePointID, resp.Status)
	}
	if resp.Interval > 0 {
		c.heartbeatInterval = time.Duration(resp.Interval) * time.Second
	}

	for _, conn := range c.connectors {
		_ = c.StatusNotification(conn.id, messages.StatusAvailable, messages.ErrorCodeNoError)
	}

	c.wg.Add(1)
	go c.heartbeatLoop()

	c.log.Infof("%s: connected to %s", c.cfg.ChargePointID, c.cfg.ServerURL)
	return nil
}

// Close stops the background loops and closes the connection.
func (c *Charger) Close() error {
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	c.wg.Wait()
	return nil
}

func (c *Charger) heartbeatLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			if err := c.Heartbeat(); err != nil {
				c.log.Errorf("%s: heartbeat failed: %v", c.cfg.ChargePointID, err)
			}
		}
	}
}

func (c *Charger) readLoop() {
	defer c.wg.Done()
	for {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()
		if conn == nil {
			return
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.stopCh:
			default:
				c.log.Errorf("%s: read failed: %v", c.cfg.ChargePointID, err)
			}
			return
		}
		go c.handleFrame(data)
	}
}

func (c *Charger) handleFrame(data []byte) {
	f, err := wire.Decode(data)
	if err != nil {
		c.log.Errorf("%s: malformed frame: %v", c.cfg.ChargePointID, err)
		return
	}

	switch f.Type {
	case wire.TypeCall:
		c.handleInboundCall(f)
	case wire.TypeCallResult, wire.TypeCallError:
		c.pendingMu.Lock()
		ch, ok := c.pendingCalls[f.MessageID]
		if ok {
			delete(c.pendingCalls, f.MessageID)
		}
		c.pendingMu.Unlock()
		if ok {
			ch <- f
		}
	}
}

// sendCall encodes and sends a CALL, then blocks for its matching
// CALLRESULT or CALLERROR up to cfg.CallTimeout.
func (c *Charger) sendCall(action string, payload interface{}) (wire.Frame, error) {
	messageID := uuid.NewString()
	data, err := wire.EncodeCall(messageID, action, payload)
	if err != nil {
		return wire.Frame{}, fmt.Errorf("encode %s: %w", action, err)
	}

	respCh := make(chan wire.Frame, 1)
	c.pendingMu.Lock()
	c.pendingCalls[messageID] = respCh
	c.pendingMu.Unlock()

	if err := c.write(data); err != nil {
		c.pendingMu.Lock()
		delete(c.pendingCalls, messageID)
		c.pendingMu.Unlock()
		return wire.Frame{}, err
	}

	select {
	case f := <-respCh:
		if f.Type == wire.TypeCallError {
			return f, fmt.Errorf("%s rejected: %s: %s", action, f.ErrorCode, f.ErrorDescription)
		}
		return f, nil
	case <-time.After(c.cfg.CallTimeout):
		c.pendingMu.Lock()
		delete(c.pendingCalls, messageID)
		c.pendingMu.Unlock()
		return wire.Frame{}, fmt.Errorf("timeout waiting for %s response", action)
	}
}

func (c *Charger) sendCallResult(messageID string, payload interface{}) error {
	data, err := wire.EncodeResult(messageID, payload)
	if err != nil {
		return fmt.Errorf("encode call result: %w", err)
	}
	return c.write(data)
}

func (c *Charger) sendCallError(messageID, code, description string) error {
	data, err := wire.EncodeError(messageID, code, description, nil)
	if err != nil {
		return fmt.Errorf("encode call error: %w", err)
	}
	return c.write(data)
}

func (c *Charger) write(data []byte) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// handleInboundCall answers CALLs the CSMS initiates: the remote
// command surface a real charge point must honor.
func (c *Charger) handleInboundCall(f wire.Frame) {
	switch f.Action {
	case string(messages.ActionRemoteStartTransaction):
		c.handleRemoteStart(f)
	case string(messages.ActionRemoteStopTransaction):
		c.handleRemoteStop(f)
	case string(messages.ActionUnlockConnector):
		c.handleUnlockConnector(f)
	case string(messages.ActionGetConfiguration):
		c.handleGetConfiguration(f)
	case string(messages.ActionChangeConfiguration):
		c.handleChangeConfiguration(f)
	case string(messages.ActionDataTransfer):
		_ = c.sendCallResult(f.MessageID, messages.DataTransferResponse{Status: messages.DataTransferAccepted})
	default:
		c.log.Warnf("%s: no handler for inbound action %s", c.cfg.ChargePointID, f.Action)
		_ = c.sendCallError(f.MessageID, wire.ErrorNotImplemented, "action not implemented by simulator")
	}
}

func (c *Charger) handleRemoteStart(f wire.Frame) {
	var req messages.RemoteStartTransactionRequest
	if err := json.Unmarshal(f.Payload, &req); err != nil {
		_ = c.sendCallError(f.MessageID, wire.ErrorFormationViolation, err.Error())
		return
	}
	connectorID := 1
	if req.ConnectorId != nil {
		connectorID = *req.ConnectorId
	}
	_ = c.sendCallResult(f.MessageID, messages.RemoteStartTransactionResponse{Status: messages.RemoteAccepted})

	go func() {
		if _, err := c.StartTransaction(connectorID, req.IdTag); err != nil {
			c.log.Errorf("%s: remote start failed: %v", c.cfg.ChargePointID, err)
		}
	}()
}

func (c *Charger) handleRemoteStop(f wire.Frame) {
	var req messages.RemoteStopTransactionRequest
	if err := json.Unmarshal(f.Payload, &req); err != nil {
		_ = c.sendCallError(f.MessageID, wire.ErrorFormationViolation, err.Error())
		return
	}
	_ = c.sendCallResult(f.MessageID, messages.RemoteStopTransactionResponse{Status: messages.RemoteAccepted})

	go func() {
		if err := c.StopTransaction("Remote"); err != nil {
			c.log.Errorf("%s: remote stop failed: %v", c.cfg.ChargePointID, err)
		}
	}()
}

func (c *Charger) handleUnlockConnector(f wire.Frame) {
	var req messages.UnlockConnectorRequest
	if err := json.Unmarshal(f.Payload, &req); err != nil {
		_ = c.sendCallError(f.MessageID, wire.ErrorFormationViolation, err.Error())
		return
	}
	c.stateMu.Lock()
	_, known := c.connectors[req.ConnectorId]
	c.stateMu.Unlock()

	status := messages.UnlockUnlocked
	if !known {
		status = messages.UnlockNotSupported
	}
	_ = c.sendCallResult(f.MessageID, messages.UnlockConnectorResponse{Status: status})
}

func (c *Charger) handleGetConfiguration(f wire.Frame) {
	var req messages.GetConfigurationRequest
	_ = json.Unmarshal(f.Payload, &req)

	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	resp := messages.GetConfigurationResponse{}
	if len(req.Key) == 0 {
		for k, v := range c.configKeys {
			value := v
			resp.ConfigurationKey = append(resp.ConfigurationKey, messages.KeyValue{Key: k, Value: &value})
		}
	} else {
		for _, k := range req.Key {
			if v, ok := c.configKeys[k]; ok {
				value := v
				resp.ConfigurationKey = append(resp.ConfigurationKey, messages.KeyValue{Key: k, Value: &value})
			} else {
				resp.UnknownKey = append(resp.UnknownKey, k)
			}
		}
	}
	_ = c.sendCallResult(f.MessageID, resp)
}

func (c *Charger) handleChangeConfiguration(f wire.Frame) {
	var req messages.ChangeConfigurationRequest
	if err := json.Unmarshal(f.Payload, &req); err != nil {
		_ = c.sendCallError(f.MessageID, wire.ErrorFormationViolation, err.Error())
		return
	}
	c.stateMu.Lock()
	c.configKeys[req.Key] = req.Value
	c.stateMu.Unlock()
	_ = c.sendCallResult(f.MessageID, messages.ChangeConfigurationResponse{Status: messages.ConfigurationAccepted})
}

// bootNotification sends the initial BootNotification and parses the
// response.
func (c *Charger) bootNotification() (messages.BootNotificationResponse, error) {
	f, err := c.sendCall(string(messages.ActionBootNotification), messages.BootNotificationRequest{
		ChargePointVendor:       c.cfg.Vendor,
		ChargePointModel:        c.cfg.Model,
		ChargePointSerialNumber: &c.cfg.SerialNumber,
		FirmwareVersion:         &c.cfg.FirmwareVersion,
	})
	if err != nil {
		return messages.BootNotificationResponse{}, err
	}
	var resp messages.BootNotificationResponse
	if err := json.Unmarshal(f.Payload, &resp); err != nil {
		return messages.BootNotificationResponse{}, fmt.Errorf("decode boot notification response: %w", err)
	}
	return resp, nil
}

// Heartbeat sends a Heartbeat CALL.
func (c *Charger) Heartbeat() error {
	_, err := c.sendCall(string(messages.ActionHeartbeat), messages.HeartbeatRequest{})
	return err
}

// StatusNotification reports a connector's current status.
func (c *Charger) StatusNotification(connectorID int, status messages.ChargePointStatus, errCode messages.ChargePointErrorCode) error {
	c.stateMu.Lock()
	if conn, ok := c.connectors[connectorID]; ok {
		conn.status = status
	}
	c.stateMu.Unlock()

	_, err := c.sendCall(string(messages.ActionStatusNotification), messages.StatusNotificationRequest{
		ConnectorId: connectorID,
		ErrorCode:   errCode,
		Status:      status,
	})
	return err
}

// StartTransaction authorizes idTag and starts a session on
// connectorID, returning the CSMS-assigned transaction id.
func (c *Charger) StartTransaction(connectorID int, idTag string) (int, error) {
	if idTag == "" {
		idTag = c.cfg.IdTag
	}

	if _, err := c.sendCall(string(messages.ActionAuthorize), messages.AuthorizeRequest{IdTag: idTag}); err != nil {
		return 0, fmt.Errorf("authorize: %w", err)
	}

	if err := c.StatusNotification(connectorID, messages.StatusPreparing, messages.ErrorCodeNoError); err != nil {
		return 0, err
	}

	f, err := c.sendCall(string(messages.ActionStartTransaction), messages.StartTransactionRequest{
		ConnectorId: connectorID,
		IdTag:       idTag,
		MeterStart:  c.meterValue(connectorID),
		Timestamp:   messages.Now(),
	})
	if err != nil {
		return 0, fmt.Errorf("start transaction: %w", err)
	}
	var resp messages.StartTransactionResponse
	if err := json.Unmarshal(f.Payload, &resp); err != nil {
		return 0, fmt.Errorf("decode start transaction response: %w", err)
	}

	c.stateMu.Lock()
	c.transactionID = resp.TransactionId
	c.stateMu.Unlock()

	if err := c.StatusNotification(connectorID, messages.StatusCharging, messages.ErrorCodeNoError); err != nil {
		return 0, err
	}

	c.log.Infof("%s: transaction %d started on connector %d", c.cfg.ChargePointID, resp.TransactionId, connectorID)
	return resp.TransactionId, nil
}

// StopTransaction ends the active session, if any.
func (c *Charger) StopTransaction(reason string) error {
	c.stateMu.Lock()
	txID := c.transactionID
	c.stateMu.Unlock()
	if txID == 0 {
		return fmt.Errorf("no active transaction")
	}

	connectorID := c.firstChargingConnector()
	meterStop := c.meterValue(connectorID)

	req := messages.StopTransactionRequest{
		MeterStop:     meterStop,
		Timestamp:     messages.Now(),
		TransactionId: txID,
	}
	if reason != "" {
		req.Reason = &reason
	}

	if _, err := c.sendCall(string(messages.ActionStopTransaction), req); err != nil {
		return fmt.Errorf("stop transaction: %w", err)
	}

	c.stateMu.Lock()
	c.transactionID = 0
	c.stateMu.Unlock()

	if err := c.StatusNotification(connectorID, messages.StatusAvailable, messages.ErrorCodeNoError); err != nil {
		return err
	}

	c.log.Infof("%s: transaction %d stopped", c.cfg.ChargePointID, txID)
	return nil
}

// SendMeterValue reports one sampled Energy.Active.Import.Register
// reading for the active transaction on connectorID.
func (c *Charger) SendMeterValue(connectorID, wattHours int) error {
	c.stateMu.Lock()
	if conn, ok := c.connectors[connectorID]; ok {
		conn.meterWh = wattHours
	}
	txID := c.transactionID
	c.stateMu.Unlock()

	var txPtr *int
	if txID != 0 {
		txPtr = &txID
	}

	value := fmt.Sprintf("%d", wattHours)
	measurand := "Energy.Active.Import.Register"
	unit := "Wh"

	_, err := c.sendCall(string(messages.ActionMeterValues), messages.MeterValuesRequest{
		ConnectorId:   connectorID,
		TransactionId: txPtr,
		MeterValue: []messages.MeterValue{{
			Timestamp: messages.Now(),
			SampledValue: []messages.SampledValue{{
				Value:     value,
				Measurand: &measurand,
				Unit:      &unit,
			}},
		}},
	})
	return err
}

func (c *Charger) meterValue(connectorID int) int {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if conn, ok := c.connectors[connectorID]; ok {
		return conn.meterWh
	}
	return 0
}

func (c *Charger) firstChargingConnector() int {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	for id, conn := range c.connectors {
		if conn.status == messages.StatusCharging {
			return id
		}
	}
	return 1
}
