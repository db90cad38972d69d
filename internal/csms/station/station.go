// Package station implements the per-charge-point actor: one goroutine
// owning a connection's live state (sessions, pending remote-start
// correlation, connector statuses, watchdogs), dispatching every
// inbound CALL and every operator command through a single serialized
// loop.
package station

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ocpp-csms/csms/internal/csms/core"
	"github.com/ocpp-csms/csms/internal/csms/txcounter"
	"github.com/ocpp-csms/csms/internal/logger"
	"github.com/ocpp-csms/csms/internal/metrics"
	"github.com/ocpp-csms/csms/internal/ocpp/messages"
	"github.com/ocpp-csms/csms/internal/ocpp/mux"
	"github.com/ocpp-csms/csms/internal/ocpp/wire"
)

// Config carries the per-actor tunables an operator can set: watchdog
// duration, call timeout.
type Config struct {
	WatchdogDuration time.Duration
	CallTimeout      time.Duration
}

// DefaultConfig returns the actor's default timeouts.
func DefaultConfig() Config {
	return Config{
		WatchdogDuration: 90 * time.Second,
		CallTimeout:      mux.DefaultTimeout,
	}
}

// Session is a live, in-progress transaction on one connector.
type Session struct {
	TransactionID int
	ConnectorID   int
	IdTag         string
	MeterStart    int
	StartTime     time.Time
	Vid           *string
}

// CompletedSession is an append-only record of a finished session.
type CompletedSession struct {
	Session
	MeterStop    int
	Energy       int
	StopTime     time.Time
	DurationSecs int
}

// pendingStartMeta is the operator-supplied metadata attached to a
// session once StartTransaction arrives.
type pendingStartMeta struct {
	IdTag string
	Vid   *string
}

// EventSink receives best-effort notifications for side channels
// (Kafka fan-out) that must never block the actor.
type EventSink interface {
	SessionCompleted(chargePointID string, session CompletedSession)
	StatusChanged(chargePointID string, connectorID int, status string)
}

type noopSink struct{}

func (noopSink) SessionCompleted(string, CompletedSession) {}
func (noopSink) StatusChanged(string, int, string)         {}

// BootHook is invoked, off the dispatch loop, after a BootNotification
// has been acknowledged. It is how internal/csms/boot is wired in
// without the actor importing it.
type BootHook func(a *Actor)

type task struct {
	fn   func()
	done chan struct{}
}

// Actor owns one charge point's live state and connection. It is
// created on WebSocket accept and destroyed on close, never shared
// across processes.
type Actor struct {
	ID     string
	cfg    Config
	writer mux.Writer
	mux    *mux.Multiplexer
	counter *txcounter.Counter
	log    *logger.Logger
	sink   EventSink
	onBoot BootHook

	inbox    chan task
	closedCh chan struct{}
	stopCh   chan struct{}
	closeOnce sync.Once

	// Owned exclusively by the dispatch goroutine; never touched from
	// outside a task run on the inbox.
	activeTx        map[int]*Session
	pendingRemote   map[int]string
	pendingStart    map[int]pendingStartMeta
	connectorStatus map[int]string
	watchdogs       map[int]*time.Timer
	completed       []CompletedSession
}

// New creates an Actor for chargePointID, writing frames through writer.
func New(chargePointID string, writer mux.Writer, counter *txcounter.Counter, cfg Config, log *logger.Logger) *Actor {
	if cfg.WatchdogDuration <= 0 {
		cfg.WatchdogDuration = DefaultConfig().WatchdogDuration
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultConfig().CallTimeout
	}
	return &Actor{
		ID:              chargePointID,
		cfg:             cfg,
		writer:          writer,
		mux:             mux.New(writer),
		counter:         counter,
		log:             log,
		sink:            noopSink{},
		inbox:           make(chan task, 16),
		closedCh:        make(chan struct{}),
		stopCh:          make(chan struct{}),
		activeTx:        make(map[int]*Session),
		pendingRemote:   make(map[int]string),
		pendingStart:    make(map[int]pendingStartMeta),
		connectorStatus: make(map[int]string),
		watchdogs:       make(map[int]*time.Timer),
	}
}

// Call issues an outbound CALL through the actor's multiplexer. It is
// the seam internal/csms/boot uses to probe and configure a charger
// after BootNotification, without reaching into the actor's private
// state.
func (a *Actor) Call(ctx context.Context, action string, payload interface{}, timeout time.Duration) (json.RawMessage, error) {
	return a.mux.Call(ctx, action, payload, timeout)
}

// SetEventSink wires a best-effort side-channel notifier. Must be
// called before Run.
func (a *Actor) SetEventSink(sink EventSink) {
	if sink != nil {
		a.sink = sink
	}
}

// SetBootHook wires the boot configurator. Must be called before Run.
func (a *Actor) SetBootHook(hook BootHook) {
	a.onBoot = hook
}

// Run starts the actor's single dispatch goroutine. It returns
// immediately; call from the goroutine that owns the connection accept.
func (a *Actor) Run() {
	go a.dispatchLoop()
}

func (a *Actor) dispatchLoop() {
	for {
		select {
		case t := <-a.inbox:
			t.fn()
			close(t.done)
		case <-a.stopCh:
			return
		}
	}
}

// runSync enqueues fn onto the dispatch loop and blocks until it runs,
// or until the actor is already closed. Every read or mutation of
// actor state, from any goroutine, must go through this.
func (a *Actor) runSync(fn func()) bool {
	t := task{fn: fn, done: make(chan struct{})}
	select {
	case a.inbox <- t:
	case <-a.closedCh:
		return false
	}
	select {
	case <-t.done:
		return true
	case <-a.closedCh:
		return false
	}
}

// runAsync enqueues fn without waiting, used by watchdog fires where
// nothing blocks on the result.
func (a *Actor) runAsync(fn func()) {
	t := task{fn: fn, done: make(chan struct{})}
	select {
	case a.inbox <- t:
	case <-a.closedCh:
	}
}

// Close cancels every watchdog, fails every outstanding call awaiter
// with reason, and stops the dispatch loop. After this returns, no
// awaiter or watchdog for this actor remains alive.
func (a *Actor) Close(reason *core.Error) {
	a.closeOnce.Do(func() {
		close(a.closedCh)
		done := make(chan struct{})
		select {
		case a.inbox <- task{fn: func() {
			for cid, timer := range a.watchdogs {
				timer.Stop()
				delete(a.watchdogs, cid)
			}
		}, done: done}:
			<-done
		case <-time.After(time.Second):
			// Dispatch loop already gone; nothing left to run.
		}
		close(a.stopCh)
		a.mux.CloseAll(reason)
	})
}

// HandleInboundFrame decodes one WebSocket text message and routes it:
// CALLs are dispatched (serialized) through the actor's own handlers;
// CALLRESULT/CALLERROR resolve an outstanding call() awaiter directly,
// without waiting on the dispatch loop, so a blocked outbound call()
// does not deadlock on its own reply.
func (a *Actor) HandleInboundFrame(raw []byte) {
	f, err := wire.Decode(raw)
	if err != nil {
		a.log.Warnf("%s: dropping malformed frame: %v", a.ID, err)
		return
	}
	switch f.Type {
	case wire.TypeCall:
		a.runAsync(func() { a.handleCallFrame(f) })
	case wire.TypeCallResult, wire.TypeCallError:
		a.mux.Resolve(f)
	}
}

type frameError struct {
	Code        string
	Description string
}

func (a *Actor) handleCallFrame(f wire.Frame) {
	metrics.MessagesReceived.WithLabelValues(f.Action).Inc()
	timer := prometheus.NewTimer(metrics.MessageProcessingDuration.WithLabelValues(f.Action))
	defer timer.ObserveDuration()

	payload, ferr := a.dispatchAction(messages.Action(f.Action), f.Payload)
	if ferr != nil {
		msg, err := wire.EncodeError(f.MessageID, ferr.Code, ferr.Description, nil)
		if err != nil {
			a.log.Errorf("%s: encoding CALLERROR for %s: %v", a.ID, f.Action, err)
			return
		}
		if err := a.writer.WriteMessage(msg); err != nil {
			a.log.Warnf("%s: writing CALLERROR: %v", a.ID, err)
		}
		return
	}

	msg, err := wire.EncodeResult(f.MessageID, payload)
	if err != nil {
		a.log.Errorf("%s: encoding CALLRESULT for %s: %v", a.ID, f.Action, err)
		return
	}
	if err := a.writer.WriteMessage(msg); err != nil {
		a.log.Warnf("%s: writing CALLRESULT: %v", a.ID, err)
		return
	}

	if f.Action == string(messages.ActionBootNotification) && a.onBoot != nil {
		go a.onBoot(a)
	}
}

var payloadValidator = validator.New()

// decodeInto unmarshals raw into v and runs struct-tag validation over
// the decoded inbound OCPP payload.
func decodeInto(raw json.RawMessage, v interface{}) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return err
	}
	return payloadValidator.Struct(v)
}

func (a *Actor) dispatchAction(action messages.Action, raw json.RawMessage) (interface{}, *frameError) {
	switch action {
	case messages.ActionBootNotification:
		var req messages.BootNotificationRequest
		if err := decodeInto(raw, &req); err != nil {
			return nil, malformed(err)
		}
		return a.handleBootNotification(req), nil

	case messages.ActionHeartbeat:
		return messages.HeartbeatResponse{CurrentTime: messages.Now()}, nil

	case messages.ActionAuthorize:
		var req messages.AuthorizeRequest
		if err := decodeInto(raw, &req); err != nil {
			return nil, malformed(err)
		}
		return messages.AuthorizeResponse{IdTagInfo: messages.IdTagInfo{Status: messages.AuthorizationAccepted}}, nil

	case messages.ActionStatusNotification:
		var req messages.StatusNotificationRequest
		if err := decodeInto(raw, &req); err != nil {
			return nil, malformed(err)
		}
		a.handleStatusNotification(req)
		return messages.StatusNotificationResponse{}, nil

	case messages.ActionMeterValues:
		var req messages.MeterValuesRequest
		if err := decodeInto(raw, &req); err != nil {
			return nil, malformed(err)
		}
		a.log.Debugf("%s: meter values on connector %d: %d samples", a.ID, req.ConnectorId, len(req.MeterValue))
		return messages.MeterValuesResponse{}, nil

	case messages.ActionDataTransfer:
		var req messages.DataTransferRequest
		if err := decodeInto(raw, &req); err != nil {
			return nil, malformed(err)
		}
		return messages.DataTransferResponse{Status: messages.DataTransferAccepted}, nil

	case messages.ActionStartTransaction:
		var req messages.StartTransactionRequest
		if err := decodeInto(raw, &req); err != nil {
			return nil, malformed(err)
		}
		return a.handleStartTransaction(req), nil

	case messages.ActionStopTransaction:
		var req messages.StopTransactionRequest
		if err := decodeInto(raw, &req); err != nil {
			return nil, malformed(err)
		}
		return a.handleStopTransaction(req), nil

	default:
		return nil, &frameError{Code: wire.ErrorNotImplemented, Description: "unsupported action: " + string(action)}
	}
}

func malformed(err error) *frameError {
	return &frameError{Code: wire.ErrorFormationViolation, Description: err.Error()}
}

func (a *Actor) handleBootNotification(req messages.BootNotificationRequest) messages.BootNotificationResponse {
	a.log.Infof("%s: boot notification from %s %s", a.ID, req.ChargePointVendor, req.ChargePointModel)
	return messages.BootNotificationResponse{
		Status:      messages.RegistrationAccepted,
		CurrentTime: messages.Now(),
		Interval:    300,
	}
}

func (a *Actor) handleStatusNotification(req messages.StatusNotificationRequest) {
	status := string(req.Status)
	a.connectorStatus[req.ConnectorId] = status
	a.armOrDisarmWatchdog(req.ConnectorId, status)
	a.sink.StatusChanged(a.ID, req.ConnectorId, status)
}

// armOrDisarmWatchdog arms a watchdog timer while a connector sits in
// Preparing or Occupied with no active transaction, and disarms it
// once that transaction starts or the connector returns elsewhere.
func (a *Actor) armOrDisarmWatchdog(connectorID int, status string) {
	_, active := a.activeTx[connectorID]
	_, watching := a.watchdogs[connectorID]
	needsWatch := (status == string(messages.StatusPreparing) || status == string(messages.StatusOccupied)) && !active

	if needsWatch {
		if !watching {
			a.armWatchdog(connectorID)
		}
		return
	}
	a.cancelWatchdog(connectorID)
}

func (a *Actor) armWatchdog(connectorID int) {
	timer := time.AfterFunc(a.cfg.WatchdogDuration, func() {
		a.runAsync(func() { a.watchdogFire(connectorID) })
	})
	a.watchdogs[connectorID] = timer
}

func (a *Actor) cancelWatchdog(connectorID int) {
	if timer, ok := a.watchdogs[connectorID]; ok {
		timer.Stop()
		delete(a.watchdogs, connectorID)
	}
}

// watchdogFire runs on the dispatch loop, so it serializes naturally
// against a concurrently arriving StartTransaction: whichever reaches
// the loop first wins the tie.
func (a *Actor) watchdogFire(connectorID int) {
	delete(a.watchdogs, connectorID)

	if _, active := a.activeTx[connectorID]; active {
		return
	}
	status := a.connectorStatus[connectorID]
	if status != string(messages.StatusPreparing) && status != string(messages.StatusOccupied) {
		return
	}

	delete(a.pendingRemote, connectorID)
	delete(a.pendingStart, connectorID)
	metrics.WatchdogFires.Inc()
	a.unlockFireAndForget(connectorID)
}

// unlockFireAndForget issues UnlockConnector without awaiting its
// reply. It runs in its own goroutine so it never blocks the dispatch
// loop.
func (a *Actor) unlockFireAndForget(connectorID int) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.CallTimeout)
		defer cancel()
		_, err := a.mux.Call(ctx, string(messages.ActionUnlockConnector), messages.UnlockConnectorRequest{ConnectorId: connectorID}, a.cfg.CallTimeout)
		recordCallOutcome(string(messages.ActionUnlockConnector), err)
		if err != nil {
			a.log.Warnf("%s: UnlockConnector(%d) failed: %v", a.ID, connectorID, err)
		}
	}()
}

func (a *Actor) handleStartTransaction(req messages.StartTransactionRequest) messages.StartTransactionResponse {
	connectorID := req.ConnectorId

	if expected, ok := a.pendingRemote[connectorID]; ok && expected != req.IdTag {
		delete(a.pendingRemote, connectorID)
		delete(a.pendingStart, connectorID)
		a.unlockFireAndForget(connectorID)
		return messages.StartTransactionResponse{
			TransactionId: 0,
			IdTagInfo:     messages.IdTagInfo{Status: messages.AuthorizationInvalid},
		}
	}

	txID := a.counter.Next()
	meta, hadMeta := a.pendingStart[connectorID]
	delete(a.pendingStart, connectorID)
	delete(a.pendingRemote, connectorID)
	a.cancelWatchdog(connectorID)

	sess := &Session{
		TransactionID: txID,
		ConnectorID:   connectorID,
		IdTag:         req.IdTag,
		MeterStart:    req.MeterStart,
		StartTime:     req.Timestamp.Time,
	}
	if hadMeta {
		sess.Vid = meta.Vid
	}
	a.activeTx[connectorID] = sess

	return messages.StartTransactionResponse{
		TransactionId: txID,
		IdTagInfo:     messages.IdTagInfo{Status: messages.AuthorizationAccepted},
	}
}

func (a *Actor) handleStopTransaction(req messages.StopTransactionRequest) messages.StopTransactionResponse {
	var connectorID int
	var sess *Session
	for cid, s := range a.activeTx {
		if s.TransactionID == req.TransactionId {
			connectorID, sess = cid, s
			break
		}
	}

	if sess != nil {
		delete(a.activeTx, connectorID)
		cs := CompletedSession{
			Session:      *sess,
			MeterStop:    req.MeterStop,
			Energy:       req.MeterStop - sess.MeterStart,
			StopTime:     req.Timestamp.Time,
			DurationSecs: int(req.Timestamp.Time.Sub(sess.StartTime).Seconds()),
		}
		a.completed = append(a.completed, cs)
		a.sink.SessionCompleted(a.ID, cs)
		metrics.SessionsCompleted.Inc()
	}

	return messages.StopTransactionResponse{IdTagInfo: &messages.IdTagInfo{Status: messages.AuthorizationAccepted}}
}

// Start implements the operator façade's start(). It issues
// RemoteStartTransaction through the multiplexer, serialized against
// inbound frame handling.
func (a *Actor) Start(ctx context.Context, connectorID int, idTag string) *core.Error {
	resultErr := core.Disconnected
	ok := a.runSync(func() {
		a.pendingStart[connectorID] = pendingStartMeta{IdTag: idTag}

		cid := connectorID
		payload, err := a.mux.Call(ctx, string(messages.ActionRemoteStartTransaction), messages.RemoteStartTransactionRequest{ConnectorId: &cid, IdTag: idTag}, a.cfg.CallTimeout)
		recordCallOutcome(string(messages.ActionRemoteStartTransaction), err)
		if err != nil {
			delete(a.pendingStart, connectorID)
			resultErr = asCoreError(err)
			return
		}

		var resp messages.RemoteStartTransactionResponse
		if jsonErr := json.Unmarshal(payload, &resp); jsonErr != nil {
			delete(a.pendingStart, connectorID)
			resultErr = core.Wrap(core.KindRemoteRejected, jsonErr, "decoding RemoteStartTransaction response")
			return
		}
		if resp.Status != messages.RemoteAccepted {
			delete(a.pendingStart, connectorID)
			resultErr = core.Newf(core.KindRemoteRejected, "charger rejected RemoteStartTransaction on connector %d", connectorID)
			return
		}

		a.pendingRemote[connectorID] = idTag
		resultErr = nil
	})
	if !ok {
		return core.Disconnected
	}
	return resultErr
}

// Stop implements the operator façade's stop(). A non-nil transactionID
// is used as given; otherwise connectorID is looked up among the active
// sessions. If neither yields a transaction, it fails NoActiveTransaction.
func (a *Actor) Stop(ctx context.Context, transactionID *int, connectorID *int) (int, *core.Error) {
	var resolvedTxID int
	resultErr := core.Disconnected
	ok := a.runSync(func() {
		resolvedTxID = 0
		switch {
		case transactionID != nil:
			resolvedTxID = *transactionID
		case connectorID != nil:
			sess, ok := a.activeTx[*connectorID]
			if !ok {
				resultErr = core.NoActiveTransaction
				return
			}
			resolvedTxID = sess.TransactionID
		default:
			resultErr = core.NoActiveTransaction
			return
		}

		payload, err := a.mux.Call(ctx, string(messages.ActionRemoteStopTransaction), messages.RemoteStopTransactionRequest{TransactionId: resolvedTxID}, a.cfg.CallTimeout)
		recordCallOutcome(string(messages.ActionRemoteStopTransaction), err)
		if err != nil {
			resultErr = asCoreError(err)
			return
		}

		var resp messages.RemoteStopTransactionResponse
		if jsonErr := json.Unmarshal(payload, &resp); jsonErr != nil {
			resultErr = core.Wrap(core.KindRemoteRejected, jsonErr, "decoding RemoteStopTransaction response")
			return
		}
		if resp.Status != messages.RemoteAccepted {
			resultErr = core.Newf(core.KindRemoteRejected, "charger rejected RemoteStopTransaction for transaction %d", resolvedTxID)
			return
		}
		resultErr = nil
	})
	if !ok {
		return 0, core.Disconnected
	}
	return resolvedTxID, resultErr
}

// Release implements the operator façade's release().
func (a *Actor) Release(ctx context.Context, connectorID int) *core.Error {
	resultErr := core.Disconnected
	ok := a.runSync(func() {
		if _, active := a.activeTx[connectorID]; active {
			resultErr = core.Busy
			return
		}
		a.cancelWatchdog(connectorID)
		delete(a.pendingRemote, connectorID)
		delete(a.pendingStart, connectorID)
		a.unlockFireAndForget(connectorID)
		resultErr = nil
	})
	if !ok {
		return core.Disconnected
	}
	return resultErr
}

// ActiveSession is a read-only snapshot returned by ListActive.
type ActiveSession struct {
	ChargePointID string
	ConnectorID   int
	TransactionID int
	IdTag         string
	MeterStart    int
	StartTime     time.Time
}

// ConnectorStatus is a read-only snapshot returned by ListStatus.
type ConnectorStatus struct {
	ChargePointID string
	ConnectorID   int
	Status        string
}

// ListActive returns a snapshot of every live session.
func (a *Actor) ListActive() []ActiveSession {
	var out []ActiveSession
	a.runSync(func() {
		for _, s := range a.activeTx {
			out = append(out, ActiveSession{
				ChargePointID: a.ID,
				ConnectorID:   s.ConnectorID,
				TransactionID: s.TransactionID,
				IdTag:         s.IdTag,
				MeterStart:    s.MeterStart,
				StartTime:     s.StartTime,
			})
		}
	})
	return out
}

// ListCompleted returns a snapshot of finished sessions.
func (a *Actor) ListCompleted() []CompletedSession {
	var out []CompletedSession
	a.runSync(func() {
		out = append(out, a.completed...)
	})
	return out
}

// ListStatus returns a snapshot of every connector's last known status.
func (a *Actor) ListStatus() []ConnectorStatus {
	var out []ConnectorStatus
	a.runSync(func() {
		for cid, status := range a.connectorStatus {
			out = append(out, ConnectorStatus{ChargePointID: a.ID, ConnectorID: cid, Status: status})
		}
	})
	return out
}

// recordCallOutcome labels an outbound call as timed-out, rejected, or
// accepted for the metrics endpoint.
func recordCallOutcome(action string, err error) {
	if err == nil {
		metrics.CallsIssued.WithLabelValues(action, "accepted").Inc()
		return
	}
	if cerr, ok := err.(*core.Error); ok && cerr.Kind == core.KindCallTimeout {
		metrics.CallTimeouts.WithLabelValues(action).Inc()
		metrics.CallsIssued.WithLabelValues(action, "timeout").Inc()
		return
	}
	metrics.CallsIssued.WithLabelValues(action, "rejected").Inc()
}

func asCoreError(err error) *core.Error {
	if cerr, ok := err.(*core.Error); ok {
		return cerr
	}
	return core.Wrap(core.KindDisconnected, err, "call interrupted")
}
