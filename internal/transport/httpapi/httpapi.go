// Package httpapi is the operator-facing control plane: health,
// start/stop/release, and the three list queries, backed by
// internal/csms/operator.Facade. It uses plain net/http.ServeMux
// rather than a web framework, with request bodies checked by
// go-playground/validator.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ocpp-csms/csms/internal/csms/core"
	"github.com/ocpp-csms/csms/internal/csms/operator"
	"github.com/ocpp-csms/csms/internal/logger"
	"github.com/ocpp-csms/csms/internal/metrics"
)

// Server is the HTTP control plane.
type Server struct {
	facade       *operator.Facade
	apiKey       string
	defaultIdTag string
	log          *logger.Logger
}

// New builds a Server. apiKey, when non-empty, is required via
// X-API-Key on every mutating route.
func New(facade *operator.Facade, apiKey, defaultIdTag string, log *logger.Logger) *Server {
	return &Server{facade: facade, apiKey: apiKey, defaultIdTag: defaultIdTag, log: log}
}

// Handler returns the control plane's http.Handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/health", s.handleHealth)
	mux.HandleFunc("/api/v1/start", s.guarded(s.handleStart))
	mux.HandleFunc("/api/v1/stop", s.guarded(s.handleStop))
	mux.HandleFunc("/charge/stop", s.guarded(s.handleStop))
	mux.HandleFunc("/api/v1/release", s.guarded(s.handleRelease))
	mux.HandleFunc("/api/v1/active", s.handleActive)
	mux.HandleFunc("/api/v1/history", s.handleHistory)
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	return mux
}

// guarded enforces the optional X-API-Key header on mutating routes.
func (s *Server) guarded(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" && r.Header.Get("X-API-Key") != s.apiKey {
			metrics.OperatorRequests.WithLabelValues(r.URL.Path, "unauthorized").Inc()
			http.Error(w, `{"ok":false,"message":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "time": time.Now().Format(time.RFC3339)})
}

type startRequest struct {
	ChargePointID string `json:"cpid" validate:"required"`
	ConnectorID   int    `json:"connectorId" validate:"required,min=1"`
	IdTag         string `json:"idTag" validate:"omitempty,max=20,alphanum"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if req.IdTag == "" {
		req.IdTag = s.defaultIdTag
	}

	err := s.facade.Start(r.Context(), req.ChargePointID, req.ConnectorID, req.IdTag)
	if err != nil {
		s.writeCoreError(w, r, err)
		return
	}
	s.recordSuccess(r)
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "message": "start accepted"})
}

type stopRequest struct {
	ChargePointID string `json:"cpid" validate:"required"`
	TransactionID *int   `json:"transactionId"`
	ConnectorID   *int   `json:"connectorId"`
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	txID, err := s.facade.Stop(r.Context(), req.ChargePointID, req.TransactionID, req.ConnectorID)
	if err != nil {
		s.writeCoreError(w, r, err)
		return
	}
	s.recordSuccess(r)
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "transactionId": txID, "message": "stop accepted"})
}

type releaseRequest struct {
	ChargePointID string `json:"cpid" validate:"required"`
	ConnectorID   int    `json:"connectorId" validate:"required,min=1"`
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	var req releaseRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := s.facade.Release(r.Context(), req.ChargePointID, req.ConnectorID); err != nil {
		s.writeCoreError(w, r, err)
		return
	}
	s.recordSuccess(r)
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "message": "release accepted"})
}

func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	sessions := s.facade.ListActive()
	out := make([]map[string]interface{}, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, map[string]interface{}{
			"cpid":          sess.ChargePointID,
			"connectorId":   sess.ConnectorID,
			"idTag":         sess.IdTag,
			"transactionId": sess.TransactionID,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": out})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessions := s.facade.ListCompleted()
	out := make([]map[string]interface{}, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, map[string]interface{}{
			"cpid":          sess.ChargePointID,
			"connectorId":   sess.ConnectorID,
			"idTag":         sess.IdTag,
			"transactionId": sess.TransactionID,
			"meterStart":    sess.MeterStart,
			"meterStop":     sess.MeterStop,
			"energy":        sess.Energy,
			"startTime":     sess.StartTime,
			"stopTime":      sess.StopTime,
			"durationSecs":  sess.DurationSecs,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": out})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	statuses := s.facade.ListStatus()
	out := make([]map[string]interface{}, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, map[string]interface{}{
			"cpid":        st.ChargePointID,
			"connectorId": st.ConnectorID,
			"status":      st.Status,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"connectors": out})
}

// writeCoreError maps a *core.Error's Kind to an HTTP status code.
func (s *Server) writeCoreError(w http.ResponseWriter, r *http.Request, err *core.Error) {
	status := http.StatusInternalServerError
	switch err.Kind {
	case core.KindNotConnected, core.KindNoActiveTransaction:
		status = http.StatusNotFound
	case core.KindRemoteRejected:
		status = http.StatusConflict
	case core.KindBusy:
		status = http.StatusBadRequest
	case core.KindCallTimeout:
		status = http.StatusGatewayTimeout
	case core.KindDisconnected:
		status = http.StatusServiceUnavailable
	case core.KindMalformed:
		status = http.StatusBadRequest
	}
	metrics.OperatorRequests.WithLabelValues(r.URL.Path, string(err.Kind)).Inc()
	writeJSON(w, status, map[string]interface{}{"ok": false, "message": err.Error()})
}

func (s *Server) recordSuccess(r *http.Request) {
	metrics.OperatorRequests.WithLabelValues(r.URL.Path, "ok").Inc()
}

func decodeAndValidate(w http.ResponseWriter, r *http.Request, body interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"ok": false, "message": "malformed request body: " + err.Error()})
		return false
	}
	if err := validateBody(body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"ok": false, "message": err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
