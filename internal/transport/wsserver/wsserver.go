// Package wsserver is the charge-point-facing WebSocket listener: it
// upgrades incoming connections under /ocpp/<chargePointId>,
// negotiates the ocpp1.6 subprotocol, and wires each connection to its
// own internal/csms/station.Actor registered in internal/csms/registry.
package wsserver

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ocpp-csms/csms/internal/csms/core"
	"github.com/ocpp-csms/csms/internal/csms/registry"
	"github.com/ocpp-csms/csms/internal/csms/station"
	"github.com/ocpp-csms/csms/internal/csms/txcounter"
	"github.com/ocpp-csms/csms/internal/logger"
	"github.com/ocpp-csms/csms/internal/metrics"
	"github.com/ocpp-csms/csms/internal/transport/server"
)

// Config is the listener's tuning, sourced from config.WebSocketConfig.
type Config struct {
	Host              string
	Port              int
	PathPrefix        string
	Subprotocol       string
	ReadBufferSize    int
	WriteBufferSize   int
	HandshakeTimeout  time.Duration
	PingInterval      time.Duration
	PongTimeout       time.Duration
	MaxMessageSize    int64
	EnableCompression bool
	IdleTimeout       time.Duration
	CleanupInterval   time.Duration
	MaxConnections    int
	CheckOrigin       bool
	AllowedOrigins    []string
}

// Addr returns the host:port the listener binds.
func (c Config) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// Server accepts OCPP WebSocket connections and drives one
// station.Actor per connection.
type Server struct {
	cfg        Config
	upgrader   websocket.Upgrader
	registry   *registry.Registry
	counter    *txcounter.Counter
	stationCfg station.Config
	bootHook   station.BootHook
	sink       station.EventSink
	log        *logger.Logger

	connCount int32
	startTime time.Time
}

// New builds a Server. bootHook and sink may be nil.
func New(cfg Config, reg *registry.Registry, counter *txcounter.Counter, stationCfg station.Config, bootHook station.BootHook, sink station.EventSink, log *logger.Logger) *Server {
	s := &Server{
		cfg:        cfg,
		registry:   reg,
		counter:    counter,
		stationCfg: stationCfg,
		bootHook:   bootHook,
		sink:       sink,
		log:        log,
		startTime:  time.Now(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:    cfg.ReadBufferSize,
		WriteBufferSize:   cfg.WriteBufferSize,
		HandshakeTimeout:  cfg.HandshakeTimeout,
		EnableCompression: cfg.EnableCompression,
		Subprotocols:      []string{cfg.Subprotocol},
		CheckOrigin:       s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if !s.cfg.CheckOrigin {
		return true
	}
	origin := r.Header.Get("Origin")
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// Handler returns the http.Handler serving the OCPP upgrade path.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.PathPrefix, s.handleUpgrade)
	return mux
}

func (s *Server) chargePointID(path string) string {
	trimmed := strings.TrimPrefix(path, s.cfg.PathPrefix)
	trimmed = strings.Trim(trimmed, "/")
	if trimmed == "" {
		return "UNKNOWN"
	}
	return trimmed
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.cfg.MaxConnections > 0 && int(atomic.LoadInt32(&s.connCount)) >= s.cfg.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	chargePointID := s.chargePointID(r.URL.Path)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("upgrade failed for %s: %v", chargePointID, err)
		return
	}

	wrapper := &wsWriter{
		conn:     conn,
		sendChan: make(chan []byte, 32),
		cfg:      s.cfg,
		log:      s.log,
	}

	actor := station.New(chargePointID, wrapper, s.counter, s.stationCfg, s.log)
	wrapper.actor = actor
	actor.SetEventSink(s.sink)
	actor.SetBootHook(s.bootHook)
	actor.Run()

	if previous := s.registry.Put(chargePointID, actor); previous != nil {
		s.log.Infof("replacing existing connection for %s", chargePointID)
		previous.Close(core.Newf(core.KindDisconnected, "replaced by new connection"))
	}

	atomic.AddInt32(&s.connCount, 1)
	metrics.ActiveConnections.Inc()
	s.log.Infof("charge point %s connected from %s", chargePointID, r.RemoteAddr)

	conn.SetReadLimit(s.cfg.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout + s.cfg.PingInterval))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout + s.cfg.PingInterval))
		return nil
	})

	go wrapper.sendRoutine()
	go wrapper.pingRoutine()

	wrapper.receiveRoutine(actor)

	actor.Close(core.Newf(core.KindDisconnected, "connection closed"))
	s.registry.Remove(chargePointID, actor)
	atomic.AddInt32(&s.connCount, -1)
	metrics.ActiveConnections.Dec()
	s.log.Infof("charge point %s disconnected", chargePointID)
}

// HandleHealth reports liveness and connection count, mirroring the
// teacher's Manager.handleHealthCheck.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"healthy","connections":%d,"uptime":"%s"}`,
		atomic.LoadInt32(&s.connCount), time.Since(s.startTime))
}

// wsWriter adapts a *websocket.Conn to mux.Writer via a dedicated
// writer goroutine, so the actor's synchronous WriteMessage call never
// races with another data write on the same connection (gorilla/websocket
// forbids concurrent writers); pings go out through WriteControl, which
// gorilla/websocket allows alongside them.
type wsWriter struct {
	conn     *websocket.Conn
	actor    *station.Actor
	sendChan chan []byte
	cfg      Config
	log      *logger.Logger

	closeOnce sync.Once
}

func (w *wsWriter) WriteMessage(data []byte) error {
	select {
	case w.sendChan <- data:
		return nil
	default:
		return fmt.Errorf("send channel full for %s", w.actor.ID)
	}
}

func (w *wsWriter) sendRoutine() {
	for data := range w.sendChan {
		w.conn.SetWriteDeadline(time.Now().Add(w.cfg.PongTimeout))
		if err := w.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			w.log.Warnf("write failed for %s: %v", w.actor.ID, err)
			w.conn.Close()
			return
		}
	}
}

func (w *wsWriter) pingRoutine() {
	ticker := time.NewTicker(w.cfg.PingInterval)
	defer ticker.Stop()
	for range ticker.C {
		if err := w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(w.cfg.PongTimeout)); err != nil {
			return
		}
	}
}

func (w *wsWriter) receiveRoutine(actor *station.Actor) {
	defer w.closeOnce.Do(func() { close(w.sendChan) })
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		actor.HandleInboundFrame(data)
	}
}

// ListenAndServe runs the listener until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.PathPrefix, s.handleUpgrade)
	mux.HandleFunc("/health", s.HandleHealth)

	httpServer := &http.Server{
		Addr:    s.cfg.Addr(),
		Handler: mux,
	}

	listener, err := server.Listen(ctx, s.cfg.Addr(), server.DefaultTuningConfig())
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.Serve(listener) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
