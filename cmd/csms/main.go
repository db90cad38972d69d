package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ocpp-csms/csms/internal/config"
	"github.com/ocpp-csms/csms/internal/csms/boot"
	"github.com/ocpp-csms/csms/internal/csms/operator"
	"github.com/ocpp-csms/csms/internal/csms/registry"
	"github.com/ocpp-csms/csms/internal/csms/station"
	"github.com/ocpp-csms/csms/internal/csms/txcounter"
	"github.com/ocpp-csms/csms/internal/logger"
	"github.com/ocpp-csms/csms/internal/message"
	"github.com/ocpp-csms/csms/internal/storage"
	"github.com/ocpp-csms/csms/internal/transport/httpapi"
	"github.com/ocpp-csms/csms/internal/transport/wsserver"
)

func main() {
	// 1. load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. initialize logging
	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
		Async:  cfg.Log.Async,
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	log.Info("logger initialized")

	// 3. initialize the optional connection-owner mirror
	var connStorage storage.ConnectionStorage
	if cfg.Redis.Enabled {
		redisStorage, err := storage.NewRedisStorage(cfg.Redis)
		if err != nil {
			log.Fatalf("failed to initialize redis storage: %v", err)
		}
		connStorage = redisStorage
		log.Info("redis owner mirror initialized")
	} else {
		log.Info("redis owner mirror disabled")
	}

	// 4. initialize the optional Kafka event sink
	var sink station.EventSink
	var producer *message.KafkaProducer
	if cfg.Kafka.Enabled {
		producer, err = message.NewKafkaProducer(cfg.Kafka, cfg.PodID)
		if err != nil {
			log.Fatalf("failed to initialize kafka producer: %v", err)
		}
		sink = producer
		log.Info("kafka event sink initialized")
	} else {
		log.Info("kafka event sink disabled")
	}

	// 5. wire the registry, boot configurator, and WebSocket listener
	reg := registry.New(cfg.PodID, connStorage, log)

	configurator := boot.New(boot.Config{
		GetConfigTimeout: cfg.OCPP.GetConfigTimeout,
		CallTimeout:      cfg.OCPP.CallTimeout,
		QRCodeURL:        cfg.OCPP.BootQRCodeURL,
	}, log)

	stationCfg := station.Config{
		WatchdogDuration: cfg.OCPP.WatchdogDuration,
		CallTimeout:      cfg.OCPP.CallTimeout,
	}

	wsCfg := wsserver.Config{
		Host:              cfg.WebSocket.Host,
		Port:              cfg.WebSocket.Port,
		PathPrefix:        cfg.WebSocket.PathPrefix,
		Subprotocol:       cfg.WebSocket.Subprotocol,
		ReadBufferSize:    cfg.WebSocket.ReadBufferSize,
		WriteBufferSize:   cfg.WebSocket.WriteBufferSize,
		HandshakeTimeout:  cfg.WebSocket.HandshakeTimeout,
		PingInterval:      cfg.WebSocket.PingInterval,
		PongTimeout:       cfg.WebSocket.PongTimeout,
		MaxMessageSize:    cfg.WebSocket.MaxMessageSize,
		EnableCompression: cfg.WebSocket.EnableCompression,
		IdleTimeout:       cfg.WebSocket.IdleTimeout,
		CleanupInterval:   cfg.WebSocket.CleanupInterval,
		MaxConnections:    cfg.WebSocket.MaxConnections,
		CheckOrigin:       cfg.WebSocket.CheckOrigin,
		AllowedOrigins:    cfg.WebSocket.AllowedOrigins,
	}
	wsSrv := wsserver.New(wsCfg, reg, txcounter.New(), stationCfg, configurator.Hook, sink, log)
	log.Infof("websocket listener configured on %s%s", wsCfg.Addr(), wsCfg.PathPrefix)

	// 6. wire the operator-facing HTTP control plane
	apiSrv := httpapi.New(operator.New(reg), cfg.Security.APIKey, cfg.OCPP.DefaultIdTag, log)

	// 7. start the metrics endpoint
	go startMetricsServer(cfg.Monitoring.MetricsAddr, log)
	log.Infof("metrics server starting on %s", cfg.Monitoring.MetricsAddr)

	// 8. start the control plane HTTP server
	controlAddr := cfg.HTTP.Addr()
	controlSrv := &http.Server{
		Addr:         controlAddr,
		Handler:      apiSrv.Handler(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	go func() {
		log.Infof("control plane listening on %s", controlAddr)
		if err := controlSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("control plane server failed: %v", err)
		}
	}()

	// 9. start the WebSocket listener
	wsCtx, wsCancel := context.WithCancel(context.Background())
	go func() {
		if err := wsSrv.ListenAndServe(wsCtx); err != nil {
			log.Errorf("websocket listener failed: %v", err)
		}
	}()

	log.Info("charging station management system started")

	// 10. wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	wsCancel()
	if err := controlSrv.Shutdown(ctx); err != nil {
		log.Errorf("error shutting down control plane: %v", err)
	}
	if producer != nil {
		if err := producer.Close(); err != nil {
			log.Errorf("error closing kafka producer: %v", err)
		}
	}
	if connStorage != nil {
		if err := connStorage.Close(); err != nil {
			log.Errorf("error closing redis storage: %v", err)
		}
	}

	log.Info("shutdown complete")
}

func startMetricsServer(addr string, log *logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("metrics server failed: %v", err)
	}
}
