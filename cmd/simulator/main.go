// Command simulator runs one or more simulated OCPP 1.6J charge
// points against a CSMS, for manual testing and demos.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ocpp-csms/csms/internal/logger"
	"github.com/ocpp-csms/csms/internal/simulator"
)

var (
	serverURL      = flag.String("server", "ws://127.0.0.1:9000/ocpp", "CSMS WebSocket URL, without the charge point id suffix")
	chargePointID  = flag.String("id", "", "Charge point id (random if empty)")
	vendor         = flag.String("vendor", "Acme", "Charge point vendor")
	model          = flag.String("model", "SimulatorV1", "Charge point model")
	idTag          = flag.String("id-tag", "DEMO-TAG", "idTag used to authorize sessions")
	connectorCount = flag.Int("connectors", 1, "Number of connectors")
	autoSession    = flag.Bool("auto-session", false, "Start a charging session automatically after boot")
	interactive    = flag.Bool("interactive", false, "Read commands from stdin instead of running unattended")
	logLevel       = flag.String("log-level", "info", "Log level: debug, info, warn, error")
)

func main() {
	flag.Parse()

	log, err := logger.New(&logger.Config{Level: *logLevel, Format: "console", Output: "stdout"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	cfg := simulator.DefaultConfig()
	cfg.ServerURL = *serverURL
	cfg.Vendor = *vendor
	cfg.Model = *model
	cfg.IdTag = *idTag
	cfg.ConnectorCount = *connectorCount
	if *chargePointID != "" {
		cfg.ChargePointID = *chargePointID
	}

	charger := simulator.New(cfg, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := charger.Connect(ctx); err != nil {
		log.Fatalf("connect failed: %v", err)
	}
	defer charger.Close()

	if *autoSession {
		go func() {
			time.Sleep(500 * time.Millisecond)
			if _, err := charger.StartTransaction(1, cfg.IdTag); err != nil {
				log.Errorf("auto session start failed: %v", err)
			}
		}()
	}

	if *interactive {
		runInteractive(ctx, charger, log)
		return
	}

	log.Infof("%s: simulator running, press Ctrl+C to stop", cfg.ChargePointID)
	<-ctx.Done()
	log.Info("shutting down simulator")
}

func runInteractive(ctx context.Context, charger *simulator.Charger, log *logger.Logger) {
	fmt.Println("commands: start <connector> <idTag> | stop | meter <connector> <wh> | heartbeat | quit")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			handleCommand(charger, log, line)
			if line == "quit" {
				return
			}
		}
	}
}

func handleCommand(charger *simulator.Charger, log *logger.Logger, line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}

	switch fields[0] {
	case "start":
		connector := 1
		idTag := ""
		if len(fields) > 1 {
			connector, _ = strconv.Atoi(fields[1])
		}
		if len(fields) > 2 {
			idTag = fields[2]
		}
		if _, err := charger.StartTransaction(connector, idTag); err != nil {
			log.Errorf("start failed: %v", err)
		}
	case "stop":
		if err := charger.StopTransaction("Local"); err != nil {
			log.Errorf("stop failed: %v", err)
		}
	case "meter":
		if len(fields) < 3 {
			fmt.Println("usage: meter <connector> <wh>")
			return
		}
		connector, _ := strconv.Atoi(fields[1])
		wh, _ := strconv.Atoi(fields[2])
		if err := charger.SendMeterValue(connector, wh); err != nil {
			log.Errorf("meter value failed: %v", err)
		}
	case "heartbeat":
		if err := charger.Heartbeat(); err != nil {
			log.Errorf("heartbeat failed: %v", err)
		}
	case "quit":
		fmt.Println("stopping")
	default:
		fmt.Printf("unknown command: %s\n", fields[0])
	}
}
