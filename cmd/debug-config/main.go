// Command debug-config loads the CSMS's configuration and prints the
// resolved values, so an operator can verify environment variable
// overrides and profile selection before starting the real server.
package main

import (
	"fmt"
	"os"

	"github.com/ocpp-csms/csms/internal/config"
)

func main() {
	fmt.Println("=== CSMS Configuration Test ===")

	fmt.Println("\n--- Environment Variables ---")
	envVars := []string{
		"APP_PROFILE",
		"REDIS_ADDR",
		"KAFKA_BROKERS",
		"HTTP_PORT",
		"WEBSOCKET_PORT",
		"LOG_LEVEL",
		"CSMS_API_KEY",
		"MONITORING_HEALTH_CHECK_PORT",
	}
	for _, env := range envVars {
		if value := os.Getenv(env); value != "" {
			fmt.Printf("%s = %s\n", env, value)
		} else {
			fmt.Printf("%s = (not set)\n", env)
		}
	}

	fmt.Println("\n--- Loading Configuration ---")
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\n--- Final Configuration ---")
	fmt.Printf("App Name: %s\n", cfg.App.Name)
	fmt.Printf("App Version: %s\n", cfg.App.Version)
	fmt.Printf("App Profile: %s\n", cfg.App.Profile)
	fmt.Printf("Pod ID: %s\n", cfg.PodID)
	fmt.Printf("HTTP Control API: %s\n", cfg.HTTP.Addr())
	fmt.Printf("WebSocket Listener: %s%s\n", cfg.WebSocket.Addr(), cfg.WebSocket.PathPrefix)
	fmt.Printf("Watchdog Duration: %s\n", cfg.OCPP.WatchdogDuration)
	fmt.Printf("Call Timeout: %s\n", cfg.OCPP.CallTimeout)
	fmt.Printf("Redis Enabled: %v (addr %s)\n", cfg.Redis.Enabled, cfg.Redis.Addr)
	fmt.Printf("Kafka Enabled: %v (brokers %v)\n", cfg.Kafka.Enabled, cfg.Kafka.Brokers)
	fmt.Printf("Log Level: %s\n", cfg.Log.Level)
	fmt.Printf("Metrics Address: %s\n", cfg.Monitoring.MetricsAddr)

	fmt.Println("\n--- Environment Check ---")
	fmt.Printf("Is Production: %v\n", cfg.IsProduction())

	fmt.Println("\n=== Configuration Test Complete ===")
}
