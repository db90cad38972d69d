package config

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name     string
		setup    func()
		cleanup  func()
		wantErr  bool
		validate func(*testing.T, *Config)
	}{
		{
			name: "load default config",
			setup: func() {
				viper.Reset()
			},
			cleanup: func() {
				viper.Reset()
			},
			wantErr: false,
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "0.0.0.0", cfg.HTTP.Host)
				assert.Equal(t, 8080, cfg.HTTP.Port)
				assert.Equal(t, "/ocpp/", cfg.WebSocket.PathPrefix)
				assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
				assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
			},
		},
		{
			name: "load config with environment variables",
			setup: func() {
				viper.Reset()
				os.Setenv("HTTP_PORT", "9090")
				os.Setenv("REDIS_ADDR", "redis:6379")
			},
			cleanup: func() {
				os.Unsetenv("HTTP_PORT")
				os.Unsetenv("REDIS_ADDR")
				viper.Reset()
			},
			wantErr: false,
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 9090, cfg.HTTP.Port)
				assert.Equal(t, "redis:6379", cfg.Redis.Addr)
			},
		},
		{
			name: "load config with custom values",
			setup: func() {
				viper.Reset()
				viper.Set("http.host", "127.0.0.1")
				viper.Set("http.port", 8888)
				viper.Set("cache.max_size", 5000)
				viper.Set("ocpp.watchdog_duration", "120s")
			},
			cleanup: func() {
				viper.Reset()
			},
			wantErr: false,
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "127.0.0.1", cfg.HTTP.Host)
				assert.Equal(t, 8888, cfg.HTTP.Port)
				assert.Equal(t, 5000, cfg.Cache.MaxSize)
				assert.Equal(t, 120*time.Second, cfg.OCPP.WatchdogDuration)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup()
			defer tt.cleanup()

			cfg, err := Load()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)
			tt.validate(t, cfg)
		})
	}
}

func TestHTTPConfig_Addr(t *testing.T) {
	cfg := HTTPConfig{Host: "localhost", Port: 8080}
	assert.Equal(t, "localhost:8080", cfg.Addr())
}

func TestWebSocketConfig_Addr(t *testing.T) {
	cfg := WebSocketConfig{Host: "0.0.0.0", Port: 9000}
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr())
}

func TestConfig_IsProduction(t *testing.T) {
	cfg := &Config{App: AppConfig{Profile: "prod"}}
	assert.True(t, cfg.IsProduction())

	cfg.App.Profile = "local"
	assert.False(t, cfg.IsProduction())
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name     string
		validate func(*testing.T, *Config)
	}{
		{
			name: "validate http and websocket config",
			validate: func(t *testing.T, cfg *Config) {
				assert.NotEmpty(t, cfg.HTTP.Host)
				assert.Greater(t, cfg.HTTP.Port, 0)
				assert.NotEmpty(t, cfg.WebSocket.PathPrefix)
				assert.Greater(t, cfg.WebSocket.MaxConnections, 0)
			},
		},
		{
			name: "validate redis config",
			validate: func(t *testing.T, cfg *Config) {
				assert.NotEmpty(t, cfg.Redis.Addr)
				assert.GreaterOrEqual(t, cfg.Redis.DB, 0)
				assert.Greater(t, cfg.Redis.PoolSize, 0)
			},
		},
		{
			name: "validate kafka config",
			validate: func(t *testing.T, cfg *Config) {
				assert.NotEmpty(t, cfg.Kafka.Brokers)
				assert.NotEmpty(t, cfg.Kafka.Topic)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Reset()
			defer viper.Reset()

			cfg, err := Load()
			require.NoError(t, err)
			tt.validate(t, cfg)
		})
	}
}
