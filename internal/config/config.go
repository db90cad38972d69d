// Package config loads the CSMS's runtime configuration via
// Spring-Boot-style layered YAML (application[-profile].yaml) with
// environment variable overrides, using github.com/spf13/viper.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the CSMS server's full runtime configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	PodID      string           `mapstructure:"pod_id"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	WebSocket  WebSocketConfig  `mapstructure:"websocket"`
	OCPP       OCPPConfig       `mapstructure:"ocpp"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Log        LogConfig        `mapstructure:"log"`
	Actor      ActorConfig      `mapstructure:"actor"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Security   SecurityConfig   `mapstructure:"security"`
}

// AppConfig is the application's basic identity.
type AppConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
	Profile string `mapstructure:"profile"`
}

// HTTPConfig is the operator-facing control API's listener.
type HTTPConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the host:port the HTTP control API listens on.
func (c HTTPConfig) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// WebSocketConfig is the charge-point-facing OCPP listener.
type WebSocketConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	PathPrefix        string        `mapstructure:"path_prefix"`
	Subprotocol       string        `mapstructure:"subprotocol"`
	ReadBufferSize    int           `mapstructure:"read_buffer_size"`
	WriteBufferSize   int           `mapstructure:"write_buffer_size"`
	HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout"`
	PingInterval      time.Duration `mapstructure:"ping_interval"`
	PongTimeout       time.Duration `mapstructure:"pong_timeout"`
	MaxMessageSize    int64         `mapstructure:"max_message_size"`
	EnableCompression bool          `mapstructure:"enable_compression"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
	MaxConnections    int           `mapstructure:"max_connections"`
	CheckOrigin       bool          `mapstructure:"check_origin"`
	AllowedOrigins    []string      `mapstructure:"allowed_origins"`
}

// Addr returns the host:port the OCPP WebSocket listener binds.
func (c WebSocketConfig) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// OCPPConfig carries the session-engine tunables: watchdog duration,
// call timeout, default idTag, and the boot QR URL.
type OCPPConfig struct {
	DefaultIdTag     string        `mapstructure:"default_id_tag"`
	WatchdogDuration time.Duration `mapstructure:"watchdog_duration"`
	CallTimeout      time.Duration `mapstructure:"call_timeout"`
	GetConfigTimeout time.Duration `mapstructure:"get_config_timeout"`
	BootQRCodeURL    string        `mapstructure:"boot_qr_code_url"`
}

// RedisConfig configures the optional connection-owner mirror.
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// KafkaConfig configures the optional session-event fan-out producer.
// Consumption is out of scope, so there is no consumer group or
// downstream topic here.
type KafkaConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Brokers  []string       `mapstructure:"brokers"`
	Topic    string         `mapstructure:"topic"`
	Producer ProducerConfig `mapstructure:"producer"`
}

// ProducerConfig is the Kafka producer's delivery tuning.
type ProducerConfig struct {
	RetryMax       int           `mapstructure:"retry_max"`
	ReturnSuccess  bool          `mapstructure:"return_successes"`
	FlushFrequency time.Duration `mapstructure:"flush_frequency"`
}

// CacheConfig holds cache sizing values loaded from configuration. The
// boot configurator's GetConfiguration cache (internal/csms/boot) does
// not read them: it uses cache.DefaultConfig with a fixed 30-minute TTL.
type CacheConfig struct {
	MaxSize         int           `mapstructure:"max_size"`
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// LogConfig mirrors internal/logger.Config.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
	Async  bool   `mapstructure:"async"`
}

// ActorConfig holds the configured actor inbox size. station.New does
// not read it: every actor's dispatch inbox holds 16 tasks.
type ActorConfig struct {
	InboxBufferSize int `mapstructure:"inbox_buffer_size"`
}

// MonitoringConfig is the Prometheus/health-check surface.
type MonitoringConfig struct {
	MetricsAddr     string `mapstructure:"metrics_addr"`
	HealthCheckPort int    `mapstructure:"health_check_port"`
	PprofEnabled    bool   `mapstructure:"pprof_enabled"`
}

// SecurityConfig guards the HTTP control plane with an optional
// X-API-Key header.
type SecurityConfig struct {
	APIKey     string `mapstructure:"api_key"`
	TLSEnabled bool   `mapstructure:"tls_enabled"`
	CertFile   string `mapstructure:"cert_file"`
	KeyFile    string `mapstructure:"key_file"`
}

// Load builds a Config from application[-profile].yaml plus
// environment variable overrides, Spring-Boot style.
func Load() (*Config, error) {
	setDefaults()

	profile := getProfile()
	fmt.Printf("Loading configuration for profile: %s\n", profile)

	if err := loadConfigFile("application"); err != nil {
		fmt.Printf("Warning: could not load default config file: %v\n", err)
	}
	if profile != "" {
		configName := fmt.Sprintf("application-%s", profile)
		if err := loadConfigFile(configName); err != nil {
			fmt.Printf("Warning: could not load profile config file %s: %v\n", configName, err)
		}
	}

	setupEnvironmentVariables()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.App.Profile = profile

	return &cfg, nil
}

func getProfile() string {
	if profile := os.Getenv("APP_PROFILE"); profile != "" {
		return profile
	}
	if profile := viper.GetString("app.profile"); profile != "" {
		return profile
	}
	return "local"
}

func loadConfigFile(configName string) error {
	viper.SetConfigName(configName)
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")
	return viper.MergeInConfig()
}

func setupEnvironmentVariables() {
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.BindEnv("redis.addr", "REDIS_ADDR")
	viper.BindEnv("http.port", "HTTP_PORT")
	viper.BindEnv("websocket.port", "WEBSOCKET_PORT")
	viper.BindEnv("log.level", "LOG_LEVEL")
	viper.BindEnv("security.api_key", "CSMS_API_KEY")
	viper.BindEnv("monitoring.health_check_port", "MONITORING_HEALTH_CHECK_PORT")
	viper.BindEnv("app.profile", "APP_PROFILE")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		list := strings.Split(brokers, ",")
		for i, b := range list {
			list[i] = strings.TrimSpace(b)
		}
		viper.Set("kafka.brokers", list)
	}
}

func setDefaults() {
	viper.SetDefault("app.name", "csms")
	viper.SetDefault("app.version", "1.0.0")
	viper.SetDefault("app.profile", "local")

	viper.SetDefault("http.host", "0.0.0.0")
	viper.SetDefault("http.port", 8080)
	viper.SetDefault("http.read_timeout", "15s")
	viper.SetDefault("http.write_timeout", "15s")

	viper.SetDefault("websocket.host", "0.0.0.0")
	viper.SetDefault("websocket.port", 9000)
	viper.SetDefault("websocket.path_prefix", "/ocpp/")
	viper.SetDefault("websocket.subprotocol", "ocpp1.6")
	viper.SetDefault("websocket.read_buffer_size", 4096)
	viper.SetDefault("websocket.write_buffer_size", 4096)
	viper.SetDefault("websocket.handshake_timeout", "10s")
	viper.SetDefault("websocket.ping_interval", "30s")
	viper.SetDefault("websocket.pong_timeout", "10s")
	viper.SetDefault("websocket.max_message_size", 1048576)
	viper.SetDefault("websocket.enable_compression", false)
	viper.SetDefault("websocket.idle_timeout", "15m")
	viper.SetDefault("websocket.cleanup_interval", "10m")
	viper.SetDefault("websocket.max_connections", 100000)
	viper.SetDefault("websocket.check_origin", false)
	viper.SetDefault("websocket.allowed_origins", []string{})

	viper.SetDefault("ocpp.default_id_tag", "DEFAULT")
	viper.SetDefault("ocpp.watchdog_duration", "90s")
	viper.SetDefault("ocpp.call_timeout", "30s")
	viper.SetDefault("ocpp.get_config_timeout", "10s")
	viper.SetDefault("ocpp.boot_qr_code_url", "https://your-domain.example/qr")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 50)
	viper.SetDefault("redis.min_idle_conns", 5)
	viper.SetDefault("redis.dial_timeout", "5s")
	viper.SetDefault("redis.read_timeout", "3s")
	viper.SetDefault("redis.write_timeout", "3s")

	viper.SetDefault("kafka.enabled", false)
	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.topic", "csms-session-events")
	viper.SetDefault("kafka.producer.retry_max", 3)
	viper.SetDefault("kafka.producer.return_successes", true)
	viper.SetDefault("kafka.producer.flush_frequency", "500ms")

	viper.SetDefault("cache.max_size", 2000)
	viper.SetDefault("cache.ttl", "24h")
	viper.SetDefault("cache.cleanup_interval", "10m")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.async", false)

	viper.SetDefault("actor.inbox_buffer_size", 32)

	viper.SetDefault("monitoring.metrics_addr", ":9090")
	viper.SetDefault("monitoring.health_check_port", 8081)
	viper.SetDefault("monitoring.pprof_enabled", false)

	viper.SetDefault("security.api_key", "")
	viper.SetDefault("security.tls_enabled", false)
	viper.SetDefault("security.cert_file", "")
	viper.SetDefault("security.key_file", "")
}

// IsProduction reports whether the active profile is "prod".
func (c *Config) IsProduction() bool { return c.App.Profile == "prod" }
