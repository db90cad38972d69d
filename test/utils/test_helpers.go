// Package utils provides the shared test harness for the CSMS's
// integration tests: real Redis and Kafka brought up either through
// testcontainers-go or pointed at already-running external services,
// plus a small OCPP-speaking WebSocket client pointed at a running
// csms server instance.
package utils

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const ocppSubprotocol = "ocpp1.6"

// Environment bundles the infrastructure a CSMS integration test
// needs: a Redis client, a Kafka producer/consumer, and the base
// WebSocket URL of the server under test.
type Environment struct {
	RedisContainer testcontainers.Container
	KafkaContainer testcontainers.Container
	RedisClient    *redis.Client
	KafkaProducer  sarama.SyncProducer
	KafkaConsumer  sarama.Consumer
	StationURL     string
	CleanupFuncs   []func()
}

// SetupEnvironment wires Redis and Kafka, via testcontainers when
// USE_TESTCONTAINERS=true, otherwise against external services reached
// through REDIS_ADDR / KAFKA_BROKERS.
func SetupEnvironment(t *testing.T) *Environment {
	if useTestContainers() {
		return setupWithTestContainers(t)
	}
	return setupWithExternalServices(t)
}

func useTestContainers() bool {
	return os.Getenv("USE_TESTCONTAINERS") == "true"
}

func setupWithTestContainers(t *testing.T) *Environment {
	ctx := context.Background()
	env := &Environment{CleanupFuncs: make([]func(), 0)}

	networkName := fmt.Sprintf("csms-test-network-%d", time.Now().UnixNano())
	network, err := testcontainers.GenericNetwork(ctx, testcontainers.GenericNetworkRequest{
		NetworkRequest: testcontainers.NetworkRequest{Name: networkName},
	})
	require.NoError(t, err)
	env.CleanupFuncs = append(env.CleanupFuncs, func() { network.Remove(ctx) })

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:          "redis:7-alpine",
			ExposedPorts:   []string{"6379/tcp"},
			Networks:       []string{networkName},
			NetworkAliases: map[string][]string{networkName: {"redis-test"}},
			WaitingFor:     wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	env.RedisContainer = redisContainer
	env.CleanupFuncs = append(env.CleanupFuncs, func() { redisContainer.Terminate(ctx) })

	redisHost, err := redisContainer.Host(ctx)
	require.NoError(t, err)
	redisPort, err := redisContainer.MappedPort(ctx, "6379")
	require.NoError(t, err)

	env.RedisClient = redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", redisHost, redisPort.Port())})
	env.CleanupFuncs = append(env.CleanupFuncs, func() { env.RedisClient.Close() })

	kafkaReq := testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:          "confluentinc/cp-kafka:latest",
			ExposedPorts:   []string{"9092/tcp"},
			Networks:       []string{networkName},
			NetworkAliases: map[string][]string{networkName: {"kafka-test"}},
			Env: map[string]string{
				"KAFKA_NODE_ID":                          "1",
				"KAFKA_PROCESS_ROLES":                    "broker,controller",
				"KAFKA_CONTROLLER_QUORUM_VOTERS":         "1@localhost:9093",
				"KAFKA_LISTENERS":                        "PLAINTEXT://0.0.0.0:9092,CONTROLLER://0.0.0.0:9093",
				"KAFKA_ADVERTISED_LISTENERS":             "PLAINTEXT://localhost:9092",
				"KAFKA_LISTENER_SECURITY_PROTOCOL_MAP":   "PLAINTEXT:PLAINTEXT,CONTROLLER:PLAINTEXT",
				"KAFKA_CONTROLLER_LISTENER_NAMES":        "CONTROLLER",
				"KAFKA_INTER_BROKER_LISTENER_NAME":       "PLAINTEXT",
				"KAFKA_OFFSETS_TOPIC_REPLICATION_FACTOR": "1",
				"KAFKA_AUTO_CREATE_TOPICS_ENABLE":        "true",
				"KAFKA_DELETE_TOPIC_ENABLE":              "true",
				"KAFKA_LOG_DIRS":                         "/tmp/kraft-combined-logs",
				"CLUSTER_ID":                              "test-cluster-id-12345",
			},
			WaitingFor: wait.ForLog("Kafka Server started"),
		},
		Started: true,
	}

	kafkaContainer, err := testcontainers.GenericContainer(ctx, kafkaReq)
	require.NoError(t, err)
	env.KafkaContainer = kafkaContainer
	env.CleanupFuncs = append(env.CleanupFuncs, func() { kafkaContainer.Terminate(ctx) })

	kafkaHost, err := kafkaContainer.Host(ctx)
	require.NoError(t, err)
	kafkaPort, err := kafkaContainer.MappedPort(ctx, "9092")
	require.NoError(t, err)

	kafkaAddr := fmt.Sprintf("%s:%s", kafkaHost, kafkaPort.Port())
	t.Logf("testcontainers kafka address: %s", kafkaAddr)

	producerCfg := sarama.NewConfig()
	producerCfg.Producer.Return.Successes = true
	producer, err := sarama.NewSyncProducer([]string{kafkaAddr}, producerCfg)
	require.NoError(t, err)
	env.KafkaProducer = producer
	env.CleanupFuncs = append(env.CleanupFuncs, func() { producer.Close() })

	consumerCfg := sarama.NewConfig()
	consumerCfg.Consumer.Return.Errors = true
	consumerCfg.Consumer.Offsets.Initial = sarama.OffsetNewest

	consumer, err := sarama.NewConsumer([]string{kafkaAddr}, consumerCfg)
	require.NoError(t, err)
	env.KafkaConsumer = consumer
	env.CleanupFuncs = append(env.CleanupFuncs, func() { consumer.Close() })

	return env
}

func setupWithExternalServices(t *testing.T) *Environment {
	env := &Environment{CleanupFuncs: make([]func(), 0)}

	redisAddr := getEnvOrDefault("REDIS_ADDR", "localhost:6379")
	kafkaBrokers := []string{getEnvOrDefault("KAFKA_BROKERS", "localhost:9092")}
	stationURL := getEnvOrDefault("STATION_URL", "ws://localhost:9000/ocpp")

	t.Logf("using external services - redis: %s, kafka: %v, station: %s", redisAddr, kafkaBrokers, stationURL)

	env.RedisClient = redis.NewClient(&redis.Options{Addr: redisAddr})
	env.CleanupFuncs = append(env.CleanupFuncs, func() { env.RedisClient.Close() })

	ctx := context.Background()
	if err := env.RedisClient.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available at %s, skipping: %v", redisAddr, err)
	}

	producerCfg := sarama.NewConfig()
	producerCfg.Producer.Return.Successes = true
	producerCfg.Producer.RequiredAcks = sarama.WaitForAll
	producerCfg.Producer.Retry.Max = 3

	producer, err := sarama.NewSyncProducer(kafkaBrokers, producerCfg)
	if err != nil {
		t.Skipf("kafka not available at %v, skipping: %v", kafkaBrokers, err)
	}
	env.KafkaProducer = producer
	env.CleanupFuncs = append(env.CleanupFuncs, func() { producer.Close() })

	consumerCfg := sarama.NewConfig()
	consumerCfg.Consumer.Return.Errors = true
	consumerCfg.Consumer.Offsets.Initial = sarama.OffsetNewest

	consumer, err := sarama.NewConsumer(kafkaBrokers, consumerCfg)
	if err != nil {
		t.Skipf("kafka consumer not available at %v, skipping: %v", kafkaBrokers, err)
	}
	env.KafkaConsumer = consumer
	env.CleanupFuncs = append(env.CleanupFuncs, func() { consumer.Close() })

	env.StationURL = stationURL
	return env
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// Cleanup tears down everything SetupEnvironment started, in reverse
// order.
func (env *Environment) Cleanup() {
	for i := len(env.CleanupFuncs) - 1; i >= 0; i-- {
		env.CleanupFuncs[i]()
	}
}

// StationClient is a minimal OCPP 1.6J WebSocket client for driving a
// CSMS instance from tests, standing in for a real charge point.
type StationClient struct {
	conn          *websocket.Conn
	chargePointID string
	messageQueue  chan []byte
	errorQueue    chan error
	done          chan struct{}
}

// NewStationClient dials baseURL/chargePointID with the ocpp1.6
// subprotocol and starts reading frames in the background.
func NewStationClient(baseURL, chargePointID string) (*StationClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	u.Path = fmt.Sprintf("%s/%s", u.Path, chargePointID)

	headers := map[string][]string{"Sec-WebSocket-Protocol": {ocppSubprotocol}}

	dialer := &websocket.Dialer{
		NetDial: func(network, addr string) (net.Conn, error) {
			if network == "tcp" {
				network = "tcp4"
			}
			d := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
			conn, err := d.Dial(network, addr)
			if err != nil {
				return nil, err
			}
			if tcpConn, ok := conn.(*net.TCPConn); ok {
				tcpConn.SetNoDelay(true)
				tcpConn.SetKeepAlive(true)
				tcpConn.SetKeepAlivePeriod(30 * time.Second)
			}
			return conn, nil
		},
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
	}

	conn, _, err := dialer.Dial(u.String(), headers)
	if err != nil {
		return nil, err
	}

	c := &StationClient{
		conn:          conn,
		chargePointID: chargePointID,
		messageQueue:  make(chan []byte, 100),
		errorQueue:    make(chan error, 10),
		done:          make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *StationClient) readLoop() {
	defer close(c.messageQueue)
	defer close(c.errorQueue)

	for {
		select {
		case <-c.done:
			return
		default:
			_, message, err := c.conn.ReadMessage()
			if err != nil {
				c.errorQueue <- err
				return
			}
			c.messageQueue <- message
		}
	}
}

// Send writes a raw OCPP frame.
func (c *StationClient) Send(message []byte) error {
	return c.conn.WriteMessage(websocket.TextMessage, message)
}

// Receive blocks for the next frame, up to timeout.
func (c *StationClient) Receive(timeout time.Duration) ([]byte, error) {
	select {
	case message := <-c.messageQueue:
		return message, nil
	case err := <-c.errorQueue:
		return nil, err
	case <-time.After(timeout):
		return nil, fmt.Errorf("timeout waiting for message")
	}
}

// TryReceive is the non-blocking variant of Receive.
func (c *StationClient) TryReceive() ([]byte, error, bool) {
	select {
	case message := <-c.messageQueue:
		return message, nil, true
	case err := <-c.errorQueue:
		return nil, err, true
	default:
		return nil, nil, false
	}
}

// Close stops the read loop and closes the underlying connection.
func (c *StationClient) Close() error {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	return c.conn.Close()
}

// LoadFixture reads a file from test/fixtures.
func LoadFixture(filename string) ([]byte, error) {
	_, currentFile, _, _ := runtime.Caller(0)
	testDir := filepath.Dir(filepath.Dir(currentFile))
	return os.ReadFile(filepath.Join(testDir, "fixtures", filename))
}

// EncodeFrame builds a raw OCPP-J array frame for use with
// StationClient.Send: type 2 gives a CALL; types 3 and 4 both give the
// three-element [type, id, payload] form, so a type-4 frame built here
// is not a well-formed CALLERROR.
func EncodeFrame(messageType int, messageID string, action string, payload interface{}) ([]byte, error) {
	var message []interface{}
	switch messageType {
	case 2:
		message = []interface{}{messageType, messageID, action, payload}
	case 3, 4:
		message = []interface{}{messageType, messageID, payload}
	default:
		return nil, fmt.Errorf("unsupported OCPP message type: %d", messageType)
	}
	return json.Marshal(message)
}

// WaitForCondition polls condition until it returns true or timeout
// elapses.
func WaitForCondition(condition func() bool, timeout time.Duration, interval time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return nil
		}
		time.Sleep(interval)
	}
	return fmt.Errorf("condition not met within timeout")
}
