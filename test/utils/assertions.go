package utils

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertOCPPMessage checks a four-element OCPP-J array (the CALL shape):
// its message type, a non-empty message ID and, for type 2, the action.
func AssertOCPPMessage(t *testing.T, data []byte, expectedMessageType int, expectedAction string) {
	var message []interface{}
	require.NoError(t, json.Unmarshal(data, &message), "failed to unmarshal OCPP message")
	require.Len(t, message, 4, "OCPP CALL message should have 4 elements")

	messageType, ok := message[0].(float64)
	require.True(t, ok, "message type should be a number")
	assert.Equal(t, expectedMessageType, int(messageType), "message type mismatch")

	messageID, ok := message[1].(string)
	require.True(t, ok, "message ID should be a string")
	assert.NotEmpty(t, messageID, "message ID should not be empty")

	if expectedMessageType == 2 {
		action, ok := message[2].(string)
		require.True(t, ok, "action should be a string")
		assert.Equal(t, expectedAction, action, "action mismatch")
	}
}

// AssertOCPPCallResult checks a CALLRESULT frame and returns its payload.
func AssertOCPPCallResult(t *testing.T, data []byte, expectedMessageID string) map[string]interface{} {
	var message []interface{}
	require.NoError(t, json.Unmarshal(data, &message), "failed to unmarshal OCPP message")
	require.Len(t, message, 3, "CALLRESULT message should have 3 elements")

	messageType, ok := message[0].(float64)
	require.True(t, ok, "message type should be a number")
	assert.Equal(t, 3, int(messageType), "should be a CALLRESULT")

	messageID, ok := message[1].(string)
	require.True(t, ok, "message ID should be a string")
	assert.Equal(t, expectedMessageID, messageID, "message ID mismatch")

	payload, ok := message[2].(map[string]interface{})
	require.True(t, ok, "payload should be an object")
	return payload
}

// AssertOCPPCallError checks a CALLERROR frame and returns its fields.
func AssertOCPPCallError(t *testing.T, data []byte, expectedMessageID string) (string, string) {
	var message []interface{}
	require.NoError(t, json.Unmarshal(data, &message), "failed to unmarshal OCPP message")
	require.Len(t, message, 5, "CALLERROR message should have 5 elements")

	messageType, ok := message[0].(float64)
	require.True(t, ok, "message type should be a number")
	assert.Equal(t, 4, int(messageType), "should be a CALLERROR")

	messageID, ok := message[1].(string)
	require.True(t, ok, "message ID should be a string")
	assert.Equal(t, expectedMessageID, messageID, "message ID mismatch")

	errorCode, ok := message[2].(string)
	require.True(t, ok, "error code should be a string")
	errorDescription, ok := message[3].(string)
	require.True(t, ok, "error description should be a string")

	return errorCode, errorDescription
}

// AssertOwnerRecorded checks the best-effort Redis connection-owner
// mirror under the csms:owner: prefix storage.RedisStorage writes to.
func AssertOwnerRecorded(t *testing.T, redisClient *redis.Client, chargePointID, expectedPodID string) {
	ctx := context.Background()
	key := fmt.Sprintf("csms:owner:%s", chargePointID)

	result, err := redisClient.Get(ctx, key).Result()
	require.NoError(t, err, "failed to read owner mapping from redis")
	assert.Equal(t, expectedPodID, result, "pod ID mismatch in redis")
}

// AssertOwnerNotRecorded checks that no owner entry remains for
// chargePointID, e.g. after a disconnect.
func AssertOwnerNotRecorded(t *testing.T, redisClient *redis.Client, chargePointID string) {
	ctx := context.Background()
	key := fmt.Sprintf("csms:owner:%s", chargePointID)

	_, err := redisClient.Get(ctx, key).Result()
	assert.Equal(t, redis.Nil, err, "owner mapping should not exist in redis")
}

// AssertEventEnvelope unmarshals a Kafka message as a session event
// envelope and checks its type and charge point ID.
func AssertEventEnvelope(t *testing.T, message []byte, expectedEventType, expectedChargePointID string) map[string]interface{} {
	var envelope map[string]interface{}
	require.NoError(t, json.Unmarshal(message, &envelope), "failed to unmarshal event envelope")

	eventType, ok := envelope["eventType"].(string)
	require.True(t, ok, "eventType should be a string")
	assert.Equal(t, expectedEventType, eventType, "event type mismatch")

	assert.Contains(t, envelope, "eventId", "envelope should have an eventId")
	assert.Contains(t, envelope, "timestamp", "envelope should have a timestamp")

	chargePointID, ok := envelope["chargePointId"].(string)
	require.True(t, ok, "chargePointId should be a string")
	assert.Equal(t, expectedChargePointID, chargePointID, "charge point ID mismatch")

	return envelope
}

// AssertEventuallyTrue polls condition until it is true or fails the
// test once timeout elapses.
func AssertEventuallyTrue(t *testing.T, condition func() bool, timeout time.Duration, message string) {
	deadline := time.Now().Add(timeout)
	interval := timeout / 20

	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(interval)
	}
	t.Fatalf("condition not met within timeout: %s", message)
}

// AssertBootNotificationResponse checks an Accepted BootNotification
// CALLRESULT.
func AssertBootNotificationResponse(t *testing.T, data []byte, messageID string) {
	payload := AssertOCPPCallResult(t, data, messageID)

	status, ok := payload["status"].(string)
	require.True(t, ok, "status should be a string")
	assert.Equal(t, "Accepted", status, "BootNotification should be accepted")

	assert.Contains(t, payload, "interval", "response should contain heartbeat interval")
	interval, ok := payload["interval"].(float64)
	require.True(t, ok, "interval should be a number")
	assert.Greater(t, interval, float64(0), "heartbeat interval should be positive")

	assert.Contains(t, payload, "currentTime", "response should contain current time")
}

// AssertEmptyCallResult checks a CALLRESULT payload carries no fields,
// the shape MeterValues and StatusNotification both return.
func AssertEmptyCallResult(t *testing.T, data []byte, messageID string) {
	payload := AssertOCPPCallResult(t, data, messageID)
	assert.Empty(t, payload, "response payload should be empty")
}

// AssertRemoteStartTransactionCall checks an outbound
// RemoteStartTransaction CALL frame and returns its message ID and
// payload.
func AssertRemoteStartTransactionCall(t *testing.T, data []byte) (string, map[string]interface{}) {
	var message []interface{}
	require.NoError(t, json.Unmarshal(data, &message), "failed to unmarshal OCPP message")
	require.Len(t, message, 4, "CALL message should have 4 elements")

	messageType := int(message[0].(float64))
	assert.Equal(t, 2, messageType, "should be a CALL")

	action := message[2].(string)
	assert.Equal(t, "RemoteStartTransaction", action, "action should be RemoteStartTransaction")

	messageID := message[1].(string)
	payload := message[3].(map[string]interface{})
	assert.Contains(t, payload, "idTag", "payload should contain idTag")

	return messageID, payload
}

// ReceiveWithTimeout races StationClient.Receive against an outer
// timeout so a hung read never blocks the calling test goroutine.
func ReceiveWithTimeout(client *StationClient, timeout time.Duration) ([]byte, error) {
	type result struct {
		response []byte
		err      error
	}
	resultChan := make(chan result, 1)

	go func() {
		response, err := client.Receive(timeout + 50*time.Millisecond)
		resultChan <- result{response, err}
	}()

	select {
	case r := <-resultChan:
		return r.response, r.err
	case <-time.After(timeout):
		return nil, fmt.Errorf("timed out after %v waiting for message", timeout)
	}
}
