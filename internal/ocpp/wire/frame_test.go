package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeCall(t *testing.T) {
	raw := []byte(`[2,"abc-1","Heartbeat",{}]`)
	f, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, TypeCall, f.Type)
	assert.Equal(t, "abc-1", f.MessageID)
	assert.Equal(t, "Heartbeat", f.Action)
	assert.JSONEq(t, `{}`, string(f.Payload))
}

func TestDecodeCallResult(t *testing.T) {
	raw := []byte(`[3,"abc-1",{"currentTime":"2024-01-01T00:00:00Z"}]`)
	f, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, TypeCallResult, f.Type)
	assert.Equal(t, "abc-1", f.MessageID)
}

func TestDecodeCallError(t *testing.T) {
	raw := []byte(`[4,"abc-1","NotImplemented","unsupported action",{}]`)
	f, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, TypeCallError, f.Type)
	assert.Equal(t, "NotImplemented", f.ErrorCode)
	assert.Equal(t, "unsupported action", f.ErrorDescription)
}

func TestDecodeMalformed(t *testing.T) {
	cases := [][]byte{
		[]byte(`not json`),
		[]byte(`{"not":"an array"}`),
		[]byte(`[2,"abc"]`),
		[]byte(`[9,"abc","X",{}]`),
		[]byte(`[2,123,"X",{}]`),
	}
	for _, raw := range cases {
		_, err := Decode(raw)
		assert.Error(t, err)
		var malformed *MalformedError
		assert.ErrorAs(t, err, &malformed)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payload := map[string]interface{}{"key": "value"}
	encoded, err := EncodeCall("msg-1", "BootNotification", payload)
	require.NoError(t, err)

	f, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, TypeCall, f.Type)
	assert.Equal(t, "msg-1", f.MessageID)
	assert.Equal(t, "BootNotification", f.Action)

	var decodedPayload map[string]interface{}
	require.NoError(t, json.Unmarshal(f.Payload, &decodedPayload))
	assert.Equal(t, payload, decodedPayload)
}

func TestEncodeErrorRoundTrip(t *testing.T) {
	encoded, err := EncodeError("msg-2", ErrorNotImplemented, "unsupported action", nil)
	require.NoError(t, err)

	f, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, TypeCallError, f.Type)
	assert.Equal(t, ErrorNotImplemented, f.ErrorCode)
}
