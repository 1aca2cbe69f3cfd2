package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waconnect/waconnect-core/internal/core/binary"
)

func testConnection(t *testing.T) *Connection {
	t.Helper()
	conn, err := NewConnection(ConnectionConfig{
		SessionID:  "test",
		SessionDir: t.TempDir(),
		Logger:     testLogger(),
	})
	require.NoError(t, err)
	return conn
}

func TestGenerateRequestIDsUnique(t *testing.T) {
	conn := testConnection(t)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := conn.GenerateRequestID()
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestBuildClientPayloadFirstRunCarriesRegData(t *testing.T) {
	conn := testConnection(t)
	require.False(t, conn.DeviceKeys().IsPaired())

	payload := conn.buildClientPayload()

	regData, err := findField(payload, fieldPayloadRegData)
	require.NoError(t, err)

	identifier, err := findField(regData, fieldRegIdentifier)
	require.NoError(t, err)
	assert.Equal(t, conn.DeviceKeys().IdentityKeyPair.Pub[:], identifier)

	keyType, err := findField(regData, fieldRegKeyType)
	require.NoError(t, err)
	assert.Equal(t, []byte{5}, keyType)
}

func TestBuildClientPayloadPairedCarriesUsername(t *testing.T) {
	conn := testConnection(t)
	conn.DeviceKeys().CompanionJid = "15551234567.0:4@s.whatsapp.net"

	payload := conn.buildClientPayload()

	_, err := findField(payload, fieldPayloadRegData)
	assert.Error(t, err, "paired login must not resend registration data")

	username, err := findVarintField(payload, fieldPayloadUsername)
	require.NoError(t, err)
	assert.Equal(t, uint64(15551234567), username)
}

func TestKeepAliveIntervalDefaults(t *testing.T) {
	cfg := ConnectionConfig{}
	assert.Equal(t, DefaultKeepAliveInterval, cfg.keepAliveInterval())

	cfg.KeepAliveIntervalMs = 5000
	assert.Equal(t, 5*time.Second, cfg.keepAliveInterval())
}

func TestDigestResolvesCorrelatedIQ(t *testing.T) {
	conn := testConnection(t)

	require.NoError(t, conn.correlator.Register("req-1"))

	reply := binary.Node{
		Tag: "iq",
		Attrs: binary.NewAttrList().
			SetString("type", "result").
			SetString("id", "req-1"),
	}
	conn.digest(t.Context(), reply)

	got, err := conn.correlator.Wait(t.Context(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, "result", got.Attrs.GetString("type"))
}

func TestDigestStreamErrorPropagatesToNamedRequests(t *testing.T) {
	conn := testConnection(t)

	require.NoError(t, conn.correlator.Register("req-1"))
	require.NoError(t, conn.correlator.Register("req-2"))

	streamError := binary.Node{
		Tag:   "stream:error",
		Attrs: binary.NewAttrList().SetString("code", "503"),
		Content: []binary.Node{{
			Tag:   "iq",
			Attrs: binary.NewAttrList().SetString("id", "req-1"),
		}},
	}
	conn.digest(t.Context(), streamError)

	// The named request gets the stream error with its code intact.
	_, err := conn.correlator.Wait(t.Context(), "req-1")
	var streamErr *StreamError
	require.ErrorAs(t, err, &streamErr)
	assert.Equal(t, "503", streamErr.Code)

	// Requests the children didn't name stay pending.
	reply := binary.Node{Tag: "iq", Attrs: binary.NewAttrList().SetString("id", "req-2")}
	require.True(t, conn.correlator.Resolve(reply))
}

func TestDigestStreamErrorWithoutChildrenFailsAllPending(t *testing.T) {
	conn := testConnection(t)

	require.NoError(t, conn.correlator.Register("req-1"))

	streamError := binary.Node{
		Tag:   "stream:error",
		Attrs: binary.NewAttrList().SetString("code", "409"),
	}
	conn.digest(t.Context(), streamError)

	_, err := conn.correlator.Wait(t.Context(), "req-1")
	var streamErr *StreamError
	require.ErrorAs(t, err, &streamErr)
	assert.Equal(t, "409", streamErr.Code)
}

func TestSendNodeWithoutTransportFails(t *testing.T) {
	conn := testConnection(t)

	err := conn.SendNode(t.Context(), BuildPreKeyUploadNode(conn.DeviceKeys(), nil))
	require.Error(t, err)
	var transportErr *TransportError
	assert.ErrorAs(t, err, &transportErr)
}
