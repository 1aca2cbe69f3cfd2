package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeTestTransportPair(t *testing.T) (*TransportCipher, *TransportCipher) {
	t.Helper()
	keyA := make([]byte, 32)
	keyB := make([]byte, 32)
	for i := range keyA {
		keyA[i] = byte(i)
		keyB[i] = byte(i + 1)
	}
	// client writes with keyA, reads with keyB; server is the mirror image.
	client := newTransportCipher(keyA, keyB)
	server := newTransportCipher(keyB, keyA)
	return client, server
}

func TestTransportCipherRoundTrip(t *testing.T) {
	client, server := makeTestTransportPair(t)

	ct, err := client.EncryptFrame([]byte("ping"))
	require.NoError(t, err)

	pt, err := server.DecryptFrame(ct)
	require.NoError(t, err)
	assert.Equal(t, []byte("ping"), pt)
}

func TestTransportCipherCounterMonotonic(t *testing.T) {
	client, server := makeTestTransportPair(t)

	ct1, err := client.EncryptFrame([]byte("one"))
	require.NoError(t, err)
	ct2, err := client.EncryptFrame([]byte("two"))
	require.NoError(t, err)
	assert.NotEqual(t, ct1, ct2)

	_, err = server.DecryptFrame(ct1)
	require.NoError(t, err)
	_, err = server.DecryptFrame(ct2)
	require.NoError(t, err)

	// replaying ct1 against the now-advanced read counter must fail closed.
	_, err = server.DecryptFrame(ct1)
	require.Error(t, err)
	var authErr *HandshakeAuthError
	assert.ErrorAs(t, err, &authErr)
}

func TestTransportCipherCounterGapFailsClosed(t *testing.T) {
	client, server := makeTestTransportPair(t)

	_, err := client.EncryptFrame([]byte("skipped"))
	require.NoError(t, err)
	ct2, err := client.EncryptFrame([]byte("delivered"))
	require.NoError(t, err)

	// A frame arriving with the read counter two behind its IV means the
	// stream desynchronized; the cipher rejects it rather than resyncing.
	_, err = server.DecryptFrame(ct2)
	require.Error(t, err)
	var authErr *HandshakeAuthError
	assert.ErrorAs(t, err, &authErr)
}

func TestFrameReaderSplitsPartialReads(t *testing.T) {
	var r FrameReader

	full, err := EncodeLengthFramed([]byte("hello"))
	require.NoError(t, err)

	frames, err := r.Feed(full[:2])
	require.NoError(t, err)
	assert.Empty(t, frames)

	frames, err = r.Feed(full[2:])
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, []byte("hello"), frames[0])
}

func TestFrameReaderDisconnectSignal(t *testing.T) {
	var r FrameReader

	signal := []byte{byte(DisconnectSignalLength >> 16), byte((DisconnectSignalLength >> 8) & 0xff), byte(DisconnectSignalLength & 0xff)}
	_, err := r.Feed(signal)
	require.Error(t, err)
	var transportErr *TransportError
	assert.ErrorAs(t, err, &transportErr)
}
