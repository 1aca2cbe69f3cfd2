package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	priv, pub, err := GenerateX25519KeyPair()
	require.NoError(t, err)

	msg := []byte("device-identity-details")
	sig, err := SignCurve25519(priv, msg)
	require.NoError(t, err)

	assert.True(t, VerifyCurve25519(pub, msg, sig))
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	priv, pub, err := GenerateX25519KeyPair()
	require.NoError(t, err)

	sig, err := SignCurve25519(priv, []byte("original"))
	require.NoError(t, err)

	assert.False(t, VerifyCurve25519(pub, []byte("tampered"), sig))
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	priv, pub, err := GenerateX25519KeyPair()
	require.NoError(t, err)

	msg := []byte("hello")
	sig, err := SignCurve25519(priv, msg)
	require.NoError(t, err)

	sig[0] ^= 0xFF
	assert.False(t, VerifyCurve25519(pub, msg, sig))
}
