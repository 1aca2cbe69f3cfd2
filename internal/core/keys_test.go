package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateDeviceKeysSignedPreKeyVerifies(t *testing.T) {
	keys, err := GenerateDeviceKeys()
	require.NoError(t, err)

	assert.True(t, VerifyCurve25519(
		keys.IdentityKeyPair.Pub,
		keys.SignedPreKey.KeyPair.Pub[:],
		keys.SignedPreKey.Signature,
	))
	assert.False(t, keys.IsPaired())
}

func TestKeyStoreRoundTrip(t *testing.T) {
	store := NewKeyStore(t.TempDir(), "session-a")
	assert.False(t, store.Exists())

	keys, err := store.LoadOrGenerate()
	require.NoError(t, err)
	require.True(t, store.Exists())

	keys.CompanionJid = "15551234567.0:4@s.whatsapp.net"
	keys.PreKeysSent = true
	require.NoError(t, store.Save(keys))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, keys.NoiseKeyPair, loaded.NoiseKeyPair)
	assert.Equal(t, keys.IdentityKeyPair, loaded.IdentityKeyPair)
	assert.Equal(t, keys.SignedPreKey, loaded.SignedPreKey)
	assert.Equal(t, keys.RegistrationID, loaded.RegistrationID)
	assert.Equal(t, keys.CompanionJid, loaded.CompanionJid)
	assert.True(t, loaded.PreKeysSent)
	assert.True(t, loaded.IsPaired())
}

func TestLoadOrGenerateIsStableAcrossReconnects(t *testing.T) {
	dir := t.TempDir()

	first, err := NewKeyStore(dir, "s").LoadOrGenerate()
	require.NoError(t, err)
	second, err := NewKeyStore(dir, "s").LoadOrGenerate()
	require.NoError(t, err)

	assert.Equal(t, first.NoiseKeyPair, second.NoiseKeyPair)
	assert.Equal(t, first.CompanionKey, second.CompanionKey)
}

func TestGeneratePreKeysAssignsSequentialIDs(t *testing.T) {
	keys, err := GeneratePreKeys(10, 5)
	require.NoError(t, err)
	require.Len(t, keys, 5)
	for i, k := range keys {
		assert.Equal(t, uint32(10+i), k.ID)
		assert.NotEqual(t, [32]byte{}, k.KeyPair.Pub)
	}
}
