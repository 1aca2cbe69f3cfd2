package core

import (
	"crypto/rand"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomMediaKey(t *testing.T) [32]byte {
	t.Helper()
	var k [32]byte
	_, err := rand.Read(k[:])
	require.NoError(t, err)
	return k
}

func TestMediaEncryptDecryptRoundTrip(t *testing.T) {
	mediaKey := randomMediaKey(t)
	keys, err := DeriveMediaKeys(mediaKey, MediaImage)
	require.NoError(t, err)

	plaintext := []byte("a reasonably sized fake jpeg payload for the round trip test")
	blob, err := EncryptMedia(keys, plaintext)
	require.NoError(t, err)

	got, err := DecryptMedia(keys, blob)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestDecryptMediaRejectsTamperedBlob(t *testing.T) {
	mediaKey := randomMediaKey(t)
	keys, err := DeriveMediaKeys(mediaKey, MediaDocument)
	require.NoError(t, err)

	blob, err := EncryptMedia(keys, []byte("document contents"))
	require.NoError(t, err)

	blob[0] ^= 0xFF

	_, err = DecryptMedia(keys, blob)
	require.Error(t, err)
	var integrityErr *MediaIntegrityError
	assert.ErrorAs(t, err, &integrityErr)
}

// Known-answer vector: HKDF-SHA256(ikm=00..1f, salt=nil,
// info="WhatsApp Image Keys", L=112). Pins the parameter roles so the
// media key can't silently swap into the salt slot again.
func TestDeriveMediaKeysKnownAnswer(t *testing.T) {
	var mediaKey [32]byte
	for i := range mediaKey {
		mediaKey[i] = byte(i)
	}

	keys, err := DeriveMediaKeys(mediaKey, MediaImage)
	require.NoError(t, err)

	assert.Equal(t, "aa6a127218397cbd2383e4ccf7176a79", hex.EncodeToString(keys.IV[:]))
	assert.Equal(t, "008c9aea9b7c5d81eb56b3f530f87d42dcc92d27b11ad6b5bd66f0560d0d8c46", hex.EncodeToString(keys.CipherKey[:]))
	assert.Equal(t, "91d09ffec108833c1699574c52657923fb6e3e161d9698bc6b3a05fbc508a515", hex.EncodeToString(keys.MacKey[:]))
	assert.Equal(t, "4d4981725e9eb39838fcff2130508f1360cbb319f99cef163d57ab7c050a667e", hex.EncodeToString(keys.RefKey[:]))
}

func TestDeriveMediaKeysDiffersByType(t *testing.T) {
	mediaKey := randomMediaKey(t)
	imgKeys, err := DeriveMediaKeys(mediaKey, MediaImage)
	require.NoError(t, err)
	vidKeys, err := DeriveMediaKeys(mediaKey, MediaVideo)
	require.NoError(t, err)

	assert.NotEqual(t, imgKeys.CipherKey, vidKeys.CipherKey)
}

func TestGenerateSidecarProducesExpectedTagCount(t *testing.T) {
	mediaKey := randomMediaKey(t)
	keys, err := DeriveMediaKeys(mediaKey, MediaVideo)
	require.NoError(t, err)

	plaintext := make([]byte, 200)
	_, err = rand.Read(plaintext)
	require.NoError(t, err)

	// 200 bytes -> 3 blocks of 80 -> 30 sidecar bytes.
	sidecar := GenerateSidecar(keys, plaintext)
	assert.Equal(t, 30, len(sidecar))

	for i := 0; i < 3; i++ {
		start := i * sidecarBlockSize
		end := start + sidecarBlockSize
		if end > len(plaintext) {
			end = len(plaintext)
		}
		tag := sidecar[i*sidecarMacSize : (i+1)*sidecarMacSize]
		assert.True(t, VerifySidecarBlock(keys, plaintext[start:end], tag))
	}
}

func TestVerifySidecarBlockRejectsTamperedBlock(t *testing.T) {
	mediaKey := randomMediaKey(t)
	keys, err := DeriveMediaKeys(mediaKey, MediaAudio)
	require.NoError(t, err)

	block := make([]byte, sidecarBlockSize)
	_, err = rand.Read(block)
	require.NoError(t, err)

	sidecar := GenerateSidecar(keys, block)
	require.Len(t, sidecar, sidecarMacSize)

	block[7] ^= 0x01
	assert.False(t, VerifySidecarBlock(keys, block, sidecar))
}
