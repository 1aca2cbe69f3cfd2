package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// simulatedServer drives the server side of Noise_XX_25519_AESGCM_SHA256
// using the same primitives as NoiseHandshake, so the client engine can be
// exercised against a full, symmetric handshake without a real network peer.
type simulatedServer struct {
	ephPriv, ephPub [32]byte
	statPriv, pub   [32]byte

	hash, key, cipherKey []byte
	nonce                uint64
}

func newSimulatedServer(t *testing.T) *simulatedServer {
	t.Helper()
	ephPriv, ephPub, err := GenerateX25519KeyPair()
	require.NoError(t, err)
	statPriv, statPub, err := GenerateX25519KeyPair()
	require.NoError(t, err)

	s := &simulatedServer{ephPriv: ephPriv, ephPub: ephPub, statPriv: statPriv, pub: statPub}
	h := sha256Sum([]byte(NoiseMode))
	s.hash = h
	s.key = append([]byte(nil), h...)
	s.updateHash([]byte(NoiseHeader))
	return s
}

func (s *simulatedServer) updateHash(data []byte) {
	s.hash = sha256Sum(append(append([]byte(nil), s.hash...), data...))
}

func (s *simulatedServer) mixIntoKey(dh []byte) {
	expanded, err := hkdfExpand(s.key, dh, nil, 64)
	if err != nil {
		panic(err)
	}
	s.key = expanded[:32]
	s.cipherKey = expanded[32:]
	s.nonce = 0
}

func (s *simulatedServer) seal(data []byte) []byte {
	gcm, err := newAESGCM(s.cipherKey)
	if err != nil {
		panic(err)
	}
	iv := make([]byte, 12)
	iv[11] = byte(s.nonce)
	out := gcm.Seal(nil, iv, data, s.hash)
	s.nonce++
	s.updateHash(out)
	return out
}

// respondToClientHello consumes the client ephemeral public key and
// produces a ServerHello protobuf frame: ephemeral || encrypted-static ||
// encrypted-certificate, following the same DH1/DH2 sequence the client
// performs (with roles swapped).
func (s *simulatedServer) respondToClientHello(clientEphPub [32]byte) []byte {
	s.updateHash(clientEphPub[:])
	s.updateHash(s.ephPub[:])

	dh1, err := x25519DH(s.ephPriv, clientEphPub)
	if err != nil {
		panic(err)
	}
	s.mixIntoKey(dh1)

	dh2, err := x25519DH(s.statPriv, clientEphPub)
	if err != nil {
		panic(err)
	}
	s.mixIntoKey(dh2)

	encStatic := s.seal(s.pub[:])

	certDetails := pbEncodeBytes(fieldCertKey, s.pub[:])
	cert := pbEncodeBytes(fieldCertDetails, certDetails)
	cert = append(cert, pbEncodeBytes(fieldCertSignature, []byte("sig"))...)
	encCert := s.seal(cert)

	var serverHello []byte
	serverHello = append(serverHello, pbEncodeBytes(fieldEphemeral, s.ephPub[:])...)
	serverHello = append(serverHello, pbEncodeBytes(fieldStatic, encStatic)...)
	serverHello = append(serverHello, pbEncodeBytes(fieldPayload, encCert)...)

	return pbEncodeBytes(fieldServerHello, serverHello)
}

func TestNoiseHandshakeFullRoundTrip(t *testing.T) {
	clientStaticPriv, clientStaticPub, err := GenerateX25519KeyPair()
	require.NoError(t, err)

	client, err := NewNoiseHandshake(clientStaticPriv, clientStaticPub)
	require.NoError(t, err)

	hello := client.GenerateClientHello()
	assert.NotEmpty(t, hello)

	server := newSimulatedServer(t)
	serverHello := server.respondToClientHello(client.ephemeralPub)

	require.NoError(t, client.ProcessServerHello(serverHello))

	finish, err := client.GenerateClientFinish([]byte("client-payload"))
	require.NoError(t, err)
	assert.NotEmpty(t, finish)
	assert.True(t, client.IsHandshakeComplete())

	transport, err := client.Finish()
	require.NoError(t, err)
	require.NotNil(t, transport)

	ciphertext, err := transport.EncryptFrame([]byte("hello server"))
	require.NoError(t, err)
	assert.NotEmpty(t, ciphertext)
}

func TestProcessServerHelloRejectsTamperedCertificate(t *testing.T) {
	clientStaticPriv, clientStaticPub, err := GenerateX25519KeyPair()
	require.NoError(t, err)

	client, err := NewNoiseHandshake(clientStaticPriv, clientStaticPub)
	require.NoError(t, err)
	client.GenerateClientHello()

	server := newSimulatedServer(t)
	serverHello := server.respondToClientHello(client.ephemeralPub)

	// flip a byte near the end to corrupt the sealed certificate payload
	corrupted := append([]byte(nil), serverHello...)
	corrupted[len(corrupted)-1] ^= 0xFF

	err = client.ProcessServerHello(corrupted)
	require.Error(t, err)
}
