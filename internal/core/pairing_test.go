package core

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/waconnect/waconnect-core/internal/core/binary"
)

func testDeviceKeys(t *testing.T) *DeviceKeys {
	t.Helper()
	keys, err := GenerateDeviceKeys()
	require.NoError(t, err)
	return keys
}

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// phoneIdentity simulates the primary phone's side of the ADV exchange:
// it holds the account key pair and produces the signed device identity
// blob carried inside pair-success.
type phoneIdentity struct {
	accountPriv [32]byte
	accountPub  [32]byte
	details     []byte
}

func newPhoneIdentity(t *testing.T, companionIdentityPub [32]byte, keyIndex uint64) *phoneIdentity {
	t.Helper()
	priv, pub, err := GenerateX25519KeyPair()
	require.NoError(t, err)

	// ADVDeviceIdentity: rawId, timestamp, keyIndex.
	var details []byte
	details = append(details, pbEncodeVarintField(1, 42)...)
	details = append(details, pbEncodeVarintField(2, 1700000000)...)
	details = append(details, pbEncodeVarintField(fieldADVKeyIndex, keyIndex)...)

	return &phoneIdentity{accountPriv: priv, accountPub: pub, details: details}
}

func (p *phoneIdentity) signedIdentity(t *testing.T, companionIdentityPub [32]byte) []byte {
	t.Helper()
	msg := append([]byte{0x06, 0x00}, p.details...)
	msg = append(msg, companionIdentityPub[:]...)
	sig, err := SignCurve25519(p.accountPriv, msg)
	require.NoError(t, err)

	return encodeADVSignedDeviceIdentity(&advSignedDeviceIdentity{
		Details:             p.details,
		AccountSignatureKey: p.accountPub[:],
		AccountSignature:    sig[:],
	})
}

func buildPairSuccessNode(t *testing.T, keys *DeviceKeys, tamper func(details, mac []byte)) binary.Node {
	t.Helper()
	phone := newPhoneIdentity(t, keys.IdentityKeyPair.Pub, 1)
	details := phone.signedIdentity(t, keys.IdentityKeyPair.Pub)
	mac := hmacSHA256(keys.CompanionKey[:], details)

	if tamper != nil {
		tamper(details, mac)
	}

	var hmacBlob []byte
	hmacBlob = append(hmacBlob, pbEncodeBytes(fieldADVHMACDetails, details)...)
	hmacBlob = append(hmacBlob, pbEncodeBytes(fieldADVHMACValue, mac)...)

	return binary.Node{
		Tag:   "iq",
		Attrs: binary.NewAttrList().SetString("id", "pair-1").SetString("type", "result"),
		Content: []binary.Node{{
			Tag: "pair-success",
			Content: []binary.Node{
				{Tag: "device-identity", Content: hmacBlob},
				{Tag: "device", Attrs: binary.NewAttrList().SetJID("jid", binary.NewADJID("15551234567", 0, 4, binary.ServerDefault))},
			},
		}},
	}
}

func TestHandlePairDeviceBuildsQRText(t *testing.T) {
	keys := testDeviceKeys(t)
	p := NewPairing(keys, testLogger())
	p.Begin()

	node := binary.Node{
		Tag:   "iq",
		Attrs: binary.NewAttrList().SetString("id", "qr-1").SetString("type", "set"),
		Content: []binary.Node{{
			Tag: "pair-device",
			Content: []binary.Node{
				{Tag: "ref", Content: []byte("2@AbCdEf123")},
				{Tag: "ref", Content: []byte("2@secondary")},
			},
		}},
	}

	qrText, reply, err := p.HandlePairDevice(node)
	require.NoError(t, err)

	parts := strings.Split(qrText, ",")
	require.Len(t, parts, 4)
	assert.Equal(t, "2@AbCdEf123", parts[0])

	assert.Equal(t, "iq", reply.Tag)
	assert.Equal(t, "result", reply.Attrs.GetString("type"))
	assert.Equal(t, "qr-1", reply.Attrs.GetString("id"))
	assert.Equal(t, PairingAwaitingPairSuccess, p.State())
}

func TestHandlePairSuccessHappyPath(t *testing.T) {
	keys := testDeviceKeys(t)
	p := NewPairing(keys, testLogger())

	node := buildPairSuccessNode(t, keys, nil)
	reply, companionJid, err := p.HandlePairSuccess(node)
	require.NoError(t, err)
	assert.Equal(t, PairingPaired, p.State())
	assert.Equal(t, "15551234567", companionJid.User)

	// The reply must be an iq/result carrying pair-device-sign with the
	// re-encoded identity: device signature set, account signature cleared.
	assert.Equal(t, "result", reply.Attrs.GetString("type"))
	sign, ok := reply.GetChild("pair-device-sign")
	require.True(t, ok)
	identityNode, ok := sign.GetChild("device-identity")
	require.True(t, ok)
	assert.Equal(t, "1", identityNode.Attrs.GetString("key-index"))

	identity, err := decodeADVSignedDeviceIdentity(identityNode.Bytes())
	require.NoError(t, err)
	assert.Empty(t, identity.AccountSignature)
	require.Len(t, identity.DeviceSignature, 64)
}

func TestHandlePairSuccessDeviceSignatureVerifies(t *testing.T) {
	keys := testDeviceKeys(t)
	p := NewPairing(keys, testLogger())

	node := buildPairSuccessNode(t, keys, nil)
	reply, _, err := p.HandlePairSuccess(node)
	require.NoError(t, err)

	sign, _ := reply.GetChild("pair-device-sign")
	identityNode, _ := sign.GetChild("device-identity")
	identity, err := decodeADVSignedDeviceIdentity(identityNode.Bytes())
	require.NoError(t, err)

	// Reconstruct the original signed blob to recover the account signature
	// the device signature covers.
	orig, _ := node.GetChild("pair-success")
	origIdentity, _ := orig.GetChild("device-identity")
	origDetails, _, err := p.decodeIdentityHMAC(origIdentity.Bytes())
	require.NoError(t, err)
	origSigned, err := decodeADVSignedDeviceIdentity(origDetails)
	require.NoError(t, err)

	msg := append([]byte{0x06, 0x01}, identity.Details...)
	msg = append(msg, keys.IdentityKeyPair.Pub[:]...)
	msg = append(msg, origSigned.AccountSignature...)

	var sig [64]byte
	copy(sig[:], identity.DeviceSignature)
	assert.True(t, VerifyCurve25519(keys.IdentityKeyPair.Pub, msg, sig))
}

func TestHandlePairSuccessRejectsTamperedHMAC(t *testing.T) {
	keys := testDeviceKeys(t)
	p := NewPairing(keys, testLogger())

	node := buildPairSuccessNode(t, keys, func(details, mac []byte) {
		mac[3] ^= 0x01
	})

	_, _, err := p.HandlePairSuccess(node)
	require.Error(t, err)
	var integrityErr *PairingIntegrityError
	assert.ErrorAs(t, err, &integrityErr)
	assert.Equal(t, PairingFailed, p.State())
}

func TestHandlePairSuccessRejectsTamperedAccountSignature(t *testing.T) {
	keys := testDeviceKeys(t)
	p := NewPairing(keys, testLogger())

	// Tampering details invalidates the HMAC as well, so instead build the
	// blob with a valid HMAC over details carrying a broken signature.
	phone := newPhoneIdentity(t, keys.IdentityKeyPair.Pub, 1)
	details := phone.signedIdentity(t, keys.IdentityKeyPair.Pub)

	signed, err := decodeADVSignedDeviceIdentity(details)
	require.NoError(t, err)
	broken := append([]byte(nil), signed.AccountSignature...)
	broken[0] ^= 0xFF
	details = encodeADVSignedDeviceIdentity(&advSignedDeviceIdentity{
		Details:             signed.Details,
		AccountSignatureKey: signed.AccountSignatureKey,
		AccountSignature:    broken,
	})
	mac := hmacSHA256(keys.CompanionKey[:], details)

	var hmacBlob []byte
	hmacBlob = append(hmacBlob, pbEncodeBytes(fieldADVHMACDetails, details)...)
	hmacBlob = append(hmacBlob, pbEncodeBytes(fieldADVHMACValue, mac)...)

	node := binary.Node{
		Tag:   "iq",
		Attrs: binary.NewAttrList().SetString("id", "pair-2"),
		Content: []binary.Node{{
			Tag: "pair-success",
			Content: []binary.Node{
				{Tag: "device-identity", Content: hmacBlob},
				{Tag: "device", Attrs: binary.NewAttrList().SetJID("jid", binary.NewADJID("15551234567", 0, 4, binary.ServerDefault))},
			},
		}},
	}

	_, _, err = p.HandlePairSuccess(node)
	require.Error(t, err)
	var integrityErr *PairingIntegrityError
	assert.ErrorAs(t, err, &integrityErr)
	assert.Equal(t, PairingFailed, p.State())
}
