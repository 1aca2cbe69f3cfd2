// WAConnect Go - WhatsApp API Gateway
// Copyright (c) 2026 VertexHub
// Licensed under MIT License
// https://github.com/vertexhub/waconnect-go

package core

import (
	"encoding/base64"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/waconnect/waconnect-core/internal/core/binary"
)

// PairingIntegrityError reports an HMAC or signature mismatch while
// verifying a pair-success message. It is always fatal: a compromised
// pairing must never be retried.
type PairingIntegrityError struct {
	Check string
}

func (e *PairingIntegrityError) Error() string {
	return fmt.Sprintf("pairing integrity check failed: %s", e.Check)
}

// PairingState tracks where the companion-enrollment exchange currently is.
type PairingState int

const (
	PairingUnpairedIdle PairingState = iota
	PairingAwaitingPairDevice
	PairingQRDisplayed
	PairingAwaitingPairSuccess
	PairingVerifying
	PairingPaired
	PairingFailed
)

func (s PairingState) String() string {
	switch s {
	case PairingUnpairedIdle:
		return "UNPAIRED_IDLE"
	case PairingAwaitingPairDevice:
		return "AWAITING_PAIR_DEVICE"
	case PairingQRDisplayed:
		return "QR_DISPLAYED"
	case PairingAwaitingPairSuccess:
		return "AWAITING_PAIR_SUCCESS"
	case PairingVerifying:
		return "VERIFYING"
	case PairingPaired:
		return "PAIRED"
	default:
		return "PAIRING_FAILED"
	}
}

// ADV message field numbers.
const (
	fieldADVHMACDetails = 1
	fieldADVHMACValue   = 2

	fieldADVSignedDetails    = 1
	fieldADVAccountSigKey    = 2
	fieldADVAccountSignature = 3
	fieldADVDeviceSignature  = 4

	fieldADVKeyIndex = 3
)

// advSignedDeviceIdentity carries the phone's account-signature chain over
// the companion's identity key.
type advSignedDeviceIdentity struct {
	Details             []byte
	AccountSignatureKey []byte
	AccountSignature    []byte
	DeviceSignature     []byte
}

func decodeADVSignedDeviceIdentity(data []byte) (*advSignedDeviceIdentity, error) {
	details, err := findField(data, fieldADVSignedDetails)
	if err != nil {
		return nil, fmt.Errorf("signed device identity missing details: %w", err)
	}
	identity := &advSignedDeviceIdentity{Details: details}
	// The signature fields are optional at the wire level; their absence is
	// caught by signature verification, and the pair-device-sign reply
	// legitimately omits the account signature.
	if sigKey, err := findField(data, fieldADVAccountSigKey); err == nil {
		identity.AccountSignatureKey = sigKey
	}
	if sig, err := findField(data, fieldADVAccountSignature); err == nil {
		identity.AccountSignature = sig
	}
	if devSig, err := findField(data, fieldADVDeviceSignature); err == nil {
		identity.DeviceSignature = devSig
	}
	return identity, nil
}

func encodeADVSignedDeviceIdentity(identity *advSignedDeviceIdentity) []byte {
	var out []byte
	out = append(out, pbEncodeBytes(fieldADVSignedDetails, identity.Details)...)
	out = append(out, pbEncodeBytes(fieldADVAccountSigKey, identity.AccountSignatureKey)...)
	out = append(out, pbEncodeBytes(fieldADVAccountSignature, identity.AccountSignature)...)
	out = append(out, pbEncodeBytes(fieldADVDeviceSignature, identity.DeviceSignature)...)
	return out
}

// Pairing drives the companion-device enrollment exchange: QR generation
// from the pair-device ref, then HMAC- and signature-verified processing of
// pair-success into a signed pair-device-sign reply.
type Pairing struct {
	keys   *DeviceKeys
	state  PairingState
	logger *zap.SugaredLogger
}

// NewPairing creates a pairing machine over the device's key material.
func NewPairing(keys *DeviceKeys, logger *zap.SugaredLogger) *Pairing {
	return &Pairing{keys: keys, state: PairingUnpairedIdle, logger: logger}
}

// State returns the machine's current state.
func (p *Pairing) State() PairingState {
	return p.state
}

// Begin marks the machine as waiting for the server's pair-device IQ,
// called once the handshake completes on an unpaired device.
func (p *Pairing) Begin() {
	p.state = PairingAwaitingPairDevice
}

// HandlePairDevice consumes the iq/pair-device node, returning the QR text
// to render and the iq/result node acknowledging the ref.
func (p *Pairing) HandlePairDevice(node binary.Node) (qrText string, reply binary.Node, err error) {
	pairDevice, ok := node.GetChild("pair-device")
	if !ok {
		return "", binary.Node{}, &ProtocolError{Message: "pair-device iq missing pair-device child"}
	}
	refNode, ok := pairDevice.GetChild("ref")
	if !ok {
		return "", binary.Node{}, &ProtocolError{Message: "pair-device missing ref"}
	}

	qrText = p.buildQRText(refNode.Bytes())
	p.state = PairingQRDisplayed
	p.logger.Infow("pair-device ref received, QR ready", "state", p.state.String())

	reply = binary.Node{
		Tag: "iq",
		Attrs: binary.NewAttrList().
			SetString("to", binary.ServerDefault).
			SetString("type", "result").
			SetString("id", node.Attrs.GetString("id")),
	}
	p.state = PairingAwaitingPairSuccess
	return qrText, reply, nil
}

// buildQRText joins the server ref with the three base64 keys the phone
// needs to bootstrap the companion: noise static, identity, companion
// secret.
func (p *Pairing) buildQRText(ref []byte) string {
	return string(ref) + "," +
		base64.StdEncoding.EncodeToString(p.keys.NoiseKeyPair.Pub[:]) + "," +
		base64.StdEncoding.EncodeToString(p.keys.IdentityKeyPair.Pub[:]) + "," +
		base64.StdEncoding.EncodeToString(p.keys.CompanionKey[:])
}

// HandlePairSuccess verifies the phone's signed device identity and, on
// success, returns the pair-device-sign reply plus the companion JID to
// persist. Every verification failure moves the machine to PairingFailed
// and leaves the device keys untouched.
func (p *Pairing) HandlePairSuccess(node binary.Node) (reply binary.Node, companionJid binary.JID, err error) {
	p.state = PairingVerifying

	pairSuccess, ok := node.GetChild("pair-success")
	if !ok {
		p.state = PairingFailed
		return binary.Node{}, binary.JID{}, &ProtocolError{Message: "pair-success iq missing pair-success child"}
	}
	identityNode, ok := pairSuccess.GetChild("device-identity")
	if !ok {
		p.state = PairingFailed
		return binary.Node{}, binary.JID{}, &ProtocolError{Message: "pair-success missing device-identity"}
	}

	details, hmacValue, err := p.decodeIdentityHMAC(identityNode.Bytes())
	if err != nil {
		p.state = PairingFailed
		return binary.Node{}, binary.JID{}, err
	}

	expected := hmacSHA256(p.keys.CompanionKey[:], details)
	if !hmacEqual(expected, hmacValue) {
		p.state = PairingFailed
		p.logger.Errorw("pairing rejected", "check", "adv identity hmac")
		return binary.Node{}, binary.JID{}, &PairingIntegrityError{Check: "adv identity hmac"}
	}

	identity, err := decodeADVSignedDeviceIdentity(details)
	if err != nil {
		p.state = PairingFailed
		return binary.Node{}, binary.JID{}, err
	}

	if !p.verifyAccountSignature(identity) {
		p.state = PairingFailed
		p.logger.Errorw("pairing rejected", "check", "account signature")
		return binary.Node{}, binary.JID{}, &PairingIntegrityError{Check: "account signature"}
	}

	deviceSig, err := p.computeDeviceSignature(identity)
	if err != nil {
		p.state = PairingFailed
		return binary.Node{}, binary.JID{}, err
	}

	keyIndex, err := findVarintField(identity.Details, fieldADVKeyIndex)
	if err != nil {
		p.state = PairingFailed
		return binary.Node{}, binary.JID{}, fmt.Errorf("device identity missing key index: %w", err)
	}

	deviceNode, ok := pairSuccess.GetChild("device")
	if !ok {
		p.state = PairingFailed
		return binary.Node{}, binary.JID{}, &ProtocolError{Message: "pair-success missing device jid"}
	}
	jidVal, ok := deviceNode.Attrs.Get("jid")
	if !ok {
		p.state = PairingFailed
		return binary.Node{}, binary.JID{}, &ProtocolError{Message: "pair-success device node missing jid attribute"}
	}
	if jidVal.IsJID() {
		companionJid = jidVal.JID()
	} else {
		companionJid, err = binary.ParseJID(jidVal.String())
		if err != nil {
			p.state = PairingFailed
			return binary.Node{}, binary.JID{}, err
		}
	}

	// Re-encode with the account signature cleared and our device
	// signature filled in, as the phone expects it back.
	signed := &advSignedDeviceIdentity{
		Details:             identity.Details,
		AccountSignatureKey: identity.AccountSignatureKey,
		DeviceSignature:     deviceSig[:],
	}

	reply = binary.Node{
		Tag: "iq",
		Attrs: binary.NewAttrList().
			SetString("to", binary.ServerDefault).
			SetString("type", "result").
			SetString("id", node.Attrs.GetString("id")),
		Content: []binary.Node{{
			Tag: "pair-device-sign",
			Content: []binary.Node{{
				Tag:     "device-identity",
				Attrs:   binary.NewAttrList().SetString("key-index", strconv.FormatUint(keyIndex, 10)),
				Content: encodeADVSignedDeviceIdentity(signed),
			}},
		}},
	}

	p.state = PairingPaired
	p.logger.Infow("pairing complete", "companion", companionJid.String(), "keyIndex", keyIndex)
	return reply, companionJid, nil
}

func (p *Pairing) decodeIdentityHMAC(data []byte) (details, hmacValue []byte, err error) {
	details, err = findField(data, fieldADVHMACDetails)
	if err != nil {
		return nil, nil, fmt.Errorf("device identity hmac missing details: %w", err)
	}
	hmacValue, err = findField(data, fieldADVHMACValue)
	if err != nil {
		return nil, nil, fmt.Errorf("device identity hmac missing hmac: %w", err)
	}
	return details, hmacValue, nil
}

// verifyAccountSignature checks the phone's signature over
// 0x06 0x00 || details || companionIdentityPub.
func (p *Pairing) verifyAccountSignature(identity *advSignedDeviceIdentity) bool {
	if len(identity.AccountSignatureKey) != 32 || len(identity.AccountSignature) != 64 {
		return false
	}

	msg := make([]byte, 0, 2+len(identity.Details)+32)
	msg = append(msg, 0x06, 0x00)
	msg = append(msg, identity.Details...)
	msg = append(msg, p.keys.IdentityKeyPair.Pub[:]...)

	var sigKey [32]byte
	copy(sigKey[:], identity.AccountSignatureKey)
	var sig [64]byte
	copy(sig[:], identity.AccountSignature)

	return VerifyCurve25519(sigKey, msg, sig)
}

// computeDeviceSignature signs 0x06 0x01 || details || companionIdentityPub
// || accountSignature with the companion identity private key.
func (p *Pairing) computeDeviceSignature(identity *advSignedDeviceIdentity) ([64]byte, error) {
	msg := make([]byte, 0, 2+len(identity.Details)+32+len(identity.AccountSignature))
	msg = append(msg, 0x06, 0x01)
	msg = append(msg, identity.Details...)
	msg = append(msg, p.keys.IdentityKeyPair.Pub[:]...)
	msg = append(msg, identity.AccountSignature...)

	return SignCurve25519(p.keys.IdentityKeyPair.Priv, msg)
}

// ProtocolError reports a node whose shape the core doesn't recognize;
// fatal for the connection.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string { return e.Message }
