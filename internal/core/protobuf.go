// WAConnect Go - WhatsApp API Gateway
// Copyright (c) 2026 VertexHub
// Licensed under MIT License
// https://github.com/vertexhub/waconnect-go

package core

import "fmt"

// Manual Protobuf encoder/decoder for HandshakeMessage
// This avoids dependency on protoc-generated code while maintaining compatibility
// with WhatsApp's expected Protobuf format.
//
// HandshakeMessage structure:
//   - ClientHello: field 2
//   - ServerHello: field 3
//   - ClientFinish: field 4

// Wire types
const (
	wireVarint  = 0
	wireFixed64 = 1
	wireBytes   = 2
	wireFixed32 = 5
)

// Field numbers for HandshakeMessage
const (
	fieldClientHello  = 2
	fieldServerHello  = 3
	fieldClientFinish = 4
)

// Field numbers for inner messages
const (
	fieldEphemeral = 1
	fieldStatic    = 2
	fieldPayload   = 3
)

// encodeVarint encodes an unsigned integer as a varint
func encodeVarint(n uint64) []byte {
	if n == 0 {
		return []byte{0}
	}
	var buf []byte
	for n > 0 {
		b := byte(n & 0x7F)
		n >>= 7
		if n > 0 {
			b |= 0x80
		}
		buf = append(buf, b)
	}
	return buf
}

// decodeVarint decodes a varint from data, returns value and bytes consumed
func decodeVarint(data []byte) (uint64, int) {
	var n uint64
	var shift uint
	for i, b := range data {
		n |= uint64(b&0x7F) << shift
		if b < 0x80 {
			return n, i + 1
		}
		shift += 7
		if shift >= 64 {
			return 0, 0 // overflow
		}
	}
	return 0, 0
}

// encodeTag creates a protobuf field tag
func encodeTag(fieldNum int, wireType int) []byte {
	return encodeVarint(uint64(fieldNum<<3 | wireType))
}

// pbEncodeBytes encodes a bytes field with tag
func pbEncodeBytes(fieldNum int, data []byte) []byte {
	if len(data) == 0 {
		return nil
	}
	tag := encodeTag(fieldNum, wireBytes)
	length := encodeVarint(uint64(len(data)))
	result := make([]byte, 0, len(tag)+len(length)+len(data))
	result = append(result, tag...)
	result = append(result, length...)
	result = append(result, data...)
	return result
}

// EncodeClientHello creates a HandshakeMessage with ClientHello
// ClientHello contains ephemeral public key (field 1)
func EncodeClientHello(ephemeral []byte) []byte {
	// Build ClientHello inner message
	clientHello := pbEncodeBytes(fieldEphemeral, ephemeral)

	// Wrap in HandshakeMessage (field 2 = ClientHello)
	return pbEncodeBytes(fieldClientHello, clientHello)
}

// EncodeClientFinish creates a HandshakeMessage with ClientFinish
// ClientFinish contains static key (field 1) and payload (field 2)
func EncodeClientFinish(static, payload []byte) []byte {
	// Build ClientFinish inner message
	var clientFinish []byte
	clientFinish = append(clientFinish, pbEncodeBytes(fieldStatic, static)...)
	if len(payload) > 0 {
		clientFinish = append(clientFinish, pbEncodeBytes(fieldPayload, payload)...)
	}

	// Wrap in HandshakeMessage (field 4 = ClientFinish)
	return pbEncodeBytes(fieldClientFinish, clientFinish)
}

// pbEncodeVarintField encodes a varint field with its tag.
func pbEncodeVarintField(fieldNum int, value uint64) []byte {
	tag := encodeTag(fieldNum, wireVarint)
	return append(tag, encodeVarint(value)...)
}

// pbEncodeMessage wraps an already-encoded inner message as a bytes field.
func pbEncodeMessage(fieldNum int, inner []byte) []byte {
	return pbEncodeBytes(fieldNum, inner)
}

// Field numbers for NoiseCertificate / NoiseCertificateDetails.
const (
	fieldCertDetails   = 1
	fieldCertSignature = 2
	fieldCertKey       = 1
)

// NoiseCertificateData holds the parsed fields of the certificate embedded
// in ServerHello.Payload, binding the decrypted server static key to
// WhatsApp's root certificate chain.
type NoiseCertificateData struct {
	Details   []byte
	Signature []byte
	// Key is parsed out of Details (a nested NoiseCertificateDetails message).
	Key []byte
}

// DecodeNoiseCertificate parses a NoiseCertificate and its nested details.
func DecodeNoiseCertificate(data []byte) (*NoiseCertificateData, error) {
	cert := &NoiseCertificateData{}

	details, err := findField(data, fieldCertDetails)
	if err != nil {
		return nil, fmt.Errorf("noise certificate missing details: %w", err)
	}
	cert.Details = details

	sig, err := findField(data, fieldCertSignature)
	if err != nil {
		return nil, fmt.Errorf("noise certificate missing signature: %w", err)
	}
	cert.Signature = sig

	if key, err := findField(details, fieldCertKey); err == nil {
		cert.Key = key
	}

	return cert, nil
}

// Field numbers for the ClientPayload message (the subset this client uses).
const (
	fieldPayloadUsername      = 1
	fieldPayloadPassive       = 2
	fieldPayloadUserAgent     = 3
	fieldPayloadWebInfo       = 4
	fieldPayloadConnectType   = 5
	fieldPayloadConnectReason = 6
	fieldPayloadDevice        = 7
	fieldPayloadRegData       = 8
)

// Field numbers for UserAgent (subset).
const (
	fieldUAPlatform       = 1
	fieldUAAppVersion     = 2
	fieldUAMcc            = 3
	fieldUAMnc            = 4
	fieldUADevice         = 5
	fieldUAOsVersion      = 6
	fieldUAManufacturer   = 9
	fieldUAOsBuildNumber  = 10
	fieldUALocaleLanguage = 13
	fieldUALocaleCountry  = 14
	fieldUAReleaseChannel = 15
)

// EncodeUserAgent builds the fixed UserAgent message this client presents:
// platform=WEB, releaseChannel=RELEASE, appVersion (2,2144,11),
// mcc/mnc="000", osVersion="0.1", device="Desktop".
func EncodeUserAgent() []byte {
	var ua []byte
	ua = append(ua, pbEncodeVarintField(fieldUAPlatform, 1)...)        // WEB
	ua = append(ua, pbEncodeBytes(fieldUAAppVersion, encodeAppVersion(2, 2144, 11))...)
	ua = append(ua, pbEncodeBytes(fieldUAMcc, []byte("000"))...)
	ua = append(ua, pbEncodeBytes(fieldUAMnc, []byte("000"))...)
	ua = append(ua, pbEncodeVarintField(fieldUADevice, 1)...) // Desktop
	ua = append(ua, pbEncodeBytes(fieldUAOsVersion, []byte("0.1"))...)
	ua = append(ua, pbEncodeBytes(fieldUAManufacturer, []byte(""))...)
	ua = append(ua, pbEncodeBytes(fieldUAOsBuildNumber, []byte("0.1"))...)
	ua = append(ua, pbEncodeBytes(fieldUALocaleLanguage, []byte("en"))...)
	ua = append(ua, pbEncodeBytes(fieldUALocaleCountry, []byte("en"))...)
	ua = append(ua, pbEncodeVarintField(fieldUAReleaseChannel, 0)...) // RELEASE
	return ua
}

func encodeAppVersion(primary, secondary, tertiary uint64) []byte {
	var v []byte
	v = append(v, pbEncodeVarintField(1, primary)...)
	v = append(v, pbEncodeVarintField(2, secondary)...)
	v = append(v, pbEncodeVarintField(3, tertiary)...)
	return v
}

// EncodeWebInfo builds the fixed WebInfo message (subPlatform=WEB_BROWSER).
func EncodeWebInfo() []byte {
	return pbEncodeVarintField(1, 0) // WEB_BROWSER
}

// Field numbers for CompanionProps.
const (
	fieldPropsOs              = 1
	fieldPropsVersion         = 2
	fieldPropsPlatformType    = 3
	fieldPropsRequireFullSync = 4
)

// EncodeCompanionProps builds the companion description shown on the
// primary phone's linked-devices screen.
func EncodeCompanionProps(osName string, platformType uint64) []byte {
	var props []byte
	props = append(props, pbEncodeBytes(fieldPropsOs, []byte(osName))...)
	props = append(props, pbEncodeMessage(fieldPropsVersion, encodeAppVersion(0, 1, 0))...)
	props = append(props, pbEncodeVarintField(fieldPropsPlatformType, platformType)...)
	props = append(props, pbEncodeVarintField(fieldPropsRequireFullSync, 0)...)
	return props
}

// CompanionRegData holds the device-registration fields carried inside
// ClientPayload when pairing a new companion device.
type CompanionRegData struct {
	BuildHash          []byte
	Companion          []byte // opaque, pre-encoded CompanionProps
	RegistrationID     uint32
	KeyType            uint8
	Identifier         []byte // identityPub
	SignatureID        uint32
	SignaturePublicKey []byte
	Signature          []byte
}

// Field numbers for CompanionRegData (regData).
const (
	fieldRegBuildHash    = 1
	fieldRegCompanion    = 2
	fieldRegID           = 3
	fieldRegKeyType      = 4
	fieldRegIdentifier   = 5
	fieldRegSignatureID  = 6
	fieldRegSignaturePub = 7
	fieldRegSignature    = 8
)

// EncodeCompanionRegData encodes the regData embedded in ClientFinish's
// ClientPayload during first-run pairing. The registration id travels as a
// 4-byte big-endian blob and the key type as a single byte, not varints.
func EncodeCompanionRegData(d CompanionRegData) []byte {
	var out []byte
	out = append(out, pbEncodeBytes(fieldRegBuildHash, d.BuildHash)...)
	out = append(out, pbEncodeBytes(fieldRegCompanion, d.Companion)...)
	out = append(out, pbEncodeBytes(fieldRegID, encodeUint32BE(d.RegistrationID))...)
	out = append(out, pbEncodeBytes(fieldRegKeyType, []byte{d.KeyType})...)
	out = append(out, pbEncodeBytes(fieldRegIdentifier, d.Identifier)...)
	out = append(out, pbEncodeBytes(fieldRegSignatureID, encodePreKeyID(d.SignatureID))...)
	out = append(out, pbEncodeBytes(fieldRegSignaturePub, d.SignaturePublicKey)...)
	out = append(out, pbEncodeBytes(fieldRegSignature, d.Signature)...)
	return out
}

// ClientPayloadOptions configures EncodeClientPayload.
type ClientPayloadOptions struct {
	Username       uint64
	Passive        bool
	ConnectType    uint64
	ConnectReason  uint64
	Device         *uint32
	RegData        *CompanionRegData
}

// EncodeClientPayload builds the ClientPayload carried (encrypted) inside
// ClientFinish.
func EncodeClientPayload(opts ClientPayloadOptions) []byte {
	var out []byte
	if opts.Username != 0 {
		out = append(out, pbEncodeVarintField(fieldPayloadUsername, opts.Username)...)
	}
	passiveVal := uint64(0)
	if opts.Passive {
		passiveVal = 1
	}
	out = append(out, pbEncodeVarintField(fieldPayloadPassive, passiveVal)...)
	out = append(out, pbEncodeMessage(fieldPayloadUserAgent, EncodeUserAgent())...)
	out = append(out, pbEncodeMessage(fieldPayloadWebInfo, EncodeWebInfo())...)
	out = append(out, pbEncodeVarintField(fieldPayloadConnectType, opts.ConnectType)...)
	out = append(out, pbEncodeVarintField(fieldPayloadConnectReason, opts.ConnectReason)...)
	if opts.Device != nil {
		out = append(out, pbEncodeVarintField(fieldPayloadDevice, uint64(*opts.Device))...)
	}
	if opts.RegData != nil {
		out = append(out, pbEncodeMessage(fieldPayloadRegData, EncodeCompanionRegData(*opts.RegData))...)
	}
	return out
}

// ServerHelloData contains parsed ServerHello fields
type ServerHelloData struct {
	Ephemeral []byte
	Static    []byte
	Payload   []byte
}

// DecodeServerHello extracts fields from a HandshakeMessage containing ServerHello
func DecodeServerHello(data []byte) (*ServerHelloData, error) {
	result := &ServerHelloData{}

	// First, find the ServerHello field (field 3) in HandshakeMessage
	serverHelloBytes, err := findField(data, fieldServerHello)
	if err != nil {
		// Maybe the data IS the ServerHello directly (without HandshakeMessage wrapper)
		// Try parsing as raw ServerHello
		serverHelloBytes = data
	}

	// Parse ServerHello fields
	if ephemeral, err := findField(serverHelloBytes, fieldEphemeral); err == nil {
		result.Ephemeral = ephemeral
	}
	if static, err := findField(serverHelloBytes, fieldStatic); err == nil {
		result.Static = static
	}
	if payload, err := findField(serverHelloBytes, fieldPayload); err == nil {
		result.Payload = payload
	}

	// If no ephemeral found, the data might be raw bytes (32-byte key)
	if len(result.Ephemeral) == 0 && len(data) >= 32 {
		// Fallback: treat first 32 bytes as ephemeral public key
		result.Ephemeral = data[:32]
		if len(data) > 32 {
			result.Static = data[32:]
		}
	}

	return result, nil
}

// findVarintField searches data for a varint field, returning its value.
func findVarintField(data []byte, targetField int) (uint64, error) {
	pos := 0
	for pos < len(data) {
		tag, n := decodeVarint(data[pos:])
		if n == 0 {
			break
		}
		pos += n

		fieldNum := int(tag >> 3)
		wireType := int(tag & 0x7)

		switch wireType {
		case wireVarint:
			value, n := decodeVarint(data[pos:])
			if n == 0 {
				return 0, ErrInvalidProtobuf
			}
			if fieldNum == targetField {
				return value, nil
			}
			pos += n

		case wireFixed64:
			pos += 8

		case wireFixed32:
			pos += 4

		case wireBytes:
			length, n := decodeVarint(data[pos:])
			if n == 0 {
				return 0, ErrInvalidProtobuf
			}
			pos += n + int(length)

		default:
			return 0, ErrInvalidProtobuf
		}
	}
	return 0, ErrFieldNotFound
}

// findField searches for a specific field number in protobuf data
func findField(data []byte, targetField int) ([]byte, error) {
	pos := 0
	for pos < len(data) {
		// Read tag
		tag, n := decodeVarint(data[pos:])
		if n == 0 {
			break
		}
		pos += n

		fieldNum := int(tag >> 3)
		wireType := int(tag & 0x7)

		switch wireType {
		case wireVarint:
			// Skip varint value
			_, n := decodeVarint(data[pos:])
			if n == 0 {
				return nil, ErrInvalidProtobuf
			}
			pos += n

		case wireFixed64:
			pos += 8

		case wireFixed32:
			pos += 4

		case wireBytes:
			// Read length
			length, n := decodeVarint(data[pos:])
			if n == 0 {
				return nil, ErrInvalidProtobuf
			}
			pos += n

			if pos+int(length) > len(data) {
				return nil, ErrInvalidProtobuf
			}

			if fieldNum == targetField {
				return data[pos : pos+int(length)], nil
			}
			pos += int(length)

		default:
			return nil, ErrInvalidProtobuf
		}
	}

	return nil, ErrFieldNotFound
}

// Protobuf errors
type ProtobufError struct {
	Message string
}

func (e *ProtobufError) Error() string {
	return e.Message
}

var (
	ErrInvalidProtobuf = &ProtobufError{Message: "invalid protobuf data"}
	ErrFieldNotFound   = &ProtobufError{Message: "field not found"}
)
