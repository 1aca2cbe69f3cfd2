// WAConnect Go - WhatsApp API Gateway
// Copyright (c) 2026 VertexHub
// Licensed under MIT License
// https://github.com/vertexhub/waconnect-go

package core

import (
	"encoding/binary"

	wabinary "github.com/waconnect/waconnect-core/internal/core/binary"
)

// PreKeyUploadCount is the size of the first pre-key batch published after
// the initial login.
const PreKeyUploadCount = 30

func encodeUint32BE(v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b[:]
}

// encodePreKeyID renders a pre-key id as the 3-byte big-endian blob the
// encrypt namespace expects.
func encodePreKeyID(id uint32) []byte {
	b := encodeUint32BE(id)
	return b[1:]
}

func preKeyNode(k PreKey) wabinary.Node {
	return wabinary.Node{
		Tag: "key",
		Content: []wabinary.Node{
			{Tag: "id", Content: encodePreKeyID(k.ID)},
			{Tag: "value", Content: k.KeyPair.Pub[:]},
		},
	}
}

// BuildPreKeyUploadNode assembles the encrypt-namespace IQ that publishes
// the registration id, identity key, a batch of one-time pre-keys, and the
// signed pre-key.
func BuildPreKeyUploadNode(keys *DeviceKeys, preKeys []PreKey) wabinary.Node {
	keyNodes := make([]wabinary.Node, 0, len(preKeys))
	for _, k := range preKeys {
		keyNodes = append(keyNodes, preKeyNode(k))
	}

	return wabinary.Node{
		Tag: "iq",
		Attrs: wabinary.NewAttrList().
			SetString("to", wabinary.ServerDefault).
			SetString("xmlns", "encrypt").
			SetString("type", "set"),
		Content: []wabinary.Node{
			{Tag: "registration", Content: encodeUint32BE(keys.RegistrationID)},
			{Tag: "type", Content: []byte{5}},
			{Tag: "identity", Content: keys.IdentityKeyPair.Pub[:]},
			{Tag: "list", Content: keyNodes},
			{Tag: "skey", Content: []wabinary.Node{
				{Tag: "id", Content: encodePreKeyID(keys.SignedPreKey.ID)},
				{Tag: "value", Content: keys.SignedPreKey.KeyPair.Pub[:]},
				{Tag: "signature", Content: keys.SignedPreKey.Signature[:]},
			}},
		},
	}
}
