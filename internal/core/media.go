// WAConnect Go - WhatsApp API Gateway
// Copyright (c) 2026 VertexHub
// Licensed under MIT License
// https://github.com/vertexhub/waconnect-go

package core

import (
	"fmt"
)

// MediaIntegrityError reports a MAC mismatch on a downloaded media blob;
// the caller must discard the ciphertext rather than attempt to decode it.
type MediaIntegrityError struct {
	Reason string
}

func (e *MediaIntegrityError) Error() string {
	return fmt.Sprintf("media integrity check failed: %s", e.Reason)
}

// Each media type expands its 32-byte media key under a fixed ASCII HKDF
// info label, so an image key can never decrypt a video even when the raw
// media key is reused.
const (
	mediaInfoImage = "WhatsApp Image Keys"
	mediaInfoVideo = "WhatsApp Video Keys"
	mediaInfoAudio = "WhatsApp Audio Keys"
	mediaInfoDoc   = "WhatsApp Document Keys"
)

// MediaType selects which fixed info label keys a media upload/download.
type MediaType int

const (
	MediaImage MediaType = iota
	MediaVideo
	MediaAudio
	MediaDocument
)

func (t MediaType) infoLabel() string {
	switch t {
	case MediaVideo:
		return mediaInfoVideo
	case MediaAudio:
		return mediaInfoAudio
	case MediaDocument:
		return mediaInfoDoc
	default:
		return mediaInfoImage
	}
}

// MediaKeys is the 112-byte HKDF expansion of a random 32-byte media key,
// split into the four working keys used to encrypt, MAC, and later derive
// a re-uploadable reference for a media blob.
type MediaKeys struct {
	IV        [16]byte
	CipherKey [32]byte
	MacKey    [32]byte
	RefKey    [32]byte
}

// DeriveMediaKeys expands a random media key into the key schedule for
// mediaType, via HKDF-SHA256(ikm=mediaKey, salt=nil, info=label, L=112).
func DeriveMediaKeys(mediaKey [32]byte, mediaType MediaType) (MediaKeys, error) {
	var mk MediaKeys

	expanded, err := hkdfExpand(nil, mediaKey[:], []byte(mediaType.infoLabel()), 112)
	if err != nil {
		return mk, err
	}

	copy(mk.IV[:], expanded[0:16])
	copy(mk.CipherKey[:], expanded[16:48])
	copy(mk.MacKey[:], expanded[48:80])
	copy(mk.RefKey[:], expanded[80:112])
	return mk, nil
}

// EncryptMedia encrypts plaintext under keys.CipherKey/IV with AES-CBC and
// appends a 10-byte truncated HMAC-SHA256 computed over IV||ciphertext
// under keys.MacKey.
func EncryptMedia(keys MediaKeys, plaintext []byte) ([]byte, error) {
	ciphertext, err := aesCBCEncrypt(keys.CipherKey[:], keys.IV[:], plaintext)
	if err != nil {
		return nil, err
	}

	mac := hmacSHA256(keys.MacKey[:], append(append([]byte(nil), keys.IV[:]...), ciphertext...))
	out := make([]byte, 0, len(ciphertext)+10)
	out = append(out, ciphertext...)
	out = append(out, mac[:10]...)
	return out, nil
}

// DecryptMedia validates the trailing 10-byte MAC tag on blob and, if
// valid, decrypts the leading AES-CBC ciphertext. A MAC mismatch returns
// MediaIntegrityError and never touches the ciphertext.
func DecryptMedia(keys MediaKeys, blob []byte) ([]byte, error) {
	if len(blob) < 10 {
		return nil, &MediaIntegrityError{Reason: "blob shorter than MAC tag"}
	}
	ciphertext := blob[:len(blob)-10]
	tag := blob[len(blob)-10:]

	mac := hmacSHA256(keys.MacKey[:], append(append([]byte(nil), keys.IV[:]...), ciphertext...))
	if !hmacEqual(mac[:10], tag) {
		return nil, &MediaIntegrityError{Reason: "MAC mismatch"}
	}

	return aesCBCDecrypt(keys.CipherKey[:], keys.IV[:], ciphertext)
}

// sidecarBlockSize and sidecarMacSize define the streaming MAC format used
// to seek into encrypted audio/video: one truncated HMAC per 80-byte block
// of the plaintext.
const (
	sidecarBlockSize = 80
	sidecarMacSize   = 10
)

// GenerateSidecar computes the streaming MAC stream for plaintext: the
// first 10 bytes of HMAC-SHA256(macKey, block) for each 80-byte block, with
// the final block allowed to run short.
func GenerateSidecar(keys MediaKeys, plaintext []byte) []byte {
	blocks := (len(plaintext) + sidecarBlockSize - 1) / sidecarBlockSize
	sidecar := make([]byte, 0, blocks*sidecarMacSize)

	for start := 0; start < len(plaintext); start += sidecarBlockSize {
		end := start + sidecarBlockSize
		if end > len(plaintext) {
			end = len(plaintext)
		}
		mac := hmacSHA256(keys.MacKey[:], plaintext[start:end])
		sidecar = append(sidecar, mac[:sidecarMacSize]...)
	}

	return sidecar
}

// VerifySidecarBlock checks one block of a sidecar-protected stream against
// its tag, letting a player validate a seek target without decrypting the
// whole blob first.
func VerifySidecarBlock(keys MediaKeys, block []byte, tag []byte) bool {
	if len(tag) != sidecarMacSize {
		return false
	}
	mac := hmacSHA256(keys.MacKey[:], block)
	return hmacEqual(mac[:sidecarMacSize], tag)
}
