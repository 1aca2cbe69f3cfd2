// WAConnect Go - WhatsApp API Gateway
// Copyright (c) 2026 VertexHub
// Licensed under MIT License
// https://github.com/vertexhub/waconnect-go

package core

import (
	"fmt"
	"sync"
)

// DisconnectSignalLength is the magic 3-byte-framed length the server sends
// instead of a real payload to request the client close the connection.
const DisconnectSignalLength = 8913411

// TransportError wraps a transport-level failure that is not an AEAD
// authentication failure (framing, length limits, disconnect signals).
type TransportError struct {
	Message string
}

func (e *TransportError) Error() string { return e.Message }

// TransportCipher is the post-handshake AES-GCM transport cipher: one
// independent key and monotonic counter per direction, so a compromised
// read path never leaks anything about what the write path has sent.
type TransportCipher struct {
	writeKey     []byte
	readKey      []byte
	writeCounter uint64
	readCounter  uint64

	mu sync.Mutex
}

func newTransportCipher(writeKey, readKey []byte) *TransportCipher {
	return &TransportCipher{writeKey: writeKey, readKey: readKey}
}

func frameIV(counter uint64) []byte {
	iv := make([]byte, 12)
	iv[4] = byte(counter >> 56)
	iv[5] = byte(counter >> 48)
	iv[6] = byte(counter >> 40)
	iv[7] = byte(counter >> 32)
	iv[8] = byte(counter >> 24)
	iv[9] = byte(counter >> 16)
	iv[10] = byte(counter >> 8)
	iv[11] = byte(counter)
	return iv
}

// EncryptFrame seals plaintext under the write key and current write
// counter, then advances the counter. The AAD is empty; the transport
// cipher authenticates only the ciphertext itself, not any framing.
func (t *TransportCipher) EncryptFrame(plaintext []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	gcm, err := newAESGCM(t.writeKey)
	if err != nil {
		return nil, err
	}
	out := gcm.Seal(nil, frameIV(t.writeCounter), plaintext, nil)
	t.writeCounter++
	return out, nil
}

// DecryptFrame opens ciphertext under the read key and current read
// counter, then advances the counter. Failure is always fatal: there is
// no retry, since a failed open means the counters (and thus the stream)
// have desynchronized.
func (t *TransportCipher) DecryptFrame(ciphertext []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	gcm, err := newAESGCM(t.readKey)
	if err != nil {
		return nil, err
	}
	out, err := gcm.Open(nil, frameIV(t.readCounter), ciphertext, nil)
	if err != nil {
		return nil, &HandshakeAuthError{Stage: "transport-decrypt", Err: err}
	}
	t.readCounter++
	return out, nil
}

// EncodeLengthFramed prefixes data with a 3-byte big-endian length, the
// wire framing used for every post-handshake frame.
func EncodeLengthFramed(data []byte) ([]byte, error) {
	if len(data) > 0xFFFFFF {
		return nil, &TransportError{Message: fmt.Sprintf("frame too large: %d bytes", len(data))}
	}
	out := make([]byte, 3+len(data))
	out[0] = byte(len(data) >> 16)
	out[1] = byte(len(data) >> 8)
	out[2] = byte(len(data))
	copy(out[3:], data)
	return out, nil
}

// FrameReader incrementally splits a byte stream into length-prefixed
// frames, buffering partial reads across multiple Feed calls.
type FrameReader struct {
	buf []byte
}

// Feed appends newly-read bytes and returns every complete frame now
// available. A frame whose declared length equals DisconnectSignalLength
// carries no payload; ReadFrames returns it as a TransportError instead of
// a data frame so callers can distinguish a server-requested disconnect
// from ordinary traffic.
func (r *FrameReader) Feed(data []byte) ([][]byte, error) {
	r.buf = append(r.buf, data...)

	var frames [][]byte
	for len(r.buf) >= 3 {
		length := int(r.buf[0])<<16 | int(r.buf[1])<<8 | int(r.buf[2])
		if length == DisconnectSignalLength {
			r.buf = r.buf[3:]
			return frames, &TransportError{Message: "server requested disconnect"}
		}
		if len(r.buf) < 3+length {
			break
		}
		frames = append(frames, r.buf[3:3+length])
		r.buf = r.buf[3+length:]
	}
	return frames, nil
}
