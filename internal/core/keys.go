// WAConnect Go - WhatsApp API Gateway
// Copyright (c) 2026 VertexHub
// Licensed under MIT License
// https://github.com/vertexhub/waconnect-go

package core

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// KeyPair is a Curve25519 key pair in raw 32-byte form.
type KeyPair struct {
	Priv [32]byte `json:"priv"`
	Pub  [32]byte `json:"pub"`
}

// NewKeyPair generates a fresh X25519 key pair.
func NewKeyPair() (KeyPair, error) {
	priv, pub, err := GenerateX25519KeyPair()
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{Priv: priv, Pub: pub}, nil
}

// SignedPreKey is a pre-key whose public half is signed by the identity key.
type SignedPreKey struct {
	ID        uint32   `json:"id"`
	KeyPair   KeyPair  `json:"keyPair"`
	Signature [64]byte `json:"signature"`
}

// PreKey is a one-time key published for Signal session establishment.
type PreKey struct {
	ID      uint32  `json:"id"`
	KeyPair KeyPair `json:"keyPair"`
}

// DeviceKeys is the key material persisted across sessions. The ephemeral
// handshake pair is deliberately absent: it is regenerated per connection
// inside NoiseHandshake and never written to disk.
type DeviceKeys struct {
	NoiseKeyPair    KeyPair      `json:"noiseKeyPair"`
	IdentityKeyPair KeyPair      `json:"identityKeyPair"`
	SignedPreKey    SignedPreKey `json:"signedPreKey"`
	CompanionKey    [32]byte     `json:"companionKey"`
	RegistrationID  uint32       `json:"registrationId"`

	// CompanionJid is set once pairing completes; its absence marks a
	// first-run device and triggers the QR flow.
	CompanionJid string `json:"companionJid,omitempty"`
	PreKeysSent  bool   `json:"preKeysSent"`
}

// GenerateDeviceKeys creates the full first-run key material: noise and
// identity pairs, a signed pre-key (signed with the identity private key),
// a random companion secret, and a random registration id.
func GenerateDeviceKeys() (*DeviceKeys, error) {
	noise, err := NewKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate noise key pair: %w", err)
	}
	identity, err := NewKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate identity key pair: %w", err)
	}

	spk, err := NewKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate signed pre-key: %w", err)
	}
	sig, err := SignCurve25519(identity.Priv, spk.Pub[:])
	if err != nil {
		return nil, fmt.Errorf("sign pre-key: %w", err)
	}

	keys := &DeviceKeys{
		NoiseKeyPair:    noise,
		IdentityKeyPair: identity,
		SignedPreKey: SignedPreKey{
			ID:        1,
			KeyPair:   spk,
			Signature: sig,
		},
	}

	if _, err := io.ReadFull(rand.Reader, keys.CompanionKey[:]); err != nil {
		return nil, fmt.Errorf("generate companion key: %w", err)
	}

	var regBuf [4]byte
	if _, err := io.ReadFull(rand.Reader, regBuf[:]); err != nil {
		return nil, fmt.Errorf("generate registration id: %w", err)
	}
	keys.RegistrationID = binary.BigEndian.Uint32(regBuf[:])

	return keys, nil
}

// IsPaired reports whether this device has completed companion pairing.
func (k *DeviceKeys) IsPaired() bool {
	return k.CompanionJid != ""
}

// GeneratePreKeys creates count fresh one-time pre-keys starting at startID.
func GeneratePreKeys(startID uint32, count int) ([]PreKey, error) {
	keys := make([]PreKey, 0, count)
	for i := 0; i < count; i++ {
		kp, err := NewKeyPair()
		if err != nil {
			return nil, fmt.Errorf("generate pre-key %d: %w", startID+uint32(i), err)
		}
		keys = append(keys, PreKey{ID: startID + uint32(i), KeyPair: kp})
	}
	return keys, nil
}

// KeyStore persists DeviceKeys as creds.json under a per-session directory.
type KeyStore struct {
	sessionDir string
	sessionID  string
}

// NewKeyStore creates a store rooted at sessionDir for sessionID.
func NewKeyStore(sessionDir, sessionID string) *KeyStore {
	return &KeyStore{sessionDir: sessionDir, sessionID: sessionID}
}

func (s *KeyStore) credsPath() string {
	return filepath.Join(s.sessionDir, s.sessionID, "creds.json")
}

// Exists reports whether persisted keys are present for this session.
func (s *KeyStore) Exists() bool {
	_, err := os.Stat(s.credsPath())
	return err == nil
}

// Load reads the persisted key material.
func (s *KeyStore) Load() (*DeviceKeys, error) {
	data, err := os.ReadFile(s.credsPath())
	if err != nil {
		return nil, err
	}
	var keys DeviceKeys
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.credsPath(), err)
	}
	return &keys, nil
}

// Save writes the key material, creating the session directory as needed.
func (s *KeyStore) Save(keys *DeviceKeys) error {
	path := s.credsPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.Marshal(keys)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// LoadOrGenerate returns existing keys, or generates and persists a fresh
// set on first run.
func (s *KeyStore) LoadOrGenerate() (*DeviceKeys, error) {
	if s.Exists() {
		return s.Load()
	}
	keys, err := GenerateDeviceKeys()
	if err != nil {
		return nil, err
	}
	if err := s.Save(keys); err != nil {
		return nil, err
	}
	return keys, nil
}
