// WAConnect Go - WhatsApp API Gateway
// Copyright (c) 2026 VertexHub
// Licensed under MIT License
// https://github.com/vertexhub/waconnect-go

package core

import (
	"bytes"
	"crypto/rand"
	"crypto/sha512"

	"filippo.io/edwards25519"
	"filippo.io/edwards25519/field"
)

// XEdDSA-style signing lets the pairing state machine produce and verify
// Ed25519-shaped signatures using the same Curve25519 (X25519) key pairs
// the Noise handshake already uses for identity and signed pre-keys,
// matching the scheme WhatsApp's device-identity chain relies on.
//
// Montgomery<->Edwards point conversion is done with filippo.io/edwards25519,
// the same library the wider libsignal dependency chain pulls in for this
// exact purpose.

// clampScalar applies the standard X25519 scalar clamp (RFC 7748 §5).
func clampScalar(priv [32]byte) [32]byte {
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64
	return priv
}

// edwardsScalarFromMontgomery reduces a clamped X25519 scalar modulo the
// Ed25519 group order L, producing a canonical edwards25519.Scalar.
func edwardsScalarFromMontgomery(clamped [32]byte) (*edwards25519.Scalar, error) {
	wide := make([]byte, 64)
	copy(wide, clamped[:])
	return edwards25519.NewScalar().SetUniformBytes(wide)
}

// montgomeryToEdwardsY converts an X25519 u-coordinate to the corresponding
// Edwards y-coordinate via y = (u-1)/(u+1), the standard birational map.
func montgomeryToEdwardsY(u [32]byte) (*field.Element, error) {
	uEl, err := new(field.Element).SetBytes(u[:])
	if err != nil {
		return nil, err
	}
	one := new(field.Element).One()
	num := new(field.Element).Subtract(uEl, one)
	den := new(field.Element).Add(uEl, one)
	denInv := new(field.Element).Invert(den)
	return new(field.Element).Multiply(num, denInv), nil
}

// edwardsPointFromMontgomeryPublic builds the Edwards point with even
// (sign-bit-0) x corresponding to a Montgomery public key, the convention
// XEdDSA uses so a Montgomery key has one canonical Edwards counterpart.
func edwardsPointFromMontgomeryPublic(pub [32]byte) (*edwards25519.Point, error) {
	y, err := montgomeryToEdwardsY(pub)
	if err != nil {
		return nil, err
	}
	compressed := y.Bytes()
	compressed[31] &= 0x7F // force sign bit 0 (even x)
	return new(edwards25519.Point).SetBytes(compressed)
}

// signScalarAndPoint derives the (possibly negated) edwards private scalar
// and its even-sign public point for a given clamped Montgomery private key.
func signScalarAndPoint(privClamped [32]byte) (*edwards25519.Scalar, *edwards25519.Point, error) {
	a, err := edwardsScalarFromMontgomery(privClamped)
	if err != nil {
		return nil, nil, err
	}
	A := new(edwards25519.Point).ScalarBaseMult(a)
	Abytes := A.Bytes()
	if Abytes[31]&0x80 != 0 {
		a = new(edwards25519.Scalar).Negate(a)
		A = new(edwards25519.Point).ScalarBaseMult(a)
		Abytes = A.Bytes()
	}
	Abytes[31] &= 0x7F
	return a, A, nil
}

// SignCurve25519 signs msg with the Curve25519 private key priv using the
// XEdDSA construction, returning a 64-byte (R || s) signature.
func SignCurve25519(priv [32]byte, msg []byte) ([64]byte, error) {
	var sig [64]byte

	a, A, err := signScalarAndPoint(clampScalar(priv))
	if err != nil {
		return sig, err
	}
	Abytes := A.Bytes()

	nonceSeed := make([]byte, 64)
	if _, err := rand.Read(nonceSeed); err != nil {
		return sig, err
	}

	rHash := sha512.New()
	rHash.Write(a.Bytes())
	rHash.Write(nonceSeed)
	rHash.Write(msg)
	r, err := edwards25519.NewScalar().SetUniformBytes(rHash.Sum(nil))
	if err != nil {
		return sig, err
	}

	R := new(edwards25519.Point).ScalarBaseMult(r)
	Rbytes := R.Bytes()

	hHash := sha512.New()
	hHash.Write(Rbytes)
	hHash.Write(Abytes)
	hHash.Write(msg)
	h, err := edwards25519.NewScalar().SetUniformBytes(hHash.Sum(nil))
	if err != nil {
		return sig, err
	}

	s := new(edwards25519.Scalar).Add(r, new(edwards25519.Scalar).Multiply(h, a))

	copy(sig[:32], Rbytes)
	copy(sig[32:], s.Bytes())
	return sig, nil
}

// VerifyCurve25519 verifies a signature produced by SignCurve25519 against
// the Curve25519 public key pub.
func VerifyCurve25519(pub [32]byte, msg []byte, sig [64]byte) bool {
	A, err := edwardsPointFromMontgomeryPublic(pub)
	if err != nil {
		return false
	}
	Abytes := A.Bytes()

	Rbytes := sig[:32]
	sBytes := sig[32:]

	R, err := new(edwards25519.Point).SetBytes(Rbytes)
	if err != nil {
		return false
	}
	s, err := new(edwards25519.Scalar).SetCanonicalBytes(sBytes)
	if err != nil {
		return false
	}

	hHash := sha512.New()
	hHash.Write(Rbytes)
	hHash.Write(Abytes)
	hHash.Write(msg)
	h, err := edwards25519.NewScalar().SetUniformBytes(hHash.Sum(nil))
	if err != nil {
		return false
	}

	sB := new(edwards25519.Point).ScalarBaseMult(s)
	hA := new(edwards25519.Point).ScalarMult(h, A)
	rhs := new(edwards25519.Point).Add(R, hA)

	return bytes.Equal(sB.Bytes(), rhs.Bytes())
}
