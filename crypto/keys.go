package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidPublicKey indicates a malformed device public key.
	ErrInvalidPublicKey = errors.New("invalid public key")

	// ErrInvalidSignature indicates a malformed signature encoding.
	ErrInvalidSignature = errors.New("invalid signature encoding")
)

// ParsePublicKey decodes a 0x-prefixed hex Ed25519 public key (32 bytes).
func ParsePublicKey(s string) (ed25519.PublicKey, error) {
	raw, err := decodeHex(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidPublicKey, len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

// ParseSignature decodes a 0x-prefixed hex Ed25519 signature (64 bytes).
func ParseSignature(s string) ([]byte, error) {
	raw, err := decodeHex(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if len(raw) != ed25519.SignatureSize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidSignature, len(raw), ed25519.SignatureSize)
	}
	return raw, nil
}

// EncodeToHex returns the 0x-prefixed lowercase hex form used on the wire.
func EncodeToHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

// GenerateKeypair creates a fresh Ed25519 device keypair.
func GenerateKeypair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(rand.Reader)
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	return hex.DecodeString(s)
}
