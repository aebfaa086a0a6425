package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
)

// HashPayload returns SHA-256 of the canonical payload bytes. Devices sign
// the hash, not the raw message.
func HashPayload(canonical []byte) [sha256.Size]byte {
	return sha256.Sum256(canonical)
}

// VerifyPayload reports whether signature is a valid Ed25519 signature by
// publicKey over SHA-256 of the canonical payload bytes.
//
// Returns false, never an error, on any malformed input: the caller maps
// false to a signature-failed response.
func VerifyPayload(canonical, signature []byte, publicKey ed25519.PublicKey) bool {
	if len(publicKey) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}
	hash := HashPayload(canonical)
	return ed25519.Verify(publicKey, hash[:], signature)
}

// SignPayload signs SHA-256 of the canonical payload bytes. Used by tests
// and Go-based signers; device firmware implements the same construction.
func SignPayload(canonical []byte, privateKey ed25519.PrivateKey) []byte {
	hash := HashPayload(canonical)
	return ed25519.Sign(privateKey, hash[:])
}
