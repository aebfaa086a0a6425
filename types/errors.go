package types

import "errors"

// Wire-visible error taxonomy. Session handlers map these to typed error
// frames; nothing below the handler boundary formats wire strings.
var (
	// ErrValidation indicates a schema or shape violation in an inbound frame
	// (missing field, wrong type, out-of-range scalar, malformed hex).
	ErrValidation = errors.New("validation failed")

	// ErrState indicates a message that is not allowed in the session's
	// current state (e.g. step_data before authenticate).
	ErrState = errors.New("message not allowed in current session state")

	// ErrUnknownDevice indicates the referenced device id is not registered.
	ErrUnknownDevice = errors.New("unknown device")

	// ErrSignature indicates canonicalization + SHA-256 + Ed25519
	// verification returned false.
	ErrSignature = errors.New("signature verification failed")

	// ErrDuplicateSubmission indicates a (device id, timestamp) pair that is
	// already stored.
	ErrDuplicateSubmission = errors.New("duplicate submission")

	// ErrTemporal indicates a device timestamp outside the accepted window
	// (older than 7 days or more than 5 minutes in the future).
	ErrTemporal = errors.New("timestamp outside accepted window")

	// ErrChain indicates the chain adapter failed. The local operation is
	// still persisted; the failure surfaces only as a warning.
	ErrChain = errors.New("chain operation failed")

	// ErrInternal is the unclassified fallback. The session stays open.
	ErrInternal = errors.New("internal error")
)

// Store-level errors.
var (
	// ErrNotFound indicates a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrPublicKeyConflict indicates a registration that would bind one
	// public key to two device ids, or rebind a device to a new key.
	ErrPublicKeyConflict = errors.New("public key already bound to another device")

	// ErrInsufficientFood indicates a feed with zero food in reserve.
	ErrInsufficientFood = errors.New("not enough food")

	// ErrInsufficientEnergy indicates a play with zero energy in reserve.
	ErrInsufficientEnergy = errors.New("not enough energy")

	// ErrInsufficientSteps indicates a resource claim below the 100-step
	// minimum.
	ErrInsufficientSteps = errors.New("not enough steps to claim resources")
)
