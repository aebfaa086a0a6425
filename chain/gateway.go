// Package chain is the narrow adapter over the external content-addressed
// transaction ledger. Handles (device, pet, transaction) are opaque strings
// assigned by the ledger; the gateway stores and forwards them without
// interpretation.
//
// Every call is synchronous and must be invoked with a context deadline.
// Errors are opaque to upper layers apart from IsRetryable.
package chain

import (
	"context"
	"errors"
	"fmt"
)

// ErrDisabled is returned by the nop gateway when chain mirroring is not
// configured. Callers treat it as "no chain side effect", never as failure.
var ErrDisabled = errors.New("chain mirroring disabled")

// ErrObjectNotFound indicates the ledger does not know the given handle.
var ErrObjectNotFound = errors.New("chain object not found")

// RegisterResult is the outcome of an on-chain device registration.
type RegisterResult struct {
	ChainDeviceHandle string
	TxHandle          string
}

// SubmitResult is the outcome of a step-data batch submission.
type SubmitResult struct {
	TxHandle string
}

// CreatePetResult is the outcome of minting a pet object.
type CreatePetResult struct {
	ChainPetHandle string
	TxHandle       string
}

// ClaimResult is the outcome of a resource claim.
type ClaimResult struct {
	FoodGained   int
	EnergyGained int
	NewFood      int
	NewEnergy    int
	TxHandle     string
}

// FeedResult is the outcome of a feed transaction.
type FeedResult struct {
	Evolved  bool
	NewLevel int
	TxHandle string
}

// PlayResult is the outcome of a play transaction.
type PlayResult struct {
	TxHandle string
}

// PetSnapshot is the authoritative on-chain pet state. After a successful
// mirrored operation its bounded fields overwrite the local ones.
type PetSnapshot struct {
	Name          string
	Level         int
	Experience    uint64
	TotalStepsFed uint64
	Happiness     int
	Hunger        int
	Health        int
	Food          int
	Energy        int
}

// Gateway is the ledger adapter. The gateway owns the server-side signing
// key used to author transactions and never exposes it.
type Gateway interface {
	// Enabled reports whether chain mirroring is configured. A disabled
	// gateway fails every operation with ErrDisabled.
	Enabled() bool

	RegisterDevice(ctx context.Context, deviceID string, publicKey []byte) (*RegisterResult, error)

	// SubmitStepData submits an aggregated batch for one device: the summed
	// step count plus the individual timestamps and signatures in receive
	// order.
	SubmitStepData(ctx context.Context, chainDeviceHandle string, totalSteps uint64, timestamps []int64, signatures [][]byte) (*SubmitResult, error)

	CreatePet(ctx context.Context, name, deviceID, color string) (*CreatePetResult, error)
	ClaimResources(ctx context.Context, chainPetHandle string, steps int) (*ClaimResult, error)
	FeedPet(ctx context.Context, chainPetHandle string) (*FeedResult, error)
	PlayWithPet(ctx context.Context, chainPetHandle string) (*PlayResult, error)

	// GetPet returns the authoritative snapshot, or ErrObjectNotFound.
	GetPet(ctx context.Context, chainPetHandle string) (*PetSnapshot, error)

	// GetBalance returns the gas balance of the server account as a decimal
	// string.
	GetBalance(ctx context.Context) (string, error)
}

// RPCError is a structured error returned by the ledger node. Execution
// errors are final; retrying the same transaction cannot succeed.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("chain rpc error %d: %s", e.Code, e.Message)
}

// transportError wraps a network-level failure, which is worth retrying.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return "chain transport: " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// IsRetryable classifies a gateway error: transport failures and deadline
// expiries may succeed on a later attempt; ledger-side execution errors and
// a disabled gateway never will.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return false
	}
	if errors.Is(err, ErrDisabled) || errors.Is(err, ErrObjectNotFound) {
		return false
	}
	var te *transportError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
