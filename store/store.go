// Package store persists devices, staged submissions, and derived pet state.
//
// Two implementations exist: BoltStore, the durable single-file backend used
// in production, and MemStore for tests. Both serialize every write through
// one transactional boundary per logical table, so readers only ever observe
// committed state.
package store

import (
	"context"
	"time"

	"github.com/trustoracle/gateway/types"
)

// Store is the durable staging store fronting the devices, submissions, and
// pets tables.
type Store interface {
	// RegisterDevice inserts a device or, if the id already exists with the
	// same public key, refreshes last_seen and returns the existing record.
	// Binding one public key to two device ids, or rebinding a device to a
	// new key, fails with types.ErrPublicKeyConflict.
	RegisterDevice(ctx context.Context, deviceID string, publicKey []byte, now time.Time) (*types.Device, error)

	// Device returns a device by id, or types.ErrNotFound.
	Device(ctx context.Context, deviceID string) (*types.Device, error)

	// Devices returns all registered devices.
	Devices(ctx context.Context) ([]*types.Device, error)

	// SetChainDeviceHandle records the opaque handle the ledger assigned to
	// the device after its first successful on-chain registration.
	SetChainDeviceHandle(ctx context.Context, deviceID, handle string) error

	// StoreSubmission atomically inserts a verified record, increments the
	// owning device's cumulative step count, and refreshes last_seen.
	// Fails with types.ErrUnknownDevice if the device does not exist and
	// types.ErrDuplicateSubmission on a repeated (device id, timestamp).
	StoreSubmission(ctx context.Context, sub *types.Submission) (uint64, error)

	// Submission returns a record by id, or types.ErrNotFound.
	Submission(ctx context.Context, id uint64) (*types.Submission, error)

	// Submissions returns all records for a device, receive order ascending.
	Submissions(ctx context.Context, deviceID string) ([]*types.Submission, error)

	// ListPending returns records with verified=true and submitted=false in
	// receive-time order. With device ids given, only those devices' records
	// are returned.
	ListPending(ctx context.Context, deviceIDs ...string) ([]*types.Submission, error)

	// MarkSubmitted flips submitted=true and stores the chain transaction
	// handle on every listed record, and increments total_submissions once
	// per affected device, all under a single commit. Either every listed id
	// flips or none does.
	MarkSubmitted(ctx context.Context, ids []uint64, txHandle string) error

	// Pet returns the device's pet, or types.ErrNotFound.
	Pet(ctx context.Context, deviceID string) (*types.Pet, error)

	// Pets returns all pets.
	Pets(ctx context.Context) ([]*types.Pet, error)

	// PutPet clamps and persists a pet.
	PutPet(ctx context.Context, pet *types.Pet) error

	// MutatePet applies fn to the stored pet under the write boundary and
	// persists the clamped result. If fn returns an error, nothing is
	// written. The returned pet is the committed state.
	MutatePet(ctx context.Context, deviceID string, fn func(*types.Pet) error) (*types.Pet, error)

	// Close releases the underlying storage.
	Close() error
}

// AddResources credits a resource claim against the device's pet.
func AddResources(ctx context.Context, s Store, deviceID string, steps int) (foodGained, energyGained int, pet *types.Pet, err error) {
	pet, err = s.MutatePet(ctx, deviceID, func(p *types.Pet) error {
		var inner error
		foodGained, energyGained, inner = p.AddResources(steps)
		return inner
	})
	return foodGained, energyGained, pet, err
}

// ConsumeAndApplyFeed spends one food and applies the feed deltas.
func ConsumeAndApplyFeed(ctx context.Context, s Store, deviceID string, now time.Time) (*types.Pet, error) {
	return s.MutatePet(ctx, deviceID, func(p *types.Pet) error {
		return p.ApplyFeed(now)
	})
}

// ConsumeAndApplyPlay spends one energy and applies the play deltas.
func ConsumeAndApplyPlay(ctx context.Context, s Store, deviceID string, now time.Time) (*types.Pet, error) {
	return s.MutatePet(ctx, deviceID, func(p *types.Pet) error {
		return p.ApplyPlay(now)
	})
}
