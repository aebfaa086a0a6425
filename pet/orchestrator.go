// Package pet maintains the per-device derived state. All operations are
// local-first: the deterministic rule is applied to the store, the device
// gets its response, and the chain is mirrored best-effort. A successful
// chain response authoritatively overwrites the bounded stats.
package pet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cosmossdk.io/log"

	"github.com/trustoracle/gateway/chain"
	"github.com/trustoracle/gateway/store"
	"github.com/trustoracle/gateway/types"
)

// DefaultName is used when a getPet frame carries no name.
const DefaultName = "StepPet"

// DefaultChainTimeout bounds each mirrored chain call.
const DefaultChainTimeout = 30 * time.Second

// Orchestrator applies pet rules locally and mirrors them to the chain.
type Orchestrator struct {
	store        store.Store
	chain        chain.Gateway
	logger       log.Logger
	chainTimeout time.Duration

	// now is replaceable in tests.
	now func() time.Time
}

// NewOrchestrator wires the orchestrator. A zero chainTimeout selects
// DefaultChainTimeout.
func NewOrchestrator(s store.Store, g chain.Gateway, logger log.Logger, chainTimeout time.Duration) *Orchestrator {
	if chainTimeout <= 0 {
		chainTimeout = DefaultChainTimeout
	}
	return &Orchestrator{
		store:        s,
		chain:        g,
		logger:       logger.With("module", "pet"),
		chainTimeout: chainTimeout,
		now:          time.Now,
	}
}

// GetPet returns the device's pet with time-based decay applied, creating it
// locally with default stats if none exists. If chain mirroring is enabled
// and the pet has no chain handle yet, an on-chain mint is attempted under a
// bounded deadline; failure to mint never fails the read.
func (o *Orchestrator) GetPet(ctx context.Context, deviceID, name string) (types.Pet, *types.ChainResult, error) {
	now := o.now()
	p, err := o.store.Pet(ctx, deviceID)
	if errors.Is(err, types.ErrNotFound) {
		if name == "" {
			name = DefaultName
		}
		p = types.NewPet(deviceID, name, now)
		if err := o.store.PutPet(ctx, p); err != nil {
			return types.Pet{}, nil, fmt.Errorf("create pet: %w", err)
		}
	} else if err != nil {
		return types.Pet{}, nil, err
	}

	var chainRes *types.ChainResult
	if o.chain.Enabled() && p.ChainPetHandle == "" {
		chainRes = o.mintPet(ctx, p)
		if chainRes.Submitted {
			// Re-read: mintPet stored the handle.
			if fresh, err := o.store.Pet(ctx, deviceID); err == nil {
				p = fresh
			}
		}
	}
	return p.DecayedView(now), chainRes, nil
}

func (o *Orchestrator) mintPet(ctx context.Context, p *types.Pet) *types.ChainResult {
	callCtx, cancel := context.WithTimeout(ctx, o.chainTimeout)
	defer cancel()
	res, err := o.chain.CreatePet(callCtx, p.Name, p.DeviceID, p.Cosmetic)
	if err != nil {
		o.logger.Warn("pet mint failed", "device", p.DeviceID, "err", err)
		return &types.ChainResult{Warning: "pet not yet on chain: " + err.Error()}
	}
	_, err = o.store.MutatePet(ctx, p.DeviceID, func(stored *types.Pet) error {
		stored.ChainPetHandle = res.ChainPetHandle
		return nil
	})
	if err != nil {
		o.logger.Error("storing pet handle failed", "device", p.DeviceID, "err", err)
		return &types.ChainResult{Warning: "pet handle not persisted"}
	}
	return &types.ChainResult{Submitted: true, TxDigest: res.TxHandle}
}

// UpdatePet overwrites the provided stats from a device push. Bounded stats
// are clamped before persistence; the pet is created first if necessary.
func (o *Orchestrator) UpdatePet(ctx context.Context, req *types.UpdatePetRequest) (*types.Pet, error) {
	if _, err := o.store.Pet(ctx, req.DeviceID); errors.Is(err, types.ErrNotFound) {
		if err := o.store.PutPet(ctx, types.NewPet(req.DeviceID, DefaultName, o.now())); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}
	return o.store.MutatePet(ctx, req.DeviceID, func(p *types.Pet) error {
		if req.Happiness != nil {
			p.Happiness = *req.Happiness
		}
		if req.Hunger != nil {
			p.Hunger = *req.Hunger
		}
		if req.Health != nil {
			p.Health = *req.Health
		}
		if req.Experience != nil && *req.Experience > p.Experience {
			p.Experience = *req.Experience
		}
		if req.TotalStepsFed != nil && *req.TotalStepsFed > p.TotalStepsFed {
			p.TotalStepsFed = *req.TotalStepsFed
		}
		if req.Level != nil && *req.Level > p.Level {
			p.Level = *req.Level
		}
		if req.Food != nil {
			p.Food = *req.Food
		}
		if req.Energy != nil {
			p.Energy = *req.Energy
		}
		if req.Cosmetic != nil {
			p.Cosmetic = *req.Cosmetic
		}
		p.RecalcLevel()
		return nil
	})
}

// ClaimResources converts verified steps into food and energy, then mirrors
// the claim. On chain success the chain's resource totals win.
func (o *Orchestrator) ClaimResources(ctx context.Context, deviceID string, steps int) (foodGained, energyGained int, p *types.Pet, chainRes *types.ChainResult, err error) {
	foodGained, energyGained, p, err = store.AddResources(ctx, o.store, deviceID, steps)
	if err != nil {
		return 0, 0, nil, nil, err
	}

	if !o.chain.Enabled() || p.ChainPetHandle == "" {
		return foodGained, energyGained, p, nil, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, o.chainTimeout)
	defer cancel()
	res, chainErr := o.chain.ClaimResources(callCtx, p.ChainPetHandle, steps)
	if chainErr != nil {
		return foodGained, energyGained, p, o.deferMirror(deviceID, chainErr, func(ctx context.Context) error {
			_, err := o.chain.ClaimResources(ctx, p.ChainPetHandle, steps)
			return err
		}), nil
	}

	p, err = o.store.MutatePet(ctx, deviceID, func(stored *types.Pet) error {
		stored.Food = res.NewFood
		stored.Energy = res.NewEnergy
		return nil
	})
	if err != nil {
		return foodGained, energyGained, nil, nil, err
	}
	return foodGained, energyGained, p, &types.ChainResult{Submitted: true, TxDigest: res.TxHandle}, nil
}

// FeedPet spends one food locally, then mirrors the feed and adopts the
// follow-up chain snapshot.
func (o *Orchestrator) FeedPet(ctx context.Context, deviceID string) (p *types.Pet, evolved bool, chainRes *types.ChainResult, err error) {
	before, err := o.store.Pet(ctx, deviceID)
	if err != nil {
		return nil, false, nil, err
	}
	p, err = store.ConsumeAndApplyFeed(ctx, o.store, deviceID, o.now())
	if err != nil {
		return nil, false, nil, err
	}
	evolved = p.Level > before.Level

	if !o.chain.Enabled() || p.ChainPetHandle == "" {
		return p, evolved, nil, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, o.chainTimeout)
	defer cancel()
	res, chainErr := o.chain.FeedPet(callCtx, p.ChainPetHandle)
	if chainErr != nil {
		handle := p.ChainPetHandle
		return p, evolved, o.deferMirror(deviceID, chainErr, func(ctx context.Context) error {
			if _, err := o.chain.FeedPet(ctx, handle); err != nil {
				return err
			}
			return o.adoptSnapshot(ctx, deviceID, handle)
		}), nil
	}
	evolved = evolved || res.Evolved

	if adopted, adoptErr := o.adoptSnapshotNow(callCtx, deviceID, p.ChainPetHandle); adoptErr == nil {
		p = adopted
	}
	return p, evolved, &types.ChainResult{Submitted: true, TxDigest: res.TxHandle}, nil
}

// PlayWithPet spends one energy locally, then mirrors the play and adopts
// the follow-up chain snapshot.
func (o *Orchestrator) PlayWithPet(ctx context.Context, deviceID string) (p *types.Pet, chainRes *types.ChainResult, err error) {
	p, err = store.ConsumeAndApplyPlay(ctx, o.store, deviceID, o.now())
	if err != nil {
		return nil, nil, err
	}

	if !o.chain.Enabled() || p.ChainPetHandle == "" {
		return p, nil, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, o.chainTimeout)
	defer cancel()
	res, chainErr := o.chain.PlayWithPet(callCtx, p.ChainPetHandle)
	if chainErr != nil {
		handle := p.ChainPetHandle
		return p, o.deferMirror(deviceID, chainErr, func(ctx context.Context) error {
			if _, err := o.chain.PlayWithPet(ctx, handle); err != nil {
				return err
			}
			return o.adoptSnapshot(ctx, deviceID, handle)
		}), nil
	}

	if adopted, adoptErr := o.adoptSnapshotNow(callCtx, deviceID, p.ChainPetHandle); adoptErr == nil {
		p = adopted
	}
	return p, &types.ChainResult{Submitted: true, TxDigest: res.TxHandle}, nil
}

// adoptSnapshotNow fetches the authoritative pet object and overwrites the
// local bounded stats.
func (o *Orchestrator) adoptSnapshotNow(ctx context.Context, deviceID, handle string) (*types.Pet, error) {
	snap, err := o.chain.GetPet(ctx, handle)
	if err != nil {
		o.logger.Warn("chain snapshot fetch failed", "device", deviceID, "err", err)
		return nil, err
	}
	return o.store.MutatePet(ctx, deviceID, func(p *types.Pet) error {
		p.AdoptChainStats(snap.Happiness, snap.Hunger, snap.Health, snap.Food, snap.Energy, snap.Experience, snap.Level)
		return nil
	})
}

func (o *Orchestrator) adoptSnapshot(ctx context.Context, deviceID, handle string) error {
	_, err := o.adoptSnapshotNow(ctx, deviceID, handle)
	return err
}

// deferMirror converts a failed chain call into a warning and, when the
// failure is retryable (timeout, transport), finishes the mirror in the
// background so local and chain state reconverge. The device has already
// been answered with local state by the time retry runs.
func (o *Orchestrator) deferMirror(deviceID string, chainErr error, retry func(context.Context) error) *types.ChainResult {
	o.logger.Warn("chain mirror failed", "device", deviceID, "err", chainErr)
	if chain.IsRetryable(chainErr) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), o.chainTimeout)
			defer cancel()
			if err := retry(ctx); err != nil {
				o.logger.Warn("deferred chain mirror failed", "device", deviceID, "err", err)
			}
		}()
	}
	return &types.ChainResult{Warning: "chain mirror failed: " + chainErr.Error()}
}
