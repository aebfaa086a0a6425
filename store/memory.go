package store

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/trustoracle/gateway/types"
)

// MemStore is the in-memory Store used by tests. It mirrors BoltStore's
// semantics, including all-or-none marking, behind a single mutex.
type MemStore struct {
	mu          sync.RWMutex
	devices     map[string]*types.Device
	pubkeys     map[string]string // hex-free raw key bytes -> device id
	submissions map[uint64]*types.Submission
	dedupe      map[string]uint64
	pets        map[string]*types.Pet
	nextID      uint64
}

var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		devices:     make(map[string]*types.Device),
		pubkeys:     make(map[string]string),
		submissions: make(map[uint64]*types.Submission),
		dedupe:      make(map[string]uint64),
		pets:        make(map[string]*types.Pet),
	}
}

// Close implements Store.
func (s *MemStore) Close() error { return nil }

func cloneDevice(d *types.Device) *types.Device {
	c := *d
	c.PublicKey = append([]byte(nil), d.PublicKey...)
	return &c
}

func cloneSubmission(sub *types.Submission) *types.Submission {
	c := *sub
	c.Signature = append([]byte(nil), sub.Signature...)
	c.RawAccSamples = append([][3]float64(nil), sub.RawAccSamples...)
	return &c
}

func clonePet(p *types.Pet) *types.Pet {
	c := *p
	return &c
}

// RegisterDevice implements Store.
func (s *MemStore) RegisterDevice(ctx context.Context, deviceID string, publicKey []byte, now time.Time) (*types.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if bound, ok := s.pubkeys[string(publicKey)]; ok && bound != deviceID {
		return nil, types.ErrPublicKeyConflict
	}
	if existing, ok := s.devices[deviceID]; ok {
		if !bytes.Equal(existing.PublicKey, publicKey) {
			return nil, types.ErrPublicKeyConflict
		}
		existing.LastSeen = now
		return cloneDevice(existing), nil
	}
	dev := &types.Device{
		DeviceID:     deviceID,
		PublicKey:    append([]byte(nil), publicKey...),
		RegisteredAt: now,
		LastSeen:     now,
		Status:       types.DeviceStatusActive,
	}
	s.devices[deviceID] = dev
	s.pubkeys[string(publicKey)] = deviceID
	return cloneDevice(dev), nil
}

// Device implements Store.
func (s *MemStore) Device(ctx context.Context, deviceID string) (*types.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	dev, ok := s.devices[deviceID]
	if !ok {
		return nil, types.ErrNotFound
	}
	return cloneDevice(dev), nil
}

// Devices implements Store.
func (s *MemStore) Devices(ctx context.Context) ([]*types.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.Device, 0, len(s.devices))
	for _, dev := range s.devices {
		out = append(out, cloneDevice(dev))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out, nil
}

// SetChainDeviceHandle implements Store.
func (s *MemStore) SetChainDeviceHandle(ctx context.Context, deviceID, handle string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	dev, ok := s.devices[deviceID]
	if !ok {
		return types.ErrNotFound
	}
	dev.ChainDeviceHandle = handle
	return nil
}

// StoreSubmission implements Store.
func (s *MemStore) StoreSubmission(ctx context.Context, sub *types.Submission) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dev, ok := s.devices[sub.DeviceID]
	if !ok {
		return 0, types.ErrUnknownDevice
	}
	dk := fmt.Sprintf("%s|%d", sub.DeviceID, sub.Timestamp)
	if _, dup := s.dedupe[dk]; dup {
		return 0, types.ErrDuplicateSubmission
	}

	s.nextID++
	sub.ID = s.nextID
	s.submissions[sub.ID] = cloneSubmission(sub)
	s.dedupe[dk] = sub.ID

	dev.TotalSteps += uint64(sub.StepCount)
	dev.LastSeen = sub.ReceivedAt
	return sub.ID, nil
}

// Submission implements Store.
func (s *MemStore) Submission(ctx context.Context, id uint64) (*types.Submission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.submissions[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return cloneSubmission(sub), nil
}

// Submissions implements Store.
func (s *MemStore) Submissions(ctx context.Context, deviceID string) ([]*types.Submission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Submission
	for _, sub := range s.submissions {
		if sub.DeviceID == deviceID {
			out = append(out, cloneSubmission(sub))
		}
	}
	sortByReceive(out)
	return out, nil
}

// ListPending implements Store.
func (s *MemStore) ListPending(ctx context.Context, deviceIDs ...string) ([]*types.Submission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filter := make(map[string]bool, len(deviceIDs))
	for _, id := range deviceIDs {
		filter[id] = true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Submission
	for _, sub := range s.submissions {
		if !sub.Verified || sub.Submitted {
			continue
		}
		if len(filter) > 0 && !filter[sub.DeviceID] {
			continue
		}
		out = append(out, cloneSubmission(sub))
	}
	sortByReceive(out)
	return out, nil
}

func sortByReceive(subs []*types.Submission) {
	sort.Slice(subs, func(i, j int) bool {
		if subs[i].ReceivedAt.Equal(subs[j].ReceivedAt) {
			return subs[i].ID < subs[j].ID
		}
		return subs[i].ReceivedAt.Before(subs[j].ReceivedAt)
	})
}

// MarkSubmitted implements Store.
func (s *MemStore) MarkSubmitted(ctx context.Context, ids []uint64, txHandle string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate the whole set before touching anything: all-or-none.
	for _, id := range ids {
		sub, ok := s.submissions[id]
		if !ok {
			return fmt.Errorf("submission %d: %w", id, types.ErrNotFound)
		}
		if sub.Submitted {
			return fmt.Errorf("submission %d already submitted", id)
		}
	}

	affected := make(map[string]bool)
	for _, id := range ids {
		sub := s.submissions[id]
		sub.Submitted = true
		sub.ChainTxHandle = txHandle
		affected[sub.DeviceID] = true
	}
	for deviceID := range affected {
		if dev, ok := s.devices[deviceID]; ok {
			dev.TotalSubmissions++
		}
	}
	return nil
}

// Pet implements Store.
func (s *MemStore) Pet(ctx context.Context, deviceID string) (*types.Pet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	pet, ok := s.pets[deviceID]
	if !ok {
		return nil, types.ErrNotFound
	}
	return clonePet(pet), nil
}

// Pets implements Store.
func (s *MemStore) Pets(ctx context.Context) ([]*types.Pet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.Pet, 0, len(s.pets))
	for _, pet := range s.pets {
		out = append(out, clonePet(pet))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out, nil
}

// PutPet implements Store.
func (s *MemStore) PutPet(ctx context.Context, pet *types.Pet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	pet.Clamp()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pets[pet.DeviceID] = clonePet(pet)
	return nil
}

// MutatePet implements Store.
func (s *MemStore) MutatePet(ctx context.Context, deviceID string, fn func(*types.Pet) error) (*types.Pet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.pets[deviceID]
	if !ok {
		return nil, types.ErrNotFound
	}
	scratch := clonePet(stored)
	if err := fn(scratch); err != nil {
		return nil, err
	}
	scratch.Clamp()
	s.pets[deviceID] = scratch
	return clonePet(scratch), nil
}
