package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/trustoracle/gateway/types"
)

// Bucket layout. The secondary buckets are maintained inside the same update
// transaction as their primaries, so they can never go stale.
var (
	bucketDevices       = []byte("devices")
	bucketDevicePubkeys = []byte("device_pubkeys")    // pubkey -> device id
	bucketSubmissions   = []byte("submissions")       // id -> record
	bucketSubDedupe     = []byte("submission_dedupe") // device id | timestamp -> id
	bucketSubPending    = []byte("submission_pending") // receive nanos | id -> id
	bucketPets          = []byte("pets")
)

// BoltStore is the durable store. bbolt gives a single writer per database
// with serializable transactions, which is exactly the spec's write model.
type BoltStore struct {
	db *bolt.DB
}

var _ Store = (*BoltStore)(nil)

// OpenBolt opens (or creates) the database at path and ensures all buckets
// exist.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketDevices, bucketDevicePubkeys, bucketSubmissions, bucketSubDedupe, bucketSubPending, bucketPets} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Close releases the database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func btoi(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

func dedupeKey(deviceID string, timestamp int64) []byte {
	key := make([]byte, 0, len(deviceID)+9)
	key = append(key, deviceID...)
	key = append(key, 0)
	return append(key, itob(uint64(timestamp))...)
}

func pendingKey(receivedAt time.Time, id uint64) []byte {
	key := make([]byte, 0, 16)
	key = append(key, itob(uint64(receivedAt.UnixNano()))...)
	return append(key, itob(id)...)
}

func getJSON[T any](b *bolt.Bucket, key []byte) (*T, error) {
	raw := b.Get(key)
	if raw == nil {
		return nil, types.ErrNotFound
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode row: %w", err)
	}
	return &v, nil
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode row: %w", err)
	}
	return b.Put(key, raw)
}

// RegisterDevice implements Store.
func (s *BoltStore) RegisterDevice(ctx context.Context, deviceID string, publicKey []byte, now time.Time) (*types.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var dev *types.Device
	err := s.db.Update(func(tx *bolt.Tx) error {
		devices := tx.Bucket(bucketDevices)
		pubkeys := tx.Bucket(bucketDevicePubkeys)

		if bound := pubkeys.Get(publicKey); bound != nil && string(bound) != deviceID {
			return types.ErrPublicKeyConflict
		}

		existing, err := getJSON[types.Device](devices, []byte(deviceID))
		switch err {
		case nil:
			if !bytes.Equal(existing.PublicKey, publicKey) {
				return types.ErrPublicKeyConflict
			}
			existing.LastSeen = now
			dev = existing
			return putJSON(devices, []byte(deviceID), existing)
		case types.ErrNotFound:
			dev = &types.Device{
				DeviceID:     deviceID,
				PublicKey:    append([]byte(nil), publicKey...),
				RegisteredAt: now,
				LastSeen:     now,
				Status:       types.DeviceStatusActive,
			}
			if err := putJSON(devices, []byte(deviceID), dev); err != nil {
				return err
			}
			return pubkeys.Put(append([]byte(nil), publicKey...), []byte(deviceID))
		default:
			return err
		}
	})
	if err != nil {
		return nil, err
	}
	return dev, nil
}

// Device implements Store.
func (s *BoltStore) Device(ctx context.Context, deviceID string) (*types.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var dev *types.Device
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		dev, err = getJSON[types.Device](tx.Bucket(bucketDevices), []byte(deviceID))
		return err
	})
	if err != nil {
		return nil, err
	}
	return dev, nil
}

// Devices implements Store.
func (s *BoltStore) Devices(ctx context.Context) ([]*types.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*types.Device
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDevices).ForEach(func(_, raw []byte) error {
			var dev types.Device
			if err := json.Unmarshal(raw, &dev); err != nil {
				return err
			}
			out = append(out, &dev)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetChainDeviceHandle implements Store.
func (s *BoltStore) SetChainDeviceHandle(ctx context.Context, deviceID, handle string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		devices := tx.Bucket(bucketDevices)
		dev, err := getJSON[types.Device](devices, []byte(deviceID))
		if err != nil {
			return err
		}
		dev.ChainDeviceHandle = handle
		return putJSON(devices, []byte(deviceID), dev)
	})
}

// StoreSubmission implements Store.
func (s *BoltStore) StoreSubmission(ctx context.Context, sub *types.Submission) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var id uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		devices := tx.Bucket(bucketDevices)
		subs := tx.Bucket(bucketSubmissions)
		dedupe := tx.Bucket(bucketSubDedupe)
		pending := tx.Bucket(bucketSubPending)

		dev, err := getJSON[types.Device](devices, []byte(sub.DeviceID))
		if err == types.ErrNotFound {
			return types.ErrUnknownDevice
		}
		if err != nil {
			return err
		}

		dk := dedupeKey(sub.DeviceID, sub.Timestamp)
		if dedupe.Get(dk) != nil {
			return types.ErrDuplicateSubmission
		}

		id, err = subs.NextSequence()
		if err != nil {
			return err
		}
		sub.ID = id
		if err := putJSON(subs, itob(id), sub); err != nil {
			return err
		}
		if err := dedupe.Put(dk, itob(id)); err != nil {
			return err
		}
		if sub.Verified && !sub.Submitted {
			if err := pending.Put(pendingKey(sub.ReceivedAt, id), itob(id)); err != nil {
				return err
			}
		}

		dev.TotalSteps += uint64(sub.StepCount)
		dev.LastSeen = sub.ReceivedAt
		return putJSON(devices, []byte(sub.DeviceID), dev)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Submission implements Store.
func (s *BoltStore) Submission(ctx context.Context, id uint64) (*types.Submission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var sub *types.Submission
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		sub, err = getJSON[types.Submission](tx.Bucket(bucketSubmissions), itob(id))
		return err
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Submissions implements Store.
func (s *BoltStore) Submissions(ctx context.Context, deviceID string) ([]*types.Submission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*types.Submission
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSubmissions).ForEach(func(_, raw []byte) error {
			var sub types.Submission
			if err := json.Unmarshal(raw, &sub); err != nil {
				return err
			}
			if sub.DeviceID == deviceID {
				out = append(out, &sub)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListPending implements Store. The pending index is keyed by receive time,
// so iteration order is the required order and the scan is O(pending).
func (s *BoltStore) ListPending(ctx context.Context, deviceIDs ...string) ([]*types.Submission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filter := make(map[string]bool, len(deviceIDs))
	for _, id := range deviceIDs {
		filter[id] = true
	}
	var out []*types.Submission
	err := s.db.View(func(tx *bolt.Tx) error {
		subs := tx.Bucket(bucketSubmissions)
		return tx.Bucket(bucketSubPending).ForEach(func(_, idRaw []byte) error {
			sub, err := getJSON[types.Submission](subs, idRaw)
			if err != nil {
				return fmt.Errorf("pending index references missing submission %d: %w", btoi(idRaw), err)
			}
			if len(filter) > 0 && !filter[sub.DeviceID] {
				return nil
			}
			out = append(out, sub)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkSubmitted implements Store.
func (s *BoltStore) MarkSubmitted(ctx context.Context, ids []uint64, txHandle string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		subs := tx.Bucket(bucketSubmissions)
		pending := tx.Bucket(bucketSubPending)
		devices := tx.Bucket(bucketDevices)

		affected := make(map[string]bool)
		for _, id := range ids {
			sub, err := getJSON[types.Submission](subs, itob(id))
			if err != nil {
				return fmt.Errorf("submission %d: %w", id, err)
			}
			if sub.Submitted {
				return fmt.Errorf("submission %d already submitted", id)
			}
			sub.Submitted = true
			sub.ChainTxHandle = txHandle
			if err := putJSON(subs, itob(id), sub); err != nil {
				return err
			}
			if err := pending.Delete(pendingKey(sub.ReceivedAt, id)); err != nil {
				return err
			}
			affected[sub.DeviceID] = true
		}

		// total_submissions counts batch submissions, once per device per call.
		for deviceID := range affected {
			dev, err := getJSON[types.Device](devices, []byte(deviceID))
			if err != nil {
				return fmt.Errorf("device %s: %w", deviceID, err)
			}
			dev.TotalSubmissions++
			if err := putJSON(devices, []byte(deviceID), dev); err != nil {
				return err
			}
		}
		return nil
	})
}

// Pet implements Store.
func (s *BoltStore) Pet(ctx context.Context, deviceID string) (*types.Pet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var pet *types.Pet
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		pet, err = getJSON[types.Pet](tx.Bucket(bucketPets), []byte(deviceID))
		return err
	})
	if err != nil {
		return nil, err
	}
	return pet, nil
}

// Pets implements Store.
func (s *BoltStore) Pets(ctx context.Context) ([]*types.Pet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*types.Pet
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPets).ForEach(func(_, raw []byte) error {
			var pet types.Pet
			if err := json.Unmarshal(raw, &pet); err != nil {
				return err
			}
			out = append(out, &pet)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PutPet implements Store.
func (s *BoltStore) PutPet(ctx context.Context, pet *types.Pet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	pet.Clamp()
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketPets), []byte(pet.DeviceID), pet)
	})
}

// MutatePet implements Store.
func (s *BoltStore) MutatePet(ctx context.Context, deviceID string, fn func(*types.Pet) error) (*types.Pet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var result *types.Pet
	err := s.db.Update(func(tx *bolt.Tx) error {
		pets := tx.Bucket(bucketPets)
		pet, err := getJSON[types.Pet](pets, []byte(deviceID))
		if err != nil {
			return err
		}
		if err := fn(pet); err != nil {
			return err
		}
		pet.Clamp()
		if err := putJSON(pets, []byte(deviceID), pet); err != nil {
			return err
		}
		result = pet
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
