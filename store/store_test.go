package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trustoracle/gateway/types"
)

var storeEpoch = time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

// openStores returns both implementations so every test runs against each.
func openStores(t *testing.T) map[string]Store {
	t.Helper()
	bolt, err := OpenBolt(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { bolt.Close() })
	return map[string]Store{
		"bolt": bolt,
		"mem":  NewMemStore(),
	}
}

func testKey(b byte) []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = b
	}
	return key
}

func stageSubmission(t *testing.T, s Store, deviceID string, ts int64, steps int, receivedAt time.Time) uint64 {
	t.Helper()
	id, err := s.StoreSubmission(context.Background(), &types.Submission{
		DeviceID:   deviceID,
		StepCount:  steps,
		Timestamp:  ts,
		Signature:  make([]byte, 64),
		Verified:   true,
		ReceivedAt: receivedAt,
	})
	require.NoError(t, err)
	return id
}

func TestRegisterDeviceIdempotent(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := testKey(0x01)

			first, err := s.RegisterDevice(ctx, "d1", key, storeEpoch)
			require.NoError(t, err)
			require.Equal(t, storeEpoch, first.RegisteredAt)

			later := storeEpoch.Add(time.Hour)
			second, err := s.RegisterDevice(ctx, "d1", key, later)
			require.NoError(t, err)
			require.Equal(t, storeEpoch, second.RegisteredAt, "re-registration keeps the original record")
			require.Equal(t, later, second.LastSeen, "re-registration refreshes last_seen")

			devices, err := s.Devices(ctx)
			require.NoError(t, err)
			require.Len(t, devices, 1)
		})
	}
}

func TestRegisterDevicePubkeyConflicts(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.RegisterDevice(ctx, "d1", testKey(0x01), storeEpoch)
			require.NoError(t, err)

			// Same device, different key.
			_, err = s.RegisterDevice(ctx, "d1", testKey(0x02), storeEpoch)
			require.ErrorIs(t, err, types.ErrPublicKeyConflict)

			// Different device, same key.
			_, err = s.RegisterDevice(ctx, "d2", testKey(0x01), storeEpoch)
			require.ErrorIs(t, err, types.ErrPublicKeyConflict)
		})
	}
}

func TestDeviceNotFound(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Device(context.Background(), "ghost")
			require.ErrorIs(t, err, types.ErrNotFound)
		})
	}
}

func TestStoreSubmissionUnknownDevice(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.StoreSubmission(context.Background(), &types.Submission{
				DeviceID: "ghost", StepCount: 1, Timestamp: 1, Verified: true, ReceivedAt: storeEpoch,
			})
			require.ErrorIs(t, err, types.ErrUnknownDevice)
		})
	}
}

func TestStoreSubmissionDuplicate(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.RegisterDevice(ctx, "d1", testKey(0x01), storeEpoch)
			require.NoError(t, err)

			stageSubmission(t, s, "d1", 1700000000000, 100, storeEpoch)
			_, err = s.StoreSubmission(ctx, &types.Submission{
				DeviceID: "d1", StepCount: 200, Timestamp: 1700000000000, Verified: true, ReceivedAt: storeEpoch.Add(time.Second),
			})
			require.ErrorIs(t, err, types.ErrDuplicateSubmission)

			// Same timestamp on a different device is fine.
			_, err = s.RegisterDevice(ctx, "d2", testKey(0x02), storeEpoch)
			require.NoError(t, err)
			stageSubmission(t, s, "d2", 1700000000000, 100, storeEpoch)
		})
	}
}

func TestStoreSubmissionUpdatesDeviceCounters(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.RegisterDevice(ctx, "d1", testKey(0x01), storeEpoch)
			require.NoError(t, err)

			recv := storeEpoch.Add(time.Minute)
			stageSubmission(t, s, "d1", 1, 100, recv)
			stageSubmission(t, s, "d1", 2, 250, recv.Add(time.Second))

			dev, err := s.Device(ctx, "d1")
			require.NoError(t, err)
			require.Equal(t, uint64(350), dev.TotalSteps)
			require.Equal(t, recv.Add(time.Second), dev.LastSeen)
			require.Equal(t, uint64(0), dev.TotalSubmissions, "counts batches, not records")
		})
	}
}

func TestListPendingOrderAndFilter(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i, dev := range []string{"d1", "d2"} {
				_, err := s.RegisterDevice(ctx, dev, testKey(byte(i+1)), storeEpoch)
				require.NoError(t, err)
			}

			// Interleaved receive order across devices.
			id1 := stageSubmission(t, s, "d1", 10, 100, storeEpoch.Add(1*time.Second))
			id2 := stageSubmission(t, s, "d2", 20, 100, storeEpoch.Add(2*time.Second))
			id3 := stageSubmission(t, s, "d1", 30, 100, storeEpoch.Add(3*time.Second))

			pending, err := s.ListPending(ctx)
			require.NoError(t, err)
			require.Equal(t, []uint64{id1, id2, id3}, submissionIDs(pending))

			onlyD1, err := s.ListPending(ctx, "d1")
			require.NoError(t, err)
			require.Equal(t, []uint64{id1, id3}, submissionIDs(onlyD1))
		})
	}
}

func submissionIDs(subs []*types.Submission) []uint64 {
	ids := make([]uint64, len(subs))
	for i, sub := range subs {
		ids[i] = sub.ID
	}
	return ids
}

func TestMarkSubmitted(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.RegisterDevice(ctx, "d1", testKey(0x01), storeEpoch)
			require.NoError(t, err)

			id1 := stageSubmission(t, s, "d1", 1, 100, storeEpoch.Add(time.Second))
			id2 := stageSubmission(t, s, "d1", 2, 200, storeEpoch.Add(2*time.Second))

			require.NoError(t, s.MarkSubmitted(ctx, []uint64{id1, id2}, "0xtx1"))

			pending, err := s.ListPending(ctx)
			require.NoError(t, err)
			require.Empty(t, pending)

			sub, err := s.Submission(ctx, id1)
			require.NoError(t, err)
			require.True(t, sub.Submitted)
			require.Equal(t, "0xtx1", sub.ChainTxHandle)

			dev, err := s.Device(ctx, "d1")
			require.NoError(t, err)
			require.Equal(t, uint64(1), dev.TotalSubmissions, "one batch, one increment")
		})
	}
}

func TestMarkSubmittedAtMostOnce(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.RegisterDevice(ctx, "d1", testKey(0x01), storeEpoch)
			require.NoError(t, err)
			id := stageSubmission(t, s, "d1", 1, 100, storeEpoch)

			require.NoError(t, s.MarkSubmitted(ctx, []uint64{id}, "0xtx1"))
			require.Error(t, s.MarkSubmitted(ctx, []uint64{id}, "0xtx2"))

			sub, err := s.Submission(ctx, id)
			require.NoError(t, err)
			require.Equal(t, "0xtx1", sub.ChainTxHandle, "second mark changed nothing")
		})
	}
}

func TestMarkSubmittedAllOrNone(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.RegisterDevice(ctx, "d1", testKey(0x01), storeEpoch)
			require.NoError(t, err)
			id := stageSubmission(t, s, "d1", 1, 100, storeEpoch)

			// One valid id plus one unknown id: the whole call must fail and
			// the valid record must stay pending.
			require.Error(t, s.MarkSubmitted(ctx, []uint64{id, 9999}, "0xtx1"))

			pending, err := s.ListPending(ctx)
			require.NoError(t, err)
			require.Equal(t, []uint64{id}, submissionIDs(pending))

			dev, err := s.Device(ctx, "d1")
			require.NoError(t, err)
			require.Equal(t, uint64(0), dev.TotalSubmissions)
		})
	}
}

func TestSetChainDeviceHandle(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.RegisterDevice(ctx, "d1", testKey(0x01), storeEpoch)
			require.NoError(t, err)

			require.NoError(t, s.SetChainDeviceHandle(ctx, "d1", "0xhandle"))
			dev, err := s.Device(ctx, "d1")
			require.NoError(t, err)
			require.Equal(t, "0xhandle", dev.ChainDeviceHandle)

			require.ErrorIs(t, s.SetChainDeviceHandle(ctx, "ghost", "0xh"), types.ErrNotFound)
		})
	}
}

func TestPetLifecycle(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.Pet(ctx, "d1")
			require.ErrorIs(t, err, types.ErrNotFound)

			require.NoError(t, s.PutPet(ctx, types.NewPet("d1", "Rex", storeEpoch)))

			p, err := s.Pet(ctx, "d1")
			require.NoError(t, err)
			require.Equal(t, "Rex", p.Name)

			// A failing mutation writes nothing.
			_, err = s.MutatePet(ctx, "d1", func(p *types.Pet) error {
				p.Happiness = 99
				return fmt.Errorf("boom")
			})
			require.Error(t, err)
			p, err = s.Pet(ctx, "d1")
			require.NoError(t, err)
			require.Equal(t, 50, p.Happiness)

			// A successful mutation persists clamped state.
			out, err := s.MutatePet(ctx, "d1", func(p *types.Pet) error {
				p.Happiness = 250
				return nil
			})
			require.NoError(t, err)
			require.Equal(t, 100, out.Happiness)
		})
	}
}

func TestAddResourcesHelper(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.PutPet(ctx, types.NewPet("d1", "Rex", storeEpoch)))

			food, energy, p, err := AddResources(ctx, s, "d1", 1000)
			require.NoError(t, err)
			require.Equal(t, 10, food)
			require.Equal(t, 12, energy)
			require.Equal(t, 15, p.Food)
			require.Equal(t, 17, p.Energy)

			_, _, _, err = AddResources(ctx, s, "d1", 50)
			require.ErrorIs(t, err, types.ErrInsufficientSteps)
		})
	}
}

func TestConsumeHelpers(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.PutPet(ctx, types.NewPet("d1", "Rex", storeEpoch)))

			now := storeEpoch.Add(time.Hour)
			p, err := ConsumeAndApplyFeed(ctx, s, "d1", now)
			require.NoError(t, err)
			require.Equal(t, 4, p.Food)
			require.Equal(t, 75, p.Hunger)

			p, err = ConsumeAndApplyPlay(ctx, s, "d1", now)
			require.NoError(t, err)
			require.Equal(t, 4, p.Energy)
			require.Equal(t, 70, p.Happiness)

			// Drain food and confirm the rule error surfaces unchanged.
			for i := 0; i < 4; i++ {
				_, err = ConsumeAndApplyFeed(ctx, s, "d1", now)
				require.NoError(t, err)
			}
			_, err = ConsumeAndApplyFeed(ctx, s, "d1", now)
			require.ErrorIs(t, err, types.ErrInsufficientFood)
		})
	}
}

func TestBoltSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()

	s, err := OpenBolt(path)
	require.NoError(t, err)
	_, err = s.RegisterDevice(ctx, "d1", testKey(0x01), storeEpoch)
	require.NoError(t, err)
	id := stageSubmission(t, s, "d1", 1, 100, storeEpoch)
	require.NoError(t, s.Close())

	s, err = OpenBolt(path)
	require.NoError(t, err)
	defer s.Close()

	dev, err := s.Device(ctx, "d1")
	require.NoError(t, err)
	require.Equal(t, uint64(100), dev.TotalSteps)

	pending, err := s.ListPending(ctx)
	require.NoError(t, err)
	require.Equal(t, []uint64{id}, submissionIDs(pending))
}
