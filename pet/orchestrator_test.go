package pet

import (
	"context"
	"errors"
	"testing"
	"time"

	"cosmossdk.io/log"
	"github.com/stretchr/testify/require"

	"github.com/trustoracle/gateway/chain"
	"github.com/trustoracle/gateway/store"
	"github.com/trustoracle/gateway/types"
)

var orchEpoch = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

// stubGateway scripts chain responses for orchestrator tests.
type stubGateway struct {
	chain.NopGateway

	enabled   bool
	createErr error
	claimErr  error
	feedErr   error
	playErr   error

	claimRes *chain.ClaimResult
	feedRes  *chain.FeedResult
	snapshot *chain.PetSnapshot

	claimCalls int
	feedCalls  int
	playCalls  int
}

func (s *stubGateway) Enabled() bool { return s.enabled }

func (s *stubGateway) CreatePet(context.Context, string, string, string) (*chain.CreatePetResult, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	return &chain.CreatePetResult{ChainPetHandle: "0xpet1", TxHandle: "0xtx-mint"}, nil
}

func (s *stubGateway) ClaimResources(context.Context, string, int) (*chain.ClaimResult, error) {
	s.claimCalls++
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	return s.claimRes, nil
}

func (s *stubGateway) FeedPet(context.Context, string) (*chain.FeedResult, error) {
	s.feedCalls++
	if s.feedErr != nil {
		return nil, s.feedErr
	}
	return s.feedRes, nil
}

func (s *stubGateway) PlayWithPet(context.Context, string) (*chain.PlayResult, error) {
	s.playCalls++
	if s.playErr != nil {
		return nil, s.playErr
	}
	return &chain.PlayResult{TxHandle: "0xtx-play"}, nil
}

func (s *stubGateway) GetPet(context.Context, string) (*chain.PetSnapshot, error) {
	if s.snapshot == nil {
		return nil, chain.ErrObjectNotFound
	}
	return s.snapshot, nil
}

func newTestOrchestrator(t *testing.T, gw chain.Gateway) (*Orchestrator, *store.MemStore) {
	t.Helper()
	st := store.NewMemStore()
	o := NewOrchestrator(st, gw, log.NewNopLogger(), time.Second)
	o.now = func() time.Time { return orchEpoch }
	return o, st
}

func TestGetPetCreatesLocally(t *testing.T) {
	o, st := newTestOrchestrator(t, chain.NopGateway{})

	p, chainRes, err := o.GetPet(context.Background(), "d1", "Rex")
	require.NoError(t, err)
	require.Nil(t, chainRes, "no chain sub-object in local-only mode")
	require.Equal(t, "Rex", p.Name)
	require.Equal(t, 50, p.Happiness)

	stored, err := st.Pet(context.Background(), "d1")
	require.NoError(t, err)
	require.Equal(t, "Rex", stored.Name)
}

func TestGetPetDefaultName(t *testing.T) {
	o, _ := newTestOrchestrator(t, chain.NopGateway{})
	p, _, err := o.GetPet(context.Background(), "d1", "")
	require.NoError(t, err)
	require.Equal(t, DefaultName, p.Name)
}

func TestGetPetAppliesDecayWithoutPersisting(t *testing.T) {
	o, st := newTestOrchestrator(t, chain.NopGateway{})
	ctx := context.Background()

	_, _, err := o.GetPet(ctx, "d1", "Rex")
	require.NoError(t, err)

	o.now = func() time.Time { return orchEpoch.Add(10 * time.Hour) }
	p, _, err := o.GetPet(ctx, "d1", "")
	require.NoError(t, err)
	require.Equal(t, 40, p.Hunger)

	stored, err := st.Pet(ctx, "d1")
	require.NoError(t, err)
	require.Equal(t, 50, stored.Hunger, "decay is a read-side view")
}

func TestGetPetMintsOnChain(t *testing.T) {
	gw := &stubGateway{enabled: true}
	o, st := newTestOrchestrator(t, gw)

	_, chainRes, err := o.GetPet(context.Background(), "d1", "Rex")
	require.NoError(t, err)
	require.NotNil(t, chainRes)
	require.True(t, chainRes.Submitted)
	require.Equal(t, "0xtx-mint", chainRes.TxDigest)

	stored, err := st.Pet(context.Background(), "d1")
	require.NoError(t, err)
	require.Equal(t, "0xpet1", stored.ChainPetHandle)
}

func TestGetPetMintFailureIsWarning(t *testing.T) {
	gw := &stubGateway{enabled: true, createErr: &chain.RPCError{Code: -1, Message: "out of gas"}}
	o, st := newTestOrchestrator(t, gw)

	p, chainRes, err := o.GetPet(context.Background(), "d1", "Rex")
	require.NoError(t, err, "mint failure never fails the read")
	require.Equal(t, "Rex", p.Name)
	require.NotNil(t, chainRes)
	require.False(t, chainRes.Submitted)
	require.NotEmpty(t, chainRes.Warning)

	stored, err := st.Pet(context.Background(), "d1")
	require.NoError(t, err)
	require.Empty(t, stored.ChainPetHandle)
}

func TestClaimResourcesLocalOnly(t *testing.T) {
	o, _ := newTestOrchestrator(t, chain.NopGateway{})
	ctx := context.Background()
	_, _, err := o.GetPet(ctx, "d1", "Rex")
	require.NoError(t, err)

	food, energy, p, chainRes, err := o.ClaimResources(ctx, "d1", 1000)
	require.NoError(t, err)
	require.Equal(t, 10, food)
	require.Equal(t, 12, energy)
	require.Equal(t, 15, p.Food)
	require.Nil(t, chainRes)
}

func TestClaimResourcesAdoptsChainTotals(t *testing.T) {
	gw := &stubGateway{
		enabled:  true,
		claimRes: &chain.ClaimResult{FoodGained: 10, EnergyGained: 12, NewFood: 42, NewEnergy: 24, TxHandle: "0xtx-claim"},
	}
	o, st := newTestOrchestrator(t, gw)
	ctx := context.Background()
	_, _, err := o.GetPet(ctx, "d1", "Rex")
	require.NoError(t, err)

	food, energy, p, chainRes, err := o.ClaimResources(ctx, "d1", 1000)
	require.NoError(t, err)
	require.Equal(t, 10, food)
	require.Equal(t, 12, energy)
	require.Equal(t, 42, p.Food, "chain totals win")
	require.Equal(t, 24, p.Energy)
	require.NotNil(t, chainRes)
	require.Equal(t, "0xtx-claim", chainRes.TxDigest)

	stored, err := st.Pet(ctx, "d1")
	require.NoError(t, err)
	require.Equal(t, 42, stored.Food)
}

func TestClaimResourcesChainFailureKeepsLocal(t *testing.T) {
	gw := &stubGateway{enabled: true, claimErr: &chain.RPCError{Code: -1, Message: "abort"}}
	o, _ := newTestOrchestrator(t, gw)
	ctx := context.Background()
	_, _, err := o.GetPet(ctx, "d1", "Rex")
	require.NoError(t, err)

	food, energy, p, chainRes, err := o.ClaimResources(ctx, "d1", 1000)
	require.NoError(t, err, "chain failure never fails the local claim")
	require.Equal(t, 10, food)
	require.Equal(t, 12, energy)
	require.Equal(t, 15, p.Food, "local totals stand")
	require.NotNil(t, chainRes)
	require.False(t, chainRes.Submitted)
	require.NotEmpty(t, chainRes.Warning)
	require.Equal(t, 1, gw.claimCalls, "execution errors are not retried")
}

func TestClaimResourcesBelowMinimum(t *testing.T) {
	o, _ := newTestOrchestrator(t, chain.NopGateway{})
	ctx := context.Background()
	_, _, err := o.GetPet(ctx, "d1", "Rex")
	require.NoError(t, err)

	_, _, _, _, err = o.ClaimResources(ctx, "d1", 50)
	require.ErrorIs(t, err, types.ErrInsufficientSteps)
}

func TestFeedPetAdoptsSnapshot(t *testing.T) {
	gw := &stubGateway{
		enabled: true,
		feedRes: &chain.FeedResult{Evolved: true, NewLevel: 1, TxHandle: "0xtx-feed"},
		snapshot: &chain.PetSnapshot{
			Name: "Rex", Level: 1, Experience: 110, Happiness: 77, Hunger: 88, Health: 99, Food: 9, Energy: 6,
		},
	}
	o, _ := newTestOrchestrator(t, gw)
	ctx := context.Background()
	_, _, err := o.GetPet(ctx, "d1", "Rex")
	require.NoError(t, err)

	p, evolved, chainRes, err := o.FeedPet(ctx, "d1")
	require.NoError(t, err)
	require.True(t, evolved)
	require.Equal(t, 77, p.Happiness, "snapshot overwrites local stats")
	require.Equal(t, 9, p.Food)
	require.Equal(t, 1, p.Level)
	require.NotNil(t, chainRes)
	require.Equal(t, "0xtx-feed", chainRes.TxDigest)
}

func TestFeedPetWithoutFood(t *testing.T) {
	o, st := newTestOrchestrator(t, chain.NopGateway{})
	ctx := context.Background()
	_, _, err := o.GetPet(ctx, "d1", "Rex")
	require.NoError(t, err)
	_, err = st.MutatePet(ctx, "d1", func(p *types.Pet) error {
		p.Food = 0
		return nil
	})
	require.NoError(t, err)

	_, _, _, err = o.FeedPet(ctx, "d1")
	require.ErrorIs(t, err, types.ErrInsufficientFood)
}

func TestPlayWithPetLocalOnly(t *testing.T) {
	o, _ := newTestOrchestrator(t, chain.NopGateway{})
	ctx := context.Background()
	_, _, err := o.GetPet(ctx, "d1", "Rex")
	require.NoError(t, err)

	p, chainRes, err := o.PlayWithPet(ctx, "d1")
	require.NoError(t, err)
	require.Equal(t, 4, p.Energy)
	require.Equal(t, 65, p.Happiness)
	require.Nil(t, chainRes)
}

func TestUpdatePetMergesPointerFields(t *testing.T) {
	o, _ := newTestOrchestrator(t, chain.NopGateway{})
	ctx := context.Background()
	_, _, err := o.GetPet(ctx, "d1", "Rex")
	require.NoError(t, err)

	intp := func(v int) *int { return &v }
	u64p := func(v uint64) *uint64 { return &v }

	p, err := o.UpdatePet(ctx, &types.UpdatePetRequest{
		DeviceID:   "d1",
		Happiness:  intp(80),
		Experience: u64p(150),
	})
	require.NoError(t, err)
	require.Equal(t, 80, p.Happiness)
	require.Equal(t, uint64(150), p.Experience)
	require.Equal(t, 1, p.Level, "level recalculated from pushed experience")
	require.Equal(t, 50, p.Hunger, "absent fields untouched")

	// Experience is monotonic: a stale push cannot lower it.
	p, err = o.UpdatePet(ctx, &types.UpdatePetRequest{DeviceID: "d1", Experience: u64p(10)})
	require.NoError(t, err)
	require.Equal(t, uint64(150), p.Experience)
	require.Equal(t, 1, p.Level)
}

func TestUpdatePetCreatesWhenMissing(t *testing.T) {
	o, _ := newTestOrchestrator(t, chain.NopGateway{})
	intp := func(v int) *int { return &v }

	p, err := o.UpdatePet(context.Background(), &types.UpdatePetRequest{DeviceID: "d9", Hunger: intp(33)})
	require.NoError(t, err)
	require.Equal(t, DefaultName, p.Name)
	require.Equal(t, 33, p.Hunger)
}

func TestDeferredMirrorRetriesTransportFailures(t *testing.T) {
	gw := &stubGateway{enabled: true, playErr: errors.New("placeholder")}
	o, st := newTestOrchestrator(t, gw)
	ctx := context.Background()
	_, _, err := o.GetPet(ctx, "d1", "Rex")
	require.NoError(t, err)

	retried := make(chan struct{})
	gw.playErr = nil
	gw.snapshot = &chain.PetSnapshot{Name: "Rex", Happiness: 61, Hunger: 62, Health: 63, Food: 7, Energy: 8}

	// First call fails with a retryable error, then the stub recovers.
	first := true
	o.chain = gatewayFunc{stub: gw, onPlay: func() error {
		if first {
			first = false
			return context.DeadlineExceeded
		}
		defer close(retried)
		return nil
	}}

	p, chainRes, err := o.PlayWithPet(ctx, "d1")
	require.NoError(t, err)
	require.Equal(t, 4, p.Energy, "device answered with local state")
	require.NotNil(t, chainRes)
	require.NotEmpty(t, chainRes.Warning)

	select {
	case <-retried:
	case <-time.After(2 * time.Second):
		t.Fatal("deferred mirror never retried")
	}
	require.Eventually(t, func() bool {
		stored, err := st.Pet(ctx, "d1")
		return err == nil && stored.Happiness == 61
	}, 2*time.Second, 10*time.Millisecond, "retry adopts the chain snapshot")
}

// gatewayFunc overrides PlayWithPet on top of a stub.
type gatewayFunc struct {
	stub   *stubGateway
	onPlay func() error
}

func (g gatewayFunc) Enabled() bool { return true }
func (g gatewayFunc) RegisterDevice(ctx context.Context, id string, pk []byte) (*chain.RegisterResult, error) {
	return g.stub.RegisterDevice(ctx, id, pk)
}
func (g gatewayFunc) SubmitStepData(ctx context.Context, h string, s uint64, ts []int64, sigs [][]byte) (*chain.SubmitResult, error) {
	return g.stub.SubmitStepData(ctx, h, s, ts, sigs)
}
func (g gatewayFunc) CreatePet(ctx context.Context, n, d, c string) (*chain.CreatePetResult, error) {
	return g.stub.CreatePet(ctx, n, d, c)
}
func (g gatewayFunc) ClaimResources(ctx context.Context, h string, s int) (*chain.ClaimResult, error) {
	return g.stub.ClaimResources(ctx, h, s)
}
func (g gatewayFunc) FeedPet(ctx context.Context, h string) (*chain.FeedResult, error) {
	return g.stub.FeedPet(ctx, h)
}
func (g gatewayFunc) PlayWithPet(ctx context.Context, h string) (*chain.PlayResult, error) {
	if err := g.onPlay(); err != nil {
		return nil, err
	}
	return &chain.PlayResult{TxHandle: "0xtx-play"}, nil
}
func (g gatewayFunc) GetPet(ctx context.Context, h string) (*chain.PetSnapshot, error) {
	return g.stub.GetPet(ctx, h)
}
func (g gatewayFunc) GetBalance(ctx context.Context) (string, error) {
	return g.stub.GetBalance(ctx)
}
