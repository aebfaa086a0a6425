package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cosmossdk.io/log"

	"github.com/trustoracle/gateway/chain"
	"github.com/trustoracle/gateway/crypto"
	"github.com/trustoracle/gateway/metrics"
	"github.com/trustoracle/gateway/pet"
	"github.com/trustoracle/gateway/store"
	"github.com/trustoracle/gateway/types"
)

// Handlers owns the frame handlers and their dependencies. Everything is an
// explicit dependency; there is no process-wide state.
type Handlers struct {
	store   store.Store
	chain   chain.Gateway
	pets    *pet.Orchestrator
	hub     *Hub
	metrics *metrics.Metrics
	logger  log.Logger

	chainTimeout time.Duration
	now          func() time.Time
}

// NewHandlers wires the handler set. A zero chainTimeout selects the pet
// orchestrator default.
func NewHandlers(s store.Store, g chain.Gateway, pets *pet.Orchestrator, hub *Hub, m *metrics.Metrics, logger log.Logger, chainTimeout time.Duration) *Handlers {
	if chainTimeout <= 0 {
		chainTimeout = pet.DefaultChainTimeout
	}
	return &Handlers{
		store:        s,
		chain:        g,
		pets:         pets,
		hub:          hub,
		metrics:      m,
		logger:       logger.With("module", "session"),
		chainTimeout: chainTimeout,
		now:          time.Now,
	}
}

// Router builds the dispatch table. This is the complete accepted inbound
// surface of the gateway.
func (h *Handlers) Router() *Router {
	r := NewRouter(h.logger)
	r.metrics = h.metrics
	r.Handle(types.MsgRegister, StateConnected, h.handleRegister)
	r.Handle(types.MsgPing, StateConnected, h.handlePing)
	r.Handle(types.MsgAuthenticate, StateRegistered, h.handleAuthenticate)
	r.Handle(types.MsgStepData, StateAuthenticated, h.handleStepData)
	r.Handle(types.MsgGetPet, StateAuthenticated, h.handleGetPet)
	r.Handle(types.MsgUpdatePet, StateAuthenticated, h.handleUpdatePet)
	r.Handle(types.MsgClaimResources, StateAuthenticated, h.handleClaimResources)
	r.Handle(types.MsgFeedPet, StateAuthenticated, h.handleFeedPet)
	r.Handle(types.MsgPlayWithPet, StateAuthenticated, h.handlePlayWithPet)
	return r
}

func (h *Handlers) handleRegister(ctx context.Context, s *Session, raw []byte) error {
	var req types.RegisterRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("%w: %v", types.ErrValidation, err)
	}
	if err := req.Validate(); err != nil {
		return err
	}
	pub, err := crypto.ParsePublicKey(req.PublicKey)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrValidation, err)
	}

	dev, err := h.store.RegisterDevice(ctx, req.DeviceID, pub, h.now())
	if errors.Is(err, types.ErrPublicKeyConflict) {
		return fmt.Errorf("%w: %v", types.ErrValidation, err)
	}
	if err != nil {
		return err
	}
	s.advance(StateRegistered)

	// On-chain registration is best effort: a chain failure never fails the
	// local registration, it only shows up in the chain sub-object.
	var chainRes *types.ChainResult
	if h.chain.Enabled() && dev.ChainDeviceHandle == "" {
		chainRes = h.registerOnChain(ctx, req.DeviceID, pub)
	}

	h.logger.Info("device registered", "device", req.DeviceID, "remote", s.Remote)
	s.Send(&types.RegisterResponse{
		Type:     types.MsgRegisterResponse,
		Success:  true,
		DeviceID: req.DeviceID,
		Chain:    chainRes,
	})
	return nil
}

func (h *Handlers) registerOnChain(ctx context.Context, deviceID string, pub []byte) *types.ChainResult {
	callCtx, cancel := context.WithTimeout(ctx, h.chainTimeout)
	defer cancel()
	res, err := h.chain.RegisterDevice(callCtx, deviceID, pub)
	if err != nil {
		h.metrics.ChainCalls.WithLabelValues("register_device", "error").Inc()
		h.logger.Warn("on-chain registration failed", "device", deviceID, "err", err)
		return &types.ChainResult{Warning: "on-chain registration failed: " + err.Error()}
	}
	h.metrics.ChainCalls.WithLabelValues("register_device", "ok").Inc()
	if err := h.store.SetChainDeviceHandle(ctx, deviceID, res.ChainDeviceHandle); err != nil {
		h.logger.Error("storing chain device handle failed", "device", deviceID, "err", err)
	}
	return &types.ChainResult{Submitted: true, TxDigest: res.TxHandle}
}

func (h *Handlers) handleAuthenticate(ctx context.Context, s *Session, raw []byte) error {
	var req types.AuthenticateRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("%w: %v", types.ErrValidation, err)
	}
	if err := req.Validate(); err != nil {
		return err
	}
	if _, err := h.store.Device(ctx, req.DeviceID); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return fmt.Errorf("%w: %s", types.ErrUnknownDevice, req.DeviceID)
		}
		return err
	}

	// This design trusts prior registration; no challenge-response.
	s.deviceID = req.DeviceID
	s.advance(StateAuthenticated)
	if evicted := h.hub.Bind(req.DeviceID, s); evicted != nil {
		h.logger.Info("evicting prior session", "device", req.DeviceID, "session", evicted.ID)
		evicted.Close()
	}

	h.logger.Info("device authenticated", "device", req.DeviceID)
	s.Send(&types.AuthResponse{Type: types.MsgAuthResponse, Success: true, DeviceID: req.DeviceID})
	return nil
}

func (h *Handlers) handlePing(_ context.Context, s *Session, _ []byte) error {
	s.lastPing = h.now()
	s.Send(&types.PongFrame{Type: types.MsgPong, Timestamp: h.now().UnixMilli()})
	return nil
}

func (h *Handlers) handleStepData(ctx context.Context, s *Session, raw []byte) error {
	var req types.StepDataRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("%w: %v", types.ErrValidation, err)
	}
	if req.DeviceID != s.DeviceID() {
		return fmt.Errorf("%w: deviceId does not match authenticated session", types.ErrValidation)
	}
	if err := req.Validate(); err != nil {
		return err
	}
	now := h.now()
	if err := types.ValidateTimestamp(req.Timestamp, now); err != nil {
		return err
	}

	dev, err := h.store.Device(ctx, req.DeviceID)
	if err != nil {
		return fmt.Errorf("%w: %s", types.ErrUnknownDevice, req.DeviceID)
	}

	// Rebuild the signed bytes from the raw field values so float
	// formatting never drifts from what the device signed.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return fmt.Errorf("%w: %v", types.ErrValidation, err)
	}
	canonical, err := types.CanonicalStepJSON(fields)
	if err != nil {
		return err
	}
	sig, err := crypto.ParseSignature(req.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrValidation, err)
	}
	if !crypto.VerifyPayload(canonical, sig, dev.PublicKey) {
		h.metrics.VerifyFailures.Inc()
		return types.ErrSignature
	}

	id, err := h.store.StoreSubmission(ctx, &types.Submission{
		DeviceID:        req.DeviceID,
		StepCount:       req.StepCount,
		Timestamp:       req.Timestamp,
		FirmwareVersion: req.FirmwareVersion,
		BatteryPercent:  req.BatteryPercent,
		RawAccSamples:   req.RawAccSamples,
		Signature:       sig,
		Verified:        true,
		ReceivedAt:      now,
	})
	if err != nil {
		return err
	}
	h.metrics.SubmissionsStored.Inc()

	h.logger.Info("submission staged", "device", req.DeviceID, "id", id, "steps", req.StepCount)
	s.Send(&types.StepDataResponse{
		Type:      types.MsgStepDataResponse,
		Success:   true,
		DataID:    id,
		StepCount: req.StepCount,
		Verified:  true,
	})
	return nil
}

// requireOwnDevice checks a pet frame's deviceId against the session.
func (h *Handlers) requireOwnDevice(s *Session, deviceID string) error {
	if err := types.ValidateDeviceID(deviceID); err != nil {
		return err
	}
	if deviceID != s.DeviceID() {
		return fmt.Errorf("%w: deviceId does not match authenticated session", types.ErrValidation)
	}
	return nil
}

func (h *Handlers) handleGetPet(ctx context.Context, s *Session, raw []byte) error {
	var req types.GetPetRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("%w: %v", types.ErrValidation, err)
	}
	if err := h.requireOwnDevice(s, req.DeviceID); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return err
	}

	view, chainRes, err := h.pets.GetPet(ctx, req.DeviceID, req.Name)
	if err != nil {
		return err
	}
	pv := types.NewPetView(view)
	s.Send(&types.PetDataResponse{Type: types.MsgPetData, Success: true, Pet: &pv, Chain: chainRes})
	return nil
}

func (h *Handlers) handleUpdatePet(ctx context.Context, s *Session, raw []byte) error {
	var req types.UpdatePetRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("%w: %v", types.ErrValidation, err)
	}
	if err := h.requireOwnDevice(s, req.DeviceID); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return err
	}

	p, err := h.pets.UpdatePet(ctx, &req)
	if err != nil {
		return err
	}
	pv := types.NewPetView(*p)
	s.Send(&types.PetActionResponse{Type: types.MsgPetUpdated, Success: true, Pet: &pv})
	return nil
}

func (h *Handlers) handleClaimResources(ctx context.Context, s *Session, raw []byte) error {
	var req types.ClaimResourcesRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("%w: %v", types.ErrValidation, err)
	}
	if err := h.requireOwnDevice(s, req.DeviceID); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return err
	}

	food, energy, p, chainRes, err := h.pets.ClaimResources(ctx, req.DeviceID, req.Steps)
	if err != nil {
		return err
	}
	pv := types.NewPetView(*p)
	s.Send(&types.ResourcesClaimedResponse{
		Type:         types.MsgResourcesClaimed,
		Success:      true,
		FoodGained:   food,
		EnergyGained: energy,
		Pet:          &pv,
		Chain:        chainRes,
	})
	return nil
}

func (h *Handlers) handleFeedPet(ctx context.Context, s *Session, raw []byte) error {
	var req types.FeedPetRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("%w: %v", types.ErrValidation, err)
	}
	if err := h.requireOwnDevice(s, req.DeviceID); err != nil {
		return err
	}

	p, evolved, chainRes, err := h.pets.FeedPet(ctx, req.DeviceID)
	if err != nil {
		return err
	}
	pv := types.NewPetView(*p)
	s.Send(&types.PetActionResponse{Type: types.MsgPetFed, Success: true, Evolved: evolved, Pet: &pv, Chain: chainRes})
	return nil
}

func (h *Handlers) handlePlayWithPet(ctx context.Context, s *Session, raw []byte) error {
	var req types.PlayWithPetRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("%w: %v", types.ErrValidation, err)
	}
	if err := h.requireOwnDevice(s, req.DeviceID); err != nil {
		return err
	}

	p, chainRes, err := h.pets.PlayWithPet(ctx, req.DeviceID)
	if err != nil {
		return err
	}
	pv := types.NewPetView(*p)
	s.Send(&types.PetActionResponse{Type: types.MsgPetPlayed, Success: true, Pet: &pv, Chain: chainRes})
	return nil
}
