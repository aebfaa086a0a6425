package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cosmossdk.io/log"

	"github.com/trustoracle/gateway/metrics"
	"github.com/trustoracle/gateway/types"
)

// HandlerFunc processes one decoded-enough inbound frame. The raw bytes are
// passed through so handlers can decode their concrete frame type (and, for
// step_data, recover the raw field bytes for canonical reconstruction).
type HandlerFunc func(ctx context.Context, s *Session, raw []byte) error

type route struct {
	minState State
	fn       HandlerFunc
}

// Router is the tagged dispatch table of the session main loop: one entry
// per literal frame type, each gated on a minimum session state. The
// accepted message surface is reviewable here in one place.
type Router struct {
	routes  map[string]route
	logger  log.Logger
	metrics *metrics.Metrics
}

// NewRouter creates an empty router.
func NewRouter(logger log.Logger) *Router {
	return &Router{
		routes: make(map[string]route),
		logger: logger.With("module", "session"),
	}
}

// Handle registers a frame type. Registering a duplicate type is a wiring
// bug and panics at startup.
func (r *Router) Handle(msgType string, minState State, fn HandlerFunc) {
	if _, dup := r.routes[msgType]; dup {
		panic(fmt.Sprintf("duplicate handler for frame type %q", msgType))
	}
	r.routes[msgType] = route{minState: minState, fn: fn}
}

// Dispatch routes one inbound frame. Handler errors are converted to typed
// failure frames; they never close the session and never propagate.
func (r *Router) Dispatch(ctx context.Context, s *Session, raw []byte) {
	var env types.Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
		if r.metrics != nil {
			r.metrics.FramesTotal.WithLabelValues("invalid").Inc()
		}
		s.Send(failureFrame("", fmt.Errorf("%w: frame must be a JSON object with a type field", types.ErrValidation)))
		return
	}
	if r.metrics != nil {
		r.metrics.FramesTotal.WithLabelValues(env.Type).Inc()
	}

	rt, ok := r.routes[env.Type]
	if !ok {
		s.Send(failureFrame(env.Type, fmt.Errorf("%w: unknown message type %q", types.ErrValidation, env.Type)))
		return
	}
	if s.State() < rt.minState {
		s.Send(failureFrame(env.Type, fmt.Errorf("%w: %q requires state %s, session is %s",
			types.ErrState, env.Type, rt.minState, s.State())))
		return
	}

	if err := rt.fn(ctx, s, raw); err != nil {
		r.logger.Debug("frame rejected", "type", env.Type, "device", s.DeviceID(), "err", err)
		s.Send(failureFrame(env.Type, err))
	}
}

// errorKind maps an error to its taxonomy name.
func errorKind(err error) string {
	switch {
	case errors.Is(err, types.ErrState):
		return "state"
	case errors.Is(err, types.ErrUnknownDevice), errors.Is(err, types.ErrNotFound):
		return "unknown_device"
	case errors.Is(err, types.ErrSignature):
		return "signature"
	case errors.Is(err, types.ErrDuplicateSubmission):
		return "duplicate"
	case errors.Is(err, types.ErrTemporal):
		return "temporal"
	case errors.Is(err, types.ErrChain):
		return "chain"
	case errors.Is(err, types.ErrValidation),
		errors.Is(err, types.ErrPublicKeyConflict),
		errors.Is(err, types.ErrInsufficientFood),
		errors.Is(err, types.ErrInsufficientEnergy),
		errors.Is(err, types.ErrInsufficientSteps):
		return "validation"
	default:
		return "internal"
	}
}

// failureFrame picks the response frame type that matches the failed
// request so devices can correlate errors to what they sent.
func failureFrame(msgType string, err error) any {
	kind := errorKind(err)
	msg := err.Error()
	if kind == "internal" {
		// Unclassified errors stay inside the process.
		msg = types.ErrInternal.Error()
	}

	switch msgType {
	case types.MsgRegister:
		return &types.RegisterResponse{Type: types.MsgRegisterResponse, Success: false, Error: msg}
	case types.MsgAuthenticate:
		return &types.AuthResponse{Type: types.MsgAuthResponse, Success: false, Error: msg}
	case types.MsgStepData:
		return &types.StepDataResponse{Type: types.MsgStepDataResponse, Success: false, Error: msg}
	case types.MsgGetPet, types.MsgUpdatePet, types.MsgClaimResources, types.MsgFeedPet, types.MsgPlayWithPet:
		return &types.ErrorFrame{Type: types.MsgPetError, Success: false, Kind: kind, Error: msg}
	default:
		return &types.ErrorFrame{Type: types.MsgError, Success: false, Kind: kind, Error: msg}
	}
}
