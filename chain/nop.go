package chain

import "context"

// NopGateway is the gateway used in local-only mode, when any chain-related
// configuration is absent. Every operation fails with ErrDisabled; callers
// keep all functional paths intact minus the chain side effects.
type NopGateway struct{}

var _ Gateway = NopGateway{}

// Enabled implements Gateway.
func (NopGateway) Enabled() bool { return false }

// RegisterDevice implements Gateway.
func (NopGateway) RegisterDevice(context.Context, string, []byte) (*RegisterResult, error) {
	return nil, ErrDisabled
}

// SubmitStepData implements Gateway.
func (NopGateway) SubmitStepData(context.Context, string, uint64, []int64, [][]byte) (*SubmitResult, error) {
	return nil, ErrDisabled
}

// CreatePet implements Gateway.
func (NopGateway) CreatePet(context.Context, string, string, string) (*CreatePetResult, error) {
	return nil, ErrDisabled
}

// ClaimResources implements Gateway.
func (NopGateway) ClaimResources(context.Context, string, int) (*ClaimResult, error) {
	return nil, ErrDisabled
}

// FeedPet implements Gateway.
func (NopGateway) FeedPet(context.Context, string) (*FeedResult, error) {
	return nil, ErrDisabled
}

// PlayWithPet implements Gateway.
func (NopGateway) PlayWithPet(context.Context, string) (*PlayResult, error) {
	return nil, ErrDisabled
}

// GetPet implements Gateway.
func (NopGateway) GetPet(context.Context, string) (*PetSnapshot, error) {
	return nil, ErrDisabled
}

// GetBalance implements Gateway.
func (NopGateway) GetBalance(context.Context) (string, error) {
	return "", ErrDisabled
}
