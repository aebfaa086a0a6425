package types

// Inbound frame types. Every inbound frame is a UTF-8 JSON object whose
// "type" field selects the handler; unknown types are a validation error.
const (
	MsgRegister       = "register"
	MsgAuthenticate   = "authenticate"
	MsgStepData       = "step_data"
	MsgPing           = "ping"
	MsgGetPet         = "getPet"
	MsgUpdatePet      = "updatePet"
	MsgClaimResources = "claimResources"
	MsgFeedPet        = "feedPet"
	MsgPlayWithPet    = "playWithPet"
)

// Outbound frame types.
const (
	MsgWelcome          = "welcome"
	MsgRegisterResponse = "register_response"
	MsgAuthResponse     = "auth_response"
	MsgStepDataResponse = "step_data_response"
	MsgPong             = "pong"
	MsgPetData          = "pet_data"
	MsgPetUpdated       = "pet_updated"
	MsgResourcesClaimed = "resources_claimed"
	MsgPetFed           = "pet_fed"
	MsgPetPlayed        = "pet_played"
	MsgPetError         = "pet_error"
	MsgError            = "error"
)

// Envelope carries only the type discriminator, decoded first to pick the
// handler before the concrete frame is decoded.
type Envelope struct {
	Type string `json:"type"`
}

// RegisterRequest binds a device id to a 32-byte Ed25519 public key given as
// 0x-prefixed lowercase hex.
type RegisterRequest struct {
	Type      string `json:"type"`
	DeviceID  string `json:"deviceId"`
	PublicKey string `json:"publicKey"`
}

// AuthenticateRequest binds the session to a previously registered device.
type AuthenticateRequest struct {
	Type     string `json:"type"`
	DeviceID string `json:"deviceId"`
}

// StepDataRequest is a signed activity batch. Signature is 0x-prefixed
// lowercase hex of the 64-byte Ed25519 signature over SHA-256 of the
// canonical payload form.
type StepDataRequest struct {
	Type            string       `json:"type"`
	DeviceID        string       `json:"deviceId"`
	StepCount       int          `json:"stepCount"`
	Timestamp       int64        `json:"timestamp"`
	FirmwareVersion int          `json:"firmwareVersion"`
	BatteryPercent  int          `json:"batteryPercent"`
	RawAccSamples   [][3]float64 `json:"rawAccSamples"`
	Signature       string       `json:"signature"`
}

// GetPetRequest fetches (and lazily creates) the device's pet.
type GetPetRequest struct {
	Type     string `json:"type"`
	DeviceID string `json:"deviceId"`
	Name     string `json:"name,omitempty"`
}

// UpdatePetRequest pushes device-local pet stats to the server. Fields are
// pointers so absent values leave server state untouched.
type UpdatePetRequest struct {
	Type          string  `json:"type"`
	DeviceID      string  `json:"deviceId"`
	Happiness     *int    `json:"happiness,omitempty"`
	Hunger        *int    `json:"hunger,omitempty"`
	Health        *int    `json:"health,omitempty"`
	Experience    *uint64 `json:"experience,omitempty"`
	TotalStepsFed *uint64 `json:"total_steps_fed,omitempty"`
	Level         *int    `json:"level,omitempty"`
	Food          *int    `json:"food,omitempty"`
	Energy        *int    `json:"energy,omitempty"`
	Cosmetic      *string `json:"cosmetic,omitempty"`
}

// ClaimResourcesRequest converts verified steps into food and energy.
type ClaimResourcesRequest struct {
	Type     string `json:"type"`
	DeviceID string `json:"deviceId"`
	Steps    int    `json:"steps"`
}

// FeedPetRequest spends one food.
type FeedPetRequest struct {
	Type     string `json:"type"`
	DeviceID string `json:"deviceId"`
}

// PlayWithPetRequest spends one energy.
type PlayWithPetRequest struct {
	Type     string `json:"type"`
	DeviceID string `json:"deviceId"`
}

// ChainResult is the optional chain sub-object attached to responses whose
// operation has a best-effort chain side effect.
type ChainResult struct {
	Submitted bool   `json:"submitted"`
	TxDigest  string `json:"txDigest,omitempty"`
	Warning   string `json:"warning,omitempty"`
}

// WelcomeFrame is pushed on connection accept.
type WelcomeFrame struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// RegisterResponse acknowledges a register frame.
type RegisterResponse struct {
	Type     string       `json:"type"`
	Success  bool         `json:"success"`
	DeviceID string       `json:"deviceId,omitempty"`
	Error    string       `json:"error,omitempty"`
	Chain    *ChainResult `json:"chain,omitempty"`
}

// AuthResponse acknowledges an authenticate frame.
type AuthResponse struct {
	Type     string `json:"type"`
	Success  bool   `json:"success"`
	DeviceID string `json:"deviceId,omitempty"`
	Error    string `json:"error,omitempty"`
}

// StepDataResponse acknowledges a step_data frame.
type StepDataResponse struct {
	Type      string `json:"type"`
	Success   bool   `json:"success"`
	DataID    uint64 `json:"dataId,omitempty"`
	StepCount int    `json:"stepCount,omitempty"`
	Verified  bool   `json:"verified,omitempty"`
	Error     string `json:"error,omitempty"`
}

// PongFrame answers a ping.
type PongFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// PetView is the wire shape of a pet.
type PetView struct {
	PetName       string `json:"pet_name"`
	DeviceID      string `json:"device_id"`
	Level         int    `json:"level"`
	Experience    uint64 `json:"experience"`
	TotalStepsFed uint64 `json:"total_steps_fed"`
	Happiness     int    `json:"happiness"`
	Hunger        int    `json:"hunger"`
	Health        int    `json:"health"`
	Food          int    `json:"food"`
	Energy        int    `json:"energy"`
	PetObjectID   string `json:"pet_object_id,omitempty"`
	OnChain       bool   `json:"on_chain"`
}

// NewPetView projects a pet onto its wire shape.
func NewPetView(p Pet) PetView {
	return PetView{
		PetName:       p.Name,
		DeviceID:      p.DeviceID,
		Level:         p.Level,
		Experience:    p.Experience,
		TotalStepsFed: p.TotalStepsFed,
		Happiness:     p.Happiness,
		Hunger:        p.Hunger,
		Health:        p.Health,
		Food:          p.Food,
		Energy:        p.Energy,
		PetObjectID:   p.ChainPetHandle,
		OnChain:       p.ChainPetHandle != "",
	}
}

// PetDataResponse carries the current pet state.
type PetDataResponse struct {
	Type    string       `json:"type"`
	Success bool         `json:"success"`
	Pet     *PetView     `json:"pet,omitempty"`
	Error   string       `json:"error,omitempty"`
	Chain   *ChainResult `json:"chain,omitempty"`
}

// ResourcesClaimedResponse reports a successful resource claim.
type ResourcesClaimedResponse struct {
	Type         string       `json:"type"`
	Success      bool         `json:"success"`
	FoodGained   int          `json:"foodGained"`
	EnergyGained int          `json:"energyGained"`
	Pet          *PetView     `json:"pet,omitempty"`
	Chain        *ChainResult `json:"chain,omitempty"`
}

// PetActionResponse reports a feed, play, or update result.
type PetActionResponse struct {
	Type    string       `json:"type"`
	Success bool         `json:"success"`
	Evolved bool         `json:"evolved,omitempty"`
	Pet     *PetView     `json:"pet,omitempty"`
	Chain   *ChainResult `json:"chain,omitempty"`
}

// ErrorFrame is the generic typed error response. Kind names the taxonomy
// entry; Error carries the one-line human-readable reason.
type ErrorFrame struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Kind    string `json:"kind,omitempty"`
	Error   string `json:"error"`
}
