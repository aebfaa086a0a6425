package chain

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"cosmossdk.io/log"
)

// Ledger entry points. The package handle selects the deployed oracle
// contract; the registry handle is the shared object holding the device
// table.
const (
	methodExecute   = "oracle_executeCall"
	methodGetObject = "oracle_getObject"
	methodBalance   = "oracle_getBalance"
)

// RPCGateway talks JSON-RPC over HTTP to a ledger fullnode. It signs every
// state-changing call with the server key; read calls go unsigned.
type RPCGateway struct {
	endpoint       string
	packageHandle  string
	registryHandle string

	signingKey ed25519.PrivateKey
	sender     string // hex of the server public key

	client *http.Client
	logger log.Logger
	nextID atomic.Uint64
}

var _ Gateway = (*RPCGateway)(nil)

// NewRPCGateway builds a gateway for the given fullnode endpoint. The
// signing key must be a 64-byte Ed25519 private key.
func NewRPCGateway(endpoint, packageHandle, registryHandle string, signingKey ed25519.PrivateKey, logger log.Logger) (*RPCGateway, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("chain endpoint is required")
	}
	if len(signingKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid signing key: got %d bytes, want %d", len(signingKey), ed25519.PrivateKeySize)
	}
	pub := signingKey.Public().(ed25519.PublicKey)
	return &RPCGateway{
		endpoint:       endpoint,
		packageHandle:  packageHandle,
		registryHandle: registryHandle,
		signingKey:     signingKey,
		sender:         hex.EncodeToString(pub),
		client:         &http.Client{},
		logger:         logger.With("module", "chain"),
	}, nil
}

// Enabled implements Gateway.
func (g *RPCGateway) Enabled() bool { return true }

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// executeCall signs and submits a state-changing contract call and decodes
// the returned value into out (which may be nil).
type executeParams struct {
	Package   string          `json:"package"`
	Function  string          `json:"function"`
	Args      json.RawMessage `json:"args"`
	Sender    string          `json:"sender"`
	Signature string          `json:"signature"`
}

type executeResult struct {
	Digest  string          `json:"digest"`
	Status  string          `json:"status"`
	Returns json.RawMessage `json:"returns"`
}

func (g *RPCGateway) executeCall(ctx context.Context, function string, args any, out any) (string, error) {
	argBytes, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode args: %w", err)
	}

	// The signed envelope covers package, function, and argument bytes; the
	// node checks the signature against the registered server key.
	envelope := fmt.Sprintf("%s:%s:%s", g.packageHandle, function, argBytes)
	digest := sha256.Sum256([]byte(envelope))
	sig := ed25519.Sign(g.signingKey, digest[:])

	params := executeParams{
		Package:   g.packageHandle,
		Function:  function,
		Args:      argBytes,
		Sender:    g.sender,
		Signature: hex.EncodeToString(sig),
	}
	var result executeResult
	if err := g.call(ctx, methodExecute, params, &result); err != nil {
		return "", err
	}
	if result.Status != "" && result.Status != "success" {
		return "", &RPCError{Code: -1, Message: fmt.Sprintf("execution status %q", result.Status)}
	}
	if out != nil && len(result.Returns) > 0 {
		if err := json.Unmarshal(result.Returns, out); err != nil {
			return "", fmt.Errorf("decode returns of %s: %w", function, err)
		}
	}
	return result.Digest, nil
}

func (g *RPCGateway) call(ctx context.Context, method string, params any, out any) error {
	rawParams, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      g.nextID.Add(1),
		Method:  method,
		Params:  rawParams,
	})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		return &transportError{err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return &transportError{err: fmt.Errorf("node returned HTTP %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("node returned HTTP %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &transportError{err: err}
	}
	var rpcResp rpcResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	g.logger.Debug("chain call", "method", method, "took", time.Since(start))

	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("decode result of %s: %w", method, err)
		}
	}
	return nil
}

// RegisterDevice implements Gateway.
func (g *RPCGateway) RegisterDevice(ctx context.Context, deviceID string, publicKey []byte) (*RegisterResult, error) {
	args := map[string]any{
		"registry":  g.registryHandle,
		"deviceId":  deviceID,
		"publicKey": hex.EncodeToString(publicKey),
	}
	var ret struct {
		DeviceHandle string `json:"deviceHandle"`
	}
	digest, err := g.executeCall(ctx, "register_device", args, &ret)
	if err != nil {
		return nil, err
	}
	return &RegisterResult{ChainDeviceHandle: ret.DeviceHandle, TxHandle: digest}, nil
}

// SubmitStepData implements Gateway.
func (g *RPCGateway) SubmitStepData(ctx context.Context, chainDeviceHandle string, totalSteps uint64, timestamps []int64, signatures [][]byte) (*SubmitResult, error) {
	sigHex := make([]string, len(signatures))
	for i, sig := range signatures {
		sigHex[i] = hex.EncodeToString(sig)
	}
	args := map[string]any{
		"device":     chainDeviceHandle,
		"totalSteps": totalSteps,
		"timestamps": timestamps,
		"signatures": sigHex,
	}
	digest, err := g.executeCall(ctx, "submit_step_data", args, nil)
	if err != nil {
		return nil, err
	}
	return &SubmitResult{TxHandle: digest}, nil
}

// CreatePet implements Gateway.
func (g *RPCGateway) CreatePet(ctx context.Context, name, deviceID, color string) (*CreatePetResult, error) {
	args := map[string]any{
		"registry": g.registryHandle,
		"name":     name,
		"deviceId": deviceID,
		"color":    color,
	}
	var ret struct {
		PetHandle string `json:"petHandle"`
	}
	digest, err := g.executeCall(ctx, "create_pet", args, &ret)
	if err != nil {
		return nil, err
	}
	return &CreatePetResult{ChainPetHandle: ret.PetHandle, TxHandle: digest}, nil
}

// ClaimResources implements Gateway.
func (g *RPCGateway) ClaimResources(ctx context.Context, chainPetHandle string, steps int) (*ClaimResult, error) {
	args := map[string]any{"pet": chainPetHandle, "steps": steps}
	var ret struct {
		FoodGained   int `json:"foodGained"`
		EnergyGained int `json:"energyGained"`
		NewFood      int `json:"newFood"`
		NewEnergy    int `json:"newEnergy"`
	}
	digest, err := g.executeCall(ctx, "claim_resources", args, &ret)
	if err != nil {
		return nil, err
	}
	return &ClaimResult{
		FoodGained:   ret.FoodGained,
		EnergyGained: ret.EnergyGained,
		NewFood:      ret.NewFood,
		NewEnergy:    ret.NewEnergy,
		TxHandle:     digest,
	}, nil
}

// FeedPet implements Gateway.
func (g *RPCGateway) FeedPet(ctx context.Context, chainPetHandle string) (*FeedResult, error) {
	args := map[string]any{"pet": chainPetHandle}
	var ret struct {
		Evolved  bool `json:"evolved"`
		NewLevel int  `json:"newLevel"`
	}
	digest, err := g.executeCall(ctx, "feed_pet", args, &ret)
	if err != nil {
		return nil, err
	}
	return &FeedResult{Evolved: ret.Evolved, NewLevel: ret.NewLevel, TxHandle: digest}, nil
}

// PlayWithPet implements Gateway.
func (g *RPCGateway) PlayWithPet(ctx context.Context, chainPetHandle string) (*PlayResult, error) {
	args := map[string]any{"pet": chainPetHandle}
	digest, err := g.executeCall(ctx, "play_with_pet", args, nil)
	if err != nil {
		return nil, err
	}
	return &PlayResult{TxHandle: digest}, nil
}

type petObject struct {
	Name          string `json:"name"`
	Level         int    `json:"level"`
	Experience    uint64 `json:"experience"`
	TotalStepsFed uint64 `json:"totalStepsFed"`
	Happiness     int    `json:"happiness"`
	Hunger        int    `json:"hunger"`
	Health        int    `json:"health"`
	Food          int    `json:"food"`
	Energy        int    `json:"energy"`
}

// GetPet implements Gateway.
func (g *RPCGateway) GetPet(ctx context.Context, chainPetHandle string) (*PetSnapshot, error) {
	var ret struct {
		Exists bool       `json:"exists"`
		Object *petObject `json:"object"`
	}
	if err := g.call(ctx, methodGetObject, map[string]any{"handle": chainPetHandle}, &ret); err != nil {
		return nil, err
	}
	if !ret.Exists || ret.Object == nil {
		return nil, ErrObjectNotFound
	}
	o := ret.Object
	return &PetSnapshot{
		Name:          o.Name,
		Level:         o.Level,
		Experience:    o.Experience,
		TotalStepsFed: o.TotalStepsFed,
		Happiness:     o.Happiness,
		Hunger:        o.Hunger,
		Health:        o.Health,
		Food:          o.Food,
		Energy:        o.Energy,
	}, nil
}

// GetBalance implements Gateway.
func (g *RPCGateway) GetBalance(ctx context.Context) (string, error) {
	var ret struct {
		Balance string `json:"balance"`
	}
	if err := g.call(ctx, methodBalance, map[string]any{"owner": g.sender}, &ret); err != nil {
		return "", err
	}
	return ret.Balance, nil
}
