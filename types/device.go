package types

import "time"

// Device status values.
const (
	DeviceStatusActive    = "active"
	DeviceStatusSuspended = "suspended"
)

// Device is a registered hardware witness. The device id is an opaque UTF-8
// string chosen at registration; the public key is unique across devices.
type Device struct {
	DeviceID          string    `json:"device_id"`
	PublicKey         []byte    `json:"public_key"` // 32-byte Ed25519
	RegisteredAt      time.Time `json:"registered_at"`
	LastSeen          time.Time `json:"last_seen"`
	TotalSteps        uint64    `json:"total_steps"`
	TotalSubmissions  uint64    `json:"total_submissions"`
	Status            string    `json:"status"`
	ChainDeviceHandle string    `json:"chain_device_handle,omitempty"`
}

// Submission is a verified activity batch staged for chain submission.
//
// INVARIANT: once Verified is true the payload fields are never mutated.
// INVARIANT: Submitted flips false->true exactly once, together with
// ChainTxHandle, under a single store commit.
type Submission struct {
	ID              uint64       `json:"id"`
	DeviceID        string       `json:"device_id"`
	StepCount       int          `json:"step_count"`
	Timestamp       int64        `json:"timestamp"` // device clock, Unix milliseconds
	FirmwareVersion int          `json:"firmware_version"`
	BatteryPercent  int          `json:"battery_percent"`
	RawAccSamples   [][3]float64 `json:"raw_acc_samples"`
	Signature       []byte       `json:"signature"` // 64-byte Ed25519, as received
	Verified        bool         `json:"verified"`
	ReceivedAt      time.Time    `json:"received_at"`
	Submitted       bool         `json:"submitted"`
	ChainTxHandle   string       `json:"chain_tx_handle,omitempty"`
}
