package types

import (
	"fmt"
	"time"
)

// Field bounds enforced before any store write.
const (
	MaxDeviceIDLen = 64
	MaxPetNameLen  = 32

	MinStepCount = 1
	MaxStepCount = 100_000

	MaxAccSamples = 30

	// PublicKeyHexLen is "0x" + 64 hex chars (32 bytes).
	PublicKeyHexLen = 2 + 64
	// SignatureHexLen is "0x" + 128 hex chars (64 bytes).
	SignatureHexLen = 2 + 128
)

// Accepted device timestamp window relative to server time.
const (
	MaxTimestampAge    = 7 * 24 * time.Hour
	MaxTimestampFuture = 5 * time.Minute
)

// isLowerHex reports whether s is entirely lowercase hex digits.
func isLowerHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// validateHexField checks the 0x-prefixed lowercase hex shape of a wire
// field without decoding it.
func validateHexField(name, value string, wantLen int) error {
	if len(value) != wantLen {
		return fmt.Errorf("%w: %s must be %d characters, got %d", ErrValidation, name, wantLen, len(value))
	}
	if value[0] != '0' || value[1] != 'x' {
		return fmt.Errorf("%w: %s must be 0x-prefixed", ErrValidation, name)
	}
	if !isLowerHex(value[2:]) {
		return fmt.Errorf("%w: %s must be lowercase hex", ErrValidation, name)
	}
	return nil
}

// ValidateDeviceID checks the opaque device identifier shape.
func ValidateDeviceID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: deviceId is required", ErrValidation)
	}
	if len(id) > MaxDeviceIDLen {
		return fmt.Errorf("%w: deviceId exceeds %d bytes", ErrValidation, MaxDeviceIDLen)
	}
	return nil
}

// ValidateRegister checks a register frame.
func (r *RegisterRequest) Validate() error {
	if err := ValidateDeviceID(r.DeviceID); err != nil {
		return err
	}
	return validateHexField("publicKey", r.PublicKey, PublicKeyHexLen)
}

// Validate checks an authenticate frame.
func (r *AuthenticateRequest) Validate() error {
	return ValidateDeviceID(r.DeviceID)
}

// Validate checks the shape and scalar bounds of a step_data frame. The
// signature itself is verified separately against the canonical payload.
func (r *StepDataRequest) Validate() error {
	if err := ValidateDeviceID(r.DeviceID); err != nil {
		return err
	}
	if r.StepCount < MinStepCount || r.StepCount > MaxStepCount {
		return fmt.Errorf("%w: stepCount %d outside [%d, %d]", ErrValidation, r.StepCount, MinStepCount, MaxStepCount)
	}
	if r.BatteryPercent < 0 || r.BatteryPercent > 100 {
		return fmt.Errorf("%w: batteryPercent %d outside [0, 100]", ErrValidation, r.BatteryPercent)
	}
	if r.FirmwareVersion < 0 {
		return fmt.Errorf("%w: firmwareVersion must be non-negative", ErrValidation)
	}
	if len(r.RawAccSamples) > MaxAccSamples {
		return fmt.Errorf("%w: rawAccSamples exceeds %d samples", ErrValidation, MaxAccSamples)
	}
	if r.Timestamp <= 0 {
		return fmt.Errorf("%w: timestamp must be positive", ErrValidation)
	}
	return validateHexField("signature", r.Signature, SignatureHexLen)
}

// ValidateTimestamp checks a device millisecond timestamp against the
// accepted window. The future tolerance absorbs device clock skew; the
// on-chain contract's stricter rule is not compensated for here.
func ValidateTimestamp(tsMillis int64, now time.Time) error {
	ts := time.UnixMilli(tsMillis)
	if now.Sub(ts) > MaxTimestampAge {
		return fmt.Errorf("%w: timestamp older than %s", ErrTemporal, MaxTimestampAge)
	}
	if ts.Sub(now) > MaxTimestampFuture {
		return fmt.Errorf("%w: timestamp more than %s in the future", ErrTemporal, MaxTimestampFuture)
	}
	return nil
}

// Validate checks a resource claim frame.
func (r *ClaimResourcesRequest) Validate() error {
	if err := ValidateDeviceID(r.DeviceID); err != nil {
		return err
	}
	if r.Steps < ClaimMinSteps {
		return fmt.Errorf("%w: steps %d below claim minimum %d", ErrValidation, r.Steps, ClaimMinSteps)
	}
	return nil
}

// Validate checks a pet fetch frame.
func (r *GetPetRequest) Validate() error {
	if err := ValidateDeviceID(r.DeviceID); err != nil {
		return err
	}
	if len(r.Name) > MaxPetNameLen {
		return fmt.Errorf("%w: name exceeds %d bytes", ErrValidation, MaxPetNameLen)
	}
	return nil
}

// Validate checks an updatePet frame. Bounded stats are range-checked here;
// they are clamped again before persistence.
func (r *UpdatePetRequest) Validate() error {
	if err := ValidateDeviceID(r.DeviceID); err != nil {
		return err
	}
	for name, v := range map[string]*int{"happiness": r.Happiness, "hunger": r.Hunger, "health": r.Health} {
		if v != nil && (*v < PetStatMin || *v > PetStatMax) {
			return fmt.Errorf("%w: %s %d outside [%d, %d]", ErrValidation, name, *v, PetStatMin, PetStatMax)
		}
	}
	for name, v := range map[string]*int{"food": r.Food, "energy": r.Energy, "level": r.Level} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%w: %s must be non-negative", ErrValidation, name)
		}
	}
	if r.Level != nil && *r.Level > PetMaxLevel {
		return fmt.Errorf("%w: level %d exceeds %d", ErrValidation, *r.Level, PetMaxLevel)
	}
	return nil
}
