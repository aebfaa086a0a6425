package types

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validStepRequest() StepDataRequest {
	return StepDataRequest{
		Type:            MsgStepData,
		DeviceID:        "device-001",
		StepCount:       1000,
		Timestamp:       1700000000000,
		FirmwareVersion: 1,
		BatteryPercent:  80,
		RawAccSamples:   [][3]float64{{0, 0, 9.81}},
		Signature:       "0x" + strings.Repeat("ab", 64),
	}
}

func TestValidateDeviceID(t *testing.T) {
	require.NoError(t, ValidateDeviceID("d1"))
	require.ErrorIs(t, ValidateDeviceID(""), ErrValidation)
	require.ErrorIs(t, ValidateDeviceID(strings.Repeat("x", MaxDeviceIDLen+1)), ErrValidation)
}

func TestRegisterRequestValidate(t *testing.T) {
	valid := RegisterRequest{DeviceID: "d1", PublicKey: "0x" + strings.Repeat("ab", 32)}
	require.NoError(t, valid.Validate())

	cases := []struct {
		name string
		mut  func(*RegisterRequest)
	}{
		{"empty device id", func(r *RegisterRequest) { r.DeviceID = "" }},
		{"key too short", func(r *RegisterRequest) { r.PublicKey = "0xabcd" }},
		{"missing prefix", func(r *RegisterRequest) { r.PublicKey = strings.Repeat("ab", 33) }},
		{"uppercase hex", func(r *RegisterRequest) { r.PublicKey = "0x" + strings.Repeat("AB", 32) }},
		{"non-hex", func(r *RegisterRequest) { r.PublicKey = "0x" + strings.Repeat("zz", 32) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := valid
			tc.mut(&r)
			require.ErrorIs(t, r.Validate(), ErrValidation)
		})
	}
}

func TestStepDataRequestValidate(t *testing.T) {
	require.NoError(t, func() error { r := validStepRequest(); return r.Validate() }())

	cases := []struct {
		name string
		mut  func(*StepDataRequest)
	}{
		{"zero steps", func(r *StepDataRequest) { r.StepCount = 0 }},
		{"negative steps", func(r *StepDataRequest) { r.StepCount = -5 }},
		{"steps above cap", func(r *StepDataRequest) { r.StepCount = MaxStepCount + 1 }},
		{"battery above 100", func(r *StepDataRequest) { r.BatteryPercent = 101 }},
		{"battery negative", func(r *StepDataRequest) { r.BatteryPercent = -1 }},
		{"negative firmware", func(r *StepDataRequest) { r.FirmwareVersion = -1 }},
		{"too many samples", func(r *StepDataRequest) { r.RawAccSamples = make([][3]float64, MaxAccSamples+1) }},
		{"zero timestamp", func(r *StepDataRequest) { r.Timestamp = 0 }},
		{"short signature", func(r *StepDataRequest) { r.Signature = "0xabcd" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := validStepRequest()
			tc.mut(&r)
			require.ErrorIs(t, r.Validate(), ErrValidation)
		})
	}
}

func TestValidateTimestampWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, ValidateTimestamp(now.UnixMilli(), now))
	require.NoError(t, ValidateTimestamp(now.Add(-MaxTimestampAge+time.Minute).UnixMilli(), now))
	require.NoError(t, ValidateTimestamp(now.Add(MaxTimestampFuture-time.Second).UnixMilli(), now))

	require.ErrorIs(t, ValidateTimestamp(now.Add(-MaxTimestampAge-time.Minute).UnixMilli(), now), ErrTemporal)
	require.ErrorIs(t, ValidateTimestamp(now.Add(MaxTimestampFuture+time.Minute).UnixMilli(), now), ErrTemporal)
}

func TestClaimResourcesRequestValidate(t *testing.T) {
	r := ClaimResourcesRequest{DeviceID: "d1", Steps: 100}
	require.NoError(t, r.Validate())
	r.Steps = 99
	require.ErrorIs(t, r.Validate(), ErrValidation)
}

func TestUpdatePetRequestValidate(t *testing.T) {
	intp := func(v int) *int { return &v }

	r := UpdatePetRequest{DeviceID: "d1", Happiness: intp(70), Level: intp(2)}
	require.NoError(t, r.Validate())

	r = UpdatePetRequest{DeviceID: "d1", Hunger: intp(101)}
	require.ErrorIs(t, r.Validate(), ErrValidation)

	r = UpdatePetRequest{DeviceID: "d1", Food: intp(-1)}
	require.ErrorIs(t, r.Validate(), ErrValidation)

	r = UpdatePetRequest{DeviceID: "d1", Level: intp(PetMaxLevel + 1)}
	require.ErrorIs(t, r.Validate(), ErrValidation)
}
