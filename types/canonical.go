package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// canonicalStepKeys is the signed attribute set in lexicographic byte order.
// This order is fixed by the device firmware; changing it invalidates every
// signature in the field.
var canonicalStepKeys = [...]string{
	"batteryPercent",
	"deviceId",
	"firmwareVersion",
	"rawAccSamples",
	"stepCount",
	"timestamp",
}

// StepPayload is the signed portion of a step_data frame.
type StepPayload struct {
	DeviceID        string       `json:"deviceId"`
	StepCount       int          `json:"stepCount"`
	Timestamp       int64        `json:"timestamp"` // device clock, Unix milliseconds
	FirmwareVersion int          `json:"firmwareVersion"`
	BatteryPercent  int          `json:"batteryPercent"`
	RawAccSamples   [][3]float64 `json:"rawAccSamples"`
}

// canonicalStepPayload pins the JSON field order to canonicalStepKeys.
// encoding/json serializes struct fields in declaration order, so the
// declaration order below IS the canonical order.
type canonicalStepPayload struct {
	BatteryPercent  int          `json:"batteryPercent"`
	DeviceID        string       `json:"deviceId"`
	FirmwareVersion int          `json:"firmwareVersion"`
	RawAccSamples   [][3]float64 `json:"rawAccSamples"`
	StepCount       int          `json:"stepCount"`
	Timestamp       int64        `json:"timestamp"`
}

// CanonicalJSON returns the canonical signing form of the payload: a compact
// UTF-8 JSON object with keys in sorted order and floats in Go's shortest
// round-trip form.
//
// INVARIANT: two calls on an unmodified payload return identical bytes.
//
// This is the signing-side encoder, used by tests and Go-based devices. The
// verify path does not use it; see CanonicalStepJSON.
func (p *StepPayload) CanonicalJSON() ([]byte, error) {
	return json.Marshal(&canonicalStepPayload{
		BatteryPercent:  p.BatteryPercent,
		DeviceID:        p.DeviceID,
		FirmwareVersion: p.FirmwareVersion,
		RawAccSamples:   p.RawAccSamples,
		StepCount:       p.StepCount,
		Timestamp:       p.Timestamp,
	})
}

// CanonicalStepJSON rebuilds the signed byte sequence from the raw received
// field values of a step_data frame.
//
// The verifier must reproduce the device's serialization bit-for-bit, and
// re-encoding floats risks a formatting mismatch. The device serializes the
// signed fields into the outer frame from the same document it signed, so
// splicing the received value bytes in sorted key order reproduces the
// signed form exactly. Only insignificant whitespace is stripped.
func CanonicalStepJSON(fields map[string]json.RawMessage) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range canonicalStepKeys {
		raw, ok := fields[key]
		if !ok {
			return nil, fmt.Errorf("%w: missing field %q", ErrValidation, key)
		}
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('"')
		buf.WriteString(key)
		buf.WriteString(`":`)
		if err := json.Compact(&buf, raw); err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrValidation, key, err)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
