package device

import "time"

// RGBChannels is the decomposition of a packed 32-bit color value into
// its four 8-bit channels. The top byte carries the brightness level,
// the remaining three the color.
type RGBChannels struct {
	Brightness uint8 `json:"brightness"`
	Red        uint8 `json:"red"`
	Green      uint8 `json:"green"`
	Blue       uint8 `json:"blue"`
}

// Measurement is one immutable history entry for a capability: the raw
// wire value as received plus the type-specific derived value. Index 0 of
// a capability's history is the most recently inserted measurement
// (arrival order, not necessarily timestamp order).
type Measurement struct {
	// SourceDevice is the device that reported the value.
	SourceDevice *Device `json:"-"`

	// Quantity is the capability name (temperature, status, ...).
	Quantity string `json:"data_type"`

	// Unit is the display unit label for the derived value, if any.
	Unit string `json:"data_units,omitempty"`

	// Time is the capture timestamp, set when the packet was applied.
	Time time.Time `json:"update_time"`

	// RawValue is the wire value exactly as received.
	RawValue any `json:"raw_value"`

	// Value is the type-specific reinterpretation of RawValue. For
	// generic capabilities it equals RawValue.
	Value any `json:"value"`

	// Channels holds the decomposed color channels for rgb capabilities.
	Channels *RGBChannels `json:"channels,omitempty"`

	// ConversionFailed is set when the derivation hook could not parse
	// the raw value; Value then falls back to RawValue.
	ConversionFailed bool `json:"conversion_failed,omitempty"`
}
