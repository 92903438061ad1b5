package device

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nerrad567/gray-mesh-core/internal/eventbus"
)

// Capability names seen on the wire.
const (
	CapTemperature  = "temperature"
	CapPressure     = "pressure"
	CapHumidity     = "humidity"
	CapVoltage      = "voltage"
	CapStatus       = "status"
	CapLux          = "lux"
	CapNoMotion     = "no_motion"
	CapRotate       = "rotate"
	CapIP           = "ip"
	CapIllumination = "illumination"
	CapRGB          = "rgb"
)

// Voltage derivation constants: battery millivolt readings are mapped
// onto a percentage over the usable 2700-3100 mV band. The result is
// deliberately not clamped to [0,100]; fresh cells read above 100.
const (
	voltageEmptyMV = 2700.0
	voltageFullMV  = 3100.0
)

// Kind selects the device variant family.
type Kind string

// Kind constants.
const (
	KindSensor  Kind = "sensor"
	KindGateway Kind = "gateway"
)

// Profile is the data-only specialization selected from the wire model
// tag. The declared capability set is advisory: it feeds the registry's
// secondary indices and does not prevent additional capabilities from
// being discovered on demand.
type Profile struct {
	Model        string
	Kind         Kind
	Capabilities []string
}

// modelProfiles is the device factory dispatch table: wire model tag to
// concrete variant. Unrecognized models fall back to a generic sensing
// profile (see profileFor).
var modelProfiles = map[string]Profile{
	"weather.v1": {Kind: KindSensor, Capabilities: []string{CapTemperature, CapPressure, CapHumidity, CapVoltage}},
	"weather.v2": {Kind: KindSensor, Capabilities: []string{CapTemperature, CapPressure, CapHumidity, CapVoltage}},

	"magnet":            {Kind: KindSensor, Capabilities: []string{CapStatus, CapVoltage}},
	"sensor_magnet.aq2": {Kind: KindSensor, Capabilities: []string{CapStatus, CapVoltage}},

	"motion":            {Kind: KindSensor, Capabilities: []string{CapLux, CapStatus, CapNoMotion, CapVoltage}},
	"sensor_motion.aq2": {Kind: KindSensor, Capabilities: []string{CapLux, CapStatus, CapNoMotion, CapVoltage}},

	"switch":            {Kind: KindSensor, Capabilities: []string{CapStatus, CapVoltage}},
	"sensor_switch.aq2": {Kind: KindSensor, Capabilities: []string{CapStatus, CapVoltage}},

	"cube": {Kind: KindSensor, Capabilities: []string{CapStatus, CapVoltage, CapRotate}},

	"gateway":    {Kind: KindGateway, Capabilities: []string{CapIP, CapIllumination, CapRGB}},
	"gateway.v3": {Kind: KindGateway, Capabilities: []string{CapIP, CapIllumination, CapRGB}},
}

// profileFor resolves a wire model tag to its variant profile. The second
// return is false for unrecognized models, which receive the generic
// sensing profile; the caller decides whether to warn.
func profileFor(model string) (Profile, bool) {
	p, ok := modelProfiles[model]
	p.Model = model
	if !ok {
		p.Kind = KindSensor
	}
	return p, ok
}

// statusValues is the per-model seed of known status values. The sets
// grow at runtime: a value never seen before is admitted with a warning,
// not rejected (soft schema evolution).
var statusValues = map[string][]string{
	"switch":            {"click", "double_click", "long_click_press", "long_click_release"},
	"sensor_switch.aq2": {"click", "double_click", "long_click_press", "long_click_release"},
	"magnet":            {"open", "close"},
	"sensor_magnet.aq2": {"open", "close"},
	"motion":            {"motion"},
	"sensor_motion.aq2": {"motion"},
	"cube":              {"flip90", "flip180", "move", "tap_twice", "shake_air", "swing", "alert", "free_fall"},
}

// capabilitySpec describes the concrete capability shape chosen by the
// capability factory.
type capabilitySpec struct {
	unit    string
	numeric bool
	derive  deriveFunc
	change  changeFunc
}

// capabilityFor is the capability factory dispatch table, keyed by
// capability name with the device model as secondary context (status
// value sets vary per model). The choice is made once, at first
// appearance of the capability for the device, and is stable thereafter.
func capabilityFor(name, model string) capabilitySpec {
	switch name {
	case CapTemperature:
		return capabilitySpec{unit: "°C", numeric: true, derive: deriveWeather, change: evaluateCoarse}
	case CapPressure:
		return capabilitySpec{unit: "hPa", numeric: true, derive: deriveWeather, change: evaluateCoarse}
	case CapHumidity:
		return capabilitySpec{unit: "%", numeric: true, derive: deriveWeather, change: evaluateCoarse}
	case CapVoltage:
		return capabilitySpec{unit: "%", numeric: true, derive: deriveVoltage, change: evaluateCoarse}
	case CapRotate:
		return capabilitySpec{unit: "°", numeric: true, derive: deriveRotation, change: evaluateCoarse}
	case CapLux, CapIllumination, CapNoMotion:
		return capabilitySpec{numeric: true, derive: deriveNumeric, change: evaluateCoarse}
	case CapRGB:
		return capabilitySpec{numeric: true, derive: deriveRGB, change: evaluateCoarse}
	case CapStatus:
		return capabilitySpec{derive: deriveStatus(statusValues[model])}
	default:
		// Unknown capability: generic pass-through holder.
		return capabilitySpec{}
	}
}

// NewCapabilityData builds a standalone capability data holder. The
// registry path goes through newCapabilityData with a pre-validated
// depth; this constructor is for direct library use.
func NewCapabilityData(d *Device, name string, depth int) (*CapabilityData, error) {
	if depth < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDepth, depth)
	}
	return newCapabilityData(d, name, depth), nil
}

// newCapabilityData runs the capability factory for (name, device model)
// and wires the holder's event bus. Numeric capabilities declare the
// coarse-change event; registering a coarse subscriber on a non-numeric
// capability fails with the bus's unknown-event error.
func newCapabilityData(d *Device, name string, depth int) *CapabilityData {
	spec := capabilityFor(name, d.Model)

	events := []string{EventDataNew, EventDataChange}
	if spec.numeric {
		events = append(events, EventDataChangeCoarse)
	}

	c := &CapabilityData{
		device:   d,
		quantity: name,
		unit:     spec.unit,
		depth:    depth,
		derive:   spec.derive,
		change:   spec.change,
		bus:      newBus(d.logger, events...),
		coarse:   make(map[*eventbus.Subscription]*coarseState),
		logger:   d.logger,
	}

	if spec.derive == nil && name != CapIP {
		d.logger.Warn("unknown capability, using generic holder",
			"sid", d.SID,
			"model", d.Model,
			"capability", name,
		)
	}

	return c
}

// numericValue converts a raw or derived value to float64. Wire values
// arrive as JSON numbers or numeric strings.
func numericValue(v any) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case float32:
		return float64(val), nil
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case uint32:
		return float64(val), nil
	case string:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("parsing %q: %w", val, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("non-numeric value %T", v)
	}
}

// deriveNumeric parses the raw value as a floating-point number.
func deriveNumeric(c *CapabilityData, m *Measurement) {
	f, err := numericValue(m.RawValue)
	if err != nil {
		m.ConversionFailed = true
		c.logger.Warn("numeric conversion failed",
			"capability", c.quantity, "raw", m.RawValue, "error", err)
		return
	}
	m.Value = f
}

// deriveWeather scales centi-unit wire values (temperature, pressure,
// humidity) down by 100.
func deriveWeather(c *CapabilityData, m *Measurement) {
	f, err := numericValue(m.RawValue)
	if err != nil {
		m.ConversionFailed = true
		c.logger.Warn("weather conversion failed",
			"capability", c.quantity, "raw", m.RawValue, "error", err)
		return
	}
	m.Value = f / 100.0
}

// deriveVoltage maps a battery millivolt reading onto a percentage of
// the usable band. Not clamped: values above 100 indicate a fresh cell.
func deriveVoltage(c *CapabilityData, m *Measurement) {
	f, err := numericValue(m.RawValue)
	if err != nil {
		m.ConversionFailed = true
		c.logger.Warn("voltage conversion failed",
			"capability", c.quantity, "raw", m.RawValue, "error", err)
		return
	}
	m.Value = 100.0 * (f - voltageEmptyMV) / (voltageFullMV - voltageEmptyMV)
}

// deriveRotation parses a rotation angle, normalizing the decimal comma
// some firmware revisions emit.
func deriveRotation(c *CapabilityData, m *Measurement) {
	raw := m.RawValue
	if s, ok := raw.(string); ok {
		raw = strings.ReplaceAll(s, ",", ".")
	}
	f, err := numericValue(raw)
	if err != nil {
		m.ConversionFailed = true
		c.logger.Warn("rotation conversion failed",
			"capability", c.quantity, "raw", m.RawValue, "error", err)
		return
	}
	m.Value = f
}

// deriveRGB unpacks a 32-bit color value into brightness and color
// channels at bit offsets 24/16/8/0.
func deriveRGB(c *CapabilityData, m *Measurement) {
	f, err := numericValue(m.RawValue)
	if err != nil {
		m.ConversionFailed = true
		c.logger.Warn("rgb conversion failed",
			"capability", c.quantity, "raw", m.RawValue, "error", err)
		return
	}
	packed := uint32(f)
	m.Value = float64(packed)
	m.Channels = &RGBChannels{
		Brightness: uint8(packed >> 24 & 0xFF),
		Red:        uint8(packed >> 16 & 0xFF),
		Green:      uint8(packed >> 8 & 0xFF),
		Blue:       uint8(packed & 0xFF),
	}
}

// deriveStatus builds the status hook for an enum capability: the value
// passes through unchanged, and values outside the known set grow the
// set with a warning rather than being rejected.
func deriveStatus(seed []string) deriveFunc {
	return func(c *CapabilityData, m *Measurement) {
		if c.knownValues == nil {
			c.knownValues = make(map[string]struct{}, len(seed))
			for _, v := range seed {
				c.knownValues[v] = struct{}{}
			}
		}

		s, ok := m.RawValue.(string)
		if !ok {
			s = fmt.Sprintf("%v", m.RawValue)
		}
		if _, known := c.knownValues[s]; !known {
			c.knownValues[s] = struct{}{}
			c.logger.Warn("unknown status value admitted",
				"sid", c.device.SID,
				"model", c.device.Model,
				"capability", c.quantity,
				"value", s,
			)
		}
	}
}
