package device

import (
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/nerrad567/gray-mesh-core/internal/eventbus"
)

// DefaultHistoryDepth is the measurement history bound used when the
// registry is not configured with an explicit depth.
const DefaultHistoryDepth = 10

// coarsePassThroughPrecision is the threshold at or below which a
// coarse-change registration is additionally subscribed to the plain
// data_change event. At that resolution the drift filter passes nearly
// every change anyway, so subscribers get the unfiltered stream too.
// Kept for compatibility with existing consumers.
const coarsePassThroughPrecision = 0.01

// deriveFunc rewrites a measurement's derived value in place. It runs
// after the measurement is inserted into history and before data_new.
type deriveFunc func(c *CapabilityData, m *Measurement)

// changeFunc runs on every update, after data_new and before any
// data_change publish. Numeric capabilities use it to drive the
// coarse-change filter.
type changeFunc func(c *CapabilityData, m *Measurement, prev *Measurement)

// coarseState is the per-subscriber drift-filter state. Each coarse
// subscriber tracks its own last-notified value; there is no single
// global "last significant value". passThrough holds the extra
// data_change registration made for low-precision subscribers so
// Unsubscribe can remove it together with the coarse one.
type coarseState struct {
	precision   float64
	notified    bool
	lastValue   float64
	lastMeas    *Measurement
	passThrough *eventbus.Subscription
}

// CapabilityData owns the bounded measurement history for one
// (device, quantity) pair and derives typed values from raw wire values.
// It emits data_new on every update, data_change when the raw value
// actually changed, and data_change_coarse per drift-filter subscriber.
type CapabilityData struct {
	device   *Device
	quantity string
	unit     string

	depth   int
	history []*Measurement // newest first

	derive deriveFunc
	change changeFunc

	// knownValues is the growing value set for status capabilities.
	// Unknown values are admitted with a warning, never rejected.
	knownValues map[string]struct{}

	bus         *eventbus.Bus
	coarse      map[*eventbus.Subscription]*coarseState
	coarseOrder []*eventbus.Subscription

	logger Logger
}

// Quantity returns the capability name.
func (c *CapabilityData) Quantity() string {
	return c.quantity
}

// Unit returns the display unit label for derived values.
func (c *CapabilityData) Unit() string {
	return c.unit
}

// Device returns the owning device.
func (c *CapabilityData) Device() *Device {
	return c.device
}

// Depth returns the configured history bound.
func (c *CapabilityData) Depth() int {
	return c.depth
}

// HistoryLen returns the current number of stored measurements.
func (c *CapabilityData) HistoryLen() int {
	return len(c.history)
}

// Update ingests one raw wire value: builds a measurement, bounds the
// history, derives the typed value, then publishes data_new and, when the
// raw value differs from the immediately prior one (or this is the first
// measurement), data_change. The coarse filter is evaluated on every
// update, before any data_change publish.
func (c *CapabilityData) Update(raw any) {
	m := &Measurement{
		SourceDevice: c.device,
		Quantity:     c.quantity,
		Unit:         c.unit,
		Time:         time.Now(),
		RawValue:     raw,
		Value:        raw,
	}

	c.history = append([]*Measurement{m}, c.history...)
	if len(c.history) > c.depth {
		c.history = c.history[:c.depth]
	}

	if c.derive != nil {
		c.derive(c, m)
	}

	c.bus.Publish(EventDataNew, DataNew{
		DataObj:      c,
		Value:        m.Value,
		EventType:    EventDataNew,
		Measurement:  m,
		SourceDevice: c.device,
	})

	var prev *Measurement
	if len(c.history) >= 2 {
		prev = c.history[1]
	}

	// The change hook runs even when the raw value repeats: a coarse
	// subscriber with no baseline yet must still get its immediate first
	// notification. Baselined subscribers are unaffected, since an
	// unchanged raw value cannot leave their band.
	if c.change != nil {
		c.change(c, m, prev)
	}

	if prev != nil && rawEqual(m.RawValue, prev.RawValue) {
		return
	}

	c.bus.Publish(EventDataChange, DataChange{
		DataObj:        c,
		Value:          m.Value,
		EventType:      EventDataChange,
		NewMeasurement: m,
		OldMeasurement: prev,
		SourceDevice:   c.device,
	})
}

// Value returns the derived value at the given history index (0 = most
// recent). The second return is false when the index is out of range;
// out-of-range access never panics.
func (c *CapabilityData) Value(index int) (any, bool) {
	m, ok := c.MeasurementAt(index)
	if !ok {
		return nil, false
	}
	return m.Value, true
}

// LastValue returns the most recent derived value, or (nil, false) when
// no measurement has been recorded yet.
func (c *CapabilityData) LastValue() (any, bool) {
	return c.Value(0)
}

// MeasurementAt returns the history entry at the given index (0 = most
// recent), or (nil, false) when the index is out of range.
func (c *CapabilityData) MeasurementAt(index int) (*Measurement, bool) {
	if index < 0 || index >= len(c.history) {
		return nil, false
	}
	return c.history[index], true
}

// Subscribe registers fn for data_new or data_change.
// Coarse-change subscribers register through RegisterCoarse instead.
func (c *CapabilityData) Subscribe(event string, fn eventbus.Callback, private any) (*eventbus.Subscription, error) {
	return c.bus.Subscribe(event, fn, private)
}

// Unsubscribe removes the subscription from the given event, or from all
// capability events when event is EventAll.
func (c *CapabilityData) Unsubscribe(sub *eventbus.Subscription, event string) {
	unsubscribe(c.bus, sub, event)
	if event == EventAll || event == EventDataChangeCoarse {
		c.dropCoarseState(sub)
	}
}

// RegisterCoarse registers a drift-filtered change subscriber. The
// subscriber is notified only when the derived value has moved more than
// precision away from the value at its own previous notification.
// Precision must be a positive number.
//
// Registrations at or below 0.01 are additionally subscribed to the plain
// data_change event as an independent registration (see
// coarsePassThroughPrecision).
func (c *CapabilityData) RegisterCoarse(fn eventbus.Callback, precision float64, private any) (*eventbus.Subscription, error) {
	if math.IsNaN(precision) || precision <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrecision, precision)
	}

	sub, err := c.bus.Subscribe(EventDataChangeCoarse, fn, private)
	if err != nil {
		return nil, err
	}
	st := &coarseState{precision: precision}
	c.coarse[sub] = st
	c.coarseOrder = append(c.coarseOrder, sub)

	if precision <= coarsePassThroughPrecision {
		pt, err := c.bus.Subscribe(EventDataChange, fn, private)
		if err != nil {
			c.bus.Unsubscribe(sub, EventDataChangeCoarse)
			c.dropCoarseState(sub)
			return nil, err
		}
		st.passThrough = pt
	}

	return sub, nil
}

// SupportsCoarse reports whether this capability publishes the
// drift-filtered coarse-change stream. Only numeric capabilities do.
func (c *CapabilityData) SupportsCoarse() bool {
	return c.bus.Declares(EventDataChangeCoarse)
}

// evaluateCoarse is the numeric change hook. For each coarse subscriber:
// no prior notification means notify immediately and record the baseline;
// otherwise the previous baseline is rounded to the nearest multiple of
// the subscriber's precision and the subscriber is notified (and the
// baseline moved) only when the current value falls strictly outside
// [rounded-precision, rounded+precision].
func evaluateCoarse(c *CapabilityData, m *Measurement, _ *Measurement) {
	if len(c.coarseOrder) == 0 {
		return
	}

	value, err := numericValue(m.Value)
	if err != nil {
		return
	}

	snapshot := make([]*eventbus.Subscription, len(c.coarseOrder))
	copy(snapshot, c.coarseOrder)

	for _, sub := range snapshot {
		st, ok := c.coarse[sub]
		if !ok {
			continue
		}

		if st.notified {
			rounded := math.Round(st.lastValue/st.precision) * st.precision
			if value >= rounded-st.precision && value <= rounded+st.precision {
				continue
			}
		}

		old := st.lastMeas
		st.notified = true
		st.lastValue = value
		st.lastMeas = m

		c.bus.PublishTo(sub, EventDataChangeCoarse, DataChangeCoarse{
			SourceDevice:   c.device,
			DataObj:        c,
			Precision:      st.precision,
			Value:          value,
			NewMeasurement: m,
			OldMeasurement: old,
			EventType:      EventDataChangeCoarse,
		})

		// A failing subscriber was revoked by the bus during PublishTo;
		// its filter state goes with it.
		if !c.bus.Subscribed(sub, EventDataChangeCoarse) {
			c.dropCoarseState(sub)
		}
	}
}

// dropCoarseState removes the per-subscriber filter state for sub,
// including any pass-through data_change registration made for it.
func (c *CapabilityData) dropCoarseState(sub *eventbus.Subscription) {
	if st, ok := c.coarse[sub]; ok && st.passThrough != nil {
		c.bus.Unsubscribe(st.passThrough, EventDataChange)
	}
	delete(c.coarse, sub)
	for i, s := range c.coarseOrder {
		if s == sub {
			c.coarseOrder = append(c.coarseOrder[:i:i], c.coarseOrder[i+1:]...)
			break
		}
	}
}

// rawEqual compares two raw wire values. Raw values are JSON scalars in
// practice, but DeepEqual keeps the comparison safe for nested payloads.
func rawEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
