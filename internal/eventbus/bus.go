package eventbus

import "fmt"

// Logger defines the logging interface used by the Bus.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Event is the record delivered to a subscriber on every publish.
// Payload is the typed, per-event-kind payload record; Private is the
// data the subscriber registered with (nil if none).
type Event struct {
	Type    string
	Payload any
	Private any
}

// Callback is the subscriber signature. Returning a non-nil error revokes
// the subscription for the event being delivered.
type Callback func(ev Event) error

// Subscription identifies a registered callback. Go functions are not
// comparable, so the handle returned by Subscribe is the identity used
// for unsubscription and for targeted publishes.
type Subscription struct {
	fn      Callback
	private any
}

// Bus is a named-event publish/subscribe primitive with per-subscription
// private data and fault isolation. The event set is fixed at
// construction; subscribing to an undeclared name fails.
type Bus struct {
	subs   map[string][]*Subscription
	logger Logger
}

// New creates a Bus that accepts exactly the given event names.
func New(eventNames ...string) *Bus {
	subs := make(map[string][]*Subscription, len(eventNames))
	for _, name := range eventNames {
		subs[name] = nil
	}
	return &Bus{
		subs:   subs,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the bus.
func (b *Bus) SetLogger(logger Logger) {
	b.logger = logger
}

// Declares reports whether the bus declares the given event name.
func (b *Bus) Declares(event string) bool {
	_, ok := b.subs[event]
	return ok
}

// Subscribe registers fn for the given event with optional private data.
// Returns ErrUnknownEvent if the event name was not declared.
func (b *Bus) Subscribe(event string, fn Callback, private any) (*Subscription, error) {
	if _, ok := b.subs[event]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, event)
	}
	sub := &Subscription{fn: fn, private: private}
	b.subs[event] = append(b.subs[event], sub)
	return sub, nil
}

// Unsubscribe removes the subscription from the given event.
// Removing a subscription that is not registered is a no-op.
func (b *Bus) Unsubscribe(sub *Subscription, event string) {
	list, ok := b.subs[event]
	if !ok {
		return
	}
	b.subs[event] = removeSub(list, sub)
}

// UnsubscribeAll removes the subscription from every event on the bus.
func (b *Bus) UnsubscribeAll(sub *Subscription) {
	for event := range b.subs {
		b.subs[event] = removeSub(b.subs[event], sub)
	}
}

// Subscribed reports whether sub is currently registered for the event.
func (b *Bus) Subscribed(sub *Subscription, event string) bool {
	for _, s := range b.subs[event] {
		if s == sub {
			return true
		}
	}
	return false
}

// SubscriberCount returns the number of live subscriptions for an event.
func (b *Bus) SubscriberCount(event string) int {
	return len(b.subs[event])
}

// Publish delivers payload to every current subscriber of the event.
// Subscribers that fail are logged and removed after the full delivery
// pass; their failure never reaches the publisher. Publishing an
// undeclared event is a no-op (the entity only publishes names it
// declared, so this is not an error path).
func (b *Bus) Publish(event string, payload any) {
	list, ok := b.subs[event]
	if !ok || len(list) == 0 {
		return
	}

	// Deliver over a snapshot: subscribers may subscribe or unsubscribe
	// from within their callback without invalidating this pass.
	snapshot := make([]*Subscription, len(list))
	copy(snapshot, list)

	var failed []*Subscription
	for _, sub := range snapshot {
		if err := b.deliver(sub, event, payload); err != nil {
			b.logger.Error("subscriber failed, revoking subscription",
				"event", event,
				"error", err,
			)
			failed = append(failed, sub)
		}
	}

	// Collect failures first, remove after the full iteration.
	for _, sub := range failed {
		b.subs[event] = removeSub(b.subs[event], sub)
	}
}

// PublishTo delivers payload to a single subscription only. Used by the
// coarse-change filter, which notifies one subscriber state machine at a
// time. The subscription must still be registered for the event;
// otherwise the publish is a no-op.
func (b *Bus) PublishTo(sub *Subscription, event string, payload any) {
	list, ok := b.subs[event]
	if !ok {
		return
	}
	registered := false
	for _, s := range list {
		if s == sub {
			registered = true
			break
		}
	}
	if !registered {
		return
	}

	if err := b.deliver(sub, event, payload); err != nil {
		b.logger.Error("subscriber failed, revoking subscription",
			"event", event,
			"error", err,
		)
		b.subs[event] = removeSub(b.subs[event], sub)
	}
}

// deliver invokes one subscription, converting a panic into an error so a
// crashing subscriber cannot take down the ingest loop.
func (b *Bus) deliver(sub *Subscription, event string, payload any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()

	return sub.fn(Event{
		Type:    event,
		Payload: payload,
		Private: sub.private,
	})
}

// removeSub returns list without sub, preserving order.
func removeSub(list []*Subscription, sub *Subscription) []*Subscription {
	for i, s := range list {
		if s == sub {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}
