// Package eventbus provides the named-event publish/subscribe primitive
// shared by every stateful entity in Gray Mesh Core.
//
// Each Bus declares its event set at construction time. Subscribers are
// identified by the *Subscription handle returned from Subscribe, which
// carries optional per-subscription private data delivered alongside every
// event.
//
// # Fault Isolation
//
// A subscriber that returns an error (or panics) is logged and permanently
// removed from that event's subscriber set once the current delivery pass
// completes. Delivery to the remaining subscribers is unaffected and the
// failure never propagates to the publisher. This keeps a misbehaving
// observer from stalling packet ingestion.
//
// # Thread Safety
//
// The Bus is not safe for concurrent use. The ingestion core is
// single-writer by design: all publishes happen on the ingest loop's
// call stack, and subscriptions are expected to be registered before the
// loop starts or from within a subscriber callback on that same stack.
package eventbus
