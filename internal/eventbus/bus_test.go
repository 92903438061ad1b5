package eventbus

import (
	"errors"
	"testing"
)

func TestSubscribeUnknownEvent(t *testing.T) {
	bus := New("data_new")

	_, err := bus.Subscribe("no_such_event", func(Event) error { return nil }, nil)
	if !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
}

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	bus := New("data_new")

	var got []string
	for _, name := range []string{"a", "b", "c"} {
		name := name
		_, err := bus.Subscribe("data_new", func(ev Event) error {
			got = append(got, name)
			if ev.Type != "data_new" {
				t.Errorf("event type = %q, want data_new", ev.Type)
			}
			return nil
		}, nil)
		if err != nil {
			t.Fatalf("Subscribe(%s): %v", name, err)
		}
	}

	bus.Publish("data_new", "payload")

	if len(got) != 3 {
		t.Fatalf("delivered to %d subscribers, want 3", len(got))
	}
	for i, want := range []string{"a", "b", "c"} {
		if got[i] != want {
			t.Errorf("delivery order[%d] = %s, want %s", i, got[i], want)
		}
	}
}

func TestPublishCarriesPrivateData(t *testing.T) {
	bus := New("capability_new")

	var gotPrivate any
	_, err := bus.Subscribe("capability_new", func(ev Event) error {
		gotPrivate = ev.Private
		return nil
	}, "room:kitchen")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	bus.Publish("capability_new", nil)

	if gotPrivate != "room:kitchen" {
		t.Errorf("private data = %v, want room:kitchen", gotPrivate)
	}
}

func TestFailingSubscriberIsRevoked(t *testing.T) {
	bus := New("data_change")

	calls := 0
	_, err := bus.Subscribe("data_change", func(Event) error {
		calls++
		return errors.New("boom")
	}, nil)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	healthy := 0
	if _, err := bus.Subscribe("data_change", func(Event) error {
		healthy++
		return nil
	}, nil); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	bus.Publish("data_change", nil)
	bus.Publish("data_change", nil)

	if calls != 1 {
		t.Errorf("failing subscriber invoked %d times, want 1", calls)
	}
	if healthy != 2 {
		t.Errorf("healthy subscriber invoked %d times, want 2", healthy)
	}
	if n := bus.SubscriberCount("data_change"); n != 1 {
		t.Errorf("subscriber count = %d, want 1", n)
	}
}

func TestPanickingSubscriberIsRevoked(t *testing.T) {
	bus := New("data_new")

	if _, err := bus.Subscribe("data_new", func(Event) error {
		panic("subscriber bug")
	}, nil); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	survived := 0
	if _, err := bus.Subscribe("data_new", func(Event) error {
		survived++
		return nil
	}, nil); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	// Must not panic the publisher.
	bus.Publish("data_new", nil)
	bus.Publish("data_new", nil)

	if survived != 2 {
		t.Errorf("surviving subscriber invoked %d times, want 2", survived)
	}
	if n := bus.SubscriberCount("data_new"); n != 1 {
		t.Errorf("subscriber count = %d, want 1", n)
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := New("data_new", "data_change")

	calls := 0
	sub, err := bus.Subscribe("data_new", func(Event) error {
		calls++
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	bus.Unsubscribe(sub, "data_new")
	bus.Publish("data_new", nil)

	if calls != 0 {
		t.Errorf("unsubscribed callback invoked %d times, want 0", calls)
	}

	// Removing a pair that does not exist is a no-op.
	bus.Unsubscribe(sub, "data_change")
	bus.Unsubscribe(sub, "never_declared")
}

func TestUnsubscribeAll(t *testing.T) {
	bus := New("data_new", "data_change")

	calls := 0
	fn := func(Event) error {
		calls++
		return nil
	}
	sub, err := bus.Subscribe("data_new", fn, nil)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	// Same handle is only registered on one event; register a second
	// handle to verify UnsubscribeAll scans every event.
	sub2, err := bus.Subscribe("data_change", fn, nil)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	bus.UnsubscribeAll(sub)
	bus.UnsubscribeAll(sub2)

	bus.Publish("data_new", nil)
	bus.Publish("data_change", nil)

	if calls != 0 {
		t.Errorf("callbacks invoked %d times after UnsubscribeAll, want 0", calls)
	}
}

func TestPublishTo(t *testing.T) {
	bus := New("data_change_coarse")

	targetCalls := 0
	target, err := bus.Subscribe("data_change_coarse", func(Event) error {
		targetCalls++
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	otherCalls := 0
	if _, err := bus.Subscribe("data_change_coarse", func(Event) error {
		otherCalls++
		return nil
	}, nil); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	bus.PublishTo(target, "data_change_coarse", nil)

	if targetCalls != 1 {
		t.Errorf("target invoked %d times, want 1", targetCalls)
	}
	if otherCalls != 0 {
		t.Errorf("non-target invoked %d times, want 0", otherCalls)
	}

	// Targeted publish to a revoked subscription is a no-op.
	bus.Unsubscribe(target, "data_change_coarse")
	bus.PublishTo(target, "data_change_coarse", nil)
	if targetCalls != 1 {
		t.Errorf("revoked target invoked %d times, want 1", targetCalls)
	}
}

func TestSubscribeDuringPublishDoesNotInvalidateDelivery(t *testing.T) {
	bus := New("device_new")

	late := 0
	first := 0
	if _, err := bus.Subscribe("device_new", func(Event) error {
		first++
		_, subErr := bus.Subscribe("device_new", func(Event) error {
			late++
			return nil
		}, nil)
		return subErr
	}, nil); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	bus.Publish("device_new", nil)

	if first != 1 {
		t.Errorf("first subscriber invoked %d times, want 1", first)
	}
	// The late subscriber joined mid-publish and must not see the
	// in-flight event.
	if late != 0 {
		t.Errorf("late subscriber invoked %d times during first publish, want 0", late)
	}

	bus.Publish("device_new", nil)
	if late != 1 {
		t.Errorf("late subscriber invoked %d times after second publish, want 1", late)
	}
}
