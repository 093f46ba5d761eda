package host

import (
	"testing"
	"time"

	"github.com/timewarden/pluginhost/sdk"
)

func recvEvent(t *testing.T, sub sdk.Subscription) sdk.Event {
	t.Helper()
	select {
	case ev := <-sub.C():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return sdk.Event{}
	}
}

func TestBusDeliversToMatchingSubscribers(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	activities := bus.Subscribe(sdk.EventActivityRecorded)
	all := bus.Subscribe()
	categories := bus.Subscribe(sdk.EventCategoryCreated)

	bus.Publish(sdk.Event{Kind: sdk.EventActivityRecorded, Activity: &sdk.Activity{ID: 7}})

	ev := recvEvent(t, activities)
	if ev.Activity == nil || ev.Activity.ID != 7 {
		t.Errorf("unexpected event payload: %+v", ev)
	}
	if ev = recvEvent(t, all); ev.Kind != sdk.EventActivityRecorded {
		t.Errorf("all-kinds subscriber got %q", ev.Kind)
	}
	select {
	case ev := <-categories.C():
		t.Errorf("category subscriber received %q", ev.Kind)
	default:
	}
}

func TestBusCancelStopsDelivery(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	sub := bus.Subscribe(sdk.EventActivityRecorded)
	sub.Cancel()
	sub.Cancel() // safe to repeat

	bus.Publish(sdk.Event{Kind: sdk.EventActivityRecorded})

	// The channel is closed, not fed.
	if _, ok := <-sub.C(); ok {
		t.Error("received event after Cancel")
	}
}

func TestBusDropsWhenSubscriberIsFull(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	sub := bus.Subscribe(sdk.EventActivityRecorded)
	for i := 0; i < defaultQueueSize+10; i++ {
		bus.Publish(sdk.Event{Kind: sdk.EventActivityRecorded, Activity: &sdk.Activity{ID: int64(i)}})
	}

	// The queue holds exactly its capacity; the overflow was dropped and the
	// publisher never blocked.
	received := 0
	for {
		select {
		case <-sub.C():
			received++
		default:
			if received != defaultQueueSize {
				t.Errorf("received %d events, want %d", received, defaultQueueSize)
			}
			return
		}
	}
}

func TestBusCloseIsTerminal(t *testing.T) {
	bus := NewBus(nil)

	sub := bus.Subscribe()
	bus.Close()
	bus.Close() // idempotent

	if _, ok := <-sub.C(); ok {
		t.Error("subscription channel open after Close")
	}

	// Late subscribers see a closed channel immediately.
	late := bus.Subscribe()
	if _, ok := <-late.C(); ok {
		t.Error("late subscription channel open after Close")
	}

	// Publish after Close must not panic.
	bus.Publish(sdk.Event{Kind: sdk.EventActivityRecorded})
}
