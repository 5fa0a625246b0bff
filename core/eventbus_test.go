package core

import (
	"testing"

	"github.com/sirupsen/logrus"
)

func newLocalEventBus() *EventBus {
	return &EventBus{
		nodeID: "test-node",
		seen:   make(map[string]bool),
		log:    logrus.WithField("component", "eventbus-test"),
	}
}

func TestEventBusSubscribeAndEmit(t *testing.T) {
	eb := newLocalEventBus()
	ch := eb.Subscribe()

	eb.Emit(EventBlockAppended, "payload-1")

	select {
	case ev := <-ch:
		if ev.Kind != EventBlockAppended || ev.Data != "payload-1" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	default:
		t.Fatalf("expected an event to be delivered synchronously to the subscriber")
	}
}

func TestEventBusFanOutToMultipleSubscribers(t *testing.T) {
	eb := newLocalEventBus()
	ch1 := eb.Subscribe()
	ch2 := eb.Subscribe()

	eb.Emit(EventReorg, 42)

	for _, ch := range []<-chan DomainEvent{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.Kind != EventReorg {
				t.Fatalf("expected EventReorg, got %v", ev.Kind)
			}
		default:
			t.Fatalf("expected every subscriber to receive the emitted event")
		}
	}
}

func TestEventBusDropsWhenSubscriberChannelFull(t *testing.T) {
	eb := newLocalEventBus()
	ch := eb.Subscribe()

	for i := 0; i < 100; i++ {
		eb.Emit(EventContractStateChanged, i)
	}
	// Channel has fixed capacity 64; further emits must not block or panic.
	count := 0
	for {
		select {
		case <-ch:
			count++
			continue
		default:
		}
		break
	}
	if count == 0 || count > 64 {
		t.Fatalf("expected between 1 and 64 buffered events, got %d", count)
	}
}

func TestTypeToEventKindMapsBlock(t *testing.T) {
	if typeToEventKind(MsgBlock) != EventBlockAppended {
		t.Fatalf("expected MsgBlock to map to EventBlockAppended")
	}
	if typeToEventKind(MsgTransaction) != EventKind(MsgTransaction) {
		t.Fatalf("expected non-block types to pass through unchanged")
	}
}
