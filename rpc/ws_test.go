package rpc

import (
	"math/big"
	"testing"

	"ordervault/native/escrow"
)

func TestEventHubFanOut(t *testing.T) {
	hub := newEventHub()
	ch, cancel := hub.subscribe()
	defer cancel()

	buyer := [20]byte{0x01}
	hub.Emit(escrow.OrderMade{Buyer: buyer, Amount: big.NewInt(100), Expiration: testNow + 3600})

	select {
	case evt := <-ch:
		if evt.Type != escrow.TypeOrderMade {
			t.Fatalf("unexpected event type %s", evt.Type)
		}
		if evt.Attributes["amount"] != "100" {
			t.Fatalf("unexpected amount attribute %q", evt.Attributes["amount"])
		}
	default:
		t.Fatalf("expected buffered event")
	}
}

func TestEventHubDropsStalledSubscribers(t *testing.T) {
	hub := newEventHub()
	ch, cancel := hub.subscribe()
	defer cancel()

	buyer := [20]byte{0x02}
	for i := 0; i <= wsSubscriberDepth; i++ {
		hub.Emit(escrow.OrderMade{Buyer: buyer, Amount: big.NewInt(1), Expiration: testNow + 3600})
	}

	// The overflowing emit closes the channel instead of blocking.
	drained := 0
	for range ch {
		drained++
	}
	if drained != wsSubscriberDepth {
		t.Fatalf("expected %d buffered events, got %d", wsSubscriberDepth, drained)
	}
}
