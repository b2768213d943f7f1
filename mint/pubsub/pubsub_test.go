package pubsub

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	bus := NewPubSub()
	topic := MintQuoteTopic("quote-1")

	first := bus.Subscribe(topic)
	second := bus.Subscribe(topic)
	other := bus.Subscribe(MeltQuoteTopic("quote-1"))

	bus.Publish(topic, []byte("PAID"))

	for _, s := range []*Subscriber{first, second} {
		select {
		case msg := <-s.GetMessages():
			if string(msg.Payload()) != "PAID" {
				t.Fatalf("expected '%v' but got '%v'", "PAID", string(msg.Payload()))
			}
			if msg.Topic() != topic {
				t.Fatalf("expected '%v' but got '%v'", topic, msg.Topic())
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for message")
		}
	}

	select {
	case msg := <-other.GetMessages():
		t.Fatalf("expected no message on other topic but got '%v'", string(msg.Payload()))
	default:
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewPubSub()
	topic := MintQuoteTopic("quote-2")

	s := bus.Subscribe(topic)
	if bus.SubscriberCount(topic) != 1 {
		t.Fatalf("expected '%v' but got '%v'", 1, bus.SubscriberCount(topic))
	}

	bus.Unsubscribe(s, topic)
	if bus.SubscriberCount(topic) != 0 {
		t.Fatalf("expected '%v' but got '%v'", 0, bus.SubscriberCount(topic))
	}
	if _, ok := <-s.GetMessages(); ok {
		t.Fatal("expected closed subscriber channel")
	}

	// publishing to a topic without subscribers and closing twice are no-ops
	bus.Publish(topic, []byte("PAID"))
	s.Close()
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	bus := NewPubSub()
	topic := MintQuoteTopic("quote-3")
	s := bus.Subscribe(topic)

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			bus.Publish(topic, []byte("update"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on full subscriber")
	}

	if len(s.GetMessages()) != subscriberBuffer {
		t.Fatalf("expected '%v' buffered messages but got '%v'", subscriberBuffer, len(s.GetMessages()))
	}
}

func TestClose(t *testing.T) {
	bus := NewPubSub()
	topic := MintQuoteTopic("quote-4")
	s := bus.Subscribe(topic)

	released := make(chan struct{})
	go func() {
		<-s.GetMessages()
		close(released)
	}()

	bus.Close()
	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("subscriber was not released on close")
	}
	if bus.SubscriberCount(topic) != 0 {
		t.Fatalf("expected '%v' but got '%v'", 0, bus.SubscriberCount(topic))
	}

	late := bus.Subscribe(topic)
	if _, ok := <-late.GetMessages(); ok {
		t.Fatal("expected subscription after close to be closed")
	}

	// unsubscribing and publishing after close are no-ops
	bus.Unsubscribe(s, topic)
	bus.Publish(topic, []byte("PAID"))
}
