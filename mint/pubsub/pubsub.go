// Package pubsub is an in-process topic bus. The mint publishes quote
// state changes on it so waiting requests can return early.
package pubsub

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
)

// buffered so a slow subscriber does not stall publishers
const subscriberBuffer = 16

const (
	MintQuoteTopicPrefix = "mint_quote/"
	MeltQuoteTopicPrefix = "melt_quote/"
)

func MintQuoteTopic(quoteId string) string {
	return MintQuoteTopicPrefix + quoteId
}

func MeltQuoteTopic(quoteId string) string {
	return MeltQuoteTopicPrefix + quoteId
}

type Message struct {
	topic   string
	payload []byte
}

func NewMessage(msg []byte, topic string) *Message {
	return &Message{
		topic:   topic,
		payload: msg,
	}
}

func (m *Message) Topic() string {
	return m.topic
}

func (m *Message) Payload() []byte {
	return m.payload
}

type Subscribers map[string]*Subscriber

type PubSub struct {
	topics map[string]Subscribers
	closed bool
	mu     sync.RWMutex
}

func NewPubSub() *PubSub {
	return &PubSub{
		topics: make(map[string]Subscribers),
	}
}

func (b *PubSub) Subscribe(topic string) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := NewSubscriber()
	if b.closed {
		s.Close()
		return s
	}
	if b.topics[topic] == nil {
		b.topics[topic] = make(Subscribers)
	}
	b.topics[topic][s.id] = s
	return s
}

// Unsubscribe removes s from topic and closes it.
func (b *PubSub) Unsubscribe(s *Subscriber, topic string) {
	b.mu.Lock()
	delete(b.topics[topic], s.id)
	if len(b.topics[topic]) == 0 {
		delete(b.topics, topic)
	}
	b.mu.Unlock()

	s.Close()
}

// Publish delivers msg to every subscriber of topic. Subscribers whose
// buffer is full miss the message.
func (b *PubSub) Publish(topic string, msg []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	m := NewMessage(msg, topic)
	for _, s := range b.topics[topic] {
		s.signal(m)
	}
}

// Close closes every subscriber, releasing anyone waiting on a message.
// Later subscriptions are returned already closed.
func (b *PubSub) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, subscribers := range b.topics {
		for _, s := range subscribers {
			s.Close()
		}
	}
	b.topics = make(map[string]Subscribers)
	b.closed = true
}

func (b *PubSub) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

type Subscriber struct {
	id       string
	messages chan *Message
	active   bool
	mu       sync.Mutex
}

func NewSubscriber() *Subscriber {
	id := make([]byte, 16)
	rand.Read(id)

	return &Subscriber{
		id:       hex.EncodeToString(id),
		messages: make(chan *Message, subscriberBuffer),
		active:   true,
	}
}

func (s *Subscriber) signal(msg *Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return false
	}
	select {
	case s.messages <- msg:
		return true
	default:
		return false
	}
}

func (s *Subscriber) GetMessages() <-chan *Message {
	return s.messages
}

func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		s.active = false
		close(s.messages)
	}
}
