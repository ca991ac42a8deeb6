package broker

import (
	"errors"
	"fmt"
)

// Subscription errors surfaced to the client as inline notifications.
var (
	ErrInvalidTopic           = errors.New("invalid topic")
	ErrInvalidSymbol          = errors.New("invalid symbol")
	ErrAuthenticationRequired = errors.New("authentication required to subscribe to this topic")
)

// Topic is a stream category. Behavior (public vs private, cached vs
// uncached) hangs off the topic value so the subscribe, unsubscribe, and
// dispatch paths cannot drift apart.
type Topic int

const (
	TopicOrderbook Topic = iota
	TopicTrade
	TopicOrder
	TopicWallet
)

var topicNames = map[Topic]string{
	TopicOrderbook: "orderbook",
	TopicTrade:     "trade",
	TopicOrder:     "order",
	TopicWallet:    "wallet",
}

var topicsByName = map[string]Topic{
	"orderbook": TopicOrderbook,
	"trade":     TopicTrade,
	"order":     TopicOrder,
	"wallet":    TopicWallet,
}

// ParseTopic resolves a topic name. Unknown names fail with
// ErrInvalidTopic carrying the offending name.
func ParseTopic(name string) (Topic, error) {
	t, ok := topicsByName[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrInvalidTopic, name)
	}
	return t, nil
}

// String returns the topic's wire name.
func (t Topic) String() string {
	return topicNames[t]
}

// Private reports whether the topic requires authentication and is scoped
// by network ID rather than symbol.
func (t Topic) Private() bool {
	return t == TopicOrder || t == TopicWallet
}

// Cached reports whether the topic keeps a public snapshot for replay.
func (t Topic) Cached() bool {
	return t == TopicOrderbook || t == TopicTrade
}

// PrivateTopics lists the topics scoped by network ID, in cleanup order.
var PrivateTopics = []Topic{TopicOrder, TopicWallet}

// BroadcastTopics lists the public, symbol-scoped topics.
var BroadcastTopics = []Topic{TopicOrderbook, TopicTrade}
