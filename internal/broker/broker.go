package broker

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/tradekit/stream-gateway/internal/cache"
	"github.com/tradekit/stream-gateway/internal/channel"
	"github.com/tradekit/stream-gateway/internal/model"
)

// PairDirectory answers which trading pairs the operator has configured.
// Implemented by the pairs package in production.
type PairDirectory interface {
	IsKnownTradingPair(symbol string) bool
	ListTradingPairs() []string
}

// HubControl starts and stops upstream relays for private channels.
// Fire-and-forget: the broker never awaits an acknowledgement, it only
// logs send failures.
type HubControl interface {
	StartRelay(topic string, networkID int64) error
	StopRelay(topic string, networkID int64) error
}

// Stats is a snapshot of broker counters.
type Stats struct {
	EventsReceived  int64
	EventsForwarded int64
	UnknownDropped  int64
	BroadcastSends  int64
	SendFailures    int64
}

// Broker owns the channel registry and public data cache and applies all
// subscription and fan-out logic. One instance per process, injected into
// the transport layer at startup.
type Broker struct {
	registry *channel.Registry
	cache    *cache.Cache
	pairs    PairDirectory
	hub      HubControl
	logger   *slog.Logger

	// Serializes private-channel membership transitions with their hub
	// control messages so a stop can never overtake a later start.
	relayMu sync.Mutex

	statsMu sync.Mutex
	stats   Stats
}

// New creates a broker with an empty registry and cache.
func New(pairs PairDirectory, hub HubControl, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		registry: channel.NewRegistry(),
		cache:    cache.New(logger),
		pairs:    pairs,
		hub:      hub,
		logger:   logger,
	}
}

// Registry exposes the channel registry for health and debug endpoints.
func (b *Broker) Registry() *channel.Registry {
	return b.registry
}

// Stats returns a snapshot of broker counters.
func (b *Broker) Stats() Stats {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	return b.stats
}

// Subscribe registers conn for a topic.
//
// Broadcast topics take a symbol; an empty symbol subscribes every known
// trading pair, with per-pair failures reported inline to conn instead of
// aborting the loop. Private topics ignore symbol and require the
// connection to be authenticated.
func (b *Broker) Subscribe(topicName string, conn channel.Conn, symbol string) error {
	t, err := ParseTopic(topicName)
	if err != nil {
		return err
	}

	if t.Private() {
		return b.subscribePrivate(t, conn)
	}

	if symbol != "" {
		return b.subscribePair(t, conn, symbol)
	}
	for _, pair := range b.pairs.ListTradingPairs() {
		if err := b.subscribePair(t, conn, pair); err != nil {
			b.notify(conn, err.Error())
		}
	}
	return nil
}

// subscribePair registers conn under (topic, symbol), replaying the cached
// snapshot first. The connection joins live delivery only after the replay
// is enqueued, so a live update can never precede the snapshot.
func (b *Broker) subscribePair(t Topic, conn channel.Conn, symbol string) error {
	if !b.pairs.IsKnownTradingPair(symbol) {
		return fmt.Errorf("%w: %s", ErrInvalidSymbol, symbol)
	}

	if snap, ok := b.cache.GetSnapshot(t.String(), symbol); ok {
		if err := conn.SendJSON(snap); err != nil {
			b.logger.Debug("snapshot replay failed",
				"conn_id", conn.ID(),
				"channel", t.String()+":"+symbol,
				"error", err,
			)
		}
	}

	b.registry.Add(channel.NewKey(t.String(), symbol), conn)
	return nil
}

// subscribePrivate registers conn under (topic, network ID) and opens the
// upstream relay if conn is the first local subscriber for that channel.
func (b *Broker) subscribePrivate(t Topic, conn channel.Conn) error {
	ident, ok := conn.Auth()
	if !ok {
		return ErrAuthenticationRequired
	}

	b.relayMu.Lock()
	defer b.relayMu.Unlock()

	first := b.registry.Add(channel.NewKey(t.String(), ident.NetworkScope()), conn)
	if first {
		if err := b.hub.StartRelay(t.String(), ident.NetworkID); err != nil {
			b.logger.Warn("start relay failed",
				"topic", t.String(),
				"network_id", ident.NetworkID,
				"error", err,
			)
		}
	}
	return nil
}

// Unsubscribe removes conn from a topic, symmetric to Subscribe. Every
// processed channel gets a confirmation notification; private channels
// release the upstream relay when the last local subscriber leaves.
func (b *Broker) Unsubscribe(topicName string, conn channel.Conn, symbol string) error {
	t, err := ParseTopic(topicName)
	if err != nil {
		return err
	}

	if t.Private() {
		return b.unsubscribePrivate(t, conn)
	}

	if symbol != "" {
		return b.unsubscribePair(t, conn, symbol)
	}
	for _, pair := range b.pairs.ListTradingPairs() {
		if err := b.unsubscribePair(t, conn, pair); err != nil {
			b.notify(conn, err.Error())
		}
	}
	return nil
}

func (b *Broker) unsubscribePair(t Topic, conn channel.Conn, symbol string) error {
	if !b.pairs.IsKnownTradingPair(symbol) {
		return fmt.Errorf("%w: %s", ErrInvalidSymbol, symbol)
	}

	key := channel.NewKey(t.String(), symbol)
	b.registry.Remove(key, conn)
	b.notify(conn, "Unsubscribed from channel "+key.String())
	return nil
}

func (b *Broker) unsubscribePrivate(t Topic, conn channel.Conn) error {
	ident, ok := conn.Auth()
	if !ok {
		return ErrAuthenticationRequired
	}

	key := channel.NewKey(t.String(), ident.NetworkScope())

	b.relayMu.Lock()
	if emptied := b.registry.Remove(key, conn); emptied {
		if err := b.hub.StopRelay(t.String(), ident.NetworkID); err != nil {
			b.logger.Warn("stop relay failed",
				"topic", t.String(),
				"network_id", ident.NetworkID,
				"error", err,
			)
		}
	}
	b.relayMu.Unlock()

	// Confirmation follows the registry and hub step regardless of
	// whether the channel emptied.
	b.notify(conn, "Unsubscribed from channel "+key.String())
	return nil
}

// notify sends an inline notification to one connection. Send failures are
// logged and never propagate to other connections.
func (b *Broker) notify(conn channel.Conn, message string) {
	if err := conn.SendJSON(model.Notification{Message: message}); err != nil {
		b.logger.Debug("notification send failed",
			"conn_id", conn.ID(),
			"error", err,
		)
	}
}
