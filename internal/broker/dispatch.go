package broker

import (
	"strconv"

	"github.com/tradekit/stream-gateway/internal/channel"
	"github.com/tradekit/stream-gateway/internal/model"
)

// OnHubEvent routes one upstream event to its subscriber set.
//
// Public topics update the cache first and broadcast to (topic, symbol);
// private topics broadcast to (topic, user_id) with no caching. Events for
// unknown topics are dropped silently aside from a counter.
func (b *Broker) OnHubEvent(ev model.HubEvent) {
	b.statsMu.Lock()
	b.stats.EventsReceived++
	b.statsMu.Unlock()

	t, err := ParseTopic(ev.Topic)
	if err != nil {
		b.statsMu.Lock()
		b.stats.UnknownDropped++
		b.statsMu.Unlock()
		return
	}

	var key channel.Key
	switch t {
	case TopicOrderbook:
		b.cache.ApplyOrderbookUpdate(ev.Symbol, ev)
		key = channel.NewKey(t.String(), ev.Symbol)
	case TopicTrade:
		b.cache.ApplyTradeUpdate(ev.Symbol, ev)
		key = channel.NewKey(t.String(), ev.Symbol)
	case TopicOrder, TopicWallet:
		key = channel.NewKey(t.String(), strconv.FormatInt(ev.UserID, 10))
	}

	b.broadcast(key, ev)

	b.statsMu.Lock()
	b.stats.EventsForwarded++
	b.statsMu.Unlock()
}

// broadcast sends ev to every connection under key. The subscriber set is
// copied out of the registry and sends happen outside its lock; a slow or
// failed connection never delays the others.
func (b *Broker) broadcast(key channel.Key, ev model.HubEvent) {
	conns := b.registry.Subscribers(key)

	var sends, failures int64
	for _, conn := range conns {
		if err := conn.SendJSON(ev); err != nil {
			failures++
			b.logger.Debug("broadcast send failed",
				"conn_id", conn.ID(),
				"channel", key.String(),
				"error", err,
			)
			continue
		}
		sends++
	}

	b.statsMu.Lock()
	b.stats.BroadcastSends += sends
	b.stats.SendFailures += failures
	b.statsMu.Unlock()
}
