package broker

import "github.com/tradekit/stream-gateway/internal/channel"

// OnDisconnect detaches a closed connection from every channel it may be
// registered under. Each step is independently fault-isolated: a failure
// in one removal or relay release never aborts the rest of the cleanup.
func (b *Broker) OnDisconnect(conn channel.Conn) {
	for _, pair := range b.pairs.ListTradingPairs() {
		for _, t := range BroadcastTopics {
			b.registry.Remove(channel.NewKey(t.String(), pair), conn)
		}
	}

	ident, ok := conn.Auth()
	if !ok {
		return
	}

	b.relayMu.Lock()
	defer b.relayMu.Unlock()

	for _, t := range PrivateTopics {
		key := channel.NewKey(t.String(), ident.NetworkScope())
		if emptied := b.registry.Remove(key, conn); emptied {
			if err := b.hub.StopRelay(t.String(), ident.NetworkID); err != nil {
				b.logger.Warn("stop relay on disconnect failed",
					"topic", t.String(),
					"network_id", ident.NetworkID,
					"error", err,
				)
			}
		}
	}
}

// ShutdownAll closes every registered connection, then resets the registry
// and clears the public cache. After it returns the broker behaves as a
// fresh instance; used for full teardown such as a maintenance restart.
func (b *Broker) ShutdownAll() {
	snapshot := b.registry.Snapshot()

	closed := make(map[string]struct{})
	for _, conns := range snapshot {
		for _, conn := range conns {
			if _, done := closed[conn.ID()]; done {
				continue
			}
			closed[conn.ID()] = struct{}{}
			if err := conn.Close(); err != nil {
				b.logger.Debug("close on shutdown failed",
					"conn_id", conn.ID(),
					"error", err,
				)
			}
		}
	}

	b.registry.Reset()
	b.cache.Clear()

	b.logger.Info("broker shut down", "connections_closed", len(closed))
}
