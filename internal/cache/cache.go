// Package cache holds the last-known public state per trading pair:
// the most recent full orderbook message and a bounded trade history.
// New subscribers are replayed this state before live updates.
package cache

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/tradekit/stream-gateway/internal/model"
)

// MaxTradeHistory is the cap on cached trade records per symbol,
// newest first.
const MaxTradeHistory = 50

// tradeHistory is the cached trade state for one symbol.
type tradeHistory struct {
	time    int64
	records []json.RawMessage
}

// Cache is the public data cache. All mutations are serialized under one
// mutex; snapshots returned to callers are safe to send outside it.
type Cache struct {
	logger *slog.Logger

	mu        sync.Mutex
	orderbook map[string]model.HubEvent
	trades    map[string]*tradeHistory
}

// New creates an empty cache.
func New(logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		logger:    logger,
		orderbook: make(map[string]model.HubEvent),
		trades:    make(map[string]*tradeHistory),
	}
}

// ApplyOrderbookUpdate replaces the cached orderbook snapshot for symbol.
// Every upstream orderbook message is a full state, so replacement is
// unconditional. The cached copy is marked partial so replays read as a
// full snapshot on the client side.
func (c *Cache) ApplyOrderbookUpdate(symbol string, ev model.HubEvent) {
	snap := ev
	snap.Action = "partial"

	c.mu.Lock()
	c.orderbook[symbol] = snap
	c.mu.Unlock()
}

// ApplyTradeUpdate merges an upstream trade message into the cached
// history for symbol.
//
// A "partial" action replaces the entry wholesale. Any other action
// prepends the message's records, updates the timestamp, and truncates to
// MaxTradeHistory. A merge with no prior entry is treated as a synthetic
// partial: upstream delivered out of order, and adopting the message keeps
// the cache convergent instead of dropping it.
func (c *Cache) ApplyTradeUpdate(symbol string, ev model.HubEvent) {
	records, err := decodeRecords(ev.Data)
	if err != nil {
		c.logger.Warn("undecodable trade data, skipping cache merge",
			"symbol", symbol,
			"error", err,
		)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	prev, ok := c.trades[symbol]
	if ev.Action == "partial" || !ok {
		if len(records) > MaxTradeHistory {
			records = records[:MaxTradeHistory]
		}
		c.trades[symbol] = &tradeHistory{time: ev.Time, records: records}
		return
	}

	merged := make([]json.RawMessage, 0, len(records)+len(prev.records))
	merged = append(merged, records...)
	merged = append(merged, prev.records...)
	if len(merged) > MaxTradeHistory {
		merged = merged[:MaxTradeHistory]
	}
	prev.time = ev.Time
	prev.records = merged
}

// GetSnapshot returns the replay message for (topic, symbol), or false if
// nothing is cached. Unknown topics have no cache.
func (c *Cache) GetSnapshot(topic, symbol string) (model.HubEvent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch topic {
	case "orderbook":
		ev, ok := c.orderbook[symbol]
		return ev, ok

	case "trade":
		hist, ok := c.trades[symbol]
		if !ok {
			return model.HubEvent{}, false
		}
		data, err := json.Marshal(hist.records)
		if err != nil {
			c.logger.Error("marshal trade history", "symbol", symbol, "error", err)
			return model.HubEvent{}, false
		}
		return model.HubEvent{
			Topic:  topic,
			Symbol: symbol,
			Action: "partial",
			Time:   hist.time,
			Data:   data,
		}, true
	}

	return model.HubEvent{}, false
}

// TradeHistoryLen returns the number of cached trade records for symbol.
func (c *Cache) TradeHistoryLen(symbol string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	hist, ok := c.trades[symbol]
	if !ok {
		return 0
	}
	return len(hist.records)
}

// Clear drops all cached state. Used on full broker teardown.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orderbook = make(map[string]model.HubEvent)
	c.trades = make(map[string]*tradeHistory)
}

// decodeRecords splits a trade payload into individual records.
func decodeRecords(data json.RawMessage) ([]json.RawMessage, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	return records, nil
}
