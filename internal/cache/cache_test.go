package cache

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/tradekit/stream-gateway/internal/model"
)

func tradeEvent(symbol, action string, time int64, records ...string) model.HubEvent {
	data, _ := json.Marshal(toRaw(records))
	return model.HubEvent{
		Topic:  "trade",
		Symbol: symbol,
		Action: action,
		Time:   time,
		Data:   data,
	}
}

func toRaw(records []string) []json.RawMessage {
	out := make([]json.RawMessage, len(records))
	for i, r := range records {
		out[i] = json.RawMessage(r)
	}
	return out
}

func snapshotRecords(t *testing.T, c *Cache, symbol string) []string {
	t.Helper()
	snap, ok := c.GetSnapshot("trade", symbol)
	if !ok {
		t.Fatalf("GetSnapshot(trade, %s) absent, want present", symbol)
	}
	var records []json.RawMessage
	if err := json.Unmarshal(snap.Data, &records); err != nil {
		t.Fatalf("unmarshal snapshot data: %v", err)
	}
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = string(r)
	}
	return out
}

func TestCache_OrderbookReplace(t *testing.T) {
	c := New(nil)

	first := model.HubEvent{Topic: "orderbook", Symbol: "btc-usdt", Time: 1, Data: json.RawMessage(`{"bids":[]}`)}
	second := model.HubEvent{Topic: "orderbook", Symbol: "btc-usdt", Time: 2, Data: json.RawMessage(`{"bids":[["1","2"]]}`)}

	c.ApplyOrderbookUpdate("btc-usdt", first)
	c.ApplyOrderbookUpdate("btc-usdt", second)

	snap, ok := c.GetSnapshot("orderbook", "btc-usdt")
	if !ok {
		t.Fatal("GetSnapshot absent, want present")
	}
	if snap.Time != 2 {
		t.Errorf("snapshot Time = %d, want 2", snap.Time)
	}
	if snap.Action != "partial" {
		t.Errorf("snapshot Action = %q, want %q", snap.Action, "partial")
	}
}

func TestCache_TradePartialReplaces(t *testing.T) {
	c := New(nil)

	c.ApplyTradeUpdate("eth-usdt", tradeEvent("eth-usdt", "update", 1, `{"id":1}`))
	c.ApplyTradeUpdate("eth-usdt", tradeEvent("eth-usdt", "partial", 2, `{"id":2}`))

	got := snapshotRecords(t, c, "eth-usdt")
	if len(got) != 1 || got[0] != `{"id":2}` {
		t.Errorf("records = %v, want [{\"id\":2}]", got)
	}
}

func TestCache_TradeMergePrependsNewestFirst(t *testing.T) {
	c := New(nil)

	c.ApplyTradeUpdate("eth-usdt", tradeEvent("eth-usdt", "partial", 1, `{"id":1}`))
	c.ApplyTradeUpdate("eth-usdt", tradeEvent("eth-usdt", "update", 2, `{"id":2}`))

	got := snapshotRecords(t, c, "eth-usdt")
	want := []string{`{"id":2}`, `{"id":1}`}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("records = %v, want %v", got, want)
	}

	snap, _ := c.GetSnapshot("trade", "eth-usdt")
	if snap.Time != 2 {
		t.Errorf("snapshot Time = %d, want 2 (merge must adopt incoming timestamp)", snap.Time)
	}
}

func TestCache_TradeMergeWithoutPriorEntry(t *testing.T) {
	c := New(nil)

	// Out-of-order upstream delivery: a merge arrives before any partial.
	// Treated as a synthetic partial rather than dropped.
	c.ApplyTradeUpdate("btc-usdt", tradeEvent("btc-usdt", "update", 9, `{"id":9}`))

	got := snapshotRecords(t, c, "btc-usdt")
	if len(got) != 1 || got[0] != `{"id":9}` {
		t.Errorf("records = %v, want [{\"id\":9}]", got)
	}
}

func TestCache_TradeHistoryCapped(t *testing.T) {
	c := New(nil)

	c.ApplyTradeUpdate("btc-usdt", tradeEvent("btc-usdt", "partial", 0, `{"id":0}`))
	for i := 1; i <= MaxTradeHistory+20; i++ {
		c.ApplyTradeUpdate("btc-usdt", tradeEvent("btc-usdt", "update", int64(i), fmt.Sprintf(`{"id":%d}`, i)))
	}

	if got := c.TradeHistoryLen("btc-usdt"); got != MaxTradeHistory {
		t.Errorf("TradeHistoryLen = %d, want %d", got, MaxTradeHistory)
	}

	got := snapshotRecords(t, c, "btc-usdt")
	if got[0] != fmt.Sprintf(`{"id":%d}`, MaxTradeHistory+20) {
		t.Errorf("newest record = %s, want id %d first", got[0], MaxTradeHistory+20)
	}
}

func TestCache_OversizedPartialTruncated(t *testing.T) {
	c := New(nil)

	records := make([]string, MaxTradeHistory+5)
	for i := range records {
		records[i] = fmt.Sprintf(`{"id":%d}`, i)
	}
	data, _ := json.Marshal(toRaw(records))
	c.ApplyTradeUpdate("btc-usdt", model.HubEvent{Topic: "trade", Action: "partial", Data: data})

	if got := c.TradeHistoryLen("btc-usdt"); got != MaxTradeHistory {
		t.Errorf("TradeHistoryLen = %d, want %d", got, MaxTradeHistory)
	}
}

func TestCache_GetSnapshotAbsent(t *testing.T) {
	c := New(nil)

	if _, ok := c.GetSnapshot("orderbook", "btc-usdt"); ok {
		t.Error("GetSnapshot(orderbook) = present, want absent")
	}
	if _, ok := c.GetSnapshot("trade", "btc-usdt"); ok {
		t.Error("GetSnapshot(trade) = present, want absent")
	}
	if _, ok := c.GetSnapshot("order", "52"); ok {
		t.Error("GetSnapshot(order) = present, want absent (private topics are uncached)")
	}
}

func TestCache_Clear(t *testing.T) {
	c := New(nil)
	c.ApplyOrderbookUpdate("btc-usdt", model.HubEvent{Topic: "orderbook"})
	c.ApplyTradeUpdate("btc-usdt", tradeEvent("btc-usdt", "partial", 1, `{"id":1}`))

	c.Clear()

	if _, ok := c.GetSnapshot("orderbook", "btc-usdt"); ok {
		t.Error("orderbook snapshot present after Clear")
	}
	if _, ok := c.GetSnapshot("trade", "btc-usdt"); ok {
		t.Error("trade snapshot present after Clear")
	}
}
