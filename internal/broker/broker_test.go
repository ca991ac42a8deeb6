package broker

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/tradekit/stream-gateway/internal/model"
)

type fakeConn struct {
	id       string
	sent     []any
	sendErr  error
	closed   bool
	identity model.Identity
	authed   bool
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func authedConn(id string, networkID int64) *fakeConn {
	return &fakeConn{
		id:       id,
		identity: model.Identity{SubjectID: id, NetworkID: networkID, Email: id + "@example.com"},
		authed:   true,
	}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) SendJSON(v any) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, v)
	return nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func (c *fakeConn) Auth() (model.Identity, bool) { return c.identity, c.authed }

func (c *fakeConn) SetAuth(ident model.Identity) bool {
	if c.authed {
		return false
	}
	c.identity = ident
	c.authed = true
	return true
}

func (c *fakeConn) RemoteIP() string { return "127.0.0.1" }

// notifications returns the {message: ...} payloads sent to the connection.
func (c *fakeConn) notifications() []string {
	var out []string
	for _, v := range c.sent {
		if n, ok := v.(model.Notification); ok {
			out = append(out, n.Message)
		}
	}
	return out
}

// events returns the hub events sent to the connection.
func (c *fakeConn) events() []model.HubEvent {
	var out []model.HubEvent
	for _, v := range c.sent {
		if ev, ok := v.(model.HubEvent); ok {
			out = append(out, ev)
		}
	}
	return out
}

type relayCall struct {
	op        string
	topic     string
	networkID int64
}

type fakeHub struct {
	calls []relayCall
	err   error
}

func (h *fakeHub) StartRelay(topic string, networkID int64) error {
	h.calls = append(h.calls, relayCall{"start", topic, networkID})
	return h.err
}

func (h *fakeHub) StopRelay(topic string, networkID int64) error {
	h.calls = append(h.calls, relayCall{"stop", topic, networkID})
	return h.err
}

func (h *fakeHub) count(op, topic string) int {
	n := 0
	for _, c := range h.calls {
		if c.op == op && c.topic == topic {
			n++
		}
	}
	return n
}

type staticPairs struct {
	known []string
	// invalid symbols are listed but rejected, simulating a pair turning
	// invalid mid-iteration.
	invalid map[string]bool
}

func (p *staticPairs) IsKnownTradingPair(symbol string) bool {
	if p.invalid[symbol] {
		return false
	}
	for _, s := range p.known {
		if s == symbol {
			return true
		}
	}
	return false
}

func (p *staticPairs) ListTradingPairs() []string { return p.known }

func testBroker(pairs ...string) (*Broker, *fakeHub) {
	if len(pairs) == 0 {
		pairs = []string{"btc-usdt", "eth-usdt"}
	}
	hub := &fakeHub{}
	b := New(&staticPairs{known: pairs}, hub, nil)
	return b, hub
}

func tradeEvent(symbol, action string, time int64, records ...string) model.HubEvent {
	raw := make([]json.RawMessage, len(records))
	for i, r := range records {
		raw[i] = json.RawMessage(r)
	}
	data, _ := json.Marshal(raw)
	return model.HubEvent{Topic: "trade", Symbol: symbol, Action: action, Time: time, Data: data}
}

func TestSubscribe_InvalidTopic(t *testing.T) {
	b, _ := testBroker()
	conn := newFakeConn("a")

	err := b.Subscribe("candles", conn, "btc-usdt")
	if !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe err = %v, want ErrInvalidTopic", err)
	}
	if got := b.Registry().Len(); got != 0 {
		t.Errorf("registry keys = %d after invalid topic, want 0", got)
	}
}

func TestSubscribe_InvalidSymbol(t *testing.T) {
	b, _ := testBroker()
	conn := newFakeConn("a")

	err := b.Subscribe("orderbook", conn, "doge-usdt")
	if !errors.Is(err, ErrInvalidSymbol) {
		t.Errorf("Subscribe err = %v, want ErrInvalidSymbol", err)
	}
	if got := b.Registry().Len(); got != 0 {
		t.Errorf("registry keys = %d after invalid symbol, want 0", got)
	}
}

func TestSubscribe_ReplayBeforeLive(t *testing.T) {
	b, _ := testBroker()

	// Seed the cache with a live orderbook event before anyone subscribes.
	b.OnHubEvent(model.HubEvent{Topic: "orderbook", Symbol: "btc-usdt", Time: 1})

	conn := newFakeConn("a")
	if err := b.Subscribe("orderbook", conn, "btc-usdt"); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	b.OnHubEvent(model.HubEvent{Topic: "orderbook", Symbol: "btc-usdt", Time: 2})

	events := conn.events()
	if len(events) != 2 {
		t.Fatalf("received %d events, want 2 (replay + live)", len(events))
	}
	if events[0].Time != 1 || events[0].Action != "partial" {
		t.Errorf("first event = %+v, want the cached snapshot marked partial", events[0])
	}
	if events[1].Time != 2 {
		t.Errorf("second event Time = %d, want 2 (live update)", events[1].Time)
	}
}

func TestSubscribe_NoCacheNoReplay(t *testing.T) {
	b, _ := testBroker()
	conn := newFakeConn("a")

	if err := b.Subscribe("trade", conn, "eth-usdt"); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if len(conn.sent) != 0 {
		t.Fatalf("received %d messages with empty cache, want 0", len(conn.sent))
	}

	// First hub message is a partial: becomes the cache and is broadcast.
	b.OnHubEvent(tradeEvent("eth-usdt", "partial", 1, `{"id":1}`))
	// Second is a merge: prepended and broadcast.
	b.OnHubEvent(tradeEvent("eth-usdt", "update", 2, `{"id":2}`))

	events := conn.events()
	if len(events) != 2 {
		t.Fatalf("received %d events, want 2", len(events))
	}
	if events[0].Action != "partial" || events[1].Action != "update" {
		t.Errorf("actions = %s, %s, want partial, update", events[0].Action, events[1].Action)
	}

	// A later subscriber replays the merged history, newest first.
	late := newFakeConn("b")
	if err := b.Subscribe("trade", late, "eth-usdt"); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	replays := late.events()
	if len(replays) != 1 {
		t.Fatalf("late subscriber received %d events, want 1 replay", len(replays))
	}
	var records []json.RawMessage
	if err := json.Unmarshal(replays[0].Data, &records); err != nil {
		t.Fatalf("unmarshal replay data: %v", err)
	}
	if len(records) != 2 || string(records[0]) != `{"id":2}` {
		t.Errorf("replay records = %v, want [{\"id\":2} {\"id\":1}]", records)
	}
}

func TestSubscribe_AllPairs(t *testing.T) {
	b, _ := testBroker("btc-usdt", "eth-usdt", "xht-usdt")

	b.OnHubEvent(model.HubEvent{Topic: "orderbook", Symbol: "eth-usdt", Time: 7})

	conn := newFakeConn("a")
	if err := b.Subscribe("orderbook", conn, ""); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if got := b.Registry().Len(); got != 3 {
		t.Errorf("registry keys = %d, want 3", got)
	}
	events := conn.events()
	if len(events) != 1 || events[0].Symbol != "eth-usdt" {
		t.Errorf("replays = %+v, want one eth-usdt snapshot", events)
	}
}

func TestSubscribe_AllPairsIsolatesFailures(t *testing.T) {
	pairs := &staticPairs{
		known:   []string{"btc-usdt", "bad-usdt", "eth-usdt"},
		invalid: map[string]bool{"bad-usdt": true},
	}
	b := New(pairs, &fakeHub{}, nil)
	conn := newFakeConn("a")

	if err := b.Subscribe("trade", conn, ""); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	// The failing pair is reported inline; the rest are still registered.
	notes := conn.notifications()
	if len(notes) != 1 {
		t.Fatalf("notifications = %v, want one inline error", notes)
	}
	if got := b.Registry().Len(); got != 2 {
		t.Errorf("registry keys = %d, want 2", got)
	}
}

func TestSubscribe_PrivateRequiresAuth(t *testing.T) {
	b, hub := testBroker()
	conn := newFakeConn("a")

	err := b.Subscribe("order", conn, "")
	if !errors.Is(err, ErrAuthenticationRequired) {
		t.Errorf("Subscribe err = %v, want ErrAuthenticationRequired", err)
	}
	if got := b.Registry().Len(); got != 0 {
		t.Errorf("registry keys = %d, want 0 (failed subscribe must not mutate)", got)
	}
	if len(hub.calls) != 0 {
		t.Errorf("hub calls = %v, want none", hub.calls)
	}
}

func TestPrivate_RelayStartStopOncePerChannel(t *testing.T) {
	b, hub := testBroker()

	// Three connections sharing one identity.
	conns := []*fakeConn{authedConn("a", 52), authedConn("b", 52), authedConn("c", 52)}
	for _, c := range conns {
		if err := b.Subscribe("order", c, ""); err != nil {
			t.Fatalf("Subscribe(%s) failed: %v", c.id, err)
		}
	}
	if got := hub.count("start", "order"); got != 1 {
		t.Fatalf("StartRelay calls = %d after 3 subscribes, want 1", got)
	}

	// Re-subscribing an existing member is not a 0→1 transition.
	if err := b.Subscribe("order", conns[0], ""); err != nil {
		t.Fatalf("re-subscribe failed: %v", err)
	}
	if got := hub.count("start", "order"); got != 1 {
		t.Errorf("StartRelay calls = %d after duplicate subscribe, want 1", got)
	}

	for i, c := range conns {
		if err := b.Unsubscribe("order", c, ""); err != nil {
			t.Fatalf("Unsubscribe(%s) failed: %v", c.id, err)
		}
		wantStops := 0
		if i == len(conns)-1 {
			wantStops = 1
		}
		if got := hub.count("stop", "order"); got != wantStops {
			t.Errorf("StopRelay calls = %d after %d unsubscribes, want %d", got, i+1, wantStops)
		}
	}

	// Every unsubscribe gets a confirmation, emptied or not.
	for _, c := range conns {
		notes := c.notifications()
		if len(notes) != 1 || notes[0] != "Unsubscribed from channel order:52" {
			t.Errorf("conn %s notifications = %v, want unsubscribe confirmation", c.id, notes)
		}
	}
}

func TestPrivate_DistinctIdentitiesGetDistinctRelays(t *testing.T) {
	b, hub := testBroker()

	if err := b.Subscribe("wallet", authedConn("a", 52), ""); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := b.Subscribe("wallet", authedConn("b", 99), ""); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if got := hub.count("start", "wallet"); got != 2 {
		t.Errorf("StartRelay calls = %d, want 2 (one per network id)", got)
	}
}

func TestUnsubscribe_BroadcastConfirmation(t *testing.T) {
	b, _ := testBroker()
	conn := newFakeConn("a")

	if err := b.Subscribe("trade", conn, "eth-usdt"); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := b.Unsubscribe("trade", conn, "eth-usdt"); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}

	notes := conn.notifications()
	if len(notes) != 1 || notes[0] != "Unsubscribed from channel trade:eth-usdt" {
		t.Errorf("notifications = %v, want trade:eth-usdt confirmation", notes)
	}
}

func TestUnsubscribe_AllPairsConfirmsEachPair(t *testing.T) {
	b, _ := testBroker("btc-usdt", "eth-usdt")
	conn := newFakeConn("a")

	if err := b.Subscribe("orderbook", conn, ""); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	conn.sent = nil

	if err := b.Unsubscribe("orderbook", conn, ""); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}

	notes := conn.notifications()
	want := map[string]bool{
		"Unsubscribed from channel orderbook:btc-usdt": true,
		"Unsubscribed from channel orderbook:eth-usdt": true,
	}
	if len(notes) != 2 || !want[notes[0]] || !want[notes[1]] || notes[0] == notes[1] {
		t.Errorf("notifications = %v, want one confirmation per pair", notes)
	}
	if got := b.Registry().Len(); got != 0 {
		t.Errorf("registry keys = %d, want 0", got)
	}
}

func TestOnHubEvent_PrivateDispatchScopedToIdentity(t *testing.T) {
	b, _ := testBroker()

	mine := authedConn("a", 52)
	other := authedConn("b", 99)
	if err := b.Subscribe("order", mine, ""); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := b.Subscribe("order", other, ""); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	b.OnHubEvent(model.HubEvent{Topic: "order", UserID: 52, Action: "insert"})

	if got := len(mine.events()); got != 1 {
		t.Errorf("subscriber for user 52 received %d events, want 1", got)
	}
	if got := len(other.events()); got != 0 {
		t.Errorf("subscriber for user 99 received %d events, want 0", got)
	}
}

func TestOnHubEvent_UnknownTopicDropped(t *testing.T) {
	b, _ := testBroker()
	conn := newFakeConn("a")
	if err := b.Subscribe("trade", conn, "btc-usdt"); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	b.OnHubEvent(model.HubEvent{Topic: "funding", Symbol: "btc-usdt"})

	if got := len(conn.sent); got != 0 {
		t.Errorf("received %d messages for unknown topic, want 0", got)
	}
	stats := b.Stats()
	if stats.UnknownDropped != 1 {
		t.Errorf("UnknownDropped = %d, want 1", stats.UnknownDropped)
	}
}

func TestBroadcast_SendFailureIsolated(t *testing.T) {
	b, _ := testBroker()

	broken := newFakeConn("broken")
	broken.sendErr = errors.New("write: broken pipe")
	healthy := newFakeConn("healthy")

	if err := b.Subscribe("orderbook", broken, "btc-usdt"); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := b.Subscribe("orderbook", healthy, "btc-usdt"); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	b.OnHubEvent(model.HubEvent{Topic: "orderbook", Symbol: "btc-usdt", Time: 1})

	if got := len(healthy.events()); got != 1 {
		t.Errorf("healthy conn received %d events, want 1 despite peer failure", got)
	}
	if got := b.Stats().SendFailures; got != 1 {
		t.Errorf("SendFailures = %d, want 1", got)
	}
}

func TestOnDisconnect(t *testing.T) {
	b, hub := testBroker("btc-usdt", "eth-usdt")

	conn := authedConn("a", 52)
	if err := b.Subscribe("orderbook", conn, ""); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := b.Subscribe("trade", conn, "btc-usdt"); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := b.Subscribe("order", conn, ""); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := b.Subscribe("wallet", conn, ""); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	b.OnDisconnect(conn)

	if got := b.Registry().Len(); got != 0 {
		t.Errorf("registry keys = %d after disconnect, want 0", got)
	}
	if got := hub.count("stop", "order"); got != 1 {
		t.Errorf("StopRelay(order) calls = %d, want 1", got)
	}
	if got := hub.count("stop", "wallet"); got != 1 {
		t.Errorf("StopRelay(wallet) calls = %d, want 1", got)
	}
}

func TestOnDisconnect_SharedIdentityKeepsRelay(t *testing.T) {
	b, hub := testBroker()

	a := authedConn("a", 52)
	c := authedConn("c", 52)
	for _, conn := range []*fakeConn{a, c} {
		if err := b.Subscribe("order", conn, ""); err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
	}

	b.OnDisconnect(a)

	if got := hub.count("stop", "order"); got != 0 {
		t.Errorf("StopRelay calls = %d with a subscriber remaining, want 0", got)
	}
}

func TestOnDisconnect_Unauthenticated(t *testing.T) {
	b, hub := testBroker()
	conn := newFakeConn("a")
	if err := b.Subscribe("trade", conn, "btc-usdt"); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	b.OnDisconnect(conn)

	if got := b.Registry().Len(); got != 0 {
		t.Errorf("registry keys = %d, want 0", got)
	}
	if len(hub.calls) != 0 {
		t.Errorf("hub calls = %v for unauthenticated disconnect, want none", hub.calls)
	}
}

func TestShutdownAll(t *testing.T) {
	b, _ := testBroker()

	a := newFakeConn("a")
	priv := authedConn("p", 52)
	if err := b.Subscribe("orderbook", a, "btc-usdt"); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := b.Subscribe("order", priv, ""); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	b.OnHubEvent(model.HubEvent{Topic: "orderbook", Symbol: "btc-usdt", Time: 1})

	b.ShutdownAll()

	if !a.closed || !priv.closed {
		t.Error("ShutdownAll did not close all connections")
	}
	if got := b.Registry().Len(); got != 0 {
		t.Errorf("registry keys = %d after shutdown, want 0", got)
	}

	// Behaves as a fresh instance: no replay, first private subscriber
	// opens the relay again.
	fresh := newFakeConn("fresh")
	if err := b.Subscribe("orderbook", fresh, "btc-usdt"); err != nil {
		t.Fatalf("Subscribe after shutdown failed: %v", err)
	}
	if got := len(fresh.events()); got != 0 {
		t.Errorf("replay events after shutdown = %d, want 0 (cache cleared)", got)
	}
}

func TestShutdownAll_RelayRestartsAfterTeardown(t *testing.T) {
	b, hub := testBroker()

	priv := authedConn("p", 52)
	if err := b.Subscribe("order", priv, ""); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	b.ShutdownAll()

	priv2 := authedConn("p2", 52)
	if err := b.Subscribe("order", priv2, ""); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if got := hub.count("start", "order"); got != 2 {
		t.Errorf("StartRelay calls = %d, want 2 (fresh 0→1 after teardown)", got)
	}
}

func TestConcurrent_PrivateChurn(t *testing.T) {
	b, hub := testBroker()

	const workers = 8
	done := make(chan struct{})
	for i := 0; i < workers; i++ {
		conn := authedConn(fmt.Sprintf("c%d", i), 52)
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 50; j++ {
				b.Subscribe("order", conn, "")
				b.Unsubscribe("order", conn, "")
			}
		}()
	}
	for i := 0; i < workers; i++ {
		<-done
	}

	starts := hub.count("start", "order")
	stops := hub.count("stop", "order")
	if starts != stops {
		t.Errorf("starts = %d, stops = %d, want balanced after churn", starts, stops)
	}
	if b.Registry().Len() != 0 {
		t.Errorf("registry keys = %d after churn, want 0", b.Registry().Len())
	}
}
