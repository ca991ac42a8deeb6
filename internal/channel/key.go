package channel

// Key addresses one subscriber set: a topic plus its scope (a trading-pair
// symbol for broadcast topics, a network ID for private topics).
type Key struct {
	Topic string
	Scope string
}

// NewKey builds a channel key.
func NewKey(topic, scope string) Key {
	return Key{Topic: topic, Scope: scope}
}

// String returns the canonical "topic:scope" form used in messages and logs.
func (k Key) String() string {
	return k.Topic + ":" + k.Scope
}
