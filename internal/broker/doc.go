// Package broker implements the topic subscription manager and fan-out
// core of the stream gateway.
//
// The broker:
//   - Validates and applies subscribe/unsubscribe intents per topic
//   - Replays cached public state to new subscribers before live updates
//   - Opens and closes upstream relays exactly once per private channel
//   - Dispatches hub events to the matching subscriber sets
//   - Cleans up after disconnects and performs full teardown
package broker
