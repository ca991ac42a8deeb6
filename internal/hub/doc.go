// Package hub implements the bridge to the upstream event hub.
//
// The bridge:
//   - Maintains one authenticated WebSocket to the hub, reconnecting with
//     exponential backoff and re-opening active relays after a reconnect
//   - Implements the broker's HubControl contract by sending
//     subscribe/unsubscribe control frames upstream
//   - Pumps inbound events through a growable queue into the broker so a
//     burst never blocks the socket read
package hub
