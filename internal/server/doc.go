// Package server exposes the client-facing stream endpoint.
//
// It upgrades HTTP requests to WebSocket connections, reads operation
// frames (subscribe, unsubscribe, auth, ping), and routes them to the
// broker and the authentication handshake. Errors on an operation are
// reported to the client as {"message": ...} notifications; the
// connection itself stays open.
package server
