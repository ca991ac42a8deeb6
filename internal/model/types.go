package model

import (
	"encoding/json"
	"strconv"
)

// Identity is the result of a successful authentication. It is attached to
// a connection at most once and never mutated afterwards.
type Identity struct {
	SubjectID string `json:"id"`         // Account ID in the operator database
	NetworkID int64  `json:"network_id"` // Network-level account ID (private channel scope)
	Email     string `json:"email"`      // Account email, used in notifications
}

// NetworkScope returns the network ID formatted as a channel scope.
func (i Identity) NetworkScope() string {
	return strconv.FormatInt(i.NetworkID, 10)
}

// HubEvent is a single event received from the upstream hub.
//
// Broadcast events carry Symbol; private events carry UserID (the network
// ID the event is addressed to). Data is passed through to subscribers
// verbatim: the gateway never interprets payload contents beyond the
// trade-history merge.
type HubEvent struct {
	Topic  string          `json:"topic"`
	Symbol string          `json:"symbol,omitempty"`
	UserID int64           `json:"user_id,omitempty"`
	Action string          `json:"action,omitempty"`
	Time   int64           `json:"time,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Notification is the wire shape for control, confirmation, and inline
// error messages sent to a single connection.
type Notification struct {
	Message string `json:"message"`
}

// OpMessage is an inbound client frame on the stream endpoint.
//
// Args is left raw because its shape depends on Op: a string list for
// subscribe/unsubscribe, a credentials object for auth, absent for ping.
type OpMessage struct {
	Op   string          `json:"op"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Client operations accepted on the stream endpoint.
const (
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpAuth        = "auth"
	OpPing        = "ping"
)
