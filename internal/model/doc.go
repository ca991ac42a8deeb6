// Package model defines the shared data types of the stream gateway:
// authenticated identities, upstream hub events, and the wire shapes
// exchanged with connected clients.
package model
