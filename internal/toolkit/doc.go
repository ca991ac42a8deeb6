// Package toolkit is the HTTP client for the trading toolkit, the
// operator backend that owns user accounts and credentials.
//
// The gateway uses it to verify bearer tokens and HMAC credentials
// presented on stream connections.
package toolkit
