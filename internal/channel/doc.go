// Package channel implements the subscription channel registry: a keyed
// set of live connections used to address fan-out broadcasts.
//
// The registry has no business knowledge. Keys are (topic, scope) pairs
// where scope is a trading-pair symbol for broadcast topics and a network
// account ID for private topics. Callers own all side effects; the
// registry only tracks membership.
package channel
