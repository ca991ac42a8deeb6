// Package pairs maintains the directory of trading pairs the gateway
// accepts subscriptions for.
//
// The directory loads active pairs from the operator database on startup
// and reconciles periodically so newly listed or delisted pairs are
// picked up without a restart.
package pairs
