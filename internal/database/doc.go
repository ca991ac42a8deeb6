// Package database provides connection pool management for the operator
// PostgreSQL database.
//
// The gateway reads the trading-pair directory from the operator database;
// it never writes market data.
package database
