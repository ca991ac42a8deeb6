package pairs

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Source fetches the current set of active trading pairs.
type Source interface {
	FetchActivePairs(ctx context.Context) ([]string, error)
}

// DBSource reads trading pairs from the operator database.
type DBSource struct {
	pool *pgxpool.Pool
}

// NewDBSource creates a Source backed by the given pool.
func NewDBSource(pool *pgxpool.Pool) *DBSource {
	return &DBSource{pool: pool}
}

// FetchActivePairs returns the symbols of all active trading pairs.
func (s *DBSource) FetchActivePairs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name FROM "Pairs" WHERE active = true ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query trading pairs: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan trading pair: %w", err)
		}
		symbols = append(symbols, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trading pairs: %w", err)
	}

	return symbols, nil
}
