package postgres

import (
	"context"
	"fmt"

	engine "github.com/membank/engine"
)

// Banks returns every bank ID with at least one memory unit, for the
// consolidation worker's per-bank iteration (§4.3).
func (s *Store) Banks(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT bank FROM memory_units`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list banks: %w", err)
	}
	defer rows.Close()

	var banks []string
	for rows.Next() {
		var b string
		if err := rows.Scan(&b); err != nil {
			return nil, fmt.Errorf("postgres: scan bank: %w", err)
		}
		banks = append(banks, b)
	}
	return banks, rows.Err()
}

// GetBank returns a bank's directives/disposition/mission, or a Bank with
// just the ID and the neutral disposition (3, 3, 3) set if the row cannot
// be read (missing or otherwise) — banks are created externally
// and the engine treats an unknown bank as defaults rather than an error.
func (s *Store) GetBank(ctx context.Context, id string) (engine.Bank, error) {
	var b engine.Bank
	var skepticism, literalism, empathy int
	var directivesJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, mission, disposition_skepticism, disposition_literalism, disposition_empathy, directives, created_at
		 FROM banks WHERE id = $1`, id,
	).Scan(&b.ID, &b.Mission, &skepticism, &literalism, &empathy, &directivesJSON, &b.CreatedAt)
	if err != nil {
		return engine.Bank{ID: id, Disposition: [3]int{3, 3, 3}}, nil
	}
	b.Disposition = [3]int{skepticism, literalism, empathy}
	unmarshalStrings(directivesJSON, &b.Directives)
	return b, nil
}
