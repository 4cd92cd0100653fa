package postgres

import (
	"context"
	"fmt"

	engine "github.com/membank/engine"
)

// GetChunksForUnits returns the chunk rows belonging to any of unitIDs,
// ordered by (memory_unit_id, chunk_index) so callers can reassemble
// per-unit chunk sequences without a second sort (§4.2 long-text retrieval).
func (s *Store) GetChunksForUnits(ctx context.Context, bank string, unitIDs []string) ([]engine.Chunk, error) {
	if len(unitIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT c.memory_unit_id, c.chunk_index, c.text, c.embedding::text
		 FROM chunks c
		 JOIN memory_units u ON u.id = c.memory_unit_id
		 WHERE u.bank = $1 AND c.memory_unit_id = ANY($2)
		 ORDER BY c.memory_unit_id, c.chunk_index`, bank, unitIDs)
	if err != nil {
		return nil, fmt.Errorf("postgres: get chunks for units: %w", err)
	}
	defer rows.Close()

	var out []engine.Chunk
	for rows.Next() {
		var c engine.Chunk
		var embText *string
		if err := rows.Scan(&c.MemoryUnitID, &c.ChunkIndex, &c.Text, &embText); err != nil {
			return nil, fmt.Errorf("postgres: scan chunk: %w", err)
		}
		c.Embedding = parseEmbedding(embText)
		out = append(out, c)
	}
	return out, rows.Err()
}
