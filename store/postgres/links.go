package postgres

import (
	"context"
	"fmt"

	engine "github.com/membank/engine"
)

// UpsertLinks inserts links in batches of up to 500, ON CONFLICT (from, to,
// link_type, entity_id) DO NOTHING — entity_id defaults to '' for non-entity
// edges so the unique constraint still applies (§4.7).
func (s *Store) UpsertLinks(ctx context.Context, links []engine.MemoryLink) error {
	const batchSize = 500
	for start := 0; start < len(links); start += batchSize {
		end := start + batchSize
		if end > len(links) {
			end = len(links)
		}
		if err := s.upsertLinkBatch(ctx, links[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) upsertLinkBatch(ctx context.Context, links []engine.MemoryLink) error {
	if len(links) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: upsert links begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck
	for _, l := range links {
		if _, err := tx.Exec(ctx,
			`INSERT INTO memory_links (bank, from_unit, to_unit, link_type, weight, entity_id)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (from_unit, to_unit, link_type, entity_id) DO NOTHING`,
			l.Bank, l.FromUnit, l.ToUnit, string(l.LinkType), l.Weight, l.EntityID); err != nil {
			return fmt.Errorf("postgres: upsert link: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// UnitsNearTime returns up to limit units in bank with a best-time within
// window, excluding excludeIDs (§4.7 temporal-edge construction).
func (s *Store) UnitsNearTime(ctx context.Context, bank string, window engine.TemporalWindow, excludeIDs []string, limit int) ([]engine.MemoryUnit, error) {
	if limit <= 0 {
		limit = 1 << 30
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM memory_units
		WHERE bank = $1
		  AND COALESCE(event_date, occurred_start, mentioned_at) BETWEEN $2 AND $3
		  AND NOT (id = ANY($4))
		LIMIT $5`, unitColumns), bank, window.Start, window.End, excludeIDs, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: units near time: %w", err)
	}
	defer rows.Close()
	return scanUnits(rows)
}

// recentUnitsForEntityColumns qualifies every memory_units column with the
// "u" alias, needed once the join against unit_entities is in scope.
const recentUnitsForEntityColumns = `u.id, u.bank, u.text, u.context, u.fact_type, u.fact_kind, u.what, u.who,
	u.when_desc, u.where_desc, u.why_desc, u.event_date, u.occurred_start, u.occurred_end,
	u.mentioned_at, u.created_at, u.tags, u.consolidated_at, u.proof_count, u.source_memory_ids,
	u.history, u.freshness_status, u.embedding::text`

// RecentUnitsForEntity returns up to limit of the most-recently-mentioned
// units linked to entityID, for entity-edge construction (§4.7).
func (s *Store) RecentUnitsForEntity(ctx context.Context, bank, entityID string, limit int) ([]engine.MemoryUnit, error) {
	if limit <= 0 {
		limit = 1 << 30
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM memory_units u
		JOIN unit_entities ue ON ue.unit_id = u.id
		WHERE u.bank = $1 AND ue.entity_id = $2
		ORDER BY u.mentioned_at DESC
		LIMIT $3`, recentUnitsForEntityColumns), bank, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent units for entity: %w", err)
	}
	defer rows.Close()
	return scanUnits(rows)
}

// LinksFromUnits follows outgoing edges of the given types from unitIDs
// with weight >= minWeight, strongest first; the number of edges per
// source node is not limited (§4.5 link expansion).
func (s *Store) LinksFromUnits(ctx context.Context, bank string, unitIDs []string, types []engine.LinkType, minWeight float32) ([]engine.MemoryLink, error) {
	if len(unitIDs) == 0 || len(types) == 0 {
		return nil, nil
	}
	typeStrs := make([]string, len(types))
	for i, t := range types {
		typeStrs[i] = string(t)
	}
	rows, err := s.pool.Query(ctx,
		`SELECT bank, from_unit, to_unit, link_type, weight, entity_id
		 FROM memory_links
		 WHERE bank = $1 AND from_unit = ANY($2) AND link_type = ANY($3) AND weight >= $4
		 ORDER BY weight DESC`,
		bank, unitIDs, typeStrs, minWeight)
	if err != nil {
		return nil, fmt.Errorf("postgres: links from units: %w", err)
	}
	defer rows.Close()

	var out []engine.MemoryLink
	for rows.Next() {
		var l engine.MemoryLink
		var linkType string
		if err := rows.Scan(&l.Bank, &l.FromUnit, &l.ToUnit, &linkType, &l.Weight, &l.EntityID); err != nil {
			return nil, fmt.Errorf("postgres: scan link: %w", err)
		}
		l.LinkType = engine.LinkType(linkType)
		out = append(out, l)
	}
	return out, rows.Err()
}
