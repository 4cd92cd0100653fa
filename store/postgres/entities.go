package postgres

import (
	"context"
	"fmt"
	"sort"

	engine "github.com/membank/engine"
)

// PersistFact inserts one raw fact together with its resolved entity links
// in a single transaction (§4.1 step 4): the unit insert, new/bumped entity
// rows, the UnitEntity links, and the cooccurrence bump for entity pairs
// sharing the fact all commit or fail together.
func (s *Store) PersistFact(ctx context.Context, u engine.MemoryUnit, newNames []string, matchedNames map[string]string, at int64) (engine.MemoryUnit, map[string]string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return engine.MemoryUnit{}, nil, fmt.Errorf("postgres: persist fact begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	resolved := make(map[string]string, len(newNames)+len(matchedNames))

	for name, id := range matchedNames {
		if _, err := tx.Exec(ctx,
			`UPDATE entities SET mention_count = mention_count + 1, last_seen = $1 WHERE id = $2`,
			at, id); err != nil {
			return engine.MemoryUnit{}, nil, fmt.Errorf("postgres: bump entity: %w", err)
		}
		resolved[name] = id
	}

	for _, name := range newNames {
		id := engine.NewID()
		if _, err := tx.Exec(ctx,
			`INSERT INTO entities (id, bank, canonical_name, mention_count, last_seen)
			 VALUES ($1, $2, $3, 1, $4)
			 ON CONFLICT (bank, canonical_name) DO UPDATE SET
			   mention_count = entities.mention_count + 1, last_seen = EXCLUDED.last_seen
			 RETURNING id`,
			id, u.Bank, name, at).Scan(&id); err != nil {
			return engine.MemoryUnit{}, nil, fmt.Errorf("postgres: insert entity: %w", err)
		}
		resolved[name] = id
	}

	persisted, err := execInsertUnit(ctx, tx, u)
	if err != nil {
		return engine.MemoryUnit{}, nil, err
	}

	entityIDs := make([]string, 0, len(resolved))
	for _, id := range resolved {
		entityIDs = append(entityIDs, id)
	}

	for _, id := range entityIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO unit_entities (unit_id, entity_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			persisted.ID, id); err != nil {
			return engine.MemoryUnit{}, nil, fmt.Errorf("postgres: insert unit entity: %w", err)
		}
	}

	sort.Strings(entityIDs)
	for i := 0; i < len(entityIDs); i++ {
		for j := i + 1; j < len(entityIDs); j++ {
			if _, err := tx.Exec(ctx,
				`INSERT INTO entity_cooccurrences (bank, entity_id_1, entity_id_2, cooccurrence_count, last_cooccurred)
				 VALUES ($1, $2, $3, 1, $4)
				 ON CONFLICT (entity_id_1, entity_id_2) DO UPDATE SET
				   cooccurrence_count = entity_cooccurrences.cooccurrence_count + 1,
				   last_cooccurred = EXCLUDED.last_cooccurred`,
				u.Bank, entityIDs[i], entityIDs[j], at); err != nil {
				return engine.MemoryUnit{}, nil, fmt.Errorf("postgres: bump cooccurrence: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return engine.MemoryUnit{}, nil, fmt.Errorf("postgres: persist fact commit: %w", err)
	}
	return persisted, resolved, nil
}

// ListEntities returns every entity in bank.
func (s *Store) ListEntities(ctx context.Context, bank string) ([]engine.Entity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, bank, canonical_name, entity_type, mention_count, last_seen FROM entities WHERE bank = $1`, bank)
	if err != nil {
		return nil, fmt.Errorf("postgres: list entities: %w", err)
	}
	defer rows.Close()

	var out []engine.Entity
	for rows.Next() {
		var e engine.Entity
		if err := rows.Scan(&e.ID, &e.Bank, &e.CanonicalName, &e.EntityType, &e.MentionCount, &e.LastSeen); err != nil {
			return nil, fmt.Errorf("postgres: scan entity: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetCooccurrenceMap returns, for each entity ID in bank, the set of
// lowercased canonical names it has cooccurred with (§4.6 step 2).
func (s *Store) GetCooccurrenceMap(ctx context.Context, bank string) (map[string]map[string]bool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT c.entity_id_1, c.entity_id_2, LOWER(e1.canonical_name), LOWER(e2.canonical_name)
		 FROM entity_cooccurrences c
		 JOIN entities e1 ON e1.id = c.entity_id_1
		 JOIN entities e2 ON e2.id = c.entity_id_2
		 WHERE c.bank = $1`, bank)
	if err != nil {
		return nil, fmt.Errorf("postgres: get cooccurrence map: %w", err)
	}
	defer rows.Close()

	out := map[string]map[string]bool{}
	for rows.Next() {
		var id1, id2, name1, name2 string
		if err := rows.Scan(&id1, &id2, &name1, &name2); err != nil {
			return nil, fmt.Errorf("postgres: scan cooccurrence: %w", err)
		}
		if out[id1] == nil {
			out[id1] = map[string]bool{}
		}
		if out[id2] == nil {
			out[id2] = map[string]bool{}
		}
		out[id1][name2] = true
		out[id2][name1] = true
	}
	return out, rows.Err()
}

// InsertUnitEntities inserts UnitEntity links, ignoring duplicates.
func (s *Store) InsertUnitEntities(ctx context.Context, links []engine.UnitEntity) error {
	if len(links) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: insert unit entities begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck
	for _, l := range links {
		if _, err := tx.Exec(ctx,
			`INSERT INTO unit_entities (unit_id, entity_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			l.UnitID, l.EntityID); err != nil {
			return fmt.Errorf("postgres: insert unit entity: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// GetEntityIDsForUnit returns the entity IDs linked to unitID.
func (s *Store) GetEntityIDsForUnit(ctx context.Context, bank, unitID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT entity_id FROM unit_entities WHERE unit_id = $1`, unitID)
	if err != nil {
		return nil, fmt.Errorf("postgres: get entity ids for unit: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan entity id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// UpsertEntitiesByName inserts the named entities, upserting on conflict
// over (bank, canonical_name), bumping mention_count and last_seen; returns the
// resulting entity IDs keyed by the input name.
func (s *Store) UpsertEntitiesByName(ctx context.Context, bank string, names []string, at int64) (map[string]string, error) {
	out := make(map[string]string, len(names))
	for _, name := range names {
		id := engine.NewID()
		var gotID string
		err := s.pool.QueryRow(ctx,
			`INSERT INTO entities (id, bank, canonical_name, mention_count, last_seen)
			 VALUES ($1, $2, $3, 1, $4)
			 ON CONFLICT (bank, canonical_name) DO UPDATE SET
			   mention_count = entities.mention_count + 1, last_seen = EXCLUDED.last_seen
			 RETURNING id`,
			id, bank, name, at).Scan(&gotID)
		if err != nil {
			return nil, fmt.Errorf("postgres: upsert entity by name: %w", err)
		}
		out[name] = gotID
	}
	return out, nil
}

// BumpEntities increments mention_count/last_seen for existing entities.
func (s *Store) BumpEntities(ctx context.Context, bank string, ids []string, at int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE entities SET mention_count = mention_count + 1, last_seen = $1 WHERE bank = $2 AND id = ANY($3)`,
		at, bank, ids)
	if err != nil {
		return fmt.Errorf("postgres: bump entities: %w", err)
	}
	return nil
}

// UpsertCooccurrences bumps the cooccurrence count for each entity pair.
func (s *Store) UpsertCooccurrences(ctx context.Context, pairs []engine.EntityCooccurrence) error {
	if len(pairs) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: upsert cooccurrences begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck
	for _, p := range pairs {
		id1, id2 := p.EntityID1, p.EntityID2
		if id1 > id2 {
			id1, id2 = id2, id1
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO entity_cooccurrences (bank, entity_id_1, entity_id_2, cooccurrence_count, last_cooccurred)
			 VALUES ($1, $2, $3, 1, $4)
			 ON CONFLICT (entity_id_1, entity_id_2) DO UPDATE SET
			   cooccurrence_count = entity_cooccurrences.cooccurrence_count + 1,
			   last_cooccurred = EXCLUDED.last_cooccurred`,
			p.Bank, id1, id2, p.LastCooccurred); err != nil {
			return fmt.Errorf("postgres: upsert cooccurrence: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// EntitiesLinkedObservationCount returns, for each entity ID, how many
// bank-scoped observation units are linked to it (auto mental-model
// generation threshold, §4.3).
func (s *Store) EntitiesLinkedObservationCount(ctx context.Context, bank string, entityIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(entityIDs))
	for _, id := range entityIDs {
		counts[id] = 0
	}
	if len(entityIDs) == 0 {
		return counts, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT ue.entity_id, COUNT(*)
		 FROM unit_entities ue
		 JOIN memory_units u ON u.id = ue.unit_id
		 WHERE u.bank = $1 AND u.fact_type = 'observation' AND ue.entity_id = ANY($2)
		 GROUP BY ue.entity_id`, bank, entityIDs)
	if err != nil {
		return nil, fmt.Errorf("postgres: entities linked observation count: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("postgres: scan entity observation count: %w", err)
		}
		counts[id] = n
	}
	return counts, rows.Err()
}
