package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	engine "github.com/membank/engine"
)

const mentalModelColumns = `id, bank, name, description, content, source_query, entity_id,
	source_observation_ids, tags, max_tokens, refresh_after_consolidation, last_refreshed_at,
	created_at, updated_at, embedding::text`

func scanMentalModel(row pgx.Row) (engine.MentalModel, error) {
	var m engine.MentalModel
	var sourceIDs, tags []byte
	var embText *string
	err := row.Scan(&m.ID, &m.Bank, &m.Name, &m.Description, &m.Content, &m.SourceQuery, &m.EntityID,
		&sourceIDs, &tags, &m.MaxTokens, &m.Trigger.RefreshAfterConsolidation, &m.LastRefreshedAt,
		&m.CreatedAt, &m.UpdatedAt, &embText)
	if err != nil {
		return engine.MentalModel{}, err
	}
	unmarshalStrings(sourceIDs, &m.SourceObservationIDs)
	unmarshalStrings(tags, &m.Tags)
	m.Embedding = parseEmbedding(embText)
	return m, nil
}

// InsertMentalModel inserts a new MentalModel.
func (s *Store) InsertMentalModel(ctx context.Context, m engine.MentalModel) error {
	if m.ID == "" {
		m.ID = engine.NewID()
	}
	var embStr *string
	if e := serializeEmbedding(m.Embedding); e != "" {
		embStr = &e
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO mental_models (id, bank, name, description, content, embedding, source_query,
			entity_id, source_observation_ids, tags, max_tokens, refresh_after_consolidation,
			last_refreshed_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6::vector, $7, $8, $9::jsonb, $10::jsonb, $11, $12, $13, $14, $15)`,
		m.ID, m.Bank, m.Name, m.Description, m.Content, embStr, m.SourceQuery, m.EntityID,
		jsonOrNil(m.SourceObservationIDs), jsonOrNil(m.Tags), m.MaxTokens, m.Trigger.RefreshAfterConsolidation,
		m.LastRefreshedAt, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert mental model: %w", err)
	}
	return nil
}

// UpdateMentalModel overwrites a MentalModel's content/embedding/source
// observation ids after a refresh (§4.3).
func (s *Store) UpdateMentalModel(ctx context.Context, m engine.MentalModel) error {
	var embStr *string
	if e := serializeEmbedding(m.Embedding); e != "" {
		embStr = &e
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE mental_models SET content=$1, embedding=$2::vector, source_observation_ids=$3::jsonb,
			last_refreshed_at=$4, updated_at=$5
		 WHERE id = $6 AND bank = $7`,
		m.Content, embStr, jsonOrNil(m.SourceObservationIDs), m.LastRefreshedAt, m.UpdatedAt, m.ID, m.Bank)
	if err != nil {
		return fmt.Errorf("postgres: update mental model: %w", err)
	}
	return nil
}

// DeleteMentalModel removes a MentalModel by ID.
func (s *Store) DeleteMentalModel(ctx context.Context, bank, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM mental_models WHERE bank = $1 AND id = $2`, bank, id)
	if err != nil {
		return fmt.Errorf("postgres: delete mental model: %w", err)
	}
	return nil
}

// GetMentalModelsByTrigger returns up to limit MentalModels in bank whose
// refresh_after_consolidation flag matches (§4.3 refresh pass).
func (s *Store) GetMentalModelsByTrigger(ctx context.Context, bank string, refreshAfterConsolidation bool, limit int) ([]engine.MentalModel, error) {
	if limit <= 0 {
		limit = 1 << 30
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM mental_models
		WHERE bank = $1 AND refresh_after_consolidation = $2
		LIMIT $3`, mentalModelColumns), bank, refreshAfterConsolidation, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: get mental models by trigger: %w", err)
	}
	defer rows.Close()

	var out []engine.MentalModel
	for rows.Next() {
		m, err := scanMentalModel(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan mental model: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetMentalModelByEntity returns the MentalModel tied to entityID, if any
// (auto-generation's by-entity existence check, §4.3).
func (s *Store) GetMentalModelByEntity(ctx context.Context, bank, entityID string) (engine.MentalModel, bool, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM mental_models WHERE bank = $1 AND entity_id = $2`, mentalModelColumns), bank, entityID)
	m, err := scanMentalModel(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return engine.MentalModel{}, false, nil
		}
		return engine.MentalModel{}, false, fmt.Errorf("postgres: get mental model by entity: %w", err)
	}
	return m, true, nil
}

// FindMentalModelByNameSimilarity returns a MentalModel whose name has
// trigram similarity >= minScore to name (auto-generation's dedup check,
// §4.3).
func (s *Store) FindMentalModelByNameSimilarity(ctx context.Context, bank, name string, minScore float32) (engine.MentalModel, bool, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM mental_models
		WHERE bank = $1 AND similarity(name, $2) >= $3
		ORDER BY similarity(name, $2) DESC
		LIMIT 1`, mentalModelColumns), bank, name, minScore)
	m, err := scanMentalModel(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return engine.MentalModel{}, false, nil
		}
		return engine.MentalModel{}, false, fmt.Errorf("postgres: find mental model by name similarity: %w", err)
	}
	return m, true, nil
}

// buildTagFilter translates a TagMatch mode into a SQL predicate against a
// jsonb tags column (§4.9 "Tag filter semantics"). Non-strict modes pass
// through untagged items; strict modes require a tag match. The column name
// is never interpolated from caller input — always the literal "tags".
func buildTagFilter(tags []string, mode engine.TagMatch, nextParam int) (string, []any, int) {
	if len(tags) == 0 {
		return "", nil, nextParam
	}
	untaggedClause := " OR tags IS NULL OR jsonb_array_length(tags) = 0"
	switch mode {
	case engine.TagMatchAnyStrict:
		return fmt.Sprintf(" AND (tags ?| $%d)", nextParam), []any{tags}, nextParam + 1
	case engine.TagMatchAllStrict:
		return fmt.Sprintf(" AND (tags ?& $%d)", nextParam), []any{tags}, nextParam + 1
	case engine.TagMatchAll:
		return fmt.Sprintf(" AND (tags ?& $%d%s)", nextParam, untaggedClause), []any{tags}, nextParam + 1
	default: // TagMatchAny
		return fmt.Sprintf(" AND (tags ?| $%d%s)", nextParam, untaggedClause), []any{tags}, nextParam + 1
	}
}

// SearchMentalModels returns MentalModels ranked by cosine similarity, above
// minScore, filtered by tags/tagMatch and excluding excludeIDs (§4.9 tool
// search_mental_models).
func (s *Store) SearchMentalModels(ctx context.Context, bank string, embedding []float32, minScore float32, limit int, tags []string, tagMatch engine.TagMatch, excludeIDs []string) ([]engine.ScoredModel, error) {
	embStr := serializeEmbedding(embedding)
	if limit <= 0 {
		limit = 1 << 30
	}
	excludeClause := ""
	args := []any{embStr, bank, minScore}
	next := 4
	if len(excludeIDs) > 0 {
		excludeClause = fmt.Sprintf(" AND NOT (id = ANY($%d))", next)
		args = append(args, excludeIDs)
		next++
	}
	tagClause, tagArgs, _ := buildTagFilter(tags, tagMatch, next)
	args = append(args, tagArgs...)
	args = append(args, limit)

	q := fmt.Sprintf(`
		SELECT %s, 1 - (embedding <=> $1::vector) AS score
		FROM mental_models
		WHERE bank = $2 AND embedding IS NOT NULL AND 1 - (embedding <=> $1::vector) >= $3%s%s
		ORDER BY score DESC
		LIMIT $%d`, mentalModelColumns, excludeClause, tagClause, len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: search mental models: %w", err)
	}
	defer rows.Close()

	var out []engine.ScoredModel
	for rows.Next() {
		var m engine.MentalModel
		var sourceIDs, tagsRaw []byte
		var embText *string
		var score float32
		err := rows.Scan(&m.ID, &m.Bank, &m.Name, &m.Description, &m.Content, &m.SourceQuery, &m.EntityID,
			&sourceIDs, &tagsRaw, &m.MaxTokens, &m.Trigger.RefreshAfterConsolidation, &m.LastRefreshedAt,
			&m.CreatedAt, &m.UpdatedAt, &embText, &score)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan scored mental model: %w", err)
		}
		unmarshalStrings(sourceIDs, &m.SourceObservationIDs)
		unmarshalStrings(tagsRaw, &m.Tags)
		m.Embedding = parseEmbedding(embText)
		out = append(out, engine.ScoredModel{MentalModel: m, Score: score})
	}
	return out, rows.Err()
}
