package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	engine "github.com/membank/engine"
)

const unitColumns = `id, bank, text, context, fact_type, fact_kind, what, who, when_desc, where_desc,
	why_desc, event_date, occurred_start, occurred_end, mentioned_at, created_at, tags,
	consolidated_at, proof_count, source_memory_ids, history, freshness_status, embedding::text`

// queryer is satisfied by both *pgxpool.Pool and pgx.Tx, letting unit writes
// run inside or outside a transaction (PersistFact vs. InsertUnit).
type queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func scanUnit(row pgx.Row) (engine.MemoryUnit, error) {
	var u engine.MemoryUnit
	var factKind, freshness string
	var who, tags, sourceIDs, history []byte
	var embText *string
	err := row.Scan(&u.ID, &u.Bank, &u.Text, &u.Context, &u.FactType, &factKind, &u.What, &who,
		&u.WhenDesc, &u.WhereDesc, &u.WhyDesc, &u.EventDate, &u.OccurredStart, &u.OccurredEnd,
		&u.MentionedAt, &u.CreatedAt, &tags, &u.ConsolidatedAt, &u.ProofCount, &sourceIDs, &history,
		&freshness, &embText)
	if err != nil {
		return engine.MemoryUnit{}, err
	}
	u.FactKind = engine.FactKind(factKind)
	u.FreshnessStatus = engine.FreshnessStatus(freshness)
	unmarshalStrings(who, &u.Who)
	unmarshalStrings(tags, &u.Tags)
	unmarshalStrings(sourceIDs, &u.SourceMemoryIDs)
	unmarshalHistory(history, &u.History)
	u.Embedding = parseEmbedding(embText)
	return u, nil
}

func scanUnits(rows pgx.Rows) ([]engine.MemoryUnit, error) {
	var out []engine.MemoryUnit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan unit: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func parseEmbedding(s *string) []float32 {
	if s == nil || *s == "" {
		return nil
	}
	trimmed := strings.Trim(*s, "[]")
	if trimmed == "" {
		return nil
	}
	parts := strings.Split(trimmed, ",")
	out := make([]float32, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil
		}
		out = append(out, float32(f))
	}
	return out
}

// InsertUnit inserts a raw MemoryUnit (or Observation) with no entity
// linking — used by consolidation for new observation records and by
// tests; Retain's fact path uses PersistFact instead.
func (s *Store) InsertUnit(ctx context.Context, u engine.MemoryUnit) error {
	_, err := execInsertUnit(ctx, s.pool, u)
	return err
}

func execInsertUnit(ctx context.Context, q queryer, u engine.MemoryUnit) (engine.MemoryUnit, error) {
	if u.ID == "" {
		u.ID = engine.NewID()
	}
	var embStr *string
	if e := serializeEmbedding(u.Embedding); e != "" {
		embStr = &e
	}
	_, err := q.Exec(ctx,
		`INSERT INTO memory_units (id, bank, text, context, fact_type, fact_kind, what, who,
			when_desc, where_desc, why_desc, event_date, occurred_start, occurred_end,
			mentioned_at, created_at, embedding, tags, consolidated_at, proof_count,
			source_memory_ids, history, freshness_status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, $10, $11, $12, $13, $14, $15, $16,
			$17::vector, $18::jsonb, $19, $20, $21::jsonb, $22::jsonb, $23)
		 ON CONFLICT (id) DO UPDATE SET
			text = EXCLUDED.text, context = EXCLUDED.context, fact_type = EXCLUDED.fact_type,
			fact_kind = EXCLUDED.fact_kind, what = EXCLUDED.what, who = EXCLUDED.who,
			when_desc = EXCLUDED.when_desc, where_desc = EXCLUDED.where_desc, why_desc = EXCLUDED.why_desc,
			event_date = EXCLUDED.event_date, occurred_start = EXCLUDED.occurred_start,
			occurred_end = EXCLUDED.occurred_end, mentioned_at = EXCLUDED.mentioned_at,
			embedding = EXCLUDED.embedding, tags = EXCLUDED.tags, consolidated_at = EXCLUDED.consolidated_at,
			proof_count = EXCLUDED.proof_count, source_memory_ids = EXCLUDED.source_memory_ids,
			history = EXCLUDED.history, freshness_status = EXCLUDED.freshness_status`,
		u.ID, u.Bank, u.Text, u.Context, string(u.FactType), string(u.FactKind), u.What, jsonOrNil(u.Who),
		u.WhenDesc, u.WhereDesc, u.WhyDesc, u.EventDate, u.OccurredStart, u.OccurredEnd,
		u.MentionedAt, u.CreatedAt, embStr, jsonOrNil(u.Tags), u.ConsolidatedAt, u.ProofCount,
		jsonOrNil(u.SourceMemoryIDs), jsonOrNil(u.History), string(u.FreshnessStatus))
	if err != nil {
		return engine.MemoryUnit{}, fmt.Errorf("postgres: insert unit: %w", err)
	}
	return u, nil
}

// GetUnit returns a single MemoryUnit by ID, scoped to bank.
func (s *Store) GetUnit(ctx context.Context, bank, id string) (engine.MemoryUnit, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM memory_units WHERE bank = $1 AND id = $2`, unitColumns), bank, id)
	u, err := scanUnit(row)
	if err != nil {
		return engine.MemoryUnit{}, notFound("unit", id)
	}
	return u, nil
}

// GetUnitsByIDs returns the units matching ids, scoped to bank. Missing ids
// are silently omitted.
func (s *Store) GetUnitsByIDs(ctx context.Context, bank string, ids []string) ([]engine.MemoryUnit, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM memory_units WHERE bank = $1 AND id = ANY($2)`, unitColumns), bank, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres: get units by ids: %w", err)
	}
	defer rows.Close()
	return scanUnits(rows)
}

// UpdateObservation overwrites an Observation's mutable fields (text,
// embedding, proof_count, source_memory_ids, history, temporal envelope)
// after consolidation merges a new fact into it (§4.3 step c).
func (s *Store) UpdateObservation(ctx context.Context, u engine.MemoryUnit) error {
	var embStr *string
	if e := serializeEmbedding(u.Embedding); e != "" {
		embStr = &e
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE memory_units SET text=$1, context=$2, embedding=$3::vector, proof_count=$4,
			source_memory_ids=$5::jsonb, history=$6::jsonb, event_date=$7, occurred_start=$8,
			occurred_end=$9, freshness_status=$10
		 WHERE id = $11 AND bank = $12`,
		u.Text, u.Context, embStr, u.ProofCount, jsonOrNil(u.SourceMemoryIDs), jsonOrNil(u.History),
		u.EventDate, u.OccurredStart, u.OccurredEnd, string(u.FreshnessStatus), u.ID, u.Bank)
	if err != nil {
		return fmt.Errorf("postgres: update observation: %w", err)
	}
	return nil
}

// MarkConsolidated stamps consolidated_at on success; left untouched (NULL)
// on adjudication error so the fact is retried next iteration (§4.3).
func (s *Store) MarkConsolidated(ctx context.Context, bank, id string, at int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE memory_units SET consolidated_at = $1 WHERE bank = $2 AND id = $3`, at, bank, id)
	if err != nil {
		return fmt.Errorf("postgres: mark consolidated: %w", err)
	}
	return nil
}

// SetFreshness updates an observation's freshness_status (§4.8).
func (s *Store) SetFreshness(ctx context.Context, bank, id string, status engine.FreshnessStatus) error {
	_, err := s.pool.Exec(ctx, `UPDATE memory_units SET freshness_status = $1 WHERE bank = $2 AND id = $3`, string(status), bank, id)
	if err != nil {
		return fmt.Errorf("postgres: set freshness: %w", err)
	}
	return nil
}

// buildFactTypeFilter appends `AND fact_type = ANY($n)` when filter.FactTypes
// is non-empty, returning the clause, its args, and the next placeholder
// index.
func buildFactTypeFilter(filter engine.UnitFilter, nextParam int) (string, []any, int) {
	if len(filter.FactTypes) == 0 {
		return "", nil, nextParam
	}
	types := make([]string, len(filter.FactTypes))
	for i, t := range filter.FactTypes {
		types[i] = string(t)
	}
	clause := fmt.Sprintf(" AND fact_type = ANY($%d)", nextParam)
	return clause, []any{types}, nextParam + 1
}

// SearchUnitsSemantic returns units ranked by cosine similarity to
// embedding, above minScore, balanced per fact_type via ROW_NUMBER()
// partitioning when perTypeLimit > 0 (§4.2 phase A semantic leg).
func (s *Store) SearchUnitsSemantic(ctx context.Context, bank string, embedding []float32, minScore float32, perTypeLimit, totalLimit int, filter engine.UnitFilter) ([]engine.ScoredUnit, error) {
	embStr := serializeEmbedding(embedding)
	typeClause, typeArgs, next := buildFactTypeFilter(filter, 4)

	perTypePredicate := ""
	if perTypeLimit > 0 {
		perTypePredicate = fmt.Sprintf(" AND rn <= %d", perTypeLimit)
	}
	if totalLimit <= 0 {
		totalLimit = 1 << 30
	}

	q := fmt.Sprintf(`
		WITH scored AS (
			SELECT %s, 1 - (embedding <=> $1::vector) AS score,
			       ROW_NUMBER() OVER (PARTITION BY fact_type ORDER BY embedding <=> $1::vector) AS rn
			FROM memory_units
			WHERE bank = $2 AND embedding IS NOT NULL AND 1 - (embedding <=> $1::vector) >= $3%s
		)
		SELECT %s, score FROM scored
		WHERE TRUE%s
		ORDER BY score DESC
		LIMIT $%d`, unitColumns, typeClause, unitColumns, perTypePredicate, next)

	args := []any{embStr, bank, minScore}
	args = append(args, typeArgs...)
	args = append(args, totalLimit)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: search units semantic: %w", err)
	}
	defer rows.Close()
	return scanScoredUnits(rows)
}

func scanScoredUnits(rows pgx.Rows) ([]engine.ScoredUnit, error) {
	var out []engine.ScoredUnit
	for rows.Next() {
		var u engine.MemoryUnit
		var factKind, freshness string
		var who, tags, sourceIDs, history []byte
		var embText *string
		var score float32
		err := rows.Scan(&u.ID, &u.Bank, &u.Text, &u.Context, &u.FactType, &factKind, &u.What, &who,
			&u.WhenDesc, &u.WhereDesc, &u.WhyDesc, &u.EventDate, &u.OccurredStart, &u.OccurredEnd,
			&u.MentionedAt, &u.CreatedAt, &tags, &u.ConsolidatedAt, &u.ProofCount, &sourceIDs, &history,
			&freshness, &embText, &score)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan scored unit: %w", err)
		}
		u.FactKind = engine.FactKind(factKind)
		u.FreshnessStatus = engine.FreshnessStatus(freshness)
		unmarshalStrings(who, &u.Who)
		unmarshalStrings(tags, &u.Tags)
		unmarshalStrings(sourceIDs, &u.SourceMemoryIDs)
		unmarshalHistory(history, &u.History)
		u.Embedding = parseEmbedding(embText)
		out = append(out, engine.ScoredUnit{MemoryUnit: u, Score: score})
	}
	return out, rows.Err()
}

// SearchUnitsKeyword scores units by trigram similarity of each keyword
// against text/context, taking the max per unit across keywords (§4.2 phase
// A keyword leg).
func (s *Store) SearchUnitsKeyword(ctx context.Context, bank string, keywords []string, perTypeLimit, totalLimit int, filter engine.UnitFilter) ([]engine.ScoredUnit, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	typeClause, typeArgs, next := buildFactTypeFilter(filter, 3)

	perTypePredicate := ""
	if perTypeLimit > 0 {
		perTypePredicate = fmt.Sprintf(" AND rn <= %d", perTypeLimit)
	}
	if totalLimit <= 0 {
		totalLimit = 1 << 30
	}

	q := fmt.Sprintf(`
		WITH scored AS (
			SELECT %s,
			       GREATEST(
			           (SELECT MAX(similarity(text, kw)) FROM unnest($1::text[]) kw),
			           (SELECT MAX(similarity(context, kw)) FROM unnest($1::text[]) kw)
			       ) AS score,
			       ROW_NUMBER() OVER (
			           PARTITION BY fact_type
			           ORDER BY GREATEST(
			               (SELECT MAX(similarity(text, kw)) FROM unnest($1::text[]) kw),
			               (SELECT MAX(similarity(context, kw)) FROM unnest($1::text[]) kw)
			           ) DESC
			       ) AS rn
			FROM memory_units
			WHERE bank = $2%s
		)
		SELECT %s, score FROM scored
		WHERE score > 0%s
		ORDER BY score DESC
		LIMIT $%d`, unitColumns, typeClause, unitColumns, perTypePredicate, next)

	args := []any{keywords, bank}
	args = append(args, typeArgs...)
	args = append(args, totalLimit)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: search units keyword: %w", err)
	}
	defer rows.Close()
	return scanScoredUnits(rows)
}

// SearchUnitsTemporal returns units whose best-time falls in window, above
// minScore similarity to embedding (§4.5 phase 1).
func (s *Store) SearchUnitsTemporal(ctx context.Context, bank string, embedding []float32, window engine.TemporalWindow, minScore float32, limit int, filter engine.UnitFilter) ([]engine.ScoredUnit, error) {
	embStr := serializeEmbedding(embedding)
	typeClause, typeArgs, next := buildFactTypeFilter(filter, 6)
	if limit <= 0 {
		limit = 1 << 30
	}

	q := fmt.Sprintf(`
		SELECT %s, 1 - (embedding <=> $1::vector) AS score
		FROM memory_units
		WHERE bank = $2 AND embedding IS NOT NULL
		  AND 1 - (embedding <=> $1::vector) >= $3
		  AND COALESCE(event_date, occurred_start, mentioned_at) BETWEEN $4 AND $5%s
		ORDER BY score DESC
		LIMIT $%d`, unitColumns, typeClause, next)

	args := []any{embStr, bank, minScore, window.Start, window.End}
	args = append(args, typeArgs...)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: search units temporal: %w", err)
	}
	defer rows.Close()
	return scanScoredUnits(rows)
}

// UnconsolidatedBatch returns up to limit units with consolidated_at IS NULL
// and fact_type IN (world, experience), oldest created_at first (§4.3).
func (s *Store) UnconsolidatedBatch(ctx context.Context, bank string, limit int) ([]engine.MemoryUnit, error) {
	if limit <= 0 {
		limit = 1 << 30
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM memory_units
		WHERE bank = $1 AND consolidated_at IS NULL AND fact_type IN ('world', 'experience')
		ORDER BY created_at ASC
		LIMIT $2`, unitColumns), bank, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: unconsolidated batch: %w", err)
	}
	defer rows.Close()
	return scanUnits(rows)
}

// ListObservations returns every fact_type='observation' unit in bank, for
// the post-iteration freshness batch pass (§4.8).
func (s *Store) ListObservations(ctx context.Context, bank string) ([]engine.MemoryUnit, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM memory_units WHERE bank = $1 AND fact_type = 'observation'`, unitColumns), bank)
	if err != nil {
		return nil, fmt.Errorf("postgres: list observations: %w", err)
	}
	defer rows.Close()
	return scanUnits(rows)
}

// FindSimilarUnit returns one existing unit of the given fact_kind whose
// embedding cosine similarity is >= minScore, for Retain's deduplication
// check (§4.1 step 3). When window is non-nil the search is restricted to
// units whose best-time falls in the window.
func (s *Store) FindSimilarUnit(ctx context.Context, bank string, kind engine.FactKind, window *engine.TemporalWindow, embedding []float32, minScore float32) (engine.MemoryUnit, bool, error) {
	embStr := serializeEmbedding(embedding)
	q := fmt.Sprintf(`
		SELECT %s FROM memory_units
		WHERE bank = $1 AND fact_kind = $2 AND embedding IS NOT NULL
		  AND 1 - (embedding <=> $3::vector) >= $4`, unitColumns)
	args := []any{bank, string(kind), embStr, minScore}
	if window != nil {
		q += fmt.Sprintf(" AND COALESCE(event_date, occurred_start, mentioned_at) BETWEEN $%d AND $%d", len(args)+1, len(args)+2)
		args = append(args, window.Start, window.End)
	}
	q += " ORDER BY embedding <=> $3::vector LIMIT 1"

	row := s.pool.QueryRow(ctx, q, args...)
	u, err := scanUnit(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return engine.MemoryUnit{}, false, nil
		}
		return engine.MemoryUnit{}, false, fmt.Errorf("postgres: find similar unit: %w", err)
	}
	return u, true, nil
}
