// Package postgres implements engine.Store using PostgreSQL with pgvector
// for native vector similarity search (HNSW, cosine distance) and pg_trgm
// for trigram keyword search. Every table is bank-scoped: all queries carry
// an explicit bank predicate rather than relying on separate schemas per
// tenant.
//
// The Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	engine "github.com/membank/engine"
)

// Store implements engine.Store backed by PostgreSQL with pgvector.
// Vector search uses HNSW indexes with cosine distance.
type Store struct {
	pool *pgxpool.Pool
	cfg  pgConfig
}

// pgConfig holds store configuration set via Option functions.
type pgConfig struct {
	embeddingDimension int // 0 = untyped vector (current behavior)
	hnswM              int // 0 = pgvector default (16)
	hnswEFConstruction int // 0 = pgvector default (64)
	hnswEFSearch       int // 0 = pgvector default (40)
}

// Option configures a PostgreSQL Store.
type Option func(*pgConfig)

// WithEmbeddingDimension sets the vector column dimension (e.g. 1536, 768).
// When set, CREATE TABLE uses vector(N) instead of untyped vector, enabling
// better index optimization and catching dimension mismatches at insert
// time. Only affects new table creation (no ALTER on existing tables).
func WithEmbeddingDimension(dim int) Option {
	return func(c *pgConfig) { c.embeddingDimension = dim }
}

// WithHNSWM sets the HNSW m parameter (max connections per node). Higher
// values improve recall at the cost of memory. Default: pgvector's 16.
func WithHNSWM(m int) Option {
	return func(c *pgConfig) { c.hnswM = m }
}

// WithEFConstruction sets the HNSW ef_construction parameter (build-time
// candidate list size). Default: pgvector's 64.
func WithEFConstruction(ef int) Option {
	return func(c *pgConfig) { c.hnswEFConstruction = ef }
}

// WithEFSearch sets the HNSW ef_search parameter (query-time candidate list
// size). Default: pgvector's 40. Applied via SET on Init.
func WithEFSearch(ef int) Option {
	return func(c *pgConfig) { c.hnswEFSearch = ef }
}

var _ engine.Store = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool. The caller owns the
// pool and is responsible for closing it.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	var cfg pgConfig
	for _, o := range opts {
		o(&cfg)
	}
	return &Store{pool: pool, cfg: cfg}
}

// vectorType returns "vector" or "vector(N)" depending on config.
func (s *Store) vectorType() string {
	if s.cfg.embeddingDimension > 0 {
		return fmt.Sprintf("vector(%d)", s.cfg.embeddingDimension)
	}
	return "vector"
}

// hnswWithClause returns the WITH (...) clause for HNSW index creation, or
// an empty string if no tuning params are set.
func (s *Store) hnswWithClause() string {
	var parts []string
	if s.cfg.hnswM > 0 {
		parts = append(parts, fmt.Sprintf("m = %d", s.cfg.hnswM))
	}
	if s.cfg.hnswEFConstruction > 0 {
		parts = append(parts, fmt.Sprintf("ef_construction = %d", s.cfg.hnswEFConstruction))
	}
	if len(parts) == 0 {
		return ""
	}
	return " WITH (" + strings.Join(parts, ", ") + ")"
}

// Init creates the pgvector/pg_trgm extensions, all tables, and indexes.
// Safe to call multiple times (all statements are idempotent).
func (s *Store) Init(ctx context.Context) error {
	vtype := s.vectorType()
	hnswWith := s.hnswWithClause()

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE EXTENSION IF NOT EXISTS pg_trgm`,

		`CREATE TABLE IF NOT EXISTS banks (
			id TEXT PRIMARY KEY,
			mission TEXT NOT NULL DEFAULT '',
			disposition_skepticism INTEGER NOT NULL DEFAULT 3,
			disposition_literalism INTEGER NOT NULL DEFAULT 3,
			disposition_empathy INTEGER NOT NULL DEFAULT 3,
			directives JSONB,
			created_at BIGINT NOT NULL
		)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS memory_units (
			id TEXT PRIMARY KEY,
			bank TEXT NOT NULL,
			text TEXT NOT NULL,
			context TEXT NOT NULL DEFAULT '',
			fact_type TEXT NOT NULL,
			fact_kind TEXT NOT NULL DEFAULT '',
			what TEXT NOT NULL DEFAULT '',
			who JSONB,
			when_desc TEXT NOT NULL DEFAULT '',
			where_desc TEXT NOT NULL DEFAULT '',
			why_desc TEXT NOT NULL DEFAULT '',
			event_date BIGINT,
			occurred_start BIGINT,
			occurred_end BIGINT,
			mentioned_at BIGINT NOT NULL,
			created_at BIGINT NOT NULL,
			embedding %s,
			tags JSONB,
			consolidated_at BIGINT,
			proof_count INTEGER NOT NULL DEFAULT 0,
			source_memory_ids JSONB,
			history JSONB,
			freshness_status TEXT NOT NULL DEFAULT ''
		)`, vtype),
		`CREATE INDEX IF NOT EXISTS memory_units_bank_idx ON memory_units(bank)`,
		`CREATE INDEX IF NOT EXISTS memory_units_bank_type_idx ON memory_units(bank, fact_type)`,
		`CREATE INDEX IF NOT EXISTS memory_units_unconsolidated_idx ON memory_units(bank, created_at) WHERE consolidated_at IS NULL AND fact_type IN ('world', 'experience')`,
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS memory_units_embedding_idx ON memory_units USING hnsw (embedding vector_cosine_ops)%s`, hnswWith),
		`CREATE INDEX IF NOT EXISTS memory_units_trgm_text_idx ON memory_units USING gin (text gin_trgm_ops)`,
		`CREATE INDEX IF NOT EXISTS memory_units_trgm_context_idx ON memory_units USING gin (context gin_trgm_ops)`,

		`CREATE TABLE IF NOT EXISTS entities (
			id TEXT PRIMARY KEY,
			bank TEXT NOT NULL,
			canonical_name TEXT NOT NULL,
			entity_type TEXT NOT NULL DEFAULT '',
			mention_count INTEGER NOT NULL DEFAULT 0,
			last_seen BIGINT NOT NULL,
			UNIQUE(bank, canonical_name)
		)`,
		`CREATE INDEX IF NOT EXISTS entities_bank_idx ON entities(bank)`,
		`CREATE INDEX IF NOT EXISTS entities_trgm_name_idx ON entities USING gin (canonical_name gin_trgm_ops)`,

		`CREATE TABLE IF NOT EXISTS unit_entities (
			unit_id TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			PRIMARY KEY (unit_id, entity_id)
		)`,
		`CREATE INDEX IF NOT EXISTS unit_entities_entity_idx ON unit_entities(entity_id)`,

		`CREATE TABLE IF NOT EXISTS entity_cooccurrences (
			bank TEXT NOT NULL,
			entity_id_1 TEXT NOT NULL,
			entity_id_2 TEXT NOT NULL,
			cooccurrence_count INTEGER NOT NULL DEFAULT 0,
			last_cooccurred BIGINT NOT NULL,
			PRIMARY KEY (entity_id_1, entity_id_2)
		)`,
		`CREATE INDEX IF NOT EXISTS entity_cooccurrences_bank_idx ON entity_cooccurrences(bank)`,

		`CREATE TABLE IF NOT EXISTS memory_links (
			bank TEXT NOT NULL,
			from_unit TEXT NOT NULL,
			to_unit TEXT NOT NULL,
			link_type TEXT NOT NULL,
			weight REAL NOT NULL,
			entity_id TEXT NOT NULL DEFAULT '',
			UNIQUE(from_unit, to_unit, link_type, entity_id)
		)`,
		`CREATE INDEX IF NOT EXISTS memory_links_from_idx ON memory_links(bank, link_type, from_unit)`,
		`CREATE INDEX IF NOT EXISTS memory_links_to_idx ON memory_links(bank, link_type, to_unit)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS mental_models (
			id TEXT PRIMARY KEY,
			bank TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			embedding %s,
			source_query TEXT NOT NULL DEFAULT '',
			entity_id TEXT NOT NULL DEFAULT '',
			source_observation_ids JSONB,
			tags JSONB,
			max_tokens INTEGER NOT NULL DEFAULT 0,
			refresh_after_consolidation BOOLEAN NOT NULL DEFAULT FALSE,
			last_refreshed_at BIGINT NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`, vtype),
		`CREATE INDEX IF NOT EXISTS mental_models_bank_idx ON mental_models(bank)`,
		`CREATE INDEX IF NOT EXISTS mental_models_entity_idx ON mental_models(bank, entity_id)`,
		`CREATE INDEX IF NOT EXISTS mental_models_trgm_name_idx ON mental_models USING gin (name gin_trgm_ops)`,
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS mental_models_embedding_idx ON mental_models USING hnsw (embedding vector_cosine_ops)%s`, hnswWith),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunks (
			memory_unit_id TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			text TEXT NOT NULL,
			embedding %s,
			PRIMARY KEY (memory_unit_id, chunk_index)
		)`, vtype),
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}

	if s.cfg.hnswEFSearch > 0 {
		if _, err := s.pool.Exec(ctx, fmt.Sprintf("SET hnsw.ef_search = %d", s.cfg.hnswEFSearch)); err != nil {
			return fmt.Errorf("postgres: set ef_search: %w", err)
		}
	}

	return nil
}

// Close is a no-op. The caller owns the pool and manages its lifecycle.
func (s *Store) Close() error {
	return nil
}

// serializeEmbedding converts []float32 to a string like "[0.1,0.2,0.3]"
// suitable for pgvector's text input format.
func serializeEmbedding(embedding []float32) string {
	if len(embedding) == 0 {
		return ""
	}
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
