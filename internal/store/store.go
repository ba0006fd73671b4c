package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite data access layer for grove's 13 enrichment tables.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database at dbPath with WAL mode enabled.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use in transactions.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate creates all enrichment tables and indexes. Idempotent.
func (s *Store) Migrate() error {
	_, err := s.db.Exec(schemaDDL)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const schemaDDL = `
-- Symbol graph tables

CREATE TABLE IF NOT EXISTS symbols (
  id                  INTEGER PRIMARY KEY,
  qualified_name      TEXT NOT NULL UNIQUE,
  name                TEXT NOT NULL,
  kind                TEXT NOT NULL,
  language            TEXT NOT NULL,
  file_path           TEXT,
  start_line          INTEGER,
  end_line            INTEGER,
  signature           TEXT,
  semantic_tags       TEXT DEFAULT '[]',
  complexity_metrics  TEXT,
  semantic_role       TEXT,
  architectural_layer TEXT,
  quality_score       REAL
);

CREATE TABLE IF NOT EXISTS relationships (
  id              INTEGER PRIMARY KEY,
  from_symbol_id  INTEGER NOT NULL REFERENCES symbols(id),
  to_symbol_id    INTEGER NOT NULL REFERENCES symbols(id),
  type            TEXT NOT NULL,
  confidence      REAL NOT NULL DEFAULT 0,
  strength        REAL,
  evidence        TEXT,
  UNIQUE(from_symbol_id, to_symbol_id, type)
);

CREATE TABLE IF NOT EXISTS embeddings (
  id              INTEGER PRIMARY KEY,
  symbol_id       INTEGER NOT NULL UNIQUE REFERENCES symbols(id),
  vector          TEXT NOT NULL,
  dimensions      INTEGER NOT NULL,
  model_version   TEXT,
  metadata        TEXT
);

-- Clustering tables

CREATE TABLE IF NOT EXISTS clusters (
  id                    INTEGER PRIMARY KEY,
  name                  TEXT NOT NULL,
  type                  TEXT NOT NULL,
  centroid              TEXT,
  similarity_threshold  REAL,
  quality               REAL,
  description           TEXT
);

CREATE TABLE IF NOT EXISTS cluster_membership (
  id              INTEGER PRIMARY KEY,
  cluster_id      INTEGER NOT NULL REFERENCES clusters(id),
  symbol_id       INTEGER NOT NULL REFERENCES symbols(id),
  similarity      REAL,
  role            TEXT,
  UNIQUE(cluster_id, symbol_id)
);

-- Insight tables

CREATE TABLE IF NOT EXISTS insights (
  id                  INTEGER PRIMARY KEY,
  type                TEXT NOT NULL,
  category            TEXT,
  severity            TEXT,
  confidence          REAL,
  priority            INTEGER,
  title               TEXT,
  description         TEXT,
  affected_symbol_ids TEXT DEFAULT '[]',
  cluster_id          INTEGER REFERENCES clusters(id),
  metrics             TEXT,
  reasoning           TEXT,
  detected_at         TIMESTAMP,
  status              TEXT DEFAULT 'open'
);

CREATE TABLE IF NOT EXISTS insight_recommendations (
  id                  INTEGER PRIMARY KEY,
  insight_id          INTEGER NOT NULL REFERENCES insights(id),
  action              TEXT NOT NULL,
  description         TEXT,
  effort              TEXT,
  impact              TEXT,
  priority            INTEGER,
  related_symbol_ids  TEXT DEFAULT '[]'
);

-- Clone detection tables

CREATE TABLE IF NOT EXISTS ast_fragments (
  id              INTEGER PRIMARY KEY,
  file_path       TEXT NOT NULL,
  node_type       TEXT NOT NULL,
  start_line      INTEGER NOT NULL,
  end_line        INTEGER NOT NULL,
  structure_hash  TEXT NOT NULL,
  semantic_hash   TEXT NOT NULL,
  token_count     INTEGER NOT NULL,
  complexity      INTEGER NOT NULL,
  parent_context  TEXT,
  UNIQUE(file_path, start_line, node_type)
);

CREATE TABLE IF NOT EXISTS clones (
  id              INTEGER PRIMARY KEY,
  clone_type      INTEGER NOT NULL,
  similarity      REAL NOT NULL,
  fragment1_id    INTEGER NOT NULL REFERENCES ast_fragments(id),
  fragment2_id    INTEGER NOT NULL REFERENCES ast_fragments(id),
  UNIQUE(fragment1_id, fragment2_id, clone_type)
);

CREATE TABLE IF NOT EXISTS clone_groups (
  id                      INTEGER PRIMARY KEY,
  clone_type              INTEGER NOT NULL,
  structure_hash          TEXT NOT NULL,
  member_count            INTEGER NOT NULL,
  total_lines             INTEGER NOT NULL,
  pattern_description     TEXT,
  refactoring_suggestion  TEXT,
  UNIQUE(clone_type, structure_hash)
);

CREATE TABLE IF NOT EXISTS clone_group_members (
  id              INTEGER PRIMARY KEY,
  group_id        INTEGER NOT NULL REFERENCES clone_groups(id),
  fragment_id     INTEGER NOT NULL REFERENCES ast_fragments(id),
  UNIQUE(group_id, fragment_id)
);

CREATE TABLE IF NOT EXISTS antipatterns (
  id              INTEGER PRIMARY KEY,
  pattern_name    TEXT NOT NULL,
  description     TEXT,
  severity        TEXT,
  file_path       TEXT,
  suggestion      TEXT
);

-- Run audit table

CREATE TABLE IF NOT EXISTS enrichment_runs (
  id                    TEXT PRIMARY KEY,
  started_at            TIMESTAMP,
  finished_at           TIMESTAMP,
  symbols_updated       INTEGER DEFAULT 0,
  embeddings_stored     INTEGER DEFAULT 0,
  clusters_stored       INTEGER DEFAULT 0,
  memberships_stored    INTEGER DEFAULT 0,
  insights_stored       INTEGER DEFAULT 0,
  recommendations_stored INTEGER DEFAULT 0,
  relationships_stored  INTEGER DEFAULT 0,
  error_count           INTEGER DEFAULT 0
);

-- Indexes

CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name);
CREATE INDEX IF NOT EXISTS idx_symbols_kind ON symbols(kind);
CREATE INDEX IF NOT EXISTS idx_symbols_file ON symbols(file_path);
CREATE INDEX IF NOT EXISTS idx_relationships_from ON relationships(from_symbol_id);
CREATE INDEX IF NOT EXISTS idx_relationships_to ON relationships(to_symbol_id);
CREATE INDEX IF NOT EXISTS idx_relationships_type ON relationships(type);
CREATE INDEX IF NOT EXISTS idx_embeddings_symbol ON embeddings(symbol_id);
CREATE INDEX IF NOT EXISTS idx_membership_cluster ON cluster_membership(cluster_id);
CREATE INDEX IF NOT EXISTS idx_membership_symbol ON cluster_membership(symbol_id);
CREATE INDEX IF NOT EXISTS idx_insights_cluster ON insights(cluster_id);
CREATE INDEX IF NOT EXISTS idx_recommendations_insight ON insight_recommendations(insight_id);
CREATE INDEX IF NOT EXISTS idx_fragments_structure ON ast_fragments(structure_hash);
CREATE INDEX IF NOT EXISTS idx_fragments_semantic ON ast_fragments(semantic_hash);
CREATE INDEX IF NOT EXISTS idx_fragments_file ON ast_fragments(file_path);
CREATE INDEX IF NOT EXISTS idx_clones_fragment1 ON clones(fragment1_id);
CREATE INDEX IF NOT EXISTS idx_clones_fragment2 ON clones(fragment2_id);
CREATE INDEX IF NOT EXISTS idx_group_members_group ON clone_group_members(group_id);
`
