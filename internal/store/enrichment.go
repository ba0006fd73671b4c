package store

import (
	"database/sql"
	"fmt"
	"strings"
)

// --- Symbol operations ---

func (s *Store) InsertSymbol(sym *Symbol) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO symbols (qualified_name, name, kind, language, file_path, start_line, end_line,
			signature, semantic_tags, complexity_metrics, semantic_role, architectural_layer, quality_score)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sym.QualifiedName, sym.Name, sym.Kind, sym.Language, sym.FilePath, sym.StartLine, sym.EndLine,
		sym.Signature, marshalStrings(sym.SemanticTags), sym.ComplexityMetrics,
		sym.SemanticRole, sym.ArchitecturalLayer, sym.QualityScore,
	)
	if err != nil {
		return 0, fmt.Errorf("insert symbol: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	sym.ID = id
	return id, nil
}

// UpdateSymbolEnrichmentTx writes derived enrichment fields onto an existing
// symbol. Only non-empty fields overwrite; tags are handled separately by
// AppendSymbolTagsTx.
func UpdateSymbolEnrichmentTx(tx *sql.Tx, symbolID int64, metrics, role, layer string, quality *float64) error {
	_, err := tx.Exec(
		`UPDATE symbols SET
			complexity_metrics  = COALESCE(NULLIF(?, ''), complexity_metrics),
			semantic_role       = COALESCE(NULLIF(?, ''), semantic_role),
			architectural_layer = COALESCE(NULLIF(?, ''), architectural_layer),
			quality_score       = COALESCE(?, quality_score)
		 WHERE id = ?`,
		metrics, role, layer, quality, symbolID,
	)
	if err != nil {
		return fmt.Errorf("update symbol enrichment: %w", err)
	}
	return nil
}

// AppendSymbolTagsTx appends tags to a symbol's semantic_tags set, skipping
// tags already present. Read-modify-write; callers must hold the enclosing
// transaction for the whole run (see the concurrency notes in the package doc).
// Returns true if the row was modified.
func AppendSymbolTagsTx(tx *sql.Tx, symbolID int64, tags []string) (bool, error) {
	var raw string
	err := tx.QueryRow("SELECT semantic_tags FROM symbols WHERE id = ?", symbolID).Scan(&raw)
	if err == sql.ErrNoRows {
		return false, fmt.Errorf("append tags: symbol %d not found", symbolID)
	}
	if err != nil {
		return false, fmt.Errorf("append tags: read: %w", err)
	}

	existing := unmarshalStrings(raw)
	present := make(map[string]bool, len(existing))
	for _, t := range existing {
		present[t] = true
	}

	changed := false
	for _, t := range tags {
		if t == "" || present[t] {
			continue
		}
		existing = append(existing, t)
		present[t] = true
		changed = true
	}
	if !changed {
		return false, nil
	}

	if _, err := tx.Exec("UPDATE symbols SET semantic_tags = ? WHERE id = ?", marshalStrings(existing), symbolID); err != nil {
		return false, fmt.Errorf("append tags: write: %w", err)
	}
	return true, nil
}

// --- Embedding operations ---

// UpsertEmbeddingTx stores or replaces the embedding for a symbol. One
// embedding per symbol; re-running the same enrichment replaces in place.
func UpsertEmbeddingTx(tx *sql.Tx, emb *Embedding) error {
	_, err := tx.Exec(
		`INSERT INTO embeddings (symbol_id, vector, dimensions, model_version, metadata)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(symbol_id) DO UPDATE SET
			vector = excluded.vector,
			dimensions = excluded.dimensions,
			model_version = excluded.model_version,
			metadata = excluded.metadata`,
		emb.SymbolID, marshalVector(emb.Vector), emb.Dimensions, emb.ModelVersion, emb.Metadata,
	)
	if err != nil {
		return fmt.Errorf("upsert embedding: %w", err)
	}
	return nil
}

// --- Cluster operations ---

func InsertClusterTx(tx *sql.Tx, c *Cluster) (int64, error) {
	res, err := tx.Exec(
		`INSERT INTO clusters (name, type, centroid, similarity_threshold, quality, description)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.Name, c.Type, marshalVector(c.Centroid), c.SimilarityThreshold, c.Quality, c.Description,
	)
	if err != nil {
		return 0, fmt.Errorf("insert cluster: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	c.ID = id
	return id, nil
}

func InsertMembershipTx(tx *sql.Tx, m *ClusterMembership) error {
	_, err := tx.Exec(
		`INSERT OR IGNORE INTO cluster_membership (cluster_id, symbol_id, similarity, role)
		 VALUES (?, ?, ?, ?)`,
		m.ClusterID, m.SymbolID, m.Similarity, m.Role,
	)
	if err != nil {
		return fmt.Errorf("insert membership: %w", err)
	}
	return nil
}

// --- Insight operations ---

func InsertInsightTx(tx *sql.Tx, ins *Insight) (int64, error) {
	res, err := tx.Exec(
		`INSERT INTO insights (type, category, severity, confidence, priority, title, description,
			affected_symbol_ids, cluster_id, metrics, reasoning, detected_at, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ins.Type, ins.Category, ins.Severity, ins.Confidence, ins.Priority, ins.Title, ins.Description,
		marshalInt64s(ins.AffectedSymbolIDs), ins.ClusterID, ins.Metrics, ins.Reasoning,
		ins.DetectedAt, ins.Status,
	)
	if err != nil {
		return 0, fmt.Errorf("insert insight: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	ins.ID = id
	return id, nil
}

func InsertRecommendationTx(tx *sql.Tx, rec *Recommendation) (int64, error) {
	res, err := tx.Exec(
		`INSERT INTO insight_recommendations (insight_id, action, description, effort, impact, priority, related_symbol_ids)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.InsightID, rec.Action, rec.Description, rec.Effort, rec.Impact, rec.Priority,
		marshalInt64s(rec.RelatedSymbolIDs),
	)
	if err != nil {
		return 0, fmt.Errorf("insert recommendation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	rec.ID = id
	return id, nil
}

// --- Relationship operations ---

const relationshipInsertCols = "from_symbol_id, to_symbol_id, type, confidence, strength, evidence"

// InsertRelationshipTx inserts a single relationship with insert-or-ignore
// semantics. Returns true if a new row was written.
func InsertRelationshipTx(tx *sql.Tx, r *Relationship) (bool, error) {
	res, err := tx.Exec(
		`INSERT OR IGNORE INTO relationships (`+relationshipInsertCols+`) VALUES (?, ?, ?, ?, ?, ?)`,
		r.FromSymbolID, r.ToSymbolID, r.Type, r.Confidence, r.Strength, r.Evidence,
	)
	if err != nil {
		return false, fmt.Errorf("insert relationship: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// InsertRelationshipsBatchTx inserts a batch of relationships in a single
// multi-row INSERT OR IGNORE statement. SQLite does not report which logical
// rows were ignored for conflict, so callers count attempts, not rows.
func InsertRelationshipsBatchTx(tx *sql.Tx, rels []*Relationship) error {
	if len(rels) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString("INSERT OR IGNORE INTO relationships (" + relationshipInsertCols + ") VALUES ")
	args := make([]any, 0, len(rels)*6)
	for i, r := range rels {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?)")
		args = append(args, r.FromSymbolID, r.ToSymbolID, r.Type, r.Confidence, r.Strength, r.Evidence)
	}
	if _, err := tx.Exec(sb.String(), args...); err != nil {
		return fmt.Errorf("insert relationship batch: %w", err)
	}
	return nil
}

// --- Clone detection operations ---

// UpsertFragmentTx inserts an AST fragment or, if one already exists for the
// same (file_path, start_line, node_type), refreshes its hashes and returns
// the existing row id.
func UpsertFragmentTx(tx *sql.Tx, f *Fragment) (int64, error) {
	_, err := tx.Exec(
		`INSERT INTO ast_fragments (file_path, node_type, start_line, end_line, structure_hash,
			semantic_hash, token_count, complexity, parent_context)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(file_path, start_line, node_type) DO UPDATE SET
			end_line = excluded.end_line,
			structure_hash = excluded.structure_hash,
			semantic_hash = excluded.semantic_hash,
			token_count = excluded.token_count,
			complexity = excluded.complexity,
			parent_context = excluded.parent_context`,
		f.FilePath, f.NodeType, f.StartLine, f.EndLine, f.StructureHash,
		f.SemanticHash, f.TokenCount, f.Complexity, f.ParentContext,
	)
	if err != nil {
		return 0, fmt.Errorf("upsert fragment: %w", err)
	}
	// On conflict-update, LastInsertId would not reflect the existing row;
	// resolve the id explicitly.
	var id int64
	err = tx.QueryRow(
		"SELECT id FROM ast_fragments WHERE file_path = ? AND start_line = ? AND node_type = ?",
		f.FilePath, f.StartLine, f.NodeType,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("resolve fragment id: %w", err)
	}
	f.ID = id
	return id, nil
}

// InsertCloneTx stores a clone pair with insert-or-ignore semantics. The
// caller must order fragment1_id < fragment2_id (canonical pair ordering).
func InsertCloneTx(tx *sql.Tx, c *Clone) (bool, error) {
	res, err := tx.Exec(
		`INSERT OR IGNORE INTO clones (clone_type, similarity, fragment1_id, fragment2_id)
		 VALUES (?, ?, ?, ?)`,
		c.CloneType, c.Similarity, c.Fragment1ID, c.Fragment2ID,
	)
	if err != nil {
		return false, fmt.Errorf("insert clone: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// UpsertCloneGroupTx stores a clone group keyed by (clone_type,
// structure_hash), refreshing its derived fields on re-run.
func UpsertCloneGroupTx(tx *sql.Tx, g *CloneGroup) (int64, error) {
	_, err := tx.Exec(
		`INSERT INTO clone_groups (clone_type, structure_hash, member_count, total_lines,
			pattern_description, refactoring_suggestion)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(clone_type, structure_hash) DO UPDATE SET
			member_count = excluded.member_count,
			total_lines = excluded.total_lines,
			pattern_description = excluded.pattern_description,
			refactoring_suggestion = excluded.refactoring_suggestion`,
		g.CloneType, g.StructureHash, g.MemberCount, g.TotalLines,
		g.PatternDescription, g.RefactoringSuggestion,
	)
	if err != nil {
		return 0, fmt.Errorf("upsert clone group: %w", err)
	}
	var id int64
	err = tx.QueryRow(
		"SELECT id FROM clone_groups WHERE clone_type = ? AND structure_hash = ?",
		g.CloneType, g.StructureHash,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("resolve clone group id: %w", err)
	}
	g.ID = id
	return id, nil
}

func InsertGroupMemberTx(tx *sql.Tx, groupID, fragmentID int64) error {
	_, err := tx.Exec(
		"INSERT OR IGNORE INTO clone_group_members (group_id, fragment_id) VALUES (?, ?)",
		groupID, fragmentID,
	)
	if err != nil {
		return fmt.Errorf("insert group member: %w", err)
	}
	return nil
}

func InsertAntiPatternTx(tx *sql.Tx, ap *AntiPattern) (int64, error) {
	res, err := tx.Exec(
		`INSERT INTO antipatterns (pattern_name, description, severity, file_path, suggestion)
		 VALUES (?, ?, ?, ?, ?)`,
		ap.PatternName, ap.Description, ap.Severity, ap.FilePath, ap.Suggestion,
	)
	if err != nil {
		return 0, fmt.Errorf("insert antipattern: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	ap.ID = id
	return id, nil
}

// ClearAntiPatternsTx removes all derived anti-pattern rows. Anti-patterns
// are recomputed from scratch on every clone detection pass.
func ClearAntiPatternsTx(tx *sql.Tx) error {
	if _, err := tx.Exec("DELETE FROM antipatterns"); err != nil {
		return fmt.Errorf("clear antipatterns: %w", err)
	}
	return nil
}

// --- Run audit ---

// InsertRun records a completed enrichment run. Called outside the main
// transaction so a rolled-back run still leaves an audit trail.
func (s *Store) InsertRun(run *EnrichmentRun) error {
	_, err := s.db.Exec(
		`INSERT INTO enrichment_runs (id, started_at, finished_at, symbols_updated, embeddings_stored,
			clusters_stored, memberships_stored, insights_stored, recommendations_stored,
			relationships_stored, error_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt, run.FinishedAt, run.SymbolsUpdated, run.EmbeddingsStored,
		run.ClustersStored, run.MembershipsStored, run.InsightsStored, run.RecommendationsStored,
		run.RelationshipsStored, run.ErrorCount,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}
