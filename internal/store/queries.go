package store

import (
	"database/sql"
	"fmt"
)

// SymbolCols is the column list for symbol queries.
const SymbolCols = `id, qualified_name, name, kind, language, file_path, start_line, end_line,
	signature, semantic_tags, complexity_metrics, semantic_role, architectural_layer, quality_score`

func (s *Store) scanSymbol(scanner interface{ Scan(...any) error }) (*Symbol, error) {
	sym := &Symbol{}
	var tags string
	var metrics, role, layer sql.NullString
	err := scanner.Scan(
		&sym.ID, &sym.QualifiedName, &sym.Name, &sym.Kind, &sym.Language, &sym.FilePath,
		&sym.StartLine, &sym.EndLine, &sym.Signature, &tags, &metrics, &role, &layer, &sym.QualityScore,
	)
	if err != nil {
		return nil, err
	}
	sym.SemanticTags = unmarshalStrings(tags)
	sym.ComplexityMetrics = metrics.String
	sym.SemanticRole = role.String
	sym.ArchitecturalLayer = layer.String
	return sym, nil
}

func (s *Store) querySymbols(query string, args ...any) ([]*Symbol, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var symbols []*Symbol
	for rows.Next() {
		sym, err := s.scanSymbol(rows)
		if err != nil {
			return nil, fmt.Errorf("scan symbol: %w", err)
		}
		symbols = append(symbols, sym)
	}
	return symbols, rows.Err()
}

func (s *Store) AllSymbols() ([]*Symbol, error) {
	return s.querySymbols("SELECT " + SymbolCols + " FROM symbols ORDER BY id")
}

func (s *Store) SymbolByID(id int64) (*Symbol, error) {
	sym, err := s.scanSymbol(s.db.QueryRow("SELECT "+SymbolCols+" FROM symbols WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("symbol by id: %w", err)
	}
	return sym, nil
}

func (s *Store) SymbolByQualifiedName(qname string) (*Symbol, error) {
	sym, err := s.scanSymbol(s.db.QueryRow("SELECT "+SymbolCols+" FROM symbols WHERE qualified_name = ?", qname))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("symbol by qualified name: %w", err)
	}
	return sym, nil
}

// SymbolKeyToID returns the qualified_name -> id mapping for every symbol.
// This is the durable-id map handed to the persistence coordinator.
func (s *Store) SymbolKeyToID() (map[string]int64, error) {
	rows, err := s.db.Query("SELECT qualified_name, id FROM symbols")
	if err != nil {
		return nil, fmt.Errorf("symbol key map: %w", err)
	}
	defer rows.Close()
	m := make(map[string]int64)
	for rows.Next() {
		var key string
		var id int64
		if err := rows.Scan(&key, &id); err != nil {
			return nil, fmt.Errorf("scan symbol key: %w", err)
		}
		m[key] = id
	}
	return m, rows.Err()
}

// --- Relationship queries ---

const relationshipCols = "id, from_symbol_id, to_symbol_id, type, confidence, strength, evidence"

func (s *Store) scanRelationship(scanner interface{ Scan(...any) error }) (*Relationship, error) {
	r := &Relationship{}
	var evidence sql.NullString
	err := scanner.Scan(&r.ID, &r.FromSymbolID, &r.ToSymbolID, &r.Type, &r.Confidence, &r.Strength, &evidence)
	if err != nil {
		return nil, err
	}
	r.Evidence = evidence.String
	return r, nil
}

func (s *Store) queryRelationships(query string, args ...any) ([]*Relationship, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var rels []*Relationship
	for rows.Next() {
		r, err := s.scanRelationship(rows)
		if err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		rels = append(rels, r)
	}
	return rels, rows.Err()
}

func (s *Store) AllRelationships() ([]*Relationship, error) {
	return s.queryRelationships("SELECT " + relationshipCols + " FROM relationships ORDER BY id")
}

func (s *Store) RelationshipsByType(relType string) ([]*Relationship, error) {
	return s.queryRelationships("SELECT "+relationshipCols+" FROM relationships WHERE type = ? ORDER BY id", relType)
}

func (s *Store) RelationshipsFrom(symbolID int64) ([]*Relationship, error) {
	return s.queryRelationships("SELECT "+relationshipCols+" FROM relationships WHERE from_symbol_id = ? ORDER BY id", symbolID)
}

// DistinctPairCount counts unique (from, to, type) rows, the idempotence
// check used by tests and the stats command.
func (s *Store) DistinctPairCount() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM relationships").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("distinct pair count: %w", err)
	}
	return n, nil
}

// --- Embedding queries ---

func (s *Store) EmbeddingBySymbol(symbolID int64) (*Embedding, error) {
	e := &Embedding{}
	var vector string
	var modelVersion, metadata sql.NullString
	err := s.db.QueryRow(
		"SELECT id, symbol_id, vector, dimensions, model_version, metadata FROM embeddings WHERE symbol_id = ?",
		symbolID,
	).Scan(&e.ID, &e.SymbolID, &vector, &e.Dimensions, &modelVersion, &metadata)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("embedding by symbol: %w", err)
	}
	e.Vector = unmarshalVector(vector)
	e.ModelVersion = modelVersion.String
	e.Metadata = metadata.String
	return e, nil
}

// --- Insight queries ---

func (s *Store) InsightsByType(insightType string) ([]*Insight, error) {
	rows, err := s.db.Query(
		`SELECT id, type, category, severity, confidence, priority, title, description,
			affected_symbol_ids, cluster_id, metrics, reasoning, detected_at, status
		 FROM insights WHERE type = ? ORDER BY id`, insightType,
	)
	if err != nil {
		return nil, fmt.Errorf("insights by type: %w", err)
	}
	defer rows.Close()
	var insights []*Insight
	for rows.Next() {
		ins := &Insight{}
		var affected string
		var category, severity, title, description, metrics, reasoning, status sql.NullString
		err := rows.Scan(
			&ins.ID, &ins.Type, &category, &severity, &ins.Confidence, &ins.Priority,
			&title, &description, &affected, &ins.ClusterID, &metrics, &reasoning,
			&ins.DetectedAt, &status,
		)
		if err != nil {
			return nil, fmt.Errorf("scan insight: %w", err)
		}
		ins.Category = category.String
		ins.Severity = severity.String
		ins.Title = title.String
		ins.Description = description.String
		ins.Metrics = metrics.String
		ins.Reasoning = reasoning.String
		ins.Status = status.String
		ins.AffectedSymbolIDs = unmarshalInt64s(affected)
		insights = append(insights, ins)
	}
	return insights, rows.Err()
}

// --- Fragment and clone queries ---

const fragmentCols = `id, file_path, node_type, start_line, end_line, structure_hash,
	semantic_hash, token_count, complexity, parent_context`

func scanFragment(scanner interface{ Scan(...any) error }) (*Fragment, error) {
	f := &Fragment{}
	var parent sql.NullString
	err := scanner.Scan(
		&f.ID, &f.FilePath, &f.NodeType, &f.StartLine, &f.EndLine, &f.StructureHash,
		&f.SemanticHash, &f.TokenCount, &f.Complexity, &parent,
	)
	if err != nil {
		return nil, err
	}
	f.ParentContext = parent.String
	return f, nil
}

// FragmentsForComparison returns all stored fragments above the token-count
// floor, the candidate set for pairwise clone comparison.
func (s *Store) FragmentsForComparison(minTokens int) ([]*Fragment, error) {
	return fragmentsForComparison(s.db, minTokens)
}

// FragmentsForComparisonTx is the transaction-scoped variant, so a clone
// pass sees fragments upserted earlier in its own transaction.
func FragmentsForComparisonTx(tx *sql.Tx, minTokens int) ([]*Fragment, error) {
	return fragmentsForComparison(tx, minTokens)
}

type querier interface {
	Query(query string, args ...any) (*sql.Rows, error)
}

func fragmentsForComparison(q querier, minTokens int) ([]*Fragment, error) {
	rows, err := q.Query(
		"SELECT "+fragmentCols+" FROM ast_fragments WHERE token_count > ? ORDER BY id", minTokens,
	)
	if err != nil {
		return nil, fmt.Errorf("fragments for comparison: %w", err)
	}
	defer rows.Close()
	var frags []*Fragment
	for rows.Next() {
		f, err := scanFragment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fragment: %w", err)
		}
		frags = append(frags, f)
	}
	return frags, rows.Err()
}

func (s *Store) FragmentsByFile(filePath string) ([]*Fragment, error) {
	rows, err := s.db.Query("SELECT "+fragmentCols+" FROM ast_fragments WHERE file_path = ? ORDER BY start_line", filePath)
	if err != nil {
		return nil, fmt.Errorf("fragments by file: %w", err)
	}
	defer rows.Close()
	var frags []*Fragment
	for rows.Next() {
		f, err := scanFragment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fragment: %w", err)
		}
		frags = append(frags, f)
	}
	return frags, rows.Err()
}

// FragmentsByIDs returns fragments for the given ids, in id order.
func (s *Store) FragmentsByIDs(ids []int64) ([]*Fragment, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(
		"SELECT "+fragmentCols+" FROM ast_fragments WHERE id IN ("+placeholderList(len(ids))+") ORDER BY id",
		int64sToArgs(ids)...,
	)
	if err != nil {
		return nil, fmt.Errorf("fragments by ids: %w", err)
	}
	defer rows.Close()
	var frags []*Fragment
	for rows.Next() {
		f, err := scanFragment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fragment: %w", err)
		}
		frags = append(frags, f)
	}
	return frags, rows.Err()
}

func (s *Store) AllClones() ([]*Clone, error) {
	rows, err := s.db.Query("SELECT id, clone_type, similarity, fragment1_id, fragment2_id FROM clones ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("all clones: %w", err)
	}
	defer rows.Close()
	var clones []*Clone
	for rows.Next() {
		c := &Clone{}
		if err := rows.Scan(&c.ID, &c.CloneType, &c.Similarity, &c.Fragment1ID, &c.Fragment2ID); err != nil {
			return nil, fmt.Errorf("scan clone: %w", err)
		}
		clones = append(clones, c)
	}
	return clones, rows.Err()
}

func (s *Store) AllCloneGroups() ([]*CloneGroup, error) {
	rows, err := s.db.Query(
		`SELECT id, clone_type, structure_hash, member_count, total_lines,
			pattern_description, refactoring_suggestion
		 FROM clone_groups ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("all clone groups: %w", err)
	}
	defer rows.Close()
	var groups []*CloneGroup
	for rows.Next() {
		g := &CloneGroup{}
		var desc, sugg sql.NullString
		if err := rows.Scan(&g.ID, &g.CloneType, &g.StructureHash, &g.MemberCount, &g.TotalLines, &desc, &sugg); err != nil {
			return nil, fmt.Errorf("scan clone group: %w", err)
		}
		g.PatternDescription = desc.String
		g.RefactoringSuggestion = sugg.String
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (s *Store) GroupMemberIDs(groupID int64) ([]int64, error) {
	rows, err := s.db.Query("SELECT fragment_id FROM clone_group_members WHERE group_id = ? ORDER BY fragment_id", groupID)
	if err != nil {
		return nil, fmt.Errorf("group members: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan group member: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) AllAntiPatterns() ([]*AntiPattern, error) {
	rows, err := s.db.Query("SELECT id, pattern_name, description, severity, file_path, suggestion FROM antipatterns ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("all antipatterns: %w", err)
	}
	defer rows.Close()
	var aps []*AntiPattern
	for rows.Next() {
		ap := &AntiPattern{}
		var desc, sev, path, sugg sql.NullString
		if err := rows.Scan(&ap.ID, &ap.PatternName, &desc, &sev, &path, &sugg); err != nil {
			return nil, fmt.Errorf("scan antipattern: %w", err)
		}
		ap.Description = desc.String
		ap.Severity = sev.String
		ap.FilePath = path.String
		ap.Suggestion = sugg.String
		aps = append(aps, ap)
	}
	return aps, rows.Err()
}

// TableCount returns the row count for a known table name. Used by the
// stats command; name is validated against the schema's table set.
func (s *Store) TableCount(table string) (int, error) {
	if !knownTables[table] {
		return 0, fmt.Errorf("table count: unknown table %q", table)
	}
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		return 0, fmt.Errorf("table count %s: %w", table, err)
	}
	return n, nil
}

var knownTables = map[string]bool{
	"symbols":                 true,
	"relationships":           true,
	"embeddings":              true,
	"clusters":                true,
	"cluster_membership":      true,
	"insights":                true,
	"insight_recommendations": true,
	"ast_fragments":           true,
	"clones":                  true,
	"clone_groups":            true,
	"clone_group_members":     true,
	"antipatterns":            true,
	"enrichment_runs":         true,
}
