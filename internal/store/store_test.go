package store

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

func ptr[T any](v T) *T { return &v }

// insertTestSymbol inserts a symbol with minimal required fields.
func insertTestSymbol(t *testing.T, s *Store, qname, name, kind string) int64 {
	t.Helper()
	id, err := s.InsertSymbol(&Symbol{
		QualifiedName: qname,
		Name:          name,
		Kind:          kind,
		Language:      "cpp",
		FilePath:      "/src/shapes.cpp",
		StartLine:     1, EndLine: 10,
	})
	require.NoError(t, err)
	require.Positive(t, id)
	return id
}

// inTx runs fn inside a transaction and commits it.
func inTx(t *testing.T, s *Store, fn func(tx *sql.Tx)) {
	t.Helper()
	tx, err := s.DB().Begin()
	require.NoError(t, err)
	fn(tx)
	require.NoError(t, tx.Commit())
}

// =============================================================================
// Schema & Lifecycle
// =============================================================================

func TestMigrate_AllTablesExist(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	expectedTables := []string{
		"symbols", "relationships", "embeddings",
		"clusters", "cluster_membership",
		"insights", "insight_recommendations",
		"ast_fragments", "clones", "clone_groups", "clone_group_members",
		"antipatterns", "enrichment_runs",
	}

	for _, table := range expectedTables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	// Running migrate again should not error.
	require.NoError(t, s.Migrate())
}

func TestMigrate_WALMode(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	var mode string
	err := s.db.QueryRow("PRAGMA journal_mode").Scan(&mode)
	require.NoError(t, err)
	assert.Equal(t, "wal", mode)
}

// =============================================================================
// Symbol operations
// =============================================================================

func TestSymbol_InsertAndRetrieve(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	quality := 0.82
	id, err := s.InsertSymbol(&Symbol{
		QualifiedName: "geometry::Circle::area",
		Name:          "area",
		Kind:          "method",
		Language:      "cpp",
		FilePath:      "/src/circle.cpp",
		StartLine:     14, EndLine: 22,
		Signature:          "double area() const",
		SemanticTags:       []string{"pure_function"},
		SemanticRole:       "calculator",
		ArchitecturalLayer: "domain",
		QualityScore:       &quality,
	})
	require.NoError(t, err)
	require.Positive(t, id)

	got, err := s.SymbolByQualifiedName("geometry::Circle::area")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "area", got.Name)
	assert.Equal(t, []string{"pure_function"}, got.SemanticTags)
	assert.Equal(t, "domain", got.ArchitecturalLayer)
	require.NotNil(t, got.QualityScore)
	assert.InDelta(t, 0.82, *got.QualityScore, 1e-9)
}

func TestSymbol_ByQualifiedNameNotFound(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	got, err := s.SymbolByQualifiedName("nope::missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSymbol_KeyToID(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	aID := insertTestSymbol(t, s, "pkg::A", "A", "class")
	bID := insertTestSymbol(t, s, "pkg::B", "B", "class")

	m, err := s.SymbolKeyToID()
	require.NoError(t, err)
	assert.Equal(t, aID, m["pkg::A"])
	assert.Equal(t, bID, m["pkg::B"])
}

func TestSymbol_EnrichmentPartialUpdate(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	id := insertTestSymbol(t, s, "pkg::Widget", "Widget", "class")

	inTx(t, s, func(tx *sql.Tx) {
		require.NoError(t, UpdateSymbolEnrichmentTx(tx, id, `{"loc":42}`, "entity", "domain", ptr(0.7)))
	})
	// Empty fields must not overwrite the previous values.
	inTx(t, s, func(tx *sql.Tx) {
		require.NoError(t, UpdateSymbolEnrichmentTx(tx, id, "", "", "presentation", nil))
	})

	got, err := s.SymbolByID(id)
	require.NoError(t, err)
	assert.Equal(t, `{"loc":42}`, got.ComplexityMetrics)
	assert.Equal(t, "entity", got.SemanticRole)
	assert.Equal(t, "presentation", got.ArchitecturalLayer)
	require.NotNil(t, got.QualityScore)
	assert.InDelta(t, 0.7, *got.QualityScore, 1e-9)
}

func TestSymbol_AppendTagsDeduplicates(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	id := insertTestSymbol(t, s, "pkg::Cache", "Cache", "class")

	inTx(t, s, func(tx *sql.Tx) {
		changed, err := AppendSymbolTagsTx(tx, id, []string{"singleton", "thread_safe"})
		require.NoError(t, err)
		assert.True(t, changed)
	})
	// Appending the same tags again is a no-op.
	inTx(t, s, func(tx *sql.Tx) {
		changed, err := AppendSymbolTagsTx(tx, id, []string{"thread_safe", "singleton"})
		require.NoError(t, err)
		assert.False(t, changed)
	})

	got, err := s.SymbolByID(id)
	require.NoError(t, err)
	assert.Equal(t, []string{"singleton", "thread_safe"}, got.SemanticTags)
}

// =============================================================================
// Embeddings
// =============================================================================

func TestEmbedding_UpsertReplacesVector(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	id := insertTestSymbol(t, s, "pkg::A", "A", "class")

	inTx(t, s, func(tx *sql.Tx) {
		require.NoError(t, UpsertEmbeddingTx(tx, &Embedding{
			SymbolID: id, Vector: []float64{1, 0}, Dimensions: 2, ModelVersion: "v1",
		}))
	})
	inTx(t, s, func(tx *sql.Tx) {
		require.NoError(t, UpsertEmbeddingTx(tx, &Embedding{
			SymbolID: id, Vector: []float64{0, 1}, Dimensions: 2, ModelVersion: "v2",
		}))
	})

	got, err := s.EmbeddingBySymbol(id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []float64{0, 1}, got.Vector)
	assert.Equal(t, "v2", got.ModelVersion)

	n, err := s.TableCount("embeddings")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// =============================================================================
// Relationships
// =============================================================================

func TestRelationship_InsertIgnoresDuplicates(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	a := insertTestSymbol(t, s, "pkg::A", "A", "class")
	b := insertTestSymbol(t, s, "pkg::B", "B", "class")

	rel := &Relationship{FromSymbolID: a, ToSymbolID: b, Type: "inherits_from", Confidence: 0.8}
	inTx(t, s, func(tx *sql.Tx) {
		inserted, err := InsertRelationshipTx(tx, rel)
		require.NoError(t, err)
		assert.True(t, inserted)

		inserted, err = InsertRelationshipTx(tx, rel)
		require.NoError(t, err)
		assert.False(t, inserted)
	})

	count, err := s.DistinctPairCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRelationship_BatchInsertIgnoresDuplicates(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	a := insertTestSymbol(t, s, "pkg::A", "A", "class")
	b := insertTestSymbol(t, s, "pkg::B", "B", "class")
	c := insertTestSymbol(t, s, "pkg::C", "C", "class")

	rels := []*Relationship{
		{FromSymbolID: a, ToSymbolID: b, Type: "semantic_similarity", Confidence: 0.9},
		{FromSymbolID: a, ToSymbolID: c, Type: "semantic_similarity", Confidence: 0.85},
	}
	inTx(t, s, func(tx *sql.Tx) {
		require.NoError(t, InsertRelationshipsBatchTx(tx, rels))
	})
	// The whole batch again: OR IGNORE swallows every row.
	inTx(t, s, func(tx *sql.Tx) {
		require.NoError(t, InsertRelationshipsBatchTx(tx, rels))
	})

	all, err := s.AllRelationships()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

// =============================================================================
// Clusters & insights
// =============================================================================

func TestCluster_InsertWithMemberships(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	a := insertTestSymbol(t, s, "pkg::A", "A", "class")
	b := insertTestSymbol(t, s, "pkg::B", "B", "class")

	var clusterID int64
	inTx(t, s, func(tx *sql.Tx) {
		var err error
		clusterID, err = InsertClusterTx(tx, &Cluster{
			Name: "parsers", Type: "semantic", Centroid: []float64{0.5, 0.5},
			SimilarityThreshold: 0.8, Quality: 0.9,
		})
		require.NoError(t, err)
		require.Positive(t, clusterID)

		require.NoError(t, InsertMembershipTx(tx, &ClusterMembership{
			ClusterID: clusterID, SymbolID: a, Similarity: 0.95, Role: "core",
		}))
		require.NoError(t, InsertMembershipTx(tx, &ClusterMembership{
			ClusterID: clusterID, SymbolID: b, Similarity: 0.81, Role: "member",
		}))
	})

	n, err := s.TableCount("cluster_membership")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestInsight_InsertWithNullCluster(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	a := insertTestSymbol(t, s, "pkg::A", "A", "class")

	inTx(t, s, func(tx *sql.Tx) {
		insightID, err := InsertInsightTx(tx, &Insight{
			Type: "refactoring_opportunity", Category: "maintainability",
			Severity: "medium", Confidence: 0.75, Priority: 2,
			Title:             "Extract shared validation",
			AffectedSymbolIDs: []int64{a},
			ClusterID:         nil,
		})
		require.NoError(t, err)
		require.Positive(t, insightID)

		_, err = InsertRecommendationTx(tx, &Recommendation{
			InsightID: insightID, Action: "extract_function",
			Description: "Move duplicated checks into a helper",
			Effort:      "low", Impact: "medium", Priority: 1,
		})
		require.NoError(t, err)
	})

	insights, err := s.InsightsByType("refactoring_opportunity")
	require.NoError(t, err)
	require.Len(t, insights, 1)
	assert.Nil(t, insights[0].ClusterID)
	assert.Equal(t, []int64{a}, insights[0].AffectedSymbolIDs)
}

// =============================================================================
// Fragments & clones
// =============================================================================

func TestFragment_UpsertReturnsStableID(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	frag := &Fragment{
		FilePath: "/src/a.go", NodeType: "function_declaration",
		StartLine: 10, EndLine: 20,
		StructureHash: "h1", SemanticHash: "s1",
		TokenCount: 30, Complexity: 3, ParentContext: "/src/a.go",
	}
	var first, second int64
	inTx(t, s, func(tx *sql.Tx) {
		var err error
		first, err = UpsertFragmentTx(tx, frag)
		require.NoError(t, err)
	})
	frag.StructureHash = "h2"
	inTx(t, s, func(tx *sql.Tx) {
		var err error
		second, err = UpsertFragmentTx(tx, frag)
		require.NoError(t, err)
	})
	assert.Equal(t, first, second)

	frags, err := s.FragmentsByFile("/src/a.go")
	require.NoError(t, err)
	require.Len(t, frags, 1)
	assert.Equal(t, "h2", frags[0].StructureHash)
}

func TestClone_DuplicatePairIgnored(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	var f1, f2 int64
	inTx(t, s, func(tx *sql.Tx) {
		var err error
		f1, err = UpsertFragmentTx(tx, &Fragment{
			FilePath: "/a.go", NodeType: "function_declaration", StartLine: 1, EndLine: 5,
			StructureHash: "h", SemanticHash: "s", TokenCount: 20, Complexity: 1, ParentContext: "/a.go",
		})
		require.NoError(t, err)
		f2, err = UpsertFragmentTx(tx, &Fragment{
			FilePath: "/b.go", NodeType: "function_declaration", StartLine: 1, EndLine: 5,
			StructureHash: "h", SemanticHash: "s", TokenCount: 20, Complexity: 1, ParentContext: "/b.go",
		})
		require.NoError(t, err)

		clone := &Clone{CloneType: 1, Similarity: 1.0, Fragment1ID: f1, Fragment2ID: f2}
		inserted, err := InsertCloneTx(tx, clone)
		require.NoError(t, err)
		assert.True(t, inserted)

		inserted, err = InsertCloneTx(tx, clone)
		require.NoError(t, err)
		assert.False(t, inserted)
	})

	clones, err := s.AllClones()
	require.NoError(t, err)
	assert.Len(t, clones, 1)
}

func TestCloneGroup_UpsertRefreshesCounts(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	g := &CloneGroup{
		CloneType: 1, StructureHash: "h",
		MemberCount: 2, TotalLines: 20,
		PatternDescription: "2 near-identical functions",
	}
	var first, second int64
	inTx(t, s, func(tx *sql.Tx) {
		var err error
		first, err = UpsertCloneGroupTx(tx, g)
		require.NoError(t, err)
	})
	g.MemberCount = 3
	g.TotalLines = 31
	inTx(t, s, func(tx *sql.Tx) {
		var err error
		second, err = UpsertCloneGroupTx(tx, g)
		require.NoError(t, err)
	})
	assert.Equal(t, first, second)

	groups, err := s.AllCloneGroups()
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, 3, groups[0].MemberCount)
	assert.Equal(t, 31, groups[0].TotalLines)
}

func TestAntiPattern_ClearThenInsert(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	inTx(t, s, func(tx *sql.Tx) {
		_, err := InsertAntiPatternTx(tx, &AntiPattern{
			PatternName: "Copy-Paste Programming", Description: "stale", Severity: "high",
		})
		require.NoError(t, err)
	})
	inTx(t, s, func(tx *sql.Tx) {
		require.NoError(t, ClearAntiPatternsTx(tx))
		_, err := InsertAntiPatternTx(tx, &AntiPattern{
			PatternName: "Shotgun Surgery", Description: "fresh", Severity: "high",
		})
		require.NoError(t, err)
	})

	aps, err := s.AllAntiPatterns()
	require.NoError(t, err)
	require.Len(t, aps, 1)
	assert.Equal(t, "Shotgun Surgery", aps[0].PatternName)
}

// =============================================================================
// Misc
// =============================================================================

func TestTableCount_RejectsUnknownTable(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	_, err := s.TableCount("sqlite_master; DROP TABLE symbols")
	require.Error(t, err)
}
